package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/tvarr-player/internal/config"
	internalhttp "github.com/jmylchreest/tvarr-player/internal/http"
	"github.com/jmylchreest/tvarr-player/internal/http/handlers"
	"github.com/jmylchreest/tvarr-player/internal/models"
	"github.com/jmylchreest/tvarr-player/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the playback engine and control API",
	Long: `Start the playback engine with its HTTP control API.

The server provides:
- Player control under /api/v1/player (play, pause, handover, tracks)
- Recording correlation under /api/v1/recording
- Server-sent events at /api/v1/player/events
- Health at /health, /livez and /readyz, Prometheus metrics at /metrics
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8090, "Port to listen on")
	serveCmd.Flags().Bool("log-requests", false, "Log every HTTP request, not only failures")
	serveCmd.Flags().StringSlice("mount", []string{string(models.SurfaceEmbedded)}, "Surfaces to mount at startup")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("server.log_requests", serveCmd.Flags().Lookup("log-requests"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := slog.Default()

	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e := newEngine(cfg, logger)
	defer e.close()

	mounts, _ := cmd.Flags().GetStringSlice("mount")
	for _, m := range mounts {
		surface, err := models.ParseSurface(m)
		if err != nil {
			return fmt.Errorf("--mount: %w", err)
		}
		if err := e.coord.Mount(ctx, surface, e.newSink(surface)); err != nil {
			return fmt.Errorf("mounting %s: %w", surface, err)
		}
	}

	server := newAPIServer(cfg, e, logger)

	g, gctx := errgroup.WithContext(ctx)
	if e.correlator != nil {
		g.Go(func() error {
			e.correlator.Start()
			cancel := e.followRecording()
			<-gctx.Done()
			cancel()
			return nil
		})
	}
	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})

	logger.Info("starting tvarr-player",
		slog.String("address", cfg.Server.Address()),
		slog.String("version", version.Version),
		slog.Any("mounted", mounts),
		slog.Bool("channel_service", cfg.Services.ChannelsURL != ""),
		slog.Bool("recording_service", e.correlator != nil),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("tvarr-player stopped")
	return nil
}

// newAPIServer builds the HTTP server and registers every API route.
func newAPIServer(cfg *config.Config, e *engine, logger *slog.Logger) *internalhttp.Server {
	server := internalhttp.NewServer(internalhttp.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     internalhttp.DefaultServerConfig().IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		LogRequests:     cfg.Server.LogRequests,
		CORSOrigins:     cfg.Server.CORSOrigins,
	}, logger, version.Version)

	api := server.API()
	players := handlers.NewPlayerHandler(e.coord, e.correlator, e.newSink)
	players.Register(api)
	handlers.NewRecordingHandler(e.correlator).Register(api)
	handlers.NewEventsHandler(players, 0).Register(api)
	handlers.NewHealthHandler(version.Version, e.coord).Register(api)
	return server
}
