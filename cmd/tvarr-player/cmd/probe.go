package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/tvarr-player/internal/config"
	"github.com/jmylchreest/tvarr-player/internal/models"
	"github.com/jmylchreest/tvarr-player/internal/player"
)

var probeCmd = &cobra.Command{
	Use:   "probe <stream-url>",
	Short: "Load a stream headlessly and report the result",
	Long: `Load a stream on a headless surface, wait until it is ready or fails,
and print the player snapshot as JSON: detected kind, adapter used, whether
the startup fallback fired, and the discovered tracks.`,
	Args: cobra.ExactArgs(1),
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().Duration("timeout", 30*time.Second, "How long to wait for the stream")
	probeCmd.Flags().String("surface", string(models.SurfaceEmbedded), "Surface to load on")
}

var errProbeFailed = errors.New("stream failed to load")

func runProbe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return err
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")
	surfaceName, _ := cmd.Flags().GetString("surface")
	surface, err := models.ParseSurface(surfaceName)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	cfg.Player.Autoplay = false
	e := newEngine(cfg, logger)
	defer e.close()

	if err := e.coord.Mount(ctx, surface, e.newSink(surface)); err != nil {
		return err
	}
	p, _ := e.coord.Player(surface)
	settled := make(chan struct{}, 1)
	unsubscribe := p.Subscribe(func(player.Snapshot) {
		select {
		case settled <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	if err := e.coord.Play(ctx, nil, args[0], surface); err != nil {
		return err
	}

	snap := p.Snapshot()
	for !probeDone(snap.State) {
		select {
		case <-settled:
			snap = p.Snapshot()
		case <-ctx.Done():
			snap = p.Snapshot()
			logger.Warn("probe timed out", slog.String("state", snap.State.String()))
			return printSnapshot(snap, ctx.Err())
		}
	}
	if snap.State == player.StateError {
		return printSnapshot(snap, errProbeFailed)
	}
	return printSnapshot(snap, nil)
}

func probeDone(s player.State) bool {
	switch s {
	case player.StateReady, player.StatePlaying, player.StatePaused, player.StateError:
		return true
	}
	return false
}

func printSnapshot(snap player.Snapshot, err error) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(snap); encErr != nil {
		return fmt.Errorf("encoding snapshot: %w", encErr)
	}
	return err
}
