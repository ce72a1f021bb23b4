package cmd

import (
	"log/slog"

	"github.com/jmylchreest/tvarr-player/internal/adapter"
	"github.com/jmylchreest/tvarr-player/internal/channel"
	"github.com/jmylchreest/tvarr-player/internal/config"
	"github.com/jmylchreest/tvarr-player/internal/coordinator"
	"github.com/jmylchreest/tvarr-player/internal/models"
	"github.com/jmylchreest/tvarr-player/internal/observability"
	"github.com/jmylchreest/tvarr-player/internal/recording"
	"github.com/jmylchreest/tvarr-player/internal/sink"
	"github.com/jmylchreest/tvarr-player/internal/stream"
	"github.com/jmylchreest/tvarr-player/internal/version"
	"github.com/jmylchreest/tvarr-player/pkg/httpclient"
)

// engine is the wired playback stack shared by serve and probe.
type engine struct {
	cfg        *config.Config
	logger     *slog.Logger
	media      *httpclient.Client
	classifier *stream.Classifier
	coord      *coordinator.Coordinator
	correlator *recording.Correlator
}

func newEngine(cfg *config.Config, logger *slog.Logger) *engine {
	mediaCfg := httpclient.DefaultConfig()
	mediaCfg.RetryAttempts = 0 // adapters own their retry budget
	mediaCfg.UserAgent = version.UserAgent()
	mediaCfg.Logger = observability.WithComponent(logger, "media-client")
	media := httpclient.New(mediaCfg)

	classifier := stream.NewClassifier(stream.Options{
		ProxyPathPrefix:      cfg.Player.ProxyPathPrefix,
		RecordingPathMarkers: cfg.Player.RecordingPathMarkers,
	})
	factory := adapter.NewFactory(adapter.Options{
		Client:              media,
		BaseURL:             cfg.Player.BaseURL,
		StartupTimeout:      cfg.Player.StartupTimeout,
		NetworkRetryLimit:   cfg.Player.NetworkRetryLimit,
		NetworkRetryDelay:   cfg.Player.NetworkRetryDelay,
		DecodeRecoveryLimit: cfg.Player.DecodeRecoveryLimit,
		Logger:              logger,
	})

	var resolver coordinator.ChannelResolver
	if cfg.Services.ChannelsURL != "" {
		resolver = channel.NewResolver(cfg.Services.ChannelsURL,
			channel.WithClient(serviceClient(cfg.Services, logger, "channel-service")),
			channel.WithLogger(logger))
	}

	e := &engine{
		cfg:        cfg,
		logger:     logger,
		media:      media,
		classifier: classifier,
		coord: coordinator.New(coordinator.Config{
			Factory:    factory,
			Classifier: classifier,
			Resolver:   resolver,
			Autoplay:   cfg.Player.Autoplay,
			Logger:     logger,
		}),
	}

	if cfg.Services.RecordingsURL != "" {
		svc := recording.NewClient(cfg.Services.RecordingsURL,
			recording.WithHTTPClient(serviceClient(cfg.Services, logger, "recording-service")),
			recording.WithLogger(logger))
		e.correlator = recording.NewCorrelator(svc, recording.CorrelatorConfig{
			PollInterval:           cfg.Recording.PollInterval,
			TickInterval:           cfg.Recording.TickInterval,
			DefaultDurationMinutes: cfg.Recording.DefaultDurationMinutes,
			Logger:                 logger,
		})
	}
	return e
}

// serviceClient returns a client with its own circuit breaker.
func serviceClient(sc config.ServicesConfig, logger *slog.Logger, name string) *httpclient.Client {
	hc := httpclient.DefaultConfig()
	hc.Timeout = sc.Timeout
	hc.RetryAttempts = sc.RetryAttempts
	hc.CircuitThreshold = sc.BreakerThreshold
	hc.CircuitTimeout = sc.BreakerTimeout
	hc.UserAgent = version.UserAgent()
	hc.Logger = observability.WithComponent(logger, name)
	return httpclient.New(hc)
}

func (e *engine) newSink(surface models.Surface) sink.Sink {
	return sink.NewHeadless(sink.HeadlessConfig{
		Name:   string(surface),
		Client: e.media,
		Logger: e.logger,
	})
}

// followRecording keeps the correlator on the channel being played.
func (e *engine) followRecording() (cancel func()) {
	if e.correlator == nil {
		return func() {}
	}
	return e.coord.Subscribe(func(ev coordinator.Event) {
		id := ""
		if ev.State.Channel != nil && ev.State.StreamURL != "" {
			id = ev.State.Channel.ID
		}
		e.correlator.Follow(id)
	})
}

func (e *engine) close() {
	if e.correlator != nil {
		e.correlator.Stop()
	}
	e.coord.Close()
}
