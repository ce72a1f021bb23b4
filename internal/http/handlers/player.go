package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/tvarr-player/internal/coordinator"
	"github.com/jmylchreest/tvarr-player/internal/models"
	"github.com/jmylchreest/tvarr-player/internal/player"
	"github.com/jmylchreest/tvarr-player/internal/recording"
	"github.com/jmylchreest/tvarr-player/internal/sink"
)

// SinkFactory creates the sink a surface renders on when it is mounted.
type SinkFactory func(surface models.Surface) sink.Sink

// PlayerHandler exposes the coordinator and the active player.
type PlayerHandler struct {
	coord      *coordinator.Coordinator
	correlator *recording.Correlator
	newSink    SinkFactory
}

// NewPlayerHandler creates a player handler. correlator may be nil.
func NewPlayerHandler(coord *coordinator.Coordinator, correlator *recording.Correlator, newSink SinkFactory) *PlayerHandler {
	return &PlayerHandler{coord: coord, correlator: correlator, newSink: newSink}
}

// StateResponse is the combined read model.
type StateResponse struct {
	Global      coordinator.GlobalState            `json:"global"`
	Players     map[models.Surface]player.Snapshot `json:"players"`
	LiveHandles map[models.Surface]string          `json:"live_handles"`
	Recording   *recording.Correlation             `json:"recording,omitempty"`
}

// StateOutput wraps StateResponse.
type StateOutput struct {
	Body StateResponse
}

// GetStateInput is the input for the state endpoint.
type GetStateInput struct{}

// PlayInput is the input for playing a URL.
type PlayInput struct {
	Body struct {
		URL     string          `json:"url" minLength:"1" doc:"Stream URL"`
		Surface string          `json:"surface,omitempty" enum:"embedded,floating" default:"embedded" doc:"Surface that owns playback"`
		Channel *models.Channel `json:"channel,omitempty" doc:"Channel the URL belongs to"`
	}
}

// PlayChannelInput is the input for playing a channel by ID.
type PlayChannelInput struct {
	ID   string `path:"id" doc:"Channel ID"`
	Body struct {
		Surface string `json:"surface,omitempty" enum:"embedded,floating" default:"embedded"`
	}
}

// SeekInput is the input for seeking.
type SeekInput struct {
	Body struct {
		PositionSeconds float64 `json:"position_seconds" minimum:"0" doc:"Target position in seconds"`
	}
}

// TrackInput selects a track by index; -1 is automatic quality or no subtitles.
type TrackInput struct {
	Body struct {
		Index int `json:"index" minimum:"-1" doc:"Track index, or -1"`
	}
}

// SurfaceInput names a surface in the path.
type SurfaceInput struct {
	Surface string `path:"surface" enum:"embedded,floating"`
}

// EmptyInput is used by operations without parameters.
type EmptyInput struct{}

// Register registers the player routes with the API.
func (h *PlayerHandler) Register(api huma.API) {
	tags := []string{"Player"}

	huma.Register(api, huma.Operation{
		OperationID: "getPlayerState",
		Method:      "GET",
		Path:        "/api/v1/player/state",
		Summary:     "Get playback state",
		Description: "Returns the global playback intent, each mounted player and the recording correlation",
		Tags:        tags,
	}, h.GetState)

	huma.Register(api, huma.Operation{
		OperationID: "play",
		Method:      "POST",
		Path:        "/api/v1/player/play",
		Summary:     "Play a stream URL",
		Tags:        tags,
	}, h.Play)

	huma.Register(api, huma.Operation{
		OperationID: "playChannel",
		Method:      "POST",
		Path:        "/api/v1/player/play/channel/{id}",
		Summary:     "Play a channel",
		Description: "Resolves the channel through the channel service, preferring its relay URL",
		Tags:        tags,
	}, h.PlayChannel)

	h.registerAction(api, "pause", "Pause playback", func(ctx context.Context) error {
		return h.coord.Pause(ctx)
	})
	h.registerAction(api, "resume", "Resume playback", func(ctx context.Context) error {
		return h.coord.Resume(ctx)
	})
	h.registerAction(api, "stop", "Stop playback on every surface", func(ctx context.Context) error {
		return h.coord.Stop(ctx)
	})
	h.registerAction(api, "minimize", "Hand playback to the floating surface", func(ctx context.Context) error {
		return h.coord.Minimize(ctx)
	})
	h.registerAction(api, "expand", "Hand playback to the embedded surface", func(ctx context.Context) error {
		return h.coord.Expand(ctx)
	})
	h.registerAction(api, "retry", "Retry a failed session", func(ctx context.Context) error {
		p, err := h.active()
		if err != nil {
			return err
		}
		return p.Retry(ctx)
	})

	huma.Register(api, huma.Operation{
		OperationID: "seek",
		Method:      "POST",
		Path:        "/api/v1/player/seek",
		Summary:     "Seek the active player",
		Tags:        tags,
	}, h.Seek)

	for _, sel := range []struct {
		name    string
		summary string
		fn      func(*player.Player, int) error
	}{
		{"quality", "Select quality level (-1 for automatic)", (*player.Player).SelectQuality},
		{"audio", "Select audio track", (*player.Player).SelectAudio},
		{"subtitle", "Select subtitle track (-1 to disable)", (*player.Player).SelectSubtitle},
	} {
		huma.Register(api, huma.Operation{
			OperationID: "select-" + sel.name,
			Method:      "POST",
			Path:        "/api/v1/player/" + sel.name,
			Summary:     sel.summary,
			Tags:        tags,
		}, func(ctx context.Context, input *TrackInput) (*StateOutput, error) {
			p, err := h.active()
			if err != nil {
				return nil, toHTTPError(err)
			}
			if err := sel.fn(p, input.Body.Index); err != nil {
				return nil, toHTTPError(err)
			}
			return h.state(), nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "mountSurface",
		Method:      "POST",
		Path:        "/api/v1/player/surfaces/{surface}/mount",
		Summary:     "Mount a surface",
		Tags:        tags,
	}, h.Mount)

	huma.Register(api, huma.Operation{
		OperationID: "unmountSurface",
		Method:      "POST",
		Path:        "/api/v1/player/surfaces/{surface}/unmount",
		Summary:     "Unmount a surface",
		Description: "Destroys the surface's player; playback owned by it moves to the other surface",
		Tags:        tags,
	}, h.Unmount)
}

func (h *PlayerHandler) registerAction(api huma.API, name, summary string, fn func(context.Context) error) {
	huma.Register(api, huma.Operation{
		OperationID: name,
		Method:      "POST",
		Path:        "/api/v1/player/" + name,
		Summary:     summary,
		Tags:        []string{"Player"},
	}, func(ctx context.Context, _ *EmptyInput) (*StateOutput, error) {
		if err := fn(ctx); err != nil {
			return nil, toHTTPError(err)
		}
		return h.state(), nil
	})
}

// GetState returns the combined read model.
func (h *PlayerHandler) GetState(_ context.Context, _ *GetStateInput) (*StateOutput, error) {
	return h.state(), nil
}

// Play records a new intent and starts it on the requested surface.
func (h *PlayerHandler) Play(ctx context.Context, input *PlayInput) (*StateOutput, error) {
	surface, err := parseSurface(input.Body.Surface)
	if err != nil {
		return nil, toHTTPError(err)
	}
	if err := h.coord.Play(ctx, input.Body.Channel, input.Body.URL, surface); err != nil {
		return nil, toHTTPError(err)
	}
	return h.state(), nil
}

// PlayChannel resolves and plays a channel.
func (h *PlayerHandler) PlayChannel(ctx context.Context, input *PlayChannelInput) (*StateOutput, error) {
	surface, err := parseSurface(input.Body.Surface)
	if err != nil {
		return nil, toHTTPError(err)
	}
	if err := h.coord.PlayChannel(ctx, input.ID, surface); err != nil {
		return nil, toHTTPError(err)
	}
	return h.state(), nil
}

// Seek moves the active player's position.
func (h *PlayerHandler) Seek(_ context.Context, input *SeekInput) (*StateOutput, error) {
	p, err := h.active()
	if err != nil {
		return nil, toHTTPError(err)
	}
	pos := time.Duration(input.Body.PositionSeconds * float64(time.Second))
	if err := p.Seek(pos); err != nil {
		return nil, toHTTPError(err)
	}
	return h.state(), nil
}

// Mount mounts a surface on a new sink.
func (h *PlayerHandler) Mount(ctx context.Context, input *SurfaceInput) (*StateOutput, error) {
	surface, err := models.ParseSurface(input.Surface)
	if err != nil {
		return nil, toHTTPError(err)
	}
	if err := h.coord.Mount(ctx, surface, h.newSink(surface)); err != nil {
		return nil, toHTTPError(err)
	}
	return h.state(), nil
}

// Unmount unmounts a surface.
func (h *PlayerHandler) Unmount(ctx context.Context, input *SurfaceInput) (*StateOutput, error) {
	surface, err := models.ParseSurface(input.Surface)
	if err != nil {
		return nil, toHTTPError(err)
	}
	if err := h.coord.Unmount(ctx, surface); err != nil {
		return nil, toHTTPError(err)
	}
	return h.state(), nil
}

func (h *PlayerHandler) active() (*player.Player, error) {
	p, ok := h.coord.ActivePlayer()
	if !ok {
		return nil, ErrNoActiveSurface
	}
	return p, nil
}

func (h *PlayerHandler) state() *StateOutput {
	snap := h.coord.Snapshot()
	out := &StateOutput{Body: StateResponse{
		Global:      snap.State,
		Players:     snap.Players,
		LiveHandles: snap.LiveHandles,
	}}
	if h.correlator != nil {
		cor := h.correlator.Current()
		out.Body.Recording = &cor
	}
	return out
}

func parseSurface(s string) (models.Surface, error) {
	if s == "" {
		return models.SurfaceEmbedded, nil
	}
	return models.ParseSurface(s)
}
