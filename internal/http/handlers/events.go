package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/jmylchreest/tvarr-player/internal/coordinator"
	"github.com/jmylchreest/tvarr-player/internal/http/middleware"
	"github.com/jmylchreest/tvarr-player/internal/observability"
	"github.com/jmylchreest/tvarr-player/internal/recording"
)

const (
	defaultStateInterval = time.Second
	eventBuffer          = 32
)

// EventsHandler streams coordinator, player and recording changes.
type EventsHandler struct {
	players       *PlayerHandler
	stateInterval time.Duration
}

// NewEventsHandler creates an events handler. Player state is sampled every
// stateInterval and sent when it changes.
func NewEventsHandler(players *PlayerHandler, stateInterval time.Duration) *EventsHandler {
	if stateInterval <= 0 {
		stateInterval = defaultStateInterval
	}
	return &EventsHandler{players: players, stateInterval: stateInterval}
}

// EventsInput is the input for the event stream.
type EventsInput struct{}

// Register registers the event stream.
func (h *EventsHandler) Register(api huma.API) {
	sse.Register(api, huma.Operation{
		OperationID: "playerEvents",
		Method:      "GET",
		Path:        middleware.EventsPath,
		Summary:     "Subscribe to playback events",
		Description: "Sends `state` on connect and whenever the combined state changes, " +
			"`coordinator` for each intent change and `recording` for correlation changes.",
		Tags: []string{"Player"},
	}, map[string]any{
		"state":       StateResponse{},
		"coordinator": coordinator.Event{},
		"recording":   recording.Correlation{},
	}, h.stream)
}

func (h *EventsHandler) stream(ctx context.Context, _ *EventsInput, send sse.Sender) {
	logger := observability.WithComponent(observability.LoggerFromContext(ctx), "events")
	events := make(chan any, eventBuffer)
	push := func(v any) {
		select {
		case events <- v:
		default:
			// The periodic state sample resynchronizes slow clients.
		}
	}

	cancelCoord := h.players.coord.Subscribe(func(e coordinator.Event) { push(e) })
	defer cancelCoord()
	if h.players.correlator != nil {
		cancelRec := h.players.correlator.Subscribe(func(c recording.Correlation) { push(c) })
		defer cancelRec()
	}

	var last []byte
	sendState := func() bool {
		state := h.players.state().Body
		b, err := json.Marshal(state)
		if err == nil && string(b) == string(last) {
			return true
		}
		last = b
		return send.Data(state) == nil
	}

	if !sendState() {
		return
	}
	ticker := time.NewTicker(h.stateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case v := <-events:
			if err := send.Data(v); err != nil {
				logger.Debug("event stream closed", "error", err)
				return
			}
			if _, ok := v.(coordinator.Event); ok && !sendState() {
				return
			}
		case <-ticker.C:
			if !sendState() {
				return
			}
		}
	}
}
