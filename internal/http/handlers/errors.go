package handlers

import (
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/tvarr-player/internal/channel"
	"github.com/jmylchreest/tvarr-player/internal/coordinator"
	"github.com/jmylchreest/tvarr-player/internal/models"
	"github.com/jmylchreest/tvarr-player/internal/player"
	"github.com/jmylchreest/tvarr-player/internal/recording"
)

// ErrNoActiveSurface is returned for player controls when the owning
// surface is not mounted.
var ErrNoActiveSurface = errors.New("no mounted surface owns playback")

// toHTTPError maps typed failures to problem responses.
func toHTTPError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()

	switch {
	case errors.Is(err, models.ErrInvalidSurface),
		errors.Is(err, models.ErrStreamURLRequired),
		errors.Is(err, models.ErrChannelIDRequired):
		return huma.Error400BadRequest(msg)
	case errors.Is(err, channel.ErrChannelNotFound):
		return huma.Error404NotFound(msg)
	case errors.Is(err, recording.ErrNotConfigured), errors.Is(err, channel.ErrNotConfigured):
		return huma.Error503ServiceUnavailable(msg)
	case errors.Is(err, recording.ErrService), errors.Is(err, channel.ErrService):
		return huma.Error502BadGateway(msg)
	case errors.Is(err, recording.ErrNotRecording),
		errors.Is(err, coordinator.ErrNothingPlaying),
		errors.Is(err, coordinator.ErrNotMounted),
		errors.Is(err, coordinator.ErrAlreadyMounted),
		errors.Is(err, coordinator.ErrClosed),
		errors.Is(err, ErrNoActiveSurface):
		return huma.Error409Conflict(msg)
	case errors.Is(err, coordinator.ErrSecondHandle), errors.Is(err, coordinator.ErrInvariant):
		return huma.Error409Conflict(msg)
	}

	if kind, ok := player.KindOf(err); ok {
		switch kind {
		case player.KindInvalidState, player.KindStaleSession:
			return huma.Error409Conflict(msg)
		case player.KindTrackSwitchRejected:
			return huma.Error422UnprocessableEntity(msg)
		case player.KindExternalService, player.KindFatalAdapter, player.KindNetwork, player.KindDecode:
			return huma.Error502BadGateway(msg)
		}
	}
	return huma.Error500InternalServerError(msg)
}
