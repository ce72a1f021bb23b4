package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/tvarr-player/internal/models"
	"github.com/jmylchreest/tvarr-player/internal/recording"
)

// RecordingHandler exposes recording correlation for the watched channel.
type RecordingHandler struct {
	correlator *recording.Correlator
}

// NewRecordingHandler creates a recording handler. correlator may be nil
// when no recording service is configured.
func NewRecordingHandler(correlator *recording.Correlator) *RecordingHandler {
	return &RecordingHandler{correlator: correlator}
}

// CorrelationOutput wraps the current correlation.
type CorrelationOutput struct {
	Body recording.Correlation
}

// StartRecordingInput is the input for starting a recording.
type StartRecordingInput struct {
	Body struct {
		Title           string `json:"title,omitempty" maxLength:"255" doc:"Recording title"`
		DurationMinutes int    `json:"duration_minutes,omitempty" minimum:"0" maximum:"1440" doc:"Duration in minutes; 0 uses the configured default"`
	}
}

// StartRecordingOutput returns the created recording.
type StartRecordingOutput struct {
	Body *models.RecordingSession
}

// Register registers the recording routes with the API.
func (h *RecordingHandler) Register(api huma.API) {
	tags := []string{"Recording"}

	huma.Register(api, huma.Operation{
		OperationID: "getRecording",
		Method:      "GET",
		Path:        "/api/v1/recording",
		Summary:     "Get recording state",
		Description: "Returns whether the watched channel is being recorded and for how long",
		Tags:        tags,
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "refreshRecording",
		Method:      "POST",
		Path:        "/api/v1/recording/refresh",
		Summary:     "Poll the recording service now",
		Tags:        tags,
	}, h.Refresh)

	huma.Register(api, huma.Operation{
		OperationID:   "startRecording",
		Method:        "POST",
		Path:          "/api/v1/recording/start",
		Summary:       "Record the watched channel",
		Tags:          tags,
		DefaultStatus: 201,
	}, h.Start)

	huma.Register(api, huma.Operation{
		OperationID: "stopRecording",
		Method:      "POST",
		Path:        "/api/v1/recording/stop",
		Summary:     "Stop recording the watched channel",
		Tags:        tags,
	}, h.Stop)
}

// Get returns the current correlation.
func (h *RecordingHandler) Get(_ context.Context, _ *EmptyInput) (*CorrelationOutput, error) {
	if h.correlator == nil {
		return nil, toHTTPError(recording.ErrNotConfigured)
	}
	return &CorrelationOutput{Body: h.correlator.Current()}, nil
}

// Refresh polls the service and returns the result.
func (h *RecordingHandler) Refresh(ctx context.Context, _ *EmptyInput) (*CorrelationOutput, error) {
	if h.correlator == nil {
		return nil, toHTTPError(recording.ErrNotConfigured)
	}
	if err := h.correlator.Refresh(ctx); err != nil {
		return nil, toHTTPError(err)
	}
	return &CorrelationOutput{Body: h.correlator.Current()}, nil
}

// Start starts a recording of the watched channel.
func (h *RecordingHandler) Start(ctx context.Context, input *StartRecordingInput) (*StartRecordingOutput, error) {
	if h.correlator == nil {
		return nil, toHTTPError(recording.ErrNotConfigured)
	}
	session, err := h.correlator.StartRecording(ctx, input.Body.Title, input.Body.DurationMinutes)
	if err != nil {
		return nil, toHTTPError(err)
	}
	return &StartRecordingOutput{Body: session}, nil
}

// Stop stops the watched channel's recording.
func (h *RecordingHandler) Stop(ctx context.Context, _ *EmptyInput) (*CorrelationOutput, error) {
	if h.correlator == nil {
		return nil, toHTTPError(recording.ErrNotConfigured)
	}
	if err := h.correlator.StopRecording(ctx); err != nil {
		return nil, toHTTPError(err)
	}
	return &CorrelationOutput{Body: h.correlator.Current()}, nil
}
