// Package recording correlates the displayed channel with the external
// recording service: a read-mostly client plus a polling correlator.
package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/jmylchreest/tvarr-player/internal/models"
	"github.com/jmylchreest/tvarr-player/internal/observability"
	"github.com/jmylchreest/tvarr-player/internal/urlutil"
	"github.com/jmylchreest/tvarr-player/pkg/httpclient"
)

// Client errors.
var (
	ErrNotConfigured = errors.New("recording service url not configured")
	ErrService       = errors.New("recording service error")
	ErrNotRecording  = errors.New("channel is not recording")
)

// Query parameter names.
const (
	paramChannelID = "channel_id"
	paramStatus    = "status"
)

// Service is the recording service contract.
type Service interface {
	ListActive(ctx context.Context, channelID string) (*models.RecordingSession, error)
	Start(ctx context.Context, channelID, title string, durationMinutes int) (*models.RecordingSession, error)
	Stop(ctx context.Context, recordingID string) error
}

// StartRequest is the body of a start call.
type StartRequest struct {
	ChannelID       string `json:"channel_id"`
	Title           string `json:"title"`
	DurationMinutes int    `json:"duration_minutes"`
}

// Client talks to the recording service over HTTP JSON.
type Client struct {
	baseURL string
	client  *httpclient.Client
	logger  *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *httpclient.Client) ClientOption {
	return func(cl *Client) { cl.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(cl *Client) { cl.logger = l }
}

// NewClient creates a client for the recording service at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{baseURL: urlutil.NormalizeBaseURL(baseURL)}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = httpclient.NewWithDefaults()
	}
	if c.logger == nil {
		c.logger = observability.Discard()
	}
	return c
}

// ListActive returns the channel's in-progress recording, or nil.
func (c *Client) ListActive(ctx context.Context, channelID string) (*models.RecordingSession, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}
	q := url.Values{}
	q.Set(paramChannelID, channelID)
	q.Set(paramStatus, models.RecordingStatusRecording)

	var sessions []models.RecordingSession
	if err := c.client.GetJSON(ctx, c.baseURL+"?"+q.Encode(), &sessions); err != nil {
		return nil, c.wrap("list active recordings", err)
	}
	for i := range sessions {
		s := &sessions[i]
		if s.ChannelID != "" && s.ChannelID != channelID {
			continue
		}
		if s.IsRecording() {
			return s, nil
		}
	}
	return nil, nil
}

// Start asks the service to record the channel.
func (c *Client) Start(ctx context.Context, channelID, title string, durationMinutes int) (*models.RecordingSession, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}
	req := StartRequest{ChannelID: channelID, Title: strings.TrimSpace(title), DurationMinutes: durationMinutes}
	var session models.RecordingSession
	if err := c.client.SendJSON(ctx, http.MethodPost, c.baseURL, req, &session); err != nil {
		return nil, c.wrap("start recording", err)
	}
	if session.ChannelID == "" {
		session.ChannelID = channelID
	}
	return &session, nil
}

// Stop ends a recording.
func (c *Client) Stop(ctx context.Context, recordingID string) error {
	if c.baseURL == "" {
		return ErrNotConfigured
	}
	endpoint := urlutil.JoinPath(c.baseURL, url.PathEscape(recordingID)+"/stop")
	if err := c.client.SendJSON(ctx, http.MethodPost, endpoint, nil, nil); err != nil {
		return c.wrap("stop recording", err)
	}
	return nil
}

func (c *Client) wrap(op string, err error) error {
	c.logger.Warn("recording service call failed", slog.String("op", op), slog.String("error", err.Error()))
	return fmt.Errorf("%w: %s: %w", ErrService, op, err)
}

var _ Service = (*Client)(nil)
