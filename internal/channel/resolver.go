// Package channel resolves channel identifiers to playable stream
// descriptors through the platform's channel service.
package channel

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

// Resolver errors.
var (
	ErrNotConfigured   = errors.New("channel service url not configured")
	ErrChannelNotFound = errors.New("channel not found")
	ErrService         = errors.New("channel service error")
)

// Resolver looks channels up over HTTP JSON at {BaseURL}/{id}.
type Resolver struct {
	baseURL string
	client  *httpclient.Client
	logger  *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClient sets the HTTP client.
func WithClient(c *httpclient.Client) Option {
	return func(r *Resolver) { r.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver creates a resolver for the channel service at baseURL.
func NewResolver(baseURL string, opts ...Option) *Resolver {
	r := &Resolver{baseURL: urlutil.NormalizeBaseURL(baseURL)}
	for _, opt := range opts {
		opt(r)
	}
	if r.client == nil {
		r.client = httpclient.NewWithDefaults()
	}
	if r.logger == nil {
		r.logger = observability.Discard()
	}
	r.logger = observability.WithComponent(r.logger, "channel")
	return r
}

// Resolve fetches the channel and returns it with its stream descriptor.
// The relay URL is preferred over the direct upstream URL.
func (r *Resolver) Resolve(ctx context.Context, channelID string) (models.Channel, models.StreamDescriptor, error) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return models.Channel{}, models.StreamDescriptor{}, models.ErrChannelIDRequired
	}
	if r.baseURL == "" {
		return models.Channel{}, models.StreamDescriptor{}, ErrNotConfigured
	}

	endpoint := urlutil.JoinPath(r.baseURL, url.PathEscape(channelID))
	var ch models.Channel
	if err := r.client.GetJSON(ctx, endpoint, &ch); err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound {
			return models.Channel{}, models.StreamDescriptor{}, fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
		}
		observability.WithOperation(r.logger, "resolve_channel").Warn("channel lookup failed",
			slog.String("channel_id", channelID),
			slog.String("error", err.Error()))
		return models.Channel{}, models.StreamDescriptor{}, fmt.Errorf("%w: %w", ErrService, err)
	}

	if ch.ID == "" {
		ch.ID = channelID
	}
	if err := ch.Validate(); err != nil {
		return models.Channel{}, models.StreamDescriptor{}, fmt.Errorf("%w: channel %s: %w", ErrService, channelID, err)
	}

	desc := models.StreamDescriptor{URL: ch.PlaybackURL()}
	r.logger.Debug("channel resolved",
		slog.String("channel_id", ch.ID),
		slog.String("url", desc.URL))
	return ch, desc, nil
}
