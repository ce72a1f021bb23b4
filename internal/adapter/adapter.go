// Package adapter binds each transport kind's decoding protocol to a sink.
//
// An Adapter is created for one stream URL and attached to one sink at a
// time. Work runs on worker goroutines that report back through a Listener;
// listeners must not block, because Detach waits for workers to exit.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/tvarr-player/internal/observability"
	"github.com/jmylchreest/tvarr-player/internal/sink"
	"github.com/jmylchreest/tvarr-player/internal/stream"
	"github.com/jmylchreest/tvarr-player/internal/tracks"
	"github.com/jmylchreest/tvarr-player/pkg/httpclient"
)

// Adapter errors.
var (
	ErrNotAttached       = errors.New("adapter handle is not attached")
	ErrForeignHandle     = errors.New("handle belongs to another adapter")
	ErrSwitchUnsupported = errors.New("track switching not supported")
)

// Default policy values.
const (
	DefaultStartupTimeout      = 8 * time.Second
	DefaultNetworkRetryLimit   = 3
	DefaultNetworkRetryDelay   = time.Second
	DefaultDecodeRecoveryLimit = 1
)

// Adapter owns a decoding session bound to one sink.
type Adapter interface {
	Kind() stream.Kind
	// URL is the stream URL the adapter was created for.
	URL() string
	// Attach binds the adapter to s and begins loading.
	Attach(ctx context.Context, s sink.Sink) (*Handle, error)
	// Detach stops all work for h and clears the sink. It is idempotent and
	// safe on nil or never-attached handles. It returns once workers exit.
	Detach(h *Handle)
}

// TrackSwitcher is implemented by adapters with native track switching.
type TrackSwitcher interface {
	SelectQuality(h *Handle, index int) error
	SelectAudio(h *Handle, index int) error
	SelectSubtitle(h *Handle, index int) error
}

// EventType is the kind of an adapter event.
type EventType int

const (
	EventReady EventType = iota
	EventTrackListChanged
	EventQualityChanged
	EventRecoverableError
	EventFatalError
	// EventStartupTimeout asks the owner to fall back to native decoding.
	EventStartupTimeout
)

func (t EventType) String() string {
	switch t {
	case EventReady:
		return "ready"
	case EventTrackListChanged:
		return "track_list_changed"
	case EventQualityChanged:
		return "quality_changed"
	case EventRecoverableError:
		return "recoverable_error"
	case EventFatalError:
		return "fatal_error"
	case EventStartupTimeout:
		return "startup_timeout"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// ErrorKind classifies adapter errors.
type ErrorKind int

const (
	ErrorOther ErrorKind = iota
	ErrorNetwork
	ErrorDecode
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorNetwork:
		return "network"
	case ErrorDecode:
		return "decode"
	default:
		return "other"
	}
}

// TrackList is the adapter's view of the available tracks.
type TrackList struct {
	Qualities []tracks.Quality
	Audio     []tracks.Descriptor
	Subtitles []tracks.Descriptor
}

// Event is delivered to the Listener. Handle identifies the emitting
// attachment so owners can discard events from replaced handles.
type Event struct {
	Type      EventType
	Handle    *Handle
	ErrorKind ErrorKind
	Err       error
	Tracks    TrackList
	// Quality is the active level for EventQualityChanged (tracks.Auto for adaptive).
	Quality int
	// ResolvedURL is the absolute URL for EventStartupTimeout.
	ResolvedURL string
}

// Listener receives adapter events. It must not block.
type Listener func(Event)

// Timer is the subset of *time.Timer adapters use.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. Tests replace it to control startup windows.
type AfterFunc func(d time.Duration, f func()) Timer

func defaultAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Options configures adapters.
type Options struct {
	// Client loads manifests and streams.
	Client *httpclient.Client
	// BaseURL resolves relative stream URLs.
	BaseURL string
	// StartupTimeout bounds the transport-stream startup window.
	StartupTimeout time.Duration
	// NetworkRetryLimit caps in-place reloads after network errors.
	NetworkRetryLimit int
	// NetworkRetryDelay is the pause before a network reload.
	NetworkRetryDelay time.Duration
	// DecodeRecoveryLimit caps in-place decoder recoveries.
	DecodeRecoveryLimit int
	AfterFunc           AfterFunc
	Logger              *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Client == nil {
		o.Client = httpclient.NewWithDefaults()
	}
	if o.StartupTimeout <= 0 {
		o.StartupTimeout = DefaultStartupTimeout
	}
	if o.NetworkRetryLimit < 0 {
		o.NetworkRetryLimit = 0
	}
	if o.NetworkRetryDelay < 0 {
		o.NetworkRetryDelay = 0
	}
	if o.DecodeRecoveryLimit < 0 {
		o.DecodeRecoveryLimit = 0
	}
	if o.AfterFunc == nil {
		o.AfterFunc = defaultAfterFunc
	}
	if o.Logger == nil {
		o.Logger = observability.Discard()
	}
	return o
}

// DefaultOptions returns options with the default retry policy.
func DefaultOptions() Options {
	return Options{
		StartupTimeout:      DefaultStartupTimeout,
		NetworkRetryLimit:   DefaultNetworkRetryLimit,
		NetworkRetryDelay:   DefaultNetworkRetryDelay,
		DecodeRecoveryLimit: DefaultDecodeRecoveryLimit,
	}.withDefaults()
}

// Factory creates adapters for classified streams.
type Factory struct {
	opts Options
}

// NewFactory creates a factory. Zero-valued options take defaults.
func NewFactory(opts Options) *Factory {
	return &Factory{opts: opts.withDefaults()}
}

// Options returns the effective options.
func (f *Factory) Options() Options {
	return f.opts
}

// New creates the adapter for kind. Selection happens once per session.
func (f *Factory) New(kind stream.Kind, url string, l Listener) Adapter {
	switch kind {
	case stream.AdaptiveManifest:
		return NewManifest(url, f.opts, l)
	case stream.RawTransportStream, stream.ProxiedTransportStream:
		return NewTransport(kind, url, f.opts, l)
	case stream.ProgressiveFile:
		return NewProgressive(url, f.opts, l)
	default:
		return NewNative(url, f.opts, l)
	}
}

// NewFallback creates the native adapter used when a transport-stream
// startup window expires. resolvedURL is already absolute.
func (f *Factory) NewFallback(resolvedURL string, l Listener) Adapter {
	return NewNative(resolvedURL, f.opts, l)
}

// isNetworkFailure reports transport-level failures, including any upstream
// status the loader could not accept.
func isNetworkFailure(err error) bool {
	if httpclient.IsNetworkError(err) {
		return true
	}
	var statusErr *httpclient.StatusError
	return errors.As(err, &statusErr)
}

// sleep waits for d or ctx, reporting whether the wait completed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
