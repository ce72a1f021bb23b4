package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/tvarr-player/internal/sink"
	"github.com/jmylchreest/tvarr-player/internal/stream"
	"github.com/jmylchreest/tvarr-player/internal/tracks"
	"github.com/jmylchreest/tvarr-player/internal/urlutil"
)

// Native hands the URL to the sink's own loader. It serves NativeFallback,
// ProgressiveFile and the fallback path of transport streams.
type Native struct {
	kind     stream.Kind
	url      string
	opts     Options
	listener Listener
	logger   *slog.Logger
}

// NewNative creates a native adapter.
func NewNative(url string, opts Options, l Listener) *Native {
	return newNative(stream.NativeFallback, url, opts, l)
}

// NewProgressive creates a native adapter for progressive files.
func NewProgressive(url string, opts Options, l Listener) *Native {
	return newNative(stream.ProgressiveFile, url, opts, l)
}

func newNative(kind stream.Kind, url string, opts Options, l Listener) *Native {
	opts = opts.withDefaults()
	return &Native{
		kind:     kind,
		url:      url,
		opts:     opts,
		listener: l,
		logger:   opts.Logger.With(slog.String("adapter", kind.String())),
	}
}

// Kind implements Adapter.
func (n *Native) Kind() stream.Kind { return n.kind }

// URL implements Adapter.
func (n *Native) URL() string { return n.url }

// Attach implements Adapter.
func (n *Native) Attach(ctx context.Context, s sink.Sink) (*Handle, error) {
	resolved, err := urlutil.ResolveAgainstBase(n.opts.BaseURL, n.url)
	if err != nil {
		return nil, fmt.Errorf("resolving stream url: %w", err)
	}

	h := newHandle(ctx, n.kind, resolved, s)
	st := &nativeState{}
	h.setUnsubscribe(s.Subscribe(func(e sink.Event) {
		n.onSinkEvent(h, st, e)
	}))

	if err := s.SetSource(h.ctx, resolved); err != nil {
		h.release()
		return nil, fmt.Errorf("setting sink source: %w", err)
	}

	n.logger.Debug("native source set",
		slog.String("handle", h.id),
		slog.String("sink", s.ID()),
		slog.String("url", resolved))
	return h, nil
}

// Detach implements Adapter.
func (n *Native) Detach(h *Handle) {
	if h.release() {
		n.logger.Debug("native adapter detached", slog.String("handle", h.id))
	}
}

// SelectAudio implements TrackSwitcher via the sink's native list.
func (n *Native) SelectAudio(h *Handle, index int) error {
	return selectNativeAudio(h, index)
}

// SelectSubtitle implements TrackSwitcher via the sink's native list.
func (n *Native) SelectSubtitle(h *Handle, index int) error {
	return selectNativeSubtitle(h, index)
}

// SelectQuality implements TrackSwitcher. Native sources expose no levels.
func (n *Native) SelectQuality(_ *Handle, _ int) error {
	return ErrSwitchUnsupported
}

type nativeState struct {
	mu               sync.Mutex
	ready            bool
	networkRetries   int
	decodeRecoveries int
}

func (n *Native) onSinkEvent(h *Handle, st *nativeState, e sink.Event) {
	if !h.Live() {
		return
	}

	switch e.Type {
	case sink.EventCanPlay:
		st.mu.Lock()
		first := !st.ready
		st.ready = true
		st.networkRetries = 0
		st.mu.Unlock()
		if first {
			n.emit(Event{Type: EventReady, Handle: h, Tracks: nativeTrackList(h.sink)})
		}

	case sink.EventTracksChanged:
		n.emit(Event{Type: EventTrackListChanged, Handle: h, Tracks: nativeTrackList(h.sink)})

	case sink.EventError:
		n.onSinkError(h, st, e)
	}
}

func (n *Native) onSinkError(h *Handle, st *nativeState, e sink.Event) {
	logger := n.logger.With(slog.String("handle", h.id), slog.String("class", e.Class.String()))

	switch e.Class {
	case sink.ErrorNetwork:
		st.mu.Lock()
		retry := st.networkRetries < n.opts.NetworkRetryLimit
		if retry {
			st.networkRetries++
		}
		attempt := st.networkRetries
		st.mu.Unlock()

		if !retry {
			n.emit(Event{Type: EventFatalError, Handle: h, ErrorKind: ErrorNetwork, Err: e.Err})
			return
		}
		logger.Info("reloading native source after network error", slog.Int("attempt", attempt))
		n.emit(Event{Type: EventRecoverableError, Handle: h, ErrorKind: ErrorNetwork, Err: e.Err})
		pos, playing := h.sink.Position(), !h.sink.Paused()
		h.goWorker(func(ctx context.Context) {
			if !sleep(ctx, n.opts.NetworkRetryDelay) {
				return
			}
			if err := n.reload(ctx, h, pos, playing); err != nil && h.Live() {
				n.emit(Event{Type: EventFatalError, Handle: h, ErrorKind: ErrorNetwork, Err: err})
			}
		})

	case sink.ErrorDecode:
		st.mu.Lock()
		again := st.decodeRecoveries < n.opts.DecodeRecoveryLimit
		if again {
			st.decodeRecoveries++
		}
		st.mu.Unlock()

		if !again {
			n.emit(Event{Type: EventFatalError, Handle: h, ErrorKind: ErrorDecode, Err: e.Err})
			return
		}
		logger.Info("reloading native source after decode error")
		n.emit(Event{Type: EventRecoverableError, Handle: h, ErrorKind: ErrorDecode, Err: e.Err})
		pos, playing := h.sink.Position(), !h.sink.Paused()
		h.goWorker(func(ctx context.Context) {
			if err := n.reload(ctx, h, pos, playing); err != nil && h.Live() {
				n.emit(Event{Type: EventFatalError, Handle: h, ErrorKind: ErrorDecode, Err: err})
			}
		})

	default:
		n.emit(Event{Type: EventFatalError, Handle: h, ErrorKind: ErrorOther, Err: e.Err})
	}
}

// reload sets the source again and restores the position and play state the
// sink had when the error was raised, since a new source resets both.
func (n *Native) reload(ctx context.Context, h *Handle, pos time.Duration, playing bool) error {
	if err := h.sink.SetSource(ctx, h.url); err != nil {
		return err
	}
	if pos > 0 {
		if err := h.sink.Seek(pos); err != nil {
			n.logger.Warn("restoring position after reload failed",
				slog.String("handle", h.id), slog.String("error", err.Error()))
		}
	}
	if playing {
		if err := h.sink.Play(ctx); err != nil {
			n.logger.Warn("resuming playback after reload failed",
				slog.String("handle", h.id), slog.String("error", err.Error()))
		}
	}
	return nil
}

func (n *Native) emit(e Event) {
	if n.listener != nil && e.Handle.Live() {
		n.listener(e)
	}
}

func selectNativeAudio(h *Handle, index int) error {
	if !h.Live() {
		return ErrNotAttached
	}
	return h.sink.EnableAudioTrack(index)
}

func selectNativeSubtitle(h *Handle, index int) error {
	if !h.Live() {
		return ErrNotAttached
	}
	return h.sink.ShowTextTrack(index)
}

// nativeTrackList reads the sink's native audio and text lists.
func nativeTrackList(s sink.Sink) TrackList {
	return TrackList{
		Audio:     tracks.NormalizeTracks(rawTracks(s.AudioTracks())),
		Subtitles: tracks.NormalizeTracks(rawTracks(s.TextTracks())),
	}
}

func rawTracks(in []sink.NativeTrack) []tracks.RawTrack {
	out := make([]tracks.RawTrack, 0, len(in))
	for _, t := range in {
		out = append(out, tracks.RawTrack{ID: t.ID, Name: t.Label, Language: t.Language, Default: t.Default})
	}
	return out
}

var (
	_ Adapter       = (*Native)(nil)
	_ TrackSwitcher = (*Native)(nil)
)
