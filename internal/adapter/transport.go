package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/jmylchreest/tvarr-player/internal/sink"
	"github.com/jmylchreest/tvarr-player/internal/stream"
	"github.com/jmylchreest/tvarr-player/internal/urlutil"
)

// ErrDemux reports a stream that could not be demuxed as MPEG-TS.
var ErrDemux = errors.New("transport stream demux failed")

var errStopped = errors.New("transport worker stopped")

// Transport demuxes MPEG-TS with mediacommon and pushes access units to the
// sink. Startup is bounded: if no random-access unit arrives within the
// startup window, EventStartupTimeout asks the owner to fall back.
type Transport struct {
	kind     stream.Kind
	url      string
	opts     Options
	listener Listener
	logger   *slog.Logger
}

// NewTransport creates a transport-stream adapter for a raw or proxied kind.
func NewTransport(kind stream.Kind, url string, opts Options, l Listener) *Transport {
	opts = opts.withDefaults()
	return &Transport{
		kind:     kind,
		url:      url,
		opts:     opts,
		listener: l,
		logger:   opts.Logger.With(slog.String("adapter", kind.String())),
	}
}

// Kind implements Adapter.
func (t *Transport) Kind() stream.Kind { return t.kind }

// URL implements Adapter.
func (t *Transport) URL() string { return t.url }

// transportState holds per-attachment startup and retry bookkeeping.
// Exactly one of started or timedOut becomes true; finished suppresses the
// timeout once a fatal error has been reported.
type transportState struct {
	mu               sync.Mutex
	started          bool
	timedOut         bool
	finished         bool
	networkRetries   int
	decodeRecoveries int
}

func (s *transportState) markStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.timedOut || s.finished {
		return false
	}
	s.started = true
	return true
}

func (s *transportState) markTimedOut() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.timedOut || s.finished {
		return false
	}
	s.timedOut = true
	return true
}

// connectionDelivered clears the network retry budget once a connection has
// produced media again.
func (s *transportState) connectionDelivered() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.networkRetries = 0
}

func (s *transportState) markFinished() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = true
}

func (s *transportState) isStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *transportState) isTimedOut() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timedOut
}

// Attach implements Adapter. Loading happens on a worker goroutine.
func (t *Transport) Attach(ctx context.Context, s sink.Sink) (*Handle, error) {
	resolved, err := urlutil.ResolveAgainstBase(t.opts.BaseURL, t.url)
	if err != nil {
		return nil, fmt.Errorf("resolving stream url: %w", err)
	}

	h := newHandle(ctx, t.kind, resolved, s)
	st := &transportState{}

	h.setUnsubscribe(s.Subscribe(func(e sink.Event) {
		if e.Type == sink.EventTracksChanged && h.Live() && st.isStarted() {
			t.emit(Event{Type: EventTrackListChanged, Handle: h, Tracks: nativeTrackList(s)})
		}
	}))
	h.setTimer(t.opts.AfterFunc(t.opts.StartupTimeout, func() {
		t.onStartupTimeout(h, st)
	}))
	h.goWorker(func(ctx context.Context) {
		t.run(ctx, h, st)
	})

	t.logger.Debug("transport adapter attached",
		slog.String("handle", h.id),
		slog.String("sink", s.ID()),
		slog.String("url", resolved),
		slog.Duration("startup_timeout", t.opts.StartupTimeout))
	return h, nil
}

// Detach implements Adapter.
func (t *Transport) Detach(h *Handle) {
	if h.release() {
		t.logger.Debug("transport adapter detached", slog.String("handle", h.id))
	}
}

// SelectAudio implements TrackSwitcher via the sink's native list.
func (t *Transport) SelectAudio(h *Handle, index int) error {
	return selectNativeAudio(h, index)
}

// SelectSubtitle implements TrackSwitcher via the sink's native list.
func (t *Transport) SelectSubtitle(h *Handle, index int) error {
	return selectNativeSubtitle(h, index)
}

// SelectQuality implements TrackSwitcher. Transport streams have one level.
func (t *Transport) SelectQuality(_ *Handle, _ int) error {
	return ErrSwitchUnsupported
}

func (t *Transport) onStartupTimeout(h *Handle, st *transportState) {
	if !h.Live() || !st.markTimedOut() {
		return
	}
	t.logger.Info("transport stream startup timed out",
		slog.String("handle", h.id),
		slog.String("url", h.url),
		slog.Duration("timeout", t.opts.StartupTimeout))
	t.emit(Event{Type: EventStartupTimeout, Handle: h, ResolvedURL: h.url})
}

func (t *Transport) run(ctx context.Context, h *Handle, st *transportState) {
	for {
		err := t.demux(ctx, h, st)
		if ctx.Err() != nil || st.isTimedOut() || errors.Is(err, errStopped) {
			return
		}
		if err == nil {
			t.logger.Debug("transport stream ended", slog.String("handle", h.id))
			return
		}

		kind := classifyStreamError(err)
		logger := t.logger.With(slog.String("handle", h.id), slog.String("kind", kind.String()))

		switch kind {
		case ErrorNetwork:
			st.mu.Lock()
			retry := st.networkRetries < t.opts.NetworkRetryLimit
			if retry {
				st.networkRetries++
			}
			attempt := st.networkRetries
			st.mu.Unlock()

			if !retry {
				t.fatal(h, st, kind, err)
				return
			}
			logger.Info("reopening transport stream", slog.Int("attempt", attempt), slog.String("error", err.Error()))
			t.emit(Event{Type: EventRecoverableError, Handle: h, ErrorKind: kind, Err: err})
			if !sleep(ctx, t.opts.NetworkRetryDelay) {
				return
			}

		case ErrorDecode:
			st.mu.Lock()
			again := st.decodeRecoveries < t.opts.DecodeRecoveryLimit
			if again {
				st.decodeRecoveries++
			}
			st.mu.Unlock()

			if !again {
				t.fatal(h, st, kind, err)
				return
			}
			logger.Info("recovering transport demuxer", slog.String("error", err.Error()))
			t.emit(Event{Type: EventRecoverableError, Handle: h, ErrorKind: kind, Err: err})

		default:
			t.fatal(h, st, kind, err)
			return
		}
	}
}

func (t *Transport) fatal(h *Handle, st *transportState, kind ErrorKind, err error) {
	st.markFinished()
	t.logger.Warn("transport stream failed",
		slog.String("handle", h.id),
		slog.String("kind", kind.String()),
		slog.String("error", err.Error()))
	t.emit(Event{Type: EventFatalError, Handle: h, ErrorKind: kind, Err: err})
}

// demux reads one connection until EOF, error or cancellation.
func (t *Transport) demux(ctx context.Context, h *Handle, st *transportState) error {
	resp, err := t.opts.Client.OpenStream(ctx, h.url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body := &trackingReader{r: resp.Body}
	var r io.Reader = body
	if app, ok := h.sink.(sink.TSAppender); ok {
		r = io.TeeReader(body, appendWriter{app})
	}

	reader := &mpegts.Reader{R: r}
	if err := reader.Initialize(); err != nil {
		if ioErr := body.failure(); ioErr != nil {
			return ioErr
		}
		return fmt.Errorf("%w: %v", ErrDemux, err)
	}

	hasVideo := false
	for _, track := range reader.Tracks() {
		switch track.Codec.(type) {
		case *mpegts.CodecH264, *mpegts.CodecH265:
			hasVideo = true
		}
	}

	delivered := false
	push := func(f sink.Frame) error {
		if ctx.Err() != nil || !h.Live() || st.isTimedOut() {
			return errStopped
		}
		if !st.isStarted() {
			if f.Video && !f.Keyframe {
				return nil
			}
			if !f.Video && hasVideo {
				return nil
			}
			if !st.markStarted() {
				return errStopped
			}
			t.logger.Debug("transport stream ready",
				slog.String("handle", h.id),
				slog.String("codec", f.Codec))
			t.emit(Event{Type: EventReady, Handle: h, Tracks: nativeTrackList(h.sink)})
		}
		h.sink.PushFrame(f)
		if !delivered {
			delivered = true
			st.connectionDelivered()
		}
		return nil
	}

	for _, track := range reader.Tracks() {
		switch track.Codec.(type) {
		case *mpegts.CodecH264:
			reader.OnDataH264(track, func(pts, dts int64, au [][]byte) error {
				return push(sink.Frame{Video: true, Codec: "h264", PTS: pts, DTS: dts, Keyframe: h264.IsRandomAccess(au), Data: au})
			})
		case *mpegts.CodecH265:
			reader.OnDataH265(track, func(pts, dts int64, au [][]byte) error {
				return push(sink.Frame{Video: true, Codec: "h265", PTS: pts, DTS: dts, Keyframe: h265.IsRandomAccess(au), Data: au})
			})
		case *mpegts.CodecMPEG4Audio:
			reader.OnDataMPEG4Audio(track, func(pts int64, aus [][]byte) error {
				return push(sink.Frame{Codec: "aac", PTS: pts, DTS: pts, Data: aus})
			})
		}
	}

	reader.OnDecodeError(func(err error) {
		t.logger.Debug("transport stream decode error",
			slog.String("handle", h.id),
			slog.String("error", err.Error()))
	})

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := reader.Read(); err != nil {
			if errors.Is(err, errStopped) {
				return errStopped
			}
			if ioErr := body.failure(); ioErr != nil {
				return ioErr
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("%w: %v", ErrDemux, err)
		}
	}
}

// classifyStreamError maps worker errors onto adapter error kinds.
func classifyStreamError(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrDemux):
		return ErrorDecode
	case isNetworkFailure(err):
		return ErrorNetwork
	default:
		return ErrorOther
	}
}

func (t *Transport) emit(e Event) {
	if t.listener != nil && e.Handle.Live() {
		t.listener(e)
	}
}

// trackingReader remembers the first non-EOF read error of the body so a
// demuxer failure can be told apart from a transport failure.
type trackingReader struct {
	r   io.Reader
	mu  sync.Mutex
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		t.mu.Lock()
		if t.err == nil {
			t.err = err
		}
		t.mu.Unlock()
	}
	return n, err
}

func (t *trackingReader) failure() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

type appendWriter struct {
	app sink.TSAppender
}

func (w appendWriter) Write(p []byte) (int, error) {
	w.app.AppendTS(p)
	return len(p), nil
}

var (
	_ Adapter       = (*Transport)(nil)
	_ TrackSwitcher = (*Transport)(nil)
)
