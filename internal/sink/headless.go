package sink

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/jmylchreest/tvarr-player/internal/observability"
	"github.com/jmylchreest/tvarr-player/internal/urlutil"
	"github.com/jmylchreest/tvarr-player/pkg/httpclient"
)

const (
	tsSyncByte      = 0x47
	readChunkSize   = 32 * 1024
	canPlayBytesMin = 188 * 7
)

// HeadlessConfig configures a Headless sink.
type HeadlessConfig struct {
	Name   string
	Client *httpclient.Client
	Logger *slog.Logger
}

// Headless is a non-visual sink. Native loading consumes the source over
// HTTP and reports readiness once data arrives; pushed frames are counted.
// Transport-stream bytes, fetched natively or appended by an adapter, are
// scanned for the PMT to populate the native track lists.
type Headless struct {
	name   string
	client *httpclient.Client
	logger *slog.Logger
	subs   subscribers
	now    func() time.Time

	mu          sync.Mutex
	source      string
	generation  uint64
	cancelLoad  context.CancelFunc
	canPlay     bool
	framesVideo int
	framesAudio int
	bytesRead   int64

	playing   bool
	playStart time.Time
	base      time.Duration

	audio []NativeTrack
	text  []NativeTrack

	ts     *pmtScanner
	tsDone bool
}

// NewHeadless creates a headless sink.
func NewHeadless(cfg HeadlessConfig) *Headless {
	if cfg.Client == nil {
		cfg.Client = httpclient.NewWithDefaults()
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.Discard()
	}
	if cfg.Name == "" {
		cfg.Name = "headless"
	}
	return &Headless{
		name:   cfg.Name,
		client: cfg.Client,
		logger: cfg.Logger.With(slog.String("sink", cfg.Name)),
		now:    time.Now,
	}
}

// ID implements Sink.
func (h *Headless) ID() string { return h.name }

// SetSource implements Sink. Loading runs in the background until ClearSource,
// Release, a new source, or ctx cancellation.
func (h *Headless) SetSource(ctx context.Context, url string) error {
	if err := urlutil.ValidateURL(url); err != nil {
		return err
	}

	h.mu.Lock()
	h.resetLocked()
	h.source = url
	gen := h.generation
	loadCtx, cancel := context.WithCancel(ctx)
	h.cancelLoad = cancel
	h.mu.Unlock()

	go h.load(loadCtx, url, gen)
	return nil
}

func (h *Headless) load(ctx context.Context, url string, gen uint64) {
	resp, err := h.client.OpenStream(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		h.fail(gen, classifyLoadError(err), err)
		return
	}
	defer resp.Body.Close()

	isTS := false
	first := true
	buf := make([]byte, readChunkSize)
	pending := 0

	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if first {
				isTS = buf[0] == tsSyncByte || resp.Header.Get("Content-Type") == "video/mp2t"
				first = false
			}
			if isTS {
				h.appendTS(gen, buf[:n])
			}
			pending += n
			if !h.bytesArrived(gen, n, pending >= canPlayBytesMin) {
				return
			}
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(readErr, io.EOF) {
				if !first && !h.isCanPlay(gen) {
					h.bytesArrived(gen, 0, true)
				}
				h.emitIfCurrent(gen, Event{Type: EventEnded})
				return
			}
			h.fail(gen, ErrorNetwork, readErr)
			return
		}
	}
}

// bytesArrived records progress and emits CanPlay the first time ready is true.
// It returns false once gen is no longer current.
func (h *Headless) bytesArrived(gen uint64, n int, ready bool) bool {
	h.mu.Lock()
	if gen != h.generation {
		h.mu.Unlock()
		return false
	}
	h.bytesRead += int64(n)
	emit := ready && !h.canPlay
	if emit {
		h.canPlay = true
	}
	h.mu.Unlock()

	if emit {
		h.subs.emit(Event{Type: EventCanPlay})
	}
	return true
}

func (h *Headless) isCanPlay(gen uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return gen == h.generation && h.canPlay
}

func (h *Headless) fail(gen uint64, class ErrorClass, err error) {
	h.logger.Debug("sink load failed",
		slog.String("class", class.String()),
		slog.String("error", err.Error()),
	)
	h.emitIfCurrent(gen, Event{Type: EventError, Class: class, Err: err})
}

func (h *Headless) emitIfCurrent(gen uint64, e Event) {
	h.mu.Lock()
	current := gen == h.generation
	h.mu.Unlock()
	if current {
		h.subs.emit(e)
	}
}

func classifyLoadError(err error) ErrorClass {
	if httpclient.IsNetworkError(err) {
		return ErrorNetwork
	}
	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) && statusErr.Code == http.StatusUnsupportedMediaType {
		return ErrorDecode
	}
	return ErrorOther
}

// ClearSource implements Sink.
func (h *Headless) ClearSource() {
	h.mu.Lock()
	h.resetLocked()
	h.mu.Unlock()
}

// resetLocked cancels loading and bumps the generation so in-flight loads go quiet.
func (h *Headless) resetLocked() {
	if h.cancelLoad != nil {
		h.cancelLoad()
		h.cancelLoad = nil
	}
	h.generation++
	h.source = ""
	h.canPlay = false
	h.framesVideo = 0
	h.framesAudio = 0
	h.bytesRead = 0
	h.playing = false
	h.base = 0
	h.audio = nil
	h.text = nil
	h.ts = nil
	h.tsDone = false
}

// PushFrame implements Sink. The first keyframe or audio frame makes the sink playable.
func (h *Headless) PushFrame(f Frame) {
	h.mu.Lock()
	if f.Video {
		h.framesVideo++
	} else {
		h.framesAudio++
	}
	emit := !h.canPlay && (f.Keyframe || !f.Video)
	if emit {
		h.canPlay = true
	}
	h.mu.Unlock()

	if emit {
		h.subs.emit(Event{Type: EventCanPlay})
	}
}

// AppendTS implements TSAppender.
func (h *Headless) AppendTS(p []byte) {
	h.mu.Lock()
	gen := h.generation
	h.mu.Unlock()
	h.appendTS(gen, p)
}

func (h *Headless) appendTS(gen uint64, p []byte) {
	h.mu.Lock()
	if gen != h.generation || h.tsDone {
		h.mu.Unlock()
		return
	}
	if h.ts == nil {
		h.ts = &pmtScanner{}
	}
	audio, text, found := h.ts.scan(p)
	if !found {
		if h.ts.exhausted() {
			h.tsDone = true
			h.ts = nil
		}
		h.mu.Unlock()
		return
	}
	h.tsDone = true
	h.ts = nil
	h.audio = audio
	h.text = text
	h.mu.Unlock()

	h.logger.Debug("native tracks discovered",
		slog.Int("audio", len(audio)),
		slog.Int("text", len(text)),
	)
	h.subs.emit(Event{Type: EventTracksChanged})
}

// Play implements Sink.
func (h *Headless) Play(_ context.Context) error {
	h.mu.Lock()
	if h.source == "" && h.framesVideo+h.framesAudio == 0 {
		h.mu.Unlock()
		return ErrNoSource
	}
	changed := !h.playing
	if changed {
		h.playing = true
		h.playStart = h.now()
	}
	h.mu.Unlock()

	if changed {
		h.subs.emit(Event{Type: EventPlaying})
	}
	return nil
}

// Pause implements Sink.
func (h *Headless) Pause() error {
	h.mu.Lock()
	changed := h.playing
	if changed {
		h.base += h.now().Sub(h.playStart)
		h.playing = false
	}
	h.mu.Unlock()

	if changed {
		h.subs.emit(Event{Type: EventPaused})
	}
	return nil
}

// Seek implements Sink.
func (h *Headless) Seek(position time.Duration) error {
	if position < 0 {
		position = 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.base = position
	if h.playing {
		h.playStart = h.now()
	}
	return nil
}

// Position implements Sink.
func (h *Headless) Position() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.playing {
		return h.base + h.now().Sub(h.playStart)
	}
	return h.base
}

// Paused implements Sink.
func (h *Headless) Paused() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.playing
}

// AudioTracks implements Sink.
func (h *Headless) AudioTracks() []NativeTrack {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.audio)
}

// TextTracks implements Sink.
func (h *Headless) TextTracks() []NativeTrack {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.text)
}

// EnableAudioTrack implements Sink.
func (h *Headless) EnableAudioTrack(index int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if index < 0 || index >= len(h.audio) {
		return ErrTrackNotFound
	}
	for i := range h.audio {
		h.audio[i].Active = i == index
	}
	return nil
}

// ShowTextTrack implements Sink.
func (h *Headless) ShowTextTrack(index int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if index < -1 || index >= len(h.text) {
		return ErrTrackNotFound
	}
	for i := range h.text {
		h.text[i].Active = i == index
	}
	return nil
}

// Subscribe implements Sink.
func (h *Headless) Subscribe(fn func(Event)) func() {
	return h.subs.add(fn)
}

// Release implements Sink.
func (h *Headless) Release() {
	h.ClearSource()
}

// Stats is a point-in-time view of what the sink has consumed.
type Stats struct {
	Source      string `json:"source,omitempty"`
	CanPlay     bool   `json:"can_play"`
	Playing     bool   `json:"playing"`
	VideoFrames int    `json:"video_frames"`
	AudioFrames int    `json:"audio_frames"`
	BytesRead   int64  `json:"bytes_read"`
}

// Stats returns consumption counters.
func (h *Headless) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{
		Source:      h.source,
		CanPlay:     h.canPlay,
		Playing:     h.playing,
		VideoFrames: h.framesVideo,
		AudioFrames: h.framesAudio,
		BytesRead:   h.bytesRead,
	}
}

var (
	_ Sink       = (*Headless)(nil)
	_ TSAppender = (*Headless)(nil)
)
