package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	gohlslib "github.com/bluenviron/gohlslib/v2"
	"github.com/bluenviron/gohlslib/v2/pkg/codecs"
	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"

	"github.com/jmylchreest/tvarr-player/internal/sink"
	"github.com/jmylchreest/tvarr-player/internal/stream"
	"github.com/jmylchreest/tvarr-player/internal/tracks"
	"github.com/jmylchreest/tvarr-player/internal/urlutil"
	"github.com/jmylchreest/tvarr-player/pkg/httpclient"
)

// ErrManifest reports a playlist that could not be parsed.
var ErrManifest = errors.New("invalid playlist")

// maxPlaylistSize bounds a fetched playlist.
const maxPlaylistSize = 4 << 20

var errRestart = errors.New("loader restart requested")

// Manifest plays HLS manifests with the gohlslib client. The master
// playlist is parsed first to publish quality levels and renditions; level
// changes restart the loader on the chosen variant without detaching.
type Manifest struct {
	url      string
	opts     Options
	listener Listener
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[*Handle]*manifestSession
}

type manifestSession struct {
	mu               sync.Mutex
	parsed           bool
	variants         []string
	list             TrackList
	level            int
	audio            int
	subtitle         int
	ready            bool
	networkRetries   int
	decodeRecoveries int
	restart          chan struct{}
}

// NewManifest creates an adaptive-manifest adapter.
func NewManifest(url string, opts Options, l Listener) *Manifest {
	opts = opts.withDefaults()
	return &Manifest{
		url:      url,
		opts:     opts,
		listener: l,
		logger:   opts.Logger.With(slog.String("adapter", stream.AdaptiveManifest.String())),
		sessions: make(map[*Handle]*manifestSession),
	}
}

// Kind implements Adapter.
func (m *Manifest) Kind() stream.Kind { return stream.AdaptiveManifest }

// URL implements Adapter.
func (m *Manifest) URL() string { return m.url }

// Attach implements Adapter. Manifest loading has no startup window.
func (m *Manifest) Attach(ctx context.Context, s sink.Sink) (*Handle, error) {
	resolved, err := urlutil.ResolveAgainstBase(m.opts.BaseURL, m.url)
	if err != nil {
		return nil, fmt.Errorf("resolving stream url: %w", err)
	}

	h := newHandle(ctx, stream.AdaptiveManifest, resolved, s)
	ms := &manifestSession{
		level:    tracks.Auto,
		subtitle: tracks.Disabled,
		restart:  make(chan struct{}, 1),
	}

	m.mu.Lock()
	m.sessions[h] = ms
	m.mu.Unlock()

	h.goWorker(func(ctx context.Context) {
		m.run(ctx, h, ms)
	})

	m.logger.Debug("manifest adapter attached",
		slog.String("handle", h.id),
		slog.String("sink", s.ID()),
		slog.String("url", resolved))
	return h, nil
}

// Detach implements Adapter.
func (m *Manifest) Detach(h *Handle) {
	if !h.release() {
		return
	}
	m.mu.Lock()
	delete(m.sessions, h)
	m.mu.Unlock()
	m.logger.Debug("manifest adapter detached", slog.String("handle", h.id))
}

func (m *Manifest) session(h *Handle) (*manifestSession, error) {
	if !h.Live() {
		return nil, ErrNotAttached
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.sessions[h]
	if !ok {
		return nil, ErrForeignHandle
	}
	return ms, nil
}

// SelectQuality implements TrackSwitcher. tracks.Auto restores adaptive
// selection by loading the master playlist again.
func (m *Manifest) SelectQuality(h *Handle, index int) error {
	ms, err := m.session(h)
	if err != nil {
		return err
	}

	ms.mu.Lock()
	if index != tracks.Auto && (index < 0 || index >= len(ms.list.Qualities)) {
		n := len(ms.list.Qualities)
		ms.mu.Unlock()
		return &tracks.RangeError{Collection: tracks.CollectionQuality, Index: index, Count: n}
	}
	changed := ms.level != index
	ms.level = index
	ms.mu.Unlock()

	if changed {
		select {
		case ms.restart <- struct{}{}:
		default:
		}
	}
	return nil
}

// SelectAudio implements TrackSwitcher. The loader follows the playlist's
// default rendition; the selection is recorded for the track model.
func (m *Manifest) SelectAudio(h *Handle, index int) error {
	ms, err := m.session(h)
	if err != nil {
		return err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if index < 0 || index >= len(ms.list.Audio) {
		return &tracks.RangeError{Collection: tracks.CollectionAudio, Index: index, Count: len(ms.list.Audio)}
	}
	ms.audio = index
	return nil
}

// SelectSubtitle implements TrackSwitcher. Selection is recorded only.
func (m *Manifest) SelectSubtitle(h *Handle, index int) error {
	ms, err := m.session(h)
	if err != nil {
		return err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if index != tracks.Disabled && (index < 0 || index >= len(ms.list.Subtitles)) {
		return &tracks.RangeError{Collection: tracks.CollectionSubtitle, Index: index, Count: len(ms.list.Subtitles)}
	}
	ms.subtitle = index
	return nil
}

func (m *Manifest) run(ctx context.Context, h *Handle, ms *manifestSession) {
	for {
		err := m.load(ctx, h, ms)
		if ctx.Err() != nil || errors.Is(err, errStopped) {
			return
		}
		if errors.Is(err, errRestart) {
			continue
		}
		if err == nil {
			// Finished playlists stay attached so a level change can reload them.
			m.logger.Debug("manifest stream ended", slog.String("handle", h.id))
			select {
			case <-ctx.Done():
				return
			case <-ms.restart:
				continue
			}
		}

		kind := classifyManifestError(err)
		logger := m.logger.With(slog.String("handle", h.id), slog.String("kind", kind.String()))

		switch kind {
		case ErrorNetwork:
			ms.mu.Lock()
			retry := ms.networkRetries < m.opts.NetworkRetryLimit
			if retry {
				ms.networkRetries++
			}
			attempt := ms.networkRetries
			ms.mu.Unlock()

			if !retry {
				m.fatal(h, kind, err)
				return
			}
			logger.Info("reloading manifest", slog.Int("attempt", attempt), slog.String("error", err.Error()))
			m.emit(Event{Type: EventRecoverableError, Handle: h, ErrorKind: kind, Err: err})
			if !sleep(ctx, m.opts.NetworkRetryDelay) {
				return
			}

		case ErrorDecode:
			ms.mu.Lock()
			again := ms.decodeRecoveries < m.opts.DecodeRecoveryLimit
			if again {
				ms.decodeRecoveries++
			}
			ms.mu.Unlock()

			if !again {
				m.fatal(h, kind, err)
				return
			}
			logger.Info("recovering manifest loader", slog.String("error", err.Error()))
			m.emit(Event{Type: EventRecoverableError, Handle: h, ErrorKind: kind, Err: err})

		default:
			m.fatal(h, kind, err)
			return
		}
	}
}

func (m *Manifest) fatal(h *Handle, kind ErrorKind, err error) {
	m.logger.Warn("manifest stream failed",
		slog.String("handle", h.id),
		slog.String("kind", kind.String()),
		slog.String("error", err.Error()))
	m.emit(Event{Type: EventFatalError, Handle: h, ErrorKind: kind, Err: err})
}

// load parses the master playlist once, then runs one loader instance until
// it ends, fails, is restarted or the handle is detached.
func (m *Manifest) load(ctx context.Context, h *Handle, ms *manifestSession) error {
	ms.mu.Lock()
	parsed := ms.parsed
	ms.mu.Unlock()

	if !parsed {
		list, variants, err := m.parseMaster(ctx, h.url)
		if err != nil {
			return err
		}
		ms.mu.Lock()
		ms.parsed = true
		ms.list = list
		ms.variants = variants
		for i, a := range list.Audio {
			if a.IsDefault {
				ms.audio = i
				break
			}
		}
		ms.mu.Unlock()

		m.logger.Debug("manifest parsed",
			slog.String("handle", h.id),
			slog.Int("qualities", len(list.Qualities)),
			slog.Int("audio", len(list.Audio)),
			slog.Int("subtitles", len(list.Subtitles)))
		m.emit(Event{Type: EventTrackListChanged, Handle: h, Tracks: list})
	}

	select {
	case <-ms.restart:
	default:
	}

	ms.mu.Lock()
	level := ms.level
	uri := h.url
	if level >= 0 && level < len(ms.variants) {
		uri = ms.variants[level]
	}
	ms.mu.Unlock()

	client := &gohlslib.Client{
		URI:        uri,
		HTTPClient: m.opts.Client.StandardClient(),
	}
	client.OnTracks = func(found []*gohlslib.Track) error {
		m.registerTracks(h, ms, client, found)
		return nil
	}
	if err := client.Start(); err != nil {
		return fmt.Errorf("starting playlist loader: %w", err)
	}
	m.emit(Event{Type: EventQualityChanged, Handle: h, Quality: level})

	done := make(chan error, 1)
	go func() {
		done <- client.Wait2()
	}()

	select {
	case err := <-done:
		if errors.Is(err, gohlslib.ErrClientEOS) {
			return nil
		}
		return err
	case <-ctx.Done():
		client.Close()
		<-done
		return ctx.Err()
	case <-ms.restart:
		client.Close()
		<-done
		m.logger.Debug("restarting manifest loader",
			slog.String("handle", h.id),
			slog.Int("level", level))
		return errRestart
	}
}

func (m *Manifest) registerTracks(h *Handle, ms *manifestSession, client *gohlslib.Client, found []*gohlslib.Track) {
	hasVideo := false
	for _, track := range found {
		switch track.Codec.(type) {
		case *codecs.H264, *codecs.H265:
			hasVideo = true
		}
	}

	// delivered is per loader; the first frame after a reload clears the
	// network retry budget.
	delivered := false
	push := func(f sink.Frame) {
		if !h.Live() {
			return
		}
		ms.mu.Lock()
		first := false
		if !ms.ready {
			if (f.Video && !f.Keyframe) || (!f.Video && hasVideo) {
				ms.mu.Unlock()
				return
			}
			ms.ready = true
			first = true
		}
		if !delivered {
			delivered = true
			ms.networkRetries = 0
		}
		ms.mu.Unlock()

		if first {
			m.emit(Event{Type: EventReady, Handle: h})
		}
		h.sink.PushFrame(f)
	}

	for _, track := range found {
		switch track.Codec.(type) {
		case *codecs.H264:
			client.OnDataH26x(track, func(pts, dts int64, au [][]byte) {
				push(sink.Frame{Video: true, Codec: "h264", PTS: pts, DTS: dts, Keyframe: h264.IsRandomAccess(au), Data: au})
			})
		case *codecs.H265:
			client.OnDataH26x(track, func(pts, dts int64, au [][]byte) {
				push(sink.Frame{Video: true, Codec: "h265", PTS: pts, DTS: dts, Keyframe: h265.IsRandomAccess(au), Data: au})
			})
		case *codecs.MPEG4Audio:
			client.OnDataMPEG4Audio(track, func(pts int64, aus [][]byte) {
				push(sink.Frame{Codec: "aac", PTS: pts, DTS: pts, Data: aus})
			})
		default:
			m.logger.Debug("ignoring unsupported manifest track",
				slog.String("handle", h.id),
				slog.String("codec", fmt.Sprintf("%T", track.Codec)))
		}
	}
}

// parseMaster fetches the top-level playlist and builds the track list. A
// media playlist yields a single level and no renditions.
func (m *Manifest) parseMaster(ctx context.Context, masterURL string) (TrackList, []string, error) {
	data, err := m.fetchPlaylist(ctx, masterURL)
	if err != nil {
		return TrackList{}, nil, err
	}

	pl, err := playlist.Unmarshal(data)
	if err != nil {
		return TrackList{}, nil, fmt.Errorf("%w: %v", ErrManifest, err)
	}

	switch p := pl.(type) {
	case *playlist.Multivariant:
		list, variants := fromMultivariant(masterURL, p)
		return list, variants, nil
	case *playlist.Media:
		return TrackList{
			Qualities: tracks.NormalizeQualities([]tracks.RawQuality{{ID: "0", Default: true}}),
		}, []string{masterURL}, nil
	default:
		return TrackList{}, nil, fmt.Errorf("%w: unexpected playlist type %T", ErrManifest, pl)
	}
}

func (m *Manifest) fetchPlaylist(ctx context.Context, url string) ([]byte, error) {
	resp, err := m.opts.Client.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &httpclient.StatusError{Code: resp.StatusCode, URL: url}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPlaylistSize))
	if err != nil {
		return nil, fmt.Errorf("reading playlist: %w", err)
	}
	return data, nil
}

// fromMultivariant maps variants to quality levels and renditions to audio
// and subtitle tracks. Variant URIs are made absolute against masterURL.
func fromMultivariant(masterURL string, mv *playlist.Multivariant) (TrackList, []string) {
	rawQ := make([]tracks.RawQuality, 0, len(mv.Variants))
	variants := make([]string, 0, len(mv.Variants))
	for i, v := range mv.Variants {
		rawQ = append(rawQ, tracks.RawQuality{
			ID:      strconv.Itoa(i),
			Height:  resolutionHeight(v.Resolution),
			Bitrate: v.Bandwidth,
			Default: i == 0,
		})
		abs, err := urlutil.Resolve(masterURL, v.URI)
		if err != nil {
			abs = v.URI
		}
		variants = append(variants, abs)
	}

	var rawAudio, rawSubs []tracks.RawTrack
	for _, r := range mv.Renditions {
		raw := tracks.RawTrack{
			ID:       r.GroupID + "/" + r.Name,
			Name:     r.Name,
			Language: r.Language,
			Default:  r.Default,
		}
		switch r.Type {
		case playlist.MultivariantRenditionTypeAudio:
			rawAudio = append(rawAudio, raw)
		case playlist.MultivariantRenditionTypeSubtitles:
			rawSubs = append(rawSubs, raw)
		}
	}

	return TrackList{
		Qualities: tracks.NormalizeQualities(rawQ),
		Audio:     tracks.NormalizeTracks(rawAudio),
		Subtitles: tracks.NormalizeTracks(rawSubs),
	}, variants
}

// resolutionHeight extracts H from a "WxH" RESOLUTION attribute.
func resolutionHeight(res string) int {
	_, h, ok := strings.Cut(res, "x")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(h)
	if err != nil {
		return 0
	}
	return n
}

// classifyManifestError maps loader errors onto adapter error kinds. The
// playlist loader reports HTTP failures as plain errors, so status failures
// are recognized by message as well.
func classifyManifestError(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrManifest):
		return ErrorOther
	case isNetworkFailure(err):
		return ErrorNetwork
	case strings.Contains(strings.ToLower(err.Error()), "status code"):
		return ErrorNetwork
	default:
		return ErrorDecode
	}
}

func (m *Manifest) emit(e Event) {
	if m.listener != nil && e.Handle.Live() {
		m.listener(e)
	}
}

var (
	_ Adapter       = (*Manifest)(nil)
	_ TrackSwitcher = (*Manifest)(nil)
)
