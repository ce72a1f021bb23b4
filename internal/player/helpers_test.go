package player

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/tvarr-player/internal/adapter"
	"github.com/jmylchreest/tvarr-player/internal/models"
	"github.com/jmylchreest/tvarr-player/internal/sink"
	"github.com/jmylchreest/tvarr-player/internal/testutil"
	"github.com/jmylchreest/tvarr-player/pkg/httpclient"
)

const waitTimeout = 5 * time.Second

// manualTimers hands startup windows to the test.
type manualTimers struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	fn      func()
	mu      sync.Mutex
	stopped bool
}

func (m *manualTimers) AfterFunc(_ time.Duration, fn func()) adapter.Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{fn: fn}
	m.timers = append(m.timers, t)
	return t
}

func (m *manualTimers) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

func (m *manualTimers) last(t *testing.T) *manualTimer {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.timers)
	return m.timers[len(m.timers)-1]
}

func (t *manualTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (t *manualTimer) fire() {
	t.mu.Lock()
	stopped := t.stopped
	t.mu.Unlock()
	if !stopped {
		t.fn()
	}
}

// recordingTracker records handle attach/detach calls.
type recordingTracker struct {
	mu     sync.Mutex
	events []string
	live   map[string]bool
	refuse error
}

func newRecordingTracker() *recordingTracker {
	return &recordingTracker{live: make(map[string]bool)}
}

func (r *recordingTracker) HandleAttached(s models.Surface, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refuse != nil {
		return r.refuse
	}
	r.events = append(r.events, "attach:"+string(s)+":"+id)
	r.live[id] = true
	return nil
}

func (r *recordingTracker) HandleDetached(s models.Surface, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "detach:"+string(s)+":"+id)
	delete(r.live, id)
}

func (r *recordingTracker) log() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recordingTracker) liveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

type fixture struct {
	player  *Player
	sink    *sink.Fake
	timers  *manualTimers
	tracker *recordingTracker
}

type fixtureOption func(*Config)

func withAutoplay() fixtureOption {
	return func(c *Config) { c.Autoplay = true }
}

// withRecoveryLimits lets a real manifest loader ride out transient errors.
func withRecoveryLimits(n int) fixtureOption {
	return func(c *Config) {
		opts := c.Factory.Options()
		opts.NetworkRetryLimit = n
		opts.DecodeRecoveryLimit = n
		c.Factory = adapter.NewFactory(opts)
	}
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	timers := &manualTimers{}
	tracker := newRecordingTracker()
	fake := sink.NewFake("embedded")

	clientCfg := httpclient.DefaultConfig()
	clientCfg.RetryAttempts = 0
	clientCfg.CircuitThreshold = 1000

	cfg := Config{
		Surface: models.SurfaceEmbedded,
		Sink:    fake,
		Factory: adapter.NewFactory(adapter.Options{
			Client:              httpclient.New(clientCfg),
			StartupTimeout:      time.Hour,
			NetworkRetryDelay:   time.Millisecond,
			DecodeRecoveryLimit: 1,
			AfterFunc:           timers.AfterFunc,
		}),
		Tracker: tracker,
	}
	for _, o := range opts {
		o(&cfg)
	}

	p := New(cfg)
	t.Cleanup(p.Destroy)
	return &fixture{player: p, sink: fake, timers: timers, tracker: tracker}
}

// emit raises a sink event and waits for the player to apply it.
func (f *fixture) emit(e sink.Event) {
	f.sink.Emit(e)
	f.player.Sync()
}

func (f *fixture) waitState(t *testing.T, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		f.player.Sync()
		return f.player.State() == want
	}, waitTimeout, 5*time.Millisecond, "want state %s, have %s", want, f.player.State())
}

func (f *fixture) sessionInfo(t *testing.T) *SessionInfo {
	t.Helper()
	snap := f.player.Snapshot()
	require.NotNil(t, snap.Session)
	return snap.Session
}

func desc(url string) models.StreamDescriptor {
	return models.StreamDescriptor{URL: url}
}

// indexOf returns the position of call in calls, or -1.
func indexOf(calls []string, call string) int {
	for i, c := range calls {
		if c == call {
			return i
		}
	}
	return -1
}

// stallingServer accepts transport-stream requests and never sends media.
func stallingServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp2t")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func transportServer(t *testing.T) *httptest.Server {
	t.Helper()
	data, err := testutil.TransportStream(testutil.TSOptions{Video: true, Audio: true, Frames: 30, KeyframeEvery: 10})
	require.NoError(t, err)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "video/mp2t")
		w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func manifestServer(t *testing.T) *httptest.Server {
	t.Helper()
	segment, err := testutil.TransportStream(testutil.TSOptions{Video: true, Audio: true, Frames: 30})
	require.NoError(t, err)
	master := testutil.MultivariantPlaylist(
		[]testutil.Variant{
			{Bandwidth: 800_000, Width: 640, Height: 360, URI: "v0/index.m3u8"},
			{Bandwidth: 1_500_000, Width: 1280, Height: 720, URI: "v1/index.m3u8"},
			{Bandwidth: 4_000_000, Width: 1920, Height: 1080, URI: "v2/index.m3u8"},
		},
		[]testutil.Rendition{
			{Type: "AUDIO", GroupID: "aud", Name: "English", Language: "en", Default: true},
			{Type: "AUDIO", GroupID: "aud", Name: "Deutsch", Language: "de"},
		},
	)
	media := testutil.MediaPlaylist([]string{"seg0.ts", "seg1.ts"}, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/live/master.m3u8":
			w.Write([]byte(master))
		case strings.HasSuffix(r.URL.Path, "/index.m3u8"):
			w.Write([]byte(media))
		case strings.HasSuffix(r.URL.Path, ".ts"):
			w.Write(segment)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}
