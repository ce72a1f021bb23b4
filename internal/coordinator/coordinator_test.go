package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jmylchreest/tvarr-player/internal/models"
	"github.com/jmylchreest/tvarr-player/internal/player"
	"github.com/jmylchreest/tvarr-player/internal/sink"
)

const (
	newsURL   = "http://cdn.example/vod/news.mp4"
	sportsURL = "http://cdn.example/vod/sports.mp4"
)

var news = &models.Channel{ID: "7", Name: "News 24", StreamURL: newsURL}

// callLog records sink calls across surfaces in one order.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	l.calls = append(l.calls, s)
	l.mu.Unlock()
}

func (l *callLog) index(call string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, c := range l.calls {
		if c == call {
			return i
		}
	}
	return -1
}

func (l *callLog) lastIndex(call string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.calls) - 1; i >= 0; i-- {
		if l.calls[i] == call {
			return i
		}
	}
	return -1
}

// loggedSink mirrors lifecycle calls of a fake sink into a shared log.
type loggedSink struct {
	*sink.Fake
	log *callLog
}

func (s *loggedSink) SetSource(ctx context.Context, url string) error {
	s.log.add(s.ID() + ":SetSource")
	return s.Fake.SetSource(ctx, url)
}

func (s *loggedSink) ClearSource() {
	s.log.add(s.ID() + ":ClearSource")
	s.Fake.ClearSource()
}

func (s *loggedSink) Release() {
	s.log.add(s.ID() + ":Release")
	s.Fake.Release()
}

type fixture struct {
	coord    *Coordinator
	log      *callLog
	embedded *loggedSink
	floating *loggedSink
}

func newFixture(t *testing.T, resolver ChannelResolver) *fixture {
	t.Helper()
	return newFixtureWithConfig(t, Config{Autoplay: true, Resolver: resolver})
}

func newFixtureWithConfig(t *testing.T, cfg Config) *fixture {
	t.Helper()
	log := &callLog{}
	f := &fixture{
		coord:    New(cfg),
		log:      log,
		embedded: &loggedSink{Fake: sink.NewFake("embedded"), log: log},
		floating: &loggedSink{Fake: sink.NewFake("floating"), log: log},
	}
	t.Cleanup(f.coord.Close)
	return f
}

func (f *fixture) mount(t *testing.T, surfaces ...models.Surface) {
	t.Helper()
	for _, s := range surfaces {
		require.NoError(t, f.coord.Mount(context.Background(), s, f.sinkFor(s)))
	}
}

func (f *fixture) sinkFor(s models.Surface) *loggedSink {
	if s == models.SurfaceFloating {
		return f.floating
	}
	return f.embedded
}

// ready makes the surface's sink report playable media.
func (f *fixture) ready(t *testing.T, s models.Surface) {
	t.Helper()
	p, ok := f.coord.Player(s)
	require.True(t, ok)
	f.sinkFor(s).Emit(sink.Event{Type: sink.EventCanPlay})
	p.Sync()
}

func (f *fixture) handle(t *testing.T, s models.Surface) string {
	t.Helper()
	p, ok := f.coord.Player(s)
	require.True(t, ok)
	return p.HandleID()
}

func (f *fixture) state(t *testing.T, s models.Surface) player.State {
	t.Helper()
	p, ok := f.coord.Player(s)
	require.True(t, ok)
	return p.State()
}

func TestCoordinator_PlayMaterializesOnOwner(t *testing.T) {
	f := newFixture(t, nil)
	f.mount(t, models.SurfaceEmbedded, models.SurfaceFloating)
	ctx := context.Background()

	require.NoError(t, f.coord.Play(ctx, news, newsURL, models.SurfaceEmbedded))
	f.ready(t, models.SurfaceEmbedded)

	st := f.coord.State()
	require.NotNil(t, st.Channel)
	assert.Equal(t, "7", st.Channel.ID)
	assert.Equal(t, newsURL, st.StreamURL)
	assert.True(t, st.IsPlaying)
	assert.Equal(t, models.SurfaceEmbedded, st.ActiveSurface)

	assert.Equal(t, player.StatePlaying, f.state(t, models.SurfaceEmbedded))
	assert.Equal(t, player.StateIdle, f.state(t, models.SurfaceFloating))
	assert.NotEmpty(t, f.handle(t, models.SurfaceEmbedded))
	assert.Equal(t, 1, f.coord.Ledger().Count())
	assert.NoError(t, f.coord.CheckInvariants())
}

func TestCoordinator_MinimizeExpand(t *testing.T) {
	f := newFixture(t, nil)
	f.mount(t, models.SurfaceEmbedded, models.SurfaceFloating)
	ctx := context.Background()

	require.NoError(t, f.coord.Play(ctx, news, newsURL, models.SurfaceEmbedded))
	f.ready(t, models.SurfaceEmbedded)
	before := f.coord.State()
	embeddedHandle := f.handle(t, models.SurfaceEmbedded)

	require.NoError(t, f.coord.Minimize(ctx))
	require.NoError(t, f.coord.CheckInvariants())
	assert.Equal(t, 1, f.coord.Ledger().Count())

	// The embedded adapter is fully detached and its sink released before
	// the floating sink receives a source.
	clearAt := f.log.lastIndex("embedded:ClearSource")
	releaseAt := f.log.lastIndex("embedded:Release")
	attachAt := f.log.index("floating:SetSource")
	require.GreaterOrEqual(t, clearAt, 0)
	assert.Less(t, clearAt, releaseAt)
	assert.Less(t, releaseAt, attachAt)

	floatingHandle := f.handle(t, models.SurfaceFloating)
	assert.NotEmpty(t, floatingHandle)
	assert.NotEqual(t, embeddedHandle, floatingHandle)
	assert.Empty(t, f.handle(t, models.SurfaceEmbedded))
	assert.Equal(t, player.StateIdle, f.state(t, models.SurfaceEmbedded))

	require.NoError(t, f.coord.Expand(ctx))
	require.NoError(t, f.coord.CheckInvariants())
	after := f.coord.State()
	assert.Equal(t, models.SurfaceEmbedded, after.ActiveSurface)
	assert.Equal(t, before.StreamURL, after.StreamURL)
	assert.Equal(t, before.IsPlaying, after.IsPlaying)
	assert.Equal(t, before.Channel, after.Channel)

	final := f.handle(t, models.SurfaceEmbedded)
	assert.NotEmpty(t, final)
	assert.NotEqual(t, embeddedHandle, final)
	assert.Empty(t, f.handle(t, models.SurfaceFloating))

	f.ready(t, models.SurfaceEmbedded)
	assert.Equal(t, player.StatePlaying, f.state(t, models.SurfaceEmbedded))
}

func TestCoordinator_RapidHandoversNeverOverlap(t *testing.T) {
	f := newFixture(t, nil)
	f.mount(t, models.SurfaceEmbedded, models.SurfaceFloating)
	ctx := context.Background()
	require.NoError(t, f.coord.Play(ctx, news, newsURL, models.SurfaceEmbedded))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				assert.NoError(t, f.coord.Minimize(ctx))
			} else {
				assert.NoError(t, f.coord.Expand(ctx))
			}
			assert.NoError(t, f.coord.CheckInvariants())
			assert.LessOrEqual(t, f.coord.Ledger().Count(), 1)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, f.coord.Ledger().Count())
	active := f.coord.State().ActiveSurface
	assert.NotEmpty(t, f.handle(t, active))
	assert.Empty(t, f.handle(t, active.Other()))
}

func TestCoordinator_MinimizeToUnmountedSurface(t *testing.T) {
	f := newFixture(t, nil)
	f.mount(t, models.SurfaceEmbedded)
	ctx := context.Background()

	require.NoError(t, f.coord.Play(ctx, news, newsURL, models.SurfaceEmbedded))
	require.NoError(t, f.coord.Minimize(ctx))

	st := f.coord.State()
	assert.Equal(t, models.SurfaceFloating, st.ActiveSurface)
	assert.Equal(t, 0, f.coord.Ledger().Count())

	f.mount(t, models.SurfaceFloating)
	assert.NotEmpty(t, f.handle(t, models.SurfaceFloating))
	assert.Equal(t, newsURL, f.floating.Source())
	assert.NoError(t, f.coord.CheckInvariants())
}

func TestCoordinator_UnmountOwnerTransfers(t *testing.T) {
	f := newFixture(t, nil)
	f.mount(t, models.SurfaceEmbedded, models.SurfaceFloating)
	ctx := context.Background()

	require.NoError(t, f.coord.Play(ctx, news, newsURL, models.SurfaceEmbedded))
	require.NoError(t, f.coord.Unmount(ctx, models.SurfaceEmbedded))

	_, mounted := f.coord.Player(models.SurfaceEmbedded)
	assert.False(t, mounted)
	assert.Less(t, f.log.lastIndex("embedded:Release"), f.log.index("floating:SetSource"))

	st := f.coord.State()
	assert.Equal(t, models.SurfaceFloating, st.ActiveSurface)
	assert.True(t, st.IsPlaying)
	assert.NotEmpty(t, f.handle(t, models.SurfaceFloating))
	assert.NoError(t, f.coord.CheckInvariants())
}

func TestCoordinator_UnmountNonOwnerKeepsSession(t *testing.T) {
	f := newFixture(t, nil)
	f.mount(t, models.SurfaceEmbedded, models.SurfaceFloating)
	ctx := context.Background()

	require.NoError(t, f.coord.Play(ctx, news, newsURL, models.SurfaceEmbedded))
	handle := f.handle(t, models.SurfaceEmbedded)

	require.NoError(t, f.coord.Unmount(ctx, models.SurfaceFloating))
	assert.Equal(t, handle, f.handle(t, models.SurfaceEmbedded))
	assert.Equal(t, models.SurfaceEmbedded, f.coord.State().ActiveSurface)
}

func TestCoordinator_PlayOnOtherSurfaceStopsOwner(t *testing.T) {
	f := newFixture(t, nil)
	f.mount(t, models.SurfaceEmbedded, models.SurfaceFloating)
	ctx := context.Background()

	require.NoError(t, f.coord.Play(ctx, news, newsURL, models.SurfaceEmbedded))
	require.NoError(t, f.coord.Play(ctx, nil, sportsURL, models.SurfaceFloating))

	assert.Equal(t, player.StateIdle, f.state(t, models.SurfaceEmbedded))
	assert.Equal(t, sportsURL, f.floating.Source())
	assert.Nil(t, f.coord.State().Channel)
	assert.Equal(t, 1, f.coord.Ledger().Count())
	assert.NoError(t, f.coord.CheckInvariants())
}

func TestCoordinator_PauseResume(t *testing.T) {
	f := newFixture(t, nil)
	f.mount(t, models.SurfaceEmbedded, models.SurfaceFloating)
	ctx := context.Background()

	require.NoError(t, f.coord.Play(ctx, news, newsURL, models.SurfaceEmbedded))
	f.ready(t, models.SurfaceEmbedded)

	require.NoError(t, f.coord.Pause(ctx))
	assert.False(t, f.coord.State().IsPlaying)
	assert.Equal(t, player.StatePaused, f.state(t, models.SurfaceEmbedded))

	// A paused intent stays paused across a handover.
	require.NoError(t, f.coord.Minimize(ctx))
	f.ready(t, models.SurfaceFloating)
	assert.Equal(t, player.StateReady, f.state(t, models.SurfaceFloating))

	require.NoError(t, f.coord.Resume(ctx))
	assert.True(t, f.coord.State().IsPlaying)
	assert.Equal(t, player.StatePlaying, f.state(t, models.SurfaceFloating))
}

func TestCoordinator_PauseWithoutAutoplay(t *testing.T) {
	f := newFixtureWithConfig(t, Config{})
	f.mount(t, models.SurfaceEmbedded)
	ctx := context.Background()

	require.NoError(t, f.coord.Play(ctx, news, newsURL, models.SurfaceEmbedded))
	f.ready(t, models.SurfaceEmbedded)
	require.Equal(t, player.StateReady, f.state(t, models.SurfaceEmbedded))

	require.NoError(t, f.coord.Pause(ctx))
	assert.False(t, f.coord.State().IsPlaying)
	assert.Equal(t, player.StateReady, f.state(t, models.SurfaceEmbedded))

	require.NoError(t, f.coord.Resume(ctx))
	assert.True(t, f.coord.State().IsPlaying)
	assert.Equal(t, player.StatePlaying, f.state(t, models.SurfaceEmbedded))
}

func TestCoordinator_Stop(t *testing.T) {
	f := newFixture(t, nil)
	f.mount(t, models.SurfaceEmbedded, models.SurfaceFloating)
	ctx := context.Background()

	require.NoError(t, f.coord.Play(ctx, news, newsURL, models.SurfaceEmbedded))
	require.NoError(t, f.coord.Stop(ctx))

	assert.Equal(t, GlobalState{}, f.coord.State())
	assert.Equal(t, 0, f.coord.Ledger().Count())
	assert.Equal(t, player.StateIdle, f.state(t, models.SurfaceEmbedded))
	assert.Less(t, f.log.lastIndex("embedded:ClearSource"), f.log.lastIndex("embedded:Release"))

	assert.ErrorIs(t, f.coord.Minimize(ctx), ErrNothingPlaying)
	assert.ErrorIs(t, f.coord.Pause(ctx), ErrNothingPlaying)
}

func TestCoordinator_MountErrors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.mount(t, models.SurfaceEmbedded)

	assert.ErrorIs(t, f.coord.Mount(ctx, models.SurfaceEmbedded, f.embedded), ErrAlreadyMounted)
	assert.ErrorIs(t, f.coord.Unmount(ctx, models.SurfaceFloating), ErrNotMounted)
	assert.ErrorIs(t, f.coord.Mount(ctx, models.Surface("sidebar"), f.floating), models.ErrInvalidSurface)
	assert.Error(t, f.coord.Play(ctx, nil, "", models.SurfaceEmbedded))

	f.coord.Close()
	assert.ErrorIs(t, f.coord.Stop(ctx), ErrClosed)
}

type stubResolver struct {
	channels map[string]models.Channel
}

func (r stubResolver) Resolve(_ context.Context, id string) (models.Channel, models.StreamDescriptor, error) {
	ch, ok := r.channels[id]
	if !ok {
		return models.Channel{}, models.StreamDescriptor{}, fmt.Errorf("channel %s: %w", id, errors.New("404 from channel service"))
	}
	return ch, models.StreamDescriptor{URL: ch.PlaybackURL()}, nil
}

func TestCoordinator_PlayChannel(t *testing.T) {
	resolver := stubResolver{channels: map[string]models.Channel{
		"7": {ID: "7", Name: "News 24", StreamURL: newsURL, ProxyURL: "http://tvarr.local/api/stream/7"},
	}}
	f := newFixture(t, resolver)
	f.mount(t, models.SurfaceEmbedded)
	ctx := context.Background()

	require.NoError(t, f.coord.PlayChannel(ctx, "7", models.SurfaceEmbedded))
	st := f.coord.State()
	assert.Equal(t, "http://tvarr.local/api/stream/7", st.StreamURL)
	assert.Equal(t, "News 24", st.Channel.Name)

	err := f.coord.PlayChannel(ctx, "99", models.SurfaceEmbedded)
	assert.True(t, player.IsKind(err, player.KindExternalService))
	assert.Equal(t, "http://tvarr.local/api/stream/7", f.coord.State().StreamURL, "failed lookup keeps the intent")

	noResolver := newFixture(t, nil)
	err = noResolver.coord.PlayChannel(ctx, "7", models.SurfaceEmbedded)
	assert.True(t, player.IsKind(err, player.KindExternalService))
}

func TestCoordinator_Subscribe(t *testing.T) {
	f := newFixture(t, nil)
	var mu sync.Mutex
	var events []Event
	cancel := f.coord.Subscribe(func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})
	ctx := context.Background()

	f.mount(t, models.SurfaceEmbedded)
	require.NoError(t, f.coord.Play(ctx, news, newsURL, models.SurfaceEmbedded))
	require.NoError(t, f.coord.Minimize(ctx))
	assert.Error(t, f.coord.Mount(ctx, models.SurfaceEmbedded, f.embedded))
	cancel()
	require.NoError(t, f.coord.Stop(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 3)
	assert.Equal(t, EventMounted, events[0].Type)
	assert.Equal(t, EventPlay, events[1].Type)
	assert.Equal(t, EventHandover, events[2].Type)
	assert.Equal(t, models.SurfaceFloating, events[2].State.ActiveSurface)
	assert.False(t, events[1].ID.IsZero())
	assert.NotEqual(t, events[1].ID, events[2].ID)
}

func TestCoordinator_Snapshot(t *testing.T) {
	f := newFixture(t, nil)
	f.mount(t, models.SurfaceEmbedded, models.SurfaceFloating)
	require.NoError(t, f.coord.Play(context.Background(), news, newsURL, models.SurfaceEmbedded))

	snap := f.coord.Snapshot()
	assert.Len(t, snap.Players, 2)
	assert.Equal(t, player.StateInitializing, snap.Players[models.SurfaceEmbedded].State)
	assert.Len(t, snap.LiveHandles, 1)
	assert.Contains(t, snap.LiveHandles, models.SurfaceEmbedded)
}

func TestCoordinator_CloseLeaksNothing(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	coord := New(Config{Autoplay: true})
	ctx := context.Background()
	require.NoError(t, coord.Mount(ctx, models.SurfaceEmbedded, sink.NewFake("embedded")))
	require.NoError(t, coord.Mount(ctx, models.SurfaceFloating, sink.NewFake("floating")))
	require.NoError(t, coord.Play(ctx, news, newsURL, models.SurfaceEmbedded))
	require.NoError(t, coord.Minimize(ctx))
	coord.Close()
}
