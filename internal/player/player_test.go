package player

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jmylchreest/tvarr-player/internal/adapter"
	"github.com/jmylchreest/tvarr-player/internal/models"
	"github.com/jmylchreest/tvarr-player/internal/sink"
	"github.com/jmylchreest/tvarr-player/internal/stream"
	"github.com/jmylchreest/tvarr-player/internal/tracks"
)

const movieURL = "http://cdn.example/vod/movie.mp4"

var errFatal = errors.New("media element failed")

func TestPlayer_LoadReadyPlayPause(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.player.Load(ctx, desc(movieURL)))
	assert.Equal(t, StateInitializing, f.player.State())
	assert.True(t, f.player.Snapshot().Loading)
	assert.Equal(t, movieURL, f.sink.Source())

	f.emit(sink.Event{Type: sink.EventCanPlay})
	assert.Equal(t, StateReady, f.player.State())

	require.NoError(t, f.player.Play(ctx))
	assert.Equal(t, StatePlaying, f.player.State())
	assert.True(t, f.sink.Playing())

	require.NoError(t, f.player.Pause())
	assert.Equal(t, StatePaused, f.player.State())

	require.NoError(t, f.player.Toggle(ctx))
	assert.Equal(t, StatePlaying, f.player.State())
	require.NoError(t, f.player.Toggle(ctx))
	assert.Equal(t, StatePaused, f.player.State())

	require.NoError(t, f.player.Seek(42*time.Second))
	assert.Contains(t, f.sink.Calls(), "Seek:42s")

	info := f.sessionInfo(t)
	assert.Equal(t, stream.ProgressiveFile, info.Kind)
	assert.Equal(t, 42*time.Second, info.Position)
	assert.NotEmpty(t, info.HandleID)
}

func TestPlayer_Autoplay(t *testing.T) {
	f := newFixture(t, withAutoplay())

	require.NoError(t, f.player.Load(context.Background(), desc(movieURL)))
	f.emit(sink.Event{Type: sink.EventCanPlay})

	assert.Equal(t, StatePlaying, f.player.State())
	assert.True(t, f.sink.Playing())
}

func TestPlayer_AmbiguousURLPlaysNatively(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.player.Load(context.Background(), desc("http://cdn.example/watch?v=17")))
	info := f.sessionInfo(t)
	assert.True(t, info.Ambiguous)
	assert.Equal(t, stream.NativeFallback, info.AdapterKind)
	assert.Equal(t, StateInitializing, f.player.State())
}

func TestPlayer_InvalidDescriptor(t *testing.T) {
	f := newFixture(t)

	err := f.player.Load(context.Background(), desc(""))
	assert.True(t, IsKind(err, KindInvalidState))
	assert.Equal(t, StateIdle, f.player.State())
}

func TestPlayer_TeardownOrder(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		end   func(t *testing.T, f *fixture)
		state State
		live  int
	}{
		{
			name: "descriptor change",
			end: func(t *testing.T, f *fixture) {
				require.NoError(t, f.player.Load(ctx, desc("http://cdn.example/vod/other.mp4")))
			},
			state: StateInitializing,
			live:  1,
		},
		{
			name: "stop",
			end: func(t *testing.T, f *fixture) {
				require.NoError(t, f.player.Stop())
			},
			state: StateIdle,
		},
		{
			name: "fatal error",
			end: func(t *testing.T, f *fixture) {
				f.emit(sink.Event{Type: sink.EventError, Class: sink.ErrorOther, Err: errFatal})
			},
			state: StateError,
		},
		{
			name: "destroy",
			end: func(t *testing.T, f *fixture) {
				f.player.Destroy()
			},
			state: StateDestroyed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			require.NoError(t, f.player.Load(ctx, desc(movieURL)))
			f.emit(sink.Event{Type: sink.EventCanPlay})
			f.sink.ResetCalls()
			oldHandle := f.player.HandleID()
			require.NotEmpty(t, oldHandle)

			tt.end(t, f)

			calls := f.sink.Calls()
			clearAt := indexOf(calls, "ClearSource")
			releaseAt := indexOf(calls, "Release")
			require.GreaterOrEqual(t, clearAt, 0, "calls: %v", calls)
			require.Greater(t, releaseAt, clearAt, "calls: %v", calls)
			assert.Equal(t, tt.state, f.player.State())
			assert.Equal(t, tt.live, f.tracker.liveCount())

			log := f.tracker.log()
			detachedAt := indexOf(log, "detach:embedded:"+oldHandle)
			require.GreaterOrEqual(t, detachedAt, 0, "tracker: %v", log)
			if tt.live > 0 {
				newHandle := f.player.HandleID()
				require.NotEqual(t, oldHandle, newHandle)
				assert.Greater(t, indexOf(log, "attach:embedded:"+newHandle), detachedAt, "tracker: %v", log)
			}
		})
	}
}

func TestPlayer_DescriptorChangeStartsFreshSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.player.Load(ctx, desc(movieURL)))
	first := f.sessionInfo(t)

	require.NoError(t, f.player.Load(ctx, desc("http://cdn.example/vod/other.mp4")))
	second := f.sessionInfo(t)

	assert.NotEqual(t, first.ID, second.ID)
	assert.NotEqual(t, first.HandleID, second.HandleID)
	assert.Equal(t, 0, second.RetryCount)
	assert.Equal(t, 1, f.tracker.liveCount())

	calls := f.sink.Calls()
	assert.Less(t, indexOf(calls, "Release"), indexOf(calls, "SetSource:http://cdn.example/vod/other.mp4"))
}

func TestPlayer_StartupTimeoutFallsBackOnce(t *testing.T) {
	srv := stallingServer(t)
	f := newFixture(t)
	url := srv.URL + "/live/channel.ts"

	require.NoError(t, f.player.Load(context.Background(), desc(url)))
	require.Equal(t, 1, f.timers.count())
	transportHandle := f.player.HandleID()

	f.timers.last(t).fire()
	require.Eventually(t, func() bool {
		f.player.Sync()
		info := f.player.Snapshot().Session
		return info != nil && info.FellBack
	}, waitTimeout, 5*time.Millisecond)

	info := f.sessionInfo(t)
	assert.Equal(t, StateInitializing, f.player.State())
	assert.Equal(t, stream.RawTransportStream, info.Kind)
	assert.Equal(t, stream.NativeFallback, info.AdapterKind)
	assert.NotEqual(t, transportHandle, info.HandleID)
	assert.Equal(t, url, f.sink.Source())
	assert.Equal(t, 1, f.tracker.liveCount())

	// The native adapter has no startup window, and the original one was
	// stopped on detach.
	assert.Equal(t, 1, f.timers.count())
	f.timers.last(t).fire()
	f.player.Sync()

	calls := f.sink.Calls()
	n := 0
	for _, c := range calls {
		if c == "SetSource:"+url {
			n++
		}
	}
	assert.Equal(t, 1, n)
	assert.Equal(t, -1, indexOf(calls, "Release"), "fallback keeps the sink")

	f.emit(sink.Event{Type: sink.EventCanPlay})
	assert.Equal(t, StateReady, f.player.State())
}

func TestPlayer_ReadyBeforeTimeoutKeepsTransport(t *testing.T) {
	srv := transportServer(t)
	f := newFixture(t)

	require.NoError(t, f.player.Load(context.Background(), desc(srv.URL+"/live/channel.ts")))
	f.waitState(t, StateReady)

	f.timers.last(t).fire()
	f.player.Sync()

	info := f.sessionInfo(t)
	assert.False(t, info.FellBack)
	assert.Equal(t, stream.RawTransportStream, info.AdapterKind)
	assert.Equal(t, StateReady, f.player.State())
	assert.NotEmpty(t, f.sink.Frames())
}

func TestPlayer_StaleEventsIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.player.Load(ctx, desc(movieURL)))
	f.player.mu.Lock()
	oldEpoch := f.player.session.epoch
	oldHandle := f.player.session.handle
	f.player.mu.Unlock()

	require.NoError(t, f.player.Load(ctx, desc("http://cdn.example/vod/other.mp4")))

	stale := f.player.listener(oldEpoch)
	stale(adapter.Event{Type: adapter.EventReady, Handle: oldHandle})
	stale(adapter.Event{Type: adapter.EventFatalError, Handle: oldHandle, Err: errFatal})
	f.player.Sync()

	assert.Equal(t, StateInitializing, f.player.State())
	assert.Empty(t, f.player.Snapshot().LastError)

	// Current epoch but a foreign handle is stale too.
	f.player.mu.Lock()
	epoch := f.player.session.epoch
	f.player.mu.Unlock()
	f.player.listener(epoch)(adapter.Event{Type: adapter.EventFatalError, Handle: oldHandle, Err: errFatal})
	f.player.Sync()
	assert.Equal(t, StateInitializing, f.player.State())
}

func TestPlayer_Retry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.player.Retry(ctx)
	assert.True(t, IsKind(err, KindInvalidState))

	require.NoError(t, f.player.Load(ctx, desc(movieURL)))
	for want := 1; want <= 2; want++ {
		f.emit(sink.Event{Type: sink.EventError, Class: sink.ErrorOther, Err: errFatal})
		snap := f.player.Snapshot()
		require.Equal(t, StateError, snap.State)
		assert.True(t, snap.RetryAvailable)
		assert.Contains(t, snap.LastError, KindFatalAdapter.String())

		require.NoError(t, f.player.Retry(ctx))
		assert.Equal(t, StateInitializing, f.player.State())
		assert.Equal(t, want, f.sessionInfo(t).RetryCount)
		assert.Empty(t, f.player.Snapshot().LastError)
	}
}

func TestPlayer_AttachFailureEntersError(t *testing.T) {
	f := newFixture(t)
	f.sink.SetSourceErr = errFatal

	err := f.player.Load(context.Background(), desc(movieURL))
	assert.True(t, IsKind(err, KindFatalAdapter))
	assert.ErrorIs(t, err, errFatal)
	assert.Equal(t, StateError, f.player.State())
}

func TestPlayer_TrackerRejection(t *testing.T) {
	f := newFixture(t)
	f.tracker.refuse = errors.New("surface already has a live handle")

	err := f.player.Load(context.Background(), desc(movieURL))
	require.Error(t, err)
	assert.Equal(t, StateError, f.player.State())
	assert.Empty(t, f.player.HandleID())
	assert.Empty(t, f.sink.Source())
}

func TestPlayer_AudioAndSubtitleSelection(t *testing.T) {
	f := newFixture(t)
	f.sink.SetNativeTracks(
		[]sink.NativeTrack{
			{ID: "1", Label: "English", Language: "en", Default: true, Active: true},
			{ID: "2", Label: "Deutsch", Language: "de"},
		},
		[]sink.NativeTrack{{ID: "3", Label: "English CC", Language: "en"}},
	)

	require.NoError(t, f.player.Load(context.Background(), desc(movieURL)))
	f.emit(sink.Event{Type: sink.EventCanPlay})

	tr := f.sessionInfo(t).Tracks
	require.Len(t, tr.AudioTracks, 2)
	require.Len(t, tr.SubtitleTracks, 1)

	require.NoError(t, f.player.SelectAudio(1))
	assert.Contains(t, f.sink.Calls(), "EnableAudioTrack:1")

	err := f.player.SelectAudio(99)
	assert.True(t, IsKind(err, KindTrackSwitchRejected))
	assert.ErrorIs(t, err, tracks.ErrIndexOutOfRange)
	assert.Equal(t, 1, f.sessionInfo(t).Tracks.CurrentAudio)

	require.NoError(t, f.player.SelectSubtitle(0))
	require.NoError(t, f.player.SelectSubtitle(tracks.Disabled))
	assert.Equal(t, tracks.Disabled, f.sessionInfo(t).Tracks.CurrentSubtitle)

	err = f.player.SelectSubtitle(-2)
	assert.True(t, IsKind(err, KindTrackSwitchRejected))
}

func TestPlayer_QualitySelection(t *testing.T) {
	srv := manifestServer(t)
	f := newFixture(t, withRecoveryLimits(5))

	require.NoError(t, f.player.Load(context.Background(), desc(srv.URL+"/live/master.m3u8")))
	require.Eventually(t, func() bool {
		f.player.Sync()
		info := f.player.Snapshot().Session
		return info != nil && len(info.Tracks.Qualities) == 3
	}, waitTimeout, 5*time.Millisecond)

	require.NoError(t, f.player.SelectQuality(2))
	assert.Equal(t, 2, f.sessionInfo(t).Tracks.CurrentQuality)

	require.NoError(t, f.player.SelectQuality(tracks.Auto))
	tr := f.sessionInfo(t).Tracks
	assert.Equal(t, tracks.Auto, tr.CurrentQuality)
	assert.True(t, tr.AutoQuality)

	err := f.player.SelectQuality(3)
	assert.True(t, IsKind(err, KindTrackSwitchRejected))
	assert.Equal(t, tracks.Auto, f.sessionInfo(t).Tracks.CurrentQuality)
}

func TestPlayer_QualityUnsupportedOnNative(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.player.Load(context.Background(), desc(movieURL)))
	f.emit(sink.Event{Type: sink.EventCanPlay})

	// No qualities: auto is a no-op.
	require.NoError(t, f.player.SelectQuality(tracks.Auto))
	err := f.player.SelectQuality(0)
	assert.True(t, IsKind(err, KindTrackSwitchRejected))
}

func TestPlayer_Buffering(t *testing.T) {
	ctx := context.Background()

	t.Run("returns to playing", func(t *testing.T) {
		f := newFixture(t, withAutoplay())
		require.NoError(t, f.player.Load(ctx, desc(movieURL)))
		f.emit(sink.Event{Type: sink.EventCanPlay})
		require.Equal(t, StatePlaying, f.player.State())

		f.emit(sink.Event{Type: sink.EventWaiting})
		assert.Equal(t, StateBuffering, f.player.State())
		assert.True(t, f.player.Snapshot().Loading)

		f.emit(sink.Event{Type: sink.EventPlaying})
		assert.Equal(t, StatePlaying, f.player.State())
	})

	t.Run("returns to paused", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.player.Load(ctx, desc(movieURL)))
		f.emit(sink.Event{Type: sink.EventCanPlay})
		require.NoError(t, f.player.Play(ctx))
		require.NoError(t, f.player.Pause())

		f.emit(sink.Event{Type: sink.EventWaiting})
		require.Equal(t, StateBuffering, f.player.State())
		f.emit(sink.Event{Type: sink.EventPlaying})
		assert.Equal(t, StatePaused, f.player.State())
	})

	t.Run("pause while buffering", func(t *testing.T) {
		f := newFixture(t, withAutoplay())
		require.NoError(t, f.player.Load(ctx, desc(movieURL)))
		f.emit(sink.Event{Type: sink.EventCanPlay})
		f.emit(sink.Event{Type: sink.EventWaiting})

		require.NoError(t, f.player.Pause())
		assert.Equal(t, StateBuffering, f.player.State())
		f.emit(sink.Event{Type: sink.EventPlaying})
		assert.Equal(t, StatePaused, f.player.State())
	})

	t.Run("waiting before ready is ignored", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.player.Load(ctx, desc(movieURL)))
		f.emit(sink.Event{Type: sink.EventWaiting})
		assert.Equal(t, StateInitializing, f.player.State())
	})
}

func TestPlayer_InvalidState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		op   func() error
	}{
		{"play when idle", func() error { return f.player.Play(ctx) }},
		{"pause when idle", f.player.Pause},
		{"seek when idle", func() error { return f.player.Seek(time.Second) }},
		{"select audio when idle", func() error { return f.player.SelectAudio(0) }},
		{"select quality when idle", func() error { return f.player.SelectQuality(tracks.Auto) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op()
			assert.True(t, IsKind(err, KindInvalidState), "got %v", err)
			assert.Equal(t, StateIdle, f.player.State())
		})
	}

	require.NoError(t, f.player.Load(ctx, desc(movieURL)))
	err := f.player.Play(ctx)
	assert.True(t, IsKind(err, KindInvalidState), "play while initializing")
}

func TestPlayer_DestroyedRejectsEverything(t *testing.T) {
	f := newFixture(t)
	f.player.Destroy()
	f.player.Destroy()

	err := f.player.Load(context.Background(), desc(movieURL))
	assert.ErrorIs(t, err, ErrDestroyed)
	assert.ErrorIs(t, f.player.Stop(), ErrDestroyed)
	assert.Equal(t, StateDestroyed, f.player.State())
	assert.Zero(t, f.sink.Subscribers())

	f.player.Sync()
}

func TestPlayer_Subscribe(t *testing.T) {
	f := newFixture(t)

	var mu sync.Mutex
	var states []State
	cancel := f.player.Subscribe(func(s Snapshot) {
		mu.Lock()
		states = append(states, s.State)
		mu.Unlock()
		// Callbacks run outside the player lock.
		_ = f.player.State()
	})

	require.NoError(t, f.player.Load(context.Background(), desc(movieURL)))
	f.emit(sink.Event{Type: sink.EventCanPlay})
	cancel()
	require.NoError(t, f.player.Stop())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateInitializing, StateReady}, states)
}

func TestPlayer_DestroyLeaksNothing(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	fake := sink.NewFake("floating")
	p := New(Config{Surface: models.SurfaceFloating, Sink: fake})
	require.NoError(t, p.Load(context.Background(), desc(movieURL)))
	fake.Emit(sink.Event{Type: sink.EventCanPlay})
	p.Destroy()
}

func TestPlayer_LoadAtSeeksOnReady(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.player.LoadAt(context.Background(), desc(movieURL), 95*time.Second))
	assert.NotContains(t, f.sink.Calls(), "Seek:1m35s")

	f.emit(sink.Event{Type: sink.EventCanPlay})
	assert.Contains(t, f.sink.Calls(), "Seek:1m35s")
}
