package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/tvarr-player/internal/sink"
	"github.com/jmylchreest/tvarr-player/internal/stream"
	"github.com/jmylchreest/tvarr-player/internal/urlutil"
)

func TestNative_AttachResolvesAgainstBaseURL(t *testing.T) {
	rec := newRecorder()
	opts := testOptions(nil)
	opts.BaseURL = "http://tvarr:8080/"

	fake := sink.NewFake("embedded")
	a := NewNative("/api/stream/9", opts, rec.listen)

	h, err := a.Attach(context.Background(), fake)
	require.NoError(t, err)
	defer a.Detach(h)

	assert.Equal(t, "http://tvarr:8080/api/stream/9", fake.Source())
	assert.Equal(t, "http://tvarr:8080/api/stream/9", h.URL())
	assert.Equal(t, stream.NativeFallback, h.Kind())
	assert.True(t, h.Live())
	assert.NotEmpty(t, h.ID())
}

func TestNative_AttachRelativeWithoutBase(t *testing.T) {
	a := NewNative("/api/stream/9", testOptions(nil), nil)
	_, err := a.Attach(context.Background(), sink.NewFake("embedded"))
	assert.ErrorIs(t, err, urlutil.ErrNotAbsolute)
}

func TestNative_AttachSetSourceFailure(t *testing.T) {
	fake := sink.NewFake("embedded")
	fake.SetSourceErr = errors.New("unsupported")

	a := NewNative("http://host/live.mp4", testOptions(nil), nil)
	h, err := a.Attach(context.Background(), fake)
	require.Error(t, err)
	assert.Nil(t, h)
	assert.Equal(t, 0, fake.Subscribers())
	assert.Equal(t, []string{"SetSource:http://host/live.mp4", "ClearSource"}, fake.Calls())
}

func TestNative_ReadyOnce(t *testing.T) {
	rec := newRecorder()
	fake := sink.NewFake("embedded")
	fake.SetNativeTracks([]sink.NativeTrack{{ID: "1", Language: "en", Default: true}}, nil)

	a := NewProgressive("http://host/movie.mp4", testOptions(nil), rec.listen)
	h, err := a.Attach(context.Background(), fake)
	require.NoError(t, err)
	defer a.Detach(h)

	fake.Emit(sink.Event{Type: sink.EventCanPlay})
	fake.Emit(sink.Event{Type: sink.EventCanPlay})

	ready := rec.waitFor(t, EventReady, 1)
	assert.Same(t, h, ready.Handle)
	require.Len(t, ready.Tracks.Audio, 1)
	assert.Equal(t, "English", ready.Tracks.Audio[0].Label)
	assert.Equal(t, 1, rec.count(EventReady))
	assert.Equal(t, stream.ProgressiveFile, a.Kind())
}

func TestNative_TracksChanged(t *testing.T) {
	rec := newRecorder()
	fake := sink.NewFake("embedded")
	a := NewNative("http://host/live", testOptions(nil), rec.listen)
	h, err := a.Attach(context.Background(), fake)
	require.NoError(t, err)
	defer a.Detach(h)

	fake.SetNativeTracks(nil, []sink.NativeTrack{{ID: "s1", Language: "fr"}})
	fake.Emit(sink.Event{Type: sink.EventTracksChanged})

	e := rec.waitFor(t, EventTrackListChanged, 1)
	require.Len(t, e.Tracks.Subtitles, 1)
	assert.Equal(t, "fr", e.Tracks.Subtitles[0].Language)
}

func TestNative_NetworkErrorRetriesThenFatal(t *testing.T) {
	rec := newRecorder()
	opts := testOptions(nil)
	opts.NetworkRetryLimit = 1

	fake := sink.NewFake("embedded")
	a := NewNative("http://host/live", opts, rec.listen)
	h, err := a.Attach(context.Background(), fake)
	require.NoError(t, err)
	defer a.Detach(h)

	fake.Emit(sink.Event{Type: sink.EventError, Class: sink.ErrorNetwork, Err: errors.New("reset")})
	e := rec.waitFor(t, EventRecoverableError, 1)
	assert.Equal(t, ErrorNetwork, e.ErrorKind)

	require.Eventually(t, func() bool {
		n := 0
		for _, c := range fake.Calls() {
			if c == "SetSource:http://host/live" {
				n++
			}
		}
		return n == 2
	}, waitTimeout, 5*time.Millisecond)

	fake.Emit(sink.Event{Type: sink.EventError, Class: sink.ErrorNetwork, Err: errors.New("reset")})
	fatal := rec.waitFor(t, EventFatalError, 1)
	assert.Equal(t, ErrorNetwork, fatal.ErrorKind)
}

func TestNative_DecodeErrorRecoversOnce(t *testing.T) {
	rec := newRecorder()
	fake := sink.NewFake("embedded")
	a := NewNative("http://host/live", testOptions(nil), rec.listen)
	h, err := a.Attach(context.Background(), fake)
	require.NoError(t, err)
	defer a.Detach(h)

	require.NoError(t, fake.Seek(42*time.Second))
	fake.ResetCalls()

	fake.Emit(sink.Event{Type: sink.EventError, Class: sink.ErrorDecode})
	e := rec.waitFor(t, EventRecoverableError, 1)
	assert.Equal(t, ErrorDecode, e.ErrorKind)

	require.Eventually(t, func() bool {
		calls := fake.Calls()
		return len(calls) == 2 && calls[0] == "SetSource:http://host/live" && calls[1] == "Seek:42s"
	}, waitTimeout, 5*time.Millisecond)
	assert.False(t, fake.Playing())

	fake.Emit(sink.Event{Type: sink.EventError, Class: sink.ErrorDecode})
	fatal := rec.waitFor(t, EventFatalError, 1)
	assert.Equal(t, ErrorDecode, fatal.ErrorKind)
}

func TestNative_ReloadRestoresPlayback(t *testing.T) {
	tests := []struct {
		name  string
		class sink.ErrorClass
		kind  ErrorKind
	}{
		{"network error", sink.ErrorNetwork, ErrorNetwork},
		{"decode error", sink.ErrorDecode, ErrorDecode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newRecorder()
			opts := testOptions(nil)
			opts.NetworkRetryLimit = 1

			fake := sink.NewFake("embedded")
			a := NewNative("http://host/movie.mp4", opts, rec.listen)
			h, err := a.Attach(context.Background(), fake)
			require.NoError(t, err)
			defer a.Detach(h)

			require.NoError(t, fake.Play(context.Background()))
			require.NoError(t, fake.Seek(90*time.Second))
			fake.ResetCalls()

			fake.Emit(sink.Event{Type: sink.EventError, Class: tt.class, Err: errors.New("glitch")})
			e := rec.waitFor(t, EventRecoverableError, 1)
			assert.Equal(t, tt.kind, e.ErrorKind)

			want := []string{"SetSource:http://host/movie.mp4", "Seek:1m30s", "Play"}
			require.Eventually(t, func() bool {
				return assert.ObjectsAreEqual(want, fake.Calls())
			}, waitTimeout, 5*time.Millisecond, "calls: %v", fake.Calls())
			assert.True(t, fake.Playing())
			assert.Equal(t, 90*time.Second, fake.Position())
			assert.Zero(t, rec.count(EventFatalError))
		})
	}
}

func TestNative_NetworkRetriesResetAfterRecovery(t *testing.T) {
	rec := newRecorder()
	opts := testOptions(nil)
	opts.NetworkRetryLimit = 1

	fake := sink.NewFake("embedded")
	a := NewNative("http://host/live", opts, rec.listen)
	h, err := a.Attach(context.Background(), fake)
	require.NoError(t, err)
	defer a.Detach(h)
	fake.Emit(sink.Event{Type: sink.EventCanPlay})

	for i := 1; i <= 3; i++ {
		fake.Emit(sink.Event{Type: sink.EventError, Class: sink.ErrorNetwork, Err: errors.New("reset")})
		rec.waitFor(t, EventRecoverableError, i)
		require.Eventually(t, func() bool {
			return len(fake.Calls()) == i+1
		}, waitTimeout, 5*time.Millisecond)
		fake.Emit(sink.Event{Type: sink.EventCanPlay})
	}

	assert.Zero(t, rec.count(EventFatalError))
	assert.Equal(t, 1, rec.count(EventReady))
}

func TestNative_OtherErrorIsFatal(t *testing.T) {
	rec := newRecorder()
	fake := sink.NewFake("embedded")
	a := NewNative("http://host/live", testOptions(nil), rec.listen)
	h, err := a.Attach(context.Background(), fake)
	require.NoError(t, err)
	defer a.Detach(h)

	fake.Emit(sink.Event{Type: sink.EventError, Class: sink.ErrorOther})
	e := rec.waitFor(t, EventFatalError, 1)
	assert.Equal(t, ErrorOther, e.ErrorKind)
	assert.Equal(t, 0, rec.count(EventRecoverableError))
}

func TestNative_Detach(t *testing.T) {
	rec := newRecorder()
	fake := sink.NewFake("embedded")
	a := NewNative("http://host/live", testOptions(nil), rec.listen)
	h, err := a.Attach(context.Background(), fake)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.Subscribers())

	a.Detach(h)
	a.Detach(h)
	a.Detach(nil)

	assert.False(t, h.Live())
	assert.Equal(t, 0, fake.Subscribers())
	assert.Equal(t, []string{"SetSource:http://host/live", "ClearSource"}, fake.Calls())

	fake.Emit(sink.Event{Type: sink.EventCanPlay})
	assert.Empty(t, rec.all())

	assert.ErrorIs(t, a.SelectAudio(h, 0), ErrNotAttached)
}

func TestNative_TrackSwitching(t *testing.T) {
	fake := sink.NewFake("embedded")
	fake.SetNativeTracks(
		[]sink.NativeTrack{{ID: "a1"}, {ID: "a2"}},
		[]sink.NativeTrack{{ID: "s1"}},
	)
	a := NewNative("http://host/live", testOptions(nil), nil)
	h, err := a.Attach(context.Background(), fake)
	require.NoError(t, err)
	defer a.Detach(h)

	require.NoError(t, a.SelectAudio(h, 1))
	require.NoError(t, a.SelectSubtitle(h, 0))
	require.NoError(t, a.SelectSubtitle(h, -1))
	assert.ErrorIs(t, a.SelectAudio(h, 5), sink.ErrTrackNotFound)
	assert.ErrorIs(t, a.SelectQuality(h, 0), ErrSwitchUnsupported)

	assert.Contains(t, fake.Calls(), "EnableAudioTrack:1")
	assert.Contains(t, fake.Calls(), "ShowTextTrack:-1")
}

func TestFactory_New(t *testing.T) {
	f := NewFactory(Options{})
	tests := []struct {
		kind stream.Kind
		want any
	}{
		{stream.AdaptiveManifest, &Manifest{}},
		{stream.RawTransportStream, &Transport{}},
		{stream.ProxiedTransportStream, &Transport{}},
		{stream.ProgressiveFile, &Native{}},
		{stream.NativeFallback, &Native{}},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			a := f.New(tt.kind, "http://host/x", nil)
			assert.IsType(t, tt.want, a)
			assert.Equal(t, tt.kind, a.Kind())
			assert.Equal(t, "http://host/x", a.URL())
		})
	}

	fb := f.NewFallback("http://host/live.ts", nil)
	assert.Equal(t, stream.NativeFallback, fb.Kind())
	assert.Equal(t, DefaultStartupTimeout, f.Options().StartupTimeout)
}
