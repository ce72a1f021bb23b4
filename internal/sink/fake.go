package sink

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Fake is an in-memory Sink for tests. It records every control call in
// order, so tests can assert sequencing such as clear-before-release.
type Fake struct {
	name string
	subs subscribers

	mu       sync.Mutex
	calls    []string
	source   string
	frames   []Frame
	playing  bool
	position time.Duration
	audio    []NativeTrack
	text     []NativeTrack

	// SetSourceErr and PlayErr are returned by the matching calls when set.
	SetSourceErr error
	PlayErr      error
}

// NewFake creates a fake sink.
func NewFake(name string) *Fake {
	return &Fake{name: name}
}

func (f *Fake) record(call string) {
	f.calls = append(f.calls, call)
}

// ID implements Sink.
func (f *Fake) ID() string { return f.name }

// SetSource implements Sink. Like a media element load, it stops playback
// and rewinds.
func (f *Fake) SetSource(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SetSource:" + url)
	if f.SetSourceErr != nil {
		return f.SetSourceErr
	}
	f.source = url
	f.playing = false
	f.position = 0
	return nil
}

// ClearSource implements Sink.
func (f *Fake) ClearSource() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ClearSource")
	f.source = ""
	f.playing = false
}

// PushFrame implements Sink. Frames are kept but not recorded as calls.
func (f *Fake) PushFrame(fr Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, fr)
}

// Play implements Sink.
func (f *Fake) Play(_ context.Context) error {
	f.mu.Lock()
	f.record("Play")
	if f.PlayErr != nil {
		f.mu.Unlock()
		return f.PlayErr
	}
	f.playing = true
	f.mu.Unlock()
	return nil
}

// Pause implements Sink.
func (f *Fake) Pause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Pause")
	f.playing = false
	return nil
}

// Seek implements Sink.
func (f *Fake) Seek(position time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("Seek:%s", position))
	f.position = position
	return nil
}

// Position implements Sink.
func (f *Fake) Position() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position
}

// Paused implements Sink.
func (f *Fake) Paused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.playing
}

// AudioTracks implements Sink.
func (f *Fake) AudioTracks() []NativeTrack {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.audio)
}

// TextTracks implements Sink.
func (f *Fake) TextTracks() []NativeTrack {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.text)
}

// EnableAudioTrack implements Sink.
func (f *Fake) EnableAudioTrack(index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("EnableAudioTrack:%d", index))
	if index < 0 || index >= len(f.audio) {
		return ErrTrackNotFound
	}
	for i := range f.audio {
		f.audio[i].Active = i == index
	}
	return nil
}

// ShowTextTrack implements Sink.
func (f *Fake) ShowTextTrack(index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("ShowTextTrack:%d", index))
	if index < -1 || index >= len(f.text) {
		return ErrTrackNotFound
	}
	for i := range f.text {
		f.text[i].Active = i == index
	}
	return nil
}

// Subscribe implements Sink.
func (f *Fake) Subscribe(fn func(Event)) func() {
	return f.subs.add(fn)
}

// Release implements Sink.
func (f *Fake) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Release")
	f.source = ""
	f.playing = false
	f.frames = nil
}

// Emit delivers e to subscribers as if the sink raised it.
func (f *Fake) Emit(e Event) {
	f.subs.emit(e)
}

// SetNativeTracks replaces the native track lists.
func (f *Fake) SetNativeTracks(audio, text []NativeTrack) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = slices.Clone(audio)
	f.text = slices.Clone(text)
}

// Calls returns the recorded calls in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// ResetCalls clears the call log.
func (f *Fake) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// Source returns the current native source.
func (f *Fake) Source() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.source
}

// Frames returns the frames pushed since the last Release.
func (f *Fake) Frames() []Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.frames)
}

// Playing reports whether Play was the last transport call.
func (f *Fake) Playing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playing
}

// Subscribers returns the number of live subscriptions.
func (f *Fake) Subscribers() int {
	return f.subs.count()
}

var _ Sink = (*Fake)(nil)
