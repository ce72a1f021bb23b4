// Package sink defines the rendering surface adapters attach to, with a
// headless implementation for servers and CLI probes and a fake for tests.
package sink

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sink errors.
var (
	ErrNoSource      = errors.New("sink has no source")
	ErrTrackNotFound = errors.New("native track not found")
)

// EventType is the kind of a sink event.
type EventType int

const (
	// EventCanPlay fires once enough media is available to start rendering.
	EventCanPlay EventType = iota
	// EventWaiting fires when playback stalls for data.
	EventWaiting
	// EventPlaying fires when rendering (re)starts.
	EventPlaying
	// EventPaused fires when rendering is paused.
	EventPaused
	// EventTracksChanged fires when the native audio/text track lists change.
	EventTracksChanged
	// EventError fires on a loading or decoding failure.
	EventError
	// EventEnded fires when a finite source is exhausted.
	EventEnded
)

func (t EventType) String() string {
	switch t {
	case EventCanPlay:
		return "canplay"
	case EventWaiting:
		return "waiting"
	case EventPlaying:
		return "playing"
	case EventPaused:
		return "paused"
	case EventTracksChanged:
		return "trackschanged"
	case EventError:
		return "error"
	case EventEnded:
		return "ended"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// ErrorClass classifies an EventError.
type ErrorClass int

const (
	ErrorOther ErrorClass = iota
	ErrorNetwork
	ErrorDecode
)

func (c ErrorClass) String() string {
	switch c {
	case ErrorNetwork:
		return "network"
	case ErrorDecode:
		return "decode"
	default:
		return "other"
	}
}

// Event is delivered to subscribers.
type Event struct {
	Type  EventType
	Class ErrorClass
	Err   error
}

// Frame is a demuxed access unit pushed by a worker-style adapter.
type Frame struct {
	Video    bool
	Codec    string
	PTS      int64
	DTS      int64
	Keyframe bool
	Data     [][]byte
}

// NativeTrack is an entry of the sink's own audio or text track list.
type NativeTrack struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Language string `json:"language"`
	Default  bool   `json:"default"`
	// Active is "enabled" for audio tracks and "showing" for text tracks.
	Active bool `json:"active"`
}

// Sink is a video output. It is exclusively owned by one attached adapter at
// a time; implementations must be safe for concurrent use because adapters
// feed them from worker goroutines.
type Sink interface {
	// ID names the sink for logs.
	ID() string

	// SetSource starts native loading of url, replacing any current source.
	SetSource(ctx context.Context, url string) error
	// ClearSource stops loading and drops buffered media.
	ClearSource()
	// PushFrame feeds a demuxed access unit.
	PushFrame(f Frame)

	Play(ctx context.Context) error
	Pause() error
	Seek(position time.Duration) error
	Position() time.Duration
	// Paused reports whether playback is stopped, as after a new source.
	Paused() bool

	AudioTracks() []NativeTrack
	TextTracks() []NativeTrack
	// EnableAudioTrack enables track index and disables the others.
	EnableAudioTrack(index int) error
	// ShowTextTrack shows track index and hides the others; -1 hides all.
	ShowTextTrack(index int) error

	// Subscribe registers fn for sink events and returns its cancel func.
	Subscribe(fn func(Event)) (cancel func())

	// Release returns the sink to its unowned state.
	Release()
}

// TSAppender is implemented by sinks that inspect raw transport-stream bytes
// for native track discovery.
type TSAppender interface {
	AppendTS(p []byte)
}
