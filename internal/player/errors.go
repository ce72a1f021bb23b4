package player

import (
	"errors"
	"fmt"
)

// ErrorKind is the failure taxonomy surfaced to callers.
type ErrorKind int

const (
	// KindClassificationAmbiguous is informational: playback proceeds natively.
	KindClassificationAmbiguous ErrorKind = iota
	KindNetwork
	KindDecode
	// KindStartupTimeout triggers the native fallback and is never user-facing.
	KindStartupTimeout
	KindFatalAdapter
	KindTrackSwitchRejected
	KindExternalService
	// KindStaleSession marks work for a session that has been replaced.
	KindStaleSession
	// KindInvalidState rejects an operation the current state does not allow.
	KindInvalidState
)

var kindNames = map[ErrorKind]string{
	KindClassificationAmbiguous: "classification_ambiguous",
	KindNetwork:                 "network_error",
	KindDecode:                  "decode_error",
	KindStartupTimeout:          "startup_timeout",
	KindFatalAdapter:            "fatal_adapter_error",
	KindTrackSwitchRejected:     "track_switch_rejected",
	KindExternalService:         "external_service_error",
	KindStaleSession:            "stale_session",
	KindInvalidState:            "invalid_state",
}

func (k ErrorKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinel errors wrapped by Error.
var (
	ErrDestroyed     = errors.New("player destroyed")
	ErrNoSession     = errors.New("no playback session")
	ErrNotAllowed    = errors.New("operation not allowed in current state")
	ErrNothingToLoad = errors.New("no descriptor to retry")
)

// Error is a typed playback failure.
type Error struct {
	Kind  ErrorKind
	Op    string
	State State
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s (state %s)", e.Op, e.Kind, e.State)
	}
	return fmt.Sprintf("%s: %s (state %s): %v", e.Op, e.Kind, e.State, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of a player error, or false for other errors.
func KindOf(err error) (ErrorKind, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return 0, false
}

// IsKind reports whether err is a player error of kind k.
func IsKind(err error, k ErrorKind) bool {
	got, ok := KindOf(err)
	return ok && got == k
}

func newError(kind ErrorKind, op string, state State, err error) *Error {
	return &Error{Kind: kind, Op: op, State: state, Err: err}
}
