package player

import "fmt"

// State is a player lifecycle state.
type State int

const (
	StateIdle State = iota
	StateInitializing
	StateReady
	StatePlaying
	StatePaused
	// StateBuffering is transient and returns to the state it interrupted.
	StateBuffering
	StateError
	// StateDestroyed is terminal.
	StateDestroyed
)

var stateNames = map[State]string{
	StateIdle:         "idle",
	StateInitializing: "initializing",
	StateReady:        "ready",
	StatePlaying:      "playing",
	StatePaused:       "paused",
	StateBuffering:    "buffering",
	StateError:        "error",
	StateDestroyed:    "destroyed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for st, name := range stateNames {
		if name == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown player state %q", text)
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool { return s == StateDestroyed }

// Trigger is an input to the state machine.
type Trigger int

const (
	TriggerLoad Trigger = iota
	TriggerAdapterReady
	TriggerPlay
	TriggerPause
	TriggerStarved
	TriggerResumed
	TriggerFatal
	TriggerRetry
	TriggerStop
	TriggerDestroy
)

var triggerNames = map[Trigger]string{
	TriggerLoad:         "load",
	TriggerAdapterReady: "adapter_ready",
	TriggerPlay:         "play",
	TriggerPause:        "pause",
	TriggerStarved:      "starved",
	TriggerResumed:      "resumed",
	TriggerFatal:        "fatal",
	TriggerRetry:        "retry",
	TriggerStop:         "stop",
	TriggerDestroy:      "destroy",
}

func (t Trigger) String() string {
	if n, ok := triggerNames[t]; ok {
		return n
	}
	return fmt.Sprintf("trigger(%d)", int(t))
}

// Transition is a single allowed edge. ToPrior edges return to the state
// that Buffering interrupted.
type Transition struct {
	From    State
	To      State
	Trigger Trigger
	ToPrior bool
}

// live states are every state a session can be in.
var live = []State{StateInitializing, StateReady, StatePlaying, StatePaused, StateBuffering}

var transitionsTable = buildTransitions()

func buildTransitions() []Transition {
	t := []Transition{
		{From: StateInitializing, To: StateReady, Trigger: TriggerAdapterReady},

		{From: StateReady, To: StatePlaying, Trigger: TriggerPlay},
		{From: StatePaused, To: StatePlaying, Trigger: TriggerPlay},
		{From: StatePlaying, To: StatePaused, Trigger: TriggerPause},

		// Control actions while buffering only change where recovery lands.
		{From: StateBuffering, To: StateBuffering, Trigger: TriggerPlay},
		{From: StateBuffering, To: StateBuffering, Trigger: TriggerPause},

		{From: StatePlaying, To: StateBuffering, Trigger: TriggerStarved},
		{From: StatePaused, To: StateBuffering, Trigger: TriggerStarved},
		{From: StateBuffering, Trigger: TriggerResumed, ToPrior: true},

		{From: StateError, To: StateInitializing, Trigger: TriggerRetry},
	}

	// A new descriptor restarts from any non-terminal state.
	for _, s := range append([]State{StateIdle, StateError}, live...) {
		t = append(t, Transition{From: s, To: StateInitializing, Trigger: TriggerLoad})
	}
	for _, s := range live {
		t = append(t, Transition{From: s, To: StateError, Trigger: TriggerFatal})
	}
	for _, s := range append([]State{StateIdle, StateError}, live...) {
		t = append(t, Transition{From: s, To: StateIdle, Trigger: TriggerStop})
		t = append(t, Transition{From: s, To: StateDestroyed, Trigger: TriggerDestroy})
	}
	return t
}

// transitionFor returns the allowed transition for a state and trigger.
func transitionFor(from State, tr Trigger) (Transition, bool) {
	for _, t := range transitionsTable {
		if t.From == from && t.Trigger == tr {
			return t, true
		}
	}
	return Transition{}, false
}
