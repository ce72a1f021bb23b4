// Package metrics holds the Prometheus collectors for playback sessions,
// adapter failures, surface handovers and recording polls.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsStarted counts playback sessions by transport kind and whether
	// the session was a user retry.
	SessionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tvarr_player_sessions_started_total",
		Help: "Playback sessions started by transport kind",
	}, []string{"kind", "retry"})

	// StartupFallbacks counts transport-stream sessions that fell back to
	// native decoding after the startup window expired.
	StartupFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tvarr_player_startup_fallbacks_total",
		Help: "Sessions switched to the native adapter after a startup timeout",
	})

	// AdapterErrors counts adapter errors by class and severity.
	AdapterErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tvarr_player_adapter_errors_total",
		Help: "Adapter errors by class (network, decode, other) and severity",
	}, []string{"class", "severity"})

	// StateTransitions counts player state machine transitions.
	StateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tvarr_player_state_transitions_total",
		Help: "Player state transitions",
	}, []string{"from", "to"})

	// StaleEvents counts adapter and sink callbacks dropped by the epoch guard.
	StaleEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tvarr_player_stale_events_total",
		Help: "Callbacks discarded because their session was no longer live",
	})

	// LiveHandles is the number of attached adapter handles.
	LiveHandles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tvarr_player_live_handles",
		Help: "Adapter handles currently attached to a sink",
	})

	// Handovers counts ownership transfers between surfaces.
	Handovers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tvarr_player_surface_handovers_total",
		Help: "Playback ownership transfers between surfaces",
	}, []string{"from", "to"})

	// InvariantViolations counts coordinator invariant failures.
	InvariantViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tvarr_player_invariant_violations_total",
		Help: "Coordinator invariant violations by rule",
	}, []string{"rule"})

	// RecordingPolls counts recording service polls by result.
	RecordingPolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tvarr_player_recording_polls_total",
		Help: "Recording correlation polls by result",
	}, []string{"result"})
)

// IncSessionStarted records a new playback session.
func IncSessionStarted(kind string, retry bool) {
	r := "false"
	if retry {
		r = "true"
	}
	SessionsStarted.WithLabelValues(kind, r).Inc()
}

// IncStartupFallback records a startup-timeout fallback.
func IncStartupFallback() {
	StartupFallbacks.Inc()
}

// IncAdapterError records an adapter error.
func IncAdapterError(class string, fatal bool) {
	severity := "recoverable"
	if fatal {
		severity = "fatal"
	}
	AdapterErrors.WithLabelValues(class, severity).Inc()
}

// IncStateTransition records a player state change.
func IncStateTransition(from, to string) {
	StateTransitions.WithLabelValues(from, to).Inc()
}

// IncStaleEvent records a discarded callback.
func IncStaleEvent() {
	StaleEvents.Inc()
}

// HandleAttached increments the live handle gauge.
func HandleAttached() {
	LiveHandles.Inc()
}

// HandleDetached decrements the live handle gauge.
func HandleDetached() {
	LiveHandles.Dec()
}

// IncHandover records an ownership transfer.
func IncHandover(from, to string) {
	Handovers.WithLabelValues(from, to).Inc()
}

// IncInvariantViolation records a coordinator invariant failure.
func IncInvariantViolation(rule string) {
	InvariantViolations.WithLabelValues(rule).Inc()
}

// IncRecordingPoll records a recording poll outcome.
func IncRecordingPoll(success bool) {
	result := "error"
	if success {
		result = "ok"
	}
	RecordingPolls.WithLabelValues(result).Inc()
}
