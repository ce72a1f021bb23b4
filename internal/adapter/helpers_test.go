package adapter

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/tvarr-player/pkg/httpclient"
)

const waitTimeout = 5 * time.Second

// recorder collects listener events.
type recorder struct {
	mu     sync.Mutex
	events []Event
	notify chan struct{}
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan struct{}, 1)}
}

func (r *recorder) listen(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) count(t EventType) int {
	n := 0
	for _, e := range r.all() {
		if e.Type == t {
			n++
		}
	}
	return n
}

// waitFor blocks until the nth event of type et (1-based) arrives.
func (r *recorder) waitFor(t *testing.T, et EventType, nth int) Event {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		seen := 0
		for _, e := range r.all() {
			if e.Type == et {
				seen++
				if seen == nth {
					return e
				}
			}
		}
		select {
		case <-r.notify:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			require.FailNowf(t, "timed out", "waiting for %s #%d; got %v", et, nth, r.types())
		}
	}
}

func (r *recorder) types() []EventType {
	var out []EventType
	for _, e := range r.all() {
		out = append(out, e.Type)
	}
	return out
}

// manualTimers replaces time.AfterFunc so tests decide when startup windows close.
type manualTimers struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	d       time.Duration
	fn      func()
	mu      sync.Mutex
	stopped bool
}

func (m *manualTimers) AfterFunc(d time.Duration, fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{d: d, fn: fn}
	m.timers = append(m.timers, t)
	return t
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

func (t *manualTimer) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// fire runs the callback as an expiring timer would, unless stopped.
func (t *manualTimer) fire() {
	if t.isStopped() {
		return
	}
	t.fn()
}

func testOptions(timers *manualTimers) Options {
	cfg := httpclient.DefaultConfig()
	cfg.RetryAttempts = 0
	cfg.CircuitThreshold = 1000
	opts := Options{
		Client:              httpclient.New(cfg),
		NetworkRetryLimit:   0,
		NetworkRetryDelay:   time.Millisecond,
		DecodeRecoveryLimit: 1,
		StartupTimeout:      time.Hour,
	}
	if timers != nil {
		opts.AfterFunc = timers.AfterFunc
	}
	return opts
}
