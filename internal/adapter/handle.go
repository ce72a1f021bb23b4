package adapter

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/tvarr-player/internal/sink"
	"github.com/jmylchreest/tvarr-player/internal/stream"
)

// Handle is one attachment of an adapter to a sink. It stays comparable by
// pointer after Detach so late events can be matched and discarded.
type Handle struct {
	id         string
	kind       stream.Kind
	url        string
	sink       sink.Sink
	attachedAt time.Time

	live   atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	stopping    bool
	timer       Timer
	unsubscribe func()
}

func newHandle(ctx context.Context, kind stream.Kind, url string, s sink.Sink) *Handle {
	// Workers outlive the Attach call; only Detach stops them.
	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &Handle{
		id:         uuid.NewString(),
		kind:       kind,
		url:        url,
		sink:       s,
		attachedAt: time.Now(),
		ctx:        wctx,
		cancel:     cancel,
	}
	h.live.Store(true)
	return h
}

// ID returns the handle's unique identifier.
func (h *Handle) ID() string {
	if h == nil {
		return ""
	}
	return h.id
}

// Kind returns the stream kind the handle decodes.
func (h *Handle) Kind() stream.Kind { return h.kind }

// URL returns the resolved URL the handle loads.
func (h *Handle) URL() string { return h.url }

// Sink returns the bound sink.
func (h *Handle) Sink() sink.Sink { return h.sink }

// AttachedAt returns when the handle was created.
func (h *Handle) AttachedAt() time.Time { return h.attachedAt }

// Live reports whether the handle has not been detached.
func (h *Handle) Live() bool {
	return h != nil && h.live.Load()
}

// Context is cancelled on detach.
func (h *Handle) Context() context.Context { return h.ctx }

func (h *Handle) setTimer(t Timer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.timer = t
}

func (h *Handle) setUnsubscribe(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribe = fn
}

// goWorker runs fn on a tracked goroutine. It reports false once the
// handle is being released.
func (h *Handle) goWorker(fn func(ctx context.Context)) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopping {
		return false
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		fn(h.ctx)
	}()
	return true
}

// release stops the handle once. It cancels workers, stops the startup
// timer, drops the sink subscription, waits for workers and clears the sink.
func (h *Handle) release() bool {
	if h == nil || !h.live.CompareAndSwap(true, false) {
		return false
	}
	h.cancel()

	h.mu.Lock()
	h.stopping = true
	timer, unsubscribe := h.timer, h.unsubscribe
	h.timer, h.unsubscribe = nil, nil
	h.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	h.wg.Wait()
	h.sink.ClearSource()
	return true
}
