// Package player drives one playback surface through its lifecycle: it
// classifies descriptors, attaches adapters to the surface's sink, applies
// the error and fallback policy and exposes a read model.
//
// Every mutation happens under the player lock. Adapter and sink callbacks
// are queued to a dispatcher goroutine and checked against the session
// epoch, so results for a replaced session are dropped.
package player

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/tvarr-player/internal/adapter"
	"github.com/jmylchreest/tvarr-player/internal/metrics"
	"github.com/jmylchreest/tvarr-player/internal/models"
	"github.com/jmylchreest/tvarr-player/internal/observability"
	"github.com/jmylchreest/tvarr-player/internal/sink"
	"github.com/jmylchreest/tvarr-player/internal/stream"
	"github.com/jmylchreest/tvarr-player/internal/tracks"
)

// HandleTracker observes adapter handles attached and detached by a player.
// A non-nil error from HandleAttached rejects the attachment.
type HandleTracker interface {
	HandleAttached(surface models.Surface, handleID string) error
	HandleDetached(surface models.Surface, handleID string)
}

// Config configures a Player.
type Config struct {
	Surface    models.Surface
	Sink       sink.Sink
	Factory    *adapter.Factory
	Classifier *stream.Classifier
	// Autoplay starts rendering as soon as the adapter is ready.
	Autoplay bool
	Tracker  HandleTracker
	Logger   *slog.Logger
}

// Player is the state machine for one surface.
type Player struct {
	surface    models.Surface
	sink       sink.Sink
	factory    *adapter.Factory
	classifier *stream.Classifier
	autoplay   bool
	tracker    HandleTracker
	logger     *slog.Logger

	epoch       atomic.Uint64
	box         *mailbox
	done        chan struct{}
	unsubscribe func()

	mu      sync.Mutex
	state   State
	prior   State
	session *Session
	lastErr error

	subsMu sync.Mutex
	subsID int
	subs   map[int]func(Snapshot)
}

// New creates a player and starts its dispatcher. Destroy stops it.
func New(cfg Config) *Player {
	if cfg.Factory == nil {
		cfg.Factory = adapter.NewFactory(adapter.Options{Logger: cfg.Logger})
	}
	if cfg.Classifier == nil {
		cfg.Classifier = stream.NewClassifier(stream.Options{})
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.Discard()
	}

	p := &Player{
		surface:    cfg.Surface,
		sink:       cfg.Sink,
		factory:    cfg.Factory,
		classifier: cfg.Classifier,
		autoplay:   cfg.Autoplay,
		tracker:    cfg.Tracker,
		logger:     observability.WithComponent(cfg.Logger, "player").With(slog.String("surface", string(cfg.Surface))),
		box:        newMailbox(),
		done:       make(chan struct{}),
		state:      StateIdle,
		subs:       make(map[int]func(Snapshot)),
	}
	p.unsubscribe = cfg.Sink.Subscribe(func(e sink.Event) {
		p.box.push(message{epoch: p.epoch.Load(), sinkEvent: &e})
	})
	go p.dispatch()
	return p
}

// Surface returns the surface the player renders on.
func (p *Player) Surface() models.Surface { return p.surface }

// Sink returns the player's sink.
func (p *Player) Sink() sink.Sink { return p.sink }

// State returns the current state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// HandleID returns the live adapter handle's ID, or "" when none is attached.
func (p *Player) HandleID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil || p.session.handle == nil {
		return ""
	}
	return p.session.handle.ID()
}

// Descriptor returns the current session's descriptor.
func (p *Player) Descriptor() (models.StreamDescriptor, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return models.StreamDescriptor{}, false
	}
	return p.session.Descriptor, true
}

// Load tears down any current session and starts one for desc.
func (p *Player) Load(ctx context.Context, desc models.StreamDescriptor) error {
	return p.LoadAt(ctx, desc, 0)
}

// LoadAt is Load with a resume position applied once the adapter is ready.
func (p *Player) LoadAt(ctx context.Context, desc models.StreamDescriptor, position time.Duration) error {
	return p.do("load", func() error {
		if err := desc.Validate(); err != nil {
			return newError(KindInvalidState, "load", p.state, err)
		}
		if err := p.startLocked(ctx, desc, 0, TriggerLoad); err != nil {
			return err
		}
		if position > 0 {
			p.session.resumeAt = position
		}
		return nil
	})
}

// SetAutoplay changes whether later ready events start rendering.
func (p *Player) SetAutoplay(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.autoplay = v
}

// Retry restarts the failed session's descriptor with an incremented retry count.
func (p *Player) Retry(ctx context.Context) error {
	return p.do("retry", func() error {
		if p.state != StateError || p.session == nil {
			return newError(KindInvalidState, "retry", p.state, ErrNothingToLoad)
		}
		return p.startLocked(ctx, p.session.Descriptor, p.session.RetryCount+1, TriggerRetry)
	})
}

// Play starts or resumes rendering.
func (p *Player) Play(ctx context.Context) error {
	return p.do("play", func() error {
		return p.playLocked(ctx)
	})
}

// Pause pauses rendering.
func (p *Player) Pause() error {
	return p.do("pause", func() error {
		return p.pauseLocked()
	})
}

// Toggle flips between playing and paused.
func (p *Player) Toggle(ctx context.Context) error {
	return p.do("toggle", func() error {
		switch {
		case p.state == StatePlaying,
			p.state == StateBuffering && p.prior == StatePlaying:
			return p.pauseLocked()
		default:
			return p.playLocked(ctx)
		}
	})
}

// Seek moves the playback position.
func (p *Player) Seek(position time.Duration) error {
	return p.do("seek", func() error {
		switch p.state {
		case StateReady, StatePlaying, StatePaused, StateBuffering:
		default:
			return newError(KindInvalidState, "seek", p.state, ErrNotAllowed)
		}
		if err := p.sink.Seek(position); err != nil {
			return fmt.Errorf("seek: %w", err)
		}
		return nil
	})
}

// SelectQuality switches quality level; tracks.Auto restores adaptive mode.
func (p *Player) SelectQuality(index int) error {
	return p.do("select_quality", func() error {
		s, err := p.trackSessionLocked("select_quality")
		if err != nil {
			return err
		}
		if err := s.tracks.CheckQuality(index); err != nil {
			return newError(KindTrackSwitchRejected, "select_quality", p.state, err)
		}
		if index == tracks.Auto && len(s.tracks.Qualities()) == 0 {
			return s.tracks.SelectQuality(index)
		}
		sw, ok := s.adapter.(adapter.TrackSwitcher)
		if !ok {
			return newError(KindTrackSwitchRejected, "select_quality", p.state, adapter.ErrSwitchUnsupported)
		}
		if err := sw.SelectQuality(s.handle, index); err != nil {
			return newError(KindTrackSwitchRejected, "select_quality", p.state, err)
		}
		return s.tracks.SelectQuality(index)
	})
}

// SelectAudio switches audio track, natively on the adapter when it can and
// on the sink's track list otherwise.
func (p *Player) SelectAudio(index int) error {
	return p.do("select_audio", func() error {
		s, err := p.trackSessionLocked("select_audio")
		if err != nil {
			return err
		}
		if err := s.tracks.CheckAudio(index); err != nil {
			return newError(KindTrackSwitchRejected, "select_audio", p.state, err)
		}
		if sw, ok := s.adapter.(adapter.TrackSwitcher); ok {
			err = sw.SelectAudio(s.handle, index)
		} else {
			err = p.sink.EnableAudioTrack(index)
		}
		if err != nil {
			return newError(KindTrackSwitchRejected, "select_audio", p.state, err)
		}
		return s.tracks.SelectAudio(index)
	})
}

// SelectSubtitle switches subtitle track; tracks.Disabled hides subtitles.
func (p *Player) SelectSubtitle(index int) error {
	return p.do("select_subtitle", func() error {
		s, err := p.trackSessionLocked("select_subtitle")
		if err != nil {
			return err
		}
		if err := s.tracks.CheckSubtitle(index); err != nil {
			return newError(KindTrackSwitchRejected, "select_subtitle", p.state, err)
		}
		if sw, ok := s.adapter.(adapter.TrackSwitcher); ok {
			err = sw.SelectSubtitle(s.handle, index)
		} else {
			err = p.sink.ShowTextTrack(index)
		}
		if err != nil {
			return newError(KindTrackSwitchRejected, "select_subtitle", p.state, err)
		}
		return s.tracks.SelectSubtitle(index)
	})
}

// Stop ends the session and returns to Idle.
func (p *Player) Stop() error {
	return p.do("stop", func() error {
		p.teardownLocked("stop")
		p.session = nil
		p.lastErr = nil
		return p.fire(TriggerStop)
	})
}

// Destroy ends the session, stops the dispatcher and makes the player
// unusable. It is idempotent.
func (p *Player) Destroy() {
	p.mu.Lock()
	if p.state == StateDestroyed {
		p.mu.Unlock()
		return
	}
	p.teardownLocked("destroy")
	p.session = nil
	_ = p.fire(TriggerDestroy)
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.unsubscribe()
	p.box.close()
	<-p.done

	p.notify(snap)
	p.subsMu.Lock()
	clear(p.subs)
	p.subsMu.Unlock()
}

// Snapshot returns the current read model.
func (p *Player) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// Subscribe registers fn for read-model changes. fn runs outside the player
// lock and may call back into the player.
func (p *Player) Subscribe(fn func(Snapshot)) (cancel func()) {
	p.subsMu.Lock()
	p.subsID++
	id := p.subsID
	p.subs[id] = fn
	p.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.subsMu.Lock()
			delete(p.subs, id)
			p.subsMu.Unlock()
		})
	}
}

// Sync waits until every callback queued before the call has been applied.
func (p *Player) Sync() {
	done := make(chan struct{})
	if !p.box.push(message{sync: done}) {
		return
	}
	select {
	case <-done:
	case <-p.done:
	}
}

func (p *Player) do(op string, fn func() error) error {
	p.mu.Lock()
	if p.state == StateDestroyed {
		p.mu.Unlock()
		return newError(KindInvalidState, op, StateDestroyed, ErrDestroyed)
	}
	err := fn()
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.notify(snap)
	return err
}

func (p *Player) notify(snap Snapshot) {
	p.subsMu.Lock()
	fns := make([]func(Snapshot), 0, len(p.subs))
	for _, fn := range p.subs {
		fns = append(fns, fn)
	}
	p.subsMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// fire applies trigger tr to the current state.
func (p *Player) fire(tr Trigger) error {
	t, ok := transitionFor(p.state, tr)
	if !ok {
		return newError(KindInvalidState, tr.String(), p.state, ErrNotAllowed)
	}

	from, to := p.state, t.To
	if t.ToPrior {
		to = p.prior
	}
	if to == StateBuffering && from != StateBuffering {
		p.prior = from
	}
	p.state = to

	if from != to {
		metrics.IncStateTransition(from.String(), to.String())
		p.logger.Debug("player state changed",
			slog.String("from", from.String()),
			slog.String("to", to.String()),
			slog.String("trigger", tr.String()))
	}
	return nil
}

func (p *Player) startLocked(ctx context.Context, desc models.StreamDescriptor, retry int, tr Trigger) error {
	if _, ok := transitionFor(p.state, tr); !ok {
		return newError(KindInvalidState, tr.String(), p.state, ErrNotAllowed)
	}

	p.teardownLocked("replaced")
	if err := p.fire(tr); err != nil {
		return err
	}
	p.lastErr = nil

	res := p.classifier.ClassifyDetailed(desc)
	if res.Ambiguous {
		p.logger.Info("stream kind not recognized, using native decoding",
			slog.String("url", desc.URL),
			slog.String("kind", KindClassificationAmbiguous.String()))
	}

	epoch := p.epoch.Add(1)
	s := &Session{
		ID:         models.NewULID(),
		Descriptor: desc,
		Kind:       res.Kind,
		Ambiguous:  res.Ambiguous,
		RetryCount: retry,
		StartedAt:  time.Now(),
		epoch:      epoch,
		tracks:     tracks.NewModel(),
	}
	s.adapter = p.factory.New(res.Kind, desc.URL, p.listener(epoch))
	p.session = s

	metrics.IncSessionStarted(res.Kind.String(), retry > 0)
	p.logger.Info("playback session started",
		slog.String("session_id", s.ID.String()),
		slog.String("kind", res.Kind.String()),
		slog.String("url", desc.URL),
		slog.Int("retry", retry))

	return p.attachLocked(ctx, s, tr.String())
}

func (p *Player) attachLocked(ctx context.Context, s *Session, op string) error {
	h, err := s.adapter.Attach(ctx, p.sink)
	if err != nil {
		return p.failLocked(op, KindFatalAdapter, err)
	}
	if p.tracker != nil {
		if err := p.tracker.HandleAttached(p.surface, h.ID()); err != nil {
			s.adapter.Detach(h)
			return p.failLocked(op, KindInvalidState, err)
		}
	}
	s.handle = h
	metrics.HandleAttached()
	return nil
}

// detachLocked detaches the session's adapter handle, if any.
func (p *Player) detachLocked(s *Session) {
	if s.handle == nil {
		return
	}
	h := s.handle
	s.adapter.Detach(h)
	s.handle = nil
	metrics.HandleDetached()
	if p.tracker != nil {
		p.tracker.HandleDetached(p.surface, h.ID())
	}
}

// teardownLocked detaches the adapter and only then releases the sink.
func (p *Player) teardownLocked(reason string) {
	s := p.session
	if s == nil || s.released {
		return
	}
	p.epoch.Add(1)
	p.detachLocked(s)
	p.sink.Release()
	s.released = true

	p.logger.Debug("playback session torn down",
		slog.String("session_id", s.ID.String()),
		slog.String("reason", reason))
}

// failLocked tears the session down and enters Error.
func (p *Player) failLocked(op string, kind ErrorKind, err error) error {
	p.teardownLocked("error")
	state := p.state
	if ferr := p.fire(TriggerFatal); ferr != nil {
		p.logger.Debug("fatal error outside a live state", slog.String("state", state.String()))
	}
	perr := newError(kind, op, state, err)
	p.lastErr = perr
	p.logger.Warn("playback failed", slog.String("error", perr.Error()))
	return perr
}

func (p *Player) playLocked(ctx context.Context) error {
	switch p.state {
	case StatePlaying:
		return nil
	case StateBuffering:
		if err := p.sink.Play(ctx); err != nil {
			return fmt.Errorf("play: %w", err)
		}
		p.prior = StatePlaying
		return nil
	case StateReady, StatePaused:
		if err := p.sink.Play(ctx); err != nil {
			return fmt.Errorf("play: %w", err)
		}
		return p.fire(TriggerPlay)
	default:
		return newError(KindInvalidState, "play", p.state, ErrNotAllowed)
	}
}

func (p *Player) pauseLocked() error {
	switch p.state {
	case StatePaused:
		return nil
	case StateBuffering:
		if err := p.sink.Pause(); err != nil {
			return fmt.Errorf("pause: %w", err)
		}
		p.prior = StatePaused
		return nil
	case StatePlaying:
		if err := p.sink.Pause(); err != nil {
			return fmt.Errorf("pause: %w", err)
		}
		return p.fire(TriggerPause)
	default:
		return newError(KindInvalidState, "pause", p.state, ErrNotAllowed)
	}
}

func (p *Player) trackSessionLocked(op string) (*Session, error) {
	switch p.state {
	case StateInitializing, StateReady, StatePlaying, StatePaused, StateBuffering:
	default:
		return nil, newError(KindInvalidState, op, p.state, ErrNotAllowed)
	}
	if p.session == nil || p.session.handle == nil {
		return nil, newError(KindInvalidState, op, p.state, ErrNoSession)
	}
	return p.session, nil
}

func (p *Player) snapshotLocked() Snapshot {
	snap := Snapshot{
		Surface:        p.surface,
		State:          p.state,
		Loading:        p.state == StateInitializing || p.state == StateBuffering,
		RetryAvailable: p.state == StateError,
	}
	if p.session != nil {
		var pos time.Duration
		if !p.session.released {
			pos = p.sink.Position()
		}
		snap.Session = p.session.info(pos)
	}
	if p.lastErr != nil {
		snap.LastError = p.lastErr.Error()
	}
	return snap
}
