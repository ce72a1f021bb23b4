// Package coordinator owns the process-wide playback intent and decides which
// surface renders it. It is the single writer of GlobalState: every operation
// runs under one lock, and a handover detaches the old surface's adapter
// before the new surface attaches.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/tvarr-player/internal/adapter"
	"github.com/jmylchreest/tvarr-player/internal/metrics"
	"github.com/jmylchreest/tvarr-player/internal/models"
	"github.com/jmylchreest/tvarr-player/internal/observability"
	"github.com/jmylchreest/tvarr-player/internal/player"
	"github.com/jmylchreest/tvarr-player/internal/sink"
	"github.com/jmylchreest/tvarr-player/internal/stream"
)

// Coordinator errors.
var (
	ErrNotMounted     = errors.New("surface not mounted")
	ErrAlreadyMounted = errors.New("surface already mounted")
	ErrNothingPlaying = errors.New("nothing is playing")
	ErrSecondHandle   = errors.New("second live adapter handle")
	ErrInvariant      = errors.New("playback invariant violated")
	ErrClosed         = errors.New("coordinator closed")
)

// ChannelResolver turns a channel ID into a playable descriptor.
type ChannelResolver interface {
	Resolve(ctx context.Context, channelID string) (models.Channel, models.StreamDescriptor, error)
}

// GlobalState is the logical playback intent, independent of which player
// currently renders it.
type GlobalState struct {
	Channel       *models.Channel `json:"channel"`
	StreamURL     string          `json:"stream_url,omitempty"`
	IsPlaying     bool            `json:"is_playing"`
	ActiveSurface models.Surface  `json:"active_surface,omitempty"`
}

func (s GlobalState) hasIntent() bool { return s.StreamURL != "" }

// EventType names a coordinator change.
type EventType string

const (
	EventPlay      EventType = "play"
	EventPause     EventType = "pause"
	EventResume    EventType = "resume"
	EventStop      EventType = "stop"
	EventHandover  EventType = "handover"
	EventMounted   EventType = "mounted"
	EventUnmounted EventType = "unmounted"
)

// Event is delivered to subscribers after every state change.
type Event struct {
	ID    models.ULID `json:"id"`
	Type  EventType   `json:"type"`
	State GlobalState `json:"state"`
	At    time.Time   `json:"at"`
}

// Config configures a Coordinator.
type Config struct {
	Factory    *adapter.Factory
	Classifier *stream.Classifier
	Resolver   ChannelResolver
	// Autoplay starts rendering as soon as a materialized session is ready.
	Autoplay bool
	Logger   *slog.Logger
}

type slot struct {
	sink   sink.Sink
	player *player.Player
}

// Coordinator is the global playback store.
type Coordinator struct {
	factory    *adapter.Factory
	classifier *stream.Classifier
	resolver   ChannelResolver
	autoplay   bool
	logger     *slog.Logger
	ledger     *Ledger

	mu       sync.Mutex
	state    GlobalState
	surfaces map[models.Surface]*slot
	closed   bool

	subsMu sync.Mutex
	subsID int
	subs   map[int]func(Event)
}

// New creates a coordinator with no mounted surfaces.
func New(cfg Config) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = observability.Discard()
	}
	if cfg.Factory == nil {
		cfg.Factory = adapter.NewFactory(adapter.Options{Logger: cfg.Logger})
	}
	if cfg.Classifier == nil {
		cfg.Classifier = stream.NewClassifier(stream.Options{})
	}
	logger := observability.WithComponent(cfg.Logger, "coordinator")
	return &Coordinator{
		factory:    cfg.Factory,
		classifier: cfg.Classifier,
		resolver:   cfg.Resolver,
		autoplay:   cfg.Autoplay,
		logger:     logger,
		ledger:     NewLedger(logger),
		surfaces:   make(map[models.Surface]*slot),
		subs:       make(map[int]func(Event)),
	}
}

// Ledger returns the live handle ledger.
func (c *Coordinator) Ledger() *Ledger { return c.ledger }

// Mount hosts a surface on sk. If the surface owns the current intent the
// session materializes immediately.
func (c *Coordinator) Mount(ctx context.Context, surface models.Surface, sk sink.Sink) error {
	if !surface.Valid() {
		return models.ErrInvalidSurface
	}
	return c.mutate(EventMounted, func() error {
		if _, ok := c.surfaces[surface]; ok {
			return fmt.Errorf("%w: %s", ErrAlreadyMounted, surface)
		}
		p := player.New(player.Config{
			Surface:    surface,
			Sink:       sk,
			Factory:    c.factory,
			Classifier: c.classifier,
			Autoplay:   c.autoplay,
			Tracker:    c.ledger,
			Logger:     c.logger,
		})
		c.surfaces[surface] = &slot{sink: sk, player: p}
		c.logger.Info("surface mounted", slog.String("surface", string(surface)), slog.String("sink", sk.ID()))

		if c.state.hasIntent() && c.state.ActiveSurface == surface {
			return c.materializeLocked(ctx, surface, 0)
		}
		return nil
	})
}

// Unmount destroys a surface's player. When the surface owned the intent,
// ownership moves to the other surface, which picks the session up now if
// mounted or on its next mount.
func (c *Coordinator) Unmount(ctx context.Context, surface models.Surface) error {
	if !surface.Valid() {
		return models.ErrInvalidSurface
	}
	return c.mutate(EventUnmounted, func() error {
		sl, ok := c.surfaces[surface]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotMounted, surface)
		}
		position := c.positionLocked(surface)
		sl.player.Destroy()
		delete(c.surfaces, surface)
		c.logger.Info("surface unmounted", slog.String("surface", string(surface)))

		if !c.state.hasIntent() || c.state.ActiveSurface != surface {
			return nil
		}
		to := surface.Other()
		c.state.ActiveSurface = to
		metrics.IncHandover(string(surface), string(to))
		if _, mounted := c.surfaces[to]; mounted {
			return c.materializeLocked(ctx, to, position)
		}
		return nil
	})
}

// Play records a new intent for surface and starts it there. Any other
// surface's session is torn down first.
func (c *Coordinator) Play(ctx context.Context, ch *models.Channel, streamURL string, surface models.Surface) error {
	if !surface.Valid() {
		return models.ErrInvalidSurface
	}
	desc := models.StreamDescriptor{URL: streamURL, SurfaceHint: surface}
	if err := desc.Validate(); err != nil {
		return err
	}
	return c.mutate(EventPlay, func() error {
		if err := c.stopOthersLocked(surface); err != nil {
			return err
		}
		var chCopy *models.Channel
		if ch != nil {
			v := *ch
			chCopy = &v
		}
		c.state = GlobalState{
			Channel:       chCopy,
			StreamURL:     streamURL,
			IsPlaying:     true,
			ActiveSurface: surface,
		}
		if _, mounted := c.surfaces[surface]; !mounted {
			c.logger.Info("playback intent recorded for unmounted surface", slog.String("surface", string(surface)))
			return nil
		}
		return c.materializeLocked(ctx, surface, 0)
	})
}

// PlayChannel resolves channelID through the channel service and plays it.
func (c *Coordinator) PlayChannel(ctx context.Context, channelID string, surface models.Surface) error {
	if c.resolver == nil {
		return &player.Error{Kind: player.KindExternalService, Op: "play_channel", Err: errors.New("no channel resolver configured")}
	}
	ch, desc, err := c.resolver.Resolve(ctx, channelID)
	if err != nil {
		if _, ok := player.KindOf(err); ok {
			return err
		}
		return &player.Error{Kind: player.KindExternalService, Op: "play_channel", Err: err}
	}
	return c.Play(ctx, &ch, desc.URL, surface)
}

// Minimize hands the session to the floating surface.
func (c *Coordinator) Minimize(ctx context.Context) error {
	return c.handover(ctx, models.SurfaceFloating)
}

// Expand hands the session to the embedded surface.
func (c *Coordinator) Expand(ctx context.Context) error {
	return c.handover(ctx, models.SurfaceEmbedded)
}

func (c *Coordinator) handover(ctx context.Context, to models.Surface) error {
	done := observability.TimedOperation(ctx, c.logger, "handover")
	defer done()
	return c.mutate(EventHandover, func() error {
		if !c.state.hasIntent() {
			return ErrNothingPlaying
		}
		from := c.state.ActiveSurface
		if from == to {
			return nil
		}

		position := c.positionLocked(from)
		if sl, ok := c.surfaces[from]; ok {
			if err := sl.player.Stop(); err != nil {
				return err
			}
		}
		if n := c.ledger.Count(); n != 0 {
			metrics.IncInvariantViolation("handover_with_live_handle")
			return fmt.Errorf("%w: %d live handles after detach", ErrInvariant, n)
		}

		c.state.ActiveSurface = to
		metrics.IncHandover(string(from), string(to))
		c.logger.Info("playback handed over",
			slog.String("from", string(from)),
			slog.String("to", string(to)))

		if _, mounted := c.surfaces[to]; !mounted {
			return nil
		}
		return c.materializeLocked(ctx, to, position)
	})
}

// Pause pauses the active surface and records the intent.
func (c *Coordinator) Pause(_ context.Context) error {
	return c.mutate(EventPause, func() error {
		if !c.state.hasIntent() {
			return ErrNothingPlaying
		}
		if p := c.activePlayerLocked(); p != nil {
			p.SetAutoplay(false)
			// A player that has not started yet is already paused.
			if st := p.State(); st != player.StateInitializing && st != player.StateReady {
				if err := p.Pause(); err != nil {
					return err
				}
			}
		}
		c.state.IsPlaying = false
		return nil
	})
}

// Resume plays the active surface and records the intent.
func (c *Coordinator) Resume(ctx context.Context) error {
	return c.mutate(EventResume, func() error {
		if !c.state.hasIntent() {
			return ErrNothingPlaying
		}
		if p := c.activePlayerLocked(); p != nil {
			p.SetAutoplay(true)
			if p.State() != player.StateInitializing {
				if err := p.Play(ctx); err != nil {
					return err
				}
			}
		}
		c.state.IsPlaying = true
		return nil
	})
}

// Stop ends playback on every surface and clears the intent.
func (c *Coordinator) Stop(ctx context.Context) error {
	return c.mutate(EventStop, func() error {
		var errs []error
		for _, sl := range c.surfaces {
			if sl.player.State() == player.StateIdle {
				continue
			}
			if err := sl.player.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
		c.state = GlobalState{}
		return errors.Join(errs...)
	})
}

// State returns the current intent.
func (c *Coordinator) State() GlobalState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Player returns the player mounted on surface.
func (c *Coordinator) Player(surface models.Surface) (*player.Player, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sl, ok := c.surfaces[surface]
	if !ok {
		return nil, false
	}
	return sl.player, true
}

// ActivePlayer returns the player on the owning surface.
func (c *Coordinator) ActivePlayer() (*player.Player, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.activePlayerLocked()
	return p, p != nil
}

// Snapshot is the read model of the coordinator and its players.
type Snapshot struct {
	State       GlobalState                        `json:"state"`
	Players     map[models.Surface]player.Snapshot `json:"players"`
	LiveHandles map[models.Surface]string          `json:"live_handles"`
}

// Snapshot returns the intent together with each mounted player's snapshot.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{
		State:       c.stateLocked(),
		Players:     make(map[models.Surface]player.Snapshot, len(c.surfaces)),
		LiveHandles: c.ledger.Live(),
	}
	for s, sl := range c.surfaces {
		snap.Players[s] = sl.player.Snapshot()
	}
	return snap
}

// CheckInvariants verifies that at most one live handle exists and that
// only the owning surface holds it.
func (c *Coordinator) CheckInvariants() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checkInvariantsLocked()
}

func (c *Coordinator) checkInvariantsLocked() error {
	var errs []error
	live := c.ledger.Live()
	if len(live) > 1 {
		errs = append(errs, fmt.Errorf("%w: %d live handles", ErrInvariant, len(live)))
	}
	for s, sl := range c.surfaces {
		if s == c.state.ActiveSurface {
			continue
		}
		if id := sl.player.HandleID(); id != "" {
			errs = append(errs, fmt.Errorf("%w: non-owner surface %s holds handle %s", ErrInvariant, s, id))
		}
	}
	if err := errors.Join(errs...); err != nil {
		metrics.IncInvariantViolation("check")
		return err
	}
	return nil
}

// Subscribe registers fn for change events. fn runs outside the coordinator
// lock and must not block.
func (c *Coordinator) Subscribe(fn func(Event)) (cancel func()) {
	c.subsMu.Lock()
	c.subsID++
	id := c.subsID
	c.subs[id] = fn
	c.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subsMu.Lock()
			delete(c.subs, id)
			c.subsMu.Unlock()
		})
	}
}

// Close destroys every mounted player. The coordinator rejects later operations.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for s, sl := range c.surfaces {
		sl.player.Destroy()
		delete(c.surfaces, s)
	}
}

// mutate runs fn under the lock and publishes an event when it succeeds.
func (c *Coordinator) mutate(typ EventType, fn func() error) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	err := fn()
	state := c.stateLocked()
	c.mu.Unlock()

	if err == nil {
		c.publish(Event{ID: models.NewULID(), Type: typ, State: state, At: time.Now()})
	}
	return err
}

func (c *Coordinator) publish(e Event) {
	c.subsMu.Lock()
	fns := make([]func(Event), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subsMu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
}

func (c *Coordinator) stateLocked() GlobalState {
	st := c.state
	if st.Channel != nil {
		ch := *st.Channel
		st.Channel = &ch
	}
	return st
}

// materializeLocked starts the intent on a mounted surface.
func (c *Coordinator) materializeLocked(ctx context.Context, surface models.Surface, position time.Duration) error {
	sl := c.surfaces[surface]
	sl.player.SetAutoplay(c.autoplay && c.state.IsPlaying)
	desc := models.StreamDescriptor{URL: c.state.StreamURL, SurfaceHint: surface}
	if err := sl.player.LoadAt(ctx, desc, position); err != nil {
		return err
	}
	if err := c.checkInvariantsLocked(); err != nil {
		c.logger.Error("invariant check failed after attach", slog.String("error", err.Error()))
		return err
	}
	return nil
}

// stopOthersLocked tears down every session not on keep.
func (c *Coordinator) stopOthersLocked(keep models.Surface) error {
	for s, sl := range c.surfaces {
		if s == keep || sl.player.State() == player.StateIdle {
			continue
		}
		if err := sl.player.Stop(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) activePlayerLocked() *player.Player {
	sl, ok := c.surfaces[c.state.ActiveSurface]
	if !ok {
		return nil
	}
	return sl.player
}

func (c *Coordinator) positionLocked(surface models.Surface) time.Duration {
	sl, ok := c.surfaces[surface]
	if !ok {
		return 0
	}
	info := sl.player.Snapshot().Session
	if info == nil {
		return 0
	}
	return info.Position
}
