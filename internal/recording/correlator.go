package recording

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/tvarr-player/internal/metrics"
	"github.com/jmylchreest/tvarr-player/internal/models"
	"github.com/jmylchreest/tvarr-player/internal/observability"
)

// Default intervals.
const (
	DefaultPollInterval    = 30 * time.Second
	DefaultTickInterval    = time.Second
	DefaultDurationMinutes = 60
	defaultRequestTimeout  = 10 * time.Second
)

// Correlation is the recording state of the watched channel. It mirrors the
// service and is never authoritative.
type Correlation struct {
	ChannelID   string    `json:"channel_id,omitempty"`
	Status      string    `json:"status,omitempty"`
	RecordingID string    `json:"recording_id,omitempty"`
	Title       string    `json:"title,omitempty"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	Elapsed     string    `json:"elapsed,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitzero"`
}

// Recording reports whether the channel is being recorded.
func (c Correlation) Recording() bool {
	return c.Status == models.RecordingStatusRecording
}

// CorrelatorConfig configures a Correlator.
type CorrelatorConfig struct {
	PollInterval           time.Duration
	TickInterval           time.Duration
	DefaultDurationMinutes int
	// Now is swapped in tests.
	Now    func() time.Time
	Logger *slog.Logger
}

// Correlator polls the recording service for the watched channel and keeps
// a ticking elapsed-time display. Poll results for a channel that is no
// longer watched are dropped.
type Correlator struct {
	svc    Service
	cfg    CorrelatorConfig
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	epoch   uint64
	current Correlation
	entries []cron.EntryID
	running bool
	want    string
	follows sync.WaitGroup

	subsMu sync.Mutex
	subsID int
	subs   map[int]func(Correlation)
}

// NewCorrelator creates a correlator over svc. Start runs its schedule.
func NewCorrelator(svc Service, cfg CorrelatorConfig) *Correlator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.DefaultDurationMinutes <= 0 {
		cfg.DefaultDurationMinutes = DefaultDurationMinutes
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.Discard()
	}
	return &Correlator{
		svc:    svc,
		cfg:    cfg,
		cron:   cron.New(),
		logger: observability.WithComponent(cfg.Logger, "recording"),
		subs:   make(map[int]func(Correlation)),
	}
}

// Start runs the poll and tick schedule.
func (c *Correlator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.cron.Start()
	c.logger.Info("recording correlator started",
		slog.Duration("poll_interval", c.cfg.PollInterval),
		slog.Duration("tick_interval", c.cfg.TickInterval))
}

// Stop halts the schedule and waits for running jobs.
func (c *Correlator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	<-c.cron.Stop().Done()
	c.follows.Wait()
	c.logger.Info("recording correlator stopped")
}

// Follow is a non-blocking Watch for callers that must not wait on the
// recording service, such as coordinator subscribers.
// The most recent call wins when several are in flight.
func (c *Correlator) Follow(channelID string) {
	channelID = strings.TrimSpace(channelID)
	c.mu.Lock()
	same := c.want == channelID && c.current.ChannelID == channelID
	c.want = channelID
	c.mu.Unlock()
	if same {
		return
	}
	c.follows.Add(1)
	go func() {
		defer c.follows.Done()
		c.mu.Lock()
		channelID := c.want
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
		defer cancel()
		if err := c.Watch(ctx, channelID); err != nil {
			c.logger.Debug("initial recording poll failed",
				slog.String("channel_id", channelID),
				slog.String("error", err.Error()))
		}
	}()
}

// Watch switches the correlation to channelID and polls once immediately.
// An empty channelID is Unwatch.
func (c *Correlator) Watch(ctx context.Context, channelID string) error {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		c.Unwatch()
		return nil
	}

	c.mu.Lock()
	if c.current.ChannelID == channelID && len(c.entries) > 0 {
		c.mu.Unlock()
		return nil
	}
	c.epoch++
	epoch := c.epoch
	c.removeEntriesLocked()
	c.current = Correlation{ChannelID: channelID}
	c.entries = append(c.entries,
		c.cron.Schedule(cron.Every(c.cfg.PollInterval), cron.FuncJob(func() { c.scheduledPoll(epoch) })),
		c.cron.Schedule(cron.Every(c.cfg.TickInterval), cron.FuncJob(func() { c.tick(epoch) })),
	)
	snap := c.current
	c.mu.Unlock()

	c.logger.Debug("watching channel recordings", slog.String("channel_id", channelID))
	c.notify(snap)
	return c.poll(ctx, epoch)
}

// Unwatch stops correlating and clears the state.
func (c *Correlator) Unwatch() {
	c.mu.Lock()
	c.epoch++
	c.removeEntriesLocked()
	c.current = Correlation{}
	snap := c.current
	c.mu.Unlock()

	c.notify(snap)
}

// Current returns the correlation with elapsed time computed now.
func (c *Correlator) Current() Correlation {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshElapsedLocked()
	return c.current
}

// Refresh polls the service now.
func (c *Correlator) Refresh(ctx context.Context) error {
	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()
	return c.poll(ctx, epoch)
}

// StartRecording records the watched channel. durationMinutes <= 0 uses the
// configured default.
func (c *Correlator) StartRecording(ctx context.Context, title string, durationMinutes int) (*models.RecordingSession, error) {
	c.mu.Lock()
	channelID, epoch := c.current.ChannelID, c.epoch
	c.mu.Unlock()
	if channelID == "" {
		return nil, models.ErrChannelIDRequired
	}
	if durationMinutes <= 0 {
		durationMinutes = c.cfg.DefaultDurationMinutes
	}

	session, err := c.svc.Start(ctx, channelID, title, durationMinutes)
	if err != nil {
		c.recordError(epoch, err)
		return nil, err
	}
	c.logger.Info("recording started",
		slog.String("channel_id", channelID),
		slog.String("recording_id", session.ID),
		slog.Int("duration_minutes", durationMinutes))
	_ = c.poll(ctx, epoch)
	return session, nil
}

// StopRecording stops the watched channel's recording.
func (c *Correlator) StopRecording(ctx context.Context) error {
	c.mu.Lock()
	id, epoch := c.current.RecordingID, c.epoch
	recording := c.current.Recording()
	c.mu.Unlock()
	if !recording || id == "" {
		return ErrNotRecording
	}

	if err := c.svc.Stop(ctx, id); err != nil {
		c.recordError(epoch, err)
		return err
	}
	c.logger.Info("recording stopped", slog.String("recording_id", id))
	_ = c.poll(ctx, epoch)
	return nil
}

// Subscribe registers fn for correlation changes.
func (c *Correlator) Subscribe(fn func(Correlation)) (cancel func()) {
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

func (c *Correlator) scheduledPoll(epoch uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
	defer cancel()
	_ = c.poll(ctx, epoch)
}

// poll fetches the active recording and applies it if epoch is still current.
func (c *Correlator) poll(ctx context.Context, epoch uint64) error {
	c.mu.Lock()
	channelID := c.current.ChannelID
	stale := epoch != c.epoch
	c.mu.Unlock()
	if stale || channelID == "" {
		return nil
	}

	session, err := c.svc.ListActive(ctx, channelID)
	metrics.IncRecordingPoll(err == nil)
	if err != nil {
		c.recordError(epoch, err)
		return err
	}

	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		c.logger.Debug("dropping stale recording poll", slog.String("channel_id", channelID))
		return nil
	}
	next := Correlation{ChannelID: channelID, UpdatedAt: c.cfg.Now()}
	if session.IsRecording() {
		next.Status = session.Status
		next.RecordingID = session.ID
		next.Title = session.Title
		next.StartedAt = session.StartedAt
	}
	c.current = next
	c.refreshElapsedLocked()
	snap := c.current
	c.mu.Unlock()

	c.notify(snap)
	return nil
}

// recordError keeps the last good correlation and notes the failure.
func (c *Correlator) recordError(epoch uint64, err error) {
	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	c.current.LastError = err.Error()
	snap := c.current
	c.mu.Unlock()

	c.notify(snap)
}

func (c *Correlator) tick(epoch uint64) {
	c.mu.Lock()
	if epoch != c.epoch || !c.current.Recording() {
		c.mu.Unlock()
		return
	}
	c.refreshElapsedLocked()
	snap := c.current
	c.mu.Unlock()

	c.notify(snap)
}

func (c *Correlator) refreshElapsedLocked() {
	if !c.current.Recording() || c.current.StartedAt.IsZero() {
		c.current.Elapsed = ""
		return
	}
	c.current.Elapsed = FormatElapsed(c.cfg.Now().Sub(c.current.StartedAt))
}

func (c *Correlator) removeEntriesLocked() {
	for _, id := range c.entries {
		c.cron.Remove(id)
	}
	c.entries = nil
}

func (c *Correlator) notify(snap Correlation) {
	c.subsMu.Lock()
	fns := make([]func(Correlation), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subsMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
