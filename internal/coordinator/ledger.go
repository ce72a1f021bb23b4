package coordinator

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/jmylchreest/tvarr-player/internal/metrics"
	"github.com/jmylchreest/tvarr-player/internal/models"
)

// Ledger tracks live adapter handles across surfaces. It implements
// player.HandleTracker and refuses a second live handle while one exists,
// which enforces the one-decoder-per-logical-session rule at attach time.
type Ledger struct {
	logger *slog.Logger

	mu   sync.Mutex
	live map[models.Surface]string
}

// NewLedger creates an empty ledger.
func NewLedger(logger *slog.Logger) *Ledger {
	return &Ledger{logger: logger, live: make(map[models.Surface]string)}
}

// HandleAttached records a new live handle.
func (l *Ledger) HandleAttached(surface models.Surface, handleID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for s, id := range l.live {
		if s == surface && id == handleID {
			return nil
		}
		metrics.IncInvariantViolation("second_live_handle")
		l.logger.Error("refusing second live adapter handle",
			slog.String("surface", string(surface)),
			slog.String("handle", handleID),
			slog.String("live_surface", string(s)),
			slog.String("live_handle", id))
		return fmt.Errorf("%w: %s already holds handle %s", ErrSecondHandle, s, id)
	}
	l.live[surface] = handleID
	return nil
}

// HandleDetached removes a handle. Unknown handles are ignored.
func (l *Ledger) HandleDetached(surface models.Surface, handleID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.live[surface] == handleID {
		delete(l.live, surface)
	}
}

// Live returns the live handle per surface.
func (l *Ledger) Live() map[models.Surface]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[models.Surface]string, len(l.live))
	for s, id := range l.live {
		out[s] = id
	}
	return out
}

// Count returns the number of live handles.
func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.live)
}
