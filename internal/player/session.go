package player

import (
	"time"

	"github.com/jmylchreest/tvarr-player/internal/adapter"
	"github.com/jmylchreest/tvarr-player/internal/models"
	"github.com/jmylchreest/tvarr-player/internal/stream"
	"github.com/jmylchreest/tvarr-player/internal/tracks"
)

// Session binds one adapter, its handle, a track model and the player's
// sink for one descriptor. It is owned by the player and guarded by its lock.
type Session struct {
	ID         models.ULID
	Descriptor models.StreamDescriptor
	Kind       stream.Kind
	Ambiguous  bool
	RetryCount int
	StartedAt  time.Time

	epoch    uint64
	adapter  adapter.Adapter
	handle   *adapter.Handle
	tracks   *tracks.Model
	fellBack bool
	released bool
	resumeAt time.Duration
}

// SessionInfo is the read model of a session.
type SessionInfo struct {
	ID          string        `json:"id"`
	URL         string        `json:"url"`
	Kind        stream.Kind   `json:"kind"`
	AdapterKind stream.Kind   `json:"adapter_kind"`
	HandleID    string        `json:"handle_id,omitempty"`
	RetryCount  int           `json:"retry_count"`
	StartedAt   time.Time     `json:"started_at"`
	FellBack    bool          `json:"fell_back"`
	Ambiguous   bool          `json:"ambiguous"`
	Position    time.Duration `json:"position_ns"`
	Tracks      tracks.View   `json:"tracks"`
}

// Snapshot is the observable state of a player.
type Snapshot struct {
	Surface models.Surface `json:"surface"`
	State   State          `json:"state"`
	// Loading is shown while initializing or buffering.
	Loading bool `json:"loading"`
	// RetryAvailable is offered in the error state.
	RetryAvailable bool         `json:"retry_available"`
	Session        *SessionInfo `json:"session,omitempty"`
	LastError      string       `json:"last_error,omitempty"`
}

func (s *Session) info(position time.Duration) *SessionInfo {
	info := &SessionInfo{
		ID:         s.ID.String(),
		URL:        s.Descriptor.URL,
		Kind:       s.Kind,
		RetryCount: s.RetryCount,
		StartedAt:  s.StartedAt,
		FellBack:   s.fellBack,
		Ambiguous:  s.Ambiguous,
		Position:   position,
		Tracks:     s.tracks.Snapshot(),
	}
	if s.adapter != nil {
		info.AdapterKind = s.adapter.Kind()
	}
	if s.handle != nil {
		info.HandleID = s.handle.ID()
	}
	return info
}
