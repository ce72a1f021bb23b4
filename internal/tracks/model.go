package tracks

import (
	"errors"
	"fmt"
	"slices"
)

// ErrIndexOutOfRange is returned when a selection names no existing track.
var ErrIndexOutOfRange = errors.New("track index out of range")

// Collection names one of the three track collections.
type Collection string

const (
	CollectionQuality  Collection = "quality"
	CollectionAudio    Collection = "audio"
	CollectionSubtitle Collection = "subtitle"
)

// RangeError reports a rejected selection.
type RangeError struct {
	Collection Collection
	Index      int
	Count      int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s index %d not in [0,%d)", e.Collection, e.Index, e.Count)
}

func (e *RangeError) Unwrap() error { return ErrIndexOutOfRange }

// View is an immutable copy of the model.
type View struct {
	Qualities       []Quality    `json:"qualities"`
	AudioTracks     []Descriptor `json:"audio_tracks"`
	SubtitleTracks  []Descriptor `json:"subtitle_tracks"`
	CurrentQuality  int          `json:"current_quality"`
	CurrentAudio    int          `json:"current_audio"`
	CurrentSubtitle int          `json:"current_subtitle"`
	AutoQuality     bool         `json:"auto_quality"`
}

// Model holds the three collections and the current selections. It is not
// safe for concurrent use; the owning player serializes access.
type Model struct {
	qualities []Quality
	audio     []Descriptor
	subtitles []Descriptor

	currentQuality  int
	currentAudio    int
	currentSubtitle int
}

// NewModel returns an empty model in automatic quality with subtitles off.
func NewModel() *Model {
	return &Model{
		currentQuality:  Auto,
		currentAudio:    -1,
		currentSubtitle: Disabled,
	}
}

// Reset clears every collection and selection.
func (m *Model) Reset() {
	*m = *NewModel()
}

// SetQualities replaces the quality levels. A manual selection that no longer
// exists reverts to automatic.
func (m *Model) SetQualities(q []Quality) {
	m.qualities = reindexQualities(q)
	if m.currentQuality >= len(m.qualities) {
		m.currentQuality = Auto
	}
}

// SetAudioTracks replaces the audio tracks. The current track is kept when it
// still exists, else the default track (or the first one) becomes current.
func (m *Model) SetAudioTracks(t []Descriptor) {
	m.audio = reindex(t)
	if m.currentAudio >= 0 && m.currentAudio < len(m.audio) {
		return
	}
	m.currentAudio = -1
	if len(m.audio) > 0 {
		m.currentAudio = 0
	}
	for _, d := range m.audio {
		if d.IsDefault {
			m.currentAudio = d.Index
			break
		}
	}
}

// SetSubtitleTracks replaces the subtitle tracks. A selection that no longer
// exists reverts to Disabled; a default track is not enabled automatically.
func (m *Model) SetSubtitleTracks(t []Descriptor) {
	m.subtitles = reindex(t)
	if m.currentSubtitle >= len(m.subtitles) {
		m.currentSubtitle = Disabled
	}
}

// CheckQuality validates a quality selection without applying it.
func (m *Model) CheckQuality(index int) error {
	if index == Auto {
		return nil
	}
	return checkRange(CollectionQuality, index, len(m.qualities))
}

// CheckAudio validates an audio selection without applying it.
func (m *Model) CheckAudio(index int) error {
	return checkRange(CollectionAudio, index, len(m.audio))
}

// CheckSubtitle validates a subtitle selection without applying it.
func (m *Model) CheckSubtitle(index int) error {
	if index == Disabled {
		return nil
	}
	return checkRange(CollectionSubtitle, index, len(m.subtitles))
}

// SelectQuality selects a level, or Auto. Out of range leaves the model unchanged.
func (m *Model) SelectQuality(index int) error {
	if err := m.CheckQuality(index); err != nil {
		return err
	}
	m.currentQuality = index
	return nil
}

// SelectAudio selects an audio track. Out of range leaves the model unchanged.
func (m *Model) SelectAudio(index int) error {
	if err := m.CheckAudio(index); err != nil {
		return err
	}
	m.currentAudio = index
	return nil
}

// SelectSubtitle selects a subtitle track, or Disabled.
func (m *Model) SelectSubtitle(index int) error {
	if err := m.CheckSubtitle(index); err != nil {
		return err
	}
	m.currentSubtitle = index
	return nil
}

// CurrentQuality returns the selected level or Auto.
func (m *Model) CurrentQuality() int { return m.currentQuality }

// CurrentAudio returns the selected audio track, -1 when there are none.
func (m *Model) CurrentAudio() int { return m.currentAudio }

// CurrentSubtitle returns the selected subtitle track or Disabled.
func (m *Model) CurrentSubtitle() int { return m.currentSubtitle }

// Qualities returns a copy of the quality levels.
func (m *Model) Qualities() []Quality { return slices.Clone(m.qualities) }

// AudioTracks returns a copy of the audio tracks.
func (m *Model) AudioTracks() []Descriptor { return slices.Clone(m.audio) }

// SubtitleTracks returns a copy of the subtitle tracks.
func (m *Model) SubtitleTracks() []Descriptor { return slices.Clone(m.subtitles) }

// Snapshot returns a copy safe to hand to other goroutines.
func (m *Model) Snapshot() View {
	return View{
		Qualities:       m.Qualities(),
		AudioTracks:     m.AudioTracks(),
		SubtitleTracks:  m.SubtitleTracks(),
		CurrentQuality:  m.currentQuality,
		CurrentAudio:    m.currentAudio,
		CurrentSubtitle: m.currentSubtitle,
		AutoQuality:     m.currentQuality == Auto,
	}
}

func checkRange(c Collection, index, count int) error {
	if index < 0 || index >= count {
		return &RangeError{Collection: c, Index: index, Count: count}
	}
	return nil
}

func reindex(t []Descriptor) []Descriptor {
	out := slices.Clone(t)
	for i := range out {
		out[i].Index = i
	}
	return out
}

func reindexQualities(q []Quality) []Quality {
	out := slices.Clone(q)
	for i := range out {
		out[i].Index = i
	}
	return out
}
