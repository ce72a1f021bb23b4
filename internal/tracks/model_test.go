package tracks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadedModel() *Model {
	m := NewModel()
	m.SetQualities(NormalizeQualities([]RawQuality{
		{Height: 360, Bitrate: 800_000},
		{Height: 720, Bitrate: 2_500_000},
		{Height: 1080, Bitrate: 5_000_000},
	}))
	m.SetAudioTracks(NormalizeTracks([]RawTrack{
		{Language: "eng", Default: true},
		{Language: "fra"},
	}))
	m.SetSubtitleTracks(NormalizeTracks([]RawTrack{
		{Language: "en", Name: "English CC"},
	}))
	return m
}

func TestModel_QualityAutoSentinel(t *testing.T) {
	m := loadedModel()
	assert.Equal(t, Auto, m.CurrentQuality())

	require.NoError(t, m.SelectQuality(2))
	assert.Equal(t, 2, m.CurrentQuality())
	assert.False(t, m.Snapshot().AutoQuality)

	require.NoError(t, m.SelectQuality(Auto))
	assert.Equal(t, Auto, m.CurrentQuality())
	assert.True(t, m.Snapshot().AutoQuality)
}

func TestModel_RejectsOutOfRange(t *testing.T) {
	m := loadedModel()
	require.Equal(t, 0, m.CurrentAudio())

	err := m.SelectAudio(99)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	var rangeErr *RangeError
	require.ErrorAs(t, err, &rangeErr)
	assert.Equal(t, CollectionAudio, rangeErr.Collection)
	assert.Equal(t, 99, rangeErr.Index)
	assert.Equal(t, 2, rangeErr.Count)
	assert.Equal(t, 0, m.CurrentAudio(), "current track unchanged")

	tests := []struct {
		name string
		pick func() error
	}{
		{"audio -1 is not a sentinel", func() error { return m.SelectAudio(-1) }},
		{"quality 3", func() error { return m.SelectQuality(3) }},
		{"quality -2", func() error { return m.SelectQuality(-2) }},
		{"subtitle 1", func() error { return m.SelectSubtitle(1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := m.Snapshot()
			assert.ErrorIs(t, tt.pick(), ErrIndexOutOfRange)
			assert.Equal(t, before, m.Snapshot())
		})
	}
}

func TestModel_Subtitles(t *testing.T) {
	m := loadedModel()
	assert.Equal(t, Disabled, m.CurrentSubtitle())

	require.NoError(t, m.SelectSubtitle(0))
	assert.Equal(t, 0, m.CurrentSubtitle())

	require.NoError(t, m.SelectSubtitle(Disabled))
	assert.Equal(t, Disabled, m.CurrentSubtitle())
}

func TestModel_ReplacingCollections(t *testing.T) {
	m := loadedModel()
	require.NoError(t, m.SelectQuality(2))
	require.NoError(t, m.SelectAudio(1))
	require.NoError(t, m.SelectSubtitle(0))

	m.SetQualities(NormalizeQualities([]RawQuality{{Height: 480}}))
	m.SetAudioTracks(NormalizeTracks([]RawTrack{{Language: "de"}, {Language: "it", Default: true}}))
	m.SetSubtitleTracks(nil)

	assert.Equal(t, Auto, m.CurrentQuality(), "vanished level reverts to auto")
	assert.Equal(t, 1, m.CurrentAudio(), "index still valid, kept")
	assert.Equal(t, Disabled, m.CurrentSubtitle())

	m.SetAudioTracks(NormalizeTracks([]RawTrack{{Language: "de"}}))
	assert.Equal(t, 0, m.CurrentAudio())

	m.SetAudioTracks(nil)
	assert.Equal(t, -1, m.CurrentAudio())

	m.Reset()
	assert.Empty(t, m.Qualities())
	assert.Equal(t, Auto, m.CurrentQuality())
}

func TestModel_IndicesContiguous(t *testing.T) {
	m := NewModel()
	m.SetAudioTracks([]Descriptor{{Index: 7, ID: "a"}, {Index: 3, ID: "b"}, {Index: 9, ID: "c", IsDefault: true}})

	for i, d := range m.AudioTracks() {
		assert.Equal(t, i, d.Index)
	}
	assert.Equal(t, 2, m.CurrentAudio(), "default track chosen")
}

func TestModel_SnapshotIsCopy(t *testing.T) {
	m := loadedModel()
	snap := m.Snapshot()
	snap.AudioTracks[0].Label = "mutated"

	assert.NotEqual(t, "mutated", m.AudioTracks()[0].Label)
}
