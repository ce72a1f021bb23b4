package testutil

import (
	"bytes"
	"strings"
	"testing"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSampleDataGeneratorWithSeed(t *testing.T) {
	gen1 := NewSampleDataGeneratorWithSeed(42)
	gen2 := NewSampleDataGeneratorWithSeed(42)

	// Same seed should produce same results
	assert.Equal(t, gen1.RandomBroadcaster(), gen2.RandomBroadcaster())
	assert.Equal(t, gen1.RandomProgramTitle(), gen2.RandomProgramTitle())
}

func TestRandomQuality(t *testing.T) {
	gen := NewSampleDataGenerator()

	for range 10 {
		assert.Contains(t, QualityVariants, gen.RandomQuality())
	}
}

func TestGenerateChannels(t *testing.T) {
	gen := NewSampleDataGeneratorWithSeed(7)
	channels := gen.GenerateChannels(3, DefaultGenerateOptions())

	require.Len(t, channels, 3)
	assert.Equal(t, "ch001", channels[0].ID)
	assert.Equal(t, 101, channels[0].Number)
	assert.Equal(t, "/api/stream/ch001", channels[0].ProxyURL)
	assert.Equal(t, "/api/stream/ch001", channels[0].PlaybackURL())
	for _, ch := range channels {
		assert.NoError(t, ch.Validate())
	}

	opts := DefaultGenerateOptions()
	opts.ProxyPathPrefix = ""
	direct := gen.GenerateChannels(1, opts)
	assert.True(t, strings.HasSuffix(direct[0].PlaybackURL(), "1.ts"))
}

func TestNoRealBrandNames(t *testing.T) {
	banned := []string{"BBC", "ESPN", "HBO", "Sky", "CNN", "Fox"}
	for _, b := range Broadcasters {
		for _, word := range banned {
			assert.NotContains(t, b, word)
		}
	}
}

func TestTransportStream(t *testing.T) {
	data, err := TransportStream(TSOptions{Video: true, Audio: true, Frames: 2})
	require.NoError(t, err)
	require.NotEmpty(t, data)
	assert.Zero(t, len(data)%188, "whole TS packets")
	assert.Equal(t, byte(0x47), data[0])

	_, err = TransportStream(TSOptions{})
	assert.Error(t, err)
}

func TestMultivariantPlaylist_Parses(t *testing.T) {
	text := MultivariantPlaylist(
		[]Variant{
			{Bandwidth: 800_000, Width: 640, Height: 360, URI: "360.m3u8"},
			{Bandwidth: 2_500_000, Width: 1280, Height: 720, URI: "720.m3u8"},
		},
		[]Rendition{
			{Type: "AUDIO", GroupID: "aud", Name: "English", Language: "en", Default: true, URI: "en.m3u8"},
			{Type: "SUBTITLES", GroupID: "subs", Name: "Deutsch", Language: "de", URI: "de.m3u8"},
		},
	)

	pl, err := playlist.Unmarshal([]byte(text))
	require.NoError(t, err)
	mv, ok := pl.(*playlist.Multivariant)
	require.True(t, ok)
	assert.Len(t, mv.Variants, 2)
	assert.Len(t, mv.Renditions, 2)

	media, err := playlist.Unmarshal([]byte(MediaPlaylist([]string{"a.ts", "b.ts"}, 2)))
	require.NoError(t, err)
	_, ok = media.(*playlist.Media)
	assert.True(t, ok)
	assert.True(t, bytes.Contains([]byte(text), []byte(`AUDIO="aud"`)))
}
