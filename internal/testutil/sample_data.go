// Package testutil provides test utilities: fictional channel data and
// synthetic media fixtures.
package testutil

import (
	"fmt"
	"math/rand"

	"github.com/jmylchreest/tvarr-player/internal/models"
)

// Standard fictional broadcasters for test data.
// NEVER use real brand names like BBC, ESPN, HBO, Sky, etc.
var (
	Broadcasters = []string{
		"StreamCast",
		"ViewMedia",
		"AeroVision",
		"GlobalStream",
		"NationalNet",
		"SportsCentral",
		"CinemaMax",
		"MusicMax",
		"NewsFirst",
		"PrimeTV",
	}

	QualityVariants = []string{
		"HD",
		"SD",
		"4K",
		"UHD",
	}

	// Categories with their associated channel name suffixes.
	Categories = map[string][]string{
		"news":          {"News", "News HD", "World News", "Local News"},
		"sports":        {"Sports", "Sports HD", "Racing HD", "Sports Extra"},
		"movies":        {"Movies", "Movies HD", "Classic Movies", "Cinema"},
		"entertainment": {"Entertainment", "Entertainment HD", "Lifestyle", "Drama"},
		"music":         {"Music", "Music HD", "Hits", "Dance"},
		"kids":          {"Kids", "Kids HD", "Cartoons", "Family"},
	}

	// ProgramTitles are fictional titles used when starting test recordings.
	// NEVER use real show names, movie titles, or trademarked content.
	ProgramTitles = []string{
		"Morning Report",
		"Evening Edition",
		"World Tonight",
		"Quiz Masters",
		"City Hospital",
		"Match Day",
		"Nature World",
		"Cartoon Time",
		"Chart Show",
	}
)

// SampleDataGenerator generates realistic but fictional channel data for testing.
type SampleDataGenerator struct {
	rng *rand.Rand
}

// NewSampleDataGenerator creates a new sample data generator with a random seed.
func NewSampleDataGenerator() *SampleDataGenerator {
	return &SampleDataGenerator{
		rng: rand.New(rand.NewSource(rand.Int63())),
	}
}

// NewSampleDataGeneratorWithSeed creates a new generator with a fixed seed for reproducibility.
func NewSampleDataGeneratorWithSeed(seed int64) *SampleDataGenerator {
	return &SampleDataGenerator{
		rng: rand.New(rand.NewSource(seed)),
	}
}

// RandomBroadcaster returns a random broadcaster name.
func (g *SampleDataGenerator) RandomBroadcaster() string {
	return Broadcasters[g.rng.Intn(len(Broadcasters))]
}

// RandomQuality returns a random quality variant (HD, SD, 4K, UHD).
func (g *SampleDataGenerator) RandomQuality() string {
	return QualityVariants[g.rng.Intn(len(QualityVariants))]
}

// RandomProgramTitle returns a random fictional program title.
func (g *SampleDataGenerator) RandomProgramTitle() string {
	return ProgramTitles[g.rng.Intn(len(ProgramTitles))]
}

// GenerateChannelName generates a full channel name with broadcaster.
func (g *SampleDataGenerator) GenerateChannelName(category string) string {
	suffixes, ok := Categories[category]
	if !ok {
		suffixes = Categories["entertainment"]
	}
	return fmt.Sprintf("%s %s", g.RandomBroadcaster(), suffixes[g.rng.Intn(len(suffixes))])
}

// GenerateOptions configures channel generation.
type GenerateOptions struct {
	Category        string // news, sports, movies, entertainment, music, kids
	StartChannelNum int
	StreamURLBase   string // direct upstream base (defaults to stream.example.com)
	ProxyPathPrefix string // relay prefix; empty leaves ProxyURL unset
}

// DefaultGenerateOptions returns default generation options.
func DefaultGenerateOptions() GenerateOptions {
	return GenerateOptions{
		Category:        "entertainment",
		StartChannelNum: 101,
		StreamURLBase:   "https://stream.example.com/live/",
		ProxyPathPrefix: "/api/stream/",
	}
}

// GenerateChannels generates count channels with sequential ids.
func (g *SampleDataGenerator) GenerateChannels(count int, opts GenerateOptions) []models.Channel {
	channels := make([]models.Channel, count)

	for i := range count {
		id := fmt.Sprintf("ch%03d", i+1)
		ch := models.Channel{
			ID:         id,
			Name:       g.GenerateChannelName(opts.Category),
			Number:     opts.StartChannelNum + i,
			GroupTitle: opts.Category,
			StreamURL:  fmt.Sprintf("%s%d.ts", opts.StreamURLBase, i+1),
		}
		if opts.ProxyPathPrefix != "" {
			ch.ProxyURL = opts.ProxyPathPrefix + id
		}
		channels[i] = ch
	}

	return channels
}
