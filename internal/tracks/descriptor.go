// Package tracks is the normalized view of quality levels, audio tracks and
// subtitle tracks, independent of the adapter that produced them.
package tracks

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Auto selects adaptive quality. Disabled turns subtitles off. Both share the
// -1 sentinel, which never collides with a real index.
const (
	Auto     = -1
	Disabled = -1
)

// UnknownLanguage is reported for tracks without a usable language tag.
const UnknownLanguage = "unknown"

// Descriptor is a normalized track.
type Descriptor struct {
	Index     int    `json:"index"`
	ID        string `json:"id"`
	Label     string `json:"label"`
	Language  string `json:"language"`
	IsDefault bool   `json:"is_default"`
}

// Quality is a normalized quality level.
type Quality struct {
	Descriptor
	Height  int `json:"height,omitempty"`
	Bitrate int `json:"bitrate,omitempty"`
}

// RawQuality is a quality level as an adapter sees it (manifest variant).
type RawQuality struct {
	ID      string
	Name    string
	Height  int
	Bitrate int
	Default bool
}

// RawTrack is an audio or subtitle track as an adapter or sink sees it
// (manifest rendition, PMT descriptor, sink-native track).
type RawTrack struct {
	ID       string
	Name     string
	Language string
	Default  bool
}

// NormalizeQualities turns raw levels into contiguous descriptors, keeping
// input order so index i addresses the adapter's level i.
func NormalizeQualities(raw []RawQuality) []Quality {
	out := make([]Quality, 0, len(raw))
	for i, r := range raw {
		id := r.ID
		if id == "" {
			id = fmt.Sprint(i)
		}
		out = append(out, Quality{
			Descriptor: Descriptor{
				Index:     i,
				ID:        id,
				Label:     qualityLabel(r, i),
				Language:  UnknownLanguage,
				IsDefault: r.Default,
			},
			Height:  r.Height,
			Bitrate: r.Bitrate,
		})
	}
	return out
}

// NormalizeTracks turns raw audio or subtitle tracks into contiguous descriptors.
func NormalizeTracks(raw []RawTrack) []Descriptor {
	out := make([]Descriptor, 0, len(raw))
	for i, r := range raw {
		id := r.ID
		if id == "" {
			id = fmt.Sprint(i)
		}
		lang, tag := NormalizeLanguage(r.Language)
		out = append(out, Descriptor{
			Index:     i,
			ID:        id,
			Label:     trackLabel(r.Name, tag, i),
			Language:  lang,
			IsDefault: r.Default,
		})
	}
	return out
}

// NormalizeLanguage canonicalizes a BCP 47 or ISO 639 tag ("eng" -> "en").
// Empty, undetermined or unparsable input yields UnknownLanguage.
func NormalizeLanguage(raw string) (string, language.Tag) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return UnknownLanguage, language.Und
	}
	tag, err := language.Parse(raw)
	if err != nil || tag == language.Und {
		return UnknownLanguage, language.Und
	}
	return tag.String(), tag
}

func qualityLabel(r RawQuality, index int) string {
	switch {
	case r.Name != "":
		return r.Name
	case r.Height > 0:
		return fmt.Sprintf("%dp", r.Height)
	case r.Bitrate >= 1_000_000:
		return strings.TrimSuffix(strings.TrimSuffix(fmt.Sprintf("%.1f", float64(r.Bitrate)/1_000_000), "0"), ".") + " Mbps"
	case r.Bitrate > 0:
		return fmt.Sprintf("%d kbps", r.Bitrate/1000)
	default:
		return fmt.Sprintf("Level %d", index+1)
	}
}

func trackLabel(name string, tag language.Tag, index int) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	if tag != language.Und {
		if n := display.English.Tags().Name(tag); n != "" {
			return n
		}
	}
	return fmt.Sprintf("Track %d", index+1)
}
