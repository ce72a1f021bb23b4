package models

import "fmt"

// Surface names one of the two presentations able to host a sink.
type Surface string

const (
	// SurfaceEmbedded is the full player embedded in a page.
	SurfaceEmbedded Surface = "embedded"
	// SurfaceFloating is the persistent floating mini-player.
	SurfaceFloating Surface = "floating"
)

// Surfaces lists every surface in a stable order.
var Surfaces = []Surface{SurfaceEmbedded, SurfaceFloating}

// Valid reports whether s is a known surface.
func (s Surface) Valid() bool {
	return s == SurfaceEmbedded || s == SurfaceFloating
}

// Other returns the opposite surface.
func (s Surface) Other() Surface {
	if s == SurfaceEmbedded {
		return SurfaceFloating
	}
	return SurfaceEmbedded
}

// ParseSurface parses a surface name.
func ParseSurface(s string) (Surface, error) {
	surface := Surface(s)
	if !surface.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidSurface, s)
	}
	return surface, nil
}

// StreamDescriptor identifies what to play and where. It is immutable once a
// session starts; a different descriptor always produces a new session.
type StreamDescriptor struct {
	URL         string  `json:"url"`
	SurfaceHint Surface `json:"surface_hint,omitempty"`
}

// Validate checks the descriptor carries a URL and, if given, a known surface.
func (d StreamDescriptor) Validate() error {
	if d.URL == "" {
		return ErrStreamURLRequired
	}
	if d.SurfaceHint != "" && !d.SurfaceHint.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSurface, d.SurfaceHint)
	}
	return nil
}
