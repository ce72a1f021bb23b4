// Package stream classifies stream descriptors into transport kinds.
package stream

import (
	"fmt"
	"strings"
)

// Kind is the detected delivery category of a stream.
type Kind int

const (
	// NativeFallback delegates decoding entirely to the sink.
	NativeFallback Kind = iota
	// AdaptiveManifest is a segmented adaptive manifest (HLS).
	AdaptiveManifest
	// RawTransportStream is a direct MPEG-TS URL.
	RawTransportStream
	// ProxiedTransportStream is an MPEG-TS stream served by the platform relay.
	ProxiedTransportStream
	// ProgressiveFile is a progressive container such as a recorded program.
	ProgressiveFile
)

var kindNames = map[Kind]string{
	NativeFallback:         "native_fallback",
	AdaptiveManifest:       "adaptive_manifest",
	RawTransportStream:     "raw_transport_stream",
	ProxiedTransportStream: "proxied_transport_stream",
	ProgressiveFile:        "progressive_file",
}

// Kinds lists every kind in declaration order.
var Kinds = []Kind{NativeFallback, AdaptiveManifest, RawTransportStream, ProxiedTransportStream, ProgressiveFile}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// UsesTransportAdapter reports whether the kind is played by the worker-based
// transport-stream adapter. Both TS kinds need an absolute URL.
func (k Kind) UsesTransportAdapter() bool {
	return k == RawTransportStream || k == ProxiedTransportStream
}

// ParseKind parses the String form of a kind. Hyphens and case are tolerated.
func ParseKind(s string) (Kind, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for k, name := range kindNames {
		if name == normalized {
			return k, nil
		}
	}
	return NativeFallback, fmt.Errorf("unknown transport kind %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
