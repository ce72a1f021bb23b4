package stream

import (
	"strings"

	"github.com/jmylchreest/tvarr-player/internal/models"
	"github.com/jmylchreest/tvarr-player/internal/urlutil"
)

// Default markers.
var (
	DefaultProxyPathPrefix      = "/api/stream/"
	DefaultRecordingPathMarkers = []string{"/recordings/", "/recording/", "/api/recordings/"}

	progressiveExtensions = []string{".mp4", ".mkv", ".webm", ".mov", ".m4v", ".avi"}
	manifestExtensions    = []string{".m3u8", ".m3u"}
	manifestQueryMarkers  = []string{"format=hls", "type=m3u8"}
	transportExtensions   = []string{".ts"}
	proxyPathMarker       = "/proxy/"
)

// Options configures a Classifier.
type Options struct {
	// ProxyPathPrefix is the path prefix of the platform relay endpoint.
	ProxyPathPrefix string
	// RecordingPathMarkers are path fragments that identify recorded programs.
	RecordingPathMarkers []string
}

// Result is the outcome of a classification.
type Result struct {
	Kind Kind
	// Ambiguous is set when no rule matched and Kind is the NativeFallback default.
	Ambiguous bool
	Reasons   []string
}

// Classifier maps stream URLs to transport kinds. It is pure and safe for
// concurrent use.
type Classifier struct {
	proxyPrefix      string
	recordingMarkers []string
}

// NewClassifier creates a classifier. Empty options fall back to the defaults.
func NewClassifier(opts Options) *Classifier {
	prefix := strings.ToLower(strings.TrimSpace(opts.ProxyPathPrefix))
	if prefix == "" {
		prefix = DefaultProxyPathPrefix
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}

	markers := opts.RecordingPathMarkers
	if len(markers) == 0 {
		markers = DefaultRecordingPathMarkers
	}
	lowered := make([]string, 0, len(markers))
	for _, m := range markers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			lowered = append(lowered, m)
		}
	}

	return &Classifier{proxyPrefix: prefix, recordingMarkers: lowered}
}

var defaultClassifier = NewClassifier(Options{})

// Classify maps a descriptor to a kind using the default markers.
func Classify(desc models.StreamDescriptor) Kind {
	return defaultClassifier.Classify(desc)
}

// ClassifyURL maps a URL to a kind using the default markers.
func ClassifyURL(raw string) Kind {
	return defaultClassifier.ClassifyURL(raw).Kind
}

// Classify maps a descriptor to a kind. It is total: unrecognized input yields NativeFallback.
func (c *Classifier) Classify(desc models.StreamDescriptor) Kind {
	return c.ClassifyURL(desc.URL).Kind
}

// ClassifyDetailed is Classify with the reasons and ambiguity flag.
func (c *Classifier) ClassifyDetailed(desc models.StreamDescriptor) Result {
	return c.ClassifyURL(desc.URL)
}

// ClassifyURL applies the rules in precedence order; the first match wins.
func (c *Classifier) ClassifyURL(raw string) Result {
	path := urlutil.PathOf(raw)
	query := urlutil.QueryOf(raw)

	if ext, ok := hasSuffix(path, progressiveExtensions); ok {
		return Result{Kind: ProgressiveFile, Reasons: []string{"progressive container " + ext}}
	}
	if marker, ok := contains(path, c.recordingMarkers); ok {
		return Result{Kind: ProgressiveFile, Reasons: []string{"recorded program path " + marker}}
	}

	if ext, ok := hasSuffix(path, manifestExtensions); ok {
		return Result{Kind: AdaptiveManifest, Reasons: []string{"manifest extension " + ext}}
	}
	if marker, ok := contains(query, manifestQueryMarkers); ok {
		return Result{Kind: AdaptiveManifest, Reasons: []string{"manifest marker " + marker}}
	}
	if marker, ok := contains(path, manifestQueryMarkers); ok {
		return Result{Kind: AdaptiveManifest, Reasons: []string{"manifest marker " + marker + " in path"}}
	}

	if ext, ok := hasSuffix(path, transportExtensions); ok {
		return Result{Kind: RawTransportStream, Reasons: []string{"transport stream extension " + ext}}
	}

	if strings.HasPrefix(path, c.proxyPrefix) {
		return Result{Kind: ProxiedTransportStream, Reasons: []string{"relay path " + c.proxyPrefix}}
	}
	if strings.Contains(path, proxyPathMarker) {
		return Result{Kind: ProxiedTransportStream, Reasons: []string{"relay path " + proxyPathMarker}}
	}

	return Result{Kind: NativeFallback, Ambiguous: true, Reasons: []string{"no marker matched, deferring to native decoding"}}
}

func hasSuffix(s string, suffixes []string) (string, bool) {
	for _, suffix := range suffixes {
		if strings.HasSuffix(s, suffix) {
			return suffix, true
		}
	}
	return "", false
}

func contains(s string, markers []string) (string, bool) {
	if s == "" {
		return "", false
	}
	for _, m := range markers {
		if strings.Contains(s, m) {
			return m, true
		}
	}
	return "", false
}
