// Package urlutil provides URL manipulation utilities.
package urlutil

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// URL scheme constants.
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)

// ErrNotAbsolute is returned when a URL cannot be made absolute.
var ErrNotAbsolute = errors.New("url is not absolute")

// NormalizeBaseURL normalizes a base URL for consistent use:
//   - Adds http:// scheme if no scheme provided
//   - Removes trailing slash for clean path joining
//
// Examples:
//
//	"www.mysite.com"       -> "http://www.mysite.com"
//	"https://mysite.com/"  -> "https://mysite.com"
//	"http://localhost:8080/" -> "http://localhost:8080"
//	"mysite.com:8080"      -> "http://mysite.com:8080"
func NormalizeBaseURL(baseURL string) string {
	if baseURL == "" {
		return ""
	}

	baseURL = strings.TrimSpace(baseURL)

	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}

	return strings.TrimSuffix(baseURL, "/")
}

// JoinPath joins a base URL with a path, ensuring single slashes.
// The path should start with / for absolute paths.
func JoinPath(baseURL, path string) string {
	if baseURL == "" {
		return path
	}

	baseURL = strings.TrimSuffix(baseURL, "/")

	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return baseURL + path
}

// IsRemoteURL checks if a URL is a remote URL that can be fetched.
// This includes:
//   - URLs with http:// or https:// scheme
//   - Protocol-relative URLs (//example.com/...)
//
// Returns false for relative paths, empty strings, or local paths.
func IsRemoteURL(u string) bool {
	lower := strings.ToLower(u)
	return strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "//")
}

// GetScheme returns the scheme of a URL (http, https) or empty string if unknown.
func GetScheme(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Scheme)
}

// Resolve returns ref resolved against the document URL base following
// RFC 3986: a relative ref replaces the last path segment of base, as a
// playlist entry does against the playlist that lists it.
//
// Examples:
//
//	Resolve("http://host/live/master.m3u8", "v1/index.m3u8") -> "http://host/live/v1/index.m3u8"
//	Resolve("http://host/live/master.m3u8", "/seg/1.ts")     -> "http://host/seg/1.ts"
//	Resolve("", "https://host/live/ch1/index.m3u8")          -> unchanged
func Resolve(base, ref string) (string, error) {
	refURL, abs, err := parseRef(ref)
	if err != nil || abs {
		return refURL.String(), err
	}
	if base == "" {
		return "", fmt.Errorf("%q has no base to resolve against: %w", ref, ErrNotAbsolute)
	}
	baseURL, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("parsing base url %q: %w", base, err)
	}
	if baseURL.Host == "" {
		return "", fmt.Errorf("base %q has no host: %w", base, ErrNotAbsolute)
	}
	return baseURL.ResolveReference(refURL).String(), nil
}

// ResolveAgainstBase returns ref in absolute form. Absolute refs are returned
// as parsed; relative and protocol-relative refs are resolved against base,
// which is treated as a directory and must itself be absolute (a bare host is
// accepted and normalized first).
//
// Examples:
//
//	ResolveAgainstBase("http://tvarr:8080", "/api/stream/9")    -> "http://tvarr:8080/api/stream/9"
//	ResolveAgainstBase("http://tvarr/app", "live/ch1.ts")       -> "http://tvarr/app/live/ch1.ts"
//	ResolveAgainstBase("https://tvarr", "//cdn.example/ch1.ts") -> "https://cdn.example/ch1.ts"
func ResolveAgainstBase(base, ref string) (string, error) {
	refURL, abs, err := parseRef(ref)
	if err != nil || abs {
		return refURL.String(), err
	}
	if base == "" {
		return "", fmt.Errorf("%q has no base to resolve against: %w", ref, ErrNotAbsolute)
	}
	baseURL, err := url.Parse(NormalizeBaseURL(base) + "/")
	if err != nil {
		return "", fmt.Errorf("parsing base url %q: %w", base, err)
	}
	if baseURL.Host == "" {
		return "", fmt.Errorf("base %q has no host: %w", base, ErrNotAbsolute)
	}
	return baseURL.ResolveReference(refURL).String(), nil
}

// parseRef parses ref and reports whether it is already absolute. On error
// the returned URL is empty.
func parseRef(ref string) (*url.URL, bool, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return &url.URL{}, false, fmt.Errorf("empty url: %w", ErrNotAbsolute)
	}
	u, err := url.Parse(ref)
	if err != nil {
		return &url.URL{}, false, fmt.Errorf("parsing url %q: %w", ref, err)
	}
	return u, u.IsAbs() && u.Host != "", nil
}

// PathOf returns the lower-cased path component of an absolute or relative
// URL. It never fails: unparsable input is cut at the first '?' or '#'.
func PathOf(raw string) string {
	path, _ := split(raw)
	return path
}

// QueryOf returns the lower-cased raw query of an absolute or relative URL,
// or "" when there is none.
func QueryOf(raw string) string {
	_, query := split(raw)
	return query
}

func split(raw string) (path, query string) {
	raw = strings.TrimSpace(raw)
	if u, err := url.Parse(raw); err == nil {
		return strings.ToLower(u.Path), strings.ToLower(u.RawQuery)
	}

	if i := strings.IndexByte(raw, '#'); i >= 0 {
		raw = raw[:i]
	}
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		query = raw[i+1:]
		raw = raw[:i]
	}
	if i := strings.Index(raw, "://"); i >= 0 {
		rest := raw[i+3:]
		if j := strings.IndexByte(rest, '/'); j >= 0 {
			raw = rest[j:]
		} else {
			raw = ""
		}
	}
	return strings.ToLower(raw), strings.ToLower(query)
}

// ValidateURL checks if a URL is valid and uses a supported scheme.
// Returns nil if valid, or an error describing the problem.
func ValidateURL(u string) error {
	if u == "" {
		return fmt.Errorf("URL is required")
	}

	parsed, err := url.Parse(u)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	switch scheme {
	case SchemeHTTP, SchemeHTTPS:
		if parsed.Host == "" {
			return fmt.Errorf("URL has no host: %s", u)
		}
		return nil
	case "":
		return fmt.Errorf("URL must include a scheme (http:// or https://)")
	default:
		return fmt.Errorf("unsupported URL scheme: %s (supported: http, https)", scheme)
	}
}
