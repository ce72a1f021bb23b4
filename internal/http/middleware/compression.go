package middleware

import (
	"net/http"
	"strings"
)

// EventsPath is the player event stream.
const EventsPath = "/api/v1/player/events"

// SkipCompressionForSSE applies compress to everything except event
// streams, which must flush each event as it is written.
func SkipCompressionForSSE(compress func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressed := compress(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == EventsPath || strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
				next.ServeHTTP(w, r)
				return
			}
			compressed.ServeHTTP(w, r)
		})
	}
}
