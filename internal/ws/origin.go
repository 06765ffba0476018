package ws

import (
	"net/http"
	"strings"
)

// OriginChecker builds a CheckOrigin func for a websocket.Upgrader that
// accepts the given origins, compared case-insensitively.
func OriginChecker(allowed []string) func(r *http.Request) bool {
	origins := make([]string, 0, len(allowed))
	for _, o := range allowed {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// No Origin header: same-origin request or non-browser client.
			return true
		}
		for _, o := range origins {
			if strings.EqualFold(origin, o) {
				return true
			}
		}
		return false
	}
}
