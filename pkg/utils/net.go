package utils

import (
	"net"
	"net/http"
	"strings"
)

// ExtractClientIP returns the caller's address, preferring proxy headers:
// the first X-Forwarded-For hop, then X-Real-IP, then RemoteAddr without port.
// The rate limiter keys its counters by this value.
func ExtractClientIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		if idx := strings.IndexByte(xff, ','); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.Trim(r.RemoteAddr, "[]")
	}
	return host
}
