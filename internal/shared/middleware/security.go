package middleware

import (
	"net"
	"net/http"
	"strings"
)

// HostGuard rejects requests whose Host header is not in allowedHosts.
// The control API listens on loopback, so a foreign Host means a browser
// was DNS-rebound onto it.
func HostGuard(allowedHosts []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !IsHostAllowed(r.Host, allowedHosts) {
				http.Error(w, "host not allowed", http.StatusMisdirectedRequest)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IsHostAllowed compares hostnames with any port removed. An empty list
// allows every host.
func IsHostAllowed(host string, allowedHosts []string) bool {
	if len(allowedHosts) == 0 {
		return true
	}

	name := hostname(host)
	for _, allowed := range allowedHosts {
		if a := hostname(allowed); a != "" && a == name {
			return true
		}
	}
	return false
}

// hostname lowercases h and strips an optional port and IPv6 brackets.
func hostname(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	if name, _, err := net.SplitHostPort(h); err == nil {
		return name
	}
	return strings.TrimSuffix(strings.TrimPrefix(h, "["), "]")
}
