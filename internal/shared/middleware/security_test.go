package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIsHostAllowed(t *testing.T) {
	loopback := []string{"localhost", "127.0.0.1", "::1"}

	tests := []struct {
		name         string
		host         string
		allowedHosts []string
		want         bool
	}{
		{"empty allowed hosts returns true", "example.com", nil, true},
		{"localhost with port", "localhost:8787", loopback, true},
		{"ipv4 loopback with port", "127.0.0.1:8787", loopback, true},
		{"ipv6 loopback with port", "[::1]:8787", loopback, true},
		{"ipv6 loopback bracketed without port", "[::1]", loopback, true},
		{"case insensitive", "LocalHost:1", loopback, true},
		{"allowed entry with port", "localhost", []string{"localhost:8787"}, true},
		{"rebound hostname", "attacker.example:8787", loopback, false},
		{"subdomain of allowed", "evil.localhost", loopback, false},
		{"empty host", "", loopback, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsHostAllowed(tt.host, tt.allowedHosts); got != tt.want {
				t.Errorf("IsHostAllowed(%q, %v) = %v, want %v", tt.host, tt.allowedHosts, got, tt.want)
			}
		})
	}
}

func TestHostGuard(t *testing.T) {
	handler := HostGuard([]string{"127.0.0.1"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/queue", nil)
	req.Host = "127.0.0.1:8787"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("allowed host got %d, want 200", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/queue", nil)
	req.Host = "rebind.example:8787"
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusMisdirectedRequest {
		t.Errorf("foreign host got %d, want %d", rr.Code, http.StatusMisdirectedRequest)
	}
}
