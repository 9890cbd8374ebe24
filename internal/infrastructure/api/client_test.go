package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type memCredentials struct {
	mu      sync.Mutex
	access  string
	refresh string
	cleared bool
}

func (m *memCredentials) AccessToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.access
}

func (m *memCredentials) RefreshToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refresh
}

func (m *memCredentials) SetTokens(_ context.Context, access, refresh string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.access, m.refresh = access, refresh
	return nil
}

func (m *memCredentials) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.access, m.refresh, m.cleared = "", "", true
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSend_AttachesBearerAndExtractsID(t *testing.T) {
	var gotAuth, gotMeta, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotMeta = r.Header.Get("X-Meta")
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"srv1","amount":500}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, &memCredentials{access: "tok"}, quietLogger())
	req, err := AddExpense("tmp1", ExpenseInput{Amount: mustDecimal(t, "500"), Type: TypeDebit})
	if err != nil {
		t.Fatalf("AddExpense() failed: %v", err)
	}

	resp, err := c.Send(context.Background(), req)
	if err != nil {
		t.Fatalf("Send() failed: %v", err)
	}

	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer tok")
	}
	if gotMeta != "" {
		t.Errorf("metadata leaked into headers: %q", gotMeta)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q", gotContentType)
	}
	if resp.ID != "srv1" || resp.StatusCode != http.StatusCreated || resp.Offline {
		t.Errorf("Send() = %+v", resp)
	}
}

func TestExtractID(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"id":"srv1"}`, "srv1"},
		{`{"_id":"64f0c"}`, "64f0c"},
		{`{"id":42}`, "42"},
		{`{"data":{"id":"nested"}}`, "nested"},
		{`{"message":"ok"}`, ""},
		{`[1,2]`, ""},
		{``, ""},
	}

	for _, tt := range tests {
		if got := extractID([]byte(tt.body)); got != tt.want {
			t.Errorf("extractID(%s) = %q, want %q", tt.body, got, tt.want)
		}
	}
}

func TestSend_StatusErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
		server  bool
	}{
		{"server error with message", 500, `{"message":"boom"}`, "boom", true},
		{"bad request with error field", 400, `{"error":"amount required"}`, "amount required", false},
		{"conflict without body", 409, ``, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient(srv.URL, time.Second, nil, quietLogger())
			_, err := c.Send(context.Background(), Request{Method: http.MethodDelete, Path: "/expense/x"})

			var se *StatusError
			if !errors.As(err, &se) {
				t.Fatalf("Send() error = %v, want *StatusError", err)
			}
			if se.Code != tt.status || se.Message != tt.wantMsg {
				t.Errorf("StatusError = %+v, want code %d message %q", se, tt.status, tt.wantMsg)
			}
			if se.IsServerError() != tt.server || se.IsClientError() == tt.server {
				t.Errorf("IsServerError/IsClientError wrong for %d", tt.status)
			}
			if StatusCode(err) != tt.status {
				t.Errorf("StatusCode() = %d, want %d", StatusCode(err), tt.status)
			}
		})
	}
}

func TestSend_RefreshOnceThenReplay(t *testing.T) {
	var refreshCalls, expenseCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case refreshPath:
			refreshCalls.Add(1)
			var body refreshRequest
			json.NewDecoder(r.Body).Decode(&body)
			if body.RefreshToken != "rt-1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte(`{"accessToken":"fresh","refreshToken":"rt-2"}`))
		default:
			expenseCalls.Add(1)
			if r.Header.Get("Authorization") != "Bearer fresh" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte(`{"id":"srv9"}`))
		}
	}))
	defer srv.Close()

	creds := &memCredentials{access: "stale", refresh: "rt-1"}
	c := NewClient(srv.URL, time.Second, creds, quietLogger())

	resp, err := c.Send(context.Background(), Request{Method: http.MethodPost, Path: "/expense/add", Body: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatalf("Send() failed: %v", err)
	}
	if resp.ID != "srv9" {
		t.Errorf("ID = %q, want srv9", resp.ID)
	}
	if refreshCalls.Load() != 1 || expenseCalls.Load() != 2 {
		t.Errorf("refresh calls = %d, expense calls = %d; want 1, 2", refreshCalls.Load(), expenseCalls.Load())
	}
	if creds.AccessToken() != "fresh" || creds.RefreshToken() != "rt-2" {
		t.Errorf("tokens = %q/%q, want fresh/rt-2", creds.AccessToken(), creds.RefreshToken())
	}
}

func TestSend_SecondUnauthorizedIsTerminal(t *testing.T) {
	var refreshCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == refreshPath {
			refreshCalls.Add(1)
			w.Write([]byte(`{"accessToken":"fresh"}`))
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	creds := &memCredentials{access: "stale", refresh: "rt"}
	c := NewClient(srv.URL, time.Second, creds, quietLogger())

	_, err := c.Send(context.Background(), Request{Method: http.MethodGet, Path: "/expense"})
	if StatusCode(err) != http.StatusUnauthorized {
		t.Errorf("Send() error = %v, want HTTP 401", err)
	}
	if refreshCalls.Load() != 1 {
		t.Errorf("refresh calls = %d, want 1", refreshCalls.Load())
	}
}

func TestSend_RefreshFailureClearsSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	creds := &memCredentials{access: "stale", refresh: "revoked"}
	c := NewClient(srv.URL, time.Second, creds, quietLogger())

	_, err := c.Send(context.Background(), Request{Method: http.MethodGet, Path: "/expense"})
	if !errors.Is(err, ErrAuthExpired) {
		t.Fatalf("Send() error = %v, want %v", err, ErrAuthExpired)
	}
	if !creds.cleared {
		t.Error("session not cleared after refresh failure")
	}
}

func TestSend_TransientRefreshFailureKeepsSession(t *testing.T) {
	tests := []struct {
		name          string
		refreshStatus int
		wantErr       error
	}{
		{"refresh endpoint 503", http.StatusServiceUnavailable, nil},
		{"refresh endpoint unreachable", 0, ErrNetworkUnreachable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != refreshPath {
					w.WriteHeader(http.StatusUnauthorized)
					return
				}
				if tt.refreshStatus == 0 {
					hj, ok := w.(http.Hijacker)
					if !ok {
						t.Error("response writer cannot hijack")
						return
					}
					conn, _, _ := hj.Hijack()
					conn.Close()
					return
				}
				w.WriteHeader(tt.refreshStatus)
			}))
			defer srv.Close()

			creds := &memCredentials{access: "stale", refresh: "rt"}
			c := NewClient(srv.URL, time.Second, creds, quietLogger())

			_, err := c.Send(context.Background(), Request{Method: http.MethodGet, Path: "/expense"})
			if err == nil {
				t.Fatal("Send() succeeded, want refresh failure")
			}
			if errors.Is(err, ErrAuthExpired) {
				t.Errorf("Send() error = %v, want a retryable failure", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Send() error = %v, want %v", err, tt.wantErr)
			}
			if tt.refreshStatus != 0 && StatusCode(err) != tt.refreshStatus {
				t.Errorf("StatusCode(err) = %d, want %d", StatusCode(err), tt.refreshStatus)
			}
			if creds.cleared || creds.RefreshToken() != "rt" {
				t.Error("session cleared after a transient refresh failure")
			}
		})
	}
}

func TestSend_NoRefreshTokenIsAuthExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, nil, quietLogger())
	_, err := c.Send(context.Background(), Request{Method: http.MethodGet, Path: "/expense"})
	if !errors.Is(err, ErrAuthExpired) {
		t.Errorf("Send() error = %v, want %v", err, ErrAuthExpired)
	}
}

func TestSend_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	const n = 8
	var refreshCalls, rejected atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == refreshPath {
			refreshCalls.Add(1)
			deadline := time.Now().Add(2 * time.Second)
			for rejected.Load() < n && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}
			time.Sleep(50 * time.Millisecond)
			w.Write([]byte(`{"accessToken":"fresh"}`))
			return
		}
		if r.Header.Get("Authorization") != "Bearer fresh" {
			rejected.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	creds := &memCredentials{access: "stale", refresh: "rt"}
	c := NewClient(srv.URL, 5*time.Second, creds, quietLogger())

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Send(context.Background(), Request{Method: http.MethodGet, Path: "/expense"}); err != nil {
				t.Errorf("Send() failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := refreshCalls.Load(); got != 1 {
		t.Errorf("refresh calls = %d, want 1", got)
	}
}

func TestSend_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(srv.URL, 50*time.Millisecond, nil, quietLogger())
	_, err := c.Send(context.Background(), Request{Method: http.MethodPost, Path: "/expense/add"})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Send() error = %v, want %v", err, ErrTimeout)
	}
	if StatusCode(err) != 0 {
		t.Errorf("StatusCode() = %d, want 0", StatusCode(err))
	}
}

func TestSend_NetworkUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(url, time.Second, nil, quietLogger())
	_, err := c.Send(context.Background(), Request{Method: http.MethodPost, Path: "/expense/add"})
	if !errors.Is(err, ErrNetworkUnreachable) {
		t.Errorf("Send() error = %v, want %v", err, ErrNetworkUnreachable)
	}
}

func TestSend_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(srv.URL, time.Second, nil, quietLogger())
	_, err := c.Send(ctx, Request{Method: http.MethodPost, Path: "/expense/add"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Send() error = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrNetworkUnreachable) {
		t.Error("canceled request classified as network failure")
	}
}
