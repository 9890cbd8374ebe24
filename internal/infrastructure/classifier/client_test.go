package classifier

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(url string) *Client {
	return NewClient(url, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestClean(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Uber ride #42!", "Uber ride  42"},
		{"  café  ", "caf"},
		{"***", ""},
		{"groceries", "groceries"},
	}

	for _, tt := range tests {
		if got := Clean(tt.in); got != tt.want {
			t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestClassify_Label(t *testing.T) {
	var gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/classify" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body classifyRequest
		json.NewDecoder(r.Body).Decode(&body)
		gotText = body.Text
		json.NewEncoder(w).Encode(map[string]string{"label": "Transport"})
	}))
	defer srv.Close()

	if got := newTestClient(srv.URL).Classify(context.Background(), "Uber Ride!"); got != "Transport" {
		t.Errorf("Classify() = %q, want %q", got, "Transport")
	}
	if gotText != "uber ride" {
		t.Errorf("sent text = %q, want %q", gotText, "uber ride")
	}
}

func TestClassify_Fallbacks(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		handler http.HandlerFunc
	}{
		{
			name:  "short input",
			input: "ab",
			handler: func(w http.ResponseWriter, r *http.Request) {
				t.Error("classifier called for short input")
			},
		},
		{
			name:  "server error",
			input: "coffee beans",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
		{
			name:  "bad json",
			input: "coffee beans",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("{"))
			},
		},
		{
			name:  "empty label",
			input: "coffee beans",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"label":"  "}`))
			},
		},
		{
			name:  "flat scores",
			input: "coffee beans",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"label":"Food","classifications":[{"label":"Food","value":0.25},{"label":"Rent","value":0.2505}]}`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			if got := newTestClient(srv.URL).Classify(context.Background(), tt.input); got != Fallback {
				t.Errorf("Classify() = %q, want %q", got, Fallback)
			}
		})
	}
}

func TestClassify_ConfidentScores(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"label":"Food","classifications":[{"label":"Food","value":0.9},{"label":"Rent","value":0.1}]}`))
	}))
	defer srv.Close()

	if got := newTestClient(srv.URL).Classify(context.Background(), "pizza night"); got != "Food" {
		t.Errorf("Classify() = %q, want %q", got, "Food")
	}
}

func TestClassify_Disabled(t *testing.T) {
	if got := newTestClient("").Classify(context.Background(), "pizza night"); got != Fallback {
		t.Errorf("Classify() = %q, want %q", got, Fallback)
	}
}

func TestClassify_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	if got := newTestClient(url).Classify(context.Background(), "pizza night"); got != Fallback {
		t.Errorf("Classify() = %q, want %q", got, Fallback)
	}
}
