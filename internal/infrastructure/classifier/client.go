// Package classifier suggests an expense category from its free-text details
// using an external text-classification service.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// Fallback is returned whenever no confident label is available.
	Fallback = "Other"

	classifyPath = "/classify"
	minInputLen  = 3
	flatEpsilon  = 0.001
)

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9\s]`)

type classifyRequest struct {
	Text string `json:"text"`
}

type classification struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

type classifyResponse struct {
	Label           string           `json:"label"`
	Classifications []classification `json:"classifications,omitempty"`
}

// Client never fails: every error degrades to Fallback.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewClient returns a classifier for baseURL. An empty baseURL disables
// classification.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// Clean keeps only ASCII letters, digits and whitespace.
func Clean(text string) string {
	return strings.TrimSpace(nonAlnum.ReplaceAllString(text, " "))
}

func (c *Client) Classify(ctx context.Context, text string) string {
	cleaned := Clean(text)
	if len(cleaned) < minInputLen || c.baseURL == "" {
		return Fallback
	}

	label, err := c.classify(ctx, strings.ToLower(cleaned))
	if err != nil {
		c.logger.Debug("category classification failed", "error", err)
		return Fallback
	}
	return label
}

func (c *Client) classify(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(classifyRequest{Text: text})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+classifyPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("classifier returned status %d", resp.StatusCode)
	}

	var out classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if isFlat(out.Classifications) {
		return Fallback, nil
	}
	label := strings.TrimSpace(out.Label)
	if label == "" {
		return Fallback, nil
	}
	return label, nil
}

// isFlat reports whether every label scored the same, which means the
// model has no opinion.
func isFlat(cs []classification) bool {
	if len(cs) < 2 {
		return false
	}
	top := cs[0].Value
	for _, c := range cs[1:] {
		if math.Abs(c.Value-top) >= flatEpsilon {
			return false
		}
	}
	return true
}
