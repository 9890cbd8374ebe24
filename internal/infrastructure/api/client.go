package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"
)

const (
	refreshPath      = "/user/refresh"
	maxResponseBytes = 1 << 20
)

var (
	apiMeter        = otel.Meter("expensync/api")
	refreshTotal, _ = apiMeter.Int64Counter("api.auth.refresh.total",
		metric.WithDescription("Credential refresh attempts by outcome"),
	)
)

var errNoRefreshToken = errors.New("no refresh token")

// Client is the HTTP transport to the expense backend. It attaches the
// bearer credential and cures a 401 with one refresh per logical request.
type Client struct {
	httpClient *http.Client
	baseURL    string
	creds      Credentials
	logger     *slog.Logger

	refreshes singleflight.Group
}

// Ensure Client implements Sender
var _ Sender = (*Client)(nil)

// NewClient creates a transport. creds may be nil for unauthenticated use.
func NewClient(baseURL string, timeout time.Duration, creds Credentials, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		logger:  logger,
	}
}

// Send performs req. A 401 triggers a single refresh and a single resend;
// if the backend rejects the refresh the session is cleared and
// ErrAuthExpired returned. A refresh that never got an answer, or got a
// 5xx, keeps the session and returns the retryable cause.
func (c *Client) Send(ctx context.Context, req Request) (*Response, error) {
	token := c.accessToken()

	resp, err := c.do(ctx, req, token)
	if StatusCode(err) != http.StatusUnauthorized || req.Path == refreshPath {
		return resp, err
	}

	fresh, rerr := c.refresh(ctx, token)
	if rerr != nil && transientRefreshError(rerr) {
		c.logger.Warn("credential refresh failed transiently, keeping session", "error", rerr)
		return nil, fmt.Errorf("credential refresh failed: %w", rerr)
	}
	if rerr != nil {
		c.logger.Warn("credential refresh failed, clearing session", "error", rerr)
		if c.creds != nil {
			if cerr := c.creds.Clear(ctx); cerr != nil {
				c.logger.Error("failed to clear session", "error", cerr)
			}
		}
		return nil, fmt.Errorf("%w: %v", ErrAuthExpired, rerr)
	}

	return c.do(ctx, req, fresh)
}

func (c *Client) accessToken() string {
	if c.creds == nil {
		return ""
	}
	return c.creds.AccessToken()
}

// refresh exchanges the refresh token for a new access token. Concurrent
// callers holding the same stale token share one refresh call; a caller
// whose token was already replaced gets the current one.
func (c *Client) refresh(ctx context.Context, stale string) (string, error) {
	if c.creds == nil {
		return "", errNoRefreshToken
	}
	if current := c.creds.AccessToken(); current != "" && current != stale {
		return current, nil
	}

	v, err, shared := c.refreshes.Do(stale, func() (any, error) {
		return c.doRefresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		return "", err
	}
	if shared {
		c.logger.Debug("joined in-flight credential refresh")
	}
	return v.(string), nil
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

func (c *Client) doRefresh(ctx context.Context) (string, error) {
	refreshToken := c.creds.RefreshToken()
	if refreshToken == "" {
		refreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "missing")))
		return "", errNoRefreshToken
	}

	body, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return "", fmt.Errorf("failed to encode refresh request: %w", err)
	}

	resp, err := c.do(ctx, Request{Method: http.MethodPost, Path: refreshPath, Body: body, Replay: true}, "")
	if err != nil {
		refreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "error")))
		return "", fmt.Errorf("refresh request failed: %w", err)
	}

	var rr refreshResponse
	if err := json.Unmarshal(resp.Body, &rr); err != nil {
		refreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "error")))
		return "", fmt.Errorf("failed to decode refresh response: %w", err)
	}

	access := rr.AccessToken
	if access == "" {
		access = rr.Token
	}
	if access == "" {
		refreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "error")))
		return "", errors.New("refresh response carried no access token")
	}
	if rr.RefreshToken != "" {
		refreshToken = rr.RefreshToken
	}

	if err := c.creds.SetTokens(ctx, access, refreshToken); err != nil {
		return "", fmt.Errorf("failed to store refreshed tokens: %w", err)
	}

	refreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "success")))
	c.logger.Info("credential refreshed")
	return access, nil
}

func (c *Client) do(ctx context.Context, req Request, token string) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response body: %v", ErrNetworkUnreachable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newStatusError(resp.StatusCode, data)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       data,
		ID:         extractID(data),
	}, nil
}

// transientRefreshError reports whether a refresh failed for lack of a usable
// answer rather than because the refresh token was rejected.
func transientRefreshError(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.IsServerError()
	}
	return errors.Is(err, ErrNetworkUnreachable) || errors.Is(err, ErrTimeout)
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("request canceled: %w", err)
	}

	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrNetworkUnreachable, err)
}

func newStatusError(code int, body []byte) *StatusError {
	se := &StatusError{Code: code}

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil {
		se.Message = errResp.Message
		if se.Message == "" {
			se.Message = errResp.Error
		}
	}
	return se
}

// extractID finds the server id in a success body: "id" or "_id", at the
// top level or under "data". Numeric ids are returned in their JSON form.
func extractID(body []byte) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return ""
	}

	for _, key := range []string{"id", "_id"} {
		if id := rawID(obj[key]); id != "" {
			return id
		}
	}
	if data, ok := obj["data"]; ok {
		return extractID(data)
	}
	return ""
}

func rawID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
