package protocol

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	syncErrors "github.com/c0deZ3R0/go-ledger-sync/errors"
)

// Limits defines size and compression limits for the HTTP client.
type Limits struct {
	MaxBodyBytes int64 // Maximum response body size in bytes
	EnableGzip   bool  // Whether to gzip request bodies
	GzipMinBytes int   // Minimum bytes before applying gzip compression
}

// TokenSource supplies the bearer credential attached to every request.
// The secure credential store satisfies this; a nil source sends no
// Authorization header.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// HTTPClient implements Client against the sync server's REST surface:
// GET {base}/sync/pull and POST {base}/sync/push.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	limits  Limits
	tokens  TokenSource
}

// HTTPClientOption configures an HTTPClient using the functional options pattern
type HTTPClientOption func(*HTTPClient)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(cl *http.Client) HTTPClientOption {
	return func(c *HTTPClient) {
		c.http = cl
	}
}

// WithLimits sets the size and compression limits
func WithLimits(l Limits) HTTPClientOption {
	return func(c *HTTPClient) {
		c.limits = l
	}
}

// WithTokenSource sets the bearer credential source
func WithTokenSource(ts TokenSource) HTTPClientOption {
	return func(c *HTTPClient) {
		c.tokens = ts
	}
}

// NewHTTPClient creates a new sync protocol client with functional options.
func NewHTTPClient(baseURL string, opts ...HTTPClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		limits: Limits{
			MaxBodyBytes: 8 << 20, // 8MB
			EnableGzip:   true,
			GzipMinBytes: 1024, // 1KB
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// BaseURL returns the base URL for the client
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// Pull implements Client.
func (c *HTTPClient) Pull(ctx context.Context, lastPulledAt int64) (*PullResponse, error) {
	u := fmt.Sprintf("%s/sync/pull?last_pulled_at=%s", c.baseURL,
		url.QueryEscape(strconv.FormatInt(lastPulledAt, 10)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, syncErrors.NewNetworkError(syncErrors.OpPull, err)
	}
	if err := c.authorize(ctx, req); err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, syncErrors.NewNetworkError(syncErrors.OpPull, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, syncErrors.NewNetworkError(syncErrors.OpPull,
			fmt.Errorf("pull returned status %d", resp.StatusCode))
	}

	body := io.LimitReader(resp.Body, c.limits.MaxBodyBytes)
	var pr PullResponse
	if err := json.NewDecoder(body).Decode(&pr); err != nil {
		return nil, syncErrors.NewNetworkError(syncErrors.OpPull,
			fmt.Errorf("decode pull response: %w", err))
	}
	if pr.Changes == nil {
		pr.Changes = Changes{}
	}
	return &pr, nil
}

// pushRequest is the push wire envelope.
type pushRequest struct {
	Changes      Changes `json:"changes"`
	LastPulledAt int64   `json:"last_pulled_at"`
}

// Push implements Client.
func (c *HTTPClient) Push(ctx context.Context, changes Changes, lastPulledAt int64) error {
	payload, err := json.Marshal(pushRequest{Changes: changes, LastPulledAt: lastPulledAt})
	if err != nil {
		return syncErrors.NewValidationError(syncErrors.OpPush, fmt.Errorf("encode push payload: %w", err))
	}

	var body io.Reader = bytes.NewReader(payload)
	gzipped := false
	if c.limits.EnableGzip && len(payload) >= c.limits.GzipMinBytes {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(payload); err != nil {
			return syncErrors.NewValidationError(syncErrors.OpPush, err)
		}
		if err := gz.Close(); err != nil {
			return syncErrors.NewValidationError(syncErrors.OpPush, err)
		}
		body = &buf
		gzipped = true
	}

	u := fmt.Sprintf("%s/sync/push", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return syncErrors.NewNetworkError(syncErrors.OpPush, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if gzipped {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if err := c.authorize(ctx, req); err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return syncErrors.NewNetworkError(syncErrors.OpPush, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusConflict:
		return syncErrors.NewPushConflictError(ErrConflict)
	default:
		return syncErrors.NewNetworkError(syncErrors.OpPush,
			fmt.Errorf("push returned status %d", resp.StatusCode))
	}
}

func (c *HTTPClient) authorize(ctx context.Context, req *http.Request) error {
	if c.tokens == nil {
		return nil
	}
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return syncErrors.NewAuthError(syncErrors.OpSync, err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

var _ Client = (*HTTPClient)(nil)
