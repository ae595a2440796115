// Package httputil provides the HTTP client used for outbound fetches to
// external data sources and rate services.
package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrBodyTooLarge is returned when a response exceeds its byte budget.
var ErrBodyTooLarge = errors.New("response body exceeds limit")

// =============================================================================
// Client
// =============================================================================

// Client performs bounded outbound HTTP requests.
type Client struct {
	httpClient *http.Client
}

// ClientConfig configures the client.
type ClientConfig struct {
	Timeout time.Duration
	// HTTPClient overrides the underlying client, mainly for tests.
	HTTPClient *http.Client
}

// NewClient creates a new outbound client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.HTTPClient != nil {
		return &Client{httpClient: cfg.HTTPClient}
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{httpClient: &http.Client{Timeout: timeout}}
}

// Request describes one outbound call.
type Request struct {
	Method  string
	URL     string
	Header  http.Header
	Body    []byte

	// MaxResponseBytes caps the body read. Zero means 8 MiB.
	MaxResponseBytes int64
}

// Response is a fully read upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Do executes req and reads the body within its byte budget. Non-2xx statuses
// are returned as responses, not errors; only transport failures error.
func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return Response{}, fmt.Errorf("failed to create request: %w", err)
	}
	for name, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	limit := req.MaxResponseBytes
	if limit <= 0 {
		limit = 8 << 20
	}
	data, err := ReadAllStrict(resp.Body, limit)
	if err != nil {
		return Response{}, fmt.Errorf("read response body: %w", err)
	}

	return Response{StatusCode: resp.StatusCode, Header: resp.Header.Clone(), Body: data}, nil
}

// GetJSON issues a GET and decodes a JSON body into target.
func (c *Client) GetJSON(ctx context.Context, url string, header http.Header, target interface{}) error {
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, URL: url, Header: header})
	if err != nil {
		return err
	}
	return DecodeResponse(resp, target)
}

// DecodeResponse decodes a JSON response into the target struct.
func DecodeResponse(resp Response, target interface{}) error {
	if resp.StatusCode >= 400 {
		body, truncated, _ := ReadAllWithLimit(bytes.NewReader(resp.Body), 64<<10)
		msg := strings.TrimSpace(string(body))
		if truncated {
			msg += "...(truncated)"
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}
	if target == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body, target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// StatusError reports an upstream status code of 400 or above.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// =============================================================================
// Body readers
// =============================================================================

// ReadAllWithLimit reads at most limit bytes and reports whether more were
// available.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, bool, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > limit {
		return data[:limit], true, nil
	}
	return data, false, nil
}

// ReadAllStrict reads the whole body and fails with ErrBodyTooLarge when it is
// longer than limit.
func ReadAllStrict(r io.Reader, limit int64) ([]byte, error) {
	data, truncated, err := ReadAllWithLimit(r, limit)
	if err != nil {
		return nil, err
	}
	if truncated {
		return nil, fmt.Errorf("%w (%d bytes)", ErrBodyTooLarge, limit)
	}
	return data, nil
}
