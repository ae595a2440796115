package outcall

import (
	"context"

	"github.com/R3E-Network/oracle_layer/internal/httputil"
)

// HTTPTransport issues requests over the shared outbound client and enforces
// each request's response cap.
type HTTPTransport struct {
	client *httputil.Client
}

// NewHTTPTransport wraps client.
func NewHTTPTransport(client *httputil.Client) *HTTPTransport {
	if client == nil {
		client = httputil.NewClient(httputil.ClientConfig{})
	}
	return &HTTPTransport{client: client}
}

func (t *HTTPTransport) Do(ctx context.Context, req Request) (Response, error) {
	maxBytes := req.MaxResponseBytes
	if maxBytes == 0 {
		maxBytes = DefaultMaxResponseBytes
	}
	resp, err := t.client.Do(ctx, httputil.Request{
		Method:           req.Method,
		URL:              req.URL,
		Header:           req.Header,
		Body:             req.Body,
		MaxResponseBytes: int64(maxBytes),
	})
	if err != nil {
		return Response{}, err
	}
	return Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: resp.Body}, nil
}
