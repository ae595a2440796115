// Package exchangerate talks to an external exchange-rate service.
package exchangerate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/R3E-Network/oracle_layer/internal/httputil"
)

// Client fetches one exchange rate.
type Client interface {
	GetExchangeRate(ctx context.Context, req Request) (Rate, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, req Request) (Rate, error)

func (f ClientFunc) GetExchangeRate(ctx context.Context, req Request) (Rate, error) {
	return f(ctx, req)
}

// HTTPClient queries a rate service over HTTP:
//
//	GET {base}/v1/rate?base=ETH&base_class=Cryptocurrency&quote=USD&quote_class=FiatCurrency&timestamp=...
//
// The body is either {"ok": Rate} or {"err": ServiceError}. A 429 status maps
// to RateLimited.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *httputil.Client
}

// NewHTTPClient creates a client for baseURL.
func NewHTTPClient(baseURL, apiKey string, client *httputil.Client) *HTTPClient {
	if client == nil {
		client = httputil.NewClient(httputil.ClientConfig{})
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
	}
}

type envelope struct {
	Ok  *Rate         `json:"ok,omitempty"`
	Err *ServiceError `json:"err,omitempty"`
}

func (c *HTTPClient) GetExchangeRate(ctx context.Context, req Request) (Rate, error) {
	q := url.Values{}
	q.Set("base", req.Base.Symbol)
	q.Set("base_class", string(req.Base.Class))
	q.Set("quote", req.Quote.Symbol)
	q.Set("quote_class", string(req.Quote.Class))
	if req.Timestamp > 0 {
		q.Set("timestamp", strconv.FormatUint(req.Timestamp, 10))
	}

	header := http.Header{"Accept": []string{"application/json"}}
	if c.apiKey != "" {
		header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(ctx, httputil.Request{
		Method: http.MethodGet,
		URL:    c.baseURL + "/v1/rate?" + q.Encode(),
		Header: header,
	})
	if err != nil {
		return Rate{}, fmt.Errorf("unable to get rate: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return Rate{}, &ServiceError{Kind: KindRateLimited}
	}

	var env envelope
	if jsonErr := json.Unmarshal(resp.Body, &env); jsonErr != nil {
		if err := httputil.DecodeResponse(resp, nil); err != nil {
			return Rate{}, fmt.Errorf("unable to get rate: %w", err)
		}
		return Rate{}, fmt.Errorf("unable to get rate: decode response: %w", jsonErr)
	}
	if env.Err != nil {
		return Rate{}, env.Err
	}
	if err := httputil.DecodeResponse(resp, nil); err != nil {
		return Rate{}, fmt.Errorf("unable to get rate: %w", err)
	}
	if env.Ok == nil {
		return Rate{}, fmt.Errorf("unable to get rate: empty response")
	}
	return *env.Ok, nil
}
