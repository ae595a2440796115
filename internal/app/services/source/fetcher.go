// Package source fetches one declared source through the outbound cache and
// extracts its value.
package source

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/R3E-Network/oracle_layer/internal/app/domain/feed"
	"github.com/R3E-Network/oracle_layer/internal/app/outcall"
)

// Requester is the subset of the outbound cache the fetcher needs.
type Requester interface {
	Request(ctx context.Context, req outcall.Request, ttl time.Duration) (outcall.Response, time.Time, error)
}

// Shape is what the caller expects the resolved value to be.
type Shape int

const (
	ShapeAny Shape = iota
	// ShapeNumber accepts JSON numbers and numeric strings.
	ShapeNumber
)

// Result is one fetched and resolved value.
type Result struct {
	Value     interface{}
	FetchedAt time.Time
	Bytes     int
}

// Number returns the value as float64 when it is numeric.
func (r Result) Number() (float64, error) {
	return AsNumber(r.Value)
}

// AsNumber accepts a JSON number or a numeric string.
func AsNumber(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not numeric", ErrInvalidResolver, n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: value of type %T is not numeric", ErrInvalidResolver, v)
	}
}

// Fetcher resolves sources over a Requester.
type Fetcher struct {
	requester Requester
	userAgent string
}

// NewFetcher creates a fetcher. An empty userAgent defaults to "sybil".
func NewFetcher(requester Requester, userAgent string) *Fetcher {
	if userAgent == "" {
		userAgent = "sybil"
	}
	return &Fetcher{requester: requester, userAgent: userAgent}
}

// Fetch performs the request for src, caching it for ttl, and resolves the
// value. FetchedAt is when the underlying response was cached.
func (f *Fetcher) Fetch(ctx context.Context, src feed.Source, ttl time.Duration, shape Shape) (Result, error) {
	if err := ValidateResolver(src.Resolver); err != nil {
		return Result{}, err
	}

	req := outcall.Request{
		Method: http.MethodGet,
		URL:    src.URL(),
		Header: http.Header{
			"Content-Type": []string{"application/json"},
			"User-Agent":   []string{f.userAgent},
		},
		MaxResponseBytes: src.MaxResponseBytes(),
	}

	resp, cachedAt, err := f.requester.Request(ctx, req, ttl)
	if err != nil {
		return Result{}, err
	}

	value, err := Resolve(resp.Body, src.Resolver)
	if err != nil {
		return Result{}, err
	}
	if shape == ShapeNumber {
		if _, err := AsNumber(value); err != nil {
			return Result{}, err
		}
	}

	return Result{Value: value, FetchedAt: cachedAt, Bytes: len(resp.Body)}, nil
}
