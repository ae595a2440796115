package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/oracle_layer/internal/app/domain/feed"
	"github.com/R3E-Network/oracle_layer/internal/app/outcall"
	"github.com/R3E-Network/oracle_layer/internal/httputil"
	"github.com/R3E-Network/oracle_layer/pkg/logger"
)

const body = `{"data":{"price":"64000.5","volume":12.25,"tags":["a","b"],"a.b":7,"a/b":8},"list":[{"v":1},{"v":2}]}`

func TestResolvePointer(t *testing.T) {
	cases := map[string]interface{}{
		"/data/price":  "64000.5",
		"/data/volume": 12.25,
		"/data/tags/1": "b",
		"/list/0/v":    float64(1),
		"/data/a.b":    float64(7),
		"/data/a~1b":   float64(8),
	}
	for pointer, want := range cases {
		got, err := Resolve([]byte(body), pointer)
		require.NoError(t, err, pointer)
		require.Equal(t, want, got, pointer)
	}
}

func TestResolveJSONPath(t *testing.T) {
	got, err := Resolve([]byte(body), "$.list[1].v")
	require.NoError(t, err)
	require.Equal(t, float64(2), got)

	_, err = Resolve([]byte(body), "$.missing")
	require.ErrorIs(t, err, ErrInvalidResolver)
}

func TestResolveErrors(t *testing.T) {
	_, err := Resolve([]byte(body), "/data/missing")
	require.ErrorIs(t, err, ErrInvalidResolver)

	_, err = Resolve([]byte(body), "data/price")
	require.ErrorIs(t, err, ErrInvalidResolver)

	_, err = Resolve([]byte(body), "/data//price")
	require.ErrorIs(t, err, ErrInvalidResolver)

	_, err = Resolve([]byte("not json"), "/data")
	require.ErrorIs(t, err, ErrInvalidJSON)
}

func TestValidateResolver(t *testing.T) {
	require.NoError(t, ValidateResolver("/data/price"))
	require.NoError(t, ValidateResolver("/0/price_usd"))
	require.NoError(t, ValidateResolver("$.data.price"))
	require.Error(t, ValidateResolver("price"))
	require.Error(t, ValidateResolver("/data/price?x"))
	require.Error(t, ValidateResolver("$.data["))
}

func TestAsNumber(t *testing.T) {
	n, err := AsNumber("1.5")
	require.NoError(t, err)
	require.Equal(t, 1.5, n)

	n, err = AsNumber(float64(2))
	require.NoError(t, err)
	require.Equal(t, 2.0, n)

	_, err = AsNumber("abc")
	require.ErrorIs(t, err, ErrInvalidResolver)
	_, err = AsNumber(true)
	require.ErrorIs(t, err, ErrInvalidResolver)
}

func TestFetcherUsesCacheAndHeaders(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "sybil", r.Header.Get("User-Agent"))
		assert.Equal(t, "secret", r.URL.Query().Get("key"))
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	cache := outcall.New(outcall.NewHTTPTransport(httputil.NewClient(httputil.ClientConfig{})), outcall.Config{}, logger.NewDiscard())
	fetcher := NewFetcher(cache, "")
	src := feed.Source{
		URI:           srv.URL + "?key={api}",
		APIKeys:       []feed.APIKey{{Title: "api", Key: "secret"}},
		Resolver:      "/data/price",
		ExpectedBytes: 4096,
	}

	res, err := fetcher.Fetch(context.Background(), src, time.Minute, ShapeNumber)
	require.NoError(t, err)
	require.Equal(t, "64000.5", res.Value)
	require.Equal(t, len(body), res.Bytes)
	n, err := res.Number()
	require.NoError(t, err)
	require.Equal(t, 64000.5, n)

	again, err := fetcher.Fetch(context.Background(), src, time.Minute, ShapeNumber)
	require.NoError(t, err)
	require.Equal(t, res.FetchedAt, again.FetchedAt)
	require.EqualValues(t, 1, hits.Load())
}

func TestFetcherRejectsWrongShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	cache := outcall.New(outcall.NewHTTPTransport(nil), outcall.Config{}, logger.NewDiscard())
	fetcher := NewFetcher(cache, "agent")

	_, err := fetcher.Fetch(context.Background(), feed.Source{URI: srv.URL, Resolver: "/data/tags"}, time.Minute, ShapeNumber)
	require.ErrorIs(t, err, ErrInvalidResolver)

	res, err := fetcher.Fetch(context.Background(), feed.Source{URI: srv.URL, Resolver: "/data/tags/0"}, time.Minute, ShapeAny)
	require.NoError(t, err)
	require.Equal(t, "a", res.Value)
}

func TestFetcherSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	cache := outcall.New(outcall.NewHTTPTransport(nil), outcall.Config{}, logger.NewDiscard())
	_, err := NewFetcher(cache, "").Fetch(context.Background(), feed.Source{URI: srv.URL, Resolver: "/x"}, time.Minute, ShapeAny)
	var serverErr *outcall.ServerError
	require.ErrorAs(t, err, &serverErr)
	require.Equal(t, http.StatusNotFound, serverErr.StatusCode)
}
