package httputil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientDoSendsHeadersAndReadsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "sybil", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`{"price":"1.5"}`))
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{})
	resp, err := client.Do(context.Background(), Request{
		URL: srv.URL,
		Header: http.Header{
			"Content-Type": []string{"application/json"},
			"User-Agent":   []string{"sybil"},
		},
		MaxResponseBytes: 1024,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"price":"1.5"}`, string(resp.Body))
}

func TestClientDoEnforcesLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer srv.Close()

	_, err := NewClient(ClientConfig{}).Do(context.Background(), Request{URL: srv.URL, MaxResponseBytes: 10})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrBodyTooLarge))
}

func TestGetJSONReturnsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	var out map[string]any
	err := NewClient(ClientConfig{}).GetJSON(context.Background(), srv.URL, nil, &out)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	require.Contains(t, statusErr.Message, "rate limited")
}

func TestReadAllWithLimit(t *testing.T) {
	data, truncated, err := ReadAllWithLimit(strings.NewReader("abcdef"), 3)
	require.NoError(t, err)
	require.True(t, truncated)
	require.Equal(t, "abc", string(data))

	data, truncated, err = ReadAllWithLimit(strings.NewReader("abc"), 3)
	require.NoError(t, err)
	require.False(t, truncated)
	require.Equal(t, "abc", string(data))
}
