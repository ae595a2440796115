package exchangerate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClientReturnsRate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/rate", r.URL.Path)
		assert.Equal(t, "ETH", r.URL.Query().Get("base"))
		assert.Equal(t, "Cryptocurrency", r.URL.Query().Get("base_class"))
		assert.Equal(t, "USD", r.URL.Query().Get("quote"))
		assert.Equal(t, "1700000000", r.URL.Query().Get("timestamp"))
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": Rate{Timestamp: 1700000000, Rate: 3_000_000_000_000, Metadata: Metadata{Decimals: 9}},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/", "k", nil)
	rate, err := c.GetExchangeRate(context.Background(), Request{
		Base:      Asset{Symbol: "ETH", Class: ClassCryptocurrency},
		Quote:     Asset{Symbol: "USD", Class: ClassFiatCurrency},
		Timestamp: 1700000000,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(3_000_000_000_000), rate.Rate)
	require.Equal(t, uint32(9), rate.Metadata.Decimals)
}

func TestHTTPClientMapsServiceErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"err":{"kind":"CryptoBaseAssetNotFound"}}`))
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL, "", nil).GetExchangeRate(context.Background(), Request{})
	var se *ServiceError
	require.True(t, errors.As(err, &se))
	require.Equal(t, KindCryptoBaseAssetNotFound, se.Kind)
	require.False(t, IsRateLimited(err))
	require.Equal(t, "exchange rate service error: crypto base asset not found", err.Error())
}

func TestHTTPClientRateLimitedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL, "", nil).GetExchangeRate(context.Background(), Request{})
	require.True(t, IsRateLimited(err))
}

func TestHTTPClientNonJSONFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL, "", nil).GetExchangeRate(context.Background(), Request{})
	require.ErrorContains(t, err, "status 502")
}

func TestOtherErrorMessage(t *testing.T) {
	err := &ServiceError{Kind: KindOther, Code: 7, Description: "boom"}
	require.Equal(t, "exchange rate service error: unexpected error 7: boom", err.Error())
}
