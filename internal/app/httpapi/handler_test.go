package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	app "github.com/R3E-Network/oracle_layer/internal/app"
	"github.com/R3E-Network/oracle_layer/internal/app/domain/balance"
	"github.com/R3E-Network/oracle_layer/internal/app/domain/feed"
	"github.com/R3E-Network/oracle_layer/internal/app/outcall"
	"github.com/R3E-Network/oracle_layer/internal/app/services/balances"
	"github.com/R3E-Network/oracle_layer/internal/app/services/exchangerate"
	"github.com/R3E-Network/oracle_layer/internal/app/services/feeds"
	"github.com/R3E-Network/oracle_layer/internal/config"
	"github.com/R3E-Network/oracle_layer/pkg/logger"
)

const (
	operatorToken = "op-secret"
	ownerAddr     = "0x00000000000000000000000000000000000000aa"
)

type fixture struct {
	handler *Handler
	app     *app.Application
	xrc     *httptest.Server
	data    *httptest.Server
}

func newFixture(t *testing.T, xrc http.HandlerFunc, opts Options) *fixture {
	t.Helper()
	if xrc == nil {
		xrc = func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}
	f := &fixture{xrc: httptest.NewServer(xrc)}
	t.Cleanup(f.xrc.Close)

	f.data = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("key") != "k1" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(`{"price":"42"}`))
	}))
	t.Cleanup(f.data.Close)

	cfg := config.Default()
	cfg.Signing.KeySeed = "0x" + strings.Repeat("2e", 32)
	cfg.ExchangeRate.PrimaryURL = f.xrc.URL
	cfg.ExchangeRate.MaxAttempts = 1
	cfg.ExchangeRate.RetryDelay = 0
	application, err := app.New(cfg, app.Stores{}, logger.NewDiscard())
	require.NoError(t, err)
	f.app = application

	if opts.OperatorTokens == nil {
		opts.OperatorTokens = []string{operatorToken}
	}
	if opts.Log == nil {
		opts.Log = logger.NewDiscard()
	}
	h, err := NewHandler(application, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	f.handler = h
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func operator() http.Header {
	return http.Header{"Authorization": []string{"Bearer " + operatorToken}}
}

func caller(addr string) http.Header {
	return http.Header{CallerHeader: []string{addr}}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func (f *fixture) customPayload(id string) customFeedPayload {
	decimals := uint64(1)
	return customFeedPayload{
		ID:         id,
		Kind:       feed.KindCustomNumber,
		UpdateFreq: 600,
		Decimals:   &decimals,
		Sources: []feed.Source{{
			URI:      f.data.URL + "/price?key={KEY}",
			APIKeys:  []feed.APIKey{{Title: "KEY", Key: "k1"}},
			Resolver: "/price",
		}},
	}
}

func TestHealthzAddressAndMetrics(t *testing.T) {
	f := newFixture(t, nil, Options{})

	rec := f.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/address", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var addr map[string]string
	decode(t, rec, &addr)
	require.Equal(t, f.app.Feeds.Address(), addr["address"])

	rec = f.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "oracle_")
}

func TestCreateDefaultFeedRequiresOperator(t *testing.T) {
	f := newFixture(t, nil, Options{})
	payload := defaultFeedPayload{ID: "ETH/USD", Decimals: 2, UpdateFreq: 60}

	rec := f.do(t, http.MethodPost, "/feeds/default", payload, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/feeds/default", payload, http.Header{"Authorization": []string{"Bearer wrong"}})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/feeds/default", payload, operator())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created feed.Feed
	decode(t, rec, &created)
	require.Equal(t, feed.KindDefault, created.Kind)
	require.Equal(t, f.app.Feeds.Address(), created.Owner)

	rec = f.do(t, http.MethodPost, "/feeds/default", payload, operator())
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/feeds/default", defaultFeedPayload{ID: "ETHUSD", UpdateFreq: 60}, operator())
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/audit", nil, operator())
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []auditEntry
	decode(t, rec, &entries)
	require.Len(t, entries, 3)
	require.Equal(t, "create_default_feed", entries[0].Action)
	require.Equal(t, http.StatusCreated, entries[0].Status)
	require.Equal(t, http.StatusConflict, entries[1].Status)

	rec = f.do(t, http.MethodGet, "/audit?limit=1", nil, operator())
	decode(t, rec, &entries)
	require.Len(t, entries, 1)
	require.Equal(t, http.StatusBadRequest, entries[0].Status)
}

func TestResolveDefaultFeed(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/rate", r.URL.Path)
		assert.Equal(t, "ETH", r.URL.Query().Get("base"))
		assert.Equal(t, string(exchangerate.ClassCryptocurrency), r.URL.Query().Get("base_class"))
		assert.Equal(t, string(exchangerate.ClassFiatCurrency), r.URL.Query().Get("quote_class"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":{"base_asset":{"symbol":"ETH","class":"Cryptocurrency"},` +
			`"quote_asset":{"symbol":"USD","class":"FiatCurrency"},"timestamp":1700000000,` +
			`"rate":2500000000,"metadata":{"decimals":6}}}`))
	}, Options{})

	rec := f.do(t, http.MethodPost, "/feeds/default", defaultFeedPayload{ID: "ETH/USD", Decimals: 2, UpdateFreq: 60}, operator())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/feeds/ETH/USD/rate?signature=true", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var answer feed.Answer
	decode(t, rec, &answer)
	require.Equal(t, feed.DefaultPriceFeed{Symbol: "ETH/USD", Rate: 250000, Decimals: 2, Timestamp: 1700000000}, answer.Data)
	require.Len(t, answer.Signature, 130)

	rec = f.do(t, http.MethodGet, "/feeds/ETH/USD/rate", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var unsigned feed.Answer
	decode(t, rec, &unsigned)
	require.Equal(t, answer.Data, unsigned.Data)
	require.Empty(t, unsigned.Signature)

	rec = f.do(t, http.MethodGet, "/feeds/ETH/USD", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stored feed.Feed
	decode(t, rec, &stored)
	require.EqualValues(t, 2, stored.Status.RequestsCounter)

	rec = f.do(t, http.MethodGet, "/feeds/BTC/USD/rate", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResolveDefaultFeedRateLimited(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}, Options{})

	rec := f.do(t, http.MethodPost, "/feeds/default", defaultFeedPayload{ID: "BTC/EUR", Decimals: 8, UpdateFreq: 60}, operator())
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodGet, "/feeds/BTC/EUR/rate", nil, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code, rec.Body.String())
}

func TestCustomFeedLifecycle(t *testing.T) {
	f := newFixture(t, nil, Options{})

	rec := f.do(t, http.MethodPost, "/feeds/custom", f.customPayload("answer"), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/feeds/custom", f.customPayload("answer"), caller(ownerAddr))
	require.Equal(t, http.StatusPaymentRequired, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/balances/"+ownerAddr+"/credit", map[string]interface{}{"amount": 1000}, operator())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/feeds/custom", f.customPayload("answer"), caller(ownerAddr))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created feed.Feed
	decode(t, rec, &created)
	require.Equal(t, "custom_answer", created.ID)
	require.Equal(t, feed.CustomNumber{ID: "custom_answer", Value: 420, Decimals: 1}, created.LastAnswer.Data)

	rec = f.do(t, http.MethodGet, "/feeds/custom_answer", nil, caller(ownerAddr))
	var owned feed.Feed
	decode(t, rec, &owned)
	require.Equal(t, "k1", owned.Sources[0].APIKeys[0].Key)

	rec = f.do(t, http.MethodGet, "/feeds/custom_answer", nil, nil)
	var public feed.Feed
	decode(t, rec, &public)
	require.Equal(t, "***", public.Sources[0].APIKeys[0].Key)

	rec = f.do(t, http.MethodGet, "/feeds?kind=custom_number&owner="+ownerAddr, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []feed.Feed
	decode(t, rec, &list)
	require.Len(t, list, 1)
	require.Equal(t, "***", list[0].Sources[0].APIKeys[0].Key)

	rec = f.do(t, http.MethodGet, "/balances/"+ownerAddr+"/transactions", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var txs []balance.Transaction
	decode(t, rec, &txs)
	require.Len(t, txs, 2)

	rec = f.do(t, http.MethodGet, "/balances/"+f.app.Feeds.Address(), nil, nil)
	var service balance.Account
	decode(t, rec, &service)
	require.Positive(t, service.Amount)

	rec = f.do(t, http.MethodDelete, "/feeds/custom_answer", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodDelete, "/feeds/custom_answer", nil, caller("0x00000000000000000000000000000000000000cc"))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodDelete, "/feeds/custom_answer", nil, caller(ownerAddr))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/feeds/custom_answer", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCustomFeedRejectsUnknownFields(t *testing.T) {
	f := newFixture(t, nil, Options{})
	rec := f.do(t, http.MethodPost, "/feeds/custom", map[string]interface{}{"id": "x", "bogus": true}, caller(ownerAddr))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListFeedsRejectsUnknownKind(t *testing.T) {
	f := newFixture(t, nil, Options{})
	rec := f.do(t, http.MethodGet, "/feeds?kind=bogus", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/feeds", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())
}

func TestStatsAndTransactionLimit(t *testing.T) {
	f := newFixture(t, nil, Options{})

	rec := f.do(t, http.MethodGet, "/stats", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats statsResponse
	decode(t, rec, &stats)
	require.Zero(t, stats.Outcall.TotalRequests)
	require.Zero(t, stats.Signatures)

	rec = f.do(t, http.MethodGet, "/balances/"+ownerAddr+"/transactions?limit=-1", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/balances/"+ownerAddr+"/credit", map[string]interface{}{"amount": 0}, operator())
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimiterRejectsBurst(t *testing.T) {
	f := newFixture(t, nil, Options{RateLimitRPS: 0.001, RateLimitBurst: 1})

	rec := f.do(t, http.MethodGet, "/address", nil, caller(ownerAddr))
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, "/address", nil, caller(ownerAddr))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "1", rec.Header().Get("Retry-After"))

	rec = f.do(t, http.MethodGet, "/address", nil, caller("0x00000000000000000000000000000000000000dd"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/healthz", nil, caller(ownerAddr))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAuditLogPersistsToFile(t *testing.T) {
	path := t.TempDir() + "/audit.jsonl"
	f := newFixture(t, nil, Options{AuditLogPath: path})

	rec := f.do(t, http.MethodPost, "/balances/"+ownerAddr+"/credit", map[string]interface{}{"amount": 5}, operator())
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, f.handler.Close())

	sink, err := readAudit(path)
	require.NoError(t, err)
	require.Len(t, sink, 1)
	require.Equal(t, "credit_balance", sink[0].Action)
	require.Equal(t, ownerAddr, sink[0].Target)
}

func readAudit(path string) ([]auditEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []auditEntry
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		var e auditEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", feeds.ErrFeedNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: x", feeds.ErrFeedExists), http.StatusConflict},
		{feeds.ErrNotFeedOwner, http.StatusForbidden},
		{fmt.Errorf("wrapped: %w", balances.ErrInsufficientBalance), http.StatusPaymentRequired},
		{feeds.ErrInvalidFeedID, http.StatusBadRequest},
		{feeds.ErrValueTypeIncompatible, http.StatusBadRequest},
		{&exchangerate.ServiceError{Kind: exchangerate.KindRateLimited}, http.StatusTooManyRequests},
		{&exchangerate.ServiceError{Kind: exchangerate.KindPending}, http.StatusBadGateway},
		{feeds.ErrNoRateValue, http.StatusBadGateway},
		{&feeds.SourcesError{FeedID: "custom_x"}, http.StatusBadGateway},
		{&outcall.ServerError{StatusCode: 500}, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}
