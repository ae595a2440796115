package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	app "github.com/R3E-Network/oracle_layer/internal/app"
	"github.com/R3E-Network/oracle_layer/internal/app/domain/feed"
	"github.com/R3E-Network/oracle_layer/internal/app/metrics"
	"github.com/R3E-Network/oracle_layer/internal/app/outcall"
	"github.com/R3E-Network/oracle_layer/internal/app/services/balances"
	"github.com/R3E-Network/oracle_layer/internal/app/services/exchangerate"
	"github.com/R3E-Network/oracle_layer/internal/app/services/feeds"
	"github.com/R3E-Network/oracle_layer/internal/app/storage"
	"github.com/R3E-Network/oracle_layer/pkg/logger"
)

// CallerHeader carries the address of the principal issuing a request.
const CallerHeader = "X-Oracle-Address"

// Options configures the REST API.
type Options struct {
	OperatorTokens []string
	RateLimitRPS   float64
	RateLimitBurst int
	AuditSize      int
	AuditLogPath   string
	Log            *logger.Logger
}

// Handler exposes feed management, resolution and balances over HTTP.
type Handler struct {
	app     *app.Application
	log     *logger.Logger
	auth    *operatorAuth
	audit   *auditLog
	sink    *fileAuditSink
	limiter *rateLimiter
	root    http.Handler
}

// NewHandler builds the router. Close releases the audit sink.
func NewHandler(application *app.Application, opts Options) (*Handler, error) {
	if application == nil {
		return nil, errors.New("application is required")
	}
	log := opts.Log
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	sink, err := newFileAuditSink(opts.AuditLogPath)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	var persist auditSink
	if sink != nil {
		persist = sink
	}
	h := &Handler{
		app:     application,
		log:     log,
		auth:    newOperatorAuth(opts.OperatorTokens),
		audit:   newAuditLog(opts.AuditSize, persist),
		sink:    sink,
		limiter: newRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst, log),
	}

	router := mux.NewRouter()
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)

	api := router.NewRoute().Subrouter()
	api.Use(h.limiter.Handler)
	api.HandleFunc("/feeds", h.listFeeds).Methods(http.MethodGet)
	api.HandleFunc("/feeds/default", h.operator("create_default_feed", h.createDefaultFeed)).Methods(http.MethodPost)
	api.HandleFunc("/feeds/custom", h.createCustomFeed).Methods(http.MethodPost)
	api.HandleFunc("/feeds/{id:.+}/rate", h.resolveFeed).Methods(http.MethodGet)
	api.HandleFunc("/feeds/{id:.+}", h.getFeed).Methods(http.MethodGet)
	api.HandleFunc("/feeds/{id:.+}", h.removeFeed).Methods(http.MethodDelete)
	api.HandleFunc("/stats", h.stats).Methods(http.MethodGet)
	api.HandleFunc("/address", h.address).Methods(http.MethodGet)
	api.HandleFunc("/balances/{address}", h.getBalance).Methods(http.MethodGet)
	api.HandleFunc("/balances/{address}/transactions", h.listTransactions).Methods(http.MethodGet)
	api.HandleFunc("/balances/{address}/credit", h.operator("credit_balance", h.creditBalance)).Methods(http.MethodPost)
	api.HandleFunc("/audit", h.operator("", h.listAudit)).Methods(http.MethodGet)

	h.root = metrics.InstrumentHandler(router)
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.root.ServeHTTP(w, r)
}

// Close flushes and closes the audit sink, if any.
func (h *Handler) Close() error {
	return h.sink.Close()
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type defaultFeedPayload struct {
	ID         string `json:"id"`
	Decimals   uint64 `json:"decimals"`
	UpdateFreq uint64 `json:"update_freq"`
}

func (h *Handler) createDefaultFeed(w http.ResponseWriter, r *http.Request) {
	var payload defaultFeedPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	f, err := h.app.Feeds.CreateDefaultFeed(r.Context(), feeds.DefaultFeedRequest{
		ID:         payload.ID,
		Decimals:   payload.Decimals,
		UpdateFreq: seconds(payload.UpdateFreq),
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

type customFeedPayload struct {
	ID         string        `json:"id"`
	Kind       feed.Kind     `json:"kind"`
	UpdateFreq uint64        `json:"update_freq"`
	Decimals   *uint64       `json:"decimals,omitempty"`
	Sources    []feed.Source `json:"sources"`
}

func (h *Handler) createCustomFeed(w http.ResponseWriter, r *http.Request) {
	owner := callerAddress(r)
	if owner == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%s header is required", CallerHeader))
		return
	}
	var payload customFeedPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	f, err := h.app.Feeds.CreateCustomFeed(r.Context(), owner, feeds.CustomFeedRequest{
		ID:         payload.ID,
		Kind:       payload.Kind,
		UpdateFreq: seconds(payload.UpdateFreq),
		Decimals:   payload.Decimals,
		Sources:    payload.Sources,
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (h *Handler) resolveFeed(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	withSignature, _ := strconv.ParseBool(r.URL.Query().Get("signature"))
	answer, err := h.app.Feeds.Resolve(r.Context(), id, withSignature)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (h *Handler) getFeed(w http.ResponseWriter, r *http.Request) {
	f, err := h.app.Feeds.GetFeed(r.Context(), mux.Vars(r)["id"], callerAddress(r))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (h *Handler) removeFeed(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	operator := h.auth.isOperator(r)
	caller := callerAddress(r)
	if !operator && caller == "" {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("%s header or operator token is required", CallerHeader))
		return
	}
	if err := h.app.Feeds.RemoveFeed(r.Context(), id, caller, operator); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if operator {
		h.record(r, "remove_feed", http.StatusNoContent)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listFeeds(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := feed.Filter{
		Kind:   feed.Kind(strings.TrimSpace(q.Get("kind"))),
		Owner:  strings.TrimSpace(q.Get("owner")),
		Search: strings.TrimSpace(q.Get("search")),
	}
	if filter.Kind != "" && !filter.Kind.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown feed kind %q", filter.Kind))
		return
	}
	list, err := h.app.Feeds.ListFeeds(r.Context(), filter)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type statsResponse struct {
	Outcall    outcall.Stats `json:"outcall"`
	Signatures int           `json:"signatures"`
}

func (h *Handler) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{
		Outcall:    h.app.Outcalls.Stats(),
		Signatures: h.app.Signatures.Len(),
	})
}

func (h *Handler) address(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"address": h.app.Feeds.Address()})
}

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	acct, err := h.app.Balances.GetBalance(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	txs, err := h.app.Balances.Transactions(r.Context(), mux.Vars(r)["address"], limit)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func (h *Handler) creditBalance(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Amount    uint64 `json:"amount"`
		Reference string `json:"reference"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	reference := payload.Reference
	if reference == "" {
		reference = "operator-credit"
	}
	acct, err := h.app.Balances.Credit(r.Context(), mux.Vars(r)["address"], payload.Amount, reference)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (h *Handler) listAudit(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, h.audit.listLimit(limit))
}

// statusFor maps service errors onto HTTP statuses.
func statusFor(err error) int {
	var (
		sourcesErr *feeds.SourcesError
		serverErr  *outcall.ServerError
		serviceErr *exchangerate.ServiceError
	)
	switch {
	case errors.Is(err, feeds.ErrFeedNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, feeds.ErrFeedExists), errors.Is(err, storage.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, feeds.ErrNotFeedOwner):
		return http.StatusForbidden
	case errors.Is(err, balances.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, feeds.ErrInvalidFeedID),
		errors.Is(err, feeds.ErrInvalidFeed),
		errors.Is(err, feeds.ErrValueTypeIncompatible),
		errors.Is(err, balances.ErrInvalidAmount),
		errors.Is(err, balances.ErrInvalidAddress):
		return http.StatusBadRequest
	case exchangerate.IsRateLimited(err):
		return http.StatusTooManyRequests
	case errors.Is(err, feeds.ErrNoRateValue),
		errors.Is(err, feeds.ErrUnableToConvertRate),
		errors.As(err, &sourcesErr),
		errors.As(err, &serverErr),
		errors.As(err, &serviceErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func seconds(v uint64) time.Duration {
	return time.Duration(v) * time.Second
}

func parseLimit(raw string) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return limit, nil
}

func callerAddress(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(CallerHeader))
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
