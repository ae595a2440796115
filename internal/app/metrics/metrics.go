package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "oracle_layer"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	outcallRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outcall",
			Name:      "requests_total",
			Help:      "Outbound request cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	outcallCost = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outcall",
			Name:      "cost_units_total",
			Help:      "Accumulated cost budget of issued outbound fetches.",
		},
	)

	outcallEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "outcall",
			Name:      "cache_entries",
			Help:      "Entries held by the outbound request cache.",
		},
	)

	signatureRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signatures",
			Name:      "requests_total",
			Help:      "Signature cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	signatureEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "signatures",
			Name:      "cache_entries",
			Help:      "Entries held by the signature cache.",
		},
	)

	exchangeRateCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exchange_rate",
			Name:      "calls_total",
			Help:      "Exchange-rate resolutions per service and result.",
		},
		[]string{"service", "success"},
	)

	resolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feeds",
			Name:      "resolutions_total",
			Help:      "Feed resolutions by kind and result.",
		},
		[]string{"kind", "success"},
	)

	resolutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "feeds",
			Name:      "resolution_duration_seconds",
			Help:      "Duration of feed resolutions.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"kind"},
	)

	sourcesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feeds",
			Name:      "sources_dropped_total",
			Help:      "Custom feed sources dropped after a failed fetch.",
		},
	)

	feesCharged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feeds",
			Name:      "fees_charged_total",
			Help:      "Total fee amount settled for custom feed resolutions.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		outcallRequests,
		outcallCost,
		outcallEntries,
		signatureRequests,
		signatureEntries,
		exchangeRateCalls,
		resolutions,
		resolutionDuration,
		sourcesDropped,
		feesCharged,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordOutcall counts one outbound cache lookup.
func RecordOutcall(outcome string) {
	outcallRequests.WithLabelValues(outcome).Inc()
}

// AddOutcallCost accumulates the cost budget of an issued fetch.
func AddOutcallCost(units uint64) {
	outcallCost.Add(float64(units))
}

// SetOutcallEntries publishes the outbound cache size.
func SetOutcallEntries(n int) {
	outcallEntries.Set(float64(n))
}

// RecordSignature counts one signature cache lookup.
func RecordSignature(outcome string) {
	signatureRequests.WithLabelValues(outcome).Inc()
}

// SetSignatureEntries publishes the signature cache size.
func SetSignatureEntries(n int) {
	signatureEntries.Set(float64(n))
}

// RecordExchangeRateCall records a primary or fallback rate service resolution.
func RecordExchangeRateCall(service string, success bool) {
	exchangeRateCalls.WithLabelValues(service, strconv.FormatBool(success)).Inc()
}

// RecordResolution records metrics for a feed resolution.
func RecordResolution(kind string, duration time.Duration, success bool) {
	if kind == "" {
		kind = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	resolutions.WithLabelValues(kind, strconv.FormatBool(success)).Inc()
	resolutionDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordSourceDropped counts a custom source skipped after a failure.
func RecordSourceDropped() {
	sourcesDropped.Inc()
}

// AddFeeCharged accumulates settled fees.
func AddFeeCharged(amount uint64) {
	feesCharged.Add(float64(amount))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch {
	case len(parts) == 1:
		return "/" + parts[0]
	case parts[0] == "feeds" && (parts[1] == "default" || parts[1] == "custom") && len(parts) == 2:
		return "/feeds/" + parts[1]
	case parts[0] == "feeds" && parts[len(parts)-1] == "rate" && len(parts) > 2:
		return "/feeds/:id/rate"
	case parts[0] == "feeds":
		return "/feeds/:id"
	case parts[0] == "balances" && len(parts) == 2:
		return "/balances/:address"
	case parts[0] == "balances":
		return "/balances/:address/" + parts[len(parts)-1]
	}
	return "/" + parts[0]
}
