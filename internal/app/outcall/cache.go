// Package outcall deduplicates and caches outbound HTTP fetches keyed by URL.
//
// Deduplication is best effort: a placeholder entry marks a fetch in flight,
// and later callers poll for it, but the check and the placeholder write are
// separate critical sections, so two callers can both start a fetch.
package outcall

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/R3E-Network/oracle_layer/internal/app/metrics"
	"github.com/R3E-Network/oracle_layer/pkg/logger"
)

// DefaultMaxResponseBytes is assumed when a request declares no cap.
const DefaultMaxResponseBytes uint64 = 2 * 1024 * 1024

var (
	// ErrOutcall wraps transport failures.
	ErrOutcall = errors.New("http outcall error")
)

// ServerError is returned for upstream statuses of 400 and above. Such
// responses are never cached.
type ServerError struct {
	StatusCode int
	Body       string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("got error from server: %s", e.Body)
}

// Request is one outbound call. URL is the cache key.
type Request struct {
	Method           string
	URL              string
	Header           http.Header
	Body             []byte
	MaxResponseBytes uint64
}

// Response is a completed upstream response.
type Response struct {
	StatusCode int         `json:"status_code"`
	Header     http.Header `json:"header,omitempty"`
	Body       []byte      `json:"body"`
}

// Transport issues the actual network call.
type Transport interface {
	Do(ctx context.Context, req Request) (Response, error)
}

// Stats are informational counters.
type Stats struct {
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	TotalRequests uint64 `json:"total_requests"`
	CacheSize     uint64 `json:"cache_size"`
}

// Config tunes a Cache. Zero values take the defaults.
type Config struct {
	Capacity     int
	PollInterval time.Duration
	WaitTimeout  time.Duration
	BaseCost     uint64
	PerByteCost  uint64
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = 300
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = 24 * time.Second
	}
	if c.BaseCost == 0 {
		c.BaseCost = 400_000_000
	}
	if c.PerByteCost == 0 {
		c.PerByteCost = 100_000
	}
	return c
}

type entry struct {
	cachedAt time.Time
	ttl      time.Duration
	// nil while the fetch is in flight
	response *Response
}

func (e *entry) expired(now time.Time) bool {
	return now.After(e.cachedAt.Add(e.ttl))
}

// Cache is the outbound request cache. It is safe for concurrent use.
type Cache struct {
	transport Transport
	cfg       Config
	log       *logger.Logger

	mu      sync.Mutex
	entries map[string]*entry
	stats   Stats

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a cache in front of transport.
func New(transport Transport, cfg Config, log *logger.Logger) *Cache {
	if log == nil {
		log = logger.NewDefault("outcall")
	}
	return &Cache{
		transport: transport,
		cfg:       cfg.withDefaults(),
		log:       log,
		entries:   make(map[string]*entry),
		now:       time.Now,
		sleep:     sleepContext,
	}
}

// Request returns a fresh cached response for req.URL or fetches it. The
// second result is the time the response was cached.
func (c *Cache) Request(ctx context.Context, req Request, ttl time.Duration) (Response, time.Time, error) {
	c.mu.Lock()
	c.stats.TotalRequests++
	e, ok := c.entries[req.URL]
	if !ok {
		c.mu.Unlock()
		c.log.WithField("url", req.URL).Debug("outcall cache miss")
		return c.ForceRequest(ctx, req, ttl)
	}
	if e.response != nil {
		if !e.expired(c.now()) {
			resp, cachedAt := *e.response, e.cachedAt
			c.mu.Unlock()
			metrics.RecordOutcall("hit")
			return resp, cachedAt, nil
		}
		c.mu.Unlock()
		c.log.WithField("url", req.URL).Debug("outcall cache entry expired")
		return c.ForceRequest(ctx, req, ttl)
	}
	c.mu.Unlock()

	if resp, cachedAt, ok, err := c.awaitInFlight(ctx, req.URL); err != nil {
		return Response{}, time.Time{}, err
	} else if ok {
		metrics.RecordOutcall("wait_hit")
		return resp, cachedAt, nil
	}

	c.log.WithField("url", req.URL).Warn("in-flight outcall did not complete in time, fetching again")
	return c.ForceRequest(ctx, req, ttl)
}

func (c *Cache) awaitInFlight(ctx context.Context, url string) (Response, time.Time, bool, error) {
	for waited := time.Duration(0); waited < c.cfg.WaitTimeout; waited += c.cfg.PollInterval {
		if err := c.sleep(ctx, c.cfg.PollInterval); err != nil {
			return Response{}, time.Time{}, false, err
		}
		c.mu.Lock()
		e, ok := c.entries[url]
		if ok && e.response != nil {
			resp, cachedAt := *e.response, e.cachedAt
			c.mu.Unlock()
			return resp, cachedAt, true, nil
		}
		c.mu.Unlock()
	}
	return Response{}, time.Time{}, false, nil
}

// ForceRequest always issues the fetch. A placeholder is stored before the
// call so concurrent callers can observe that it is in flight.
func (c *Cache) ForceRequest(ctx context.Context, req Request, ttl time.Duration) (Response, time.Time, error) {
	cost := c.Cost(req)

	c.mu.Lock()
	c.entries[req.URL] = &entry{}
	c.mu.Unlock()

	metrics.AddOutcallCost(cost)
	resp, err := c.transport.Do(ctx, req)
	if err != nil {
		c.mu.Lock()
		c.stats.Misses++
		c.mu.Unlock()
		metrics.RecordOutcall("error")
		return Response{}, time.Time{}, fmt.Errorf("%w: %v", ErrOutcall, err)
	}

	if resp.StatusCode >= 400 {
		c.mu.Lock()
		c.stats.Misses++
		c.mu.Unlock()
		metrics.RecordOutcall("server_error")
		body := string(resp.Body)
		if body == "" {
			body = "unknown error"
		}
		return Response{}, time.Time{}, &ServerError{StatusCode: resp.StatusCode, Body: body}
	}

	c.mu.Lock()
	cachedAt := c.now()
	stored := resp
	c.entries[req.URL] = &entry{cachedAt: cachedAt, ttl: ttl, response: &stored}
	c.stats.Hits++
	size := len(c.entries)
	c.mu.Unlock()

	metrics.RecordOutcall("fetch")
	metrics.SetOutcallEntries(size)
	c.log.WithField("url", req.URL).
		WithField("bytes", len(resp.Body)).
		WithField("cost", cost).
		Debug("outcall fetched")
	return resp, cachedAt, nil
}

// Cost is the budget attached to one fetch: a base cost plus a per-byte cost
// over the response cap and the request body.
func (c *Cache) Cost(req Request) uint64 {
	maxBytes := req.MaxResponseBytes
	if maxBytes == 0 {
		maxBytes = DefaultMaxResponseBytes
	}
	return c.cfg.BaseCost + maxBytes*c.cfg.PerByteCost + uint64(len(req.Body))*c.cfg.PerByteCost
}

// Clean is a no-op until the cache exceeds capacity. It then drops expired
// entries and keeps the capacity most recently cached of the rest.
func (c *Cache) Clean() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) <= c.cfg.Capacity {
		return
	}
	before := len(c.entries)

	now := c.now()
	for url, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, url)
		}
	}

	if excess := len(c.entries) - c.cfg.Capacity; excess > 0 {
		urls := make([]string, 0, len(c.entries))
		for url := range c.entries {
			urls = append(urls, url)
		}
		sort.Slice(urls, func(i, j int) bool {
			a, b := c.entries[urls[i]], c.entries[urls[j]]
			if a.cachedAt.Equal(b.cachedAt) {
				return urls[i] < urls[j]
			}
			return a.cachedAt.Before(b.cachedAt)
		})
		for _, url := range urls[:excess] {
			delete(c.entries, url)
		}
	}

	metrics.SetOutcallEntries(len(c.entries))
	c.log.WithField("removed", before-len(c.entries)).
		WithField("remaining", len(c.entries)).
		Info("outcall cache cleaned")
}

// Stats returns a copy of the counters with the current size.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.CacheSize = uint64(len(c.entries))
	return s
}

// Len returns the number of entries, placeholders included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
