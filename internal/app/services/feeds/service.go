// Package feeds resolves oracle answers for declared feeds and manages the
// feed definitions themselves.
package feeds

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/R3E-Network/oracle_layer/internal/app/domain/feed"
	"github.com/R3E-Network/oracle_layer/internal/app/services/exchangerate"
	"github.com/R3E-Network/oracle_layer/internal/app/services/source"
	"github.com/R3E-Network/oracle_layer/internal/app/storage"
	"github.com/R3E-Network/oracle_layer/pkg/logger"
)

// Source failure policies.
const (
	PolicyTolerant = "tolerant"
	PolicyStrict   = "strict"
)

// Balances is the ledger surface used to settle custom feed fees.
type Balances interface {
	IsSufficient(ctx context.Context, address string, amount uint64) (bool, error)
	Transfer(ctx context.Context, from, to string, amount uint64, reference string) error
}

// SourceFetcher fetches and resolves one declared source.
type SourceFetcher interface {
	Fetch(ctx context.Context, src feed.Source, ttl time.Duration, shape source.Shape) (source.Result, error)
}

// Attestor signs packed answers. Its address is the service's operating
// address and receives every fee.
type Attestor interface {
	Sign(ctx context.Context, payload []byte) ([]byte, error)
	Address() string
}

// CacheCleaner is a bounded cache that must be trimmed periodically.
type CacheCleaner interface {
	Clean()
}

// Dependencies groups the collaborators of the service.
type Dependencies struct {
	Store    storage.FeedStore
	Primary  exchangerate.Client
	Fallback exchangerate.Client
	Fetcher  SourceFetcher
	Balances Balances
	Attestor Attestor
	Caches   []CacheCleaner
}

// Options tunes resolution and validation.
type Options struct {
	SourcePolicy  string
	FeePerByte    uint64
	MinUpdateFreq time.Duration
	MaxSources    int
	MaxAttempts   int
	RetryDelay    time.Duration
	TimestampLag  time.Duration
}

func (o Options) withDefaults() Options {
	if o.SourcePolicy == "" {
		o.SourcePolicy = PolicyTolerant
	}
	if o.MinUpdateFreq <= 0 {
		o.MinUpdateFreq = 5 * time.Minute
	}
	if o.MaxSources <= 0 {
		o.MaxSources = 5
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	if o.TimestampLag <= 0 {
		o.TimestampLag = 5 * time.Second
	}
	return o
}

// Service resolves feeds and manages their definitions.
type Service struct {
	store    storage.FeedStore
	primary  exchangerate.Client
	fallback exchangerate.Client
	fetcher  SourceFetcher
	balances Balances
	attestor Attestor
	caches   []CacheCleaner
	opts     Options
	log      *logger.Logger

	// rates holds default-path answers for update_freq.
	rates *gocache.Cache

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New constructs the feed service.
func New(deps Dependencies, opts Options, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("feeds")
	}
	return &Service{
		store:    deps.Store,
		primary:  deps.Primary,
		fallback: deps.Fallback,
		fetcher:  deps.Fetcher,
		balances: deps.Balances,
		attestor: deps.Attestor,
		caches:   deps.Caches,
		opts:     opts.withDefaults(),
		log:      log,
		rates:    gocache.New(gocache.NoExpiration, time.Minute),
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// Address returns the operating address credited with fees.
func (s *Service) Address() string {
	if s.attestor == nil {
		return ""
	}
	return s.attestor.Address()
}

// CleanCaches trims every attached cache.
func (s *Service) CleanCaches() {
	for _, c := range s.caches {
		c.Clean()
	}
	s.rates.DeleteExpired()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
