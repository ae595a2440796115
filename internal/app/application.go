package app

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/R3E-Network/oracle_layer/internal/app/outcall"
	"github.com/R3E-Network/oracle_layer/internal/app/services/balances"
	"github.com/R3E-Network/oracle_layer/internal/app/services/exchangerate"
	"github.com/R3E-Network/oracle_layer/internal/app/services/feeds"
	"github.com/R3E-Network/oracle_layer/internal/app/services/source"
	"github.com/R3E-Network/oracle_layer/internal/app/signing"
	"github.com/R3E-Network/oracle_layer/internal/app/snapshot"
	"github.com/R3E-Network/oracle_layer/internal/app/storage"
	"github.com/R3E-Network/oracle_layer/internal/app/storage/memory"
	"github.com/R3E-Network/oracle_layer/internal/app/system"
	"github.com/R3E-Network/oracle_layer/internal/config"
	"github.com/R3E-Network/oracle_layer/internal/httputil"
	"github.com/R3E-Network/oracle_layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation; a nil Snapshots disables cache snapshots.
type Stores struct {
	Feeds     storage.FeedStore
	Balances  storage.BalanceStore
	Snapshots snapshot.Store
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Outcalls   *outcall.Cache
	Signatures *signing.Cache
	Balances   *balances.Service
	Feeds      *feeds.Service
}

// New builds a fully initialised application from cfg and the provided stores.
func New(cfg *config.Config, stores Stores, log *logger.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Feeds == nil {
		stores.Feeds = mem
	}
	if stores.Balances == nil {
		stores.Balances = mem
	}

	feedStore, err := storage.NewCachedFeedStore(stores.Feeds, cfg.Feeds.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("feed cache: %w", err)
	}

	signer, err := newSigner(cfg.Signing, log)
	if err != nil {
		return nil, fmt.Errorf("signing key: %w", err)
	}

	manager := system.NewManager()

	outcallClient := httputil.NewClient(httputil.ClientConfig{Timeout: cfg.Outcall.Timeout})
	outcalls := outcall.New(outcall.NewHTTPTransport(outcallClient), outcall.Config{
		Capacity:     cfg.Outcall.Capacity,
		PollInterval: cfg.Outcall.PollInterval,
		WaitTimeout:  cfg.Outcall.WaitTimeout,
		BaseCost:     cfg.Outcall.BaseCost,
		PerByteCost:  cfg.Outcall.PerByteCost,
	}, log)
	signatures := signing.NewCache(signer, cfg.Signing.Capacity, log)
	balanceService := balances.New(stores.Balances, log)

	xrcClient := httputil.NewClient(httputil.ClientConfig{Timeout: cfg.ExchangeRate.Timeout})
	var primary, fallback exchangerate.Client
	if url := strings.TrimSpace(cfg.ExchangeRate.PrimaryURL); url != "" {
		primary = exchangerate.NewHTTPClient(url, cfg.ExchangeRate.APIKey, xrcClient)
	} else {
		log.Warn("exchange_rate.primary_url not set; default feeds cannot resolve")
	}
	if url := strings.TrimSpace(cfg.ExchangeRate.FallbackURL); url != "" {
		fallback = exchangerate.NewHTTPClient(url, cfg.ExchangeRate.APIKey, xrcClient)
	}

	feedService := feeds.New(feeds.Dependencies{
		Store:    feedStore,
		Primary:  primary,
		Fallback: fallback,
		Fetcher:  source.NewFetcher(outcalls, cfg.Outcall.UserAgent),
		Balances: balanceService,
		Attestor: signatures,
		Caches:   []feeds.CacheCleaner{outcalls, signatures},
	}, feeds.Options{
		SourcePolicy:  strings.ToLower(cfg.Feeds.SourcePolicy),
		FeePerByte:    cfg.Fees.FeePerByte,
		MinUpdateFreq: cfg.Feeds.MinUpdateFreq,
		MaxSources:    cfg.Feeds.MaxSources,
		MaxAttempts:   cfg.ExchangeRate.MaxAttempts,
		RetryDelay:    cfg.ExchangeRate.RetryDelay,
		TimestampLag:  cfg.ExchangeRate.TimestampLag,
	}, log)

	services := []system.Service{feeds.NewCleaner(feedService, cfg.Feeds.CleanerSchedule, log)}
	if stores.Snapshots != nil {
		services = append(services, snapshot.NewSaver(stores.Snapshots, outcalls, signatures, cfg.Snapshot.Schedule, log))
	}
	for _, svc := range services {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	log.WithField("address", signatures.Address()).Info("oracle service address")

	return &Application{
		manager:    manager,
		log:        log,
		Outcalls:   outcalls,
		Signatures: signatures,
		Balances:   balanceService,
		Feeds:      feedService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

func newSigner(cfg config.SigningConfig, log *logger.Logger) (*signing.KeySigner, error) {
	version := cfg.KeyVersion
	if version == "" {
		version = signing.KeyVersionV1
	}
	if strings.TrimSpace(cfg.KeySeed) == "" {
		log.Warn("signing.key_seed not set; using an ephemeral key, signatures will not survive restarts")
		seed := make([]byte, 32)
		if _, err := rand.Read(seed); err != nil {
			return nil, err
		}
		return signing.NewKeySignerFromSeed(seed, version)
	}
	seed, err := decodeSeed(strings.TrimSpace(cfg.KeySeed))
	if err != nil {
		return nil, err
	}
	return signing.NewKeySignerFromSeed(seed, version)
}

// decodeSeed accepts hex (optionally 0x-prefixed), base64 or a raw string of
// at least 32 bytes.
func decodeSeed(value string) ([]byte, error) {
	if decoded, err := hex.DecodeString(strings.TrimPrefix(value, "0x")); err == nil && len(decoded) >= 32 {
		return decoded, nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil && len(decoded) >= 32 {
		return decoded, nil
	}
	if len(value) >= 32 {
		return []byte(value), nil
	}
	return nil, errors.New("key seed must be at least 32 bytes (raw, hex or base64)")
}
