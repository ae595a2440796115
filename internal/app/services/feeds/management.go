package feeds

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/R3E-Network/oracle_layer/internal/app/domain/feed"
	"github.com/R3E-Network/oracle_layer/internal/app/services/source"
	"github.com/R3E-Network/oracle_layer/internal/app/storage"
)

// DefaultFeedRequest registers an exchange-rate backed pair.
type DefaultFeedRequest struct {
	ID         string        `json:"id"`
	Decimals   uint64        `json:"decimals"`
	UpdateFreq time.Duration `json:"update_freq"`
}

// CustomFeedRequest registers a feed computed from declared sources.
type CustomFeedRequest struct {
	ID         string        `json:"id"`
	Kind       feed.Kind     `json:"kind"`
	UpdateFreq time.Duration `json:"update_freq"`
	Decimals   *uint64       `json:"decimals,omitempty"`
	Sources    []feed.Source `json:"sources"`
}

// CreateDefaultFeed stores a default feed owned by the service address.
func (s *Service) CreateDefaultFeed(ctx context.Context, req DefaultFeedRequest) (feed.Feed, error) {
	id := strings.TrimSpace(req.ID)
	if _, _, err := ParsePair(id); err != nil {
		return feed.Feed{}, err
	}
	if req.UpdateFreq <= 0 {
		return feed.Feed{}, invalidf("update_freq must be positive")
	}

	decimals := req.Decimals
	f := feed.Feed{
		ID:         id,
		Kind:       feed.KindDefault,
		UpdateFreq: req.UpdateFreq,
		Decimals:   &decimals,
		Owner:      s.Address(),
	}
	created, err := s.store.CreateFeed(ctx, f)
	if err != nil {
		return feed.Feed{}, mapStoreError(err, id)
	}
	s.log.WithField("feed_id", id).Info("default feed created")
	return created, nil
}

// CreateCustomFeed validates req, performs one paid resolution on behalf of
// owner and stores the feed under the "custom_" prefix.
func (s *Service) CreateCustomFeed(ctx context.Context, owner string, req CustomFeedRequest) (feed.Feed, error) {
	owner = strings.ToLower(strings.TrimSpace(owner))
	if owner == "" {
		return feed.Feed{}, invalidf("owner is required")
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		return feed.Feed{}, invalidf("id is required")
	}
	if !strings.HasPrefix(id, feed.CustomPrefix) {
		id = feed.CustomPrefix + id
	}
	kind := req.Kind
	if kind == "" {
		kind = feed.KindCustom
	}

	f := feed.Feed{
		ID:         id,
		Kind:       kind,
		UpdateFreq: req.UpdateFreq,
		Decimals:   req.Decimals,
		Owner:      owner,
		Sources:    req.Sources,
	}
	if err := s.ValidateCustomFeed(f); err != nil {
		return feed.Feed{}, err
	}

	if _, err := s.store.GetFeed(ctx, id); err == nil {
		return feed.Feed{}, fmt.Errorf("%w: %s", ErrFeedExists, id)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return feed.Feed{}, err
	}

	answer, err := s.resolve(ctx, f, false)
	if err != nil {
		return feed.Feed{}, fmt.Errorf("initial resolution of %s: %w", id, err)
	}

	created, err := s.store.CreateFeed(ctx, f)
	if err != nil {
		return feed.Feed{}, mapStoreError(err, id)
	}
	now := s.now()
	if err := s.store.RecordAnswer(ctx, id, &answer, now); err != nil {
		s.log.WithError(err).WithField("feed_id", id).Warn("record initial answer failed")
	} else {
		created.LastAnswer = &answer
		created.Status = feed.Status{LastUpdate: now, UpdatedCounter: 1, RequestsCounter: 1}
	}

	s.log.WithField("feed_id", id).
		WithField("owner", owner).
		WithField("sources", len(f.Sources)).
		Info("custom feed created")
	return created, nil
}

// ValidateCustomFeed checks kind, frequency, source count and every source.
func (s *Service) ValidateCustomFeed(f feed.Feed) error {
	if !f.Kind.IsCustom() {
		return invalidf("kind %q is not a custom kind", f.Kind)
	}
	if f.UpdateFreq < s.opts.MinUpdateFreq {
		return invalidf("update_freq %s is below the minimum %s", f.UpdateFreq, s.opts.MinUpdateFreq)
	}
	if len(f.Sources) == 0 || len(f.Sources) > s.opts.MaxSources {
		return invalidf("between 1 and %d sources are required, got %d", s.opts.MaxSources, len(f.Sources))
	}
	for i, src := range f.Sources {
		if err := ValidateSource(src); err != nil {
			return fmt.Errorf("source %d: %w", i, err)
		}
	}
	return nil
}

// ValidateSource checks the uri, resolver and byte budget of one source.
func ValidateSource(src feed.Source) error {
	u, err := url.Parse(strings.TrimSpace(src.URI))
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalidf("uri %q must be an absolute http(s) url", src.URI)
	}
	if err := source.ValidateResolver(src.Resolver); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFeed, err)
	}
	if src.ExpectedBytes != 0 && (src.ExpectedBytes < feed.MinExpectedBytes || src.ExpectedBytes > feed.MaxExpectedBytes) {
		return invalidf("expected_bytes must be within [%d, %d]", feed.MinExpectedBytes, feed.MaxExpectedBytes)
	}
	for _, key := range src.APIKeys {
		if strings.TrimSpace(key.Title) == "" {
			return invalidf("api key title is required")
		}
	}
	return nil
}

// RemoveFeed deletes a feed. Custom feeds may only be removed by their
// owner; operators may remove any feed.
func (s *Service) RemoveFeed(ctx context.Context, id, caller string, operator bool) error {
	f, err := s.store.GetFeed(ctx, id)
	if err != nil {
		return mapStoreError(err, id)
	}
	if !operator {
		if f.Kind == feed.KindDefault || !strings.EqualFold(f.Owner, strings.TrimSpace(caller)) {
			return fmt.Errorf("%w: %s", ErrNotFeedOwner, id)
		}
	}
	if err := s.store.DeleteFeed(ctx, id); err != nil {
		return mapStoreError(err, id)
	}
	s.rates.Delete(id)
	s.log.WithField("feed_id", id).WithField("caller", caller).Info("feed removed")
	return nil
}

// GetFeed returns a feed with API keys hidden unless caller owns it.
func (s *Service) GetFeed(ctx context.Context, id, caller string) (feed.Feed, error) {
	f, err := s.store.GetFeed(ctx, id)
	if err != nil {
		return feed.Feed{}, mapStoreError(err, id)
	}
	if caller != "" && strings.EqualFold(caller, f.Owner) {
		return f, nil
	}
	return f.Censored(), nil
}

// ListFeeds returns censored feeds matching filter.
func (s *Service) ListFeeds(ctx context.Context, filter feed.Filter) ([]feed.Feed, error) {
	list, err := s.store.ListFeeds(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]feed.Feed, 0, len(list))
	for _, f := range list {
		out = append(out, f.Censored())
	}
	return out, nil
}

func mapStoreError(err error, id string) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrFeedNotFound, id)
	case errors.Is(err, storage.ErrAlreadyExists):
		return fmt.Errorf("%w: %s", ErrFeedExists, id)
	}
	return err
}
