package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/R3E-Network/oracle_layer/internal/app/domain/feed"
)

// CachedFeedStore keeps recently read feeds in an LRU in front of another
// FeedStore. Every write goes through and invalidates the cached copy.
// A read that overlaps a write does not populate the cache.
type CachedFeedStore struct {
	next  FeedStore
	cache *lru.Cache[string, feed.Feed]

	mu    sync.Mutex
	epoch uint64
}

var _ FeedStore = (*CachedFeedStore)(nil)

// NewCachedFeedStore wraps next with an LRU of the given size.
func NewCachedFeedStore(next FeedStore, size int) (*CachedFeedStore, error) {
	if size <= 0 {
		size = 512
	}
	cache, err := lru.New[string, feed.Feed](size)
	if err != nil {
		return nil, fmt.Errorf("create feed cache: %w", err)
	}
	return &CachedFeedStore{next: next, cache: cache}, nil
}

func (s *CachedFeedStore) CreateFeed(ctx context.Context, f feed.Feed) (feed.Feed, error) {
	created, err := s.next.CreateFeed(ctx, f)
	if err != nil {
		return feed.Feed{}, err
	}
	s.invalidate(created.ID)
	return created, nil
}

func (s *CachedFeedStore) UpdateFeed(ctx context.Context, f feed.Feed) (feed.Feed, error) {
	s.invalidate(f.ID)
	defer s.invalidate(f.ID)
	return s.next.UpdateFeed(ctx, f)
}

func (s *CachedFeedStore) GetFeed(ctx context.Context, id string) (feed.Feed, error) {
	if f, ok := s.cache.Get(id); ok {
		return f.Clone(), nil
	}

	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()

	f, err := s.next.GetFeed(ctx, id)
	if err != nil {
		return feed.Feed{}, err
	}

	s.mu.Lock()
	if s.epoch == epoch {
		s.cache.Add(id, f.Clone())
	}
	s.mu.Unlock()
	return f, nil
}

func (s *CachedFeedStore) ListFeeds(ctx context.Context, filter feed.Filter) ([]feed.Feed, error) {
	return s.next.ListFeeds(ctx, filter)
}

func (s *CachedFeedStore) DeleteFeed(ctx context.Context, id string) error {
	s.invalidate(id)
	defer s.invalidate(id)
	return s.next.DeleteFeed(ctx, id)
}

func (s *CachedFeedStore) RecordAnswer(ctx context.Context, id string, answer *feed.Answer, at time.Time) error {
	s.invalidate(id)
	defer s.invalidate(id)
	return s.next.RecordAnswer(ctx, id, answer, at)
}

func (s *CachedFeedStore) invalidate(id string) {
	s.mu.Lock()
	s.epoch++
	s.cache.Remove(id)
	s.mu.Unlock()
}

// Len returns the number of cached feeds.
func (s *CachedFeedStore) Len() int {
	return s.cache.Len()
}
