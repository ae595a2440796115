package storage_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/oracle_layer/internal/app/domain/feed"
	"github.com/R3E-Network/oracle_layer/internal/app/storage"
	"github.com/R3E-Network/oracle_layer/internal/app/storage/memory"
)

type countingStore struct {
	storage.FeedStore
	gets atomic.Int32
}

func (s *countingStore) GetFeed(ctx context.Context, id string) (feed.Feed, error) {
	s.gets.Add(1)
	return s.FeedStore.GetFeed(ctx, id)
}

func TestCachedFeedStoreReadsThrough(t *testing.T) {
	backing := &countingStore{FeedStore: memory.New()}
	cached, err := storage.NewCachedFeedStore(backing, 4)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = cached.CreateFeed(ctx, feed.Feed{ID: "ETH/USD", Kind: feed.KindDefault, UpdateFreq: time.Minute})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		f, err := cached.GetFeed(ctx, "ETH/USD")
		require.NoError(t, err)
		require.Equal(t, "ETH/USD", f.ID)
	}
	require.EqualValues(t, 1, backing.gets.Load())
	require.Equal(t, 1, cached.Len())

	require.NoError(t, cached.RecordAnswer(ctx, "ETH/USD", &feed.Answer{Data: feed.DefaultPriceFeed{Symbol: "ETH/USD"}}, time.Now()))
	f, err := cached.GetFeed(ctx, "ETH/USD")
	require.NoError(t, err)
	require.NotNil(t, f.LastAnswer)
	require.EqualValues(t, 2, backing.gets.Load())

	require.NoError(t, cached.DeleteFeed(ctx, "ETH/USD"))
	_, err = cached.GetFeed(ctx, "ETH/USD")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

type gatedStore struct {
	storage.FeedStore
	read    chan struct{}
	release chan struct{}
}

func (s *gatedStore) GetFeed(ctx context.Context, id string) (feed.Feed, error) {
	f, err := s.FeedStore.GetFeed(ctx, id)
	s.read <- struct{}{}
	<-s.release
	return f, err
}

func TestCachedFeedStoreDropsReadOverlappingWrite(t *testing.T) {
	backing := &gatedStore{FeedStore: memory.New(), read: make(chan struct{}), release: make(chan struct{})}
	cached, err := storage.NewCachedFeedStore(backing, 4)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = cached.CreateFeed(ctx, feed.Feed{ID: "ETH/USD", Kind: feed.KindDefault, UpdateFreq: time.Minute})
	require.NoError(t, err)

	done := make(chan feed.Feed)
	go func() {
		f, _ := cached.GetFeed(ctx, "ETH/USD")
		done <- f
	}()
	<-backing.read

	require.NoError(t, cached.RecordAnswer(ctx, "ETH/USD", &feed.Answer{Data: feed.DefaultPriceFeed{Symbol: "ETH/USD"}}, time.Now()))
	close(backing.release)
	stale := <-done
	require.Nil(t, stale.LastAnswer)
	require.Zero(t, cached.Len())

	go func() { <-backing.read }()
	f, err := cached.GetFeed(ctx, "ETH/USD")
	require.NoError(t, err)
	require.NotNil(t, f.LastAnswer)
	require.EqualValues(t, 1, f.Status.RequestsCounter)
}
