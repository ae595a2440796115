package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisStore keeps the snapshot under one redis key.
type RedisStore struct {
	client *redis.Client
	key    string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to addr and verifies the connection.
func NewRedisStore(ctx context.Context, addr, password string, db int, key string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", addr, err)
	}
	return &RedisStore{client: client, key: key}, nil
}

func (s *RedisStore) Save(ctx context.Context, st State) error {
	data, err := encode(st)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("store snapshot in redis: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context) (State, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, ErrNoSnapshot
	}
	if err != nil {
		return State{}, fmt.Errorf("read snapshot from redis: %w", err)
	}
	return decode(data)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
