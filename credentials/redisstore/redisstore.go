// Package redisstore persists credentials in Redis so several processes can
// share one session.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jrsteele09/go-auth-client/credentials"
	"github.com/redis/go-redis/v9"
)

var _ credentials.Store = (*RedisStore)(nil)

// RedisStore stores each credential kind under prefix+kind.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// Option configures a RedisStore.
type Option func(*RedisStore)

// WithTTL expires stored values after ttl. Zero keeps them forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

func New(rdb redis.UniversalClient, prefix string, opts ...Option) *RedisStore {
	s := &RedisStore{
		rdb:    rdb,
		prefix: prefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(kind credentials.Kind) string {
	return s.prefix + string(kind)
}

func (s *RedisStore) Get(ctx context.Context, kind credentials.Kind) (string, error) {
	if err := credentials.ValidateKind(kind); err != nil {
		return "", err
	}
	v, err := s.rdb.Get(ctx, s.key(kind)).Result()
	if errors.Is(err, redis.Nil) {
		return "", credentials.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", kind, err)
	}
	return v, nil
}

func (s *RedisStore) Save(ctx context.Context, kind credentials.Kind, value string) error {
	if err := credentials.ValidateKind(kind); err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.key(kind), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", kind, err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, kinds ...credentials.Kind) error {
	if len(kinds) == 0 {
		return nil
	}
	keys := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		keys = append(keys, s.key(kind))
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
