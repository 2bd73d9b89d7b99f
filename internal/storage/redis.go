package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisStore implements Store using Redis. Keys are namespaced as
// "sentinel:<bucket>:<key>".
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisStore creates a Redis-backed store and verifies connectivity.
func NewRedisStore(addr string, db int, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis store",
		zap.String("addr", addr),
		zap.Int("db", db))

	return &RedisStore{client: client, logger: logger}, nil
}

// Get retrieves a value.
func (s *RedisStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(bucket, key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get key from Redis: %w", err)
	}
	return data, nil
}

// Put stores a value.
func (s *RedisStore) Put(ctx context.Context, bucket, key string, value []byte) error {
	if err := s.client.Set(ctx, s.key(bucket, key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set key in Redis: %w", err)
	}
	return nil
}

// Delete removes a key.
func (s *RedisStore) Delete(ctx context.Context, bucket, key string) error {
	if err := s.client.Del(ctx, s.key(bucket, key)).Err(); err != nil {
		return fmt.Errorf("failed to delete key from Redis: %w", err)
	}
	return nil
}

// Keys lists keys by prefix, sorted.
func (s *RedisStore) Keys(ctx context.Context, bucket, prefix string) ([]string, error) {
	pattern := s.key(bucket, prefix) + "*"
	strip := fmt.Sprintf("sentinel:%s:", bucket)

	var cursor uint64
	var keys []string
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan Redis keys: %w", err)
		}
		for _, k := range batch {
			keys = append(keys, strings.TrimPrefix(k, strip))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	sort.Strings(keys)
	return keys, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(bucket, key string) string {
	return fmt.Sprintf("sentinel:%s:%s", bucket, key)
}
