package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a durable Store on a Redis server, for hosts that want the
// durable tier shared across processes. Keys are prefixed with the
// namespace so several caches can share one database.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a store over an existing Redis client. The client's
// lifecycle belongs to this store once handed over: Close closes it.
func NewRedisStore(client *redis.Client, namespace string) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "accesscore:" + namespace + ":",
	}
}

// Get returns the value stored under key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cache record: %w", err)
	}
	return val, true, nil
}

// Put stores value under key with no expiry; records live until Clear.
func (s *RedisStore) Put(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to put cache record: %w", err)
	}
	return nil
}

// GetAll scans the namespace and returns every stored record.
func (s *RedisStore) GetAll(ctx context.Context) (map[string][]byte, error) {
	out := make(map[string][]byte)

	iter := s.client.Scan(ctx, 0, s.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		fullKey := iter.Val()
		val, err := s.client.Get(ctx, fullKey).Bytes()
		if err == redis.Nil {
			continue // expired or deleted between scan and get
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get cache record: %w", err)
		}
		out[fullKey[len(s.prefix):]] = val
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan cache namespace: %w", err)
	}
	return out, nil
}

// Clear removes every record in the namespace.
func (s *RedisStore) Clear(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache namespace: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to clear cache namespace: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
