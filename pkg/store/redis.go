package store

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores hook definitions in Redis. Definitions are small JSON
// documents, which suits Redis well.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend creates an uninitialized Redis backend.
func NewRedisBackend() *RedisBackend {
	return &RedisBackend{}
}

// Init implements Backend. Recognized keys: addr, password, db, prefix.
func (r *RedisBackend) Init(config map[string]interface{}) error {
	addr, _ := config["addr"].(string)
	if addr == "" {
		addr = "localhost:6379"
	}
	password, _ := config["password"].(string)

	dbNum := 0
	switch db := config["db"].(type) {
	case float64:
		dbNum = int(db)
	case int:
		dbNum = db
	}

	if prefix, ok := config["prefix"].(string); ok {
		r.prefix = strings.TrimSuffix(prefix, ":")
	}

	r.client = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       dbNum,
	})

	if _, err := r.client.Ping(context.Background()).Result(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	return nil
}

// Save implements Backend.
func (r *RedisBackend) Save(ctx context.Context, key string, data io.Reader) error {
	if r.client == nil {
		return ErrBackendNotReady
	}

	raw, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("failed to read data: %w", err)
	}

	if err := r.client.Set(ctx, r.buildKey(key), raw, 0).Err(); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

// Load implements Backend.
func (r *RedisBackend) Load(ctx context.Context, key string) (io.ReadCloser, error) {
	if r.client == nil {
		return nil, ErrBackendNotReady
	}

	result, err := r.client.Get(ctx, r.buildKey(key)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to load %s: %w", key, err)
	}
	return io.NopCloser(strings.NewReader(result)), nil
}

// Delete implements Backend.
func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	if r.client == nil {
		return ErrBackendNotReady
	}

	removed, err := r.client.Del(ctx, r.buildKey(key)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	if removed == 0 {
		return ErrKeyNotFound
	}
	return nil
}

// Exists implements Backend.
func (r *RedisBackend) Exists(ctx context.Context, key string) (bool, error) {
	if r.client == nil {
		return false, ErrBackendNotReady
	}

	count, err := r.client.Exists(ctx, r.buildKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", key, err)
	}
	return count > 0, nil
}

// List implements Backend.
func (r *RedisBackend) List(ctx context.Context, prefix string) ([]string, error) {
	if r.client == nil {
		return nil, ErrBackendNotReady
	}

	pattern := r.buildKey(prefix) + "*"
	var keys []string

	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, r.stripPrefix(iter.Val()))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", pattern, err)
	}
	return keys, nil
}

// Close implements Backend.
func (r *RedisBackend) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *RedisBackend) buildKey(key string) string {
	if r.prefix == "" {
		return key
	}
	return r.prefix + ":" + key
}

func (r *RedisBackend) stripPrefix(redisKey string) string {
	if r.prefix == "" {
		return redisKey
	}
	return strings.TrimPrefix(redisKey, r.prefix+":")
}
