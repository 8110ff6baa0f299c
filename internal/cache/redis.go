package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis-backed Store. Keys are written without expiry so the
// freshness rule stays in the payload, matching the other backends.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// RedisConfig holds configuration for the Redis store
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// redisEnvelope is the value stored under each key
type redisEnvelope struct {
	Payload   json.RawMessage `json:"payload"`
	WrittenAt time.Time       `json:"writtenAt"`
}

// NewRedis connects to Redis and verifies the connection
func NewRedis(cfg RedisConfig, opts ...Option) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return NewRedisWithClient(client, cfg.Prefix, opts...), nil
}

// NewRedisWithClient wraps an existing client
func NewRedisWithClient(client *redis.Client, prefix string, opts ...Option) *RedisStore {
	if prefix == "" {
		prefix = "stream-feed:"
	}
	o := buildOptions(opts)
	return &RedisStore{
		client: client,
		prefix: prefix,
		now:    o.now,
	}
}

func (c *RedisStore) key(k string) string {
	return c.prefix + k
}

func (c *RedisStore) Read(ctx context.Context, key string) (Entry, bool, error) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	var env redisEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		// A corrupt row is treated as absent; the next write replaces it.
		return Entry{}, false, nil
	}

	return Entry{Payload: env.Payload, WrittenAt: env.WrittenAt}, true, nil
}

func (c *RedisStore) Write(ctx context.Context, key string, payload json.RawMessage) error {
	data, err := json.Marshal(redisEnvelope{Payload: payload, WrittenAt: c.now().UTC()})
	if err != nil {
		return fmt.Errorf("encode cache envelope: %w", err)
	}

	if err := c.client.Set(ctx, c.key(key), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Client exposes the underlying connection for health checks
func (c *RedisStore) Client() *redis.Client {
	return c.client
}

// Close closes the Redis connection
func (c *RedisStore) Close() error {
	return c.client.Close()
}

// Ensure RedisStore implements Store interface
var _ Store = (*RedisStore)(nil)
