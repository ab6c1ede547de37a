package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// L2 is the shared redis layer. All methods degrade to a miss on redis errors
// so a redis outage never takes a query down with it.
type L2 struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewL2 connects to redis at the given URL (redis://host:port/db form).
func NewL2(url, prefix string, ttl time.Duration) (*L2, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &L2{client: redis.NewClient(opts), prefix: prefix, ttl: ttl}, nil
}

// NewL2WithClient wraps an existing client, used by tests with miniredis.
func NewL2WithClient(client *redis.Client, prefix string, ttl time.Duration) *L2 {
	return &L2{client: client, prefix: prefix, ttl: ttl}
}

func (c *L2) fullKey(key string) string { return c.prefix + ":" + key }

// Get fetches the payload for key. Redis errors log and read as a miss.
func (c *L2) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := c.client.Get(ctx, c.fullKey(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Msg("redis get failed")
		}
		return nil, false
	}
	return val, true
}

// Set stores the payload; ttl<=0 uses the layer default. Errors are logged
// and swallowed.
func (c *L2) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	if err := c.client.Set(ctx, c.fullKey(key), value, ttl).Err(); err != nil {
		log.Warn().Err(err).Msg("redis set failed")
	}
}

// Delete removes one key.
func (c *L2) Delete(ctx context.Context, key string) {
	if err := c.client.Del(ctx, c.fullKey(key)).Err(); err != nil {
		log.Warn().Err(err).Msg("redis del failed")
	}
}

// DeletePrefix removes every key under the given fingerprint prefix using a
// cursor scan, and returns the number deleted.
func (c *L2) DeletePrefix(ctx context.Context, prefix string) int {
	pattern := c.fullKey(prefix) + "*"
	var cursor uint64
	deleted := 0
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			log.Warn().Err(err).Msg("redis scan failed")
			return deleted
		}
		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				log.Warn().Err(err).Msg("redis del failed")
			}
			deleted += int(n)
		}
		cursor = next
		if cursor == 0 {
			return deleted
		}
	}
}

// Flush removes every key in this cache's namespace.
func (c *L2) Flush(ctx context.Context) {
	c.DeletePrefix(ctx, "")
}

// Stats reports the entry count in this cache's namespace.
func (c *L2) Stats(ctx context.Context) LayerStats {
	var entries int
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+":*", 500).Result()
		if err != nil {
			break
		}
		entries += len(keys)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return LayerStats{Entries: entries}
}

// Ping verifies connectivity, used by the readiness probe.
func (c *L2) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (c *L2) Close() error { return c.client.Close() }
