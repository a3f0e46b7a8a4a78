package dialgw

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// cnamMissMarker is stored for numbers the directory has no name for, so
// repeated misses don't hit PostgreSQL. It cannot collide with a real
// name because names are trimmed before caching.
const cnamMissMarker = "\x00miss"

// CnamCacheOptions configures the Redis-backed CNAM cache.
type CnamCacheOptions struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// CachedDirectory wraps a CnamDirectory with a Redis cache. Cache
// failures degrade to direct directory lookups.
type CachedDirectory struct {
	next   CnamDirectory
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewCachedDirectory connects to Redis and wraps next with a lookup
// cache. The connection is verified with a ping before use.
func NewCachedDirectory(ctx context.Context, next CnamDirectory, opts CnamCacheOptions) (*CachedDirectory, error) {
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	prefix := strings.TrimSpace(opts.Prefix)
	if prefix == "" {
		prefix = "dialgw:cnam:v1"
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: strings.TrimSpace(opts.Username),
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	slog.Info("cnam cache connected", "addr", addr, "ttl", ttl)
	return &CachedDirectory{
		next:   next,
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}, nil
}

// Close releases the Redis connection.
func (c *CachedDirectory) Close() {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Close()
}

func (c *CachedDirectory) key(number string) string {
	return c.prefix + ":" + strings.TrimSpace(number)
}

// LookupName resolves a number through the cache, consulting the
// underlying directory on a cache miss. Both hits and misses are cached.
func (c *CachedDirectory) LookupName(ctx context.Context, number string) (string, error) {
	cached, err := c.client.Get(ctx, c.key(number)).Result()
	switch {
	case err == redis.Nil:
		// Not cached yet.
	case err != nil:
		slog.Warn("cnam cache read failed", "error", err)
	case cached == cnamMissMarker:
		return "", nil
	default:
		return cached, nil
	}

	name, err := c.next.LookupName(ctx, number)
	if err != nil {
		return "", err
	}

	stored := name
	if stored == "" {
		stored = cnamMissMarker
	}
	if err := c.client.Set(ctx, c.key(number), stored, c.ttl).Err(); err != nil {
		slog.Warn("cnam cache write failed", "error", err)
	}

	return name, nil
}
