// Package cache wraps the Redis-compatible store the proxy caches
// responses in. It picks single-node or cluster mode from the node
// list the way the source proxy's SysRedisClient::new did (a single
// URL dials a plain client, a comma-separated list dials a cluster
// client), and floors every write's TTL the same way the source
// clamped cache durations.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// MinTTL is the shortest duration any entry is allowed to live in the
// cache, regardless of what a rule's configured duration says.
const MinTTL = 60 * time.Second

// redisCmdable is the subset of redis.Cmdable both *redis.Client and
// *redis.ClusterClient satisfy, which is all this package needs.
type redisCmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// Client is the cache's read/write surface, decoupled from whether the
// backing store is a single node or a cluster.
type Client struct {
	rdb redisCmdable
}

// New dials nodes: a single Redis-protocol URL (or bare "host:port")
// for a standalone Redis, or a comma-separated list for a cluster
// client.
func New(nodes string) (*Client, error) {
	addrs := strings.Split(nodes, ",")
	for i := range addrs {
		addrs[i] = strings.TrimSpace(addrs[i])
	}
	if len(addrs) == 0 || addrs[0] == "" {
		return nil, fmt.Errorf("cache: no redis nodes configured")
	}

	if len(addrs) == 1 {
		if opts, err := parseNodeURL(addrs[0]); err == nil {
			return &Client{rdb: redis.NewClient(opts)}, nil
		} else if strings.Contains(addrs[0], "://") {
			return nil, fmt.Errorf("cache: parse redis url %q: %w", addrs[0], err)
		}
		return &Client{rdb: redis.NewClient(&redis.Options{Addr: addrs[0]})}, nil
	}

	for i := range addrs {
		addrs[i] = stripScheme(addrs[i])
	}
	return &Client{rdb: redis.NewClusterClient(&redis.ClusterOptions{Addrs: addrs})}, nil
}

// parseNodeURL parses a scheme-prefixed Redis URL ("redis://host:port",
// "rediss://host:port/db") into go-redis Options, matching the source
// proxy's Client::open(url) dialing.
func parseNodeURL(addr string) (*redis.Options, error) {
	if !strings.Contains(addr, "://") {
		return nil, fmt.Errorf("cache: %q is not a URL", addr)
	}
	return redis.ParseURL(addr)
}

// stripScheme removes a leading "scheme://" from addr, since
// redis.ClusterOptions.Addrs expects bare "host:port" entries even when
// the configured node list uses redis:// URLs.
func stripScheme(addr string) string {
	if i := strings.Index(addr, "://"); i >= 0 {
		return addr[i+len("://"):]
	}
	return addr
}

// Ping verifies connectivity, for startup and health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Get fetches the cached response body for key. ok is false on a
// cache miss; err is non-nil only for an actual backend failure.
func (c *Client) Get(ctx context.Context, key string) (value []byte, ok bool, err error) {
	v, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: get %q: %w", key, err)
	}
	return v, true, nil
}

// Exists reports whether key is present without fetching its value.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("cache: exists %q: %w", key, err)
	}
	return n > 0, nil
}

// SetWithTTL stores value under key, clamping ttl up to MinTTL.
func (c *Client) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < MinTTL {
		ttl = MinTTL
	}
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %q: %w", key, err)
	}
	return nil
}
