// Package sigcache is a non-authoritative accelerator in front of the
// product queue's on-disk signature index. It lets a DownstreamWorker
// reject an obviously-already-seen product (common when an upstream
// connection flaps and replays its recent backlog) before it pays the
// cost of reassembling the full payload and taking the queue's
// signature-index lock. A cache miss, and a cache failure of any kind,
// means nothing: the caller must still go through ProductQueue.Insert,
// which is the only authoritative answer.
package sigcache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Unidata/LDM-sub012/internal/product"
)

// Cache fronts the product-queue signature index with a Redis marker key
// per signature, written with a plain SET and a TTL so a stuck or unreachable Redis never
// grows without bound.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// New dials addr and verifies connectivity with a bounded ping.
func New(addr, password string, db int, ttl time.Duration) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("sigcache: connect: %w", err)
	}

	return &Cache{client: client, ttl: ttl, prefix: "ldm:sig:"}, nil
}

func (c *Cache) key(sig product.Signature) string {
	return c.prefix + sig.String()
}

// MightContain reports a best-effort "probably already inserted" hint.
// false must never be trusted as "definitely not present" — it only means
// "the cache has no opinion, ask the queue."
func (c *Cache) MightContain(ctx context.Context, sig product.Signature) bool {
	if c == nil {
		return false
	}
	n, err := c.client.Exists(ctx, c.key(sig)).Result()
	if err != nil {
		return false
	}
	return n > 0
}

// Remember records that sig has been durably inserted. Errors are not
// returned to the caller: a failed Remember only means a future
// MightContain will miss and fall through to the authoritative check,
// which is always safe.
func (c *Cache) Remember(ctx context.Context, sig product.Signature) {
	if c == nil {
		return
	}
	_ = c.client.Set(ctx, c.key(sig), 1, c.ttl).Err()
}

// Forget drops a signature's entry, used when an eviction makes room for
// the same signature to legitimately reappear later.
func (c *Cache) Forget(ctx context.Context, sig product.Signature) {
	if c == nil {
		return
	}
	_ = c.client.Del(ctx, c.key(sig)).Err()
}

func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
