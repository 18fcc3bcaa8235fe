package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
)

var errCacheMiss = errors.New("cache miss")

// Cached is a cache-aside layer in front of another Store. Cache failures
// are logged and fall through to the backing store.
type Cached struct {
	next    Store
	client  *redis.Client
	baseTTL time.Duration
	logger  *slog.Logger
}

var _ Store = (*Cached)(nil)

// NewCached wraps next with a Redis cache.
func NewCached(next Store, client *redis.Client, logger *slog.Logger) *Cached {
	return &Cached{next: next, client: client, baseTTL: 15 * time.Minute, logger: logger}
}

func (c *Cached) Get(ctx context.Context, shop string) (*Credential, error) {
	cred, err := c.load(ctx, shop)
	if err == nil {
		return cred, nil
	}
	if !errors.Is(err, errCacheMiss) {
		c.logger.Warn("credential cache read failed", "shop", shop, "error", err)
	}

	cred, err = c.next.Get(ctx, shop)
	if err != nil {
		return nil, err
	}
	if err := c.store(ctx, cred); err != nil {
		c.logger.Warn("credential cache write failed", "shop", shop, "error", err)
	}
	return cred, nil
}

func (c *Cached) Save(ctx context.Context, cred *Credential) error {
	if err := c.next.Save(ctx, cred); err != nil {
		return err
	}
	c.evict(ctx, cred.Shop)
	return nil
}

func (c *Cached) Delete(ctx context.Context, shop string) error {
	if err := c.next.Delete(ctx, shop); err != nil {
		return err
	}
	c.evict(ctx, shop)
	return nil
}

func (c *Cached) load(ctx context.Context, shop string) (*Credential, error) {
	data, err := c.client.Get(ctx, cacheKey(shop)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("decoding cached credential: %w", err)
	}
	return &cred, nil
}

func (c *Cached) store(ctx context.Context, cred *Credential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encoding credential: %w", err)
	}
	jitter := time.Duration(rand.Intn(5)) * time.Minute
	if err := c.client.Set(ctx, cacheKey(cred.Shop), data, c.baseTTL+jitter).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *Cached) evict(ctx context.Context, shop string) {
	if err := c.client.Del(ctx, cacheKey(shop)).Err(); err != nil {
		c.logger.Warn("credential cache evict failed", "shop", shop, "error", err)
	}
}

func cacheKey(shop string) string {
	return fmt.Sprintf("credential:%s", shop)
}
