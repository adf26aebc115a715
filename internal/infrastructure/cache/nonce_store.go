package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// ---------------------------------------------------------------------------
// In-process nonce store
// ---------------------------------------------------------------------------

// LRUNonceStore remembers used OAuth state nonces in a bounded, expiring LRU.
// Entries older than the cache TTL are forgotten, which matches the state
// token lifetime: an expired state is already rejected by its signature check.
type LRUNonceStore struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, struct{}]
}

// NewLRUNonceStore creates a nonce store holding at most size nonces for ttl
func NewLRUNonceStore(size int, ttl time.Duration) *LRUNonceStore {
	return &LRUNonceStore{cache: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

// MarkUsed records nonce and reports whether it was unseen.
// The ttl argument is ignored; the cache-wide TTL applies.
func (s *LRUNonceStore) MarkUsed(_ context.Context, nonce string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.cache.Get(nonce); seen {
		return false, nil
	}
	s.cache.Add(nonce, struct{}{})
	return true, nil
}

// ---------------------------------------------------------------------------
// Redis nonce store
// ---------------------------------------------------------------------------

// RedisNonceStore shares used nonces across instances
type RedisNonceStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisNonceStore creates a Redis backed nonce store
func NewRedisNonceStore(client *redis.Client, keyPrefix string) *RedisNonceStore {
	if keyPrefix == "" {
		keyPrefix = "ledgersync:oauth-state:"
	}
	return &RedisNonceStore{client: client, keyPrefix: keyPrefix}
}

// MarkUsed records nonce with SETNX and reports whether it was unseen
func (s *RedisNonceStore) MarkUsed(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.keyPrefix+nonce, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record state nonce: %w", err)
	}
	return ok, nil
}
