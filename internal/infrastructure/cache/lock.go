package cache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ---------------------------------------------------------------------------
// In-process keyed mutex
// ---------------------------------------------------------------------------

// KeyedMutex serializes callers per key within one process
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex creates an empty keyed mutex
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyLock)}
}

// Lock blocks until key is held or ctx is done. The returned unlock is idempotent.
func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-l.ch
				m.release(key, l)
			})
		}, nil
	case <-ctx.Done():
		m.release(key, l)
		return nil, ctx.Err()
	}
}

func (m *KeyedMutex) release(key string, l *keyLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, key)
	}
}

// Len returns the number of keys currently held or awaited
func (m *KeyedMutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

// ---------------------------------------------------------------------------
// Redis lock
// ---------------------------------------------------------------------------

// releaseScript deletes the key only when it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLock is a best-effort distributed mutex built on SET NX PX.
// The TTL bounds how long a crashed holder blocks others.
type RedisLock struct {
	client       *redis.Client
	keyPrefix    string
	ttl          time.Duration
	pollInterval time.Duration
}

// NewRedisLock creates a Redis backed lock
func NewRedisLock(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisLock {
	if keyPrefix == "" {
		keyPrefix = "ledgersync:lock:"
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLock{
		client:       client,
		keyPrefix:    keyPrefix,
		ttl:          ttl,
		pollInterval: 50 * time.Millisecond,
	}
}

// Lock polls until the key is acquired or ctx is done
func (l *RedisLock) Lock(ctx context.Context, key string) (func(), error) {
	token, err := randomToken()
	if err != nil {
		return nil, err
	}
	fullKey := l.keyPrefix + key

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, fullKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			var once sync.Once
			return func() {
				once.Do(func() {
					// the caller context may already be canceled
					releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = releaseScript.Run(releaseCtx, l.client, []string{fullKey}, token).Err()
				})
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func randomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
