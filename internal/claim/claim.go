package claim

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Claimer hands out exclusive, expiring claims on string keys. Used to make
// sure one availability event is only acted on by one process.
type Claimer interface {
	Claim(ctx context.Context, key string) (bool, error)
}

// RedisClaimer coordinates claims across process instances with SET NX.
type RedisClaimer struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedis(rdb *redis.Client, ttl time.Duration) *RedisClaimer {
	return &RedisClaimer{
		rdb:    rdb,
		prefix: "cita:claim:",
		ttl:    ttl,
	}
}

func (c *RedisClaimer) Claim(ctx context.Context, key string) (bool, error) {
	return c.rdb.SetNX(ctx, c.prefix+key, 1, c.ttl).Result()
}

// MemoryClaimer is the single-instance variant. Claims expire so a date that
// reappears hours later counts as a fresh event.
type MemoryClaimer struct {
	mu     sync.Mutex
	ttl    time.Duration
	claims map[string]time.Time
}

func NewMemory(ttl time.Duration) *MemoryClaimer {
	return &MemoryClaimer{
		ttl:    ttl,
		claims: make(map[string]time.Time),
	}
}

func (c *MemoryClaimer) Claim(_ context.Context, key string) (bool, error) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if at, ok := c.claims[key]; ok && now.Sub(at) < c.ttl {
		return false, nil
	}
	c.claims[key] = now
	return true, nil
}
