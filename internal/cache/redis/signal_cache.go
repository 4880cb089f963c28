package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sahil75416/crisisCapital/internal/domain"
)

// SignalCache implements domain.SignalCache. Each signal lives under
// signal:{key} as JSON with a TTL, so repeated predictions for the same
// subject do not hit the feeder.
type SignalCache struct {
	c *Client
}

// NewSignalCache creates a SignalCache backed by the given Client.
func NewSignalCache(c *Client) *SignalCache {
	return &SignalCache{c: c}
}

func (sc *SignalCache) key(k string) string {
	return sc.c.Key("signal:" + k)
}

// Set stores sig under key for ttl.
func (sc *SignalCache) Set(ctx context.Context, key string, sig domain.CrisisSignal, ttl time.Duration) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("redis: marshal signal %s: %w", key, err)
	}
	if err := sc.c.rdb.Set(ctx, sc.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set signal %s: %w", key, err)
	}
	return nil
}

// Get returns the cached signal for key or domain.ErrNotFound.
func (sc *SignalCache) Get(ctx context.Context, key string) (domain.CrisisSignal, error) {
	data, err := sc.c.rdb.Get(ctx, sc.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.CrisisSignal{}, domain.ErrNotFound
		}
		return domain.CrisisSignal{}, fmt.Errorf("redis: get signal %s: %w", key, err)
	}
	var sig domain.CrisisSignal
	if err := json.Unmarshal(data, &sig); err != nil {
		return domain.CrisisSignal{}, fmt.Errorf("redis: unmarshal signal %s: %w", key, err)
	}
	return sig, nil
}

var _ domain.SignalCache = (*SignalCache)(nil)
