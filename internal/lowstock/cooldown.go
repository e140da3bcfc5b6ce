package lowstock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cooldown suppresses repeat alerts for the same entry within a window.
type Cooldown struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCooldown constructs the redis-backed cooldown.
func NewCooldown(client *redis.Client, ttl time.Duration) *Cooldown {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &Cooldown{client: client, ttl: ttl}
}

// Acquire reports whether this entry may alert now. The first caller within
// the window wins; everyone else is suppressed until the key expires.
func (c *Cooldown) Acquire(ctx context.Context, companyID, entryID int64) (bool, error) {
	key := cooldownKey(companyID, entryID)
	return c.client.SetNX(ctx, key, 1, c.ttl).Result()
}

// Release gives the window back when no alert went out, so the next
// decrement retries instead of staying silent for the whole ttl.
func (c *Cooldown) Release(ctx context.Context, companyID, entryID int64) error {
	return c.client.Del(ctx, cooldownKey(companyID, entryID)).Err()
}

func cooldownKey(companyID, entryID int64) string {
	return fmt.Sprintf("lowstock:cooldown:%d:%d", companyID, entryID)
}
