package flags

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nutrifit/integrations/domain"
)

// DefaultTTL bounds how often the durable store is consulted.
const DefaultTTL = 5 * time.Second

// Cache is a TTL-refreshed, read-through view of the feature flag table.
// A refresh replaces the whole map atomically, so concurrent readers never see
// a mix of old and new entries. Safe for concurrent use.
type Cache struct {
	repo  domain.FeatureFlagRepository
	ttl   time.Duration
	clock domain.Clock

	mu          sync.RWMutex
	flags       map[string]bool
	refreshedAt time.Time
}

// NewCache builds a flag cache. A ttl <= 0 falls back to DefaultTTL.
func NewCache(repo domain.FeatureFlagRepository, ttl time.Duration, clock domain.Clock) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Cache{
		repo:  repo,
		ttl:   ttl,
		clock: clock,
	}
}

// IsEnabled reports whether the flag is on. Unknown keys are off. When the
// cached map is missing or stale the caller blocks on a synchronous refresh.
func (c *Cache) IsEnabled(ctx context.Context, key string) (bool, error) {
	c.mu.RLock()
	if c.fresh() {
		enabled := c.flags[key]
		c.mu.RUnlock()
		return enabled, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another caller may have refreshed while we waited for the write lock.
	if !c.fresh() {
		if err := c.refreshLocked(ctx); err != nil {
			return false, err
		}
	}
	return c.flags[key], nil
}

// Invalidate forces the next read to refresh regardless of TTL. Called after
// admin writes to the flag table.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.refreshedAt = time.Time{}
	c.mu.Unlock()
}

func (c *Cache) fresh() bool {
	return c.flags != nil && c.clock.Now().Sub(c.refreshedAt) < c.ttl
}

func (c *Cache) refreshLocked(ctx context.Context) error {
	all, err := c.repo.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("flags: refresh failed: %w", err)
	}

	next := make(map[string]bool, len(all))
	for _, f := range all {
		next[f.Key] = f.IsEnabled
	}
	c.flags = next
	c.refreshedAt = c.clock.Now()

	log.Debug().Int("flag_count", len(next)).Msg("feature flag cache refreshed")
	return nil
}
