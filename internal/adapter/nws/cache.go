package nws

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/river-alert-service/internal/domain"
	"github.com/couchcryptid/river-alert-service/internal/observability"
	"github.com/couchcryptid/river-alert-service/internal/pipeline"
)

// CachedSource wraps a ForecastSource with a TTL cache. Keys include
// the local day so entries expire naturally at midnight even within the
// TTL, and concurrent lookups for the same key may race the fetch; the
// last write wins, which is harmless for idempotent forecast data.
type CachedSource struct {
	inner   pipeline.ForecastSource
	ttl     time.Duration
	clock   clockwork.Clock
	metrics *observability.Metrics

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	precip    domain.DailyPrecip
	fetchedAt time.Time
}

// NewCachedSource creates a cache decorator around a forecast source.
func NewCachedSource(inner pipeline.ForecastSource, ttl time.Duration, clock clockwork.Clock, metrics *observability.Metrics) *CachedSource {
	return &CachedSource{
		inner:   inner,
		ttl:     ttl,
		clock:   clock,
		metrics: metrics,
		entries: make(map[string]cacheEntry),
	}
}

func (c *CachedSource) DailyPrecip(ctx context.Context, entity domain.EntityConfig) (domain.DailyPrecip, error) {
	now := c.clock.Now()
	key := c.cacheKey(entity, now)

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && now.Sub(e.fetchedAt) < c.ttl {
		c.mu.Unlock()
		c.metrics.ForecastCache.WithLabelValues("hit").Inc()
		return e.precip, nil
	}
	c.mu.Unlock()
	c.metrics.ForecastCache.WithLabelValues("miss").Inc()

	precip, err := c.inner.DailyPrecip(ctx, entity)
	if err != nil {
		c.metrics.ForecastRequests.WithLabelValues("error").Inc()
		return nil, err
	}
	c.metrics.ForecastRequests.WithLabelValues("success").Inc()

	c.mu.Lock()
	c.entries[key] = cacheEntry{precip: precip, fetchedAt: now}
	c.mu.Unlock()
	return precip, nil
}

func (c *CachedSource) cacheKey(entity domain.EntityConfig, now time.Time) string {
	loc := entity.Timezone
	if loc == nil {
		loc = time.UTC
	}
	return fmt.Sprintf("%.4f,%.4f|%s", entity.Lat, entity.Lon, now.In(loc).Format(domain.DateLayout))
}
