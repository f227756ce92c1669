// Package pipeline orchestrates the fetch-classify-alert monitoring
// cycle. One cycle evaluates every configured entity through a bounded
// worker pool, persists state, and publishes alerts and the feed
// snapshot. Entities are bulkheaded: one entity's failure never blocks
// the rest of the cycle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/river-alert-service/internal/domain"
	"github.com/couchcryptid/river-alert-service/internal/observability"
)

// ObservationSource fetches the latest reading and recent sample history
// for an entity.
type ObservationSource interface {
	Fetch(ctx context.Context, entity domain.EntityConfig) (domain.Reading, []domain.Sample, error)
}

// ForecastSource resolves daily precipitation totals for an entity's
// coordinates. Totals are inches keyed by local calendar date.
type ForecastSource interface {
	DailyPrecip(ctx context.Context, entity domain.EntityConfig) (domain.DailyPrecip, error)
}

// StateStore persists per-entity alert state between cycles.
type StateStore interface {
	Get(ctx context.Context, entityID string) (domain.EntityState, bool, error)
	Put(ctx context.Context, state domain.EntityState) error
	Touch(ctx context.Context, entityID string, seenAt time.Time) error
}

// Publisher delivers alert events and feed snapshots downstream.
type Publisher interface {
	PublishAlerts(ctx context.Context, events []domain.AlertEvent) error
	PublishFeed(ctx context.Context, feed domain.Feed) error
}

// Runner drives the monitoring cycle across all configured entities.
type Runner struct {
	entities []domain.EntityConfig
	source   ObservationSource
	forecast ForecastSource // nil when forecasting is disabled
	store    StateStore
	pub      Publisher
	logger   *slog.Logger
	metrics  *observability.Metrics
	clock    clockwork.Clock
	workers  int

	ready    atomic.Bool
	lastFeed atomic.Pointer[domain.Feed]
}

// New creates a Runner. A nil forecast source disables QPF enrichment.
func New(
	entities []domain.EntityConfig,
	source ObservationSource,
	forecast ForecastSource,
	store StateStore,
	pub Publisher,
	logger *slog.Logger,
	metrics *observability.Metrics,
	clock clockwork.Clock,
	workers int,
) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{
		entities: entities,
		source:   source,
		forecast: forecast,
		store:    store,
		pub:      pub,
		logger:   logger,
		metrics:  metrics,
		clock:    clock,
		workers:  workers,
	}
}

// CheckReadiness returns nil once at least one full cycle has completed.
func (r *Runner) CheckReadiness(_ context.Context) error {
	if !r.ready.Load() {
		return errors.New("no monitoring cycle has completed yet")
	}
	return nil
}

// Snapshot returns the most recent feed, false before the first cycle.
func (r *Runner) Snapshot() (domain.Feed, bool) {
	feed := r.lastFeed.Load()
	if feed == nil {
		return domain.Feed{}, false
	}
	return *feed, true
}

type entityResult struct {
	snapshot domain.EntitySnapshot
	events   []domain.AlertEvent
	ok       bool
}

// RunCycle evaluates every entity once and publishes the results. Safe
// to invoke from a scheduler; overlapping calls are the scheduler's
// concern (cron.SkipIfStillRunning).
func (r *Runner) RunCycle(ctx context.Context) {
	start := r.clock.Now()
	r.logger.Info("cycle started", "entities", len(r.entities))

	jobs := make(chan domain.EntityConfig)
	results := make(chan entityResult, len(r.entities))

	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entity := range jobs {
				results <- r.processEntity(ctx, entity)
			}
		}()
	}

	for _, entity := range r.entities {
		jobs <- entity
	}
	close(jobs)
	wg.Wait()
	close(results)

	feed := domain.Feed{GeneratedAt: r.clock.Now().UTC()}
	var events []domain.AlertEvent
	var stale int
	for res := range results {
		if !res.ok {
			continue
		}
		feed.Entities = append(feed.Entities, res.snapshot)
		events = append(events, res.events...)
		if res.snapshot.Stale {
			stale++
		}
	}

	if err := r.pub.PublishAlerts(ctx, events); err != nil {
		r.logger.Error("publish alerts failed", "error", err, "events", len(events))
		r.metrics.PublishErrors.Inc()
	} else {
		for _, ev := range events {
			r.metrics.AlertsFired.WithLabelValues(string(ev.Kind)).Inc()
		}
	}

	if err := r.pub.PublishFeed(ctx, feed); err != nil {
		r.logger.Error("publish feed failed", "error", err)
		r.metrics.PublishErrors.Inc()
	}

	r.lastFeed.Store(&feed)
	r.ready.Store(true)

	r.metrics.CyclesTotal.Inc()
	r.metrics.StaleEntities.Set(float64(stale))
	r.metrics.CycleDuration.Observe(r.clock.Since(start).Seconds())
	r.logger.Info("cycle complete",
		"entities", len(feed.Entities),
		"alerts", len(events),
		"stale", stale,
		"duration", r.clock.Since(start),
	)
}

// processEntity runs the full evaluation for one entity. Every failure
// path returns a degraded snapshot built from the last persisted state
// so the feed always covers the complete entity set.
func (r *Runner) processEntity(ctx context.Context, entity domain.EntityConfig) entityResult {
	now := r.clock.Now().UTC()
	r.metrics.EntitiesProcessed.Inc()

	prior, _, err := r.store.Get(ctx, entity.ID)
	if err != nil {
		r.logger.Error("state load failed", "entity", entity.ID, "error", err)
		r.metrics.StoreErrors.Inc()
		return entityResult{}
	}

	reading, samples, err := r.source.Fetch(ctx, entity)
	if err != nil {
		r.logger.Warn("fetch failed, keeping last known state",
			"entity", entity.ID, "source", entity.Source, "error", err)
		r.metrics.FetchErrors.WithLabelValues(entity.Source).Inc()
		return r.degraded(ctx, entity, prior, now)
	}

	if err := validateReading(entity, prior, reading); err != nil {
		r.logger.Warn("reading rejected, keeping last known state",
			"entity", entity.ID, "error", err)
		r.metrics.ValidationFailures.Inc()
		return r.degraded(ctx, entity, prior, now)
	}

	cls, err := domain.Classify(entity, reading)
	if err != nil {
		r.logger.Warn("classification failed, keeping last known state",
			"entity", entity.ID, "error", err)
		return r.degraded(ctx, entity, prior, now)
	}

	events, next := domain.Decide(entity, prior, reading, cls, now)

	if err := r.store.Put(ctx, next); err != nil {
		r.logger.Error("state write failed", "entity", entity.ID, "error", err)
		r.metrics.StoreErrors.Inc()
		// The snapshot is still valid; only durability suffered.
	}

	snapshot := r.buildSnapshot(ctx, entity, reading, cls, samples, now)
	return entityResult{snapshot: snapshot, events: events, ok: true}
}

// degraded records the cycle attempt and reports the entity from its
// last persisted state, flagged stale when the staleness window has
// passed.
func (r *Runner) degraded(ctx context.Context, entity domain.EntityConfig, prior domain.EntityState, now time.Time) entityResult {
	if err := r.store.Touch(ctx, entity.ID, now); err != nil {
		r.logger.Error("state touch failed", "entity", entity.ID, "error", err)
		r.metrics.StoreErrors.Inc()
	}

	return entityResult{
		snapshot: domain.EntitySnapshot{
			EntityID:   entity.ID,
			Name:       entity.Name,
			Level:      prior.LastLevel,
			Flow:       prior.LastFlow,
			Status:     prior.LastStatus,
			InRange:    prior.LastInRange,
			Trend:      domain.TrendUnknown,
			ObservedAt: prior.LastObservedAt,
			Stale:      prior.LastObservedAt.IsZero() || now.Sub(prior.LastObservedAt) > entity.Staleness,
		},
		ok: true,
	}
}

func (r *Runner) buildSnapshot(
	ctx context.Context,
	entity domain.EntityConfig,
	reading domain.Reading,
	cls domain.ClassificationResult,
	samples []domain.Sample,
	now time.Time,
) domain.EntitySnapshot {
	trend, rate := domain.AnalyzeTrend(samples, now, entity.TrendWindow, entity.TrendEpsilon())

	snapshot := domain.EntitySnapshot{
		EntityID:    entity.ID,
		Name:        entity.Name,
		Level:       reading.Level,
		Flow:        reading.Flow,
		Status:      cls.Status,
		InRange:     cls.InRange,
		Band:        cls.Band,
		Trend:       trend,
		RatePerHour: rate,
		ObservedAt:  reading.ObservedAt,
		Stale:       now.Sub(reading.ObservedAt) > entity.Staleness,
	}

	if trend == domain.TrendRising && !cls.InRange {
		snapshot.ETAHours = estimateThresholdETA(entity, reading, rate)
	}

	if r.forecast != nil && entity.HasForecast() {
		precip, err := r.forecast.DailyPrecip(ctx, entity)
		if err != nil {
			r.logger.Warn("forecast lookup failed", "entity", entity.ID, "error", err)
		} else {
			snapshot.Precip = precip
		}
	}

	return snapshot
}

// estimateThresholdETA projects when a rising entity reaches its
// qualifying threshold at the current rate.
func estimateThresholdETA(entity domain.EntityConfig, reading domain.Reading, rate float64) *float64 {
	var current *float64
	var target float64

	switch {
	case entity.Banded():
		current = reading.Flow
		target = lowestInRangeBand(entity.Bands)
	case entity.TrendKind() == domain.MeasureFlow:
		current = reading.Flow
		if entity.Flow == nil || entity.Flow.Min == nil {
			return nil
		}
		target = *entity.Flow.Min
	default:
		current = reading.Level
		if entity.Level == nil || entity.Level.Min == nil {
			return nil
		}
		target = *entity.Level.Min
	}

	if current == nil {
		return nil
	}
	return domain.EstimateETA(*current, target, rate)
}

func lowestInRangeBand(bands []domain.Band) float64 {
	lowest := math.Inf(1)
	for _, b := range bands {
		if b.InRange && b.Lower < lowest {
			lowest = b.Lower
		}
	}
	return lowest
}

// validateReading enforces the entity's plausibility bounds on the level
// value. Failures reject the whole reading; the previous persisted value
// stands until a plausible one arrives.
func validateReading(entity domain.EntityConfig, prior domain.EntityState, reading domain.Reading) error {
	v := entity.LevelValidation
	if v == nil || reading.Level == nil {
		return nil
	}
	level := *reading.Level

	if level < v.Min || level > v.Max {
		return fmt.Errorf("level %.2f outside plausible range [%.2f, %.2f]", level, v.Min, v.Max)
	}
	if v.MaxJump > 0 && prior.LastLevel != nil {
		if jump := math.Abs(level - *prior.LastLevel); jump > v.MaxJump {
			return fmt.Errorf("level jumped %.2f ft from %.2f, exceeds max jump %.2f", jump, *prior.LastLevel, v.MaxJump)
		}
	}
	return nil
}
