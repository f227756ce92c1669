package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/river-alert-service/internal/domain"
	"github.com/couchcryptid/river-alert-service/internal/observability"
)

func fp(v float64) *float64 { return &v }

type mockSource struct {
	mu       sync.Mutex
	readings map[string]domain.Reading
	samples  map[string][]domain.Sample
	errs     map[string]error
	calls    int
}

func (m *mockSource) Fetch(_ context.Context, entity domain.EntityConfig) (domain.Reading, []domain.Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if err := m.errs[entity.ID]; err != nil {
		return domain.Reading{}, nil, err
	}
	return m.readings[entity.ID], m.samples[entity.ID], nil
}

type mockStore struct {
	mu      sync.Mutex
	states  map[string]domain.EntityState
	touched map[string]time.Time
	getErr  error
}

func newMockStore() *mockStore {
	return &mockStore{
		states:  make(map[string]domain.EntityState),
		touched: make(map[string]time.Time),
	}
}

func (m *mockStore) Get(_ context.Context, entityID string) (domain.EntityState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return domain.EntityState{}, false, m.getErr
	}
	state, ok := m.states[entityID]
	return state, ok, nil
}

func (m *mockStore) Put(_ context.Context, state domain.EntityState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.EntityID] = state
	return nil
}

func (m *mockStore) Touch(_ context.Context, entityID string, seenAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched[entityID] = seenAt
	return nil
}

type mockPublisher struct {
	mu        sync.Mutex
	alerts    []domain.AlertEvent
	feeds     []domain.Feed
	alertsErr error
}

func (m *mockPublisher) PublishAlerts(_ context.Context, events []domain.AlertEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.alertsErr != nil {
		return m.alertsErr
	}
	m.alerts = append(m.alerts, events...)
	return nil
}

func (m *mockPublisher) PublishFeed(_ context.Context, feed domain.Feed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feeds = append(m.feeds, feed)
	return nil
}

type mockForecast struct {
	precip domain.DailyPrecip
	err    error
	calls  int
}

func (m *mockForecast) DailyPrecip(_ context.Context, _ domain.EntityConfig) (domain.DailyPrecip, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.precip, nil
}

func testEntity(id string) domain.EntityConfig {
	return domain.EntityConfig{
		ID:          id,
		Name:        id,
		Source:      "usgs",
		Mode:        domain.ModeRising,
		Cooldown:    6 * time.Hour,
		OutCooldown: 6 * time.Hour,
		SendOut:     true,
		Level:       &domain.Threshold{Min: fp(0.5)},
		Staleness:   time.Hour,
		TrendWindow: 8 * time.Hour,
		Timezone:    time.UTC,
	}
}

func newTestRunner(entities []domain.EntityConfig, source ObservationSource, forecast ForecastSource, store StateStore, pub Publisher, clock clockwork.Clock) *Runner {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(entities, source, forecast, store, pub, logger, observability.NewMetricsForTesting(), clock, 2)
}

func TestRunCycle(t *testing.T) {
	now := time.Date(2025, 10, 28, 12, 0, 0, 0, time.UTC)
	observed := now.Add(-5 * time.Minute)

	t.Run("crossing fires alert and publishes feed", func(t *testing.T) {
		entity := testEntity("clear-creek")
		source := &mockSource{
			readings: map[string]domain.Reading{
				"clear-creek": {EntityID: "clear-creek", Level: fp(0.8), ObservedAt: observed, Source: "usgs"},
			},
			samples: map[string][]domain.Sample{
				"clear-creek": {
					{Value: 0.3, At: now.Add(-4 * time.Hour)},
					{Value: 0.8, At: observed},
				},
			},
		}
		store := newMockStore()
		pub := &mockPublisher{}
		runner := newTestRunner([]domain.EntityConfig{entity}, source, nil, store, pub, clockwork.NewFakeClockAt(now))

		require.Error(t, runner.CheckReadiness(context.Background()))
		runner.RunCycle(context.Background())
		require.NoError(t, runner.CheckReadiness(context.Background()))

		require.Len(t, pub.alerts, 1)
		assert.Equal(t, domain.AlertThreshold, pub.alerts[0].Kind)

		require.Len(t, pub.feeds, 1)
		feed := pub.feeds[0]
		require.Len(t, feed.Entities, 1)
		assert.Equal(t, domain.StatusIn, feed.Entities[0].Status)
		assert.Equal(t, domain.TrendRising, feed.Entities[0].Trend)
		assert.False(t, feed.Entities[0].Stale)

		state, ok, err := store.Get(context.Background(), "clear-creek")
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, state.LastInRange)

		snap, ok := runner.Snapshot()
		require.True(t, ok)
		assert.Len(t, snap.Entities, 1)
	})

	t.Run("fetch failure isolates the entity", func(t *testing.T) {
		good := testEntity("good")
		bad := testEntity("bad")
		source := &mockSource{
			readings: map[string]domain.Reading{
				"good": {EntityID: "good", Level: fp(0.8), ObservedAt: observed, Source: "usgs"},
			},
			errs: map[string]error{"bad": errors.New("gateway timeout")},
		}
		store := newMockStore()
		// Prior state makes the degraded snapshot meaningful.
		require.NoError(t, store.Put(context.Background(), domain.EntityState{
			EntityID:       "bad",
			LastLevel:      fp(0.6),
			LastStatus:     domain.StatusIn,
			LastInRange:    true,
			LastObservedAt: now.Add(-3 * time.Hour),
		}))
		pub := &mockPublisher{}
		runner := newTestRunner([]domain.EntityConfig{good, bad}, source, nil, store, pub, clockwork.NewFakeClockAt(now))

		runner.RunCycle(context.Background())

		require.Len(t, pub.feeds, 1)
		feed := pub.feeds[0]
		require.Len(t, feed.Entities, 2)

		byID := map[string]domain.EntitySnapshot{}
		for _, s := range feed.Entities {
			byID[s.EntityID] = s
		}
		assert.Equal(t, domain.StatusIn, byID["good"].Status)
		assert.True(t, byID["bad"].Stale)
		assert.Equal(t, domain.StatusIn, byID["bad"].Status)
		require.NotNil(t, byID["bad"].Level)
		assert.Equal(t, 0.6, *byID["bad"].Level)

		// Failed entity's cooldowns and values stay untouched; only the
		// seen timestamp moves.
		assert.Equal(t, now, store.touched["bad"])
		assert.Len(t, pub.alerts, 1) // good's crossing only
	})

	t.Run("implausible reading rejected", func(t *testing.T) {
		entity := testEntity("spiky")
		entity.LevelValidation = &domain.Validation{Min: -1, Max: 30, MaxJump: 5}
		source := &mockSource{
			readings: map[string]domain.Reading{
				"spiky": {EntityID: "spiky", Level: fp(99), ObservedAt: observed, Source: "usgs"},
			},
		}
		store := newMockStore()
		pub := &mockPublisher{}
		runner := newTestRunner([]domain.EntityConfig{entity}, source, nil, store, pub, clockwork.NewFakeClockAt(now))

		runner.RunCycle(context.Background())

		assert.Empty(t, pub.alerts)
		_, ok, err := store.Get(context.Background(), "spiky")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, now, store.touched["spiky"])
	})

	t.Run("jump beyond max rejected", func(t *testing.T) {
		entity := testEntity("jumpy")
		entity.LevelValidation = &domain.Validation{Min: -1, Max: 30, MaxJump: 5}
		source := &mockSource{
			readings: map[string]domain.Reading{
				"jumpy": {EntityID: "jumpy", Level: fp(10), ObservedAt: observed, Source: "usgs"},
			},
		}
		store := newMockStore()
		require.NoError(t, store.Put(context.Background(), domain.EntityState{
			EntityID:  "jumpy",
			LastLevel: fp(1.0),
		}))
		pub := &mockPublisher{}
		runner := newTestRunner([]domain.EntityConfig{entity}, source, nil, store, pub, clockwork.NewFakeClockAt(now))

		runner.RunCycle(context.Background())

		assert.Empty(t, pub.alerts)
		state, _, err := store.Get(context.Background(), "jumpy")
		require.NoError(t, err)
		require.NotNil(t, state.LastLevel)
		assert.Equal(t, 1.0, *state.LastLevel)
	})

	t.Run("forecast attached when available", func(t *testing.T) {
		entity := testEntity("rainy")
		entity.Lat, entity.Lon = 35.1, -85.3
		source := &mockSource{
			readings: map[string]domain.Reading{
				"rainy": {EntityID: "rainy", Level: fp(0.8), ObservedAt: observed, Source: "usgs"},
			},
		}
		forecast := &mockForecast{precip: domain.DailyPrecip{"2025-10-28": 0.5}}
		store := newMockStore()
		pub := &mockPublisher{}
		runner := newTestRunner([]domain.EntityConfig{entity}, source, forecast, store, pub, clockwork.NewFakeClockAt(now))

		runner.RunCycle(context.Background())

		require.Len(t, pub.feeds, 1)
		require.Len(t, pub.feeds[0].Entities, 1)
		assert.Equal(t, domain.DailyPrecip{"2025-10-28": 0.5}, pub.feeds[0].Entities[0].Precip)
		assert.Equal(t, 1, forecast.calls)
	})

	t.Run("forecast failure keeps the snapshot", func(t *testing.T) {
		entity := testEntity("rainy")
		entity.Lat, entity.Lon = 35.1, -85.3
		source := &mockSource{
			readings: map[string]domain.Reading{
				"rainy": {EntityID: "rainy", Level: fp(0.8), ObservedAt: observed, Source: "usgs"},
			},
		}
		forecast := &mockForecast{err: errors.New("nws unavailable")}
		store := newMockStore()
		pub := &mockPublisher{}
		runner := newTestRunner([]domain.EntityConfig{entity}, source, forecast, store, pub, clockwork.NewFakeClockAt(now))

		runner.RunCycle(context.Background())

		require.Len(t, pub.feeds, 1)
		require.Len(t, pub.feeds[0].Entities, 1)
		assert.Nil(t, pub.feeds[0].Entities[0].Precip)
	})

	t.Run("no forecast call without coordinates", func(t *testing.T) {
		entity := testEntity("dry")
		source := &mockSource{
			readings: map[string]domain.Reading{
				"dry": {EntityID: "dry", Level: fp(0.8), ObservedAt: observed, Source: "usgs"},
			},
		}
		forecast := &mockForecast{precip: domain.DailyPrecip{}}
		store := newMockStore()
		pub := &mockPublisher{}
		runner := newTestRunner([]domain.EntityConfig{entity}, source, forecast, store, pub, clockwork.NewFakeClockAt(now))

		runner.RunCycle(context.Background())
		assert.Equal(t, 0, forecast.calls)
	})

	t.Run("eta reported while rising below threshold", func(t *testing.T) {
		entity := testEntity("approaching")
		source := &mockSource{
			readings: map[string]domain.Reading{
				"approaching": {EntityID: "approaching", Level: fp(0.3), ObservedAt: observed, Source: "usgs"},
			},
			samples: map[string][]domain.Sample{
				"approaching": {
					{Value: 0.1, At: now.Add(-2 * time.Hour)},
					{Value: 0.3, At: observed},
				},
			},
		}
		store := newMockStore()
		pub := &mockPublisher{}
		runner := newTestRunner([]domain.EntityConfig{entity}, source, nil, store, pub, clockwork.NewFakeClockAt(now))

		runner.RunCycle(context.Background())

		require.Len(t, pub.feeds, 1)
		snap := pub.feeds[0].Entities[0]
		assert.Equal(t, domain.TrendRising, snap.Trend)
		require.NotNil(t, snap.ETAHours)
		assert.Greater(t, *snap.ETAHours, 0.0)
	})

	t.Run("stale observation flagged", func(t *testing.T) {
		entity := testEntity("quiet")
		source := &mockSource{
			readings: map[string]domain.Reading{
				"quiet": {EntityID: "quiet", Level: fp(0.8), ObservedAt: now.Add(-3 * time.Hour), Source: "usgs"},
			},
		}
		store := newMockStore()
		pub := &mockPublisher{}
		runner := newTestRunner([]domain.EntityConfig{entity}, source, nil, store, pub, clockwork.NewFakeClockAt(now))

		runner.RunCycle(context.Background())

		require.Len(t, pub.feeds, 1)
		assert.True(t, pub.feeds[0].Entities[0].Stale)
	})

	t.Run("publish failure does not poison the cycle", func(t *testing.T) {
		entity := testEntity("clear-creek")
		source := &mockSource{
			readings: map[string]domain.Reading{
				"clear-creek": {EntityID: "clear-creek", Level: fp(0.8), ObservedAt: observed, Source: "usgs"},
			},
		}
		store := newMockStore()
		pub := &mockPublisher{alertsErr: errors.New("broker down")}
		runner := newTestRunner([]domain.EntityConfig{entity}, source, nil, store, pub, clockwork.NewFakeClockAt(now))

		runner.RunCycle(context.Background())

		// Feed still publishes and readiness flips.
		require.Len(t, pub.feeds, 1)
		assert.NoError(t, runner.CheckReadiness(context.Background()))
	})
}

func TestRunCycleManyEntities(t *testing.T) {
	now := time.Date(2025, 10, 28, 12, 0, 0, 0, time.UTC)
	observed := now.Add(-5 * time.Minute)

	source := &mockSource{readings: map[string]domain.Reading{}}
	var entities []domain.EntityConfig
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		entities = append(entities, testEntity(id))
		source.readings[id] = domain.Reading{EntityID: id, Level: fp(0.8), ObservedAt: observed, Source: "usgs"}
	}

	store := newMockStore()
	pub := &mockPublisher{}
	runner := newTestRunner(entities, source, nil, store, pub, clockwork.NewFakeClockAt(now))

	runner.RunCycle(context.Background())

	require.Len(t, pub.feeds, 1)
	assert.Len(t, pub.feeds[0].Entities, len(entities))
	assert.Len(t, pub.alerts, len(entities))
	assert.Equal(t, len(entities), source.calls)
}
