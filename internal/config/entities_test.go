package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/river-alert-service/internal/domain"
)

func writeEntitiesFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "entities.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadEntities(t *testing.T) {
	t.Run("full entity", func(t *testing.T) {
		path := writeEntitiesFile(t, `
defaults:
  mode: rising
  cooldown: 6h
  staleness: 1h
entities:
  - id: clear-creek
    name: Clear Creek
    source: usgs
    level:
      min: 0.5
      good: 1.2
    flow:
      min: 250
    send_out: true
    rapid_change:
      enabled: true
      threshold_pct: 20
      cooldown: 2h
    validation:
      min: -1
      max: 30
      max_jump: 5
    lat: 35.1234
    lon: -85.5678
    timezone: America/Chicago
`)
		entities, err := LoadEntities(path, testLogger())
		require.NoError(t, err)
		require.Len(t, entities, 1)

		e := entities[0]
		assert.Equal(t, "clear-creek", e.ID)
		assert.Equal(t, "Clear Creek", e.Name)
		assert.Equal(t, "usgs", e.Source)
		assert.Equal(t, domain.ModeRising, e.Mode)
		assert.Equal(t, 6*time.Hour, e.Cooldown)
		assert.Equal(t, 6*time.Hour, e.OutCooldown)
		assert.True(t, e.SendOut)
		require.NotNil(t, e.Level)
		require.NotNil(t, e.Level.Min)
		assert.Equal(t, 0.5, *e.Level.Min)
		require.NotNil(t, e.Level.Good)
		assert.Equal(t, 1.2, *e.Level.Good)
		require.NotNil(t, e.Flow)
		require.NotNil(t, e.Flow.Min)
		assert.Equal(t, 250.0, *e.Flow.Min)
		assert.True(t, e.RapidChange.Enabled)
		assert.InDelta(t, 0.20, e.RapidChange.Ratio, 1e-9)
		assert.Equal(t, 2*time.Hour, e.RapidChange.Cooldown)
		require.NotNil(t, e.LevelValidation)
		assert.Equal(t, 30.0, e.LevelValidation.Max)
		assert.Equal(t, "America/Chicago", e.Timezone.String())
		assert.True(t, e.HasForecast())
	})

	t.Run("banded entity", func(t *testing.T) {
		path := writeEntitiesFile(t, `
entities:
  - id: lrc
    name: Lower Rapids Canyon
    bands:
      - {lower: 400, label: low}
      - {lower: 700, label: runnable, in_range: true}
      - {lower: 1500, label: high, in_range: true}
      - {lower: 3000, label: flood}
`)
		entities, err := LoadEntities(path, testLogger())
		require.NoError(t, err)
		require.Len(t, entities, 1)
		assert.True(t, entities[0].Banded())
		assert.Len(t, entities[0].Bands, 4)
		assert.True(t, entities[0].Bands[1].InRange)
		assert.False(t, entities[0].Bands[3].InRange)
	})

	t.Run("defaults applied", func(t *testing.T) {
		path := writeEntitiesFile(t, `
defaults:
  mode: any
  cooldown: 3h
  level_epsilon: 0.05
entities:
  - id: simple
    flow:
      min: 100
`)
		entities, err := LoadEntities(path, testLogger())
		require.NoError(t, err)
		require.Len(t, entities, 1)

		e := entities[0]
		assert.Equal(t, domain.ModeAny, e.Mode)
		assert.Equal(t, 3*time.Hour, e.Cooldown)
		assert.Equal(t, 0.05, e.LevelEpsilon)
		assert.Equal(t, 10.0, e.FlowEpsilon)
		assert.Equal(t, time.Hour, e.Staleness)
		assert.Equal(t, 8*time.Hour, e.TrendWindow)
		assert.Equal(t, "simple", e.Name)
		assert.Equal(t, time.UTC, e.Timezone)
		assert.False(t, e.HasForecast())
	})

	t.Run("built in defaults with empty defaults block", func(t *testing.T) {
		path := writeEntitiesFile(t, `
entities:
  - id: bare
    level:
      min: 0.5
`)
		entities, err := LoadEntities(path, testLogger())
		require.NoError(t, err)
		e := entities[0]
		assert.Equal(t, domain.ModeRising, e.Mode)
		assert.Equal(t, 6*time.Hour, e.Cooldown)
		assert.False(t, e.RapidChange.Enabled)
	})

	t.Run("invalid entity excluded others survive", func(t *testing.T) {
		path := writeEntitiesFile(t, `
entities:
  - id: broken
    mode: sometimes
    level:
      min: 0.5
  - id: fine
    level:
      min: 0.5
`)
		entities, err := LoadEntities(path, testLogger())
		require.NoError(t, err)
		require.Len(t, entities, 1)
		assert.Equal(t, "fine", entities[0].ID)
	})

	t.Run("bad timezone excluded", func(t *testing.T) {
		path := writeEntitiesFile(t, `
entities:
  - id: tz
    level:
      min: 0.5
    timezone: Mars/Olympus
  - id: fine
    level:
      min: 0.5
`)
		entities, err := LoadEntities(path, testLogger())
		require.NoError(t, err)
		require.Len(t, entities, 1)
		assert.Equal(t, "fine", entities[0].ID)
	})

	t.Run("all invalid is an error", func(t *testing.T) {
		path := writeEntitiesFile(t, `
entities:
  - id: broken
    mode: sometimes
`)
		_, err := LoadEntities(path, testLogger())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no valid entities")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadEntities(filepath.Join(t.TempDir(), "nope.yaml"), testLogger())
		require.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := writeEntitiesFile(t, "entities: [unclosed")
		_, err := LoadEntities(path, testLogger())
		require.Error(t, err)
	})
}
