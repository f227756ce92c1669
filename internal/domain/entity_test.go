package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityConfigValidate(t *testing.T) {
	valid := func() EntityConfig {
		return EntityConfig{
			ID:       "clear-creek",
			Name:     "Clear Creek",
			Mode:     ModeRising,
			Cooldown: 6 * time.Hour,
			Level:    &Threshold{Min: fp(0.5)},
		}
	}

	t.Run("valid threshold entity", func(t *testing.T) {
		require.NoError(t, valid().Validate())
	})

	t.Run("valid banded entity", func(t *testing.T) {
		cfg := bandedEntity()
		cfg.Cooldown = 6 * time.Hour
		require.NoError(t, cfg.Validate())
	})

	t.Run("missing id", func(t *testing.T) {
		cfg := valid()
		cfg.ID = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad mode", func(t *testing.T) {
		cfg := valid()
		cfg.Mode = "sometimes"
		assert.Error(t, cfg.Validate())
	})

	t.Run("non positive cooldown", func(t *testing.T) {
		cfg := valid()
		cfg.Cooldown = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("send_out requires out cooldown", func(t *testing.T) {
		cfg := valid()
		cfg.SendOut = true
		cfg.OutCooldown = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("rapid change needs positive ratio", func(t *testing.T) {
		cfg := valid()
		cfg.RapidChange = RapidChange{Enabled: true, Ratio: 0, Cooldown: time.Hour}
		assert.Error(t, cfg.Validate())
	})

	t.Run("no thresholds and no bands", func(t *testing.T) {
		cfg := valid()
		cfg.Level = nil
		assert.Error(t, cfg.Validate())
	})

	t.Run("bands exclude thresholds", func(t *testing.T) {
		cfg := bandedEntity()
		cfg.Cooldown = 6 * time.Hour
		cfg.Flow = &Threshold{Min: fp(100)}
		assert.Error(t, cfg.Validate())
	})

	t.Run("bands must ascend", func(t *testing.T) {
		cfg := valid()
		cfg.Level = nil
		cfg.Bands = []Band{
			{Lower: 700, Label: "runnable"},
			{Lower: 400, Label: "low"},
		}
		assert.Error(t, cfg.Validate())
	})

	t.Run("duplicate band labels", func(t *testing.T) {
		cfg := valid()
		cfg.Level = nil
		cfg.Bands = []Band{
			{Lower: 400, Label: "low"},
			{Lower: 700, Label: "low"},
		}
		assert.Error(t, cfg.Validate())
	})

	t.Run("good below min", func(t *testing.T) {
		cfg := valid()
		cfg.Level = &Threshold{Min: fp(1.0), Good: fp(0.5)}
		assert.Error(t, cfg.Validate())
	})

	t.Run("empty threshold", func(t *testing.T) {
		cfg := valid()
		cfg.Level = &Threshold{}
		assert.Error(t, cfg.Validate())
	})
}

func TestEntityConfigTrendKind(t *testing.T) {
	t.Run("level threshold prefers level", func(t *testing.T) {
		cfg := EntityConfig{Level: &Threshold{Min: fp(0.5)}, Flow: &Threshold{Min: fp(250)}}
		assert.Equal(t, MeasureLevel, cfg.TrendKind())
	})

	t.Run("flow only entity trends on flow", func(t *testing.T) {
		cfg := EntityConfig{Flow: &Threshold{Min: fp(250)}}
		assert.Equal(t, MeasureFlow, cfg.TrendKind())
	})

	t.Run("banded entity trends on flow", func(t *testing.T) {
		cfg := EntityConfig{Bands: []Band{{Lower: 400, Label: "low"}}}
		assert.Equal(t, MeasureFlow, cfg.TrendKind())
	})
}

func TestEntityConfigHasForecast(t *testing.T) {
	assert.False(t, EntityConfig{}.HasForecast())
	assert.True(t, EntityConfig{Lat: 35.1, Lon: -85.3}.HasForecast())
}
