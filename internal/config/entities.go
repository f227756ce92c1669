package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/river-alert-service/internal/domain"
)

// entitiesFile is the YAML shape of the per-entity monitoring
// definitions: a defaults block plus the entity list. Durations are
// Go duration strings ("6h", "15m").
type entitiesFile struct {
	Defaults entityDefaults `yaml:"defaults"`
	Entities []entitySpec   `yaml:"entities"`
}

type entityDefaults struct {
	Mode         string          `yaml:"mode"`
	Cooldown     string          `yaml:"cooldown"`
	OutCooldown  string          `yaml:"out_cooldown"`
	Staleness    string          `yaml:"staleness"`
	TrendWindow  string          `yaml:"trend_window"`
	LevelEpsilon *float64        `yaml:"level_epsilon"`
	FlowEpsilon  *float64        `yaml:"flow_epsilon"`
	RapidChange  rapidChangeSpec `yaml:"rapid_change"`
}

type entitySpec struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Source string `yaml:"source"`

	Level *thresholdSpec `yaml:"level"`
	Flow  *thresholdSpec `yaml:"flow"`
	Bands []bandSpec     `yaml:"bands"`

	Mode        string           `yaml:"mode"`
	Cooldown    string           `yaml:"cooldown"`
	OutCooldown string           `yaml:"out_cooldown"`
	SendOut     bool             `yaml:"send_out"`
	RapidChange *rapidChangeSpec `yaml:"rapid_change"`

	Staleness    string   `yaml:"staleness"`
	TrendWindow  string   `yaml:"trend_window"`
	LevelEpsilon *float64 `yaml:"level_epsilon"`
	FlowEpsilon  *float64 `yaml:"flow_epsilon"`

	Validation *validationSpec `yaml:"validation"`

	Lat      float64 `yaml:"lat"`
	Lon      float64 `yaml:"lon"`
	Timezone string  `yaml:"timezone"`
}

type thresholdSpec struct {
	Min  *float64 `yaml:"min"`
	Good *float64 `yaml:"good"`
}

type bandSpec struct {
	Lower   float64 `yaml:"lower"`
	Label   string  `yaml:"label"`
	InRange bool    `yaml:"in_range"`
}

type rapidChangeSpec struct {
	Enabled      bool     `yaml:"enabled"`
	ThresholdPct *float64 `yaml:"threshold_pct"`
	Cooldown     string   `yaml:"cooldown"`
}

type validationSpec struct {
	Min     float64 `yaml:"min"`
	Max     float64 `yaml:"max"`
	MaxJump float64 `yaml:"max_jump"`
}

// Built-in fallbacks applied beneath the file's own defaults block.
const (
	defaultMode        = string(domain.ModeRising)
	defaultCooldown    = 6 * time.Hour
	defaultStaleness   = time.Hour
	defaultTrendWindow = 8 * time.Hour
	defaultRapidPct    = 20.0
	defaultRapidCool   = 2 * time.Hour
)

const (
	defaultLevelEpsilon = 0.02 // ft per hour
	defaultFlowEpsilon  = 10.0 // cfs per hour
)

// LoadEntities reads and validates the entity definitions. An invalid
// entity is logged and excluded; the remaining entities still load. Only
// an unreadable file or an empty valid set is a hard error.
func LoadEntities(path string, logger *slog.Logger) ([]domain.EntityConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read entities file: %w", err)
	}

	var file entitiesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse entities file: %w", err)
	}

	var entities []domain.EntityConfig
	for _, spec := range file.Entities {
		cfg, err := buildEntity(spec, file.Defaults)
		if err == nil {
			err = cfg.Validate()
		}
		if err != nil {
			logger.Error("excluding invalid entity", "entity", spec.ID, "error", err)
			continue
		}
		entities = append(entities, cfg)
	}

	if len(entities) == 0 {
		return nil, fmt.Errorf("no valid entities in %s", path)
	}
	return entities, nil
}

func buildEntity(spec entitySpec, defaults entityDefaults) (domain.EntityConfig, error) {
	var zero domain.EntityConfig

	mode := firstNonEmpty(spec.Mode, defaults.Mode, defaultMode)

	cooldown, err := durationOr(firstNonEmpty(spec.Cooldown, defaults.Cooldown), defaultCooldown)
	if err != nil {
		return zero, fmt.Errorf("cooldown: %w", err)
	}
	// Out alerts reuse the threshold cooldown unless overridden.
	outCooldown, err := durationOr(firstNonEmpty(spec.OutCooldown, defaults.OutCooldown), cooldown)
	if err != nil {
		return zero, fmt.Errorf("out_cooldown: %w", err)
	}
	staleness, err := durationOr(firstNonEmpty(spec.Staleness, defaults.Staleness), defaultStaleness)
	if err != nil {
		return zero, fmt.Errorf("staleness: %w", err)
	}
	trendWindow, err := durationOr(firstNonEmpty(spec.TrendWindow, defaults.TrendWindow), defaultTrendWindow)
	if err != nil {
		return zero, fmt.Errorf("trend_window: %w", err)
	}

	rapid, err := buildRapidChange(spec.RapidChange, defaults.RapidChange)
	if err != nil {
		return zero, err
	}

	loc := time.UTC
	if spec.Timezone != "" {
		loc, err = time.LoadLocation(spec.Timezone)
		if err != nil {
			return zero, fmt.Errorf("timezone: %w", err)
		}
	}

	cfg := domain.EntityConfig{
		ID:     spec.ID,
		Name:   firstNonEmpty(spec.Name, spec.ID),
		Source: firstNonEmpty(spec.Source, "usgs"),

		Mode:        domain.AlertMode(mode),
		Cooldown:    cooldown,
		OutCooldown: outCooldown,
		SendOut:     spec.SendOut,
		RapidChange: rapid,

		Staleness:    staleness,
		TrendWindow:  trendWindow,
		LevelEpsilon: floatOr(spec.LevelEpsilon, floatOr(defaults.LevelEpsilon, defaultLevelEpsilon)),
		FlowEpsilon:  floatOr(spec.FlowEpsilon, floatOr(defaults.FlowEpsilon, defaultFlowEpsilon)),

		Lat:      spec.Lat,
		Lon:      spec.Lon,
		Timezone: loc,
	}

	if spec.Level != nil {
		cfg.Level = &domain.Threshold{Min: spec.Level.Min, Good: spec.Level.Good}
	}
	if spec.Flow != nil {
		cfg.Flow = &domain.Threshold{Min: spec.Flow.Min, Good: spec.Flow.Good}
	}
	for _, b := range spec.Bands {
		cfg.Bands = append(cfg.Bands, domain.Band{Lower: b.Lower, Label: b.Label, InRange: b.InRange})
	}
	if spec.Validation != nil {
		cfg.LevelValidation = &domain.Validation{
			Min:     spec.Validation.Min,
			Max:     spec.Validation.Max,
			MaxJump: spec.Validation.MaxJump,
		}
	}

	return cfg, nil
}

func buildRapidChange(spec *rapidChangeSpec, defaults rapidChangeSpec) (domain.RapidChange, error) {
	merged := defaults
	if spec != nil {
		merged = *spec
		if merged.ThresholdPct == nil {
			merged.ThresholdPct = defaults.ThresholdPct
		}
		if merged.Cooldown == "" {
			merged.Cooldown = defaults.Cooldown
		}
	}
	if !merged.Enabled {
		return domain.RapidChange{}, nil
	}

	cooldown, err := durationOr(merged.Cooldown, defaultRapidCool)
	if err != nil {
		return domain.RapidChange{}, fmt.Errorf("rapid_change.cooldown: %w", err)
	}
	return domain.RapidChange{
		Enabled:  true,
		Ratio:    floatOr(merged.ThresholdPct, defaultRapidPct) / 100,
		Cooldown: cooldown,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func durationOr(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	return d, nil
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}
