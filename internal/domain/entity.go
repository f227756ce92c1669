package domain

import (
	"errors"
	"fmt"
	"time"
)

// MeasureKind identifies a canonical measurement dimension.
type MeasureKind string

const (
	MeasureLevel  MeasureKind = "level"  // gauge height, feet
	MeasureFlow   MeasureKind = "flow"   // discharge, cfs
	MeasurePrecip MeasureKind = "precip" // precipitation depth, millimeters
)

// Threshold holds the optional minimum and "good" levels for one
// measurement kind. A nil *Threshold on EntityConfig means no constraint
// for that kind; within a Threshold, a nil field means that level is not
// defined. "No constraint" is always an explicit nil, never a magic zero.
type Threshold struct {
	Min  *float64
	Good *float64
}

// Band is one labeled sub-range of a banded entity's flow ladder. A value
// selects the band with the greatest Lower bound <= value. InRange marks
// bands that count as qualifying for threshold alerts.
type Band struct {
	Lower   float64
	Label   string
	InRange bool
}

// AlertMode controls when threshold alerts fire.
type AlertMode string

const (
	// ModeRising fires only on an upward crossing into range.
	ModeRising AlertMode = "rising"
	// ModeAny fires whenever the entity is in range and off cooldown.
	ModeAny AlertMode = "any"
)

// AlertKind distinguishes the independent alert streams per entity.
// Cooldown state is keyed by (entity, kind); the enumeration is
// exhaustive so a typo can never create an untracked cooldown bucket.
type AlertKind string

const (
	AlertThreshold   AlertKind = "threshold"
	AlertOut         AlertKind = "out"
	AlertRapidChange AlertKind = "rapid_change"
)

// AlertKinds returns every alert kind.
func AlertKinds() []AlertKind {
	return []AlertKind{AlertThreshold, AlertOut, AlertRapidChange}
}

// RapidChange configures relative-jump alerting on the primary value.
type RapidChange struct {
	Enabled  bool
	Ratio    float64 // minimum |new-prev|/|prev| to fire, e.g. 0.20
	Cooldown time.Duration
}

// Validation bounds physically plausible readings for an entity's level.
// Readings outside the bounds, or jumping more than MaxJump from the
// previous persisted value, are rejected before they can corrupt trend
// history. MaxJump of zero disables the jump check.
type Validation struct {
	Min     float64
	Max     float64
	MaxJump float64
}

// EntityConfig is the per-entity monitoring definition, loaded once per
// process (or hot-reloaded) by the configuration layer.
type EntityConfig struct {
	ID     string
	Name   string
	Source string // observation source tag, e.g. "usgs"

	// Threshold classification (non-banded entities).
	Level *Threshold
	Flow  *Threshold

	// Band classification (banded entities are flow-only and ignore
	// Level/Flow thresholds).
	Bands []Band

	Mode        AlertMode
	Cooldown    time.Duration
	OutCooldown time.Duration
	SendOut     bool
	RapidChange RapidChange

	Staleness    time.Duration
	TrendWindow  time.Duration
	LevelEpsilon float64 // trend noise floor, ft per hour
	FlowEpsilon  float64 // trend noise floor, cfs per hour

	LevelValidation *Validation

	// Forecast location. Zero coordinates disable QPF lookup.
	Lat      float64
	Lon      float64
	Timezone *time.Location
}

// Banded reports whether the entity classifies by bands.
func (c EntityConfig) Banded() bool { return len(c.Bands) > 0 }

// HasForecast reports whether the entity has coordinates for QPF lookup.
func (c EntityConfig) HasForecast() bool { return c.Lat != 0 || c.Lon != 0 }

// TrendKind returns the measurement kind trends are computed on: flow for
// banded entities, otherwise level when a level threshold exists.
func (c EntityConfig) TrendKind() MeasureKind {
	if c.Banded() || (c.Level == nil && c.Flow != nil) {
		return MeasureFlow
	}
	return MeasureLevel
}

// TrendEpsilon returns the per-kind trend noise floor.
func (c EntityConfig) TrendEpsilon() float64 {
	if c.TrendKind() == MeasureFlow {
		return c.FlowEpsilon
	}
	return c.LevelEpsilon
}

// Validate reports configuration errors that must exclude the entity from
// classification at startup. A broken entity never aborts the others.
func (c EntityConfig) Validate() error {
	if c.ID == "" {
		return errors.New("entity id is required")
	}
	if c.Mode != ModeRising && c.Mode != ModeAny {
		return fmt.Errorf("entity %s: invalid alert mode %q", c.ID, c.Mode)
	}
	if c.Cooldown <= 0 {
		return fmt.Errorf("entity %s: cooldown must be positive", c.ID)
	}
	if c.SendOut && c.OutCooldown <= 0 {
		return fmt.Errorf("entity %s: out_cooldown must be positive", c.ID)
	}
	if c.RapidChange.Enabled {
		if c.RapidChange.Ratio <= 0 {
			return fmt.Errorf("entity %s: rapid change ratio must be positive", c.ID)
		}
		if c.RapidChange.Cooldown <= 0 {
			return fmt.Errorf("entity %s: rapid change cooldown must be positive", c.ID)
		}
	}
	if c.Banded() {
		if c.Level != nil || c.Flow != nil {
			return fmt.Errorf("entity %s: bands and min/good thresholds are mutually exclusive", c.ID)
		}
		return validateBands(c.ID, c.Bands)
	}
	if c.Level == nil && c.Flow == nil {
		return fmt.Errorf("entity %s: at least one threshold or a band ladder is required", c.ID)
	}
	for kind, th := range map[MeasureKind]*Threshold{MeasureLevel: c.Level, MeasureFlow: c.Flow} {
		if th == nil {
			continue
		}
		if th.Min == nil && th.Good == nil {
			return fmt.Errorf("entity %s: %s threshold has neither min nor good", c.ID, kind)
		}
		if th.Min != nil && th.Good != nil && *th.Good < *th.Min {
			return fmt.Errorf("entity %s: %s good level %.2f below min %.2f", c.ID, kind, *th.Good, *th.Min)
		}
	}
	return nil
}

// validateBands enforces the ascending, mutually exclusive, labeled ladder
// that exhaustive band membership depends on.
func validateBands(id string, bands []Band) error {
	seen := make(map[string]bool, len(bands))
	for i, b := range bands {
		if b.Label == "" {
			return fmt.Errorf("entity %s: band %d has no label", id, i)
		}
		if seen[b.Label] {
			return fmt.Errorf("entity %s: duplicate band label %q", id, b.Label)
		}
		seen[b.Label] = true
		if i > 0 && bands[i].Lower <= bands[i-1].Lower {
			return fmt.Errorf("entity %s: band lower bounds must be strictly ascending (%q)", id, b.Label)
		}
	}
	return nil
}

// EntityState is the durable per-entity record, one row per entity with
// upsert semantics. The alert state machine owns it exclusively and
// writes it once per cycle whether or not an alert fires.
type EntityState struct {
	EntityID       string
	LastLevel      *float64
	LastFlow       *float64
	LastStatus     string
	LastInRange    bool
	LastObservedAt time.Time
	LastSeenAt     time.Time
	LastAlertAt    map[AlertKind]time.Time
	UpdatedAt      time.Time
}

// AlertAt returns the last firing time for a kind, zero when never fired.
func (s EntityState) AlertAt(kind AlertKind) time.Time {
	return s.LastAlertAt[kind]
}

// AlertEvent is one deduplicated notification, consumed by the dispatch
// collaborator (mail, webhook) via the alert topic.
type AlertEvent struct {
	ID         string    `json:"id"`
	EntityID   string    `json:"entity_id"`
	EntityName string    `json:"entity_name"`
	Kind       AlertKind `json:"kind"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	Value      float64   `json:"value"`
	Previous   *float64  `json:"previous,omitempty"`
	FiredAt    time.Time `json:"fired_at"`
}

// TrendLabel is a directional classification of recent samples.
type TrendLabel string

const (
	TrendRising  TrendLabel = "rising"
	TrendFalling TrendLabel = "falling"
	TrendSteady  TrendLabel = "steady"
	TrendUnknown TrendLabel = "unknown"
)

// TrendResult is the directional label plus the numeric rate used by
// ETA-style prediction features.
type TrendResult struct {
	EntityID    string      `json:"entity_id"`
	Kind        MeasureKind `json:"kind"`
	Label       TrendLabel  `json:"label"`
	RatePerHour float64     `json:"rate_per_hour"`
}

// EntitySnapshot is the rendering-facing view of one entity after a
// cycle: classification, trend, forecast, and staleness in one row.
type EntitySnapshot struct {
	EntityID    string      `json:"entity_id"`
	Name        string      `json:"name"`
	Level       *float64    `json:"level_ft,omitempty"`
	Flow        *float64    `json:"flow_cfs,omitempty"`
	Status      string      `json:"status"`
	InRange     bool        `json:"in_range"`
	Band        string      `json:"band,omitempty"`
	Trend       TrendLabel  `json:"trend"`
	RatePerHour float64     `json:"rate_per_hour"`
	ETAHours    *float64    `json:"eta_hours,omitempty"`
	Precip      DailyPrecip `json:"precip,omitempty"`
	ObservedAt  time.Time   `json:"observed_at"`
	Stale       bool        `json:"stale"`
}

// Feed is one cycle's complete snapshot set for rendering consumers.
type Feed struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Entities    []EntitySnapshot `json:"entities"`
}
