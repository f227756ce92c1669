package domain

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Decide evaluates one cycle's alert transitions for a single entity and
// returns the events to emit plus the next durable state. It is a pure
// function of its inputs; persistence and delivery belong to the caller.
//
// The next state always carries the new value, status, and observed-at
// timestamp regardless of whether anything fires, so trend and staleness
// consumers stay accurate through cooldown windows. Each alert kind has
// an independent cooldown and fires at most once per cycle.
func Decide(cfg EntityConfig, prior EntityState, r Reading, cls ClassificationResult, now time.Time) ([]AlertEvent, EntityState) {
	next := prior
	next.EntityID = cfg.ID
	next.LastLevel = r.Level
	next.LastFlow = r.Flow
	next.LastStatus = cls.Status
	next.LastInRange = cls.InRange
	next.LastObservedAt = r.ObservedAt
	next.LastSeenAt = now
	next.UpdatedAt = now
	next.LastAlertAt = cloneAlertTimes(prior.LastAlertAt)

	var events []AlertEvent
	fired := make(map[AlertKind]bool, 3)

	fire := func(kind AlertKind, title, message string, value float64, previous *float64) {
		if fired[kind] {
			return
		}
		fired[kind] = true
		next.LastAlertAt[kind] = now
		events = append(events, AlertEvent{
			ID:         uuid.NewString(),
			EntityID:   cfg.ID,
			EntityName: cfg.Name,
			Kind:       kind,
			Title:      title,
			Message:    message,
			Value:      value,
			Previous:   previous,
			FiredAt:    now,
		})
	}

	elapsed := func(kind AlertKind, cooldown time.Duration) bool {
		last := prior.AlertAt(kind)
		return last.IsZero() || now.Sub(last) >= cooldown
	}

	current, previous := primaryValue(cfg, r, prior)

	// Threshold alert. Rising mode requires an upward crossing: the
	// previously persisted status must have been below the qualifying
	// level.
	thresholdReady := elapsed(AlertThreshold, cfg.Cooldown)
	switch cfg.Mode {
	case ModeRising:
		if !prior.LastInRange && cls.InRange && thresholdReady {
			fire(AlertThreshold, inTitle(cfg, r, cls), inMessage(cfg, r, cls), deref(current), previous)
		}
	default: // ModeAny
		if cls.InRange && thresholdReady {
			fire(AlertThreshold, inTitle(cfg, r, cls), inMessage(cfg, r, cls), deref(current), previous)
		}
	}

	// Out alert: downward crossing only, with its own cooldown entry so
	// it never suppresses or gets suppressed by threshold alerts.
	if cfg.SendOut && prior.LastInRange && !cls.InRange && elapsed(AlertOut, cfg.OutCooldown) {
		fire(AlertOut, outTitle(cfg, r), outMessage(cfg, r), deref(current), previous)
	}

	// Rapid-change alert: relative jump on the primary value,
	// independent of classification state. A zero previous value can
	// never produce a ratio.
	if cfg.RapidChange.Enabled && current != nil && previous != nil && *previous != 0 &&
		elapsed(AlertRapidChange, cfg.RapidChange.Cooldown) {
		change := (*current - *previous) / math.Abs(*previous)
		if math.Abs(change) >= cfg.RapidChange.Ratio {
			direction := "rose"
			if change < 0 {
				direction = "dropped"
			}
			title := fmt.Sprintf("%s %s %.1f%% (%s)", cfg.Name, direction, math.Abs(change)*100, valueSummary(cfg, r))
			message := fmt.Sprintf("%s %s %.1f%%\nPrevious: %.2f\nCurrent:  %.2f\nTime: %s",
				cfg.Name, direction, math.Abs(change)*100, *previous, *current, r.ObservedAt.Format(time.RFC3339))
			fire(AlertRapidChange, title, message, *current, previous)
		}
	}

	return events, next
}

// primaryValue picks the value pair rapid-change ratios and event values
// are computed on: level when both cycles have one, otherwise flow.
func primaryValue(cfg EntityConfig, r Reading, prior EntityState) (current, previous *float64) {
	if cfg.TrendKind() == MeasureLevel && r.Level != nil && prior.LastLevel != nil {
		return r.Level, prior.LastLevel
	}
	if r.Flow != nil && prior.LastFlow != nil {
		return r.Flow, prior.LastFlow
	}
	if r.Level != nil {
		return r.Level, prior.LastLevel
	}
	return r.Flow, prior.LastFlow
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func inTitle(cfg EntityConfig, r Reading, cls ClassificationResult) string {
	if cls.Band != "" {
		return fmt.Sprintf("%s is %s (%s)", cfg.Name, strings.ToUpper(cls.Band), valueSummary(cfg, r))
	}
	return fmt.Sprintf("%s is IN (%s)", cfg.Name, valueSummary(cfg, r))
}

func inMessage(cfg EntityConfig, r Reading, cls ClassificationResult) string {
	if cls.Band != "" {
		return fmt.Sprintf("%s is %s @ %s (band %s).",
			cfg.Name, valueSummary(cfg, r), r.ObservedAt.Format(time.RFC3339), cls.Band)
	}
	return fmt.Sprintf("%s is %s @ %s (meets %s).",
		cfg.Name, valueSummary(cfg, r), r.ObservedAt.Format(time.RFC3339), formatThresholds(cfg))
}

func outTitle(cfg EntityConfig, r Reading) string {
	return fmt.Sprintf("%s is OUT (%s)", cfg.Name, valueSummary(cfg, r))
}

func outMessage(cfg EntityConfig, r Reading) string {
	return fmt.Sprintf("%s dropped below %s: now %s @ %s.",
		cfg.Name, formatThresholds(cfg), valueSummary(cfg, r), r.ObservedAt.Format(time.RFC3339))
}

// valueSummary renders the reading for subjects/messages, e.g.
// "1.23 ft - 300 cfs".
func valueSummary(cfg EntityConfig, r Reading) string {
	var parts []string
	if r.Level != nil {
		parts = append(parts, fmt.Sprintf("%.2f ft", *r.Level))
	}
	if r.Flow != nil {
		parts = append(parts, fmt.Sprintf("%.0f cfs", *r.Flow))
	}
	if len(parts) == 0 {
		return "no reading"
	}
	return strings.Join(parts, " - ")
}

// formatThresholds renders the entity's qualification criteria, e.g.
// ">= 0.50 ft and >= 250 cfs".
func formatThresholds(cfg EntityConfig) string {
	var parts []string
	if min := minOf(cfg.Level); min != nil {
		parts = append(parts, fmt.Sprintf(">= %.2f ft", *min))
	}
	if min := minOf(cfg.Flow); min != nil {
		parts = append(parts, fmt.Sprintf(">= %.0f cfs", *min))
	}
	if len(parts) == 0 {
		return "no minimums"
	}
	return strings.Join(parts, " and ")
}

func cloneAlertTimes(m map[AlertKind]time.Time) map[AlertKind]time.Time {
	out := make(map[AlertKind]time.Time, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
