package domain

import "fmt"

// Classification status labels. Good implies in range; "below-range" is
// the terminal status for a banded value under every band's lower bound.
const (
	StatusOut        = "out"
	StatusIn         = "in"
	StatusGood       = "good"
	StatusBelowRange = "below-range"
)

// ClassificationResult is the classifier output consumed by rendering
// layers and by the alert state machine's transition logic.
type ClassificationResult struct {
	EntityID string `json:"entity_id"`
	Status   string `json:"status"`
	InRange  bool   `json:"in_range"`
	Good     bool   `json:"good"`
	Band     string `json:"band,omitempty"`
}

// Classify applies an entity's threshold configuration to a normalized
// reading. Pure function of (reading, config). For threshold entities,
// absent thresholds never block qualification: in-range is the AND over
// configured kinds only, and a configured kind with a missing value
// fails its conjunct. Increasing a value can only move the status
// forward (out -> in -> good), never backward.
func Classify(cfg EntityConfig, r Reading) (ClassificationResult, error) {
	if cfg.Banded() {
		return classifyBanded(cfg, r)
	}

	inRange := meets(r.Level, minOf(cfg.Level)) && meets(r.Flow, minOf(cfg.Flow))

	goodConfigured := goodOf(cfg.Level) != nil || goodOf(cfg.Flow) != nil
	good := inRange && goodConfigured &&
		meets(r.Level, goodOf(cfg.Level)) && meets(r.Flow, goodOf(cfg.Flow))

	status := StatusOut
	switch {
	case good:
		status = StatusGood
	case inRange:
		status = StatusIn
	}

	return ClassificationResult{
		EntityID: cfg.ID,
		Status:   status,
		InRange:  inRange,
		Good:     good,
	}, nil
}

// classifyBanded selects the band with the greatest lower bound <= value.
// Banded entities are flow-only; a missing flow value cannot be
// classified at all and is reported as an error rather than defaulting.
func classifyBanded(cfg EntityConfig, r Reading) (ClassificationResult, error) {
	if r.Flow == nil {
		return ClassificationResult{}, fmt.Errorf("entity %s: banded classification requires a flow value", cfg.ID)
	}

	v := *r.Flow
	selected := -1
	for i, b := range cfg.Bands {
		if v >= b.Lower {
			selected = i
		}
	}

	if selected < 0 {
		return ClassificationResult{
			EntityID: cfg.ID,
			Status:   StatusBelowRange,
		}, nil
	}

	band := cfg.Bands[selected]
	return ClassificationResult{
		EntityID: cfg.ID,
		Status:   band.Label,
		InRange:  band.InRange,
		Band:     band.Label,
	}, nil
}

// meets evaluates one optional-threshold conjunct: a nil threshold is
// always satisfied, a nil value never satisfies a configured threshold.
func meets(value, threshold *float64) bool {
	if threshold == nil {
		return true
	}
	return value != nil && *value >= *threshold
}

func minOf(t *Threshold) *float64 {
	if t == nil {
		return nil
	}
	return t.Min
}

func goodOf(t *Threshold) *float64 {
	if t == nil {
		return nil
	}
	return t.Good
}
