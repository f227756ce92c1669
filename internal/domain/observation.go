package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RawObservation is a source-specific reading before normalization. Kind
// and Unit use the source's own vocabulary (USGS parameter codes, plain
// names); Value may carry thousands separators.
type RawObservation struct {
	EntityID  string
	Kind      string
	Value     string
	Unit      string
	Timestamp string // ISO 8601 / RFC 3339
	Source    string
}

// Observation is a normalized reading: canonical value and unit kind,
// UTC timestamp. The source tag is carried for traceability only.
type Observation struct {
	EntityID string
	Kind     MeasureKind
	Value    float64
	At       time.Time
	Source   string
}

// Reading groups an entity's normalized values for one cycle. Either
// pointer may be nil when the source does not report that kind.
type Reading struct {
	EntityID   string
	Level      *float64 // feet
	Flow       *float64 // cfs
	ObservedAt time.Time
	Source     string
}

// Sample is one historical point used for trend analysis.
type Sample struct {
	Value float64
	At    time.Time
}

// kindAliases maps source vocabulary onto canonical measurement kinds.
// "00065" and "00060" are the USGS parameter codes for gauge height and
// discharge.
var kindAliases = map[string]MeasureKind{
	"level":        MeasureLevel,
	"stage":        MeasureLevel,
	"gauge_height": MeasureLevel,
	"00065":        MeasureLevel,
	"flow":         MeasureFlow,
	"discharge":    MeasureFlow,
	"00060":        MeasureFlow,
	"precip":       MeasurePrecip,
	"qpf":          MeasurePrecip,
}

// unitFactors gives the multiplier into the canonical unit per kind. An
// empty unit means the source already reports the canonical unit.
var unitFactors = map[MeasureKind]map[string]float64{
	MeasureLevel:  {"": 1, "ft": 1, "feet": 1, "m": 3.28084},
	MeasureFlow:   {"": 1, "cfs": 1, "cms": 35.3147},
	MeasurePrecip: {"": 1, "mm": 1, "in": 25.4},
}

// Normalize converts a raw observation into canonical form. Errors carry
// ValidationFailure semantics: the reading is rejected and the entity's
// last-known-good values stand.
func Normalize(raw RawObservation) (Observation, error) {
	kind, ok := kindAliases[strings.ToLower(strings.TrimSpace(raw.Kind))]
	if !ok {
		return Observation{}, fmt.Errorf("normalize %s: unknown measurement kind %q", raw.EntityID, raw.Kind)
	}

	factor, ok := unitFactors[kind][strings.ToLower(strings.TrimSpace(raw.Unit))]
	if !ok {
		return Observation{}, fmt.Errorf("normalize %s: unit %q not valid for %s", raw.EntityID, raw.Unit, kind)
	}

	value, err := ParseNumeric(raw.Value)
	if err != nil {
		return Observation{}, fmt.Errorf("normalize %s: %w", raw.EntityID, err)
	}

	at, err := time.Parse(time.RFC3339, strings.TrimSpace(raw.Timestamp))
	if err != nil {
		return Observation{}, fmt.Errorf("normalize %s: bad timestamp %q: %w", raw.EntityID, raw.Timestamp, err)
	}

	return Observation{
		EntityID: raw.EntityID,
		Kind:     kind,
		Value:    value * factor,
		At:       at.UTC(),
		Source:   raw.Source,
	}, nil
}

// ParseNumeric parses a decimal that may use commas as thousands
// separators, e.g. TVA's "1,277.81" or "2,848".
func ParseNumeric(s string) (float64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, fmt.Errorf("empty numeric value")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return v, nil
}
