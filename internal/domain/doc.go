// Package domain models river and dam monitoring data and implements the
// pure classification, trend, alerting, and precipitation logic.
//
// # Data Sources
//
// Readings originate from two upstream families:
//
//	USGS instantaneous values (waterservices.usgs.gov/nwis/iv):
//	  parameter 00065 = gauge height in feet
//	  parameter 00060 = discharge in cubic feet per second (cfs)
//	  Timestamps are ISO 8601 with a numeric offset.
//
//	TVA observed data (dam telemetry):
//	  numeric values use commas as thousands separators ("2,848"),
//	  handled by ParseNumeric during normalization.
//
// Canonical units after normalization: level = feet, flow = cfs,
// precipitation = millimeters. Precipitation converts to inches only on
// final daily totals (25.4 mm per inch), never per segment, so rounding
// does not compound.
//
// # Classification
//
// Entities are either threshold entities (optional per-kind minimum and
// "good" levels, ANDed over the kinds that are configured) or banded
// entities (an ascending ladder of labeled flow ranges, e.g. the Little
// River Canyon ladder: <250 low, 250 good-low, 400 medium, 800
// good-medium, 1500 best, 2500 too-high). A value below every band's
// lower bound classifies as the distinct "below-range" status, never as
// the lowest band.
//
// # Alerting
//
// Alert kinds are an exhaustive enumeration (threshold, out,
// rapid_change), each with an independent per-entity cooldown persisted
// across cycles. Mode "rising" fires only on an upward crossing into
// range; mode "any" fires whenever in range and off cooldown. Decide is
// a pure function of (config, prior state, reading, classification,
// now) so every transition is unit-testable without a store or network.
//
// # Precipitation forecasts
//
// NWS gridpoint quantitativePrecipitation arrives as ISO 8601 interval
// strings ("2025-10-28T12:00:00+00:00/PT6H") in millimeters. Intervals
// frequently straddle local midnight; ApportionDaily walks wall-clock
// day boundaries in the entity's timezone and distributes each
// interval's amount proportionally by overlap, conserving the interval
// total within 1e-6 mm.
package domain
