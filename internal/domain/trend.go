package domain

import "time"

// AnalyzeTrend computes a directional label and rate of change from a
// possibly sparse sample history. It uses the nearest available samples
// at the window edges (the earliest at or after now-window, the latest
// not after now) so irregular spacing does not bias the result. Fewer
// than two usable samples, or zero elapsed time, yields unknown.
// Epsilon is the per-kind noise floor in units per hour; feet and cfs
// have very different natural noise, so it is never hardcoded.
func AnalyzeTrend(samples []Sample, now time.Time, window time.Duration, epsilon float64) (TrendLabel, float64) {
	cutoff := now.Add(-window)

	var earliest, latest *Sample
	for i := range samples {
		s := &samples[i]
		if s.At.Before(cutoff) || s.At.After(now) {
			continue
		}
		if earliest == nil || s.At.Before(earliest.At) {
			earliest = s
		}
		if latest == nil || s.At.After(latest.At) {
			latest = s
		}
	}

	if earliest == nil || latest == nil || !latest.At.After(earliest.At) {
		return TrendUnknown, 0
	}

	rate := (latest.Value - earliest.Value) / latest.At.Sub(earliest.At).Hours()
	switch {
	case rate > epsilon:
		return TrendRising, rate
	case rate < -epsilon:
		return TrendFalling, rate
	default:
		return TrendSteady, rate
	}
}

// EstimateETA returns the hours until a rising value reaches target at
// the given rate, nil when the value is not approaching it.
func EstimateETA(current, target, ratePerHour float64) *float64 {
	if ratePerHour <= 0 || current >= target {
		return nil
	}
	h := (target - current) / ratePerHour
	return &h
}
