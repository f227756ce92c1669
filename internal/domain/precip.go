package domain

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"
)

// DateLayout formats the local calendar date keys of DailyPrecip.
const DateLayout = "2006-01-02"

const mmPerInch = 25.4

// ForecastInterval is one forecast precipitation bucket: amount in
// millimeters falling over [Start, Start+Duration).
type ForecastInterval struct {
	Start    time.Time
	Duration time.Duration
	Amount   float64 // millimeters
}

// DailyPrecip maps a local calendar date (DateLayout) to a precipitation
// amount. Amounts are millimeters until ToInches converts the final
// totals for display.
type DailyPrecip map[string]float64

// ParseValidTime parses an NWS validTime interval string such as
// "2025-10-28T12:00:00+00:00/PT6H". A missing duration defaults to one
// hour, matching the gridpoint API's implicit bucket size.
func ParseValidTime(s string) (time.Time, time.Duration, error) {
	startStr, durStr, found := strings.Cut(s, "/")
	if !found {
		durStr = "PT1H"
	}

	start, err := time.Parse(time.RFC3339, strings.TrimSpace(startStr))
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("parse valid time %q: %w", s, err)
	}

	dur, err := parseISODuration(strings.TrimSpace(durStr))
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("parse valid time %q: %w", s, err)
	}

	return start.UTC(), dur, nil
}

// parseISODuration handles the subset of ISO 8601 durations the NWS
// gridpoint API emits: P[nD][T[nH][nM][nS]].
func parseISODuration(s string) (time.Duration, error) {
	if !strings.HasPrefix(s, "P") {
		return 0, fmt.Errorf("invalid ISO duration %q", s)
	}
	rest := s[1:]

	datePart, timePart, hasTime := strings.Cut(rest, "T")

	var total time.Duration
	var err error
	if datePart != "" {
		total, err = accumulateDuration(datePart, map[byte]time.Duration{'D': 24 * time.Hour})
		if err != nil {
			return 0, fmt.Errorf("invalid ISO duration %q", s)
		}
	}
	if hasTime {
		t, err := accumulateDuration(timePart, map[byte]time.Duration{
			'H': time.Hour,
			'M': time.Minute,
			'S': time.Second,
		})
		if err != nil {
			return 0, fmt.Errorf("invalid ISO duration %q", s)
		}
		total += t
	}
	return total, nil
}

func accumulateDuration(part string, units map[byte]time.Duration) (time.Duration, error) {
	var total time.Duration
	num := strings.Builder{}
	for i := 0; i < len(part); i++ {
		ch := part[i]
		if (ch >= '0' && ch <= '9') || ch == '.' {
			num.WriteByte(ch)
			continue
		}
		unit, ok := units[ch]
		if !ok || num.Len() == 0 {
			return 0, fmt.Errorf("unexpected %q", ch)
		}
		v, err := strconv.ParseFloat(num.String(), 64)
		if err != nil {
			return 0, err
		}
		total += time.Duration(v * float64(unit))
		num.Reset()
	}
	if num.Len() != 0 {
		return 0, fmt.Errorf("trailing number %q", num.String())
	}
	return total, nil
}

// ApportionDaily distributes forecast intervals across local calendar
// days. Each interval's amount is split proportionally by overlap with
// the wall-clock days it crosses, so a 6-hour bucket straddling local
// midnight lands partly on each date, an interval may span any number of
// day boundaries, and 23/25-hour DST days bucket exactly as a calendar
// reads. The sum of one interval's segments equals its amount within
// 1e-6 mm. Malformed intervals are skipped with a warning and never
// abort the remaining intervals.
func ApportionDaily(intervals []ForecastInterval, loc *time.Location, logger *slog.Logger) DailyPrecip {
	totals := make(DailyPrecip)
	for _, iv := range intervals {
		if iv.Duration <= 0 {
			logger.Warn("skipping forecast interval with non-positive duration",
				"start", iv.Start, "duration", iv.Duration)
			continue
		}
		if iv.Amount < 0 {
			logger.Warn("skipping forecast interval with negative amount",
				"start", iv.Start, "amount", iv.Amount)
			continue
		}
		if iv.Amount == 0 {
			continue
		}

		start := iv.Start.In(loc)
		end := iv.Start.Add(iv.Duration).In(loc)
		total := end.Sub(start).Seconds()

		for cur := start; cur.Before(end); {
			segEnd := startOfNextDay(cur, loc)
			if end.Before(segEnd) {
				segEnd = end
			}
			overlap := segEnd.Sub(cur).Seconds()
			totals[cur.Format(DateLayout)] += iv.Amount * overlap / total
			cur = segEnd
		}
	}
	return totals
}

// startOfNextDay returns the wall-clock midnight following t. Date
// arithmetic (not +24h) keeps DST transition days aligned with the
// calendar.
func startOfNextDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}

// ToInches converts daily totals from millimeters to inches, rounded to
// two decimals. Conversion happens only here, on final totals, so
// rounding never compounds across segments.
func (d DailyPrecip) ToInches() DailyPrecip {
	out := make(DailyPrecip, len(d))
	for date, mm := range d {
		out[date] = math.Round(mm/mmPerInch*100) / 100
	}
	return out
}

// Window returns only the dates in [from, from+days) local days.
func (d DailyPrecip) Window(from time.Time, days int, loc *time.Location) DailyPrecip {
	out := make(DailyPrecip, days)
	y, m, day := from.In(loc).Date()
	for i := 0; i < days; i++ {
		key := time.Date(y, m, day+i, 0, 0, 0, 0, loc).Format(DateLayout)
		if v, ok := d[key]; ok {
			out[key] = v
		}
	}
	return out
}
