package billing

import (
	"math"
	"time"
)

// monthBounds returns the calendar-month billing period [start, end)
// containing t, in UTC: start is the first instant of t's month and end the
// first instant of the next month.
func monthBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// periodFraction returns the fraction of the period [start, end) remaining at
// now, clamped to [0, 1].
func periodFraction(start, end, now time.Time) float64 {
	total := end.Sub(start)
	if total <= 0 {
		return 0
	}
	remaining := end.Sub(now)
	if remaining <= 0 {
		return 0
	}
	if remaining >= total {
		return 1
	}
	return float64(remaining) / float64(total)
}

// roundKopecks rounds a fractional kopeck amount to the nearest whole kopeck,
// half away from zero. Applied identically in preview and apply so both report
// the same charge.
func roundKopecks(v float64) int64 {
	return int64(math.Round(v))
}

// withinMonth reports whether t falls inside the calendar month containing
// ref, using the inclusive-start/exclusive-end window [monthStart, monthEnd).
func withinMonth(t, ref time.Time) bool {
	start, end := monthBounds(ref)
	t = t.UTC()
	return !t.Before(start) && t.Before(end)
}
