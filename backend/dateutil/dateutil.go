package dateutil

import "time"

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// AddDays returns t shifted by n calendar days. Using AddDate keeps the
// arithmetic correct across daylight-saving transitions.
func AddDays(t time.Time, n int) time.Time {
	return t.AddDate(0, 0, n)
}

// SameDay reports whether a and b fall on the same calendar day.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// DaysBetween returns the number of whole calendar days from a to b.
// Negative when b is before a.
func DaysBetween(a, b time.Time) int {
	from := StartOfDay(a)
	to := StartOfDay(b)
	sign := 1
	if to.Before(from) {
		from, to = to, from
		sign = -1
	}
	days := 0
	for d := from; d.Before(to); d = AddDays(d, 1) {
		days++
	}
	return sign * days
}

// EnumerateDays returns every day from 'from' through 'to' inclusive, each
// normalized to the start of its day. Returns nil when to precedes from.
func EnumerateDays(from, to time.Time) []time.Time {
	start := StartOfDay(from)
	end := StartOfDay(to)
	if end.Before(start) {
		return nil
	}
	var days []time.Time
	for d := start; !d.After(end); d = AddDays(d, 1) {
		days = append(days, d)
	}
	return days
}

// DayKey formats a date as YYYY-MM-DD, the key used for per-day lookups in
// calendar projections.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
