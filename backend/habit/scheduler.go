package habit

import (
	"time"

	"github.com/maxelsson/habitkeep/backend/dateutil"
	"github.com/maxelsson/habitkeep/backend/models"
)

// NextDueDate returns the day the habit requires action again after a
// completion on 'from': the start of from's day plus one interval. Pure day
// arithmetic; time-of-day never participates.
func NextDueDate(from time.Time, interval models.Interval) time.Time {
	return dateutil.AddDays(dateutil.StartOfDay(from), interval.Days())
}

// PreviousDueDate returns the due date one interval before 'from'. Used only
// to reconstruct a due date when a completion is undone.
func PreviousDueDate(from time.Time, interval models.Interval) time.Time {
	return dateutil.AddDays(dateutil.StartOfDay(from), -interval.Days())
}

// IsDueToday reports whether the habit requires action on the given day:
// its next due date falls on or before the start of today.
func IsDueToday(h *models.Habit, today time.Time) bool {
	return !h.NextDue.After(dateutil.StartOfDay(today))
}
