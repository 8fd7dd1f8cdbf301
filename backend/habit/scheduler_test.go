package habit

import (
	"testing"
	"time"

	"github.com/maxelsson/habitkeep/backend/dateutil"
	"github.com/maxelsson/habitkeep/backend/models"
	"github.com/stretchr/testify/assert"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// TestNextDueDate tests the due-date advance for both cadences, including a
// completion timestamp that carries a time of day.
func TestNextDueDate(t *testing.T) {
	assert.Equal(t, day(2024, time.May, 8), NextDueDate(day(2024, time.May, 7), models.IntervalDaily))
	assert.Equal(t, day(2024, time.May, 14), NextDueDate(day(2024, time.May, 7), models.IntervalWeekly))

	evening := time.Date(2024, time.May, 7, 22, 15, 0, 0, time.UTC)
	assert.Equal(t, day(2024, time.May, 8), NextDueDate(evening, models.IntervalDaily))
}

// TestPreviousDueDate tests that the backward step inverts the forward one.
func TestPreviousDueDate(t *testing.T) {
	for _, interval := range []models.Interval{models.IntervalDaily, models.IntervalWeekly} {
		d := day(2024, time.May, 15)
		assert.Equal(t, d, NextDueDate(PreviousDueDate(d, interval), interval))
		assert.Equal(t, d, PreviousDueDate(NextDueDate(d, interval), interval))
	}
}

// TestIsDueToday tests the due check for past, present, and future due dates.
func TestIsDueToday(t *testing.T) {
	today := day(2024, time.May, 7)

	overdue := &models.Habit{NextDue: day(2024, time.May, 1)}
	dueNow := &models.Habit{NextDue: today}
	future := &models.Habit{NextDue: day(2024, time.May, 8)}

	assert.True(t, IsDueToday(overdue, today))
	assert.True(t, IsDueToday(dueNow, today))
	assert.False(t, IsDueToday(future, today))

	// The check is stable within a day regardless of the clock reading.
	evening := time.Date(2024, time.May, 7, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, IsDueToday(dueNow, today), IsDueToday(dueNow, evening))
}

// TestDaysBetweenDueDates sanity-checks the interval constants against the
// date helpers they drive.
func TestDaysBetweenDueDates(t *testing.T) {
	from := day(2024, time.May, 7)
	assert.Equal(t, models.IntervalDaily.Days(), dateutil.DaysBetween(from, NextDueDate(from, models.IntervalDaily)))
	assert.Equal(t, models.IntervalWeekly.Days(), dateutil.DaysBetween(from, NextDueDate(from, models.IntervalWeekly)))
}
