package dateutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// TestStartOfDay tests that the time-of-day component is stripped and the
// result is idempotent.
func TestStartOfDay(t *testing.T) {
	noon := time.Date(2024, time.May, 7, 12, 34, 56, 789, time.UTC)
	midnight := StartOfDay(noon)

	assert.Equal(t, date(2024, time.May, 7), midnight)
	assert.Equal(t, midnight, StartOfDay(midnight))
}

// TestAddDays tests day arithmetic across a month boundary and with
// negative offsets.
func TestAddDays(t *testing.T) {
	assert.Equal(t, date(2024, time.June, 1), AddDays(date(2024, time.May, 31), 1))
	assert.Equal(t, date(2024, time.May, 1), AddDays(date(2024, time.May, 8), -7))
	assert.Equal(t, date(2024, time.February, 29), AddDays(date(2024, time.February, 28), 1))
}

// TestSameDay tests that comparison ignores the time of day.
func TestSameDay(t *testing.T) {
	morning := time.Date(2024, time.May, 7, 1, 0, 0, 0, time.UTC)
	evening := time.Date(2024, time.May, 7, 23, 59, 0, 0, time.UTC)
	nextDay := time.Date(2024, time.May, 8, 0, 0, 0, 0, time.UTC)

	assert.True(t, SameDay(morning, evening))
	assert.False(t, SameDay(evening, nextDay))
}

// TestDaysBetween tests signed whole-day distances.
func TestDaysBetween(t *testing.T) {
	assert.Equal(t, 0, DaysBetween(date(2024, time.May, 7), date(2024, time.May, 7)))
	assert.Equal(t, 7, DaysBetween(date(2024, time.May, 1), date(2024, time.May, 8)))
	assert.Equal(t, -7, DaysBetween(date(2024, time.May, 8), date(2024, time.May, 1)))

	// Time-of-day never shifts the distance.
	a := time.Date(2024, time.May, 1, 23, 0, 0, 0, time.UTC)
	b := time.Date(2024, time.May, 2, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, 1, DaysBetween(a, b))
}

// TestEnumerateDays tests the inclusive day range, the single-day case, and
// the empty result for an inverted range.
func TestEnumerateDays(t *testing.T) {
	days := EnumerateDays(date(2024, time.May, 1), date(2024, time.May, 3))
	assert.Len(t, days, 3)
	assert.Equal(t, date(2024, time.May, 1), days[0])
	assert.Equal(t, date(2024, time.May, 3), days[2])

	single := EnumerateDays(date(2024, time.May, 1), date(2024, time.May, 1))
	assert.Len(t, single, 1)

	assert.Nil(t, EnumerateDays(date(2024, time.May, 3), date(2024, time.May, 1)))
}

// TestDayKey tests the calendar-day key format.
func TestDayKey(t *testing.T) {
	assert.Equal(t, "2024-05-07", DayKey(time.Date(2024, time.May, 7, 18, 30, 0, 0, time.UTC)))
}
