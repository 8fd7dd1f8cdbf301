package streak

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/maxelsson/habitkeep/backend/dateutil"
	"github.com/maxelsson/habitkeep/backend/models"
	cache "github.com/maxelsson/habitkeep/backend/storage/cache"
	storage "github.com/maxelsson/habitkeep/backend/storage/persistent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapCache is an in-process CacheInterface with the same JSON value encoding
// as the Redis backend.
type mapCache struct {
	values map[string][]byte
	sets   int
}

func newMapCache() *mapCache {
	return &mapCache{values: make(map[string][]byte)}
}

func (c *mapCache) Connect(url string) error { return nil }
func (c *mapCache) Disconnect() error        { return nil }

func (c *mapCache) Set(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.values[key] = data
	c.sets++
	return nil
}

func (c *mapCache) Get(ctx context.Context, key string, dest interface{}) error {
	data, ok := c.values[key]
	if !ok {
		return cache.ErrCacheMiss
	}
	return json.Unmarshal(data, dest)
}

func (c *mapCache) Delete(ctx context.Context, key string) error {
	delete(c.values, key)
	return nil
}

func (c *mapCache) Clear(ctx context.Context) error {
	c.values = make(map[string][]byte)
	return nil
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// newTestHabit seeds a user and a habit into the store.
func newTestHabit(t *testing.T, store storage.StorageInterface, name string, interval models.Interval) *models.Habit {
	t.Helper()
	ctx := context.Background()

	user, err := store.AddUser(ctx, &models.User{
		Name:  "streak tester " + name,
		Email: name + "@example.com",
	})
	require.NoError(t, err)

	habit, err := store.AddHabit(ctx, &models.Habit{
		UserID:   user.ID,
		Name:     name,
		Category: models.CategoryPersonal,
		Interval: interval,
		Color:    "#FF8800",
		NextDue:  day(2024, time.May, 1),
	})
	require.NoError(t, err)
	return habit
}

// TestRecordCompletionStartsStreak tests that the first completion creates a
// streak with a count of 1 and links it back to the habit.
func TestRecordCompletionStartsStreak(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	engine := NewEngine(store, nil)

	habit := newTestHabit(t, store, "meditate", models.IntervalDaily)

	streak, err := engine.RecordCompletion(ctx, habit, day(2024, time.May, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, streak.CurrentStreakCount)
	assert.Equal(t, day(2024, time.May, 1), streak.FirstDayOfStreak)
	assert.Equal(t, day(2024, time.May, 1), streak.LastDayPerformed)
	assert.Equal(t, habit.Interval, streak.Interval)
	assert.Equal(t, habit.Color, streak.Color)

	stored, err := store.FindHabit(ctx, habit.ID)
	require.NoError(t, err)
	assert.Equal(t, streak.ID, stored.CurrentStreakID)
}

// TestRecordCompletionContinuesWeekly tests that a weekly habit completed on
// the seventh day after the last contributing day extends the run.
func TestRecordCompletionContinuesWeekly(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	engine := NewEngine(store, nil)

	habit := newTestHabit(t, store, "review-goals", models.IntervalWeekly)

	first, err := engine.RecordCompletion(ctx, habit, day(2024, time.May, 1))
	require.NoError(t, err)

	second, err := engine.RecordCompletion(ctx, habit, day(2024, time.May, 8))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.CurrentStreakCount)
	assert.Equal(t, day(2024, time.May, 8), second.LastDayPerformed)
}

// TestRecordCompletionContinuesDaily tests that consecutive-day completions
// of a daily habit keep extending the same run, and that re-completing the
// last contributing day (after an undo) continues it rather than restarting.
func TestRecordCompletionContinuesDaily(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	engine := NewEngine(store, nil)

	habit := newTestHabit(t, store, "make-bed", models.IntervalDaily)

	first, err := engine.RecordCompletion(ctx, habit, day(2024, time.May, 1))
	require.NoError(t, err)

	for d := 2; d <= 4; d++ {
		streak, err := engine.RecordCompletion(ctx, habit, day(2024, time.May, d))
		require.NoError(t, err)
		assert.Equal(t, first.ID, streak.ID)
		assert.Equal(t, d, streak.CurrentStreakCount)
	}

	_, err = engine.UndoCompletion(ctx, habit, day(2024, time.May, 4))
	require.NoError(t, err)

	again, err := engine.RecordCompletion(ctx, habit, day(2024, time.May, 4))
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 4, again.CurrentStreakCount)
}

// TestRecordCompletionBreaksLateRun tests that a completion outside the
// cadence window starts a fresh streak and keeps the old one as history.
func TestRecordCompletionBreaksLateRun(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	engine := NewEngine(store, nil)

	habit := newTestHabit(t, store, "stretch", models.IntervalWeekly)

	first, err := engine.RecordCompletion(ctx, habit, day(2024, time.May, 1))
	require.NoError(t, err)

	// Fifteen days later: more than one interval past the last day.
	fresh, err := engine.RecordCompletion(ctx, habit, day(2024, time.May, 16))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, fresh.ID)
	assert.Equal(t, 1, fresh.CurrentStreakCount)

	streaks, err := store.FindStreaksByUser(ctx, habit.UserID)
	require.NoError(t, err)
	assert.Len(t, streaks, 2)

	active, err := store.FindStreak(ctx, habit.UserID, habit.ID)
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, active.ID)
}

// TestRecordCompletionBreaksOnIntervalChange tests that a cadence change is
// detected on the next completion and breaks the run even when the timing
// would otherwise fit.
func TestRecordCompletionBreaksOnIntervalChange(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	engine := NewEngine(store, nil)

	habit := newTestHabit(t, store, "journal", models.IntervalDaily)

	first, err := engine.RecordCompletion(ctx, habit, day(2024, time.May, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, first.CurrentStreakCount)

	habit.Interval = models.IntervalWeekly

	fresh, err := engine.RecordCompletion(ctx, habit, day(2024, time.May, 2))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, fresh.ID)
	assert.Equal(t, 1, fresh.CurrentStreakCount)
	assert.Equal(t, models.IntervalWeekly, fresh.Interval)
}

// TestUndoCompletion tests the undo rules: only the most recent contributing
// day decrements, the count floors at zero, and the record is kept.
func TestUndoCompletion(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	engine := NewEngine(store, nil)

	habit := newTestHabit(t, store, "read", models.IntervalDaily)

	_, err := engine.RecordCompletion(ctx, habit, day(2024, time.May, 1))
	require.NoError(t, err)
	streak, err := engine.RecordCompletion(ctx, habit, day(2024, time.May, 2))
	require.NoError(t, err)
	assert.Equal(t, 2, streak.CurrentStreakCount)

	// Undoing a day that is not the latest is a no-op.
	unchanged, err := engine.UndoCompletion(ctx, habit, day(2024, time.May, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, unchanged.CurrentStreakCount)

	undone, err := engine.UndoCompletion(ctx, habit, day(2024, time.May, 2))
	require.NoError(t, err)
	assert.Equal(t, 1, undone.CurrentStreakCount)

	// Drive the count to zero and past it; the record survives at zero.
	zero, err := engine.UndoCompletion(ctx, habit, day(2024, time.May, 2))
	require.NoError(t, err)
	assert.Equal(t, 0, zero.CurrentStreakCount)

	still, err := engine.UndoCompletion(ctx, habit, day(2024, time.May, 2))
	require.NoError(t, err)
	assert.Equal(t, 0, still.CurrentStreakCount)

	count, err := engine.CurrentStreakCount(ctx, habit.UserID, habit.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

// TestUndoCompletionWithoutStreak tests that undoing a habit that never had a
// streak succeeds as a no-op.
func TestUndoCompletionWithoutStreak(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	engine := NewEngine(store, nil)

	habit := newTestHabit(t, store, "floss", models.IntervalDaily)

	streak, err := engine.UndoCompletion(ctx, habit, day(2024, time.May, 1))
	require.NoError(t, err)
	assert.Nil(t, streak)
}

// TestCurrentStreakCountNotFound tests the error path for a habit that has
// never been completed.
func TestCurrentStreakCountNotFound(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	engine := NewEngine(store, nil)

	habit := newTestHabit(t, store, "run", models.IntervalDaily)

	_, err := engine.CurrentStreakCount(ctx, habit.UserID, habit.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

// TestRangeView tests the calendar projection: a three-day streak queried
// over exactly its span yields one labeled, colored entry per day.
func TestRangeView(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	engine := NewEngine(store, nil)

	habit := newTestHabit(t, store, "water-plants", models.IntervalDaily)

	for d := 1; d <= 3; d++ {
		_, err := engine.RecordCompletion(ctx, habit, day(2024, time.May, d))
		require.NoError(t, err)
	}

	view, err := engine.RangeView(ctx, habit.UserID, day(2024, time.May, 1), day(2024, time.May, 3))
	require.NoError(t, err)
	require.Len(t, view, 3)

	for _, key := range []string{"2024-05-01", "2024-05-02", "2024-05-03"} {
		entries := view[key]
		require.Len(t, entries, 1, "day %s", key)
		assert.Equal(t, "water-plants", entries[0].Label)
		assert.Equal(t, "#FF8800", entries[0].Color)
	}
}

// TestRangeViewClipsToRange tests that days outside the requested window are
// excluded even when the streak extends past it.
func TestRangeViewClipsToRange(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	engine := NewEngine(store, nil)

	habit := newTestHabit(t, store, "walk", models.IntervalDaily)

	for d := 1; d <= 10; d++ {
		_, err := engine.RecordCompletion(ctx, habit, day(2024, time.May, d))
		require.NoError(t, err)
	}

	view, err := engine.RangeView(ctx, habit.UserID, day(2024, time.May, 4), day(2024, time.May, 6))
	require.NoError(t, err)
	assert.Len(t, view, 3)
	assert.Empty(t, view["2024-05-03"])
	assert.Empty(t, view["2024-05-07"])
}

// TestRangeViewCapsEntriesPerDay tests that a crowded day is truncated to
// the display bound.
func TestRangeViewCapsEntriesPerDay(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	engine := NewEngine(store, nil)

	user, err := store.AddUser(ctx, &models.User{Name: "busy", Email: "busy@example.com"})
	require.NoError(t, err)

	names := []string{"one", "two", "three", "four", "five", "six"}
	for _, name := range names {
		habit, err := store.AddHabit(ctx, &models.Habit{
			UserID:   user.ID,
			Name:     name,
			Category: models.CategoryWork,
			Interval: models.IntervalDaily,
			Color:    "#0000FF",
			NextDue:  day(2024, time.May, 1),
		})
		require.NoError(t, err)
		_, err = engine.RecordCompletion(ctx, habit, day(2024, time.May, 1))
		require.NoError(t, err)
	}

	view, err := engine.RangeView(ctx, user.ID, day(2024, time.May, 1), day(2024, time.May, 1))
	require.NoError(t, err)
	assert.Len(t, view["2024-05-01"], maxEntriesPerDay)
}

// TestRangeViewCaching tests that a repeated query is served from the cache
// and that recording a completion invalidates the cached projection.
func TestRangeViewCaching(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	c := newMapCache()
	engine := NewEngine(store, c)

	habit := newTestHabit(t, store, "hydrate", models.IntervalDaily)

	_, err := engine.RecordCompletion(ctx, habit, day(2024, time.May, 1))
	require.NoError(t, err)

	first, err := engine.RangeView(ctx, habit.UserID, day(2024, time.May, 1), day(2024, time.May, 2))
	require.NoError(t, err)
	setsAfterFirst := c.sets

	// Second read must not re-write the cache.
	second, err := engine.RangeView(ctx, habit.UserID, day(2024, time.May, 1), day(2024, time.May, 2))
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, setsAfterFirst, c.sets)

	// A new completion bumps the version, so the next read recomputes.
	_, err = engine.RecordCompletion(ctx, habit, day(2024, time.May, 2))
	require.NoError(t, err)

	refreshed, err := engine.RangeView(ctx, habit.UserID, day(2024, time.May, 1), day(2024, time.May, 2))
	require.NoError(t, err)
	assert.Len(t, refreshed, 2)
	assert.Len(t, refreshed[dateutil.DayKey(day(2024, time.May, 2))], 1)
}
