package streak

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/maxelsson/habitkeep/backend/dateutil"
	"github.com/maxelsson/habitkeep/backend/models"
	cache "github.com/maxelsson/habitkeep/backend/storage/cache"
	storage "github.com/maxelsson/habitkeep/backend/storage/persistent"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// maxEntriesPerDay bounds the number of display entries the range view emits
// for a single calendar day, so a crowded month stays renderable.
const maxEntriesPerDay = 4

// Engine maintains at most one active streak per (user, habit) pair and
// decides, on every completion toggle, whether the run continues, breaks, or
// restarts. All persistence goes through the storage interface; the cache,
// when present, only holds range-view projections.
type Engine struct {
	store storage.StorageInterface
	cache cache.CacheInterface
}

// NewEngine creates a streak engine on top of the given store. The cache is
// optional; pass nil to disable range-view caching.
func NewEngine(store storage.StorageInterface, c cache.CacheInterface) *Engine {
	return &Engine{store: store, cache: c}
}

// continuesRun reports whether a completion on performedDate keeps the run
// alive: the habit's cadence must still match the one the streak was created
// with, and the completion must fall within one interval after the last
// contributing day. The last day itself stays inside the window so a
// completion repeated after an undo continues the run instead of restarting
// it. Comparison is at day granularity.
func continuesRun(existing *models.Streak, habit *models.Habit, performedDate time.Time) bool {
	if existing.Interval != habit.Interval {
		return false
	}
	day := dateutil.StartOfDay(performedDate)
	lower := dateutil.StartOfDay(existing.LastDayPerformed)
	upper := dateutil.AddDays(lower, habit.Interval.Days())
	return !day.Before(lower) && !day.After(upper)
}

// RecordCompletion registers a completion of the habit on performedDate.
// If the habit has no streak yet a new one is created with a count of 1 and
// its id is written back onto the habit. If the existing streak continues,
// its count is incremented; if the run is broken (cadence changed or the
// completion is late) a fresh streak is started and the old record is kept
// as history for calendar rendering.
func (e *Engine) RecordCompletion(ctx context.Context, habit *models.Habit, performedDate time.Time) (*models.Streak, error) {
	if habit.ID.IsZero() || habit.UserID.IsZero() {
		return nil, fmt.Errorf("habit is missing an id or owner: %w", models.ErrValidation)
	}

	day := dateutil.StartOfDay(performedDate)

	existing, err := e.store.FindStreak(ctx, habit.UserID, habit.ID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return e.startStreak(ctx, habit, day)
		}
		return nil, err
	}

	if !continuesRun(existing, habit, day) {
		// The run is broken. The old streak stays untouched as history and a
		// fresh one takes over as the active record.
		return e.startStreak(ctx, habit, day)
	}

	existing.CurrentStreakCount++
	existing.LastDayPerformed = day
	if _, err := e.store.UpdateStreak(ctx, existing); err != nil {
		return nil, err
	}
	e.invalidateRangeViews(ctx, habit.UserID)
	return existing, nil
}

// startStreak creates a fresh streak beginning on day and writes its id back
// onto the habit record.
func (e *Engine) startStreak(ctx context.Context, habit *models.Habit, day time.Time) (*models.Streak, error) {
	streak := &models.Streak{
		UserID:             habit.UserID,
		HabitID:            habit.ID,
		Color:              habit.Color,
		FirstDayOfStreak:   day,
		LastDayPerformed:   day,
		CurrentStreakCount: 1,
		Interval:           habit.Interval,
	}

	streak, err := e.store.AddStreak(ctx, streak)
	if err != nil {
		return nil, err
	}

	habit.CurrentStreakID = streak.ID
	if _, err := e.store.UpdateHabit(ctx, habit); err != nil {
		return streak, fmt.Errorf("streak %s created but habit back-reference not written: %w", streak.ID.Hex(), err)
	}
	e.invalidateRangeViews(ctx, habit.UserID)
	return streak, nil
}

// UndoCompletion cancels a completion previously recorded on performedDate.
// The count is decremented, with a floor of zero, only when performedDate is
// exactly the streak's most recent contributing day; anything else is a
// no-op, which protects against undoing a day that isn't the latest. A count
// driven to zero is kept, not deleted.
func (e *Engine) UndoCompletion(ctx context.Context, habit *models.Habit, performedDate time.Time) (*models.Streak, error) {
	if habit.ID.IsZero() || habit.UserID.IsZero() {
		return nil, fmt.Errorf("habit is missing an id or owner: %w", models.ErrValidation)
	}

	streak, err := e.store.FindStreak(ctx, habit.UserID, habit.ID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if !dateutil.SameDay(streak.LastDayPerformed, performedDate) {
		return streak, nil
	}

	if streak.CurrentStreakCount > 0 {
		streak.CurrentStreakCount--
	}
	if _, err := e.store.UpdateStreak(ctx, streak); err != nil {
		return nil, err
	}
	e.invalidateRangeViews(ctx, habit.UserID)
	return streak, nil
}

// CurrentStreakCount returns the active streak count for a habit for display.
// Returns ErrNotFound when the habit has no streak.
func (e *Engine) CurrentStreakCount(ctx context.Context, userID, habitID primitive.ObjectID) (int, error) {
	streak, err := e.store.FindStreak(ctx, userID, habitID)
	if err != nil {
		return 0, err
	}
	return streak.CurrentStreakCount, nil
}

// RangeView builds the calendar projection for a user: for every streak the
// user owns, historical runs included, every day in [FirstDayOfStreak,
// LastDayPerformed] that intersects [from, to] gets a display entry carrying
// the habit's name and the streak's color. At most maxEntriesPerDay entries
// are kept per day. The projection is recomputed from the store on every
// call unless a cached copy is available.
func (e *Engine) RangeView(ctx context.Context, userID primitive.ObjectID, from, to time.Time) (map[string][]models.StreakInfo, error) {
	key := e.rangeViewKey(ctx, userID, from, to)
	if e.cache != nil {
		cached := make(map[string][]models.StreakInfo)
		err := e.cache.Get(ctx, key, &cached)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			log.Printf("range view cache read failed: %v", err)
		}
	}

	streaks, err := e.store.FindStreaksByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Habit names label the calendar entries. A streak whose habit has been
	// deleted keeps its color but loses its label.
	labels := make(map[primitive.ObjectID]string)
	habits, err := e.store.FindHabitsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, habit := range habits {
		labels[habit.ID] = habit.Name
	}

	rangeStart := dateutil.StartOfDay(from)
	rangeEnd := dateutil.StartOfDay(to)

	view := make(map[string][]models.StreakInfo)
	for _, streak := range streaks {
		for _, day := range dateutil.EnumerateDays(streak.FirstDayOfStreak, streak.LastDayPerformed) {
			if day.Before(rangeStart) || day.After(rangeEnd) {
				continue
			}
			dayKey := dateutil.DayKey(day)
			if len(view[dayKey]) >= maxEntriesPerDay {
				continue
			}
			view[dayKey] = append(view[dayKey], models.StreakInfo{
				Label: labels[streak.HabitID],
				Color: streak.Color,
			})
		}
	}

	if e.cache != nil {
		if err := e.cache.Set(ctx, key, view); err != nil {
			log.Printf("range view cache write failed: %v", err)
		}
	}
	return view, nil
}

// rangeViewKey derives the cache key for a range-view projection. A per-user
// version counter is folded into the key so that a single delete invalidates
// every cached range for that user; stale versions age out with the TTL.
func (e *Engine) rangeViewKey(ctx context.Context, userID primitive.ObjectID, from, to time.Time) string {
	version := 0
	if e.cache != nil {
		if err := e.cache.Get(ctx, e.versionKey(userID), &version); err != nil && !errors.Is(err, cache.ErrCacheMiss) {
			log.Printf("range view version read failed: %v", err)
		}
	}
	return fmt.Sprintf("rangeview_%s_%d_%s_%s", userID.Hex(), version, dateutil.DayKey(from), dateutil.DayKey(to))
}

func (e *Engine) versionKey(userID primitive.ObjectID) string {
	return "rangeview_version_" + userID.Hex()
}

// invalidateRangeViews bumps the user's range-view version so that cached
// projections from before the mutation are no longer reachable.
func (e *Engine) invalidateRangeViews(ctx context.Context, userID primitive.ObjectID) {
	if e.cache == nil {
		return
	}
	version := 0
	if err := e.cache.Get(ctx, e.versionKey(userID), &version); err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		log.Printf("range view version read failed: %v", err)
		return
	}
	if err := e.cache.Set(ctx, e.versionKey(userID), version+1); err != nil {
		log.Printf("range view invalidation failed: %v", err)
	}
}
