package habit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/maxelsson/habitkeep/backend/models"
	storage "github.com/maxelsson/habitkeep/backend/storage/persistent"
	"github.com/maxelsson/habitkeep/backend/streak"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// newTestService wires a service onto the in-memory store with a fixed clock.
func newTestService(t *testing.T, now time.Time) (*Service, storage.StorageInterface, primitive.ObjectID) {
	t.Helper()
	store := storage.NewMemoryStorage()
	engine := streak.NewEngine(store, nil)
	service := NewService(store, engine)
	service.now = func() time.Time { return now }

	user, err := store.AddUser(context.Background(), &models.User{
		Name:  "habit tester",
		Email: "habits@example.com",
	})
	require.NoError(t, err)
	return service, store, user.ID
}

func testHabit(userID primitive.ObjectID, name string, interval models.Interval) *models.Habit {
	return &models.Habit{
		UserID:   userID,
		Name:     name,
		Category: models.CategoryPersonal,
		Interval: interval,
		Color:    "#22AA66",
	}
}

// TestAddHabit tests that a new habit is due immediately with clean
// completion state, and that validation rejects bad definitions.
func TestAddHabit(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, time.May, 7, 14, 30, 0, 0, time.UTC)
	service, _, userID := newTestService(t, now)

	h, err := service.Add(ctx, testHabit(userID, "meditate", models.IntervalWeekly))
	require.NoError(t, err)
	assert.Equal(t, day(2024, time.May, 7), h.NextDue)
	assert.Nil(t, h.Performed)
	assert.Nil(t, h.LastPerformed)
	assert.True(t, h.CurrentStreakID.IsZero())
	assert.False(t, h.ID.IsZero())

	_, err = service.Add(ctx, testHabit(userID, "", models.IntervalDaily))
	assert.ErrorIs(t, err, models.ErrValidation)

	bad := testHabit(userID, "sleep", 3)
	_, err = service.Add(ctx, bad)
	assert.ErrorIs(t, err, models.ErrValidation)

	noOwner := testHabit(primitive.NilObjectID, "stretch", models.IntervalDaily)
	_, err = service.Add(ctx, noOwner)
	assert.ErrorIs(t, err, models.ErrValidation)
}

// TestGetEnforcesOwnership tests that reading another user's habit reports
// not-found rather than leaking its existence.
func TestGetEnforcesOwnership(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, time.May, 7, 9, 0, 0, 0, time.UTC)
	service, _, userID := newTestService(t, now)

	h, err := service.Add(ctx, testHabit(userID, "read", models.IntervalDaily))
	require.NoError(t, err)

	_, err = service.Get(ctx, h.ID, primitive.NewObjectID())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

// TestToggleCompletionRoundTrip walks the full mark-then-undo cycle: the
// first toggle performs the habit today and schedules the next cycle, the
// second toggle undoes it and makes the habit immediately actionable again.
func TestToggleCompletionRoundTrip(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, time.May, 7, 9, 0, 0, 0, time.UTC)
	today := day(2024, time.May, 7)
	service, store, userID := newTestService(t, now)

	h, err := service.Add(ctx, testHabit(userID, "exercise", models.IntervalDaily))
	require.NoError(t, err)

	marked, err := service.ToggleCompletion(ctx, h.ID, userID)
	require.NoError(t, err)
	require.NotNil(t, marked.Performed)
	assert.Equal(t, today, *marked.Performed)
	assert.Equal(t, today, *marked.LastPerformed)
	assert.Equal(t, day(2024, time.May, 8), marked.NextDue)

	count, err := service.streaks.CurrentStreakCount(ctx, userID, h.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	undone, err := service.ToggleCompletion(ctx, h.ID, userID)
	require.NoError(t, err)
	assert.Nil(t, undone.Performed)
	assert.Equal(t, today, undone.NextDue)

	count, err = service.streaks.CurrentStreakCount(ctx, userID, h.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// The streak record survives the undo at count zero.
	s, err := store.FindStreak(ctx, userID, h.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, s.CurrentStreakCount)
}

// TestToggleCompletionWeeklySchedule tests the weekly advance on marking.
func TestToggleCompletionWeeklySchedule(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, time.May, 7, 9, 0, 0, 0, time.UTC)
	service, _, userID := newTestService(t, now)

	h, err := service.Add(ctx, testHabit(userID, "plan-week", models.IntervalWeekly))
	require.NoError(t, err)

	marked, err := service.ToggleCompletion(ctx, h.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, day(2024, time.May, 14), marked.NextDue)
}

// TestToggleCompletionUnknownHabit tests the not-found path.
func TestToggleCompletionUnknownHabit(t *testing.T) {
	ctx := context.Background()
	service, _, userID := newTestService(t, time.Date(2024, time.May, 7, 9, 0, 0, 0, time.UTC))

	_, err := service.ToggleCompletion(ctx, primitive.NewObjectID(), userID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

// brokenStreakStore wraps a working store but fails every streak write,
// simulating the streak collection being unavailable after the habit
// collection accepted its write.
type brokenStreakStore struct {
	storage.StorageInterface
}

var errStreaksDown = errors.New("streaks collection unavailable")

func (s *brokenStreakStore) AddStreak(ctx context.Context, streak *models.Streak) (*models.Streak, error) {
	return nil, errStreaksDown
}

func (s *brokenStreakStore) UpdateStreak(ctx context.Context, streak *models.Streak) (*storage.UpdateResult, error) {
	return nil, errStreaksDown
}

// TestToggleCompletionPartialFailure tests the partial-state contract: when
// the habit write lands but the streak write fails, the updated habit is
// returned together with an error describing the inconsistency, for both the
// mark and the undo direction.
func TestToggleCompletionPartialFailure(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, time.May, 7, 9, 0, 0, 0, time.UTC)
	today := day(2024, time.May, 7)

	mem := storage.NewMemoryStorage()
	broken := &brokenStreakStore{StorageInterface: mem}
	service := NewService(broken, streak.NewEngine(broken, nil))
	service.now = func() time.Time { return now }

	user, err := mem.AddUser(ctx, &models.User{Name: "habit tester", Email: "partial@example.com"})
	require.NoError(t, err)

	h, err := service.Add(ctx, testHabit(user.ID, "stretch", models.IntervalDaily))
	require.NoError(t, err)

	marked, err := service.ToggleCompletion(ctx, h.ID, user.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, errStreaksDown)
	require.NotNil(t, marked)
	require.NotNil(t, marked.Performed)
	assert.Equal(t, today, *marked.Performed)

	// The habit write went through despite the streak failure.
	stored, err := mem.FindHabit(ctx, h.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Performed)

	// Seed a streak directly so the undo direction reaches UpdateStreak.
	_, err = mem.AddStreak(ctx, &models.Streak{
		UserID:             user.ID,
		HabitID:            h.ID,
		FirstDayOfStreak:   today,
		LastDayPerformed:   today,
		CurrentStreakCount: 1,
		Interval:           h.Interval,
	})
	require.NoError(t, err)

	undone, err := service.ToggleCompletion(ctx, h.ID, user.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, errStreaksDown)
	require.NotNil(t, undone)
	assert.Nil(t, undone.Performed)
	assert.Equal(t, today, undone.NextDue)
}

// TestToggleCompletionConcurrent tests that concurrent toggles of the same
// habit are serialized: an even number of toggles always lands back on the
// unperformed state.
func TestToggleCompletionConcurrent(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, time.May, 7, 9, 0, 0, 0, time.UTC)
	service, store, userID := newTestService(t, now)

	h, err := service.Add(ctx, testHabit(userID, "tidy-desk", models.IntervalDaily))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.ToggleCompletion(ctx, h.ID, userID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	final, err := store.FindHabit(ctx, h.ID)
	require.NoError(t, err)
	assert.Nil(t, final.Performed)
	assert.Equal(t, day(2024, time.May, 7), final.NextDue)

	s, err := store.FindStreak(ctx, userID, h.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, s.CurrentStreakCount)
}

// TestDueAndPerformedLists tests the derived lists before and after a toggle.
func TestDueAndPerformedLists(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, time.May, 7, 9, 0, 0, 0, time.UTC)
	service, _, userID := newTestService(t, now)

	h, err := service.Add(ctx, testHabit(userID, "write", models.IntervalDaily))
	require.NoError(t, err)

	due, err := service.DueToday(ctx, userID)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, h.ID, due[0].ID)

	performed, err := service.PerformedToday(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, performed)

	_, err = service.ToggleCompletion(ctx, h.ID, userID)
	require.NoError(t, err)

	due, err = service.DueToday(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, due)

	performed, err = service.PerformedToday(ctx, userID)
	require.NoError(t, err)
	require.Len(t, performed, 1)
	assert.Equal(t, h.ID, performed[0].ID)
}

// TestDeleteKeepsStreakHistory tests that deleting a habit leaves its streak
// records in place for calendar rendering.
func TestDeleteKeepsStreakHistory(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, time.May, 7, 9, 0, 0, 0, time.UTC)
	service, store, userID := newTestService(t, now)

	h, err := service.Add(ctx, testHabit(userID, "swim", models.IntervalDaily))
	require.NoError(t, err)

	_, err = service.ToggleCompletion(ctx, h.ID, userID)
	require.NoError(t, err)

	require.NoError(t, service.Delete(ctx, h.ID, userID))

	_, err = store.FindHabit(ctx, h.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	streaks, err := store.FindStreaksByUser(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, streaks, 1)
}

// TestUpdateBumpsEditTimestamp tests the definition edit path.
func TestUpdateBumpsEditTimestamp(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2024, time.May, 7, 9, 0, 0, 0, time.UTC)
	service, _, userID := newTestService(t, created)

	h, err := service.Add(ctx, testHabit(userID, "cook", models.IntervalDaily))
	require.NoError(t, err)

	edited := created.Add(48 * time.Hour)
	service.now = func() time.Time { return edited }

	h.Name = "cook dinner"
	updated, err := service.Update(ctx, h, userID)
	require.NoError(t, err)
	assert.Equal(t, edited, updated.DateEdited)
	assert.Equal(t, created, updated.DateCreated)
}

// TestUpdateEnforcesOwnership tests that editing another user's habit
// reports not-found and leaves the record untouched.
func TestUpdateEnforcesOwnership(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, time.May, 7, 9, 0, 0, 0, time.UTC)
	service, store, userID := newTestService(t, now)

	h, err := service.Add(ctx, testHabit(userID, "garden", models.IntervalDaily))
	require.NoError(t, err)

	edit := *h
	edit.Name = "hijacked"
	_, err = service.Update(ctx, &edit, primitive.NewObjectID())
	assert.ErrorIs(t, err, models.ErrNotFound)

	stored, err := store.FindHabit(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, "garden", stored.Name)
}

// TestWatchDeliversChanges tests that the change feed reports habit writes
// for the watching user only.
func TestWatchDeliversChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Date(2024, time.May, 7, 9, 0, 0, 0, time.UTC)
	service, _, userID := newTestService(t, now)

	events, err := service.Watch(ctx, userID)
	require.NoError(t, err)

	h, err := service.Add(ctx, testHabit(userID, "practice", models.IntervalDaily))
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, "insert", ev.Op)
		assert.Equal(t, h.ID, ev.HabitID)
	case <-time.After(time.Second):
		t.Fatal("no change event received")
	}
}
