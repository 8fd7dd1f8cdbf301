package habit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maxelsson/habitkeep/backend/dateutil"
	"github.com/maxelsson/habitkeep/backend/models"
	storage "github.com/maxelsson/habitkeep/backend/storage/persistent"
	"github.com/maxelsson/habitkeep/backend/streak"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Service owns habit CRUD and the completion toggle. Toggles are serialized
// per habit id so the streak lookup-then-update never races with itself, even
// though the underlying store has no transaction spanning both records.
type Service struct {
	store   storage.StorageInterface
	streaks *streak.Engine

	mu    sync.Mutex
	locks map[primitive.ObjectID]*sync.Mutex

	// now is the clock; swapped out in tests.
	now func() time.Time
}

// NewService creates a habit service on top of the given store and streak engine.
func NewService(store storage.StorageInterface, streaks *streak.Engine) *Service {
	return &Service{
		store:   store,
		streaks: streaks,
		locks:   make(map[primitive.ObjectID]*sync.Mutex),
		now:     time.Now,
	}
}

// habitLock returns the mutex serializing toggles for one habit id.
func (s *Service) habitLock(id primitive.ObjectID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	return lock
}

// Add validates and persists a new habit. A new habit is immediately
// actionable: its next due date is today regardless of interval.
func (s *Service) Add(ctx context.Context, h *models.Habit) (*models.Habit, error) {
	if h.Name == "" {
		return nil, fmt.Errorf("habit name must not be empty: %w", models.ErrValidation)
	}
	if !h.Interval.Valid() {
		return nil, fmt.Errorf("interval must be daily or weekly: %w", models.ErrValidation)
	}
	if !h.Category.Valid() {
		return nil, fmt.Errorf("category must be Work or Personal: %w", models.ErrValidation)
	}
	if h.UserID.IsZero() {
		return nil, fmt.Errorf("habit must have an owner: %w", models.ErrValidation)
	}

	now := s.now()
	h.NextDue = dateutil.StartOfDay(now)
	h.Performed = nil
	h.LastPerformed = nil
	h.CurrentStreakID = primitive.NilObjectID
	h.DateCreated = now
	h.DateEdited = now

	return s.store.AddHabit(ctx, h)
}

// Update persists edits to a habit's definition (name, description, category,
// interval, color, notification flag) and bumps the edit timestamp. The habit
// must belong to userID. Changing the interval deliberately leaves the active
// streak alone: the mismatch is detected on the next completion and breaks
// the run there.
func (s *Service) Update(ctx context.Context, h *models.Habit, userID primitive.ObjectID) (*models.Habit, error) {
	if h.ID.IsZero() {
		return nil, fmt.Errorf("habit id is required for update: %w", models.ErrValidation)
	}
	if !h.Interval.Valid() {
		return nil, fmt.Errorf("interval must be daily or weekly: %w", models.ErrValidation)
	}
	if !h.Category.Valid() {
		return nil, fmt.Errorf("category must be Work or Personal: %w", models.ErrValidation)
	}
	if _, err := s.Get(ctx, h.ID, userID); err != nil {
		return nil, err
	}

	h.UserID = userID
	h.DateEdited = s.now()
	if _, err := s.store.UpdateHabit(ctx, h); err != nil {
		return nil, err
	}
	return h, nil
}

// Get fetches one habit by id, verifying ownership.
func (s *Service) Get(ctx context.Context, id, userID primitive.ObjectID) (*models.Habit, error) {
	h, err := s.store.FindHabit(ctx, id)
	if err != nil {
		return nil, err
	}
	if h.UserID != userID {
		return nil, fmt.Errorf("habit %s: %w", id.Hex(), models.ErrNotFound)
	}
	return h, nil
}

// Delete removes a habit. Streak history is intentionally kept; see the
// repository design notes for the cascade policy.
func (s *Service) Delete(ctx context.Context, id, userID primitive.ObjectID) error {
	if _, err := s.Get(ctx, id, userID); err != nil {
		return err
	}
	_, err := s.store.DeleteHabit(ctx, id)
	return err
}

// All returns every habit the user owns.
func (s *Service) All(ctx context.Context, userID primitive.ObjectID) ([]models.Habit, error) {
	return s.store.FindHabitsByUser(ctx, userID)
}

// DueToday returns the habits that require action today.
func (s *Service) DueToday(ctx context.Context, userID primitive.ObjectID) ([]models.Habit, error) {
	return s.store.FindHabitsDue(ctx, userID, s.now())
}

// PerformedToday returns the habits already completed today.
func (s *Service) PerformedToday(ctx context.Context, userID primitive.ObjectID) ([]models.Habit, error) {
	return s.store.FindHabitsPerformed(ctx, userID, s.now())
}

// ToggleCompletion marks the habit performed for today, or undoes today's
// mark if it is already performed. The habit's schedule fields and the streak
// record are updated together as one logical operation, serialized per habit.
//
// On undo the next due date is reset to today, making the habit immediately
// actionable again. Recomputing it by subtracting the interval from now was
// considered and rejected: it produces wrong schedules whenever the undo does
// not happen on the original completion day.
//
// The habit write and the streak write are not one store transaction. When
// the streak step fails after the habit write succeeded, the updated habit is
// returned together with an error describing the partial state.
func (s *Service) ToggleCompletion(ctx context.Context, habitID, userID primitive.ObjectID) (*models.Habit, error) {
	lock := s.habitLock(habitID)
	lock.Lock()
	defer lock.Unlock()

	h, err := s.Get(ctx, habitID, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	today := dateutil.StartOfDay(now)

	performedToday := h.Performed != nil && dateutil.SameDay(*h.Performed, now)
	if performedToday {
		h.Performed = nil
		h.NextDue = today
		h.DateEdited = now
		if _, err := s.store.UpdateHabit(ctx, h); err != nil {
			return nil, err
		}
		if _, err := s.streaks.UndoCompletion(ctx, h, today); err != nil {
			return h, fmt.Errorf("habit updated but streak undo failed, records are inconsistent: %w", err)
		}
		return h, nil
	}

	performed := today
	h.Performed = &performed
	h.LastPerformed = &performed
	h.NextDue = NextDueDate(today, h.Interval)
	h.DateEdited = now
	if _, err := s.store.UpdateHabit(ctx, h); err != nil {
		return nil, err
	}
	if _, err := s.streaks.RecordCompletion(ctx, h, today); err != nil {
		return h, fmt.Errorf("habit updated but streak update failed, records are inconsistent: %w", err)
	}
	return h, nil
}

// Watch exposes the store's change notifications for a user's habits, so a
// caller can keep its derived lists current without polling.
func (s *Service) Watch(ctx context.Context, userID primitive.ObjectID) (<-chan storage.ChangeEvent, error) {
	return s.store.WatchHabits(ctx, userID)
}
