package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/maxelsson/habitkeep/backend/dateutil"
	"github.com/maxelsson/habitkeep/backend/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryStorage is an in-memory implementation of StorageInterface with the
// same query semantics as the MongoDB backend. It backs the engine tests and
// can serve as a throwaway local backend; nothing survives a restart.
type MemoryStorage struct {
	mu            sync.Mutex
	users         map[primitive.ObjectID]*models.User
	habits        map[primitive.ObjectID]*models.Habit
	streaks       map[primitive.ObjectID]*models.Streak
	refreshTokens map[primitive.ObjectID]*models.RefreshToken
	watchers      []memoryWatcher
}

type memoryWatcher struct {
	userID primitive.ObjectID
	events chan ChangeEvent
	done   <-chan struct{}
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		users:         make(map[primitive.ObjectID]*models.User),
		habits:        make(map[primitive.ObjectID]*models.Habit),
		streaks:       make(map[primitive.ObjectID]*models.Streak),
		refreshTokens: make(map[primitive.ObjectID]*models.RefreshToken),
	}
}

// Connect is a no-op; the memory backend needs no connection.
func (m *MemoryStorage) Connect(dbName, uri string) error { return nil }

// Disconnect is a no-op.
func (m *MemoryStorage) Disconnect() error { return nil }

// notify fans a change event out to the watchers of the habit's owner.
// Callers hold the mutex.
func (m *MemoryStorage) notify(op string, userID, habitID primitive.ObjectID) {
	for _, w := range m.watchers {
		if w.userID != userID {
			continue
		}
		select {
		case w.events <- ChangeEvent{Op: op, HabitID: habitID}:
		case <-w.done:
		default:
		}
	}
}

// AddUser stores a new user, enforcing the unique-email constraint.
func (m *MemoryStorage) AddUser(ctx context.Context, user *models.User) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if existing.Email == user.Email {
			return nil, fmt.Errorf("a user with the email '%s' already exists: %w", user.Email, models.ErrValidation)
		}
	}

	user.ID = primitive.NewObjectID()
	stored := *user
	m.users[user.ID] = &stored
	return user, nil
}

// FindUser returns the user with the given id.
func (m *MemoryStorage) FindUser(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("finding user: %w", models.ErrNotFound)
	}
	found := *user
	return &found, nil
}

// FindUserByEmail returns the user with the given email address.
func (m *MemoryStorage) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, user := range m.users {
		if user.Email == email {
			found := *user
			return &found, nil
		}
	}
	return nil, fmt.Errorf("finding user by email: %w", models.ErrNotFound)
}

// UpdateUser replaces a stored user record.
func (m *MemoryStorage) UpdateUser(ctx context.Context, user *models.User) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[user.ID]; !ok {
		return nil, fmt.Errorf("no user found to update: %w", models.ErrNotFound)
	}
	stored := *user
	m.users[user.ID] = &stored
	return user, nil
}

// DeleteUser removes a user together with the user's habits and refresh
// tokens; streak history stays.
func (m *MemoryStorage) DeleteUser(ctx context.Context, id primitive.ObjectID) (*DeleteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[id]; !ok {
		return nil, fmt.Errorf("deleting user: %w", models.ErrNotFound)
	}
	delete(m.users, id)
	for habitID, habit := range m.habits {
		if habit.UserID == id {
			delete(m.habits, habitID)
		}
	}
	for tokenID, token := range m.refreshTokens {
		if token.UserID == id {
			delete(m.refreshTokens, tokenID)
		}
	}
	return &DeleteResult{DeletedCount: 1}, nil
}

// AddRefreshToken stores a refresh token.
func (m *MemoryStorage) AddRefreshToken(ctx context.Context, token *models.RefreshToken) (*models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	token.ID = primitive.NewObjectID()
	stored := *token
	m.refreshTokens[token.ID] = &stored
	return token, nil
}

// FindRefreshToken returns the refresh token with the given opaque value.
func (m *MemoryStorage) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, stored := range m.refreshTokens {
		if stored.Token == token {
			found := *stored
			return &found, nil
		}
	}
	return nil, fmt.Errorf("finding refresh token: %w", models.ErrNotFound)
}

// DeleteRefreshTokens removes all refresh tokens belonging to a user.
func (m *MemoryStorage) DeleteRefreshTokens(ctx context.Context, userID primitive.ObjectID) (*DeleteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for id, token := range m.refreshTokens {
		if token.UserID == userID {
			delete(m.refreshTokens, id)
			deleted++
		}
	}
	return &DeleteResult{DeletedCount: deleted}, nil
}

// AddHabit stores a new habit, enforcing the same field checks and the
// unique (user, name) constraint the MongoDB backend enforces.
func (m *MemoryStorage) AddHabit(ctx context.Context, habit *models.Habit) (*models.Habit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if habit.Name == "" || !habit.Interval.Valid() || !habit.Category.Valid() || habit.UserID.IsZero() {
		return nil, fmt.Errorf("invalid habit fields: %w", models.ErrValidation)
	}
	if _, ok := m.users[habit.UserID]; !ok {
		return nil, fmt.Errorf("no user found with id %s: %w", habit.UserID.Hex(), models.ErrNotFound)
	}
	for _, existing := range m.habits {
		if existing.UserID == habit.UserID && existing.Name == habit.Name {
			return nil, fmt.Errorf("a habit with the name '%s' already exists for the user: %w", habit.Name, models.ErrValidation)
		}
	}

	habit.ID = primitive.NewObjectID()
	stored := *habit
	m.habits[habit.ID] = &stored
	m.notify("insert", habit.UserID, habit.ID)
	return habit, nil
}

// FindHabit returns the habit with the given id.
func (m *MemoryStorage) FindHabit(ctx context.Context, id primitive.ObjectID) (*models.Habit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	habit, ok := m.habits[id]
	if !ok {
		return nil, fmt.Errorf("finding habit: %w", models.ErrNotFound)
	}
	found := *habit
	return &found, nil
}

// habitsWhere collects habits matching the predicate in a stable order.
// Callers hold the mutex.
func (m *MemoryStorage) habitsWhere(match func(*models.Habit) bool) []models.Habit {
	var habits []models.Habit
	for _, habit := range m.habits {
		if match(habit) {
			habits = append(habits, *habit)
		}
	}
	sort.Slice(habits, func(i, j int) bool {
		return habits[i].ID.Hex() < habits[j].ID.Hex()
	})
	return habits
}

// FindHabitsByUser returns all habits owned by the user.
func (m *MemoryStorage) FindHabitsByUser(ctx context.Context, userID primitive.ObjectID) ([]models.Habit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.habitsWhere(func(h *models.Habit) bool {
		return h.UserID == userID
	}), nil
}

// FindHabitsDue returns habits due on or before the start of the given day.
func (m *MemoryStorage) FindHabitsDue(ctx context.Context, userID primitive.ObjectID, now time.Time) ([]models.Habit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	today := dateutil.StartOfDay(now)
	return m.habitsWhere(func(h *models.Habit) bool {
		return h.UserID == userID && !h.NextDue.After(today)
	}), nil
}

// FindHabitsPerformed returns habits completed on the given calendar day.
func (m *MemoryStorage) FindHabitsPerformed(ctx context.Context, userID primitive.ObjectID, now time.Time) ([]models.Habit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.habitsWhere(func(h *models.Habit) bool {
		return h.UserID == userID && h.Performed != nil && dateutil.SameDay(*h.Performed, now)
	}), nil
}

// FindHabitsNeedingReminder returns habits across all users that are due and
// have notifications enabled.
func (m *MemoryStorage) FindHabitsNeedingReminder(ctx context.Context, now time.Time) ([]models.Habit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	today := dateutil.StartOfDay(now)
	return m.habitsWhere(func(h *models.Habit) bool {
		return h.SendNotification && !h.NextDue.After(today)
	}), nil
}

// UpdateHabit replaces a stored habit record.
func (m *MemoryStorage) UpdateHabit(ctx context.Context, habit *models.Habit) (*UpdateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !habit.Interval.Valid() || !habit.Category.Valid() {
		return nil, fmt.Errorf("invalid habit fields: %w", models.ErrValidation)
	}
	if _, ok := m.habits[habit.ID]; !ok {
		return nil, fmt.Errorf("no habit found to update: %w", models.ErrNotFound)
	}
	stored := *habit
	m.habits[habit.ID] = &stored
	m.notify("update", habit.UserID, habit.ID)
	return &UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
}

// DeleteHabit removes a habit. Streaks referencing it stay as history.
func (m *MemoryStorage) DeleteHabit(ctx context.Context, id primitive.ObjectID) (*DeleteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	habit, ok := m.habits[id]
	if !ok {
		return nil, fmt.Errorf("no habit found to delete: %w", models.ErrNotFound)
	}
	delete(m.habits, id)
	m.notify("delete", habit.UserID, id)
	return &DeleteResult{DeletedCount: 1}, nil
}

// AddStreak stores a new streak.
func (m *MemoryStorage) AddStreak(ctx context.Context, streak *models.Streak) (*models.Streak, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if streak.UserID.IsZero() || streak.HabitID.IsZero() {
		return nil, fmt.Errorf("invalid streak fields: %w", models.ErrValidation)
	}

	streak.ID = primitive.NewObjectID()
	stored := *streak
	m.streaks[streak.ID] = &stored
	return streak, nil
}

// FindStreak returns the active streak for a (user, habit) pair: the one
// with the most recent last-performed day.
func (m *MemoryStorage) FindStreak(ctx context.Context, userID, habitID primitive.ObjectID) (*models.Streak, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var newest *models.Streak
	for _, streak := range m.streaks {
		if streak.UserID != userID || streak.HabitID != habitID {
			continue
		}
		if newest == nil || streak.LastDayPerformed.After(newest.LastDayPerformed) {
			newest = streak
		}
	}
	if newest == nil {
		return nil, fmt.Errorf("finding streak: %w", models.ErrNotFound)
	}
	found := *newest
	return &found, nil
}

// FindStreaksByUser returns all streaks owned by the user, history included.
func (m *MemoryStorage) FindStreaksByUser(ctx context.Context, userID primitive.ObjectID) ([]models.Streak, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var streaks []models.Streak
	for _, streak := range m.streaks {
		if streak.UserID == userID {
			streaks = append(streaks, *streak)
		}
	}
	sort.Slice(streaks, func(i, j int) bool {
		return streaks[i].ID.Hex() < streaks[j].ID.Hex()
	})
	return streaks, nil
}

// UpdateStreak replaces a stored streak record.
func (m *MemoryStorage) UpdateStreak(ctx context.Context, streak *models.Streak) (*UpdateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.streaks[streak.ID]; !ok {
		return nil, fmt.Errorf("no streak found to update: %w", models.ErrNotFound)
	}
	stored := *streak
	m.streaks[streak.ID] = &stored
	return &UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
}

// WatchHabits returns a channel receiving change events for the user's
// habits. The channel closes when ctx is done.
func (m *MemoryStorage) WatchHabits(ctx context.Context, userID primitive.ObjectID) (<-chan ChangeEvent, error) {
	m.mu.Lock()
	events := make(chan ChangeEvent, 16)
	m.watchers = append(m.watchers, memoryWatcher{
		userID: userID,
		events: events,
		done:   ctx.Done(),
	})
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		for i, w := range m.watchers {
			if w.events == events {
				m.watchers = append(m.watchers[:i], m.watchers[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
		close(events)
	}()

	return events, nil
}
