package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/maxelsson/habitkeep/backend/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DeleteResult represents the result of a deletion operation,
// specifically the count of documents deleted.
type DeleteResult struct {
	DeletedCount int64
}

// UpdateResult represents the result of an update operation,
// specifically the count of documents matched and modified.
type UpdateResult struct {
	MatchedCount  int64
	ModifiedCount int64
}

// ChangeEvent describes a single change observed on the habits collection.
// Op is the operation type reported by the store ("insert", "update",
// "replace", "delete").
type ChangeEvent struct {
	Op      string
	HabitID primitive.ObjectID
}

// StorageInterface defines the set of queries and writes the habit engine
// needs from a persistent storage backend. The streak lookup is modeled as a
// keyed mapping (userID, habitID) -> active streak; uniqueness is enforced by
// querying before writing, with an index backing the lookup.
type StorageInterface interface {
	// Establishes a connection to the storage backend.
	Connect(dbName, uri string) error
	// Disconnects from the storage backend.
	Disconnect() error

	// Adds a new user to the storage backend.
	AddUser(ctx context.Context, user *models.User) (*models.User, error)
	// Finds a user by id.
	FindUser(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	// Finds a user by email address.
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	// Updates an existing user record in place.
	UpdateUser(ctx context.Context, user *models.User) (*models.User, error)
	// Deletes a user and the user's habits. Streaks are intentionally left
	// in place; see the package documentation for the cascade policy.
	DeleteUser(ctx context.Context, id primitive.ObjectID) (*DeleteResult, error)

	// Adds a new refresh token.
	AddRefreshToken(ctx context.Context, token *models.RefreshToken) (*models.RefreshToken, error)
	// Finds a refresh token by its opaque value.
	FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error)
	// Deletes all refresh tokens belonging to a user.
	DeleteRefreshTokens(ctx context.Context, userID primitive.ObjectID) (*DeleteResult, error)

	// Adds a new habit to the storage backend.
	AddHabit(ctx context.Context, habit *models.Habit) (*models.Habit, error)
	// Finds a habit by id.
	FindHabit(ctx context.Context, id primitive.ObjectID) (*models.Habit, error)
	// Finds all habits owned by a user.
	FindHabitsByUser(ctx context.Context, userID primitive.ObjectID) ([]models.Habit, error)
	// Finds habits due on or before the start of the given day.
	FindHabitsDue(ctx context.Context, userID primitive.ObjectID, now time.Time) ([]models.Habit, error)
	// Finds habits whose completion falls on the given calendar day.
	FindHabitsPerformed(ctx context.Context, userID primitive.ObjectID, now time.Time) ([]models.Habit, error)
	// Finds habits across all users that are due on the given day and have
	// notifications enabled. Feeds the reminder pipeline.
	FindHabitsNeedingReminder(ctx context.Context, now time.Time) ([]models.Habit, error)
	// Updates an existing habit record in place.
	UpdateHabit(ctx context.Context, habit *models.Habit) (*UpdateResult, error)
	// Deletes a habit by id. Does not cascade to streaks.
	DeleteHabit(ctx context.Context, id primitive.ObjectID) (*DeleteResult, error)

	// Adds a new streak to the storage backend.
	AddStreak(ctx context.Context, streak *models.Streak) (*models.Streak, error)
	// Finds the active streak for a (user, habit) pair: the one with the
	// most recent last-performed day when historical runs exist.
	FindStreak(ctx context.Context, userID, habitID primitive.ObjectID) (*models.Streak, error)
	// Finds all streaks, historical runs included, owned by a user.
	FindStreaksByUser(ctx context.Context, userID primitive.ObjectID) ([]models.Streak, error)
	// Updates an existing streak record in place.
	UpdateStreak(ctx context.Context, streak *models.Streak) (*UpdateResult, error)

	// WatchHabits subscribes to change notifications for a user's habits so
	// derived lists can stay current. The channel closes when ctx is done.
	WatchHabits(ctx context.Context, userID primitive.ObjectID) (<-chan ChangeEvent, error)
}

// NewStorage creates a new StorageInterface with a MongoDB backend,
// using the provided URI to connect to the MongoDB server.
func NewStorage(dbName, uri string) (StorageInterface, error) {
	storage := NewMongoStorage()
	err := storage.Connect(dbName, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return storage, nil
}
