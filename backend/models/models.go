package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Interval is the required cadence, in days, between completions of a habit.
type Interval int

const (
	IntervalDaily  Interval = 1
	IntervalWeekly Interval = 7
)

// Days returns the number of days between required completions.
func (i Interval) Days() int {
	return int(i)
}

// Valid reports whether the interval is one of the supported cadences.
func (i Interval) Valid() bool {
	return i == IntervalDaily || i == IntervalWeekly
}

// Category classifies a habit for display and filtering.
type Category string

const (
	CategoryWork     Category = "Work"
	CategoryPersonal Category = "Personal"
)

// Valid reports whether the category is one of the supported values.
func (c Category) Valid() bool {
	return c == CategoryWork || c == CategoryPersonal
}

// Habit is a recurring practice owned by a single user. NextDue is always
// normalized to the start of a calendar day; Performed is nil until the habit
// has been completed for the current cycle.
type Habit struct {
	ID               primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID           primitive.ObjectID `bson:"user_id" json:"user_id"`
	Name             string             `bson:"name" json:"name"`
	Description      string             `bson:"description" json:"description"`
	Category         Category           `bson:"category" json:"category"`
	Interval         Interval           `bson:"interval" json:"interval"`
	LastPerformed    *time.Time         `bson:"last_performed,omitempty" json:"last_performed,omitempty"`
	Performed        *time.Time         `bson:"performed,omitempty" json:"performed,omitempty"`
	NextDue          time.Time          `bson:"next_due" json:"next_due"`
	CurrentStreakID  primitive.ObjectID `bson:"current_streak_id,omitempty" json:"current_streak_id,omitempty"`
	Color            string             `bson:"color" json:"color"`
	SendNotification bool               `bson:"send_notification" json:"send_notification"`
	DateCreated      time.Time          `bson:"date_created" json:"date_created"`
	DateEdited       time.Time          `bson:"date_edited" json:"date_edited"`
}

// Streak records one run of consecutive on-schedule completions of a habit.
// At most one streak per (user, habit) pair is active; older runs are kept as
// history for calendar rendering. Interval and Color are copies of the habit's
// values at the time the streak was created, so a cadence change mid-run can
// be detected.
type Streak struct {
	ID                 primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID             primitive.ObjectID `bson:"user_id" json:"user_id"`
	HabitID            primitive.ObjectID `bson:"habit_id" json:"habit_id"`
	Color              string             `bson:"color" json:"color"`
	FirstDayOfStreak   time.Time          `bson:"first_day_of_streak" json:"first_day_of_streak"`
	LastDayPerformed   time.Time          `bson:"last_day_performed" json:"last_day_performed"`
	CurrentStreakCount int                `bson:"current_streak_count" json:"current_streak_count"`
	Interval           Interval           `bson:"interval" json:"interval"`
}

// User is a profile record. The engine only ever reads it; registration and
// sign-in are handled by the auth package.
type User struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name            string             `bson:"name" json:"name"`
	Email           string             `bson:"email" json:"email"`
	PasswordHash    string             `bson:"password_hash" json:"-"`
	FavouriteQuote  string             `bson:"favourite_quote,omitempty" json:"favourite_quote,omitempty"`
	ProfileImageURL string             `bson:"profile_image_url,omitempty" json:"profile_image_url,omitempty"`
	DateCreated     time.Time          `bson:"date_created" json:"date_created"`
	DateEdited      time.Time          `bson:"date_edited" json:"date_edited"`
}

// RefreshToken stores an issued refresh token so that it can be revoked.
type RefreshToken struct {
	ID     primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID primitive.ObjectID `bson:"user_id" json:"user_id"`
	Token  string             `bson:"token" json:"token"`
	Expiry time.Time          `bson:"expiry" json:"expiry"`
}

// StreakInfo is a single calendar-day display entry produced by the streak
// range view: the habit's name and the color the streak was created with.
type StreakInfo struct {
	Label string `json:"label"`
	Color string `json:"color"`
}
