package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/maxelsson/habitkeep/backend/dateutil"
	"github.com/maxelsson/habitkeep/backend/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStorage is a struct representing a MongoDB storage.
// It provides an interface to perform CRUD operations on the habits, streaks,
// users and refreshTokens collections.
type MongoStorage struct {
	client *mongo.Client
	dbName string
}

// NewMongoStorage creates a new instance of MongoStorage.
// This function doesn't establish a connection to the MongoDB server.
// To connect to the server, use the Connect method of the returned MongoStorage instance.
func NewMongoStorage() *MongoStorage {
	return &MongoStorage{}
}

// wrapStoreErr maps a driver error onto the engine's error categories so that
// callers can classify it with errors.Is.
func wrapStoreErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %v", op, models.ErrStore, err)
}

// Connect establishes a connection to the MongoDB server at the given URI and database name.
// Sets up indexes and unique constraints as necessary.
// Returns an error if any issues are encountered.
func (m *MongoStorage) Connect(dbName, uri string) error {

	// Set a timeout for the connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return fmt.Errorf("error connecting to MongoDB: %v", err)
	}

	m.client = client
	m.dbName = dbName

	// Initializing users collection
	usersCollection := m.client.Database(m.dbName).Collection("users")

	// Create an index on the "email" field. This is to ensure that every user has a unique email.
	// It will also speed up queries on the "email" field
	emailIndexModel := mongo.IndexModel{
		Keys: bson.M{
			"email": 1, // 1 for ascending order
		},
		Options: options.Index().SetUnique(true),
	}

	_, err = usersCollection.Indexes().CreateOne(ctx, emailIndexModel)
	if err != nil {
		return fmt.Errorf("error creating email index: %v", err)
	}

	// Initializing habits collection
	habitsCollection := m.client.Database(m.dbName).Collection("habits")

	// Create an index on the "user_id" field. This will speed up queries on the "user_id" field
	userIdIndexModel := mongo.IndexModel{
		Keys: bson.M{
			"user_id": 1, // 1 for ascending order
		},
		Options: options.Index(),
	}

	_, err = habitsCollection.Indexes().CreateOne(ctx, userIdIndexModel)
	if err != nil {
		return fmt.Errorf("error creating user_id index: %v", err)
	}

	// Create a compound index on the "user_id" and "name" fields.
	// This will ensure that a user can't have two habits with the same name.
	userIdNameIndexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "user_id", Value: 1}, // 1 for ascending order
			{Key: "name", Value: 1},    // 1 for ascending order
		},
		Options: options.Index().SetUnique(true),
	}

	_, err = habitsCollection.Indexes().CreateOne(ctx, userIdNameIndexModel)
	if err != nil {
		return fmt.Errorf("error creating user_id and name index: %v", err)
	}

	// Create an index on the "next_due" field to back the due-today query.
	nextDueIndexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "user_id", Value: 1},
			{Key: "next_due", Value: 1},
		},
		Options: options.Index(),
	}

	_, err = habitsCollection.Indexes().CreateOne(ctx, nextDueIndexModel)
	if err != nil {
		return fmt.Errorf("error creating next_due index: %v", err)
	}

	// Initializing streaks collection
	streaksCollection := m.client.Database(m.dbName).Collection("streaks")

	// Create a compound index on the "user_id" and "habit_id" fields to back
	// the active-streak lookup. Not unique: broken runs stay as history.
	userIdHabitIdIndexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "user_id", Value: 1},
			{Key: "habit_id", Value: 1},
			{Key: "last_day_performed", Value: -1},
		},
		Options: options.Index(),
	}

	_, err = streaksCollection.Indexes().CreateOne(ctx, userIdHabitIdIndexModel)
	if err != nil {
		return fmt.Errorf("error creating user_id and habit_id index on streaks: %v", err)
	}

	// Initializing refresh tokens collection
	refreshTokensCollection := m.client.Database(m.dbName).Collection("refreshTokens")

	_, err = refreshTokensCollection.Indexes().CreateOne(ctx, userIdIndexModel)
	if err != nil {
		return fmt.Errorf("error creating user_id index: %v", err)
	}

	// Create an index on the "token" field. This will speed up queries on the "token" field
	tokenIndexModel := mongo.IndexModel{
		Keys: bson.M{
			"token": 1, // 1 for ascending order
		},
		Options: options.Index(),
	}

	_, err = refreshTokensCollection.Indexes().CreateOne(ctx, tokenIndexModel)
	if err != nil {
		return fmt.Errorf("error creating token index: %v", err)
	}

	return nil
}

// Disconnect closes the connection to the MongoDB server.
// It should be called when the MongoStorage instance is no longer needed.
// Returns an error if the disconnection process fails.
func (m *MongoStorage) Disconnect() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := m.client.Disconnect(ctx)
	if err != nil {
		return fmt.Errorf("error disconnecting from MongoDB: %v", err)
	}

	return nil
}

// AddUser adds a new user document to the 'users' collection.
// Returns the added user instance and an error if the insert operation fails.
func (m *MongoStorage) AddUser(ctx context.Context, user *models.User) (*models.User, error) {
	collection := m.client.Database(m.dbName).Collection("users")
	result, err := collection.InsertOne(ctx, user)
	if err != nil {
		if writeException, ok := err.(mongo.WriteException); ok {
			for _, writeError := range writeException.WriteErrors {
				if writeError.Code == 11000 {
					return nil, fmt.Errorf("a user with the email '%s' already exists: %w", user.Email, models.ErrValidation)
				}
			}
		}
		return nil, wrapStoreErr("adding user", err)
	}

	user.ID = result.InsertedID.(primitive.ObjectID)
	return user, nil
}

// FindUser finds a user document in the 'users' collection by id.
// Returns the found user as a User instance and an error if the find operation fails.
func (m *MongoStorage) FindUser(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	collection := m.client.Database(m.dbName).Collection("users")
	result := collection.FindOne(ctx, bson.M{"_id": id})
	user := &models.User{}
	if err := result.Decode(user); err != nil {
		return nil, wrapStoreErr("finding user", err)
	}
	return user, nil
}

// FindUserByEmail finds a user document in the 'users' collection by email address.
func (m *MongoStorage) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	collection := m.client.Database(m.dbName).Collection("users")
	result := collection.FindOne(ctx, bson.M{"email": email})
	user := &models.User{}
	if err := result.Decode(user); err != nil {
		return nil, wrapStoreErr("finding user by email", err)
	}
	return user, nil
}

// UpdateUser replaces a user document in the 'users' collection.
// Returns the updated user and an error if the update operation fails.
func (m *MongoStorage) UpdateUser(ctx context.Context, user *models.User) (*models.User, error) {
	collection := m.client.Database(m.dbName).Collection("users")
	result, err := collection.ReplaceOne(ctx, bson.M{"_id": user.ID}, user)
	if err != nil {
		return nil, wrapStoreErr("updating user", err)
	}
	if result.MatchedCount == 0 {
		return nil, fmt.Errorf("no user found to update: %w", models.ErrNotFound)
	}
	return user, nil
}

// DeleteUser deletes a user document from the 'users' collection together
// with the user's habits and refresh tokens. Streak documents are left in
// place; the engine never cascades habit deletion into streak history.
func (m *MongoStorage) DeleteUser(ctx context.Context, id primitive.ObjectID) (*DeleteResult, error) {
	collection := m.client.Database(m.dbName).Collection("users")
	userResult := collection.FindOne(ctx, bson.M{"_id": id})
	if err := userResult.Err(); err != nil {
		return nil, wrapStoreErr("deleting user", err)
	}

	_, err := m.client.Database(m.dbName).Collection("habits").DeleteMany(ctx, bson.M{"user_id": id})
	if err != nil {
		return nil, wrapStoreErr("deleting user habits", err)
	}
	_, err = m.client.Database(m.dbName).Collection("refreshTokens").DeleteMany(ctx, bson.M{"user_id": id})
	if err != nil {
		return nil, wrapStoreErr("deleting user refresh tokens", err)
	}

	result, err := collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return nil, wrapStoreErr("deleting user", err)
	}

	return &DeleteResult{DeletedCount: result.DeletedCount}, nil
}

// AddRefreshToken adds a refresh token document to the 'refreshTokens' collection.
func (m *MongoStorage) AddRefreshToken(ctx context.Context, token *models.RefreshToken) (*models.RefreshToken, error) {
	collection := m.client.Database(m.dbName).Collection("refreshTokens")
	result, err := collection.InsertOne(ctx, token)
	if err != nil {
		return nil, wrapStoreErr("adding refresh token", err)
	}
	token.ID = result.InsertedID.(primitive.ObjectID)
	return token, nil
}

// FindRefreshToken finds a refresh token document by its opaque token value.
func (m *MongoStorage) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	collection := m.client.Database(m.dbName).Collection("refreshTokens")
	result := collection.FindOne(ctx, bson.M{"token": token})
	refreshToken := &models.RefreshToken{}
	if err := result.Decode(refreshToken); err != nil {
		return nil, wrapStoreErr("finding refresh token", err)
	}
	return refreshToken, nil
}

// DeleteRefreshTokens deletes all refresh tokens belonging to the given user.
func (m *MongoStorage) DeleteRefreshTokens(ctx context.Context, userID primitive.ObjectID) (*DeleteResult, error) {
	collection := m.client.Database(m.dbName).Collection("refreshTokens")
	result, err := collection.DeleteMany(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, wrapStoreErr("deleting refresh tokens", err)
	}
	return &DeleteResult{DeletedCount: result.DeletedCount}, nil
}

// AddHabit adds a new habit document to the 'habits' collection.
// The habit is provided as a pointer to a Habit instance.
// Returns the added habit instance and an error if the insert operation fails.
func (m *MongoStorage) AddHabit(ctx context.Context, habit *models.Habit) (*models.Habit, error) {
	// Check if the habit has necessary fields
	if habit.Name == "" || !habit.Interval.Valid() || !habit.Category.Valid() || habit.UserID.IsZero() {
		return nil, fmt.Errorf("invalid habit fields: %w", models.ErrValidation)
	}

	// Make sure the owning user exists before adding the habit
	usersCollection := m.client.Database(m.dbName).Collection("users")
	if err := usersCollection.FindOne(ctx, bson.M{"_id": habit.UserID}).Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("no user found with id %s: %w", habit.UserID.Hex(), models.ErrNotFound)
		}
		return nil, wrapStoreErr("adding habit", err)
	}

	habitsCollection := m.client.Database(m.dbName).Collection("habits")
	result, err := habitsCollection.InsertOne(ctx, habit)
	if err != nil {
		if writeException, ok := err.(mongo.WriteException); ok {
			for _, writeError := range writeException.WriteErrors {
				if writeError.Code == 11000 {
					return nil, fmt.Errorf("a habit with the name '%s' already exists for the user: %w", habit.Name, models.ErrValidation)
				}
			}
		}
		return nil, wrapStoreErr("adding habit", err)
	}
	habit.ID = result.InsertedID.(primitive.ObjectID)
	return habit, nil
}

// FindHabit finds a habit document in the 'habits' collection by id.
func (m *MongoStorage) FindHabit(ctx context.Context, id primitive.ObjectID) (*models.Habit, error) {
	collection := m.client.Database(m.dbName).Collection("habits")
	result := collection.FindOne(ctx, bson.M{"_id": id})
	habit := &models.Habit{}
	if err := result.Decode(habit); err != nil {
		return nil, wrapStoreErr("finding habit", err)
	}
	return habit, nil
}

// decodeHabits drains a cursor into a slice of habits. Records with a
// malformed interval or category are logged and excluded from the result
// rather than failing the whole query.
func decodeHabits(ctx context.Context, cursor *mongo.Cursor) ([]models.Habit, error) {
	defer cursor.Close(ctx)

	var habits []models.Habit
	for cursor.Next(ctx) {
		var habit models.Habit
		if err := cursor.Decode(&habit); err != nil {
			log.Printf("skipping undecodable habit document: %v", err)
			continue
		}
		if !habit.Interval.Valid() || !habit.Category.Valid() {
			log.Printf("skipping habit %s with invalid interval or category", habit.ID.Hex())
			continue
		}
		habits = append(habits, habit)
	}
	if err := cursor.Err(); err != nil {
		return nil, wrapStoreErr("reading habits", err)
	}
	return habits, nil
}

// FindHabitsByUser finds all habit documents owned by the given user.
func (m *MongoStorage) FindHabitsByUser(ctx context.Context, userID primitive.ObjectID) ([]models.Habit, error) {
	collection := m.client.Database(m.dbName).Collection("habits")
	cursor, err := collection.Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, wrapStoreErr("finding habits by user", err)
	}
	return decodeHabits(ctx, cursor)
}

// FindHabitsDue finds habits whose next_due falls on or before the start of
// the given day.
func (m *MongoStorage) FindHabitsDue(ctx context.Context, userID primitive.ObjectID, now time.Time) ([]models.Habit, error) {
	collection := m.client.Database(m.dbName).Collection("habits")
	cursor, err := collection.Find(ctx, bson.M{
		"user_id":  userID,
		"next_due": bson.M{"$lte": dateutil.StartOfDay(now)},
	})
	if err != nil {
		return nil, wrapStoreErr("finding due habits", err)
	}
	return decodeHabits(ctx, cursor)
}

// FindHabitsPerformed finds habits whose performed date falls within the
// calendar day of the given time.
func (m *MongoStorage) FindHabitsPerformed(ctx context.Context, userID primitive.ObjectID, now time.Time) ([]models.Habit, error) {
	dayStart := dateutil.StartOfDay(now)
	dayEnd := dateutil.AddDays(dayStart, 1)

	collection := m.client.Database(m.dbName).Collection("habits")
	cursor, err := collection.Find(ctx, bson.M{
		"user_id":   userID,
		"performed": bson.M{"$gte": dayStart, "$lt": dayEnd},
	})
	if err != nil {
		return nil, wrapStoreErr("finding performed habits", err)
	}
	return decodeHabits(ctx, cursor)
}

// FindHabitsNeedingReminder finds habits across all users that are due on or
// before the start of the given day and have notifications enabled.
func (m *MongoStorage) FindHabitsNeedingReminder(ctx context.Context, now time.Time) ([]models.Habit, error) {
	collection := m.client.Database(m.dbName).Collection("habits")
	cursor, err := collection.Find(ctx, bson.M{
		"next_due":          bson.M{"$lte": dateutil.StartOfDay(now)},
		"send_notification": true,
	})
	if err != nil {
		return nil, wrapStoreErr("finding habits needing reminder", err)
	}
	return decodeHabits(ctx, cursor)
}

// UpdateHabit replaces a habit document in the 'habits' collection.
// Returns the result of the update operation and an error if it fails.
func (m *MongoStorage) UpdateHabit(ctx context.Context, habit *models.Habit) (*UpdateResult, error) {
	if !habit.Interval.Valid() || !habit.Category.Valid() {
		return nil, fmt.Errorf("invalid habit fields: %w", models.ErrValidation)
	}

	collection := m.client.Database(m.dbName).Collection("habits")
	result, err := collection.ReplaceOne(ctx, bson.M{"_id": habit.ID}, habit)
	if err != nil {
		return nil, wrapStoreErr("updating habit", err)
	}
	if result.MatchedCount == 0 {
		return nil, fmt.Errorf("no habit found to update: %w", models.ErrNotFound)
	}
	return &UpdateResult{MatchedCount: result.MatchedCount, ModifiedCount: result.ModifiedCount}, nil
}

// DeleteHabit deletes a habit document from the 'habits' collection.
// Streak documents referencing the habit are kept as history.
func (m *MongoStorage) DeleteHabit(ctx context.Context, id primitive.ObjectID) (*DeleteResult, error) {
	collection := m.client.Database(m.dbName).Collection("habits")
	result, err := collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return nil, wrapStoreErr("deleting habit", err)
	}
	if result.DeletedCount == 0 {
		return nil, fmt.Errorf("no habit found to delete: %w", models.ErrNotFound)
	}
	return &DeleteResult{DeletedCount: result.DeletedCount}, nil
}

// AddStreak adds a new streak document to the 'streaks' collection.
func (m *MongoStorage) AddStreak(ctx context.Context, streak *models.Streak) (*models.Streak, error) {
	if streak.UserID.IsZero() || streak.HabitID.IsZero() {
		return nil, fmt.Errorf("invalid streak fields: %w", models.ErrValidation)
	}

	collection := m.client.Database(m.dbName).Collection("streaks")
	result, err := collection.InsertOne(ctx, streak)
	if err != nil {
		return nil, wrapStoreErr("adding streak", err)
	}
	streak.ID = result.InsertedID.(primitive.ObjectID)
	return streak, nil
}

// FindStreak finds the active streak for a (user, habit) pair. When broken
// runs have left historical documents behind, the one with the most recent
// last-performed day wins.
func (m *MongoStorage) FindStreak(ctx context.Context, userID, habitID primitive.ObjectID) (*models.Streak, error) {
	collection := m.client.Database(m.dbName).Collection("streaks")
	opts := options.FindOne().SetSort(bson.D{{Key: "last_day_performed", Value: -1}})
	result := collection.FindOne(ctx, bson.M{"user_id": userID, "habit_id": habitID}, opts)
	streak := &models.Streak{}
	if err := result.Decode(streak); err != nil {
		return nil, wrapStoreErr("finding streak", err)
	}
	return streak, nil
}

// FindStreaksByUser finds all streak documents owned by a user, historical
// runs included. Used by the calendar range view.
func (m *MongoStorage) FindStreaksByUser(ctx context.Context, userID primitive.ObjectID) ([]models.Streak, error) {
	collection := m.client.Database(m.dbName).Collection("streaks")
	cursor, err := collection.Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, wrapStoreErr("finding streaks by user", err)
	}
	defer cursor.Close(ctx)

	var streaks []models.Streak
	for cursor.Next(ctx) {
		var streak models.Streak
		if err := cursor.Decode(&streak); err != nil {
			log.Printf("skipping undecodable streak document: %v", err)
			continue
		}
		if !streak.Interval.Valid() {
			log.Printf("skipping streak %s with invalid interval", streak.ID.Hex())
			continue
		}
		streaks = append(streaks, streak)
	}
	if err := cursor.Err(); err != nil {
		return nil, wrapStoreErr("reading streaks", err)
	}
	return streaks, nil
}

// UpdateStreak replaces a streak document in the 'streaks' collection.
func (m *MongoStorage) UpdateStreak(ctx context.Context, streak *models.Streak) (*UpdateResult, error) {
	collection := m.client.Database(m.dbName).Collection("streaks")
	result, err := collection.ReplaceOne(ctx, bson.M{"_id": streak.ID}, streak)
	if err != nil {
		return nil, wrapStoreErr("updating streak", err)
	}
	if result.MatchedCount == 0 {
		return nil, fmt.Errorf("no streak found to update: %w", models.ErrNotFound)
	}
	return &UpdateResult{MatchedCount: result.MatchedCount, ModifiedCount: result.ModifiedCount}, nil
}

// WatchHabits opens a change stream on the 'habits' collection filtered to
// the given user and forwards change events on the returned channel. The
// stream and channel are closed when ctx is cancelled.
func (m *MongoStorage) WatchHabits(ctx context.Context, userID primitive.ObjectID) (<-chan ChangeEvent, error) {
	collection := m.client.Database(m.dbName).Collection("habits")

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.M{
			"$or": bson.A{
				bson.M{"fullDocument.user_id": userID},
				bson.M{"operationType": "delete"},
			},
		}}},
	}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	stream, err := collection.Watch(ctx, pipeline, opts)
	if err != nil {
		return nil, wrapStoreErr("watching habits", err)
	}

	events := make(chan ChangeEvent)
	go func() {
		defer close(events)
		defer stream.Close(context.Background())

		for stream.Next(ctx) {
			var change struct {
				OperationType string `bson:"operationType"`
				DocumentKey   struct {
					ID primitive.ObjectID `bson:"_id"`
				} `bson:"documentKey"`
			}
			if err := stream.Decode(&change); err != nil {
				log.Printf("failed to decode change event: %v", err)
				continue
			}
			select {
			case events <- ChangeEvent{Op: change.OperationType, HabitID: change.DocumentKey.ID}:
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			log.Printf("habit change stream ended: %v", err)
		}
	}()

	return events, nil
}
