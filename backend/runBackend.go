package backend

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/maxelsson/habitkeep/backend/habit"
	"github.com/maxelsson/habitkeep/backend/models"
	"github.com/maxelsson/habitkeep/backend/notify"
	"github.com/maxelsson/habitkeep/backend/queue"
	"github.com/maxelsson/habitkeep/backend/server"
	"github.com/maxelsson/habitkeep/backend/server/auth"
	storage "github.com/maxelsson/habitkeep/backend/storage/persistent"
	"github.com/maxelsson/habitkeep/backend/streak"
)

// runReminderScanner periodically finds habits that are due with
// notifications enabled and enqueues one reminder message per habit.
// Duplicate enqueues across runs are deduped on the consumer side.
func runReminderScanner(ctx context.Context, store storage.StorageInterface, reminderQueue *queue.Queue, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	scan := func() {
		now := time.Now()
		dueHabits, err := store.FindHabitsNeedingReminder(ctx, now)
		if err != nil {
			log.Printf("reminder scan failed: %v", err)
			return
		}

		var reminders []queue.DueHabit
		for _, h := range dueHabits {
			user, err := store.FindUser(ctx, h.UserID)
			if err != nil {
				if !errors.Is(err, models.ErrNotFound) {
					log.Printf("reminder scan: looking up user %s: %v", h.UserID.Hex(), err)
				}
				continue
			}
			reminders = append(reminders, queue.DueHabit{
				ID:        h.ID.Hex(),
				Name:      h.Name,
				UserEmail: user.Email,
			})
		}
		queue.EnqueueDueReminders(reminderQueue, reminders, now)
	}

	scan()
	for {
		select {
		case <-ticker.C:
			scan()
		case <-ctx.Done():
			return
		}
	}
}

// RunBackend is the main function that sets up and runs the backend server.
func RunBackend() {

	// Load the .env file.
	err := godotenv.Load("backend/.env")
	if err != nil {
		fmt.Println("Error loading .env file")
	}

	// Read the environment variables from the .env file using os.Getenv.
	signingKey := os.Getenv("JWT_SIGNING_KEY") // JWT signing key for token generation
	serverURL := os.Getenv("SERVER_URL")       // The URL where the server is running
	dbURI := os.Getenv("MONGODB_URI")          // MongoDB database URI
	dbName := os.Getenv("DB_NAME")             // The name of the MongoDB database
	redisURL := os.Getenv("REDIS_URL")         // The Redis URL for the reminder dedupe and calendar cache
	rabbitMQURL := os.Getenv("RABBITMQ_URL")   // The URL for the RabbitMQ message broker
	smtpHost := os.Getenv("SMTP_HOST")         // SMTP server for reminder emails; empty logs reminders instead
	smtpEmail := os.Getenv("SMTP_EMAIL")       // The email address reminders are sent from
	smtpPassword := os.Getenv("SMTP_PASS")     // The password for the sender account
	numReminderProducers := 1                  // The number of reminder producers
	numReminderConsumers := 2                  // The number of reminder consumers
	ctx := context.Background()                // Create a new context

	// Initialize the persistent storage
	store, err := storage.NewStorage(dbName, dbURI)
	if err != nil {
		log.Fatalf("error initializing storage: %v", err)
	}

	// Initialize the cache shared by the reminder pipeline and the calendar views
	reminderCache := queue.InitReminderCache(redisURL)

	// Reminders go out by email when SMTP is configured, to the log otherwise
	var notifier notify.Notifier = notify.LogNotifier{}
	if smtpHost != "" {
		n, err := notify.NewSMTPNotifier(smtpHost, 587, smtpEmail, smtpPassword)
		if err != nil {
			log.Fatalf("error initializing SMTP notifier: %v", err)
		}
		notifier = n
	}

	// Build the reminder queue using the RabbitMQ URL
	reminderQueue := queue.BuildReminderQueue(rabbitMQURL, numReminderProducers, numReminderConsumers, reminderCache, notifier)

	// Start the queue consumers
	_, err = reminderQueue.StartConsumers(ctx)
	if err != nil {
		log.Fatal("error starting queue consumers: ", err)
	}

	// Scan for due habits once an hour
	go runReminderScanner(ctx, store, reminderQueue, time.Hour)

	// Wire the engine: streak engine over store + cache, habit service on top
	streakEngine := streak.NewEngine(store, reminderCache)
	habitService := habit.NewService(store, streakEngine)

	// Initialize the authentication service with the shared store
	auth.InitAuth(store, signingKey)

	// Start the core server
	go server.Start(serverURL, signingKey, habitService, streakEngine)

	// Setting up the signal interrupt handler to gracefully shutdown our server
	sigs := make(chan os.Signal, 1)

	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigs
		fmt.Println()
		fmt.Println(sig)
		if err := store.Disconnect(); err != nil {
			log.Printf("error disconnecting storage: %v", err)
		}
		os.Exit(0)
	}()

	select {}
}
