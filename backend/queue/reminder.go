package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/maxelsson/habitkeep/backend/dateutil"
	"github.com/maxelsson/habitkeep/backend/notify"
	cache "github.com/maxelsson/habitkeep/backend/storage/cache"
	"github.com/streadway/amqp"
)

// globalCount is used in the round robin algorithm to assign producers to
// each reminder message.
var globalCount int

// ReminderProducerFactory creates new ReminderProducer instances.
type ReminderProducerFactory struct{}

// ReminderConsumerFactory creates new ReminderConsumer instances.
// It carries the cache used to dedupe reminders and the notifier that
// performs delivery.
type ReminderConsumerFactory struct {
	Cache    cache.CacheInterface
	Notifier notify.Notifier
}

// ReminderProducer manages the connection, channel, and queue of the AMQP
// message producer for habit reminders.
type ReminderProducer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   *amqp.Queue
}

// ReminderConsumer manages the connection, channel, queue, cache and notifier
// of the AMQP message consumer for habit reminders.
type ReminderConsumer struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	queue    *amqp.Queue
	cache    cache.CacheInterface
	notifier notify.Notifier
}

// ReminderMessage is the content of a habit reminder: which habit is due for
// whom, and the calendar day it became due. The broker delivers at least
// once; the DueDay together with the habit id forms the dedupe key, so a user
// gets at most one reminder per habit per day.
type ReminderMessage struct {
	HabitID   string `json:"habit_id"`
	UserEmail string `json:"user_email"`
	HabitName string `json:"habit_name"`
	DueDay    string `json:"due_day"`
}

// dedupeKey identifies one (habit, day) reminder in the cache.
func (m *ReminderMessage) dedupeKey() string {
	return "reminder_" + m.HabitID + "_" + m.DueDay
}

// CreateProducer instantiates a new ReminderProducer bound to the given
// connection, channel, and queue.
func (f *ReminderProducerFactory) CreateProducer(conn *amqp.Connection, ch *amqp.Channel, queue *amqp.Queue) (Producer, error) {
	return &ReminderProducer{
		conn:    conn,
		channel: ch,
		queue:   queue,
	}, nil
}

// CreateConsumer instantiates a new ReminderConsumer bound to the given
// connection, channel, and queue, carrying the factory's cache and notifier.
func (f *ReminderConsumerFactory) CreateConsumer(conn *amqp.Connection, ch *amqp.Channel, queue *amqp.Queue) (Consumer, error) {
	return &ReminderConsumer{
		conn:     conn,
		channel:  ch,
		queue:    queue,
		cache:    f.Cache,
		notifier: f.Notifier,
	}, nil
}

// Publish publishes the given message body to the reminder queue.
func (rp *ReminderProducer) Publish(body []byte) error {
	err := rp.channel.Publish(
		"",            // exchange
		rp.queue.Name, // routing key
		false,         // mandatory
		false,         // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		})
	if err != nil {
		return fmt.Errorf("failed to publish a message: %w", err)
	}

	return nil
}

// Consume sets up a consumer on the reminder queue and launches a goroutine
// that reads from it until ctx is done. Each message is unmarshalled, checked
// against the dedupe cache, and either delivered through the notifier or
// discarded as already handled.
func (rc *ReminderConsumer) Consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	msgs, err := rc.channel.Consume(
		rc.queue.Name,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, err
	}

	go func() {
		for {
			select {
			case d, ok := <-msgs:

				if !ok {
					return
				}

				message := &ReminderMessage{}
				if err := json.Unmarshal(d.Body, message); err != nil {
					log.Printf("failed to unmarshal reminder message: %v", err)
					d.Nack(false, false) // a malformed message never becomes valid, drop it.
					continue
				}

				// Fetch handled state from cache
				var handled bool
				err := rc.cache.Get(ctx, message.dedupeKey(), &handled)
				if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
					log.Printf("error checking cache: %v", err)
					d.Nack(false, true) // requeue the message in case of transient error.
					continue
				}

				if handled {
					d.Ack(false)
					continue
				}

				subject := fmt.Sprintf("Habit due today: %s", message.HabitName)
				body := fmt.Sprintf("Your habit %q has been due since %s. Keep the streak alive!", message.HabitName, message.DueDay)
				if err := rc.notifier.Notify(message.UserEmail, subject, body); err != nil {
					log.Printf("failed to deliver reminder: %v", err)
					d.Nack(false, true) // requeue the message in case of transient error.
				} else {
					d.Ack(false)
					if err := rc.cache.Set(ctx, message.dedupeKey(), true); err != nil {
						log.Printf("failed to set key in cache: %v", err)
					}
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	return msgs, nil
}

// BuildReminderQueue initializes a Queue for habit reminders with the given
// number of producers and consumers, all sharing the dedupe cache and the
// notifier.
func BuildReminderQueue(rabbitMQURL string, numProducers int, numConsumers int, reminderCache cache.CacheInterface, notifier notify.Notifier) *Queue {

	prodFactories := make([]ProducerFactory, numProducers)
	for i := 0; i < numProducers; i++ {
		prodFactories[i] = &ReminderProducerFactory{}
	}

	consFactories := make([]ConsumerFactory, numConsumers)
	for i := 0; i < numConsumers; i++ {
		consFactories[i] = &ReminderConsumerFactory{Cache: reminderCache, Notifier: notifier}
	}

	return InitQueue(rabbitMQURL, "reminderQueue", prodFactories, consFactories)
}

// InitReminderCache initializes the cache used to dedupe reminder messages.
func InitReminderCache(url string) cache.CacheInterface {
	c, err := cache.NewCache(url)
	if err != nil {
		log.Fatalf("Error connecting to cache: %v", err)
	}
	return c
}

// ProcessReminder serializes a reminder message and publishes it onto the
// queue using one of the producers in a round-robin manner.
func ProcessReminder(msg *ReminderMessage, reminderQueue *Queue) error {

	body, err := json.Marshal(msg)
	if err != nil {
		return errors.New("failed to marshal reminder message: " + err.Error())
	}

	producerCount := len(reminderQueue.Producers)
	if producerCount == 0 {
		return errors.New("no producers available")
	}

	producer := reminderQueue.Producers[globalCount%producerCount]
	globalCount++

	if err := producer.Publish(body); err != nil {
		return errors.New("failed to publish reminder message: " + err.Error())
	}

	return nil
}

// EnqueueDueReminders publishes one reminder for every habit that is due on
// the given day and has notifications enabled. Dedupe happens on the consumer
// side, so calling this more than once per day is harmless.
func EnqueueDueReminders(reminderQueue *Queue, habits []DueHabit, day time.Time) {
	dueDay := dateutil.DayKey(day)
	for _, h := range habits {
		msg := &ReminderMessage{
			HabitID:   h.ID,
			UserEmail: h.UserEmail,
			HabitName: h.Name,
			DueDay:    dueDay,
		}
		if err := ProcessReminder(msg, reminderQueue); err != nil {
			log.Printf("failed to enqueue reminder for habit %s: %v", h.ID, err)
		}
	}
}

// DueHabit is the slice of habit state the reminder pipeline needs.
type DueHabit struct {
	ID        string
	Name      string
	UserEmail string
}
