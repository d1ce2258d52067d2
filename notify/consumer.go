package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"

	"ecoride/outbox"
)

const emailQueueName = "notify.email"

// RideEvent is the payload shape the lifecycle engine enqueues for
// ride.cancelled and ride.completed.
type RideEvent struct {
	RideID        string    `json:"ride_id"`
	DriverID      string    `json:"driver_id"`
	DepartureCity string    `json:"departure_city"`
	ArrivalCity   string    `json:"arrival_city"`
	DepartureDate time.Time `json:"departure_date"`
	PassengerIDs  []string  `json:"passenger_ids"`
}

// Consumer reads ride events off the email queue and mails every affected
// passenger.
type Consumer struct {
	url    string
	pool   *pgxpool.Pool
	mailer *Mailer
}

func NewConsumer(url string, pool *pgxpool.Pool, mailer *Mailer) *Consumer {
	return &Consumer{url: url, pool: pool, mailer: mailer}
}

// Run consumes until the context is cancelled, reconnecting with backoff
// when the broker drops. A message that cannot be processed is rejected
// without requeue so a poison payload cannot wedge the queue.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := amqp.Dial(c.url)
		if err != nil {
			log.Printf("notify: dial broker: %v; retrying in %s", err, backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		if err := c.consumeLoop(ctx, conn); err != nil {
			conn.Close()
			if errors.Is(err, context.Canceled) {
				return err
			}
			log.Printf("notify: consume loop ended: %v; reconnecting", err)
			time.Sleep(2 * time.Second)
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchangeName, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(emailQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	for _, topic := range []string{outbox.TopicRideCancelled, outbox.TopicRideCompleted} {
		if err := ch.QueueBind(emailQueueName, topic, exchangeName, false, nil); err != nil {
			return fmt.Errorf("bind %s: %w", topic, err)
		}
	}

	msgs, err := ch.Consume(emailQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.handle(ctx, d.RoutingKey, d.Body); err != nil {
				log.Printf("notify: handle %s: %v", d.RoutingKey, err)
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, topic string, body []byte) error {
	var ev RideEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal event: %w", err)
	}

	var subject, text string
	switch topic {
	case outbox.TopicRideCancelled:
		subject = "Your ride was cancelled"
		text = fmt.Sprintf("The ride from %s to %s on %s was cancelled by the driver. Your credits have been refunded.",
			ev.DepartureCity, ev.ArrivalCity, ev.DepartureDate.Format("Mon 2 Jan 2006 15:04"))
	case outbox.TopicRideCompleted:
		subject = "How was your ride?"
		text = fmt.Sprintf("Your ride from %s to %s is complete. Leave your driver a review.",
			ev.DepartureCity, ev.ArrivalCity)
	default:
		return fmt.Errorf("unknown topic %q", topic)
	}

	emails, err := c.passengerEmails(ctx, ev.PassengerIDs)
	if err != nil {
		return err
	}
	for _, email := range emails {
		if err := c.mailer.Send(ctx, email, subject, text); err != nil {
			return fmt.Errorf("send to %s: %w", email, err)
		}
	}
	return nil
}

func (c *Consumer) passengerEmails(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := c.pool.Query(ctx, `SELECT email FROM profiles WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("load passenger emails: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("scan email: %w", err)
		}
		out = append(out, email)
	}
	return out, rows.Err()
}
