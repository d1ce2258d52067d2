// Package outbox implements a transactional outbox: domain events are written
// in the same transaction as the state change they announce, and a relay
// publishes them to the message broker after commit. A failed publish never
// undoes the committed mutation; the message stays pending and is retried.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Topics published by the ride engine.
const (
	TopicRideCancelled = "ride.cancelled"
	TopicRideCompleted = "ride.completed"
)

const maxAttempts = 5

// Message is a pending outbox entry handed to the publisher.
type Message struct {
	ID      string
	Topic   string
	Payload []byte
}

// Publisher delivers a message to the broker. Implementations must be safe
// for repeated delivery of the same message.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Enqueue writes a message inside the caller's transaction.
func Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: marshal payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`, topic, body); err != nil {
		return fmt.Errorf("outbox: enqueue: %w", err)
	}
	return nil
}

// Writer is the value form of Enqueue, for services that take the outbox as
// a dependency.
type Writer struct{}

func (Writer) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	return Enqueue(ctx, tx, topic, payload)
}

// Relay polls pending messages and hands them to the publisher.
type Relay struct {
	pool      *pgxpool.Pool
	publisher Publisher
	interval  time.Duration
	batchSize int
}

// NewRelay builds a relay polling at the given interval.
func NewRelay(pool *pgxpool.Pool, publisher Publisher, interval time.Duration) *Relay {
	if interval <= 0 {
		interval = time.Second
	}
	return &Relay{
		pool:      pool,
		publisher: publisher,
		interval:  interval,
		batchSize: 20,
	}
}

// Run drains the outbox until the context is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.drainOnce(ctx); err != nil {
				log.Printf("outbox: drain: %v", err)
			}
		}
	}
}

// drainOnce claims a batch of pending messages with SKIP LOCKED so concurrent
// relays never double-deliver, publishes them, and marks the outcome.
func (r *Relay) drainOnce(ctx context.Context) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("outbox: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, topic, payload
		FROM outbox
		WHERE status = 'pending'
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, r.batchSize)
	if err != nil {
		return fmt.Errorf("outbox: claim batch: %w", err)
	}

	batch := make([]Message, 0, r.batchSize)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload); err != nil {
			rows.Close()
			return fmt.Errorf("outbox: scan message: %w", err)
		}
		batch = append(batch, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("outbox: iterate batch: %w", err)
	}

	for _, m := range batch {
		if err := r.publisher.Publish(ctx, m.Topic, m.Payload); err != nil {
			log.Printf("outbox: publish %s (%s): %v", m.ID, m.Topic, err)
			if _, err := tx.Exec(ctx, `
				UPDATE outbox
				SET attempts = attempts + 1,
				    status = CASE WHEN attempts + 1 >= $2 THEN 'dead' ELSE 'pending' END,
				    last_attempt = now()
				WHERE id = $1
			`, m.ID, maxAttempts); err != nil {
				return fmt.Errorf("outbox: record failure: %w", err)
			}
			continue
		}
		if _, err := tx.Exec(ctx, `
			UPDATE outbox
			SET status = 'processed', attempts = attempts + 1, last_attempt = now()
			WHERE id = $1
		`, m.ID); err != nil {
			return fmt.Errorf("outbox: mark processed: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("outbox: commit batch: %w", err)
	}
	return nil
}
