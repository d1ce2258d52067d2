// Package oracles defines the SQL invariants checked while the stress
// actors run. A row returned by any oracle is a correctness violation.
package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_seat_conservation",
			SQL: `SELECT r.id, r.seats_total, r.seats_available, COUNT(b.id) AS bookings
                  FROM rides r
                  LEFT JOIN ride_bookings b ON b.ride_id = r.id
                  WHERE r.status IN ('pending','in_progress')
                  GROUP BY r.id
                  HAVING r.seats_total - r.seats_available <> COUNT(b.id)`,
		},
		{
			Name: "O2_no_bookings_on_cancelled",
			SQL: `SELECT b.id, b.ride_id FROM ride_bookings b
                  JOIN rides r ON r.id = b.ride_id
                  WHERE r.status = 'cancelled'`,
		},
		{
			Name: "O3_seat_bounds",
			SQL: `SELECT id, seats_available, seats_total FROM rides
                  WHERE seats_available < 0 OR seats_available > seats_total`,
		},
		{
			Name: "O4_negative_credits",
			SQL:  `SELECT id, credits FROM profiles WHERE credits < 0`,
		},
		{
			Name: "O5_duplicate_booking",
			SQL: `SELECT ride_id, passenger_id, COUNT(*) FROM ride_bookings
                  GROUP BY ride_id, passenger_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O6_completed_session_has_key",
			SQL: `SELECT s.id FROM checkout_sessions s
                  WHERE s.status = 'completed'
                    AND NOT EXISTS (SELECT 1 FROM idempotency k WHERE k.key = 'checkout:' || s.id)`,
		},
		{
			Name: "O7_outbox_freshness",
			SQL: `SELECT id, topic, created_at FROM outbox
                  WHERE status = 'pending' AND now() - created_at > interval '5 minutes'`,
		},
	}
}

// Run executes all oracles and returns the first failure, or an empty name
// when every invariant holds.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		if rows.Next() {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
