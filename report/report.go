// Package report produces the admin dashboard aggregates.
package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"ecoride/auth"
)

var ErrNotAdmin = errors.New("report: operation requires admin role")

// DayCount is one bucket of a per-day aggregate.
type DayCount struct {
	Day   time.Time
	Count int
}

type Service struct {
	pool *pgxpool.Pool
	// feeCredits is the platform's cut per published ride, used for the
	// earnings aggregate.
	feeCredits int
}

func NewService(pool *pgxpool.Pool, feeCredits int) *Service {
	return &Service{pool: pool, feeCredits: feeCredits}
}

// RidesPerDay counts rides by departure day over the window.
func (s *Service) RidesPerDay(ctx context.Context, actor auth.Actor, from, to time.Time) ([]DayCount, error) {
	if actor.Role != auth.RoleAdmin {
		return nil, ErrNotAdmin
	}
	return s.queryBuckets(ctx, `
		SELECT date_trunc('day', departure_date) AS day, COUNT(*)
		FROM rides
		WHERE departure_date >= $1 AND departure_date < $2
		  AND status <> 'cancelled'
		GROUP BY day
		ORDER BY day`, from, to)
}

// CreditsPerDay sums the platform's posting-fee earnings by the day the ride
// was published. Cancelled rides still count: the fee is not refunded.
func (s *Service) CreditsPerDay(ctx context.Context, actor auth.Actor, from, to time.Time) ([]DayCount, error) {
	if actor.Role != auth.RoleAdmin {
		return nil, ErrNotAdmin
	}
	buckets, err := s.queryBuckets(ctx, `
		SELECT date_trunc('day', created_at) AS day, COUNT(*)
		FROM rides
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY day
		ORDER BY day`, from, to)
	if err != nil {
		return nil, err
	}
	for i := range buckets {
		buckets[i].Count *= s.feeCredits
	}
	return buckets, nil
}

// TotalCredits is the platform's lifetime posting-fee earnings.
func (s *Service) TotalCredits(ctx context.Context, actor auth.Actor) (int, error) {
	if actor.Role != auth.RoleAdmin {
		return 0, ErrNotAdmin
	}
	var rides int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM rides`).Scan(&rides); err != nil {
		return 0, fmt.Errorf("report: total credits: %w", err)
	}
	return rides * s.feeCredits, nil
}

func (s *Service) queryBuckets(ctx context.Context, query string, args ...any) ([]DayCount, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("report: query buckets: %w", err)
	}
	defer rows.Close()

	var out []DayCount
	for rows.Next() {
		var b DayCount
		if err := rows.Scan(&b.Day, &b.Count); err != nil {
			return nil, fmt.Errorf("report: scan bucket: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
