package review

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("review: not found")

const reviewColumns = `id, driver_id, reviewer_id, rating, comment, is_positive, status, created_at, updated_at`

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Upsert writes the review, replacing any earlier one by the same reviewer
// for the same driver. The replaced review loses its moderation outcome and
// re-enters the pending queue.
func (r *PGRepository) Upsert(ctx context.Context, reviewerID string, p SubmitParams) (Review, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO driver_reviews (driver_id, reviewer_id, rating, comment, is_positive, status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
		ON CONFLICT (reviewer_id, driver_id) DO UPDATE
		SET rating = EXCLUDED.rating,
		    comment = EXCLUDED.comment,
		    is_positive = EXCLUDED.is_positive,
		    status = 'pending',
		    updated_at = now()
		RETURNING `+reviewColumns,
		p.DriverID, reviewerID, p.Rating, p.Comment, p.IsPositive)
	return scanReview(row)
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Review, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+reviewColumns+` FROM driver_reviews WHERE id = $1`, id)
	rv, err := scanReview(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Review{}, ErrNotFound
	}
	return rv, err
}

// SetStatus applies a moderation decision.
func (r *PGRepository) SetStatus(ctx context.Context, id string, status Status) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE driver_reviews SET status = $2, updated_at = now() WHERE id = $1`,
		id, status)
	if err != nil {
		return fmt.Errorf("review: set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) ListPending(ctx context.Context) ([]Review, error) {
	return r.queryReviews(ctx, `
		SELECT `+reviewColumns+` FROM driver_reviews
		WHERE status = 'pending'
		ORDER BY created_at`)
}

// ListApprovedForDriver is the public view: only moderated-in reviews show.
func (r *PGRepository) ListApprovedForDriver(ctx context.Context, driverID string) ([]Review, error) {
	return r.queryReviews(ctx, `
		SELECT `+reviewColumns+` FROM driver_reviews
		WHERE driver_id = $1 AND status = 'approved'
		ORDER BY created_at DESC`, driverID)
}

// ListProblematic surfaces approved negative reviews for the staff follow-up
// queue.
func (r *PGRepository) ListProblematic(ctx context.Context) ([]Review, error) {
	return r.queryReviews(ctx, `
		SELECT `+reviewColumns+` FROM driver_reviews
		WHERE status = 'approved' AND (is_positive = false OR rating <= 2)
		ORDER BY updated_at DESC`)
}

// Rating averages the approved reviews only; pending and rejected reviews
// never influence a driver's score.
func (r *PGRepository) Rating(ctx context.Context, driverID string) (DriverRating, error) {
	dr := DriverRating{DriverID: driverID}
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(AVG(rating), 0), COUNT(*)
		FROM driver_reviews
		WHERE driver_id = $1 AND status = 'approved'`, driverID).
		Scan(&dr.Average, &dr.Count)
	if err != nil {
		return DriverRating{}, fmt.Errorf("review: driver rating: %w", err)
	}
	return dr, nil
}

// SharedCompletedRide reports whether the reviewer rode with the driver on a
// ride that actually completed. This gates who may review whom.
func (r *PGRepository) SharedCompletedRide(ctx context.Context, reviewerID, driverID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM ride_bookings b
			JOIN rides rd ON rd.id = b.ride_id
			WHERE b.passenger_id = $1 AND rd.driver_id = $2 AND rd.status = 'completed'
		)`, reviewerID, driverID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("review: shared completed ride: %w", err)
	}
	return exists, nil
}

func (r *PGRepository) queryReviews(ctx context.Context, query string, args ...any) ([]Review, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("review: query: %w", err)
	}
	defer rows.Close()

	var out []Review
	for rows.Next() {
		rv, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("review: scan: %w", err)
		}
		out = append(out, rv)
	}
	return out, rows.Err()
}

func scanReview(row pgx.Row) (Review, error) {
	var rv Review
	err := row.Scan(&rv.ID, &rv.DriverID, &rv.ReviewerID, &rv.Rating, &rv.Comment,
		&rv.IsPositive, &rv.Status, &rv.CreatedAt, &rv.UpdatedAt)
	return rv, err
}
