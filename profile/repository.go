package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ecoride/auth"
)

var (
	// ErrNotFound signals the requested profile does not exist.
	ErrNotFound = errors.New("profile: not found")
	// ErrInsufficientCredits signals a debit would drive the balance negative.
	ErrInsufficientCredits = errors.New("profile: insufficient credits")
)

// Repository provides access to profiles and their credit balances.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const profileColumns = `id, email, name, phone, photo, role, credits, created_at, updated_at`

// GetByID fetches a profile by its primary key.
func (r *Repository) GetByID(ctx context.Context, id string) (Profile, error) {
	query := fmt.Sprintf(`SELECT %s FROM profiles WHERE id = $1`, profileColumns)

	p, err := scanProfile(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("profile: query by id: %w", err)
	}
	return p, nil
}

// Update applies the non-nil fields and returns the refreshed profile.
func (r *Repository) Update(ctx context.Context, id string, params UpdateParams) (Profile, error) {
	query := fmt.Sprintf(`
		UPDATE profiles
		SET name  = COALESCE($2, name),
		    phone = COALESCE($3, phone),
		    photo = COALESCE($4, photo),
		    role  = COALESCE($5, role),
		    updated_at = now()
		WHERE id = $1
		RETURNING %s
	`, profileColumns)

	var role *string
	if params.Role != nil {
		s := string(*params.Role)
		role = &s
	}

	p, err := scanProfile(r.pool.QueryRow(ctx, query, id, params.Name, params.Phone, params.Photo, role))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("profile: update: %w", err)
	}
	return p, nil
}

// DebitCreditsTx atomically deducts amount from the balance inside the
// caller's transaction. The conditional update is the concurrency guard: a
// concurrent debit that would drive the balance negative affects zero rows
// and maps to ErrInsufficientCredits.
func DebitCreditsTx(ctx context.Context, tx pgx.Tx, userID string, amount int) error {
	if amount < 0 {
		return fmt.Errorf("profile: negative debit amount %d", amount)
	}
	if amount == 0 {
		return nil
	}

	tag, err := tx.Exec(ctx, `
		UPDATE profiles
		SET credits = credits - $2, updated_at = now()
		WHERE id = $1 AND credits >= $2
	`, userID, amount)
	if err != nil {
		return fmt.Errorf("profile: debit credits: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM profiles WHERE id = $1)`, userID).Scan(&exists); err != nil {
			return fmt.Errorf("profile: verify debit target: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrInsufficientCredits
	}
	return nil
}

// RefundCreditsTx adds amount back to the balance inside the caller's
// transaction.
func RefundCreditsTx(ctx context.Context, tx pgx.Tx, userID string, amount int) error {
	if amount < 0 {
		return fmt.Errorf("profile: negative refund amount %d", amount)
	}
	if amount == 0 {
		return nil
	}

	tag, err := tx.Exec(ctx, `
		UPDATE profiles
		SET credits = credits + $2, updated_at = now()
		WHERE id = $1
	`, userID, amount)
	if err != nil {
		return fmt.Errorf("profile: refund credits: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanProfile(row pgx.Row) (Profile, error) {
	var (
		p     Profile
		phone *string
		photo *string
		role  string
	)
	err := row.Scan(&p.ID, &p.Email, &p.Name, &phone, &photo, &role, &p.Credits, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Profile{}, err
	}
	p.Phone = phone
	p.Photo = photo
	p.Role = auth.Role(role)
	return p, nil
}
