package vehicle

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = errors.New("vehicle: not found")
	ErrNotOwner = errors.New("vehicle: vehicle belongs to another user")
)

const vehicleColumns = `id, user_id, brand, brand_id, model, color, license_plate,
	seats, energy_type, first_registration_date, created_at`

// Repository persists vehicles, driver preferences and the brand list.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create registers a vehicle for the user, resolving the brand against the
// curated list when the name matches.
func (r *Repository) Create(ctx context.Context, v Vehicle) (Vehicle, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO vehicles (user_id, brand, brand_id, model, color, license_plate,
			seats, energy_type, first_registration_date)
		VALUES ($1, $2,
			(SELECT id FROM brands WHERE lower(name) = lower($2)),
			$3, $4, $5, $6, $7, $8)
		RETURNING `+vehicleColumns,
		v.UserID, v.Brand, v.Model, v.Color, v.LicensePlate,
		v.Seats, v.EnergyType, v.FirstRegistrationDate)
	return scanVehicle(row)
}

func (r *Repository) GetByID(ctx context.Context, id string) (Vehicle, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE id = $1`, id)
	v, err := scanVehicle(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Vehicle{}, ErrNotFound
	}
	if err != nil {
		return Vehicle{}, fmt.Errorf("vehicle: query by id: %w", err)
	}
	return v, nil
}

func (r *Repository) ListByUser(ctx context.Context, userID string) ([]Vehicle, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+vehicleColumns+` FROM vehicles
		WHERE user_id = $1
		ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("vehicle: list: %w", err)
	}
	defer rows.Close()

	var out []Vehicle
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, fmt.Errorf("vehicle: scan: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Delete removes the user's own vehicle. Deleting someone else's vehicle is
// reported as ErrNotOwner rather than silently doing nothing.
func (r *Repository) Delete(ctx context.Context, userID, vehicleID string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM vehicles WHERE id = $1 AND user_id = $2`, vehicleID, userID)
	if err != nil {
		return fmt.Errorf("vehicle: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM vehicles WHERE id = $1)`, vehicleID).Scan(&exists); err != nil {
			return fmt.Errorf("vehicle: delete probe: %w", err)
		}
		if exists {
			return ErrNotOwner
		}
		return ErrNotFound
	}
	return nil
}

// UpsertPreferences replaces the driver's standing preferences.
func (r *Repository) UpsertPreferences(ctx context.Context, p Preferences) (Preferences, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO driver_preferences (user_id, smoking_allowed, pets_allowed, custom_preferences)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET smoking_allowed = EXCLUDED.smoking_allowed,
		    pets_allowed = EXCLUDED.pets_allowed,
		    custom_preferences = EXCLUDED.custom_preferences
		RETURNING id, user_id, smoking_allowed, pets_allowed, custom_preferences, created_at`,
		p.UserID, p.SmokingAllowed, p.PetsAllowed, p.CustomPreferences)
	var out Preferences
	err := row.Scan(&out.ID, &out.UserID, &out.SmokingAllowed, &out.PetsAllowed,
		&out.CustomPreferences, &out.CreatedAt)
	if err != nil {
		return Preferences{}, fmt.Errorf("vehicle: upsert preferences: %w", err)
	}
	return out, nil
}

func (r *Repository) GetPreferences(ctx context.Context, userID string) (Preferences, error) {
	var p Preferences
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, smoking_allowed, pets_allowed, custom_preferences, created_at
		FROM driver_preferences WHERE user_id = $1`, userID).
		Scan(&p.ID, &p.UserID, &p.SmokingAllowed, &p.PetsAllowed, &p.CustomPreferences, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Preferences{}, ErrNotFound
	}
	if err != nil {
		return Preferences{}, fmt.Errorf("vehicle: get preferences: %w", err)
	}
	return p, nil
}

// ListBrands returns the curated brand list ordered by name.
func (r *Repository) ListBrands(ctx context.Context) ([]Brand, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name FROM brands ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("vehicle: list brands: %w", err)
	}
	defer rows.Close()

	var out []Brand
	for rows.Next() {
		var b Brand
		if err := rows.Scan(&b.ID, &b.Name); err != nil {
			return nil, fmt.Errorf("vehicle: scan brand: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanVehicle(row pgx.Row) (Vehicle, error) {
	var v Vehicle
	err := row.Scan(&v.ID, &v.UserID, &v.Brand, &v.BrandID, &v.Model, &v.Color,
		&v.LicensePlate, &v.Seats, &v.EnergyType, &v.FirstRegistrationDate, &v.CreatedAt)
	return v, err
}
