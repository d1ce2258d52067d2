package ride

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ecoride/profile"
)

var (
	ErrNotFound        = errors.New("ride: not found")
	ErrBookingNotFound = errors.New("ride: booking not found")
	ErrAlreadyBooked   = errors.New("ride: passenger already booked on this ride")
	ErrNoSeats         = errors.New("ride: no seats available")
	ErrSessionNotFound = errors.New("ride: checkout session not found")
	ErrDuplicateKey    = errors.New("ride: idempotency key already used")
)

const rideColumns = `id, driver_id, departure_city, arrival_city, departure_date,
	arrival_time, price, seats_total, seats_available, status, description,
	vehicle_brand, vehicle_model, is_electric_car, preferences, created_at, updated_at`

// PGRepository is the Postgres access layer for rides, bookings and checkout
// sessions. Methods suffixed Tx run inside a caller-owned transaction.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) InsertRideTx(ctx context.Context, tx pgx.Tx, id, driverID string, p CreateParams) (Ride, error) {
	row := tx.QueryRow(ctx, `
		INSERT INTO rides (id, driver_id, departure_city, arrival_city, departure_date,
			arrival_time, price, seats_total, seats_available, status, description,
			vehicle_brand, vehicle_model, is_electric_car, preferences)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, 'pending', $9, $10, $11, $12, $13)
		RETURNING `+rideColumns,
		id, driverID, p.DepartureCity, p.ArrivalCity, p.DepartureDate, p.ArrivalTime,
		p.Price, p.Seats, p.Description, p.VehicleBrand, p.VehicleModel,
		p.IsElectricCar, p.Preferences)
	return scanRide(row)
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Ride, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, id)
	rd, err := scanRide(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Ride{}, ErrNotFound
	}
	return rd, err
}

// GetForUpdateTx locks the ride row for the duration of the transaction so
// concurrent seat and status mutations serialize on it.
func (r *PGRepository) GetForUpdateTx(ctx context.Context, tx pgx.Tx, id string) (Ride, error) {
	row := tx.QueryRow(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1 FOR UPDATE`, id)
	rd, err := scanRide(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Ride{}, ErrNotFound
	}
	return rd, err
}

// TransitionStatusTx moves the ride from one status to another. It reports
// false when the ride was no longer in the expected source status.
func (r *PGRepository) TransitionStatusTx(ctx context.Context, tx pgx.Tx, id string, from, to Status) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE rides SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return false, fmt.Errorf("ride: transition status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DecrementSeatTx takes one seat if, and only if, one is still free. The
// guard lives in the statement itself so two concurrent bookings can never
// both succeed on the last seat.
func (r *PGRepository) DecrementSeatTx(ctx context.Context, tx pgx.Tx, id string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE rides SET seats_available = seats_available - 1, updated_at = now()
		WHERE id = $1 AND seats_available > 0`, id)
	if err != nil {
		return fmt.Errorf("ride: decrement seat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoSeats
	}
	return nil
}

func (r *PGRepository) IncrementSeatTx(ctx context.Context, tx pgx.Tx, id string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE rides SET seats_available = seats_available + 1, updated_at = now()
		WHERE id = $1 AND seats_available < seats_total`, id)
	if err != nil {
		return fmt.Errorf("ride: increment seat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ride: increment seat: ride %s missing or already full", id)
	}
	return nil
}

func (r *PGRepository) InsertBookingTx(ctx context.Context, tx pgx.Tx, rideID, passengerID string) (Booking, error) {
	var b Booking
	err := tx.QueryRow(ctx, `
		INSERT INTO ride_bookings (ride_id, passenger_id)
		VALUES ($1, $2)
		RETURNING id, ride_id, passenger_id, created_at`,
		rideID, passengerID).Scan(&b.ID, &b.RideID, &b.PassengerID, &b.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Booking{}, ErrAlreadyBooked
		}
		return Booking{}, fmt.Errorf("ride: insert booking: %w", err)
	}
	return b, nil
}

func (r *PGRepository) DeleteBookingTx(ctx context.Context, tx pgx.Tx, rideID, passengerID string) error {
	tag, err := tx.Exec(ctx, `
		DELETE FROM ride_bookings WHERE ride_id = $1 AND passenger_id = $2`,
		rideID, passengerID)
	if err != nil {
		return fmt.Errorf("ride: delete booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBookingNotFound
	}
	return nil
}

func (r *PGRepository) BookingsForRideTx(ctx context.Context, tx pgx.Tx, rideID string) ([]Booking, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, ride_id, passenger_id, created_at
		FROM ride_bookings WHERE ride_id = $1
		ORDER BY created_at`, rideID)
	if err != nil {
		return nil, fmt.Errorf("ride: list bookings: %w", err)
	}
	defer rows.Close()

	var out []Booking
	for rows.Next() {
		var b Booking
		if err := rows.Scan(&b.ID, &b.RideID, &b.PassengerID, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("ride: scan booking: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *PGRepository) DeleteBookingsTx(ctx context.Context, tx pgx.Tx, rideID string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM ride_bookings WHERE ride_id = $1`, rideID); err != nil {
		return fmt.Errorf("ride: delete bookings: %w", err)
	}
	return nil
}

func (r *PGRepository) HasBooking(ctx context.Context, rideID, passengerID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM ride_bookings WHERE ride_id = $1 AND passenger_id = $2)`,
		rideID, passengerID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ride: has booking: %w", err)
	}
	return exists, nil
}

func (r *PGRepository) DebitCreditsTx(ctx context.Context, tx pgx.Tx, userID string, amount int) error {
	return profile.DebitCreditsTx(ctx, tx, userID, amount)
}

func (r *PGRepository) RefundCreditsTx(ctx context.Context, tx pgx.Tx, userID string, amount int) error {
	return profile.RefundCreditsTx(ctx, tx, userID, amount)
}

// InsertIdempotencyKeyTx reserves a one-shot key inside the transaction. A
// duplicate means the same confirmation already committed, so the caller
// replays as a no-op.
func (r *PGRepository) InsertIdempotencyKeyTx(ctx context.Context, tx pgx.Tx, key string) error {
	_, err := tx.Exec(ctx, `INSERT INTO idempotency (key) VALUES ($1)`, key)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateKey
		}
		return fmt.Errorf("ride: insert idempotency key: %w", err)
	}
	return nil
}

func (r *PGRepository) CreateSession(ctx context.Context, s CheckoutSession) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO checkout_sessions (id, ride_id, passenger_id, amount, status)
		VALUES ($1, $2, $3, $4, $5)`,
		s.ID, s.RideID, s.PassengerID, s.Amount, s.Status)
	if err != nil {
		return fmt.Errorf("ride: create checkout session: %w", err)
	}
	return nil
}

func (r *PGRepository) GetSession(ctx context.Context, id string) (CheckoutSession, error) {
	var s CheckoutSession
	err := r.pool.QueryRow(ctx, `
		SELECT id, ride_id, passenger_id, amount, status, created_at, updated_at
		FROM checkout_sessions WHERE id = $1`, id).
		Scan(&s.ID, &s.RideID, &s.PassengerID, &s.Amount, &s.Status, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return CheckoutSession{}, ErrSessionNotFound
	}
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("ride: get checkout session: %w", err)
	}
	return s, nil
}

func (r *PGRepository) MarkSessionTx(ctx context.Context, tx pgx.Tx, id, status string) error {
	_, err := tx.Exec(ctx, `
		UPDATE checkout_sessions SET status = $2, updated_at = now() WHERE id = $1`,
		id, status)
	if err != nil {
		return fmt.Errorf("ride: mark checkout session: %w", err)
	}
	return nil
}

// MarkSessionRequiresRefund runs outside any transaction: it must survive the
// rollback of the booking attempt it describes.
func (r *PGRepository) MarkSessionRequiresRefund(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE checkout_sessions SET status = 'requires_refund', updated_at = now()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ride: mark session requires_refund: %w", err)
	}
	return nil
}

// Search returns bookable rides matching the filters, soonest departure
// first. Cancelled and fully booked rides never appear.
func (r *PGRepository) Search(ctx context.Context, f SearchFilters) ([]Ride, error) {
	query := `SELECT ` + rideColumns + ` FROM rides
		WHERE status = 'pending' AND seats_available > 0`
	args := []any{}
	n := 0
	add := func(clause string, v any) {
		n++
		args = append(args, v)
		query += fmt.Sprintf(" AND "+clause, n)
	}
	if f.DepartureCity != "" {
		add("departure_city ILIKE $%d", f.DepartureCity)
	}
	if f.ArrivalCity != "" {
		add("arrival_city ILIKE $%d", f.ArrivalCity)
	}
	if !f.Date.IsZero() {
		day := f.Date.Truncate(24 * time.Hour)
		add("departure_date >= $%d", day)
		add("departure_date < $%d", day.Add(24*time.Hour))
	}
	if !f.After.IsZero() {
		add("departure_date >= $%d", f.After)
	}
	query += " ORDER BY departure_date"
	if f.Limit > 0 {
		n++
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", n)
	}
	return r.queryRides(ctx, query, args...)
}

// NextDeparture reports the soonest future departure on a route that has no
// bookable ride on the requested day, for "try this date instead" responses.
func (r *PGRepository) NextDeparture(ctx context.Context, departureCity, arrivalCity string, after time.Time) (*time.Time, error) {
	var next time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT departure_date FROM rides
		WHERE status = 'pending' AND seats_available > 0
		  AND departure_city ILIKE $1 AND arrival_city ILIKE $2
		  AND departure_date >= $3
		ORDER BY departure_date
		LIMIT 1`, departureCity, arrivalCity, after).Scan(&next)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ride: next departure: %w", err)
	}
	return &next, nil
}

func (r *PGRepository) ListByDriver(ctx context.Context, driverID string) ([]Ride, error) {
	return r.queryRides(ctx, `
		SELECT `+rideColumns+` FROM rides
		WHERE driver_id = $1
		ORDER BY departure_date DESC`, driverID)
}

// ListByPassenger returns the rides the passenger currently holds a booking
// on. Cancelled rides drop out because cancellation deletes the bookings.
func (r *PGRepository) ListByPassenger(ctx context.Context, passengerID string) ([]Ride, error) {
	return r.queryRides(ctx, `
		SELECT `+rideColumnsPrefixed("r")+` FROM rides r
		JOIN ride_bookings b ON b.ride_id = r.id
		WHERE b.passenger_id = $1
		ORDER BY r.departure_date DESC`, passengerID)
}

func (r *PGRepository) queryRides(ctx context.Context, query string, args ...any) ([]Ride, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ride: query rides: %w", err)
	}
	defer rows.Close()

	var out []Ride
	for rows.Next() {
		rd, err := scanRide(rows)
		if err != nil {
			return nil, fmt.Errorf("ride: scan ride: %w", err)
		}
		out = append(out, rd)
	}
	return out, rows.Err()
}

func scanRide(row pgx.Row) (Ride, error) {
	var rd Ride
	err := row.Scan(&rd.ID, &rd.DriverID, &rd.DepartureCity, &rd.ArrivalCity,
		&rd.DepartureDate, &rd.ArrivalTime, &rd.Price, &rd.SeatsTotal,
		&rd.SeatsAvailable, &rd.Status, &rd.Description, &rd.VehicleBrand,
		&rd.VehicleModel, &rd.IsElectricCar, &rd.Preferences, &rd.CreatedAt, &rd.UpdatedAt)
	return rd, err
}

func rideColumnsPrefixed(alias string) string {
	return alias + `.id, ` + alias + `.driver_id, ` + alias + `.departure_city, ` +
		alias + `.arrival_city, ` + alias + `.departure_date, ` + alias + `.arrival_time, ` +
		alias + `.price, ` + alias + `.seats_total, ` + alias + `.seats_available, ` +
		alias + `.status, ` + alias + `.description, ` + alias + `.vehicle_brand, ` +
		alias + `.vehicle_model, ` + alias + `.is_electric_car, ` + alias + `.preferences, ` +
		alias + `.created_at, ` + alias + `.updated_at`
}
