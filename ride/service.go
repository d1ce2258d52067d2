package ride

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"ecoride/auth"
	"ecoride/outbox"
)

var (
	ErrNotDriver   = errors.New("ride: actor is not allowed to drive")
	ErrNotOwner    = errors.New("ride: actor does not own this ride")
	ErrConflict    = errors.New("ride: ride state does not allow this operation")
	ErrSelfBooking = errors.New("ride: drivers cannot book their own ride")
	ErrNotBookable = errors.New("ride: ride is not open for booking")
)

// TxBeginner abstracts pgxpool.Pool for transaction-opening callers.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is the persistence surface the lifecycle engine drives. Tx methods
// receive the transaction the service opened; everything inside one service
// call commits or rolls back as a unit.
type Store interface {
	InsertRideTx(ctx context.Context, tx pgx.Tx, id, driverID string, p CreateParams) (Ride, error)
	GetByID(ctx context.Context, id string) (Ride, error)
	GetForUpdateTx(ctx context.Context, tx pgx.Tx, id string) (Ride, error)
	TransitionStatusTx(ctx context.Context, tx pgx.Tx, id string, from, to Status) (bool, error)
	DecrementSeatTx(ctx context.Context, tx pgx.Tx, id string) error
	IncrementSeatTx(ctx context.Context, tx pgx.Tx, id string) error
	InsertBookingTx(ctx context.Context, tx pgx.Tx, rideID, passengerID string) (Booking, error)
	DeleteBookingTx(ctx context.Context, tx pgx.Tx, rideID, passengerID string) error
	BookingsForRideTx(ctx context.Context, tx pgx.Tx, rideID string) ([]Booking, error)
	DeleteBookingsTx(ctx context.Context, tx pgx.Tx, rideID string) error
	HasBooking(ctx context.Context, rideID, passengerID string) (bool, error)
	DebitCreditsTx(ctx context.Context, tx pgx.Tx, userID string, amount int) error
	RefundCreditsTx(ctx context.Context, tx pgx.Tx, userID string, amount int) error
	InsertIdempotencyKeyTx(ctx context.Context, tx pgx.Tx, key string) error
	CreateSession(ctx context.Context, s CheckoutSession) error
	GetSession(ctx context.Context, id string) (CheckoutSession, error)
	MarkSessionTx(ctx context.Context, tx pgx.Tx, id, status string) error
	MarkSessionRequiresRefund(ctx context.Context, id string) error
}

// OutboxWriter enqueues a notification event inside the mutating transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Service implements the ride lifecycle: publish, start, complete, cancel,
// and the two-phase booking flow.
type Service struct {
	pool TxBeginner
	repo Store
	box  OutboxWriter
	pay  CheckoutClient

	// feeCredits is debited from the driver when a ride is published.
	feeCredits int
	idGen      func() string
	now        func() time.Time
}

func NewService(pool TxBeginner, repo Store, box OutboxWriter, pay CheckoutClient, feeCredits int) *Service {
	return &Service{
		pool:       pool,
		repo:       repo,
		box:        box,
		pay:        pay,
		feeCredits: feeCredits,
		idGen:      func() string { return uuid.NewString() },
		now:        time.Now,
	}
}

// Create publishes a new ride, debiting the posting fee from the driver in
// the same transaction as the insert.
func (s *Service) Create(ctx context.Context, actor auth.Actor, p CreateParams) (Ride, error) {
	if !actor.Role.CanDrive() {
		return Ride{}, ErrNotDriver
	}
	if err := p.Validate(s.now()); err != nil {
		return Ride{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Ride{}, fmt.Errorf("ride: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rd, err := s.repo.InsertRideTx(ctx, tx, s.idGen(), actor.ID, p)
	if err != nil {
		return Ride{}, fmt.Errorf("ride: insert: %w", err)
	}
	if s.feeCredits > 0 {
		if err := s.repo.DebitCreditsTx(ctx, tx, actor.ID, s.feeCredits); err != nil {
			return Ride{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Ride{}, fmt.Errorf("ride: commit: %w", err)
	}
	return rd, nil
}

// Start moves the ride from pending to in_progress.
func (s *Service) Start(ctx context.Context, actor auth.Actor, rideID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ride: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rd, err := s.repo.GetForUpdateTx(ctx, tx, rideID)
	if err != nil {
		return err
	}
	if rd.DriverID != actor.ID {
		return ErrNotOwner
	}
	ok, err := s.repo.TransitionStatusTx(ctx, tx, rideID, StatusPending, StatusInProgress)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	return tx.Commit(ctx)
}

// Complete moves the ride from in_progress to completed and enqueues the
// arrival notification for every booked passenger.
func (s *Service) Complete(ctx context.Context, actor auth.Actor, rideID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ride: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rd, err := s.repo.GetForUpdateTx(ctx, tx, rideID)
	if err != nil {
		return err
	}
	if rd.DriverID != actor.ID {
		return ErrNotOwner
	}
	ok, err := s.repo.TransitionStatusTx(ctx, tx, rideID, StatusInProgress, StatusCompleted)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}

	bookings, err := s.repo.BookingsForRideTx(ctx, tx, rideID)
	if err != nil {
		return err
	}
	if len(bookings) > 0 {
		if err := s.box.Enqueue(ctx, tx, outbox.TopicRideCompleted, completionPayload(rd, bookings)); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// Cancel retires the ride and compensates every passenger: each booking is
// refunded at the ride price and removed before the status flips. All of it
// commits atomically, so a crash mid-way leaves nothing half-refunded.
// Cancelling an already cancelled ride is a no-op.
func (s *Service) Cancel(ctx context.Context, actor auth.Actor, rideID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ride: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rd, err := s.repo.GetForUpdateTx(ctx, tx, rideID)
	if err != nil {
		return err
	}
	if rd.DriverID != actor.ID && !actor.Role.IsStaff() {
		return ErrNotOwner
	}
	if rd.Status == StatusCancelled {
		return nil
	}
	if rd.Status == StatusCompleted {
		return ErrConflict
	}

	bookings, err := s.repo.BookingsForRideTx(ctx, tx, rideID)
	if err != nil {
		return err
	}
	for _, b := range bookings {
		if err := s.repo.RefundCreditsTx(ctx, tx, b.PassengerID, rd.Price); err != nil {
			return fmt.Errorf("ride: refund passenger %s: %w", b.PassengerID, err)
		}
	}
	if err := s.repo.DeleteBookingsTx(ctx, tx, rideID); err != nil {
		return err
	}
	ok, err := s.repo.TransitionStatusTx(ctx, tx, rideID, rd.Status, StatusCancelled)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	if len(bookings) > 0 {
		if err := s.box.Enqueue(ctx, tx, outbox.TopicRideCancelled, cancellationPayload(rd, bookings)); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// CancelBooking releases the actor's own seat: the booking row goes away, the
// seat is returned to the pool and the fare is refunded, atomically.
func (s *Service) CancelBooking(ctx context.Context, actor auth.Actor, rideID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ride: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rd, err := s.repo.GetForUpdateTx(ctx, tx, rideID)
	if err != nil {
		return err
	}
	if rd.Status.Terminal() {
		return ErrConflict
	}
	if err := s.repo.DeleteBookingTx(ctx, tx, rideID, actor.ID); err != nil {
		return err
	}
	if err := s.repo.IncrementSeatTx(ctx, tx, rideID); err != nil {
		return err
	}
	if err := s.repo.RefundCreditsTx(ctx, tx, actor.ID, rd.Price); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func cancellationPayload(rd Ride, bookings []Booking) map[string]any {
	return map[string]any{
		"ride_id":        rd.ID,
		"driver_id":      rd.DriverID,
		"departure_city": rd.DepartureCity,
		"arrival_city":   rd.ArrivalCity,
		"departure_date": rd.DepartureDate,
		"passenger_ids":  passengerIDs(bookings),
	}
}

func completionPayload(rd Ride, bookings []Booking) map[string]any {
	return map[string]any{
		"ride_id":        rd.ID,
		"driver_id":      rd.DriverID,
		"departure_city": rd.DepartureCity,
		"arrival_city":   rd.ArrivalCity,
		"passenger_ids":  passengerIDs(bookings),
	}
}

func passengerIDs(bookings []Booking) []string {
	ids := make([]string, 0, len(bookings))
	for _, b := range bookings {
		ids = append(ids, b.PassengerID)
	}
	return ids
}
