// Package actors holds the concurrent workloads the stress run throws at the
// booking engine. Every actor loops until stop closes, treating domain
// sentinels as expected contention outcomes and anything else as fatal.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"ecoride/auth"
	"ecoride/profile"
	"ecoride/ride"
)

func expected(err error) bool {
	return errors.Is(err, ride.ErrNoSeats) ||
		errors.Is(err, ride.ErrAlreadyBooked) ||
		errors.Is(err, ride.ErrNotBookable) ||
		errors.Is(err, ride.ErrBookingNotFound) ||
		errors.Is(err, ride.ErrConflict) ||
		errors.Is(err, ride.ErrNotFound) ||
		errors.Is(err, profile.ErrInsufficientCredits)
}

// Booker hammers the two-phase booking flow: seed a checkout session, then
// confirm it. Losing the seat race or double-booking are expected outcomes.
func Booker(ctx context.Context, svc *ride.Service, repo *ride.PGRepository, rideIDs []string, passengerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		rideID := rideIDs[rand.Intn(len(rideIDs))]
		rd, err := repo.GetByID(ctx, rideID)
		if err != nil {
			if expected(err) {
				continue
			}
			return fmt.Errorf("booker load ride: %w", err)
		}
		sessionID := fmt.Sprintf("stress-%s-%d", passengerID[:8], rand.Int63())
		err = repo.CreateSession(ctx, ride.CheckoutSession{
			ID: sessionID, RideID: rideID, PassengerID: passengerID,
			Amount: rd.Price, Status: ride.SessionCreated,
		})
		if err != nil {
			return fmt.Errorf("booker create session: %w", err)
		}
		if err := svc.ConfirmBooking(ctx, sessionID); err != nil && !expected(err) {
			return fmt.Errorf("booker confirm: %w", err)
		}
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

// SeatReleaser cancels the passenger's booking on a random ride, returning
// the seat and the fare.
func SeatReleaser(ctx context.Context, svc *ride.Service, rideIDs []string, passengerID string, stop <-chan struct{}) error {
	actor := auth.Actor{ID: passengerID, Role: auth.RolePassenger}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		rideID := rideIDs[rand.Intn(len(rideIDs))]
		if err := svc.CancelBooking(ctx, actor, rideID); err != nil && !expected(err) {
			return fmt.Errorf("releaser cancel booking: %w", err)
		}
		time.Sleep(time.Duration(30+rand.Intn(60)) * time.Millisecond)
	}
}

// DriverCanceller rarely cancels one of the rides, triggering the full
// refund-and-delete saga while bookers fight over the same rows.
func DriverCanceller(ctx context.Context, svc *ride.Service, rideIDs []string, driverID string, stop <-chan struct{}) error {
	actor := auth.Actor{ID: driverID, Role: auth.RoleDriver}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if rand.Intn(20) == 0 {
			rideID := rideIDs[rand.Intn(len(rideIDs))]
			if err := svc.Cancel(ctx, actor, rideID); err != nil && !expected(err) {
				return fmt.Errorf("driver cancel: %w", err)
			}
		}
		time.Sleep(time.Duration(100+rand.Intn(200)) * time.Millisecond)
	}
}

// Publisher keeps creating fresh rides so an all-cancelled pool never stalls
// the run.
func Publisher(ctx context.Context, svc *ride.Service, driverID string, stop <-chan struct{}) error {
	actor := auth.Actor{ID: driverID, Role: auth.RoleDriver}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := svc.Create(ctx, actor, ride.CreateParams{
			DepartureCity: "Lyon",
			ArrivalCity:   "Paris",
			DepartureDate: time.Now().Add(time.Duration(24+rand.Intn(240)) * time.Hour),
			Price:         1 + rand.Intn(20),
			Seats:         1 + rand.Intn(4),
		})
		if err != nil && !errors.Is(err, profile.ErrInsufficientCredits) {
			return fmt.Errorf("publisher create: %w", err)
		}
		time.Sleep(time.Duration(200+rand.Intn(300)) * time.Millisecond)
	}
}

// OutboxWorker drains pending outbox messages with SKIP LOCKED, simulating a
// flaky publisher that sometimes only bumps the attempt counter.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `SELECT id FROM outbox WHERE status='pending' ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		ids := make([]string, 0, 10)
		for rows.Next() {
			var id string
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			if rand.Intn(10) == 0 {
				_, _ = tx.Exec(ctx, `UPDATE outbox SET attempts=attempts+1, last_attempt=NOW() WHERE id=$1`, id)
				continue
			}
			_, _ = tx.Exec(ctx, `UPDATE outbox SET status='processed', last_attempt=NOW() WHERE id=$1`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}
