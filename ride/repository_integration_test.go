package ride

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"ecoride/auth"
	"ecoride/outbox"
)

// TestBookingLifecycle_Integration connects to a real PostgreSQL via
// DATABASE_URL and drives a ride through publish, booking, passenger
// cancellation and driver cancellation against the live schema.
func TestBookingLifecycle_Integration(t *testing.T) {
	pool, cleanup := integrationPool(t)
	defer cleanup()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	driverID := seedUser(ctx, t, pool, "driver", 50)
	passengerID := seedUser(ctx, t, pool, "passenger", 50)
	t.Cleanup(func() { cleanupUsers(pool, driverID, passengerID) })

	repo := NewPGRepository(pool)
	svc := NewService(pool, repo, outbox.Writer{}, &fakePay{}, 2)

	rd, err := svc.Create(ctx, auth.Actor{ID: driverID, Role: auth.RoleDriver}, CreateParams{
		DepartureCity: "Lyon",
		ArrivalCity:   "Paris",
		DepartureDate: time.Now().Add(48 * time.Hour),
		Price:         10,
		Seats:         2,
	})
	if err != nil {
		t.Fatalf("create ride: %v", err)
	}
	t.Cleanup(func() { cleanupRide(pool, rd.ID) })

	if got := userCredits(ctx, t, pool, driverID); got != 48 {
		t.Fatalf("expected posting fee debit to leave 48 credits, got %d", got)
	}

	// book via a pre-seeded checkout session, then confirm twice
	sessionID := fmt.Sprintf("itest-cs-%d", time.Now().UnixNano())
	if err := repo.CreateSession(ctx, CheckoutSession{
		ID: sessionID, RideID: rd.ID, PassengerID: passengerID, Amount: rd.Price, Status: SessionCreated,
	}); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	if err := svc.ConfirmBooking(ctx, sessionID); err != nil {
		t.Fatalf("confirm booking (first): %v", err)
	}
	if err := svc.ConfirmBooking(ctx, sessionID); err != nil {
		t.Fatalf("confirm booking (replay): %v", err)
	}

	got, err := repo.GetByID(ctx, rd.ID)
	if err != nil {
		t.Fatalf("reload ride: %v", err)
	}
	if got.SeatsAvailable != 1 {
		t.Fatalf("expected 1 seat left after idempotent confirm, got %d", got.SeatsAvailable)
	}
	if credits := userCredits(ctx, t, pool, passengerID); credits != 40 {
		t.Fatalf("expected fare debited once, got %d credits", credits)
	}

	// passenger cancels: seat and credits come back
	if err := svc.CancelBooking(ctx, auth.Actor{ID: passengerID, Role: auth.RolePassenger}, rd.ID); err != nil {
		t.Fatalf("cancel booking: %v", err)
	}
	got, _ = repo.GetByID(ctx, rd.ID)
	if got.SeatsAvailable != 2 {
		t.Fatalf("expected seat returned, got %d", got.SeatsAvailable)
	}
	if credits := userCredits(ctx, t, pool, passengerID); credits != 50 {
		t.Fatalf("expected fare refunded, got %d credits", credits)
	}

	// rebook, then driver cancels: refund plus an outbox message
	sessionID2 := fmt.Sprintf("itest-cs-%d", time.Now().UnixNano())
	if err := repo.CreateSession(ctx, CheckoutSession{
		ID: sessionID2, RideID: rd.ID, PassengerID: passengerID, Amount: rd.Price, Status: SessionCreated,
	}); err != nil {
		t.Fatalf("seed second session: %v", err)
	}
	if err := svc.ConfirmBooking(ctx, sessionID2); err != nil {
		t.Fatalf("confirm booking (second): %v", err)
	}
	if err := svc.Cancel(ctx, auth.Actor{ID: driverID, Role: auth.RoleDriver}, rd.ID); err != nil {
		t.Fatalf("cancel ride: %v", err)
	}
	got, _ = repo.GetByID(ctx, rd.ID)
	if got.Status != StatusCancelled {
		t.Fatalf("expected ride cancelled, got %s", got.Status)
	}
	if credits := userCredits(ctx, t, pool, passengerID); credits != 50 {
		t.Fatalf("expected refund after driver cancel, got %d credits", credits)
	}
	var outCount int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE topic = 'ride.cancelled' AND payload->>'ride_id' = $1`, rd.ID).Scan(&outCount); err != nil {
		t.Fatalf("verify outbox: %v", err)
	}
	if outCount != 1 {
		t.Fatalf("expected 1 ride.cancelled outbox message, got %d", outCount)
	}

	// cancelling again is a no-op
	if err := svc.Cancel(ctx, auth.Actor{ID: driverID, Role: auth.RoleDriver}, rd.ID); err != nil {
		t.Fatalf("cancel ride (replay): %v", err)
	}
}

// TestLastSeatRace_Integration fires concurrent confirmations at a single
// remaining seat and verifies exactly one wins while the loser's session is
// flagged for refund.
func TestLastSeatRace_Integration(t *testing.T) {
	pool, cleanup := integrationPool(t)
	defer cleanup()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	driverID := seedUser(ctx, t, pool, "driver", 50)
	p1 := seedUser(ctx, t, pool, "passenger", 50)
	p2 := seedUser(ctx, t, pool, "passenger", 50)
	t.Cleanup(func() { cleanupUsers(pool, driverID, p1, p2) })

	repo := NewPGRepository(pool)
	svc := NewService(pool, repo, outbox.Writer{}, &fakePay{}, 0)

	rd, err := svc.Create(ctx, auth.Actor{ID: driverID, Role: auth.RoleDriver}, CreateParams{
		DepartureCity: "Nantes",
		ArrivalCity:   "Rennes",
		DepartureDate: time.Now().Add(48 * time.Hour),
		Price:         5,
		Seats:         1,
	})
	if err != nil {
		t.Fatalf("create ride: %v", err)
	}
	t.Cleanup(func() { cleanupRide(pool, rd.ID) })

	sessions := map[string]string{}
	for i, pid := range []string{p1, p2} {
		id := fmt.Sprintf("itest-race-%d-%d", time.Now().UnixNano(), i)
		if err := repo.CreateSession(ctx, CheckoutSession{
			ID: id, RideID: rd.ID, PassengerID: pid, Amount: rd.Price, Status: SessionCreated,
		}); err != nil {
			t.Fatalf("seed session: %v", err)
		}
		sessions[pid] = id
	}

	var g errgroup.Group
	var mu sync.Mutex
	results := make(map[string]error, 2)
	for pid, sid := range sessions {
		pid, sid := pid, sid
		g.Go(func() error {
			err := svc.ConfirmBooking(ctx, sid)
			mu.Lock()
			results[pid] = err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	var wins, losses int
	for pid, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrNoSeats):
			losses++
			var status string
			if err := pool.QueryRow(ctx, `SELECT status FROM checkout_sessions WHERE id = $1`, sessions[pid]).Scan(&status); err != nil {
				t.Fatalf("load losing session: %v", err)
			}
			if status != SessionRequiresRefund {
				t.Errorf("expected losing session flagged requires_refund, got %s", status)
			}
		default:
			t.Fatalf("unexpected confirm error: %v", err)
		}
	}
	if wins != 1 || losses != 1 {
		t.Fatalf("expected exactly one winner and one loser, got wins=%d losses=%d", wins, losses)
	}

	got, err := repo.GetByID(ctx, rd.ID)
	if err != nil {
		t.Fatalf("reload ride: %v", err)
	}
	if got.SeatsAvailable != 0 {
		t.Fatalf("expected zero seats, got %d", got.SeatsAvailable)
	}
	var bookingCount int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM ride_bookings WHERE ride_id = $1`, rd.ID).Scan(&bookingCount); err != nil {
		t.Fatalf("count bookings: %v", err)
	}
	if bookingCount != 1 {
		t.Fatalf("expected exactly one booking, got %d", bookingCount)
	}
}

func integrationPool(t *testing.T) (*pgxpool.Pool, func()) {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	for _, table := range []string{"profiles", "rides", "ride_bookings", "checkout_sessions", "outbox", "idempotency"} {
		var exists bool
		if err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`, table).Scan(&exists); err != nil {
			t.Fatalf("check table %s: %v", table, err)
		}
		if !exists {
			pool.Close()
			t.Skip("database schema missing; apply migrations first")
		}
	}
	return pool, pool.Close
}

func seedUser(ctx context.Context, t *testing.T, pool *pgxpool.Pool, role string, credits int) string {
	t.Helper()
	var id string
	err := pool.QueryRow(ctx, `
		INSERT INTO profiles (email, password_hash, name, role, credits)
		VALUES ($1, 'x', $2, $3, $4)
		RETURNING id`,
		fmt.Sprintf("itest+%d@example.com", time.Now().UnixNano()), role, role, credits).Scan(&id)
	if err != nil {
		t.Fatalf("seed %s: %v", role, err)
	}
	return id
}

func userCredits(ctx context.Context, t *testing.T, pool *pgxpool.Pool, id string) int {
	t.Helper()
	var credits int
	if err := pool.QueryRow(ctx, `SELECT credits FROM profiles WHERE id = $1`, id).Scan(&credits); err != nil {
		t.Fatalf("load credits: %v", err)
	}
	return credits
}

func cleanupUsers(pool *pgxpool.Pool, ids ...string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, id := range ids {
		pool.Exec(ctx, `DELETE FROM profiles WHERE id = $1`, id)
	}
}

func cleanupRide(pool *pgxpool.Pool, id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool.Exec(ctx, `DELETE FROM ride_bookings WHERE ride_id = $1`, id)
	pool.Exec(ctx, `DELETE FROM checkout_sessions WHERE ride_id = $1`, id)
	pool.Exec(ctx, `DELETE FROM outbox WHERE payload->>'ride_id' = $1`, id)
	pool.Exec(ctx, `DELETE FROM idempotency WHERE key LIKE 'checkout:itest-%'`)
	pool.Exec(ctx, `DELETE FROM rides WHERE id = $1`, id)
}
