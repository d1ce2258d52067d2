package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"ecoride/auth"
	"ecoride/checkout"
	"ecoride/outbox"
	"ecoride/ride"
	"ecoride/test/actors"
	"ecoride/test/chaos"
	"ecoride/test/infra"
	"ecoride/test/oracles"
)

var (
	flDuration    = flag.Duration("duration", 60*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 6, "number of concurrent booker/releaser pairs")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
	flChaos       = flag.Bool("chaos", false, "randomly terminate database backends during the run")
)

type stubPay struct{}

func (stubPay) CreateSession(ctx context.Context, p checkout.SessionParams) (checkout.Session, error) {
	id := fmt.Sprintf("cs-%d", rand.Int63())
	return checkout.Session{ID: id, URL: "https://pay.test/" + id}, nil
}

// TestBookingConcurrency runs concurrent bookers, cancellers and an outbox
// drainer against a real PostgreSQL and continuously checks the seat and
// credit invariants.
func TestBookingConcurrency(t *testing.T) {
	flag.Parse()
	seed := *flSeed
	t.Logf("stress seed=%d duration=%s concurrency=%d", seed, *flDuration, *flConcurrency)

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	switch {
	case *flDSN != "":
		dsn = *flDSN
		usedShared = true
		pgC = &infra.PGContainer{}
	case os.Getenv("ECORIDE_STRESS_PG_DSN") != "":
		dsn = os.Getenv("ECORIDE_STRESS_PG_DSN")
		usedShared = true
		pgC = &infra.PGContainer{}
	default:
		if dockerAvailable(ctx) {
			pgC, dsn, err = infra.StartPostgres16(ctx, "")
			if err != nil {
				t.Fatalf("start postgres: %v", err)
			}
		} else {
			dsn, err = infra.InitLocalDatabase(ctx)
			if err != nil {
				t.Skipf("no Docker and no local PostgreSQL: %v", err)
			}
			pgC = &infra.PGContainer{}
		}
	}
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	seedData := mustSeed(t, ctx, pool, *flConcurrency)

	repo := ride.NewPGRepository(pool)
	svc := ride.NewService(pool, repo, outbox.Writer{}, stubPay{}, 2)

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	for i := 0; i < *flConcurrency; i++ {
		passengerID := seedData.passengers[i%len(seedData.passengers)]
		g.Go(func() error {
			return actors.Booker(ctx2, svc, repo, seedData.rideIDs, passengerID, stop)
		})
		g.Go(func() error {
			return actors.SeatReleaser(ctx2, svc, seedData.rideIDs, passengerID, stop)
		})
	}
	g.Go(func() error {
		return actors.DriverCanceller(ctx2, svc, seedData.rideIDs, seedData.driverID, stop)
	})
	g.Go(func() error { return actors.Publisher(ctx2, svc, seedData.driverID, stop) })
	g.Go(func() error { return actors.OutboxWorker(ctx2, pool, stop) })
	if *flChaos {
		go chaos.TerminateRandomBackend(ctx2, pool, stop)
	}

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				t.Fatalf("oracle error: %v", err)
			}
			if name != "" {
				dumpRecent(t, ctx2, pool)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}

	// final sweep after all actors stopped
	name, row, err := oracles.Run(context.Background(), pool)
	if err != nil {
		t.Fatalf("final oracle error: %v", err)
	}
	if name != "" {
		t.Fatalf("Final oracle %s failed. First row: %s (seed=%d)", name, row, seed)
	}
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

type seedIDs struct {
	driverID   string
	passengers []string
	rideIDs    []string
}

func mustSeed(t *testing.T, ctx context.Context, pool *pgxpool.Pool, passengers int) seedIDs {
	t.Helper()
	var s seedIDs

	if err := pool.QueryRow(ctx, `
		INSERT INTO profiles (email, password_hash, name, role, credits)
		VALUES ($1, 'x', 'Stress Driver', 'driver', 100000) RETURNING id`,
		fmt.Sprintf("driver%d@stress.test", rand.Int63())).Scan(&s.driverID); err != nil {
		t.Fatalf("seed driver: %v", err)
	}

	for i := 0; i < passengers; i++ {
		var id string
		if err := pool.QueryRow(ctx, `
			INSERT INTO profiles (email, password_hash, name, role, credits)
			VALUES ($1, 'x', 'Stress Passenger', 'passenger', 100000) RETURNING id`,
			fmt.Sprintf("p%d-%d@stress.test", i, rand.Int63())).Scan(&id); err != nil {
			t.Fatalf("seed passenger: %v", err)
		}
		s.passengers = append(s.passengers, id)
	}

	svc := ride.NewService(pool, ride.NewPGRepository(pool), outbox.Writer{}, stubPay{}, 0)
	for i := 0; i < 4; i++ {
		rd, err := svc.Create(ctx, auth.Actor{ID: s.driverID, Role: auth.RoleDriver}, ride.CreateParams{
			DepartureCity: "Lyon",
			ArrivalCity:   "Paris",
			DepartureDate: time.Now().Add(time.Duration(24+i) * time.Hour),
			Price:         5 + i,
			Seats:         2 + i,
		})
		if err != nil {
			t.Fatalf("seed ride: %v", err)
		}
		s.rideIDs = append(s.rideIDs, rd.ID)
	}
	return s
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"rides", `SELECT id, status, seats_total, seats_available FROM rides ORDER BY created_at DESC LIMIT 20`},
		{"ride_bookings", `SELECT id, ride_id, passenger_id FROM ride_bookings ORDER BY created_at DESC LIMIT 50`},
		{"checkout_sessions", `SELECT id, ride_id, status FROM checkout_sessions ORDER BY created_at DESC LIMIT 50`},
		{"outbox", `SELECT id, topic, status, attempts, created_at FROM outbox ORDER BY created_at DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
