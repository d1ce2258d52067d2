package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ecoride/auth"
	"ecoride/review"
	"ecoride/ride"
)

type stubAccounts struct {
	actor    auth.Actor
	verifyOK bool
	loginErr error
}

func (s *stubAccounts) Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error) {
	return &auth.User{ID: "u1", Email: req.Email, Role: auth.RolePassenger, Credits: 20}, nil
}

func (s *stubAccounts) Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error) {
	if s.loginErr != nil {
		return auth.LoginResult{}, s.loginErr
	}
	return auth.LoginResult{Token: "tok", User: auth.User{ID: "u1", Email: req.Email}}, nil
}

func (s *stubAccounts) VerifyToken(token string) (auth.Actor, error) {
	if !s.verifyOK {
		return auth.Actor{}, auth.ErrInvalidCredentials
	}
	return s.actor, nil
}

type stubRides struct {
	created     ride.Ride
	createErr   error
	checkoutURL string
	checkoutErr error
	confirmErr  error
	cancelErr   error
}

func (s *stubRides) Create(ctx context.Context, actor auth.Actor, p ride.CreateParams) (ride.Ride, error) {
	return s.created, s.createErr
}
func (s *stubRides) Start(ctx context.Context, actor auth.Actor, rideID string) error    { return nil }
func (s *stubRides) Complete(ctx context.Context, actor auth.Actor, rideID string) error { return nil }
func (s *stubRides) Cancel(ctx context.Context, actor auth.Actor, rideID string) error {
	return s.cancelErr
}
func (s *stubRides) CancelBooking(ctx context.Context, actor auth.Actor, rideID string) error {
	return nil
}
func (s *stubRides) BeginCheckout(ctx context.Context, actor auth.Actor, rideID string) (string, error) {
	return s.checkoutURL, s.checkoutErr
}
func (s *stubRides) ConfirmBooking(ctx context.Context, sessionID string) error {
	return s.confirmErr
}

type stubReader struct {
	rides []ride.Ride
	next  *time.Time
}

func (s *stubReader) GetByID(ctx context.Context, id string) (ride.Ride, error) {
	if len(s.rides) == 0 {
		return ride.Ride{}, ride.ErrNotFound
	}
	return s.rides[0], nil
}
func (s *stubReader) Search(ctx context.Context, f ride.SearchFilters) ([]ride.Ride, error) {
	return s.rides, nil
}
func (s *stubReader) NextDeparture(ctx context.Context, from, to string, after time.Time) (*time.Time, error) {
	return s.next, nil
}
func (s *stubReader) ListByDriver(ctx context.Context, driverID string) ([]ride.Ride, error) {
	return s.rides, nil
}
func (s *stubReader) ListByPassenger(ctx context.Context, passengerID string) ([]ride.Ride, error) {
	return s.rides, nil
}

type stubReviews struct {
	submitErr error
}

func (s *stubReviews) Submit(ctx context.Context, actor auth.Actor, p review.SubmitParams) (review.Review, error) {
	if s.submitErr != nil {
		return review.Review{}, s.submitErr
	}
	return review.Review{ID: "rv1", Status: review.StatusPending}, nil
}
func (s *stubReviews) Moderate(ctx context.Context, actor auth.Actor, reviewID string, approve bool) error {
	return nil
}
func (s *stubReviews) PendingQueue(ctx context.Context, actor auth.Actor) ([]review.Review, error) {
	return nil, nil
}
func (s *stubReviews) Problematic(ctx context.Context, actor auth.Actor) ([]review.Review, error) {
	return nil, nil
}
func (s *stubReviews) ForDriver(ctx context.Context, driverID string) ([]review.Review, review.DriverRating, error) {
	return nil, review.DriverRating{DriverID: driverID}, nil
}

func testServer(accounts *stubAccounts, rides *stubRides, reader *stubReader, reviews *stubReviews) *Server {
	return NewServer(accounts, rides, reader, reviews, nil, nil, nil, nil, nil)
}

func TestSearchRides_Public(t *testing.T) {
	reader := &stubReader{rides: []ride.Ride{{
		ID: "r1", DriverID: "d1", DepartureCity: "Lyon", ArrivalCity: "Paris",
		Price: 10, SeatsTotal: 3, SeatsAvailable: 2, Status: ride.StatusPending,
	}}}
	srv := testServer(&stubAccounts{}, &stubRides{}, reader, &stubReviews{})
	e := srv.Routes()

	req := httptest.NewRequest(http.MethodGet, "/rides?from=Lyon&to=Paris", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Rides []rideResponse `json:"rides"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Rides) != 1 || body.Rides[0].ID != "r1" {
		t.Errorf("unexpected rides payload: %+v", body.Rides)
	}
}

func TestSearchRides_SuggestsNextDeparture(t *testing.T) {
	next := time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)
	reader := &stubReader{next: &next}
	srv := testServer(&stubAccounts{}, &stubRides{}, reader, &stubReviews{})
	e := srv.Routes()

	req := httptest.NewRequest(http.MethodGet, "/rides?from=Lyon&to=Paris&date=2026-05-01", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "next_departure") {
		t.Errorf("expected next_departure suggestion, got %s", rec.Body.String())
	}
}

func TestCreateRide_RequiresAuth(t *testing.T) {
	srv := testServer(&stubAccounts{}, &stubRides{}, &stubReader{}, &stubReviews{})
	e := srv.Routes()

	req := httptest.NewRequest(http.MethodPost, "/rides", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestCreateRide_Authorized(t *testing.T) {
	accounts := &stubAccounts{verifyOK: true, actor: auth.Actor{ID: "d1", Role: auth.RoleDriver}}
	rides := &stubRides{created: ride.Ride{ID: "r1", DriverID: "d1", Status: ride.StatusPending}}
	srv := testServer(accounts, rides, &stubReader{}, &stubReviews{})
	e := srv.Routes()

	req := httptest.NewRequest(http.MethodPost, "/rides", strings.NewReader(
		`{"departure_city":"Lyon","arrival_city":"Paris","departure_date":"2026-05-01T09:00:00Z","price":10,"seats":3}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateRide_NonDriverForbidden(t *testing.T) {
	accounts := &stubAccounts{verifyOK: true, actor: auth.Actor{ID: "p1", Role: auth.RolePassenger}}
	rides := &stubRides{createErr: ride.ErrNotDriver}
	srv := testServer(accounts, rides, &stubReader{}, &stubReviews{})
	e := srv.Routes()

	req := httptest.NewRequest(http.MethodPost, "/rides", strings.NewReader(`{"departure_city":"Lyon"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestBeginCheckout_FullRideConflicts(t *testing.T) {
	accounts := &stubAccounts{verifyOK: true, actor: auth.Actor{ID: "p1", Role: auth.RolePassenger}}
	rides := &stubRides{checkoutErr: ride.ErrNotBookable}
	srv := testServer(accounts, rides, &stubReader{}, &stubReviews{})
	e := srv.Routes()

	req := httptest.NewRequest(http.MethodPost, "/rides/r1/book", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestConfirmBooking_RequiresSessionID(t *testing.T) {
	srv := testServer(&stubAccounts{}, &stubRides{}, &stubReader{}, &stubReviews{})
	e := srv.Routes()

	req := httptest.NewRequest(http.MethodPost, "/checkout/confirm", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestStaffRoutes_ForbiddenForPassengers(t *testing.T) {
	accounts := &stubAccounts{verifyOK: true, actor: auth.Actor{ID: "p1", Role: auth.RolePassenger}}
	srv := testServer(accounts, &stubRides{}, &stubReader{}, &stubReviews{})
	e := srv.Routes()

	req := httptest.NewRequest(http.MethodGet, "/staff/reviews/pending", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestSubmitReview_NotEligibleForbidden(t *testing.T) {
	accounts := &stubAccounts{verifyOK: true, actor: auth.Actor{ID: "p1", Role: auth.RolePassenger}}
	reviews := &stubReviews{submitErr: review.ErrNotEligible}
	srv := testServer(accounts, &stubRides{}, &stubReader{}, reviews)
	e := srv.Routes()

	req := httptest.NewRequest(http.MethodPost, "/reviews", strings.NewReader(`{"driver_id":"d1","rating":4}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}
