// Package httpapi exposes the platform over REST. Handlers stay thin:
// decode, call the service, map the error.
package httpapi

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"ecoride/admin"
	"ecoride/auth"
	"ecoride/profile"
	"ecoride/report"
	"ecoride/review"
	"ecoride/ride"
	"ecoride/vehicle"
)

// Rides is the lifecycle surface the handlers drive.
type Rides interface {
	Create(ctx context.Context, actor auth.Actor, p ride.CreateParams) (ride.Ride, error)
	Start(ctx context.Context, actor auth.Actor, rideID string) error
	Complete(ctx context.Context, actor auth.Actor, rideID string) error
	Cancel(ctx context.Context, actor auth.Actor, rideID string) error
	CancelBooking(ctx context.Context, actor auth.Actor, rideID string) error
	BeginCheckout(ctx context.Context, actor auth.Actor, rideID string) (string, error)
	ConfirmBooking(ctx context.Context, sessionID string) error
}

// RideReader is the query side of the ride catalogue.
type RideReader interface {
	GetByID(ctx context.Context, id string) (ride.Ride, error)
	Search(ctx context.Context, f ride.SearchFilters) ([]ride.Ride, error)
	NextDeparture(ctx context.Context, departureCity, arrivalCity string, after time.Time) (*time.Time, error)
	ListByDriver(ctx context.Context, driverID string) ([]ride.Ride, error)
	ListByPassenger(ctx context.Context, passengerID string) ([]ride.Ride, error)
}

// Reviews is the moderation workflow surface.
type Reviews interface {
	Submit(ctx context.Context, actor auth.Actor, p review.SubmitParams) (review.Review, error)
	Moderate(ctx context.Context, actor auth.Actor, reviewID string, approve bool) error
	PendingQueue(ctx context.Context, actor auth.Actor) ([]review.Review, error)
	Problematic(ctx context.Context, actor auth.Actor) ([]review.Review, error)
	ForDriver(ctx context.Context, driverID string) ([]review.Review, review.DriverRating, error)
}

// Accounts is the registration and login surface.
type Accounts interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (auth.Actor, error)
}

// Server wires every service behind the REST routes.
type Server struct {
	accounts Accounts
	rides    Rides
	reader   RideReader
	reviews  Reviews
	profiles *profile.Repository
	vehicles *vehicle.Repository
	admin    *admin.Service
	reports  *report.Service
	cache    *redis.Client
}

func NewServer(accounts Accounts, rides Rides, reader RideReader, reviews Reviews,
	profiles *profile.Repository, vehicles *vehicle.Repository,
	adminSvc *admin.Service, reports *report.Service, cache *redis.Client) *Server {
	return &Server{
		accounts: accounts,
		rides:    rides,
		reader:   reader,
		reviews:  reviews,
		profiles: profiles,
		vehicles: vehicles,
		admin:    adminSvc,
		reports:  reports,
		cache:    cache,
	}
}

// Routes builds the echo instance with every endpoint registered.
func (s *Server) Routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())

	// public
	e.POST("/auth/register", s.handleRegister)
	e.POST("/auth/login", s.handleLogin)
	e.GET("/rides", s.handleSearchRides, CacheSearch(s.cache, 30*time.Second))
	e.GET("/rides/:id", s.handleGetRide)
	e.GET("/drivers/:id/reviews", s.handleDriverReviews)
	e.GET("/brands", s.handleListBrands)
	e.POST("/checkout/confirm", s.handleConfirmBooking)

	// authenticated
	authed := e.Group("", Authenticate(s.accounts))
	authed.GET("/me", s.handleGetProfile)
	authed.PATCH("/me", s.handleUpdateProfile)
	authed.GET("/me/rides", s.handleMyRides)
	authed.GET("/me/bookings", s.handleMyBookings)

	authed.POST("/rides", s.handleCreateRide)
	authed.POST("/rides/:id/start", s.handleStartRide)
	authed.POST("/rides/:id/complete", s.handleCompleteRide)
	authed.POST("/rides/:id/cancel", s.handleCancelRide)
	authed.POST("/rides/:id/book", s.handleBeginCheckout)
	authed.DELETE("/rides/:id/booking", s.handleCancelBooking)

	authed.POST("/reviews", s.handleSubmitReview)

	authed.GET("/me/vehicles", s.handleListVehicles)
	authed.POST("/me/vehicles", s.handleCreateVehicle)
	authed.DELETE("/me/vehicles/:id", s.handleDeleteVehicle)
	authed.GET("/me/preferences", s.handleGetPreferences)
	authed.PUT("/me/preferences", s.handleUpsertPreferences)

	// staff
	staff := authed.Group("/staff", RequireStaff())
	staff.GET("/reviews/pending", s.handlePendingReviews)
	staff.GET("/reviews/problematic", s.handleProblematicReviews)
	staff.POST("/reviews/:id/moderate", s.handleModerateReview)
	staff.GET("/accounts", s.handleListAccounts)
	staff.POST("/accounts/:id/suspend", s.handleSuspendUser)
	staff.DELETE("/accounts/:id/suspend", s.handleReinstateUser)

	// admin
	adm := authed.Group("/admin", RequireAdmin())
	adm.POST("/staff", s.handleAuthorizeStaff)
	adm.DELETE("/staff", s.handleRevokeStaff)
	adm.GET("/reports/rides-per-day", s.handleRidesPerDay)
	adm.GET("/reports/credits-per-day", s.handleCreditsPerDay)
	adm.GET("/reports/total-credits", s.handleTotalCredits)

	return e
}
