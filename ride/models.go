package ride

import (
	"errors"
	"strings"
	"time"
)

// Status is the lifecycle state of a ride. Transitions only move forward:
// pending → in_progress → completed, with cancellation terminal from any
// state before completion.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Ride is a driver-published trip offer with finite seats.
type Ride struct {
	ID             string
	DriverID       string
	DepartureCity  string
	ArrivalCity    string
	DepartureDate  time.Time
	ArrivalTime    *time.Time
	Price          int
	SeatsTotal     int
	SeatsAvailable int
	Status         Status
	Description    *string
	VehicleBrand   *string
	VehicleModel   *string
	IsElectricCar  bool
	Preferences    []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Booking links a passenger to one reserved seat on a ride.
type Booking struct {
	ID          string
	RideID      string
	PassengerID string
	CreatedAt   time.Time
}

// CreateParams enumerates the fields required to publish a ride.
type CreateParams struct {
	DepartureCity string
	ArrivalCity   string
	DepartureDate time.Time
	ArrivalTime   *time.Time
	Price         int
	Seats         int
	Description   *string
	VehicleBrand  *string
	VehicleModel  *string
	IsElectricCar bool
	Preferences   []string
}

// ErrValidation wraps all malformed-input failures on ride creation.
var ErrValidation = errors.New("ride: invalid parameters")

// Validate checks route, date, price and seats before anything is written.
func (p CreateParams) Validate(now time.Time) error {
	if strings.TrimSpace(p.DepartureCity) == "" || strings.TrimSpace(p.ArrivalCity) == "" {
		return errors.Join(ErrValidation, errors.New("ride: departure and arrival cities are required"))
	}
	if p.DepartureDate.IsZero() || p.DepartureDate.Before(now) {
		return errors.Join(ErrValidation, errors.New("ride: departure date must be in the future"))
	}
	if p.Price <= 0 {
		return errors.Join(ErrValidation, errors.New("ride: price must be positive"))
	}
	if p.Seats <= 0 {
		return errors.Join(ErrValidation, errors.New("ride: seats must be positive"))
	}
	return nil
}

// SearchFilters narrows the public ride listing. Zero values are ignored.
type SearchFilters struct {
	DepartureCity string
	ArrivalCity   string
	// Date restricts departures to the calendar day starting at Date.
	Date  time.Time
	After time.Time
	Limit int
}

// CheckoutSession mirrors the checkout_sessions table: the intermediate state
// between the redirect to the payment provider and the booking commit. No
// seat or credit reservation is held during this gap; abandoning a session
// requires no cleanup.
type CheckoutSession struct {
	ID          string
	RideID      string
	PassengerID string
	Amount      int
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const (
	SessionCreated        = "created"
	SessionCompleted      = "completed"
	SessionCanceled       = "canceled"
	SessionRequiresRefund = "requires_refund"
)
