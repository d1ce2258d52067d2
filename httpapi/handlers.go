package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"ecoride/admin"
	"ecoride/auth"
	"ecoride/profile"
	"ecoride/report"
	"ecoride/review"
	"ecoride/ride"
	"ecoride/vehicle"
)

type rideResponse struct {
	ID             string     `json:"id"`
	DriverID       string     `json:"driver_id"`
	DepartureCity  string     `json:"departure_city"`
	ArrivalCity    string     `json:"arrival_city"`
	DepartureDate  time.Time  `json:"departure_date"`
	ArrivalTime    *time.Time `json:"arrival_time,omitempty"`
	Price          int        `json:"price"`
	SeatsTotal     int        `json:"seats_total"`
	SeatsAvailable int        `json:"seats_available"`
	Status         string     `json:"status"`
	Description    *string    `json:"description,omitempty"`
	VehicleBrand   *string    `json:"vehicle_brand,omitempty"`
	VehicleModel   *string    `json:"vehicle_model,omitempty"`
	IsElectricCar  bool       `json:"is_electric_car"`
	Preferences    []string   `json:"preferences,omitempty"`
}

func toRideResponse(r ride.Ride) rideResponse {
	return rideResponse{
		ID:             r.ID,
		DriverID:       r.DriverID,
		DepartureCity:  r.DepartureCity,
		ArrivalCity:    r.ArrivalCity,
		DepartureDate:  r.DepartureDate,
		ArrivalTime:    r.ArrivalTime,
		Price:          r.Price,
		SeatsTotal:     r.SeatsTotal,
		SeatsAvailable: r.SeatsAvailable,
		Status:         string(r.Status),
		Description:    r.Description,
		VehicleBrand:   r.VehicleBrand,
		VehicleModel:   r.VehicleModel,
		IsElectricCar:  r.IsElectricCar,
		Preferences:    r.Preferences,
	}
}

func toRideResponses(rides []ride.Ride) []rideResponse {
	out := make([]rideResponse, 0, len(rides))
	for _, r := range rides {
		out = append(out, toRideResponse(r))
	}
	return out
}

// respondError maps service sentinels onto HTTP statuses. Unknown errors
// become opaque 500s so internals never leak to clients.
func respondError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ride.ErrNotFound),
		errors.Is(err, ride.ErrBookingNotFound),
		errors.Is(err, ride.ErrSessionNotFound),
		errors.Is(err, review.ErrNotFound),
		errors.Is(err, profile.ErrNotFound),
		errors.Is(err, vehicle.ErrNotFound),
		errors.Is(err, admin.ErrUserNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})

	case errors.Is(err, ride.ErrConflict),
		errors.Is(err, ride.ErrNoSeats),
		errors.Is(err, ride.ErrNotBookable),
		errors.Is(err, ride.ErrAlreadyBooked),
		errors.Is(err, review.ErrNotPending),
		errors.Is(err, admin.ErrAlreadySuspended),
		errors.Is(err, auth.ErrDuplicateEmail):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})

	case errors.Is(err, ride.ErrValidation),
		errors.Is(err, review.ErrInvalidRating),
		errors.Is(err, auth.ErrWeakPassword):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})

	case errors.Is(err, profile.ErrInsufficientCredits):
		return c.JSON(http.StatusPaymentRequired, echo.Map{"error": err.Error()})

	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrSuspended):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": err.Error()})

	case errors.Is(err, ride.ErrNotDriver),
		errors.Is(err, ride.ErrNotOwner),
		errors.Is(err, ride.ErrSelfBooking),
		errors.Is(err, review.ErrSelfReview),
		errors.Is(err, review.ErrNotEligible),
		errors.Is(err, review.ErrNotStaff),
		errors.Is(err, admin.ErrNotStaff),
		errors.Is(err, admin.ErrNotAdmin),
		errors.Is(err, report.ErrNotAdmin),
		errors.Is(err, vehicle.ErrNotOwner),
		errors.Is(err, auth.ErrNotAuthorized):
		return c.JSON(http.StatusForbidden, echo.Map{"error": err.Error()})
	}

	c.Logger().Errorf("internal error: %v", err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}

func (s *Server) handleRegister(c echo.Context) error {
	var req auth.RegisterRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "malformed body"})
	}
	user, err := s.accounts.Register(c.Request().Context(), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"id": user.ID, "email": user.Email, "role": user.Role, "credits": user.Credits,
	})
}

func (s *Server) handleLogin(c echo.Context) error {
	var req auth.LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "malformed body"})
	}
	result, err := s.accounts.Login(c.Request().Context(), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"token": result.Token,
		"user": echo.Map{
			"id": result.User.ID, "email": result.User.Email,
			"role": result.User.Role, "credits": result.User.Credits,
		},
	})
}

func (s *Server) handleSearchRides(c echo.Context) error {
	f := ride.SearchFilters{
		DepartureCity: c.QueryParam("from"),
		ArrivalCity:   c.QueryParam("to"),
		After:         time.Now(),
		Limit:         50,
	}
	if raw := c.QueryParam("date"); raw != "" {
		date, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "date must be YYYY-MM-DD"})
		}
		f.Date = date
		f.After = time.Time{}
	}
	rides, err := s.reader.Search(c.Request().Context(), f)
	if err != nil {
		return respondError(c, err)
	}
	resp := echo.Map{"rides": toRideResponses(rides)}

	// empty day searches suggest the next date with availability
	if len(rides) == 0 && !f.Date.IsZero() && f.DepartureCity != "" && f.ArrivalCity != "" {
		next, err := s.reader.NextDeparture(c.Request().Context(), f.DepartureCity, f.ArrivalCity, f.Date)
		if err == nil && next != nil {
			resp["next_departure"] = next
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetRide(c echo.Context) error {
	rd, err := s.reader.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toRideResponse(rd))
}

type createRideRequest struct {
	DepartureCity string     `json:"departure_city"`
	ArrivalCity   string     `json:"arrival_city"`
	DepartureDate time.Time  `json:"departure_date"`
	ArrivalTime   *time.Time `json:"arrival_time"`
	Price         int        `json:"price"`
	Seats         int        `json:"seats"`
	Description   *string    `json:"description"`
	VehicleBrand  *string    `json:"vehicle_brand"`
	VehicleModel  *string    `json:"vehicle_model"`
	IsElectricCar bool       `json:"is_electric_car"`
	Preferences   []string   `json:"preferences"`
}

func (s *Server) handleCreateRide(c echo.Context) error {
	var req createRideRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "malformed body"})
	}
	rd, err := s.rides.Create(c.Request().Context(), actorFrom(c), ride.CreateParams{
		DepartureCity: req.DepartureCity,
		ArrivalCity:   req.ArrivalCity,
		DepartureDate: req.DepartureDate,
		ArrivalTime:   req.ArrivalTime,
		Price:         req.Price,
		Seats:         req.Seats,
		Description:   req.Description,
		VehicleBrand:  req.VehicleBrand,
		VehicleModel:  req.VehicleModel,
		IsElectricCar: req.IsElectricCar,
		Preferences:   req.Preferences,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, toRideResponse(rd))
}

func (s *Server) handleStartRide(c echo.Context) error {
	if err := s.rides.Start(c.Request().Context(), actorFrom(c), c.Param("id")); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleCompleteRide(c echo.Context) error {
	if err := s.rides.Complete(c.Request().Context(), actorFrom(c), c.Param("id")); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleCancelRide(c echo.Context) error {
	if err := s.rides.Cancel(c.Request().Context(), actorFrom(c), c.Param("id")); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleBeginCheckout(c echo.Context) error {
	url, err := s.rides.BeginCheckout(c.Request().Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"checkout_url": url})
}

func (s *Server) handleConfirmBooking(c echo.Context) error {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := c.Bind(&req); err != nil || req.SessionID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "session_id is required"})
	}
	if err := s.rides.ConfirmBooking(c.Request().Context(), req.SessionID); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleCancelBooking(c echo.Context) error {
	if err := s.rides.CancelBooking(c.Request().Context(), actorFrom(c), c.Param("id")); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleMyRides(c echo.Context) error {
	rides, err := s.reader.ListByDriver(c.Request().Context(), actorFrom(c).ID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"rides": toRideResponses(rides)})
}

func (s *Server) handleMyBookings(c echo.Context) error {
	rides, err := s.reader.ListByPassenger(c.Request().Context(), actorFrom(c).ID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"rides": toRideResponses(rides)})
}

type submitReviewRequest struct {
	DriverID   string  `json:"driver_id"`
	Rating     int     `json:"rating"`
	Comment    *string `json:"comment"`
	IsPositive *bool   `json:"is_positive"`
}

func (s *Server) handleSubmitReview(c echo.Context) error {
	var req submitReviewRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "malformed body"})
	}
	rv, err := s.reviews.Submit(c.Request().Context(), actorFrom(c), review.SubmitParams{
		DriverID:   req.DriverID,
		Rating:     req.Rating,
		Comment:    req.Comment,
		IsPositive: req.IsPositive,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"id": rv.ID, "status": rv.Status})
}

func (s *Server) handleDriverReviews(c echo.Context) error {
	reviews, rating, err := s.reviews.ForDriver(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	type item struct {
		Rating  int     `json:"rating"`
		Comment *string `json:"comment,omitempty"`
	}
	items := make([]item, 0, len(reviews))
	for _, rv := range reviews {
		items = append(items, item{Rating: rv.Rating, Comment: rv.Comment})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"reviews": items,
		"average": rating.Average,
		"count":   rating.Count,
	})
}

func (s *Server) handlePendingReviews(c echo.Context) error {
	reviews, err := s.reviews.PendingQueue(c.Request().Context(), actorFrom(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"reviews": reviews})
}

func (s *Server) handleProblematicReviews(c echo.Context) error {
	reviews, err := s.reviews.Problematic(c.Request().Context(), actorFrom(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"reviews": reviews})
}

func (s *Server) handleModerateReview(c echo.Context) error {
	var req struct {
		Approve bool `json:"approve"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "malformed body"})
	}
	if err := s.reviews.Moderate(c.Request().Context(), actorFrom(c), c.Param("id"), req.Approve); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleGetProfile(c echo.Context) error {
	p, err := s.profiles.GetByID(c.Request().Context(), actorFrom(c).ID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) handleUpdateProfile(c echo.Context) error {
	var params profile.UpdateParams
	if err := c.Bind(&params); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "malformed body"})
	}
	// role changes are limited to the rider/driver axis
	if params.Role != nil {
		switch *params.Role {
		case auth.RolePassenger, auth.RoleDriver, auth.RoleBoth:
		default:
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "role must be passenger, driver or both"})
		}
	}
	p, err := s.profiles.Update(c.Request().Context(), actorFrom(c).ID, params)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

type createVehicleRequest struct {
	Brand                 string     `json:"brand"`
	Model                 string     `json:"model"`
	Color                 string     `json:"color"`
	LicensePlate          string     `json:"license_plate"`
	Seats                 int        `json:"seats"`
	EnergyType            *string    `json:"energy_type"`
	FirstRegistrationDate *time.Time `json:"first_registration_date"`
}

func (s *Server) handleCreateVehicle(c echo.Context) error {
	var req createVehicleRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "malformed body"})
	}
	if req.Brand == "" || req.Model == "" || req.LicensePlate == "" || req.Seats <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "brand, model, license_plate and seats are required"})
	}
	v, err := s.vehicles.Create(c.Request().Context(), vehicle.Vehicle{
		UserID:                actorFrom(c).ID,
		Brand:                 req.Brand,
		Model:                 req.Model,
		Color:                 req.Color,
		LicensePlate:          req.LicensePlate,
		Seats:                 req.Seats,
		EnergyType:            req.EnergyType,
		FirstRegistrationDate: req.FirstRegistrationDate,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, v)
}

func (s *Server) handleListVehicles(c echo.Context) error {
	vehicles, err := s.vehicles.ListByUser(c.Request().Context(), actorFrom(c).ID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"vehicles": vehicles})
}

func (s *Server) handleDeleteVehicle(c echo.Context) error {
	if err := s.vehicles.Delete(c.Request().Context(), actorFrom(c).ID, c.Param("id")); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleGetPreferences(c echo.Context) error {
	p, err := s.vehicles.GetPreferences(c.Request().Context(), actorFrom(c).ID)
	if err != nil {
		if errors.Is(err, vehicle.ErrNotFound) {
			return c.JSON(http.StatusOK, vehicle.Preferences{UserID: actorFrom(c).ID})
		}
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) handleUpsertPreferences(c echo.Context) error {
	var req struct {
		SmokingAllowed    bool     `json:"smoking_allowed"`
		PetsAllowed       bool     `json:"pets_allowed"`
		CustomPreferences []string `json:"custom_preferences"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "malformed body"})
	}
	p, err := s.vehicles.UpsertPreferences(c.Request().Context(), vehicle.Preferences{
		UserID:            actorFrom(c).ID,
		SmokingAllowed:    req.SmokingAllowed,
		PetsAllowed:       req.PetsAllowed,
		CustomPreferences: req.CustomPreferences,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) handleListBrands(c echo.Context) error {
	brands, err := s.vehicles.ListBrands(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"brands": brands})
}

func (s *Server) handleListAccounts(c echo.Context) error {
	accounts, err := s.admin.ListAccounts(c.Request().Context(), actorFrom(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"accounts": accounts})
}

func (s *Server) handleSuspendUser(c echo.Context) error {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "malformed body"})
	}
	if err := s.admin.SuspendUser(c.Request().Context(), actorFrom(c), c.Param("id"), req.Reason); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleReinstateUser(c echo.Context) error {
	if err := s.admin.ReinstateUser(c.Request().Context(), actorFrom(c), c.Param("id")); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleAuthorizeStaff(c echo.Context) error {
	var req struct {
		Email string    `json:"email"`
		Role  auth.Role `json:"role"`
	}
	if err := c.Bind(&req); err != nil || req.Email == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email and role are required"})
	}
	if err := s.admin.AuthorizeStaff(c.Request().Context(), actorFrom(c), req.Email, req.Role); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleRevokeStaff(c echo.Context) error {
	var req struct {
		Email string    `json:"email"`
		Role  auth.Role `json:"role"`
	}
	if err := c.Bind(&req); err != nil || req.Email == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email and role are required"})
	}
	if err := s.admin.RevokeStaffAuthorization(c.Request().Context(), actorFrom(c), req.Email, req.Role); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) reportWindow(c echo.Context) (time.Time, time.Time, error) {
	from := time.Now().AddDate(0, -1, 0)
	to := time.Now().AddDate(0, 0, 1)
	if raw := c.QueryParam("from"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = parsed
	}
	if raw := c.QueryParam("to"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = parsed
	}
	return from, to, nil
}

func (s *Server) handleRidesPerDay(c echo.Context) error {
	from, to, err := s.reportWindow(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "dates must be YYYY-MM-DD"})
	}
	buckets, err := s.reports.RidesPerDay(c.Request().Context(), actorFrom(c), from, to)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"days": buckets})
}

func (s *Server) handleCreditsPerDay(c echo.Context) error {
	from, to, err := s.reportWindow(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "dates must be YYYY-MM-DD"})
	}
	buckets, err := s.reports.CreditsPerDay(c.Request().Context(), actorFrom(c), from, to)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"days": buckets})
}

func (s *Server) handleTotalCredits(c echo.Context) error {
	total, err := s.reports.TotalCredits(c.Request().Context(), actorFrom(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"total": total})
}
