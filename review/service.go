package review

import (
	"context"
	"errors"

	"ecoride/auth"
)

var (
	ErrSelfReview    = errors.New("review: drivers cannot review themselves")
	ErrNotEligible   = errors.New("review: no completed ride with this driver")
	ErrInvalidRating = errors.New("review: rating must be between 1 and 5")
	ErrNotStaff      = errors.New("review: moderation requires staff role")
	ErrNotPending    = errors.New("review: review is not awaiting moderation")
)

// Repo is the persistence surface the workflow needs.
type Repo interface {
	Upsert(ctx context.Context, reviewerID string, p SubmitParams) (Review, error)
	GetByID(ctx context.Context, id string) (Review, error)
	SetStatus(ctx context.Context, id string, status Status) error
	ListPending(ctx context.Context) ([]Review, error)
	ListApprovedForDriver(ctx context.Context, driverID string) ([]Review, error)
	ListProblematic(ctx context.Context) ([]Review, error)
	Rating(ctx context.Context, driverID string) (DriverRating, error)
	SharedCompletedRide(ctx context.Context, reviewerID, driverID string) (bool, error)
}

// Service implements the review workflow: submission gated on a completed
// shared ride, then staff moderation before anything becomes public.
type Service struct {
	repo Repo
}

func NewService(repo Repo) *Service {
	return &Service{repo: repo}
}

// Submit records or replaces the actor's review of a driver. Either way the
// review lands in the pending queue.
func (s *Service) Submit(ctx context.Context, actor auth.Actor, p SubmitParams) (Review, error) {
	if p.Rating < 1 || p.Rating > 5 {
		return Review{}, ErrInvalidRating
	}
	if p.DriverID == actor.ID {
		return Review{}, ErrSelfReview
	}
	ok, err := s.repo.SharedCompletedRide(ctx, actor.ID, p.DriverID)
	if err != nil {
		return Review{}, err
	}
	if !ok {
		return Review{}, ErrNotEligible
	}
	return s.repo.Upsert(ctx, actor.ID, p)
}

// Moderate applies an approve or reject decision to a pending review.
func (s *Service) Moderate(ctx context.Context, actor auth.Actor, reviewID string, approve bool) error {
	if !actor.Role.IsStaff() {
		return ErrNotStaff
	}
	rv, err := s.repo.GetByID(ctx, reviewID)
	if err != nil {
		return err
	}
	if rv.Status != StatusPending {
		return ErrNotPending
	}
	status := StatusRejected
	if approve {
		status = StatusApproved
	}
	return s.repo.SetStatus(ctx, reviewID, status)
}

// PendingQueue lists reviews awaiting a decision.
func (s *Service) PendingQueue(ctx context.Context, actor auth.Actor) ([]Review, error) {
	if !actor.Role.IsStaff() {
		return nil, ErrNotStaff
	}
	return s.repo.ListPending(ctx)
}

// Problematic lists approved negative reviews for staff follow-up.
func (s *Service) Problematic(ctx context.Context, actor auth.Actor) ([]Review, error) {
	if !actor.Role.IsStaff() {
		return nil, ErrNotStaff
	}
	return s.repo.ListProblematic(ctx)
}

// ForDriver is the public read: approved reviews plus the aggregate rating.
func (s *Service) ForDriver(ctx context.Context, driverID string) ([]Review, DriverRating, error) {
	reviews, err := s.repo.ListApprovedForDriver(ctx, driverID)
	if err != nil {
		return nil, DriverRating{}, err
	}
	rating, err := s.repo.Rating(ctx, driverID)
	if err != nil {
		return nil, DriverRating{}, err
	}
	return reviews, rating, nil
}
