package ride

import (
	"context"
	"errors"
	"fmt"
	"log"

	"ecoride/auth"
	"ecoride/checkout"
	"ecoride/profile"
)

// CheckoutClient opens a hosted payment session with the external provider.
type CheckoutClient interface {
	CreateSession(ctx context.Context, p checkout.SessionParams) (checkout.Session, error)
}

// BeginCheckout validates that the ride is bookable by the actor and opens a
// payment session for the fare. Nothing is reserved yet: the seat is only
// taken when the provider confirms payment and ConfirmBooking commits. The
// returned URL is where the passenger completes payment.
func (s *Service) BeginCheckout(ctx context.Context, actor auth.Actor, rideID string) (string, error) {
	rd, err := s.repo.GetByID(ctx, rideID)
	if err != nil {
		return "", err
	}
	if rd.DriverID == actor.ID {
		return "", ErrSelfBooking
	}
	if rd.Status != StatusPending || rd.SeatsAvailable <= 0 {
		return "", ErrNotBookable
	}
	booked, err := s.repo.HasBooking(ctx, rideID, actor.ID)
	if err != nil {
		return "", err
	}
	if booked {
		return "", ErrAlreadyBooked
	}

	session, err := s.pay.CreateSession(ctx, checkout.SessionParams{
		Amount:      rd.Price,
		RideID:      rd.ID,
		PassengerID: actor.ID,
	})
	if err != nil {
		return "", fmt.Errorf("ride: create payment session: %w", err)
	}
	err = s.repo.CreateSession(ctx, CheckoutSession{
		ID:          session.ID,
		RideID:      rd.ID,
		PassengerID: actor.ID,
		Amount:      rd.Price,
		Status:      SessionCreated,
	})
	if err != nil {
		return "", err
	}
	return session.URL, nil
}

// ConfirmBooking is the payment-success callback. It re-validates the ride
// under a row lock, then books the seat, debits the fare and closes the
// session in one transaction. The session id doubles as an idempotency key,
// so a redelivered callback commits nothing twice.
//
// When the ride stopped being bookable between checkout and confirmation,
// the booking transaction rolls back and the session is flagged
// requires_refund so operations can return the captured payment.
func (s *Service) ConfirmBooking(ctx context.Context, sessionID string) error {
	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	switch sess.Status {
	case SessionCompleted:
		return nil
	case SessionCanceled, SessionRequiresRefund:
		return ErrConflict
	}

	err = s.confirmTx(ctx, sess)
	if err == nil || errors.Is(err, ErrDuplicateKey) {
		return nil
	}
	if bookingLost(err) {
		if markErr := s.repo.MarkSessionRequiresRefund(ctx, sessionID); markErr != nil {
			log.Printf("ride: flag session %s for refund: %v", sessionID, markErr)
		}
	}
	return err
}

func (s *Service) confirmTx(ctx context.Context, sess CheckoutSession) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ride: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.InsertIdempotencyKeyTx(ctx, tx, "checkout:"+sess.ID); err != nil {
		return err
	}
	rd, err := s.repo.GetForUpdateTx(ctx, tx, sess.RideID)
	if err != nil {
		return err
	}
	if rd.Status != StatusPending {
		return ErrNotBookable
	}
	if err := s.repo.DecrementSeatTx(ctx, tx, sess.RideID); err != nil {
		return err
	}
	if _, err := s.repo.InsertBookingTx(ctx, tx, sess.RideID, sess.PassengerID); err != nil {
		return err
	}
	if err := s.repo.DebitCreditsTx(ctx, tx, sess.PassengerID, sess.Amount); err != nil {
		return err
	}
	if err := s.repo.MarkSessionTx(ctx, tx, sess.ID, SessionCompleted); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// bookingLost reports whether the failure means payment was captured for a
// booking that can no longer happen, as opposed to an infrastructure error
// worth retrying.
func bookingLost(err error) bool {
	return errors.Is(err, ErrNotBookable) ||
		errors.Is(err, ErrNoSeats) ||
		errors.Is(err, ErrAlreadyBooked) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, profile.ErrInsufficientCredits)
}
