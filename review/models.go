package review

import "time"

// Status tracks the moderation state. Every submission, including a
// resubmission over an existing review, starts back at pending.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Review is one passenger's rating of one driver. The (reviewer, driver)
// pair is unique: resubmitting replaces the previous text and rating in
// place rather than adding a second row.
type Review struct {
	ID         string
	DriverID   string
	ReviewerID string
	Rating     int
	Comment    *string
	IsPositive *bool
	Status     Status
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SubmitParams is the reviewer's input.
type SubmitParams struct {
	DriverID   string
	Rating     int
	Comment    *string
	IsPositive *bool
}

// DriverRating aggregates the approved reviews for one driver.
type DriverRating struct {
	DriverID string
	Average  float64
	Count    int
}
