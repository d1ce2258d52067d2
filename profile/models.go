package profile

import (
	"time"

	"ecoride/auth"
)

// Profile captures the subset of account data exposed through the public API
// layer, plus the credits balance mutated by the ride engine.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Phone     *string   `json:"phone,omitempty"`
	Photo     *string   `json:"photo,omitempty"`
	Role      auth.Role `json:"role"`
	Credits   int       `json:"credits"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UpdateParams enumerates the profile fields a user may change. Nil pointers
// leave the column untouched.
type UpdateParams struct {
	Name  *string    `json:"name"`
	Phone *string    `json:"phone"`
	Photo *string    `json:"photo"`
	Role  *auth.Role `json:"role"`
}
