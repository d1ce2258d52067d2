package auth

import "time"

type Role string

const (
	RolePassenger Role = "passenger"
	RoleDriver    Role = "driver"
	RoleBoth      Role = "both"
	RoleEmployee  Role = "employee"
	RoleAdmin     Role = "admin"
)

// CanDrive reports whether the role permits publishing rides.
func (r Role) CanDrive() bool {
	return r == RoleDriver || r == RoleBoth
}

// IsStaff reports whether the role grants moderation access.
func (r Role) IsStaff() bool {
	return r == RoleEmployee || r == RoleAdmin
}

// Actor identifies the authenticated caller of an operation. It is passed
// explicitly into every service method that mutates state so authorization is
// decided at mutation time, not at page load.
type Actor struct {
	ID   string
	Role Role
}

// User is the domain representation of an account. It mirrors the profiles
// table and carries no JSON annotations so it can be reused by different
// presentation layers.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Phone        *string
	Photo        *string
	Role         Role
	Credits      int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest contains account registration data supplied by callers.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     Role   `json:"role"`
}

// LoginRequest contains login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
