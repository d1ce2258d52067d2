// Package admin covers the staff back office: account suspension and the
// allow-lists that gate employee and admin registration.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ecoride/auth"
)

var (
	ErrNotAdmin         = errors.New("admin: operation requires admin role")
	ErrNotStaff         = errors.New("admin: operation requires staff role")
	ErrAlreadySuspended = errors.New("admin: user is already suspended")
	ErrUserNotFound     = errors.New("admin: user not found")
)

// Account is the staff view of a user: profile fields plus suspension state.
type Account struct {
	ID          string
	Email       string
	Name        string
	Role        auth.Role
	Credits     int
	Suspended   bool
	SuspendedAt *time.Time
	CreatedAt   time.Time
}

type Service struct {
	pool *pgxpool.Pool
}

func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// SuspendUser blocks the account from logging in. Existing tokens keep
// working until they expire; the suspension check runs at login.
func (s *Service) SuspendUser(ctx context.Context, actor auth.Actor, userID, reason string) error {
	if !actor.Role.IsStaff() {
		return ErrNotStaff
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO suspended_users (id, reason, suspended_by) VALUES ($1, $2, $3)`,
		userID, reason, actor.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return ErrAlreadySuspended
			case "23503":
				return ErrUserNotFound
			}
		}
		return fmt.Errorf("admin: suspend user: %w", err)
	}
	return nil
}

// ReinstateUser lifts a suspension.
func (s *Service) ReinstateUser(ctx context.Context, actor auth.Actor, userID string) error {
	if !actor.Role.IsStaff() {
		return ErrNotStaff
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM suspended_users WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("admin: reinstate user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// AuthorizeStaff adds an email to the employee or admin allow-list, letting
// the holder register with that role. Admin-only.
func (s *Service) AuthorizeStaff(ctx context.Context, actor auth.Actor, email string, role auth.Role) error {
	if actor.Role != auth.RoleAdmin {
		return ErrNotAdmin
	}
	table, err := allowListTable(role)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+table+` (email) VALUES ($1) ON CONFLICT (email) DO NOTHING`,
		strings.ToLower(email))
	if err != nil {
		return fmt.Errorf("admin: authorize staff: %w", err)
	}
	return nil
}

// RevokeStaffAuthorization removes an email from an allow-list. Accounts
// already registered keep their role.
func (s *Service) RevokeStaffAuthorization(ctx context.Context, actor auth.Actor, email string, role auth.Role) error {
	if actor.Role != auth.RoleAdmin {
		return ErrNotAdmin
	}
	table, err := allowListTable(role)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM `+table+` WHERE email = $1`, strings.ToLower(email)); err != nil {
		return fmt.Errorf("admin: revoke staff authorization: %w", err)
	}
	return nil
}

// ListAccounts returns every profile with its suspension state, newest
// first.
func (s *Service) ListAccounts(ctx context.Context, actor auth.Actor) ([]Account, error) {
	if !actor.Role.IsStaff() {
		return nil, ErrNotStaff
	}
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.email, p.name, p.role, p.credits,
		       s.id IS NOT NULL, s.suspended_at, p.created_at
		FROM profiles p
		LEFT JOIN suspended_users s ON s.id = p.id
		ORDER BY p.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("admin: list accounts: %w", err)
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.Email, &a.Name, &a.Role, &a.Credits,
			&a.Suspended, &a.SuspendedAt, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("admin: scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func allowListTable(role auth.Role) (string, error) {
	switch role {
	case auth.RoleEmployee:
		return "authorized_employees", nil
	case auth.RoleAdmin:
		return "authorized_admins", nil
	default:
		return "", fmt.Errorf("admin: no allow-list for role %q", role)
	}
}
