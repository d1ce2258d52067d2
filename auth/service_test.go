package auth

import (
	"context"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type fakeRepo struct {
	users      map[string]User
	authorized map[string]bool
	suspended  map[string]bool
	created    []CreateUserParams
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:      make(map[string]User),
		authorized: make(map[string]bool),
		suspended:  make(map[string]bool),
	}
}

func (f *fakeRepo) CreateUser(_ context.Context, params CreateUserParams) (User, error) {
	if _, ok := f.users[params.Email]; ok {
		return User{}, ErrDuplicateEmail
	}
	f.created = append(f.created, params)
	user := User{
		ID:           "user-" + params.Email,
		Email:        params.Email,
		Name:         params.Name,
		PasswordHash: params.PasswordHash,
		Role:         params.Role,
		Credits:      20,
	}
	f.users[params.Email] = user
	return user, nil
}

func (f *fakeRepo) GetUserByEmail(_ context.Context, email string) (User, error) {
	user, ok := f.users[email]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (f *fakeRepo) GetUserByID(_ context.Context, id string) (User, error) {
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (f *fakeRepo) IsEmailAuthorized(_ context.Context, email string, role Role) (bool, error) {
	if !role.IsStaff() {
		return true, nil
	}
	return f.authorized[email], nil
}

func (f *fakeRepo) IsSuspended(_ context.Context, id string) (bool, error) {
	return f.suspended[id], nil
}

func TestRegister_DefaultsToPassenger(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, "secret", time.Hour)

	user, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "rider@example.com",
		Password: "longenough",
		Name:     "Rider",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Role != RolePassenger {
		t.Errorf("expected passenger role, got %q", user.Role)
	}
}

func TestRegister_WeakPassword(t *testing.T) {
	svc := NewService(newFakeRepo(), "secret", time.Hour)

	_, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "rider@example.com",
		Password: "short",
		Name:     "Rider",
	})
	if err != ErrWeakPassword {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
}

func TestRegister_StaffRequiresAllowList(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, "secret", time.Hour)

	_, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "staff@example.com",
		Password: "longenough",
		Name:     "Staff",
		Role:     RoleEmployee,
	})
	if err != ErrNotAuthorized {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}

	repo.authorized["staff@example.com"] = true
	user, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "staff@example.com",
		Password: "longenough",
		Name:     "Staff",
		Role:     RoleEmployee,
	})
	if err != nil {
		t.Fatalf("register allow-listed staff: %v", err)
	}
	if user.Role != RoleEmployee {
		t.Errorf("expected employee role, got %q", user.Role)
	}
}

func TestLogin_RoundTripsToken(t *testing.T) {
	repo := newFakeRepo()
	hash, _ := bcrypt.GenerateFromPassword([]byte("longenough"), bcrypt.MinCost)
	repo.users["rider@example.com"] = User{
		ID:           "user-1",
		Email:        "rider@example.com",
		PasswordHash: string(hash),
		Role:         RoleBoth,
	}

	svc := NewService(repo, "secret", time.Hour)
	result, err := svc.Login(context.Background(), LoginRequest{Email: "rider@example.com", Password: "longenough"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	actor, err := svc.VerifyToken(result.Token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if actor.ID != "user-1" || actor.Role != RoleBoth {
		t.Errorf("unexpected actor: %+v", actor)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	repo := newFakeRepo()
	hash, _ := bcrypt.GenerateFromPassword([]byte("correct-pass"), bcrypt.MinCost)
	repo.users["rider@example.com"] = User{ID: "user-1", Email: "rider@example.com", PasswordHash: string(hash), Role: RolePassenger}

	svc := NewService(repo, "secret", time.Hour)
	_, err := svc.Login(context.Background(), LoginRequest{Email: "rider@example.com", Password: "wrong-pass"})
	if err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLogin_SuspendedAccount(t *testing.T) {
	repo := newFakeRepo()
	hash, _ := bcrypt.GenerateFromPassword([]byte("longenough"), bcrypt.MinCost)
	repo.users["rider@example.com"] = User{ID: "user-1", Email: "rider@example.com", PasswordHash: string(hash), Role: RolePassenger}
	repo.suspended["user-1"] = true

	svc := NewService(repo, "secret", time.Hour)
	_, err := svc.Login(context.Background(), LoginRequest{Email: "rider@example.com", Password: "longenough"})
	if err != ErrSuspended {
		t.Fatalf("expected ErrSuspended, got %v", err)
	}
}

func TestRoleHelpers(t *testing.T) {
	if !RoleDriver.CanDrive() || !RoleBoth.CanDrive() {
		t.Error("driver and both should be allowed to drive")
	}
	if RolePassenger.CanDrive() {
		t.Error("passenger should not be allowed to drive")
	}
	if !RoleEmployee.IsStaff() || !RoleAdmin.IsStaff() {
		t.Error("employee and admin should be staff")
	}
	if RoleBoth.IsStaff() {
		t.Error("both should not be staff")
	}
}
