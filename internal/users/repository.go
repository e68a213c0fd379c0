package users

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no user matches the lookup.
	ErrNotFound = errors.New("user not found")
	// ErrEmailTaken is returned when a create collides on the email
	// unique constraint.
	ErrEmailTaken = errors.New("email already registered")
	// ErrUnavailable is returned when the user store cannot be reached.
	ErrUnavailable = errors.New("user store unavailable")
)

// User is a persisted account record. PasswordHash is PHC-encoded and
// never leaves the service layer.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	FullName     string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Repository is the user-record collaborator of the credential service.
// The credential core treats it as external storage; only creation,
// lookup, and password-hash updates are required.
type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id int64) (*User, error)
	UpdatePasswordHash(ctx context.Context, id int64, hash string) error
}
