package service

import "errors"

var (
	// ErrInvalidCredentials is returned on bad email/password pairs and
	// inactive accounts alike; the message never says which.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrTokenInvalid covers every refresh-token failure: malformed, bad
	// signature, expired, wrong type, or blacklisted. Callers must not be
	// able to distinguish them.
	ErrTokenInvalid = errors.New("invalid or expired refresh token")
	// ErrUnauthorized is returned for missing or invalid access tokens.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrResetTokenInvalid covers unknown, expired, and already-consumed
	// password-reset tokens.
	ErrResetTokenInvalid = errors.New("invalid or expired password reset token")
	// ErrEmailExists is returned when registration collides on email.
	ErrEmailExists = errors.New("email already registered")
	// ErrUserNotFound is returned by the reset-initiate flow when no
	// active account matches the email.
	ErrUserNotFound = errors.New("no active user found with this email address")
	// ErrUnavailable is returned when a backing store cannot be reached
	// on a path that must fail closed.
	ErrUnavailable = errors.New("dependency unavailable")
)
