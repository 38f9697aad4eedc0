package store

import (
	"context"
	"errors"
)

// ErrUserNotFound is returned when no active user matches the lookup.
var ErrUserNotFound = errors.New("user not found")

// User is the subset of the web application's auth user row the gateway reads.
type User struct {
	ID       int64
	Username string
	IsStaff  bool
}

// UserStore handles read-only user lookups.
type UserStore interface {
	// GetActiveUser retrieves an active user by ID.
	// Inactive and missing users both yield ErrUserNotFound.
	GetActiveUser(ctx context.Context, id int64) (*User, error)

	// Close closes the underlying database connection.
	Close() error
}
