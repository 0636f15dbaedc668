// Package domain contains the core business entities and interfaces.
package domain

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrEmailTaken is returned by a UserRepository when the normalised email is
// already registered.
var ErrEmailTaken = errors.New("email already registered")

// User represents a registered account.
type User struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	IsAdmin      bool       `json:"isAdmin"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastLogin    *time.Time `json:"lastLogin,omitempty"`
}

// Session represents an active user session.
type Session struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// Expired reports whether the session is no longer valid at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// NormalizeEmail is the canonical form used for every credential lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UserRepository defines the port for user persistence operations.
// Lookups return (nil, nil) when the user does not exist.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id int64) (*User, error)
	Create(ctx context.Context, u *User) (*User, error)
	TouchLastLogin(ctx context.Context, id int64, at time.Time) error
	SetAdmin(ctx context.Context, id int64, admin bool) error
}

// SessionRepository defines the port for session persistence operations.
// GetByToken returns (nil, nil) for an unknown token.
type SessionRepository interface {
	Create(ctx context.Context, userID int64, token string, expiresAt time.Time) error
	GetByToken(ctx context.Context, token string) (*Session, error)
	Delete(ctx context.Context, token string) error
	DeleteExpired(ctx context.Context) error
}
