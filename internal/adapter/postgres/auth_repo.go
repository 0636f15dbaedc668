// Package postgres implements the domain repositories using PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"weatherdash/internal/domain"
)

var (
	_ domain.UserRepository    = (*DB)(nil)
	_ domain.SessionRepository = (*SessionRepo)(nil)
)

type userRow struct {
	ID           int64        `db:"id"`
	Name         string       `db:"name"`
	Email        string       `db:"email"`
	PasswordHash string       `db:"password_hash"`
	IsAdmin      bool         `db:"is_admin"`
	CreatedAt    time.Time    `db:"created_at"`
	LastLogin    sql.NullTime `db:"last_login"`
}

func (r userRow) toDomain() *domain.User {
	u := &domain.User{
		ID:           r.ID,
		Name:         r.Name,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		IsAdmin:      r.IsAdmin,
		CreatedAt:    r.CreatedAt,
	}
	if r.LastLogin.Valid {
		t := r.LastLogin.Time
		u.LastLogin = &t
	}
	return u
}

const userColumns = "id, name, email, password_hash, is_admin, created_at, last_login"

func (d *DB) getUser(ctx context.Context, query string, arg any) (*domain.User, error) {
	var row userRow
	err := d.sql.GetContext(ctx, &row, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

// GetByEmail retrieves a user by email, ignoring case.
func (d *DB) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return d.getUser(ctx,
		"SELECT "+userColumns+" FROM users WHERE LOWER(email) = $1",
		domain.NormalizeEmail(email),
	)
}

// GetByID retrieves a user by ID.
func (d *DB) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return d.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id)
}

// Create creates a new user.
func (d *DB) Create(ctx context.Context, in *domain.User) (*domain.User, error) {
	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var row userRow
	err := d.sql.GetContext(ctx, &row,
		"INSERT INTO users (name, email, password_hash, is_admin, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING "+userColumns,
		in.Name, domain.NormalizeEmail(in.Email), in.PasswordHash, in.IsAdmin, createdAt,
	)
	if isUniqueViolation(err) {
		return nil, domain.ErrEmailTaken
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

// TouchLastLogin sets the last login time of a user.
func (d *DB) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	_, err := d.sql.ExecContext(ctx, "UPDATE users SET last_login = $1 WHERE id = $2", at.UTC(), id)
	return err
}

// SetAdmin sets the admin flag of a user.
func (d *DB) SetAdmin(ctx context.Context, id int64, admin bool) error {
	_, err := d.sql.ExecContext(ctx, "UPDATE users SET is_admin = $1 WHERE id = $2", admin, id)
	return err
}

// SessionRepo implements session repository operations on DB.
type SessionRepo struct {
	db *DB
}

// NewSessionRepo wraps a DB as a SessionRepository.
func NewSessionRepo(db *DB) *SessionRepo {
	return &SessionRepo{db: db}
}

// Create creates a new session.
func (r *SessionRepo) Create(ctx context.Context, userID int64, token string, expiresAt time.Time) error {
	_, err := r.db.sql.ExecContext(ctx,
		"INSERT INTO sessions (user_id, token, expires_at, created_at) VALUES ($1, $2, $3, $4)",
		userID, token, expiresAt.UTC(), time.Now().UTC(),
	)
	return err
}

// GetByToken retrieves a session by token.
func (r *SessionRepo) GetByToken(ctx context.Context, token string) (*domain.Session, error) {
	var row struct {
		Token     string    `db:"token"`
		UserID    int64     `db:"user_id"`
		ExpiresAt time.Time `db:"expires_at"`
		CreatedAt time.Time `db:"created_at"`
	}
	err := r.db.sql.GetContext(ctx, &row,
		"SELECT token, user_id, expires_at, created_at FROM sessions WHERE token = $1",
		token,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &domain.Session{Token: row.Token, UserID: row.UserID, ExpiresAt: row.ExpiresAt, CreatedAt: row.CreatedAt}, nil
}

// Delete deletes a session by token.
func (r *SessionRepo) Delete(ctx context.Context, token string) error {
	_, err := r.db.sql.ExecContext(ctx, "DELETE FROM sessions WHERE token = $1", token)
	return err
}

// DeleteExpired deletes all expired sessions.
func (r *SessionRepo) DeleteExpired(ctx context.Context) error {
	_, err := r.db.sql.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at <= $1", time.Now().UTC())
	return err
}
