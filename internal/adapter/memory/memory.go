// Package memory implements an in-memory repository for development and testing.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"weatherdash/internal/domain"
)

// DB implements an in-memory database storage.
type DB struct {
	mu       sync.Mutex
	users    []*domain.User
	searches []domain.SearchRecord
	sessions map[string]*domain.Session

	userIDCounter int64
}

// New creates a new in-memory database.
func New() *DB {
	return &DB{
		sessions: make(map[string]*domain.Session),
	}
}

// Ensure interfaces are met.
var _ domain.UserRepository = (*DB)(nil)
var _ domain.SearchRepository = (*DB)(nil)
var _ domain.SessionRepository = (*SessionRepo)(nil)

// Close is a no-op kept for parity with the postgres adapter.
func (db *DB) Close() error { return nil }

func copyUser(u *domain.User) *domain.User {
	c := *u
	if u.LastLogin != nil {
		t := *u.LastLogin
		c.LastLogin = &t
	}
	return &c
}

// --- UserRepository ---

// GetByEmail retrieves a user by normalised email.
func (db *DB) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	email = domain.NormalizeEmail(email)
	for _, u := range db.users {
		if u.Email == email {
			return copyUser(u), nil
		}
	}
	return nil, nil
}

// GetByID retrieves a user by ID.
func (db *DB) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, u := range db.users {
		if u.ID == id {
			return copyUser(u), nil
		}
	}
	return nil, nil
}

// Create creates a new user.
func (db *DB) Create(ctx context.Context, in *domain.User) (*domain.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	email := domain.NormalizeEmail(in.Email)
	for _, u := range db.users {
		if u.Email == email {
			return nil, domain.ErrEmailTaken
		}
	}

	db.userIDCounter++
	u := copyUser(in)
	u.ID = db.userIDCounter
	u.Email = email
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	db.users = append(db.users, u)
	return copyUser(u), nil
}

// TouchLastLogin sets the last login time of a user.
func (db *DB) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, u := range db.users {
		if u.ID == id {
			t := at.UTC()
			u.LastLogin = &t
			return nil
		}
	}
	return nil
}

// SetAdmin sets the admin flag of a user.
func (db *DB) SetAdmin(ctx context.Context, id int64, admin bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, u := range db.users {
		if u.ID == id {
			u.IsAdmin = admin
			return nil
		}
	}
	return nil
}

// CountUsers returns the number of stored users.
func (db *DB) CountUsers() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.users)
}

// --- SearchRepository ---

// Add appends a search record.
func (db *DB) Add(ctx context.Context, rec domain.SearchRecord) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	rec.CreatedAt = rec.CreatedAt.UTC()
	db.searches = append(db.searches, rec)
	return nil
}

// ListRecent lists the most recent searches of a user.
func (db *DB) ListRecent(ctx context.Context, userID int64, limit int) ([]domain.SearchRecord, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	result := make([]domain.SearchRecord, 0, len(db.searches))
	// walk backwards so ties on CreatedAt keep the latest insert first
	for i := len(db.searches) - 1; i >= 0; i-- {
		if db.searches[i].UserID == userID {
			result = append(result, db.searches[i])
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// --- SessionRepository ---

// SessionRepo implements session persistence.
type SessionRepo struct {
	db *DB
}

// NewSessionRepo creates a new session repository.
func (db *DB) NewSessionRepo() *SessionRepo {
	return &SessionRepo{db: db}
}

// Create creates a new session.
func (r *SessionRepo) Create(ctx context.Context, userID int64, token string, expiresAt time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	r.db.sessions[token] = &domain.Session{
		Token:     token,
		UserID:    userID,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}
	return nil
}

// GetByToken retrieves a session by token.
func (r *SessionRepo) GetByToken(ctx context.Context, token string) (*domain.Session, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if s, ok := r.db.sessions[token]; ok {
		c := *s
		return &c, nil
	}
	return nil, nil
}

// Delete deletes a session.
func (r *SessionRepo) Delete(ctx context.Context, token string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	delete(r.db.sessions, token)
	return nil
}

// DeleteExpired deletes all expired sessions.
func (r *SessionRepo) DeleteExpired(ctx context.Context) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	now := time.Now()
	for k, v := range r.db.sessions {
		if v.Expired(now) {
			delete(r.db.sessions, k)
		}
	}
	return nil
}

// Count returns the number of live session entries.
func (r *SessionRepo) Count() int {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return len(r.db.sessions)
}
