// Package redis stores sessions in Redis with native key expiry.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"weatherdash/internal/domain"

	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "session:"

// Config configures the Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
}

type sessionValue struct {
	UserID    int64     `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionStore implements domain.SessionRepository.
type SessionStore struct {
	client *goredis.Client
	now    func() time.Time
}

var _ domain.SessionRepository = (*SessionStore)(nil)

// NewSessionStore connects to Redis and verifies the connection.
func NewSessionStore(ctx context.Context, cfg Config) (*SessionStore, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &SessionStore{client: client, now: time.Now}, nil
}

// Close closes the client.
func (s *SessionStore) Close() error {
	return s.client.Close()
}

// Create stores a session that Redis expires at expiresAt.
func (s *SessionStore) Create(ctx context.Context, userID int64, token string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(sessionValue{UserID: userID, ExpiresAt: expiresAt.UTC(), CreatedAt: s.now().UTC()})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, keyPrefix+token, raw, ttl).Err()
}

// GetByToken loads a session, returning nil when it is unknown or expired.
func (s *SessionStore) GetByToken(ctx context.Context, token string) (*domain.Session, error) {
	raw, err := s.client.Get(ctx, keyPrefix+token).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var v sessionValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &domain.Session{Token: token, UserID: v.UserID, ExpiresAt: v.ExpiresAt, CreatedAt: v.CreatedAt}, nil
}

// Delete removes a session.
func (s *SessionStore) Delete(ctx context.Context, token string) error {
	return s.client.Del(ctx, keyPrefix+token).Err()
}

// DeleteExpired is a no-op; keys carry their own TTL.
func (s *SessionStore) DeleteExpired(context.Context) error {
	return nil
}
