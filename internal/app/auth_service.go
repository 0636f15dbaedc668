// Package app holds the application services and business logic.
package app

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"weatherdash/internal/domain"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials indicates that the provided email or password was incorrect.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrSessionNotFound indicates that the requested session does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired indicates that the session has expired.
	ErrSessionExpired = errors.New("session expired")
	// ErrUserNotFound indicates that the user does not exist.
	ErrUserNotFound = errors.New("user not found")
)

// DefaultSessionTTL is the lifetime of a session when none is configured.
const DefaultSessionTTL = 24 * time.Hour

const minPasswordLen = 6

// dummyHash stands in for accounts that have no password to compare.
var dummyHash = sync.OnceValue(func() []byte {
	h, _ := bcrypt.GenerateFromPassword([]byte("weatherdash-dummy-password"), bcrypt.DefaultCost)
	return h
})

// ValidationError lists every reason a registration was refused.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Problems, "; ")
}

// RegisterInput is the registration form.
type RegisterInput struct {
	Name                 string `validate:"required"`
	Email                string `validate:"required,email"`
	Password             string `validate:"required,min=6"`
	PasswordConfirmation string `validate:"required,eqfield=Password"`
}

// Grant binds a freshly issued session token to a user.
type Grant struct {
	Token     string
	User      *domain.User
	ExpiresAt time.Time
}

// AuthService handles registration, authentication and session management.
type AuthService struct {
	users    domain.UserRepository
	sessions domain.SessionRepository
	validate *validator.Validate
	compare  func(hash, password []byte) error
	log      *zap.Logger
	ttl      time.Duration
	now      func() time.Time
}

// AuthOption customises an AuthService.
type AuthOption func(*AuthService)

// WithSessionTTL sets how long issued sessions stay valid.
func WithSessionTTL(ttl time.Duration) AuthOption {
	return func(s *AuthService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithAuthClock replaces time.Now, mainly for tests.
func WithAuthClock(now func() time.Time) AuthOption {
	return func(s *AuthService) { s.now = now }
}

// WithAuthLogger sets the logger used for best-effort write failures.
func WithAuthLogger(l *zap.Logger) AuthOption {
	return func(s *AuthService) {
		if l != nil {
			s.log = l
		}
	}
}

// NewAuthService creates a new authentication service.
func NewAuthService(users domain.UserRepository, sessions domain.SessionRepository, opts ...AuthOption) *AuthService {
	s := &AuthService{
		users:    users,
		sessions: sessions,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		compare:  bcrypt.CompareHashAndPassword,
		log:      zap.NewNop(),
		ttl:      DefaultSessionTTL,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register validates the form and stores a new user with a hashed password.
// Nothing is written unless every check passes.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = domain.NormalizeEmail(in.Email)

	problems := s.validationProblems(in)
	if len(problems) == 0 {
		existing, err := s.users.GetByEmail(ctx, in.Email)
		if err != nil {
			return nil, fmt.Errorf("lookup email: %w", err)
		}
		if existing != nil {
			problems = append(problems, "Email is already registered")
		}
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.Create(ctx, &domain.User{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	})
	if errors.Is(err, domain.ErrEmailTaken) {
		return nil, &ValidationError{Problems: []string{"Email is already registered"}}
	}
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (s *AuthService) validationProblems(in RegisterInput) []string {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}

	var problems []string
	for _, fe := range verrs {
		problems = append(problems, describeFieldError(fe))
	}
	return problems
}

func describeFieldError(fe validator.FieldError) string {
	label := map[string]string{
		"Name":                 "Name",
		"Email":                "Email",
		"Password":             "Password",
		"PasswordConfirmation": "Password confirmation",
	}[fe.Field()]

	switch fe.Tag() {
	case "required":
		return label + " is required"
	case "email":
		return "Email must be a valid address"
	case "min":
		return fmt.Sprintf("Password must be at least %d characters", minPasswordLen)
	case "eqfield":
		return "Passwords do not match"
	default:
		return label + " is invalid"
	}
}

// Authenticate verifies credentials and opens a session.
func (s *AuthService) Authenticate(ctx context.Context, email, password string) (*Grant, error) {
	user, err := s.users.GetByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	// Unknown emails and password-less SSO accounts cost the same bcrypt work
	// as a wrong password.
	if user == nil || user.PasswordHash == "" {
		_ = s.compare(dummyHash(), []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err := s.compare([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	now := s.now().UTC()
	if err := s.users.TouchLastLogin(ctx, user.ID, now); err != nil {
		s.log.Warn("failed to record last login", zap.Int64("user_id", user.ID), zap.Error(err))
	} else {
		user.LastLogin = &now
	}

	return s.openSession(ctx, user)
}

func (s *AuthService) openSession(ctx context.Context, user *domain.User) (*Grant, error) {
	token, err := generateToken()
	if err != nil {
		return nil, err
	}

	expiresAt := s.now().Add(s.ttl)
	if err := s.sessions.Create(ctx, user.ID, token, expiresAt); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &Grant{Token: token, User: user, ExpiresAt: expiresAt}, nil
}

// Logout invalidates a session. Unknown tokens are ignored.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.sessions.Delete(ctx, token)
}

// ValidateSession resolves a session token to its user.
func (s *AuthService) ValidateSession(ctx context.Context, token string) (*domain.User, error) {
	if token == "" {
		return nil, ErrSessionNotFound
	}
	session, err := s.sessions.GetByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("lookup session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	if session.Expired(s.now()) {
		_ = s.sessions.Delete(ctx, token)
		return nil, ErrSessionExpired
	}

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// LoginWithEmail creates a session for a user already authenticated by an
// identity provider, provisioning the account on first sight.
func (s *AuthService) LoginWithEmail(ctx context.Context, email, name string) (*Grant, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return nil, errors.New("identity provider returned no email")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user == nil {
		if name == "" {
			name = email
		}
		// Empty hash: password login stays impossible for this account.
		user, err = s.users.Create(ctx, &domain.User{Name: name, Email: email, CreatedAt: s.now().UTC()})
		if errors.Is(err, domain.ErrEmailTaken) {
			user, err = s.users.GetByEmail(ctx, email)
		}
		if err != nil {
			return nil, fmt.Errorf("provision user: %w", err)
		}
		if user == nil {
			return nil, ErrUserNotFound
		}
	}

	now := s.now().UTC()
	if err := s.users.TouchLastLogin(ctx, user.ID, now); err != nil {
		s.log.Warn("failed to record last login", zap.Int64("user_id", user.ID), zap.Error(err))
	}
	return s.openSession(ctx, user)
}

// SeedAdmin creates the administrator account, or promotes it when the email
// is already registered.
func (s *AuthService) SeedAdmin(ctx context.Context, name, email, password string) (*domain.User, error) {
	email = domain.NormalizeEmail(email)
	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("lookup admin: %w", err)
	}
	if existing != nil {
		if err := s.users.SetAdmin(ctx, existing.ID, true); err != nil {
			return nil, fmt.Errorf("promote admin: %w", err)
		}
		existing.IsAdmin = true
		return existing, nil
	}

	user, err := s.Register(ctx, RegisterInput{
		Name:                 name,
		Email:                email,
		Password:             password,
		PasswordConfirmation: password,
	})
	if err != nil {
		return nil, err
	}
	if err := s.users.SetAdmin(ctx, user.ID, true); err != nil {
		return nil, fmt.Errorf("promote admin: %w", err)
	}
	user.IsAdmin = true
	return user, nil
}

// PurgeExpiredSessions removes every expired session from the store.
func (s *AuthService) PurgeExpiredSessions(ctx context.Context) error {
	return s.sessions.DeleteExpired(ctx)
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
