/*
auth.go - Operator login and server-side sessions

PURPOSE:
  Operators log in with a registered phone number and receive an opaque
  session token. Sessions live in the store with an explicit expiry, so
  logout and expiry both take effect immediately on the server.

FLOW:
  Login(phone)         -> active user? -> new Session{uuid, now+TTL}
  Authenticate(token)  -> session found and not expired -> active user
  Logout(token)        -> session deleted
  PurgeExpired()       -> periodic cleanup from the scheduler

SEE ALSO:
  - api/middleware.go: Bearer token extraction
  - store/sqlstore/auth.go: users and sessions tables
*/
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultSessionTTL is used when the service is built with a zero TTL.
const DefaultSessionTTL = 24 * time.Hour

const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
)

var (
	// ErrUnauthenticated covers unknown phones, inactive users and
	// missing or expired sessions. Callers must not tell them apart.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrInvalidInput is returned for a blank phone number.
	ErrInvalidInput = errors.New("invalid input")
)

// User is an operator allowed to use the API.
type User struct {
	ID        int64
	Phone     string
	Name      string
	Role      string
	Active    bool
	CreatedAt time.Time
}

// Session is a server-side login.
type Session struct {
	Token     string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session is no longer valid at now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Store persists users and sessions.
type Store interface {
	// GetUserByPhone returns nil, nil when no user has that phone.
	GetUserByPhone(ctx context.Context, phone string) (*User, error)
	GetUser(ctx context.Context, id int64) (*User, error)

	// SaveUser inserts or updates the user keyed by phone and sets u.ID.
	SaveUser(ctx context.Context, u *User) error

	SaveSession(ctx context.Context, s Session) error
	// GetSession returns nil, nil for an unknown token.
	GetSession(ctx context.Context, token string) (*Session, error)
	DeleteSession(ctx context.Context, token string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// Service implements login, logout and token checks.
type Service struct {
	store    Store
	log      logrus.FieldLogger
	ttl      time.Duration
	now      func() time.Time
	newToken func() string
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service. A zero ttl means DefaultSessionTTL.
func NewService(store Store, logger logrus.FieldLogger, ttl time.Duration, opts ...Option) *Service {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	s := &Service{
		store:    store,
		log:      logger,
		ttl:      ttl,
		now:      time.Now,
		newToken: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login opens a session for the active user registered with phone.
func (s *Service) Login(ctx context.Context, phone string) (*Session, *User, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, nil, fmt.Errorf("%w: phone is required", ErrInvalidInput)
	}

	u, err := s.store.GetUserByPhone(ctx, phone)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if u == nil || !u.Active {
		s.log.WithField("phone", maskPhone(phone)).Warn("login refused")
		return nil, nil, ErrUnauthenticated
	}

	now := s.now().UTC()
	sess := Session{
		Token:     s.newToken(),
		UserID:    u.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.store.SaveSession(ctx, sess); err != nil {
		return nil, nil, fmt.Errorf("failed to save session: %w", err)
	}

	s.log.WithField("user_id", u.ID).Info("user logged in")
	return &sess, u, nil
}

// Authenticate resolves a token to its user. Expired sessions are deleted.
func (s *Service) Authenticate(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}
	sess, err := s.store.GetSession(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if sess == nil {
		return nil, ErrUnauthenticated
	}
	if sess.Expired(s.now()) {
		if err := s.store.DeleteSession(ctx, token); err != nil {
			s.log.WithError(err).Warn("failed to delete expired session")
		}
		return nil, ErrUnauthenticated
	}

	u, err := s.store.GetUser(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if u == nil || !u.Active {
		return nil, ErrUnauthenticated
	}
	return u, nil
}

// Logout deletes the session. Unknown tokens are ignored.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.store.DeleteSession(ctx, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// PurgeExpired removes every expired session and returns how many were removed.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpiredSessions(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", err)
	}
	return n, nil
}

// EnsureUser creates the operator or updates name and role of an existing
// one, and (re)activates it.
func (s *Service) EnsureUser(ctx context.Context, phone, name, role string) (*User, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, fmt.Errorf("%w: phone is required", ErrInvalidInput)
	}
	if role == "" {
		role = RoleOperator
	}
	if role != RoleAdmin && role != RoleOperator {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}

	u := &User{
		Phone:     phone,
		Name:      strings.TrimSpace(name),
		Role:      role,
		Active:    true,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.SaveUser(ctx, u); err != nil {
		return nil, fmt.Errorf("failed to save user: %w", err)
	}

	s.log.WithFields(logrus.Fields{"user_id": u.ID, "role": u.Role}).Info("user saved")
	return u, nil
}

// maskPhone keeps the last four digits for log lines.
func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
