package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/warp/debt-ledger/auth"
)

// =============================================================================
// USERS & SESSIONS (auth.Store)
// =============================================================================

var _ auth.Store = (*Store)(nil)

const userColumns = "id, phone, name, role, active, created_at"

// GetUserByPhone retrieves a user by phone number.
func (s *Store) GetUserByPhone(ctx context.Context, phone string) (*auth.User, error) {
	defer s.rlock()()
	return s.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE phone = ?", phone)
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, id int64) (*auth.User, error) {
	defer s.rlock()()
	return s.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
}

func (s *Store) getUser(ctx context.Context, query string, arg any) (*auth.User, error) {
	var u auth.User
	err := s.on(s.db).queryRow(ctx, query, arg).Scan(
		&u.ID, &u.Phone, &u.Name, &u.Role, &u.Active, timeColumn{&u.CreatedAt},
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &u, nil
}

// SaveUser upserts a user keyed by phone. The creation time of an existing
// user is kept, and so is its name when u.Name is empty.
func (s *Store) SaveUser(ctx context.Context, u *auth.User) error {
	defer s.lock()()

	query := `
		INSERT INTO users (phone, name, role, active, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(phone) DO UPDATE SET
			name = COALESCE(NULLIF(excluded.name, ''), users.name),
			role = excluded.role,
			active = excluded.active
		RETURNING id, name, created_at
	`
	c := s.on(s.db)
	err := c.queryRow(ctx, query, u.Phone, u.Name, u.Role, u.Active, c.d.time(u.CreatedAt)).
		Scan(&u.ID, &u.Name, timeColumn{&u.CreatedAt})
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// SaveSession stores a new session.
func (s *Store) SaveSession(ctx context.Context, sess auth.Session) error {
	defer s.lock()()

	c := s.on(s.db)
	_, err := c.exec(ctx,
		"INSERT INTO sessions (token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)",
		sess.Token, sess.UserID, c.d.time(sess.CreatedAt), c.d.time(sess.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by token.
func (s *Store) GetSession(ctx context.Context, token string) (*auth.Session, error) {
	defer s.rlock()()

	var sess auth.Session
	err := s.on(s.db).queryRow(ctx,
		"SELECT token, user_id, created_at, expires_at FROM sessions WHERE token = ?", token,
	).Scan(&sess.Token, &sess.UserID, timeColumn{&sess.CreatedAt}, timeColumn{&sess.ExpiresAt})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return &sess, nil
}

// DeleteSession removes a session.
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	defer s.lock()()

	_, err := s.on(s.db).exec(ctx, "DELETE FROM sessions WHERE token = ?", token)
	return err
}

// DeleteExpiredSessions removes sessions whose expiry is not after now.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	defer s.lock()()

	c := s.on(s.db)
	res, err := c.exec(ctx, "DELETE FROM sessions WHERE expires_at <= ?", c.d.time(now))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}
