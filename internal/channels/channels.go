// Package channels is the registry of connected social accounts. The engine
// only reads from it: credentials and connection health for the send path.
package channels

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// ConnectionStatus is the health of a channel's platform connection.
type ConnectionStatus string

const (
	ConnectionHealthy ConnectionStatus = "healthy"
	ConnectionExpired ConnectionStatus = "expired"
	ConnectionRevoked ConnectionStatus = "revoked"
)

var ErrNotFound = errors.New("channel not found")

// Channel is the Go representation of a channels row: one connected
// social account.
type Channel struct {
	ID               uuid.UUID        `json:"id"`
	PlatformUserID   string           `json:"platform_user_id"`
	Username         string           `json:"username"`
	ConnectionStatus ConnectionStatus `json:"connection_status"`
	AccessToken      string           `json:"-"`
	TokenExpiresAt   time.Time        `json:"token_expires_at"`
	CreatedAt        time.Time        `json:"created_at"`
}

// Healthy reports whether the channel can be used for sending.
func (c *Channel) Healthy() bool {
	return c.ConnectionStatus == ConnectionHealthy
}

// TokenSource exposes the stored credential as an oauth2 token source for
// platform API clients.
func (c *Channel) TokenSource() oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: c.AccessToken,
		Expiry:      c.TokenExpiresAt,
	})
}

// Store handles read access to the channels table.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Channel, error) {
	var c Channel
	err := s.db.QueryRowContext(ctx,
		`SELECT id, platform_user_id, username, connection_status, access_token,
		 COALESCE(token_expires_at, 'epoch'::timestamptz), created_at
		FROM channels WHERE id = $1`, id,
	).Scan(&c.ID, &c.PlatformUserID, &c.Username, &c.ConnectionStatus, &c.AccessToken,
		&c.TokenExpiresAt, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SetConnectionStatus records a health change observed by the send path,
// e.g. the platform rejecting the stored token.
func (s *Store) SetConnectionStatus(ctx context.Context, id uuid.UUID, status ConnectionStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE channels SET connection_status = $1 WHERE id = $2`, status, id)
	return err
}
