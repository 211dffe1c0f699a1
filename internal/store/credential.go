package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Credential is one user's QBO connection: the realm to address and the token
// pair to authenticate with. The OAuth connect flow that first writes this
// record lives outside this service.
type Credential struct {
	UserID       uuid.UUID
	RealmID      string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	UpdatedAt    time.Time
}

// GetCredential loads a user's QBO credential.
func (s *Store) GetCredential(ctx context.Context, userID uuid.UUID) (*Credential, error) {
	var c Credential
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, realm_id, access_token, refresh_token, expires_at, updated_at
		 FROM qbo_credentials WHERE user_id = $1`, userID).
		Scan(&c.UserID, &c.RealmID, &c.AccessToken, &c.RefreshToken, &c.ExpiresAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return &c, nil
}

// SaveTokens persists a refreshed token pair.
func (s *Store) SaveTokens(ctx context.Context, userID uuid.UUID, accessToken, refreshToken string, expiresAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE qbo_credentials
		 SET access_token = $2, refresh_token = $3, expires_at = $4, updated_at = now()
		 WHERE user_id = $1`,
		userID, accessToken, refreshToken, expiresAt)
	if err != nil {
		return fmt.Errorf("save tokens: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
