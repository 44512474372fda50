package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrCredentialNotFound is returned when a user has no stored credential.
var ErrCredentialNotFound = errors.New("credential not found")

// Credential is a delegated OAuth grant for one user. Valid=false means the
// provider rejected the refresh token and the user must re-authenticate.
type Credential struct {
	UserID          string
	AccessToken     string
	RefreshToken    sql.NullString
	ExpiresAt       time.Time
	Scope           string
	Valid           bool
	InvalidReason   string
	LastRefreshedAt sql.NullTime
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

const credentialColumns = `user_id, access_token, refresh_token, expires_at, scope,
	valid, invalid_reason, last_refreshed_at, created_at, updated_at`

func (s *Store) GetCredential(ctx context.Context, userID string) (Credential, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE user_id = $1`, userID)
	var c Credential
	err := row.Scan(&c.UserID, &c.AccessToken, &c.RefreshToken, &c.ExpiresAt, &c.Scope,
		&c.Valid, &c.InvalidReason, &c.LastRefreshedAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrCredentialNotFound
	}
	return c, err
}

func (s *Store) SaveCredential(ctx context.Context, c Credential) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO credentials (`+credentialColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (user_id) DO UPDATE SET
			access_token = EXCLUDED.access_token, refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at, scope = EXCLUDED.scope,
			valid = EXCLUDED.valid, invalid_reason = EXCLUDED.invalid_reason,
			last_refreshed_at = EXCLUDED.last_refreshed_at, updated_at = EXCLUDED.updated_at`,
		c.UserID, c.AccessToken, c.RefreshToken, c.ExpiresAt, c.Scope,
		c.Valid, c.InvalidReason, c.LastRefreshedAt, c.CreatedAt, now)
	return err
}

// MarkCredentialInvalid excludes a user from automatic refresh until a new
// grant replaces the record.
func (s *Store) MarkCredentialInvalid(ctx context.Context, userID string, reason string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE credentials
		SET valid = false, invalid_reason = $2, updated_at = now()
		WHERE user_id = $1`, userID, reason)
	return err
}

func (s *Store) DeleteCredential(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE user_id = $1`, userID)
	return err
}
