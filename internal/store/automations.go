package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrAutomationNotFound = errors.New("automation setting not found")

// Automation is one feature configuration for a (user, location) pair.
type Automation struct {
	ID             string
	UserID         string
	LocationID     string
	Enabled        bool
	Settings       json.RawMessage
	DisabledReason string
	DisabledAt     sql.NullTime
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

const automationColumns = `id, user_id, location_id, enabled, settings,
	disabled_reason, disabled_at, created_at, updated_at`

func (s *Store) UpsertAutomation(ctx context.Context, a Automation) (string, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if len(a.Settings) == 0 {
		a.Settings = json.RawMessage(`{}`)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO automation_settings (id, user_id, location_id, enabled, settings)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (user_id, location_id) DO UPDATE SET
			enabled = EXCLUDED.enabled, settings = EXCLUDED.settings,
			disabled_reason = '', disabled_at = NULL, updated_at = now()`,
		a.ID, a.UserID, a.LocationID, a.Enabled, []byte(a.Settings))
	if err != nil {
		return "", err
	}
	return a.ID, nil
}

func (s *Store) ListEnabledAutomations(ctx context.Context) ([]Automation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+automationColumns+`
		FROM automation_settings WHERE enabled ORDER BY user_id, location_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var automations []Automation
	for rows.Next() {
		var a Automation
		var settings []byte
		if err := rows.Scan(&a.ID, &a.UserID, &a.LocationID, &a.Enabled, &settings,
			&a.DisabledReason, &a.DisabledAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.Settings = json.RawMessage(settings)
		automations = append(automations, a)
	}
	return automations, rows.Err()
}

func (s *Store) ListAutomationsForUser(ctx context.Context, userID string) ([]Automation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+automationColumns+`
		FROM automation_settings WHERE user_id = $1 ORDER BY location_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var automations []Automation
	for rows.Next() {
		var a Automation
		var settings []byte
		if err := rows.Scan(&a.ID, &a.UserID, &a.LocationID, &a.Enabled, &settings,
			&a.DisabledReason, &a.DisabledAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.Settings = json.RawMessage(settings)
		automations = append(automations, a)
	}
	return automations, rows.Err()
}

// DisableAutomation flips one setting off. Disabling an already-disabled
// setting leaves disabled_at untouched so the operation stays idempotent.
func (s *Store) DisableAutomation(ctx context.Context, userID, locationID, reason string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE automation_settings
		SET enabled = false, disabled_reason = $3,
		    disabled_at = COALESCE(disabled_at, now()), updated_at = now()
		WHERE user_id = $1 AND location_id = $2`, userID, locationID, reason)
	return err
}

// DisableAllAutomationsForUser returns the number of settings that were
// actually flipped from enabled to disabled.
func (s *Store) DisableAllAutomationsForUser(ctx context.Context, userID, reason string) (int, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE automation_settings
		SET enabled = false, disabled_reason = $2, disabled_at = now(), updated_at = now()
		WHERE user_id = $1 AND enabled`, userID, reason)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
