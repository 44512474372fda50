package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"reviewflow/internal/subscription"
)

const subscriptionColumns = `tenant_id, user_id, status, trial_start, trial_end,
	subscription_start, subscription_end, plan_id, profile_count, paid_location_ids,
	created_at, updated_at`

// Subscriptions adapts the store to the primary side of the dual-store
// subscription repository.
type Subscriptions struct {
	s *Store
}

func (s *Store) Subscriptions() *Subscriptions {
	return &Subscriptions{s: s}
}

func (r *Subscriptions) Get(ctx context.Context, tenantID string) (subscription.Record, error) {
	row := r.s.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE tenant_id = $1`, tenantID)
	rec, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return subscription.Record{}, subscription.ErrNotFound
	}
	return rec, err
}

func (r *Subscriptions) GetAll(ctx context.Context) ([]subscription.Record, error) {
	rows, err := r.s.db.QueryContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []subscription.Record
	for rows.Next() {
		rec, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Save upserts the record and keeps the user↔tenant mapping in step.
func (r *Subscriptions) Save(ctx context.Context, rec subscription.Record) error {
	locationsJSON, err := json.Marshal(locationsOrEmpty(rec.PaidLocationIDs))
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	_, err = r.s.db.ExecContext(ctx, `INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (tenant_id) DO UPDATE SET
			user_id = EXCLUDED.user_id, status = EXCLUDED.status,
			trial_start = EXCLUDED.trial_start, trial_end = EXCLUDED.trial_end,
			subscription_start = EXCLUDED.subscription_start, subscription_end = EXCLUDED.subscription_end,
			plan_id = EXCLUDED.plan_id, profile_count = EXCLUDED.profile_count,
			paid_location_ids = EXCLUDED.paid_location_ids, updated_at = EXCLUDED.updated_at`,
		rec.TenantID, rec.UserID, string(rec.Status), rec.TrialStart, rec.TrialEnd,
		rec.SubscriptionStart, rec.SubscriptionEnd, rec.PlanID, rec.ProfileCount, locationsJSON,
		rec.CreatedAt, now)
	if err != nil {
		return err
	}
	if rec.UserID == "" {
		return nil
	}
	_, err = r.s.db.ExecContext(ctx, `INSERT INTO user_tenants (user_id, tenant_id) VALUES ($1,$2)
		ON CONFLICT (user_id) DO UPDATE SET tenant_id = EXCLUDED.tenant_id`, rec.UserID, rec.TenantID)
	return err
}

func (r *Subscriptions) Update(ctx context.Context, rec subscription.Record) error {
	return r.Save(ctx, rec)
}

func (r *Subscriptions) Delete(ctx context.Context, tenantID string) error {
	if _, err := r.s.db.ExecContext(ctx, `DELETE FROM user_tenants WHERE tenant_id = $1`, tenantID); err != nil {
		return err
	}
	_, err := r.s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE tenant_id = $1`, tenantID)
	return err
}

func (s *Store) TenantForUser(ctx context.Context, userID string) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT tenant_id FROM user_tenants WHERE user_id = $1`, userID)
	var tenantID string
	if err := row.Scan(&tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", subscription.ErrNotFound
		}
		return "", err
	}
	return tenantID, nil
}

func (s *Store) UserForTenant(ctx context.Context, tenantID string) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT user_id FROM user_tenants WHERE tenant_id = $1`, tenantID)
	var userID string
	if err := row.Scan(&userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", subscription.ErrNotFound
		}
		return "", err
	}
	return userID, nil
}

func (s *Store) AppendPayment(ctx context.Context, payment subscription.Payment) (string, error) {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	locationsJSON, err := json.Marshal(locationsOrEmpty(payment.LocationIDs))
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO subscription_payments (id, tenant_id, amount_cents, currency, status, location_ids)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		payment.ID, payment.TenantID, payment.AmountCents, payment.Currency, payment.Status, locationsJSON)
	if err != nil {
		return "", err
	}
	return payment.ID, nil
}

func (s *Store) ListPayments(ctx context.Context, tenantID string) ([]subscription.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, tenant_id, amount_cents, currency, status, location_ids, created_at
		FROM subscription_payments WHERE tenant_id = $1 ORDER BY created_at ASC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []subscription.Payment
	for rows.Next() {
		var p subscription.Payment
		var locationsJSON []byte
		if err := rows.Scan(&p.ID, &p.TenantID, &p.AmountCents, &p.Currency, &p.Status, &locationsJSON, &p.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(locationsJSON, &p.LocationIDs)
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// IsAdminUser reads the directory admin flag. Unknown users are not admins.
func (s *Store) IsAdminUser(ctx context.Context, userID string) (bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT is_admin FROM users WHERE id = $1`, userID)
	var isAdmin bool
	if err := row.Scan(&isAdmin); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return isAdmin, nil
}

func (s *Store) UserEmail(ctx context.Context, userID string) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT email FROM users WHERE id = $1`, userID)
	var email string
	if err := row.Scan(&email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return email, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (subscription.Record, error) {
	var rec subscription.Record
	var status string
	var locationsJSON []byte
	err := row.Scan(&rec.TenantID, &rec.UserID, &status, &rec.TrialStart, &rec.TrialEnd,
		&rec.SubscriptionStart, &rec.SubscriptionEnd, &rec.PlanID, &rec.ProfileCount, &locationsJSON,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return rec, err
	}
	rec.Status = subscription.Status(status)
	_ = json.Unmarshal(locationsJSON, &rec.PaidLocationIDs)
	return rec, nil
}

func locationsOrEmpty(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
