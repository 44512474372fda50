// Package billing applies verified payment events to subscription records.
// Gateway order creation and signature checking happen upstream; by the time
// a payment reaches the Activator it is trusted.
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"reviewflow/internal/store"
	"reviewflow/internal/subscription"
)

// ErrLocationLimit is returned when a payment would grow paidLocationIDs
// past the tenant's profileCount.
var ErrLocationLimit = errors.New("billing: paid locations exceed profile count")

// Repository is the slice of the dual-store repository the activator needs.
type Repository interface {
	Get(ctx context.Context, tenantID string) (subscription.Record, error)
	Update(ctx context.Context, rec subscription.Record) error
}

// Ledger persists payment history and audit entries. *store.Store satisfies it.
type Ledger interface {
	AppendPayment(ctx context.Context, payment subscription.Payment) (string, error)
	AppendAudit(ctx context.Context, entry store.AuditEntry) (string, error)
}

type Activator struct {
	Repo       Repository
	Ledger     Ledger
	PeriodDays int
	Log        zerolog.Logger
	Now        func() time.Time
}

func NewActivator(repo Repository, ledger Ledger, periodDays int, log zerolog.Logger) *Activator {
	if periodDays <= 0 {
		periodDays = 30
	}
	return &Activator{
		Repo:       repo,
		Ledger:     ledger,
		PeriodDays: periodDays,
		Log:        log,
		Now:        func() time.Time { return time.Now().UTC() },
	}
}

// ApplyPayment appends the payment to the tenant's history and, for a
// completed payment, activates the subscription: the end date extends from
// whichever is later of now and the current end, and the paid locations grow
// bounded by profileCount.
func (a *Activator) ApplyPayment(ctx context.Context, payment subscription.Payment) (subscription.Record, error) {
	rec, err := a.Repo.Get(ctx, payment.TenantID)
	if err != nil {
		return subscription.Record{}, fmt.Errorf("payment for tenant %s: %w", payment.TenantID, err)
	}

	if _, err := a.Ledger.AppendPayment(ctx, payment); err != nil {
		return subscription.Record{}, err
	}
	if payment.Status != subscription.PaymentCompleted {
		a.Log.Warn().Str("tenant_id", payment.TenantID).Str("status", payment.Status).Msg("non-completed payment recorded, no activation")
		return rec, nil
	}

	grown, err := growLocations(rec, payment.LocationIDs)
	if err != nil {
		return subscription.Record{}, err
	}
	rec.PaidLocationIDs = grown

	now := a.Now()
	base := now
	if rec.SubscriptionEnd != nil && rec.SubscriptionEnd.After(now) {
		base = *rec.SubscriptionEnd
	}
	end := base.Add(time.Duration(a.PeriodDays) * 24 * time.Hour)

	rec.Status = subscription.StatusActive
	if rec.SubscriptionStart == nil {
		start := now
		rec.SubscriptionStart = &start
	}
	rec.SubscriptionEnd = &end

	if err := a.Repo.Update(ctx, rec); err != nil {
		return subscription.Record{}, err
	}

	if _, err := a.Ledger.AppendAudit(ctx, store.AuditEntry{
		Component: "billing",
		TenantID:  rec.TenantID,
		UserID:    rec.UserID,
		Action:    "activate_subscription",
		Status:    "ok",
		Metadata: map[string]any{
			"payment_id":       payment.ID,
			"subscription_end": end.Format(time.RFC3339),
			"paid_locations":   len(rec.PaidLocationIDs),
		},
	}); err != nil {
		a.Log.Warn().Err(err).Str("tenant_id", rec.TenantID).Msg("activation audit append failed")
	}

	a.Log.Info().Str("tenant_id", rec.TenantID).Time("subscription_end", end).Msg("subscription activated")
	return rec, nil
}

func growLocations(rec subscription.Record, locationIDs []string) ([]string, error) {
	grown := append([]string(nil), rec.PaidLocationIDs...)
	have := make(map[string]struct{}, len(grown))
	for _, id := range grown {
		have[id] = struct{}{}
	}
	for _, id := range locationIDs {
		if id == "" {
			continue
		}
		if _, ok := have[id]; ok {
			continue
		}
		if len(grown) >= rec.ProfileCount {
			return nil, fmt.Errorf("%w: tenant %s allows %d", ErrLocationLimit, rec.TenantID, rec.ProfileCount)
		}
		grown = append(grown, id)
		have[id] = struct{}{}
	}
	return grown, nil
}
