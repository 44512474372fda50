package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"reviewflow/internal/subscription"
)

// DaysUnlimited marks decisions without an expiry (admin, non-expiring plan).
const DaysUnlimited = -1

const (
	ReasonTrialExpired        = "trial_expired"
	ReasonSubscriptionExpired = "subscription_expired"
	ReasonInvalidStatus       = "invalid_status"
)

// Decision is the outcome of evaluating a tenant's access at a point in time.
type Decision struct {
	Allowed         bool
	State           subscription.Status
	DaysRemaining   int
	Reason          string
	Message         string
	RequiresPayment bool
}

// RecordRepository is the slice of the dual-store repository the evaluator
// needs. *subscription.Repository satisfies it.
type RecordRepository interface {
	Get(ctx context.Context, tenantID string) (subscription.Record, error)
	Save(ctx context.Context, rec subscription.Record) error
	Update(ctx context.Context, rec subscription.Record) error
}

// ExpiryEnforcer applies the enforcement side effect when an evaluation
// denies access for an expired trial or subscription.
type ExpiryEnforcer interface {
	EnforceExpiry(ctx context.Context, rec subscription.Record, reason string) error
}

// Evaluator classifies a tenant into an access state. It is deliberately
// self-healing: missing records and uninitialized trials are provisioned on
// read, never denied.
type Evaluator struct {
	Repo      RecordRepository
	Admins    *AdminPolicy
	Enforcer  ExpiryEnforcer
	TrialDays int
	Log       zerolog.Logger
}

func NewEvaluator(repo RecordRepository, admins *AdminPolicy, trialDays int, log zerolog.Logger) *Evaluator {
	if trialDays <= 0 {
		trialDays = 7
	}
	return &Evaluator{Repo: repo, Admins: admins, TrialDays: trialDays, Log: log}
}

func (e *Evaluator) Evaluate(ctx context.Context, tenantID, userID string, now time.Time) (Decision, error) {
	// Admin check precedes everything, including record lookup.
	if e.Admins != nil {
		isAdmin, err := e.Admins.IsAdmin(ctx, userID)
		if err != nil {
			e.Log.Warn().Err(err).Str("user_id", userID).Msg("admin policy lookup failed")
		}
		if isAdmin {
			return Decision{
				Allowed:       true,
				State:         subscription.StatusAdmin,
				DaysRemaining: DaysUnlimited,
				Message:       "administrator access",
			}, nil
		}
	}

	rec, err := e.Repo.Get(ctx, tenantID)
	if errors.Is(err, subscription.ErrNotFound) {
		return e.provisionTrial(ctx, tenantID, userID, now)
	}
	if err != nil {
		return Decision{}, err
	}

	switch subscription.NormalizeStatus(string(rec.Status)) {
	case subscription.StatusAdmin:
		return Decision{
			Allowed:       true,
			State:         subscription.StatusAdmin,
			DaysRemaining: DaysUnlimited,
			Message:       "administrator access",
		}, nil

	case subscription.StatusActive:
		if rec.SubscriptionEnd == nil {
			return Decision{
				Allowed:       true,
				State:         subscription.StatusActive,
				DaysRemaining: DaysUnlimited,
				Message:       "subscription active",
			}, nil
		}
		if rec.SubscriptionEnd.After(now) {
			return Decision{
				Allowed:       true,
				State:         subscription.StatusActive,
				DaysRemaining: daysRemaining(now, *rec.SubscriptionEnd),
				Message:       "subscription active",
			}, nil
		}
		e.enforce(ctx, rec, ReasonSubscriptionExpired)
		return deniedDecision(subscription.StatusActive, ReasonSubscriptionExpired), nil

	case subscription.StatusTrial:
		if rec.TrialEnd == nil {
			return e.healTrial(ctx, rec, now)
		}
		if rec.TrialEnd.After(now) {
			return Decision{
				Allowed:       true,
				State:         subscription.StatusTrial,
				DaysRemaining: daysRemaining(now, *rec.TrialEnd),
				Message:       "trial active",
			}, nil
		}
		e.enforce(ctx, rec, ReasonTrialExpired)
		return deniedDecision(subscription.StatusTrial, ReasonTrialExpired), nil

	case "":
		// Unset status is never a silent denial: treat as an uninitialized
		// trial and persist the transition.
		rec.Status = subscription.StatusTrial
		return e.healTrial(ctx, rec, now)

	case subscription.StatusExpired:
		return deniedDecision(subscription.StatusExpired, expiredReason(rec)), nil

	default:
		return Decision{
			State:           rec.Status,
			Reason:          ReasonInvalidStatus,
			Message:         fmt.Sprintf("subscription status %q does not permit access", rec.Status),
			RequiresPayment: true,
		}, nil
	}
}

func (e *Evaluator) provisionTrial(ctx context.Context, tenantID, userID string, now time.Time) (Decision, error) {
	start := now
	end := now.Add(e.trialWindow())
	rec := subscription.Record{
		TenantID:     tenantID,
		UserID:       userID,
		Status:       subscription.StatusTrial,
		TrialStart:   &start,
		TrialEnd:     &end,
		ProfileCount: 1,
	}
	if err := e.Repo.Save(ctx, rec); err != nil {
		return Decision{}, fmt.Errorf("provision trial for %s: %w", tenantID, err)
	}
	e.Log.Info().Str("tenant_id", tenantID).Str("user_id", userID).Time("trial_end", end).Msg("provisioned trial for new tenant")
	return Decision{
		Allowed:       true,
		State:         subscription.StatusTrial,
		DaysRemaining: e.TrialDays,
		Message:       "trial started",
	}, nil
}

// healTrial assigns the default trial window to a record whose trial dates
// were never initialized.
func (e *Evaluator) healTrial(ctx context.Context, rec subscription.Record, now time.Time) (Decision, error) {
	if rec.TrialStart == nil {
		start := now
		rec.TrialStart = &start
	}
	end := now.Add(e.trialWindow())
	rec.TrialEnd = &end
	rec.Status = subscription.StatusTrial
	if err := e.Repo.Update(ctx, rec); err != nil {
		return Decision{}, fmt.Errorf("initialize trial for %s: %w", rec.TenantID, err)
	}
	e.Log.Info().Str("tenant_id", rec.TenantID).Time("trial_end", end).Msg("initialized trial window")
	return Decision{
		Allowed:       true,
		State:         subscription.StatusTrial,
		DaysRemaining: e.TrialDays,
		Message:       "trial started",
	}, nil
}

func (e *Evaluator) enforce(ctx context.Context, rec subscription.Record, reason string) {
	if e.Enforcer == nil {
		return
	}
	if err := e.Enforcer.EnforceExpiry(ctx, rec, reason); err != nil {
		e.Log.Error().Err(err).Str("tenant_id", rec.TenantID).Str("reason", reason).Msg("expiry enforcement failed")
	}
}

func (e *Evaluator) trialWindow() time.Duration {
	return time.Duration(e.TrialDays) * 24 * time.Hour
}

// daysRemaining floors the exact remainder but never rounds a positive
// sub-day remainder down to zero.
func daysRemaining(now, end time.Time) int {
	remaining := end.Sub(now)
	if remaining <= 0 {
		return 0
	}
	days := int(remaining / (24 * time.Hour))
	if days < 1 {
		return 1
	}
	return days
}

// expiredReason distinguishes a lapsed paid subscription from a lapsed
// trial on records already marked expired.
func expiredReason(rec subscription.Record) string {
	if rec.SubscriptionStart != nil {
		return ReasonSubscriptionExpired
	}
	return ReasonTrialExpired
}

func deniedDecision(state subscription.Status, reason string) Decision {
	message := "your subscription has expired, payment is required to continue"
	if reason == ReasonTrialExpired {
		message = "your trial has ended, payment is required to continue"
	}
	return Decision{
		State:           state,
		Reason:          reason,
		Message:         message,
		RequiresPayment: true,
	}
}
