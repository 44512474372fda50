package access

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"reviewflow/internal/observability"
	"reviewflow/internal/registry"
	"reviewflow/internal/store"
	"reviewflow/internal/subscription"
)

// Auditor appends enforcement entries to the audit log. *store.Store
// satisfies it.
type Auditor interface {
	AppendAudit(ctx context.Context, entry store.AuditEntry) (string, error)
}

// Enforcer applies the expiry side effect: disable every automation owned by
// the tenant's user, audit the action, and persist status=expired so later
// evaluations short-circuit. Safe to invoke repeatedly.
type Enforcer struct {
	Repo     RecordRepository
	Registry registry.Registry
	Auditor  Auditor
	Log      zerolog.Logger
	Now      func() time.Time
}

func NewEnforcer(repo RecordRepository, reg registry.Registry, auditor Auditor, log zerolog.Logger) *Enforcer {
	return &Enforcer{
		Repo:     repo,
		Registry: reg,
		Auditor:  auditor,
		Log:      log,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

func (e *Enforcer) EnforceExpiry(ctx context.Context, rec subscription.Record, reason string) error {
	disabled, err := e.Registry.DisableAllForUser(ctx, rec.UserID, reason)
	if err != nil {
		return err
	}

	if disabled > 0 && e.Auditor != nil {
		if _, err := e.Auditor.AppendAudit(ctx, store.AuditEntry{
			Component: "enforcement",
			TenantID:  rec.TenantID,
			UserID:    rec.UserID,
			Action:    "disable_automations",
			Status:    "ok",
			Reason:    reason,
			Metadata:  map[string]any{"locations_affected": disabled, "enforced_at": e.Now().Format(time.RFC3339)},
		}); err != nil {
			e.Log.Warn().Err(err).Str("tenant_id", rec.TenantID).Msg("enforcement audit append failed")
		}
	}

	if rec.Status != subscription.StatusExpired {
		rec.Status = subscription.StatusExpired
		if err := e.Repo.Update(ctx, rec); err != nil {
			return err
		}
	}

	if disabled > 0 {
		e.Log.Info().Str("tenant_id", rec.TenantID).Str("reason", reason).Int("locations", disabled).Msg("automations disabled for expired tenant")
	}
	return nil
}

// ListRepository is the sweep's view of the dual-store repository.
type ListRepository interface {
	GetAll(ctx context.Context) ([]subscription.Record, error)
}

type SweepReport struct {
	Evaluated int
	Denied    int
	Enforced  int
	Errors    int
}

// Sweep re-evaluates every known tenant on a fixed interval and enforces
// expiry for any tenant whose evaluation denies access.
type Sweep struct {
	Repo      ListRepository
	Evaluator *Evaluator
	Enforcer  *Enforcer
	Interval  time.Duration
	Observer  *observability.SweepObserver
	Log       zerolog.Logger
	Now       func() time.Time
}

func NewSweep(repo ListRepository, evaluator *Evaluator, enforcer *Enforcer, interval time.Duration, observer *observability.SweepObserver, log zerolog.Logger) *Sweep {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweep{
		Repo:      repo,
		Evaluator: evaluator,
		Enforcer:  enforcer,
		Interval:  interval,
		Observer:  observer,
		Log:       log,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run performs one full pass. Per-tenant failures are logged and never abort
// the pass.
func (s *Sweep) Run(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	records, err := s.Repo.GetAll(ctx)
	if err != nil {
		return report, err
	}

	now := s.Now()
	for _, rec := range records {
		decision, err := s.Evaluator.Evaluate(ctx, rec.TenantID, rec.UserID, now)
		if err != nil {
			report.Errors++
			s.Log.Error().Err(err).Str("tenant_id", rec.TenantID).Msg("sweep evaluation failed")
			continue
		}
		report.Evaluated++
		if decision.Allowed {
			continue
		}
		report.Denied++
		if decision.Reason != ReasonTrialExpired && decision.Reason != ReasonSubscriptionExpired {
			continue
		}
		if err := s.Enforcer.EnforceExpiry(ctx, rec, decision.Reason); err != nil {
			report.Errors++
			s.Log.Error().Err(err).Str("tenant_id", rec.TenantID).Msg("sweep enforcement failed")
			continue
		}
		report.Enforced++
		s.Observer.TenantEnforced(rec.TenantID, decision.Reason)
	}

	s.Observer.SweepCompleted(report.Evaluated, report.Denied, report.Enforced, report.Errors)
	return report, nil
}

// Start runs one pass immediately, then on every tick until the context is
// cancelled. An in-flight pass is never interrupted.
func (s *Sweep) Start(ctx context.Context) {
	go func() {
		if _, err := s.Run(ctx); err != nil {
			s.Log.Error().Err(err).Msg("enforcement sweep failed")
		}
		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Run(ctx); err != nil {
					s.Log.Error().Err(err).Msg("enforcement sweep failed")
				}
			}
		}
	}()
}
