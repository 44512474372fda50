package credentials

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"reviewflow/internal/identity"
	"reviewflow/internal/observability"
	"reviewflow/internal/registry"
	"reviewflow/internal/store"
)

// TokenRefresher is the identity-provider refresh grant.
// *identity.Provider satisfies it.
type TokenRefresher interface {
	RefreshAccessToken(ctx context.Context, refreshToken string) (identity.Token, error)
}

// Auditor receives the structured failure records for fatally rejected
// refresh tokens. *store.Store satisfies it.
type Auditor interface {
	AppendAudit(ctx context.Context, entry store.AuditEntry) (string, error)
}

type RunReport struct {
	Processed int
	Refreshed int
	Skipped   int
	Failed    int
}

// Stats is a cumulative snapshot across all runs of one Refresher.
type Stats struct {
	Runs          int64
	Successes     int64
	Failures      int64
	DistinctUsers int
	LastRun       time.Time
}

// Refresher keeps delegated credentials fresh ahead of scheduled automation
// work. Users are processed strictly one at a time with a fixed pause
// between them; one user's failure never blocks the rest of the run.
type Refresher struct {
	Registry    registry.Registry
	Credentials *Store
	Provider    TokenRefresher
	Auditor     Auditor
	Observer    *observability.RefreshObserver
	Log         zerolog.Logger

	Interval    time.Duration
	WarmupDelay time.Duration
	Window      time.Duration
	UserDelay   time.Duration
	Now         func() time.Time

	mu        sync.Mutex
	runs      int64
	successes int64
	failures  int64
	seen      map[string]struct{}
	lastRun   time.Time
}

func NewRefresher(reg registry.Registry, creds *Store, provider TokenRefresher, auditor Auditor, observer *observability.RefreshObserver, log zerolog.Logger) *Refresher {
	return &Refresher{
		Registry:    reg,
		Credentials: creds,
		Provider:    provider,
		Auditor:     auditor,
		Observer:    observer,
		Log:         log,
		Interval:    30 * time.Minute,
		WarmupDelay: 15 * time.Second,
		Window:      30 * time.Minute,
		UserDelay:   500 * time.Millisecond,
		Now:         func() time.Time { return time.Now().UTC() },
	}
}

// RunOnce processes every user that currently has at least one enabled
// automation. The returned error covers only the enumeration step; per-user
// failures are classified, recorded, and swallowed.
func (r *Refresher) RunOnce(ctx context.Context) (RunReport, error) {
	var report RunReport

	automations, err := r.Registry.ListEnabledForAllUsers(ctx)
	if err != nil {
		return report, err
	}
	users := distinctUsers(automations)
	if len(users) == 0 {
		r.finishRun(report)
		return report, nil
	}

	for i, userID := range users {
		if i > 0 && !r.pause(ctx) {
			break
		}
		switch outcome, err := r.refreshUser(ctx, userID); {
		case err == nil && outcome == outcomeRefreshed:
			report.Refreshed++
		case err == nil:
			report.Skipped++
		default:
			report.Failed++
		}
		report.Processed++
		r.markSeen(userID)
	}

	r.finishRun(report)
	return report, nil
}

type refreshOutcome int

const (
	outcomeSkipped refreshOutcome = iota
	outcomeRefreshed
)

func (r *Refresher) refreshUser(ctx context.Context, userID string) (refreshOutcome, error) {
	now := r.Now()

	cred, err := r.Credentials.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrCredentialNotFound) {
			// No grant on file yet; nothing to refresh.
			r.Log.Debug().Str("user_id", userID).Msg("no credential on file, skipping")
			return outcomeSkipped, nil
		}
		r.recordFailure(ctx, userID, "store_unavailable", false, err)
		return outcomeSkipped, err
	}
	if !cred.Valid {
		// Excluded until the user re-authenticates.
		return outcomeSkipped, nil
	}
	if cred.ExpiresAt.Sub(now) >= r.Window {
		return outcomeSkipped, nil
	}

	if !cred.RefreshToken.Valid || cred.RefreshToken.String == "" {
		err := errors.New("credential has no refresh token")
		r.failFatal(ctx, userID, "missing_refresh_token", err)
		return outcomeSkipped, err
	}

	token, err := r.Provider.RefreshAccessToken(ctx, cred.RefreshToken.String)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidGrant) {
			r.failFatal(ctx, userID, "invalid_grant", err)
		} else {
			// Transient; the next scheduled run retries with no mutation.
			r.recordFailure(ctx, userID, "transient", false, err)
		}
		return outcomeSkipped, err
	}

	cred.AccessToken = token.AccessToken
	cred.ExpiresAt = token.ExpiresAt
	if token.RefreshToken != "" {
		cred.RefreshToken = sql.NullString{String: token.RefreshToken, Valid: true}
	}
	if token.Scope != "" {
		cred.Scope = token.Scope
	}
	cred.LastRefreshedAt = sql.NullTime{Time: now, Valid: true}
	if err := r.Credentials.Save(ctx, cred); err != nil {
		r.recordFailure(ctx, userID, "store_unavailable", false, err)
		return outcomeSkipped, err
	}

	r.Observer.RefreshSucceeded(userID, cred.ExpiresAt)
	r.mu.Lock()
	r.successes++
	r.mu.Unlock()
	return outcomeRefreshed, nil
}

// failFatal marks the credential invalid and writes a structured failure
// record; the user drops out of automatic refresh until manual re-auth.
func (r *Refresher) failFatal(ctx context.Context, userID, reason string, cause error) {
	if err := r.Credentials.MarkInvalid(ctx, userID, reason); err != nil {
		r.Log.Error().Err(err).Str("user_id", userID).Msg("failed to mark credential invalid")
	}
	if r.Auditor != nil {
		if _, err := r.Auditor.AppendAudit(ctx, store.AuditEntry{
			Component: "credential_refresh",
			UserID:    userID,
			Action:    "refresh_token",
			Status:    "failed",
			Reason:    reason,
			Metadata:  map[string]any{"error": cause.Error()},
		}); err != nil {
			r.Log.Warn().Err(err).Str("user_id", userID).Msg("failure record append failed")
		}
	}
	r.recordFailure(ctx, userID, reason, true, cause)
}

func (r *Refresher) recordFailure(_ context.Context, userID, reason string, fatal bool, err error) {
	r.Observer.RefreshFailed(userID, reason, fatal, err)
	r.mu.Lock()
	r.failures++
	r.mu.Unlock()
}

func (r *Refresher) markSeen(userID string) {
	r.mu.Lock()
	if r.seen == nil {
		r.seen = make(map[string]struct{})
	}
	r.seen[userID] = struct{}{}
	r.mu.Unlock()
}

func (r *Refresher) finishRun(report RunReport) {
	r.mu.Lock()
	r.runs++
	r.lastRun = r.Now()
	distinct := len(r.seen)
	r.mu.Unlock()
	r.Observer.RunCompleted(report.Processed, report.Refreshed, report.Failed, distinct)
}

func (r *Refresher) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Runs:          r.runs,
		Successes:     r.successes,
		Failures:      r.failures,
		DistinctUsers: len(r.seen),
		LastRun:       r.lastRun,
	}
}

// pause sleeps the inter-user delay; returns false when the context ended.
func (r *Refresher) pause(ctx context.Context) bool {
	if r.UserDelay <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(r.UserDelay):
		return true
	}
}

// Start schedules runs on the configured interval after a short warm-up.
// Cancellation stops future runs; an in-flight run completes on its own.
func (r *Refresher) Start(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.WarmupDelay):
		}
		if _, err := r.RunOnce(ctx); err != nil {
			r.Log.Error().Err(err).Msg("credential refresh run failed")
		}
		ticker := time.NewTicker(r.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := r.RunOnce(ctx); err != nil {
					r.Log.Error().Err(err).Msg("credential refresh run failed")
				}
			}
		}
	}()
}

func distinctUsers(automations []registry.Automation) []string {
	seen := make(map[string]struct{}, len(automations))
	var users []string
	for _, a := range automations {
		if _, ok := seen[a.UserID]; ok {
			continue
		}
		seen[a.UserID] = struct{}{}
		users = append(users, a.UserID)
	}
	return users
}
