package credentials

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"reviewflow/internal/identity"
	"reviewflow/internal/registry"
	"reviewflow/internal/store"
)

type fakeDurable struct {
	creds map[string]store.Credential
	gets  int
}

func newFakeDurable(creds ...store.Credential) *fakeDurable {
	d := &fakeDurable{creds: make(map[string]store.Credential)}
	for _, c := range creds {
		d.creds[c.UserID] = c
	}
	return d
}

func (d *fakeDurable) GetCredential(_ context.Context, userID string) (store.Credential, error) {
	d.gets++
	c, ok := d.creds[userID]
	if !ok {
		return store.Credential{}, store.ErrCredentialNotFound
	}
	return c, nil
}

func (d *fakeDurable) SaveCredential(_ context.Context, c store.Credential) error {
	d.creds[c.UserID] = c
	return nil
}

func (d *fakeDurable) MarkCredentialInvalid(_ context.Context, userID, reason string) error {
	c, ok := d.creds[userID]
	if !ok {
		return store.ErrCredentialNotFound
	}
	c.Valid = false
	c.InvalidReason = reason
	d.creds[userID] = c
	return nil
}

func (d *fakeDurable) DeleteCredential(_ context.Context, userID string) error {
	delete(d.creds, userID)
	return nil
}

type staticRegistry struct {
	automations []registry.Automation
}

func (s *staticRegistry) ListEnabledForAllUsers(context.Context) ([]registry.Automation, error) {
	return s.automations, nil
}

func (s *staticRegistry) Disable(context.Context, string, string, string) error { return nil }

func (s *staticRegistry) DisableAllForUser(context.Context, string, string) (int, error) {
	return 0, nil
}

func (s *staticRegistry) LogActivity(context.Context, string, string, string, string, map[string]any) error {
	return nil
}

type fakeProvider struct {
	tokens map[string]identity.Token
	errs   map[string]error
	calls  []string
}

func (p *fakeProvider) RefreshAccessToken(_ context.Context, refreshToken string) (identity.Token, error) {
	p.calls = append(p.calls, refreshToken)
	if err := p.errs[refreshToken]; err != nil {
		return identity.Token{}, err
	}
	return p.tokens[refreshToken], nil
}

type fakeAuditor struct {
	entries []store.AuditEntry
}

func (f *fakeAuditor) AppendAudit(_ context.Context, entry store.AuditEntry) (string, error) {
	f.entries = append(f.entries, entry)
	return "audit-id", nil
}

func credential(userID, refreshToken string, expiresAt time.Time) store.Credential {
	return store.Credential{
		UserID:       userID,
		AccessToken:  "old-access",
		RefreshToken: sql.NullString{String: refreshToken, Valid: refreshToken != ""},
		ExpiresAt:    expiresAt,
		Valid:        true,
	}
}

func testRefresher(reg registry.Registry, durable *fakeDurable, provider *fakeProvider, now time.Time) (*Refresher, *fakeAuditor) {
	auditor := &fakeAuditor{}
	r := NewRefresher(reg, NewStore(durable), provider, auditor, nil, zerolog.Nop())
	r.UserDelay = 0
	r.Now = func() time.Time { return now }
	return r, auditor
}

func TestRunOnceRefreshesExpiringCredential(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	durable := newFakeDurable(credential("U1", "rt-1", now.Add(10*time.Minute)))
	provider := &fakeProvider{tokens: map[string]identity.Token{
		"rt-1": {AccessToken: "new-access", RefreshToken: "rt-1-rotated", Scope: "business.manage", ExpiresAt: now.Add(time.Hour)},
	}}
	reg := &staticRegistry{automations: []registry.Automation{{UserID: "U1", LocationID: "L1", Enabled: true}}}
	r, _ := testRefresher(reg, durable, provider, now)

	report, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Processed != 1 || report.Refreshed != 1 || report.Failed != 0 {
		t.Fatalf("unexpected report %+v", report)
	}

	cred := durable.creds["U1"]
	if cred.AccessToken != "new-access" {
		t.Fatalf("access token not updated: %s", cred.AccessToken)
	}
	if !cred.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("expiry not updated: %s", cred.ExpiresAt)
	}
	if cred.RefreshToken.String != "rt-1-rotated" {
		t.Fatalf("rotated refresh token not persisted: %s", cred.RefreshToken.String)
	}
	if cred.Scope != "business.manage" {
		t.Fatalf("scope not updated: %s", cred.Scope)
	}
	if !cred.LastRefreshedAt.Valid || !cred.LastRefreshedAt.Time.Equal(now) {
		t.Fatalf("last refreshed not recorded: %+v", cred.LastRefreshedAt)
	}
}

func TestRunOnceSkipsFreshCredential(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	durable := newFakeDurable(credential("U1", "rt-1", now.Add(50*time.Minute)))
	provider := &fakeProvider{}
	reg := &staticRegistry{automations: []registry.Automation{{UserID: "U1", LocationID: "L1", Enabled: true}}}
	r, _ := testRefresher(reg, durable, provider, now)

	report, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Skipped != 1 || report.Refreshed != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(provider.calls) != 0 {
		t.Fatalf("provider must not be called for fresh credentials")
	}
	if durable.creds["U1"].AccessToken != "old-access" {
		t.Fatalf("fresh credential must not be mutated")
	}
}

func TestRunOnceSkipsUsersWithoutCredentials(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	durable := newFakeDurable()
	provider := &fakeProvider{}
	reg := &staticRegistry{automations: []registry.Automation{{UserID: "U-none", LocationID: "L1", Enabled: true}}}
	r, auditor := testRefresher(reg, durable, provider, now)

	report, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Skipped != 1 || report.Failed != 0 {
		t.Fatalf("missing credential is a skip, not a failure: %+v", report)
	}
	if len(auditor.entries) != 0 {
		t.Fatalf("no failure record expected")
	}
}

func TestRunOnceInvalidGrantIsFatal(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	durable := newFakeDurable(credential("U1", "rt-revoked", now.Add(5*time.Minute)))
	provider := &fakeProvider{errs: map[string]error{
		"rt-revoked": identity.ErrInvalidGrant,
	}}
	reg := &staticRegistry{automations: []registry.Automation{{UserID: "U1", LocationID: "L1", Enabled: true}}}
	r, auditor := testRefresher(reg, durable, provider, now)

	report, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Failed != 1 {
		t.Fatalf("unexpected report %+v", report)
	}

	cred := durable.creds["U1"]
	if cred.Valid {
		t.Fatalf("credential must be marked invalid on invalid_grant")
	}
	if cred.InvalidReason != "invalid_grant" {
		t.Fatalf("unexpected invalid reason %q", cred.InvalidReason)
	}
	if len(auditor.entries) != 1 {
		t.Fatalf("expected one failure record, got %d", len(auditor.entries))
	}
	entry := auditor.entries[0]
	if entry.Component != "credential_refresh" || entry.UserID != "U1" || entry.Reason != "invalid_grant" {
		t.Fatalf("unexpected failure record %+v", entry)
	}

	// The invalidated user drops out of subsequent runs until re-auth.
	provider.calls = nil
	if _, err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(provider.calls) != 0 {
		t.Fatalf("invalid credential must not be retried")
	}
}

func TestRunOnceTransientErrorLeavesCredentialIntact(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	durable := newFakeDurable(credential("U1", "rt-1", now.Add(5*time.Minute)))
	provider := &fakeProvider{errs: map[string]error{
		"rt-1": errors.New("connection reset"),
	}}
	reg := &staticRegistry{automations: []registry.Automation{{UserID: "U1", LocationID: "L1", Enabled: true}}}
	r, auditor := testRefresher(reg, durable, provider, now)

	report, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Failed != 1 {
		t.Fatalf("unexpected report %+v", report)
	}

	cred := durable.creds["U1"]
	if !cred.Valid {
		t.Fatalf("transient failure must not invalidate the credential")
	}
	if cred.AccessToken != "old-access" {
		t.Fatalf("transient failure must not mutate the credential")
	}
	if len(auditor.entries) != 0 {
		t.Fatalf("transient failures are not recorded as fatal")
	}

	// Next run retries the same token.
	provider.errs = nil
	provider.tokens = map[string]identity.Token{"rt-1": {AccessToken: "new", ExpiresAt: now.Add(time.Hour)}}
	report, err = r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("retry run: %v", err)
	}
	if report.Refreshed != 1 {
		t.Fatalf("expected retry to succeed, got %+v", report)
	}
}

func TestRunOnceMissingRefreshTokenIsFatal(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	durable := newFakeDurable(credential("U1", "", now.Add(5*time.Minute)))
	reg := &staticRegistry{automations: []registry.Automation{{UserID: "U1", LocationID: "L1", Enabled: true}}}
	r, auditor := testRefresher(reg, durable, &fakeProvider{}, now)

	report, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Failed != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if durable.creds["U1"].Valid {
		t.Fatalf("credential without refresh token must be invalidated")
	}
	if len(auditor.entries) != 1 || auditor.entries[0].Reason != "missing_refresh_token" {
		t.Fatalf("unexpected failure records %+v", auditor.entries)
	}
}

func TestRunOnceOneFailureDoesNotBlockOthers(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	durable := newFakeDurable(
		credential("U1", "rt-bad", now.Add(5*time.Minute)),
		credential("U2", "rt-good", now.Add(5*time.Minute)),
	)
	provider := &fakeProvider{
		errs:   map[string]error{"rt-bad": errors.New("timeout")},
		tokens: map[string]identity.Token{"rt-good": {AccessToken: "fresh", ExpiresAt: now.Add(time.Hour)}},
	}
	reg := &staticRegistry{automations: []registry.Automation{
		{UserID: "U1", LocationID: "L1", Enabled: true},
		{UserID: "U2", LocationID: "L2", Enabled: true},
	}}
	r, _ := testRefresher(reg, durable, provider, now)

	report, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Processed != 2 || report.Failed != 1 || report.Refreshed != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if durable.creds["U2"].AccessToken != "fresh" {
		t.Fatalf("second user must still be refreshed")
	}
}

func TestStatsAccumulateAcrossRuns(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	durable := newFakeDurable(credential("U1", "rt-1", now.Add(5*time.Minute)))
	provider := &fakeProvider{tokens: map[string]identity.Token{
		"rt-1": {AccessToken: "fresh", ExpiresAt: now.Add(time.Hour)},
	}}
	reg := &staticRegistry{automations: []registry.Automation{
		{UserID: "U1", LocationID: "L1", Enabled: true},
		{UserID: "U2", LocationID: "L2", Enabled: true},
	}}
	r, _ := testRefresher(reg, durable, provider, now)

	for i := 0; i < 2; i++ {
		if _, err := r.RunOnce(context.Background()); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}

	stats := r.Stats()
	if stats.Runs != 2 {
		t.Fatalf("runs=%d, want 2", stats.Runs)
	}
	if stats.Successes != 1 {
		t.Fatalf("successes=%d, want 1 (second run sees a fresh credential)", stats.Successes)
	}
	if stats.DistinctUsers != 2 {
		t.Fatalf("distinct users=%d, want 2", stats.DistinctUsers)
	}
	if !stats.LastRun.Equal(now) {
		t.Fatalf("last run=%s, want %s", stats.LastRun, now)
	}
}
