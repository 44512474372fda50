// Package registry exposes which users and locations have automation
// features enabled. The sweep disables entries here when access lapses and
// the credential refresher enumerates active users through it.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"reviewflow/internal/store"
)

type Automation struct {
	UserID         string
	LocationID     string
	Enabled        bool
	Settings       json.RawMessage
	DisabledReason string
	DisabledAt     *time.Time
}

// Registry is the collaborator contract consumed by the access and
// credentials packages.
type Registry interface {
	ListEnabledForAllUsers(ctx context.Context) ([]Automation, error)
	Disable(ctx context.Context, userID, locationID, reason string) error
	DisableAllForUser(ctx context.Context, userID, reason string) (int, error)
	LogActivity(ctx context.Context, userID, locationID, action, status string, metadata map[string]any) error
}

// settingsSchema constrains the per-location automation settings blob.
const settingsSchema = `{
	"type": "object",
	"properties": {
		"auto_reply": {
			"type": "object",
			"properties": {
				"enabled": {"type": "boolean"},
				"tone": {"type": "string", "enum": ["professional", "friendly", "casual"]},
				"min_rating": {"type": "integer", "minimum": 1, "maximum": 5}
			}
		},
		"auto_post": {
			"type": "object",
			"properties": {
				"enabled": {"type": "boolean"},
				"frequency": {"type": "string", "enum": ["daily", "weekly", "biweekly", "monthly"]}
			}
		},
		"keywords": {"type": "array", "items": {"type": "string"}},
		"notify_email": {"type": "string"}
	}
}`

type Service struct {
	store  *store.Store
	schema *jsonschema.Schema
}

func NewService(st *store.Store) (*Service, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("automation_settings.json", strings.NewReader(settingsSchema)); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile("automation_settings.json")
	if err != nil {
		return nil, err
	}
	return &Service{store: st, schema: schema}, nil
}

// Upsert validates the settings payload before persisting it.
func (s *Service) Upsert(ctx context.Context, a Automation) error {
	if a.UserID == "" || a.LocationID == "" {
		return fmt.Errorf("automation requires user and location ids")
	}
	settings := a.Settings
	if len(settings) == 0 {
		settings = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(settings, &decoded); err != nil {
		return fmt.Errorf("invalid settings payload: %w", err)
	}
	if err := s.schema.Validate(decoded); err != nil {
		return fmt.Errorf("settings rejected by schema: %w", err)
	}
	_, err := s.store.UpsertAutomation(ctx, store.Automation{
		UserID:     a.UserID,
		LocationID: a.LocationID,
		Enabled:    a.Enabled,
		Settings:   settings,
	})
	return err
}

func (s *Service) ListEnabledForAllUsers(ctx context.Context) ([]Automation, error) {
	rows, err := s.store.ListEnabledAutomations(ctx)
	if err != nil {
		return nil, err
	}
	automations := make([]Automation, 0, len(rows))
	for _, row := range rows {
		automations = append(automations, fromStore(row))
	}
	return automations, nil
}

func (s *Service) ListForUser(ctx context.Context, userID string) ([]Automation, error) {
	rows, err := s.store.ListAutomationsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	automations := make([]Automation, 0, len(rows))
	for _, row := range rows {
		automations = append(automations, fromStore(row))
	}
	return automations, nil
}

func (s *Service) Disable(ctx context.Context, userID, locationID, reason string) error {
	return s.store.DisableAutomation(ctx, userID, locationID, reason)
}

func (s *Service) DisableAllForUser(ctx context.Context, userID, reason string) (int, error) {
	return s.store.DisableAllAutomationsForUser(ctx, userID, reason)
}

func (s *Service) LogActivity(ctx context.Context, userID, locationID, action, status string, metadata map[string]any) error {
	_, err := s.store.AppendAudit(ctx, store.AuditEntry{
		Component:  "registry",
		UserID:     userID,
		LocationID: locationID,
		Action:     action,
		Status:     status,
		Metadata:   metadata,
	})
	return err
}

func fromStore(row store.Automation) Automation {
	a := Automation{
		UserID:         row.UserID,
		LocationID:     row.LocationID,
		Enabled:        row.Enabled,
		Settings:       row.Settings,
		DisabledReason: row.DisabledReason,
	}
	if row.DisabledAt.Valid {
		at := row.DisabledAt.Time
		a.DisabledAt = &at
	}
	return a
}
