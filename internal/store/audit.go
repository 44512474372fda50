package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type AuditEntry struct {
	ID         string
	Component  string
	TenantID   string
	UserID     string
	LocationID string
	Action     string
	Status     string
	Reason     string
	Metadata   map[string]any
	CreatedAt  time.Time
}

func (s *Store) AppendAudit(ctx context.Context, entry AuditEntry) (string, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Metadata == nil {
		entry.Metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO audit_log (id, component, tenant_id, user_id, location_id, action, status, reason, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		entry.ID, entry.Component, entry.TenantID, entry.UserID, entry.LocationID,
		entry.Action, entry.Status, entry.Reason, metadataJSON)
	if err != nil {
		return "", err
	}
	return entry.ID, nil
}

func (s *Store) ListAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, component, tenant_id, user_id, location_id, action, status, reason, metadata, created_at
		FROM audit_log ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var entry AuditEntry
		var metadataJSON []byte
		if err := rows.Scan(&entry.ID, &entry.Component, &entry.TenantID, &entry.UserID, &entry.LocationID,
			&entry.Action, &entry.Status, &entry.Reason, &metadataJSON, &entry.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(metadataJSON, &entry.Metadata)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
