package subscription

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// Store is the contract both backing stores satisfy: a durable Postgres
// primary and a Redis backup secondary. Get must return ErrNotFound for
// missing tenants.
type Store interface {
	Get(ctx context.Context, tenantID string) (Record, error)
	GetAll(ctx context.Context) ([]Record, error)
	Save(ctx context.Context, rec Record) error
	Update(ctx context.Context, rec Record) error
	Delete(ctx context.Context, tenantID string) error
}

// Repository layers a primary store over an optional secondary backup.
// The primary is the sole source of truth: every write goes there
// synchronously, and reads consult it first. The secondary is mirrored
// best-effort and exists only so a lost primary can be repopulated.
type Repository struct {
	primary   Store
	secondary Store
	log       zerolog.Logger
}

func NewRepository(primary Store, secondary Store, log zerolog.Logger) *Repository {
	return &Repository{primary: primary, secondary: secondary, log: log}
}

func (r *Repository) Save(ctx context.Context, rec Record) error {
	if err := r.primary.Save(ctx, rec); err != nil {
		return err
	}
	r.mirror(ctx, rec, "save")
	return nil
}

func (r *Repository) Update(ctx context.Context, rec Record) error {
	if err := r.primary.Update(ctx, rec); err != nil {
		return err
	}
	r.mirror(ctx, rec, "update")
	return nil
}

func (r *Repository) Delete(ctx context.Context, tenantID string) error {
	if err := r.primary.Delete(ctx, tenantID); err != nil {
		return err
	}
	if r.secondary == nil {
		return nil
	}
	if err := r.secondary.Delete(ctx, tenantID); err != nil && !errors.Is(err, ErrNotFound) {
		r.log.Warn().Err(err).Str("tenant_id", tenantID).Msg("backup store delete failed")
	}
	return nil
}

// Get reads the primary first. A hit is re-synced to the secondary
// (repair-on-read). A miss falls through to the secondary; a record found
// there is restored into the primary before returning.
func (r *Repository) Get(ctx context.Context, tenantID string) (Record, error) {
	rec, err := r.primary.Get(ctx, tenantID)
	if err == nil {
		r.mirror(ctx, rec, "read_repair")
		return rec, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Record{}, err
	}
	if r.secondary == nil {
		return Record{}, ErrNotFound
	}

	rec, err = r.secondary.Get(ctx, tenantID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Record{}, ErrNotFound
		}
		r.log.Warn().Err(err).Str("tenant_id", tenantID).Msg("backup store read failed")
		return Record{}, ErrNotFound
	}
	if err := r.primary.Save(ctx, rec); err != nil {
		r.log.Error().Err(err).Str("tenant_id", tenantID).Msg("primary restore from backup failed")
	} else {
		r.log.Info().Str("tenant_id", tenantID).Msg("restored subscription record from backup")
	}
	return rec, nil
}

// GetAll reads every record from the primary. A non-empty primary is synced
// into the secondary; an empty primary triggers the disaster-recovery path,
// restoring every record the secondary still holds.
func (r *Repository) GetAll(ctx context.Context) ([]Record, error) {
	records, err := r.primary.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) > 0 {
		for _, rec := range records {
			r.mirror(ctx, rec, "full_sync")
		}
		return records, nil
	}
	if r.secondary == nil {
		return records, nil
	}

	backed, err := r.secondary.GetAll(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("backup store scan failed")
		return records, nil
	}
	for _, rec := range backed {
		if err := r.primary.Save(ctx, rec); err != nil {
			r.log.Error().Err(err).Str("tenant_id", rec.TenantID).Msg("primary restore from backup failed")
			continue
		}
	}
	if len(backed) > 0 {
		r.log.Info().Int("records", len(backed)).Msg("repopulated primary store from backup")
	}
	return backed, nil
}

func (r *Repository) mirror(ctx context.Context, rec Record, op string) {
	if r.secondary == nil {
		return
	}
	if err := r.secondary.Save(ctx, rec); err != nil {
		r.log.Warn().Err(err).Str("tenant_id", rec.TenantID).Str("op", op).Msg("backup store write failed")
	}
}
