package subscription

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

type memStore struct {
	records map[string]Record
	failAll bool
	saves   int
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]Record)}
}

var errStoreDown = errors.New("store unavailable")

func (m *memStore) Get(_ context.Context, tenantID string) (Record, error) {
	if m.failAll {
		return Record{}, errStoreDown
	}
	rec, ok := m.records[tenantID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *memStore) GetAll(_ context.Context) ([]Record, error) {
	if m.failAll {
		return nil, errStoreDown
	}
	var out []Record
	for _, rec := range m.records {
		out = append(out, rec)
	}
	return out, nil
}

func (m *memStore) Save(_ context.Context, rec Record) error {
	if m.failAll {
		return errStoreDown
	}
	m.records[rec.TenantID] = rec
	m.saves++
	return nil
}

func (m *memStore) Update(_ context.Context, rec Record) error {
	return m.Save(context.Background(), rec)
}

func (m *memStore) Delete(_ context.Context, tenantID string) error {
	if m.failAll {
		return errStoreDown
	}
	if _, ok := m.records[tenantID]; !ok {
		return ErrNotFound
	}
	delete(m.records, tenantID)
	return nil
}

func TestRepositorySaveMirrorsToSecondary(t *testing.T) {
	primary := newMemStore()
	secondary := newMemStore()
	repo := NewRepository(primary, secondary, zerolog.Nop())

	rec := Record{TenantID: "T1", UserID: "U1", Status: StatusTrial}
	if err := repo.Save(context.Background(), rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ok := primary.records["T1"]; !ok {
		t.Fatalf("record missing from primary")
	}
	if _, ok := secondary.records["T1"]; !ok {
		t.Fatalf("record not mirrored to secondary")
	}
}

func TestRepositorySaveSucceedsWhenSecondaryDown(t *testing.T) {
	primary := newMemStore()
	secondary := newMemStore()
	secondary.failAll = true
	repo := NewRepository(primary, secondary, zerolog.Nop())

	if err := repo.Save(context.Background(), Record{TenantID: "T1", Status: StatusTrial}); err != nil {
		t.Fatalf("secondary outage must not fail the write: %v", err)
	}
	got, err := repo.Get(context.Background(), "T1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TenantID != "T1" {
		t.Fatalf("unexpected record %+v", got)
	}
}

func TestRepositorySaveFailsWhenPrimaryDown(t *testing.T) {
	primary := newMemStore()
	primary.failAll = true
	secondary := newMemStore()
	repo := NewRepository(primary, secondary, zerolog.Nop())

	if err := repo.Save(context.Background(), Record{TenantID: "T1"}); err == nil {
		t.Fatalf("expected primary failure to surface")
	}
	if len(secondary.records) != 0 {
		t.Fatalf("failed write must not reach the secondary")
	}
}

func TestRepositoryGetRepairsSecondaryOnRead(t *testing.T) {
	primary := newMemStore()
	primary.records["T1"] = Record{TenantID: "T1", Status: StatusActive}
	secondary := newMemStore()
	repo := NewRepository(primary, secondary, zerolog.Nop())

	if _, err := repo.Get(context.Background(), "T1"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, ok := secondary.records["T1"]; !ok {
		t.Fatalf("expected read to repair the secondary")
	}
}

func TestRepositoryGetRestoresPrimaryFromSecondary(t *testing.T) {
	primary := newMemStore()
	secondary := newMemStore()
	secondary.records["T1"] = Record{TenantID: "T1", Status: StatusActive, PlanID: "pro"}
	repo := NewRepository(primary, secondary, zerolog.Nop())

	got, err := repo.Get(context.Background(), "T1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PlanID != "pro" {
		t.Fatalf("unexpected record %+v", got)
	}
	if _, ok := primary.records["T1"]; !ok {
		t.Fatalf("expected record restored into primary")
	}
}

func TestRepositoryGetMissingEverywhere(t *testing.T) {
	repo := NewRepository(newMemStore(), newMemStore(), zerolog.Nop())
	if _, err := repo.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRepositoryGetSecondaryErrorReadsAsNotFound(t *testing.T) {
	secondary := newMemStore()
	secondary.failAll = true
	repo := NewRepository(newMemStore(), secondary, zerolog.Nop())

	if _, err := repo.Get(context.Background(), "T1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("backup outage must read as not found, got %v", err)
	}
}

func TestRepositoryGetAllRestoresEmptyPrimary(t *testing.T) {
	primary := newMemStore()
	secondary := newMemStore()
	secondary.records["T1"] = Record{TenantID: "T1", Status: StatusActive}
	secondary.records["T2"] = Record{TenantID: "T2", Status: StatusTrial}
	repo := NewRepository(primary, secondary, zerolog.Nop())

	records, err := repo.GetAll(context.Background())
	if err != nil {
		t.Fatalf("getall: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 restored records, got %d", len(records))
	}
	if len(primary.records) != 2 {
		t.Fatalf("expected primary repopulated, has %d", len(primary.records))
	}
}

func TestRepositoryGetAllSyncsSecondary(t *testing.T) {
	primary := newMemStore()
	primary.records["T1"] = Record{TenantID: "T1"}
	primary.records["T2"] = Record{TenantID: "T2"}
	secondary := newMemStore()
	secondary.records["T1"] = Record{TenantID: "T1"}
	repo := NewRepository(primary, secondary, zerolog.Nop())

	records, err := repo.GetAll(context.Background())
	if err != nil {
		t.Fatalf("getall: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if len(secondary.records) != 2 {
		t.Fatalf("expected full sync into secondary, has %d", len(secondary.records))
	}
}

func TestRepositoryWithoutSecondary(t *testing.T) {
	primary := newMemStore()
	repo := NewRepository(primary, nil, zerolog.Nop())

	if err := repo.Save(context.Background(), Record{TenantID: "T1"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := repo.Get(context.Background(), "T1"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := repo.Delete(context.Background(), "T1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.Get(context.Background(), "T1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
