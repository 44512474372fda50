package credentials

import (
	"context"
	"sync"

	"reviewflow/internal/store"
)

// Durable is the Postgres tier of the credential store. *store.Store
// satisfies it.
type Durable interface {
	GetCredential(ctx context.Context, userID string) (store.Credential, error)
	SaveCredential(ctx context.Context, c store.Credential) error
	MarkCredentialInvalid(ctx context.Context, userID, reason string) error
	DeleteCredential(ctx context.Context, userID string) error
}

// Store is an explicit two-tier credential store: the durable tier is
// authoritative, the process-local cache is a performance optimization only.
// Every write goes through the durable tier first.
type Store struct {
	durable Durable

	mu    sync.RWMutex
	cache map[string]store.Credential
}

func NewStore(durable Durable) *Store {
	return &Store{durable: durable, cache: make(map[string]store.Credential)}
}

func (s *Store) Get(ctx context.Context, userID string) (store.Credential, error) {
	s.mu.RLock()
	cached, ok := s.cache[userID]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	cred, err := s.durable.GetCredential(ctx, userID)
	if err != nil {
		return store.Credential{}, err
	}
	s.mu.Lock()
	s.cache[userID] = cred
	s.mu.Unlock()
	return cred, nil
}

func (s *Store) Save(ctx context.Context, cred store.Credential) error {
	if err := s.durable.SaveCredential(ctx, cred); err != nil {
		return err
	}
	s.mu.Lock()
	s.cache[cred.UserID] = cred
	s.mu.Unlock()
	return nil
}

func (s *Store) MarkInvalid(ctx context.Context, userID, reason string) error {
	if err := s.durable.MarkCredentialInvalid(ctx, userID, reason); err != nil {
		return err
	}
	s.mu.Lock()
	if cred, ok := s.cache[userID]; ok {
		cred.Valid = false
		cred.InvalidReason = reason
		s.cache[userID] = cred
	}
	s.mu.Unlock()
	return nil
}

func (s *Store) Delete(ctx context.Context, userID string) error {
	if err := s.durable.DeleteCredential(ctx, userID); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.cache, userID)
	s.mu.Unlock()
	return nil
}

// Invalidate drops the cached copy so the next read hits the durable tier.
func (s *Store) Invalidate(userID string) {
	s.mu.Lock()
	delete(s.cache, userID)
	s.mu.Unlock()
}
