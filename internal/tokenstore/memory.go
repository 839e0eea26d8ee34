package tokenstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"qbo-bridge/internal/common/errors"
)

// MemoryStore is an in-memory Store used by tests and throwaway setups.
// It enforces the same versioning semantics as the database backends.
type MemoryStore struct {
	mu           sync.Mutex
	records      map[string]*TokenRecord
	integrations map[string]string // provider/org -> id
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:      make(map[string]*TokenRecord),
		integrations: make(map[string]string),
	}
}

func (s *MemoryStore) Load(ctx context.Context, integrationID string) (*TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[integrationID]
	if !ok {
		return nil, nil
	}
	copied := *rec
	return &copied, nil
}

func (s *MemoryStore) CompareAndSave(ctx context.Context, integrationID string, expectedVersion int64, rec *TokenRecord) (*TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.records[integrationID]
	if !ok {
		return nil, errors.NoTokenError(integrationID)
	}
	if current.Version != expectedVersion {
		copied := *current
		return &copied, errors.ConflictError(integrationID, expectedVersion)
	}

	saved := *rec
	saved.IntegrationID = integrationID
	saved.Version = expectedVersion + 1
	saved.UpdatedAt = time.Now()
	s.records[integrationID] = &saved

	copied := saved
	return &copied, nil
}

func (s *MemoryStore) SaveInitial(ctx context.Context, rec *TokenRecord) (*TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := *rec
	if current, ok := s.records[rec.IntegrationID]; ok {
		saved.Version = current.Version + 1
	}
	saved.UpdatedAt = time.Now()
	s.records[rec.IntegrationID] = &saved

	copied := saved
	return &copied, nil
}

func (s *MemoryStore) EnsureIntegration(ctx context.Context, provider, orgID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := provider + "/" + orgID
	if id, ok := s.integrations[key]; ok {
		return id, nil
	}
	id := uuid.NewString()
	s.integrations[key] = id
	return id, nil
}

func (s *MemoryStore) ListConnected(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *MemoryStore) Health(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
