package attachment

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/staykeeper/custody/internal/custody"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[uuid.UUID]*Record)}
}

func (s *MemoryStore) Insert(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.records {
		if existing.TenantID != rec.TenantID || existing.ParentID != rec.ParentID {
			continue
		}
		if existing.TargetID() == rec.TargetID() {
			return &custody.ErrAlreadyAttached{ParentID: rec.ParentID, TargetID: rec.TargetID()}
		}
	}

	cp := *rec
	s.records[rec.ID] = &cp
	return nil
}

func (s *MemoryStore) ListByParent(_ context.Context, tenantID, parentID uuid.UUID) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Record
	for _, rec := range s.records {
		if rec.TenantID == tenantID && rec.ParentID == parentID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
