package artifact

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/staykeeper/custody/internal/custody"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu        sync.RWMutex
	artifacts map[uuid.UUID]*DerivedArtifact
	byRequest map[string]uuid.UUID // "{tenant}/{parent}/{client_request_id}"
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		artifacts: make(map[uuid.UUID]*DerivedArtifact),
		byRequest: make(map[string]uuid.UUID),
	}
}

func requestKey(tenantID, parentID uuid.UUID, clientRequestID string) string {
	return tenantID.String() + "/" + parentID.String() + "/" + clientRequestID
}

func (s *MemoryStore) Insert(_ context.Context, art *DerivedArtifact) (*DerivedArtifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if art.ClientRequestID != nil {
		key := requestKey(art.TenantID, art.ParentID, *art.ClientRequestID)
		if id, ok := s.byRequest[key]; ok {
			return cloneArtifact(s.artifacts[id]), nil
		}
	}

	version := 0
	for _, existing := range s.artifacts {
		if existing.TenantID != art.TenantID || existing.ParentID != art.ParentID {
			continue
		}
		if existing.Version > version {
			version = existing.Version
		}
		if existing.Status != StatusSuperseded {
			existing.Status = StatusSuperseded
		}
	}

	cp := cloneArtifact(art)
	cp.Version = version + 1
	s.artifacts[cp.ID] = cp
	if cp.ClientRequestID != nil {
		s.byRequest[requestKey(cp.TenantID, cp.ParentID, *cp.ClientRequestID)] = cp.ID
	}
	return cloneArtifact(cp), nil
}

func (s *MemoryStore) Get(_ context.Context, tenantID, id uuid.UUID) (*DerivedArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	art, ok := s.artifacts[id]
	if !ok || art.TenantID != tenantID {
		return nil, custody.ErrNotFound
	}
	return cloneArtifact(art), nil
}

func (s *MemoryStore) ListByParent(_ context.Context, tenantID, parentID uuid.UUID) ([]*DerivedArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*DerivedArtifact
	for _, art := range s.artifacts {
		if art.TenantID == tenantID && art.ParentID == parentID {
			out = append(out, cloneArtifact(art))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, art *DerivedArtifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.artifacts[art.ID]
	if !ok || stored.TenantID != art.TenantID {
		return custody.ErrNotFound
	}
	if stored.BodySHA256 != art.BodySHA256 || !bytes.Equal(stored.Document, art.Document) {
		return &custody.ErrImmutable{Msg: "artifact body may not be modified after assembly"}
	}
	stored.Status = art.Status
	stored.ExportedAt = art.ExportedAt
	return nil
}

func cloneArtifact(art *DerivedArtifact) *DerivedArtifact {
	cp := *art
	cp.Document = append([]byte(nil), art.Document...)
	return &cp
}
