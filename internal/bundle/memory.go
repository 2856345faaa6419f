package bundle

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/staykeeper/custody/internal/custody"
)

// MemoryStore is an in-memory, thread-safe Store implementation for tests
// and single-process use.
type MemoryStore struct {
	mu      sync.RWMutex
	bundles map[uuid.UUID]*Bundle
	items   map[uuid.UUID][]*Item
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bundles: make(map[uuid.UUID]*Bundle),
		items:   make(map[uuid.UUID][]*Item),
	}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, b *Bundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *b
	s.bundles[b.ID] = &clone
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, tenantID, bundleID uuid.UUID) (*Bundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, err := s.lookup(tenantID, bundleID)
	if err != nil {
		return nil, err
	}
	clone := *b
	return &clone, nil
}

// AddItem implements Store.
func (s *MemoryStore) AddItem(_ context.Context, item *Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.lookup(item.TenantID, item.BundleID)
	if err != nil {
		return err
	}
	if b.Sealed() {
		return &custody.ErrValidation{Msg: "bundle is sealed; items can no longer be added"}
	}
	for _, existing := range s.items[item.BundleID] {
		if existing.EvidenceObjectID == item.EvidenceObjectID {
			return &custody.ErrValidation{Msg: "evidence object is already in this bundle"}
		}
	}

	clone := *item
	s.items[item.BundleID] = append(s.items[item.BundleID], &clone)
	return nil
}

// Items implements Store.
func (s *MemoryStore) Items(_ context.Context, tenantID, bundleID uuid.UUID) ([]*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := s.lookup(tenantID, bundleID); err != nil {
		return nil, err
	}

	stored := s.items[bundleID]
	out := make([]*Item, len(stored))
	for i, item := range stored {
		clone := *item
		out[i] = &clone
	}
	sortItems(out)
	return out, nil
}

// Seal implements Store.
func (s *MemoryStore) Seal(_ context.Context, tenantID, bundleID uuid.UUID, manifestJSON []byte, manifestSHA256 string, sealedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.lookup(tenantID, bundleID)
	if err != nil {
		return err
	}
	if b.Sealed() {
		return &custody.ErrImmutable{Msg: "bundle is already sealed"}
	}

	b.Status = StatusSealed
	b.ManifestJSON = manifestJSON
	b.ManifestSHA256 = &manifestSHA256
	b.SealedAt = &sealedAt
	b.UpdatedAt = sealedAt
	return nil
}

func (s *MemoryStore) lookup(tenantID, bundleID uuid.UUID) (*Bundle, error) {
	b, ok := s.bundles[bundleID]
	if !ok || b.TenantID != tenantID {
		return nil, custody.ErrNotFound
	}
	return b, nil
}

func sortItems(items []*Item) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].SortOrder < items[j].SortOrder })
}
