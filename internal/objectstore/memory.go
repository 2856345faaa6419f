package objectstore

import (
	"context"
	"fmt"
	"sync"
)

// MemoryFetcher is an in-memory Fetcher for tests and local development.
type MemoryFetcher struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryFetcher() *MemoryFetcher {
	return &MemoryFetcher{objects: make(map[string][]byte)}
}

// Put stores data under key.
func (f *MemoryFetcher) Put(key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = append([]byte(nil), data...)
}

func (f *MemoryFetcher) Fetch(_ context.Context, key string) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %q not found", key)
	}
	return append([]byte(nil), data...), nil
}
