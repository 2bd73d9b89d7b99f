// Package storage provides the abstract key-value store backing the
// platform's persisted state: risk events, seller risk profiles, knowledge
// entries and the offline feature tier. The default backend is in-memory;
// Redis and SQLite backends share the same interface.
package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// Well-known buckets.
const (
	BucketRiskEvents         = "risk_events"
	BucketSellerRiskProfiles = "seller_risk_profiles"
	BucketKnowledgeEntries   = "knowledge_entries"
	BucketKnowledgeDocuments = "knowledge_documents"
	BucketFeatureStore       = "feature_store"
)

// ErrKeyNotFound is returned when a key is absent from a bucket.
var ErrKeyNotFound = errors.New("key not found")

// Store is a bucketed key-value store.
type Store interface {
	// Get retrieves the value for a key. Returns ErrKeyNotFound if absent.
	Get(ctx context.Context, bucket, key string) ([]byte, error)

	// Put stores a value under a key, overwriting any previous value.
	Put(ctx context.Context, bucket, key string, value []byte) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, bucket, key string) error

	// Keys lists keys in a bucket with the given prefix, sorted ascending.
	Keys(ctx context.Context, bucket, prefix string) ([]string, error)

	// Close releases backend resources.
	Close() error
}

// MemoryStore implements Store using in-memory maps.
type MemoryStore struct {
	buckets map[string]map[string][]byte
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]map[string][]byte)}
}

// Get retrieves a value.
func (s *MemoryStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.buckets[bucket]
	if !ok {
		return nil, ErrKeyNotFound
	}
	value, ok := b[key]
	if !ok {
		return nil, ErrKeyNotFound
	}

	// Return a copy so callers cannot mutate stored state.
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Put stores a value.
func (s *MemoryStore) Put(ctx context.Context, bucket, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[bucket]
	if !ok {
		b = make(map[string][]byte)
		s.buckets[bucket] = b
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	b[key] = stored
	return nil
}

// Delete removes a key.
func (s *MemoryStore) Delete(ctx context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.buckets[bucket]; ok {
		delete(b, key)
	}
	return nil
}

// Keys lists keys by prefix, sorted.
func (s *MemoryStore) Keys(ctx context.Context, bucket, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.buckets[bucket]
	if !ok {
		return []string{}, nil
	}

	keys := make([]string, 0, len(b))
	for k := range b {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
