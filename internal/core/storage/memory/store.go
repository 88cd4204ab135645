package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aevon-lab/project-carryover/internal/core/storage"
)

// Store is an in-memory implementation of storage.CarryOverStore and storage.DocumentStore.
// Useful for testing and development.
type Store struct {
	mu        sync.RWMutex
	carryOver map[string]storage.CarryOverRecord
	docs      map[docKey][]byte

	// reads counts GetDocument calls; tests use it to observe cache behavior.
	reads map[docKey]int
	scans int
}

type docKey struct {
	kind string
	id   string
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		carryOver: make(map[string]storage.CarryOverRecord),
		docs:      make(map[docKey][]byte),
		reads:     make(map[docKey]int),
	}
}

// PutCarryOver upserts a carry-over record. The upstream pipeline owns this write path.
func (s *Store) PutCarryOver(rec storage.CarryOverRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carryOver[rec.Key] = rec
}

func (s *Store) ScanCarryOver(ctx context.Context, q storage.RangeQuery) ([]storage.CarryOverRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.scans++
	matched := make([]storage.CarryOverRecord, 0, len(s.carryOver))
	for k, rec := range s.carryOver {
		if k >= q.StartKey && k < q.EndKey {
			matched = append(matched, rec)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Key < matched[j].Key })

	if q.Skip >= len(matched) {
		return []storage.CarryOverRecord{}, nil
	}
	matched = matched[q.Skip:]
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

// Scans returns how many range scans have been served.
func (s *Store) Scans() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scans
}

func (s *Store) GetDocument(ctx context.Context, kind, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := docKey{kind: kind, id: id}
	s.reads[k]++
	body, ok := s.docs[k]
	if !ok {
		return nil, storage.ErrNotFound
	}
	// Return a copy to prevent external modification
	return append([]byte(nil), body...), nil
}

func (s *Store) PutDocument(ctx context.Context, kind, id string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[docKey{kind: kind, id: id}] = append([]byte(nil), body...)
	return nil
}

// Reads returns how many times (kind, id) has been read.
func (s *Store) Reads(kind, id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reads[docKey{kind: kind, id: id}]
}
