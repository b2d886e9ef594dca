// Package memstore is an in-memory persist.Store, used by tests and by
// callers that want the core to run without a filesystem (e.g. the node
// orchestrator's own test suite).
package memstore

import (
	"context"
	"sync"

	"github.com/trustcircle/groupcore/internal/persist"
)

// Store is a mutex-guarded in-memory persist.Store.
type Store struct {
	mu   sync.Mutex
	blob []byte
}

var _ persist.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store { return &Store{} }

// Load returns the last-saved blob, or (nil, nil) if none has been saved.
func (s *Store) Load(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blob == nil {
		return nil, nil
	}
	out := make([]byte, len(s.blob))
	copy(out, s.blob)
	return out, nil
}

// Save replaces the stored blob in full.
func (s *Store) Save(ctx context.Context, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blob = make([]byte, len(blob))
	copy(s.blob, blob)
	return nil
}
