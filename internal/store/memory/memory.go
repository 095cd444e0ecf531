// Package memory provides an in-process world state for development and tests.
package memory

import (
	"bytes"
	"context"
	"sync"

	"github.com/medrex/caseledger/internal/ledger"
	"github.com/medrex/caseledger/pkg/types"
)

// Store keeps world state in a map
type Store struct {
	mu    sync.RWMutex
	state map[string][]byte
}

// New creates an empty store
func New() *Store {
	return &Store{state: make(map[string][]byte)}
}

// GetState returns a copy of the value at key, or nil when absent
func (s *Store) GetState(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.state[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Commit applies writes under one lock
func (s *Store) Commit(ctx context.Context, writes []ledger.Write) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apply(writes)
	return nil
}

// CommitIf applies writes only if every read still matches the stored value
func (s *Store) CommitIf(ctx context.Context, reads []ledger.Read, writes []ledger.Write) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range reads {
		current, ok := s.state[r.Key]
		if ok != (r.Value != nil) || !bytes.Equal(current, r.Value) {
			return types.NewConflictError(r.Key)
		}
	}
	s.apply(writes)
	return nil
}

func (s *Store) apply(writes []ledger.Write) {
	for _, w := range writes {
		v := make([]byte, len(w.Value))
		copy(v, w.Value)
		s.state[w.Key] = v
	}
}

// Len returns the number of stored keys
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state)
}

// Ping always succeeds
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op
func (s *Store) Close() error { return nil }
