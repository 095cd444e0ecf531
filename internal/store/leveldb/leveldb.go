// Package leveldb persists world state in an embedded LevelDB database.
package leveldb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/medrex/caseledger/internal/ledger"
	"github.com/medrex/caseledger/pkg/types"
)

// Store is a LevelDB-backed world state. Commit uses a write batch so a
// transaction lands atomically. The database file is locked to one process;
// mu orders conditional commits between ledgers inside it.
type Store struct {
	mu sync.Mutex
	db *leveldb.DB
}

// Open opens (or creates) the database at path
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a database on volatile storage
func OpenInMemory() (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory leveldb: %w", err)
	}
	return &Store{db: db}, nil
}

// GetState returns the value at key, or nil when absent
func (s *Store) GetState(_ context.Context, key string) ([]byte, error) {
	v, err := s.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("leveldb get %s: %w", key, err)
	}
	return v, nil
}

// Commit writes every entry in one synced batch
func (s *Store) Commit(ctx context.Context, writes []ledger.Write) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(writes)
}

// CommitIf writes the batch only if every read still matches the stored value
func (s *Store) CommitIf(ctx context.Context, reads []ledger.Read, writes []ledger.Write) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range reads {
		current, err := s.GetState(ctx, r.Key)
		if err != nil {
			return err
		}
		if (current != nil) != (r.Value != nil) || !bytes.Equal(current, r.Value) {
			return types.NewConflictError(r.Key)
		}
	}
	return s.write(writes)
}

func (s *Store) write(writes []ledger.Write) error {
	batch := new(leveldb.Batch)
	for _, w := range writes {
		batch.Put([]byte(w.Key), w.Value)
	}
	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("leveldb batch write: %w", err)
	}
	return nil
}

// Ping reports whether the database is still open
func (s *Store) Ping(context.Context) error {
	_, err := s.db.GetProperty("leveldb.stats")
	return err
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}
