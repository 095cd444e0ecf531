// Package postgres persists world state in a PostgreSQL key/value table.
package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/medrex/caseledger/internal/ledger"
	"github.com/medrex/caseledger/pkg/database"
	"github.com/medrex/caseledger/pkg/logger"
	"github.com/medrex/caseledger/pkg/types"
)

const lockQuery = `SELECT pg_advisory_xact_lock($1)`

// Store is a PostgreSQL-backed world state. Commit runs every write inside one SQL transaction.
// CommitIf also takes a transaction-scoped advisory lock keyed by the table, so
// every service instance sharing the table validates and writes one at a time.
type Store struct {
	db     *database.DB
	logger *logger.Logger

	lockKey     int64
	selectQuery string
	upsertQuery string
}

// New creates a store over db. The state table must exist (see database.DB.CreateSchema).
func New(db *database.DB, log *logger.Logger) *Store {
	table := db.StateTable()
	h := fnv.New64a()
	h.Write([]byte(table))
	return &Store{
		db:          db,
		logger:      log,
		lockKey:     int64(h.Sum64()),
		selectQuery: fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, table),
		upsertQuery: fmt.Sprintf(`INSERT INTO %s (key, value, updated_at) VALUES ($1, $2, NOW())
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`, table),
	}
}

// GetState returns the value at key, or nil when absent
func (s *Store) GetState(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, s.selectQuery, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state %s: %w", key, err)
	}
	return value, nil
}

// Commit upserts all writes in a single transaction
func (s *Store) Commit(ctx context.Context, writes []ledger.Write) (err error) {
	start := time.Now()
	defer func() {
		s.logger.DatabaseOperation(ctx, "postgres", "commit", time.Since(start).Milliseconds(), len(writes), err == nil)
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err = s.upsert(ctx, tx, writes); err != nil {
		s.rollback(tx)
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CommitIf upserts writes under the table's advisory lock, after checking that
// every read still matches the committed row
func (s *Store) CommitIf(ctx context.Context, reads []ledger.Read, writes []ledger.Write) (err error) {
	start := time.Now()
	defer func() {
		s.logger.DatabaseOperation(ctx, "postgres", "conditional_commit", time.Since(start).Milliseconds(), len(writes), err == nil)
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err = tx.ExecContext(ctx, lockQuery, s.lockKey); err != nil {
		s.rollback(tx)
		return fmt.Errorf("failed to lock state table: %w", err)
	}

	for _, r := range reads {
		var current []byte
		scanErr := tx.QueryRowContext(ctx, s.selectQuery, r.Key).Scan(&current)
		found := scanErr == nil
		if scanErr != nil && !errors.Is(scanErr, sql.ErrNoRows) {
			s.rollback(tx)
			err = fmt.Errorf("failed to read state %s: %w", r.Key, scanErr)
			return err
		}
		if found != (r.Value != nil) || !bytes.Equal(current, r.Value) {
			s.rollback(tx)
			err = types.NewConflictError(r.Key)
			return err
		}
	}

	if err = s.upsert(ctx, tx, writes); err != nil {
		s.rollback(tx)
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) upsert(ctx context.Context, tx *sql.Tx, writes []ledger.Write) error {
	for _, w := range writes {
		if _, err := tx.ExecContext(ctx, s.upsertQuery, w.Key, w.Value); err != nil {
			return fmt.Errorf("failed to write state %s: %w", w.Key, err)
		}
	}
	return nil
}

func (s *Store) rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil {
		s.logger.WithError(err).Error("Failed to roll back state transaction")
	}
}

// Ping checks connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool
func (s *Store) Close() error {
	return s.db.Close()
}
