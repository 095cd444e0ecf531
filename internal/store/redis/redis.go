// Package redis keeps world state in Redis strings.
package redis

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/medrex/caseledger/internal/ledger"
	"github.com/medrex/caseledger/pkg/config"
	"github.com/medrex/caseledger/pkg/types"
)

// Store is a Redis-backed world state. Commit wraps all SETs in MULTI/EXEC;
// CommitIf additionally WATCHes every key the transaction read.
type Store struct {
	client *redis.Client
	prefix string
}

// NewClient creates a Redis client from configuration
func NewClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// New creates a store; every key is namespaced by prefix
func New(client *redis.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

// GetState returns the value at key, or nil when absent
func (s *Store) GetState(ctx context.Context, key string) ([]byte, error) {
	v, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, nil
}

// Commit applies writes in one MULTI/EXEC block
func (s *Store) Commit(ctx context.Context, writes []ledger.Write) error {
	if len(writes) == 0 {
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, w := range writes {
			pipe.Set(ctx, s.prefix+w.Key, w.Value, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis transaction: %w", err)
	}
	return nil
}

// CommitIf applies writes in one MULTI/EXEC block guarded by WATCH on the read
// keys. A stale read or a concurrent write to a watched key is a Conflict.
func (s *Store) CommitIf(ctx context.Context, reads []ledger.Read, writes []ledger.Write) error {
	keys := make([]string, 0, len(reads))
	for _, r := range reads {
		keys = append(keys, s.prefix+r.Key)
	}

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		for _, r := range reads {
			current, err := tx.Get(ctx, s.prefix+r.Key).Bytes()
			if errors.Is(err, redis.Nil) {
				current = nil
			} else if err != nil {
				return fmt.Errorf("redis get %s: %w", r.Key, err)
			}
			if (current != nil) != (r.Value != nil) || !bytes.Equal(current, r.Value) {
				return types.NewConflictError(r.Key)
			}
		}
		if len(writes) == 0 {
			return nil
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, w := range writes {
				pipe.Set(ctx, s.prefix+w.Key, w.Value, 0)
			}
			return nil
		})
		return err
	}, keys...)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return types.NewConflictError(reads[0].Key)
	case errors.Is(err, types.ErrConflict):
		return err
	default:
		return fmt.Errorf("redis transaction: %w", err)
	}
}

// Ping checks connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client
func (s *Store) Close() error {
	return s.client.Close()
}
