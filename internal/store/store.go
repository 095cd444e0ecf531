// Package store selects and opens the configured world state backend.
package store

import (
	"context"
	"fmt"

	"github.com/medrex/caseledger/internal/ledger"
	"github.com/medrex/caseledger/internal/store/leveldb"
	"github.com/medrex/caseledger/internal/store/memory"
	"github.com/medrex/caseledger/internal/store/postgres"
	"github.com/medrex/caseledger/internal/store/redis"
	"github.com/medrex/caseledger/pkg/config"
	"github.com/medrex/caseledger/pkg/database"
	"github.com/medrex/caseledger/pkg/logger"
	"github.com/medrex/caseledger/pkg/monitoring"
)

// Backend is a world state store the service can health-check and close
type Backend interface {
	ledger.StateStore
	Ping(ctx context.Context) error
	Close() error
}

// Open opens the backend named by cfg.Ledger.Backend
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (Backend, error) {
	switch cfg.Ledger.Backend {
	case "memory":
		return memory.New(), nil
	case "leveldb":
		s, err := leveldb.Open(cfg.LevelDB.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		db, err := database.NewConnection(&cfg.Database, log)
		if err != nil {
			return nil, err
		}
		if err := db.CreateSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return postgres.New(db, log), nil
	case "redis":
		client := redis.NewClient(&cfg.Redis)
		s := redis.New(client, cfg.Redis.KeyPrefix)
		if err := s.Ping(ctx); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown ledger backend: %q", cfg.Ledger.Backend)
	}
}

// HealthChecker reports backend connectivity to the health manager
func HealthChecker(name string, b Backend) monitoring.HealthChecker {
	return monitoring.NewCustomHealthChecker(func(ctx context.Context) monitoring.HealthCheck {
		check := monitoring.HealthCheck{Details: map[string]interface{}{"backend": name}}
		if err := b.Ping(ctx); err != nil {
			check.Status = monitoring.HealthStatusUnhealthy
			check.Message = fmt.Sprintf("state backend unreachable: %v", err)
			return check
		}
		check.Status = monitoring.HealthStatusHealthy
		check.Message = "state backend healthy"
		return check
	})
}
