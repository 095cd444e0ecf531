package database

import (
	"context"
	"fmt"

	"github.com/lib/pq"
)

// StateTable returns the quoted name of the world state table
func (db *DB) StateTable() string {
	name := "ledger_state"
	if db.config != nil && db.config.Table != "" {
		name = db.config.Table
	}
	return pq.QuoteIdentifier(name)
}

// CreateSchema creates the world state table used by the postgres ledger backend
func (db *DB) CreateSchema(ctx context.Context) error {
	db.logger.WithComponent("database").Info("Creating database schema...")

	table := db.StateTable()
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			key        TEXT PRIMARY KEY,
			value      BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, table),
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	db.logger.WithComponent("database").Info("Database schema created successfully")
	return nil
}
