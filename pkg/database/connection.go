package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/medrex/caseledger/pkg/config"
	"github.com/medrex/caseledger/pkg/logger"
)

// DB represents the database connection
type DB struct {
	*sql.DB
	config *config.DatabaseConfig
	logger *logger.Logger
}

// NewConnection opens and verifies a PostgreSQL connection pool
func NewConnection(cfg *config.DatabaseConfig, log *logger.Logger) (*DB, error) {
	sqlDB, err := sql.Open("postgres", buildConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.WithComponent("database").WithField("host", cfg.Host).Info("Database connection established successfully")
	return Wrap(sqlDB, cfg, log), nil
}

// Wrap adopts an existing *sql.DB, e.g. one created by sqlmock
func Wrap(sqlDB *sql.DB, cfg *config.DatabaseConfig, log *logger.Logger) *DB {
	return &DB{
		DB:     sqlDB,
		config: cfg,
		logger: log,
	}
}

// buildConnectionString constructs the PostgreSQL connection string
func buildConnectionString(cfg *config.DatabaseConfig) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Name,
		cfg.SSLMode,
	)
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.DB != nil {
		return db.DB.Close()
	}
	return nil
}

// Health checks the database connection health
func (db *DB) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return db.PingContext(ctx)
}
