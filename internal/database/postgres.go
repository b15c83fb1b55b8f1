package database

import (
	"context"
	"fmt"
	"time"

	"github.com/flowdata/salesreport/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Database wraps the pgx connection pool and provides database operations.
type Database struct {
	Pool *pgxpool.Pool
}

// NewPostgresPool creates a new PostgreSQL connection pool using pgx.
// It configures the pool based on the provided database configuration,
// tests the connection, and returns a Database instance.
func NewPostgresPool(ctx context.Context, cfg config.DatabaseConfig) (*Database, error) {
	// Build connection string (DSN)
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Name,
	)

	// Parse connection string and create pool config
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// Configure connection pool settings
	poolConfig.MinConns = int32(cfg.PoolMin)
	poolConfig.MaxConns = int32(cfg.PoolMax)

	// Set connection timeouts
	poolConfig.ConnConfig.ConnectTimeout = 5 * time.Second
	poolConfig.MaxConnIdleTime = 30 * time.Second
	poolConfig.MaxConnLifetime = 1 * time.Hour

	// Health check period (how often to check idle connections)
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	// Create the connection pool
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test the connection immediately
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Database{Pool: pool}, nil
}

// schemaStatements declares the pipeline's tables. Natural keys (order
// number, IP address) are primary keys so re-running a load is a safe no-op
// via conflict skipping.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		order_number VARCHAR(255) PRIMARY KEY,
		order_date   DATE,
		ip_address   VARCHAR(255),
		city         VARCHAR(255),
		state        VARCHAR(255),
		zip_code     VARCHAR(255),
		sale_amount  DOUBLE PRECISION
	)`,
	`CREATE INDEX IF NOT EXISTS orders_ip_address_idx ON orders (ip_address)`,
	`CREATE TABLE IF NOT EXISTS ip_addresses (
		ip_address VARCHAR(255) PRIMARY KEY
	)`,
	`CREATE TABLE IF NOT EXISTS ip_locations (
		ip_address  VARCHAR(255) PRIMARY KEY,
		city        VARCHAR(255),
		state       VARCHAR(255),
		zip_code    VARCHAR(255),
		resolved_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Migrate creates the pipeline schema if it does not exist yet.
// It is invoked once at startup, before any load runs, so schema creation
// is an explicit step rather than a side effect of the first write.
func (db *Database) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}

// Ping checks if the database connection is alive.
// It returns an error if the connection is not available.
func (db *Database) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Close gracefully closes the database connection pool.
// It waits for all connections to be returned to the pool before closing.
func (db *Database) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// Stats returns statistics about the connection pool.
// This is useful for monitoring and debugging.
func (db *Database) Stats() *pgxpool.Stat {
	if db.Pool == nil {
		return nil
	}
	return db.Pool.Stat()
}
