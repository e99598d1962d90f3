// Package database persists strategies in PostgreSQL.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrStrategyNotFound is returned when no row matches the strategy id
var ErrStrategyNotFound = errors.New("strategy not found")

// DB represents a database connection
type DB struct {
	*sql.DB
	logger zerolog.Logger
}

// ConnectionParams holds PostgreSQL connection parameters
type ConnectionParams struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN renders the params as a lib/pq connection string
func (p ConnectionParams) DSN() string {
	sslMode := p.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, sslMode,
	)
}

// New creates a new database connection from params
func New(ctx context.Context, params ConnectionParams) (*DB, error) {
	return Open(ctx, params.DSN())
}

// Open connects with a DSN or URL, pings and creates missing tables
func Open(ctx context.Context, dsn string) (*DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := createTables(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &DB{DB: db, logger: log.With().Str("component", "database").Logger()}, nil
}

// createTables creates the necessary tables if they don't exist
func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS strategies (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			entry_conditions TEXT[] NOT NULL DEFAULT '{}',
			exit_conditions TEXT[] NOT NULL DEFAULT '{}',
			position_size_percent DOUBLE PRECISION NOT NULL,
			stop_loss_percent DOUBLE PRECISION NOT NULL,
			take_profit_percent DOUBLE PRECISION NOT NULL,
			trading_pairs TEXT[] NOT NULL,
			sizing_mode TEXT NOT NULL DEFAULT 'kelly',
			multi_timeframe_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			primary_timeframe INTEGER NOT NULL DEFAULT 60,
			confirmatory_timeframes INTEGER[] NOT NULL DEFAULT '{}',
			regime_filter_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			allowed_regimes TEXT[] NOT NULL DEFAULT '{}',
			use_volatility_stops BOOLEAN NOT NULL DEFAULT FALSE,
			volatility_stop_multiplier DOUBLE PRECISION NOT NULL DEFAULT 2,
			trailing_stop_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			trailing_stop_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
			total_trades INTEGER NOT NULL DEFAULT 0,
			win_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
			avg_win_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
			avg_loss_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("create strategies table: %w", err)
	}
	return nil
}
