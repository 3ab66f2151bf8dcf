// Package store is the durable side of the pipeline: Postgres for
// markets, trades, and alerts, Redis for locks, counters, and the
// fingerprint cache.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	maxOpenConns    = 16
	maxIdleConns    = 4
	connMaxLifetime = 30 * time.Minute
	connectTimeout  = 10 * time.Second
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS markets (
		id            TEXT PRIMARY KEY,
		condition_id  TEXT NOT NULL DEFAULT '',
		question      TEXT NOT NULL DEFAULT '',
		slug          TEXT NOT NULL DEFAULT '',
		tier          INT NOT NULL DEFAULT 0,
		category      TEXT NOT NULL DEFAULT '',
		open_interest DOUBLE PRECISION NOT NULL DEFAULT 0,
		volume        DOUBLE PRECISION NOT NULL DEFAULT 0,
		enabled       BOOLEAN NOT NULL DEFAULT TRUE,
		active        BOOLEAN NOT NULL DEFAULT TRUE,
		closed        BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS trades (
		id         TEXT PRIMARY KEY,
		market_id  TEXT NOT NULL,
		side       TEXT NOT NULL DEFAULT '',
		size       DOUBLE PRECISION NOT NULL DEFAULT 0,
		price      DOUBLE PRECISION NOT NULL DEFAULT 0,
		outcome    TEXT NOT NULL DEFAULT '',
		maker      TEXT NOT NULL DEFAULT '',
		taker      TEXT NOT NULL DEFAULT '',
		ts         BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS trades_created_at_idx ON trades (created_at)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		id                   TEXT PRIMARY KEY,
		trade_id             TEXT NOT NULL UNIQUE,
		wallet_address       TEXT NOT NULL,
		market_id            TEXT NOT NULL,
		side                 TEXT NOT NULL DEFAULT '',
		size                 DOUBLE PRECISION NOT NULL DEFAULT 0,
		price                DOUBLE PRECISION NOT NULL DEFAULT 0,
		outcome              TEXT NOT NULL DEFAULT '',
		trade_ts             BIGINT NOT NULL DEFAULT 0,
		trade_usd_value      DOUBLE PRECISION NOT NULL DEFAULT 0,
		oi_percentage        DOUBLE PRECISION NOT NULL DEFAULT 0,
		price_impact         DOUBLE PRECISION NOT NULL DEFAULT 0,
		open_interest        DOUBLE PRECISION NOT NULL DEFAULT 0,
		fingerprint          JSONB NOT NULL DEFAULT '{}',
		score                JSONB NOT NULL DEFAULT '{}',
		confidence_score     DOUBLE PRECISION NOT NULL DEFAULT 0,
		classification       TEXT NOT NULL,
		ts                   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		notified             BOOLEAN NOT NULL DEFAULT FALSE,
		notified_at          TIMESTAMPTZ,
		dismissed            BOOLEAN NOT NULL DEFAULT FALSE,
		dismissed_at         TIMESTAMPTZ,
		notes                TEXT,
		dormancy_days        INT,
		dormancy_reactivated BOOLEAN
	)`,
	`CREATE INDEX IF NOT EXISTS alerts_wallet_market_ts_idx ON alerts (wallet_address, market_id, ts)`,
}

// Connect opens the Postgres pool and verifies it answers.
func Connect(logger *zap.Logger, databaseURL string) (*sqlx.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if databaseURL == "" {
		return nil, fmt.Errorf("database url is empty")
	}

	db, err := sqlx.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logger.Info("postgres connected")
	return db, nil
}

// EnsureSchema creates the tables and indexes if they do not exist.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
