package database

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const applicationName = "student-registry"

// Options tune the pool. Zero durations fall back to the defaults below.
type Options struct {
	MaxConns int32
	MinConns int32
	// StatementTimeout is enforced server side on every pooled session so a
	// stuck query cannot hold a registration or login open indefinitely.
	StatementTimeout time.Duration
	MigrationTimeout time.Duration
}

const (
	defaultStatementTimeout = 5 * time.Second
	defaultMigrationTimeout = 2 * time.Minute
)

type DB struct {
	Pool             *pgxpool.Pool
	migrationTimeout time.Duration
}

func New(ctx context.Context, databaseURL string, opts Options) (*DB, error) {
	cfg, err := poolConfig(databaseURL, opts)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	slog.Info("database connected",
		"max_conns", cfg.MaxConns,
		"min_conns", cfg.MinConns,
		"statement_timeout", cfg.ConnConfig.RuntimeParams["statement_timeout"],
	)
	return &DB{Pool: pool, migrationTimeout: resolveMigrationTimeout(opts)}, nil
}

func poolConfig(databaseURL string, opts Options) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 && opts.MinConns <= cfg.MaxConns {
		cfg.MinConns = opts.MinConns
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	statementTimeout := opts.StatementTimeout
	if statementTimeout <= 0 {
		statementTimeout = defaultStatementTimeout
	}
	params := cfg.ConnConfig.RuntimeParams
	params["statement_timeout"] = strconv.FormatInt(statementTimeout.Milliseconds(), 10)
	// Reset tokens and versions are compared in UTC.
	params["timezone"] = "UTC"
	if params["application_name"] == "" {
		params["application_name"] = applicationName
	}

	return cfg, nil
}

func resolveMigrationTimeout(opts Options) time.Duration {
	if opts.MigrationTimeout <= 0 {
		return defaultMigrationTimeout
	}
	return opts.MigrationTimeout
}

func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}
