// Package repository persists the run ledger: one row per batch run and one
// row per (run, document) holding the latest pipeline state.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect is the SQL flavor behind a DSN.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

type Config struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// DB is an open ledger database. The pgx pool is only set for Postgres.
type DB struct {
	SQL     *sql.DB
	Dialect Dialect
	pool    *pgxpool.Pool
	logger  *slog.Logger
}

// DialectFor picks the driver from the DSN scheme.
func DialectFor(dsn string) Dialect {
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return Postgres
	}
	return SQLite
}

// Open connects to dsn and creates the ledger tables when missing.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	d := &DB{Dialect: DialectFor(cfg.DSN), logger: logger}
	logger.Info("connecting to ledger database", "dialect", d.Dialect)

	switch d.Dialect {
	case Postgres:
		pool, err := openPool(ctx, cfg)
		if err != nil {
			logger.Error("failed to connect to ledger database", "error", err)
			return nil, err
		}
		d.pool = pool
		// Wrap pool as *sql.DB so both dialects share one code path
		d.SQL = stdlib.OpenDBFromPool(pool)
	default:
		db, err := sql.Open("sqlite", cfg.DSN)
		if err != nil {
			logger.Error("failed to open ledger database", "error", err)
			return nil, err
		}
		// one writer; sqlite serializes anyway and :memory: is per connection
		db.SetMaxOpenConns(1)
		d.SQL = db
	}

	if err := d.HealthCheck(ctx, cfg.DialTimeout); err != nil {
		d.Close()
		return nil, fmt.Errorf("ping ledger: %w", err)
	}
	if err := d.migrate(ctx); err != nil {
		d.Close()
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	logger.Info("successfully connected to ledger database", "dialect", d.Dialect)
	return d, nil
}

func openPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "doc-digitizer"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	return pgxpool.NewWithConfig(ctx, pc)
}

// Close closes the database connections gracefully
func (d *DB) Close() {
	d.logger.Info("closing ledger database")
	if d.SQL != nil {
		if err := d.SQL.Close(); err != nil {
			d.logger.Error("failed to close ledger database", "error", err)
		}
	}
	if d.pool != nil {
		d.pool.Close()
	}
}

// HealthCheck pings using database/sql to catch DSN issues early.
func (d *DB) HealthCheck(ctx context.Context, timeout time.Duration) error {
	d.logger.Debug("pinging ledger database")
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return d.SQL.PingContext(ctx)
}

// rebind rewrites ? placeholders to $n for Postgres.
func (d *DB) rebind(query string) string {
	if d.Dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id           TEXT PRIMARY KEY,
		started_at   TEXT NOT NULL,
		finished_at  TEXT,
		summary_json TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS documents (
		run_id     TEXT NOT NULL REFERENCES runs(id),
		name       TEXT NOT NULL,
		sha256     TEXT NOT NULL,
		state      TEXT NOT NULL,
		method     TEXT NOT NULL DEFAULT '',
		error      TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL,
		PRIMARY KEY (run_id, name)
	)`,
	`CREATE INDEX IF NOT EXISTS documents_state_idx ON documents (state)`,
}

func (d *DB) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := d.SQL.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
