package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

const (
	DefaultApplicationName  = "datasetviz-history"
	DefaultStatementTimeout = 5 * time.Second
)

// ErrSchemaMissing means the query_history table has not been migrated.
var ErrSchemaMissing = errors.New("query_history table is missing; run datasetviz-migrate")

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	// ApplicationName and StatementTimeout are sent as session parameters
	// unless the DSN already sets them.
	ApplicationName  string
	StatementTimeout time.Duration
	// RequireSchema fails Open when query_history does not exist.
	RequireSchema bool
}

func Open(ctx context.Context, cfg DBConfig) (*sql.DB, error) {
	connCfg, err := connConfig(cfg)
	if err != nil {
		return nil, err
	}
	db := stdlib.OpenDB(*connCfg)

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping history db: %w", err)
	}
	if cfg.RequireSchema {
		if err := checkSchema(pingCtx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}

func connConfig(cfg DBConfig) (*pgx.ConnConfig, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("history dsn is required")
	}
	connCfg, err := pgx.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse history dsn: %w", err)
	}
	if connCfg.RuntimeParams == nil {
		connCfg.RuntimeParams = map[string]string{}
	}

	appName := cfg.ApplicationName
	if appName == "" {
		appName = DefaultApplicationName
	}
	if _, ok := connCfg.RuntimeParams["application_name"]; !ok {
		connCfg.RuntimeParams["application_name"] = appName
	}

	timeout := cfg.StatementTimeout
	if timeout <= 0 {
		timeout = DefaultStatementTimeout
	}
	if _, ok := connCfg.RuntimeParams["statement_timeout"]; !ok {
		connCfg.RuntimeParams["statement_timeout"] = strconv.FormatInt(timeout.Milliseconds(), 10)
	}
	return connCfg, nil
}

func checkSchema(ctx context.Context, db *sql.DB) error {
	var present bool
	if err := db.QueryRowContext(ctx, `SELECT to_regclass('query_history') IS NOT NULL`).Scan(&present); err != nil {
		return fmt.Errorf("check history schema: %w", err)
	}
	if !present {
		return ErrSchemaMissing
	}
	return nil
}
