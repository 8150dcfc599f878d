package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

const defaultApplicationName = "adhocsql"

type DBConfig struct {
	DSN string
	// ApplicationName is reported to Postgres unless the DSN already sets one.
	ApplicationName string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

// Open connects to the warehouse catalog. Every session is read-only; a run
// only resolves snapshots and never writes catalog state.
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
		return nil, fmt.Errorf("ping warehouse catalog db: %w", err)
	}
	return db, nil
}

func connConfig(cfg DBConfig) (*pgx.ConnConfig, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("warehouse catalog dsn is required")
	}
	connCfg, err := pgx.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse warehouse catalog dsn: %w", err)
	}
	if connCfg.RuntimeParams == nil {
		connCfg.RuntimeParams = map[string]string{}
	}
	connCfg.RuntimeParams["default_transaction_read_only"] = "on"
	if connCfg.RuntimeParams["application_name"] == "" {
		name := strings.TrimSpace(cfg.ApplicationName)
		if name == "" {
			name = defaultApplicationName
		}
		connCfg.RuntimeParams["application_name"] = name
	}
	return connCfg, nil
}
