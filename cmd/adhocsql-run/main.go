package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dataphantom/adhocsql/internal/config"
	"github.com/dataphantom/adhocsql/internal/job"
	"github.com/dataphantom/adhocsql/internal/observability"
	"github.com/dataphantom/adhocsql/internal/output"
	"github.com/dataphantom/adhocsql/internal/session"
	sessionduckdb "github.com/dataphantom/adhocsql/internal/session/duckdb"
	"github.com/dataphantom/adhocsql/internal/storage"
	s3store "github.com/dataphantom/adhocsql/internal/storage/s3"
	"github.com/dataphantom/adhocsql/internal/warehouse"
	warehousepostgres "github.com/dataphantom/adhocsql/internal/warehouse/postgres"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.LoadFromEnv("adhocsql-run")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		return 1
	}
	logger := observability.NewLogger(cfg, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sqlText := cfg.Run.SQL
	if cfg.Run.SQLFile != "" {
		raw, err := os.ReadFile(cfg.Run.SQLFile)
		if err != nil {
			logger.Error("failed to read sql file", slog.String("path", cfg.Run.SQLFile), slog.Any("error", err))
			return 1
		}
		sqlText = string(raw)
	}

	catalog, closeCatalog, err := openCatalog(ctx, cfg)
	if err != nil {
		logger.Error("failed to open warehouse catalog", slog.Any("error", err))
		return 1
	}
	defer closeCatalog()

	var warehouseStore storage.ObjectStore
	if cfg.Session.EnableWarehouse && cfg.Warehouse.Catalog != config.WarehouseCatalogNone {
		warehouseStore, err = s3store.New(ctx, objectStoreConfig(cfg, cfg.ObjectStore.Bucket, cfg.ObjectStore.Prefix, cfg.ObjectStore.AutoCreateBucket))
		if err != nil {
			logger.Error("failed to initialize warehouse object store", slog.Any("error", err))
			return 1
		}
	}
	outputCfg := objectStoreConfig(cfg, cfg.Run.OutputBucket, "", false)
	outputCfg.RequireBucket = true
	outputStore, err := s3store.New(ctx, outputCfg)
	if err != nil {
		logger.Error("failed to initialize output object store", slog.Any("error", err))
		return 1
	}

	metrics := observability.NewRunMetrics()
	runner := &job.Runner{
		OpenSession: func(ctx context.Context, sessionCfg session.Config) (session.Session, error) {
			return sessionduckdb.Open(ctx, sessionCfg, sessionduckdb.Options{
				Catalog: catalog,
				Store:   warehouseStore,
				Logger:  logger,
			})
		},
		Writer: &output.Writer{Store: outputStore, Logger: logger},
		Session: session.Config{
			AppName:         cfg.Session.AppName,
			EnableWarehouse: cfg.Session.EnableWarehouse,
			EngineFlags:     cfg.Session.EngineFlags,
		},
		Runtime:     cfg.Session.Runtime,
		PreviewRows: cfg.Run.PreviewRows,
		Console:     os.Stdout,
		Logger:      logger,
		Metrics:     metrics,
	}

	_, runErr := runner.Run(ctx, job.Params{
		PlaygroundID: cfg.Run.PlaygroundID,
		QueryID:      cfg.Run.QueryID,
		UniqueID:     cfg.Run.UniqueID,
		SQL:          sqlText,
		OutputBucket: cfg.Run.OutputBucket,
		PathPrefix:   cfg.Run.PathPrefix,
		CurrentDate:  cfg.Run.CurrentDate,
	})

	// The run may have been interrupted; the push still gets its own deadline.
	pushErr := metrics.Push(context.Background(), cfg.Metrics.PushgatewayURL, cfg.Metrics.Job, cfg.Metrics.PushTimeout, map[string]string{
		"playground_id": cfg.Run.PlaygroundID,
	})
	if pushErr != nil {
		logger.Warn("failed to push run metrics", slog.Any("error", pushErr))
	}
	return job.ExitCode(runErr)
}

func openCatalog(ctx context.Context, cfg config.Config) (warehouse.Catalog, func(), error) {
	noop := func() {}
	if !cfg.Session.EnableWarehouse {
		return warehouse.Empty{}, noop, nil
	}
	switch cfg.Warehouse.Catalog {
	case config.WarehouseCatalogStatic:
		catalog, err := warehouse.ParseStatic(cfg.Warehouse.Tables)
		if err != nil {
			return nil, noop, err
		}
		return catalog, noop, nil
	case config.WarehouseCatalogPostgres:
		db, err := warehousepostgres.Open(ctx, warehousepostgres.DBConfig{
			DSN:             cfg.Warehouse.DSN,
			ApplicationName: cfg.Service.Name,
			MaxOpenConns:    cfg.Warehouse.MaxOpenConns,
			MaxIdleConns:    cfg.Warehouse.MaxIdleConns,
			ConnMaxIdleTime: cfg.Warehouse.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.Warehouse.ConnMaxLifetime,
		})
		if err != nil {
			return nil, noop, err
		}
		catalog, err := warehousepostgres.NewCatalog(db, cfg.Warehouse.TenantID)
		if err != nil {
			_ = db.Close()
			return nil, noop, err
		}
		return catalog, closeDB(db), nil
	case config.WarehouseCatalogNone:
		return warehouse.Empty{}, noop, nil
	default:
		return nil, noop, fmt.Errorf("unsupported warehouse catalog %q", cfg.Warehouse.Catalog)
	}
}

func closeDB(db *sql.DB) func() {
	return func() { _ = db.Close() }
}

func objectStoreConfig(cfg config.Config, bucket, prefix string, autoCreate bool) s3store.Config {
	return s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           prefix,
		AutoCreateBucket: autoCreate,
	}
}
