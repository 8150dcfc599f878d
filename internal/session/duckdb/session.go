package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/dataphantom/adhocsql/internal/session"
	"github.com/dataphantom/adhocsql/internal/storage"
	"github.com/dataphantom/adhocsql/internal/warehouse"
)

type Options struct {
	// Catalog and Store are required when warehouse support is enabled.
	Catalog warehouse.Catalog
	Store   storage.ObjectStore
	Logger  *slog.Logger
}

// Session is an in-memory DuckDB database pinned to a single connection.
type Session struct {
	name    string
	db      *sql.DB
	conn    *sql.Conn
	workDir string
	closed  bool
}

var _ session.Session = (*Session)(nil)

func Open(ctx context.Context, cfg session.Config, opts Options) (*Session, error) {
	name := strings.TrimSpace(cfg.AppName)
	if name == "" {
		name = session.DefaultAppName
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("acquire duckdb connection: %w", err)
	}
	s := &Session{name: name, db: db, conn: conn}

	if err := s.applyVariables(ctx, cfg, name); err != nil {
		_ = s.Close()
		return nil, err
	}
	if cfg.EnableWarehouse {
		if err := s.registerWarehouse(ctx, opts, logger); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Session) Name() string {
	return s.name
}

func (s *Session) Query(ctx context.Context, sqlText string) (session.Frame, error) {
	if s.closed {
		return nil, fmt.Errorf("session %q is closed", s.name)
	}
	sqlText = session.TrimStatement(sqlText)
	if sqlText == "" {
		return nil, fmt.Errorf("sql is required")
	}
	schema, err := describe(ctx, s.conn, sqlText)
	if err != nil {
		return nil, err
	}
	return &frame{conn: s.conn, sqlText: sqlText, schema: schema}, nil
}

// Close releases the connection, the database and any staged warehouse
// files. Calls after the first are no-ops.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close duckdb connection: %w", err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close duckdb: %w", err))
		}
	}
	if s.workDir != "" {
		if err := os.RemoveAll(s.workDir); err != nil {
			errs = append(errs, fmt.Errorf("remove staging dir: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *Session) applyVariables(ctx context.Context, cfg session.Config, name string) error {
	variables := []session.Flag{
		{Key: "app_name", Value: name},
		{Key: "driver_runtime", Value: cfg.DriverRuntime},
		{Key: "worker_runtime", Value: cfg.WorkerRuntime},
	}
	variables = append(variables, cfg.EngineFlags...)
	for _, variable := range variables {
		if variable.Value == "" && variable.Key != "app_name" {
			continue
		}
		stmt := fmt.Sprintf("SET VARIABLE %s = %s", variableName(variable.Key), quoteString(variable.Value))
		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("set session variable %q: %w", variable.Key, err)
		}
	}
	return nil
}

func (s *Session) registerWarehouse(ctx context.Context, opts Options, logger *slog.Logger) error {
	if opts.Catalog == nil {
		return fmt.Errorf("warehouse catalog is required")
	}
	tables, err := opts.Catalog.Tables(ctx)
	if err != nil {
		return fmt.Errorf("list warehouse tables: %w", err)
	}
	if len(tables) == 0 {
		logger.Warn("warehouse catalog has no tables")
		return nil
	}
	if opts.Store == nil {
		return fmt.Errorf("warehouse object store is required")
	}

	workDir, err := os.MkdirTemp("", "adhocsql-session-")
	if err != nil {
		return fmt.Errorf("create session staging dir: %w", err)
	}
	s.workDir = workDir

	for _, table := range tables {
		if err := warehouse.ValidateTableName(table.Name); err != nil {
			return err
		}
		localPaths := make([]string, 0, len(table.Files))
		for index, file := range table.Files {
			localPath := filepath.Join(workDir, fmt.Sprintf("%s_%d.parquet", table.Name, index))
			if err := stageObject(ctx, opts.Store, file, localPath); err != nil {
				return err
			}
			localPaths = append(localPaths, localPath)
		}
		viewSQL := fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet(%s)`, quoteIdent(table.Name), quoteStringArray(localPaths))
		if _, err := s.conn.ExecContext(ctx, viewSQL); err != nil {
			return fmt.Errorf("create view for table %q: %w", table.Name, err)
		}
		logger.Debug("registered warehouse table", slog.String("table", table.Name), slog.Int("files", len(localPaths)))
	}
	return nil
}

// stageObject copies one warehouse data file to localPath. A size that
// disagrees with the catalog means the object was replaced or truncated
// after the snapshot was published.
func stageObject(ctx context.Context, store storage.ObjectStore, file warehouse.File, localPath string) error {
	reader, err := store.Get(ctx, file.ObjectPath)
	if err != nil {
		return fmt.Errorf("get object %q: %w", file.ObjectPath, err)
	}
	defer func() { _ = reader.Close() }()

	local, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create local parquet file %q: %w", localPath, err)
	}
	written, copyErr := io.Copy(local, reader)
	closeErr := local.Close()
	if copyErr != nil {
		return fmt.Errorf("stage object %q: %w", file.ObjectPath, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close local parquet file %q: %w", localPath, closeErr)
	}
	if file.FileSizeBytes > 0 && written != file.FileSizeBytes {
		return fmt.Errorf("object %q has %d bytes, catalog records %d", file.ObjectPath, written, file.FileSizeBytes)
	}
	return nil
}

// variableName maps an engine flag such as "hive.enforce.bucketing" onto a
// DuckDB identifier ("hive_enforce_bucketing").
func variableName(key string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(key)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	name := b.String()
	if name == "" || (name[0] >= '0' && name[0] <= '9') {
		name = "_" + name
	}
	return name
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

func quoteStringArray(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, quoteString(value))
	}
	return "[" + strings.Join(quoted, ",") + "]"
}
