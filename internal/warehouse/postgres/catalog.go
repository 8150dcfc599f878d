package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dataphantom/adhocsql/internal/warehouse"
)

// Catalog exposes the latest published snapshot of one tenant as warehouse tables.
type Catalog struct {
	db       *sql.DB
	tenantID string
}

func NewCatalog(db *sql.DB, tenantID string) (*Catalog, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if strings.TrimSpace(tenantID) == "" {
		return nil, fmt.Errorf("tenant id is required")
	}
	return &Catalog{db: db, tenantID: strings.TrimSpace(tenantID)}, nil
}

func (c *Catalog) Tables(ctx context.Context) ([]warehouse.Table, error) {
	snapshotID, err := c.latestSnapshotID(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx, `
SELECT td.table_name, df.path, df.file_size_bytes
FROM snapshot_file AS sf
JOIN table_def AS td ON td.table_id = sf.table_id
JOIN data_file AS df ON df.file_id = sf.file_id
WHERE sf.change_type = 'add'
  AND td.tenant_id = $1
  AND sf.snapshot_id <= $2
  AND NOT EXISTS (
      SELECT 1
      FROM snapshot_file AS sf_remove
      WHERE sf_remove.table_id = sf.table_id
        AND sf_remove.file_id = sf.file_id
        AND sf_remove.change_type = 'remove'
        AND sf_remove.snapshot_id <= $2
  )
ORDER BY td.table_name ASC, sf.file_id ASC`, c.tenantID, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("list snapshot files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tables := make([]warehouse.Table, 0)
	for rows.Next() {
		var tableName string
		var file warehouse.File
		if err := rows.Scan(&tableName, &file.ObjectPath, &file.FileSizeBytes); err != nil {
			return nil, fmt.Errorf("scan snapshot file row: %w", err)
		}
		if err := warehouse.ValidateTableName(tableName); err != nil {
			return nil, err
		}
		if n := len(tables); n > 0 && tables[n-1].Name == tableName {
			tables[n-1].Files = append(tables[n-1].Files, file)
			continue
		}
		tables = append(tables, warehouse.Table{Name: tableName, Files: []warehouse.File{file}})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot files: %w", err)
	}
	return tables, nil
}

func (c *Catalog) latestSnapshotID(ctx context.Context) (int64, error) {
	var snapshotID int64
	err := c.db.QueryRowContext(ctx, `
SELECT snapshot_id
FROM snapshot
WHERE tenant_id = $1
ORDER BY snapshot_id DESC
LIMIT 1`, c.tenantID).Scan(&snapshotID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, warehouse.ErrNoSnapshot
		}
		return 0, fmt.Errorf("get latest snapshot: %w", err)
	}
	return snapshotID, nil
}
