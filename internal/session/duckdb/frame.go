package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dataphantom/adhocsql/internal/session"
)

// frame wraps sqlText in COPY and LIMIT statements. The closing parenthesis
// always starts a new line so a line comment inside the query cannot hide it.
type frame struct {
	conn    *sql.Conn
	sqlText string
	schema  []session.Column
}

// Schema returns the column list captured while binding the statement.
func (f *frame) Schema(context.Context) ([]session.Column, error) {
	out := make([]session.Column, len(f.schema))
	copy(out, f.schema)
	return out, nil
}

func (f *frame) WriteDelimited(ctx context.Context, localPath string, opts session.DelimitedOptions) (int64, error) {
	delimiter := opts.Delimiter
	if delimiter == 0 {
		delimiter = ','
	}
	copySQL := fmt.Sprintf(
		"COPY (%s\n) TO %s (FORMAT CSV, DELIMITER %s, HEADER %t)",
		f.sqlText,
		quoteString(localPath),
		quoteString(string(delimiter)),
		opts.Header,
	)
	result, err := f.conn.ExecContext(ctx, copySQL)
	if err != nil {
		return 0, fmt.Errorf("evaluate query into %q: %w", localPath, err)
	}
	// COPY reports the number of rows it wrote; zero when the driver cannot tell.
	rows, _ := result.RowsAffected()
	return rows, nil
}

func (f *frame) Preview(ctx context.Context, limit int) (session.Preview, error) {
	if limit <= 0 {
		return session.Preview{}, fmt.Errorf("preview limit must be > 0")
	}
	rows, err := f.conn.QueryContext(ctx, fmt.Sprintf("SELECT * FROM (%s\n) AS preview LIMIT %d", f.sqlText, limit))
	if err != nil {
		return session.Preview{}, fmt.Errorf("query preview rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return session.Preview{}, fmt.Errorf("preview columns: %w", err)
	}
	preview := session.Preview{Columns: columns, Rows: make([][]string, 0, limit)}
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return session.Preview{}, fmt.Errorf("scan preview row: %w", err)
		}
		preview.Rows = append(preview.Rows, formatValues(values))
	}
	if err := rows.Err(); err != nil {
		return session.Preview{}, fmt.Errorf("iterate preview rows: %w", err)
	}
	return preview, nil
}

// describe binds sqlText and reports its result columns without running it.
func describe(ctx context.Context, conn *sql.Conn, sqlText string) ([]session.Column, error) {
	rows, err := conn.QueryContext(ctx, "DESCRIBE "+sqlText)
	if err != nil {
		return nil, fmt.Errorf("plan query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("describe columns: %w", err)
	}
	schema := make([]session.Column, 0)
	for rows.Next() {
		values := make([]sql.NullString, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("scan describe row: %w", err)
		}
		column := session.Column{Nullable: true}
		for i, name := range columns {
			switch name {
			case "column_name":
				column.Name = values[i].String
			case "column_type":
				column.Type = values[i].String
			case "null":
				column.Nullable = !strings.EqualFold(values[i].String, "NO")
			}
		}
		schema = append(schema, column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate describe rows: %w", err)
	}
	return schema, nil
}

func formatValues(values []any) []string {
	formatted := make([]string, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case nil:
			formatted[i] = "NULL"
		case []byte:
			formatted[i] = string(typed)
		default:
			formatted[i] = fmt.Sprint(typed)
		}
	}
	return formatted
}
