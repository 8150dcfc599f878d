// Package warehouse resolves the tables a session can query by name and the
// object-storage data files backing each of them.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var ErrNoSnapshot = errors.New("warehouse: no published snapshot")

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,127}$`)

type File struct {
	ObjectPath    string
	FileSizeBytes int64
}

type Table struct {
	Name  string
	Files []File
}

type Catalog interface {
	Tables(ctx context.Context) ([]Table, error)
}

// Empty is a catalog without tables.
type Empty struct{}

func (Empty) Tables(context.Context) ([]Table, error) {
	return nil, nil
}

// Static is a fixed table list, usually parsed from configuration.
type Static struct {
	tables []Table
}

func NewStatic(tables []Table) (*Static, error) {
	for _, table := range tables {
		if err := ValidateTableName(table.Name); err != nil {
			return nil, err
		}
		if len(table.Files) == 0 {
			return nil, fmt.Errorf("table %q has no data files", table.Name)
		}
	}
	return &Static{tables: tables}, nil
}

// ParseStatic reads "events=a.parquet,b.parquet;users=u.parquet".
func ParseStatic(raw string) (*Static, error) {
	byName := map[string][]File{}
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, paths, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid warehouse table entry %q: want name=path[,path]", entry)
		}
		name = strings.TrimSpace(name)
		for _, objectPath := range strings.Split(paths, ",") {
			objectPath = strings.TrimSpace(objectPath)
			if objectPath == "" {
				continue
			}
			byName[name] = append(byName[name], File{ObjectPath: objectPath})
		}
		if len(byName[name]) == 0 {
			return nil, fmt.Errorf("table %q has no data files", name)
		}
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	tables := make([]Table, 0, len(names))
	for _, name := range names {
		tables = append(tables, Table{Name: name, Files: byName[name]})
	}
	return NewStatic(tables)
}

func (s *Static) Tables(context.Context) ([]Table, error) {
	out := make([]Table, len(s.tables))
	copy(out, s.tables)
	return out, nil
}

func ValidateTableName(name string) error {
	if !tableNamePattern.MatchString(name) {
		return fmt.Errorf("invalid warehouse table name: %q", name)
	}
	return nil
}
