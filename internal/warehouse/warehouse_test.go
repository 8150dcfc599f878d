package warehouse

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseStaticGroupsFilesByTable(t *testing.T) {
	catalog, err := ParseStatic(" users=dim/users.parquet ; events=ev/a.parquet, ev/b.parquet;")
	if err != nil {
		t.Fatalf("ParseStatic() error = %v", err)
	}
	tables, err := catalog.Tables(context.Background())
	if err != nil {
		t.Fatalf("Tables() error = %v", err)
	}
	want := []Table{
		{Name: "events", Files: []File{{ObjectPath: "ev/a.parquet"}, {ObjectPath: "ev/b.parquet"}}},
		{Name: "users", Files: []File{{ObjectPath: "dim/users.parquet"}}},
	}
	if diff := cmp.Diff(want, tables); diff != "" {
		t.Fatalf("Tables() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseStaticEmptyIsValid(t *testing.T) {
	catalog, err := ParseStatic("")
	if err != nil {
		t.Fatalf("ParseStatic() error = %v", err)
	}
	tables, _ := catalog.Tables(context.Background())
	if len(tables) != 0 {
		t.Fatalf("tables = %d", len(tables))
	}
}

func TestParseStaticRejectsBadEntries(t *testing.T) {
	for _, raw := range []string{"events", "events=", "bad-name=a.parquet", "1st=a.parquet"} {
		if _, err := ParseStatic(raw); err == nil {
			t.Fatalf("ParseStatic(%q) expected error", raw)
		}
	}
}
