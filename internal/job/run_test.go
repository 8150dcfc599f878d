package job

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/dataphantom/adhocsql/internal/output"
	"github.com/dataphantom/adhocsql/internal/session"
	sessionduckdb "github.com/dataphantom/adhocsql/internal/session/duckdb"
	"github.com/dataphantom/adhocsql/internal/storage"
)

func TestRunEndToEndWithDuckDB(t *testing.T) {
	store := newMemoryStore()
	store.objects["adhoc/sparksql-output/2026-02-19/pg-1/q-1/u-1/part-00000-old-c000.csv"] = []byte("stale\n")

	var console bytes.Buffer
	runner := duckdbRunner(t, store, &console)
	p := params()
	p.SQL = "SELECT i AS id, concat('value ', i) AS label FROM range(3) t(i) ORDER BY i;;"

	report, err := runner.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run() error = %v\n%s", err, console.String())
	}
	wantKeys := []string{
		"adhoc/sparksql-output/2026-02-19/pg-1/q-1/u-1/_SUCCESS",
		"adhoc/sparksql-output/2026-02-19/pg-1/q-1/u-1/part-00000-u-1-c000.csv",
	}
	if got := store.keys(); strings.Join(got, ",") != strings.Join(wantKeys, ",") {
		t.Fatalf("keys = %v, want %v", got, wantKeys)
	}
	data := string(store.objects[wantKeys[1]])
	if data != "id\tlabel\n0\tvalue 0\n1\tvalue 1\n2\tvalue 2\n" {
		t.Fatalf("data file = %q", data)
	}
	if report.Output.DataFileKey != wantKeys[1] || report.Output.Replaced != 1 {
		t.Fatalf("output = %+v", report.Output)
	}
	if len(report.Preview.Sample.Rows) != 3 {
		t.Fatalf("preview rows = %d", len(report.Preview.Sample.Rows))
	}
	if !strings.Contains(console.String(), "value 2") {
		t.Fatalf("console missing preview values:\n%s", console.String())
	}
}

func TestRunEndToEndQueryEndingInComment(t *testing.T) {
	store := newMemoryStore()
	var console bytes.Buffer
	runner := duckdbRunner(t, store, &console)
	p := params()
	p.SQL = "SELECT 1 AS a; -- done"

	report, err := runner.Run(context.Background(), p)
	if ExitCode(err) != 0 {
		t.Fatalf("Run() error = %v\n%s", err, console.String())
	}
	if got := string(store.objects[report.Output.DataFileKey]); got != "a\n1\n" {
		t.Fatalf("data file = %q", got)
	}
	if report.Preview.Err != nil || len(report.Preview.Sample.Rows) != 1 {
		t.Fatalf("preview = %+v", report.Preview)
	}
}

func TestRunEndToEndInvalidTableWritesNothing(t *testing.T) {
	store := newMemoryStore()
	runner := duckdbRunner(t, store, nil)
	p := params()
	p.SQL = "SELECT * FROM nonexistent_table"

	report, err := runner.Run(context.Background(), p)
	if ExitCode(err) != 1 {
		t.Fatalf("ExitCode() = %d", ExitCode(err))
	}
	if report.Final() != StageError {
		t.Fatalf("Final() = %s", report.Final())
	}
	if len(store.objects) != 0 || store.puts != 0 {
		t.Fatalf("unexpected objects: %v", store.keys())
	}
}

func duckdbRunner(t *testing.T, store *memoryStore, console *bytes.Buffer) *Runner {
	t.Helper()
	runner := &Runner{
		OpenSession: func(ctx context.Context, cfg session.Config) (session.Session, error) {
			return sessionduckdb.Open(ctx, cfg, sessionduckdb.Options{})
		},
		Writer:      &output.Writer{Store: store, TempDir: t.TempDir()},
		Session:     session.Config{AppName: session.DefaultAppName, EngineFlags: session.DefaultEngineFlags()},
		PreviewRows: 5,
	}
	if console != nil {
		runner.Console = console
	}
	return runner
}

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string][]byte{}}
}

func (m *memoryStore) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for key := range m.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (m *memoryStore) Put(_ context.Context, key string, body io.Reader, size int64, _ storage.PutOptions) (storage.ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	m.objects[key] = data
	return storage.ObjectInfo{Key: key, Size: size}, nil
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memoryStore) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	var objects []storage.ObjectInfo
	for _, key := range m.keys() {
		if strings.HasPrefix(key, prefix) {
			m.mu.Lock()
			objects = append(objects, storage.ObjectInfo{Key: key, Size: int64(len(m.objects[key]))})
			m.mu.Unlock()
		}
	}
	return objects, nil
}
