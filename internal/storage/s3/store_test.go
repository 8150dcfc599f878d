package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dataphantom/adhocsql/internal/storage"
)

func TestPutResolvesKeyUnderRootAndPassesMetadata(t *testing.T) {
	api := newFakeAPI()
	store := mustStore(t, "results", "adhoc/root", api)

	info, err := store.Put(context.Background(), "/sparksql-output/run-1/part.csv", strings.NewReader("id\n"), 3, storage.PutOptions{
		ContentType: "text/tab-separated-values",
		Metadata:    map[string]string{"unique-id": "u-1"},
	})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if info.Key != "sparksql-output/run-1/part.csv" {
		t.Fatalf("info.Key = %q", info.Key)
	}
	stored, ok := api.objects["adhoc/root/sparksql-output/run-1/part.csv"]
	if !ok {
		t.Fatalf("objects = %v", api.keys())
	}
	if stored.opts.ContentType != "text/tab-separated-values" || stored.opts.Metadata["unique-id"] != "u-1" {
		t.Fatalf("put options = %+v", stored.opts)
	}
}

func TestResolveRejectsEscapingKeys(t *testing.T) {
	store := mustStore(t, "results", "", newFakeAPI())
	for _, key := range []string{"", "/", ".", "../secrets.txt", "a/../../b"} {
		if _, err := store.Put(context.Background(), key, strings.NewReader("x"), 1, storage.PutOptions{}); err == nil {
			t.Fatalf("Put(%q) expected error", key)
		}
	}
}

func TestGetMapsMissingObject(t *testing.T) {
	store := mustStore(t, "warehouse", "", newFakeAPI())
	if _, err := store.Get(context.Background(), "tenant/events/missing.parquet"); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Get() error = %v, want ErrObjectNotFound", err)
	}
}

func TestListKeepsDirectorySlashAndStripsRoot(t *testing.T) {
	api := newFakeAPI()
	api.put("root/out/run-1/_SUCCESS", "")
	api.put("root/out/run-1/part-00000-run-1-c000.csv", "id\n1\n")
	api.put("root/out/run-10/part-00000-run-10-c000.csv", "id\n")
	store := mustStore(t, "results", "root", api)

	objects, err := store.List(context.Background(), "out/run-1/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if api.lastListPrefix != "root/out/run-1/" {
		t.Fatalf("list prefix = %q", api.lastListPrefix)
	}
	want := []storage.ObjectInfo{
		{Key: "out/run-1/_SUCCESS"},
		{Key: "out/run-1/part-00000-run-1-c000.csv", Size: 5},
	}
	if diff := cmp.Diff(want, objects); diff != "" {
		t.Fatalf("List() mismatch (-want +got):\n%s", diff)
	}
}

func TestListWholeStore(t *testing.T) {
	api := newFakeAPI()
	if _, err := mustStore(t, "results", "", api).List(context.Background(), ""); err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if api.lastListPrefix != "" {
		t.Fatalf("list prefix = %q", api.lastListPrefix)
	}
	if _, err := mustStore(t, "results", "root", api).List(context.Background(), "/"); err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if api.lastListPrefix != "root/" {
		t.Fatalf("list prefix = %q", api.lastListPrefix)
	}
}

func TestDeleteKeysRemovesInOneBatch(t *testing.T) {
	api := newFakeAPI()
	api.put("root/out/run-1/_SUCCESS", "")
	api.put("root/out/run-1/part-00000-old-c000.csv", "stale")
	api.put("root/out/run-1/part-00000-new-c000.csv", "fresh")
	store := mustStore(t, "results", "root", api)

	err := store.DeleteKeys(context.Background(), []string{"out/run-1/_SUCCESS", "/out/run-1/part-00000-old-c000.csv"})
	if err != nil {
		t.Fatalf("DeleteKeys() error = %v", err)
	}
	if api.batchDeletes != 1 {
		t.Fatalf("batches = %d", api.batchDeletes)
	}
	if diff := cmp.Diff([]string{"root/out/run-1/part-00000-new-c000.csv"}, api.keys()); diff != "" {
		t.Fatalf("remaining keys mismatch (-want +got):\n%s", diff)
	}
}

func TestDeleteKeysRejectsInvalidKeyBeforeRemoving(t *testing.T) {
	api := newFakeAPI()
	api.put("out/run-1/_SUCCESS", "")
	store := mustStore(t, "results", "", api)

	if err := store.DeleteKeys(context.Background(), []string{"out/run-1/_SUCCESS", "/"}); err == nil {
		t.Fatal("expected the store root to be rejected as a key")
	}
	if err := store.DeleteKeys(context.Background(), []string{"out/../secret"}); err == nil {
		t.Fatal("expected parent segments to be rejected")
	}
	if api.batchDeletes != 0 || len(api.keys()) != 1 {
		t.Fatalf("batches=%d keys=%v", api.batchDeletes, api.keys())
	}
}

func TestDeleteIgnoresMissingObject(t *testing.T) {
	api := newFakeAPI()
	api.removeErr = storage.ErrObjectNotFound
	if err := mustStore(t, "results", "", api).Delete(context.Background(), "missing/file.csv"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
}

func TestEnsureBucketCreatesWhenMissing(t *testing.T) {
	api := newFakeAPI()
	store := mustStore(t, "warehouse", "", api)
	if err := store.ensureBucket(context.Background(), "us-east-1"); err != nil {
		t.Fatalf("ensureBucket() error = %v", err)
	}
	if !api.madeBucket {
		t.Fatal("expected MakeBucket to be called")
	}
}

func TestRequireBucketFailsWhenMissing(t *testing.T) {
	api := newFakeAPI()
	store := mustStore(t, "results", "", api)
	if err := store.requireBucket(context.Background()); err == nil {
		t.Fatal("expected missing bucket error")
	}
	api.bucketExists = true
	if err := store.requireBucket(context.Background()); err != nil {
		t.Fatalf("requireBucket() error = %v", err)
	}
	if api.madeBucket {
		t.Fatal("requireBucket must not create buckets")
	}
}

func TestSplitEndpoint(t *testing.T) {
	cases := []struct {
		raw     string
		useSSL  bool
		host    string
		secure  bool
		wantErr bool
	}{
		{raw: "localhost:9000", host: "localhost:9000"},
		{raw: "localhost:9000", useSSL: true, host: "localhost:9000", secure: true},
		{raw: "https://s3.example.com", host: "s3.example.com", secure: true},
		{raw: "http://minio:9000", host: "minio:9000"},
		{raw: "ftp://minio", wantErr: true},
		{raw: " ", wantErr: true},
	}
	for _, tc := range cases {
		host, secure, err := splitEndpoint(tc.raw, tc.useSSL)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("splitEndpoint(%q) expected error", tc.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("splitEndpoint(%q) error = %v", tc.raw, err)
		}
		if host != tc.host || secure != tc.secure {
			t.Fatalf("splitEndpoint(%q) = %q/%v", tc.raw, host, secure)
		}
	}
}

func mustStore(t *testing.T, bucket, root string, api objectAPI) *Store {
	t.Helper()
	store, err := newStore(bucket, root, api)
	if err != nil {
		t.Fatalf("newStore() error = %v", err)
	}
	return store
}

type fakeObject struct {
	data []byte
	opts storage.PutOptions
}

type fakeAPI struct {
	objects        map[string]fakeObject
	lastListPrefix string
	batchDeletes   int
	removeErr      error
	bucketExists   bool
	madeBucket     bool
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{objects: map[string]fakeObject{}}
}

func (f *fakeAPI) put(key, data string) {
	f.objects[key] = fakeObject{data: []byte(data)}
}

func (f *fakeAPI) keys() []string {
	keys := make([]string, 0, len(f.objects))
	for key := range f.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (f *fakeAPI) PutObject(_ context.Context, _, key string, body io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	f.objects[key] = fakeObject{data: data, opts: opts}
	return storage.ObjectInfo{Key: key, Size: size, ETag: "etag-1"}, nil
}

func (f *fakeAPI) GetObject(_ context.Context, _, key string) (io.ReadCloser, error) {
	object, ok := f.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(object.data)), nil
}

func (f *fakeAPI) RemoveObject(_ context.Context, _, key string) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	delete(f.objects, key)
	return nil
}

func (f *fakeAPI) RemoveObjects(_ context.Context, _ string, keys []string) error {
	f.batchDeletes++
	for _, key := range keys {
		delete(f.objects, key)
	}
	return nil
}

func (f *fakeAPI) ListObjects(_ context.Context, _, prefix string) ([]storage.ObjectInfo, error) {
	f.lastListPrefix = prefix
	var objects []storage.ObjectInfo
	for _, key := range f.keys() {
		if strings.HasPrefix(key, prefix) {
			objects = append(objects, storage.ObjectInfo{Key: key, Size: int64(len(f.objects[key].data))})
		}
	}
	return objects, nil
}

func (f *fakeAPI) BucketExists(context.Context, string) (bool, error) {
	return f.bucketExists, nil
}

func (f *fakeAPI) MakeBucket(context.Context, string, string) error {
	f.madeBucket = true
	return nil
}
