// Package output lands an evaluated frame in object storage as a single
// tab-separated file with a header row.
package output

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dataphantom/adhocsql/internal/session"
	"github.com/dataphantom/adhocsql/internal/storage"
)

const ContentType = "text/tab-separated-values"

type WriteResult struct {
	URI          string
	Prefix       string
	DataFileKey  string
	RowsWritten  int64
	BytesWritten int64
	Replaced     int
}

type Writer struct {
	Store   storage.ObjectStore
	TempDir string
	Logger  *slog.Logger
}

// Write evaluates frame into one local file and replaces whatever exists at
// the destination directory with that file and a success marker. Nothing in
// the destination is touched until evaluation has succeeded, and nothing is
// deleted until the new data file is in place.
func (w *Writer) Write(ctx context.Context, frame session.Frame, dest storage.OutputLocation) (WriteResult, error) {
	if w.Store == nil {
		return WriteResult{}, fmt.Errorf("object store is required")
	}
	if frame == nil {
		return WriteResult{}, fmt.Errorf("frame is required")
	}
	prefix, err := dest.Prefix()
	if err != nil {
		return WriteResult{}, err
	}
	uri, err := dest.URI()
	if err != nil {
		return WriteResult{}, err
	}
	logger := w.logger()

	workDir, err := os.MkdirTemp(w.TempDir, "adhocsql-output-")
	if err != nil {
		return WriteResult{}, fmt.Errorf("create output temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	fileName := storage.DataFileName(dest.UniqueID)
	localPath := filepath.Join(workDir, fileName)
	rows, err := frame.WriteDelimited(ctx, localPath, session.DelimitedOptions{Delimiter: '\t', Header: true})
	if err != nil {
		return WriteResult{}, err
	}

	existing, err := w.Store.List(ctx, prefix)
	if err != nil {
		return WriteResult{}, fmt.Errorf("list existing output: %w", err)
	}

	dataKey := path.Join(prefix, fileName)
	markerKey := path.Join(prefix, storage.SuccessMarker)
	size, err := w.upload(ctx, localPath, dataKey, runMetadata(dest))
	if err != nil {
		return WriteResult{}, err
	}
	if err := w.removeStale(ctx, existing, dataKey, markerKey); err != nil {
		return WriteResult{}, err
	}
	if _, err := w.Store.Put(ctx, markerKey, strings.NewReader(""), 0, storage.PutOptions{ContentType: "application/octet-stream", Metadata: runMetadata(dest)}); err != nil {
		return WriteResult{}, fmt.Errorf("write success marker: %w", err)
	}
	replaced := len(existing)
	if replaced > 0 {
		logger.Info("replaced existing output", slog.String("path", uri), slog.Int("objects", replaced))
	}

	result := WriteResult{
		URI:          uri,
		Prefix:       prefix,
		DataFileKey:  dataKey,
		RowsWritten:  rows,
		BytesWritten: size,
		Replaced:     replaced,
	}
	if located, err := w.Locate(ctx, prefix); err == nil {
		result.DataFileKey = located
	} else {
		logger.Warn("could not locate written data file", slog.String("path", uri), slog.Any("error", err))
	}
	return result, nil
}

// Locate returns the key of the first data file below prefix.
func (w *Writer) Locate(ctx context.Context, prefix string) (string, error) {
	objects, err := w.Store.List(ctx, prefix)
	if err != nil {
		return "", fmt.Errorf("list output directory: %w", err)
	}
	first, ok := storage.FirstDataFile(objects)
	if !ok {
		return "", storage.ErrObjectNotFound
	}
	return first.Key, nil
}

// removeStale deletes what a previous run left in the directory, keeping the
// keys this run writes.
func (w *Writer) removeStale(ctx context.Context, existing []storage.ObjectInfo, keep ...string) error {
	stale := make([]string, 0, len(existing))
	for _, object := range existing {
		if !slices.Contains(keep, object.Key) {
			stale = append(stale, object.Key)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	if deleter, ok := w.Store.(storage.BatchDeleter); ok {
		if err := deleter.DeleteKeys(ctx, stale); err != nil {
			return fmt.Errorf("delete stale output: %w", err)
		}
		return nil
	}
	for _, key := range stale {
		if err := w.Store.Delete(ctx, key); err != nil {
			return fmt.Errorf("delete stale output %q: %w", key, err)
		}
	}
	return nil
}

func (w *Writer) upload(ctx context.Context, localPath, key string, metadata map[string]string) (int64, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return 0, fmt.Errorf("open evaluated output: %w", err)
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat evaluated output: %w", err)
	}
	if _, err := w.Store.Put(ctx, key, file, info.Size(), storage.PutOptions{ContentType: ContentType, Metadata: metadata}); err != nil {
		return 0, fmt.Errorf("upload output: %w", err)
	}
	return info.Size(), nil
}

// runMetadata tags uploaded objects with the run that produced them.
func runMetadata(dest storage.OutputLocation) map[string]string {
	return map[string]string{
		"playground-id": dest.PlaygroundID,
		"query-id":      dest.QueryID,
		"unique-id":     dest.UniqueID,
	}
}

func (w *Writer) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}
