package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

type PutOptions struct {
	ContentType string
	// Metadata is stored alongside the object as user metadata.
	Metadata map[string]string
}

type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	// List returns every object below prefix, keys relative to the store root.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// BatchDeleter is implemented by stores that can remove many keys in one
// request. Missing keys are not an error.
type BatchDeleter interface {
	DeleteKeys(ctx context.Context, keys []string) error
}
