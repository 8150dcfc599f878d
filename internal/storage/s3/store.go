// Package s3 implements storage.ObjectStore on an S3-compatible service.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/dataphantom/adhocsql/internal/storage"
)

type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Prefix          string
	// AutoCreateBucket creates a missing bucket; RequireBucket fails fast on
	// one instead. With neither set the bucket is not checked up front.
	AutoCreateBucket bool
	RequireBucket    bool
}

// objectAPI is the slice of the S3 client the store needs. Keys passed to it
// are absolute within the bucket.
type objectAPI interface {
	PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error)
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	RemoveObject(ctx context.Context, bucket, key string) error
	RemoveObjects(ctx context.Context, bucket string, keys []string) error
	ListObjects(ctx context.Context, bucket, prefix string) ([]storage.ObjectInfo, error)
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket, region string) error
}

// Store is rooted at an optional key prefix inside one bucket; callers only
// ever see keys relative to that root.
type Store struct {
	api    objectAPI
	bucket string
	root   string
}

var (
	_ storage.ObjectStore  = (*Store)(nil)
	_ storage.BatchDeleter = (*Store)(nil)
)

func New(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	api, err := dialMinio(cfg)
	if err != nil {
		return nil, err
	}
	store, err := newStore(cfg.Bucket, cfg.Prefix, api)
	if err != nil {
		return nil, err
	}

	switch {
	case cfg.AutoCreateBucket:
		err = store.ensureBucket(ctx, strings.TrimSpace(cfg.Region))
	case cfg.RequireBucket:
		err = store.requireBucket(ctx)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}

func newStore(bucket, root string, api objectAPI) (*Store, error) {
	if api == nil {
		return nil, fmt.Errorf("s3 client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	return &Store{api: api, bucket: bucket, root: cleanRoot(root)}, nil
}

func (s *Store) Bucket() string {
	return s.bucket
}

func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	objectKey, err := s.resolve(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := s.api.PutObject(ctx, s.bucket, objectKey, body, size, opts)
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("upload s3://%s/%s: %w", s.bucket, objectKey, err)
	}
	info.Key = s.relative(info.Key)
	return info, nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	objectKey, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	body, err := s.api.GetObject(ctx, s.bucket, objectKey)
	switch {
	case errors.Is(err, storage.ErrObjectNotFound):
		return nil, storage.ErrObjectNotFound
	case err != nil:
		return nil, fmt.Errorf("download s3://%s/%s: %w", s.bucket, objectKey, err)
	}
	return body, nil
}

// Delete treats a missing object as already deleted.
func (s *Store) Delete(ctx context.Context, key string) error {
	objectKey, err := s.resolve(key)
	if err != nil {
		return err
	}
	err = s.api.RemoveObject(ctx, s.bucket, objectKey)
	if err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		return fmt.Errorf("remove s3://%s/%s: %w", s.bucket, objectKey, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	listPrefix, err := s.resolvePrefix(prefix)
	if err != nil {
		return nil, err
	}
	objects, err := s.api.ListObjects(ctx, s.bucket, listPrefix)
	if err != nil {
		return nil, fmt.Errorf("list s3://%s/%s: %w", s.bucket, listPrefix, err)
	}
	for i := range objects {
		objects[i].Key = s.relative(objects[i].Key)
	}
	return objects, nil
}

// DeleteKeys removes keys in one batched request. The store root itself is
// never a valid key.
func (s *Store) DeleteKeys(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	resolved := make([]string, 0, len(keys))
	for _, key := range keys {
		objectKey, err := s.resolve(key)
		if err != nil {
			return err
		}
		resolved = append(resolved, objectKey)
	}
	if err := s.api.RemoveObjects(ctx, s.bucket, resolved); err != nil {
		return fmt.Errorf("delete %d objects from s3://%s: %w", len(resolved), s.bucket, err)
	}
	return nil
}

func (s *Store) ensureBucket(ctx context.Context, region string) error {
	exists, err := s.api.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.api.MakeBucket(ctx, s.bucket, region); err != nil {
		return fmt.Errorf("create bucket %q: %w", s.bucket, err)
	}
	return nil
}

func (s *Store) requireBucket(ctx context.Context) error {
	exists, err := s.api.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", s.bucket, err)
	}
	if !exists {
		return fmt.Errorf("bucket %q does not exist", s.bucket)
	}
	return nil
}

// resolve maps a caller key onto its absolute key in the bucket. Keys may
// not climb out of the store root.
func (s *Store) resolve(key string) (string, error) {
	trimmed := strings.TrimLeft(strings.TrimSpace(key), "/")
	if trimmed == "" {
		return "", fmt.Errorf("object key is required")
	}
	for _, segment := range strings.Split(trimmed, "/") {
		if segment == ".." {
			return "", fmt.Errorf("invalid object key: %q", key)
		}
	}
	cleaned := path.Clean(trimmed)
	if cleaned == "." {
		return "", fmt.Errorf("invalid object key: %q", key)
	}
	return path.Join(s.root, cleaned), nil
}

// resolvePrefix is resolve for listings: a trailing slash is kept so that
// "run-1/" does not also match "run-10/".
func (s *Store) resolvePrefix(prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if strings.Trim(prefix, "/") == "" {
		if s.root == "" {
			return "", nil
		}
		return s.root + "/", nil
	}
	resolved, err := s.resolve(prefix)
	if err != nil {
		return "", err
	}
	if strings.HasSuffix(prefix, "/") {
		resolved += "/"
	}
	return resolved, nil
}

func (s *Store) relative(key string) string {
	if s.root == "" {
		return key
	}
	return strings.TrimPrefix(key, s.root+"/")
}

func cleanRoot(root string) string {
	root = strings.Trim(strings.TrimSpace(root), "/")
	if root == "" {
		return ""
	}
	if cleaned := path.Clean(root); cleaned != "." {
		return cleaned
	}
	return ""
}
