// Package s3 implements storage.Store on S3-compatible object storage
// (Cloudflare R2, MinIO, AWS S3) using minio-go.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sanyyao/fontpub/cfg"
	"github.com/sanyyao/fontpub/storage"
)

// Store is an S3 bucket
type Store struct {
	core   *minio.Core   // raw ListObjectsV2 with continuation tokens
	client *minio.Client // everything else
	bucket string
}

// Compile-time interface verification
var _ storage.Store = (*Store)(nil)

// New connects to the bucket described by config. No request is made until
// the first operation.
func New(config cfg.S3Configuration) (*Store, error) {
	if config.Bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}
	if config.Endpoint == "" {
		return nil, errors.New("s3: endpoint is required")
	}

	core, err := minio.NewCore(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("s3: create client for %s: %w", config.Endpoint, err)
	}

	return &Store{core: core, client: core.Client, bucket: config.Bucket}, nil
}

func (s *Store) Bucket() string {
	return s.bucket
}

// Head issues a metadata-only request for key
func (s *Store) Head(ctx context.Context, key string) error {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return fmt.Errorf("head %s: %w", key, storage.ErrNotFound)
	}
	return fmt.Errorf("head %s: %w", key, err)
}

func (s *Store) Put(ctx context.Context, key string, body []byte, opts storage.PutOptions) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		CacheControl: opts.CacheControl,
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// List returns one ListObjectsV2 page. The continuation token is the opaque
// NextContinuationToken returned by the previous page.
func (s *Store) List(ctx context.Context, token string) (storage.ListPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.ListPage{}, err
	}

	res, err := s.core.ListObjectsV2(s.bucket, "", "", token, "", storage.DefaultPageSize)
	if err != nil {
		return storage.ListPage{}, fmt.Errorf("list %s: %w", s.bucket, err)
	}

	page := storage.ListPage{
		Objects:   make([]storage.Object, 0, len(res.Contents)),
		NextToken: res.NextContinuationToken,
		Truncated: res.IsTruncated,
	}
	for _, obj := range res.Contents {
		page.Objects = append(page.Objects, storage.Object{
			Key:  obj.Key,
			Size: obj.Size,
			ETag: obj.ETag,
		})
	}
	return page, nil
}

// BatchDelete removes up to 1000 keys in a single DeleteObjects request
func (s *Store) BatchDelete(ctx context.Context, keys []string) ([]storage.DeleteError, error) {
	if len(keys) > storage.MaxBatchDelete {
		return nil, fmt.Errorf("batch of %d keys exceeds ceiling %d", len(keys), storage.MaxBatchDelete)
	}

	objects := make(chan minio.ObjectInfo, len(keys))
	for _, key := range keys {
		objects <- minio.ObjectInfo{Key: key}
	}
	close(objects)

	var failed []storage.DeleteError
	for rerr := range s.client.RemoveObjects(ctx, s.bucket, objects, minio.RemoveObjectsOptions{}) {
		failed = append(failed, storage.DeleteError{Key: rerr.ObjectName, Err: rerr.Err})
	}

	// Every key failing the same way means the request itself was rejected
	if len(keys) > 1 && len(failed) == len(keys) && sameError(failed) {
		return nil, fmt.Errorf("delete objects in %s: %w", s.bucket, failed[0].Err)
	}
	return failed, nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NotFound":
		return true
	}
	return resp.StatusCode == http.StatusNotFound
}

func sameError(failed []storage.DeleteError) bool {
	first := failed[0].Err
	if first == nil {
		return false
	}
	for _, f := range failed[1:] {
		if f.Err == nil || f.Err.Error() != first.Error() {
			return false
		}
	}
	return true
}
