// Package blob stores instance binaries and metadata documents as objects in MinIO/S3
// buckets, or on local disk for single-node deployments and tests.
package blob

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned when a key does not exist in its bucket
var ErrObjectNotFound = errors.New("blob: object not found")

// ObjectStore is the subset of object storage the DICOM stores need.
type ObjectStore interface {
	Ping(ctx context.Context) error
	EnsureBucket(ctx context.Context, bucket string) error
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	ObjectExists(ctx context.Context, bucket, key string) (bool, error)
	RemoveObject(ctx context.Context, bucket, key string) error
}
