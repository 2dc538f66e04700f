// ABOUTME: Persistence contracts driven by the store services
// ABOUTME: Blob, metadata and index stores are independent and keyed by instance identity

package store

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/nainya/dicomstore/pkg/dicom"
	"github.com/nainya/dicomstore/pkg/query"
)

// IndexStatus is the lifecycle state of an index row
type IndexStatus int

const (
	IndexStatusCreating IndexStatus = 0
	IndexStatusCreated  IndexStatus = 1
)

func (s IndexStatus) String() string {
	switch s {
	case IndexStatusCreating:
		return "Creating"
	case IndexStatusCreated:
		return "Created"
	}
	return "Unknown"
}

// FileStore holds the original binary of each instance revision.
type FileStore interface {
	AddFile(ctx context.Context, id dicom.VersionedInstanceIdentifier, r io.Reader, overwrite bool) error
	GetFile(ctx context.Context, id dicom.VersionedInstanceIdentifier) (io.ReadCloser, error)
	DeleteFileIfExists(ctx context.Context, id dicom.VersionedInstanceIdentifier) error
}

// MetadataStore holds the bulk-data-free dataset of each instance revision.
type MetadataStore interface {
	AddInstanceMetadata(ctx context.Context, ds *dicom.Dataset, version int64) error
	GetInstanceMetadata(ctx context.Context, id dicom.VersionedInstanceIdentifier) (*dicom.Dataset, error)
	DeleteInstanceMetadataIfExists(ctx context.Context, id dicom.VersionedInstanceIdentifier) error
}

// IndexStore allocates versions and tracks instance lifecycle.
//
// CreateInstanceIndex returns ErrInstanceAlreadyExists when a row for the identity exists.
// DeleteInstanceIndex treats empty series or SOP UIDs as wildcards and returns
// ErrInstanceNotFound when nothing matched.
type IndexStore interface {
	CreateInstanceIndex(ctx context.Context, ds *dicom.Dataset) (int64, error)
	UpdateInstanceIndexStatus(ctx context.Context, id dicom.VersionedInstanceIdentifier, status IndexStatus) error
	DeleteInstanceIndex(ctx context.Context, studyUID, seriesUID, sopUID string, deletedAt time.Time) error
}

// InstanceLister lists created instances under a study, series or single instance.
// Empty series or SOP UIDs match everything beneath the given level.
type InstanceLister interface {
	GetInstanceIdentifiers(ctx context.Context, studyUID, seriesUID, sopUID string) ([]dicom.VersionedInstanceIdentifier, error)
}

// QueryStore executes parsed queries, returning one identifier per result row.
type QueryStore interface {
	Query(ctx context.Context, expr *query.QueryExpression) ([]dicom.VersionedInstanceIdentifier, error)
}

// DeletedInstance is a soft-deleted revision awaiting blob and metadata cleanup.
type DeletedInstance struct {
	Identifier   dicom.VersionedInstanceIdentifier
	DeletedDate  time.Time
	RetryCount   int
	CleanupAfter time.Time
}

// DeletedInstanceStore exposes the cleanup queue left behind by deletions.
type DeletedInstanceStore interface {
	RetrieveDeletedInstances(ctx context.Context, batchSize, maxRetries int) ([]DeletedInstance, error)
	DeleteDeletedInstance(ctx context.Context, id dicom.VersionedInstanceIdentifier) error
	IncrementDeletedInstanceRetry(ctx context.Context, id dicom.VersionedInstanceIdentifier, cleanupAfter time.Time) (int, error)
}

// InstanceEntry is one incoming instance: its parsed dataset and the original binary.
type InstanceEntry interface {
	Dataset(ctx context.Context) (*dicom.Dataset, error)
	Open(ctx context.Context) (io.ReadCloser, error)
}

// BytesEntry is an InstanceEntry held in memory
type BytesEntry struct {
	DS   *dicom.Dataset
	Data []byte
}

func (e *BytesEntry) Dataset(ctx context.Context) (*dicom.Dataset, error) {
	return e.DS, nil
}

func (e *BytesEntry) Open(ctx context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(e.Data)), nil
}
