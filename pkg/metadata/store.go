// ABOUTME: Metadata store keeping bulk-data-free datasets as DICOM JSON objects
// ABOUTME: Backed by any blob.ObjectStore bucket

package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nainya/dicomstore/pkg/blob"
	"github.com/nainya/dicomstore/pkg/dicom"
	"github.com/nainya/dicomstore/pkg/store"
)

// MetadataStore implements store.MetadataStore
type MetadataStore struct {
	objects blob.ObjectStore
	bucket  string
}

var _ store.MetadataStore = (*MetadataStore)(nil)

// NewMetadataStore creates the bucket if needed
func NewMetadataStore(ctx context.Context, objects blob.ObjectStore, bucket string) (*MetadataStore, error) {
	if err := objects.EnsureBucket(ctx, bucket); err != nil {
		return nil, fmt.Errorf("metadata: ensure bucket %s: %w", bucket, err)
	}
	return &MetadataStore{objects: objects, bucket: bucket}, nil
}

// AddInstanceMetadata writes ds under its identity and version, replacing any
// previous document for the same revision.
func (ms *MetadataStore) AddInstanceMetadata(ctx context.Context, ds *dicom.Dataset, version int64) error {
	data, err := json.Marshal(ds)
	if err != nil {
		return fmt.Errorf("metadata: encode: %w", err)
	}
	key := Key(ds.ToVersionedInstanceIdentifier(version))
	if err := ms.objects.PutObject(ctx, ms.bucket, key, bytes.NewReader(data), int64(len(data)), ContentType); err != nil {
		return store.NewDataStoreError("put metadata", err)
	}
	return nil
}

// GetInstanceMetadata reads and decodes the document for a revision
func (ms *MetadataStore) GetInstanceMetadata(ctx context.Context, id dicom.VersionedInstanceIdentifier) (*dicom.Dataset, error) {
	rc, err := ms.objects.GetObject(ctx, ms.bucket, Key(id))
	if errors.Is(err, blob.ErrObjectNotFound) {
		return nil, store.ErrInstanceNotFound
	}
	if err != nil {
		return nil, store.NewDataStoreError("get metadata", err)
	}
	defer rc.Close()

	ds := dicom.NewDataset()
	if err := json.NewDecoder(rc).Decode(ds); err != nil {
		return nil, store.NewDataStoreError("decode metadata", err)
	}
	return ds, nil
}

func (ms *MetadataStore) DeleteInstanceMetadataIfExists(ctx context.Context, id dicom.VersionedInstanceIdentifier) error {
	if err := ms.objects.RemoveObject(ctx, ms.bucket, Key(id)); err != nil && !errors.Is(err, blob.ErrObjectNotFound) {
		return store.NewDataStoreError("delete metadata", err)
	}
	return nil
}
