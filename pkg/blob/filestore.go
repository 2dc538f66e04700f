package blob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nainya/dicomstore/pkg/dicom"
	"github.com/nainya/dicomstore/pkg/store"
)

// DICOMContentType is the media type of stored instance binaries
const DICOMContentType = "application/dicom"

// FileKey names the object holding one instance revision
func FileKey(id dicom.VersionedInstanceIdentifier) string {
	return fmt.Sprintf("%s/%s/%s_%d.dcm", id.StudyInstanceUID, id.SeriesInstanceUID, id.SOPInstanceUID, id.Version)
}

// FileStore implements store.FileStore on an ObjectStore bucket
type FileStore struct {
	objects ObjectStore
	bucket  string
}

var _ store.FileStore = (*FileStore)(nil)

// NewFileStore creates the bucket if needed
func NewFileStore(ctx context.Context, objects ObjectStore, bucket string) (*FileStore, error) {
	if err := objects.EnsureBucket(ctx, bucket); err != nil {
		return nil, fmt.Errorf("blob: ensure bucket %s: %w", bucket, err)
	}
	return &FileStore{objects: objects, bucket: bucket}, nil
}

// AddFile stores the binary. Without overwrite an existing object is an
// ErrInstanceAlreadyExists.
func (s *FileStore) AddFile(ctx context.Context, id dicom.VersionedInstanceIdentifier, r io.Reader, overwrite bool) error {
	key := FileKey(id)
	if !overwrite {
		exists, err := s.objects.ObjectExists(ctx, s.bucket, key)
		if err != nil {
			return store.NewDataStoreError("stat file", err)
		}
		if exists {
			return store.ErrInstanceAlreadyExists
		}
	}
	if err := s.objects.PutObject(ctx, s.bucket, key, r, -1, DICOMContentType); err != nil {
		return store.NewDataStoreError("put file", err)
	}
	return nil
}

// GetFile opens the binary for reading
func (s *FileStore) GetFile(ctx context.Context, id dicom.VersionedInstanceIdentifier) (io.ReadCloser, error) {
	rc, err := s.objects.GetObject(ctx, s.bucket, FileKey(id))
	if errors.Is(err, ErrObjectNotFound) {
		return nil, store.ErrInstanceNotFound
	}
	if err != nil {
		return nil, store.NewDataStoreError("get file", err)
	}
	return rc, nil
}

func (s *FileStore) DeleteFileIfExists(ctx context.Context, id dicom.VersionedInstanceIdentifier) error {
	if err := s.objects.RemoveObject(ctx, s.bucket, FileKey(id)); err != nil && !errors.Is(err, ErrObjectNotFound) {
		return store.NewDataStoreError("delete file", err)
	}
	return nil
}
