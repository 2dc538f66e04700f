package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/nainya/dicomstore/pkg/dicom"
	"github.com/nainya/dicomstore/pkg/query"
)

var errBoom = errors.New("boom")

type fakeFileStore struct {
	mu      sync.Mutex
	files   map[dicom.VersionedInstanceIdentifier][]byte
	addErr  error
	delErr  error
	deleted []dicom.VersionedInstanceIdentifier
}

func newFakeFileStore() *fakeFileStore {
	return &fakeFileStore{files: make(map[dicom.VersionedInstanceIdentifier][]byte)}
}

func (f *fakeFileStore) AddFile(ctx context.Context, id dicom.VersionedInstanceIdentifier, r io.Reader, overwrite bool) error {
	if f.addErr != nil {
		return f.addErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.files[id]; ok && !overwrite {
		return ErrInstanceAlreadyExists
	}
	f.files[id] = data
	return nil
}

func (f *fakeFileStore) GetFile(ctx context.Context, id dicom.VersionedInstanceIdentifier) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[id]
	if !ok {
		return nil, ErrInstanceNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeFileStore) DeleteFileIfExists(ctx context.Context, id dicom.VersionedInstanceIdentifier) error {
	if f.delErr != nil {
		return f.delErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, id)
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeMetadataStore struct {
	mu     sync.Mutex
	docs   map[dicom.VersionedInstanceIdentifier]*dicom.Dataset
	addErr error
	calls  int
}

func newFakeMetadataStore() *fakeMetadataStore {
	return &fakeMetadataStore{docs: make(map[dicom.VersionedInstanceIdentifier]*dicom.Dataset)}
}

func (f *fakeMetadataStore) AddInstanceMetadata(ctx context.Context, ds *dicom.Dataset, version int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.addErr != nil {
		return f.addErr
	}
	f.docs[ds.ToVersionedInstanceIdentifier(version)] = ds
	return nil
}

func (f *fakeMetadataStore) GetInstanceMetadata(ctx context.Context, id dicom.VersionedInstanceIdentifier) (*dicom.Dataset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ds, ok := f.docs[id]
	if !ok {
		return nil, ErrInstanceNotFound
	}
	return ds, nil
}

func (f *fakeMetadataStore) DeleteInstanceMetadataIfExists(ctx context.Context, id dicom.VersionedInstanceIdentifier) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, id)
	return nil
}

type deleteCall struct {
	study, series, sop string
	at                 time.Time
	ctxErr             error
}

type fakeIndexStore struct {
	mu        sync.Mutex
	next      int64
	rows      map[dicom.InstanceIdentifier]int64
	status    map[dicom.VersionedInstanceIdentifier]IndexStatus
	createErr error
	updateErr error
	deleteErr error
	deletes   []deleteCall
	updates   int
	queryIDs  []dicom.VersionedInstanceIdentifier
	lastQuery *query.QueryExpression
}

func newFakeIndexStore() *fakeIndexStore {
	return &fakeIndexStore{
		next:   1,
		rows:   make(map[dicom.InstanceIdentifier]int64),
		status: make(map[dicom.VersionedInstanceIdentifier]IndexStatus),
	}
}

func (f *fakeIndexStore) CreateInstanceIndex(ctx context.Context, ds *dicom.Dataset) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return 0, f.createErr
	}
	key := ds.ToInstanceIdentifier()
	if _, ok := f.rows[key]; ok {
		return 0, ErrInstanceAlreadyExists
	}
	v := f.next
	f.next++
	f.rows[key] = v
	f.status[ds.ToVersionedInstanceIdentifier(v)] = IndexStatusCreating
	return v, nil
}

func (f *fakeIndexStore) UpdateInstanceIndexStatus(ctx context.Context, id dicom.VersionedInstanceIdentifier, status IndexStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if f.updateErr != nil {
		return f.updateErr
	}
	f.status[id] = status
	return nil
}

func (f *fakeIndexStore) DeleteInstanceIndex(ctx context.Context, study, series, sop string, deletedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, deleteCall{study, series, sop, deletedAt, ctx.Err()})
	if f.deleteErr != nil {
		return f.deleteErr
	}
	removed := 0
	for key, v := range f.rows {
		if key.StudyInstanceUID != study ||
			(series != "" && key.SeriesInstanceUID != series) ||
			(sop != "" && key.SOPInstanceUID != sop) {
			continue
		}
		delete(f.rows, key)
		delete(f.status, dicom.VersionedInstanceIdentifier{
			StudyInstanceUID:  key.StudyInstanceUID,
			SeriesInstanceUID: key.SeriesInstanceUID,
			SOPInstanceUID:    key.SOPInstanceUID,
			Version:           v,
		})
		removed++
	}
	if removed == 0 {
		return ErrInstanceNotFound
	}
	return nil
}

func (f *fakeIndexStore) GetInstanceIdentifiers(ctx context.Context, study, series, sop string) ([]dicom.VersionedInstanceIdentifier, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []dicom.VersionedInstanceIdentifier
	for id, st := range f.status {
		if st != IndexStatusCreated || id.StudyInstanceUID != study {
			continue
		}
		if (series != "" && id.SeriesInstanceUID != series) || (sop != "" && id.SOPInstanceUID != sop) {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

func (f *fakeIndexStore) Query(ctx context.Context, expr *query.QueryExpression) ([]dicom.VersionedInstanceIdentifier, error) {
	f.lastQuery = expr
	return f.queryIDs, nil
}

func (f *fakeIndexStore) statusOf(id dicom.VersionedInstanceIdentifier) (IndexStatus, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.status[id]
	return st, ok
}

func testDataset(study, series, sop string) *dicom.Dataset {
	ds := dicom.NewDataset()
	ds.AddString(dicom.StudyInstanceUID, study)
	ds.AddString(dicom.SeriesInstanceUID, series)
	ds.AddString(dicom.SOPInstanceUID, sop)
	ds.AddString(dicom.PatientName, "Doe^Jane")
	ds.AddString(dicom.Modality, "CT")
	ds.AddElement(dicom.PixelData, dicom.VR_OW, dicom.BulkData{InlineBinary: []byte{0, 1, 2, 3}})
	return ds
}

func testEntry(study, series, sop string) *BytesEntry {
	return &BytesEntry{DS: testDataset(study, series, sop), Data: []byte("binary:" + sop)}
}
