// ABOUTME: Tests for the metadata store
// ABOUTME: Uses a local object store in a temporary directory

package metadata

import (
	"context"
	"errors"
	"testing"

	"github.com/nainya/dicomstore/pkg/blob"
	"github.com/nainya/dicomstore/pkg/dicom"
	"github.com/nainya/dicomstore/pkg/store"
)

func setupTestMetadataStore(t *testing.T) *MetadataStore {
	local, err := blob.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open local store: %v", err)
	}
	ms, err := NewMetadataStore(context.Background(), local, "metadata")
	if err != nil {
		t.Fatalf("Failed to create metadata store: %v", err)
	}
	return ms
}

func testDataset() *dicom.Dataset {
	ds := dicom.NewDataset()
	ds.AddString(dicom.StudyInstanceUID, "1.2")
	ds.AddString(dicom.SeriesInstanceUID, "1.2.3")
	ds.AddString(dicom.SOPInstanceUID, "1.2.3.4")
	ds.AddString(dicom.PatientName, "Doe^John")
	ds.AddString(dicom.Modality, "MR")
	return ds
}

func TestKey(t *testing.T) {
	id := testDataset().ToVersionedInstanceIdentifier(3)
	if got := Key(id); got != "1.2/1.2.3/1.2.3.4_3_metadata.json" {
		t.Errorf("Expected '1.2/1.2.3/1.2.3.4_3_metadata.json', got '%s'", got)
	}
}

func TestAddAndGetMetadata(t *testing.T) {
	ms := setupTestMetadataStore(t)
	ctx := context.Background()
	ds := testDataset()

	if err := ms.AddInstanceMetadata(ctx, ds, 3); err != nil {
		t.Fatalf("Failed to add metadata: %v", err)
	}

	got, err := ms.GetInstanceMetadata(ctx, ds.ToVersionedInstanceIdentifier(3))
	if err != nil {
		t.Fatalf("Failed to get metadata: %v", err)
	}
	if got.GetString(dicom.PatientName) != "Doe^John" {
		t.Errorf("Expected 'Doe^John', got '%s'", got.GetString(dicom.PatientName))
	}
	if got.GetString(dicom.Modality) != "MR" {
		t.Errorf("Expected 'MR', got '%s'", got.GetString(dicom.Modality))
	}
	if got.Len() != ds.Len() {
		t.Errorf("Expected %d elements, got %d", ds.Len(), got.Len())
	}
}

func TestVersionsAreSeparate(t *testing.T) {
	ms := setupTestMetadataStore(t)
	ctx := context.Background()
	ds := testDataset()

	if err := ms.AddInstanceMetadata(ctx, ds, 1); err != nil {
		t.Fatalf("Failed to add metadata: %v", err)
	}
	_, err := ms.GetInstanceMetadata(ctx, ds.ToVersionedInstanceIdentifier(2))
	if !errors.Is(err, store.ErrInstanceNotFound) {
		t.Fatalf("Expected ErrInstanceNotFound for another version, got %v", err)
	}
}

func TestDeleteMetadata(t *testing.T) {
	ms := setupTestMetadataStore(t)
	ctx := context.Background()
	ds := testDataset()
	id := ds.ToVersionedInstanceIdentifier(1)

	if err := ms.DeleteInstanceMetadataIfExists(ctx, id); err != nil {
		t.Fatalf("Deleting missing metadata should succeed: %v", err)
	}
	if err := ms.AddInstanceMetadata(ctx, ds, 1); err != nil {
		t.Fatalf("Failed to add metadata: %v", err)
	}
	if err := ms.DeleteInstanceMetadataIfExists(ctx, id); err != nil {
		t.Fatalf("Failed to delete metadata: %v", err)
	}
	if _, err := ms.GetInstanceMetadata(ctx, id); !errors.Is(err, store.ErrInstanceNotFound) {
		t.Errorf("Expected metadata to be gone, got %v", err)
	}
}
