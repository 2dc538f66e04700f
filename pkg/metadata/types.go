// ABOUTME: Object naming for instance metadata documents
// ABOUTME: One DICOM JSON document per instance revision

package metadata

import (
	"fmt"

	"github.com/nainya/dicomstore/pkg/dicom"
)

// ContentType is the media type of stored metadata documents
const ContentType = "application/dicom+json"

// Key names the object holding the metadata of one instance revision
func Key(id dicom.VersionedInstanceIdentifier) string {
	return fmt.Sprintf("%s/%s/%s_%d_metadata.json", id.StudyInstanceUID, id.SeriesInstanceUID, id.SOPInstanceUID, id.Version)
}
