package store

import (
	"context"
	"time"

	"github.com/nainya/dicomstore/internal/logger"
	"github.com/nainya/dicomstore/pkg/dicom"
)

// DeleteService removes studies, series or instances from the index. Blob and
// metadata objects are removed later by the DeletedInstanceCleaner.
type DeleteService struct {
	index IndexStore
	log   *logger.Logger
	now   func() time.Time
}

// NewDeleteService creates a delete service
func NewDeleteService(index IndexStore, log *logger.Logger) *DeleteService {
	if log == nil {
		log = logger.NewNop()
	}
	return &DeleteService{index: index, log: log.Component("delete_service"), now: time.Now}
}

// Delete removes everything under the given identity. Empty series or SOP UIDs
// widen the deletion to the enclosing level.
func (s *DeleteService) Delete(ctx context.Context, studyUID, seriesUID, sopUID string) error {
	if err := validateUID(dicom.StudyInstanceUID, studyUID); err != nil {
		return err
	}
	if seriesUID == "" && sopUID != "" {
		return &ValidationError{Attribute: dicom.SeriesInstanceUID.Keyword(), Message: "required when deleting an instance"}
	}
	if seriesUID != "" {
		if err := validateUID(dicom.SeriesInstanceUID, seriesUID); err != nil {
			return err
		}
	}
	if sopUID != "" {
		if err := validateUID(dicom.SOPInstanceUID, sopUID); err != nil {
			return err
		}
	}

	if err := s.index.DeleteInstanceIndex(ctx, studyUID, seriesUID, sopUID, s.now()); err != nil {
		return err
	}

	s.log.Info("Deleted instances").
		Str("study", studyUID).
		Str("series", seriesUID).
		Str("sop", sopUID).
		Send()
	return nil
}
