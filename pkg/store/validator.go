package store

import (
	"strings"

	"github.com/nainya/dicomstore/pkg/dicom"
)

const maxUIDLength = 64

// ValidateDataset checks the attributes every stored instance needs. When
// requiredStudyUID is set the dataset must belong to that study.
func ValidateDataset(ds *dicom.Dataset, requiredStudyUID string) error {
	if ds == nil {
		return &ValidationError{Message: "dataset is empty"}
	}

	study := ds.GetString(dicom.StudyInstanceUID)
	series := ds.GetString(dicom.SeriesInstanceUID)
	sop := ds.GetString(dicom.SOPInstanceUID)

	for _, a := range []struct {
		tag   dicom.Tag
		value string
	}{
		{dicom.StudyInstanceUID, study},
		{dicom.SeriesInstanceUID, series},
		{dicom.SOPInstanceUID, sop},
	} {
		if err := validateUID(a.tag, a.value); err != nil {
			return err
		}
	}

	if study == series || study == sop || series == sop {
		return &ValidationError{Message: "study, series and SOP instance UIDs must be distinct"}
	}

	if requiredStudyUID != "" && study != requiredStudyUID {
		return &ValidationError{
			Attribute: dicom.StudyInstanceUID.Keyword(),
			Message:   "does not match the study in the request path",
		}
	}
	return nil
}

// IsValidUID reports whether s is a well formed UID: dot separated numeric components,
// no leading zeros, at most 64 characters.
func IsValidUID(s string) bool {
	if s == "" || len(s) > maxUIDLength {
		return false
	}
	for _, part := range strings.Split(s, ".") {
		if part == "" {
			return false
		}
		if len(part) > 1 && part[0] == '0' {
			return false
		}
		for i := 0; i < len(part); i++ {
			if part[i] < '0' || part[i] > '9' {
				return false
			}
		}
	}
	return true
}

func validateUID(tag dicom.Tag, value string) error {
	if value == "" {
		return &ValidationError{Attribute: tag.Keyword(), Message: "missing required attribute"}
	}
	if !IsValidUID(value) {
		return &ValidationError{Attribute: tag.Keyword(), Message: "invalid UID " + value}
	}
	return nil
}
