package dicom

import "fmt"

// InstanceIdentifier names an instance by its study, series and SOP instance UIDs.
type InstanceIdentifier struct {
	StudyInstanceUID  string `json:"studyInstanceUid"`
	SeriesInstanceUID string `json:"seriesInstanceUid"`
	SOPInstanceUID    string `json:"sopInstanceUid"`
}

// VersionedInstanceIdentifier names one stored revision of an instance.
// The version is assigned by the index store when the instance row is created.
type VersionedInstanceIdentifier struct {
	StudyInstanceUID  string `json:"studyInstanceUid"`
	SeriesInstanceUID string `json:"seriesInstanceUid"`
	SOPInstanceUID    string `json:"sopInstanceUid"`
	Version           int64  `json:"version"`
}

func (v VersionedInstanceIdentifier) String() string {
	return fmt.Sprintf("%s/%s/%s@%d", v.StudyInstanceUID, v.SeriesInstanceUID, v.SOPInstanceUID, v.Version)
}

// Instance drops the version.
func (v VersionedInstanceIdentifier) Instance() InstanceIdentifier {
	return InstanceIdentifier{
		StudyInstanceUID:  v.StudyInstanceUID,
		SeriesInstanceUID: v.SeriesInstanceUID,
		SOPInstanceUID:    v.SOPInstanceUID,
	}
}

// ToInstanceIdentifier reads the identity attributes of the dataset.
func (d *Dataset) ToInstanceIdentifier() InstanceIdentifier {
	return InstanceIdentifier{
		StudyInstanceUID:  d.GetString(StudyInstanceUID),
		SeriesInstanceUID: d.GetString(SeriesInstanceUID),
		SOPInstanceUID:    d.GetString(SOPInstanceUID),
	}
}

// ToVersionedInstanceIdentifier combines the dataset identity with an index version.
func (d *Dataset) ToVersionedInstanceIdentifier(version int64) VersionedInstanceIdentifier {
	id := d.ToInstanceIdentifier()
	return VersionedInstanceIdentifier{
		StudyInstanceUID:  id.StudyInstanceUID,
		SeriesInstanceUID: id.SeriesInstanceUID,
		SOPInstanceUID:    id.SOPInstanceUID,
		Version:           version,
	}
}
