// ABOUTME: Keyword dictionary for the attributes this store understands
// ABOUTME: Process-wide and read-only after package initialisation

package dicom

// Entry describes one dictionary attribute.
type Entry struct {
	Tag     Tag
	VR      string
	Keyword string
}

var (
	SpecificCharacterSet            = Tag{0x0008, 0x0005}
	SOPClassUID                     = Tag{0x0008, 0x0016}
	SOPInstanceUID                  = Tag{0x0008, 0x0018}
	StudyDate                       = Tag{0x0008, 0x0020}
	SeriesDate                      = Tag{0x0008, 0x0021}
	StudyTime                       = Tag{0x0008, 0x0030}
	AccessionNumber                 = Tag{0x0008, 0x0050}
	Modality                        = Tag{0x0008, 0x0060}
	ModalitiesInStudy               = Tag{0x0008, 0x0061}
	Manufacturer                    = Tag{0x0008, 0x0070}
	InstitutionName                 = Tag{0x0008, 0x0080}
	ReferringPhysicianName          = Tag{0x0008, 0x0090}
	TimezoneOffsetFromUTC           = Tag{0x0008, 0x0201}
	StudyDescription                = Tag{0x0008, 0x1030}
	SeriesDescription               = Tag{0x0008, 0x103E}
	ReferencedSOPSequence           = Tag{0x0008, 0x1199}
	ReferencedSOPClassUID           = Tag{0x0008, 0x1150}
	ReferencedSOPInstanceUID        = Tag{0x0008, 0x1155}
	PatientName                     = Tag{0x0010, 0x0010}
	PatientID                       = Tag{0x0010, 0x0020}
	PatientBirthDate                = Tag{0x0010, 0x0030}
	PatientSex                      = Tag{0x0010, 0x0040}
	BodyPartExamined                = Tag{0x0018, 0x0015}
	StudyInstanceUID                = Tag{0x0020, 0x000D}
	SeriesInstanceUID               = Tag{0x0020, 0x000E}
	StudyID                         = Tag{0x0020, 0x0010}
	SeriesNumber                    = Tag{0x0020, 0x0011}
	InstanceNumber                  = Tag{0x0020, 0x0013}
	NumberOfStudyRelatedSeries      = Tag{0x0020, 0x1206}
	NumberOfStudyRelatedInstances   = Tag{0x0020, 0x1208}
	NumberOfSeriesRelatedInstances  = Tag{0x0020, 0x1209}
	NumberOfFrames                  = Tag{0x0028, 0x0008}
	Rows                            = Tag{0x0028, 0x0010}
	Columns                         = Tag{0x0028, 0x0011}
	BitsAllocated                   = Tag{0x0028, 0x0100}
	PerformedProcedureStepStartDate = Tag{0x0040, 0x0244}
	PixelData                       = Tag{0x7FE0, 0x0010}
)

var entries = []Entry{
	{SpecificCharacterSet, VR_CS, "SpecificCharacterSet"},
	{SOPClassUID, VR_UI, "SOPClassUID"},
	{SOPInstanceUID, VR_UI, "SOPInstanceUID"},
	{StudyDate, VR_DA, "StudyDate"},
	{SeriesDate, VR_DA, "SeriesDate"},
	{StudyTime, VR_TM, "StudyTime"},
	{AccessionNumber, VR_SH, "AccessionNumber"},
	{Modality, VR_CS, "Modality"},
	{ModalitiesInStudy, VR_CS, "ModalitiesInStudy"},
	{Manufacturer, VR_LO, "Manufacturer"},
	{InstitutionName, VR_LO, "InstitutionName"},
	{ReferringPhysicianName, VR_PN, "ReferringPhysicianName"},
	{TimezoneOffsetFromUTC, VR_SH, "TimezoneOffsetFromUTC"},
	{StudyDescription, VR_LO, "StudyDescription"},
	{SeriesDescription, VR_LO, "SeriesDescription"},
	{ReferencedSOPSequence, VR_SQ, "ReferencedSOPSequence"},
	{ReferencedSOPClassUID, VR_UI, "ReferencedSOPClassUID"},
	{ReferencedSOPInstanceUID, VR_UI, "ReferencedSOPInstanceUID"},
	{PatientName, VR_PN, "PatientName"},
	{PatientID, VR_LO, "PatientID"},
	{PatientBirthDate, VR_DA, "PatientBirthDate"},
	{PatientSex, VR_CS, "PatientSex"},
	{BodyPartExamined, VR_CS, "BodyPartExamined"},
	{StudyInstanceUID, VR_UI, "StudyInstanceUID"},
	{SeriesInstanceUID, VR_UI, "SeriesInstanceUID"},
	{StudyID, VR_SH, "StudyID"},
	{SeriesNumber, VR_IS, "SeriesNumber"},
	{InstanceNumber, VR_IS, "InstanceNumber"},
	{NumberOfStudyRelatedSeries, VR_IS, "NumberOfStudyRelatedSeries"},
	{NumberOfStudyRelatedInstances, VR_IS, "NumberOfStudyRelatedInstances"},
	{NumberOfSeriesRelatedInstances, VR_IS, "NumberOfSeriesRelatedInstances"},
	{NumberOfFrames, VR_IS, "NumberOfFrames"},
	{Rows, VR_US, "Rows"},
	{Columns, VR_US, "Columns"},
	{BitsAllocated, VR_US, "BitsAllocated"},
	{PerformedProcedureStepStartDate, VR_DA, "PerformedProcedureStepStartDate"},
	{PixelData, VR_OW, "PixelData"},
}

var (
	byTag     = make(map[Tag]Entry, len(entries))
	byKeyword = make(map[string]Entry, len(entries))
)

func init() {
	for _, e := range entries {
		byTag[e.Tag] = e
		byKeyword[e.Keyword] = e
	}
}

// LookupTag returns the dictionary entry for a tag.
func LookupTag(t Tag) (Entry, bool) {
	e, ok := byTag[t]
	return e, ok
}

// LookupKeyword returns the dictionary entry for a keyword. Keywords are case-sensitive.
func LookupKeyword(keyword string) (Entry, bool) {
	e, ok := byKeyword[keyword]
	return e, ok
}

// ParseAttributeID resolves either a keyword or an eight digit hex tag to a known attribute.
func ParseAttributeID(id string) (Entry, bool) {
	if e, ok := LookupKeyword(id); ok {
		return e, true
	}
	t, err := ParseTag(id)
	if err != nil {
		return Entry{}, false
	}
	return LookupTag(t)
}

// Keyword returns the attribute keyword, or the hex form for tags outside the dictionary.
func (t Tag) Keyword() string {
	if e, ok := byTag[t]; ok {
		return e.Keyword
	}
	return t.Hex()
}
