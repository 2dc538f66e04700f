// ABOUTME: Read-only tables of filterable and returned attributes per query level
// ABOUTME: Built once at package initialisation and never mutated

package query

import "github.com/nainya/dicomstore/pkg/dicom"

// Query limits
const (
	DefaultQueryResultCount = 100
	MaxQueryResultCount     = 200
)

var studyFilterTags = []dicom.Tag{
	dicom.StudyDate,
	dicom.StudyInstanceUID,
	dicom.StudyDescription,
	dicom.AccessionNumber,
	dicom.PatientID,
	dicom.PatientName,
	dicom.ReferringPhysicianName,
}

var seriesFilterTags = []dicom.Tag{
	dicom.SeriesInstanceUID,
	dicom.Modality,
	dicom.PerformedProcedureStepStartDate,
}

var instanceFilterTags = []dicom.Tag{
	dicom.SOPInstanceUID,
}

var studyResultTags = []dicom.Tag{
	dicom.SpecificCharacterSet,
	dicom.StudyDate,
	dicom.StudyTime,
	dicom.AccessionNumber,
	dicom.ModalitiesInStudy,
	dicom.ReferringPhysicianName,
	dicom.TimezoneOffsetFromUTC,
	dicom.StudyDescription,
	dicom.PatientName,
	dicom.PatientID,
	dicom.PatientBirthDate,
	dicom.PatientSex,
	dicom.StudyInstanceUID,
	dicom.StudyID,
}

var seriesResultTags = []dicom.Tag{
	dicom.SpecificCharacterSet,
	dicom.Modality,
	dicom.TimezoneOffsetFromUTC,
	dicom.SeriesDescription,
	dicom.SeriesInstanceUID,
	dicom.SeriesNumber,
	dicom.PerformedProcedureStepStartDate,
}

var instanceResultTags = []dicom.Tag{
	dicom.SpecificCharacterSet,
	dicom.SOPClassUID,
	dicom.SOPInstanceUID,
	dicom.InstanceNumber,
	dicom.NumberOfFrames,
	dicom.Rows,
	dicom.Columns,
	dicom.BitsAllocated,
}

// filterable maps each resource to the tags a caller may filter on there.
// Attributes fixed by the route are not filterable below it.
var filterable = map[QueryResource]map[dicom.Tag]bool{
	AllStudies:           tagSet(studyFilterTags),
	AllSeries:            tagSet(studyFilterTags, seriesFilterTags),
	AllInstances:         tagSet(studyFilterTags, seriesFilterTags, instanceFilterTags),
	StudySeries:          tagSet(seriesFilterTags),
	StudyInstances:       tagSet(seriesFilterTags, instanceFilterTags),
	StudySeriesInstances: tagSet(instanceFilterTags),
}

var supported = tagSet(studyFilterTags, seriesFilterTags, instanceFilterTags)

func tagSet(groups ...[]dicom.Tag) map[dicom.Tag]bool {
	set := make(map[dicom.Tag]bool)
	for _, g := range groups {
		for _, t := range g {
			set[t] = true
		}
	}
	return set
}

// IsFilterable reports whether tag may be filtered on at resource.
func IsFilterable(resource QueryResource, tag dicom.Tag) bool {
	return filterable[resource][tag]
}

// ResultTags returns the default attributes reported for a resource, study attributes first.
func ResultTags(resource QueryResource) []dicom.Tag {
	var groups [][]dicom.Tag
	switch resource {
	case AllStudies:
		groups = [][]dicom.Tag{studyResultTags}
	case AllSeries:
		groups = [][]dicom.Tag{studyResultTags, seriesResultTags}
	case AllInstances:
		groups = [][]dicom.Tag{studyResultTags, seriesResultTags, instanceResultTags}
	case StudySeries:
		groups = [][]dicom.Tag{seriesResultTags}
	case StudyInstances:
		groups = [][]dicom.Tag{seriesResultTags, instanceResultTags}
	case StudySeriesInstances:
		groups = [][]dicom.Tag{instanceResultTags}
	}

	seen := make(map[dicom.Tag]bool)
	var tags []dicom.Tag
	for _, g := range groups {
		for _, t := range g {
			if !seen[t] {
				seen[t] = true
				tags = append(tags, t)
			}
		}
	}
	return tags
}

// ResultTags returns the attributes a response carries for this expression, or nil when
// every attribute is requested.
func (e *QueryExpression) ResultTags() []dicom.Tag {
	if e.IncludeFields.All {
		return nil
	}
	tags := ResultTags(e.Resource)
	seen := tagSet(tags)
	add := func(t dicom.Tag) {
		if !seen[t] {
			seen[t] = true
			tags = append(tags, t)
		}
	}
	for _, f := range e.Filters {
		add(f.Tag())
	}
	for _, t := range e.IncludeFields.Tags {
		add(t)
	}
	return tags
}
