// ABOUTME: Structured query expression types for QIDO style searches
// ABOUTME: Filter conditions form a closed set of variants consumers switch on

package query

import (
	"time"

	"github.com/nainya/dicomstore/pkg/dicom"
)

// QueryResource identifies the route a query arrived on
type QueryResource int

const (
	AllStudies QueryResource = iota
	AllSeries
	AllInstances
	StudySeries
	StudyInstances
	StudySeriesInstances
)

func (r QueryResource) String() string {
	switch r {
	case AllStudies:
		return "AllStudies"
	case AllSeries:
		return "AllSeries"
	case AllInstances:
		return "AllInstances"
	case StudySeries:
		return "StudySeries"
	case StudyInstances:
		return "StudyInstances"
	case StudySeriesInstances:
		return "StudySeriesInstances"
	}
	return "Unknown"
}

// ResourceLevel is the granularity of the rows a query returns
type ResourceLevel int

const (
	StudyLevel ResourceLevel = iota
	SeriesLevel
	InstanceLevel
)

// Level returns the granularity of results for the resource.
func (r QueryResource) Level() ResourceLevel {
	switch r {
	case AllStudies:
		return StudyLevel
	case AllSeries, StudySeries:
		return SeriesLevel
	}
	return InstanceLevel
}

// QueryRequest is the untyped input to the parser
type QueryRequest struct {
	Parameters        map[string][]string
	Resource          QueryResource
	StudyInstanceUID  string
	SeriesInstanceUID string
}

// IncludeField lists the extra attributes to return, or all of them
type IncludeField struct {
	All  bool
	Tags []dicom.Tag
}

// QueryExpression is a validated query ready for execution
type QueryExpression struct {
	Resource      QueryResource
	Filters       []FilterCondition
	IncludeFields IncludeField
	FuzzyMatching bool
	Limit         int
	Offset        int
}

// HasFilters reports whether any filter condition is present
func (e *QueryExpression) HasFilters() bool {
	return len(e.Filters) > 0
}

// Filter returns the condition for a tag, if any.
func (e *QueryExpression) Filter(tag dicom.Tag) (FilterCondition, bool) {
	for _, f := range e.Filters {
		if f.Tag() == tag {
			return f, true
		}
	}
	return nil, false
}

// FilterCondition is one of StringSingleValueMatchCondition, DateSingleValueMatchCondition,
// DateRangeValueMatchCondition or PersonNameFuzzyMatchCondition.
type FilterCondition interface {
	Tag() dicom.Tag
	filterCondition()
}

// StringSingleValueMatchCondition matches an attribute exactly
type StringSingleValueMatchCondition struct {
	Attribute dicom.Tag
	Value     string
}

// DateSingleValueMatchCondition matches a date attribute on one day
type DateSingleValueMatchCondition struct {
	Attribute dicom.Tag
	Value     time.Time
}

// DateRangeValueMatchCondition matches a date attribute within [Minimum, Maximum]
type DateRangeValueMatchCondition struct {
	Attribute dicom.Tag
	Minimum   time.Time
	Maximum   time.Time
}

// PersonNameFuzzyMatchCondition matches name components by prefix
type PersonNameFuzzyMatchCondition struct {
	Attribute dicom.Tag
	Value     string
}

func (c StringSingleValueMatchCondition) Tag() dicom.Tag { return c.Attribute }
func (c DateSingleValueMatchCondition) Tag() dicom.Tag   { return c.Attribute }
func (c DateRangeValueMatchCondition) Tag() dicom.Tag    { return c.Attribute }
func (c PersonNameFuzzyMatchCondition) Tag() dicom.Tag   { return c.Attribute }

func (StringSingleValueMatchCondition) filterCondition() {}
func (DateSingleValueMatchCondition) filterCondition()   {}
func (DateRangeValueMatchCondition) filterCondition()    {}
func (PersonNameFuzzyMatchCondition) filterCondition()   {}
