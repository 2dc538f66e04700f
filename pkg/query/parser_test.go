// ABOUTME: Tests for the query parameter parser
// ABOUTME: Covers level restrictions, date ranges, limits and fuzzy matching

package query

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/dicomstore/pkg/dicom"
)

func parse(t *testing.T, raw string, resource QueryResource) (*QueryExpression, error) {
	t.Helper()
	params, err := url.ParseQuery(raw)
	require.NoError(t, err)
	return NewParser(0, 0).Parse(QueryRequest{Parameters: params, Resource: resource})
}

func mustParse(t *testing.T, raw string, resource QueryResource) *QueryExpression {
	t.Helper()
	expr, err := parse(t, raw, resource)
	require.NoError(t, err)
	return expr
}

func requireParseError(t *testing.T, raw string, resource QueryResource) {
	t.Helper()
	_, err := parse(t, raw, resource)
	require.Error(t, err)
	var pe *ParseError
	assert.True(t, errors.As(err, &pe), "expected *ParseError, got %T", err)
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestIncludeField(t *testing.T) {
	cases := []struct {
		raw   string
		count int
	}{
		{"includefield=StudyDate", 1},
		{"includefield=00100020", 1},
		{"includefield=00100020,00100010", 2},
		{"includefield=StudyDate, StudyTime", 2},
		{"includefield=StudyDate&includefield=StudyDate,PatientID", 2},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			expr := mustParse(t, tc.raw, AllStudies)
			assert.False(t, expr.HasFilters())
			assert.False(t, expr.IncludeFields.All)
			assert.Len(t, expr.IncludeFields.Tags, tc.count)
		})
	}
}

func TestIncludeFieldMergesCaseVariants(t *testing.T) {
	expr := mustParse(t, "includefield=StudyDate&IncludeField=PatientID,StudyDate&INCLUDEFIELD=StudyTime", AllStudies)
	assert.False(t, expr.IncludeFields.All)
	assert.ElementsMatch(t, []dicom.Tag{dicom.StudyDate, dicom.PatientID, dicom.StudyTime}, expr.IncludeFields.Tags)

	expr = mustParse(t, "IncludeField=all&includefield=PatientID", AllStudies)
	assert.True(t, expr.IncludeFields.All)
	assert.Empty(t, expr.IncludeFields.Tags)

	requireParseError(t, "includefield=StudyDate&IncludeField=bogus", AllStudies)
}

func TestIncludeFieldAll(t *testing.T) {
	expr := mustParse(t, "includefield=PatientID,ALL,bogus", AllStudies)
	assert.True(t, expr.IncludeFields.All)
	assert.Nil(t, expr.ResultTags())
}

func TestIncludeFieldUnknown(t *testing.T) {
	requireParseError(t, "includefield=something", AllStudies)
	requireParseError(t, "includefield=00030033", AllStudies)
}

func TestStringFilter(t *testing.T) {
	for _, key := range []string{"00100010", "PatientName"} {
		expr := mustParse(t, key+"=joe", AllStudies)
		want := []FilterCondition{StringSingleValueMatchCondition{Attribute: dicom.PatientName, Value: "joe"}}
		if diff := cmp.Diff(want, expr.Filters); diff != "" {
			t.Errorf("filters mismatch for %s (-want +got):\n%s", key, diff)
		}
	}

	expr := mustParse(t, "ReferringPhysicianName=dr^joe", AllStudies)
	cond, ok := expr.Filter(dicom.ReferringPhysicianName)
	require.True(t, ok)
	assert.Equal(t, StringSingleValueMatchCondition{Attribute: dicom.ReferringPhysicianName, Value: "dr^joe"}, cond)
}

func TestFilterValueTrimmed(t *testing.T) {
	expr := mustParse(t, "AccessionNumber=%20%20A123%20", AllStudies)
	assert.Equal(t, StringSingleValueMatchCondition{Attribute: dicom.AccessionNumber, Value: "A123"}, expr.Filters[0])
}

func TestUnsupportedFilters(t *testing.T) {
	requireParseError(t, "00080061=CT", AllStudies)
	requireParseError(t, "00390061=invalidtag", AllStudies)
	requireParseError(t, "unkownparam=invalidtag", AllStudies)
	requireParseError(t, "patientname=joe", AllStudies)
}

func TestFilterNotSupportedAtLevel(t *testing.T) {
	cases := []struct {
		raw      string
		resource QueryResource
	}{
		{"Modality=CT", AllStudies},
		{"SOPInstanceUID=1.2.3.48898989", AllSeries},
		{"PatientName=Joe", StudySeries},
		{"Modality=CT", StudySeriesInstances},
	}
	for _, tc := range cases {
		requireParseError(t, tc.raw, tc.resource)
	}
}

func TestValidQueries(t *testing.T) {
	mustParse(t, "limit=25&offset=0&fuzzymatching=false&includefield=00081030,00080060&StudyDate=19510910-20200220", AllStudies)
	mustParse(t, "PatientName=Joe&fuzzyMatching=true&limit=50", AllStudies)
	mustParse(t, "PatientName=Joe&fuzzyMatching=true&Modality=CT", AllSeries)
	mustParse(t, "SOPInstanceUID=1.2&Modality=MR&StudyDate=20200101", AllInstances)
	mustParse(t, "Modality=MR&SOPInstanceUID=1.2", StudyInstances)
}

func TestDuplicateFilters(t *testing.T) {
	requireParseError(t, "PatientName=Joe&00100010=Rob", AllStudies)
	requireParseError(t, "00100010=Joe&00100010=Rob", AllStudies)
}

func TestEmptyFilterValues(t *testing.T) {
	requireParseError(t, "PatientName=%20%20", AllStudies)
	requireParseError(t, "PatientName=&fuzzyMatching=true", AllStudies)
	requireParseError(t, "StudyDescription=", AllStudies)
}

func TestOffset(t *testing.T) {
	expr := mustParse(t, "offset=25", AllStudies)
	assert.Equal(t, 25, expr.Offset)

	requireParseError(t, "offset=2.5", AllStudies)
	requireParseError(t, "offset=-1", AllStudies)
}

func TestLimit(t *testing.T) {
	expr := mustParse(t, "limit=50", AllStudies)
	assert.Equal(t, 50, expr.Limit)

	expr = mustParse(t, "", AllStudies)
	assert.Equal(t, DefaultQueryResultCount, expr.Limit)
	assert.Equal(t, 0, expr.Offset)
	assert.False(t, expr.FuzzyMatching)

	for _, raw := range []string{"limit=sdfsdf", "limit=-2", "limit=0", "limit=500000", "limit=201"} {
		requireParseError(t, raw, AllStudies)
	}
}

func TestLimitErrorReportsRange(t *testing.T) {
	_, err := parse(t, "limit=500", AllStudies)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[1, 200]")
}

func TestCustomLimits(t *testing.T) {
	p := NewParser(500, 20)
	expr, err := p.Parse(QueryRequest{Resource: AllStudies})
	require.NoError(t, err)
	assert.Equal(t, 20, expr.Limit)

	_, err = p.Parse(QueryRequest{Parameters: map[string][]string{"limit": {"21"}}, Resource: AllStudies})
	require.Error(t, err)
}

func TestFuzzyMatching(t *testing.T) {
	expr := mustParse(t, "fuzzymatching=true", AllStudies)
	assert.True(t, expr.FuzzyMatching)

	expr = mustParse(t, "FuzzyMatching=False", AllStudies)
	assert.False(t, expr.FuzzyMatching)

	requireParseError(t, "fuzzymatching=notbool", AllStudies)
	requireParseError(t, "fuzzymatching=true&FuzzyMatching=false", AllStudies)
}

func TestDateRange(t *testing.T) {
	expr := mustParse(t, "StudyDate=19510910-20200220", AllStudies)
	want := []FilterCondition{DateRangeValueMatchCondition{
		Attribute: dicom.StudyDate,
		Minimum:   date(1951, time.September, 10),
		Maximum:   date(2020, time.February, 20),
	}}
	if diff := cmp.Diff(want, expr.Filters); diff != "" {
		t.Errorf("filters mismatch (-want +got):\n%s", diff)
	}
}

func TestDateSingleValue(t *testing.T) {
	expr := mustParse(t, "PerformedProcedureStepStartDate=20200403", AllSeries)
	cond, ok := expr.Filter(dicom.PerformedProcedureStepStartDate)
	require.True(t, ok)
	assert.Equal(t, DateSingleValueMatchCondition{Attribute: dicom.PerformedProcedureStepStartDate, Value: date(2020, time.April, 3)}, cond)
}

func TestInvalidDates(t *testing.T) {
	for _, raw := range []string{
		"StudyDate=2020/02/28",
		"StudyDate=20200230",
		"StudyDate=20200228-20200230",
		"StudyDate=20200110-20200109",
		"StudyDate=20200101-20200102-20200103",
		"PerformedProcedureStepStartDate=baddate",
	} {
		requireParseError(t, raw, AllSeries)
	}
}

func TestPathIdentifiersInjected(t *testing.T) {
	p := NewParser(0, 0)
	expr, err := p.Parse(QueryRequest{Resource: AllSeries, StudyInstanceUID: "1.2.840.1"})
	require.NoError(t, err)
	want := []FilterCondition{StringSingleValueMatchCondition{Attribute: dicom.StudyInstanceUID, Value: "1.2.840.1"}}
	if diff := cmp.Diff(want, expr.Filters); diff != "" {
		t.Errorf("filters mismatch (-want +got):\n%s", diff)
	}

	expr, err = p.Parse(QueryRequest{
		Parameters:        map[string][]string{"SOPInstanceUID": {"1.2.840.1.2.3"}},
		Resource:          StudySeriesInstances,
		StudyInstanceUID:  "1.2.840.1",
		SeriesInstanceUID: "1.2.840.1.2",
	})
	require.NoError(t, err)
	require.Len(t, expr.Filters, 3)
	assert.Equal(t, dicom.StudyInstanceUID, expr.Filters[0].Tag())
	assert.Equal(t, dicom.SeriesInstanceUID, expr.Filters[1].Tag())
	assert.Equal(t, dicom.SOPInstanceUID, expr.Filters[2].Tag())

	_, err = p.Parse(QueryRequest{
		Parameters:       map[string][]string{"StudyInstanceUID": {"9.9"}},
		Resource:         AllSeries,
		StudyInstanceUID: "1.2.840.1",
	})
	require.Error(t, err)
}

func TestFuzzySubstitution(t *testing.T) {
	expr := mustParse(t, "PatientName=CoronaPatient&StudyDate=20200403&fuzzyMatching=true", AllStudies)
	require.Len(t, expr.Filters, 2)

	cond, ok := expr.Filter(dicom.PatientName)
	require.True(t, ok)
	assert.Equal(t, PersonNameFuzzyMatchCondition{Attribute: dicom.PatientName, Value: "CoronaPatient"}, cond)

	studyDate, ok := expr.Filter(dicom.StudyDate)
	require.True(t, ok)
	assert.IsType(t, DateSingleValueMatchCondition{}, studyDate)

	expr = mustParse(t, "ReferringPhysicianName=dr&fuzzyMatching=true", AllStudies)
	assert.IsType(t, StringSingleValueMatchCondition{}, expr.Filters[0])
}

func TestParseIsDeterministic(t *testing.T) {
	raw := "PatientName=Joe&Modality=CT&StudyDate=20200101-20200201&includefield=StudyTime,PatientID&limit=10&fuzzymatching=true"
	first := mustParse(t, raw, AllSeries)
	second := mustParse(t, raw, AllSeries)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("expressions differ (-first +second):\n%s", diff)
	}
}

func TestResultTags(t *testing.T) {
	expr := mustParse(t, "includefield=Manufacturer&Modality=CT", AllSeries)
	tags := expr.ResultTags()
	assert.Contains(t, tags, dicom.StudyInstanceUID)
	assert.Contains(t, tags, dicom.SeriesInstanceUID)
	assert.Contains(t, tags, dicom.Manufacturer)
	assert.NotContains(t, tags, dicom.SOPInstanceUID)

	assert.Equal(t, InstanceLevel, StudySeriesInstances.Level())
	assert.Equal(t, SeriesLevel, StudySeries.Level())
	assert.Equal(t, StudyLevel, AllStudies.Level())
}
