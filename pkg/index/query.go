// ABOUTME: Renders a QueryExpression into SQL over the instance table
// ABOUTME: Study and series levels return one representative revision per group

package index

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/nainya/dicomstore/pkg/dicom"
	"github.com/nainya/dicomstore/pkg/query"
	"github.com/nainya/dicomstore/pkg/store"
)

// columns maps every filterable attribute to its instance column
var columns = map[dicom.Tag]string{
	dicom.StudyInstanceUID:                "study_instance_uid",
	dicom.SeriesInstanceUID:               "series_instance_uid",
	dicom.SOPInstanceUID:                  "sop_instance_uid",
	dicom.PatientID:                       "patient_id",
	dicom.PatientName:                     "patient_name",
	dicom.ReferringPhysicianName:          "referring_physician_name",
	dicom.StudyDate:                       "study_date",
	dicom.StudyDescription:                "study_description",
	dicom.AccessionNumber:                 "accession_number",
	dicom.Modality:                        "modality",
	dicom.PerformedProcedureStepStartDate: "performed_procedure_step_start_date",
}

// sqlBuilder accumulates a WHERE clause and its positional arguments
type sqlBuilder struct {
	where []string
	args  []any
}

func (b *sqlBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *sqlBuilder) condition(c query.FilterCondition) error {
	col, ok := columns[c.Tag()]
	if !ok {
		return fmt.Errorf("index: no column for attribute %s", c.Tag())
	}

	switch c := c.(type) {
	case query.StringSingleValueMatchCondition:
		b.where = append(b.where, fmt.Sprintf("%s = %s", col, b.arg(c.Value)))
	case query.DateSingleValueMatchCondition:
		b.where = append(b.where, fmt.Sprintf("%s = %s", col, b.arg(c.Value)))
	case query.DateRangeValueMatchCondition:
		b.where = append(b.where, fmt.Sprintf("%s BETWEEN %s AND %s", col, b.arg(c.Minimum), b.arg(c.Maximum)))
	case query.PersonNameFuzzyMatchCondition:
		for _, word := range nameWords(c.Value) {
			b.where = append(b.where, fmt.Sprintf("%s ~* %s", col, b.arg(`(^|[ ^=])`+regexp.QuoteMeta(word))))
		}
	default:
		return fmt.Errorf("index: unsupported filter condition %T", c)
	}
	return nil
}

// nameWords splits a person name into the words each of which must prefix some
// component of the stored name.
func nameWords(v string) []string {
	return strings.FieldsFunc(v, func(r rune) bool {
		return r == ' ' || r == '^' || r == '='
	})
}

// distinctOn returns the columns that collapse rows to one per result at the level
func distinctOn(level query.ResourceLevel) string {
	switch level {
	case query.StudyLevel:
		return "study_instance_uid"
	case query.SeriesLevel:
		return "study_instance_uid, series_instance_uid"
	}
	return ""
}

// buildQuery renders expr as SQL returning one representative Created revision per
// study, series or instance, ordered by version.
func buildQuery(expr *query.QueryExpression) (string, []any, error) {
	b := &sqlBuilder{where: []string{"status = 1"}}
	for _, f := range expr.Filters {
		if err := b.condition(f); err != nil {
			return "", nil, err
		}
	}

	var inner strings.Builder
	inner.WriteString("SELECT ")
	distinct := distinctOn(expr.Resource.Level())
	if distinct != "" {
		fmt.Fprintf(&inner, "DISTINCT ON (%s) ", distinct)
	}
	inner.WriteString("study_instance_uid, series_instance_uid, sop_instance_uid, watermark FROM instance WHERE ")
	inner.WriteString(strings.Join(b.where, " AND "))
	if distinct != "" {
		fmt.Fprintf(&inner, " ORDER BY %s, watermark DESC", distinct)
	}

	sql := fmt.Sprintf("SELECT study_instance_uid, series_instance_uid, sop_instance_uid, watermark FROM (%s) AS matched ORDER BY watermark LIMIT %s OFFSET %s",
		inner.String(), b.arg(expr.Limit), b.arg(expr.Offset))
	return sql, b.args, nil
}

// Query executes a parsed query
func (s *Store) Query(ctx context.Context, expr *query.QueryExpression) ([]dicom.VersionedInstanceIdentifier, error) {
	sql, args, err := buildQuery(expr)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, store.NewDataStoreError("query", err)
	}
	ids, err := collectIdentifiers(rows)
	if err != nil {
		return nil, store.NewDataStoreError("query", err)
	}
	return ids, nil
}
