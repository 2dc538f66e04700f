// ABOUTME: Parser turning raw query parameters into a QueryExpression
// ABOUTME: Stateless and safe for concurrent use

package query

import (
	"sort"
	"strconv"
	"strings"

	"github.com/nainya/dicomstore/pkg/dicom"
)

// Reserved control parameters, matched case-insensitively
const (
	ParamIncludeField  = "includefield"
	ParamLimit         = "limit"
	ParamOffset        = "offset"
	ParamFuzzyMatching = "fuzzymatching"

	includeFieldAll = "all"
)

// Parser validates query parameters against the attribute schema
type Parser struct {
	defaultLimit int
	maxLimit     int
}

// NewParser creates a parser. Non-positive limits fall back to the package defaults and
// the default is capped at the maximum.
func NewParser(defaultLimit, maxLimit int) *Parser {
	if maxLimit <= 0 {
		maxLimit = MaxQueryResultCount
	}
	if defaultLimit <= 0 {
		defaultLimit = DefaultQueryResultCount
	}
	if defaultLimit > maxLimit {
		defaultLimit = maxLimit
	}
	return &Parser{defaultLimit: defaultLimit, maxLimit: maxLimit}
}

// MaxLimit returns the largest accepted limit
func (p *Parser) MaxLimit() int {
	return p.maxLimit
}

type parseState struct {
	expr     *QueryExpression
	tags     map[dicom.Tag]bool
	reserved map[string]bool
	included map[dicom.Tag]bool
}

// Parse builds a QueryExpression from req. Any invalid parameter yields a *ParseError.
func (p *Parser) Parse(req QueryRequest) (*QueryExpression, error) {
	st := &parseState{
		expr: &QueryExpression{
			Resource: req.Resource,
			Limit:    p.defaultLimit,
		},
		tags:     make(map[dicom.Tag]bool),
		reserved: make(map[string]bool),
		included: make(map[dicom.Tag]bool),
	}

	// Route identifiers come first and cannot be overridden by parameters.
	if uid := strings.TrimSpace(req.StudyInstanceUID); uid != "" {
		st.addFilter(StringSingleValueMatchCondition{Attribute: dicom.StudyInstanceUID, Value: uid})
	}
	if uid := strings.TrimSpace(req.SeriesInstanceUID); uid != "" {
		st.addFilter(StringSingleValueMatchCondition{Attribute: dicom.SeriesInstanceUID, Value: uid})
	}

	keys := make([]string, 0, len(req.Parameters))
	for k := range req.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		values := req.Parameters[key]
		name := strings.TrimSpace(key)
		lower := strings.ToLower(name)

		var err error
		switch lower {
		case ParamIncludeField:
			// Repeated includefield keys accumulate, whatever their case.
			err = st.parseIncludeField(values)
		case ParamLimit, ParamOffset, ParamFuzzyMatching:
			if st.reserved[lower] {
				return nil, parseErrorf("query parameter %q specified more than once", lower)
			}
			st.reserved[lower] = true
			err = p.parseReserved(st, lower, values)
		default:
			err = st.parseFilter(name, values)
		}
		if err != nil {
			return nil, err
		}
	}

	if st.expr.FuzzyMatching {
		for i, f := range st.expr.Filters {
			if c, ok := f.(StringSingleValueMatchCondition); ok && c.Attribute == dicom.PatientName {
				st.expr.Filters[i] = PersonNameFuzzyMatchCondition{Attribute: c.Attribute, Value: c.Value}
			}
		}
	}

	return st.expr, nil
}

func (p *Parser) parseReserved(st *parseState, name string, values []string) error {
	if len(values) != 1 {
		return parseErrorf("query parameter %q requires a single value", name)
	}
	value := strings.TrimSpace(values[0])

	switch name {
	case ParamLimit:
		n, err := strconv.Atoi(value)
		if err != nil {
			return parseErrorf("invalid limit %q, expected an integer", value)
		}
		if n < 1 || n > p.maxLimit {
			return parseErrorf("limit %d is out of range, valid range is [1, %d]", n, p.maxLimit)
		}
		st.expr.Limit = n
	case ParamOffset:
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return parseErrorf("invalid offset %q, expected a non-negative integer", value)
		}
		st.expr.Offset = n
	case ParamFuzzyMatching:
		switch {
		case strings.EqualFold(value, "true"):
			st.expr.FuzzyMatching = true
		case strings.EqualFold(value, "false"):
			st.expr.FuzzyMatching = false
		default:
			return parseErrorf("invalid fuzzymatching value %q, expected true or false", value)
		}
	}
	return nil
}

func (st *parseState) parseIncludeField(values []string) error {
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			id := strings.TrimSpace(part)
			if strings.EqualFold(id, includeFieldAll) {
				st.expr.IncludeFields.All = true
				st.expr.IncludeFields.Tags = nil
				return nil
			}
			if st.expr.IncludeFields.All {
				continue
			}
			entry, ok := dicom.ParseAttributeID(id)
			if !ok {
				return parseErrorf("unknown attribute %q in includefield", id)
			}
			if !st.included[entry.Tag] {
				st.included[entry.Tag] = true
				st.expr.IncludeFields.Tags = append(st.expr.IncludeFields.Tags, entry.Tag)
			}
		}
	}
	return nil
}

func (st *parseState) parseFilter(name string, values []string) error {
	entry, ok := dicom.ParseAttributeID(name)
	if !ok {
		return parseErrorf("unknown query parameter %q", name)
	}
	if !supported[entry.Tag] {
		return parseErrorf("attribute %s is not supported for filtering", entry.Keyword)
	}
	if !IsFilterable(st.expr.Resource, entry.Tag) {
		return parseErrorf("attribute %s cannot be filtered on for %s", entry.Keyword, st.expr.Resource)
	}
	if st.tags[entry.Tag] {
		return parseErrorf("attribute %s specified more than once", entry.Keyword)
	}
	if len(values) != 1 {
		return parseErrorf("attribute %s requires a single value", entry.Keyword)
	}
	value := strings.TrimSpace(values[0])
	if value == "" {
		return parseErrorf("attribute %s has an empty value", entry.Keyword)
	}

	if entry.VR == dicom.VR_DA {
		cond, err := parseDateCondition(entry, value)
		if err != nil {
			return err
		}
		st.addFilter(cond)
		return nil
	}

	st.addFilter(StringSingleValueMatchCondition{Attribute: entry.Tag, Value: value})
	return nil
}

func (st *parseState) addFilter(cond FilterCondition) {
	st.tags[cond.Tag()] = true
	st.expr.Filters = append(st.expr.Filters, cond)
}

func parseDateCondition(entry dicom.Entry, value string) (FilterCondition, error) {
	if !strings.Contains(value, "-") {
		d, err := dicom.ParseDate(value)
		if err != nil {
			return nil, parseErrorf("invalid date %q for %s, expected YYYYMMDD", value, entry.Keyword)
		}
		return DateSingleValueMatchCondition{Attribute: entry.Tag, Value: d}, nil
	}

	parts := strings.Split(value, "-")
	if len(parts) != 2 {
		return nil, parseErrorf("invalid date range %q for %s", value, entry.Keyword)
	}
	minimum, err := dicom.ParseDate(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, parseErrorf("invalid date range %q for %s, expected YYYYMMDD-YYYYMMDD", value, entry.Keyword)
	}
	maximum, err := dicom.ParseDate(strings.TrimSpace(parts[1]))
	if err != nil {
		return nil, parseErrorf("invalid date range %q for %s, expected YYYYMMDD-YYYYMMDD", value, entry.Keyword)
	}
	if minimum.After(maximum) {
		return nil, parseErrorf("invalid date range %q for %s, start is after end", value, entry.Keyword)
	}
	return DateRangeValueMatchCondition{Attribute: entry.Tag, Minimum: minimum, Maximum: maximum}, nil
}
