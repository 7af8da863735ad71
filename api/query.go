package api

import (
	"fmt"
	"net/url"
	"strings"
)

// FilterOp represents a filter operation type.
type FilterOp string

const (
	OpEq FilterOp = "eq" // Equality (substring for strings, exact for numbers)
	OpNe FilterOp = "ne" // Not equal
	OpIn FilterOp = "in" // Any of the specified values
)

// Filter represents a query filter condition.
type Filter struct {
	Op     FilterOp
	Field  string
	Value  string   // For single-value operators
	Values []string // For in
}

// SortSpec represents a sort specification.
type SortSpec struct {
	Field      string
	Descending bool
}

// Query is an RQL query with filters and field selection.
type Query struct {
	SelectFields   []string
	Filters        []Filter
	RequiredFields []string // must have non-empty values
	SortSpecs      []SortSpec
	LimitValue     int // 0 = unlimited
}

// NewQuery creates a new empty query.
func NewQuery() *Query {
	return &Query{}
}

// Select sets the fields to return.
func (q *Query) Select(fields ...string) *Query {
	q.SelectFields = append(q.SelectFields, fields...)
	return q
}

// Eq adds an equality filter.
func (q *Query) Eq(field, value string) *Query {
	q.Filters = append(q.Filters, Filter{Op: OpEq, Field: field, Value: value})
	return q
}

// Ne adds a not-equal filter.
func (q *Query) Ne(field, value string) *Query {
	q.Filters = append(q.Filters, Filter{Op: OpNe, Field: field, Value: value})
	return q
}

// In adds an any-value filter.
func (q *Query) In(field string, values ...string) *Query {
	q.Filters = append(q.Filters, Filter{Op: OpIn, Field: field, Values: values})
	return q
}

// Required adds fields that must have a non-empty value.
func (q *Query) Required(fields ...string) *Query {
	q.RequiredFields = append(q.RequiredFields, fields...)
	return q
}

// Sort adds a sort specification.
func (q *Query) Sort(field string, descending bool) *Query {
	q.SortSpecs = append(q.SortSpecs, SortSpec{Field: field, Descending: descending})
	return q
}

// Limit sets the maximum number of records to return.
func (q *Query) Limit(n int) *Query {
	q.LimitValue = n
	return q
}

// Build generates the RQL string sent as the request body.
func (q *Query) Build() string {
	var parts []string

	if len(q.SelectFields) > 0 {
		parts = append(parts, fmt.Sprintf("select(%s)", strings.Join(q.SelectFields, ",")))
	}

	for _, f := range q.Filters {
		if f.Op == OpIn {
			encoded := make([]string, len(f.Values))
			for i, v := range f.Values {
				encoded[i] = encodeRQLValue(v)
			}
			parts = append(parts, fmt.Sprintf("in(%s,(%s))", f.Field, strings.Join(encoded, ",")))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s(%s,%s)", f.Op, f.Field, encodeRQLValue(f.Value)))
	}

	for _, field := range q.RequiredFields {
		parts = append(parts, fmt.Sprintf("ne(%s,)", field))
	}

	if len(q.SortSpecs) > 0 {
		fields := make([]string, len(q.SortSpecs))
		for i, s := range q.SortSpecs {
			prefix := "+"
			if s.Descending {
				prefix = "-"
			}
			fields[i] = prefix + s.Field
		}
		parts = append(parts, fmt.Sprintf("sort(%s)", strings.Join(fields, ",")))
	}

	return strings.Join(parts, "&")
}

// HasFilters returns true if the query has any filter constraints.
func (q *Query) HasFilters() bool {
	return len(q.Filters) > 0 || len(q.RequiredFields) > 0
}

// encodeRQLValue escapes a value for RQL. The "*" wildcard is kept.
func encodeRQLValue(s string) string {
	if s == "*" {
		return s
	}
	encoded := url.QueryEscape(s)
	// QueryEscape encodes spaces as +, but RQL expects %20
	return strings.ReplaceAll(encoded, "+", "%20")
}

// Clone creates a copy of the query.
func (q *Query) Clone() *Query {
	return &Query{
		SelectFields:   append([]string(nil), q.SelectFields...),
		Filters:        append([]Filter(nil), q.Filters...),
		RequiredFields: append([]string(nil), q.RequiredFields...),
		SortSpecs:      append([]SortSpec(nil), q.SortSpecs...),
		LimitValue:     q.LimitValue,
	}
}
