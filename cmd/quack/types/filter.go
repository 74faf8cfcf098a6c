package types

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"
)

// Direction is the sort direction of a filtered listing
type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

// Reserved query parameters understood by every filter
const (
	SkipParam          = "skip"
	LimitParam         = "limit"
	OrderByParam       = "orderby"
	OrderDirParam      = "orderdir"
	IncludedFieldParam = "includedField"
	ExcludedFieldParam = "excludedField"
)

// Filter represents the query constraints parsed from a listing request
type Filter struct {
	Fields         map[string][]string // Document path -> accepted values
	Skip           int
	Limit          int // 0 means no limit
	OrderBy        string
	OrderDir       Direction
	IncludedFields []string
	ExcludedFields []string
}

// WithoutPaging returns a copy of the filter that selects the full result set
func (f Filter) WithoutPaging() Filter {
	f.Skip = 0
	f.Limit = 0
	return f
}

// ParseError reports a query parameter that could not be extracted
type ParseError struct {
	Param string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid query parameter %q: %v", e.Param, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Rule extracts the values of one reserved query parameter into dst
type Rule[T any] func(dst *T, values []string) error

// Schema describes how a query string maps onto the filter type T.
// Parameters with a rule are reserved and extracted by it; every other
// parameter becomes a generic field of the Filter returned by base.
// Decoding is a single pass, a parameter is never represented twice.
type Schema[T any] struct {
	rules map[string]Rule[T]
	base  func(*T) *Filter
}

// NewSchema creates a schema with the base rules plus the given extra rules
func NewSchema[T any](base func(*T) *Filter, extra map[string]Rule[T]) Schema[T] {
	rules := map[string]Rule[T]{
		SkipParam:          lift(base, extractSkip),
		LimitParam:         lift(base, extractLimit),
		OrderByParam:       lift(base, extractOrderBy),
		OrderDirParam:      lift(base, extractOrderDir),
		IncludedFieldParam: lift(base, extractIncludedFields),
		ExcludedFieldParam: lift(base, extractExcludedFields),
	}
	for name, rule := range extra {
		rules[name] = rule
	}
	return Schema[T]{rules: rules, base: base}
}

// Reserved reports whether name is extracted by a rule instead of stored as a field
func (s Schema[T]) Reserved(name string) bool {
	_, ok := s.rules[name]
	return ok
}

// Decode builds a T from the query parameters
func (s Schema[T]) Decode(query url.Values) (T, error) {
	var dst T
	f := s.base(&dst)
	f.Fields = make(map[string][]string)
	f.OrderDir = Asc

	names := make([]string, 0, len(query))
	for name := range query {
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		values := query[name]
		if rule, ok := s.rules[name]; ok {
			if err := rule(&dst, values); err != nil {
				return dst, &ParseError{Param: name, Err: err}
			}
			continue
		}
		f.Fields[name] = append([]string(nil), values...)
	}

	return dst, nil
}

var filterSchema = NewSchema(func(f *Filter) *Filter { return f }, nil)

// ParseFilter builds a generic Filter from request query parameters
func ParseFilter(query url.Values) (Filter, error) {
	return filterSchema.Decode(query)
}

func lift[T any](base func(*T) *Filter, rule Rule[Filter]) Rule[T] {
	return func(dst *T, values []string) error {
		return rule(base(dst), values)
	}
}

var errNegative = errors.New("must not be negative")

func parseCount(values []string) (int, error) {
	if len(values) == 0 {
		return 0, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(values[0]))
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errNegative
	}
	return n, nil
}

func extractSkip(f *Filter, values []string) error {
	n, err := parseCount(values)
	if err != nil {
		return err
	}
	f.Skip = n
	return nil
}

func extractLimit(f *Filter, values []string) error {
	n, err := parseCount(values)
	if err != nil {
		return err
	}
	f.Limit = n
	return nil
}

func extractOrderBy(f *Filter, values []string) error {
	if len(values) > 0 {
		f.OrderBy = strings.TrimSpace(values[0])
	}
	return nil
}

func extractOrderDir(f *Filter, values []string) error {
	if len(values) == 0 || values[0] == "" {
		return nil
	}
	switch Direction(strings.ToUpper(values[0])) {
	case Asc:
		f.OrderDir = Asc
	case Desc:
		f.OrderDir = Desc
	default:
		return fmt.Errorf("unknown direction %q", values[0])
	}
	return nil
}

func extractIncludedFields(f *Filter, values []string) error {
	f.IncludedFields = appendDistinct(f.IncludedFields, values...)
	return nil
}

func extractExcludedFields(f *Filter, values []string) error {
	f.ExcludedFields = appendDistinct(f.ExcludedFields, values...)
	return nil
}

// appendDistinct appends the non-blank values not yet present, keeping first-seen order
func appendDistinct(dst []string, values ...string) []string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || slices.Contains(dst, v) {
			continue
		}
		dst = append(dst, v)
	}
	return dst
}
