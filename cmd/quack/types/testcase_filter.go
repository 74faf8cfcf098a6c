package types

import (
	"net/url"

	"golang.org/x/exp/slices"
)

// GroupsParam is the repeatable query parameter selecting the tree grouping
const GroupsParam = "groups"

// TestcaseFilter is a Filter for test case queries. Groups holds the distinct
// attribute ids to group by, in the order they first appear in the request.
// "groups" is reserved by the schema, so it is never one of Fields.
type TestcaseFilter struct {
	Filter
	Groups []string
}

var testcaseFilterSchema = NewSchema(
	func(tf *TestcaseFilter) *Filter { return &tf.Filter },
	map[string]Rule[TestcaseFilter]{
		GroupsParam: func(dst *TestcaseFilter, values []string) error {
			// group ids are taken verbatim; only empty values are skipped
			for _, v := range values {
				if v != "" && !slices.Contains(dst.Groups, v) {
					dst.Groups = append(dst.Groups, v)
				}
			}
			return nil
		},
	},
)

// ParseTestcaseFilter builds a TestcaseFilter from request query parameters
func ParseTestcaseFilter(query url.Values) (TestcaseFilter, error) {
	tf, err := testcaseFilterSchema.Decode(query)
	if err != nil {
		return tf, err
	}
	if tf.Groups == nil {
		tf.Groups = []string{}
	}
	return tf, nil
}
