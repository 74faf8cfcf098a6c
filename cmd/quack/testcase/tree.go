package testcase

import (
	"sort"

	"github.com/greatbit/quack/cmd/quack/types"
)

// NoneTitle is the title of the node holding test cases without a value
// for the grouping attribute. That node has an empty id.
const NoneTitle = "None"

// BuildTree groups test cases level by level along the attribute ids in
// groups. A test case with several values for an attribute appears under
// each of them; Count is the number of distinct test cases below a node.
func BuildTree(testCases []types.TestCase, groups []string) *types.TestCaseTree {
	root := &types.TestCaseTree{}
	populate(root, testCases, groups)
	return root
}

func populate(node *types.TestCaseTree, testCases []types.TestCase, groups []string) {
	node.Count = countDistinct(testCases)
	node.Children = []*types.TestCaseTree{}

	if len(groups) == 0 {
		node.TestCases = testCases
		if node.TestCases == nil {
			node.TestCases = []types.TestCase{}
		}
		return
	}
	node.TestCases = []types.TestCase{}

	attribute := groups[0]
	buckets := make(map[string][]types.TestCase)
	var order []string
	var none []types.TestCase

	for _, tc := range testCases {
		values := distinctValues(tc.Attributes[attribute])
		if len(values) == 0 {
			none = append(none, tc)
			continue
		}
		for _, v := range values {
			if _, seen := buckets[v]; !seen {
				order = append(order, v)
			}
			buckets[v] = append(buckets[v], tc)
		}
	}

	sort.Strings(order)
	for _, v := range order {
		child := &types.TestCaseTree{ID: v, Title: v}
		populate(child, buckets[v], groups[1:])
		node.Children = append(node.Children, child)
	}

	if len(none) > 0 {
		// empty id so it never collides with an attribute value "None"
		child := &types.TestCaseTree{Title: NoneTitle}
		populate(child, none, groups[1:])
		node.Children = append(node.Children, child)
	}
}

// ProjectTree applies the field projection to the test cases of every node
func ProjectTree(node *types.TestCaseTree, included, excluded []string) {
	if len(included) == 0 && len(excluded) == 0 {
		return
	}
	for i := range node.TestCases {
		node.TestCases[i].Project(included, excluded)
	}
	for _, child := range node.Children {
		ProjectTree(child, included, excluded)
	}
}

func distinctValues(values []string) []string {
	var out []string
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func countDistinct(testCases []types.TestCase) int {
	seen := make(map[string]bool, len(testCases))
	for _, tc := range testCases {
		seen[tc.ID] = true
	}
	return len(seen)
}
