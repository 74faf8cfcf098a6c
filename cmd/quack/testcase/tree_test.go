package testcase

import (
	"testing"

	"github.com/greatbit/quack/cmd/quack/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func treeFixture() []types.TestCase {
	return []types.TestCase{
		{ID: "1", Name: "login", Attributes: map[string][]string{"suite": {"smoke"}, "owner": {"alice"}}},
		{ID: "2", Name: "logout", Attributes: map[string][]string{"suite": {"smoke", "regression"}, "owner": {"bob"}}},
		{ID: "3", Name: "export", Attributes: map[string][]string{"suite": {"regression"}}},
		{ID: "4", Name: "import"},
	}
}

func titles(nodes []*types.TestCaseTree) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Title)
	}
	return out
}

func TestBuildTree_NoGroups(t *testing.T) {
	tree := BuildTree(treeFixture(), nil)

	assert.Equal(t, 4, tree.Count)
	assert.Len(t, tree.TestCases, 4)
	assert.Empty(t, tree.Children)
}

func TestBuildTree_Empty(t *testing.T) {
	tree := BuildTree(nil, []string{"suite"})

	assert.Zero(t, tree.Count)
	assert.NotNil(t, tree.TestCases)
	assert.NotNil(t, tree.Children)
	assert.Empty(t, tree.Children)
}

func TestBuildTree_SingleLevel(t *testing.T) {
	tree := BuildTree(treeFixture(), []string{"suite"})

	assert.Equal(t, 4, tree.Count)
	assert.Empty(t, tree.TestCases)
	require.Equal(t, []string{"regression", "smoke", NoneTitle}, titles(tree.Children))

	regression, smoke, none := tree.Children[0], tree.Children[1], tree.Children[2]
	assert.Equal(t, 2, regression.Count)
	assert.Equal(t, 2, smoke.Count)
	assert.Equal(t, 1, none.Count)
	assert.Equal(t, "4", none.TestCases[0].ID)
}

func TestBuildTree_TwoLevels(t *testing.T) {
	tree := BuildTree(treeFixture(), []string{"suite", "owner"})

	smoke := tree.Children[1]
	require.Equal(t, "smoke", smoke.Title)
	assert.Equal(t, []string{"alice", "bob"}, titles(smoke.Children))
	assert.Empty(t, smoke.TestCases)

	regression := tree.Children[0]
	require.Equal(t, []string{"bob", NoneTitle}, titles(regression.Children))
	assert.Equal(t, "3", regression.Children[1].TestCases[0].ID)
}

func TestBuildTree_DuplicateValuesCountOnce(t *testing.T) {
	testCases := []types.TestCase{
		{ID: "1", Attributes: map[string][]string{"suite": {"smoke", "smoke", ""}}},
	}
	tree := BuildTree(testCases, []string{"suite"})

	require.Len(t, tree.Children, 1)
	assert.Equal(t, "smoke", tree.Children[0].ID)
	assert.Equal(t, 1, tree.Children[0].Count)
	assert.Len(t, tree.Children[0].TestCases, 1)
}

func TestBuildTree_NoneValueDoesNotCollide(t *testing.T) {
	testCases := []types.TestCase{
		{ID: "1", Attributes: map[string][]string{"suite": {"None"}}},
		{ID: "2"},
	}
	tree := BuildTree(testCases, []string{"suite"})

	require.Len(t, tree.Children, 2)
	assert.Equal(t, "None", tree.Children[0].ID)
	assert.Equal(t, "1", tree.Children[0].TestCases[0].ID)
	assert.Empty(t, tree.Children[1].ID)
	assert.Equal(t, NoneTitle, tree.Children[1].Title)
	assert.Equal(t, "2", tree.Children[1].TestCases[0].ID)
}

func TestProjectTree(t *testing.T) {
	tree := BuildTree(treeFixture(), []string{"suite"})
	ProjectTree(tree, []string{"name"}, nil)

	for _, child := range tree.Children {
		for _, tc := range child.TestCases {
			assert.NotEmpty(t, tc.Name)
			assert.Empty(t, tc.Attributes)
		}
	}
	assert.Equal(t, []string{"regression", "smoke", NoneTitle}, titles(tree.Children))
}
