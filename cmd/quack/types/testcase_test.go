package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func sampleTestCase() TestCase {
	return TestCase{
		ID:          "tc1",
		ProjectID:   "p1",
		Name:        "login",
		Description: "user logs in",
		Steps:       []Step{{Action: "open", Expectation: "page shown"}},
		Attributes:  map[string][]string{"component": {"auth"}},
		Issues:      []Issue{{ID: "BUG-1"}},
		CreatedBy:   "alice",
		CreatedTime: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestTestCase_Project(t *testing.T) {
	t.Run("excluded fields are cleared", func(t *testing.T) {
		tc := sampleTestCase()
		tc.Project(nil, []string{"steps", "issues", "unknown"})

		assert.Nil(t, tc.Steps)
		assert.Nil(t, tc.Issues)
		assert.Equal(t, "login", tc.Name)
		assert.Equal(t, "user logs in", tc.Description)
	})

	t.Run("only included fields survive", func(t *testing.T) {
		tc := sampleTestCase()
		tc.Project([]string{"name"}, nil)

		assert.Equal(t, "tc1", tc.ID)
		assert.Equal(t, "p1", tc.ProjectID)
		assert.Equal(t, "login", tc.Name)
		assert.Empty(t, tc.Description)
		assert.Nil(t, tc.Steps)
		assert.Nil(t, tc.Attributes)
		assert.True(t, tc.CreatedTime.IsZero())
	})

	t.Run("exclusion wins over inclusion", func(t *testing.T) {
		tc := sampleTestCase()
		tc.Project([]string{"name", "description"}, []string{"description"})

		assert.Equal(t, "login", tc.Name)
		assert.Empty(t, tc.Description)
	})
}

func TestTestCase_Lookups(t *testing.T) {
	tc := sampleTestCase()
	tc.Attachments = []Attachment{{ID: "a1", Title: "log.txt"}}

	a, ok := tc.AttachmentByID("a1")
	assert.True(t, ok)
	assert.Equal(t, "log.txt", a.Title)

	_, ok = tc.AttachmentByID("missing")
	assert.False(t, ok)

	assert.True(t, tc.HasIssue("BUG-1"))
	assert.False(t, tc.HasIssue("BUG-2"))
}
