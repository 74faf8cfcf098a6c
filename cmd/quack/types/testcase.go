package types

import "time"

// TestCase is a manual or automated test case stored within a project
type TestCase struct {
	ID               string              `json:"id"`
	ProjectID        string              `json:"projectId"`
	Name             string              `json:"name"`
	Description      string              `json:"description,omitempty"`
	Steps            []Step              `json:"steps,omitempty"`
	Automated        bool                `json:"automated"`
	Locked           bool                `json:"locked"`
	Attributes       map[string][]string `json:"attributes,omitempty"` // Attribute id -> values
	Attachments      []Attachment        `json:"attachments,omitempty"`
	Issues           []Issue             `json:"issues,omitempty"`
	CreatedBy        string              `json:"createdBy,omitempty"`
	LastModifiedBy   string              `json:"lastModifiedBy,omitempty"`
	CreatedTime      time.Time           `json:"createdTime"`
	LastModifiedTime time.Time           `json:"lastModifiedTime"`
}

// Step is a single action of a test case with its expected outcome
type Step struct {
	Action      string `json:"action"`
	Expectation string `json:"expectation,omitempty"`
}

// Attachment describes a file stored alongside a test case
type Attachment struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	CreatedBy   string    `json:"createdBy,omitempty"`
	CreatedTime time.Time `json:"createdTime"`
	DataSize    int64     `json:"dataSize"`
}

// Issue is a record of the external issue tracker
type Issue struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
	Status      string `json:"status,omitempty"`
	Priority    string `json:"priority,omitempty"`
	Type        string `json:"type,omitempty"`
	Assignee    string `json:"assignee,omitempty"`
}

// TestCaseTree is a node of the grouped test case hierarchy
type TestCaseTree struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Count     int             `json:"count"`
	TestCases []TestCase      `json:"testCases"`
	Children  []*TestCaseTree `json:"children"`
}

// AttachmentByID returns the attachment with the given id
func (tc *TestCase) AttachmentByID(id string) (Attachment, bool) {
	for _, a := range tc.Attachments {
		if a.ID == id {
			return a, true
		}
	}
	return Attachment{}, false
}

// HasIssue reports whether the issue is already linked
func (tc *TestCase) HasIssue(id string) bool {
	for _, i := range tc.Issues {
		if i.ID == id {
			return true
		}
	}
	return false
}

// projections clears a test case property by its JSON name.
// id and projectId are never projected away.
var projections = map[string]func(tc *TestCase){
	"name":             func(tc *TestCase) { tc.Name = "" },
	"description":      func(tc *TestCase) { tc.Description = "" },
	"steps":            func(tc *TestCase) { tc.Steps = nil },
	"automated":        func(tc *TestCase) { tc.Automated = false },
	"locked":           func(tc *TestCase) { tc.Locked = false },
	"attributes":       func(tc *TestCase) { tc.Attributes = nil },
	"attachments":      func(tc *TestCase) { tc.Attachments = nil },
	"issues":           func(tc *TestCase) { tc.Issues = nil },
	"createdBy":        func(tc *TestCase) { tc.CreatedBy = "" },
	"lastModifiedBy":   func(tc *TestCase) { tc.LastModifiedBy = "" },
	"createdTime":      func(tc *TestCase) { tc.CreatedTime = time.Time{} },
	"lastModifiedTime": func(tc *TestCase) { tc.LastModifiedTime = time.Time{} },
}

// Project keeps only the included properties (all when included is empty)
// and then clears the excluded ones. Unknown names are ignored.
func (tc *TestCase) Project(included, excluded []string) {
	if len(included) > 0 {
		keep := make(map[string]bool, len(included))
		for _, name := range included {
			keep[name] = true
		}
		for name, clear := range projections {
			if !keep[name] {
				clear(tc)
			}
		}
	}
	for _, name := range excluded {
		if clear, ok := projections[name]; ok {
			clear(tc)
		}
	}
}
