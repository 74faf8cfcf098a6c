package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/greatbit/quack/cmd/quack/types"
	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"
)

// MemoryRepository keeps test case documents in memory. Matching and
// ordering follow the JSONB semantics of PostgresRepository.
type MemoryRepository struct {
	docs map[string]map[string][]byte // project -> id -> JSON document
	mu   sync.RWMutex
	log  zerolog.Logger
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository(log zerolog.Logger) *MemoryRepository {
	return &MemoryRepository{
		docs: make(map[string]map[string][]byte),
		log:  log.With().Str("component", "datasource").Logger(),
	}
}

type memoryRow struct {
	tc  types.TestCase
	doc map[string]interface{}
}

func (repo *MemoryRepository) match(projectID string, filter types.Filter) ([]memoryRow, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	var rows []memoryRow
	for _, raw := range repo.docs[projectID] {
		var doc map[string]interface{}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("error decoding document: %w", err)
		}
		if !matchesFields(doc, filter.Fields) {
			continue
		}

		var tc types.TestCase
		if err := json.Unmarshal(raw, &tc); err != nil {
			return nil, fmt.Errorf("error decoding test case: %w", err)
		}
		rows = append(rows, memoryRow{tc: tc, doc: doc})
	}
	return rows, nil
}

// Find returns the test cases of a project matching the filter
func (repo *MemoryRepository) Find(ctx context.Context, projectID string, filter types.Filter) ([]types.TestCase, error) {
	rows, err := repo.match(projectID, filter)
	if err != nil {
		return nil, err
	}

	sortRows(rows, filter)

	start := filter.Skip
	if start > len(rows) {
		start = len(rows)
	}
	end := len(rows)
	if filter.Limit > 0 && start+filter.Limit < end {
		end = start + filter.Limit
	}

	testCases := make([]types.TestCase, 0, end-start)
	for _, row := range rows[start:end] {
		testCases = append(testCases, row.tc)
	}
	return testCases, nil
}

// Count returns the number of test cases of a project matching the filter
func (repo *MemoryRepository) Count(ctx context.Context, projectID string, filter types.Filter) (int, error) {
	rows, err := repo.match(projectID, filter)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// Get returns a test case, or nil when it does not exist
func (repo *MemoryRepository) Get(ctx context.Context, projectID, id string) (*types.TestCase, error) {
	repo.mu.RLock()
	raw, exists := repo.docs[projectID][id]
	repo.mu.RUnlock()

	if !exists {
		return nil, nil
	}

	var tc types.TestCase
	if err := json.Unmarshal(raw, &tc); err != nil {
		return nil, fmt.Errorf("error decoding test case %s: %w", id, err)
	}
	return &tc, nil
}

// Save inserts or replaces a test case
func (repo *MemoryRepository) Save(ctx context.Context, tc *types.TestCase) error {
	raw, err := json.Marshal(tc)
	if err != nil {
		return fmt.Errorf("error encoding test case %s: %w", tc.ID, err)
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()

	if repo.docs[tc.ProjectID] == nil {
		repo.docs[tc.ProjectID] = make(map[string][]byte)
	}
	repo.docs[tc.ProjectID][tc.ID] = raw

	repo.log.Debug().
		Str("project", tc.ProjectID).
		Str("id", tc.ID).
		Msg("Saved test case")
	return nil
}

// Delete removes a test case; deleting a missing one is not an error
func (repo *MemoryRepository) Delete(ctx context.Context, projectID, id string) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	delete(repo.docs[projectID], id)
	return nil
}

func matchesFields(doc map[string]interface{}, fields map[string][]string) bool {
	for name, accepted := range fields {
		if !matchesPath(lookupPath(doc, strings.Split(name, ".")), accepted) {
			return false
		}
	}
	return true
}

func lookupPath(doc map[string]interface{}, parts []string) interface{} {
	var node interface{} = doc
	for _, part := range parts {
		m, ok := node.(map[string]interface{})
		if !ok {
			return nil
		}
		node = m[part]
	}
	return node
}

func matchesPath(node interface{}, accepted []string) bool {
	switch v := node.(type) {
	case nil:
		return false
	case []interface{}:
		for _, elem := range v {
			if s, ok := elem.(string); ok && slices.Contains(accepted, s) {
				return true
			}
		}
		return false
	default:
		s, ok := scalarText(v)
		return ok && slices.Contains(accepted, s)
	}
}

// scalarText renders a JSON value the way the ->> operator does
func scalarText(v interface{}) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return val, true
	case bool:
		return strconv.FormatBool(val), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}

func sortRows(rows []memoryRow, filter types.Filter) {
	var parts []string
	if filter.OrderBy != "" {
		parts = strings.Split(filter.OrderBy, ".")
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if parts != nil {
			vi, oki := scalarText(lookupPath(rows[i].doc, parts))
			vj, okj := scalarText(lookupPath(rows[j].doc, parts))
			if vi != vj || oki != okj {
				// missing values sort last ascending, first descending
				less := (oki && !okj) || (oki == okj && vi < vj)
				if filter.OrderDir == types.Desc {
					return !less
				}
				return less
			}
		}
		ti, tj := rows[i].tc.CreatedTime, rows[j].tc.CreatedTime
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return rows[i].tc.ID < rows[j].tc.ID
	})
}
