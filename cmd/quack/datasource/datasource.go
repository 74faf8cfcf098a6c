package datasource

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/greatbit/quack/cmd/quack/types"
	"github.com/jmoiron/sqlx"
	sqltypes "github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

//go:embed queries/*.sql
var embeddedQueries embed.FS

// PostgresRepository stores test cases as JSONB documents in PostgreSQL
type PostgresRepository struct {
	db      *sqlx.DB
	queries map[string]string // query name -> statement
	log     zerolog.Logger
}

// NewPostgresRepository creates a repository and loads the bundled queries
func NewPostgresRepository(db *sqlx.DB, log zerolog.Logger) (*PostgresRepository, error) {
	repo := &PostgresRepository{
		db:      db,
		queries: make(map[string]string),
		log:     log.With().Str("component", "datasource").Logger(),
	}

	if err := repo.LoadQueryDirectory(embeddedQueries, "queries"); err != nil {
		return nil, err
	}

	return repo, nil
}

// LoadQueryFile loads a single query file, named after its base name (e.g. "get.sql" -> "get")
func (repo *PostgresRepository) LoadQueryFile(fsys fs.FS, filePath string) error {
	name := strings.TrimSuffix(path.Base(filePath), path.Ext(filePath))

	file, err := fsys.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open query file %s: %w", filePath, err)
	}
	defer file.Close()

	query, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("failed to read query file %s: %w", filePath, err)
	}

	repo.queries[name] = string(query)
	repo.log.Debug().
		Str("query", name).
		Str("file", filePath).
		Msg("Loaded query file")

	return nil
}

// LoadQueryDirectory loads all SQL files from a directory
func (repo *PostgresRepository) LoadQueryDirectory(fsys fs.FS, dirPath string) error {
	files, err := fs.ReadDir(fsys, dirPath)
	if err != nil {
		return fmt.Errorf("failed to read query directory %s: %w", dirPath, err)
	}

	var loadErrors []error
	loaded := 0

	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".sql") {
			continue
		}

		if err := repo.LoadQueryFile(fsys, path.Join(dirPath, file.Name())); err != nil {
			loadErrors = append(loadErrors, err)
			repo.log.Error().Err(err).
				Str("file", file.Name()).
				Msg("Failed to load query file")
			continue
		}
		loaded++
	}

	repo.log.Debug().
		Int("total_files", len(files)).
		Int("loaded", loaded).
		Int("errors", len(loadErrors)).
		Str("directory", dirPath).
		Msg("Completed loading query files")

	if len(loadErrors) > 0 {
		return fmt.Errorf("encountered %d errors while loading query files", len(loadErrors))
	}

	return nil
}

// GetQuery retrieves a loaded query by name
func (repo *PostgresRepository) GetQuery(name string) (string, error) {
	query, exists := repo.queries[name]
	if !exists {
		return "", fmt.Errorf("no query found with name: %s", name)
	}
	return query, nil
}

// Migrate creates the schema when it does not exist yet
func (repo *PostgresRepository) Migrate(ctx context.Context) error {
	schema, err := repo.GetQuery("schema")
	if err != nil {
		return err
	}
	if _, err := repo.db.ExecContext(ctx, schema); err != nil {
		return errors.WithStack(fmt.Errorf("error creating schema: %w", err))
	}
	return nil
}

// Find returns the test cases of a project matching the filter
func (repo *PostgresRepository) Find(ctx context.Context, projectID string, filter types.Filter) ([]types.TestCase, error) {
	query, args := buildSelect(projectID, filter, false)

	rows, err := repo.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, errors.WithStack(fmt.Errorf("error executing query: %w", err))
	}
	defer rows.Close()

	testCases := make([]types.TestCase, 0)
	for rows.Next() {
		var doc sqltypes.JSONText
		if err := rows.Scan(&doc); err != nil {
			return nil, errors.WithStack(fmt.Errorf("error scanning row: %w", err))
		}

		var tc types.TestCase
		if err := doc.Unmarshal(&tc); err != nil {
			return nil, fmt.Errorf("error decoding test case: %w", err)
		}
		testCases = append(testCases, tc)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.WithStack(fmt.Errorf("error iterating over rows: %w", err))
	}

	repo.log.Debug().
		Str("project", projectID).
		Int("fields", len(filter.Fields)).
		Int("found", len(testCases)).
		Msg("Found test cases")

	return testCases, nil
}

// Count returns the number of test cases of a project matching the filter
func (repo *PostgresRepository) Count(ctx context.Context, projectID string, filter types.Filter) (int, error) {
	query, args := buildSelect(projectID, filter, true)

	var count int
	if err := repo.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, errors.WithStack(fmt.Errorf("error counting test cases: %w", err))
	}
	return count, nil
}

// Get returns a test case, or nil when it does not exist
func (repo *PostgresRepository) Get(ctx context.Context, projectID, id string) (*types.TestCase, error) {
	query, err := repo.GetQuery("get")
	if err != nil {
		return nil, err
	}

	var doc sqltypes.JSONText
	err = repo.db.GetContext(ctx, &doc, query, projectID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WithStack(fmt.Errorf("error reading test case %s: %w", id, err))
	}

	var tc types.TestCase
	if err := doc.Unmarshal(&tc); err != nil {
		return nil, fmt.Errorf("error decoding test case %s: %w", id, err)
	}
	return &tc, nil
}

// Save inserts or replaces a test case
func (repo *PostgresRepository) Save(ctx context.Context, tc *types.TestCase) error {
	query, err := repo.GetQuery("save")
	if err != nil {
		return err
	}

	doc, err := json.Marshal(tc)
	if err != nil {
		return fmt.Errorf("error encoding test case %s: %w", tc.ID, err)
	}

	_, err = repo.db.ExecContext(ctx, query,
		tc.ProjectID, tc.ID, sqltypes.JSONText(doc), tc.CreatedTime, tc.LastModifiedTime)
	if err != nil {
		return errors.WithStack(fmt.Errorf("error saving test case %s: %w", tc.ID, err))
	}
	return nil
}

// Delete removes a test case; deleting a missing one is not an error
func (repo *PostgresRepository) Delete(ctx context.Context, projectID, id string) error {
	query, err := repo.GetQuery("delete")
	if err != nil {
		return err
	}
	if _, err := repo.db.ExecContext(ctx, query, projectID, id); err != nil {
		return errors.WithStack(fmt.Errorf("error deleting test case %s: %w", id, err))
	}
	return nil
}

// buildSelect renders the listing or count statement for a filter. Field
// names are dotted document paths; a field matches when the value at the
// path (or any element, for arrays) equals one of the accepted values.
func buildSelect(projectID string, filter types.Filter, count bool) (string, []interface{}) {
	args := []interface{}{projectID}
	param := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var sb strings.Builder
	if count {
		sb.WriteString("SELECT COUNT(*) FROM testcases WHERE project_id = $1")
	} else {
		sb.WriteString("SELECT doc FROM testcases WHERE project_id = $1")
	}

	names := make([]string, 0, len(filter.Fields))
	for name := range filter.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p := param(pq.Array(strings.Split(name, ".")))
		v := param(pq.Array(filter.Fields[name]))
		fmt.Fprintf(&sb,
			" AND (CASE jsonb_typeof(doc #> %[1]s) WHEN 'array' THEN jsonb_exists_any(doc #> %[1]s, %[2]s) ELSE (doc #>> %[1]s) = ANY(%[2]s) END)",
			p, v)
	}

	if count {
		return sb.String(), args
	}

	if filter.OrderBy != "" {
		dir := types.Asc
		if filter.OrderDir == types.Desc {
			dir = types.Desc
		}
		p := param(pq.Array(strings.Split(filter.OrderBy, ".")))
		fmt.Fprintf(&sb, " ORDER BY doc #>> %s %s, created_time, id", p, dir)
	} else {
		sb.WriteString(" ORDER BY created_time, id")
	}

	if filter.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %s", param(filter.Limit))
	}
	if filter.Skip > 0 {
		fmt.Fprintf(&sb, " OFFSET %s", param(filter.Skip))
	}

	return sb.String(), args
}
