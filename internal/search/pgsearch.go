package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"council/api/internal/policy"
)

var (
	pgTaskColumns = policy.Columns{
		policy.FieldDomain:     "t.domain",
		policy.FieldAssignedTo: "t.assigned_to",
		policy.FieldAssignedBy: "t.assigned_by",
	}
	pgNoteColumns = policy.Columns{
		policy.FieldDomain: "n.domain",
		policy.FieldPublic: "n.is_public",
		policy.FieldAuthor: "n.author_id",
	}
)

// PgSearch implements Searcher with ILIKE matching directly in Postgres.
// Scopes are applied in SQL here, so hits never need re-checking.
type PgSearch struct {
	db *sql.DB
}

func NewPgSearch(db *sql.DB) *PgSearch {
	return &PgSearch{db: db}
}

// Healthy always returns true; without Postgres nothing else works either.
func (p *PgSearch) Healthy() bool {
	return true
}

func (p *PgSearch) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := max(q.Offset, 0)

	args := policy.NewArgs()
	pattern := args.Add(policy.LikeContains(strings.TrimSpace(q.Text)))

	var subQueries []string
	if q.FilterType == "" || q.FilterType == ResultTask {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'task'::text AS type, t.id, t.title, LEFT(t.description, 200) AS snippet,
				COALESCE(t.domain, '') AS domain, t.status, t.priority,
				COALESCE(t.assigned_to, '') AS assigned_to, t.assigned_by, ''::text AS author, FALSE AS is_public,
				t.updated_at
			FROM tasks t
			WHERE (t.title ILIKE %[1]s ESCAPE '\' OR t.description ILIKE %[1]s ESCAPE '\') AND %[2]s`,
			pattern, q.TaskScope.SQL(pgTaskColumns, args)))
	}
	if q.FilterType == "" || q.FilterType == ResultNote {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'note'::text AS type, n.id, n.title, LEFT(n.description, 200) AS snippet,
				COALESCE(n.domain, '') AS domain, ''::text AS status, n.priority,
				''::text AS assigned_to, ''::text AS assigned_by, n.author_id AS author, n.is_public,
				n.updated_at
			FROM notes n
			WHERE (n.title ILIKE %[1]s ESCAPE '\' OR n.description ILIKE %[1]s ESCAPE '\' OR n.purpose ILIKE %[1]s ESCAPE '\') AND %[2]s`,
			pattern, q.NoteScope.SQL(pgNoteColumns, args)))
	}
	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")
	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM (%s) sub", union), args.Values()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pg search count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT type, id, title, snippet, domain, status, priority, assigned_to, assigned_by, author, is_public
		FROM (%s) sub
		ORDER BY updated_at DESC
		LIMIT %d OFFSET %d`, union, limit, offset), args.Values()...)
	if err != nil {
		return nil, 0, fmt.Errorf("pg search query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.Domain, &r.Status, &r.Priority,
			&r.AssignedTo, &r.AssignedBy, &r.Author, &r.IsPublic); err != nil {
			return nil, 0, fmt.Errorf("pg search scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every task and note for a full reindex.
func (p *PgSearch) LoadAllRecords(ctx context.Context) ([]TaskRecord, []NoteRecord, error) {
	taskRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, description, status, priority, COALESCE(domain, ''), COALESCE(assigned_to, ''), assigned_by
		FROM tasks
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load tasks: %w", err)
	}
	defer taskRows.Close()

	tasks := make([]TaskRecord, 0)
	for taskRows.Next() {
		var t TaskRecord
		if err := taskRows.Scan(&t.ID, &t.Title, &t.Description, &t.Status, &t.Priority, &t.Domain, &t.AssignedTo, &t.AssignedBy); err != nil {
			return nil, nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := taskRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate tasks: %w", err)
	}

	noteRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, description, purpose, priority, COALESCE(domain, ''), author_id, is_public, tags
		FROM notes
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load notes: %w", err)
	}
	defer noteRows.Close()

	notes := make([]NoteRecord, 0)
	for noteRows.Next() {
		var n NoteRecord
		if err := noteRows.Scan(&n.ID, &n.Title, &n.Description, &n.Purpose, &n.Priority, &n.Domain, &n.Author, &n.IsPublic, &n.Tags); err != nil {
			return nil, nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, n)
	}
	if err := noteRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate notes: %w", err)
	}
	return tasks, notes, nil
}
