package search

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// PgFTS is the fallback searcher. It matches comment text with PostgreSQL
// full-text search and folds the matches into one hit per project, so the
// endpoint returns the same insights-shaped results whichever backend
// answers. The snippet comes from the project's best matching comment.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	query, args := projectMatchSQL(q)
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var (
		results []Result
		total   int
	)
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ProjectID, &r.Snippet, &total); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, projectResult(r.ProjectID, r.Snippet))
	}
	return results, total, rows.Err()
}

func projectResult(projectID int64, snippet string) Result {
	id := strconv.FormatInt(projectID, 10)
	return Result{
		Type:      ResultInsights,
		ID:        id,
		ProjectID: projectID,
		Title:     "Project " + id + " insights",
		Snippet:   snippet,
	}
}

// projectMatchSQL ranks projects by their best matching comment. The window
// count is taken before LIMIT, so every row carries the full project total.
func projectMatchSQL(q Query) (string, []any) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := "c.search_vector @@ plainto_tsquery('english', $1)"
	args := []any{q.Text}
	if q.ProjectID != nil {
		where += " AND c.project_id = $2"
		args = append(args, *q.ProjectID)
	}

	query := fmt.Sprintf(`
		WITH best AS (
			SELECT DISTINCT ON (c.project_id)
				c.project_id, c.text,
				ts_rank(c.search_vector, plainto_tsquery('english', $1)) AS rank
			FROM comments c
			WHERE %s
			ORDER BY c.project_id, rank DESC, c.id
		)
		SELECT b.project_id,
			ts_headline('english', b.text, plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			count(*) OVER () AS total
		FROM best b
		ORDER BY b.rank DESC, b.project_id
		LIMIT %d OFFSET %d`, where, limit, offset)
	return query, args
}
