package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) InsertComment(ctx context.Context, in NewComment) (Comment, error) {
	const query = `
		INSERT INTO comments (project_id, user_id, text, rating)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	c := Comment{
		ProjectID: in.ProjectID,
		UserID:    in.UserID,
		Text:      in.Text,
		Rating:    in.Rating,
	}
	if err := s.db.QueryRowContext(ctx, query, in.ProjectID, in.UserID, in.Text, in.Rating).Scan(&c.ID, &c.CreatedAt); err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return c, nil
}

// UpdateCommentSentiment writes the cached sentiment column and reports how
// many rows were touched so the caller can tell a vanished comment apart.
func (s *PostgresStore) UpdateCommentSentiment(ctx context.Context, commentID int64, summary json.RawMessage) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE comments SET sentiment_summary_cached = $2::jsonb WHERE id = $1`,
		commentID, string(summary),
	)
	if err != nil {
		return 0, fmt.Errorf("update comment sentiment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update comment sentiment rows: %w", err)
	}
	return n, nil
}

// ListProjectComments returns a project's comments in id order. Downstream
// clustering is order-sensitive, so the order is part of the contract.
func (s *PostgresStore) ListProjectComments(ctx context.Context, projectID int64) ([]Comment, error) {
	const query = `
		SELECT id, project_id, user_id, text, rating, sentiment_summary_cached, created_at
		FROM comments
		WHERE project_id = $1
		ORDER BY id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project comments: %w", err)
	}
	defer rows.Close()

	comments := make([]Comment, 0)
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return comments, nil
}

func (s *PostgresStore) ListCommentedProjectIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT project_id FROM comments ORDER BY project_id`)
	if err != nil {
		return nil, fmt.Errorf("list commented projects: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan project id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate project ids: %w", err)
	}
	return ids, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanComment(row rowScanner) (Comment, error) {
	var (
		c         Comment
		userID    sql.NullInt64
		rating    sql.NullInt32
		sentiment []byte
	)
	if err := row.Scan(&c.ID, &c.ProjectID, &userID, &c.Text, &rating, &sentiment, &c.CreatedAt); err != nil {
		return Comment{}, err
	}
	if userID.Valid {
		v := userID.Int64
		c.UserID = &v
	}
	if rating.Valid {
		v := int(rating.Int32)
		c.Rating = &v
	}
	if len(sentiment) > 0 {
		c.SentimentCached = json.RawMessage(sentiment)
	}
	return c, nil
}
