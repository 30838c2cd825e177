package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Comment tables share one shape: id, <parent>_id, author_id, body, timestamps.

func (s *PostgresStore) listComments(ctx context.Context, table, parentColumn, parentID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT c.id, c.%[2]s, c.author_id, %[3]s, c.body, c.created_at, c.updated_at
		FROM %[1]s c
		JOIN users u ON u.id = c.author_id
		WHERE c.%[2]s=$1
		ORDER BY c.created_at ASC
	`, table, parentColumn, fmt.Sprintf(displayNameSQL, "u")), parentID)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()

	comments := make([]Comment, 0)
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.ParentID, &c.AuthorID, &c.AuthorName, &c.Body, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

func (s *PostgresStore) getComment(ctx context.Context, table, parentColumn, commentID string) (Comment, error) {
	var c Comment
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT c.id, c.%[2]s, c.author_id, %[3]s, c.body, c.created_at, c.updated_at
		FROM %[1]s c
		JOIN users u ON u.id = c.author_id
		WHERE c.id=$1
	`, table, parentColumn, fmt.Sprintf(displayNameSQL, "u")), commentID).Scan(
		&c.ID, &c.ParentID, &c.AuthorID, &c.AuthorName, &c.Body, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return Comment{}, err
	}
	return c, nil
}

func (s *PostgresStore) insertComment(ctx context.Context, table, parentColumn string, comment Comment) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s(id, %s, author_id, body) VALUES($1, $2, $3, $4)
	`, table, parentColumn), comment.ID, comment.ParentID, comment.AuthorID, comment.Body)
	if err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

func (s *PostgresStore) updateComment(ctx context.Context, table, commentID, body string) error {
	result, err := s.db.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET body=$2, updated_at=NOW() WHERE id=$1`, table), commentID, body)
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) deleteComment(ctx context.Context, table, commentID string) error {
	result, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id=$1`, table), commentID)
	if err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
