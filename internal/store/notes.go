package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"council/api/internal/policy"
)

var noteSelect = fmt.Sprintf(`
	SELECT n.id, n.title, n.description, n.purpose, n.priority, COALESCE(n.domain, ''),
		n.author_id, %s, n.is_public, n.tags, n.attachments, n.created_at, n.updated_at
	FROM notes n
	JOIN users au ON au.id = n.author_id`, fmt.Sprintf(displayNameSQL, "au"))

var noteOrdering = map[string]string{
	"created_at": "n.created_at",
	"updated_at": "n.updated_at",
	"priority":   "CASE n.priority WHEN 'urgent' THEN 4 WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END",
	"title":      "n.title",
}

func scanNote(row rowScanner) (Note, error) {
	var (
		note        Note
		attachments []byte
	)
	err := row.Scan(
		&note.ID, &note.Title, &note.Description, &note.Purpose, &note.Priority, &note.Domain,
		&note.AuthorID, &note.AuthorName, &note.IsPublic, &note.Tags, &attachments, &note.CreatedAt, &note.UpdatedAt,
	)
	if err != nil {
		return Note{}, err
	}
	note.Attachments, err = decodeAttachments(attachments)
	if err != nil {
		return Note{}, err
	}
	return note, nil
}

func noteWhere(filter NoteFilter, args *policy.Args) string {
	where := []string{filter.Scope.SQL(noteColumns, args)}
	if filter.Priority != "" {
		where = append(where, "n.priority = "+args.Add(filter.Priority))
	}
	if filter.Domain != "" {
		where = append(where, "n.domain = "+args.Add(filter.Domain))
	}
	if filter.Author != "" {
		where = append(where, "n.author_id = "+args.Add(filter.Author))
	}
	if filter.IsPublic != nil {
		where = append(where, "n.is_public = "+args.Add(*filter.IsPublic))
	}
	if filter.Search != "" {
		placeholder := args.Add(policy.LikeContains(filter.Search))
		where = append(where, fmt.Sprintf(`(n.title ILIKE %[1]s ESCAPE '\' OR n.description ILIKE %[1]s ESCAPE '\' OR n.purpose ILIKE %[1]s ESCAPE '\')`, placeholder))
	}
	if filter.Tag != "" {
		where = append(where, "n.tags ILIKE "+args.Add(policy.LikeContains(filter.Tag))+` ESCAPE '\'`)
	}
	return strings.Join(where, " AND ")
}

func (s *PostgresStore) ListNotes(ctx context.Context, filter NoteFilter) ([]Note, int, error) {
	args := policy.NewArgs()
	where := noteWhere(filter, args)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notes n WHERE `+where, args.Values()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notes: %w", err)
	}

	query := noteSelect + " WHERE " + where +
		" ORDER BY " + orderClause(filter.Ordering, noteOrdering, "n.created_at DESC") +
		pageClause(args, filter.Limit, filter.Offset)
	rows, err := s.db.QueryContext(ctx, query, args.Values()...)
	if err != nil {
		return nil, 0, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	notes := make([]Note, 0)
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, note)
	}
	return notes, total, rows.Err()
}

func (s *PostgresStore) GetNote(ctx context.Context, noteID string) (Note, error) {
	return scanNote(s.db.QueryRowContext(ctx, noteSelect+` WHERE n.id=$1`, noteID))
}

func (s *PostgresStore) InsertNote(ctx context.Context, note Note) error {
	attachments, err := encodeAttachments(note.Attachments)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notes(id, title, description, purpose, priority, domain, author_id, is_public, tags, attachments)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, note.ID, note.Title, note.Description, note.Purpose, note.Priority, nullIfEmpty(note.Domain),
		note.AuthorID, note.IsPublic, note.Tags, attachments)
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateNote(ctx context.Context, note Note) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notes
		SET title=$2, description=$3, purpose=$4, priority=$5, domain=$6, is_public=$7, tags=$8, updated_at=NOW()
		WHERE id=$1
	`, note.ID, note.Title, note.Description, note.Purpose, note.Priority, nullIfEmpty(note.Domain), note.IsPublic, note.Tags)
	if err != nil {
		return fmt.Errorf("update note: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteNote(ctx context.Context, noteID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id=$1`, noteID)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) NoteStats(ctx context.Context, scope policy.Filter) (NoteStats, error) {
	args := policy.NewArgs()
	where := scope.SQL(noteColumns, args)

	var stats NoteStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE n.priority = 'high'),
			COUNT(*) FILTER (WHERE n.priority = 'urgent'),
			COUNT(*) FILTER (WHERE n.is_public),
			COUNT(*) FILTER (WHERE NOT n.is_public)
		FROM notes n
		WHERE `+where, args.Values()...).Scan(&stats.Total, &stats.HighPriority, &stats.Urgent, &stats.Public, &stats.Private)
	if err != nil {
		return NoteStats{}, fmt.Errorf("note stats: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT n.domain, COUNT(*)
		FROM notes n
		WHERE n.domain IS NOT NULL AND `+where+`
		GROUP BY n.domain
	`, args.Values()...)
	if err != nil {
		return NoteStats{}, fmt.Errorf("note domain stats: %w", err)
	}
	defer rows.Close()

	stats.DomainStats = make(map[string]int)
	for rows.Next() {
		var (
			domain string
			count  int
		)
		if err := rows.Scan(&domain, &count); err != nil {
			return NoteStats{}, fmt.Errorf("scan note domain stats: %w", err)
		}
		stats.DomainStats[domain] = count
	}
	return stats, rows.Err()
}

func (s *PostgresStore) AppendNoteAttachment(ctx context.Context, noteID, url string) error {
	return s.appendAttachment(ctx, "notes", noteID, url)
}

func (s *PostgresStore) ListNoteComments(ctx context.Context, noteID string) ([]Comment, error) {
	return s.listComments(ctx, "note_comments", "note_id", noteID)
}

func (s *PostgresStore) GetNoteComment(ctx context.Context, commentID string) (Comment, error) {
	return s.getComment(ctx, "note_comments", "note_id", commentID)
}

func (s *PostgresStore) InsertNoteComment(ctx context.Context, comment Comment) error {
	return s.insertComment(ctx, "note_comments", "note_id", comment)
}

func (s *PostgresStore) UpdateNoteComment(ctx context.Context, commentID, body string) error {
	return s.updateComment(ctx, "note_comments", commentID, body)
}

func (s *PostgresStore) DeleteNoteComment(ctx context.Context, commentID string) error {
	return s.deleteComment(ctx, "note_comments", commentID)
}
