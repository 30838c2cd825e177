package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"council/api/internal/policy"
)

const displayNameSQL = "COALESCE(NULLIF(TRIM(%[1]s.first_name || ' ' || %[1]s.last_name), ''), %[1]s.username, '')"

var taskSelect = fmt.Sprintf(`
	SELECT t.id, t.title, t.description, t.status, t.priority, COALESCE(t.domain, ''),
		COALESCE(t.assigned_to, ''), %s, t.assigned_by, %s,
		t.due_date, t.completed_at, t.attachments, t.created_at, t.updated_at
	FROM tasks t
	LEFT JOIN users ua ON ua.id = t.assigned_to
	JOIN users ub ON ub.id = t.assigned_by`,
	fmt.Sprintf(displayNameSQL, "ua"), fmt.Sprintf(displayNameSQL, "ub"))

var taskOrdering = map[string]string{
	"created_at": "t.created_at",
	"due_date":   "t.due_date",
	"priority":   "CASE t.priority WHEN 'urgent' THEN 4 WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END",
	"status":     "t.status",
	"title":      "t.title",
}

func scanTask(row rowScanner) (Task, error) {
	var (
		task        Task
		due         sql.NullTime
		completed   sql.NullTime
		attachments []byte
	)
	err := row.Scan(
		&task.ID, &task.Title, &task.Description, &task.Status, &task.Priority, &task.Domain,
		&task.AssignedTo, &task.AssignedToName, &task.AssignedBy, &task.AssignedByName,
		&due, &completed, &attachments, &task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return Task{}, err
	}
	task.DueDate = timePtr(due)
	task.CompletedAt = timePtr(completed)
	task.Attachments, err = decodeAttachments(attachments)
	if err != nil {
		return Task{}, err
	}
	return task, nil
}

func taskWhere(filter TaskFilter, args *policy.Args) string {
	where := []string{filter.Scope.SQL(taskColumns, args)}
	if filter.Status != "" {
		where = append(where, "t.status = "+args.Add(filter.Status))
	}
	if filter.Priority != "" {
		where = append(where, "t.priority = "+args.Add(filter.Priority))
	}
	if filter.Domain != "" {
		where = append(where, "t.domain = "+args.Add(filter.Domain))
	}
	if filter.AssignedTo != "" {
		where = append(where, "t.assigned_to = "+args.Add(filter.AssignedTo))
	}
	if filter.AssignedBy != "" {
		where = append(where, "t.assigned_by = "+args.Add(filter.AssignedBy))
	}
	if filter.DueFrom != nil {
		where = append(where, "t.due_date >= "+args.Add(*filter.DueFrom))
	}
	if filter.DueTo != nil {
		where = append(where, "t.due_date <= "+args.Add(*filter.DueTo))
	}
	if filter.CreatedSince != nil {
		where = append(where, "t.created_at >= "+args.Add(*filter.CreatedSince))
	}
	if filter.Search != "" {
		placeholder := args.Add(policy.LikeContains(filter.Search))
		where = append(where, fmt.Sprintf(`(t.title ILIKE %[1]s ESCAPE '\' OR t.description ILIKE %[1]s ESCAPE '\')`, placeholder))
	}
	return strings.Join(where, " AND ")
}

// ListTasks returns one page of tasks and the total matching count.
func (s *PostgresStore) ListTasks(ctx context.Context, filter TaskFilter) ([]Task, int, error) {
	args := policy.NewArgs()
	where := taskWhere(filter, args)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks t WHERE `+where, args.Values()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}

	query := taskSelect + " WHERE " + where +
		" ORDER BY " + orderClause(filter.Ordering, taskOrdering, "t.created_at DESC") +
		pageClause(args, filter.Limit, filter.Offset)
	rows, err := s.db.QueryContext(ctx, query, args.Values()...)
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, total, rows.Err()
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	return scanTask(s.db.QueryRowContext(ctx, taskSelect+` WHERE t.id=$1`, taskID))
}

func (s *PostgresStore) InsertTask(ctx context.Context, task Task) error {
	attachments, err := encodeAttachments(task.Attachments)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks(id, title, description, status, priority, domain, assigned_to, assigned_by,
			due_date, completed_at, attachments)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, task.ID, task.Title, task.Description, task.Status, task.Priority, nullIfEmpty(task.Domain),
		nullIfEmpty(task.AssignedTo), task.AssignedBy, nullTime(task.DueDate), nullTime(task.CompletedAt), attachments)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// UpdateTask writes the editable fields and, when given, a history entry in
// the same transaction.
func (s *PostgresStore) UpdateTask(ctx context.Context, task Task, history *TaskHistory) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin task update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE tasks
		SET title=$2, description=$3, status=$4, priority=$5, domain=$6, assigned_to=$7,
			due_date=$8, completed_at=$9, updated_at=NOW()
		WHERE id=$1
	`, task.ID, task.Title, task.Description, task.Status, task.Priority, nullIfEmpty(task.Domain),
		nullIfEmpty(task.AssignedTo), nullTime(task.DueDate), nullTime(task.CompletedAt))
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	if history != nil {
		if err := insertTaskHistory(ctx, tx, *history); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit task update: %w", err)
	}
	return nil
}

func insertTaskHistory(ctx context.Context, tx *sql.Tx, history TaskHistory) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO task_history(id, task_id, action, old_value, new_value, changed_by)
		VALUES($1, $2, $3, $4, $5, $6)
	`, history.ID, history.TaskID, history.Action, history.OldValue, history.NewValue, history.ChangedBy)
	if err != nil {
		return fmt.Errorf("insert task history: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteTask(ctx context.Context, taskID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id=$1`, taskID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ListTaskHistory(ctx context.Context, taskID string) ([]TaskHistory, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT h.id, h.task_id, h.action, h.old_value, h.new_value, h.changed_by, %s, h.created_at
		FROM task_history h
		JOIN users u ON u.id = h.changed_by
		WHERE h.task_id=$1
		ORDER BY h.created_at DESC
	`, fmt.Sprintf(displayNameSQL, "u")), taskID)
	if err != nil {
		return nil, fmt.Errorf("list task history: %w", err)
	}
	defer rows.Close()

	items := make([]TaskHistory, 0)
	for rows.Next() {
		var h TaskHistory
		if err := rows.Scan(&h.ID, &h.TaskID, &h.Action, &h.OldValue, &h.NewValue, &h.ChangedBy, &h.ChangedByName, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan task history: %w", err)
		}
		items = append(items, h)
	}
	return items, rows.Err()
}

// TaskStats counts tasks visible under scope as of now.
func (s *PostgresStore) TaskStats(ctx context.Context, scope policy.Filter, now time.Time) (TaskStats, error) {
	args := policy.NewArgs()
	where := scope.SQL(taskColumns, args)
	nowArg := args.Add(now)
	weekAgo := args.Add(now.AddDate(0, 0, -7))
	weekAhead := args.Add(now.AddDate(0, 0, 7))

	var stats TaskStats
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE t.status = 'pending'),
			COUNT(*) FILTER (WHERE t.status = 'in_progress'),
			COUNT(*) FILTER (WHERE t.status = 'completed'),
			COUNT(*) FILTER (WHERE t.status IN ('pending', 'in_progress') AND t.due_date < %[1]s),
			COUNT(*) FILTER (WHERE t.created_at >= %[2]s),
			COUNT(*) FILTER (WHERE t.status IN ('pending', 'in_progress') AND t.due_date >= %[1]s AND t.due_date <= %[3]s)
		FROM tasks t
		WHERE %[4]s
	`, nowArg, weekAgo, weekAhead, where), args.Values()...).Scan(
		&stats.Total, &stats.Pending, &stats.InProgress, &stats.Completed,
		&stats.Overdue, &stats.Recent, &stats.DueThisWeek,
	)
	if err != nil {
		return TaskStats{}, fmt.Errorf("task stats: %w", err)
	}
	return stats, nil
}

func dailyTaskCountsQuery(scope policy.Filter, since time.Time) (string, []any) {
	args := policy.NewArgs()
	where := scope.SQL(taskColumns, args)
	query := fmt.Sprintf(`
		SELECT to_char(%s, 'YYYY-MM-DD'), COUNT(*)
		FROM tasks t
		WHERE %s AND t.created_at >= %s
		GROUP BY 1
	`, utcDay("t.created_at"), where, args.Add(since))
	return query, args.Values()
}

// DailyTaskCounts groups tasks created since the given day by UTC calendar day.
func (s *PostgresStore) DailyTaskCounts(ctx context.Context, scope policy.Filter, since time.Time) (map[string]int, error) {
	query, args := dailyTaskCountsQuery(scope, since)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("daily task counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			day   string
			count int
		)
		if err := rows.Scan(&day, &count); err != nil {
			return nil, fmt.Errorf("scan daily task count: %w", err)
		}
		counts[day] = count
	}
	return counts, rows.Err()
}

// DomainTaskCounts reports tasks created and completed per domain inside a window.
func (s *PostgresStore) DomainTaskCounts(ctx context.Context, since, until time.Time) (map[string]DomainTaskCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT domain,
			COUNT(*) FILTER (WHERE created_at >= $1 AND created_at <= $2),
			COUNT(*) FILTER (WHERE status = 'completed' AND completed_at >= $1 AND completed_at <= $2)
		FROM tasks
		WHERE domain IS NOT NULL
		GROUP BY domain
	`, since, until)
	if err != nil {
		return nil, fmt.Errorf("domain task counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]DomainTaskCount)
	for rows.Next() {
		var (
			domain string
			count  DomainTaskCount
		)
		if err := rows.Scan(&domain, &count.Total, &count.Completed); err != nil {
			return nil, fmt.Errorf("scan domain task count: %w", err)
		}
		counts[domain] = count
	}
	return counts, rows.Err()
}

func (s *PostgresStore) AppendTaskAttachment(ctx context.Context, taskID, url string) error {
	return s.appendAttachment(ctx, "tasks", taskID, url)
}

func (s *PostgresStore) ListTaskComments(ctx context.Context, taskID string) ([]Comment, error) {
	return s.listComments(ctx, "task_comments", "task_id", taskID)
}

func (s *PostgresStore) GetTaskComment(ctx context.Context, commentID string) (Comment, error) {
	return s.getComment(ctx, "task_comments", "task_id", commentID)
}

func (s *PostgresStore) InsertTaskComment(ctx context.Context, comment Comment) error {
	return s.insertComment(ctx, "task_comments", "task_id", comment)
}

func (s *PostgresStore) UpdateTaskComment(ctx context.Context, commentID, body string) error {
	return s.updateComment(ctx, "task_comments", commentID, body)
}

func (s *PostgresStore) DeleteTaskComment(ctx context.Context, commentID string) error {
	return s.deleteComment(ctx, "task_comments", commentID)
}

func encodeAttachments(items []string) ([]byte, error) {
	if items == nil {
		items = []string{}
	}
	payload, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode attachments: %w", err)
	}
	return payload, nil
}

func decodeAttachments(raw []byte) ([]string, error) {
	items := make([]string, 0)
	if len(raw) == 0 {
		return items, nil
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode attachments: %w", err)
	}
	return items, nil
}

// appendAttachment is shared by tables that carry a JSONB attachments list.
func (s *PostgresStore) appendAttachment(ctx context.Context, table, id, url string) error {
	result, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET attachments = attachments || jsonb_build_array($2::text), updated_at=NOW()
		WHERE id=$1
	`, table), id, url)
	if err != nil {
		return fmt.Errorf("append %s attachment: %w", table, err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
