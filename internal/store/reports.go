package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"council/api/internal/policy"
)

func (s *PostgresStore) InsertActivity(ctx context.Context, activity Activity) error {
	metadata := activity.Metadata
	if len(metadata) == 0 {
		metadata = []byte(`{}`)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_activities(id, user_id, activity_type, description, metadata)
		VALUES($1, $2, $3, $4, $5)
	`, activity.ID, activity.UserID, activity.Type, activity.Description, []byte(metadata))
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func dailyActivityQuery(scope policy.Filter, since time.Time) (string, []any) {
	args := policy.NewArgs()
	where := scope.SQL(activityColumns, args)
	query := fmt.Sprintf(`
		SELECT %s,
			COUNT(*) FILTER (WHERE a.activity_type = 'login'),
			COUNT(*) FILTER (WHERE a.activity_type LIKE 'task\_%%'),
			COUNT(*) FILTER (WHERE a.activity_type LIKE 'note\_%%'),
			COUNT(*)
		FROM user_activities a
		JOIN users au ON au.id = a.user_id
		WHERE %s AND a.created_at >= %s
		GROUP BY 1
		ORDER BY 1
	`, utcDay("a.created_at"), where, args.Add(since))
	return query, args.Values()
}

// DailyActivity buckets activities under scope by UTC calendar day since the given time.
func (s *PostgresStore) DailyActivity(ctx context.Context, scope policy.Filter, since time.Time) ([]DailyActivity, error) {
	query, args := dailyActivityQuery(scope, since)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("daily activity: %w", err)
	}
	defer rows.Close()

	days := make([]DailyActivity, 0)
	for rows.Next() {
		var d DailyActivity
		if err := rows.Scan(&d.Day, &d.Logins, &d.TaskActivities, &d.NoteActivities, &d.Total); err != nil {
			return nil, fmt.Errorf("scan daily activity: %w", err)
		}
		days = append(days, d)
	}
	return days, rows.Err()
}

var userMetricsQuery = fmt.Sprintf(`
		SELECT
			(SELECT COUNT(*) FROM tasks WHERE assigned_to=$1 AND status='completed' AND completed_at >= $2 AND completed_at <= $3),
			(SELECT COUNT(*) FROM tasks WHERE assigned_to=$1 AND status='pending'),
			(SELECT COUNT(*) FROM tasks WHERE assigned_to=$1 AND status IN ('pending', 'in_progress') AND due_date < $3),
			(SELECT COUNT(*) FROM notes WHERE author_id=$1 AND created_at >= $2 AND created_at <= $3),
			(SELECT COUNT(*) FROM attendances WHERE user_id=$1 AND status='present' AND meeting_date >= %[1]s AND meeting_date <= %[2]s),
			(SELECT COUNT(*) FROM attendances WHERE user_id=$1 AND meeting_date >= %[1]s AND meeting_date <= %[2]s),
			(SELECT COUNT(*) FROM user_activities WHERE user_id=$1 AND created_at >= $2 AND created_at <= $3)
	`, utcDay("$2::timestamptz"), utcDay("$3::timestamptz"))

// UserMetrics gathers the raw counts used by performance scoring.
func (s *PostgresStore) UserMetrics(ctx context.Context, userID string, since, now time.Time) (UserMetrics, error) {
	var m UserMetrics
	err := s.db.QueryRowContext(ctx, userMetricsQuery, userID, since, now).Scan(
		&m.TasksCompleted, &m.TasksPending, &m.TasksOverdue, &m.NotesCreated,
		&m.AttendancePresent, &m.AttendanceTotal, &m.ActivityCount,
	)
	if err != nil {
		return UserMetrics{}, fmt.Errorf("user metrics: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) InsertPerformanceMetrics(ctx context.Context, metrics []PerformanceMetric) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin performance metrics: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, m := range metrics {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO performance_metrics(id, user_id, metric_type, value, period_start, period_end)
			VALUES($1, $2, $3, $4, $5, $6)
		`, m.ID, m.UserID, m.MetricType, m.Value, m.PeriodStart, m.PeriodEnd); err != nil {
			return fmt.Errorf("insert performance metric: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit performance metrics: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertAttendance(ctx context.Context, a Attendance) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attendances(id, user_id, meeting_title, meeting_date, status, notes, recorded_by)
		VALUES($1, $2, $3, $4, $5, $6, $7)
	`, a.ID, a.UserID, a.MeetingTitle, a.MeetingDate, a.Status, a.Notes, nullIfEmpty(a.RecordedBy))
	if err != nil {
		return fmt.Errorf("insert attendance: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAttendance(ctx context.Context, scope policy.Filter, since time.Time) ([]Attendance, error) {
	args := policy.NewArgs()
	where := scope.SQL(activityColumns, args)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT a.id, a.user_id, %s, a.meeting_title, a.meeting_date, a.status, a.notes,
			COALESCE(a.recorded_by, ''), a.created_at
		FROM attendances a
		JOIN users au ON au.id = a.user_id
		WHERE %s AND a.meeting_date >= %s
		ORDER BY a.meeting_date DESC
	`, fmt.Sprintf(displayNameSQL, "au"), where, args.Add(since)), args.Values()...)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	defer rows.Close()

	items := make([]Attendance, 0)
	for rows.Next() {
		var a Attendance
		if err := rows.Scan(&a.ID, &a.UserID, &a.UserName, &a.MeetingTitle, &a.MeetingDate, &a.Status, &a.Notes, &a.RecordedBy, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

var reportSelect = fmt.Sprintf(`
	SELECT r.id, r.title, r.report_type, r.generated_by, %s, r.period_start, r.period_end,
		r.data, r.filters, r.generated_at
	FROM reports r
	JOIN users gu ON gu.id = r.generated_by`, fmt.Sprintf(displayNameSQL, "gu"))

func scanReport(row rowScanner) (Report, error) {
	var r Report
	var data, filters []byte
	err := row.Scan(&r.ID, &r.Title, &r.Type, &r.GeneratedBy, &r.GeneratedByName, &r.PeriodStart, &r.PeriodEnd,
		&data, &filters, &r.GeneratedAt)
	if err != nil {
		return Report{}, err
	}
	r.Data = data
	r.Filters = filters
	return r, nil
}

func (s *PostgresStore) ListReports(ctx context.Context, scope policy.Filter, reportType string) ([]Report, error) {
	args := policy.NewArgs()
	where := scope.SQL(reportColumns, args)
	if reportType != "" {
		where += " AND r.report_type = " + args.Add(reportType)
	}
	rows, err := s.db.QueryContext(ctx, reportSelect+" WHERE "+where+" ORDER BY r.generated_at DESC", args.Values()...)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	reports := make([]Report, 0)
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
}

func (s *PostgresStore) GetReport(ctx context.Context, reportID string) (Report, error) {
	return scanReport(s.db.QueryRowContext(ctx, reportSelect+` WHERE r.id=$1`, reportID))
}

func (s *PostgresStore) InsertReport(ctx context.Context, r Report) error {
	filters := r.Filters
	if len(filters) == 0 {
		filters = []byte(`{}`)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reports(id, title, report_type, generated_by, period_start, period_end, data, filters)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.ID, r.Title, r.Type, r.GeneratedBy, r.PeriodStart, r.PeriodEnd, []byte(r.Data), []byte(filters))
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteReport(ctx context.Context, reportID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM reports WHERE id=$1`, reportID)
	if err != nil {
		return fmt.Errorf("delete report: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

const widgetSelect = `
	SELECT id, user_id, widget_type, title, position, configuration, is_active, created_at, updated_at
	FROM dashboard_widgets`

func scanWidget(row rowScanner) (Widget, error) {
	var w Widget
	var config []byte
	if err := row.Scan(&w.ID, &w.UserID, &w.Type, &w.Title, &w.Position, &config, &w.IsActive, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return Widget{}, err
	}
	w.Configuration = config
	return w, nil
}

func (s *PostgresStore) ListWidgets(ctx context.Context, userID string) ([]Widget, error) {
	rows, err := s.db.QueryContext(ctx, widgetSelect+` WHERE user_id=$1 ORDER BY position, created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list widgets: %w", err)
	}
	defer rows.Close()

	widgets := make([]Widget, 0)
	for rows.Next() {
		widget, err := scanWidget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan widget: %w", err)
		}
		widgets = append(widgets, widget)
	}
	return widgets, rows.Err()
}

func (s *PostgresStore) GetWidget(ctx context.Context, widgetID string) (Widget, error) {
	return scanWidget(s.db.QueryRowContext(ctx, widgetSelect+` WHERE id=$1`, widgetID))
}

func (s *PostgresStore) InsertWidget(ctx context.Context, w Widget) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dashboard_widgets(id, user_id, widget_type, title, position, configuration, is_active)
		VALUES($1, $2, $3, $4, $5, $6, $7)
	`, w.ID, w.UserID, w.Type, w.Title, w.Position, []byte(jsonOrEmpty(w.Configuration)), w.IsActive)
	if err != nil {
		return fmt.Errorf("insert widget: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateWidget(ctx context.Context, w Widget) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE dashboard_widgets
		SET widget_type=$2, title=$3, position=$4, configuration=$5, is_active=$6, updated_at=NOW()
		WHERE id=$1
	`, w.ID, w.Type, w.Title, w.Position, []byte(jsonOrEmpty(w.Configuration)), w.IsActive)
	if err != nil {
		return fmt.Errorf("update widget: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteWidget(ctx context.Context, widgetID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM dashboard_widgets WHERE id=$1`, widgetID)
	if err != nil {
		return fmt.Errorf("delete widget: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func jsonOrEmpty(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte(`{}`)
	}
	return raw
}

// CountTasks and CountNotes back the dashboard counters.
func (s *PostgresStore) CountTasks(ctx context.Context, filter TaskFilter) (int, error) {
	args := policy.NewArgs()
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks t WHERE `+taskWhere(filter, args), args.Values()...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return total, nil
}

func (s *PostgresStore) CountNotes(ctx context.Context, filter NoteFilter) (int, error) {
	args := policy.NewArgs()
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notes n WHERE `+noteWhere(filter, args), args.Values()...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count notes: %w", err)
	}
	return total, nil
}

func (s *PostgresStore) CountUsers(ctx context.Context, filter UserFilter) (int, error) {
	args := policy.NewArgs()
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users u WHERE `+userWhere(filter, args), args.Values()...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return total, nil
}

// ActiveUserIDs returns the set of users with at least one activity since the given time.
func (s *PostgresStore) ActiveUserIDs(ctx context.Context, since time.Time) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM user_activities WHERE created_at >= $1`, since)
	if err != nil {
		return nil, fmt.Errorf("active users: %w", err)
	}
	defer rows.Close()

	active := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan active user: %w", err)
		}
		active[id] = true
	}
	return active, rows.Err()
}
