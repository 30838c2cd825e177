package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"council/api/internal/export"
	"council/api/internal/perf"
	"council/api/internal/policy"
	"council/api/internal/rbac"
	"council/api/internal/store"
	"council/api/internal/util"
)

var (
	reportTypes = []string{
		"user_performance", "team_performance", "domain_performance",
		"task_analytics", "attendance_report", "activity_summary",
	}
	widgetTypes        = []string{"chart", "metric", "list", "progress"}
	attendanceStatuses = []string{"present", "absent", "late", "excused"}
)

const maxReportDays = 366

type CreateReportInput struct {
	Title       string         `json:"title" validate:"required,max=200"`
	ReportType  string         `json:"report_type" validate:"required,oneof=user_performance team_performance domain_performance task_analytics attendance_report activity_summary"`
	PeriodStart *time.Time     `json:"period_start"`
	PeriodEnd   *time.Time     `json:"period_end"`
	Filters     map[string]any `json:"filters"`
}

type WidgetInput struct {
	WidgetType    *string        `json:"widget_type" validate:"omitempty,oneof=chart metric list progress"`
	Title         *string        `json:"title" validate:"omitempty,min=1,max=200"`
	Position      *int           `json:"position" validate:"omitempty,min=0"`
	Configuration map[string]any `json:"configuration"`
	IsActive      *bool          `json:"is_active"`
}

type TrackActivityInput struct {
	ActivityType string         `json:"activity_type" validate:"required,max=50"`
	Description  string         `json:"description"`
	Metadata     map[string]any `json:"metadata"`
}

type AttendanceInput struct {
	UserID       string `json:"user" validate:"required"`
	MeetingTitle string `json:"meeting_title" validate:"required,max=200"`
	MeetingDate  string `json:"meeting_date" validate:"required,datetime=2006-01-02"`
	Status       string `json:"status" validate:"omitempty,oneof=present absent late excused"`
	Notes        string `json:"notes"`
}

func checkDays(days, fallback int) (int, error) {
	if days == 0 {
		return fallback, nil
	}
	if days < 1 || days > maxReportDays {
		return 0, badRequest("INVALID_DAYS", "days must be between 1 and 366")
	}
	return days, nil
}

// reportTarget resolves whose performance the actor is asking about.
func (s *Service) reportTarget(ctx context.Context, session Session, userID string) (store.User, error) {
	if userID == "" || userID == session.UserID {
		return s.store.GetUserByID(ctx, session.UserID)
	}
	switch session.role() {
	case rbac.RoleAdmin, rbac.RoleSeniorCouncil:
		return s.store.GetUserByID(ctx, userID)
	case rbac.RoleJuniorCouncil:
		if session.Domain == "" {
			return store.User{}, forbidden("You do not have permission to view this user's report.")
		}
		user, err := s.store.GetUserByID(ctx, userID)
		if err != nil {
			return store.User{}, err
		}
		if user.Role != string(rbac.RoleBoardMember) || user.Domain != session.Domain {
			return store.User{}, sql.ErrNoRows
		}
		return user, nil
	default:
		return store.User{}, forbidden("You do not have permission to view other users' reports.")
	}
}

func (s *Service) UserPerformance(ctx context.Context, session Session, userID string, days int) (map[string]any, error) {
	days, err := checkDays(days, 30)
	if err != nil {
		return nil, err
	}
	target, err := s.reportTarget(ctx, session, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	metrics, err := s.store.UserMetrics(ctx, target.ID, now.AddDate(0, 0, -days), now)
	if err != nil {
		return nil, err
	}
	return userPerformancePayload(target, metrics), nil
}

func userPerformancePayload(user store.User, m store.UserMetrics) map[string]any {
	attendance := perf.AttendancePercent(m.AttendancePresent, m.AttendanceTotal)
	return map[string]any{
		"user_id":           user.ID,
		"username":          user.Username,
		"role":              user.Role,
		"domain":            user.Domain,
		"tasks_completed":   m.TasksCompleted,
		"tasks_pending":     m.TasksPending,
		"tasks_overdue":     m.TasksOverdue,
		"notes_created":     m.NotesCreated,
		"attendance_rate":   perf.Round2(attendance),
		"activity_count":    m.ActivityCount,
		"performance_score": perf.UserScore(m.TasksCompleted, m.NotesCreated, attendance, m.ActivityCount),
	}
}

// teamMembers lists the active users inside the actor's directory scope.
func (s *Service) teamMembers(ctx context.Context, session Session, domain string) ([]store.User, error) {
	users, err := s.store.ListUsers(ctx, store.UserFilter{
		Scope:  policy.Users(session.Actor()),
		Domain: domain,
		Limit:  200,
	})
	if err != nil {
		return nil, err
	}
	active := users[:0]
	for _, user := range users {
		if user.IsActive {
			active = append(active, user)
		}
	}
	return active, nil
}

func (s *Service) TeamPerformance(ctx context.Context, session Session, domain string, days int) ([]map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionViewAllReports) {
		return nil, forbidden("You do not have permission to view team reports.")
	}
	days, err := checkDays(days, 30)
	if err != nil {
		return nil, err
	}
	members, err := s.teamMembers(ctx, session, domain)
	if err != nil {
		return nil, err
	}
	now := s.now()
	since := now.AddDate(0, 0, -days)
	active, err := s.store.ActiveUserIDs(ctx, since)
	if err != nil {
		return nil, err
	}
	taskCounts, err := s.store.DomainTaskCounts(ctx, since, now)
	if err != nil {
		return nil, err
	}

	byDomain := make(map[string][]store.User)
	for _, member := range members {
		if member.Domain != "" {
			byDomain[member.Domain] = append(byDomain[member.Domain], member)
		}
	}

	teams := make([]map[string]any, 0, len(byDomain))
	for _, code := range rbac.Domains {
		domainUsers := byDomain[code]
		if len(domainUsers) == 0 {
			continue
		}
		activeMembers := 0
		scores := make([]float64, 0, len(domainUsers))
		for _, user := range domainUsers {
			if active[user.ID] {
				activeMembers++
			}
			m, err := s.store.UserMetrics(ctx, user.ID, since, now)
			if err != nil {
				return nil, err
			}
			scores = append(scores, perf.TeamMemberScore(m.TasksCompleted, m.NotesCreated, m.ActivityCount))
		}
		counts := taskCounts[code]
		teams = append(teams, map[string]any{
			"domain":              code,
			"total_members":       len(domainUsers),
			"active_members":      activeMembers,
			"total_tasks":         counts.Total,
			"completed_tasks":     counts.Completed,
			"completion_rate":     perf.CompletionRate(counts.Completed, counts.Total),
			"average_performance": perf.Average(scores),
		})
	}
	return teams, nil
}

// dayRange lists the calendar days from start through end inclusive.
func dayRange(start, end time.Time) []time.Time {
	start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	end = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	days := make([]time.Time, 0)
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		days = append(days, day)
	}
	return days
}

func (s *Service) ActivitySummary(ctx context.Context, session Session, days int) ([]map[string]any, error) {
	days, err := checkDays(days, 7)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	start := now.AddDate(0, 0, -days)
	rows, err := s.store.DailyActivity(ctx, policy.Activities(session.Actor()), dayStart(start))
	if err != nil {
		return nil, err
	}
	byDay := make(map[string]store.DailyActivity, len(rows))
	for _, row := range rows {
		byDay[row.Day.Format(time.DateOnly)] = row
	}
	summary := make([]map[string]any, 0, days+1)
	for _, day := range dayRange(start, now) {
		key := day.Format(time.DateOnly)
		row := byDay[key]
		summary = append(summary, map[string]any{
			"date":             key,
			"login_count":      row.Logins,
			"task_activities":  row.TaskActivities,
			"note_activities":  row.NoteActivities,
			"total_activities": row.Total,
		})
	}
	return summary, nil
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (s *Service) TrackActivity(ctx context.Context, session Session, input TrackActivityInput) (map[string]any, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, err
	}
	var metadata json.RawMessage
	if len(input.Metadata) > 0 {
		encoded, err := json.Marshal(input.Metadata)
		if err != nil {
			return nil, badRequest("INVALID_METADATA", "metadata must be a JSON object")
		}
		metadata = encoded
	}
	err := s.store.InsertActivity(ctx, store.Activity{
		ID:          util.NewID("act"),
		UserID:      session.UserID,
		Type:        strings.TrimSpace(input.ActivityType),
		Description: input.Description,
		Metadata:    metadata,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"message": "Activity tracked successfully"}, nil
}

// dashboardMembers is the population behind the dashboard averages.
func (s *Service) dashboardMembers(ctx context.Context, session Session) ([]store.User, error) {
	if session.role() == rbac.RoleBoardMember {
		user, err := s.store.GetUserByID(ctx, session.UserID)
		if err != nil {
			return nil, err
		}
		return []store.User{user}, nil
	}
	members, err := s.teamMembers(ctx, session, "")
	if err != nil {
		return nil, err
	}
	team := members[:0]
	for _, member := range members {
		if member.Role != string(rbac.RoleAdmin) {
			team = append(team, member)
		}
	}
	return team, nil
}

// DashboardMetrics computes role-scoped counters plus the average performance
// score and attendance of the actor's team over the time filter window.
func (s *Service) DashboardMetrics(ctx context.Context, session Session, timeFilter string) (map[string]any, error) {
	days, err := parseTimeFilter(timeFilter)
	if err != nil {
		return nil, err
	}
	now := s.now()
	since := now.AddDate(0, 0, -days)
	actor := session.Actor()

	stats, err := s.store.TaskStats(ctx, policy.DashboardTasks(actor), now)
	if err != nil {
		return nil, err
	}
	totalNotes, err := s.store.CountNotes(ctx, store.NoteFilter{Scope: policy.DashboardNotes(actor)})
	if err != nil {
		return nil, err
	}
	members, err := s.dashboardMembers(ctx, session)
	if err != nil {
		return nil, err
	}
	totalUsers := len(members)
	if session.role() != rbac.RoleBoardMember {
		totalUsers, err = s.store.CountUsers(ctx, store.UserFilter{Scope: policy.Users(actor)})
		if err != nil {
			return nil, err
		}
	}

	scores := make([]float64, 0, len(members))
	present, meetings := 0, 0
	for _, member := range members {
		m, err := s.store.UserMetrics(ctx, member.ID, since, now)
		if err != nil {
			return nil, err
		}
		rate := perf.AttendancePercent(m.AttendancePresent, m.AttendanceTotal)
		scores = append(scores, perf.UserScore(m.TasksCompleted, m.NotesCreated, rate, m.ActivityCount))
		present += m.AttendancePresent
		meetings += m.AttendanceTotal
	}

	return map[string]any{
		"total_users":       totalUsers,
		"active_tasks":      stats.Pending + stats.InProgress,
		"completed_tasks":   stats.Completed,
		"pending_tasks":     stats.Pending,
		"overdue_tasks":     stats.Overdue,
		"total_notes":       totalNotes,
		"performance_score": perf.Average(scores),
		"attendance_rate":   perf.AttendanceRate(present, meetings),
		"team_members":      len(members),
		"domain_tasks":      stats.Total,
	}, nil
}

// PerformanceData is the daily chart series for the dashboard.
func (s *Service) PerformanceData(ctx context.Context, session Session, timeFilter string) ([]map[string]any, error) {
	days, err := parseTimeFilter(timeFilter)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	start := dayStart(now.AddDate(0, 0, -days))
	counts, err := s.store.DailyTaskCounts(ctx, policy.DashboardTasks(session.Actor()), start)
	if err != nil {
		return nil, err
	}
	series := make([]map[string]any, 0, days+1)
	for _, day := range dayRange(start, now) {
		key := day.Format(time.DateOnly)
		series = append(series, map[string]any{
			"date":        key,
			"performance": perf.DailyPerformance(session.role(), counts[key]),
			"tasks":       counts[key],
		})
	}
	return series, nil
}

func (s *Service) RecordAttendance(ctx context.Context, session Session, input AttendanceInput) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionManageUsers) {
		return nil, forbidden("")
	}
	if err := s.validate.Struct(input); err != nil {
		return nil, err
	}
	meetingDate, err := time.Parse(time.DateOnly, input.MeetingDate)
	if err != nil {
		return nil, badRequest("INVALID_DATE", "meeting_date must be YYYY-MM-DD")
	}
	user, err := s.store.GetUserByID(ctx, input.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, badRequest("INVALID_USER", "User does not exist.")
	}
	if err != nil {
		return nil, err
	}
	record := store.Attendance{
		ID:           util.NewID("att"),
		UserID:       user.ID,
		UserName:     user.FullName(),
		MeetingTitle: strings.TrimSpace(input.MeetingTitle),
		MeetingDate:  meetingDate,
		Status:       firstNonBlank(input.Status, "present"),
		Notes:        input.Notes,
		RecordedBy:   session.UserID,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.InsertAttendance(ctx, record); err != nil {
		return nil, err
	}
	return attendancePayload(record), nil
}

func (s *Service) ListAttendance(ctx context.Context, session Session, days int) ([]map[string]any, error) {
	days, err := checkDays(days, 30)
	if err != nil {
		return nil, err
	}
	records, err := s.store.ListAttendance(ctx, policy.Activities(session.Actor()), dayStart(s.now().AddDate(0, 0, -days)))
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(records))
	for _, record := range records {
		items = append(items, attendancePayload(record))
	}
	return items, nil
}

func (s *Service) ListReports(ctx context.Context, session Session, reportType string) ([]map[string]any, error) {
	reports, err := s.store.ListReports(ctx, policy.Reports(session.Actor()), reportType)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(reports))
	for _, report := range reports {
		items = append(items, reportPayload(report))
	}
	return items, nil
}

func (s *Service) visibleReport(ctx context.Context, session Session, reportID string) (store.Report, error) {
	report, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return store.Report{}, err
	}
	if !policy.Reports(session.Actor()).Matches(report.Record()) {
		return store.Report{}, sql.ErrNoRows
	}
	return report, nil
}

func (s *Service) GetReport(ctx context.Context, session Session, reportID string) (map[string]any, error) {
	report, err := s.visibleReport(ctx, session, reportID)
	if err != nil {
		return nil, err
	}
	return reportPayload(report), nil
}

func filterString(filters map[string]any, key string) string {
	value, _ := filters[key].(string)
	return strings.TrimSpace(value)
}

// CreateReport computes the report data server side and stores a snapshot.
func (s *Service) CreateReport(ctx context.Context, session Session, input CreateReportInput) (map[string]any, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, err
	}
	end := s.now().UTC()
	if input.PeriodEnd != nil {
		end = input.PeriodEnd.UTC()
	}
	start := end.AddDate(0, 0, -30)
	if input.PeriodStart != nil {
		start = input.PeriodStart.UTC()
	}
	if !start.Before(end) {
		return nil, badRequest("INVALID_PERIOD", "period_start must be before period_end")
	}
	days := int(math.Ceil(end.Sub(start).Hours() / 24))
	if days > maxReportDays {
		return nil, badRequest("INVALID_PERIOD", "report period cannot exceed 366 days")
	}

	data, err := s.reportData(ctx, session, input.ReportType, input.Filters, start, end, days)
	if err != nil {
		return nil, err
	}
	encodedData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var encodedFilters json.RawMessage
	if len(input.Filters) > 0 {
		if encodedFilters, err = json.Marshal(input.Filters); err != nil {
			return nil, badRequest("INVALID_FILTERS", "filters must be a JSON object")
		}
	}

	report := store.Report{
		ID:              util.NewID("rpt"),
		Title:           strings.TrimSpace(input.Title),
		Type:            input.ReportType,
		GeneratedBy:     session.UserID,
		GeneratedByName: session.UserName,
		PeriodStart:     start,
		PeriodEnd:       end,
		Data:            encodedData,
		Filters:         encodedFilters,
		GeneratedAt:     s.now().UTC(),
	}
	if err := s.store.InsertReport(ctx, report); err != nil {
		return nil, err
	}
	s.logger.Info("report generated",
		zap.String("report_id", report.ID), zap.String("report_type", report.Type), zap.String("user_id", session.UserID))
	return reportPayload(report), nil
}

func (s *Service) reportData(ctx context.Context, session Session, reportType string, filters map[string]any, start, end time.Time, days int) (map[string]any, error) {
	switch reportType {
	case "user_performance":
		data, err := s.UserPerformance(ctx, session, filterString(filters, "user_id"), days)
		if err != nil {
			return nil, err
		}
		s.snapshotPerformance(ctx, data, start, end)
		return data, nil
	case "team_performance", "domain_performance":
		domain := filterString(filters, "domain")
		if reportType == "domain_performance" && domain == "" {
			return nil, badRequest("DOMAIN_REQUIRED", "Domain performance reports need a domain filter.")
		}
		teams, err := s.TeamPerformance(ctx, session, domain, days)
		if err != nil {
			return nil, err
		}
		return map[string]any{"domain": nilIfEmpty(domain), "days": days, "teams": teams}, nil
	case "task_analytics":
		scope := policy.Tasks(session.Actor())
		stats, err := s.store.TaskStats(ctx, scope, end)
		if err != nil {
			return nil, err
		}
		counts, err := s.store.DailyTaskCounts(ctx, scope, dayStart(start))
		if err != nil {
			return nil, err
		}
		daily := make([]map[string]any, 0, days+1)
		for _, day := range dayRange(start, end) {
			key := day.Format(time.DateOnly)
			daily = append(daily, map[string]any{"date": key, "created": counts[key]})
		}
		return map[string]any{
			"total_tasks":     stats.Total,
			"pending_tasks":   stats.Pending,
			"in_progress":     stats.InProgress,
			"completed_tasks": stats.Completed,
			"overdue_tasks":   stats.Overdue,
			"completion_rate": perf.CompletionRate(stats.Completed, stats.Total),
			"daily":           daily,
		}, nil
	case "attendance_report":
		records, err := s.store.ListAttendance(ctx, policy.Activities(session.Actor()), dayStart(start))
		if err != nil {
			return nil, err
		}
		byStatus := map[string]any{}
		for _, status := range attendanceStatuses {
			byStatus[status] = 0
		}
		present := 0
		items := make([]map[string]any, 0, len(records))
		for _, record := range records {
			if record.MeetingDate.After(end) {
				continue
			}
			byStatus[record.Status] = byStatus[record.Status].(int) + 1
			if record.Status == "present" {
				present++
			}
			items = append(items, attendancePayload(record))
		}
		return map[string]any{
			"total_records":   len(items),
			"attendance_rate": perf.AttendanceRate(present, len(items)),
			"by_status":       byStatus,
			"records":         items,
		}, nil
	case "activity_summary":
		summary, err := s.ActivitySummary(ctx, session, days)
		if err != nil {
			return nil, err
		}
		return map[string]any{"days": days, "activity": summary}, nil
	default:
		return nil, badRequest("INVALID_REPORT_TYPE", "Unknown report type")
	}
}

// snapshotPerformance stores the computed metrics; failures are logged.
func (s *Service) snapshotPerformance(ctx context.Context, data map[string]any, start, end time.Time) {
	userID, _ := data["user_id"].(string)
	metricTypes := []string{"tasks_completed", "notes_created", "attendance_rate", "activity_count", "performance_score"}
	metrics := make([]store.PerformanceMetric, 0, len(metricTypes))
	for _, metricType := range metricTypes {
		var value float64
		switch v := data[metricType].(type) {
		case int:
			value = float64(v)
		case float64:
			value = v
		}
		metrics = append(metrics, store.PerformanceMetric{
			ID:          util.NewID("pm"),
			UserID:      userID,
			MetricType:  metricType,
			Value:       value,
			PeriodStart: start,
			PeriodEnd:   end,
		})
	}
	if err := s.store.InsertPerformanceMetrics(ctx, metrics); err != nil {
		s.logger.Error("store performance snapshot", zap.String("user_id", userID), zap.Error(err))
	}
}

// DeleteReport is allowed for the report's generator and admins.
func (s *Service) DeleteReport(ctx context.Context, session Session, reportID string) error {
	report, err := s.visibleReport(ctx, session, reportID)
	if err != nil {
		return err
	}
	if report.GeneratedBy != session.UserID && session.role() != rbac.RoleAdmin {
		return forbidden("Only the report's author or an admin can delete it.")
	}
	return s.store.DeleteReport(ctx, report.ID)
}

func (s *Service) ExportReport(ctx context.Context, session Session, reportID string) (*export.Result, error) {
	report, err := s.visibleReport(ctx, session, reportID)
	if err != nil {
		return nil, err
	}
	result, err := s.exporter.PDF(ctx, export.Report{
		ID:          report.ID,
		Title:       report.Title,
		Type:        report.Type,
		GeneratedBy: firstNonBlank(report.GeneratedByName, report.GeneratedBy),
		GeneratedAt: report.GeneratedAt,
		PeriodStart: report.PeriodStart,
		PeriodEnd:   report.PeriodEnd,
		Data:        report.Data,
	})
	switch {
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available", nil)
	case errors.Is(err, export.ErrContentUnavailable):
		return nil, domainError(http.StatusUnprocessableEntity, "EXPORT_CONTENT_UNAVAILABLE", "Report data could not be rendered", nil)
	case err != nil:
		return nil, err
	}
	return result, nil
}

func (s *Service) ListWidgets(ctx context.Context, session Session) ([]map[string]any, error) {
	widgets, err := s.store.ListWidgets(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(widgets))
	for _, widget := range widgets {
		items = append(items, widgetPayload(widget))
	}
	return items, nil
}

func (s *Service) ownWidget(ctx context.Context, session Session, widgetID string) (store.Widget, error) {
	widget, err := s.store.GetWidget(ctx, widgetID)
	if err != nil {
		return store.Widget{}, err
	}
	if widget.UserID != session.UserID {
		return store.Widget{}, sql.ErrNoRows
	}
	return widget, nil
}

func (s *Service) CreateWidget(ctx context.Context, session Session, input WidgetInput) (map[string]any, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, err
	}
	if input.WidgetType == nil || input.Title == nil {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_FAILED", "Invalid input", map[string]string{
			"widget_type": "widget_type and title are required",
		})
	}
	now := s.now().UTC()
	widget := store.Widget{
		ID:        util.NewID("wdg"),
		UserID:    session.UserID,
		Type:      *input.WidgetType,
		Title:     strings.TrimSpace(*input.Title),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := applyWidget(&widget, input); err != nil {
		return nil, err
	}
	if err := s.store.InsertWidget(ctx, widget); err != nil {
		return nil, err
	}
	return widgetPayload(widget), nil
}

func applyWidget(widget *store.Widget, input WidgetInput) error {
	assign(&widget.Type, input.WidgetType)
	assign(&widget.Title, input.Title)
	if input.Position != nil {
		widget.Position = *input.Position
	}
	if input.IsActive != nil {
		widget.IsActive = *input.IsActive
	}
	if input.Configuration != nil {
		encoded, err := json.Marshal(input.Configuration)
		if err != nil {
			return badRequest("INVALID_CONFIGURATION", "configuration must be a JSON object")
		}
		widget.Configuration = encoded
	}
	return nil
}

func (s *Service) UpdateWidget(ctx context.Context, session Session, widgetID string, input WidgetInput) (map[string]any, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, err
	}
	widget, err := s.ownWidget(ctx, session, widgetID)
	if err != nil {
		return nil, err
	}
	if err := applyWidget(&widget, input); err != nil {
		return nil, err
	}
	widget.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateWidget(ctx, widget); err != nil {
		return nil, err
	}
	return widgetPayload(widget), nil
}

func (s *Service) DeleteWidget(ctx context.Context, session Session, widgetID string) error {
	widget, err := s.ownWidget(ctx, session, widgetID)
	if err != nil {
		return err
	}
	return s.store.DeleteWidget(ctx, widget.ID)
}
