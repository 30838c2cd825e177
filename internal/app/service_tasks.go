package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"council/api/internal/blob"
	"council/api/internal/policy"
	"council/api/internal/rbac"
	"council/api/internal/search"
	"council/api/internal/store"
	"council/api/internal/util"
)

const (
	statusPending    = "pending"
	statusInProgress = "in_progress"
	statusCompleted  = "completed"
	statusCancelled  = "cancelled"
)

var (
	taskStatuses = []string{statusPending, statusInProgress, statusCompleted, statusCancelled}
	priorities   = []string{"low", "medium", "high", "urgent"}
)

type TaskListInput struct {
	Status     string `json:"status" validate:"omitempty,oneof=pending in_progress completed cancelled"`
	Priority   string `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	Domain     string
	AssignedTo string
	AssignedBy string
	DueFrom    *time.Time
	DueTo      *time.Time
	Search     string
	Ordering   string
	Limit      int
	Offset     int
}

type CreateTaskInput struct {
	Title       string     `json:"title" validate:"required,max=200"`
	Description string     `json:"description"`
	Priority    string     `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	Domain      string     `json:"domain" validate:"omitempty,oneof=mmt photography comms mis hr ops editorial design promotions"`
	AssignedTo  string     `json:"assigned_to"`
	DueDate     *time.Time `json:"due_date"`
}

type UpdateTaskInput struct {
	Title       *string    `json:"title" validate:"omitempty,min=1,max=200"`
	Description *string    `json:"description"`
	Status      *string    `json:"status" validate:"omitempty,oneof=pending in_progress completed cancelled"`
	Priority    *string    `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	Domain      *string    `json:"domain" validate:"omitempty,oneof=mmt photography comms mis hr ops editorial design promotions"`
	AssignedTo  *string    `json:"assigned_to"`
	DueDate     *time.Time `json:"due_date"`
}

// statusOnly reports whether the update touches nothing but the status.
func (in UpdateTaskInput) statusOnly() bool {
	return in.Title == nil && in.Description == nil && in.Priority == nil &&
		in.Domain == nil && in.AssignedTo == nil && in.DueDate == nil
}

type StatusInput struct {
	Status string `json:"status" validate:"required,oneof=pending in_progress completed cancelled"`
}

type CommentInput struct {
	Content string `json:"content" validate:"required,max=5000"`
}

func taskRecord(t store.Task) search.TaskRecord {
	return search.TaskRecord{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status,
		Priority:    t.Priority,
		Domain:      t.Domain,
		AssignedTo:  t.AssignedTo,
		AssignedBy:  t.AssignedBy,
	}
}

func (s *Service) taskList(tasks []store.Task) []map[string]any {
	now := s.now()
	items := make([]map[string]any, 0, len(tasks))
	for _, task := range tasks {
		items = append(items, taskPayload(task, now))
	}
	return items
}

func (s *Service) ListTasks(ctx context.Context, session Session, input TaskListInput) (map[string]any, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, err
	}
	tasks, total, err := s.store.ListTasks(ctx, store.TaskFilter{
		Scope:      policy.Tasks(session.Actor()),
		Status:     input.Status,
		Priority:   input.Priority,
		Domain:     input.Domain,
		AssignedTo: input.AssignedTo,
		AssignedBy: input.AssignedBy,
		DueFrom:    input.DueFrom,
		DueTo:      input.DueTo,
		Search:     strings.TrimSpace(input.Search),
		Ordering:   firstNonBlank(input.Ordering, "-created_at"),
		Limit:      input.Limit,
		Offset:     input.Offset,
	})
	if err != nil {
		return nil, err
	}
	return listPayload("results", s.taskList(tasks), total), nil
}

// visibleTask loads a task and hides it when it falls outside the actor's scope.
func (s *Service) visibleTask(ctx context.Context, session Session, taskID string) (store.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return store.Task{}, err
	}
	if !policy.Tasks(session.Actor()).Matches(task.Record()) {
		return store.Task{}, sql.ErrNoRows
	}
	return task, nil
}

// assignee resolves the user a task is handed to. Empty means unassigned.
func (s *Service) assignee(ctx context.Context, userID string) (store.User, error) {
	if userID == "" {
		return store.User{}, nil
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !user.IsActive) {
		return store.User{}, badRequest("INVALID_ASSIGNEE", "Assigned user does not exist or is inactive.")
	}
	return user, err
}

func (s *Service) CreateTask(ctx context.Context, session Session, input CreateTaskInput) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionCreateTasks) {
		return nil, forbidden("")
	}
	if err := s.validate.Struct(input); err != nil {
		return nil, err
	}
	domain := input.Domain
	if session.role() == rbac.RoleJuniorCouncil {
		if session.Domain == "" {
			return nil, forbidden("Junior Council members must have a domain to create tasks.")
		}
		domain = session.Domain
	}
	assignee, err := s.assignee(ctx, strings.TrimSpace(input.AssignedTo))
	if err != nil {
		return nil, err
	}

	task := store.Task{
		ID:          util.NewID("tsk"),
		Title:       strings.TrimSpace(input.Title),
		Description: input.Description,
		Status:      statusPending,
		Priority:    firstNonBlank(input.Priority, "medium"),
		Domain:      domain,
		AssignedTo:  assignee.ID,
		AssignedBy:  session.UserID,
		DueDate:     input.DueDate,
		Attachments: []string{},
	}
	if err := s.store.InsertTask(ctx, task); err != nil {
		return nil, err
	}
	created, err := s.store.GetTask(ctx, task.ID)
	if err != nil {
		return nil, err
	}

	s.recordActivity(ctx, session.UserID, "task_created", "Created task: "+created.Title, map[string]any{"task_id": created.ID})
	s.search.IndexTask(taskRecord(created))
	s.notifyAssignee(session, assignee, created)
	return taskPayload(created, s.now()), nil
}

// notifyAssignee emails a newly assigned user unless they opted out.
func (s *Service) notifyAssignee(session Session, assignee store.User, task store.Task) {
	if assignee.ID == "" || assignee.ID == session.UserID || !s.mailer.IsConfigured() {
		return
	}
	if settings := assignee.NotificationSettings; settings != nil && (!settings["email"] || !settings["tasks"]) {
		return
	}
	go func() {
		err := s.mailer.SendTaskAssigned(assignee.Email, assignee.FullName(), task.ID, task.Title, task.Priority, session.UserName, task.DueDate)
		if err != nil {
			s.logger.Error("send task assignment email", zap.String("task_id", task.ID), zap.Error(err))
		}
	}()
}

func (s *Service) GetTask(ctx context.Context, session Session, taskID string) (map[string]any, error) {
	task, err := s.visibleTask(ctx, session, taskID)
	if err != nil {
		return nil, err
	}
	payload := taskPayload(task, s.now())
	history, err := s.store.ListTaskHistory(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	entries := make([]map[string]any, 0, len(history))
	for _, h := range history {
		entries = append(entries, taskHistoryPayload(h))
	}
	payload["history"] = entries
	return payload, nil
}

// applyStatus moves the task to status and returns the history row to store.
// completed_at is stamped on completion and cleared when leaving completed.
func applyStatus(task *store.Task, status, actorID string, now time.Time) *store.TaskHistory {
	if task.Status == status {
		return nil
	}
	history := &store.TaskHistory{
		ID:        util.NewID("thist"),
		TaskID:    task.ID,
		Action:    "status_changed",
		OldValue:  task.Status,
		NewValue:  status,
		ChangedBy: actorID,
	}
	task.Status = status
	if status == statusCompleted {
		completed := now.UTC()
		task.CompletedAt = &completed
	} else {
		task.CompletedAt = nil
	}
	return history
}

func (s *Service) UpdateTask(ctx context.Context, session Session, taskID string, input UpdateTaskInput) (map[string]any, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, err
	}
	task, err := s.visibleTask(ctx, session, taskID)
	if err != nil {
		return nil, err
	}
	if !s.Can(session.Role, rbac.ActionEditTasks) {
		if task.AssignedTo != session.UserID || !input.statusOnly() || input.Status == nil {
			return nil, forbidden("You can only change the status of tasks assigned to you.")
		}
	}
	if input.Domain != nil && session.role() == rbac.RoleJuniorCouncil && *input.Domain != session.Domain {
		return nil, forbidden("Junior Council members can only manage tasks in their own domain.")
	}

	var newAssignee store.User
	if input.AssignedTo != nil && strings.TrimSpace(*input.AssignedTo) != task.AssignedTo {
		newAssignee, err = s.assignee(ctx, strings.TrimSpace(*input.AssignedTo))
		if err != nil {
			return nil, err
		}
		task.AssignedTo = newAssignee.ID
	}
	assign(&task.Title, input.Title)
	if input.Description != nil {
		task.Description = *input.Description
	}
	assign(&task.Priority, input.Priority)
	assign(&task.Domain, input.Domain)
	if input.DueDate != nil {
		task.DueDate = input.DueDate
	}
	var history *store.TaskHistory
	if input.Status != nil {
		history = applyStatus(&task, *input.Status, session.UserID, s.now())
	}

	return s.saveTask(ctx, session, task, history, newAssignee)
}

func (s *Service) saveTask(ctx context.Context, session Session, task store.Task, history *store.TaskHistory, newAssignee store.User) (map[string]any, error) {
	if err := s.store.UpdateTask(ctx, task, history); err != nil {
		return nil, err
	}
	updated, err := s.store.GetTask(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	if history != nil && history.NewValue == statusCompleted {
		s.recordActivity(ctx, session.UserID, "task_completed", "Completed task: "+updated.Title, map[string]any{"task_id": updated.ID})
	}
	s.search.IndexTask(taskRecord(updated))
	s.notifyAssignee(session, newAssignee, updated)
	return taskPayload(updated, s.now()), nil
}

// ChangeTaskStatus records a status transition. Board members may only move
// tasks assigned to them.
func (s *Service) ChangeTaskStatus(ctx context.Context, session Session, taskID string, input StatusInput) (map[string]any, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, err
	}
	task, err := s.visibleTask(ctx, session, taskID)
	if err != nil {
		return nil, err
	}
	if !s.Can(session.Role, rbac.ActionEditTasks) && task.AssignedTo != session.UserID {
		return nil, forbidden("You can only change the status of tasks assigned to you.")
	}
	history := applyStatus(&task, input.Status, session.UserID, s.now())
	if history == nil {
		return taskPayload(task, s.now()), nil
	}
	return s.saveTask(ctx, session, task, history, store.User{})
}

func (s *Service) DeleteTask(ctx context.Context, session Session, taskID string) error {
	if !s.Can(session.Role, rbac.ActionDeleteTasks) {
		return forbidden("")
	}
	task, err := s.visibleTask(ctx, session, taskID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteTask(ctx, task.ID); err != nil {
		return err
	}
	s.search.DeleteTask(task.ID)
	s.logger.Info("task deleted", zap.String("task_id", task.ID), zap.String("user_id", session.UserID))
	return nil
}

func (s *Service) TaskHistory(ctx context.Context, session Session, taskID string) ([]map[string]any, error) {
	task, err := s.visibleTask(ctx, session, taskID)
	if err != nil {
		return nil, err
	}
	history, err := s.store.ListTaskHistory(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(history))
	for _, h := range history {
		items = append(items, taskHistoryPayload(h))
	}
	return items, nil
}

func commentList(comments []store.Comment) []map[string]any {
	items := make([]map[string]any, 0, len(comments))
	for _, c := range comments {
		items = append(items, commentPayload(c))
	}
	return items
}

func (s *Service) TaskComments(ctx context.Context, session Session, taskID string) ([]map[string]any, error) {
	task, err := s.visibleTask(ctx, session, taskID)
	if err != nil {
		return nil, err
	}
	comments, err := s.store.ListTaskComments(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	return commentList(comments), nil
}

func (s *Service) AddTaskComment(ctx context.Context, session Session, taskID string, input CommentInput) (map[string]any, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, err
	}
	task, err := s.visibleTask(ctx, session, taskID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	comment := store.Comment{
		ID:         util.NewID("tcm"),
		ParentID:   task.ID,
		AuthorID:   session.UserID,
		AuthorName: session.UserName,
		Body:       strings.TrimSpace(input.Content),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.InsertTaskComment(ctx, comment); err != nil {
		return nil, err
	}
	return commentPayload(comment), nil
}

// ownComment returns 404 for comments on other parents and 403 when the
// actor is neither the author nor an admin.
func ownComment(session Session, comment store.Comment, parentID string) error {
	if comment.ParentID != parentID {
		return sql.ErrNoRows
	}
	if comment.AuthorID != session.UserID && session.role() != rbac.RoleAdmin {
		return forbidden("You can only modify your own comments.")
	}
	return nil
}

func (s *Service) UpdateTaskComment(ctx context.Context, session Session, taskID, commentID string, input CommentInput) (map[string]any, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, err
	}
	if _, err := s.visibleTask(ctx, session, taskID); err != nil {
		return nil, err
	}
	comment, err := s.store.GetTaskComment(ctx, commentID)
	if err != nil {
		return nil, err
	}
	if err := ownComment(session, comment, taskID); err != nil {
		return nil, err
	}
	comment.Body = strings.TrimSpace(input.Content)
	comment.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateTaskComment(ctx, comment.ID, comment.Body); err != nil {
		return nil, err
	}
	return commentPayload(comment), nil
}

func (s *Service) DeleteTaskComment(ctx context.Context, session Session, taskID, commentID string) error {
	if _, err := s.visibleTask(ctx, session, taskID); err != nil {
		return err
	}
	comment, err := s.store.GetTaskComment(ctx, commentID)
	if err != nil {
		return err
	}
	if err := ownComment(session, comment, taskID); err != nil {
		return err
	}
	return s.store.DeleteTaskComment(ctx, comment.ID)
}

func (s *Service) TaskStatistics(ctx context.Context, session Session) (map[string]any, error) {
	stats, err := s.store.TaskStats(ctx, policy.Tasks(session.Actor()), s.now())
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"total_tasks":       stats.Total,
		"pending_tasks":     stats.Pending,
		"in_progress_tasks": stats.InProgress,
		"completed_tasks":   stats.Completed,
		"overdue_tasks":     stats.Overdue,
		"recent_tasks":      stats.Recent,
		"due_this_week":     stats.DueThisWeek,
	}, nil
}

func (s *Service) MyTasks(ctx context.Context, session Session, status string) ([]map[string]any, error) {
	if err := s.validate.Struct(TaskListInput{Status: status}); err != nil {
		return nil, err
	}
	tasks, _, err := s.store.ListTasks(ctx, store.TaskFilter{
		Scope:      policy.All(),
		AssignedTo: session.UserID,
		Status:     status,
		Ordering:   "-created_at",
		Limit:      store.NoLimit,
	})
	if err != nil {
		return nil, err
	}
	return s.taskList(tasks), nil
}

func (s *Service) TeamTasks(ctx context.Context, session Session, status string) ([]map[string]any, error) {
	if err := s.validate.Struct(TaskListInput{Status: status}); err != nil {
		return nil, err
	}
	tasks, _, err := s.store.ListTasks(ctx, store.TaskFilter{
		Scope:    policy.TeamTasks(session.Actor()),
		Status:   status,
		Ordering: "-created_at",
		Limit:    store.NoLimit,
	})
	if err != nil {
		return nil, err
	}
	return s.taskList(tasks), nil
}

const recentTaskLimit = 10

// RecentTasks reads an unknown time_filter as 7d.
func (s *Service) RecentTasks(ctx context.Context, session Session, timeFilter string) ([]map[string]any, error) {
	days, err := parseTimeFilter(timeFilter)
	if err != nil {
		days = 7
	}
	since := s.now().AddDate(0, 0, -days)
	tasks, _, err := s.store.ListTasks(ctx, store.TaskFilter{
		Scope:        policy.Tasks(session.Actor()),
		CreatedSince: &since,
		Ordering:     "-created_at",
		Limit:        recentTaskLimit,
	})
	if err != nil {
		return nil, err
	}
	return s.taskList(tasks), nil
}

func (s *Service) UploadTaskAttachment(ctx context.Context, session Session, taskID string, file upload) (map[string]any, error) {
	task, err := s.visibleTask(ctx, session, taskID)
	if err != nil {
		return nil, err
	}
	if !s.Can(session.Role, rbac.ActionEditTasks) && task.AssignedTo != session.UserID {
		return nil, forbidden("")
	}
	if err := blob.ValidateAttachment(file.Size); err != nil {
		return nil, attachmentError(err)
	}
	url, err := s.upload(ctx, "tasks/"+task.ID, file)
	if err != nil {
		return nil, err
	}
	if err := s.store.AppendTaskAttachment(ctx, task.ID, url); err != nil {
		return nil, err
	}
	task.Attachments = append(task.Attachments, url)
	return map[string]any{"url": url, "attachments": task.Attachments}, nil
}

func attachmentError(err error) error {
	if errors.Is(err, blob.ErrTooLarge) {
		return domainError(http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "File size must be less than 25MB", nil)
	}
	return badRequest("INVALID_FILE", "No file provided")
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
