package app

import (
	"encoding/json"
	"math"
	"time"

	"council/api/internal/rbac"
	"council/api/internal/store"
)

func nilIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func timeOrNil(value *time.Time) any {
	if value == nil {
		return nil
	}
	return *value
}

func rawOrEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return raw
}

func userPayload(u store.User) map[string]any {
	return map[string]any{
		"id":           u.ID,
		"username":     u.Username,
		"email":        u.Email,
		"first_name":   u.FirstName,
		"last_name":    u.LastName,
		"full_name":    u.FullName(),
		"role":         u.Role,
		"role_display": rbac.Label(rbac.Role(u.Role)),
		"domain":       nilIfEmpty(u.Domain),
		"vertical":     nilIfEmpty(u.Vertical),
		"title":        u.Title,
		"description":  u.Description,
		"phone":        u.Phone,
		"avatar_url":   nilIfEmpty(u.AvatarURL),
		"is_active":    u.IsActive,
		"last_login":   timeOrNil(u.LastLogin),
		"created_at":   u.CreatedAt,
	}
}

// userSummary is the compact form embedded in other resources.
func userSummary(u store.User) map[string]any {
	return map[string]any{
		"id":        u.ID,
		"username":  u.Username,
		"full_name": u.FullName(),
		"role":      u.Role,
		"domain":    nilIfEmpty(u.Domain),
	}
}

func settingsPayload(u store.User) map[string]any {
	settings := u.NotificationSettings
	if settings == nil {
		settings = map[string]bool{}
	}
	return map[string]any{
		"theme":                 u.Theme,
		"language":              u.Language,
		"notification_settings": settings,
		"dashboard_color_theme": u.DashboardColorTheme,
	}
}

func taskPayload(t store.Task, now time.Time) map[string]any {
	return map[string]any{
		"id":               t.ID,
		"title":            t.Title,
		"description":      t.Description,
		"status":           t.Status,
		"priority":         t.Priority,
		"domain":           nilIfEmpty(t.Domain),
		"assigned_to":      nilIfEmpty(t.AssignedTo),
		"assigned_to_name": nilIfEmpty(t.AssignedToName),
		"assigned_by":      t.AssignedBy,
		"assigned_by_name": t.AssignedByName,
		"due_date":         timeOrNil(t.DueDate),
		"completed_at":     timeOrNil(t.CompletedAt),
		"attachments":      nonNilStrings(t.Attachments),
		"is_overdue":       isOverdue(t, now),
		"days_remaining":   daysRemaining(t, now),
		"created_at":       t.CreatedAt,
		"updated_at":       t.UpdatedAt,
	}
}

func isOverdue(t store.Task, now time.Time) bool {
	if t.DueDate == nil {
		return false
	}
	return t.DueDate.Before(now) && (t.Status == "pending" || t.Status == "in_progress")
}

// daysRemaining counts whole days until the due date; negative once past.
func daysRemaining(t store.Task, now time.Time) any {
	if t.DueDate == nil {
		return nil
	}
	return int(math.Floor(t.DueDate.Sub(now).Hours() / 24))
}

func taskHistoryPayload(h store.TaskHistory) map[string]any {
	return map[string]any{
		"id":              h.ID,
		"action":          h.Action,
		"old_value":       h.OldValue,
		"new_value":       h.NewValue,
		"changed_by":      h.ChangedBy,
		"changed_by_name": h.ChangedByName,
		"created_at":      h.CreatedAt,
	}
}

func commentPayload(c store.Comment) map[string]any {
	return map[string]any{
		"id":          c.ID,
		"author":      c.AuthorID,
		"author_name": c.AuthorName,
		"content":     c.Body,
		"created_at":  c.CreatedAt,
		"updated_at":  c.UpdatedAt,
	}
}

func notePayload(n store.Note) map[string]any {
	return map[string]any{
		"id":          n.ID,
		"title":       n.Title,
		"description": n.Description,
		"purpose":     n.Purpose,
		"priority":    n.Priority,
		"domain":      nilIfEmpty(n.Domain),
		"author":      n.AuthorID,
		"author_name": n.AuthorName,
		"is_public":   n.IsPublic,
		"tags":        n.Tags,
		"tag_list":    n.TagList(),
		"attachments": nonNilStrings(n.Attachments),
		"created_at":  n.CreatedAt,
		"updated_at":  n.UpdatedAt,
	}
}

func channelPayload(c store.Channel) map[string]any {
	return map[string]any{
		"id":                c.ID,
		"name":              c.Name,
		"description":       c.Description,
		"channel_type":      c.Type,
		"domain":            nilIfEmpty(c.Domain),
		"vertical":          nilIfEmpty(c.Vertical),
		"is_private":        c.IsPrivate,
		"is_archived":       c.IsArchived,
		"created_by":        c.CreatedBy,
		"participants":      nonNilStrings(c.Participants),
		"participant_count": len(c.Participants),
		"created_at":        c.CreatedAt,
		"updated_at":        c.UpdatedAt,
	}
}

const lastMessagePreview = 100

func lastMessagePayload(m store.Message) map[string]any {
	content := []rune(m.Content)
	if len(content) > lastMessagePreview {
		content = content[:lastMessagePreview]
	}
	return map[string]any{
		"id":          m.ID,
		"content":     string(content),
		"sender":      m.SenderID,
		"sender_name": m.SenderName,
		"created_at":  m.CreatedAt,
	}
}

func messagePayload(m store.Message, reactions map[string]int) map[string]any {
	if reactions == nil {
		reactions = map[string]int{}
	}
	return map[string]any{
		"id":             m.ID,
		"channel":        m.ChannelID,
		"sender":         m.SenderID,
		"sender_name":    m.SenderName,
		"content":        m.Content,
		"message_type":   m.Type,
		"file_url":       nilIfEmpty(m.FileURL),
		"reply_to":       nilIfEmpty(m.ReplyTo),
		"is_edited":      m.IsEdited,
		"reaction_count": reactions,
		"created_at":     m.CreatedAt,
		"updated_at":     m.UpdatedAt,
	}
}

func reportPayload(r store.Report) map[string]any {
	return map[string]any{
		"id":                r.ID,
		"title":             r.Title,
		"report_type":       r.Type,
		"generated_by":      r.GeneratedBy,
		"generated_by_name": r.GeneratedByName,
		"period_start":      r.PeriodStart,
		"period_end":        r.PeriodEnd,
		"data":              rawOrEmpty(r.Data),
		"filters":           rawOrEmpty(r.Filters),
		"generated_at":      r.GeneratedAt,
	}
}

func widgetPayload(w store.Widget) map[string]any {
	return map[string]any{
		"id":            w.ID,
		"widget_type":   w.Type,
		"title":         w.Title,
		"position":      w.Position,
		"configuration": rawOrEmpty(w.Configuration),
		"is_active":     w.IsActive,
		"created_at":    w.CreatedAt,
		"updated_at":    w.UpdatedAt,
	}
}

func attendancePayload(a store.Attendance) map[string]any {
	return map[string]any{
		"id":            a.ID,
		"user":          a.UserID,
		"user_name":     a.UserName,
		"meeting_title": a.MeetingTitle,
		"meeting_date":  a.MeetingDate.Format("2006-01-02"),
		"status":        a.Status,
		"notes":         a.Notes,
		"recorded_by":   nilIfEmpty(a.RecordedBy),
		"created_at":    a.CreatedAt,
	}
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func listPayload(key string, items []map[string]any, total int) map[string]any {
	return map[string]any{
		key:     items,
		"count": total,
	}
}
