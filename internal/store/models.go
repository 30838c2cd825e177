package store

import (
	"encoding/json"
	"strings"
	"time"
)

type User struct {
	ID                   string
	Username             string
	Email                string
	PasswordHash         string
	FirstName            string
	LastName             string
	Role                 string
	Domain               string
	Vertical             string
	Title                string
	Description          string
	Phone                string
	AvatarURL            string
	Theme                string
	Language             string
	NotificationSettings map[string]bool
	DashboardColorTheme  string
	IsActive             bool
	LastLogin            *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (u User) FullName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Username
	}
	return name
}

type Task struct {
	ID             string
	Title          string
	Description    string
	Status         string
	Priority       string
	Domain         string
	AssignedTo     string
	AssignedToName string
	AssignedBy     string
	AssignedByName string
	DueDate        *time.Time
	CompletedAt    *time.Time
	Attachments    []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type TaskHistory struct {
	ID            string
	TaskID        string
	Action        string
	OldValue      string
	NewValue      string
	ChangedBy     string
	ChangedByName string
	CreatedAt     time.Time
}

type TaskStats struct {
	Total       int
	Pending     int
	InProgress  int
	Completed   int
	Overdue     int
	Recent      int
	DueThisWeek int
}

// Comment is shared by task and note discussions.
type Comment struct {
	ID         string
	ParentID   string
	AuthorID   string
	AuthorName string
	Body       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Note struct {
	ID          string
	Title       string
	Description string
	Purpose     string
	Priority    string
	Domain      string
	AuthorID    string
	AuthorName  string
	IsPublic    bool
	Tags        string
	Attachments []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TagList splits the comma separated tag column.
func (n Note) TagList() []string {
	tags := make([]string, 0)
	for _, tag := range strings.Split(n.Tags, ",") {
		if trimmed := strings.TrimSpace(tag); trimmed != "" {
			tags = append(tags, trimmed)
		}
	}
	return tags
}

type NoteStats struct {
	Total        int
	HighPriority int
	Urgent       int
	Public       int
	Private      int
	DomainStats  map[string]int
}

type Channel struct {
	ID           string
	Name         string
	Description  string
	Type         string
	Domain       string
	Vertical     string
	IsPrivate    bool
	IsArchived   bool
	CreatedBy    string
	Participants []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Message struct {
	ID         string
	ChannelID  string
	SenderID   string
	SenderName string
	Content    string
	Type       string
	FileURL    string
	ReplyTo    string
	IsEdited   bool
	IsDeleted  bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type ChannelStatus struct {
	ChannelID   string
	UserID      string
	LastReadAt  *time.Time
	UnreadCount int
	IsMuted     bool
	IsPinned    bool
}

type Activity struct {
	ID          string
	UserID      string
	UserName    string
	Type        string
	Description string
	Metadata    json.RawMessage
	CreatedAt   time.Time
}

type DailyActivity struct {
	Day            time.Time
	Logins         int
	TaskActivities int
	NoteActivities int
	Total          int
}

type Attendance struct {
	ID           string
	UserID       string
	UserName     string
	MeetingTitle string
	MeetingDate  time.Time
	Status       string
	Notes        string
	RecordedBy   string
	CreatedAt    time.Time
}

type PerformanceMetric struct {
	ID          string
	UserID      string
	MetricType  string
	Value       float64
	PeriodStart time.Time
	PeriodEnd   time.Time
	CreatedAt   time.Time
}

// UserMetrics are the raw counts behind a performance score.
type UserMetrics struct {
	TasksCompleted    int
	TasksPending      int
	TasksOverdue      int
	NotesCreated      int
	AttendancePresent int
	AttendanceTotal   int
	ActivityCount     int
}

type DomainTaskCount struct {
	Total     int
	Completed int
}

type Report struct {
	ID              string
	Title           string
	Type            string
	GeneratedBy     string
	GeneratedByName string
	PeriodStart     time.Time
	PeriodEnd       time.Time
	Data            json.RawMessage
	Filters         json.RawMessage
	GeneratedAt     time.Time
}

type Widget struct {
	ID            string
	UserID        string
	Type          string
	Title         string
	Position      int
	Configuration json.RawMessage
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
