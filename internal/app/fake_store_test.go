package app

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"council/api/internal/auth"
	"council/api/internal/authpw"
	"council/api/internal/config"
	"council/api/internal/policy"
	"council/api/internal/store"
)

// fakeStore is an in-memory dataStore. Scopes are applied with
// policy.Filter.Matches so visibility behaves like the SQL rendering.
type fakeStore struct {
	mu sync.Mutex

	users        map[string]store.User
	resets       map[string]string
	refresh      map[string]string
	revoked      map[string]bool
	tasks        map[string]store.Task
	history      []store.TaskHistory
	taskComments map[string]store.Comment
	notes        map[string]store.Note
	noteComments map[string]store.Comment
	channels     map[string]store.Channel
	messages     map[string]store.Message
	reactions    map[string]map[string]bool
	statuses     map[string]store.ChannelStatus
	activities   []store.Activity
	attendance   []store.Attendance
	perfMetrics  []store.PerformanceMetric
	reports      map[string]store.Report
	widgets      map[string]store.Widget
	seq          int

	pingFn        func(context.Context) error
	userMetricsFn func(context.Context, string, time.Time, time.Time) (store.UserMetrics, error)
	insertTaskFn  func(context.Context, store.Task) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:        map[string]store.User{},
		resets:       map[string]string{},
		refresh:      map[string]string{},
		revoked:      map[string]bool{},
		tasks:        map[string]store.Task{},
		taskComments: map[string]store.Comment{},
		notes:        map[string]store.Note{},
		noteComments: map[string]store.Comment{},
		channels:     map[string]store.Channel{},
		messages:     map[string]store.Message{},
		reactions:    map[string]map[string]bool{},
		statuses:     map[string]store.ChannelStatus{},
		reports:      map[string]store.Report{},
		widgets:      map[string]store.Widget{},
	}
}

// tick returns strictly increasing timestamps so ordering is stable.
func (f *fakeStore) tick() time.Time {
	f.seq++
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(f.seq) * time.Second)
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

// users

func (f *fakeStore) GetUserByLogin(_ context.Context, login string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if strings.EqualFold(u.Username, login) || strings.EqualFold(u.Email, login) {
			return u, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (f *fakeStore) UserExists(_ context.Context, username, email string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if strings.EqualFold(u.Username, username) || strings.EqualFold(u.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) CreateUser(_ context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user.CreatedAt = f.tick()
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) UpdateUserPassword(_ context.Context, userID, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	u.PasswordHash = hash
	f.users[userID] = u
	return nil
}

func (f *fakeStore) CreatePasswordReset(_ context.Context, userID, token string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets[token] = userID
	return nil
}

func (f *fakeStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.resets[token]
	if !ok {
		return "", sql.ErrNoRows
	}
	return userID, nil
}

func (f *fakeStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.resets, token)
	return nil
}

func (f *fakeStore) filterUsers(filter store.UserFilter) []store.User {
	items := make([]store.User, 0)
	for _, u := range f.users {
		if !filter.Scope.Matches(u.Record()) {
			continue
		}
		if filter.Role != "" && u.Role != filter.Role {
			continue
		}
		if filter.Domain != "" && u.Domain != filter.Domain {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(u.Username+" "+u.FullName()), strings.ToLower(filter.Search)) {
			continue
		}
		items = append(items, u)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

func (f *fakeStore) ListUsers(_ context.Context, filter store.UserFilter) ([]store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filterUsers(filter), nil
}

func (f *fakeStore) CountUsers(_ context.Context, filter store.UserFilter) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.filterUsers(filter)), nil
}

func (f *fakeStore) putUser(user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[user.ID]; !ok {
		return sql.ErrNoRows
	}
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) UpdateUserProfile(_ context.Context, user store.User) error  { return f.putUser(user) }
func (f *fakeStore) UpdateUserSettings(_ context.Context, user store.User) error { return f.putUser(user) }
func (f *fakeStore) UpdateUserAccount(_ context.Context, user store.User) error  { return f.putUser(user) }

func (f *fakeStore) UpdateUserAvatar(_ context.Context, userID, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[userID]
	u.AvatarURL = url
	f.users[userID] = u
	return nil
}

func (f *fakeStore) TouchLastLogin(_ context.Context, userID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[userID]
	u.LastLogin = &at
	f.users[userID] = u
	return nil
}

// sessions

func (f *fakeStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[tokenHash] = userID
	return nil
}

func (f *fakeStore) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.refresh[tokenHash]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return f.users[userID], nil
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, tokenHash)
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

// tasks

func (f *fakeStore) withTaskNames(t store.Task) store.Task {
	t.AssignedToName = f.users[t.AssignedTo].FullName()
	if t.AssignedTo == "" {
		t.AssignedToName = ""
	}
	t.AssignedByName = f.users[t.AssignedBy].FullName()
	return t
}

func (f *fakeStore) filterTasks(filter store.TaskFilter) []store.Task {
	items := make([]store.Task, 0)
	for _, t := range f.tasks {
		switch {
		case !filter.Scope.Matches(t.Record()),
			filter.Status != "" && t.Status != filter.Status,
			filter.Priority != "" && t.Priority != filter.Priority,
			filter.Domain != "" && t.Domain != filter.Domain,
			filter.AssignedTo != "" && t.AssignedTo != filter.AssignedTo,
			filter.AssignedBy != "" && t.AssignedBy != filter.AssignedBy,
			filter.CreatedSince != nil && t.CreatedAt.Before(*filter.CreatedSince),
			filter.Search != "" && !strings.Contains(strings.ToLower(t.Title+" "+t.Description), strings.ToLower(filter.Search)):
			continue
		}
		items = append(items, f.withTaskNames(t))
	}
	sortTasks(items, filter.Ordering)
	return items
}

var fakePriorityRank = map[string]int{"low": 1, "medium": 2, "high": 3, "urgent": 4}

// sortTasks covers the orderings the tests use; anything else is newest first.
func sortTasks(items []store.Task, ordering string) {
	desc := strings.HasPrefix(ordering, "-")
	less := func(a, b store.Task) bool { return a.CreatedAt.Before(b.CreatedAt) }
	switch strings.TrimPrefix(ordering, "-") {
	case "created_at":
	case "title":
		less = func(a, b store.Task) bool { return a.Title < b.Title }
	case "priority":
		less = func(a, b store.Task) bool { return fakePriorityRank[a.Priority] < fakePriorityRank[b.Priority] }
	default:
		desc = true
	}
	sort.SliceStable(items, func(i, j int) bool {
		if desc {
			return less(items[j], items[i])
		}
		return less(items[i], items[j])
	})
}

func (f *fakeStore) ListTasks(_ context.Context, filter store.TaskFilter) ([]store.Task, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := f.filterTasks(filter)
	return page(items, filter.Limit, filter.Offset), len(items), nil
}

func (f *fakeStore) CountTasks(_ context.Context, filter store.TaskFilter) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.filterTasks(filter)), nil
}

func (f *fakeStore) GetTask(_ context.Context, id string) (store.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return store.Task{}, sql.ErrNoRows
	}
	return f.withTaskNames(t), nil
}

func (f *fakeStore) InsertTask(ctx context.Context, task store.Task) error {
	if f.insertTaskFn != nil {
		return f.insertTaskFn(ctx, task)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	task.CreatedAt = f.tick()
	task.UpdatedAt = task.CreatedAt
	f.tasks[task.ID] = task
	return nil
}

func (f *fakeStore) UpdateTask(_ context.Context, task store.Task, history *store.TaskHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tasks[task.ID]; !ok {
		return sql.ErrNoRows
	}
	task.UpdatedAt = f.tick()
	f.tasks[task.ID] = task
	if history != nil {
		entry := *history
		entry.CreatedAt = task.UpdatedAt
		f.history = append(f.history, entry)
	}
	return nil
}

func (f *fakeStore) DeleteTask(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tasks, id)
	return nil
}

func (f *fakeStore) ListTaskHistory(_ context.Context, taskID string) ([]store.TaskHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.TaskHistory, 0)
	for i := len(f.history) - 1; i >= 0; i-- {
		if f.history[i].TaskID == taskID {
			items = append(items, f.history[i])
		}
	}
	return items, nil
}

func (f *fakeStore) TaskStats(_ context.Context, scope policy.Filter, now time.Time) (store.TaskStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var stats store.TaskStats
	for _, t := range f.filterTasks(store.TaskFilter{Scope: scope}) {
		stats.Total++
		switch t.Status {
		case statusPending:
			stats.Pending++
		case statusInProgress:
			stats.InProgress++
		case statusCompleted:
			stats.Completed++
		}
		if isOverdue(t, now) {
			stats.Overdue++
		}
	}
	return stats, nil
}

func (f *fakeStore) DailyTaskCounts(context.Context, policy.Filter, time.Time) (map[string]int, error) {
	return map[string]int{}, nil
}

func (f *fakeStore) DomainTaskCounts(context.Context, time.Time, time.Time) (map[string]store.DomainTaskCount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := map[string]store.DomainTaskCount{}
	for _, t := range f.tasks {
		c := counts[t.Domain]
		c.Total++
		if t.Status == statusCompleted {
			c.Completed++
		}
		counts[t.Domain] = c
	}
	return counts, nil
}

func (f *fakeStore) AppendTaskAttachment(_ context.Context, taskID, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.tasks[taskID]
	t.Attachments = append(t.Attachments, url)
	f.tasks[taskID] = t
	return nil
}

func (f *fakeStore) ListTaskComments(_ context.Context, taskID string) ([]store.Comment, error) {
	return f.listComments(f.taskComments, taskID), nil
}

func (f *fakeStore) GetTaskComment(_ context.Context, id string) (store.Comment, error) {
	return f.getComment(f.taskComments, id)
}

func (f *fakeStore) InsertTaskComment(_ context.Context, c store.Comment) error {
	return f.insertComment(f.taskComments, c)
}

func (f *fakeStore) UpdateTaskComment(_ context.Context, id, body string) error {
	return f.updateComment(f.taskComments, id, body)
}

func (f *fakeStore) DeleteTaskComment(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.taskComments, id)
	return nil
}

// comments

func (f *fakeStore) listComments(comments map[string]store.Comment, parentID string) []store.Comment {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Comment, 0)
	for _, c := range comments {
		if c.ParentID == parentID {
			c.AuthorName = f.users[c.AuthorID].FullName()
			items = append(items, c)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items
}

func (f *fakeStore) getComment(comments map[string]store.Comment, id string) (store.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := comments[id]
	if !ok {
		return store.Comment{}, sql.ErrNoRows
	}
	return c, nil
}

func (f *fakeStore) insertComment(comments map[string]store.Comment, c store.Comment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = f.tick()
	}
	comments[c.ID] = c
	return nil
}

func (f *fakeStore) updateComment(comments map[string]store.Comment, id, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := comments[id]
	if !ok {
		return sql.ErrNoRows
	}
	c.Body = body
	comments[id] = c
	return nil
}

// notes

func (f *fakeStore) filterNotes(filter store.NoteFilter) []store.Note {
	items := make([]store.Note, 0)
	for _, n := range f.notes {
		switch {
		case !filter.Scope.Matches(n.Record()),
			filter.Priority != "" && n.Priority != filter.Priority,
			filter.Domain != "" && n.Domain != filter.Domain,
			filter.Author != "" && n.AuthorID != filter.Author,
			filter.IsPublic != nil && n.IsPublic != *filter.IsPublic,
			filter.Tag != "" && !strings.Contains(n.Tags, filter.Tag),
			filter.Search != "" && !strings.Contains(strings.ToLower(n.Title+" "+n.Description), strings.ToLower(filter.Search)):
			continue
		}
		n.AuthorName = f.users[n.AuthorID].FullName()
		items = append(items, n)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items
}

func (f *fakeStore) ListNotes(_ context.Context, filter store.NoteFilter) ([]store.Note, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := f.filterNotes(filter)
	return page(items, filter.Limit, filter.Offset), len(items), nil
}

func (f *fakeStore) CountNotes(_ context.Context, filter store.NoteFilter) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.filterNotes(filter)), nil
}

func (f *fakeStore) GetNote(_ context.Context, id string) (store.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.notes[id]
	if !ok {
		return store.Note{}, sql.ErrNoRows
	}
	n.AuthorName = f.users[n.AuthorID].FullName()
	return n, nil
}

func (f *fakeStore) InsertNote(_ context.Context, note store.Note) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	note.CreatedAt = f.tick()
	note.UpdatedAt = note.CreatedAt
	f.notes[note.ID] = note
	return nil
}

func (f *fakeStore) UpdateNote(_ context.Context, note store.Note) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.notes[note.ID]; !ok {
		return sql.ErrNoRows
	}
	note.UpdatedAt = f.tick()
	f.notes[note.ID] = note
	return nil
}

func (f *fakeStore) DeleteNote(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.notes, id)
	return nil
}

func (f *fakeStore) NoteStats(_ context.Context, scope policy.Filter) (store.NoteStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := store.NoteStats{DomainStats: map[string]int{}}
	for _, n := range f.filterNotes(store.NoteFilter{Scope: scope}) {
		stats.Total++
		switch n.Priority {
		case "high":
			stats.HighPriority++
		case "urgent":
			stats.Urgent++
		}
		if n.IsPublic {
			stats.Public++
		} else {
			stats.Private++
		}
		if n.Domain != "" {
			stats.DomainStats[n.Domain]++
		}
	}
	return stats, nil
}

func (f *fakeStore) AppendNoteAttachment(_ context.Context, noteID, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.notes[noteID]
	n.Attachments = append(n.Attachments, url)
	f.notes[noteID] = n
	return nil
}

func (f *fakeStore) ListNoteComments(_ context.Context, noteID string) ([]store.Comment, error) {
	return f.listComments(f.noteComments, noteID), nil
}

func (f *fakeStore) GetNoteComment(_ context.Context, id string) (store.Comment, error) {
	return f.getComment(f.noteComments, id)
}

func (f *fakeStore) InsertNoteComment(_ context.Context, c store.Comment) error {
	return f.insertComment(f.noteComments, c)
}

func (f *fakeStore) UpdateNoteComment(_ context.Context, id, body string) error {
	return f.updateComment(f.noteComments, id, body)
}

func (f *fakeStore) DeleteNoteComment(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.noteComments, id)
	return nil
}

// chat

func (f *fakeStore) ListChannels(_ context.Context, filter store.ChannelFilter) ([]store.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Channel, 0)
	for _, c := range f.channels {
		switch {
		case !filter.Scope.Matches(c.Record()),
			filter.Participant != "" && !c.HasParticipant(filter.Participant),
			filter.Type != "" && c.Type != filter.Type:
			continue
		}
		items = append(items, c)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (f *fakeStore) GetChannel(_ context.Context, id string) (store.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.channels[id]
	if !ok {
		return store.Channel{}, sql.ErrNoRows
	}
	c.Participants = append([]string(nil), c.Participants...)
	return c, nil
}

func (f *fakeStore) InsertChannel(_ context.Context, c store.Channel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c.CreatedAt = f.tick()
	c.UpdatedAt = c.CreatedAt
	f.channels[c.ID] = c
	for _, userID := range c.Participants {
		f.ensureStatus(c.ID, userID)
	}
	return nil
}

// ensureStatus mirrors the INSERT ... ON CONFLICT DO NOTHING on
// channel_user_status. Callers hold f.mu.
func (f *fakeStore) ensureStatus(channelID, userID string) {
	key := statusKey(channelID, userID)
	if _, ok := f.statuses[key]; !ok {
		f.statuses[key] = store.ChannelStatus{ChannelID: channelID, UserID: userID}
	}
}

func (f *fakeStore) UpdateChannel(_ context.Context, c store.Channel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.channels[c.ID]
	if !ok {
		return sql.ErrNoRows
	}
	c.Participants = existing.Participants
	f.channels[c.ID] = c
	return nil
}

func (f *fakeStore) AddParticipant(_ context.Context, channelID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.channels[channelID]
	if !c.HasParticipant(userID) {
		c.Participants = append(c.Participants, userID)
	}
	f.channels[channelID] = c
	f.ensureStatus(channelID, userID)
	return nil
}

func (f *fakeStore) RemoveParticipant(_ context.Context, channelID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.channels[channelID]
	kept := make([]string, 0, len(c.Participants))
	for _, id := range c.Participants {
		if id != userID {
			kept = append(kept, id)
		}
	}
	c.Participants = kept
	f.channels[channelID] = c
	delete(f.statuses, statusKey(channelID, userID))
	return nil
}

func (f *fakeStore) ListMessages(_ context.Context, channelID string, before *time.Time, limit int) ([]store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Message, 0)
	for _, m := range f.messages {
		if m.ChannelID != channelID || m.IsDeleted || (before != nil && !m.CreatedAt.Before(*before)) {
			continue
		}
		m.SenderName = f.users[m.SenderID].FullName()
		items = append(items, m)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	if limit > 0 && len(items) > limit {
		items = items[len(items)-limit:]
	}
	return items, nil
}

func (f *fakeStore) GetMessage(_ context.Context, id string) (store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return store.Message{}, sql.ErrNoRows
	}
	m.SenderName = f.users[m.SenderID].FullName()
	return m, nil
}

func (f *fakeStore) InsertMessage(_ context.Context, m store.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m.CreatedAt = f.tick()
	m.UpdatedAt = m.CreatedAt
	f.messages[m.ID] = m
	for _, userID := range f.channels[m.ChannelID].Participants {
		key := statusKey(m.ChannelID, userID)
		status, ok := f.statuses[key]
		if !ok || userID == m.SenderID {
			continue
		}
		status.UnreadCount++
		f.statuses[key] = status
	}
	return nil
}

func (f *fakeStore) UpdateMessageContent(_ context.Context, id, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.messages[id]
	m.Content = content
	m.IsEdited = true
	f.messages[id] = m
	return nil
}

func (f *fakeStore) SoftDeleteMessage(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.messages[id]
	m.IsDeleted = true
	f.messages[id] = m
	return nil
}

func reactionKey(userID, reaction string) string { return userID + "|" + reaction }

func (f *fakeStore) AddReaction(_ context.Context, messageID, userID, reaction string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := f.reactions[messageID]
	if set == nil {
		set = map[string]bool{}
		f.reactions[messageID] = set
	}
	key := reactionKey(userID, reaction)
	if set[key] {
		return false, nil
	}
	set[key] = true
	return true, nil
}

func (f *fakeStore) RemoveReaction(_ context.Context, messageID, userID, reaction string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := reactionKey(userID, reaction)
	if !f.reactions[messageID][key] {
		return false, nil
	}
	delete(f.reactions[messageID], key)
	return true, nil
}

func (f *fakeStore) ReactionCounts(_ context.Context, ids []string) (map[string]map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := map[string]map[string]int{}
	for _, id := range ids {
		for key := range f.reactions[id] {
			reaction := key[strings.Index(key, "|")+1:]
			if counts[id] == nil {
				counts[id] = map[string]int{}
			}
			counts[id][reaction]++
		}
	}
	return counts, nil
}

func (f *fakeStore) LastMessages(_ context.Context, ids []string) (map[string]store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	last := map[string]store.Message{}
	for _, id := range ids {
		for _, m := range f.messages {
			if m.ChannelID != id || m.IsDeleted {
				continue
			}
			if current, ok := last[id]; !ok || m.CreatedAt.After(current.CreatedAt) {
				last[id] = m
			}
		}
	}
	return last, nil
}

func statusKey(channelID, userID string) string { return channelID + "|" + userID }

func (f *fakeStore) ChannelStatuses(_ context.Context, userID string, ids []string) (map[string]store.ChannelStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	statuses := map[string]store.ChannelStatus{}
	for _, id := range ids {
		if status, ok := f.statuses[statusKey(id, userID)]; ok {
			statuses[id] = status
		}
	}
	return statuses, nil
}

func (f *fakeStore) MarkChannelRead(_ context.Context, channelID, userID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := statusKey(channelID, userID)
	status := f.statuses[key]
	status.ChannelID, status.UserID = channelID, userID
	status.LastReadAt = &at
	status.UnreadCount = 0
	f.statuses[key] = status
	return nil
}

func (f *fakeStore) ToggleChannelFlag(_ context.Context, channelID, userID, flag string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := statusKey(channelID, userID)
	status := f.statuses[key]
	status.ChannelID, status.UserID = channelID, userID
	var value bool
	switch flag {
	case "is_muted":
		status.IsMuted = !status.IsMuted
		value = status.IsMuted
	case "is_pinned":
		status.IsPinned = !status.IsPinned
		value = status.IsPinned
	}
	f.statuses[key] = status
	return value, nil
}

// reports

func (f *fakeStore) activityRecord(userID string) policy.Record {
	return policy.Record{
		policy.FieldUserID:     userID,
		policy.FieldUserDomain: f.users[userID].Domain,
	}
}

func (f *fakeStore) InsertActivity(_ context.Context, a store.Activity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a.CreatedAt = f.tick()
	f.activities = append(f.activities, a)
	return nil
}

func (f *fakeStore) DailyActivity(_ context.Context, scope policy.Filter, since time.Time) ([]store.DailyActivity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	byDay := map[string]*store.DailyActivity{}
	for _, a := range f.activities {
		if a.CreatedAt.Before(since) || !scope.Matches(f.activityRecord(a.UserID)) {
			continue
		}
		day := a.CreatedAt.UTC().Truncate(24 * time.Hour)
		row, ok := byDay[day.Format(time.DateOnly)]
		if !ok {
			row = &store.DailyActivity{Day: day}
			byDay[day.Format(time.DateOnly)] = row
		}
		switch {
		case a.Type == "login":
			row.Logins++
		case strings.HasPrefix(a.Type, "task_"):
			row.TaskActivities++
		case strings.HasPrefix(a.Type, "note_"):
			row.NoteActivities++
		}
		row.Total++
	}
	rows := make([]store.DailyActivity, 0, len(byDay))
	for _, row := range byDay {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Day.Before(rows[j].Day) })
	return rows, nil
}

func (f *fakeStore) UserMetrics(ctx context.Context, userID string, since, until time.Time) (store.UserMetrics, error) {
	if f.userMetricsFn != nil {
		return f.userMetricsFn(ctx, userID, since, until)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var m store.UserMetrics
	for _, t := range f.tasks {
		if t.AssignedTo != userID {
			continue
		}
		switch t.Status {
		case statusCompleted:
			m.TasksCompleted++
		case statusPending, statusInProgress:
			m.TasksPending++
		}
	}
	for _, n := range f.notes {
		if n.AuthorID == userID {
			m.NotesCreated++
		}
	}
	for _, a := range f.attendance {
		if a.UserID == userID {
			m.AttendanceTotal++
			if a.Status == "present" {
				m.AttendancePresent++
			}
		}
	}
	for _, a := range f.activities {
		if a.UserID == userID {
			m.ActivityCount++
		}
	}
	return m, nil
}

func (f *fakeStore) ActiveUserIDs(context.Context, time.Time) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	active := map[string]bool{}
	for _, a := range f.activities {
		active[a.UserID] = true
	}
	return active, nil
}

func (f *fakeStore) InsertPerformanceMetrics(_ context.Context, metrics []store.PerformanceMetric) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.perfMetrics = append(f.perfMetrics, metrics...)
	return nil
}

func (f *fakeStore) InsertAttendance(_ context.Context, a store.Attendance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a.CreatedAt = f.tick()
	f.attendance = append(f.attendance, a)
	return nil
}

func (f *fakeStore) ListAttendance(_ context.Context, scope policy.Filter, since time.Time) ([]store.Attendance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Attendance, 0)
	for _, a := range f.attendance {
		if a.MeetingDate.Before(since) || !scope.Matches(f.activityRecord(a.UserID)) {
			continue
		}
		a.UserName = f.users[a.UserID].FullName()
		items = append(items, a)
	}
	return items, nil
}

func (f *fakeStore) ListReports(_ context.Context, scope policy.Filter, reportType string) ([]store.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Report, 0)
	for _, r := range f.reports {
		if !scope.Matches(r.Record()) || (reportType != "" && r.Type != reportType) {
			continue
		}
		items = append(items, r)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].GeneratedAt.After(items[j].GeneratedAt) })
	return items, nil
}

func (f *fakeStore) GetReport(_ context.Context, id string) (store.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reports[id]
	if !ok {
		return store.Report{}, sql.ErrNoRows
	}
	return r, nil
}

func (f *fakeStore) InsertReport(_ context.Context, r store.Report) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.GeneratedAt.IsZero() {
		r.GeneratedAt = f.tick()
	}
	f.reports[r.ID] = r
	return nil
}

func (f *fakeStore) DeleteReport(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.reports, id)
	return nil
}

func (f *fakeStore) ListWidgets(_ context.Context, userID string) ([]store.Widget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Widget, 0)
	for _, w := range f.widgets {
		if w.UserID == userID {
			items = append(items, w)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Position < items[j].Position })
	return items, nil
}

func (f *fakeStore) GetWidget(_ context.Context, id string) (store.Widget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.widgets[id]
	if !ok {
		return store.Widget{}, sql.ErrNoRows
	}
	return w, nil
}

func (f *fakeStore) InsertWidget(_ context.Context, w store.Widget) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.widgets[w.ID] = w
	return nil
}

func (f *fakeStore) UpdateWidget(_ context.Context, w store.Widget) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.widgets[w.ID]; !ok {
		return sql.ErrNoRows
	}
	f.widgets[w.ID] = w
	return nil
}

func (f *fakeStore) DeleteWidget(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.widgets, id)
	return nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset > len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// fixtures

const testSecret = "test-secret"

func newTestService(fs *fakeStore) *Service {
	svc := New(config.Config{
		JWTSecret:  testSecret,
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
	}, fs, Options{})
	svc.passwords = authpw.NewService(fs).WithCost(bcrypt.MinCost)
	return svc
}

// seedUser stores an active user with password "password123".
func seedUser(t *testing.T, fs *fakeStore, id, role, domain string) store.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := store.User{
		ID:           id,
		Username:     id,
		Email:        id + "@example.org",
		PasswordHash: string(hash),
		FirstName:    strings.ToUpper(id[:1]) + id[1:],
		Role:         role,
		Domain:       domain,
		IsActive:     true,
	}
	fs.mu.Lock()
	fs.users[id] = user
	fs.mu.Unlock()
	return user
}

// seedOrg stores one user per role: board and junior in mmt, a second board
// member in comms.
func seedOrg(t *testing.T, fs *fakeStore) {
	t.Helper()
	seedUser(t, fs, "admin", "admin", "")
	seedUser(t, fs, "senior", "senior_council", "")
	seedUser(t, fs, "junior", "junior_council", "mmt")
	seedUser(t, fs, "board", "board_member", "mmt")
	seedUser(t, fs, "outsider", "board_member", "comms")
}

func tokenFor(t *testing.T, fs *fakeStore, userID string) string {
	t.Helper()
	user, err := fs.GetUserByID(context.Background(), userID)
	if err != nil {
		t.Fatalf("unknown user %s: %v", userID, err)
	}
	token, err := auth.IssueToken([]byte(testSecret), auth.Claims{
		Sub:    user.ID,
		Name:   user.FullName(),
		Role:   user.Role,
		Domain: user.Domain,
		JTI:    "jti-" + user.ID,
		Exp:    time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}
