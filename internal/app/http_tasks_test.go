package app

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"council/api/internal/store"
)

func seedTask(fs *fakeStore, task store.Task) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if task.Status == "" {
		task.Status = statusPending
	}
	if task.Priority == "" {
		task.Priority = "medium"
	}
	task.CreatedAt = fs.tick()
	task.UpdatedAt = task.CreatedAt
	fs.tasks[task.ID] = task
}

// seedTasks stores one assigned mmt task, one comms task and one unassigned
// mmt task.
func seedTasks(fs *fakeStore) {
	seedTask(fs, store.Task{ID: "t-mmt", Title: "Shoot event", Domain: "mmt", AssignedTo: "board", AssignedBy: "junior"})
	seedTask(fs, store.Task{ID: "t-comms", Title: "Press release", Domain: "comms", AssignedTo: "outsider", AssignedBy: "senior"})
	seedTask(fs, store.Task{ID: "t-open", Title: "Edit reel", Domain: "mmt", AssignedBy: "admin"})
}

func TestTaskVisibilityMatrix(t *testing.T) {
	fs := newFakeStore()
	seedOrg(t, fs)
	seedTasks(fs)
	handler := NewHTTPServer(newTestService(fs), "*", nil).Handler()

	visible := map[string]map[string]bool{
		"admin":    {"t-mmt": true, "t-comms": true, "t-open": true},
		"senior":   {"t-mmt": true, "t-comms": true, "t-open": true},
		"junior":   {"t-mmt": true, "t-open": true},
		"board":    {"t-mmt": true, "t-open": true},
		"outsider": {"t-comms": true},
	}
	for actor, tasks := range visible {
		token := tokenFor(t, fs, actor)
		for _, taskID := range []string{"t-mmt", "t-comms", "t-open"} {
			t.Run(actor+"/"+taskID, func(t *testing.T) {
				rr := do(t, handler, http.MethodGet, "/api/tasks/"+taskID+"/", token, nil)
				want := http.StatusNotFound
				if tasks[taskID] {
					want = http.StatusOK
				}
				assertStatus(t, rr, want)
			})
		}

		t.Run(actor+"/list", func(t *testing.T) {
			rr := do(t, handler, http.MethodGet, "/api/tasks/", token, nil)
			assertStatus(t, rr, http.StatusOK)
			payload := decodeMap(t, rr)
			if count := int(payload["count"].(float64)); count != len(tasks) {
				t.Fatalf("expected %d visible tasks, got %d", len(tasks), count)
			}
		})
	}
}

func TestTeamTasksWidensBoardView(t *testing.T) {
	fs := newFakeStore()
	seedOrg(t, fs)
	seedTasks(fs)
	seedTask(fs, store.Task{ID: "t-peer", Title: "Peer task", Domain: "mmt", AssignedTo: "junior", AssignedBy: "admin"})
	handler := NewHTTPServer(newTestService(fs), "*", nil).Handler()
	token := tokenFor(t, fs, "board")

	rr := do(t, handler, http.MethodGet, "/api/tasks/", token, nil)
	if count := int(decodeMap(t, rr)["count"].(float64)); count != 2 {
		t.Fatalf("expected 2 tasks in the general view, got %d", count)
	}

	rr = do(t, handler, http.MethodGet, "/api/tasks/team-tasks", token, nil)
	assertStatus(t, rr, http.StatusOK)
	if items := decodeList(t, rr); len(items) != 3 {
		t.Fatalf("expected the whole mmt domain in team tasks, got %d", len(items))
	}

	rr = do(t, handler, http.MethodGet, "/api/tasks/my-tasks", token, nil)
	if items := decodeList(t, rr); len(items) != 1 || items[0]["id"] != "t-mmt" {
		t.Fatalf("unexpected my-tasks %v", items)
	}
}

func TestCreateTaskRules(t *testing.T) {
	fs := newFakeStore()
	seedOrg(t, fs)
	seedUser(t, fs, "drifter", "junior_council", "")
	handler := NewHTTPServer(newTestService(fs), "*", nil).Handler()

	rr := do(t, handler, http.MethodPost, "/api/tasks/", tokenFor(t, fs, "board"), map[string]any{"title": "Nope"})
	assertErrorCode(t, rr, http.StatusForbidden, "FORBIDDEN")

	rr = do(t, handler, http.MethodPost, "/api/tasks/", tokenFor(t, fs, "drifter"), map[string]any{"title": "Nope"})
	assertErrorCode(t, rr, http.StatusForbidden, "FORBIDDEN")

	rr = do(t, handler, http.MethodPost, "/api/tasks/", tokenFor(t, fs, "junior"), map[string]any{
		"title": "Cover the fest", "domain": "comms", "assigned_to": "board",
	})
	assertStatus(t, rr, http.StatusCreated)
	created := decodeMap(t, rr)
	if created["domain"] != "mmt" {
		t.Fatalf("expected junior task to be forced into mmt, got %v", created["domain"])
	}
	if created["status"] != "pending" || created["priority"] != "medium" || created["assigned_by"] != "junior" {
		t.Fatalf("unexpected defaults %v", created)
	}

	rr = do(t, handler, http.MethodPost, "/api/tasks/", tokenFor(t, fs, "admin"), map[string]any{
		"title": "Ghost", "assigned_to": "nobody",
	})
	assertErrorCode(t, rr, http.StatusBadRequest, "INVALID_ASSIGNEE")

	rr = do(t, handler, http.MethodPost, "/api/tasks/", tokenFor(t, fs, "admin"), map[string]any{"title": ""})
	assertErrorCode(t, rr, http.StatusBadRequest, "VALIDATION_FAILED")

	if len(fs.activities) == 0 || fs.activities[len(fs.activities)-1].Type != "task_created" {
		t.Fatalf("expected a task_created activity, got %v", fs.activities)
	}
}

func TestTaskStatusLifecycle(t *testing.T) {
	fs := newFakeStore()
	seedOrg(t, fs)
	seedTasks(fs)
	handler := NewHTTPServer(newTestService(fs), "*", nil).Handler()
	board := tokenFor(t, fs, "board")

	rr := do(t, handler, http.MethodPost, "/api/tasks/t-mmt/status", board, map[string]any{"status": "completed"})
	assertStatus(t, rr, http.StatusOK)
	if decodeMap(t, rr)["completed_at"] == nil {
		t.Fatal("expected completed_at to be stamped")
	}

	rr = do(t, handler, http.MethodPost, "/api/tasks/t-mmt/status", board, map[string]any{"status": "in_progress"})
	assertStatus(t, rr, http.StatusOK)
	if completedAt := decodeMap(t, rr)["completed_at"]; completedAt != nil {
		t.Fatalf("expected completed_at cleared, got %v", completedAt)
	}

	rr = do(t, handler, http.MethodGet, "/api/tasks/t-mmt/history", board, nil)
	assertStatus(t, rr, http.StatusOK)
	history := decodeList(t, rr)
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(history))
	}
	if history[0]["old_value"] != "completed" || history[0]["new_value"] != "in_progress" {
		t.Fatalf("expected newest transition first, got %v", history[0])
	}

	// no-op transitions leave no history
	rr = do(t, handler, http.MethodPost, "/api/tasks/t-mmt/status", board, map[string]any{"status": "in_progress"})
	assertStatus(t, rr, http.StatusOK)
	if len(fs.history) != 2 {
		t.Fatalf("expected history unchanged, got %d", len(fs.history))
	}

	rr = do(t, handler, http.MethodPost, "/api/tasks/t-mmt/status", board, map[string]any{"status": "archived"})
	assertErrorCode(t, rr, http.StatusBadRequest, "VALIDATION_FAILED")
}

func TestBoardMemberTaskEdits(t *testing.T) {
	fs := newFakeStore()
	seedOrg(t, fs)
	seedTasks(fs)
	handler := NewHTTPServer(newTestService(fs), "*", nil).Handler()
	board := tokenFor(t, fs, "board")

	tests := []struct {
		name   string
		method string
		path   string
		body   map[string]any
		want   int
	}{
		{name: "status on own task", method: http.MethodPatch, path: "/api/tasks/t-mmt", body: map[string]any{"status": "in_progress"}, want: http.StatusOK},
		{name: "title on own task", method: http.MethodPatch, path: "/api/tasks/t-mmt", body: map[string]any{"title": "Renamed"}, want: http.StatusForbidden},
		{name: "status on unassigned domain task", method: http.MethodPost, path: "/api/tasks/t-open/status", body: map[string]any{"status": "completed"}, want: http.StatusForbidden},
		{name: "status on invisible task", method: http.MethodPost, path: "/api/tasks/t-comms/status", body: map[string]any{"status": "completed"}, want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertStatus(t, do(t, handler, tt.method, tt.path, board, tt.body), tt.want)
		})
	}
}

func TestJuniorCannotMoveTaskOutOfDomain(t *testing.T) {
	fs := newFakeStore()
	seedOrg(t, fs)
	seedTasks(fs)
	handler := NewHTTPServer(newTestService(fs), "*", nil).Handler()

	rr := do(t, handler, http.MethodPut, "/api/tasks/t-mmt", tokenFor(t, fs, "junior"), map[string]any{"domain": "comms"})
	assertErrorCode(t, rr, http.StatusForbidden, "FORBIDDEN")
}

func TestDeleteTaskRequiresAdmin(t *testing.T) {
	fs := newFakeStore()
	seedOrg(t, fs)
	seedTasks(fs)
	handler := NewHTTPServer(newTestService(fs), "*", nil).Handler()

	assertStatus(t, do(t, handler, http.MethodDelete, "/api/tasks/t-mmt", tokenFor(t, fs, "senior"), nil), http.StatusForbidden)
	assertStatus(t, do(t, handler, http.MethodDelete, "/api/tasks/t-mmt", tokenFor(t, fs, "admin"), nil), http.StatusNoContent)
	assertStatus(t, do(t, handler, http.MethodGet, "/api/tasks/t-mmt", tokenFor(t, fs, "admin"), nil), http.StatusNotFound)
}

func TestTaskComments(t *testing.T) {
	fs := newFakeStore()
	seedOrg(t, fs)
	seedTasks(fs)
	handler := NewHTTPServer(newTestService(fs), "*", nil).Handler()
	board := tokenFor(t, fs, "board")

	rr := do(t, handler, http.MethodPost, "/api/tasks/t-mmt/comments", board, map[string]any{"content": "  On it  "})
	assertStatus(t, rr, http.StatusCreated)
	comment := decodeMap(t, rr)
	commentID, _ := comment["id"].(string)
	if comment["content"] != "On it" {
		t.Fatalf("expected trimmed content, got %v", comment["content"])
	}

	rr = do(t, handler, http.MethodPatch, "/api/tasks/t-mmt/comments/"+commentID, tokenFor(t, fs, "junior"), map[string]any{"content": "hijack"})
	assertErrorCode(t, rr, http.StatusForbidden, "FORBIDDEN")

	rr = do(t, handler, http.MethodPut, "/api/tasks/t-open/comments/"+commentID, board, map[string]any{"content": "wrong parent"})
	assertStatus(t, rr, http.StatusNotFound)

	rr = do(t, handler, http.MethodGet, "/api/tasks/t-mmt/comments", board, nil)
	if items := decodeList(t, rr); len(items) != 1 {
		t.Fatalf("expected 1 comment, got %d", len(items))
	}

	rr = do(t, handler, http.MethodDelete, "/api/tasks/t-mmt/comments/"+commentID, tokenFor(t, fs, "admin"), nil)
	assertStatus(t, rr, http.StatusNoContent)
}

func TestTaskOverdueFlags(t *testing.T) {
	fs := newFakeStore()
	seedOrg(t, fs)
	past := time.Now().Add(-72 * time.Hour)
	seedTask(fs, store.Task{ID: "t-late", Title: "Late", Domain: "mmt", AssignedTo: "board", AssignedBy: "admin", DueDate: &past})
	handler := NewHTTPServer(newTestService(fs), "*", nil).Handler()

	rr := do(t, handler, http.MethodGet, "/api/tasks/t-late", tokenFor(t, fs, "board"), nil)
	payload := decodeMap(t, rr)
	if payload["is_overdue"] != true {
		t.Fatalf("expected overdue task, got %v", payload["is_overdue"])
	}
	if days, _ := payload["days_remaining"].(float64); days >= 0 {
		t.Fatalf("expected negative days_remaining, got %v", payload["days_remaining"])
	}

	rr = do(t, handler, http.MethodGet, "/api/tasks/statistics", tokenFor(t, fs, "board"), nil)
	if stats := decodeMap(t, rr); stats["overdue_tasks"] != float64(1) {
		t.Fatalf("expected 1 overdue task, got %v", stats)
	}
}

func TestRecentTasksFallsBackToWeek(t *testing.T) {
	fs := newFakeStore()
	seedOrg(t, fs)
	seedTasks(fs)
	svc := newTestService(fs)
	svc.now = func() time.Time { return time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC) }
	handler := NewHTTPServer(svc, "*", nil).Handler()
	admin := tokenFor(t, fs, "admin")

	tests := []struct {
		filter string
		want   int
	}{
		{filter: "30d", want: 3},
		{filter: "7d", want: 0},
		{filter: "1y", want: 0},
		{filter: "", want: 0},
	}
	for _, tt := range tests {
		t.Run("filter="+tt.filter, func(t *testing.T) {
			rr := do(t, handler, http.MethodGet, "/api/tasks/recent?time_filter="+tt.filter, admin, nil)
			assertStatus(t, rr, http.StatusOK)
			if got := len(decodeList(t, rr)); got != tt.want {
				t.Fatalf("expected %d recent tasks, got %d", tt.want, got)
			}
		})
	}
}

func TestTaskListFiltersAndOrdering(t *testing.T) {
	fs := newFakeStore()
	seedOrg(t, fs)
	seedTasks(fs)
	fs.mu.Lock()
	comms := fs.tasks["t-comms"]
	comms.Status, comms.Priority = "in_progress", "high"
	fs.tasks["t-comms"] = comms
	unassigned := fs.tasks["t-open"]
	unassigned.Priority = "low"
	fs.tasks["t-open"] = unassigned
	fs.mu.Unlock()
	handler := NewHTTPServer(newTestService(fs), "*", nil).Handler()
	admin := tokenFor(t, fs, "admin")

	tests := []struct {
		name  string
		query string
		want  []string
		count int
	}{
		{name: "default newest first", query: "", want: []string{"t-open", "t-comms", "t-mmt"}, count: 3},
		{name: "status", query: "status=in_progress", want: []string{"t-comms"}, count: 1},
		{name: "priority", query: "priority=medium", want: []string{"t-mmt"}, count: 1},
		{name: "domain", query: "domain=mmt", want: []string{"t-open", "t-mmt"}, count: 2},
		{name: "assigned_to", query: "assigned_to=board", want: []string{"t-mmt"}, count: 1},
		{name: "search ignores case", query: "search=REEL", want: []string{"t-open"}, count: 1},
		{name: "search wildcard is literal", query: "search=%25", want: []string{}, count: 0},
		{name: "title ascending", query: "ordering=title", want: []string{"t-open", "t-comms", "t-mmt"}, count: 3},
		{name: "title descending", query: "ordering=-title", want: []string{"t-mmt", "t-comms", "t-open"}, count: 3},
		{name: "priority descending", query: "ordering=-priority", want: []string{"t-comms", "t-mmt", "t-open"}, count: 3},
		{name: "limit keeps total", query: "limit=1", want: []string{"t-open"}, count: 3},
		{name: "offset", query: "limit=1&offset=2", want: []string{"t-mmt"}, count: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, handler, http.MethodGet, "/api/tasks/?"+tt.query, admin, nil)
			assertStatus(t, rr, http.StatusOK)
			payload := decodeMap(t, rr)
			if count := int(payload["count"].(float64)); count != tt.count {
				t.Fatalf("expected count %d, got %d", tt.count, count)
			}
			results, _ := payload["results"].([]any)
			got := make([]string, 0, len(results))
			for _, item := range results {
				got = append(got, item.(map[string]any)["id"].(string))
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}

	assertErrorCode(t, do(t, handler, http.MethodGet, "/api/tasks/?status=done", admin, nil), http.StatusBadRequest, "VALIDATION_FAILED")
	assertErrorCode(t, do(t, handler, http.MethodGet, "/api/tasks/?priority=asap", admin, nil), http.StatusBadRequest, "VALIDATION_FAILED")
}
