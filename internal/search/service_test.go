package search

import (
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"council/api/internal/policy"
	"council/api/internal/rbac"
)

type fakePrimary struct {
	mu      sync.Mutex
	healthy bool
	results []Result
	err     error
	tasks   []TaskRecord
	indexed chan struct{}
}

func (f *fakePrimary) Healthy() bool { return f.healthy }

func (f *fakePrimary) Search(Query) ([]Result, int, error) {
	return f.results, len(f.results), f.err
}

func (f *fakePrimary) IndexTasks(tasks ...TaskRecord) error {
	f.mu.Lock()
	f.tasks = append(f.tasks, tasks...)
	f.mu.Unlock()
	if f.indexed != nil {
		f.indexed <- struct{}{}
	}
	return nil
}

func (f *fakePrimary) IndexNotes(...NoteRecord) error { return nil }
func (f *fakePrimary) DeleteTask(string) error        { return nil }
func (f *fakePrimary) DeleteNote(string) error        { return nil }

func boardQuery() Query {
	actor := policy.Actor{ID: "board", Role: rbac.RoleBoardMember, Domain: "ops"}
	return Query{Text: "budget", TaskScope: policy.Tasks(actor), NoteScope: policy.Notes(actor)}
}

func TestSearchDropsHitsOutsideScope(t *testing.T) {
	primary := &fakePrimary{healthy: true, results: []Result{
		{Type: ResultTask, ID: "t-mine", AssignedTo: "board", Domain: "hr"},
		{Type: ResultTask, ID: "t-other", AssignedTo: "someone", Domain: "hr"},
		{Type: ResultNote, ID: "n-public", Author: "x", IsPublic: true},
		{Type: ResultNote, ID: "n-private", Author: "x", Domain: "ops"},
	}}
	svc := NewService(primary, nil, zap.NewNop())

	resp := svc.Search(boardQuery())

	got := map[string]bool{}
	for _, r := range resp.Results {
		got[r.ID] = true
	}
	if len(got) != 2 || !got["t-mine"] || !got["n-public"] {
		t.Fatalf("unexpected visible results: %+v", resp.Results)
	}
	if resp.Total != 2 {
		t.Fatalf("expected total 2, got %d", resp.Total)
	}
}

func TestSearchFallsBackWhenPrimaryErrors(t *testing.T) {
	primary := &fakePrimary{healthy: true, err: errors.New("boom")}
	svc := &Service{
		primary:  primary,
		fallback: &fakePrimary{healthy: true, results: []Result{{Type: ResultNote, ID: "n1", IsPublic: true}}},
		logger:   zap.NewNop(),
	}

	resp := svc.Search(boardQuery())
	if len(resp.Results) != 1 || resp.Results[0].ID != "n1" {
		t.Fatalf("expected fallback result, got %+v", resp.Results)
	}
}

func TestSearchWithoutBackendsReturnsEmpty(t *testing.T) {
	svc := NewService(nil, nil, zap.NewNop())
	resp := svc.Search(boardQuery())
	if resp.Results == nil || len(resp.Results) != 0 {
		t.Fatalf("expected empty non-nil results, got %#v", resp.Results)
	}
}

func TestIndexTaskSkipsUnhealthyPrimary(t *testing.T) {
	primary := &fakePrimary{healthy: false}
	svc := NewService(primary, nil, zap.NewNop())
	svc.IndexTask(TaskRecord{ID: "t1"})
	if len(primary.tasks) != 0 {
		t.Fatal("unhealthy primary should not be written")
	}

	primary.healthy = true
	primary.indexed = make(chan struct{}, 1)
	svc.IndexTask(TaskRecord{ID: "t2"})
	select {
	case <-primary.indexed:
	case <-time.After(time.Second):
		t.Fatal("task was not indexed")
	}
}
