package search

import (
	"context"

	"go.uber.org/zap"
)

// Index is the write side of a search backend.
type Index interface {
	Healthy() bool
	IndexTasks(tasks ...TaskRecord) error
	IndexNotes(notes ...NoteRecord) error
	DeleteTask(id string) error
	DeleteNote(id string) error
}

// PrimarySearcher is a backend that can both search and be written to.
type PrimarySearcher interface {
	Searcher
	Index
}

// Service tries the primary index first and falls back to Postgres.
type Service struct {
	primary  PrimarySearcher
	fallback Searcher
	loader   *PgSearch
	logger   *zap.Logger
}

// NewService creates a search service. primary may be nil when Meilisearch is
// not configured.
func NewService(primary PrimarySearcher, fallback *PgSearch, logger *zap.Logger) *Service {
	s := &Service{primary: primary, loader: fallback, logger: logger.Named("search")}
	if fallback != nil {
		s.fallback = fallback
	}
	return s
}

// Search runs q and drops any hit outside the caller's task or note scope.
func (s *Service) Search(q Query) Response {
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(q)
		if err == nil {
			visible := filterVisible(results, q)
			// hits dropped by scope leave the estimate too high
			total -= len(results) - len(visible)
			return Response{Results: visible, Total: max(total, len(visible)), Query: q.Text}
		}
		s.logger.Warn("primary search failed, falling back", zap.Error(err))
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.fallback.Search(q)
	if err != nil {
		s.logger.Error("fallback search failed", zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: filterVisible(results, q), Total: total, Query: q.Text}
}

func filterVisible(results []Result, q Query) []Result {
	visible := make([]Result, 0, len(results))
	for _, r := range results {
		scope := q.NoteScope
		if r.Type == ResultTask {
			scope = q.TaskScope
		}
		if scope.Matches(r.record()) {
			visible = append(visible, r)
		}
	}
	return visible
}

func (s *Service) enabled() bool {
	return s.primary != nil && s.primary.Healthy()
}

// IndexTask pushes a task to the primary index in the background.
func (s *Service) IndexTask(t TaskRecord) {
	if !s.enabled() {
		return
	}
	go func() {
		if err := s.primary.IndexTasks(t); err != nil {
			s.logger.Warn("index task", zap.String("task_id", t.ID), zap.Error(err))
		}
	}()
}

func (s *Service) IndexNote(n NoteRecord) {
	if !s.enabled() {
		return
	}
	go func() {
		if err := s.primary.IndexNotes(n); err != nil {
			s.logger.Warn("index note", zap.String("note_id", n.ID), zap.Error(err))
		}
	}()
}

func (s *Service) DeleteTask(id string) {
	if !s.enabled() {
		return
	}
	go func() {
		if err := s.primary.DeleteTask(id); err != nil {
			s.logger.Warn("delete task from index", zap.String("task_id", id), zap.Error(err))
		}
	}()
}

func (s *Service) DeleteNote(id string) {
	if !s.enabled() {
		return
	}
	go func() {
		if err := s.primary.DeleteNote(id); err != nil {
			s.logger.Warn("delete note from index", zap.String("note_id", id), zap.Error(err))
		}
	}()
}

// ReindexAllFromPG reloads every task and note into the primary index.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if !s.enabled() || s.loader == nil {
		return
	}
	tasks, notes, err := s.loader.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Error("reindex load failed", zap.Error(err))
		return
	}
	if err := s.primary.IndexTasks(tasks...); err != nil {
		s.logger.Error("reindex tasks", zap.Error(err))
	}
	if err := s.primary.IndexNotes(notes...); err != nil {
		s.logger.Error("reindex notes", zap.Error(err))
	}
	s.logger.Info("search reindexed", zap.Int("tasks", len(tasks)), zap.Int("notes", len(notes)))
}
