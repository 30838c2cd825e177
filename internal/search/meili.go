package search

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"
)

var errIndexDown = errors.New("meilisearch unhealthy")

type meiliIndex struct {
	uid        string
	kind       ResultType
	filterable []string
	searchable []string
}

// Order matters: multi-search results are merged task hits first.
var meiliIndexes = []meiliIndex{
	{
		uid:        "council_tasks",
		kind:       ResultTask,
		filterable: []string{"domain", "status", "priority", "assignedTo", "assignedBy"},
		searchable: []string{"title", "description"},
	},
	{
		uid:        "council_notes",
		kind:       ResultNote,
		filterable: []string{"domain", "priority", "author", "isPublic"},
		searchable: []string{"title", "description", "purpose", "tags"},
	},
}

func indexFor(kind ResultType) string {
	for _, idx := range meiliIndexes {
		if idx.kind == kind {
			return idx.uid
		}
	}
	return ""
}

// Meili is the primary Searcher. It checks server health in the background and
// reports unhealthy until the next successful check after any failure.
type Meili struct {
	client   meili.ServiceManager
	logger   *zap.Logger
	up       atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
}

// NewMeili never fails: an unreachable server just starts out unhealthy.
func NewMeili(url, apiKey string, logger *zap.Logger) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		logger: logger.Named("meili").With(zap.String("url", url)),
		stop:   make(chan struct{}),
	}
	m.checkHealth()
	go m.watch(10 * time.Second)
	return m
}

// checkHealth pings the server and (re)applies index settings on a down-to-up edge.
func (m *Meili) checkHealth() {
	_, err := m.client.Health()
	if err != nil {
		if m.up.Swap(false) {
			m.logger.Warn("meilisearch went down", zap.Error(err))
		}
		return
	}
	if !m.up.Swap(true) {
		m.logger.Info("meilisearch reachable, applying index settings")
		m.ensureIndexes()
	}
}

func (m *Meili) watch(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.checkHealth()
		}
	}
}

func (m *Meili) ensureIndexes() {
	for _, idx := range meiliIndexes {
		log := m.logger.With(zap.String("index", idx.uid))
		if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: idx.uid, PrimaryKey: "id"}); err != nil {
			log.Debug("create index", zap.Error(err))
		}
		index := m.client.Index(idx.uid)
		attrs := make([]interface{}, 0, len(idx.filterable))
		for _, name := range idx.filterable {
			attrs = append(attrs, name)
		}
		if _, err := index.UpdateFilterableAttributes(&attrs); err != nil {
			log.Warn("set filterable attributes", zap.Error(err))
		}
		searchable := idx.searchable
		if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
			log.Warn("set searchable attributes", zap.Error(err))
		}
	}
}

// Close stops the background health check. Safe to call more than once.
func (m *Meili) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Meili) Healthy() bool { return m.up.Load() }

// Search runs one multi-search across the selected indexes, each restricted
// to the caller's scope so paging and totals only see visible documents.
// Totals are Meilisearch estimates summed over indexes.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.up.Load() {
		return nil, 0, errIndexDown
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	kinds := map[string]ResultType{}
	req := &meili.MultiSearchRequest{}
	for _, idx := range meiliIndexes {
		if q.FilterType != "" && q.FilterType != idx.kind {
			continue
		}
		scope := q.NoteScope
		if idx.kind == ResultTask {
			scope = q.TaskScope
		}
		filter, ok := meiliFilter(scope)
		if !ok {
			continue
		}
		kinds[idx.uid] = idx.kind
		sr := &meili.SearchRequest{
			IndexUID:              idx.uid,
			Query:                 q.Text,
			Limit:                 int64(limit),
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"title", "description"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		}
		if filter != "" {
			sr.Filter = filter
		}
		req.Queries = append(req.Queries, sr)
	}
	if len(req.Queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(req)
	if err != nil {
		m.up.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var (
		results []Result
		total   int
	)
	for _, part := range resp.Results {
		total += int(part.EstimatedTotalHits)
		for _, hit := range part.Hits {
			result, err := decodeHit(hit, kinds[part.IndexUID])
			if err != nil {
				m.logger.Warn("skip undecodable hit", zap.String("index", part.IndexUID), zap.Error(err))
				continue
			}
			results = append(results, result)
		}
	}
	return results, total, nil
}

// meiliHit covers the union of task and note documents plus highlights.
type meiliHit struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Purpose     string `json:"purpose"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
	Domain      string `json:"domain"`
	AssignedTo  string `json:"assignedTo"`
	AssignedBy  string `json:"assignedBy"`
	Author      string `json:"author"`
	IsPublic    bool   `json:"isPublic"`
	Formatted   struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"_formatted"`
}

func decodeHit(hit meili.Hit, kind ResultType) (Result, error) {
	raw, err := json.Marshal(hit)
	if err != nil {
		return Result{}, err
	}
	var h meiliHit
	if err := json.Unmarshal(raw, &h); err != nil {
		return Result{}, err
	}

	r := Result{
		Type:     kind,
		ID:       h.ID,
		Domain:   h.Domain,
		Priority: h.Priority,
		Title:    pick(h.Formatted.Title, h.Title),
		Snippet:  pick(h.Formatted.Description, h.Description),
	}
	if kind == ResultTask {
		r.Status = h.Status
		r.AssignedTo = h.AssignedTo
		r.AssignedBy = h.AssignedBy
	} else {
		r.Author = h.Author
		r.IsPublic = h.IsPublic
		r.Snippet = pick(r.Snippet, h.Purpose)
	}
	return r, nil
}

// pick returns the first value that is not blank.
func pick(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func (m *Meili) IndexTasks(tasks ...TaskRecord) error {
	if len(tasks) == 0 {
		return nil
	}
	_, err := m.client.Index(indexFor(ResultTask)).AddDocuments(tasks, nil)
	return err
}

func (m *Meili) IndexNotes(notes ...NoteRecord) error {
	if len(notes) == 0 {
		return nil
	}
	_, err := m.client.Index(indexFor(ResultNote)).AddDocuments(notes, nil)
	return err
}

func (m *Meili) DeleteTask(id string) error {
	_, err := m.client.Index(indexFor(ResultTask)).DeleteDocument(id, nil)
	return err
}

func (m *Meili) DeleteNote(id string) error {
	_, err := m.client.Index(indexFor(ResultNote)).DeleteDocument(id, nil)
	return err
}
