// Package search finds tasks and notes through Meilisearch, falling back to
// Postgres pattern matching when the index is unavailable.
package search

import "council/api/internal/policy"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultTask ResultType = "task"
	ResultNote ResultType = "note"
)

// Result is a single search hit returned to the caller. The scope fields are
// kept so hits can be re-checked against the caller's visibility.
type Result struct {
	Type       ResultType `json:"type"`
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
	Domain     string     `json:"domain,omitempty"`
	Status     string     `json:"status,omitempty"`
	Priority   string     `json:"priority,omitempty"`
	AssignedTo string     `json:"-"`
	AssignedBy string     `json:"-"`
	Author     string     `json:"-"`
	IsPublic   bool       `json:"-"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	Limit      int
	Offset     int
	TaskScope  policy.Filter
	NoteScope  policy.Filter
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// TaskRecord is the data we index for a task.
type TaskRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
	Domain      string `json:"domain"`
	AssignedTo  string `json:"assignedTo"`
	AssignedBy  string `json:"assignedBy"`
}

// NoteRecord is the data we index for a note.
type NoteRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Purpose     string `json:"purpose"`
	Priority    string `json:"priority"`
	Domain      string `json:"domain"`
	Author      string `json:"author"`
	IsPublic    bool   `json:"isPublic"`
	Tags        string `json:"tags"`
}

// record exposes a hit to policy.Filter.Matches using the policy field names.
func (r Result) record() policy.Record {
	switch r.Type {
	case ResultTask:
		return policy.Record{
			policy.FieldDomain:     r.Domain,
			policy.FieldAssignedTo: r.AssignedTo,
			policy.FieldAssignedBy: r.AssignedBy,
		}
	default:
		return policy.Record{
			policy.FieldDomain: r.Domain,
			policy.FieldAuthor: r.Author,
			policy.FieldPublic: r.IsPublic,
		}
	}
}
