package app

import (
	"context"
	"strings"

	"council/api/internal/policy"
	"council/api/internal/search"
)

const maxSearchLimit = 50

// Search queries tasks and notes; every hit is re-checked against the
// caller's scope before it is returned.
func (s *Service) Search(ctx context.Context, session Session, text, resultType string, limit, offset int) (search.Response, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	filterType := search.ResultType(resultType)
	switch filterType {
	case "", search.ResultTask, search.ResultNote:
	default:
		return search.Response{}, badRequest("INVALID_SEARCH_TYPE", "type must be task or note")
	}
	if limit <= 0 || limit > maxSearchLimit {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	actor := session.Actor()
	return s.search.Search(search.Query{
		Text:       text,
		FilterType: filterType,
		Limit:      limit,
		Offset:     offset,
		TaskScope:  policy.Tasks(actor),
		NoteScope:  policy.Notes(actor),
	}), nil
}
