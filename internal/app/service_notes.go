package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"council/api/internal/blob"
	"council/api/internal/policy"
	"council/api/internal/rbac"
	"council/api/internal/revisions"
	"council/api/internal/search"
	"council/api/internal/store"
	"council/api/internal/util"
)

type NoteListInput struct {
	Priority string `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	Domain   string
	Author   string
	IsPublic *bool
	Search   string
	Tag      string
	Ordering string
	Limit    int
	Offset   int
}

type CreateNoteInput struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description"`
	Purpose     string `json:"purpose"`
	Priority    string `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	Domain      string `json:"domain" validate:"omitempty,oneof=mmt photography comms mis hr ops editorial design promotions"`
	IsPublic    bool   `json:"is_public"`
	Tags        string `json:"tags" validate:"max=500"`
}

type UpdateNoteInput struct {
	Title       *string `json:"title" validate:"omitempty,min=1,max=200"`
	Description *string `json:"description"`
	Purpose     *string `json:"purpose"`
	Priority    *string `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	Domain      *string `json:"domain" validate:"omitempty,oneof=mmt photography comms mis hr ops editorial design promotions"`
	IsPublic    *bool   `json:"is_public"`
	Tags        *string `json:"tags" validate:"omitempty,max=500"`
}

func noteRecord(n store.Note) search.NoteRecord {
	return search.NoteRecord{
		ID:          n.ID,
		Title:       n.Title,
		Description: n.Description,
		Purpose:     n.Purpose,
		Priority:    n.Priority,
		Domain:      n.Domain,
		Author:      n.AuthorID,
		IsPublic:    n.IsPublic,
		Tags:        n.Tags,
	}
}

func noteContent(n store.Note) revisions.Content {
	return revisions.Content{
		Title:       n.Title,
		Description: n.Description,
		Purpose:     n.Purpose,
		Priority:    n.Priority,
		Domain:      n.Domain,
		Tags:        n.Tags,
		IsPublic:    n.IsPublic,
	}
}

func noteList(notes []store.Note) []map[string]any {
	items := make([]map[string]any, 0, len(notes))
	for _, note := range notes {
		items = append(items, notePayload(note))
	}
	return items
}

// normalizeTags trims each comma separated tag and drops blanks.
func normalizeTags(tags string) string {
	return strings.Join(store.Note{Tags: tags}.TagList(), ",")
}

func (s *Service) ListNotes(ctx context.Context, session Session, input NoteListInput) (map[string]any, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, err
	}
	notes, total, err := s.store.ListNotes(ctx, store.NoteFilter{
		Scope:    policy.Notes(session.Actor()),
		Priority: input.Priority,
		Domain:   input.Domain,
		Author:   input.Author,
		IsPublic: input.IsPublic,
		Search:   strings.TrimSpace(input.Search),
		Tag:      strings.TrimSpace(input.Tag),
		Ordering: firstNonBlank(input.Ordering, "-created_at"),
		Limit:    input.Limit,
		Offset:   input.Offset,
	})
	if err != nil {
		return nil, err
	}
	return listPayload("results", noteList(notes), total), nil
}

func (s *Service) visibleNote(ctx context.Context, session Session, noteID string) (store.Note, error) {
	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		return store.Note{}, err
	}
	if !policy.Notes(session.Actor()).Matches(note.Record()) {
		return store.Note{}, sql.ErrNoRows
	}
	return note, nil
}

func canEditNote(session Session, note store.Note) bool {
	return note.AuthorID == session.UserID || rbac.Can(session.role(), rbac.ActionManageNotes)
}

func (s *Service) CreateNote(ctx context.Context, session Session, input CreateNoteInput) (map[string]any, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, err
	}
	domain := input.Domain
	if session.role() == rbac.RoleJuniorCouncil {
		if session.Domain == "" {
			return nil, forbidden("Junior Council members must have a domain to create notes.")
		}
		domain = session.Domain
	}

	note := store.Note{
		ID:          util.NewID("note"),
		Title:       strings.TrimSpace(input.Title),
		Description: input.Description,
		Purpose:     input.Purpose,
		Priority:    firstNonBlank(input.Priority, "medium"),
		Domain:      domain,
		AuthorID:    session.UserID,
		IsPublic:    input.IsPublic,
		Tags:        normalizeTags(input.Tags),
		Attachments: []string{},
	}
	if err := s.store.InsertNote(ctx, note); err != nil {
		return nil, err
	}
	created, err := s.store.GetNote(ctx, note.ID)
	if err != nil {
		return nil, err
	}

	if s.revisions != nil {
		if err := s.revisions.Init(created.ID, noteContent(created), session.UserName); err != nil {
			s.logger.Error("init note revisions", zap.String("note_id", created.ID), zap.Error(err))
		}
	}
	s.recordActivity(ctx, session.UserID, "note_created", "Created note: "+created.Title, map[string]any{"note_id": created.ID})
	s.search.IndexNote(noteRecord(created))
	return notePayload(created), nil
}

func (s *Service) GetNote(ctx context.Context, session Session, noteID string) (map[string]any, error) {
	note, err := s.visibleNote(ctx, session, noteID)
	if err != nil {
		return nil, err
	}
	payload := notePayload(note)
	payload["can_edit"] = canEditNote(session, note)
	return payload, nil
}

// UpdateNote saves the change and commits a revision when the content differs.
func (s *Service) UpdateNote(ctx context.Context, session Session, noteID string, input UpdateNoteInput) (map[string]any, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, err
	}
	note, err := s.visibleNote(ctx, session, noteID)
	if err != nil {
		return nil, err
	}
	if !canEditNote(session, note) {
		return nil, forbidden("You can only edit your own notes.")
	}
	if input.Domain != nil && session.role() == rbac.RoleJuniorCouncil && *input.Domain != session.Domain {
		return nil, forbidden("Junior Council members can only manage notes in their own domain.")
	}

	assign(&note.Title, input.Title)
	if input.Description != nil {
		note.Description = *input.Description
	}
	if input.Purpose != nil {
		note.Purpose = *input.Purpose
	}
	assign(&note.Priority, input.Priority)
	assign(&note.Domain, input.Domain)
	if input.IsPublic != nil {
		note.IsPublic = *input.IsPublic
	}
	if input.Tags != nil {
		note.Tags = normalizeTags(*input.Tags)
	}
	if err := s.store.UpdateNote(ctx, note); err != nil {
		return nil, err
	}
	updated, err := s.store.GetNote(ctx, note.ID)
	if err != nil {
		return nil, err
	}

	payload := notePayload(updated)
	if s.revisions != nil {
		rev, committed, err := s.revisions.Commit(updated.ID, noteContent(updated), session.UserName, "Update note")
		switch {
		case err != nil:
			s.logger.Error("commit note revision", zap.String("note_id", updated.ID), zap.Error(err))
		case committed:
			payload["revision"] = rev
		}
	}
	s.recordActivity(ctx, session.UserID, "note_updated", "Updated note: "+updated.Title, map[string]any{"note_id": updated.ID})
	s.search.IndexNote(noteRecord(updated))
	return payload, nil
}

func (s *Service) DeleteNote(ctx context.Context, session Session, noteID string) error {
	if !s.Can(session.Role, rbac.ActionManageNotes) {
		return forbidden("You do not have permission to delete notes.")
	}
	note, err := s.visibleNote(ctx, session, noteID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteNote(ctx, note.ID); err != nil {
		return err
	}
	if s.revisions != nil {
		if err := s.revisions.Remove(note.ID); err != nil {
			s.logger.Warn("remove note revisions", zap.String("note_id", note.ID), zap.Error(err))
		}
	}
	s.search.DeleteNote(note.ID)
	return nil
}

func (s *Service) NoteStatistics(ctx context.Context, session Session) (map[string]any, error) {
	stats, err := s.store.NoteStats(ctx, policy.Notes(session.Actor()))
	if err != nil {
		return nil, err
	}
	domainStats := stats.DomainStats
	if domainStats == nil {
		domainStats = map[string]int{}
	}
	return map[string]any{
		"total_notes":         stats.Total,
		"high_priority_notes": stats.HighPriority,
		"urgent_notes":        stats.Urgent,
		"public_notes":        stats.Public,
		"private_notes":       stats.Private,
		"domain_stats":        domainStats,
	}, nil
}

func (s *Service) MyNotes(ctx context.Context, session Session, priority string) ([]map[string]any, error) {
	if err := s.validate.Struct(NoteListInput{Priority: priority}); err != nil {
		return nil, err
	}
	notes, _, err := s.store.ListNotes(ctx, store.NoteFilter{
		Scope:    policy.All(),
		Author:   session.UserID,
		Priority: priority,
		Ordering: "-created_at",
		Limit:    200,
	})
	if err != nil {
		return nil, err
	}
	return noteList(notes), nil
}

func (s *Service) NoteComments(ctx context.Context, session Session, noteID string) ([]map[string]any, error) {
	note, err := s.visibleNote(ctx, session, noteID)
	if err != nil {
		return nil, err
	}
	comments, err := s.store.ListNoteComments(ctx, note.ID)
	if err != nil {
		return nil, err
	}
	return commentList(comments), nil
}

func (s *Service) AddNoteComment(ctx context.Context, session Session, noteID string, input CommentInput) (map[string]any, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, err
	}
	note, err := s.visibleNote(ctx, session, noteID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	comment := store.Comment{
		ID:         util.NewID("ncm"),
		ParentID:   note.ID,
		AuthorID:   session.UserID,
		AuthorName: session.UserName,
		Body:       strings.TrimSpace(input.Content),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.InsertNoteComment(ctx, comment); err != nil {
		return nil, err
	}
	return commentPayload(comment), nil
}

func (s *Service) UpdateNoteComment(ctx context.Context, session Session, noteID, commentID string, input CommentInput) (map[string]any, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, err
	}
	if _, err := s.visibleNote(ctx, session, noteID); err != nil {
		return nil, err
	}
	comment, err := s.store.GetNoteComment(ctx, commentID)
	if err != nil {
		return nil, err
	}
	if err := ownComment(session, comment, noteID); err != nil {
		return nil, err
	}
	comment.Body = strings.TrimSpace(input.Content)
	comment.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateNoteComment(ctx, comment.ID, comment.Body); err != nil {
		return nil, err
	}
	return commentPayload(comment), nil
}

func (s *Service) DeleteNoteComment(ctx context.Context, session Session, noteID, commentID string) error {
	if _, err := s.visibleNote(ctx, session, noteID); err != nil {
		return err
	}
	comment, err := s.store.GetNoteComment(ctx, commentID)
	if err != nil {
		return err
	}
	if err := ownComment(session, comment, noteID); err != nil {
		return err
	}
	return s.store.DeleteNoteComment(ctx, comment.ID)
}

func (s *Service) revisionService() (*revisions.Service, error) {
	if s.revisions == nil {
		return nil, domainError(http.StatusServiceUnavailable, "REVISIONS_UNAVAILABLE", "Note revisions are not configured", nil)
	}
	return s.revisions, nil
}

func (s *Service) NoteRevisions(ctx context.Context, session Session, noteID string, limit int) ([]revisions.Revision, error) {
	note, err := s.visibleNote(ctx, session, noteID)
	if err != nil {
		return nil, err
	}
	revs, err := s.revisionService()
	if err != nil {
		return nil, err
	}
	history, err := revs.History(note.ID, limit)
	if errors.Is(err, revisions.ErrNoHistory) {
		return []revisions.Revision{}, nil
	}
	if err != nil {
		return nil, err
	}
	return history, nil
}

func (s *Service) NoteRevision(ctx context.Context, session Session, noteID, hash string) (map[string]any, error) {
	note, err := s.visibleNote(ctx, session, noteID)
	if err != nil {
		return nil, err
	}
	revs, err := s.revisionService()
	if err != nil {
		return nil, err
	}
	content, rev, err := revs.Content(note.ID, hash)
	if err != nil {
		s.logger.Debug("note revision lookup", zap.String("note_id", note.ID), zap.String("hash", hash), zap.Error(err))
		return nil, notFound("Revision not found")
	}
	return map[string]any{"revision": rev, "content": content}, nil
}

func (s *Service) UploadNoteAttachment(ctx context.Context, session Session, noteID string, file upload) (map[string]any, error) {
	note, err := s.visibleNote(ctx, session, noteID)
	if err != nil {
		return nil, err
	}
	if !canEditNote(session, note) {
		return nil, forbidden("You can only edit your own notes.")
	}
	if err := blob.ValidateAttachment(file.Size); err != nil {
		return nil, attachmentError(err)
	}
	url, err := s.upload(ctx, "notes/"+note.ID, file)
	if err != nil {
		return nil, err
	}
	if err := s.store.AppendNoteAttachment(ctx, note.ID, url); err != nil {
		return nil, err
	}
	note.Attachments = append(note.Attachments, url)
	return map[string]any{"url": url, "attachments": note.Attachments}, nil
}
