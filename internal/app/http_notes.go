package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *HTTPServer) noteRoutes(r chi.Router) {
	r.Get("/", s.authed(s.handleListNotes))
	r.Post("/", s.authed(s.handleCreateNote))
	r.Get("/statistics", s.authed(func(w http.ResponseWriter, r *http.Request, session Session) {
		payload, err := s.service.NoteStatistics(r.Context(), session)
		s.respond(w, r, http.StatusOK, payload, err)
	}))
	r.Get("/my-notes", s.authed(func(w http.ResponseWriter, r *http.Request, session Session) {
		payload, err := s.service.MyNotes(r.Context(), session, r.URL.Query().Get("priority"))
		s.respond(w, r, http.StatusOK, payload, err)
	}))

	r.Route("/{noteID}", func(r chi.Router) {
		r.Get("/", s.authed(s.handleGetNote))
		r.Put("/", s.authed(s.handleUpdateNote))
		r.Patch("/", s.authed(s.handleUpdateNote))
		r.Delete("/", s.authed(s.handleDeleteNote))
		r.Get("/revisions", s.authed(s.handleNoteRevisions))
		r.Get("/revisions/{hash}", s.authed(func(w http.ResponseWriter, r *http.Request, session Session) {
			payload, err := s.service.NoteRevision(r.Context(), session, chi.URLParam(r, "noteID"), chi.URLParam(r, "hash"))
			s.respond(w, r, http.StatusOK, payload, err)
		}))
		r.Post("/attachments", s.authed(func(w http.ResponseWriter, r *http.Request, session Session) {
			s.withUpload(w, r, "file", func(file upload) (map[string]any, error) {
				return s.service.UploadNoteAttachment(r.Context(), session, chi.URLParam(r, "noteID"), file)
			})
		}))
		r.Get("/comments", s.authed(func(w http.ResponseWriter, r *http.Request, session Session) {
			payload, err := s.service.NoteComments(r.Context(), session, chi.URLParam(r, "noteID"))
			s.respond(w, r, http.StatusOK, payload, err)
		}))
		r.Post("/comments", s.authed(s.handleAddNoteComment))
		r.Put("/comments/{commentID}", s.authed(s.handleUpdateNoteComment))
		r.Patch("/comments/{commentID}", s.authed(s.handleUpdateNoteComment))
		r.Delete("/comments/{commentID}", s.authed(func(w http.ResponseWriter, r *http.Request, session Session) {
			err := s.service.DeleteNoteComment(r.Context(), session, chi.URLParam(r, "noteID"), chi.URLParam(r, "commentID"))
			if err != nil {
				s.fail(w, r, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		}))
	})
}

func (s *HTTPServer) handleListNotes(w http.ResponseWriter, r *http.Request, session Session) {
	query := r.URL.Query()
	input := NoteListInput{
		Priority: query.Get("priority"),
		Domain:   query.Get("domain"),
		Author:   query.Get("author"),
		Search:   query.Get("search"),
		Tag:      query.Get("tags"),
		Ordering: query.Get("ordering"),
	}
	var err error
	if input.IsPublic, err = queryBool(r, "is_public"); err != nil {
		s.fail(w, r, err)
		return
	}
	if input.Limit, err = queryInt(r, "limit"); err != nil {
		s.fail(w, r, err)
		return
	}
	if input.Offset, err = queryInt(r, "offset"); err != nil {
		s.fail(w, r, err)
		return
	}
	payload, err := s.service.ListNotes(r.Context(), session, input)
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleCreateNote(w http.ResponseWriter, r *http.Request, session Session) {
	var input CreateNoteInput
	if !decode(w, r, &input) {
		return
	}
	payload, err := s.service.CreateNote(r.Context(), session, input)
	s.respond(w, r, http.StatusCreated, payload, err)
}

func (s *HTTPServer) handleGetNote(w http.ResponseWriter, r *http.Request, session Session) {
	payload, err := s.service.GetNote(r.Context(), session, chi.URLParam(r, "noteID"))
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleUpdateNote(w http.ResponseWriter, r *http.Request, session Session) {
	var input UpdateNoteInput
	if !decode(w, r, &input) {
		return
	}
	payload, err := s.service.UpdateNote(r.Context(), session, chi.URLParam(r, "noteID"), input)
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleDeleteNote(w http.ResponseWriter, r *http.Request, session Session) {
	if err := s.service.DeleteNote(r.Context(), session, chi.URLParam(r, "noteID")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleNoteRevisions(w http.ResponseWriter, r *http.Request, session Session) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	items, err := s.service.NoteRevisions(r.Context(), session, chi.URLParam(r, "noteID"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": items})
}

func (s *HTTPServer) handleAddNoteComment(w http.ResponseWriter, r *http.Request, session Session) {
	var input CommentInput
	if !decode(w, r, &input) {
		return
	}
	payload, err := s.service.AddNoteComment(r.Context(), session, chi.URLParam(r, "noteID"), input)
	s.respond(w, r, http.StatusCreated, payload, err)
}

func (s *HTTPServer) handleUpdateNoteComment(w http.ResponseWriter, r *http.Request, session Session) {
	var input CommentInput
	if !decode(w, r, &input) {
		return
	}
	payload, err := s.service.UpdateNoteComment(r.Context(), session, chi.URLParam(r, "noteID"), chi.URLParam(r, "commentID"), input)
	s.respond(w, r, http.StatusOK, payload, err)
}
