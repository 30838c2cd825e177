package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *HTTPServer) taskRoutes(r chi.Router) {
	r.Get("/", s.authed(s.handleListTasks))
	r.Post("/", s.authed(s.handleCreateTask))
	r.Get("/statistics", s.authed(func(w http.ResponseWriter, r *http.Request, session Session) {
		payload, err := s.service.TaskStatistics(r.Context(), session)
		s.respond(w, r, http.StatusOK, payload, err)
	}))
	r.Get("/my-tasks", s.authed(func(w http.ResponseWriter, r *http.Request, session Session) {
		payload, err := s.service.MyTasks(r.Context(), session, r.URL.Query().Get("status"))
		s.respond(w, r, http.StatusOK, payload, err)
	}))
	r.Get("/team-tasks", s.authed(func(w http.ResponseWriter, r *http.Request, session Session) {
		payload, err := s.service.TeamTasks(r.Context(), session, r.URL.Query().Get("status"))
		s.respond(w, r, http.StatusOK, payload, err)
	}))
	r.Get("/recent", s.authed(func(w http.ResponseWriter, r *http.Request, session Session) {
		payload, err := s.service.RecentTasks(r.Context(), session, r.URL.Query().Get("time_filter"))
		s.respond(w, r, http.StatusOK, payload, err)
	}))

	r.Route("/{taskID}", func(r chi.Router) {
		r.Get("/", s.authed(s.handleGetTask))
		r.Put("/", s.authed(s.handleUpdateTask))
		r.Patch("/", s.authed(s.handleUpdateTask))
		r.Delete("/", s.authed(s.handleDeleteTask))
		r.Post("/status", s.authed(s.handleTaskStatus))
		r.Get("/history", s.authed(func(w http.ResponseWriter, r *http.Request, session Session) {
			payload, err := s.service.TaskHistory(r.Context(), session, chi.URLParam(r, "taskID"))
			s.respond(w, r, http.StatusOK, payload, err)
		}))
		r.Post("/attachments", s.authed(func(w http.ResponseWriter, r *http.Request, session Session) {
			s.withUpload(w, r, "file", func(file upload) (map[string]any, error) {
				return s.service.UploadTaskAttachment(r.Context(), session, chi.URLParam(r, "taskID"), file)
			})
		}))
		r.Get("/comments", s.authed(func(w http.ResponseWriter, r *http.Request, session Session) {
			payload, err := s.service.TaskComments(r.Context(), session, chi.URLParam(r, "taskID"))
			s.respond(w, r, http.StatusOK, payload, err)
		}))
		r.Post("/comments", s.authed(s.handleAddTaskComment))
		r.Put("/comments/{commentID}", s.authed(s.handleUpdateTaskComment))
		r.Patch("/comments/{commentID}", s.authed(s.handleUpdateTaskComment))
		r.Delete("/comments/{commentID}", s.authed(func(w http.ResponseWriter, r *http.Request, session Session) {
			err := s.service.DeleteTaskComment(r.Context(), session, chi.URLParam(r, "taskID"), chi.URLParam(r, "commentID"))
			if err != nil {
				s.fail(w, r, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		}))
	})
}

func (s *HTTPServer) handleListTasks(w http.ResponseWriter, r *http.Request, session Session) {
	input, err := taskListInput(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	payload, err := s.service.ListTasks(r.Context(), session, input)
	s.respond(w, r, http.StatusOK, payload, err)
}

func taskListInput(r *http.Request) (TaskListInput, error) {
	query := r.URL.Query()
	input := TaskListInput{
		Status:     query.Get("status"),
		Priority:   query.Get("priority"),
		Domain:     query.Get("domain"),
		AssignedTo: query.Get("assigned_to"),
		AssignedBy: query.Get("assigned_by"),
		Search:     query.Get("search"),
		Ordering:   query.Get("ordering"),
	}
	var err error
	if input.DueFrom, err = queryTime(r, "due_date_from"); err != nil {
		return input, err
	}
	if input.DueTo, err = queryTime(r, "due_date_to"); err != nil {
		return input, err
	}
	if input.Limit, err = queryInt(r, "limit"); err != nil {
		return input, err
	}
	if input.Offset, err = queryInt(r, "offset"); err != nil {
		return input, err
	}
	return input, nil
}

func (s *HTTPServer) handleCreateTask(w http.ResponseWriter, r *http.Request, session Session) {
	var input CreateTaskInput
	if !decode(w, r, &input) {
		return
	}
	payload, err := s.service.CreateTask(r.Context(), session, input)
	s.respond(w, r, http.StatusCreated, payload, err)
}

func (s *HTTPServer) handleGetTask(w http.ResponseWriter, r *http.Request, session Session) {
	payload, err := s.service.GetTask(r.Context(), session, chi.URLParam(r, "taskID"))
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleUpdateTask(w http.ResponseWriter, r *http.Request, session Session) {
	var input UpdateTaskInput
	if !decode(w, r, &input) {
		return
	}
	payload, err := s.service.UpdateTask(r.Context(), session, chi.URLParam(r, "taskID"), input)
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleDeleteTask(w http.ResponseWriter, r *http.Request, session Session) {
	if err := s.service.DeleteTask(r.Context(), session, chi.URLParam(r, "taskID")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleTaskStatus(w http.ResponseWriter, r *http.Request, session Session) {
	var input StatusInput
	if !decode(w, r, &input) {
		return
	}
	payload, err := s.service.ChangeTaskStatus(r.Context(), session, chi.URLParam(r, "taskID"), input)
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleAddTaskComment(w http.ResponseWriter, r *http.Request, session Session) {
	var input CommentInput
	if !decode(w, r, &input) {
		return
	}
	payload, err := s.service.AddTaskComment(r.Context(), session, chi.URLParam(r, "taskID"), input)
	s.respond(w, r, http.StatusCreated, payload, err)
}

func (s *HTTPServer) handleUpdateTaskComment(w http.ResponseWriter, r *http.Request, session Session) {
	var input CommentInput
	if !decode(w, r, &input) {
		return
	}
	payload, err := s.service.UpdateTaskComment(r.Context(), session, chi.URLParam(r, "taskID"), chi.URLParam(r, "commentID"), input)
	s.respond(w, r, http.StatusOK, payload, err)
}
