package app

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

func (s *HTTPServer) reportRoutes(r chi.Router) {
	r.Get("/", s.authed(func(w http.ResponseWriter, r *http.Request, session Session) {
		payload, err := s.service.ListReports(r.Context(), session, r.URL.Query().Get("report_type"))
		s.respond(w, r, http.StatusOK, payload, err)
	}))
	r.Post("/", s.authed(s.handleCreateReport))
	r.Get("/{reportID}", s.authed(func(w http.ResponseWriter, r *http.Request, session Session) {
		payload, err := s.service.GetReport(r.Context(), session, chi.URLParam(r, "reportID"))
		s.respond(w, r, http.StatusOK, payload, err)
	}))
	r.Delete("/{reportID}", s.authed(func(w http.ResponseWriter, r *http.Request, session Session) {
		if err := s.service.DeleteReport(r.Context(), session, chi.URLParam(r, "reportID")); err != nil {
			s.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	r.Get("/{reportID}/export", s.authed(s.handleExportReport))

	r.Get("/widgets", s.authed(func(w http.ResponseWriter, r *http.Request, session Session) {
		payload, err := s.service.ListWidgets(r.Context(), session)
		s.respond(w, r, http.StatusOK, payload, err)
	}))
	r.Post("/widgets", s.authed(s.handleCreateWidget))
	r.Put("/widgets/{widgetID}", s.authed(s.handleUpdateWidget))
	r.Patch("/widgets/{widgetID}", s.authed(s.handleUpdateWidget))
	r.Delete("/widgets/{widgetID}", s.authed(func(w http.ResponseWriter, r *http.Request, session Session) {
		if err := s.service.DeleteWidget(r.Context(), session, chi.URLParam(r, "widgetID")); err != nil {
			s.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	r.Get("/user-performance", s.authed(s.handleUserPerformance))
	r.Get("/user-performance/{userID}", s.authed(s.handleUserPerformance))
	r.Get("/team-performance", s.authed(func(w http.ResponseWriter, r *http.Request, session Session) {
		days, err := queryInt(r, "days")
		if err != nil {
			s.fail(w, r, err)
			return
		}
		payload, err := s.service.TeamPerformance(r.Context(), session, r.URL.Query().Get("domain"), days)
		s.respond(w, r, http.StatusOK, payload, err)
	}))
	r.Get("/activity-summary", s.authed(func(w http.ResponseWriter, r *http.Request, session Session) {
		days, err := queryInt(r, "days")
		if err != nil {
			s.fail(w, r, err)
			return
		}
		payload, err := s.service.ActivitySummary(r.Context(), session, days)
		s.respond(w, r, http.StatusOK, payload, err)
	}))
	r.Post("/track-activity", s.authed(func(w http.ResponseWriter, r *http.Request, session Session) {
		var input TrackActivityInput
		if !decode(w, r, &input) {
			return
		}
		payload, err := s.service.TrackActivity(r.Context(), session, input)
		s.respond(w, r, http.StatusCreated, payload, err)
	}))
	r.Get("/dashboard-metrics", s.authed(func(w http.ResponseWriter, r *http.Request, session Session) {
		payload, err := s.service.DashboardMetrics(r.Context(), session, r.URL.Query().Get("time_filter"))
		s.respond(w, r, http.StatusOK, payload, err)
	}))
	r.Get("/performance-data", s.authed(func(w http.ResponseWriter, r *http.Request, session Session) {
		payload, err := s.service.PerformanceData(r.Context(), session, r.URL.Query().Get("time_filter"))
		s.respond(w, r, http.StatusOK, payload, err)
	}))

	r.Get("/attendance", s.authed(func(w http.ResponseWriter, r *http.Request, session Session) {
		days, err := queryInt(r, "days")
		if err != nil {
			s.fail(w, r, err)
			return
		}
		payload, err := s.service.ListAttendance(r.Context(), session, days)
		s.respond(w, r, http.StatusOK, payload, err)
	}))
	r.Post("/attendance", s.authed(func(w http.ResponseWriter, r *http.Request, session Session) {
		var input AttendanceInput
		if !decode(w, r, &input) {
			return
		}
		payload, err := s.service.RecordAttendance(r.Context(), session, input)
		s.respond(w, r, http.StatusCreated, payload, err)
	}))
}

func (s *HTTPServer) handleCreateReport(w http.ResponseWriter, r *http.Request, session Session) {
	var input CreateReportInput
	if !decode(w, r, &input) {
		return
	}
	payload, err := s.service.CreateReport(r.Context(), session, input)
	s.respond(w, r, http.StatusCreated, payload, err)
}

func (s *HTTPServer) handleExportReport(w http.ResponseWriter, r *http.Request, session Session) {
	result, err := s.service.ExportReport(r.Context(), session, chi.URLParam(r, "reportID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleUserPerformance(w http.ResponseWriter, r *http.Request, session Session) {
	days, err := queryInt(r, "days")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	payload, err := s.service.UserPerformance(r.Context(), session, chi.URLParam(r, "userID"), days)
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleCreateWidget(w http.ResponseWriter, r *http.Request, session Session) {
	var input WidgetInput
	if !decode(w, r, &input) {
		return
	}
	payload, err := s.service.CreateWidget(r.Context(), session, input)
	s.respond(w, r, http.StatusCreated, payload, err)
}

func (s *HTTPServer) handleUpdateWidget(w http.ResponseWriter, r *http.Request, session Session) {
	var input WidgetInput
	if !decode(w, r, &input) {
		return
	}
	payload, err := s.service.UpdateWidget(r.Context(), session, chi.URLParam(r, "widgetID"), input)
	s.respond(w, r, http.StatusOK, payload, err)
}
