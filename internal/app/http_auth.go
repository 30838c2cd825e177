package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"council/api/internal/blob"
)

func (s *HTTPServer) authRoutes(r chi.Router) {
	r.Post("/register", s.handleRegister)
	r.Post("/login", s.handleLogin)
	r.Post("/token/refresh", s.handleRefresh)
	r.Post("/logout", s.handleLogout)
	r.Get("/session", s.handleSession)
	r.Post("/password-reset", s.handlePasswordResetRequest)
	r.Post("/password-reset/confirm", s.handlePasswordResetConfirm)

	r.Get("/profile", s.authed(s.handleProfile))
	r.Put("/profile", s.authed(s.handleUpdateProfile))
	r.Patch("/profile", s.authed(s.handleUpdateProfile))
	r.Get("/profile/settings", s.authed(s.handleSettings))
	r.Put("/profile/settings", s.authed(s.handleUpdateSettings))
	r.Patch("/profile/settings", s.authed(s.handleUpdateSettings))
	r.Post("/upload-avatar", s.authed(s.handleUploadAvatar))
	r.Put("/change-password", s.authed(s.handleChangePassword))
	r.Post("/change-password", s.authed(s.handleChangePassword))
	r.Get("/permissions", s.authed(func(w http.ResponseWriter, r *http.Request, session Session) {
		writeJSON(w, http.StatusOK, s.service.Permissions(session))
	}))

	r.Route("/users", s.userRoutes)
}

func tokenPayload(session Session, user map[string]any) map[string]any {
	return map[string]any{
		"user":       user,
		"access":     session.Token,
		"refresh":    session.RefreshToken,
		"expires_at": session.ExpiresAt.Unix(),
	}
}

func (s *HTTPServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var input RegisterInput
	if !decode(w, r, &input) {
		return
	}
	user, err := s.service.Register(r.Context(), input)
	s.respond(w, r, http.StatusCreated, user, err)
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var input LoginInput
	if !decode(w, r, &input) {
		return
	}
	session, user, err := s.service.Login(r.Context(), input)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenPayload(session, user))
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Refresh string `json:"refresh"`
	}
	if !decode(w, r, &body) {
		return
	}
	session, err := s.service.Refresh(r.Context(), body.Refresh)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access":     session.Token,
		"refresh":    session.RefreshToken,
		"expires_at": session.ExpiresAt.Unix(),
	})
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	current := Session{}
	if token := bearerToken(r); token != "" {
		if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
			current = parsed
		}
	}
	var body struct {
		Refresh string `json:"refresh"`
	}
	_ = decodeBody(r, &body)
	if current.UserID == "" && body.Refresh == "" {
		writeError(w, http.StatusBadRequest, "INVALID_TOKEN", "Invalid token", nil)
		return
	}
	_ = s.service.Logout(r.Context(), current, body.Refresh)
	writeJSON(w, http.StatusOK, map[string]any{"message": "Successfully logged out"})
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	current, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"user_id":       current.UserID,
		"username":      current.Username,
		"full_name":     current.UserName,
		"role":          current.Role,
		"domain":        nilIfEmpty(current.Domain),
	})
}

func (s *HTTPServer) handlePasswordResetRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if !decode(w, r, &body) {
		return
	}
	payload, err := s.service.RequestPasswordReset(r.Context(), body.Email)
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handlePasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	var input ResetConfirmInput
	if !decode(w, r, &input) {
		return
	}
	if err := s.service.ResetPassword(r.Context(), input); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Password reset successfully"})
}

func (s *HTTPServer) handleProfile(w http.ResponseWriter, r *http.Request, session Session) {
	payload, err := s.service.Profile(r.Context(), session)
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleUpdateProfile(w http.ResponseWriter, r *http.Request, session Session) {
	var input ProfileInput
	if !decode(w, r, &input) {
		return
	}
	payload, err := s.service.UpdateProfile(r.Context(), session, input)
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleSettings(w http.ResponseWriter, r *http.Request, session Session) {
	payload, err := s.service.Settings(r.Context(), session)
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleUpdateSettings(w http.ResponseWriter, r *http.Request, session Session) {
	var input SettingsInput
	if !decode(w, r, &input) {
		return
	}
	payload, err := s.service.UpdateSettings(r.Context(), session, input)
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleChangePassword(w http.ResponseWriter, r *http.Request, session Session) {
	var input ChangePasswordInput
	if !decode(w, r, &input) {
		return
	}
	if err := s.service.ChangePassword(r.Context(), session, input); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Password updated successfully"})
}

func (s *HTTPServer) handleUploadAvatar(w http.ResponseWriter, r *http.Request, session Session) {
	r.Body = http.MaxBytesReader(w, r.Body, blob.MaxAvatarBytes+2<<20)
	file, closeFile, err := formFile(r, "avatar", blob.MaxAvatarBytes)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer closeFile()
	payload, err := s.service.UploadAvatar(r.Context(), session, file)
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) userRoutes(r chi.Router) {
	r.Get("/", s.authed(s.handleListUsers))
	r.Post("/", s.authed(s.handleCreateUser))
	r.Get("/{userID}", s.authed(s.handleGetUser))
	r.Put("/{userID}", s.authed(s.handleUpdateUser))
	r.Patch("/{userID}", s.authed(s.handleUpdateUser))
	r.Delete("/{userID}", s.authed(s.handleDeactivateUser))
}

func (s *HTTPServer) handleListUsers(w http.ResponseWriter, r *http.Request, session Session) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	query := r.URL.Query()
	payload, err := s.service.ListUsers(r.Context(), session, UserListInput{
		Role:   query.Get("role"),
		Domain: query.Get("domain"),
		Search: query.Get("search"),
		Limit:  limit,
		Offset: offset,
	})
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleCreateUser(w http.ResponseWriter, r *http.Request, session Session) {
	var input UserInput
	if !decode(w, r, &input) {
		return
	}
	payload, err := s.service.CreateUser(r.Context(), session, input)
	s.respond(w, r, http.StatusCreated, payload, err)
}

func (s *HTTPServer) handleGetUser(w http.ResponseWriter, r *http.Request, session Session) {
	payload, err := s.service.GetUser(r.Context(), session, chi.URLParam(r, "userID"))
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleUpdateUser(w http.ResponseWriter, r *http.Request, session Session) {
	var input UserInput
	if !decode(w, r, &input) {
		return
	}
	payload, err := s.service.UpdateUser(r.Context(), session, chi.URLParam(r, "userID"), input)
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleDeactivateUser(w http.ResponseWriter, r *http.Request, session Session) {
	if err := s.service.DeactivateUser(r.Context(), session, chi.URLParam(r, "userID")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
