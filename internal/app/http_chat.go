package app

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/net/websocket"
)

func (s *HTTPServer) chatRoutes(r chi.Router) {
	r.Route("/channels", func(r chi.Router) {
		r.Get("/", s.authed(func(w http.ResponseWriter, r *http.Request, session Session) {
			payload, err := s.service.ListChannels(r.Context(), session, r.URL.Query().Get("type"))
			s.respond(w, r, http.StatusOK, payload, err)
		}))
		r.Post("/", s.authed(s.handleCreateChannel))
		r.Get("/my_channels", s.authed(func(w http.ResponseWriter, r *http.Request, session Session) {
			payload, err := s.service.MyChannels(r.Context(), session)
			s.respond(w, r, http.StatusOK, payload, err)
		}))
		r.Get("/available_users", s.authed(func(w http.ResponseWriter, r *http.Request, session Session) {
			payload, err := s.service.AvailableUsers(r.Context(), session)
			s.respond(w, r, http.StatusOK, payload, err)
		}))

		r.Route("/{channelID}", func(r chi.Router) {
			r.Get("/", s.authed(func(w http.ResponseWriter, r *http.Request, session Session) {
				payload, err := s.service.GetChannel(r.Context(), session, chi.URLParam(r, "channelID"))
				s.respond(w, r, http.StatusOK, payload, err)
			}))
			r.Put("/", s.authed(s.handleUpdateChannel))
			r.Patch("/", s.authed(s.handleUpdateChannel))
			r.Post("/join", s.authed(s.channelAction(s.service.JoinChannel)))
			r.Post("/leave", s.authed(s.channelAction(s.service.LeaveChannel)))
			r.Post("/mark_read", s.authed(s.channelAction(s.service.MarkChannelRead)))
			r.Post("/toggle_mute", s.authed(s.channelAction(s.service.ToggleMute)))
			r.Post("/toggle_pin", s.authed(s.channelAction(s.service.TogglePin)))
			r.Get("/messages", s.authed(s.handleListMessages))
			r.Post("/messages", s.authed(s.handlePostMessage))
			r.Post("/files", s.authed(func(w http.ResponseWriter, r *http.Request, session Session) {
				s.withUpload(w, r, "file", func(file upload) (map[string]any, error) {
					caption := r.FormValue("content")
					return s.service.PostFile(r.Context(), session, chi.URLParam(r, "channelID"), caption, file)
				})
			}))
			r.Get("/stream", s.handleStream)
		})
	})

	r.Route("/messages", func(r chi.Router) {
		r.Get("/", s.authed(s.handleListMessages))
		r.Route("/{messageID}", func(r chi.Router) {
			r.Put("/", s.authed(s.handleEditMessage))
			r.Patch("/", s.authed(s.handleEditMessage))
			r.Delete("/", s.authed(func(w http.ResponseWriter, r *http.Request, session Session) {
				if err := s.service.DeleteMessage(r.Context(), session, chi.URLParam(r, "messageID")); err != nil {
					s.fail(w, r, err)
					return
				}
				w.WriteHeader(http.StatusNoContent)
			}))
			r.Post("/react", s.authed(s.handleReaction(s.service.React)))
			r.Delete("/remove_reaction", s.authed(s.handleReaction(s.service.RemoveReaction)))
		})
	})

	r.Route("/status/{channelID}", func(r chi.Router) {
		r.Post("/mark_read", s.authed(s.channelAction(s.service.MarkChannelRead)))
		r.Post("/toggle_mute", s.authed(s.channelAction(s.service.ToggleMute)))
		r.Post("/toggle_pin", s.authed(s.channelAction(s.service.TogglePin)))
	})
}

type channelActionFunc func(ctx context.Context, session Session, channelID string) (map[string]any, error)

// channelAction adapts the parameterless per-channel service calls.
func (s *HTTPServer) channelAction(fn channelActionFunc) sessionHandler {
	return func(w http.ResponseWriter, r *http.Request, session Session) {
		payload, err := fn(r.Context(), session, chi.URLParam(r, "channelID"))
		s.respond(w, r, http.StatusOK, payload, err)
	}
}

func (s *HTTPServer) handleCreateChannel(w http.ResponseWriter, r *http.Request, session Session) {
	var input CreateChannelInput
	if !decode(w, r, &input) {
		return
	}
	payload, err := s.service.CreateChannel(r.Context(), session, input)
	s.respond(w, r, http.StatusCreated, payload, err)
}

func (s *HTTPServer) handleUpdateChannel(w http.ResponseWriter, r *http.Request, session Session) {
	var input UpdateChannelInput
	if !decode(w, r, &input) {
		return
	}
	payload, err := s.service.UpdateChannel(r.Context(), session, chi.URLParam(r, "channelID"), input)
	s.respond(w, r, http.StatusOK, payload, err)
}

// handleListMessages serves both /channels/{id}/messages and
// /messages?channel=id.
func (s *HTTPServer) handleListMessages(w http.ResponseWriter, r *http.Request, session Session) {
	channelID := chi.URLParam(r, "channelID")
	if channelID == "" {
		channelID = strings.TrimSpace(r.URL.Query().Get("channel"))
	}
	if channelID == "" {
		writeError(w, http.StatusBadRequest, "CHANNEL_REQUIRED", "channel is required", nil)
		return
	}
	before, err := queryTime(r, "before")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	payload, err := s.service.ListMessages(r.Context(), session, channelID, before, limit)
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handlePostMessage(w http.ResponseWriter, r *http.Request, session Session) {
	var input MessageInput
	if !decode(w, r, &input) {
		return
	}
	payload, err := s.service.PostMessage(r.Context(), session, chi.URLParam(r, "channelID"), input)
	s.respond(w, r, http.StatusCreated, payload, err)
}

func (s *HTTPServer) handleEditMessage(w http.ResponseWriter, r *http.Request, session Session) {
	var input EditMessageInput
	if !decode(w, r, &input) {
		return
	}
	payload, err := s.service.EditMessage(r.Context(), session, chi.URLParam(r, "messageID"), input)
	s.respond(w, r, http.StatusOK, payload, err)
}

type reactionFunc func(ctx context.Context, session Session, messageID, reaction string) (map[string]any, error)

// handleReaction reads reaction_type from the body, falling back to the query
// string for DELETE clients that send no body.
func (s *HTTPServer) handleReaction(fn reactionFunc) sessionHandler {
	return func(w http.ResponseWriter, r *http.Request, session Session) {
		var body struct {
			ReactionType string `json:"reaction_type"`
		}
		if r.ContentLength != 0 && !decode(w, r, &body) {
			return
		}
		if body.ReactionType == "" {
			body.ReactionType = r.URL.Query().Get("reaction_type")
		}
		payload, err := fn(r.Context(), session, chi.URLParam(r, "messageID"), body.ReactionType)
		s.respond(w, r, http.StatusOK, payload, err)
	}
}

// handleStream upgrades to a websocket that relays the channel's realtime
// events. Browsers cannot set headers on the upgrade, so the access token may
// also arrive as ?token=.
func (s *HTTPServer) handleStream(w http.ResponseWriter, r *http.Request) {
	if bearerToken(r) == "" {
		if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
	}
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	channelID := chi.URLParam(r, "channelID")
	sub, err := s.service.Subscribe(r.Context(), session, channelID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer sub.Close()

	server := websocket.Server{
		// the bearer token already authenticates the caller
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			closed := make(chan struct{})
			go func() {
				defer close(closed)
				var discard string
				for {
					if err := websocket.Message.Receive(conn, &discard); err != nil {
						return
					}
				}
			}()

			for {
				select {
				case <-closed:
					return
				case event, ok := <-sub.C:
					if !ok {
						return
					}
					// access can be lost mid-stream, e.g. by leaving the channel
					if !s.service.StreamAllowed(r.Context(), session, channelID) {
						s.logger.Debug("chat stream access revoked",
							zap.String("channel_id", channelID), zap.String("user_id", session.UserID))
						return
					}
					if err := websocket.JSON.Send(conn, event); err != nil {
						s.logger.Debug("chat stream send failed",
							zap.String("channel_id", channelID), zap.String("user_id", session.UserID), zap.Error(err))
						return
					}
				}
			}
		},
	}
	server.ServeHTTP(w, r)
}
