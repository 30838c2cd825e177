package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"council/api/internal/auth"
	"council/api/internal/authpw"
	"council/api/internal/config"
	"council/api/internal/email"
	"council/api/internal/export"
	"council/api/internal/policy"
	"council/api/internal/rbac"
	"council/api/internal/realtime"
	"council/api/internal/revisions"
	"council/api/internal/search"
	"council/api/internal/store"
	"council/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Username     string
	UserName     string
	Role         string
	Domain       string
	Vertical     string
	JTI          string
	ExpiresAt    time.Time
}

func (s Session) Actor() policy.Actor {
	return policy.Actor{
		ID:       s.UserID,
		Role:     rbac.Normalize(s.Role),
		Domain:   s.Domain,
		Vertical: s.Vertical,
	}
}

func (s Session) role() rbac.Role { return rbac.Normalize(s.Role) }

type userStore interface {
	authpw.UserStore
	ListUsers(context.Context, store.UserFilter) ([]store.User, error)
	CountUsers(context.Context, store.UserFilter) (int, error)
	UpdateUserProfile(context.Context, store.User) error
	UpdateUserSettings(context.Context, store.User) error
	UpdateUserAccount(context.Context, store.User) error
	UpdateUserAvatar(context.Context, string, string) error
	TouchLastLogin(context.Context, string, time.Time) error
}

type sessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
}

type taskStore interface {
	ListTasks(context.Context, store.TaskFilter) ([]store.Task, int, error)
	CountTasks(context.Context, store.TaskFilter) (int, error)
	GetTask(context.Context, string) (store.Task, error)
	InsertTask(context.Context, store.Task) error
	UpdateTask(context.Context, store.Task, *store.TaskHistory) error
	DeleteTask(context.Context, string) error
	ListTaskHistory(context.Context, string) ([]store.TaskHistory, error)
	TaskStats(context.Context, policy.Filter, time.Time) (store.TaskStats, error)
	DailyTaskCounts(context.Context, policy.Filter, time.Time) (map[string]int, error)
	DomainTaskCounts(context.Context, time.Time, time.Time) (map[string]store.DomainTaskCount, error)
	AppendTaskAttachment(context.Context, string, string) error
	ListTaskComments(context.Context, string) ([]store.Comment, error)
	GetTaskComment(context.Context, string) (store.Comment, error)
	InsertTaskComment(context.Context, store.Comment) error
	UpdateTaskComment(context.Context, string, string) error
	DeleteTaskComment(context.Context, string) error
}

type noteStore interface {
	ListNotes(context.Context, store.NoteFilter) ([]store.Note, int, error)
	CountNotes(context.Context, store.NoteFilter) (int, error)
	GetNote(context.Context, string) (store.Note, error)
	InsertNote(context.Context, store.Note) error
	UpdateNote(context.Context, store.Note) error
	DeleteNote(context.Context, string) error
	NoteStats(context.Context, policy.Filter) (store.NoteStats, error)
	AppendNoteAttachment(context.Context, string, string) error
	ListNoteComments(context.Context, string) ([]store.Comment, error)
	GetNoteComment(context.Context, string) (store.Comment, error)
	InsertNoteComment(context.Context, store.Comment) error
	UpdateNoteComment(context.Context, string, string) error
	DeleteNoteComment(context.Context, string) error
}

type chatStore interface {
	ListChannels(context.Context, store.ChannelFilter) ([]store.Channel, error)
	GetChannel(context.Context, string) (store.Channel, error)
	InsertChannel(context.Context, store.Channel) error
	UpdateChannel(context.Context, store.Channel) error
	AddParticipant(context.Context, string, string) error
	RemoveParticipant(context.Context, string, string) error
	ListMessages(context.Context, string, *time.Time, int) ([]store.Message, error)
	GetMessage(context.Context, string) (store.Message, error)
	InsertMessage(context.Context, store.Message) error
	UpdateMessageContent(context.Context, string, string) error
	SoftDeleteMessage(context.Context, string) error
	AddReaction(context.Context, string, string, string) (bool, error)
	RemoveReaction(context.Context, string, string, string) (bool, error)
	ReactionCounts(context.Context, []string) (map[string]map[string]int, error)
	LastMessages(context.Context, []string) (map[string]store.Message, error)
	ChannelStatuses(context.Context, string, []string) (map[string]store.ChannelStatus, error)
	MarkChannelRead(context.Context, string, string, time.Time) error
	ToggleChannelFlag(context.Context, string, string, string) (bool, error)
}

type reportStore interface {
	InsertActivity(context.Context, store.Activity) error
	DailyActivity(context.Context, policy.Filter, time.Time) ([]store.DailyActivity, error)
	UserMetrics(context.Context, string, time.Time, time.Time) (store.UserMetrics, error)
	ActiveUserIDs(context.Context, time.Time) (map[string]bool, error)
	InsertPerformanceMetrics(context.Context, []store.PerformanceMetric) error
	InsertAttendance(context.Context, store.Attendance) error
	ListAttendance(context.Context, policy.Filter, time.Time) ([]store.Attendance, error)
	ListReports(context.Context, policy.Filter, string) ([]store.Report, error)
	GetReport(context.Context, string) (store.Report, error)
	InsertReport(context.Context, store.Report) error
	DeleteReport(context.Context, string) error
	ListWidgets(context.Context, string) ([]store.Widget, error)
	GetWidget(context.Context, string) (store.Widget, error)
	InsertWidget(context.Context, store.Widget) error
	UpdateWidget(context.Context, store.Widget) error
	DeleteWidget(context.Context, string) error
}

type dataStore interface {
	userStore
	sessionStore
	taskStore
	noteStore
	chatStore
	reportStore
	Ping(ctx context.Context) error
}

type blobStore interface {
	Put(ctx context.Context, prefix, filename, contentType string, size int64, r io.Reader) (string, error)
	Ping(ctx context.Context) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Options carries the optional adapters. Nil fields fall back to in-process
// or disabled implementations.
type Options struct {
	Sessions  sessionStore
	Revisions *revisions.Service
	Search    *search.Service
	Blobs     blobStore
	Hub       *realtime.Hub
	Mailer    *email.Service
	Exporter  *export.Service
	Logger    *zap.Logger
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  sessionStore
	passwords *authpw.Service
	revisions *revisions.Service
	search    *search.Service
	blobs     blobStore
	hub       *realtime.Hub
	mailer    *email.Service
	exporter  *export.Service
	logger    *zap.Logger
	validate  *inputValidator
	now       func() time.Time
}

func New(cfg config.Config, dataStore dataStore, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		cfg:       cfg,
		store:     dataStore,
		sessions:  opts.Sessions,
		passwords: authpw.NewService(dataStore),
		revisions: opts.Revisions,
		search:    opts.Search,
		blobs:     opts.Blobs,
		hub:       opts.Hub,
		mailer:    opts.Mailer,
		exporter:  opts.Exporter,
		logger:    logger,
		validate:  newInputValidator(),
		now:       time.Now,
	}
	if s.sessions == nil {
		s.sessions = dataStore
	}
	if s.search == nil {
		s.search = search.NewService(nil, nil, logger)
	}
	if s.hub == nil {
		// a hub without Redis cannot fail to build
		s.hub, _ = realtime.NewHub(context.Background(), nil, logger)
	}
	if s.mailer == nil {
		s.mailer = email.NewService(email.Config{})
	}
	if s.exporter == nil {
		s.exporter = export.NewService(true)
	}
	return s
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ReadinessChecks pings the database and every configured adapter.
func (s *Service) ReadinessChecks(ctx context.Context) (map[string]any, bool) {
	ready := true
	checks := map[string]any{}
	check := func(name string, p pinger) {
		if err := p.Ping(ctx); err != nil {
			ready = false
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			return
		}
		checks[name] = map[string]any{"status": "ok"}
	}
	check("database", s.store)
	if p, ok := s.sessions.(pinger); ok && s.sessions != sessionStore(s.store) {
		check("redis", p)
	}
	if s.blobs != nil {
		check("storage", s.blobs)
	}
	return checks, ready
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:    user.ID,
		Name:   user.FullName(),
		Role:   user.Role,
		Domain: user.Domain,
		JTI:    jti,
		Exp:    expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	session := sessionForUser(user)
	session.Token = token
	session.RefreshToken = refresh
	session.JTI = jti
	session.ExpiresAt = expiresAt
	return session, nil
}

func sessionForUser(user store.User) Session {
	return Session{
		UserID:   user.ID,
		Username: user.Username,
		UserName: user.FullName(),
		Role:     string(rbac.Normalize(user.Role)),
		Domain:   user.Domain,
		Vertical: user.Vertical,
	}
}

// SessionFromToken validates an access token and reloads the user so role
// and domain changes apply immediately.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}
	if !user.IsActive {
		return Session{}, auth.ErrInvalidToken
	}

	session := sessionForUser(user)
	session.Token = token
	session.JTI = claims.JTI
	session.ExpiresAt = time.Unix(claims.Exp, 0)
	return session, nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	if !user.IsActive {
		return Session{}, auth.ErrInvalidToken
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		if err := s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			s.logger.Warn("revoke access token", zap.String("user_id", session.UserID), zap.Error(err))
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.logger.Warn("revoke refresh token", zap.String("user_id", session.UserID), zap.Error(err))
		}
	}
	return nil
}

// recordActivity stores an audit row; failures are logged and never fail the
// caller.
func (s *Service) recordActivity(ctx context.Context, userID, activityType, description string, metadata map[string]any) {
	var raw json.RawMessage
	if len(metadata) > 0 {
		encoded, err := json.Marshal(metadata)
		if err == nil {
			raw = encoded
		}
	}
	err := s.store.InsertActivity(ctx, store.Activity{
		ID:          util.NewID("act"),
		UserID:      userID,
		Type:        activityType,
		Description: description,
		Metadata:    raw,
	})
	if err != nil {
		s.logger.Error("record activity",
			zap.String("user_id", userID), zap.String("activity_type", activityType), zap.Error(err))
	}
}

// publish sends a chat event to the realtime hub; failures are logged.
func (s *Service) publish(ctx context.Context, eventType realtime.EventType, channelID string, payload any) {
	event, err := realtime.NewEvent(eventType, channelID, payload)
	if err == nil {
		err = s.hub.Publish(ctx, event)
	}
	if err != nil {
		s.logger.Warn("publish chat event",
			zap.String("channel_id", channelID), zap.String("type", string(eventType)), zap.Error(err))
	}
}

// Subscribe opens a realtime subscription after checking channel access.
func (s *Service) Subscribe(ctx context.Context, session Session, channelID string) (*realtime.Subscription, error) {
	if _, err := s.accessibleChannel(ctx, session, channelID); err != nil {
		return nil, err
	}
	return s.hub.Subscribe(channelID), nil
}

// StreamAllowed re-checks channel access for an open stream.
func (s *Service) StreamAllowed(ctx context.Context, session Session, channelID string) bool {
	_, err := s.accessibleChannel(ctx, session, channelID)
	return err == nil
}

func (s *Service) upload(ctx context.Context, prefix string, file upload) (string, error) {
	if s.blobs == nil {
		return "", domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "File storage is not configured", nil)
	}
	url, err := s.blobs.Put(ctx, prefix, file.Filename, file.ContentType, file.Size, file.Body)
	if err != nil {
		return "", fmt.Errorf("store upload: %w", err)
	}
	return url, nil
}

// upload is a received multipart file.
type upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

func parseTimeFilter(value string) (int, error) {
	switch value {
	case "", "7d":
		return 7, nil
	case "30d":
		return 30, nil
	case "90d":
		return 90, nil
	default:
		return 0, badRequest("INVALID_TIME_FILTER", "time_filter must be one of 7d, 30d, 90d")
	}
}
