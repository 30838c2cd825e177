package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"council/api/internal/authpw"
	"council/api/internal/blob"
	"council/api/internal/policy"
	"council/api/internal/rbac"
	"council/api/internal/store"
	"council/api/internal/util"
)

type RegisterInput struct {
	Username  string `json:"username" validate:"required,min=3,max=150"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	Password2 string `json:"password2" validate:"required"`
	FirstName string `json:"first_name" validate:"max=150"`
	LastName  string `json:"last_name" validate:"max=150"`
	Domain    string `json:"domain" validate:"omitempty,oneof=mmt photography comms mis hr ops editorial design promotions"`
	Vertical  string `json:"vertical" validate:"omitempty,oneof=accessibility climate_change health massom road_safety sports entrepreneurship membership arts_culture"`
}

type LoginInput struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type ProfileInput struct {
	FirstName   *string `json:"first_name" validate:"omitempty,max=150"`
	LastName    *string `json:"last_name" validate:"omitempty,max=150"`
	Title       *string `json:"title" validate:"omitempty,max=100"`
	Description *string `json:"description"`
	Phone       *string `json:"phone" validate:"omitempty,max=20"`
}

type SettingsInput struct {
	Theme                *string        `json:"theme" validate:"omitempty,oneof=light dark"`
	Language             *string        `json:"language" validate:"omitempty,oneof=en es fr"`
	NotificationSettings map[string]any `json:"notification_settings"`
	DashboardColorTheme  *string        `json:"dashboard_color_theme" validate:"omitempty,oneof=blue orange green purple"`
}

type ChangePasswordInput struct {
	OldPassword        string `json:"old_password" validate:"required"`
	NewPassword        string `json:"new_password" validate:"required"`
	NewPasswordConfirm string `json:"new_password_confirm" validate:"required"`
}

type ResetConfirmInput struct {
	Token              string `json:"token" validate:"required"`
	NewPassword        string `json:"new_password" validate:"required"`
	NewPasswordConfirm string `json:"new_password_confirm" validate:"required"`
}

// UserInput is used by user managers to create or edit accounts.
type UserInput struct {
	Username  string  `json:"username" validate:"omitempty,min=3,max=150"`
	Email     *string `json:"email" validate:"omitempty,email"`
	Password  string  `json:"password"`
	FirstName *string `json:"first_name" validate:"omitempty,max=150"`
	LastName  *string `json:"last_name" validate:"omitempty,max=150"`
	Role      *string `json:"role" validate:"omitempty,oneof=admin senior_council junior_council board_member"`
	Domain    *string `json:"domain" validate:"omitempty,oneof=mmt photography comms mis hr ops editorial design promotions"`
	Vertical  *string `json:"vertical" validate:"omitempty,oneof=accessibility climate_change health massom road_safety sports entrepreneurship membership arts_culture"`
	IsActive  *bool   `json:"is_active"`
}

type UserListInput struct {
	Role   string
	Domain string
	Search string
	Limit  int
	Offset int
}

var notificationKeys = []string{"email", "push", "tasks", "reports", "meetings"}

func mapPasswordError(err error) error {
	switch {
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", err.Error(), nil)
	case errors.Is(err, authpw.ErrAccountDisabled):
		return domainError(http.StatusForbidden, "ACCOUNT_DISABLED", "User account is disabled.", nil)
	case errors.Is(err, authpw.ErrUserExists):
		return domainError(http.StatusBadRequest, "USER_EXISTS", err.Error(), nil)
	case errors.Is(err, authpw.ErrPasswordMismatch):
		return domainError(http.StatusBadRequest, "PASSWORD_MISMATCH", "Password fields didn't match.", nil)
	case errors.Is(err, authpw.ErrPasswordTooShort):
		return domainError(http.StatusBadRequest, "PASSWORD_TOO_SHORT", err.Error(), nil)
	case errors.Is(err, authpw.ErrWrongPassword):
		return domainError(http.StatusBadRequest, "WRONG_PASSWORD", err.Error(), nil)
	case errors.Is(err, authpw.ErrInvalidResetToken):
		return domainError(http.StatusBadRequest, "INVALID_RESET_TOKEN", err.Error(), nil)
	default:
		return err
	}
}

func (s *Service) Register(ctx context.Context, input RegisterInput) (map[string]any, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, err
	}
	user, err := s.passwords.Register(ctx, authpw.RegisterRequest{
		Username:  input.Username,
		Email:     input.Email,
		Password:  input.Password,
		Password2: input.Password2,
		FirstName: input.FirstName,
		LastName:  input.LastName,
		Domain:    input.Domain,
		Vertical:  input.Vertical,
	})
	if err != nil {
		return nil, mapPasswordError(err)
	}
	s.logger.Info("user registered", zap.String("user_id", user.ID), zap.String("username", user.Username))
	return userPayload(user), nil
}

func (s *Service) Login(ctx context.Context, input LoginInput) (Session, map[string]any, error) {
	if err := s.validate.Struct(input); err != nil {
		return Session{}, nil, err
	}
	user, err := s.passwords.Login(ctx, input.Username, input.Password)
	if err != nil {
		return Session{}, nil, mapPasswordError(err)
	}
	now := s.now()
	if err := s.store.TouchLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("touch last login", zap.String("user_id", user.ID), zap.Error(err))
	}
	user.LastLogin = &now

	session, err := s.issueSession(ctx, user)
	if err != nil {
		return Session{}, nil, err
	}
	s.recordActivity(ctx, user.ID, "login", "User logged in", nil)
	return session, userPayload(user), nil
}

// RequestPasswordReset always succeeds so addresses cannot be enumerated. When no
// mailer is configured the token is returned for local development.
func (s *Service) RequestPasswordReset(ctx context.Context, emailAddress string) (map[string]any, error) {
	response := map[string]any{"message": "If that email exists, a reset link has been sent."}
	token, user, err := s.passwords.RequestPasswordReset(ctx, strings.TrimSpace(emailAddress))
	if err != nil {
		return nil, err
	}
	if token == "" {
		return response, nil
	}
	if !s.mailer.IsConfigured() {
		response["token"] = token
		return response, nil
	}
	go func() {
		if err := s.mailer.SendPasswordReset(user.Email, user.FullName(), token); err != nil {
			s.logger.Error("send password reset email", zap.String("user_id", user.ID), zap.Error(err))
		}
	}()
	return response, nil
}

func (s *Service) ResetPassword(ctx context.Context, input ResetConfirmInput) error {
	if err := s.validate.Struct(input); err != nil {
		return err
	}
	return mapPasswordError(s.passwords.ResetPassword(ctx, input.Token, input.NewPassword, input.NewPasswordConfirm))
}

func (s *Service) ChangePassword(ctx context.Context, session Session, input ChangePasswordInput) error {
	if err := s.validate.Struct(input); err != nil {
		return err
	}
	err := s.passwords.ChangePassword(ctx, session.UserID, input.OldPassword, input.NewPassword, input.NewPasswordConfirm)
	return mapPasswordError(err)
}

func (s *Service) Profile(ctx context.Context, session Session) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	return userPayload(user), nil
}

func (s *Service) UpdateProfile(ctx context.Context, session Session, input ProfileInput) (map[string]any, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, err
	}
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	assign(&user.FirstName, input.FirstName)
	assign(&user.LastName, input.LastName)
	assign(&user.Title, input.Title)
	assign(&user.Description, input.Description)
	assign(&user.Phone, input.Phone)
	if err := s.store.UpdateUserProfile(ctx, user); err != nil {
		return nil, err
	}
	return userPayload(user), nil
}

func (s *Service) Settings(ctx context.Context, session Session) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	return settingsPayload(user), nil
}

func (s *Service) UpdateSettings(ctx context.Context, session Session, input SettingsInput) (map[string]any, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, err
	}
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	assign(&user.Theme, input.Theme)
	assign(&user.Language, input.Language)
	assign(&user.DashboardColorTheme, input.DashboardColorTheme)
	if input.NotificationSettings != nil {
		settings, err := normalizeNotificationSettings(input.NotificationSettings)
		if err != nil {
			return nil, err
		}
		user.NotificationSettings = settings
	}
	if err := s.store.UpdateUserSettings(ctx, user); err != nil {
		return nil, err
	}
	return settingsPayload(user), nil
}

// normalizeNotificationSettings requires every known key and coerces values
// to booleans.
func normalizeNotificationSettings(raw map[string]any) (map[string]bool, error) {
	settings := make(map[string]bool, len(notificationKeys))
	missing := make([]string, 0)
	for _, key := range notificationKeys {
		value, ok := raw[key]
		if !ok {
			missing = append(missing, key)
			continue
		}
		settings[key] = truthy(value)
	}
	if len(missing) > 0 {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_FAILED", "Invalid input", map[string]string{
			"notification_settings": "missing required keys: " + strings.Join(missing, ", "),
		})
	}
	return settings, nil
}

func truthy(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "on":
			return true
		}
		return false
	default:
		return value != nil
	}
}

func (s *Service) UploadAvatar(ctx context.Context, session Session, file upload) (map[string]any, error) {
	switch err := blob.ValidateAvatar(file.ContentType, file.Size); {
	case errors.Is(err, blob.ErrEmptyUpload):
		return nil, badRequest("INVALID_AVATAR", "No avatar file provided")
	case errors.Is(err, blob.ErrNotAnImage):
		return nil, badRequest("INVALID_AVATAR", "File must be an image")
	case errors.Is(err, blob.ErrTooLarge):
		return nil, badRequest("INVALID_AVATAR", "File size must be less than 5MB")
	}
	url, err := s.upload(ctx, "avatars/"+session.UserID, file)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateUserAvatar(ctx, session.UserID, url); err != nil {
		return nil, err
	}
	return map[string]any{"message": "Avatar uploaded successfully", "avatar_url": url}, nil
}

func (s *Service) Permissions(session Session) map[string]any {
	return rbac.Permissions(session.role(), session.Domain)
}

func (s *Service) ListUsers(ctx context.Context, session Session, input UserListInput) (map[string]any, error) {
	filter := store.UserFilter{
		Scope:  policy.Users(session.Actor()),
		Role:   input.Role,
		Domain: input.Domain,
		Search: strings.TrimSpace(input.Search),
		Limit:  input.Limit,
		Offset: input.Offset,
	}
	users, err := s.store.ListUsers(ctx, filter)
	if err != nil {
		return nil, err
	}
	total, err := s.store.CountUsers(ctx, filter)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(users))
	for _, user := range users {
		items = append(items, userPayload(user))
	}
	return listPayload("results", items, total), nil
}

// managedUser loads a user the actor may administer.
func (s *Service) managedUser(ctx context.Context, session Session, userID string) (store.User, error) {
	if !s.Can(session.Role, rbac.ActionManageUsers) {
		return store.User{}, forbidden("")
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return store.User{}, err
	}
	if !policy.Users(session.Actor()).Matches(user.Record()) {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (s *Service) GetUser(ctx context.Context, session Session, userID string) (map[string]any, error) {
	user, err := s.managedUser(ctx, session, userID)
	if err != nil {
		return nil, err
	}
	return userPayload(user), nil
}

func (s *Service) CreateUser(ctx context.Context, session Session, input UserInput) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionManageUsers) {
		return nil, forbidden("")
	}
	if err := s.validate.Struct(input); err != nil {
		return nil, err
	}
	if input.Username == "" || input.Email == nil || *input.Email == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_FAILED", "Invalid input", map[string]string{
			"username": "username and email are required",
		})
	}
	role := rbac.RoleBoardMember
	if input.Role != nil {
		role = rbac.Role(*input.Role)
	}
	if !rbac.CanAssignRole(session.role(), role) {
		return nil, forbidden("You cannot assign the " + rbac.Label(role) + " role.")
	}
	if len(input.Password) < authpw.MinPasswordLength {
		return nil, mapPasswordError(authpw.ErrPasswordTooShort)
	}
	exists, err := s.store.UserExists(ctx, input.Username, *input.Email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, mapPasswordError(authpw.ErrUserExists)
	}
	hash, err := authpw.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	user := store.User{
		ID:                   util.NewID("usr"),
		Username:             strings.TrimSpace(input.Username),
		Email:                strings.TrimSpace(*input.Email),
		PasswordHash:         hash,
		Role:                 string(role),
		Theme:                "light",
		Language:             "en",
		NotificationSettings: authpw.DefaultNotificationSettings(),
		DashboardColorTheme:  "blue",
		IsActive:             true,
	}
	assign(&user.FirstName, input.FirstName)
	assign(&user.LastName, input.LastName)
	assign(&user.Domain, input.Domain)
	assign(&user.Vertical, input.Vertical)
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	user.CreatedAt = s.now().UTC()
	s.logger.Info("user created",
		zap.String("user_id", user.ID), zap.String("role", user.Role), zap.String("created_by", session.UserID))
	return userPayload(user), nil
}

func (s *Service) UpdateUser(ctx context.Context, session Session, userID string, input UserInput) (map[string]any, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, err
	}
	user, err := s.managedUser(ctx, session, userID)
	if err != nil {
		return nil, err
	}
	if input.Role != nil && *input.Role != user.Role {
		if !rbac.CanAssignRole(session.role(), rbac.Role(*input.Role)) {
			return nil, forbidden("You cannot assign the " + rbac.Label(rbac.Role(*input.Role)) + " role.")
		}
		user.Role = *input.Role
	}
	if input.IsActive != nil && *input.IsActive != user.IsActive {
		if session.role() != rbac.RoleAdmin {
			return nil, forbidden("Only admins can activate or deactivate users.")
		}
		user.IsActive = *input.IsActive
	}
	assign(&user.FirstName, input.FirstName)
	assign(&user.LastName, input.LastName)
	assign(&user.Email, input.Email)
	assign(&user.Domain, input.Domain)
	assign(&user.Vertical, input.Vertical)
	if err := s.store.UpdateUserAccount(ctx, user); err != nil {
		return nil, err
	}
	return userPayload(user), nil
}

// DeactivateUser is the soft delete behind DELETE /users/{id}.
func (s *Service) DeactivateUser(ctx context.Context, session Session, userID string) error {
	if session.role() != rbac.RoleAdmin {
		return forbidden("Only admins can deactivate users.")
	}
	if userID == session.UserID {
		return badRequest("CANNOT_DEACTIVATE_SELF", "You cannot deactivate your own account.")
	}
	user, err := s.managedUser(ctx, session, userID)
	if err != nil {
		return err
	}
	user.IsActive = false
	return s.store.UpdateUserAccount(ctx, user)
}

func choices(values []string) []map[string]string {
	items := make([]map[string]string, 0, len(values))
	for _, value := range values {
		items = append(items, map[string]string{"value": value, "label": humanizeChoice(value)})
	}
	return items
}

func humanizeChoice(value string) string {
	words := strings.Split(value, "_")
	for i, word := range words {
		if len(word) <= 3 && word != "ops" {
			words[i] = strings.ToUpper(word)
			continue
		}
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}

// Meta lists the enumerations clients render in forms.
func (s *Service) Meta() map[string]any {
	roles := make([]map[string]string, 0, len(rbac.Roles))
	for _, role := range rbac.Roles {
		roles = append(roles, map[string]string{"value": string(role), "label": rbac.Label(role)})
	}
	return map[string]any{
		"roles":          roles,
		"domains":        choices(rbac.Domains),
		"verticals":      choices(rbac.Verticals),
		"priorities":     choices(priorities),
		"task_statuses":  choices(taskStatuses),
		"channel_types":  choices(channelTypes),
		"report_types":   choices(reportTypes),
		"widget_types":   choices(widgetTypes),
		"reaction_types": reactionTypes,
	}
}

func assign(target *string, value *string) {
	if value != nil {
		*target = strings.TrimSpace(*value)
	}
}
