// Package authpw provides username/email and password authentication.
package authpw

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"council/api/internal/rbac"
	"council/api/internal/store"
	"council/api/internal/util"
)

const (
	MinPasswordLength = 8
	resetTTL          = time.Hour
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrAccountDisabled    = errors.New("account is disabled")
	ErrUserExists         = errors.New("a user with that username or email already exists")
	ErrPasswordMismatch   = errors.New("passwords do not match")
	ErrPasswordTooShort   = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrWrongPassword      = errors.New("old password is incorrect")
	ErrInvalidResetToken  = errors.New("invalid or expired reset token")
)

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByLogin(ctx context.Context, login string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	UserExists(ctx context.Context, username, email string) (bool, error)
	CreateUser(ctx context.Context, user store.User) error
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
	CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error
	GetPasswordReset(ctx context.Context, token string) (string, error)
	MarkPasswordResetUsed(ctx context.Context, token string) error
}

type Service struct {
	store UserStore
	cost  int
	now   func() time.Time
}

func NewService(store UserStore) *Service {
	return &Service{store: store, cost: bcrypt.DefaultCost, now: time.Now}
}

// WithCost sets the bcrypt cost; tests use bcrypt.MinCost.
func (s *Service) WithCost(cost int) *Service {
	s.cost = cost
	return s
}

type RegisterRequest struct {
	Username  string
	Email     string
	Password  string
	Password2 string
	FirstName string
	LastName  string
	Domain    string
	Vertical  string
}

// Register creates a board member account. Self-registration never grants
// an elevated role.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (store.User, error) {
	if err := checkNewPassword(req.Password, req.Password2); err != nil {
		return store.User{}, err
	}

	exists, err := s.store.UserExists(ctx, req.Username, req.Email)
	if err != nil {
		return store.User{}, err
	}
	if exists {
		return store.User{}, ErrUserExists
	}

	hash, err := s.hash(req.Password)
	if err != nil {
		return store.User{}, err
	}

	user := store.User{
		ID:                   util.NewID("usr"),
		Username:             strings.TrimSpace(req.Username),
		Email:                strings.TrimSpace(req.Email),
		PasswordHash:         hash,
		FirstName:            strings.TrimSpace(req.FirstName),
		LastName:             strings.TrimSpace(req.LastName),
		Role:                 string(rbac.RoleBoardMember),
		Domain:               req.Domain,
		Vertical:             req.Vertical,
		Theme:                "light",
		Language:             "en",
		NotificationSettings: DefaultNotificationSettings(),
		DashboardColorTheme:  "blue",
		IsActive:             true,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	user.CreatedAt = s.now().UTC()
	return user, nil
}

// DefaultNotificationSettings has every notification channel enabled.
func DefaultNotificationSettings() map[string]bool {
	return map[string]bool{"email": true, "push": true, "tasks": true, "reports": true, "meetings": true}
}

// Login authenticates by username or email.
func (s *Service) Login(ctx context.Context, login, password string) (store.User, error) {
	if strings.TrimSpace(login) == "" || password == "" {
		return store.User{}, ErrInvalidCredentials
	}
	user, err := s.store.GetUserByLogin(ctx, strings.TrimSpace(login))
	if err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	if !user.IsActive {
		return store.User{}, ErrAccountDisabled
	}
	return user, nil
}

func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword, confirm string) error {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(oldPassword)); err != nil {
		return ErrWrongPassword
	}
	if err := checkNewPassword(newPassword, confirm); err != nil {
		return err
	}
	hash, err := s.hash(newPassword)
	if err != nil {
		return err
	}
	return s.store.UpdateUserPassword(ctx, userID, hash)
}

// RequestPasswordReset creates a reset token. Unknown emails yield an empty
// token and no error so callers cannot discover accounts.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, store.User, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil || !user.IsActive {
		return "", store.User{}, nil
	}

	token, err := generateToken()
	if err != nil {
		return "", store.User{}, err
	}
	if err := s.store.CreatePasswordReset(ctx, user.ID, token, s.now().Add(resetTTL)); err != nil {
		return "", store.User{}, err
	}
	return token, user, nil
}

func (s *Service) ResetPassword(ctx context.Context, token, newPassword, confirm string) error {
	if strings.TrimSpace(token) == "" {
		return ErrInvalidResetToken
	}
	if err := checkNewPassword(newPassword, confirm); err != nil {
		return err
	}

	userID, err := s.store.GetPasswordReset(ctx, token)
	if err != nil {
		return ErrInvalidResetToken
	}
	hash, err := s.hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.store.UpdateUserPassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return s.store.MarkPasswordResetUsed(ctx, token)
}

func (s *Service) hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func checkNewPassword(password, confirm string) error {
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if password != confirm {
		return ErrPasswordMismatch
	}
	return nil
}

// HashPassword is used when an administrator sets a password directly.
func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", ErrPasswordTooShort
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// generateToken creates a secure random token
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
