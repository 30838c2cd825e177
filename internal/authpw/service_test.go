package authpw

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"council/api/internal/store"
)

type resetEntry struct {
	userID    string
	expiresAt time.Time
	used      bool
}

// mockUserStore is a mock implementation of UserStore for testing
type mockUserStore struct {
	users  map[string]store.User
	resets map[string]resetEntry
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		users:  make(map[string]store.User),
		resets: make(map[string]resetEntry),
	}
}

func (m *mockUserStore) GetUserByLogin(_ context.Context, login string) (store.User, error) {
	for _, user := range m.users {
		if user.Username == login || strings.EqualFold(user.Email, login) {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (m *mockUserStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	for _, user := range m.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (m *mockUserStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	if user, ok := m.users[id]; ok {
		return user, nil
	}
	return store.User{}, sql.ErrNoRows
}

func (m *mockUserStore) UserExists(_ context.Context, username, email string) (bool, error) {
	for _, user := range m.users {
		if user.Username == username || strings.EqualFold(user.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockUserStore) CreateUser(_ context.Context, user store.User) error {
	m.users[user.ID] = user
	return nil
}

func (m *mockUserStore) UpdateUserPassword(_ context.Context, userID, passwordHash string) error {
	user, ok := m.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.PasswordHash = passwordHash
	m.users[userID] = user
	return nil
}

func (m *mockUserStore) CreatePasswordReset(_ context.Context, userID, token string, expiresAt time.Time) error {
	m.resets[token] = resetEntry{userID: userID, expiresAt: expiresAt}
	return nil
}

func (m *mockUserStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	if reset, ok := m.resets[token]; ok && !reset.used && time.Now().Before(reset.expiresAt) {
		return reset.userID, nil
	}
	return "", sql.ErrNoRows
}

func (m *mockUserStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	if reset, ok := m.resets[token]; ok {
		reset.used = true
		m.resets[token] = reset
	}
	return nil
}

func newTestService() (*Service, *mockUserStore) {
	mockStore := newMockUserStore()
	return NewService(mockStore).WithCost(bcrypt.MinCost), mockStore
}

func registerAda(t *testing.T, svc *Service) store.User {
	t.Helper()
	user, err := svc.Register(context.Background(), RegisterRequest{
		Username:  "ada",
		Email:     "ada@example.org",
		Password:  "password123",
		Password2: "password123",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Domain:    "ops",
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return user
}

func TestRegister(t *testing.T) {
	svc, mockStore := newTestService()
	user := registerAda(t, svc)

	if user.Role != "board_member" {
		t.Errorf("self-registration must yield board_member, got %s", user.Role)
	}
	if !user.IsActive || user.PasswordHash == "password123" {
		t.Errorf("unexpected stored user: %+v", user)
	}
	if len(user.NotificationSettings) != 5 || !user.NotificationSettings["meetings"] {
		t.Errorf("expected default notification settings, got %v", user.NotificationSettings)
	}
	if _, ok := mockStore.users[user.ID]; !ok {
		t.Fatal("user was not stored")
	}

	tests := []struct {
		name string
		req  RegisterRequest
		want error
	}{
		{
			name: "duplicate username",
			req:  RegisterRequest{Username: "ada", Email: "other@example.org", Password: "password123", Password2: "password123"},
			want: ErrUserExists,
		},
		{
			name: "duplicate email",
			req:  RegisterRequest{Username: "other", Email: "ADA@example.org", Password: "password123", Password2: "password123"},
			want: ErrUserExists,
		},
		{
			name: "short password",
			req:  RegisterRequest{Username: "bob", Email: "bob@example.org", Password: "short", Password2: "short"},
			want: ErrPasswordTooShort,
		},
		{
			name: "mismatched passwords",
			req:  RegisterRequest{Username: "bob", Email: "bob@example.org", Password: "password123", Password2: "password124"},
			want: ErrPasswordMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Register(context.Background(), tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("Register() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLogin(t *testing.T) {
	svc, mockStore := newTestService()
	user := registerAda(t, svc)
	ctx := context.Background()

	for _, login := range []string{"ada", "ada@example.org", "ADA@EXAMPLE.ORG"} {
		got, err := svc.Login(ctx, login, "password123")
		if err != nil {
			t.Fatalf("Login(%q) error = %v", login, err)
		}
		if got.ID != user.ID {
			t.Fatalf("Login(%q) returned %s", login, got.ID)
		}
	}

	if _, err := svc.Login(ctx, "ada", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(ctx, "nobody", "password123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}

	disabled := mockStore.users[user.ID]
	disabled.IsActive = false
	mockStore.users[user.ID] = disabled
	if _, err := svc.Login(ctx, "ada", "password123"); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected ErrAccountDisabled, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	svc, _ := newTestService()
	user := registerAda(t, svc)
	ctx := context.Background()

	if err := svc.ChangePassword(ctx, user.ID, "nope", "newpassword1", "newpassword1"); !errors.Is(err, ErrWrongPassword) {
		t.Fatalf("expected ErrWrongPassword, got %v", err)
	}
	if err := svc.ChangePassword(ctx, user.ID, "password123", "newpassword1", "different1"); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected ErrPasswordMismatch, got %v", err)
	}
	if err := svc.ChangePassword(ctx, user.ID, "password123", "newpassword1", "newpassword1"); err != nil {
		t.Fatalf("ChangePassword() error = %v", err)
	}
	if _, err := svc.Login(ctx, "ada", "newpassword1"); err != nil {
		t.Fatalf("login with new password failed: %v", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	svc, _ := newTestService()
	registerAda(t, svc)
	ctx := context.Background()

	token, user, err := svc.RequestPasswordReset(ctx, "ada@example.org")
	if err != nil {
		t.Fatalf("RequestPasswordReset() error = %v", err)
	}
	if len(token) != 64 || user.Username != "ada" {
		t.Fatalf("unexpected reset token %q for %+v", token, user)
	}

	if err := svc.ResetPassword(ctx, token, "resetpass1", "resetpass1"); err != nil {
		t.Fatalf("ResetPassword() error = %v", err)
	}
	if _, err := svc.Login(ctx, "ada", "resetpass1"); err != nil {
		t.Fatalf("login after reset failed: %v", err)
	}

	if err := svc.ResetPassword(ctx, token, "another12", "another12"); !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("reused token should be rejected, got %v", err)
	}
}

func TestRequestPasswordResetUnknownEmail(t *testing.T) {
	svc, _ := newTestService()
	token, _, err := svc.RequestPasswordReset(context.Background(), "ghost@example.org")
	if err != nil || token != "" {
		t.Fatalf("unknown email should be silent, got token=%q err=%v", token, err)
	}
}
