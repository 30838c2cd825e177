package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"council/api/internal/policy"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const userSelect = `
	SELECT u.id, u.username, u.email, u.password_hash, u.first_name, u.last_name, u.role,
		COALESCE(u.domain, ''), COALESCE(u.vertical, ''), u.title, u.description, u.phone,
		u.avatar_url, u.theme, u.language, u.notification_settings, u.dashboard_color_theme,
		u.is_active, u.last_login, u.created_at, u.updated_at
	FROM users u`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var (
		user      User
		settings  []byte
		lastLogin sql.NullTime
	)
	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.FirstName, &user.LastName, &user.Role,
		&user.Domain, &user.Vertical, &user.Title, &user.Description, &user.Phone,
		&user.AvatarURL, &user.Theme, &user.Language, &settings, &user.DashboardColorTheme,
		&user.IsActive, &lastLogin, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &user.NotificationSettings); err != nil {
			return User{}, fmt.Errorf("decode notification settings: %w", err)
		}
	}
	if lastLogin.Valid {
		user.LastLogin = &lastLogin.Time
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	settings, err := json.Marshal(user.NotificationSettings)
	if err != nil {
		return fmt.Errorf("encode notification settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users(id, username, email, password_hash, first_name, last_name, role, domain, vertical,
			theme, language, notification_settings, dashboard_color_theme, is_active)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, user.ID, user.Username, user.Email, user.PasswordHash, user.FirstName, user.LastName, user.Role,
		nullIfEmpty(user.Domain), nullIfEmpty(user.Vertical), user.Theme, user.Language, settings,
		user.DashboardColorTheme, user.IsActive)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, userSelect+` WHERE u.id=$1`, userID))
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, userSelect+` WHERE LOWER(u.email)=LOWER($1)`, email))
}

// GetUserByLogin resolves either a username or an email address.
func (s *PostgresStore) GetUserByLogin(ctx context.Context, login string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, userSelect+` WHERE u.username=$1 OR LOWER(u.email)=LOWER($1) LIMIT 1`, login))
}

func (s *PostgresStore) UserExists(ctx context.Context, username, email string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM users WHERE username=$1 OR LOWER(email)=LOWER($2))
	`, username, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check user exists: %w", err)
	}
	return exists, nil
}

func userWhere(filter UserFilter, args *policy.Args) string {
	where := []string{filter.Scope.SQL(userColumns, args)}
	if filter.Role != "" {
		where = append(where, "u.role = "+args.Add(filter.Role))
	}
	if filter.Domain != "" {
		where = append(where, "u.domain = "+args.Add(filter.Domain))
	}
	if filter.Search != "" {
		placeholder := args.Add(policy.LikeContains(filter.Search))
		where = append(where, fmt.Sprintf(
			`(u.username ILIKE %[1]s ESCAPE '\' OR u.email ILIKE %[1]s ESCAPE '\' OR u.first_name ILIKE %[1]s ESCAPE '\' OR u.last_name ILIKE %[1]s ESCAPE '\')`,
			placeholder,
		))
	}
	return strings.Join(where, " AND ")
}

func (s *PostgresStore) ListUsers(ctx context.Context, filter UserFilter) ([]User, error) {
	args := policy.NewArgs()
	query := userSelect + " WHERE " + userWhere(filter, args) +
		" ORDER BY u.first_name, u.last_name, u.username" + pageClause(args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args.Values()...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *PostgresStore) UpdateUserProfile(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET first_name=$2, last_name=$3, title=$4, description=$5, phone=$6, updated_at=NOW()
		WHERE id=$1
	`, user.ID, user.FirstName, user.LastName, user.Title, user.Description, user.Phone)
	if err != nil {
		return fmt.Errorf("update user profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserSettings(ctx context.Context, user User) error {
	settings, err := json.Marshal(user.NotificationSettings)
	if err != nil {
		return fmt.Errorf("encode notification settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE users
		SET theme=$2, language=$3, notification_settings=$4, dashboard_color_theme=$5, updated_at=NOW()
		WHERE id=$1
	`, user.ID, user.Theme, user.Language, settings, user.DashboardColorTheme)
	if err != nil {
		return fmt.Errorf("update user settings: %w", err)
	}
	return nil
}

// UpdateUserAccount changes the administrative fields of a user.
func (s *PostgresStore) UpdateUserAccount(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET first_name=$2, last_name=$3, email=$4, role=$5, domain=$6, vertical=$7, is_active=$8, updated_at=NOW()
		WHERE id=$1
	`, user.ID, user.FirstName, user.LastName, user.Email, user.Role,
		nullIfEmpty(user.Domain), nullIfEmpty(user.Vertical), user.IsActive)
	if err != nil {
		return fmt.Errorf("update user account: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserAvatar(ctx context.Context, userID, avatarURL string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET avatar_url=$2, updated_at=NOW() WHERE id=$1`, userID, avatarURL)
	if err != nil {
		return fmt.Errorf("update avatar: %w", err)
	}
	return nil
}

func (s *PostgresStore) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET last_login=$2 WHERE id=$1`, userID, at)
	if err != nil {
		return fmt.Errorf("touch last login: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions(token_hash, user_id, expires_at)
		VALUES($1, $2, $3)
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1 AND revoked_at IS NULL`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM refresh_sessions
		WHERE token_hash=$1 AND revoked_at IS NULL AND expires_at > NOW()
	`, tokenHash).Scan(&userID)
	if err != nil {
		return User{}, err
	}
	return s.GetUserByID(ctx, userID)
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_tokens(jti, expires_at) VALUES($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE jti=$1)`, jti).Scan(&exists); err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets(token, user_id, expires_at) VALUES($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("reset token not found: %w", err)
	}
	if err != nil {
		return "", fmt.Errorf("lookup password reset: %w", err)
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

func nullIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return *value
}

func timePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}
