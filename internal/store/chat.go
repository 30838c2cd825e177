package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"council/api/internal/policy"
)

const channelSelect = `
	SELECT c.id, c.name, c.description, c.channel_type, COALESCE(c.domain, ''), COALESCE(c.vertical, ''),
		c.is_private, c.is_archived, c.created_by, c.created_at, c.updated_at,
		COALESCE(ARRAY_TO_STRING(ARRAY(
			SELECT cp.user_id FROM channel_participants cp WHERE cp.channel_id = c.id ORDER BY cp.joined_at
		), ','), '')
	FROM channels c`

func scanChannel(row rowScanner) (Channel, error) {
	var (
		channel      Channel
		participants string
	)
	err := row.Scan(
		&channel.ID, &channel.Name, &channel.Description, &channel.Type, &channel.Domain, &channel.Vertical,
		&channel.IsPrivate, &channel.IsArchived, &channel.CreatedBy, &channel.CreatedAt, &channel.UpdatedAt,
		&participants,
	)
	if err != nil {
		return Channel{}, err
	}
	channel.Participants = make([]string, 0)
	if participants != "" {
		channel.Participants = strings.Split(participants, ",")
	}
	return channel, nil
}

func (s *PostgresStore) ListChannels(ctx context.Context, filter ChannelFilter) ([]Channel, error) {
	args := policy.NewArgs()
	where := []string{filter.Scope.SQL(channelColumns, args)}
	if filter.Participant != "" {
		where = append(where, fmt.Sprintf(channelColumns[policy.FieldParticipants], args.Add(filter.Participant)))
	}
	if filter.Type != "" {
		where = append(where, "c.channel_type = "+args.Add(filter.Type))
	}
	rows, err := s.db.QueryContext(ctx, channelSelect+" WHERE "+strings.Join(where, " AND ")+" ORDER BY c.updated_at DESC", args.Values()...)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	channels := make([]Channel, 0)
	for rows.Next() {
		channel, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		channels = append(channels, channel)
	}
	return channels, rows.Err()
}

func (s *PostgresStore) GetChannel(ctx context.Context, channelID string) (Channel, error) {
	return scanChannel(s.db.QueryRowContext(ctx, channelSelect+` WHERE c.id=$1`, channelID))
}

// InsertChannel creates the channel with its participants and their status rows.
func (s *PostgresStore) InsertChannel(ctx context.Context, channel Channel) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin channel insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO channels(id, name, description, channel_type, domain, vertical, is_private, is_archived, created_by)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, channel.ID, channel.Name, channel.Description, channel.Type, nullIfEmpty(channel.Domain),
		nullIfEmpty(channel.Vertical), channel.IsPrivate, channel.IsArchived, channel.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert channel: %w", err)
	}
	for _, userID := range channel.Participants {
		if err := addParticipant(ctx, tx, channel.ID, userID); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit channel insert: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateChannel(ctx context.Context, channel Channel) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE channels
		SET name=$2, description=$3, is_private=$4, is_archived=$5, updated_at=NOW()
		WHERE id=$1
	`, channel.ID, channel.Name, channel.Description, channel.IsPrivate, channel.IsArchived)
	if err != nil {
		return fmt.Errorf("update channel: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) AddParticipant(ctx context.Context, channelID, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add participant: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := addParticipant(ctx, tx, channelID, userID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit add participant: %w", err)
	}
	return nil
}

func addParticipant(ctx context.Context, tx *sql.Tx, channelID, userID string) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO channel_participants(channel_id, user_id) VALUES($1, $2)
		ON CONFLICT DO NOTHING
	`, channelID, userID); err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO channel_user_status(channel_id, user_id) VALUES($1, $2)
		ON CONFLICT DO NOTHING
	`, channelID, userID); err != nil {
		return fmt.Errorf("insert channel status: %w", err)
	}
	return nil
}

// RemoveParticipant drops membership and the per-user status row so a later
// rejoin starts from zero unread.
func (s *PostgresStore) RemoveParticipant(ctx context.Context, channelID, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin remove participant: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM channel_participants WHERE channel_id=$1 AND user_id=$2`, channelID, userID); err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM channel_user_status WHERE channel_id=$1 AND user_id=$2`, channelID, userID); err != nil {
		return fmt.Errorf("remove channel status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit remove participant: %w", err)
	}
	return nil
}

var messageSelect = fmt.Sprintf(`
	SELECT m.id, m.channel_id, m.sender_id, %s AS sender_name, m.content, m.message_type, m.file_url,
		COALESCE(m.reply_to, '') AS reply_to, m.is_edited, m.is_deleted, m.created_at, m.updated_at
	FROM messages m
	JOIN users su ON su.id = m.sender_id`, fmt.Sprintf(displayNameSQL, "su"))

func scanMessage(row rowScanner) (Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ChannelID, &m.SenderID, &m.SenderName, &m.Content, &m.Type, &m.FileURL,
		&m.ReplyTo, &m.IsEdited, &m.IsDeleted, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return Message{}, err
	}
	return m, nil
}

// ListMessages returns live messages in chronological order. When before is
// set only older messages are returned, newest page first.
func (s *PostgresStore) ListMessages(ctx context.Context, channelID string, before *time.Time, limit int) ([]Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args := policy.NewArgs(channelID)
	where := "m.channel_id = $1 AND NOT m.is_deleted"
	if before != nil {
		where += " AND m.created_at < " + args.Add(*before)
	}
	query := `SELECT * FROM (` + messageSelect + ` WHERE ` + where +
		` ORDER BY m.created_at DESC LIMIT ` + args.Add(limit) + `) page ORDER BY page.created_at ASC`
	rows, err := s.db.QueryContext(ctx, query, args.Values()...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, message)
	}
	return messages, rows.Err()
}

func (s *PostgresStore) GetMessage(ctx context.Context, messageID string) (Message, error) {
	return scanMessage(s.db.QueryRowContext(ctx, messageSelect+` WHERE m.id=$1`, messageID))
}

// InsertMessage stores the message and bumps unread counters for every other
// participant.
func (s *PostgresStore) InsertMessage(ctx context.Context, message Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin message insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages(id, channel_id, sender_id, content, message_type, file_url, reply_to)
		VALUES($1, $2, $3, $4, $5, $6, $7)
	`, message.ID, message.ChannelID, message.SenderID, message.Content, message.Type, message.FileURL,
		nullIfEmpty(message.ReplyTo)); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE channel_user_status SET unread_count = unread_count + 1
		WHERE channel_id=$1 AND user_id <> $2
			AND user_id IN (SELECT user_id FROM channel_participants WHERE channel_id=$1)
	`, message.ChannelID, message.SenderID); err != nil {
		return fmt.Errorf("increment unread: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE channels SET updated_at=NOW() WHERE id=$1`, message.ChannelID); err != nil {
		return fmt.Errorf("touch channel: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit message insert: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateMessageContent(ctx context.Context, messageID, content string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages SET content=$2, is_edited=TRUE, updated_at=NOW() WHERE id=$1 AND NOT is_deleted
	`, messageID, content)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) SoftDeleteMessage(ctx context.Context, messageID string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE messages SET is_deleted=TRUE, updated_at=NOW() WHERE id=$1`, messageID)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// AddReaction reports false when the user already reacted with that type.
func (s *PostgresStore) AddReaction(ctx context.Context, messageID, userID, reaction string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO message_reactions(message_id, user_id, reaction_type) VALUES($1, $2, $3)
		ON CONFLICT DO NOTHING
	`, messageID, userID, reaction)
	if err != nil {
		return false, fmt.Errorf("add reaction: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

func (s *PostgresStore) RemoveReaction(ctx context.Context, messageID, userID, reaction string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM message_reactions WHERE message_id=$1 AND user_id=$2 AND reaction_type=$3
	`, messageID, userID, reaction)
	if err != nil {
		return false, fmt.Errorf("remove reaction: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

// ReactionCounts groups reactions by message and type.
func (s *PostgresStore) ReactionCounts(ctx context.Context, messageIDs []string) (map[string]map[string]int, error) {
	counts := make(map[string]map[string]int)
	if len(messageIDs) == 0 {
		return counts, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, reaction_type, COUNT(*)
		FROM message_reactions
		WHERE message_id = ANY($1)
		GROUP BY message_id, reaction_type
	`, messageIDs)
	if err != nil {
		return nil, fmt.Errorf("reaction counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			messageID string
			reaction  string
			count     int
		)
		if err := rows.Scan(&messageID, &reaction, &count); err != nil {
			return nil, fmt.Errorf("scan reaction count: %w", err)
		}
		if counts[messageID] == nil {
			counts[messageID] = make(map[string]int)
		}
		counts[messageID][reaction] = count
	}
	return counts, rows.Err()
}

// LastMessages returns the newest live message per channel.
func (s *PostgresStore) LastMessages(ctx context.Context, channelIDs []string) (map[string]Message, error) {
	last := make(map[string]Message)
	if len(channelIDs) == 0 {
		return last, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (page.channel_id) page.* FROM (`+messageSelect+`
			WHERE m.channel_id = ANY($1) AND NOT m.is_deleted
		) page
		ORDER BY page.channel_id, page.created_at DESC
	`, channelIDs)
	if err != nil {
		return nil, fmt.Errorf("last messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan last message: %w", err)
		}
		last[message.ChannelID] = message
	}
	return last, rows.Err()
}

func (s *PostgresStore) ChannelStatuses(ctx context.Context, userID string, channelIDs []string) (map[string]ChannelStatus, error) {
	statuses := make(map[string]ChannelStatus)
	if len(channelIDs) == 0 {
		return statuses, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT channel_id, user_id, last_read_at, unread_count, is_muted, is_pinned
		FROM channel_user_status
		WHERE user_id=$1 AND channel_id = ANY($2)
	`, userID, channelIDs)
	if err != nil {
		return nil, fmt.Errorf("channel statuses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status   ChannelStatus
			lastRead sql.NullTime
		)
		if err := rows.Scan(&status.ChannelID, &status.UserID, &lastRead, &status.UnreadCount, &status.IsMuted, &status.IsPinned); err != nil {
			return nil, fmt.Errorf("scan channel status: %w", err)
		}
		status.LastReadAt = timePtr(lastRead)
		statuses[status.ChannelID] = status
	}
	return statuses, rows.Err()
}

func (s *PostgresStore) MarkChannelRead(ctx context.Context, channelID, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channel_user_status(channel_id, user_id, last_read_at, unread_count)
		VALUES($1, $2, $3, 0)
		ON CONFLICT (channel_id, user_id) DO UPDATE SET last_read_at=EXCLUDED.last_read_at, unread_count=0
	`, channelID, userID, at)
	if err != nil {
		return fmt.Errorf("mark channel read: %w", err)
	}
	return nil
}

// ToggleChannelFlag flips is_muted or is_pinned and returns the new value.
func (s *PostgresStore) ToggleChannelFlag(ctx context.Context, channelID, userID, flag string) (bool, error) {
	if flag != "is_muted" && flag != "is_pinned" {
		return false, fmt.Errorf("unknown channel flag %q", flag)
	}
	var value bool
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		INSERT INTO channel_user_status(channel_id, user_id, %[1]s) VALUES($1, $2, TRUE)
		ON CONFLICT (channel_id, user_id) DO UPDATE SET %[1]s = NOT channel_user_status.%[1]s
		RETURNING %[1]s
	`, flag), channelID, userID).Scan(&value)
	if err != nil {
		return false, fmt.Errorf("toggle %s: %w", flag, err)
	}
	return value, nil
}
