package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"council/api/internal/blob"
	"council/api/internal/policy"
	"council/api/internal/rbac"
	"council/api/internal/realtime"
	"council/api/internal/store"
	"council/api/internal/util"
)

var (
	channelTypes  = []string{"domain", "vertical", "custom", "announcement"}
	reactionTypes = []string{"👍", "👎", "❤️", "😄", "😢", "😡", "🎉", "👏"}
)

type CreateChannelInput struct {
	Name         string   `json:"name" validate:"required,max=200"`
	Description  string   `json:"description"`
	ChannelType  string   `json:"channel_type" validate:"omitempty,oneof=domain vertical custom announcement"`
	Domain       string   `json:"domain" validate:"omitempty,oneof=mmt photography comms mis hr ops editorial design promotions"`
	Vertical     string   `json:"vertical" validate:"omitempty,oneof=accessibility climate_change health massom road_safety sports entrepreneurship membership arts_culture"`
	IsPrivate    bool     `json:"is_private"`
	Participants []string `json:"participants"`
}

type UpdateChannelInput struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=200"`
	Description *string `json:"description"`
	IsPrivate   *bool   `json:"is_private"`
	IsArchived  *bool   `json:"is_archived"`
}

type MessageInput struct {
	Content     string `json:"content" validate:"required,max=10000"`
	MessageType string `json:"message_type" validate:"omitempty,oneof=text image file system"`
	ReplyTo     string `json:"reply_to"`
}

type EditMessageInput struct {
	Content string `json:"content" validate:"required,max=10000"`
}

func validReaction(reaction string) bool {
	for _, r := range reactionTypes {
		if r == reaction {
			return true
		}
	}
	return false
}

// accessibleChannel loads a channel whose messages the actor may read,
// archived or not.
func (s *Service) accessibleChannel(ctx context.Context, session Session, channelID string) (store.Channel, error) {
	channel, err := s.store.GetChannel(ctx, channelID)
	if err != nil {
		return store.Channel{}, err
	}
	if !policy.ChannelAccess(session.Actor()).Matches(channel.Record()) {
		return store.Channel{}, sql.ErrNoRows
	}
	return channel, nil
}

// visibleChannel is accessibleChannel restricted to live channels.
func (s *Service) visibleChannel(ctx context.Context, session Session, channelID string) (store.Channel, error) {
	channel, err := s.store.GetChannel(ctx, channelID)
	if err != nil {
		return store.Channel{}, err
	}
	if !policy.Channels(session.Actor()).Matches(channel.Record()) {
		return store.Channel{}, sql.ErrNoRows
	}
	return channel, nil
}

func (s *Service) channelSummaries(ctx context.Context, session Session, channels []store.Channel) ([]map[string]any, error) {
	ids := make([]string, 0, len(channels))
	for _, channel := range channels {
		ids = append(ids, channel.ID)
	}
	last, err := s.store.LastMessages(ctx, ids)
	if err != nil {
		return nil, err
	}
	statuses, err := s.store.ChannelStatuses(ctx, session.UserID, ids)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(channels))
	for _, channel := range channels {
		payload := channelPayload(channel)
		payload["last_message"] = nil
		if message, ok := last[channel.ID]; ok {
			payload["last_message"] = lastMessagePayload(message)
		}
		status := statuses[channel.ID]
		payload["unread_count"] = status.UnreadCount
		payload["is_muted"] = status.IsMuted
		payload["is_pinned"] = status.IsPinned
		items = append(items, payload)
	}
	return items, nil
}

func (s *Service) ListChannels(ctx context.Context, session Session, channelType string) ([]map[string]any, error) {
	channels, err := s.store.ListChannels(ctx, store.ChannelFilter{
		Scope: policy.Channels(session.Actor()),
		Type:  channelType,
	})
	if err != nil {
		return nil, err
	}
	return s.channelSummaries(ctx, session, channels)
}

// MyChannels lists visible channels the actor has joined.
func (s *Service) MyChannels(ctx context.Context, session Session) ([]map[string]any, error) {
	channels, err := s.store.ListChannels(ctx, store.ChannelFilter{
		Scope:       policy.Channels(session.Actor()),
		Participant: session.UserID,
	})
	if err != nil {
		return nil, err
	}
	return s.channelSummaries(ctx, session, channels)
}

func (s *Service) GetChannel(ctx context.Context, session Session, channelID string) (map[string]any, error) {
	channel, err := s.visibleChannel(ctx, session, channelID)
	if err != nil {
		return nil, err
	}
	items, err := s.channelSummaries(ctx, session, []store.Channel{channel})
	if err != nil {
		return nil, err
	}
	return items[0], nil
}

func (s *Service) CreateChannel(ctx context.Context, session Session, input CreateChannelInput) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionCreateChannels) {
		return nil, forbidden("")
	}
	if err := s.validate.Struct(input); err != nil {
		return nil, err
	}
	channelType := firstNonBlank(input.ChannelType, "custom")
	switch {
	case channelType == "domain" && input.Domain == "":
		return nil, badRequest("DOMAIN_REQUIRED", "Domain channels need a domain.")
	case channelType == "vertical" && input.Vertical == "":
		return nil, badRequest("VERTICAL_REQUIRED", "Vertical channels need a vertical.")
	}

	participants := []string{session.UserID}
	seen := map[string]bool{session.UserID: true}
	for _, id := range input.Participants {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		user, err := s.store.GetUserByID(ctx, id)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && !user.IsActive) {
			return nil, badRequest("INVALID_PARTICIPANT", "Participant "+id+" does not exist or is inactive.")
		}
		if err != nil {
			return nil, err
		}
		seen[id] = true
		participants = append(participants, id)
	}

	channel := store.Channel{
		ID:           util.NewID("chn"),
		Name:         strings.TrimSpace(input.Name),
		Description:  input.Description,
		Type:         channelType,
		Domain:       input.Domain,
		Vertical:     input.Vertical,
		IsPrivate:    input.IsPrivate,
		CreatedBy:    session.UserID,
		Participants: participants,
	}
	if err := s.store.InsertChannel(ctx, channel); err != nil {
		return nil, err
	}
	return s.GetChannel(ctx, session, channel.ID)
}

func (s *Service) UpdateChannel(ctx context.Context, session Session, channelID string, input UpdateChannelInput) (map[string]any, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, err
	}
	channel, err := s.accessibleChannel(ctx, session, channelID)
	if err != nil {
		return nil, err
	}
	if channel.CreatedBy != session.UserID && session.role() != rbac.RoleAdmin {
		return nil, forbidden("Only the channel creator or an admin can change this channel.")
	}
	assign(&channel.Name, input.Name)
	if input.Description != nil {
		channel.Description = *input.Description
	}
	if input.IsPrivate != nil {
		channel.IsPrivate = *input.IsPrivate
	}
	if input.IsArchived != nil {
		channel.IsArchived = *input.IsArchived
	}
	if err := s.store.UpdateChannel(ctx, channel); err != nil {
		return nil, err
	}
	updated, err := s.store.GetChannel(ctx, channel.ID)
	if err != nil {
		return nil, err
	}
	items, err := s.channelSummaries(ctx, session, []store.Channel{updated})
	if err != nil {
		return nil, err
	}
	return items[0], nil
}

func (s *Service) JoinChannel(ctx context.Context, session Session, channelID string) (map[string]any, error) {
	channel, err := s.visibleChannel(ctx, session, channelID)
	if err != nil {
		return nil, err
	}
	elevated := session.role() == rbac.RoleAdmin || session.role() == rbac.RoleSeniorCouncil
	if channel.IsPrivate && !elevated {
		return nil, forbidden("Cannot join private channel")
	}
	if err := s.store.AddParticipant(ctx, channel.ID, session.UserID); err != nil {
		return nil, err
	}
	return map[string]any{"message": "Joined channel successfully"}, nil
}

func (s *Service) LeaveChannel(ctx context.Context, session Session, channelID string) (map[string]any, error) {
	channel, err := s.accessibleChannel(ctx, session, channelID)
	if err != nil {
		return nil, err
	}
	if channel.CreatedBy == session.UserID {
		return nil, badRequest("CREATOR_CANNOT_LEAVE", "Channel creator cannot leave")
	}
	if !channel.HasParticipant(session.UserID) {
		return nil, badRequest("NOT_A_PARTICIPANT", "You are not a participant of this channel")
	}
	if err := s.store.RemoveParticipant(ctx, channel.ID, session.UserID); err != nil {
		return nil, err
	}
	s.publish(ctx, realtime.EventMemberLeft, channel.ID, map[string]any{"user": session.UserID})
	return map[string]any{"message": "Left channel successfully"}, nil
}

// AvailableUsers lists who an admin or senior council member may add to a channel.
func (s *Service) AvailableUsers(ctx context.Context, session Session) ([]map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionCreateChannels) {
		return nil, forbidden("Permission denied")
	}
	users, err := s.store.ListUsers(ctx, store.UserFilter{Scope: policy.Users(session.Actor()), Limit: 200})
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(users))
	for _, user := range users {
		items = append(items, userSummary(user))
	}
	return items, nil
}

func (s *Service) messageList(ctx context.Context, messages []store.Message) ([]map[string]any, error) {
	ids := make([]string, 0, len(messages))
	for _, m := range messages {
		ids = append(ids, m.ID)
	}
	counts, err := s.store.ReactionCounts(ctx, ids)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		items = append(items, messagePayload(m, counts[m.ID]))
	}
	return items, nil
}

func (s *Service) ListMessages(ctx context.Context, session Session, channelID string, before *time.Time, limit int) ([]map[string]any, error) {
	channel, err := s.accessibleChannel(ctx, session, channelID)
	if err != nil {
		return nil, err
	}
	messages, err := s.store.ListMessages(ctx, channel.ID, before, limit)
	if err != nil {
		return nil, err
	}
	return s.messageList(ctx, messages)
}

// writableChannel is a channel the actor can read and which still accepts
// messages.
func (s *Service) writableChannel(ctx context.Context, session Session, channelID string) (store.Channel, error) {
	channel, err := s.accessibleChannel(ctx, session, channelID)
	if err != nil {
		return store.Channel{}, err
	}
	if channel.IsArchived {
		return store.Channel{}, badRequest("CHANNEL_ARCHIVED", "This channel is archived and read-only.")
	}
	return channel, nil
}

func (s *Service) PostMessage(ctx context.Context, session Session, channelID string, input MessageInput) (map[string]any, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, err
	}
	messageType := firstNonBlank(input.MessageType, "text")
	if messageType == "system" && !s.Can(session.Role, rbac.ActionModerateChat) {
		return nil, forbidden("Only moderators can post system messages.")
	}
	channel, err := s.writableChannel(ctx, session, channelID)
	if err != nil {
		return nil, err
	}
	if input.ReplyTo != "" {
		parent, err := s.store.GetMessage(ctx, input.ReplyTo)
		if err != nil || parent.ChannelID != channel.ID || parent.IsDeleted {
			return nil, badRequest("INVALID_REPLY", "Replied message is not in this channel.")
		}
	}
	return s.insertMessage(ctx, store.Message{
		ID:        util.NewID("msg"),
		ChannelID: channel.ID,
		SenderID:  session.UserID,
		Content:   input.Content,
		Type:      messageType,
		ReplyTo:   input.ReplyTo,
	})
}

func (s *Service) insertMessage(ctx context.Context, message store.Message) (map[string]any, error) {
	if err := s.store.InsertMessage(ctx, message); err != nil {
		return nil, err
	}
	saved, err := s.store.GetMessage(ctx, message.ID)
	if err != nil {
		return nil, err
	}
	payload := messagePayload(saved, nil)
	s.publish(ctx, realtime.EventMessageNew, saved.ChannelID, payload)
	return payload, nil
}

func (s *Service) liveMessage(ctx context.Context, session Session, messageID string) (store.Message, store.Channel, error) {
	message, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return store.Message{}, store.Channel{}, err
	}
	if message.IsDeleted {
		return store.Message{}, store.Channel{}, sql.ErrNoRows
	}
	channel, err := s.accessibleChannel(ctx, session, message.ChannelID)
	if err != nil {
		return store.Message{}, store.Channel{}, err
	}
	return message, channel, nil
}

func (s *Service) EditMessage(ctx context.Context, session Session, messageID string, input EditMessageInput) (map[string]any, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, err
	}
	message, channel, err := s.liveMessage(ctx, session, messageID)
	if err != nil {
		return nil, err
	}
	if message.SenderID != session.UserID {
		return nil, forbidden("You can only edit your own messages.")
	}
	if channel.IsArchived {
		return nil, badRequest("CHANNEL_ARCHIVED", "This channel is archived and read-only.")
	}
	if err := s.store.UpdateMessageContent(ctx, message.ID, input.Content); err != nil {
		return nil, err
	}
	message.Content = input.Content
	message.IsEdited = true
	message.UpdatedAt = s.now().UTC()

	counts, err := s.store.ReactionCounts(ctx, []string{message.ID})
	if err != nil {
		return nil, err
	}
	payload := messagePayload(message, counts[message.ID])
	s.publish(ctx, realtime.EventMessageEdited, message.ChannelID, payload)
	return payload, nil
}

// DeleteMessage soft deletes; moderators may remove anyone's message.
func (s *Service) DeleteMessage(ctx context.Context, session Session, messageID string) error {
	message, _, err := s.liveMessage(ctx, session, messageID)
	if err != nil {
		return err
	}
	if message.SenderID != session.UserID && !s.Can(session.Role, rbac.ActionModerateChat) {
		return forbidden("You can only delete your own messages.")
	}
	if err := s.store.SoftDeleteMessage(ctx, message.ID); err != nil {
		return err
	}
	s.publish(ctx, realtime.EventMessageDeleted, message.ChannelID, map[string]any{"id": message.ID})
	return nil
}

func checkReaction(reaction string) error {
	if reaction == "" {
		return badRequest("REACTION_REQUIRED", "Reaction type required")
	}
	if !validReaction(reaction) {
		return badRequest("INVALID_REACTION", "Invalid reaction type")
	}
	return nil
}

func (s *Service) reactionResult(ctx context.Context, message store.Message) (map[string]any, error) {
	counts, err := s.store.ReactionCounts(ctx, []string{message.ID})
	if err != nil {
		return nil, err
	}
	reactionCount := counts[message.ID]
	if reactionCount == nil {
		reactionCount = map[string]int{}
	}
	payload := map[string]any{"message_id": message.ID, "reaction_count": reactionCount}
	s.publish(ctx, realtime.EventReaction, message.ChannelID, payload)
	return payload, nil
}

// React is idempotent per message, user and reaction type.
func (s *Service) React(ctx context.Context, session Session, messageID, reaction string) (map[string]any, error) {
	if err := checkReaction(reaction); err != nil {
		return nil, err
	}
	message, _, err := s.liveMessage(ctx, session, messageID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.AddReaction(ctx, message.ID, session.UserID, reaction); err != nil {
		return nil, err
	}
	return s.reactionResult(ctx, message)
}

func (s *Service) RemoveReaction(ctx context.Context, session Session, messageID, reaction string) (map[string]any, error) {
	if err := checkReaction(reaction); err != nil {
		return nil, err
	}
	message, _, err := s.liveMessage(ctx, session, messageID)
	if err != nil {
		return nil, err
	}
	removed, err := s.store.RemoveReaction(ctx, message.ID, session.UserID, reaction)
	if err != nil {
		return nil, err
	}
	if !removed {
		return nil, notFound("Reaction not found")
	}
	return s.reactionResult(ctx, message)
}

func (s *Service) MarkChannelRead(ctx context.Context, session Session, channelID string) (map[string]any, error) {
	channel, err := s.accessibleChannel(ctx, session, channelID)
	if err != nil {
		return nil, err
	}
	if err := s.store.MarkChannelRead(ctx, channel.ID, session.UserID, s.now().UTC()); err != nil {
		return nil, err
	}
	return map[string]any{"message": "Marked as read"}, nil
}

func (s *Service) ToggleMute(ctx context.Context, session Session, channelID string) (map[string]any, error) {
	muted, err := s.toggleFlag(ctx, session, channelID, "is_muted")
	if err != nil {
		return nil, err
	}
	word := "unmuted"
	if muted {
		word = "muted"
	}
	return map[string]any{"message": "Channel " + word, "is_muted": muted}, nil
}

func (s *Service) TogglePin(ctx context.Context, session Session, channelID string) (map[string]any, error) {
	pinned, err := s.toggleFlag(ctx, session, channelID, "is_pinned")
	if err != nil {
		return nil, err
	}
	word := "unpinned"
	if pinned {
		word = "pinned"
	}
	return map[string]any{"message": "Channel " + word, "is_pinned": pinned}, nil
}

func (s *Service) toggleFlag(ctx context.Context, session Session, channelID, flag string) (bool, error) {
	channel, err := s.accessibleChannel(ctx, session, channelID)
	if err != nil {
		return false, err
	}
	return s.store.ToggleChannelFlag(ctx, channel.ID, session.UserID, flag)
}

// PostFile stores an upload and posts it as an image or file message.
func (s *Service) PostFile(ctx context.Context, session Session, channelID, caption string, file upload) (map[string]any, error) {
	channel, err := s.writableChannel(ctx, session, channelID)
	if err != nil {
		return nil, err
	}
	if err := blob.ValidateAttachment(file.Size); err != nil {
		return nil, attachmentError(err)
	}
	url, err := s.upload(ctx, "chat/"+channel.ID, file)
	if err != nil {
		return nil, err
	}
	messageType := "file"
	if strings.HasPrefix(strings.ToLower(file.ContentType), "image/") {
		messageType = "image"
	}
	content := firstNonBlank(caption, file.Filename)
	if err := s.validate.Struct(EditMessageInput{Content: content}); err != nil {
		return nil, err
	}
	return s.insertMessage(ctx, store.Message{
		ID:        util.NewID("msg"),
		ChannelID: channel.ID,
		SenderID:  session.UserID,
		Content:   content,
		Type:      messageType,
		FileURL:   url,
	})
}
