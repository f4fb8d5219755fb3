package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode/utf16"

	"github.com/npezzotti/geochat/internal/bus"
	"github.com/npezzotti/geochat/internal/database"
	"github.com/npezzotti/geochat/internal/registry"
	"github.com/npezzotti/geochat/internal/stats"
	"github.com/npezzotti/geochat/internal/types"
)

const maxEmojiLength = 32

// contentLength counts UTF-16 code units, the unit browsers report as a
// string's length.
func contentLength(s string) int {
	n := 0
	for _, r := range s {
		if l := utf16.RuneLen(r); l > 0 {
			n += l
		} else {
			n++
		}
	}
	return n
}

// validateContent trims content and enforces the length limit in characters.
func (cs *ChatServer) validateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", invalid("Message cannot be empty")
	}
	if contentLength(content) > cs.opts.MaxMessageLength {
		return "", invalid(fmt.Sprintf("Message too long (max %d characters)", cs.opts.MaxMessageLength))
	}
	return content, nil
}

func (cs *ChatServer) sendRoomMessage(ctx context.Context, c *Client, req SendMessageRequest) error {
	content, err := cs.validateContent(req.Content)
	if err != nil {
		return err
	}
	if req.RoomId == "" {
		return invalid("roomId is required")
	}
	if cs.registry.State(c.id, req.RoomId) != registry.Joined {
		return forbidden("Join the room before sending messages")
	}

	msg, err := cs.db.CreateMessage(ctx, database.CreateMessageParams{
		RoomId:  req.RoomId,
		UserId:  c.user.Id,
		Content: content,
		Kind:    string(types.MessageKindText),
	})
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}

	author := c.user
	out := newServerMessage(EventNewMessage, &NewMessage{Message: msg.Public(&author)})
	if err := cs.publish(ctx, out, nil, bus.RoomTopic(req.RoomId)); err != nil {
		return err
	}

	cs.stats.Incr(stats.NumMessagesSent)
	return nil
}

// ownRoomMessage loads a message of roomId written by userId.
func (cs *ChatServer) ownRoomMessage(ctx context.Context, roomId, messageId, userId, verb string) (database.Message, error) {
	if roomId == "" || messageId == "" {
		return database.Message{}, invalid("roomId and messageId are required")
	}

	msg, err := cs.db.GetMessageById(ctx, messageId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return msg, ErrMessageNotFound
		}
		return msg, fmt.Errorf("get message: %w", err)
	}
	if msg.RoomId != roomId {
		return msg, ErrMessageNotFound
	}
	if !msg.UserId.Valid || msg.UserId.String != userId {
		return msg, forbidden("You can only " + verb + " your own messages")
	}

	return msg, nil
}

func (cs *ChatServer) editRoomMessage(ctx context.Context, c *Client, req EditMessageRequest) error {
	content, err := cs.validateContent(req.Content)
	if err != nil {
		return err
	}

	msg, err := cs.ownRoomMessage(ctx, req.RoomId, req.MessageId, c.user.Id, "edit")
	if err != nil {
		return err
	}
	if msg.DeletedAt.Valid {
		return invalid("Cannot edit a deleted message")
	}

	updated, err := cs.db.UpdateMessage(ctx, msg.Id, content)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrMessageNotFound
		}
		return fmt.Errorf("update message: %w", err)
	}

	return cs.publish(ctx, newServerMessage(EventMessageEdited, &MessageEdited{
		RoomId:    updated.RoomId,
		MessageId: updated.Id,
		Content:   updated.Content,
		EditedAt:  updated.EditedAt.Time.UTC(),
	}), nil, bus.RoomTopic(updated.RoomId))
}

func (cs *ChatServer) deleteRoomMessage(ctx context.Context, c *Client, req DeleteMessageRequest) error {
	msg, err := cs.ownRoomMessage(ctx, req.RoomId, req.MessageId, c.user.Id, "delete")
	if err != nil {
		return err
	}
	if msg.DeletedAt.Valid {
		return nil
	}

	deleted, err := cs.db.SoftDeleteMessage(ctx, msg.Id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// deleted concurrently
			return nil
		}
		return fmt.Errorf("delete message: %w", err)
	}

	return cs.publish(ctx, newServerMessage(EventMessageDeleted, &MessageDeleted{
		RoomId:    deleted.RoomId,
		MessageId: deleted.Id,
		DeletedAt: deleted.DeletedAt.Time.UTC(),
	}), nil, bus.RoomTopic(deleted.RoomId))
}

// react adds or removes a reaction on a room or direct message. Exactly one
// of RoomId and ConversationId must be set. Nothing is broadcast when the
// reaction set did not change.
func (cs *ChatServer) react(ctx context.Context, c *Client, req ReactionRequest, add bool) error {
	if req.MessageId == "" {
		return invalid("messageId is required")
	}
	emoji := strings.TrimSpace(req.Emoji)
	if emoji == "" || len(emoji) > maxEmojiLength {
		return invalid("Invalid emoji")
	}
	if (req.RoomId == "") == (req.ConversationId == "") {
		return invalid("Exactly one of roomId or conversationId is required")
	}

	reaction := database.Reaction{
		MessageId: req.MessageId,
		UserId:    c.user.Id,
		Emoji:     emoji,
	}

	var topic string
	if req.RoomId != "" {
		if cs.registry.State(c.id, req.RoomId) != registry.Joined {
			return forbidden("Join the room before reacting")
		}
		msg, err := cs.db.GetMessageById(ctx, req.MessageId)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrMessageNotFound
			}
			return fmt.Errorf("get message: %w", err)
		}
		if msg.RoomId != req.RoomId {
			return ErrMessageNotFound
		}
		reaction.Target = database.ReactionTargetRoom
		topic = bus.RoomTopic(req.RoomId)
	} else {
		if _, err := cs.participantConversation(ctx, req.ConversationId, c.user.Id); err != nil {
			return err
		}
		msg, err := cs.db.GetDirectMessageById(ctx, req.MessageId)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrMessageNotFound
			}
			return fmt.Errorf("get direct message: %w", err)
		}
		if msg.ConversationId != req.ConversationId {
			return ErrMessageNotFound
		}
		reaction.Target = database.ReactionTargetDirect
		topic = bus.ConversationTopic(req.ConversationId)
	}

	var (
		changed bool
		err     error
		event   = EventReactionAdded
	)
	if add {
		changed, err = cs.db.AddReaction(ctx, reaction)
	} else {
		event = EventReactionRemoved
		changed, err = cs.db.RemoveReaction(ctx, reaction)
	}
	if err != nil {
		return fmt.Errorf("update reaction: %w", err)
	}
	if !changed {
		return nil
	}

	return cs.publish(ctx, newServerMessage(event, &ReactionChanged{
		MessageId:      req.MessageId,
		UserId:         c.user.Id,
		Emoji:          emoji,
		RoomId:         req.RoomId,
		ConversationId: req.ConversationId,
	}), nil, topic)
}
