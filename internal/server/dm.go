package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/npezzotti/geochat/internal/bus"
	"github.com/npezzotti/geochat/internal/database"
	"github.com/npezzotti/geochat/internal/stats"
	"github.com/npezzotti/geochat/internal/types"
)

// participantConversation loads a conversation and checks userId is one of
// its two users.
func (cs *ChatServer) participantConversation(ctx context.Context, conversationId, userId string) (database.Conversation, error) {
	if conversationId == "" {
		return database.Conversation{}, invalid("conversationId is required")
	}

	conv, err := cs.db.FindConversationById(ctx, conversationId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return conv, ErrConversationNotFound
		}
		return conv, fmt.Errorf("find conversation: %w", err)
	}
	if !conv.HasParticipant(userId) {
		return conv, forbidden("You are not a participant of this conversation")
	}

	return conv, nil
}

func (cs *ChatServer) sendDirectMessage(ctx context.Context, c *Client, req SendDMRequest) error {
	content, err := cs.validateContent(req.Content)
	if err != nil {
		return err
	}

	conv, err := cs.participantConversation(ctx, req.ConversationId, c.user.Id)
	if err != nil {
		return err
	}

	other := conv.OtherParticipant(c.user.Id)
	// block state is read on every send and never cached
	blocked, err := cs.db.IsBlockedEither(ctx, c.user.Id, other)
	if err != nil {
		return fmt.Errorf("check block: %w", err)
	}
	if blocked {
		return forbidden("You cannot send messages to this user")
	}

	dm, err := cs.db.CreateDirectMessage(ctx, database.CreateDirectMessageParams{
		ConversationId: conv.Id,
		SenderId:       c.user.Id,
		Content:        content,
		Kind:           string(types.MessageKindText),
	})
	if err != nil {
		return fmt.Errorf("create direct message: %w", err)
	}

	if err := cs.db.UpdateConversationTimestamp(ctx, conv.Id); err != nil {
		cs.log.Printf("update conversation %q timestamp: %v", conv.Id, err)
	}

	sender := c.user
	out := newServerMessage(EventNewDM, &NewDM{ConversationId: conv.Id, Message: dm.Public(&sender)})
	err = cs.publish(ctx, out, nil,
		bus.ConversationTopic(conv.Id),
		bus.UserTopic(c.user.Id),
		bus.UserTopic(other),
	)
	if err != nil {
		return err
	}

	cs.stats.Incr(stats.NumDirectMessagesSent)
	return nil
}

func (cs *ChatServer) ownDirectMessage(ctx context.Context, conversationId, messageId, userId, verb string) (database.DirectMessage, error) {
	if _, err := cs.participantConversation(ctx, conversationId, userId); err != nil {
		return database.DirectMessage{}, err
	}
	if messageId == "" {
		return database.DirectMessage{}, invalid("messageId is required")
	}

	dm, err := cs.db.GetDirectMessageById(ctx, messageId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return dm, ErrMessageNotFound
		}
		return dm, fmt.Errorf("get direct message: %w", err)
	}
	if dm.ConversationId != conversationId {
		return dm, ErrMessageNotFound
	}
	if !dm.SenderId.Valid || dm.SenderId.String != userId {
		return dm, forbidden("You can only " + verb + " your own messages")
	}

	return dm, nil
}

func (cs *ChatServer) editDirectMessage(ctx context.Context, c *Client, req EditDMRequest) error {
	content, err := cs.validateContent(req.Content)
	if err != nil {
		return err
	}

	dm, err := cs.ownDirectMessage(ctx, req.ConversationId, req.MessageId, c.user.Id, "edit")
	if err != nil {
		return err
	}
	if dm.DeletedAt.Valid {
		return invalid("Cannot edit a deleted message")
	}

	updated, err := cs.db.UpdateDirectMessage(ctx, dm.Id, content)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrMessageNotFound
		}
		return fmt.Errorf("update direct message: %w", err)
	}

	return cs.publish(ctx, newServerMessage(EventDMEdited, &DMEdited{
		ConversationId: updated.ConversationId,
		MessageId:      updated.Id,
		Content:        updated.Content,
		EditedAt:       updated.EditedAt.Time.UTC(),
	}), nil, bus.ConversationTopic(updated.ConversationId))
}

func (cs *ChatServer) deleteDirectMessage(ctx context.Context, c *Client, req DeleteDMRequest) error {
	dm, err := cs.ownDirectMessage(ctx, req.ConversationId, req.MessageId, c.user.Id, "delete")
	if err != nil {
		return err
	}
	if dm.DeletedAt.Valid {
		return nil
	}

	deleted, err := cs.db.SoftDeleteDirectMessage(ctx, dm.Id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("delete direct message: %w", err)
	}

	return cs.publish(ctx, newServerMessage(EventDMDeleted, &DMDeleted{
		ConversationId: deleted.ConversationId,
		MessageId:      deleted.Id,
		DeletedAt:      deleted.DeletedAt.Time.UTC(),
	}), nil, bus.ConversationTopic(deleted.ConversationId))
}

func (cs *ChatServer) joinConversation(ctx context.Context, c *Client, conversationId string) error {
	if conversationId == "" {
		return invalid("conversationId is required")
	}

	ok, err := cs.db.IsConversationParticipant(ctx, conversationId, c.user.Id)
	if err != nil {
		return fmt.Errorf("check participant: %w", err)
	}
	if !ok {
		return forbidden("You are not a participant of this conversation")
	}

	if err := cs.registry.TrackConversation(c.id, conversationId); err != nil {
		return err
	}
	cs.addToGroup(bus.ConversationTopic(conversationId), c)

	return nil
}

func (cs *ChatServer) leaveConversation(c *Client, conversationId string) {
	cs.registry.UntrackConversation(c.id, conversationId)
	cs.removeFromGroup(bus.ConversationTopic(conversationId), c)
}

// dmTyping is fire and forget; it is dropped unless the connection has the
// conversation open.
func (cs *ChatServer) dmTyping(ctx context.Context, c *Client, conversationId string) {
	if !cs.inGroup(bus.ConversationTopic(conversationId), c) {
		return
	}

	msg := newServerMessage(EventDMUserTyping, &DMUserTyping{
		ConversationId: conversationId,
		UserId:         c.user.Id,
		Username:       c.user.Username,
	})
	if err := cs.publish(ctx, msg, c, bus.ConversationTopic(conversationId)); err != nil {
		cs.log.Printf("broadcast dm typing for %q: %v", conversationId, err)
	}
}
