package database

import (
	"context"
	"errors"
)

var (
	// ErrInviteInvalid is returned when an invite code does not exist, has
	// expired or has no uses left.
	ErrInviteInvalid = errors.New("invite is invalid or expired")
	// ErrBanned is returned when a banned user redeems an invite.
	ErrBanned = errors.New("user is banned from room")
)

type RoomStore interface {
	GetRoomById(ctx context.Context, roomId string) (Room, error)
	GetRoomWithDetails(ctx context.Context, roomId string) (*RoomDetails, error)
	IsRoomMember(ctx context.Context, roomId, userId string) (bool, error)
	GetMemberRole(ctx context.Context, roomId, userId string) (RoomRole, error)
	CountRoomMembers(ctx context.Context, roomId string) (int, error)
	IsBanned(ctx context.Context, roomId, userId string) (bool, error)
	AddRoomMember(ctx context.Context, roomId, userId string, role RoomRole) (bool, error)
	RemoveRoomMember(ctx context.Context, roomId, userId string) error
	CreateInvite(ctx context.Context, params CreateInviteParams) (Invite, error)
	RedeemInvite(ctx context.Context, code, userId string) (string, error)
}

type UserDirectory interface {
	GetPublicUser(ctx context.Context, userId string) (User, error)
	GetPublicUsersByIds(ctx context.Context, userIds []string) ([]User, error)
	UpdateLastSeen(ctx context.Context, userId string) error
}

type BlockChecker interface {
	IsBlockedEither(ctx context.Context, userId1, userId2 string) (bool, error)
}

type MessageStore interface {
	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error)
	GetMessageById(ctx context.Context, messageId string) (Message, error)
	GetMessagesByRoom(ctx context.Context, roomId string, page MessagePage) ([]Message, error)
	UpdateMessage(ctx context.Context, messageId, content string) (Message, error)
	SoftDeleteMessage(ctx context.Context, messageId string) (Message, error)
	CreateDirectMessage(ctx context.Context, params CreateDirectMessageParams) (DirectMessage, error)
	GetDirectMessageById(ctx context.Context, messageId string) (DirectMessage, error)
	UpdateDirectMessage(ctx context.Context, messageId, content string) (DirectMessage, error)
	SoftDeleteDirectMessage(ctx context.Context, messageId string) (DirectMessage, error)
	AddReaction(ctx context.Context, reaction Reaction) (bool, error)
	RemoveReaction(ctx context.Context, reaction Reaction) (bool, error)
}

type ConversationStore interface {
	FindConversationById(ctx context.Context, conversationId string) (Conversation, error)
	FindOrCreateConversation(ctx context.Context, userId1, userId2 string) (Conversation, error)
	IsConversationParticipant(ctx context.Context, conversationId, userId string) (bool, error)
	UpdateConversationTimestamp(ctx context.Context, conversationId string) error
}

// GoChatRepository is everything the chat core reads from or writes to the
// relational store.
type GoChatRepository interface {
	Ping(ctx context.Context) error
	RoomStore
	UserDirectory
	BlockChecker
	MessageStore
	ConversationStore
}
