package database

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockGoChatRepository struct {
	mock.Mock
}

func (m *MockGoChatRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockGoChatRepository) GetRoomById(ctx context.Context, roomId string) (Room, error) {
	args := m.Called(ctx, roomId)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockGoChatRepository) GetRoomWithDetails(ctx context.Context, roomId string) (*RoomDetails, error) {
	args := m.Called(ctx, roomId)
	if d, ok := args.Get(0).(*RoomDetails); ok {
		return d, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockGoChatRepository) IsRoomMember(ctx context.Context, roomId, userId string) (bool, error) {
	args := m.Called(ctx, roomId, userId)
	return args.Bool(0), args.Error(1)
}
func (m *MockGoChatRepository) GetMemberRole(ctx context.Context, roomId, userId string) (RoomRole, error) {
	args := m.Called(ctx, roomId, userId)
	return args.Get(0).(RoomRole), args.Error(1)
}
func (m *MockGoChatRepository) CountRoomMembers(ctx context.Context, roomId string) (int, error) {
	args := m.Called(ctx, roomId)
	return args.Int(0), args.Error(1)
}
func (m *MockGoChatRepository) IsBanned(ctx context.Context, roomId, userId string) (bool, error) {
	args := m.Called(ctx, roomId, userId)
	return args.Bool(0), args.Error(1)
}
func (m *MockGoChatRepository) AddRoomMember(ctx context.Context, roomId, userId string, role RoomRole) (bool, error) {
	args := m.Called(ctx, roomId, userId, role)
	return args.Bool(0), args.Error(1)
}
func (m *MockGoChatRepository) RemoveRoomMember(ctx context.Context, roomId, userId string) error {
	args := m.Called(ctx, roomId, userId)
	return args.Error(0)
}
func (m *MockGoChatRepository) CreateInvite(ctx context.Context, params CreateInviteParams) (Invite, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Invite), args.Error(1)
}
func (m *MockGoChatRepository) RedeemInvite(ctx context.Context, code, userId string) (string, error) {
	args := m.Called(ctx, code, userId)
	return args.String(0), args.Error(1)
}
func (m *MockGoChatRepository) GetPublicUser(ctx context.Context, userId string) (User, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockGoChatRepository) GetPublicUsersByIds(ctx context.Context, userIds []string) ([]User, error) {
	args := m.Called(ctx, userIds)
	if users, ok := args.Get(0).([]User); ok {
		return users, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockGoChatRepository) UpdateLastSeen(ctx context.Context, userId string) error {
	args := m.Called(ctx, userId)
	return args.Error(0)
}
func (m *MockGoChatRepository) IsBlockedEither(ctx context.Context, userId1, userId2 string) (bool, error) {
	args := m.Called(ctx, userId1, userId2)
	return args.Bool(0), args.Error(1)
}
func (m *MockGoChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockGoChatRepository) GetMessageById(ctx context.Context, messageId string) (Message, error) {
	args := m.Called(ctx, messageId)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockGoChatRepository) GetMessagesByRoom(ctx context.Context, roomId string, page MessagePage) ([]Message, error) {
	args := m.Called(ctx, roomId, page)
	if msgs, ok := args.Get(0).([]Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockGoChatRepository) UpdateMessage(ctx context.Context, messageId, content string) (Message, error) {
	args := m.Called(ctx, messageId, content)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockGoChatRepository) SoftDeleteMessage(ctx context.Context, messageId string) (Message, error) {
	args := m.Called(ctx, messageId)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockGoChatRepository) CreateDirectMessage(ctx context.Context, params CreateDirectMessageParams) (DirectMessage, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(DirectMessage), args.Error(1)
}
func (m *MockGoChatRepository) GetDirectMessageById(ctx context.Context, messageId string) (DirectMessage, error) {
	args := m.Called(ctx, messageId)
	return args.Get(0).(DirectMessage), args.Error(1)
}
func (m *MockGoChatRepository) UpdateDirectMessage(ctx context.Context, messageId, content string) (DirectMessage, error) {
	args := m.Called(ctx, messageId, content)
	return args.Get(0).(DirectMessage), args.Error(1)
}
func (m *MockGoChatRepository) SoftDeleteDirectMessage(ctx context.Context, messageId string) (DirectMessage, error) {
	args := m.Called(ctx, messageId)
	return args.Get(0).(DirectMessage), args.Error(1)
}
func (m *MockGoChatRepository) AddReaction(ctx context.Context, reaction Reaction) (bool, error) {
	args := m.Called(ctx, reaction)
	return args.Bool(0), args.Error(1)
}
func (m *MockGoChatRepository) RemoveReaction(ctx context.Context, reaction Reaction) (bool, error) {
	args := m.Called(ctx, reaction)
	return args.Bool(0), args.Error(1)
}
func (m *MockGoChatRepository) FindConversationById(ctx context.Context, conversationId string) (Conversation, error) {
	args := m.Called(ctx, conversationId)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockGoChatRepository) FindOrCreateConversation(ctx context.Context, userId1, userId2 string) (Conversation, error) {
	args := m.Called(ctx, userId1, userId2)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockGoChatRepository) IsConversationParticipant(ctx context.Context, conversationId, userId string) (bool, error) {
	args := m.Called(ctx, conversationId, userId)
	return args.Bool(0), args.Error(1)
}
func (m *MockGoChatRepository) UpdateConversationTimestamp(ctx context.Context, conversationId string) error {
	args := m.Called(ctx, conversationId)
	return args.Error(0)
}
