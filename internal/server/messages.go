package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/npezzotti/geochat/internal/types"
)

// client to server
const (
	EventJoinRoom          = "join_room"
	EventLeaveRoom         = "leave_room"
	EventSendMessage       = "send_message"
	EventTyping            = "typing"
	EventEditMessage       = "edit_message"
	EventDeleteMessage     = "delete_message"
	EventAddReaction       = "add_reaction"
	EventRemoveReaction    = "remove_reaction"
	EventSendDM            = "send_dm"
	EventDMTyping          = "dm_typing"
	EventEditDM            = "edit_dm"
	EventDeleteDM          = "delete_dm"
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventHeartbeat         = "heartbeat"
)

// server to client
const (
	EventNewMessage      = "new_message"
	EventUserJoined      = "user_joined"
	EventUserLeft        = "user_left"
	EventUserTyping      = "user_typing"
	EventOnlineUsers     = "online_users"
	EventMessageEdited   = "message_edited"
	EventMessageDeleted  = "message_deleted"
	EventReactionAdded   = "reaction_added"
	EventReactionRemoved = "reaction_removed"
	EventNewDM           = "new_dm"
	EventDMUserTyping    = "dm_user_typing"
	EventDMEdited        = "dm_edited"
	EventDMDeleted       = "dm_deleted"
	EventErrorOccurred   = "error"
)

type ClientEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type ServerMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type RoomRequest struct {
	RoomId string `json:"roomId"`
}

type LeaveRoomRequest struct {
	RoomId      string `json:"roomId"`
	Unsubscribe bool   `json:"unsubscribe,omitempty"`
}

type SendMessageRequest struct {
	RoomId  string `json:"roomId"`
	Content string `json:"content"`
}

type EditMessageRequest struct {
	RoomId    string `json:"roomId"`
	MessageId string `json:"messageId"`
	Content   string `json:"content"`
}

type DeleteMessageRequest struct {
	RoomId    string `json:"roomId"`
	MessageId string `json:"messageId"`
}

type ReactionRequest struct {
	MessageId      string `json:"messageId"`
	Emoji          string `json:"emoji"`
	RoomId         string `json:"roomId,omitempty"`
	ConversationId string `json:"conversationId,omitempty"`
}

type ConversationRequest struct {
	ConversationId string `json:"conversationId"`
}

type SendDMRequest struct {
	ConversationId string `json:"conversationId"`
	Content        string `json:"content"`
}

type EditDMRequest struct {
	ConversationId string `json:"conversationId"`
	MessageId      string `json:"messageId"`
	Content        string `json:"content"`
}

type DeleteDMRequest struct {
	ConversationId string `json:"conversationId"`
	MessageId      string `json:"messageId"`
}

type NewMessage struct {
	Message types.Message `json:"message"`
}

type UserJoined struct {
	User   types.User `json:"user"`
	RoomId string     `json:"roomId"`
}

type UserLeft struct {
	UserId string `json:"userId"`
	RoomId string `json:"roomId"`
}

type UserTyping struct {
	UserId   string `json:"userId"`
	Username string `json:"username"`
	RoomId   string `json:"roomId"`
}

type OnlineUsers struct {
	RoomId string       `json:"roomId"`
	Users  []types.User `json:"users"`
}

type MessageEdited struct {
	RoomId    string    `json:"roomId"`
	MessageId string    `json:"messageId"`
	Content   string    `json:"content"`
	EditedAt  time.Time `json:"editedAt"`
}

type MessageDeleted struct {
	RoomId    string    `json:"roomId"`
	MessageId string    `json:"messageId"`
	DeletedAt time.Time `json:"deletedAt"`
}

type ReactionChanged struct {
	MessageId      string `json:"messageId"`
	UserId         string `json:"userId"`
	Emoji          string `json:"emoji"`
	RoomId         string `json:"roomId,omitempty"`
	ConversationId string `json:"conversationId,omitempty"`
}

type NewDM struct {
	ConversationId string              `json:"conversationId"`
	Message        types.DirectMessage `json:"message"`
}

type DMUserTyping struct {
	ConversationId string `json:"conversationId"`
	UserId         string `json:"userId"`
	Username       string `json:"username"`
}

type DMEdited struct {
	ConversationId string    `json:"conversationId"`
	MessageId      string    `json:"messageId"`
	Content        string    `json:"content"`
	EditedAt       time.Time `json:"editedAt"`
}

type DMDeleted struct {
	ConversationId string    `json:"conversationId"`
	MessageId      string    `json:"messageId"`
	DeletedAt      time.Time `json:"deletedAt"`
}

type ErrorPayload struct {
	Message string    `json:"message"`
	Code    int       `json:"code"`
	Type    ErrorKind `json:"type,omitempty"`
}

func newServerMessage(event string, data any) *ServerMessage {
	return &ServerMessage{Event: event, Data: data}
}

func ErrorMessage(err *EventError) *ServerMessage {
	return newServerMessage(EventErrorOccurred, &ErrorPayload{
		Message: err.Message,
		Code:    err.Code,
		Type:    err.Kind,
	})
}

// ErrInternalError is the generic reply for failures the client cannot act
// on beyond retrying.
func ErrInternalError(action string) *ServerMessage {
	return newServerMessage(EventErrorOccurred, &ErrorPayload{
		Message: "Failed to " + action,
		Code:    http.StatusInternalServerError,
	})
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
