package types

import (
	"time"
)

// User is the public projection of an account. It never carries
// credentials or contact details.
type User struct {
	Id        string    `json:"id"`
	Username  string    `json:"username"`
	Gender    string    `json:"gender,omitempty"`
	AvatarUrl *string   `json:"avatarUrl"`
	CountryId *int      `json:"countryId"`
	StateId   *int      `json:"stateId"`
	LastSeen  time.Time `json:"lastSeen"`
}

type MessageKind string

const (
	MessageKindText   MessageKind = "text"
	MessageKindImage  MessageKind = "image"
	MessageKindSystem MessageKind = "system"
)

func (k MessageKind) Valid() bool {
	switch k {
	case MessageKindText, MessageKindImage, MessageKindSystem:
		return true
	}
	return false
}

type Room struct {
	Id          string    `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	CountryId   *int      `json:"countryId"`
	StateId     *int      `json:"stateId"`
	CreatedBy   string    `json:"createdBy"`
	IsPrivate   bool      `json:"isPrivate"`
	MaxUsers    int       `json:"maxUsers"`
	MemberCount int       `json:"memberCount"`
	OnlineCount int       `json:"onlineCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Message is a room message as delivered to clients. UserId is nil once the
// author account has been anonymized.
type Message struct {
	Id          string      `json:"id"`
	RoomId      string      `json:"roomId"`
	UserId      *string     `json:"userId"`
	Content     string      `json:"content"`
	MessageType MessageKind `json:"messageType"`
	CreatedAt   time.Time   `json:"createdAt"`
	EditedAt    *time.Time  `json:"editedAt"`
	DeletedAt   *time.Time  `json:"deletedAt"`
	User        *User       `json:"user,omitempty"`
}

type DirectMessage struct {
	Id             string      `json:"id"`
	ConversationId string      `json:"conversationId"`
	SenderId       *string     `json:"senderId"`
	Content        string      `json:"content"`
	MessageType    MessageKind `json:"messageType"`
	CreatedAt      time.Time   `json:"createdAt"`
	EditedAt       *time.Time  `json:"editedAt"`
	DeletedAt      *time.Time  `json:"deletedAt"`
	Sender         *User       `json:"sender"`
}

type Conversation struct {
	Id        string    `json:"id"`
	User1Id   string    `json:"user1Id"`
	User2Id   string    `json:"user2Id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Invite struct {
	Id        string     `json:"id"`
	RoomId    string     `json:"roomId"`
	Code      string     `json:"code"`
	MaxUses   *int       `json:"maxUses"`
	UseCount  int        `json:"useCount"`
	ExpiresAt *time.Time `json:"expiresAt"`
	CreatedAt time.Time  `json:"createdAt"`
}
