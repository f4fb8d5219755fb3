package database

import (
	"database/sql"
	"time"

	"github.com/npezzotti/geochat/internal/types"
)

// Tombstone replaces the content of a soft deleted message.
const Tombstone = "[Message deleted]"

type RoomRole string

const (
	RoleOwner  RoomRole = "owner"
	RoleAdmin  RoomRole = "admin"
	RoleMember RoomRole = "member"
)

// ReactionTarget tells which message table a reaction points at. Room and
// direct messages share one reaction table.
type ReactionTarget int

const (
	ReactionTargetRoom ReactionTarget = iota + 1
	ReactionTargetDirect
)

func (t ReactionTarget) String() string {
	switch t {
	case ReactionTargetRoom:
		return "room"
	case ReactionTargetDirect:
		return "dm"
	}
	return "unknown"
}

type User struct {
	Id        string
	Username  string
	Gender    string
	AvatarUrl sql.NullString
	CountryId sql.NullInt64
	StateId   sql.NullInt64
	LastSeen  time.Time
}

type Room struct {
	Id          string
	Name        string
	Description sql.NullString
	CountryId   sql.NullInt64
	StateId     sql.NullInt64
	CreatedBy   string
	IsPrivate   bool
	MaxUsers    int
	CreatedAt   time.Time
}

type RoomDetails struct {
	Room
	CountryName sql.NullString
	StateName   sql.NullString
	MemberCount int
}

type Message struct {
	Id        string
	RoomId    string
	UserId    sql.NullString
	Content   string
	Kind      string
	CreatedAt time.Time
	EditedAt  sql.NullTime
	DeletedAt sql.NullTime
}

type DirectMessage struct {
	Id             string
	ConversationId string
	SenderId       sql.NullString
	Content        string
	Kind           string
	CreatedAt      time.Time
	EditedAt       sql.NullTime
	DeletedAt      sql.NullTime
}

type Conversation struct {
	Id        string
	User1Id   string
	User2Id   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasParticipant reports whether userId is one of the two users.
func (c Conversation) HasParticipant(userId string) bool {
	return c.User1Id == userId || c.User2Id == userId
}

// OtherParticipant returns the participant that is not userId.
func (c Conversation) OtherParticipant(userId string) string {
	if c.User1Id == userId {
		return c.User2Id
	}
	return c.User1Id
}

type Invite struct {
	Id        string
	RoomId    string
	Code      string
	CreatedBy sql.NullString
	MaxUses   sql.NullInt64
	UseCount  int
	ExpiresAt sql.NullTime
	CreatedAt time.Time
}

type Reaction struct {
	MessageId string
	UserId    string
	Emoji     string
	Target    ReactionTarget
}

type CreateMessageParams struct {
	RoomId  string
	UserId  string
	Content string
	Kind    string
}

type CreateDirectMessageParams struct {
	ConversationId string
	SenderId       string
	Content        string
	Kind           string
}

type CreateInviteParams struct {
	RoomId    string
	CreatedBy string
	MaxUses   *int
	ExpiresAt *time.Time
}

type MessagePage struct {
	Before *time.Time
	Limit  int
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func nullInt(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

func nullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// Public returns the projection of u that may be shown to other users.
func (u User) Public() types.User {
	return types.User{
		Id:        u.Id,
		Username:  u.Username,
		Gender:    u.Gender,
		AvatarUrl: nullString(u.AvatarUrl),
		CountryId: nullInt(u.CountryId),
		StateId:   nullInt(u.StateId),
		LastSeen:  u.LastSeen.UTC(),
	}
}

func (r Room) Public() types.Room {
	return types.Room{
		Id:          r.Id,
		Name:        r.Name,
		Description: nullString(r.Description),
		CountryId:   nullInt(r.CountryId),
		StateId:     nullInt(r.StateId),
		CreatedBy:   r.CreatedBy,
		IsPrivate:   r.IsPrivate,
		MaxUsers:    r.MaxUsers,
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

func (m Message) Public(author *types.User) types.Message {
	return types.Message{
		Id:          m.Id,
		RoomId:      m.RoomId,
		UserId:      nullString(m.UserId),
		Content:     m.Content,
		MessageType: types.MessageKind(m.Kind),
		CreatedAt:   m.CreatedAt.UTC(),
		EditedAt:    nullTime(m.EditedAt),
		DeletedAt:   nullTime(m.DeletedAt),
		User:        author,
	}
}

func (m DirectMessage) Public(sender *types.User) types.DirectMessage {
	return types.DirectMessage{
		Id:             m.Id,
		ConversationId: m.ConversationId,
		SenderId:       nullString(m.SenderId),
		Content:        m.Content,
		MessageType:    types.MessageKind(m.Kind),
		CreatedAt:      m.CreatedAt.UTC(),
		EditedAt:       nullTime(m.EditedAt),
		DeletedAt:      nullTime(m.DeletedAt),
		Sender:         sender,
	}
}

func (c Conversation) Public() types.Conversation {
	return types.Conversation{
		Id:        c.Id,
		User1Id:   c.User1Id,
		User2Id:   c.User2Id,
		CreatedAt: c.CreatedAt.UTC(),
		UpdatedAt: c.UpdatedAt.UTC(),
	}
}

func (i Invite) Public() types.Invite {
	return types.Invite{
		Id:        i.Id,
		RoomId:    i.RoomId,
		Code:      i.Code,
		MaxUses:   nullInt(i.MaxUses),
		UseCount:  i.UseCount,
		ExpiresAt: nullTime(i.ExpiresAt),
		CreatedAt: i.CreatedAt.UTC(),
	}
}
