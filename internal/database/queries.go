package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/teris-io/shortid"
)

const (
	roomColumns    = "id, name, description, country_id, state_id, created_by, is_private, max_users, created_at"
	userColumns    = "id, username, gender, avatar_url, country_id, state_id, last_seen"
	messageColumns = "id, room_id, user_id, content, message_type, created_at, edited_at, deleted_at"
	dmColumns      = "id, conversation_id, sender_id, content, message_type, created_at, edited_at, deleted_at"
	convColumns    = "id, user1_id, user2_id, created_at, updated_at"
	inviteColumns  = "id, room_id, code, created_by, max_uses, use_count, expires_at, created_at"

	getRoomQuery          = "SELECT " + roomColumns + " FROM rooms WHERE id = $1"
	isRoomMemberQuery     = "SELECT EXISTS(SELECT 1 FROM room_members WHERE room_id = $1 AND user_id = $2)"
	getMemberRoleQuery    = "SELECT role FROM room_members WHERE room_id = $1 AND user_id = $2"
	countRoomMembersQuery = "SELECT COUNT(*) FROM room_members WHERE room_id = $1"
	isBannedQuery         = "SELECT EXISTS(SELECT 1 FROM room_bans WHERE room_id = $1 AND user_id = $2 " +
		"AND (expires_at IS NULL OR expires_at > NOW()))"
	addRoomMemberQuery = "INSERT INTO room_members (room_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4) " +
		"ON CONFLICT (room_id, user_id) DO NOTHING"
	removeRoomMemberQuery = "DELETE FROM room_members WHERE room_id = $1 AND user_id = $2"
	createInviteQuery     = "INSERT INTO room_invites (room_id, code, created_by, max_uses, expires_at, created_at) " +
		"VALUES ($1, $2, $3, $4, $5, $6) RETURNING " + inviteColumns
	consumeInviteQuery = "UPDATE room_invites SET use_count = use_count + 1 WHERE code = $1 " +
		"AND (expires_at IS NULL OR expires_at > NOW()) " +
		"AND (max_uses IS NULL OR use_count < max_uses) RETURNING room_id"

	getPublicUserQuery   = "SELECT " + userColumns + " FROM users WHERE id = $1"
	getPublicUsersQuery  = "SELECT " + userColumns + " FROM users WHERE id = ANY($1)"
	updateLastSeenQuery  = "UPDATE users SET last_seen = $2 WHERE id = $1"
	isBlockedEitherQuery = "SELECT EXISTS(SELECT 1 FROM user_blocks WHERE " +
		"(blocker_id = $1 AND blocked_id = $2) OR (blocker_id = $2 AND blocked_id = $1))"

	createMessageQuery = "INSERT INTO messages (room_id, user_id, content, message_type, created_at) " +
		"VALUES ($1, $2, $3, $4, $5) RETURNING " + messageColumns
	getMessageQuery    = "SELECT " + messageColumns + " FROM messages WHERE id = $1"
	updateMessageQuery = "UPDATE messages SET content = $2, edited_at = $3 " +
		"WHERE id = $1 AND deleted_at IS NULL RETURNING " + messageColumns
	deleteMessageQuery = "UPDATE messages SET content = $2, deleted_at = $3 " +
		"WHERE id = $1 AND deleted_at IS NULL RETURNING " + messageColumns

	createDirectMessageQuery = "INSERT INTO direct_messages (conversation_id, sender_id, content, message_type, created_at) " +
		"VALUES ($1, $2, $3, $4, $5) RETURNING " + dmColumns
	getDirectMessageQuery    = "SELECT " + dmColumns + " FROM direct_messages WHERE id = $1"
	updateDirectMessageQuery = "UPDATE direct_messages SET content = $2, edited_at = $3 " +
		"WHERE id = $1 AND deleted_at IS NULL RETURNING " + dmColumns
	deleteDirectMessageQuery = "UPDATE direct_messages SET content = $2, deleted_at = $3 " +
		"WHERE id = $1 AND deleted_at IS NULL RETURNING " + dmColumns

	addReactionQuery = "INSERT INTO message_reactions (message_id, user_id, emoji, message_type, created_at) " +
		"VALUES ($1, $2, $3, $4, $5) ON CONFLICT (message_id, user_id, emoji) DO NOTHING"
	removeReactionQuery = "DELETE FROM message_reactions " +
		"WHERE message_id = $1 AND user_id = $2 AND emoji = $3 AND message_type = $4"

	getConversationQuery = "SELECT " + convColumns + " FROM conversations WHERE id = $1"
	// The no-op update makes RETURNING yield the existing row on conflict.
	upsertConversationQuery = "INSERT INTO conversations (user1_id, user2_id, created_at, updated_at) " +
		"VALUES ($1, $2, $3, $3) ON CONFLICT (user1_id, user2_id) " +
		"DO UPDATE SET updated_at = conversations.updated_at RETURNING " + convColumns
	isParticipantQuery = "SELECT EXISTS(SELECT 1 FROM conversations WHERE id = $1 " +
		"AND (user1_id = $2 OR user2_id = $2))"
	touchConversationQuery = "UPDATE conversations SET updated_at = $2 WHERE id = $1"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// normalizeId lower-cases UUIDs so string order matches the uuid column
// order Postgres checks. Other ids are returned unchanged.
func normalizeId(id string) string {
	if u, err := uuid.Parse(id); err == nil {
		return u.String()
	}
	return id
}

// CanonicalPair orders two user ids so that a conversation between the same
// two users is always stored under one row.
func CanonicalPair(a, b string) (string, string) {
	a, b = normalizeId(a), normalizeId(b)
	if a < b {
		return a, b
	}
	return b, a
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (Room, error) {
	var r Room
	err := row.Scan(
		&r.Id,
		&r.Name,
		&r.Description,
		&r.CountryId,
		&r.StateId,
		&r.CreatedBy,
		&r.IsPrivate,
		&r.MaxUsers,
		&r.CreatedAt,
	)
	return r, err
}

func scanUser(row rowScanner) (User, error) {
	var u User
	err := row.Scan(
		&u.Id,
		&u.Username,
		&u.Gender,
		&u.AvatarUrl,
		&u.CountryId,
		&u.StateId,
		&u.LastSeen,
	)
	return u, err
}

func scanMessage(row rowScanner) (Message, error) {
	var m Message
	err := row.Scan(
		&m.Id,
		&m.RoomId,
		&m.UserId,
		&m.Content,
		&m.Kind,
		&m.CreatedAt,
		&m.EditedAt,
		&m.DeletedAt,
	)
	return m, err
}

func scanDirectMessage(row rowScanner) (DirectMessage, error) {
	var m DirectMessage
	err := row.Scan(
		&m.Id,
		&m.ConversationId,
		&m.SenderId,
		&m.Content,
		&m.Kind,
		&m.CreatedAt,
		&m.EditedAt,
		&m.DeletedAt,
	)
	return m, err
}

func scanConversation(row rowScanner) (Conversation, error) {
	var c Conversation
	err := row.Scan(
		&c.Id,
		&c.User1Id,
		&c.User2Id,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	return c, err
}

func (db *PgGoChatRepository) GetRoomById(ctx context.Context, roomId string) (Room, error) {
	return scanRoom(db.conn.QueryRowContext(ctx, getRoomQuery, roomId))
}

func (db *PgGoChatRepository) GetRoomWithDetails(ctx context.Context, roomId string) (*RoomDetails, error) {
	query := `
		SELECT r.id, r.name, r.description, r.country_id, r.state_id, r.created_by,
				r.is_private, r.max_users, r.created_at,
				c.name AS country_name,
				s.name AS state_name,
				(SELECT COUNT(*) FROM room_members rm WHERE rm.room_id = r.id) AS member_count
		FROM rooms r
		LEFT JOIN countries c ON r.country_id = c.id
		LEFT JOIN states s ON r.state_id = s.id
		WHERE r.id = $1;
`

	var d RoomDetails
	err := db.conn.QueryRowContext(ctx, query, roomId).Scan(
		&d.Id,
		&d.Name,
		&d.Description,
		&d.CountryId,
		&d.StateId,
		&d.CreatedBy,
		&d.IsPrivate,
		&d.MaxUsers,
		&d.CreatedAt,
		&d.CountryName,
		&d.StateName,
		&d.MemberCount,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch room details: %w", err)
	}

	return &d, nil
}

func (db *PgGoChatRepository) IsRoomMember(ctx context.Context, roomId, userId string) (bool, error) {
	var ok bool
	err := db.conn.QueryRowContext(ctx, isRoomMemberQuery, roomId, userId).Scan(&ok)
	return ok, err
}

// GetMemberRole returns an empty role when userId is not a member.
func (db *PgGoChatRepository) GetMemberRole(ctx context.Context, roomId, userId string) (RoomRole, error) {
	var role string
	err := db.conn.QueryRowContext(ctx, getMemberRoleQuery, roomId, userId).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return RoomRole(role), err
}

func (db *PgGoChatRepository) CountRoomMembers(ctx context.Context, roomId string) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, countRoomMembersQuery, roomId).Scan(&n)
	return n, err
}

func (db *PgGoChatRepository) IsBanned(ctx context.Context, roomId, userId string) (bool, error) {
	var banned bool
	err := db.conn.QueryRowContext(ctx, isBannedQuery, roomId, userId).Scan(&banned)
	return banned, err
}

// AddRoomMember inserts a membership and reports whether a new row was
// created. An existing membership keeps its role.
func (db *PgGoChatRepository) AddRoomMember(ctx context.Context, roomId, userId string, role RoomRole) (bool, error) {
	res, err := db.conn.ExecContext(ctx, addRoomMemberQuery, roomId, userId, string(role), time.Now().UTC())
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

func (db *PgGoChatRepository) RemoveRoomMember(ctx context.Context, roomId, userId string) error {
	_, err := db.conn.ExecContext(ctx, removeRoomMemberQuery, roomId, userId)
	return err
}

func (db *PgGoChatRepository) CreateInvite(ctx context.Context, params CreateInviteParams) (Invite, error) {
	code, err := shortid.Generate()
	if err != nil {
		return Invite{}, fmt.Errorf("generate invite code: %w", err)
	}

	var maxUses sql.NullInt64
	if params.MaxUses != nil {
		maxUses = sql.NullInt64{Int64: int64(*params.MaxUses), Valid: true}
	}
	var expiresAt sql.NullTime
	if params.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: params.ExpiresAt.UTC(), Valid: true}
	}

	var inv Invite
	err = db.conn.QueryRowContext(ctx, createInviteQuery,
		params.RoomId,
		code,
		params.CreatedBy,
		maxUses,
		expiresAt,
		time.Now().UTC(),
	).Scan(
		&inv.Id,
		&inv.RoomId,
		&inv.Code,
		&inv.CreatedBy,
		&inv.MaxUses,
		&inv.UseCount,
		&inv.ExpiresAt,
		&inv.CreatedAt,
	)

	return inv, err
}

// RedeemInvite consumes one use of the invite and makes userId a member of
// its room. The use counter and the membership change commit together.
func (db *PgGoChatRepository) RedeemInvite(ctx context.Context, code, userId string) (roomId string, err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	err = tx.QueryRowContext(ctx, consumeInviteQuery, code).Scan(&roomId)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrInviteInvalid
		return "", err
	}
	if err != nil {
		return "", err
	}

	var banned bool
	if err = tx.QueryRowContext(ctx, isBannedQuery, roomId, userId).Scan(&banned); err != nil {
		return "", err
	}
	if banned {
		err = ErrBanned
		return "", err
	}

	_, err = tx.ExecContext(ctx, addRoomMemberQuery, roomId, userId, string(RoleMember), time.Now().UTC())
	if err != nil {
		return "", err
	}

	if err = tx.Commit(); err != nil {
		return "", err
	}

	return roomId, nil
}

func (db *PgGoChatRepository) GetPublicUser(ctx context.Context, userId string) (User, error) {
	return scanUser(db.conn.QueryRowContext(ctx, getPublicUserQuery, userId))
}

func (db *PgGoChatRepository) GetPublicUsersByIds(ctx context.Context, userIds []string) ([]User, error) {
	if len(userIds) == 0 {
		return []User{}, nil
	}

	rows, err := db.conn.QueryContext(ctx, getPublicUsersQuery, pq.Array(userIds))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch users: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0, len(userIds))
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		users = append(users, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return users, nil
}

func (db *PgGoChatRepository) UpdateLastSeen(ctx context.Context, userId string) error {
	_, err := db.conn.ExecContext(ctx, updateLastSeenQuery, userId, time.Now().UTC())
	return err
}

func (db *PgGoChatRepository) IsBlockedEither(ctx context.Context, userId1, userId2 string) (bool, error) {
	var blocked bool
	err := db.conn.QueryRowContext(ctx, isBlockedEitherQuery, userId1, userId2).Scan(&blocked)
	return blocked, err
}

func (db *PgGoChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	return scanMessage(db.conn.QueryRowContext(ctx, createMessageQuery,
		params.RoomId,
		params.UserId,
		params.Content,
		params.Kind,
		time.Now().UTC(),
	))
}

func (db *PgGoChatRepository) GetMessageById(ctx context.Context, messageId string) (Message, error) {
	return scanMessage(db.conn.QueryRowContext(ctx, getMessageQuery, messageId))
}

// GetMessagesByRoom returns up to page.Limit messages older than page.Before,
// oldest first.
func (db *PgGoChatRepository) GetMessagesByRoom(ctx context.Context, roomId string, page MessagePage) ([]Message, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	var before sql.NullTime
	if page.Before != nil {
		before = sql.NullTime{Time: page.Before.UTC(), Valid: true}
	}

	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM messages "+
			"WHERE room_id = $1 AND ($2::timestamptz IS NULL OR created_at < $2) "+
			"ORDER BY created_at DESC LIMIT $3",
		roomId,
		before,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		msgs = append(msgs, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	return msgs, nil
}

// UpdateMessage returns sql.ErrNoRows if the message is missing or deleted.
func (db *PgGoChatRepository) UpdateMessage(ctx context.Context, messageId, content string) (Message, error) {
	return scanMessage(db.conn.QueryRowContext(ctx, updateMessageQuery, messageId, content, time.Now().UTC()))
}

func (db *PgGoChatRepository) SoftDeleteMessage(ctx context.Context, messageId string) (Message, error) {
	return scanMessage(db.conn.QueryRowContext(ctx, deleteMessageQuery, messageId, Tombstone, time.Now().UTC()))
}

func (db *PgGoChatRepository) CreateDirectMessage(ctx context.Context, params CreateDirectMessageParams) (DirectMessage, error) {
	return scanDirectMessage(db.conn.QueryRowContext(ctx, createDirectMessageQuery,
		params.ConversationId,
		params.SenderId,
		params.Content,
		params.Kind,
		time.Now().UTC(),
	))
}

func (db *PgGoChatRepository) GetDirectMessageById(ctx context.Context, messageId string) (DirectMessage, error) {
	return scanDirectMessage(db.conn.QueryRowContext(ctx, getDirectMessageQuery, messageId))
}

func (db *PgGoChatRepository) UpdateDirectMessage(ctx context.Context, messageId, content string) (DirectMessage, error) {
	return scanDirectMessage(db.conn.QueryRowContext(ctx, updateDirectMessageQuery, messageId, content, time.Now().UTC()))
}

func (db *PgGoChatRepository) SoftDeleteDirectMessage(ctx context.Context, messageId string) (DirectMessage, error) {
	return scanDirectMessage(db.conn.QueryRowContext(ctx, deleteDirectMessageQuery, messageId, Tombstone, time.Now().UTC()))
}

// AddReaction reports false when the same user already left the same emoji.
func (db *PgGoChatRepository) AddReaction(ctx context.Context, r Reaction) (bool, error) {
	res, err := db.conn.ExecContext(ctx, addReactionQuery, r.MessageId, r.UserId, r.Emoji, r.Target.String(), time.Now().UTC())
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	return n > 0, err
}

func (db *PgGoChatRepository) RemoveReaction(ctx context.Context, r Reaction) (bool, error) {
	res, err := db.conn.ExecContext(ctx, removeReactionQuery, r.MessageId, r.UserId, r.Emoji, r.Target.String())
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	return n > 0, err
}

func (db *PgGoChatRepository) FindConversationById(ctx context.Context, conversationId string) (Conversation, error) {
	return scanConversation(db.conn.QueryRowContext(ctx, getConversationQuery, conversationId))
}

func (db *PgGoChatRepository) FindOrCreateConversation(ctx context.Context, userId1, userId2 string) (Conversation, error) {
	lo, hi := CanonicalPair(userId1, userId2)
	if lo == hi {
		return Conversation{}, fmt.Errorf("conversation requires two distinct users")
	}

	return scanConversation(db.conn.QueryRowContext(ctx, upsertConversationQuery, lo, hi, time.Now().UTC()))
}

func (db *PgGoChatRepository) IsConversationParticipant(ctx context.Context, conversationId, userId string) (bool, error) {
	var ok bool
	err := db.conn.QueryRowContext(ctx, isParticipantQuery, conversationId, userId).Scan(&ok)
	return ok, err
}

func (db *PgGoChatRepository) UpdateConversationTimestamp(ctx context.Context, conversationId string) error {
	_, err := db.conn.ExecContext(ctx, touchConversationQuery, conversationId, time.Now().UTC())
	return err
}
