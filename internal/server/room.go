package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/npezzotti/geochat/internal/bus"
	"github.com/npezzotti/geochat/internal/database"
	"github.com/npezzotti/geochat/internal/registry"
	"github.com/npezzotti/geochat/internal/types"
)

// joinRoom validates access, records membership and presence, subscribes
// the connection to the room, sends it the roster and tells everyone else.
func (cs *ChatServer) joinRoom(ctx context.Context, c *Client, roomId string) error {
	if roomId == "" {
		return invalid("roomId is required")
	}

	defer cs.registry.LockUserRoom(c.user.Id, roomId)()

	prev, err := cs.registry.BeginJoin(c.id, roomId)
	if err != nil {
		return err
	}

	if prev == registry.Joined {
		// already in the room: refresh presence and resend the roster only
		if err := cs.presence.SetOnline(ctx, roomId, c.user.Id); err != nil {
			cs.log.Printf("refresh presence for %q in room %q: %v", c.user.Id, roomId, err)
		}
		cs.sendRoster(ctx, c, roomId)
		return nil
	}

	joined := false
	defer func() {
		if !joined {
			cs.registry.AbortJoin(c.id, roomId)
		}
	}()

	if err := cs.checkRoomAccess(ctx, roomId, c.user.Id); err != nil {
		return err
	}

	if err := cs.presence.SetOnline(ctx, roomId, c.user.Id); err != nil {
		cs.log.Printf("set presence for %q in room %q: %v", c.user.Id, roomId, err)
	}

	alreadyPresent := cs.registry.UserInRoom(c.user.Id, roomId, c.id)

	cs.addToGroup(bus.RoomTopic(roomId), c)
	if err := cs.registry.TrackJoin(c.id, roomId); err != nil {
		cs.removeFromGroup(bus.RoomTopic(roomId), c)
		return err
	}
	joined = true

	cs.log.Printf("user %q joined room %q", c.user.Username, roomId)
	cs.sendRoster(ctx, c, roomId)

	if alreadyPresent {
		return nil
	}

	joinedMsg := newServerMessage(EventUserJoined, &UserJoined{User: c.user, RoomId: roomId})
	if err := cs.publish(ctx, joinedMsg, c, bus.RoomTopic(roomId)); err != nil {
		cs.log.Printf("broadcast join for room %q: %v", roomId, err)
	}

	return nil
}

// checkRoomAccess fails closed: any store error rejects the join.
func (cs *ChatServer) checkRoomAccess(ctx context.Context, roomId, userId string) error {
	room, err := cs.db.GetRoomById(ctx, roomId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRoomNotFound
		}
		return fmt.Errorf("get room: %w", err)
	}

	banned, err := cs.db.IsBanned(ctx, roomId, userId)
	if err != nil {
		return fmt.Errorf("check ban: %w", err)
	}
	if banned {
		return forbidden("You are banned from this room")
	}

	member, err := cs.db.IsRoomMember(ctx, roomId, userId)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if member {
		return nil
	}

	if room.IsPrivate {
		return forbidden("This room is private")
	}

	count, err := cs.db.CountRoomMembers(ctx, roomId)
	if err != nil {
		return fmt.Errorf("count members: %w", err)
	}
	if room.MaxUsers > 0 && count >= room.MaxUsers {
		return forbidden("Room is full")
	}

	role := database.RoleMember
	if room.CreatedBy == userId {
		role = database.RoleOwner
	}

	if _, err := cs.db.AddRoomMember(ctx, roomId, userId, role); err != nil {
		return fmt.Errorf("add member: %w", err)
	}

	return nil
}

// sendRoster sends the room's online users to c alone. Presence failures
// degrade to an empty roster.
func (cs *ChatServer) sendRoster(ctx context.Context, c *Client, roomId string) {
	users := cs.onlineUsers(ctx, roomId)
	c.queueMessage(newServerMessage(EventOnlineUsers, &OnlineUsers{RoomId: roomId, Users: users}))
}

// onlineUsers resolves the presence roster to public profiles, keeping the
// presence order.
func (cs *ChatServer) onlineUsers(ctx context.Context, roomId string) []types.User {
	users := []types.User{}

	ids, err := cs.presence.OnlineUsers(ctx, roomId)
	if err != nil {
		cs.log.Printf("read presence for room %q: %v", roomId, err)
		return users
	}
	if len(ids) == 0 {
		return users
	}

	profiles, err := cs.db.GetPublicUsersByIds(ctx, ids)
	if err != nil {
		cs.log.Printf("load online users for room %q: %v", roomId, err)
		return users
	}

	byId := make(map[string]database.User, len(profiles))
	for _, p := range profiles {
		byId[p.Id] = p
	}
	for _, id := range ids {
		if p, ok := byId[id]; ok {
			users = append(users, p.Public())
		}
	}

	return users
}

// OnlineUsers is the read side of presence used by the HTTP API.
func (cs *ChatServer) OnlineUsers(ctx context.Context, roomId string) []types.User {
	return cs.onlineUsers(ctx, roomId)
}

// leaveRoom is idempotent. With unsubscribe set the durable membership is
// removed as well; owners cannot unsubscribe.
func (cs *ChatServer) leaveRoom(ctx context.Context, c *Client, roomId string, unsubscribe bool) error {
	if roomId == "" {
		return invalid("roomId is required")
	}

	if unsubscribe {
		role, err := cs.db.GetMemberRole(ctx, roomId, c.user.Id)
		if err != nil {
			return fmt.Errorf("get member role: %w", err)
		}
		if role == database.RoleOwner {
			return forbidden("Room owner cannot unsubscribe")
		}
	}

	defer cs.registry.LockUserRoom(c.user.Id, roomId)()

	if cs.registry.BeginLeave(c.id, roomId) {
		cs.removeFromGroup(bus.RoomTopic(roomId), c)
		cs.registry.TrackLeave(c.id, roomId)

		// another tab of the same user keeps them present
		if !cs.registry.UserInRoom(c.user.Id, roomId, c.id) {
			if err := cs.presence.SetOffline(ctx, roomId, c.user.Id); err != nil {
				cs.log.Printf("remove presence for %q in room %q: %v", c.user.Id, roomId, err)
			}

			leftMsg := newServerMessage(EventUserLeft, &UserLeft{UserId: c.user.Id, RoomId: roomId})
			if err := cs.publish(ctx, leftMsg, nil, bus.RoomTopic(roomId)); err != nil {
				cs.log.Printf("broadcast leave for room %q: %v", roomId, err)
			}
		}

		cs.log.Printf("user %q left room %q", c.user.Username, roomId)
	}

	if unsubscribe {
		if err := cs.db.RemoveRoomMember(ctx, roomId, c.user.Id); err != nil {
			return fmt.Errorf("remove member: %w", err)
		}
	}

	return nil
}

// heartbeat refreshes presence in every room the connection has joined. It
// never broadcasts.
func (cs *ChatServer) heartbeat(ctx context.Context, c *Client) {
	for _, roomId := range cs.registry.RoomsFor(c.id) {
		if err := cs.presence.Heartbeat(ctx, roomId, c.user.Id); err != nil {
			cs.log.Printf("heartbeat for %q in room %q: %v", c.user.Id, roomId, err)
		}
	}

	if err := cs.db.UpdateLastSeen(ctx, c.user.Id); err != nil {
		cs.log.Printf("update last seen for %q: %v", c.user.Id, err)
	}
}

// typing is fire and forget; it is dropped unless the connection has joined
// the room.
func (cs *ChatServer) typing(ctx context.Context, c *Client, roomId string) {
	if cs.registry.State(c.id, roomId) != registry.Joined {
		return
	}

	msg := newServerMessage(EventUserTyping, &UserTyping{
		UserId:   c.user.Id,
		Username: c.user.Username,
		RoomId:   roomId,
	})
	if err := cs.publish(ctx, msg, c, bus.RoomTopic(roomId)); err != nil {
		cs.log.Printf("broadcast typing for room %q: %v", roomId, err)
	}
}
