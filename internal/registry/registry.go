// Package registry keeps the per-process view of live connections: who each
// connection belongs to and which rooms and conversations it has joined.
// Nothing here is shared between instances or persisted.
package registry

import (
	"errors"
	"sort"
	"sync"
)

var (
	ErrUnknownConnection = errors.New("unknown connection")
	ErrAlreadyRegistered = errors.New("connection already registered")
)

// RoomState is the lifecycle of one (connection, room) pair.
type RoomState int

const (
	NotJoined RoomState = iota
	Joining
	Joined
	Leaving
)

func (s RoomState) String() string {
	switch s {
	case NotJoined:
		return "not_joined"
	case Joining:
		return "joining"
	case Joined:
		return "joined"
	case Leaving:
		return "leaving"
	}
	return "unknown"
}

type connection struct {
	userId        string
	rooms         map[string]RoomState
	conversations map[string]struct{}
}

type userRoom struct {
	userId string
	roomId string
}

type transitionLock struct {
	mu   sync.Mutex
	refs int
}

type Registry struct {
	mu    sync.RWMutex
	conns map[string]*connection
	locks map[userRoom]*transitionLock
}

func New() *Registry {
	return &Registry{
		conns: make(map[string]*connection),
		locks: make(map[userRoom]*transitionLock),
	}
}

// LockUserRoom serializes join and leave of one user in one room across all
// of that user's connections. Call the returned function to release it.
func (r *Registry) LockUserRoom(userId, roomId string) (unlock func()) {
	key := userRoom{userId: userId, roomId: roomId}

	r.mu.Lock()
	l, ok := r.locks[key]
	if !ok {
		l = &transitionLock{}
		r.locks[key] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, key)
		}
		r.mu.Unlock()
	}
}

func (r *Registry) Register(connId, userId string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[connId]; ok {
		return ErrAlreadyRegistered
	}

	r.conns[connId] = &connection{
		userId:        userId,
		rooms:         make(map[string]RoomState),
		conversations: make(map[string]struct{}),
	}
	return nil
}

// Unregister forgets the connection and returns the rooms it was in or
// entering, sorted.
func (r *Registry) Unregister(connId string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connId]
	if !ok {
		return nil
	}
	delete(r.conns, connId)

	return sortedRooms(c, func(RoomState) bool { return true })
}

func (r *Registry) State(connId, roomId string) RoomState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[connId]
	if !ok {
		return NotJoined
	}
	return c.rooms[roomId]
}

// BeginJoin moves the pair into Joining and returns the previous state.
// Joining an already joined room leaves it Joined.
func (r *Registry) BeginJoin(connId, roomId string) (RoomState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connId]
	if !ok {
		return NotJoined, ErrUnknownConnection
	}

	prev := c.rooms[roomId]
	if prev != Joined {
		c.rooms[roomId] = Joining
	}
	return prev, nil
}

// TrackJoin marks the room as joined. It is idempotent.
func (r *Registry) TrackJoin(connId, roomId string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connId]
	if !ok {
		return ErrUnknownConnection
	}
	c.rooms[roomId] = Joined
	return nil
}

// AbortJoin rolls a failed join back to NotJoined.
func (r *Registry) AbortJoin(connId, roomId string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.conns[connId]; ok && c.rooms[roomId] == Joining {
		delete(c.rooms, roomId)
	}
}

// BeginLeave moves a joined or joining room into Leaving. It reports false
// if there was nothing to leave.
func (r *Registry) BeginLeave(connId, roomId string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connId]
	if !ok {
		return false
	}

	switch c.rooms[roomId] {
	case Joined, Joining:
		c.rooms[roomId] = Leaving
		return true
	}
	return false
}

// TrackLeave drops the room from the connection. It is idempotent.
func (r *Registry) TrackLeave(connId, roomId string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.conns[connId]; ok {
		delete(c.rooms, roomId)
	}
}

// RoomsFor returns the rooms the connection has fully joined, sorted.
func (r *Registry) RoomsFor(connId string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[connId]
	if !ok {
		return nil
	}
	return sortedRooms(c, func(s RoomState) bool { return s == Joined })
}

// UserInRoom reports whether any connection other than exceptConn belongs to
// userId and has joined roomId. Callers hold LockUserRoom for the pair so no
// other connection of the user is half way through a join.
func (r *Registry) UserInRoom(userId, roomId, exceptConn string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, c := range r.conns {
		if id == exceptConn || c.userId != userId {
			continue
		}
		if c.rooms[roomId] == Joined {
			return true
		}
	}
	return false
}

func (r *Registry) TrackConversation(connId, conversationId string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connId]
	if !ok {
		return ErrUnknownConnection
	}
	c.conversations[conversationId] = struct{}{}
	return nil
}

func (r *Registry) UntrackConversation(connId, conversationId string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.conns[connId]; ok {
		delete(c.conversations, conversationId)
	}
}

func (r *Registry) ConversationsFor(connId string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[connId]
	if !ok {
		return nil
	}

	ids := make([]string, 0, len(c.conversations))
	for id := range c.conversations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func sortedRooms(c *connection, keep func(RoomState) bool) []string {
	ids := make([]string, 0, len(c.rooms))
	for id, s := range c.rooms {
		if keep(s) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
