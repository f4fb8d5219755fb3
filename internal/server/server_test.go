package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/npezzotti/geochat/internal/bus"
	"github.com/npezzotti/geochat/internal/database"
	"github.com/npezzotti/geochat/internal/presence"
	"github.com/npezzotti/geochat/internal/stats"
	"github.com/npezzotti/geochat/internal/testutil"
	"github.com/npezzotti/geochat/internal/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const frameTimeout = time.Second

var (
	userA = database.User{Id: "user-a", Username: "alice"}
	userB = database.User{Id: "user-b", Username: "bob"}
	userC = database.User{Id: "user-c", Username: "carol"}
)

type testEnv struct {
	cs       *ChatServer
	db       *database.MockGoChatRepository
	stats    *stats.MockStatsUpdater
	presence PresenceTracker
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func newTestChatServer(t *testing.T) *testEnv {
	t.Helper()
	_, rdb := testutil.NewRedis(t)
	return newTestChatServerWith(t, presence.NewStore(rdb, presence.DefaultWindow))
}

func newTestChatServerWith(t *testing.T, p PresenceTracker) *testEnv {
	t.Helper()
	return newTestChatServerOn(t, p, bus.NewLocalBus())
}

// newTestChatServerOn builds a server on a caller supplied bus so several
// instances can share one.
func newTestChatServerOn(t *testing.T, p PresenceTracker, b bus.Bus) *testEnv {
	t.Helper()

	db := new(database.MockGoChatRepository)
	su := stats.NewMockStatsUpdater()
	cs, err := NewChatServer(testutil.TestLogger(t), db, p, b, su,
		Options{HeartbeatInterval: time.Hour})
	require.NoError(t, err, "create chat server")

	go cs.Run()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
		defer cancel()
		cs.Shutdown(ctx)
	})

	return &testEnv{cs: cs, db: db, stats: su, presence: p}
}

// connect registers a client without a socket. Frames are read straight
// from its send buffer.
func (e *testEnv) connect(t *testing.T, u database.User) *Client {
	t.Helper()

	c := NewClient(u.Public(), nil, e.cs, e.cs.log)
	require.NoError(t, e.cs.RegisterClient(c), "register client")
	t.Cleanup(func() {
		e.cs.disconnect(context.Background(), c)
	})

	return c
}

// openRoom stubs the lookups a successful join into a public room needs.
func (e *testEnv) openRoom(roomId string) {
	e.db.On("GetRoomById", mock.Anything, roomId).
		Return(database.Room{Id: roomId, Name: roomId, CreatedBy: "owner", MaxUsers: 100}, nil)
	e.db.On("IsBanned", mock.Anything, roomId, mock.Anything).Return(false, nil)
	e.db.On("IsRoomMember", mock.Anything, roomId, mock.Anything).Return(false, nil)
	e.db.On("CountRoomMembers", mock.Anything, roomId).Return(0, nil)
	e.db.On("AddRoomMember", mock.Anything, roomId, mock.Anything, database.RoleMember).Return(true, nil)
}

func (e *testEnv) roster(ids []string, users ...database.User) {
	e.db.On("GetPublicUsersByIds", mock.Anything, ids).Return(users, nil)
}

func emit(c *Client, event string, data any) {
	raw, _ := json.Marshal(data)
	c.handleEvent(&ClientEvent{Event: event, Data: raw})
}

func nextFrame(t *testing.T, c *Client) frame {
	t.Helper()

	select {
	case raw := <-c.send:
		var f frame
		require.NoError(t, json.Unmarshal(raw, &f), "decode frame")
		return f
	case <-time.After(frameTimeout):
		t.Fatalf("no frame for connection of %q", c.user.Id)
	}
	return frame{}
}

func expectFrame(t *testing.T, c *Client, event string, v any) {
	t.Helper()

	f := nextFrame(t, c)
	require.Equal(t, event, f.Event, "event type")
	if v != nil {
		require.NoError(t, json.Unmarshal(f.Data, v), "decode %s payload", event)
	}
}

func expectError(t *testing.T, c *Client) ErrorPayload {
	t.Helper()

	var p ErrorPayload
	expectFrame(t, c, EventErrorOccurred, &p)
	return p
}

func expectNoFrame(t *testing.T, c *Client) {
	t.Helper()

	select {
	case raw := <-c.send:
		t.Fatalf("unexpected frame for %q: %s", c.user.Id, raw)
	case <-time.After(100 * time.Millisecond):
	}
}

func rosterIds(users []types.User) []string {
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.Id)
	}
	return ids
}

func TestRoomScenario(t *testing.T) {
	env := newTestChatServer(t)
	env.openRoom("general")
	env.roster([]string{"user-a"}, userA)
	env.roster([]string{"user-a", "user-b"}, userA, userB)

	a := env.connect(t, userA)
	b := env.connect(t, userB)

	emit(a, EventJoinRoom, RoomRequest{RoomId: "general"})
	var online OnlineUsers
	expectFrame(t, a, EventOnlineUsers, &online)
	assert.Equal(t, "general", online.RoomId, "roster room")
	assert.Equal(t, []string{"user-a"}, rosterIds(online.Users), "first joiner sees only itself")

	emit(b, EventJoinRoom, RoomRequest{RoomId: "general"})
	expectFrame(t, b, EventOnlineUsers, &online)
	assert.Equal(t, []string{"user-a", "user-b"}, rosterIds(online.Users), "second joiner sees both")

	var joined UserJoined
	expectFrame(t, a, EventUserJoined, &joined)
	assert.Equal(t, "user-b", joined.User.Id, "joined user")
	expectNoFrame(t, b)

	env.db.On("CreateMessage", mock.Anything, database.CreateMessageParams{
		RoomId: "general", UserId: "user-a", Content: "hi", Kind: "text",
	}).Return(database.Message{
		Id:        "msg-1",
		RoomId:    "general",
		UserId:    sql.NullString{String: "user-a", Valid: true},
		Content:   "hi",
		Kind:      "text",
		CreatedAt: Now(),
	}, nil).Once()

	emit(a, EventSendMessage, SendMessageRequest{RoomId: "general", Content: "  hi "})
	for _, c := range []*Client{a, b} {
		var msg NewMessage
		expectFrame(t, c, EventNewMessage, &msg)
		assert.Equal(t, "hi", msg.Message.Content, "message content")
		assert.Equal(t, "msg-1", msg.Message.Id, "server assigned id")
		require.NotNil(t, msg.Message.User, "author profile")
		assert.Equal(t, "alice", msg.Message.User.Username, "author username")
	}
	env.stats.AssertCalled(t, "Incr", stats.NumMessagesSent)

	env.cs.disconnect(context.Background(), a)
	var left UserLeft
	expectFrame(t, b, EventUserLeft, &left)
	assert.Equal(t, UserLeft{UserId: "user-a", RoomId: "general"}, left, "left payload")

	ids, err := env.presence.OnlineUsers(context.Background(), "general")
	require.NoError(t, err)
	assert.Equal(t, []string{"user-b"}, ids, "presence after disconnect")
}

func TestDeliverDeduplicates(t *testing.T) {
	env := newTestChatServer(t)
	a := env.connect(t, userA)
	b := env.connect(t, userB)

	env.cs.addToGroup(bus.ConversationTopic("conv-1"), a)

	msg := newServerMessage(EventDMUserTyping, &DMUserTyping{ConversationId: "conv-1"})
	err := env.cs.publish(context.Background(), msg, nil,
		bus.ConversationTopic("conv-1"), bus.UserTopic("user-a"), bus.UserTopic("user-b"))
	require.NoError(t, err)

	expectFrame(t, a, EventDMUserTyping, nil)
	expectFrame(t, b, EventDMUserTyping, nil)
	expectNoFrame(t, a)
}

func TestDeliverSkipsSender(t *testing.T) {
	env := newTestChatServer(t)
	a1 := env.connect(t, userA)
	a2 := env.connect(t, userA)

	msg := newServerMessage(EventUserTyping, &UserTyping{UserId: "user-a"})
	require.NoError(t, env.cs.publish(context.Background(), msg, a1, bus.UserTopic("user-a")))

	expectFrame(t, a2, EventUserTyping, nil)
	expectNoFrame(t, a1)
}

func TestRegisterClient(t *testing.T) {
	env := newTestChatServer(t)
	c := env.connect(t, userA)

	assert.Error(t, env.cs.RegisterClient(c), "second registration of the same connection")
	assert.Equal(t, 1, env.cs.registry.Len(), "registry size")
	assert.True(t, env.cs.inGroup(bus.UserTopic("user-a"), c), "personal group")
	env.stats.AssertCalled(t, "Incr", stats.NumActiveClients)

	env.cs.disconnect(context.Background(), c)
	assert.Equal(t, 0, env.cs.registry.Len(), "registry after disconnect")
	assert.False(t, env.cs.inGroup(bus.UserTopic("user-a"), c), "personal group after disconnect")
	env.stats.AssertCalled(t, "Decr", stats.NumActiveClients)
}

func TestShutdown(t *testing.T) {
	_, rdb := testutil.NewRedis(t)
	cs, err := NewChatServer(testutil.TestLogger(t), new(database.MockGoChatRepository),
		presence.NewStore(rdb, 0), bus.NewLocalBus(), stats.NewMockStatsUpdater(), Options{})
	require.NoError(t, err)
	go cs.Run()

	c := NewClient(userA.Public(), nil, cs, cs.log)
	require.NoError(t, cs.RegisterClient(c))
	// stands in for the event loop exiting once the socket is closed
	go func() {
		<-c.stop
		c.cleanup()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
	defer cancel()
	assert.NoError(t, cs.Shutdown(ctx), "shutdown")
	assert.Equal(t, 0, cs.registry.Len(), "connections drained")
}

func TestShutdownTimesOut(t *testing.T) {
	_, rdb := testutil.NewRedis(t)
	cs, err := NewChatServer(testutil.TestLogger(t), new(database.MockGoChatRepository),
		presence.NewStore(rdb, 0), bus.NewLocalBus(), stats.NewMockStatsUpdater(), Options{})
	require.NoError(t, err)
	go cs.Run()

	c := NewClient(userA.Public(), nil, cs, cs.log)
	require.NoError(t, cs.RegisterClient(c))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err = cs.Shutdown(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "shutdown should report the stuck client")
}

func TestHandleEventErrors(t *testing.T) {
	env := newTestChatServer(t)
	c := env.connect(t, userA)

	cases := []struct {
		name    string
		evt     *ClientEvent
		code    int
		kind    ErrorKind
		message string
	}{
		{
			name:    "unknown event",
			evt:     &ClientEvent{Event: "dance"},
			code:    400,
			kind:    KindInvalidMessage,
			message: "Unknown event dance",
		},
		{
			name:    "missing data",
			evt:     &ClientEvent{Event: EventJoinRoom},
			code:    400,
			kind:    KindInvalidMessage,
			message: "Missing event data",
		},
		{
			name:    "malformed data",
			evt:     &ClientEvent{Event: EventSendMessage, Data: json.RawMessage(`[1,2]`)},
			code:    400,
			kind:    KindInvalidMessage,
			message: "Invalid message format",
		},
		{
			name:    "empty room id",
			evt:     &ClientEvent{Event: EventJoinRoom, Data: json.RawMessage(`{}`)},
			code:    400,
			kind:    KindInvalidMessage,
			message: "roomId is required",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c.handleEvent(tc.evt)
			p := expectError(t, c)
			assert.Equal(t, tc.code, p.Code, "error code")
			assert.Equal(t, tc.kind, p.Type, "error type")
			assert.Equal(t, tc.message, p.Message, "error message")
		})
	}
}

func TestHandleEventStoreFailure(t *testing.T) {
	env := newTestChatServer(t)
	c := env.connect(t, userA)
	env.db.On("GetRoomById", mock.Anything, "general").Return(database.Room{}, errors.New("connection refused"))

	emit(c, EventJoinRoom, RoomRequest{RoomId: "general"})
	p := expectError(t, c)
	assert.Equal(t, 500, p.Code, "error code")
	assert.Equal(t, "Failed to join room", p.Message, "generic message hides the cause")

	// the connection keeps working after a failed event
	emit(c, EventTyping, RoomRequest{RoomId: "general"})
	expectNoFrame(t, c)
}

func TestQueueMessageDropsWhenFull(t *testing.T) {
	env := newTestChatServer(t)
	c := env.connect(t, userA)

	for i := 0; i < cap(c.send); i++ {
		require.True(t, c.queueBytes([]byte(`{}`)), "queue frame %d", i)
	}

	assert.False(t, c.queueMessage(ErrorMessage(ErrForbidden)), "full buffer drops the frame")
	env.stats.AssertCalled(t, "Incr", stats.NumDroppedMessages)
}

func TestCrossInstanceRoom(t *testing.T) {
	cases := []struct {
		name  string
		buses func(t *testing.T, rdb *redis.Client) (bus.Bus, bus.Bus)
	}{
		{
			name: "local bus",
			buses: func(t *testing.T, rdb *redis.Client) (bus.Bus, bus.Bus) {
				b := bus.NewLocalBus()
				t.Cleanup(func() { b.Close() })
				return b, b
			},
		},
		{
			name: "redis bus",
			buses: func(t *testing.T, rdb *redis.Client) (bus.Bus, bus.Bus) {
				log := testutil.TestLogger(t)
				b1 := bus.NewRedisBus(rdb, "", log)
				b2 := bus.NewRedisBus(rdb, "", log)
				t.Cleanup(func() {
					b1.Close()
					b2.Close()
				})
				return b1, b2
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, rdb := testutil.NewRedis(t)
			ps := presence.NewStore(rdb, presence.DefaultWindow)
			b1, b2 := tc.buses(t, rdb)

			env1 := newTestChatServerOn(t, ps, b1)
			env2 := newTestChatServerOn(t, ps, b2)
			for _, env := range []*testEnv{env1, env2} {
				env.openRoom("general")
				env.roster([]string{"user-a"}, userA)
				env.roster([]string{"user-a", "user-b"}, userA, userB)
				env.roster([]string{"user-b", "user-a"}, userB, userA)
			}

			a := env1.connect(t, userA)
			b := env2.connect(t, userB)

			emit(a, EventJoinRoom, RoomRequest{RoomId: "general"})
			expectFrame(t, a, EventOnlineUsers, nil)

			emit(b, EventJoinRoom, RoomRequest{RoomId: "general"})
			var online OnlineUsers
			expectFrame(t, b, EventOnlineUsers, &online)
			assert.ElementsMatch(t, []string{"user-a", "user-b"}, rosterIds(online.Users),
				"roster spans both instances")

			var joined UserJoined
			expectFrame(t, a, EventUserJoined, &joined)
			assert.Equal(t, "user-b", joined.User.Id, "join seen on the other instance")
			expectNoFrame(t, b)

			env2.db.On("CreateMessage", mock.Anything, database.CreateMessageParams{
				RoomId: "general", UserId: "user-b", Content: "hello", Kind: "text",
			}).Return(database.Message{
				Id:        "msg-1",
				RoomId:    "general",
				UserId:    sql.NullString{String: "user-b", Valid: true},
				Content:   "hello",
				Kind:      "text",
				CreatedAt: Now(),
			}, nil).Once()

			emit(b, EventSendMessage, SendMessageRequest{RoomId: "general", Content: "hello"})
			for _, c := range []*Client{a, b} {
				var msg NewMessage
				expectFrame(t, c, EventNewMessage, &msg)
				assert.Equal(t, "msg-1", msg.Message.Id, "message id")
			}

			emit(b, EventLeaveRoom, LeaveRoomRequest{RoomId: "general"})
			var left UserLeft
			expectFrame(t, a, EventUserLeft, &left)
			assert.Equal(t, UserLeft{UserId: "user-b", RoomId: "general"}, left, "leave seen on the other instance")

			ids, err := ps.OnlineUsers(context.Background(), "general")
			require.NoError(t, err)
			assert.Equal(t, []string{"user-a"}, ids, "shared presence after leave")
		})
	}
}
