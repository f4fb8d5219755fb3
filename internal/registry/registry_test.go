package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	r := New()

	require.NoError(t, r.Register("c1", "alice"))
	assert.ErrorIs(t, r.Register("c1", "alice"), ErrAlreadyRegistered)

	assert.Equal(t, 1, r.Len())
}

func TestJoinLifecycle(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("c1", "alice"))

	assert.Equal(t, NotJoined, r.State("c1", "general"))

	prev, err := r.BeginJoin("c1", "general")
	require.NoError(t, err)
	assert.Equal(t, NotJoined, prev)
	assert.Equal(t, Joining, r.State("c1", "general"))
	assert.Empty(t, r.RoomsFor("c1"), "joining rooms are not reported as joined")

	require.NoError(t, r.TrackJoin("c1", "general"))
	assert.Equal(t, Joined, r.State("c1", "general"))
	assert.Equal(t, []string{"general"}, r.RoomsFor("c1"))

	prev, err = r.BeginJoin("c1", "general")
	require.NoError(t, err)
	assert.Equal(t, Joined, prev, "second join should see the room as joined")
	assert.Equal(t, Joined, r.State("c1", "general"))

	assert.True(t, r.BeginLeave("c1", "general"))
	assert.Equal(t, Leaving, r.State("c1", "general"))
	r.TrackLeave("c1", "general")
	assert.Equal(t, NotJoined, r.State("c1", "general"))

	assert.False(t, r.BeginLeave("c1", "general"), "leaving twice should be a no-op")
	r.TrackLeave("c1", "general")
}

func TestAbortJoin(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("c1", "alice"))

	_, err := r.BeginJoin("c1", "secret")
	require.NoError(t, err)
	r.AbortJoin("c1", "secret")
	assert.Equal(t, NotJoined, r.State("c1", "secret"))

	require.NoError(t, r.TrackJoin("c1", "general"))
	r.AbortJoin("c1", "general")
	assert.Equal(t, Joined, r.State("c1", "general"), "abort must not undo a completed join")
}

func TestUnknownConnection(t *testing.T) {
	r := New()

	_, err := r.BeginJoin("nope", "general")
	assert.ErrorIs(t, err, ErrUnknownConnection)
	assert.ErrorIs(t, r.TrackJoin("nope", "general"), ErrUnknownConnection)
	assert.ErrorIs(t, r.TrackConversation("nope", "c"), ErrUnknownConnection)
	assert.Nil(t, r.RoomsFor("nope"))
	assert.Nil(t, r.Unregister("nope"))
}

func TestUnregisterReturnsRooms(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("c1", "alice"))
	require.NoError(t, r.TrackJoin("c1", "zeta"))
	require.NoError(t, r.TrackJoin("c1", "alpha"))
	_, err := r.BeginJoin("c1", "mid")
	require.NoError(t, err)

	rooms := r.Unregister("c1")
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, rooms)
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, NotJoined, r.State("c1", "alpha"))
}

func TestUserInRoom(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("c1", "alice"))
	require.NoError(t, r.Register("c2", "alice"))
	require.NoError(t, r.Register("c3", "bob"))
	require.NoError(t, r.TrackJoin("c1", "general"))
	require.NoError(t, r.TrackJoin("c2", "general"))

	assert.True(t, r.UserInRoom("alice", "general", "c1"), "second tab is still in the room")
	r.TrackLeave("c2", "general")
	assert.False(t, r.UserInRoom("alice", "general", "c1"))
	assert.False(t, r.UserInRoom("bob", "general", ""))
}

func TestLockUserRoom(t *testing.T) {
	r := New()

	unlock := r.LockUserRoom("alice", "general")

	acquired := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		release := r.LockUserRoom("alice", "general")
		close(acquired)
		release()
	}()

	// other users and rooms are not serialized behind alice in general
	r.LockUserRoom("bob", "general")()
	r.LockUserRoom("alice", "other")()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while the first is held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock not acquired after release")
	}
	<-done

	r.mu.RLock()
	defer r.mu.RUnlock()
	assert.Empty(t, r.locks, "released locks are forgotten")
}

func TestConversations(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("c1", "alice"))

	require.NoError(t, r.TrackConversation("c1", "dm-b"))
	require.NoError(t, r.TrackConversation("c1", "dm-a"))
	require.NoError(t, r.TrackConversation("c1", "dm-a"))
	assert.Equal(t, []string{"dm-a", "dm-b"}, r.ConversationsFor("c1"))

	r.UntrackConversation("c1", "dm-a")
	r.UntrackConversation("c1", "dm-a")
	assert.Equal(t, []string{"dm-b"}, r.ConversationsFor("c1"))
}

func TestConcurrentAccess(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("c1", "alice"))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			room := "room"
			if i%2 == 0 {
				room = "other"
			}
			r.TrackJoin("c1", room)
			r.RoomsFor("c1")
			r.UserInRoom("alice", room, "")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, []string{"other", "room"}, r.RoomsFor("c1"))
}

func TestRoomStateString(t *testing.T) {
	assert.Equal(t, "joined", Joined.String())
	assert.Equal(t, "leaving", Leaving.String())
	assert.Equal(t, "unknown", RoomState(42).String())
}
