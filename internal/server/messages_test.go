package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessage(t *testing.T) {
	data, err := serializeMessage(ErrorMessage(forbidden("You are banned from this room")))
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"event":"error","data":{"message":"You are banned from this room","code":403,"type":"forbidden"}}`,
		string(data), "error frame")

	data, err = serializeMessage(ErrInternalError("send message"))
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"event":"error","data":{"message":"Failed to send message","code":500}}`,
		string(data), "internal error frame")
}

func TestEventErrorIs(t *testing.T) {
	err := fmt.Errorf("join: %w", forbidden("Room is full"))

	assert.True(t, errors.Is(err, ErrForbidden), "matches by kind")
	assert.False(t, errors.Is(err, ErrRoomNotFound), "different kind")

	var ee *EventError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "Room is full", ee.Message, "message kept")
}

func TestEventErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &EventError{Code: 500, Message: "Failed", Err: cause}

	assert.Equal(t, "Failed: boom", err.Error(), "error string")
	assert.True(t, errors.Is(err, cause), "unwraps to cause")
}

func TestClientEventDecoding(t *testing.T) {
	var evt ClientEvent
	raw := `{"event":"send_message","data":{"roomId":"general","content":"hi"}}`
	require.NoError(t, json.Unmarshal([]byte(raw), &evt))
	assert.Equal(t, EventSendMessage, evt.Event, "event name")

	var req SendMessageRequest
	require.NoError(t, decodeData(evt.Data, &req))
	assert.Equal(t, SendMessageRequest{RoomId: "general", Content: "hi"}, req, "request")
}

func TestNow(t *testing.T) {
	now := Now()
	assert.Equal(t, time.UTC, now.Location(), "utc")
	assert.Zero(t, now.Nanosecond()%int(time.Millisecond), "millisecond precision")
}
