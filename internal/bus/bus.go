// Package bus relays chat events between server instances. The bus knows
// nothing about group membership; it only carries opaque payloads addressed
// to topics such as "room:<id>" or "user:<id>".
package bus

import (
	"context"
	"encoding/json"
	"errors"
)

var ErrClosed = errors.New("bus closed")

// Envelope is one event addressed to one or more topics. A connection that is
// a member of several of the topics receives the payload once. SkipConn names
// a connection that must not receive it.
type Envelope struct {
	Origin   string          `json:"origin"`
	Topics   []string        `json:"topics"`
	SkipConn string          `json:"skipConn,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

type Bus interface {
	Publish(ctx context.Context, env *Envelope) error
	// Subscribe returns a channel receiving every envelope published by any
	// instance, including this one. The channel is closed once ctx is done or
	// the bus is closed.
	Subscribe(ctx context.Context) (<-chan *Envelope, error)
	Close() error
}

func RoomTopic(roomId string) string {
	return "room:" + roomId
}

func UserTopic(userId string) string {
	return "user:" + userId
}

func ConversationTopic(conversationId string) string {
	return "dm:" + conversationId
}

func encode(env *Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
