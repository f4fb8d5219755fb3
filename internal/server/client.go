package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/geochat/internal/stats"
	"github.com/npezzotti/geochat/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	// frame bytes allowed on top of the escaped message content
	frameOverhead = 16 * 1024
	cleanupTimeout = 10 * time.Second
)

var eventActions = map[string]string{
	EventJoinRoom:          "join room",
	EventLeaveRoom:         "leave room",
	EventSendMessage:       "send message",
	EventEditMessage:       "edit message",
	EventDeleteMessage:     "delete message",
	EventAddReaction:       "add reaction",
	EventRemoveReaction:    "remove reaction",
	EventSendDM:            "send message",
	EventEditDM:            "edit message",
	EventDeleteDM:          "delete message",
	EventJoinConversation:  "join conversation",
	EventLeaveConversation: "leave conversation",
}

type Client struct {
	id         string
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	user       types.User
	send       chan []byte
	events     chan *ClientEvent
	stop       chan struct{}
	stopOnce   sync.Once
}

func NewClient(user types.User, conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	return &Client{
		id:         uuid.NewString(),
		conn:       conn,
		chatServer: cs,
		log:        l,
		user:       user,
		send:       make(chan []byte, 256),
		events:     make(chan *ClientEvent, 64),
		stop:       make(chan struct{}),
	}
}

func (c *Client) Id() string {
	return c.id
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			if !c.sendMessage(websocket.TextMessage, msg) {
				return
			}
		case <-c.stop:
			c.flush()
			c.sendMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

// flush writes whatever is already queued.
func (c *Client) flush() {
	for {
		select {
		case msg := <-c.send:
			if !c.sendMessage(websocket.TextMessage, msg) {
				return
			}
		default:
			return
		}
	}
}

// Read decodes frames from the socket and hands them to the event loop in
// arrival order. The event loop runs the disconnect path once the socket
// closes.
func (c *Client) Read() {
	go c.processEvents()
	defer func() {
		close(c.events)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit(c.chatServer.opts.MaxMessageLength))
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			return
		}

		var evt ClientEvent
		if err := json.Unmarshal(raw, &evt); err != nil || evt.Event == "" {
			c.queueMessage(ErrorMessage(invalid("Invalid message format")))
			continue
		}

		select {
		case c.events <- &evt:
		case <-c.stop:
			return
		}
	}
}

// processEvents handles one event at a time so a connection's requests are
// applied in the order they were sent. Periodic heartbeats run on the same
// loop and therefore never race a join or leave.
func (c *Client) processEvents() {
	ticker := time.NewTicker(c.chatServer.opts.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		c.cleanup()
	}()

	for {
		select {
		case evt, ok := <-c.events:
			if !ok {
				return
			}
			c.handleEvent(evt)
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.chatServer.opts.EventTimeout)
			c.chatServer.heartbeat(ctx, c)
			cancel()
		}
	}
}

func (c *Client) handleEvent(evt *ClientEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), c.chatServer.opts.EventTimeout)
	defer cancel()

	cs := c.chatServer
	var err error

	switch evt.Event {
	case EventJoinRoom:
		var req RoomRequest
		if err = decodeData(evt.Data, &req); err == nil {
			err = cs.joinRoom(ctx, c, req.RoomId)
		}
	case EventLeaveRoom:
		var req LeaveRoomRequest
		if err = decodeData(evt.Data, &req); err == nil {
			err = cs.leaveRoom(ctx, c, req.RoomId, req.Unsubscribe)
		}
	case EventSendMessage:
		var req SendMessageRequest
		if err = decodeData(evt.Data, &req); err == nil {
			err = cs.sendRoomMessage(ctx, c, req)
		}
	case EventEditMessage:
		var req EditMessageRequest
		if err = decodeData(evt.Data, &req); err == nil {
			err = cs.editRoomMessage(ctx, c, req)
		}
	case EventDeleteMessage:
		var req DeleteMessageRequest
		if err = decodeData(evt.Data, &req); err == nil {
			err = cs.deleteRoomMessage(ctx, c, req)
		}
	case EventTyping:
		var req RoomRequest
		if decodeData(evt.Data, &req) == nil {
			cs.typing(ctx, c, req.RoomId)
		}
	case EventAddReaction:
		var req ReactionRequest
		if err = decodeData(evt.Data, &req); err == nil {
			err = cs.react(ctx, c, req, true)
		}
	case EventRemoveReaction:
		var req ReactionRequest
		if err = decodeData(evt.Data, &req); err == nil {
			err = cs.react(ctx, c, req, false)
		}
	case EventSendDM:
		var req SendDMRequest
		if err = decodeData(evt.Data, &req); err == nil {
			err = cs.sendDirectMessage(ctx, c, req)
		}
	case EventEditDM:
		var req EditDMRequest
		if err = decodeData(evt.Data, &req); err == nil {
			err = cs.editDirectMessage(ctx, c, req)
		}
	case EventDeleteDM:
		var req DeleteDMRequest
		if err = decodeData(evt.Data, &req); err == nil {
			err = cs.deleteDirectMessage(ctx, c, req)
		}
	case EventDMTyping:
		var req ConversationRequest
		if decodeData(evt.Data, &req) == nil {
			cs.dmTyping(ctx, c, req.ConversationId)
		}
	case EventJoinConversation:
		var req ConversationRequest
		if err = decodeData(evt.Data, &req); err == nil {
			err = cs.joinConversation(ctx, c, req.ConversationId)
		}
	case EventLeaveConversation:
		var req ConversationRequest
		if err = decodeData(evt.Data, &req); err == nil {
			cs.leaveConversation(c, req.ConversationId)
		}
	case EventHeartbeat:
		cs.heartbeat(ctx, c)
	default:
		err = invalid("Unknown event " + evt.Event)
	}

	if err != nil {
		c.sendError(evt.Event, err)
	}
}

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return invalid("Missing event data")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return invalid("Invalid message format")
	}
	return nil
}

// sendError reports a failed event to this connection only.
func (c *Client) sendError(event string, err error) {
	var ee *EventError
	if errors.As(err, &ee) {
		c.queueMessage(ErrorMessage(ee))
		return
	}

	c.log.Printf("%s failed for user %q: %v", event, c.user.Id, err)
	action, ok := eventActions[event]
	if !ok {
		action = "process event"
	}
	c.queueMessage(ErrInternalError(action))
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	data, err := serializeMessage(msg)
	if err != nil {
		c.log.Println("failed to serialize message:", err)
		return false
	}

	return c.queueBytes(data)
}

func (c *Client) queueBytes(data []byte) bool {
	select {
	case c.send <- data:
	default:
		c.log.Printf("send buffer full for connection %q, dropping message", c.id)
		c.chatServer.stats.Incr(stats.NumDroppedMessages)
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	c.chatServer.disconnect(ctx, c)
	c.stopClient()
}

// readLimit is the largest frame accepted from a client. Content may arrive
// with every UTF-16 unit escaped as \uXXXX, six bytes each.
func readLimit(maxMessageLength int) int64 {
	return int64(maxMessageLength)*6 + frameOverhead
}
