package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/geochat/internal/bus"
	"github.com/npezzotti/geochat/internal/database"
	"github.com/npezzotti/geochat/internal/registry"
	"github.com/npezzotti/geochat/internal/stats"
)

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultMaxMessageLength  = 2000
	defaultEventTimeout      = 10 * time.Second
)

// PresenceTracker is the shared "who is online in which room" store.
type PresenceTracker interface {
	SetOnline(ctx context.Context, roomId, userId string) error
	SetOffline(ctx context.Context, roomId, userId string) error
	Heartbeat(ctx context.Context, roomId, userId string) error
	OnlineUsers(ctx context.Context, roomId string) ([]string, error)
}

type Options struct {
	HeartbeatInterval time.Duration
	MaxMessageLength  int
	EventTimeout      time.Duration
}

func (o *Options) setDefaults() {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = defaultHeartbeatInterval
	}
	if o.MaxMessageLength <= 0 {
		o.MaxMessageLength = defaultMaxMessageLength
	}
	if o.EventTimeout <= 0 {
		o.EventTimeout = defaultEventTimeout
	}
}

type stopReq struct {
	done chan struct{}
}

type ChatServer struct {
	log        *log.Logger
	db         database.GoChatRepository
	presence   PresenceTracker
	bus        bus.Bus
	registry   *registry.Registry
	stats      stats.StatsProvider
	opts       Options
	instanceId string

	// groups maps a topic to the local connections subscribed to it
	groups     map[string]map[*Client]struct{}
	groupsLock sync.RWMutex

	clients     map[string]*Client
	clientsLock sync.RWMutex
	clientsWg   sync.WaitGroup

	envelopes <-chan *bus.Envelope
	cancel    context.CancelFunc
	stop      chan stopReq
}

// NewChatServer subscribes to the bus before returning so that no event
// published after construction is missed.
func NewChatServer(logger *log.Logger, db database.GoChatRepository, presence PresenceTracker,
	b bus.Bus, su stats.StatsProvider, opts Options) (*ChatServer, error) {
	opts.setDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	envelopes, err := b.Subscribe(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe to bus: %w", err)
	}

	su.RegisterMetric(stats.NumActiveClients)
	su.RegisterMetric(stats.NumActiveGroups)
	su.RegisterMetric(stats.NumMessagesSent)
	su.RegisterMetric(stats.NumDirectMessagesSent)
	su.RegisterMetric(stats.NumDroppedMessages)

	return &ChatServer{
		log:        logger,
		db:         db,
		presence:   presence,
		bus:        b,
		registry:   registry.New(),
		stats:      su,
		opts:       opts,
		instanceId: uuid.NewString(),
		groups:     make(map[string]map[*Client]struct{}),
		clients:    make(map[string]*Client),
		envelopes:  envelopes,
		cancel:     cancel,
		stop:       make(chan stopReq),
	}, nil
}

// Run delivers envelopes from the bus to local connections until Shutdown
// is called.
func (cs *ChatServer) Run() {
	envelopes := cs.envelopes
	for {
		select {
		case env, ok := <-envelopes:
			if !ok {
				cs.log.Println("bus subscription closed")
				envelopes = nil
				continue
			}
			cs.deliver(env)
		case req := <-cs.stop:
			cs.log.Printf("stopping %d clients", cs.registry.Len())
			cs.clientsLock.RLock()
			for _, c := range cs.clients {
				c.stopClient()
			}
			cs.clientsLock.RUnlock()

			cs.cancel()
			close(req.done)
			return
		}
	}
}

// deliver writes the payload once to every local connection subscribed to
// any of the envelope's topics.
func (cs *ChatServer) deliver(env *bus.Envelope) {
	seen := make(map[*Client]struct{})

	cs.groupsLock.RLock()
	defer cs.groupsLock.RUnlock()

	for _, topic := range env.Topics {
		for c := range cs.groups[topic] {
			if c.id == env.SkipConn {
				continue
			}
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			c.queueBytes(env.Payload)
		}
	}
}

func (cs *ChatServer) publish(ctx context.Context, msg *ServerMessage, skip *Client, topics ...string) error {
	payload, err := serializeMessage(msg)
	if err != nil {
		return fmt.Errorf("serialize %s: %w", msg.Event, err)
	}

	env := &bus.Envelope{
		Origin:  cs.instanceId,
		Topics:  topics,
		Payload: payload,
	}
	if skip != nil {
		env.SkipConn = skip.id
	}

	if err := cs.bus.Publish(ctx, env); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Event, err)
	}

	return nil
}

func (cs *ChatServer) addToGroup(topic string, c *Client) {
	cs.groupsLock.Lock()
	defer cs.groupsLock.Unlock()

	members, ok := cs.groups[topic]
	if !ok {
		members = make(map[*Client]struct{})
		cs.groups[topic] = members
		cs.stats.Incr(stats.NumActiveGroups)
	}
	members[c] = struct{}{}
}

func (cs *ChatServer) removeFromGroup(topic string, c *Client) {
	cs.groupsLock.Lock()
	defer cs.groupsLock.Unlock()

	members, ok := cs.groups[topic]
	if !ok {
		return
	}

	delete(members, c)
	if len(members) == 0 {
		delete(cs.groups, topic)
		cs.stats.Decr(stats.NumActiveGroups)
	}
}

func (cs *ChatServer) inGroup(topic string, c *Client) bool {
	cs.groupsLock.RLock()
	defer cs.groupsLock.RUnlock()

	_, ok := cs.groups[topic][c]
	return ok
}

// RegisterClient binds an authenticated connection to its user. It must be
// called before the client's pumps are started.
func (cs *ChatServer) RegisterClient(c *Client) error {
	if err := cs.registry.Register(c.id, c.user.Id); err != nil {
		return fmt.Errorf("register %q: %w", c.id, err)
	}

	cs.clientsLock.Lock()
	cs.clients[c.id] = c
	cs.clientsWg.Add(1)
	cs.clientsLock.Unlock()

	cs.addToGroup(bus.UserTopic(c.user.Id), c)
	cs.stats.Incr(stats.NumActiveClients)
	cs.log.Printf("adding connection %q for user %q", c.id, c.user.Username)

	return nil
}

// disconnect runs leave for every room the connection joined and forgets
// the connection.
func (cs *ChatServer) disconnect(ctx context.Context, c *Client) {
	for _, roomId := range cs.registry.RoomsFor(c.id) {
		if err := cs.leaveRoom(ctx, c, roomId, false); err != nil {
			cs.log.Printf("leave room %q on disconnect: %v", roomId, err)
		}
	}

	for _, convId := range cs.registry.ConversationsFor(c.id) {
		cs.removeFromGroup(bus.ConversationTopic(convId), c)
	}
	cs.removeFromGroup(bus.UserTopic(c.user.Id), c)
	cs.registry.Unregister(c.id)

	cs.clientsLock.Lock()
	if _, ok := cs.clients[c.id]; ok {
		delete(cs.clients, c.id)
		cs.stats.Decr(stats.NumActiveClients)
		cs.clientsWg.Done()
	}
	cs.clientsLock.Unlock()

	cs.log.Printf("removed connection %q for user %q", c.id, c.user.Username)
}

// Shutdown stops every client and waits until each has finished its
// disconnect path, or ctx expires.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("shutting down chat server")

	req := stopReq{done: make(chan struct{})}
	select {
	case cs.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	drained := make(chan struct{})
	go func() {
		cs.clientsWg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("clients did not drain"), ctx.Err())
	}
}
