package bus

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

const DefaultRedisChannel = "geochat:fanout"

// RedisBus fans envelopes out over a single Redis Pub/Sub channel shared by
// every instance.
type RedisBus struct {
	rdb     redis.UniversalClient
	channel string
	log     *log.Logger

	mu     sync.Mutex
	subs   []*redis.PubSub
	closed bool
}

func NewRedisBus(rdb redis.UniversalClient, channel string, logger *log.Logger) *RedisBus {
	if channel == "" {
		channel = DefaultRedisChannel
	}

	return &RedisBus{
		rdb:     rdb,
		channel: channel,
		log:     logger,
	}
}

func (b *RedisBus) Publish(ctx context.Context, env *Envelope) error {
	data, err := encode(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	if err := b.rdb.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context) (<-chan *Envelope, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	pubsub := b.rdb.Subscribe(ctx, b.channel)
	b.subs = append(b.subs, pubsub)
	b.mu.Unlock()

	// wait for the subscription confirmation so nothing published after
	// Subscribe returns is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %q: %w", b.channel, err)
	}

	out := make(chan *Envelope, localBufferSize)
	msgs := pubsub.Channel()

	go func() {
		defer close(out)
		defer pubsub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}

				env, err := decode([]byte(msg.Payload))
				if err != nil {
					b.log.Printf("dropping malformed envelope: %v", err)
					continue
				}

				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	var firstErr error
	for _, ps := range b.subs {
		if err := ps.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.subs = nil

	return firstErr
}
