package bus

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

const DefaultNatsSubject = "geochat.fanout"

// NatsBus fans envelopes out over a plain NATS subject. Every instance uses a
// regular (non-queue) subscription so each receives every envelope.
type NatsBus struct {
	nc      *nats.Conn
	subject string
	log     *log.Logger

	mu     sync.Mutex
	subs   []*nats.Subscription
	closed bool
	done   chan struct{}
}

func ConnectNats(url, name string, logger *log.Logger) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Printf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Printf("nats reconnected to %s", nc.ConnectedUrl())
		}),
	)
}

func NewNatsBus(nc *nats.Conn, subject string, logger *log.Logger) *NatsBus {
	if subject == "" {
		subject = DefaultNatsSubject
	}

	return &NatsBus{
		nc:      nc,
		subject: subject,
		log:     logger,
		done:    make(chan struct{}),
	}
}

func (b *NatsBus) Publish(ctx context.Context, env *Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := encode(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	if err := b.nc.Publish(b.subject, data); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	return nil
}

func (b *NatsBus) Subscribe(ctx context.Context) (<-chan *Envelope, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	msgs := make(chan *nats.Msg, localBufferSize)
	sub, err := b.nc.ChanSubscribe(b.subject, msgs)
	if err != nil {
		return nil, fmt.Errorf("subscribe %q: %w", b.subject, err)
	}
	// make sure the server registered the interest before returning
	if err := b.nc.Flush(); err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("flush: %w", err)
	}
	b.subs = append(b.subs, sub)

	out := make(chan *Envelope, localBufferSize)

	go func() {
		defer close(out)
		defer sub.Unsubscribe()

		for {
			select {
			case <-ctx.Done():
				return
			case <-b.done:
				return
			case msg := <-msgs:
				env, err := decode(msg.Data)
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

// Close drops every subscription and drains the connection.
func (b *NatsBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	close(b.done)

	for _, sub := range b.subs {
		sub.Unsubscribe()
	}
	b.subs = nil

	return b.nc.Drain()
}
