package bus

import (
	"context"
	"sync"
)

const localBufferSize = 256

// LocalBus delivers envelopes to subscribers in the same process. It is used
// when a single instance runs without a broker, and in tests.
type LocalBus struct {
	mu     sync.Mutex
	subs    map[chan *Envelope]struct{}
	closed  bool
	dropped int
}

func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[chan *Envelope]struct{})}
}

func (b *LocalBus) Publish(ctx context.Context, env *Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// never blocks: a subscriber with a full buffer misses the envelope
	for ch := range b.subs {
		select {
		case ch <- env:
		default:
			b.dropped++
		}
	}

	return nil
}

func (b *LocalBus) Subscribe(ctx context.Context) (<-chan *Envelope, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	ch := make(chan *Envelope, localBufferSize)
	b.subs[ch] = struct{}{}

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
	}()

	return ch, nil
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}

	return nil
}
