package comm

import (
	"context"
	"sync"
)

type inboxKey struct {
	src int
	tag Tag
}

// inbox is the receive side of one rank: an unbounded FIFO per (src, tag)
type inbox struct {
	mu     sync.Mutex
	queues map[inboxKey][][]byte
	signal chan struct{} // closed and replaced on every push or abort
	err    error
}

func newInbox() *inbox {
	return &inbox{
		queues: make(map[inboxKey][][]byte),
		signal: make(chan struct{}),
	}
}

func (b *inbox) push(src int, tag Tag, msg []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return
	}
	k := inboxKey{src, tag}
	b.queues[k] = append(b.queues[k], msg)
	b.wake()
}

func (b *inbox) pop(ctx context.Context, src int, tag Tag) ([]byte, error) {
	k := inboxKey{src, tag}
	for {
		b.mu.Lock()
		if b.err != nil {
			err := b.err
			b.mu.Unlock()
			return nil, err
		}
		if q := b.queues[k]; len(q) > 0 {
			msg := q[0]
			q[0] = nil
			if len(q) == 1 {
				delete(b.queues, k)
			} else {
				b.queues[k] = q[1:]
			}
			b.mu.Unlock()
			return msg, nil
		}
		wait := b.signal
		b.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			// An abort that raced the cancellation is the better answer
			if err := b.failed(); err != nil {
				return nil, err
			}
			return nil, ctx.Err()
		}
	}
}

// abort fails every pending and future pop with err. The first error wins.
func (b *inbox) abort(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return
	}
	b.err = err
	b.queues = nil
	b.wake()
}

func (b *inbox) failed() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// wake must be called with mu held
func (b *inbox) wake() {
	close(b.signal)
	b.signal = make(chan struct{})
}
