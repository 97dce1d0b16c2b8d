package comm

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// World is an in-process job: size ranks exchanging messages through
// mailboxes. It stands in for a multi-process launch in tests, in the local
// transport and in examples.
type World struct {
	size    int
	inboxes []*inbox

	mu    sync.Mutex
	cause *AbortError
}

// NewWorld creates a world of size ranks
func NewWorld(size int) *World {
	if size < 1 {
		panic(fmt.Sprintf("comm: world size must be positive, got %d", size))
	}
	w := &World{size: size, inboxes: make([]*inbox, size)}
	for r := range w.inboxes {
		w.inboxes[r] = newInbox()
	}
	return w
}

// Size returns the number of ranks
func (w *World) Size() int { return w.size }

// Comm returns the handle of rank
func (w *World) Comm(rank int) Comm {
	if rank < 0 || rank >= w.size {
		panic(fmt.Sprintf("comm: rank %d out of range [0,%d)", rank, w.size))
	}
	return &localComm{world: w, rank: rank}
}

// Run executes fn once per rank, each on its own goroutine, and waits for all
// of them. If any rank aborted the job, the abort error is returned in
// preference to the per-rank errors it caused.
func (w *World) Run(ctx context.Context, fn func(ctx context.Context, c Comm) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for r := 0; r < w.size; r++ {
		c := w.Comm(r)
		g.Go(func() error {
			return fn(gctx, c)
		})
	}
	err := g.Wait()
	if cause := w.Err(); cause != nil {
		return cause
	}
	return err
}

// Err returns the abort error, or nil while the world is healthy
func (w *World) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cause == nil {
		return nil
	}
	return w.cause
}

func (w *World) abort(rank int, err error) {
	w.mu.Lock()
	if w.cause != nil {
		w.mu.Unlock()
		return
	}
	w.cause = &AbortError{Rank: rank, Cause: err}
	cause := w.cause
	w.mu.Unlock()

	for _, b := range w.inboxes {
		b.abort(cause)
	}
}

type localComm struct {
	world *World
	rank  int
}

func (c *localComm) Rank() int { return c.rank }

func (c *localComm) Size() int { return c.world.size }

func (c *localComm) Send(ctx context.Context, dst int, tag Tag, payload []byte) error {
	if err := checkPeer(c, dst); err != nil {
		return err
	}
	if err := c.world.Err(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := make([]byte, len(payload))
	copy(msg, payload)
	c.world.inboxes[dst].push(c.rank, tag, msg)
	return nil
}

func (c *localComm) Recv(ctx context.Context, src int, tag Tag) ([]byte, error) {
	if err := checkPeer(c, src); err != nil {
		return nil, err
	}
	return c.world.inboxes[c.rank].pop(ctx, src, tag)
}

func (c *localComm) Abort(err error) {
	c.world.abort(c.rank, err)
}

func (c *localComm) Close() error { return nil }
