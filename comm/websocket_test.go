package comm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type exitRecorder struct {
	mu    sync.Mutex
	codes map[int]int
	done  chan int
}

func newExitRecorder() *exitRecorder {
	return &exitRecorder{codes: make(map[int]int), done: make(chan int, 16)}
}

func (e *exitRecorder) hook(rank int) func(int) {
	return func(code int) {
		e.mu.Lock()
		e.codes[rank] = code
		e.mu.Unlock()
		e.done <- rank
	}
}

// dialJob connects size websocket ranks over loopback listeners
func dialJob(t *testing.T, size int, exits *exitRecorder) []Comm {
	t.Helper()
	listeners := make([]net.Listener, size)
	peers := make([]string, size)
	for r := range listeners {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		listeners[r] = ln
		peers[r] = ln.Addr().String()
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	comms := make([]Comm, size)
	g, ctx := errgroup.WithContext(context.Background())
	for r := 0; r < size; r++ {
		g.Go(func() error {
			c, err := DialWebSocket(ctx, WebSocketConfig{
				Rank:           r,
				Peers:          peers,
				ConnectTimeout: 10 * time.Second,
				RetryInterval:  10 * time.Millisecond,
				Listener:       listeners[r],
				Logger:         logger,
				Exit:           exits.hook(r),
			})
			comms[r] = c
			return err
		})
	}
	require.NoError(t, g.Wait())
	return comms
}

// runComms runs fn concurrently on every comm, like World.Run
func runComms(comms []Comm, fn func(ctx context.Context, c Comm) error) error {
	var g errgroup.Group
	for _, c := range comms {
		g.Go(func() error { return fn(context.Background(), c) })
	}
	return g.Wait()
}

func TestWebSocketCollectives(t *testing.T) {
	const size = 3
	exits := newExitRecorder()
	comms := dialJob(t, size, exits)

	err := runComms(comms, func(ctx context.Context, c Comm) error {
		if err := Barrier(ctx, c); err != nil {
			return err
		}
		sum, err := AllReduceFloat64(ctx, c, OpSum, []float64{float64(c.Rank() + 1)})
		if err != nil {
			return err
		}
		if sum[0] != 6 {
			return fmt.Errorf("rank %d: sum %v", c.Rank(), sum)
		}
		send := make([][]byte, size)
		for r := range send {
			send[r] = []byte{byte(c.Rank()), byte(r)}
		}
		recv, err := AllToAll(ctx, c, send)
		if err != nil {
			return err
		}
		for r, msg := range recv {
			if len(msg) != 2 || int(msg[0]) != r || int(msg[1]) != c.Rank() {
				return fmt.Errorf("rank %d: from %d got %v", c.Rank(), r, msg)
			}
		}
		return Barrier(ctx, c)
	})
	require.NoError(t, err)

	for _, c := range comms {
		assert.NoError(t, c.Close())
	}
	// Orderly shutdown is not an abort
	time.Sleep(50 * time.Millisecond)
	exits.mu.Lock()
	assert.Empty(t, exits.codes)
	exits.mu.Unlock()
}

func TestWebSocketAbortReachesEveryRank(t *testing.T) {
	const size = 3
	exits := newExitRecorder()
	comms := dialJob(t, size, exits)

	err := runComms(comms, func(ctx context.Context, c Comm) error {
		if c.Rank() == 1 {
			c.Abort(errors.New("corrupt node file"))
			return nil
		}
		_, err := c.Recv(ctx, 1, TagUser)
		if !errors.Is(err, ErrAborted) {
			return fmt.Errorf("rank %d: expected abort, got %v", c.Rank(), err)
		}
		return nil
	})
	require.NoError(t, err)

	for i := 0; i < size; i++ {
		select {
		case <-exits.done:
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d of %d ranks exited", i, size)
		}
	}
	exits.mu.Lock()
	defer exits.mu.Unlock()
	for r := 0; r < size; r++ {
		assert.Equal(t, 1, exits.codes[r], "rank %d exit status", r)
	}
}

func TestDialWebSocketValidation(t *testing.T) {
	ctx := context.Background()
	_, err := DialWebSocket(ctx, WebSocketConfig{})
	assert.Error(t, err)
	_, err = DialWebSocket(ctx, WebSocketConfig{Rank: 2, Peers: []string{"a:1", "b:2"}})
	assert.Error(t, err)
}

func TestDialWebSocketTimesOut(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	// Rank 1 dials rank 0, which is never started
	dead, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadAddr := dead.Addr().String()
	require.NoError(t, dead.Close())

	_, err = DialWebSocket(context.Background(), WebSocketConfig{
		Rank:           1,
		Peers:          []string{deadAddr, ln.Addr().String()},
		ConnectTimeout: 200 * time.Millisecond,
		RetryInterval:  20 * time.Millisecond,
		Listener:       ln,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
