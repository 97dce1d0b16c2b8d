package comm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorldPointToPointFIFO(t *testing.T) {
	w := NewWorld(2)
	err := w.Run(context.Background(), func(ctx context.Context, c Comm) error {
		if c.Rank() == 0 {
			for i := 0; i < 5; i++ {
				if err := c.Send(ctx, 1, TagUser, []byte{byte(i)}); err != nil {
					return err
				}
			}
			// A different tag must not overtake or block the first stream
			return c.Send(ctx, 1, TagUser+1, []byte("other"))
		}
		other, err := c.Recv(ctx, 0, TagUser+1)
		if err != nil {
			return err
		}
		if string(other) != "other" {
			return fmt.Errorf("got %q on second tag", other)
		}
		for i := 0; i < 5; i++ {
			msg, err := c.Recv(ctx, 0, TagUser)
			if err != nil {
				return err
			}
			if len(msg) != 1 || msg[0] != byte(i) {
				return fmt.Errorf("message %d arrived as %v", i, msg)
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestWorldSendCopiesPayload(t *testing.T) {
	w := NewWorld(1)
	c := w.Comm(0)
	ctx := context.Background()
	buf := []byte{1, 2, 3}
	require.NoError(t, c.Send(ctx, 0, TagUser, buf))
	buf[0] = 9
	msg, err := c.Recv(ctx, 0, TagUser)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, msg)
}

func TestWorldRejectsBadPeer(t *testing.T) {
	c := NewWorld(2).Comm(1)
	ctx := context.Background()
	assert.Error(t, c.Send(ctx, 2, TagUser, nil))
	_, err := c.Recv(ctx, -1, TagUser)
	assert.Error(t, err)
	assert.Panics(t, func() { NewWorld(0) })
	assert.Panics(t, func() { NewWorld(2).Comm(5) })
}

func TestWorldRecvHonorsContext(t *testing.T) {
	c := NewWorld(2).Comm(0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Recv(ctx, 1, TagUser)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWorldAbortWakesBlockedRanks(t *testing.T) {
	const size = 4
	w := NewWorld(size)
	cause := errors.New("bad partition file")
	var mu sync.Mutex
	woken := 0

	err := w.Run(context.Background(), func(ctx context.Context, c Comm) error {
		if c.Rank() == 2 {
			c.Abort(cause)
			return cause
		}
		// Everyone else waits for a message that never comes
		_, err := c.Recv(ctx, 2, TagUser)
		if errors.Is(err, ErrAborted) {
			mu.Lock()
			woken++
			mu.Unlock()
		}
		return err
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAborted)
	assert.ErrorIs(t, err, cause)
	var ae *AbortError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, 2, ae.Rank)
	assert.Equal(t, size-1, woken)

	// Later sends fail too
	assert.ErrorIs(t, w.Comm(0).Send(context.Background(), 1, TagUser, nil), ErrAborted)
}

func TestWorldFirstAbortWins(t *testing.T) {
	w := NewWorld(2)
	w.Comm(1).Abort(errors.New("first"))
	w.Comm(0).Abort(errors.New("second"))
	var ae *AbortError
	require.True(t, errors.As(w.Err(), &ae))
	assert.Equal(t, 1, ae.Rank)
	assert.EqualError(t, ae.Cause, "first")
}

func TestCodecRoundTrip(t *testing.T) {
	f := []float64{0, -1.5, 3e300}
	got, err := DecodeFloat64s(EncodeFloat64s(f))
	require.NoError(t, err)
	assert.Equal(t, f, got)

	i := []int64{0, -7, 1 << 40}
	gi, err := DecodeInt64s(EncodeInt64s(i))
	require.NoError(t, err)
	assert.Equal(t, i, gi)

	_, err = DecodeFloat64s(make([]byte, 9))
	assert.Error(t, err)
	_, err = DecodeInt64s(make([]byte, 3))
	assert.Error(t, err)
}

func TestNewLoggerSilencesNonRoot(t *testing.T) {
	w := NewWorld(2)
	var root, other, loud bytes.Buffer

	NewLogger(&root, w.Comm(0), slog.LevelInfo, false).Info("loading")
	NewLogger(&other, w.Comm(1), slog.LevelInfo, false).Info("loading")
	NewLogger(&loud, w.Comm(1), slog.LevelInfo, true).Info("loading")

	assert.Contains(t, root.String(), "rank=0")
	assert.Contains(t, root.String(), "msg=loading")
	assert.Empty(t, other.String())
	assert.Contains(t, loud.String(), "rank=1")

	other.Reset()
	NewLogger(&other, w.Comm(1), slog.LevelInfo, false).Error("boom")
	assert.Contains(t, other.String(), "boom")
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":      slog.LevelInfo,
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestPrintf(t *testing.T) {
	var buf bytes.Buffer
	saved := Stdout
	Stdout = &buf
	defer func() { Stdout = saved }()

	w := NewWorld(2)
	Printf(w.Comm(1), "hidden %d\n", 1)
	Println(w.Comm(1), "hidden")
	Printf(w.Comm(0), "shown %d\n", 0)
	Println(w.Comm(0), "line")
	AllPrintf(w.Comm(1), "from %s\n", "one")

	assert.Equal(t, "shown 0\nline\nP1: from one\n", buf.String())
}

func TestLoggerContext(t *testing.T) {
	l := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	assert.Same(t, l, Logger(WithLogger(context.Background(), l)))
	assert.Same(t, slog.Default(), Logger(context.Background()))
}
