package comm

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// DefaultPath is the HTTP path every rank serves its websocket endpoint on
const DefaultPath = "/ddc"

// WebSocketConfig describes one rank of a multi-process job
type WebSocketConfig struct {
	Rank  int      // This process's rank
	Peers []string // host:port of every rank, indexed by rank
	Path  string   // Endpoint path, DefaultPath when empty

	// ConnectTimeout bounds the whole connection setup; 0 means ctx alone
	ConnectTimeout time.Duration
	// RetryInterval is the pause between dial attempts to a peer that is not up yet
	RetryInterval time.Duration

	// Listener is used instead of listening on Peers[Rank] when set
	Listener net.Listener
	// Logger receives connection and abort diagnostics
	Logger *slog.Logger
	// Exit terminates the process on abort, os.Exit when nil
	Exit func(code int)
}

type peerConn struct {
	rank int
	conn *websocket.Conn
	wmu  sync.Mutex // gorilla allows one concurrent writer
}

func (pc *peerConn) write(ctx context.Context, frame []byte) error {
	pc.wmu.Lock()
	defer pc.wmu.Unlock()
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	_ = pc.conn.SetWriteDeadline(deadline)
	return pc.conn.WriteMessage(websocket.BinaryMessage, frame)
}

type wsComm struct {
	rank, size int
	inbox      *inbox
	logger     *slog.Logger
	exit       func(int)

	mu    sync.Mutex
	conns []*peerConn

	server    *http.Server
	closing   atomic.Bool
	abortOnce sync.Once
}

// DialWebSocket joins a multi-process job. Rank r serves ws://Peers[r]/Path,
// dials every lower rank and accepts every higher rank, so each pair of ranks
// shares exactly one connection. It returns once all Size()-1 connections are
// up.
func DialWebSocket(ctx context.Context, cfg WebSocketConfig) (Comm, error) {
	size := len(cfg.Peers)
	if size == 0 {
		return nil, errors.New("comm: no peers configured")
	}
	if cfg.Rank < 0 || cfg.Rank >= size {
		return nil, fmt.Errorf("comm: rank %d out of range [0,%d)", cfg.Rank, size)
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 100 * time.Millisecond
	}
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	c := &wsComm{
		rank:   cfg.Rank,
		size:   size,
		inbox:  newInbox(),
		logger: cfg.Logger,
		exit:   cfg.Exit,
		conns:  make([]*peerConn, size),
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.exit == nil {
		c.exit = os.Exit
	}

	ln := cfg.Listener
	if ln == nil {
		var err error
		if ln, err = net.Listen("tcp", cfg.Peers[cfg.Rank]); err != nil {
			return nil, fmt.Errorf("comm: rank %d: listen on %s: %w", cfg.Rank, cfg.Peers[cfg.Rank], err)
		}
	}

	accepted := make(chan int, size)
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Path, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			c.logger.Warn("websocket upgrade failed", "rank", c.rank, "err", err)
			return
		}
		peer, err := c.readHello(conn)
		if err != nil {
			c.logger.Warn("rejecting peer", "rank", c.rank, "err", err)
			conn.Close()
			return
		}
		if !c.register(peer, conn) {
			c.logger.Warn("duplicate connection", "rank", c.rank, "peer", peer)
			conn.Close()
			return
		}
		accepted <- peer
	})
	c.server = &http.Server{Handler: mux}
	go func() {
		if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("websocket server stopped", "rank", c.rank, "err", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	for peer := 0; peer < cfg.Rank; peer++ {
		url := "ws://" + cfg.Peers[peer] + cfg.Path
		g.Go(func() error {
			return c.dial(gctx, peer, url, cfg.RetryInterval)
		})
	}
	if err := g.Wait(); err != nil {
		c.shutdown()
		return nil, err
	}

	for waiting := size - 1 - cfg.Rank; waiting > 0; waiting-- {
		select {
		case <-accepted:
		case <-ctx.Done():
			c.shutdown()
			return nil, fmt.Errorf("comm: rank %d: waiting for %d higher ranks: %w", cfg.Rank, waiting, ctx.Err())
		}
	}
	c.logger.Debug("websocket job connected", "rank", c.rank, "size", size)
	return c, nil
}

func (c *wsComm) dial(ctx context.Context, peer int, url string, retry time.Duration) error {
	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err == nil {
			hello := frame(tagHello, EncodeInt64s([]int64{int64(c.rank), int64(c.size)}))
			if err = conn.WriteMessage(websocket.BinaryMessage, hello); err != nil {
				conn.Close()
				return fmt.Errorf("comm: rank %d: hello to rank %d: %w", c.rank, peer, err)
			}
			if !c.register(peer, conn) {
				conn.Close()
				return fmt.Errorf("comm: rank %d: already connected to rank %d", c.rank, peer)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("comm: rank %d: dial rank %d at %s: %w (last error: %v)", c.rank, peer, url, ctx.Err(), err)
		case <-time.After(retry):
		}
	}
}

func (c *wsComm) readHello(conn *websocket.Conn) (int, error) {
	typ, msg, err := conn.ReadMessage()
	if err != nil {
		return 0, err
	}
	tag, payload, err := unframe(typ, msg)
	if err != nil {
		return 0, err
	}
	if tag != tagHello {
		return 0, fmt.Errorf("expected hello, got tag %d", tag)
	}
	v, err := DecodeInt64s(payload)
	if err != nil || len(v) != 2 {
		return 0, fmt.Errorf("malformed hello")
	}
	peer, size := int(v[0]), int(v[1])
	if size != c.size {
		return 0, fmt.Errorf("peer %d runs a job of size %d, this job has %d", peer, size, c.size)
	}
	if peer <= c.rank || peer >= c.size {
		return 0, fmt.Errorf("rank %d must not dial rank %d", peer, c.rank)
	}
	return peer, nil
}

func (c *wsComm) register(peer int, conn *websocket.Conn) bool {
	c.mu.Lock()
	if c.conns[peer] != nil {
		c.mu.Unlock()
		return false
	}
	pc := &peerConn{rank: peer, conn: conn}
	c.conns[peer] = pc
	c.mu.Unlock()
	go c.readLoop(pc)
	return true
}

func (c *wsComm) readLoop(pc *peerConn) {
	for {
		typ, msg, err := pc.conn.ReadMessage()
		if err != nil {
			if c.closing.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			c.fail(pc.rank, fmt.Errorf("lost connection to rank %d: %w", pc.rank, err))
			return
		}
		tag, payload, err := unframe(typ, msg)
		if err != nil {
			c.fail(pc.rank, fmt.Errorf("rank %d: %w", pc.rank, err))
			return
		}
		if tag == tagAbort {
			c.fail(pc.rank, errors.New(string(payload)))
			return
		}
		c.inbox.push(pc.rank, tag, payload)
	}
}

func (c *wsComm) Rank() int { return c.rank }

func (c *wsComm) Size() int { return c.size }

func (c *wsComm) Send(ctx context.Context, dst int, tag Tag, payload []byte) error {
	if err := checkPeer(c, dst); err != nil {
		return err
	}
	if err := c.inbox.failed(); err != nil {
		return err
	}
	if dst == c.rank {
		msg := make([]byte, len(payload))
		copy(msg, payload)
		c.inbox.push(c.rank, tag, msg)
		return nil
	}
	c.mu.Lock()
	pc := c.conns[dst]
	c.mu.Unlock()
	if pc == nil {
		return fmt.Errorf("comm: rank %d has no connection to rank %d", c.rank, dst)
	}
	if err := pc.write(ctx, frame(tag, payload)); err != nil {
		return fmt.Errorf("comm: rank %d: send to rank %d: %w", c.rank, dst, err)
	}
	return nil
}

func (c *wsComm) Recv(ctx context.Context, src int, tag Tag) ([]byte, error) {
	if err := checkPeer(c, src); err != nil {
		return nil, err
	}
	return c.inbox.pop(ctx, src, tag)
}

// Abort notifies every peer, then exits the process with status 1
func (c *wsComm) Abort(err error) {
	c.abortOnce.Do(func() {
		c.logger.Error("aborting job", "rank", c.rank, "err", err)
		msg := frame(tagAbort, []byte(err.Error()))
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		for _, pc := range c.peers() {
			_ = pc.write(ctx, msg)
		}
		c.inbox.abort(&AbortError{Rank: c.rank, Cause: err})
		c.shutdown()
		c.exit(1)
	})
}

// fail handles an abort that started elsewhere: a peer's abort frame or a
// broken connection. Peers learn of the original abort directly, so nothing
// is forwarded.
func (c *wsComm) fail(peer int, err error) {
	c.abortOnce.Do(func() {
		c.logger.Error("job aborted", "rank", c.rank, "origin", peer, "err", err)
		c.inbox.abort(&AbortError{Rank: peer, Cause: err})
		c.shutdown()
		c.exit(1)
	})
}

func (c *wsComm) Close() error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}
	for _, pc := range c.peers() {
		pc.wmu.Lock()
		_ = pc.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		pc.wmu.Unlock()
	}
	c.shutdown()
	return nil
}

func (c *wsComm) shutdown() {
	c.closing.Store(true)
	for _, pc := range c.peers() {
		pc.conn.Close()
	}
	if c.server != nil {
		c.server.Close()
	}
}

func (c *wsComm) peers() []*peerConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*peerConn, 0, len(c.conns))
	for _, pc := range c.conns {
		if pc != nil {
			out = append(out, pc)
		}
	}
	return out
}

// frame layout is [tag:uint32 LE][payload]
func frame(tag Tag, payload []byte) []byte {
	buf := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(tag))
	copy(buf[4:], payload)
	return buf
}

func unframe(typ int, msg []byte) (Tag, []byte, error) {
	if typ != websocket.BinaryMessage {
		return 0, nil, fmt.Errorf("unexpected websocket message type %d", typ)
	}
	if len(msg) < 4 {
		return 0, nil, fmt.Errorf("short frame of %d bytes", len(msg))
	}
	return Tag(binary.LittleEndian.Uint32(msg)), msg[4:], nil
}
