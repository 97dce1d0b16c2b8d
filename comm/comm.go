// Package comm provides the process communicator that every distributed
// object in this module is built on. A Comm is an explicit value carrying the
// rank and the process count, so nothing here relies on process-wide state.
//
// Point-to-point messages are FIFO per (source, tag). Sends are buffered and
// never wait for the receiver; Recv blocks until a matching message arrives,
// the job is aborted, or ctx is done. Collectives are package functions built
// on Send/Recv. Every rank must call them in the same relative order; a rank
// that skips or reorders a collective leaves its peers blocked.
package comm

import (
	"context"
	"errors"
	"fmt"
)

// Root is the rank that computes reductions and owns gathered data
const Root = 0

// Tag distinguishes independent message streams between the same two ranks
type Tag uint32

const (
	tagHello Tag = iota + 1
	tagAbort
	tagBarrier
	tagBcast
	tagGather
	tagAllToAll
)

// TagUser is the first tag available to callers of Send/Recv
const TagUser Tag = 1 << 16

// Op is a reduction operation for AllReduce
type Op int

const (
	OpSum Op = iota
	OpMax
	OpMin
	OpBOR // bitwise OR, integer reductions only
)

func (op Op) String() string {
	switch op {
	case OpSum:
		return "sum"
	case OpMax:
		return "max"
	case OpMin:
		return "min"
	case OpBOR:
		return "bor"
	}
	return fmt.Sprintf("Op(%d)", int(op))
}

// Comm is one rank's handle on the job
type Comm interface {
	// Rank returns this process's rank in [0, Size())
	Rank() int
	// Size returns the number of processes in the job
	Size() int
	// Send queues payload for dst. The payload is copied or written out before
	// Send returns, so the caller may reuse it.
	Send(ctx context.Context, dst int, tag Tag, payload []byte) error
	// Recv blocks until the next message from src with tag arrives
	Recv(ctx context.Context, src int, tag Tag) ([]byte, error)
	// Abort tears down the whole job because err makes continuing impossible.
	// Process transports log err, notify every peer and exit with a non-zero
	// status, so Abort does not return. The in-process World wakes every
	// blocked rank with an *AbortError and returns so the caller can unwind.
	Abort(err error)
	// Close releases the transport. Ranks should pass a Barrier first so no
	// peer is still waiting on a message from this rank.
	Close() error
}

// ErrAborted matches any *AbortError
var ErrAborted = errors.New("comm: job aborted")

// AbortError is returned by blocked operations once the job is aborted
type AbortError struct {
	Rank  int   // Rank that initiated the abort
	Cause error // Reason it gave
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("comm: job aborted by rank %d: %v", e.Rank, e.Cause)
}

func (e *AbortError) Unwrap() error { return e.Cause }

func (e *AbortError) Is(target error) bool { return target == ErrAborted }

func checkPeer(c Comm, peer int) error {
	if peer < 0 || peer >= c.Size() {
		return fmt.Errorf("comm: rank %d out of range [0,%d)", peer, c.Size())
	}
	return nil
}
