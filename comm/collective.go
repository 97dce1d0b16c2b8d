package comm

import (
	"context"
	"fmt"
	"math"
)

// Barrier returns on every rank once all ranks have entered it
func Barrier(ctx context.Context, c Comm) error {
	if c.Size() == 1 {
		return nil
	}
	if c.Rank() != Root {
		if err := c.Send(ctx, Root, tagBarrier, nil); err != nil {
			return err
		}
		_, err := c.Recv(ctx, Root, tagBarrier)
		return err
	}
	for r := 1; r < c.Size(); r++ {
		if _, err := c.Recv(ctx, r, tagBarrier); err != nil {
			return err
		}
	}
	for r := 1; r < c.Size(); r++ {
		if err := c.Send(ctx, r, tagBarrier, nil); err != nil {
			return err
		}
	}
	return nil
}

// Bcast distributes root's payload to every rank. Non-root ranks pass nil.
func Bcast(ctx context.Context, c Comm, root int, payload []byte) ([]byte, error) {
	if err := checkPeer(c, root); err != nil {
		return nil, err
	}
	if c.Rank() != root {
		return c.Recv(ctx, root, tagBcast)
	}
	for r := 0; r < c.Size(); r++ {
		if r == root {
			continue
		}
		if err := c.Send(ctx, r, tagBcast, payload); err != nil {
			return nil, err
		}
	}
	return payload, nil
}

// Gather collects one payload per rank on root, indexed by rank. Other ranks
// get nil.
func Gather(ctx context.Context, c Comm, root int, payload []byte) ([][]byte, error) {
	if err := checkPeer(c, root); err != nil {
		return nil, err
	}
	if c.Rank() != root {
		return nil, c.Send(ctx, root, tagGather, payload)
	}
	out := make([][]byte, c.Size())
	out[root] = payload
	for r := 0; r < c.Size(); r++ {
		if r == root {
			continue
		}
		msg, err := c.Recv(ctx, r, tagGather)
		if err != nil {
			return nil, err
		}
		out[r] = msg
	}
	return out, nil
}

// Sendrecv sends payload to peer and returns the message peer sent back on
// the same tag. Both sides must call it, naming each other.
func Sendrecv(ctx context.Context, c Comm, peer int, tag Tag, payload []byte) ([]byte, error) {
	if err := c.Send(ctx, peer, tag, payload); err != nil {
		return nil, err
	}
	return c.Recv(ctx, peer, tag)
}

// AllToAll sends send[r] to rank r and returns recv[r], the message rank r
// sent here. len(send) must equal Size().
func AllToAll(ctx context.Context, c Comm, send [][]byte) ([][]byte, error) {
	if len(send) != c.Size() {
		return nil, fmt.Errorf("comm: AllToAll needs %d buffers, got %d", c.Size(), len(send))
	}
	for r := 0; r < c.Size(); r++ {
		if r == c.Rank() {
			continue
		}
		if err := c.Send(ctx, r, tagAllToAll, send[r]); err != nil {
			return nil, err
		}
	}
	recv := make([][]byte, c.Size())
	recv[c.Rank()] = send[c.Rank()]
	for r := 0; r < c.Size(); r++ {
		if r == c.Rank() {
			continue
		}
		msg, err := c.Recv(ctx, r, tagAllToAll)
		if err != nil {
			return nil, err
		}
		recv[r] = msg
	}
	return recv, nil
}

// AllReduceFloat64 combines vals elementwise across ranks. The reduction runs
// on Root in rank order and the result is broadcast, so every rank receives
// bit-identical values.
func AllReduceFloat64(ctx context.Context, c Comm, op Op, vals []float64) ([]float64, error) {
	if op == OpBOR {
		return nil, fmt.Errorf("comm: %v is not defined for float64", op)
	}
	parts, err := Gather(ctx, c, Root, EncodeFloat64s(vals))
	if err != nil {
		return nil, err
	}
	var payload []byte
	if c.Rank() == Root {
		acc := make([]float64, len(vals))
		copy(acc, vals)
		for r := 1; r < len(parts); r++ {
			v, err := DecodeFloat64s(parts[r])
			if err != nil {
				return nil, err
			}
			if len(v) != len(acc) {
				return nil, fmt.Errorf("comm: rank %d reduced %d values, root has %d", r, len(v), len(acc))
			}
			for i := range acc {
				acc[i] = reduceFloat64(op, acc[i], v[i])
			}
		}
		payload = EncodeFloat64s(acc)
	}
	if payload, err = Bcast(ctx, c, Root, payload); err != nil {
		return nil, err
	}
	return DecodeFloat64s(payload)
}

// AllReduceInt64 is AllReduceFloat64 for integers
func AllReduceInt64(ctx context.Context, c Comm, op Op, vals []int64) ([]int64, error) {
	parts, err := Gather(ctx, c, Root, EncodeInt64s(vals))
	if err != nil {
		return nil, err
	}
	var payload []byte
	if c.Rank() == Root {
		acc := make([]int64, len(vals))
		copy(acc, vals)
		for r := 1; r < len(parts); r++ {
			v, err := DecodeInt64s(parts[r])
			if err != nil {
				return nil, err
			}
			if len(v) != len(acc) {
				return nil, fmt.Errorf("comm: rank %d reduced %d values, root has %d", r, len(v), len(acc))
			}
			for i := range acc {
				acc[i] = reduceInt64(op, acc[i], v[i])
			}
		}
		payload = EncodeInt64s(acc)
	}
	if payload, err = Bcast(ctx, c, Root, payload); err != nil {
		return nil, err
	}
	return DecodeInt64s(payload)
}

// AllGatherInt64 returns every rank's vals, indexed by rank, on every rank
func AllGatherInt64(ctx context.Context, c Comm, vals []int64) ([][]int64, error) {
	parts, err := Gather(ctx, c, Root, EncodeInt64s(vals))
	if err != nil {
		return nil, err
	}
	// Root flattens as [count, values...] per rank
	var payload []byte
	if c.Rank() == Root {
		var flat []int64
		for r, p := range parts {
			v, err := DecodeInt64s(p)
			if err != nil {
				return nil, fmt.Errorf("comm: rank %d: %w", r, err)
			}
			flat = append(flat, int64(len(v)))
			flat = append(flat, v...)
		}
		payload = EncodeInt64s(flat)
	}
	if payload, err = Bcast(ctx, c, Root, payload); err != nil {
		return nil, err
	}
	flat, err := DecodeInt64s(payload)
	if err != nil {
		return nil, err
	}
	out := make([][]int64, c.Size())
	for r := range out {
		if len(flat) == 0 || flat[0] < 0 || int(flat[0]) > len(flat)-1 {
			return nil, fmt.Errorf("comm: malformed all-gather payload at rank %d", r)
		}
		n := int(flat[0])
		out[r] = flat[1 : 1+n]
		flat = flat[1+n:]
	}
	return out, nil
}

func reduceFloat64(op Op, a, b float64) float64 {
	switch op {
	case OpMax:
		return math.Max(a, b)
	case OpMin:
		return math.Min(a, b)
	default:
		return a + b
	}
}

func reduceInt64(op Op, a, b int64) int64 {
	switch op {
	case OpMax:
		return max(a, b)
	case OpMin:
		return min(a, b)
	case OpBOR:
		return a | b
	default:
		return a + b
	}
}
