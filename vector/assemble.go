package vector

import (
	"context"
	"fmt"

	"github.com/notargets/ddcmesh/comm"
)

// tagEntries carries the ownership pieces exchanged by GlobalEntries
const tagEntries = comm.TagUser + 0x100

// Set stages v[i] = x
func (v *Vector) Set(i int, x float64) error {
	return v.SetValues([]int{i}, []float64{x}, InsertValues)
}

// Add stages v[i] += x
func (v *Vector) Add(i int, x float64) error {
	return v.SetValues([]int{i}, []float64{x}, AddValues)
}

// SetValues stages writes to global indices, owned here or not. They take
// effect at the next Assemble. Mixing modes before that is an error.
func (v *Vector) SetValues(idx []int, vals []float64, mode InsertMode) error {
	if len(idx) != len(vals) {
		return fmt.Errorf("vector %s: %d indices but %d values", v.name, len(idx), len(vals))
	}
	if mode != InsertValues && mode != AddValues {
		return fmt.Errorf("vector %s: invalid insert mode %v", v.name, mode)
	}
	if v.mode != NotSet && v.mode != mode {
		return fmt.Errorf("vector %s: %v after %v: %w", v.name, mode, v.mode, ErrMixedMode)
	}
	for _, i := range idx {
		if i < 0 || i >= v.size {
			return fmt.Errorf("vector %s: index %d of %d: %w", v.name, i, v.size, ErrOutOfRange)
		}
	}
	v.mode = mode
	for k, i := range idx {
		v.stage = append(v.stage, staged{index: i, value: vals[k]})
	}
	return nil
}

// modeBit is the bit a rank contributes to the assembly mode vote
func modeBit(m InsertMode) int64 {
	switch m {
	case InsertValues:
		return 1
	case AddValues:
		return 2
	}
	return 0
}

// Assemble commits every rank's staged writes. It is collective. Writes are
// routed to their owners and applied in order of source rank, then staging
// order, so an insert race resolves the same way on every run. A second call
// with nothing staged changes nothing. When ranks staged in different modes
// every rank returns ErrMixedMode and all staged writes are dropped.
func (v *Vector) Assemble(ctx context.Context) error {
	vote, err := comm.AllReduceInt64(ctx, v.comm, comm.OpBOR, []int64{modeBit(v.mode)})
	if err != nil {
		return err
	}
	pending := v.stage
	v.stage, v.mode = nil, NotSet

	var mode InsertMode
	switch vote[0] {
	case 0:
		return nil
	case 1:
		mode = InsertValues
	case 2:
		mode = AddValues
	default:
		return fmt.Errorf("vector %s: ranks disagree on the insert mode: %w", v.name, ErrMixedMode)
	}

	// Bucket by owner, keeping staging order
	byOwner := make([][]staged, v.comm.Size())
	for _, s := range pending {
		r := v.Owner(s.index)
		byOwner[r] = append(byOwner[r], s)
	}
	send := make([][]byte, v.comm.Size())
	for r, list := range byOwner {
		send[r] = encodeStaged(list)
	}
	recv, err := comm.AllToAll(ctx, v.comm, send)
	if err != nil {
		return err
	}

	for r, msg := range recv {
		list, err := decodeStaged(msg)
		if err != nil {
			return fmt.Errorf("vector %s: writes from rank %d: %w", v.name, r, err)
		}
		for _, s := range list {
			i := s.index - v.start
			if i < 0 || i >= len(v.values) {
				return fmt.Errorf("vector %s: rank %d routed index %d here: %w", v.name, r, s.index, ErrNotOwned)
			}
			if mode == InsertValues {
				v.values[i] = s.value
			} else {
				v.values[i] += s.value
			}
		}
	}
	return nil
}

// encodeStaged lays out n writes as n int64 indices followed by n values
func encodeStaged(list []staged) []byte {
	idx := make([]int64, len(list))
	vals := make([]float64, len(list))
	for k, s := range list {
		idx[k] = int64(s.index)
		vals[k] = s.value
	}
	return append(comm.EncodeInt64s(idx), comm.EncodeFloat64s(vals)...)
}

func decodeStaged(b []byte) ([]staged, error) {
	if len(b)%16 != 0 {
		return nil, fmt.Errorf("payload of %d bytes is not a list of writes", len(b))
	}
	n := len(b) / 16
	idx, err := comm.DecodeInt64s(b[:8*n])
	if err != nil {
		return nil, err
	}
	vals, err := comm.DecodeFloat64s(b[8*n:])
	if err != nil {
		return nil, err
	}
	list := make([]staged, n)
	for k := range list {
		list[k] = staged{index: int(idx[k]), value: vals[k]}
	}
	return list, nil
}

// GlobalEntries returns the whole committed vector on every rank. Each pair
// of ranks swaps its owned piece, tagged with where it starts, so a job of P
// ranks needs P-1 exchanges per rank.
func (v *Vector) GlobalEntries(ctx context.Context) ([]float64, error) {
	out := make([]float64, v.size)
	copy(out[v.start:], v.values)
	payload := append(comm.EncodeInt64s([]int64{int64(v.start)}), comm.EncodeFloat64s(v.values)...)

	for r := 0; r < v.comm.Size(); r++ {
		if r == v.comm.Rank() {
			continue
		}
		msg, err := comm.Sendrecv(ctx, v.comm, r, tagEntries, payload)
		if err != nil {
			return nil, err
		}
		if len(msg) < 8 {
			return nil, fmt.Errorf("vector %s: short entries message from rank %d", v.name, r)
		}
		low, err := comm.DecodeInt64s(msg[:8])
		if err != nil {
			return nil, err
		}
		vals, err := comm.DecodeFloat64s(msg[8:])
		if err != nil {
			return nil, err
		}
		if low[0] < 0 || int(low[0])+len(vals) > v.size {
			return nil, fmt.Errorf("vector %s: rank %d sent [%d,%d) of %d entries",
				v.name, r, low[0], int(low[0])+len(vals), v.size)
		}
		copy(out[low[0]:], vals)
	}
	return out, nil
}
