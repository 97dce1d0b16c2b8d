// Package vector implements a logically global vector stored as one
// contiguous slice per rank. Writes to any global index are staged locally
// and routed to the owning rank by the collective Assemble.
package vector

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/notargets/ddcmesh/comm"
	"github.com/notargets/ddcmesh/utils"
)

// InsertMode selects how staged writes combine with the stored value
type InsertMode int

const (
	NotSet       InsertMode = iota
	InsertValues            // Overwrite; among several writes the last applied wins
	AddValues               // Accumulate
)

func (m InsertMode) String() string {
	switch m {
	case NotSet:
		return "not set"
	case InsertValues:
		return "insert"
	case AddValues:
		return "add"
	}
	return fmt.Sprintf("InsertMode(%d)", int(m))
}

// Determine as the global size takes the sum of the local sizes given with
// WithLocalSize
const Determine = -1

var (
	// ErrMixedMode is returned when insert and add writes meet in one
	// assembly phase
	ErrMixedMode = errors.New("vector: insert and add values mixed in one assembly phase")
	// ErrOutOfRange is returned for a global index outside [0, Size())
	ErrOutOfRange = errors.New("vector: index out of range")
	// ErrNotOwned is returned when reading an entry another rank owns
	ErrNotOwned = errors.New("vector: entry not owned by this rank")
	// ErrLayout is returned when two vectors do not share an ownership layout
	ErrLayout = errors.New("vector: layouts differ")
)

type options struct {
	name       string
	localSize  int
	localFixed bool
}

// Option configures New
type Option func(*options)

// WithName names the vector in diagnostics and text dumps
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithLocalSize fixes this rank's share of the entries instead of the even
// split. Creation then becomes collective.
func WithLocalSize(n int) Option {
	return func(o *options) { o.localSize, o.localFixed = n, true }
}

type staged struct {
	index int
	value float64
}

// Vector is a distributed vector. Its storage is owned by a single rank and
// is not safe for concurrent use.
type Vector struct {
	comm    comm.Comm
	name    string
	size    int
	offsets []int // Rank r owns [offsets[r], offsets[r+1])
	start   int
	values  []float64

	mode  InsertMode
	stage []staged
}

// New creates a zeroed vector of globalSize entries. Ownership follows the
// even split n/size + (rank < n%size), which every rank derives alone, unless
// WithLocalSize is given; then the local sizes are gathered and must add up
// to globalSize on every rank.
func New(ctx context.Context, c comm.Comm, globalSize int, opts ...Option) (*Vector, error) {
	o := options{name: "vec"}
	for _, opt := range opts {
		opt(&o)
	}

	var offsets []int
	if !o.localFixed {
		if globalSize < 0 {
			return nil, fmt.Errorf("vector %s: global size %d without local sizes", o.name, globalSize)
		}
		offsets = make([]int, c.Size()+1)
		for r := 0; r < c.Size(); r++ {
			_, end := utils.BlockRange(globalSize, c.Size(), r)
			offsets[r+1] = max(end, offsets[r])
		}
	} else {
		all, err := comm.AllGatherInt64(ctx, c, []int64{int64(o.localSize)})
		if err != nil {
			return nil, err
		}
		sizes := make([]int, len(all))
		for r, v := range all {
			sizes[r] = int(v[0])
		}
		if offsets, err = utils.PrefixRanges(sizes); err != nil {
			return nil, fmt.Errorf("vector %s: %w", o.name, err)
		}
		if globalSize == Determine {
			globalSize = offsets[c.Size()]
		}
		if total := offsets[c.Size()]; total != globalSize {
			return nil, fmt.Errorf("vector %s: local sizes add up to %d, global size is %d", o.name, total, globalSize)
		}
	}

	start, end := offsets[c.Rank()], offsets[c.Rank()+1]
	return &Vector{
		comm:    c,
		name:    o.name,
		size:    globalSize,
		offsets: offsets,
		start:   start,
		values:  make([]float64, end-start),
	}, nil
}

// Duplicate returns a zeroed vector with the same layout. It does not
// communicate.
func (v *Vector) Duplicate() *Vector {
	return &Vector{
		comm:    v.comm,
		name:    v.name,
		size:    v.size,
		offsets: v.offsets,
		start:   v.start,
		values:  make([]float64, len(v.values)),
	}
}

func (v *Vector) Name() string { return v.name }

func (v *Vector) Comm() comm.Comm { return v.comm }

// Size is the global entry count
func (v *Vector) Size() int { return v.size }

// LocalSize is the number of entries this rank owns
func (v *Vector) LocalSize() int { return len(v.values) }

// OwnershipRange returns the half-open global range [start, end) owned here
func (v *Vector) OwnershipRange() (start, end int) {
	return v.start, v.start + len(v.values)
}

// OwnershipRanges returns the range starts of every rank plus the global
// size, so rank r owns [ranges[r], ranges[r+1])
func (v *Vector) OwnershipRanges() []int {
	out := make([]int, len(v.offsets))
	copy(out, v.offsets)
	return out
}

// Owner returns the rank owning global index i, or -1
func (v *Vector) Owner(i int) int { return utils.OwnerOf(v.offsets, i) }

// LocalValues returns the owned entries. The slice aliases the storage.
func (v *Vector) LocalValues() []float64 { return v.values }

// LocalVector views the owned entries as a gonum vector sharing the
// storage, or nil when this rank owns nothing
func (v *Vector) LocalVector() *mat.VecDense {
	if len(v.values) == 0 {
		return nil
	}
	return mat.NewVecDense(len(v.values), v.values)
}

// Get returns the committed value of an owned entry
func (v *Vector) Get(i int) (float64, error) {
	if i < 0 || i >= v.size {
		return 0, fmt.Errorf("vector %s: index %d of %d: %w", v.name, i, v.size, ErrOutOfRange)
	}
	start, end := v.OwnershipRange()
	if i < start || i >= end {
		return 0, fmt.Errorf("vector %s: index %d outside [%d,%d): %w", v.name, i, start, end, ErrNotOwned)
	}
	return v.values[i-start], nil
}

// GetEntries is Get for several owned entries
func (v *Vector) GetEntries(idx []int) ([]float64, error) {
	out := make([]float64, len(idx))
	for k, i := range idx {
		x, err := v.Get(i)
		if err != nil {
			return nil, err
		}
		out[k] = x
	}
	return out, nil
}

func (v *Vector) sameLayout(x *Vector) error {
	if x.size != v.size || x.start != v.start || len(x.values) != len(v.values) {
		return fmt.Errorf("vector %s vs %s: %w", v.name, x.name, ErrLayout)
	}
	return nil
}
