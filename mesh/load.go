package mesh

import (
	"context"
	"errors"
	"fmt"

	"github.com/notargets/ddcmesh/comm"
	"github.com/notargets/ddcmesh/partitions"
)

// Verify checks, collectively, that every rank agrees on the global node
// counts and that the active counts of all ranks add up to them. Every rank
// gets the same verdict.
func (m *NodePartitionedMesh) Verify(ctx context.Context, c comm.Comm) error {
	local := []int64{
		int64(m.activeNodeCount[Linear]), int64(m.activeNodeCount[Quadratic]),
	}
	global := m.globalNodeCount[:]

	sum, err := comm.AllReduceInt64(ctx, c, comm.OpSum, local)
	if err != nil {
		return err
	}
	hi, err := comm.AllReduceInt64(ctx, c, comm.OpMax, global)
	if err != nil {
		return err
	}
	lo, err := comm.AllReduceInt64(ctx, c, comm.OpMin, global)
	if err != nil {
		return err
	}
	for _, o := range []Order{Linear, Quadratic} {
		if hi[o] != lo[o] {
			return &partitions.PartitionConsistencyError{Rank: c.Rank(),
				What: fmt.Sprintf("global %v node count agreed by all ranks", o), Expected: lo[o], Actual: hi[o]}
		}
		if sum[o] != hi[o] {
			return &partitions.PartitionConsistencyError{Rank: c.Rank(),
				What: fmt.Sprintf("sum of active %v nodes over ranks", o), Expected: hi[o], Actual: sum[o]}
		}
	}
	return nil
}

// ErrPeerFailed is returned by Load on ranks whose own partition was fine
// when another rank's was not
var ErrPeerFailed = errors.New("mesh: partition load failed on another rank")

// Load reads, builds and verifies this rank's partition. It is collective:
// when any rank fails, every rank returns an error, the failing ranks their
// own and the others one wrapping ErrPeerFailed.
func Load(ctx context.Context, c comm.Comm, basename string) (*NodePartitionedMesh, error) {
	m, localErr := loadLocal(c, basename)

	// Lowest failing rank, or Size() when none failed
	failed := int64(c.Size())
	if localErr != nil {
		failed = int64(c.Rank())
	}
	lowest, err := comm.AllReduceInt64(ctx, c, comm.OpMin, []int64{failed})
	if err != nil {
		return nil, err
	}
	if localErr != nil {
		return nil, localErr
	}
	if lowest[0] < int64(c.Size()) {
		return nil, fmt.Errorf("rank %d: %w (first failure on rank %d)", c.Rank(), ErrPeerFailed, lowest[0])
	}
	if err := m.Verify(ctx, c); err != nil {
		return nil, err
	}
	return m, nil
}

func loadLocal(c comm.Comm, basename string) (*NodePartitionedMesh, error) {
	raw, err := partitions.Read(c.Rank(), c.Size(), basename)
	if err != nil {
		return nil, err
	}
	return Build(raw)
}

// LoadOrAbort is Load for callers that cannot continue without a mesh: on
// failure it logs the diagnostic and aborts the job. Process transports never
// return from the abort; the in-process world does, and the error is returned
// so the rank can unwind.
func LoadOrAbort(ctx context.Context, c comm.Comm, basename string) (*NodePartitionedMesh, error) {
	m, err := Load(ctx, c, basename)
	if err == nil {
		comm.Logger(ctx).Debug("partition loaded", "mesh", m.String())
		return m, nil
	}
	// The failing rank aborts; its peers only learn that it did
	if !errors.Is(err, ErrPeerFailed) && !errors.Is(err, comm.ErrAborted) {
		comm.Logger(ctx).Error("cannot load partition", "basename", basename, "err", err)
		c.Abort(err)
	}
	return nil, err
}
