// Package job runs the nodal valence check over a node-partitioned mesh: every
// rank adds, for each node it owns, the number of elements touching it, and
// the assembled vector must account for every element-node pair exactly once.
package job

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/notargets/ddcmesh/comm"
	"github.com/notargets/ddcmesh/config"
	"github.com/notargets/ddcmesh/mesh"
	"github.com/notargets/ddcmesh/utils"
	"github.com/notargets/ddcmesh/vector"
)

// Report summarizes a run. Every field is a global quantity, so all ranks
// return the same Report.
type Report struct {
	Ranks             int     `yaml:"ranks"`
	GlobalLinearNodes int64   `yaml:"global_linear_nodes"`
	GlobalNodes       int64   `yaml:"global_nodes"`
	RegularElements   int64   `yaml:"regular_elements"`
	GhostElements     int64   `yaml:"ghost_elements"`
	ElementNodes      int64   `yaml:"element_nodes"`
	ValenceSum        float64 `yaml:"valence_sum"`
	NormL1            float64 `yaml:"norm_l1"`
	NormL2            float64 `yaml:"norm_l2"`
	NormInf           float64 `yaml:"norm_inf"`
}

// ValenceError is returned when the assembled valence does not add up to the
// number of element-node pairs
type ValenceError struct {
	Want int64
	Got  float64
}

func (e *ValenceError) Error() string {
	return fmt.Sprintf("job: nodal valence sums to %v, want %d element nodes", e.Got, e.Want)
}

// Run loads cfg.Mesh.Basename on c and checks the nodal valence. It is
// collective. A mesh that cannot be loaded aborts the job.
func Run(ctx context.Context, c comm.Comm, cfg *config.Config, logger *slog.Logger) (*Report, error) {
	if logger == nil {
		logger = comm.Logger(ctx)
	}
	ctx = comm.WithLogger(ctx, logger)
	timer := utils.NewWallClockTimer()

	m, err := mesh.LoadOrAbort(ctx, c, cfg.Mesh.Basename)
	if err != nil {
		return nil, err
	}
	timer.Lap("load")
	logger.Debug("mesh", "summary", m.String())

	v, err := vector.New(ctx, c, vector.Determine,
		vector.WithLocalSize(m.ActiveNodeCount(mesh.Quadratic)), vector.WithName("valence"))
	if err != nil {
		return nil, err
	}
	if err := addValence(v, m); err != nil {
		return nil, err
	}
	if err := v.Assemble(ctx); err != nil {
		return nil, err
	}
	timer.Lap("assemble")

	rep, err := check(ctx, c, m, v)
	if err != nil {
		return nil, err
	}
	timer.Lap("check")

	logger.Info("valence check passed", "ranks", rep.Ranks, "nodes", rep.GlobalNodes,
		"elements", rep.RegularElements, "l2", rep.NormL2, "max", rep.NormInf)
	logger.Debug("timing\n" + timer.String())
	return rep, nil
}

// addValence stages one add per element on the rows of the active nodes it
// touches. The row of active node i is the vector's first owned index plus i.
func addValence(v *vector.Vector, m *mesh.NodePartitionedMesh) error {
	start, _ := v.OwnershipRange()
	var rows []int
	for _, e := range m.RegularElements() {
		rows = rows[:0]
		for _, n := range e.Nodes {
			if m.IsActiveNode(n) {
				rows = append(rows, start+n)
			}
		}
		if err := addOnes(v, rows); err != nil {
			return err
		}
	}
	for _, id := range m.GhostElementIDs() {
		active, err := m.ElementActiveNodeIDs(id)
		if err != nil {
			return err
		}
		rows = rows[:0]
		for _, n := range active {
			rows = append(rows, start+n)
		}
		if err := addOnes(v, rows); err != nil {
			return err
		}
	}
	return nil
}

func addOnes(v *vector.Vector, rows []int) error {
	ones := make([]float64, len(rows))
	for i := range ones {
		ones[i] = 1
	}
	return v.SetValues(rows, ones, vector.AddValues)
}

func check(ctx context.Context, c comm.Comm, m *mesh.NodePartitionedMesh, v *vector.Vector) (*Report, error) {
	var elementNodes int64
	for _, e := range m.RegularElements() {
		elementNodes += int64(len(e.Nodes))
	}
	sums, err := comm.AllReduceInt64(ctx, c, comm.OpSum,
		[]int64{int64(m.NumRegularElements()), int64(m.NumGhostElements()), elementNodes})
	if err != nil {
		return nil, err
	}
	rep := &Report{
		Ranks:             c.Size(),
		GlobalLinearNodes: m.GlobalNodeCount(mesh.Linear),
		GlobalNodes:       m.GlobalNodeCount(mesh.Quadratic),
		RegularElements:   sums[0],
		GhostElements:     sums[1],
		ElementNodes:      sums[2],
	}
	if rep.NormL1, err = v.Norm(ctx, vector.NormL1); err != nil {
		return nil, err
	}
	if rep.NormL2, err = v.Norm(ctx, vector.NormL2); err != nil {
		return nil, err
	}
	if rep.NormInf, err = v.Norm(ctx, vector.NormInf); err != nil {
		return nil, err
	}
	// Valence is non-negative, so the L1 norm is its sum
	rep.ValenceSum = rep.NormL1
	if int64(v.Size()) != rep.GlobalNodes {
		return nil, fmt.Errorf("job: valence vector has %d rows for %d nodes", v.Size(), rep.GlobalNodes)
	}

	all, err := v.GlobalEntries(ctx)
	if err != nil {
		return nil, err
	}
	if len(all) != v.Size() {
		return nil, fmt.Errorf("job: snapshot of %d entries, want %d", len(all), v.Size())
	}
	if rep.ValenceSum != float64(rep.ElementNodes) {
		return rep, &ValenceError{Want: rep.ElementNodes, Got: rep.ValenceSum}
	}
	return rep, nil
}
