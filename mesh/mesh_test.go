package mesh

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/ddcmesh/comm"
	"github.com/notargets/ddcmesh/element"
	"github.com/notargets/ddcmesh/partitions"
)

// cube is a hexahedron split into 6 tetrahedra around the 0-6 diagonal
func cube() ([][]float64, [][]int) {
	v := [][]float64{
		{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0},
		{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 1, 1},
	}
	etov := [][]int{
		{0, 1, 2, 6}, {0, 2, 3, 6}, {0, 3, 7, 6},
		{0, 7, 4, 6}, {0, 4, 5, 6}, {0, 5, 1, 6},
	}
	return v, etov
}

// twoLines is two quadratic line elements {0,1 | 2} and {1,3 | 4}
func twoLines(t *testing.T) []*partitions.RawPartition {
	t.Helper()
	vertices := [][]float64{{0}, {2}, {1}, {4}, {3}}
	etov := [][]int{{0, 1, 2}, {1, 3, 4}}
	types := []element.Type{element.Line3, element.Line3}
	parts, err := partitions.FromElementPartition(vertices, etov, types, []int{0, 1}, 2)
	require.NoError(t, err)
	return parts
}

func writeCube(t *testing.T, etop []int, nparts int, enc partitions.Encoding) string {
	t.Helper()
	v, etov := cube()
	parts, err := partitions.FromElementPartition(v, etov, nil, etop, nparts)
	require.NoError(t, err)
	base := filepath.Join(t.TempDir(), "cube")
	require.NoError(t, partitions.Write(base, parts, enc))
	return base
}

// loadAll loads base on every rank of an in-process world
func loadAll(t *testing.T, base string, nparts int) []*NodePartitionedMesh {
	t.Helper()
	meshes := make([]*NodePartitionedMesh, nparts)
	var mu sync.Mutex
	err := comm.NewWorld(nparts).Run(context.Background(), func(ctx context.Context, c comm.Comm) error {
		m, err := Load(ctx, c, base)
		if err != nil {
			return err
		}
		mu.Lock()
		meshes[c.Rank()] = m
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	return meshes
}

func TestActiveCountsSumToGlobal(t *testing.T) {
	for _, tc := range []struct {
		name   string
		etop   []int
		nparts int
	}{
		{"serial", []int{0, 0, 0, 0, 0, 0}, 1},
		{"halves", []int{0, 0, 0, 1, 1, 1}, 2},
		{"round robin", []int{0, 1, 2, 0, 1, 2}, 3},
		{"empty rank", []int{0, 0, 2, 2, 0, 2}, 3},
	} {
		for _, enc := range []partitions.Encoding{partitions.Binary, partitions.Text} {
			t.Run(tc.name+"/"+enc.String(), func(t *testing.T) {
				meshes := loadAll(t, writeCube(t, tc.etop, tc.nparts, enc), tc.nparts)
				for _, o := range []Order{Linear, Quadratic} {
					sum := 0
					for _, m := range meshes {
						sum += m.ActiveNodeCount(o)
						assert.EqualValues(t, 8, m.GlobalNodeCount(o))
					}
					assert.Equal(t, 8, sum, "order %v", o)
				}
				regular := 0
				for _, m := range meshes {
					regular += m.NumRegularElements()
				}
				assert.Equal(t, 6, regular)
			})
		}
	}
}

func TestGhostElementsAndNodes(t *testing.T) {
	meshes := loadAll(t, writeCube(t, []int{0, 0, 0, 1, 1, 1}, 2, partitions.Binary), 2)
	m0, m1 := meshes[0], meshes[1]

	// Every element touches nodes 0 and 6, which rank 0 owns
	assert.Equal(t, 3, m0.NumGhostElements())
	assert.Equal(t, 0, m1.NumGhostElements())
	assert.Empty(t, m1.GhostElementIDs())

	ids := m0.GhostElementIDs()
	assert.Equal(t, []int{3, 4, 5}, ids)
	for _, id := range ids {
		e := m0.Element(id)
		assert.True(t, e.Ghost)
		n, err := m0.ElementActiveNodeCount(id, Linear)
		require.NoError(t, err)
		active, err := m0.ElementActiveNodeIDs(id)
		require.NoError(t, err)
		assert.Len(t, active, n)
		for _, a := range active {
			assert.True(t, m0.IsActiveNode(a))
			assert.Contains(t, e.Nodes, a)
		}
		// Ghost elements always bring at least one node owned by a peer
		assert.Less(t, n, len(e.Nodes))
	}

	for _, e := range m0.RegularElements() {
		assert.False(t, e.Ghost)
		for _, n := range e.Nodes {
			assert.Less(t, n, m0.NumNodes())
		}
	}
	// Ghost nodes come after the active ones
	for i := 0; i < m1.NumNodes(); i++ {
		assert.Equal(t, i < m1.ActiveNodeCount(Quadratic), m1.IsActiveNode(i))
	}
	assert.False(t, m1.IsActiveNode(-1))
	assert.Contains(t, m0.String(), "3 ghost elements")
}

func TestRegularElementIsNotGhost(t *testing.T) {
	meshes := loadAll(t, writeCube(t, []int{0, 0, 0, 1, 1, 1}, 2, partitions.Text), 2)
	_, err := meshes[0].ElementActiveNodeCount(0, Linear)
	assert.ErrorIs(t, err, ErrNotGhostElement)
	_, err = meshes[0].ElementActiveNodeIDs(99)
	assert.ErrorIs(t, err, ErrNotGhostElement)
}

func TestQuadraticCounts(t *testing.T) {
	parts := twoLines(t)
	m0, err := Build(parts[0])
	require.NoError(t, err)
	m1, err := Build(parts[1])
	require.NoError(t, err)

	assert.Equal(t, 2, m0.ActiveNodeCount(Linear))
	assert.Equal(t, 3, m0.ActiveNodeCount(Quadratic))
	assert.Equal(t, 1, m1.ActiveNodeCount(Linear))
	assert.Equal(t, 2, m1.ActiveNodeCount(Quadratic))
	assert.EqualValues(t, 3, m0.GlobalNodeCount(Linear))
	assert.EqualValues(t, 5, m0.GlobalNodeCount(Quadratic))
	assert.Equal(t, 3, m0.NumLinearNodes())

	// localNodeCount + activeQuadratic - activeLinear
	assert.Equal(t, 5+3-2, m0.LargestActiveNodeID())
	assert.Equal(t, 3+2-1, m1.LargestActiveNodeID())

	id := m0.GhostElementIDs()[0]
	assert.Equal(t, 1, id)
	lin, err := m0.ElementActiveNodeCount(id, Linear)
	require.NoError(t, err)
	quad, err := m0.ElementActiveNodeCount(id, Quadratic)
	require.NoError(t, err)
	assert.Equal(t, 1, lin)
	assert.Equal(t, 1, quad)
	ids, err := m0.ElementActiveNodeIDs(id)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, ids)
}

func TestBuildRejectsInconsistentPartitions(t *testing.T) {
	cases := map[string]func(p *partitions.RawPartition){
		"node index": func(p *partitions.RawPartition) { p.Regular[0].Nodes[0] = 42 },
		"type tag":   func(p *partitions.RawPartition) { p.Regular[0].Type = 99 },
		"node count": func(p *partitions.RawPartition) { p.Regular[0].Type = element.Line2 },
		"record count": func(p *partitions.RawPartition) {
			p.Header.GhostElements = 3
		},
		"active exceeds local": func(p *partitions.RawPartition) {
			p.Header.ActiveAllNodes = p.Header.TotalNodes + 1
		},
		"linear exceeds all": func(p *partitions.RawPartition) {
			p.Header.ActiveLinearNodes = p.Header.ActiveAllNodes + 1
		},
	}
	for name, corrupt := range cases {
		t.Run(name, func(t *testing.T) {
			p := twoLines(t)[0]
			corrupt(p)
			_, err := Build(p)
			var pce *partitions.PartitionConsistencyError
			require.True(t, errors.As(err, &pce), "got %v", err)
			assert.Equal(t, 0, pce.Rank)
		})
	}
}

func TestVerifyDetectsMissingNodes(t *testing.T) {
	parts := twoLines(t)
	// Rank 1 claims fewer active nodes than it owns
	parts[1].Header.ActiveAllNodes = 1
	parts[1].Header.ActiveLinearNodes = 1

	w := comm.NewWorld(2)
	errs := make([]error, 2)
	_ = w.Run(context.Background(), func(ctx context.Context, c comm.Comm) error {
		m, err := Build(parts[c.Rank()])
		if err != nil {
			return err
		}
		errs[c.Rank()] = m.Verify(ctx, c)
		return nil
	})
	for r, err := range errs {
		var pce *partitions.PartitionConsistencyError
		require.True(t, errors.As(err, &pce), "rank %d: %v", r, err)
		assert.EqualValues(t, 5, pce.Expected)
		assert.EqualValues(t, 4, pce.Actual)
	}
}

func TestLoadFailsOnEveryRank(t *testing.T) {
	base := writeCube(t, []int{0, 0, 0, 1, 1, 1}, 2, partitions.Binary)
	require.NoError(t, os.Truncate(partitions.GhostElementPath(base, 2), 0))

	errs := make([]error, 2)
	_ = comm.NewWorld(2).Run(context.Background(), func(ctx context.Context, c comm.Comm) error {
		_, err := Load(ctx, c, base)
		errs[c.Rank()] = err
		return err
	})
	var fme *partitions.FormatMismatchError
	assert.True(t, errors.As(errs[0], &fme), "rank 0: %v", errs[0])
	// Rank 1 has no ghost elements, so its own read succeeded
	assert.ErrorIs(t, errs[1], ErrPeerFailed)
}

func TestLoadOrAbort(t *testing.T) {
	base := filepath.Join(t.TempDir(), "missing")
	err := comm.NewWorld(3).Run(context.Background(), func(ctx context.Context, c comm.Comm) error {
		m, err := LoadOrAbort(ctx, c, base)
		assert.Nil(t, m)
		return err
	})
	require.ErrorIs(t, err, comm.ErrAborted)
	var fae *partitions.FileAccessError
	assert.True(t, errors.As(err, &fae), "got %v", err)
}
