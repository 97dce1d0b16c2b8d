package mesh

import (
	"fmt"

	"github.com/notargets/ddcmesh/partitions"
)

// Build assembles a partition read from disk into a mesh. Nodes are placed
// first so that element node indices can be checked against the arena.
// Regular and ghost elements keep the order of their blocks, regular ones
// first, and the ghost flag comes from the block an element was read from.
func Build(raw *partitions.RawPartition) (*NodePartitionedMesh, error) {
	if err := checkCounts(raw); err != nil {
		return nil, err
	}
	h := raw.Header
	m := &NodePartitionedMesh{
		rank:            raw.Rank,
		nodes:           make([]Node, len(raw.Nodes)),
		elements:        make([]Element, 0, len(raw.Regular)+len(raw.Ghost)),
		regular:         len(raw.Regular),
		globalNodeCount: [2]int64{h.GlobalLinearNodes, h.GlobalAllNodes},
		activeNodeCount: [2]int{int(h.ActiveLinearNodes), int(h.ActiveAllNodes)},
		linearNodes:     int(h.LinearNodes),
		ghostTable:      make(map[int]ghostEntry, len(raw.Ghost)),
	}
	for i, n := range raw.Nodes {
		m.nodes[i] = Node{ID: i, GlobalID: n.GlobalID, Coords: n.Coords}
	}

	for batch, recs := range [][]partitions.ElementRecord{raw.Regular, raw.Ghost} {
		ghost := batch == 1
		for _, r := range recs {
			e, err := m.newElement(len(m.elements), r, ghost)
			if err != nil {
				return nil, err
			}
			m.elements = append(m.elements, e)
			if ghost {
				m.addGhost(e)
			}
		}
	}
	return m, nil
}

func (m *NodePartitionedMesh) newElement(id int, r partitions.ElementRecord, ghost bool) (Element, error) {
	props, err := r.Type.Properties()
	if err != nil {
		return Element{}, &partitions.PartitionConsistencyError{Rank: m.rank,
			What: fmt.Sprintf("element %d type tag", id), Expected: 0, Actual: int64(r.Type)}
	}
	if len(r.Nodes) != props.Np {
		return Element{}, &partitions.PartitionConsistencyError{Rank: m.rank,
			What:     fmt.Sprintf("element %d (%v) node count", id, r.Type),
			Expected: int64(props.Np), Actual: int64(len(r.Nodes))}
	}
	e := Element{ID: id, Type: r.Type, MaterialID: r.Material, Nodes: make([]int, len(r.Nodes)), Ghost: ghost}
	for i, n := range r.Nodes {
		if n < 0 || int(n) >= len(m.nodes) {
			return Element{}, &partitions.PartitionConsistencyError{Rank: m.rank,
				What:     fmt.Sprintf("element %d node index below local node count", id),
				Expected: int64(len(m.nodes)), Actual: int64(n)}
		}
		e.Nodes[i] = int(n)
	}
	return e, nil
}

// addGhost records which of e's nodes this rank owns
func (m *NodePartitionedMesh) addGhost(e Element) {
	var g ghostEntry
	for _, n := range e.Nodes {
		if n < m.activeNodeCount[Linear] {
			g.activeCount[Linear]++
		}
		if n < m.activeNodeCount[Quadratic] {
			g.activeCount[Quadratic]++
			g.activeIDs = append(g.activeIDs, n)
		}
	}
	m.ghostTable[e.ID] = g
	m.ghostIDs = append(m.ghostIDs, e.ID)
}

// checkCounts rejects headers whose counts do not nest or disagree with the
// records that came with them
func checkCounts(raw *partitions.RawPartition) error {
	h := raw.Header
	fail := func(what string, expected, actual int64) error {
		return &partitions.PartitionConsistencyError{Rank: raw.Rank, What: what, Expected: expected, Actual: actual}
	}
	switch {
	case int64(len(raw.Nodes)) != h.TotalNodes:
		return fail("node records vs header", h.TotalNodes, int64(len(raw.Nodes)))
	case int64(len(raw.Regular)) != h.RegularElements:
		return fail("regular element records vs header", h.RegularElements, int64(len(raw.Regular)))
	case int64(len(raw.Ghost)) != h.GhostElements:
		return fail("ghost element records vs header", h.GhostElements, int64(len(raw.Ghost)))
	case h.ActiveLinearNodes < 0:
		return fail("active linear nodes at least", 0, h.ActiveLinearNodes)
	case h.ActiveLinearNodes > h.ActiveAllNodes:
		return fail("active linear nodes at most active nodes", h.ActiveAllNodes, h.ActiveLinearNodes)
	case h.ActiveAllNodes > h.TotalNodes:
		return fail("active nodes at most local nodes", h.TotalNodes, h.ActiveAllNodes)
	case h.LinearNodes > h.TotalNodes:
		return fail("linear nodes at most local nodes", h.TotalNodes, h.LinearNodes)
	case h.ActiveLinearNodes > h.LinearNodes:
		return fail("active linear nodes at most linear nodes", h.LinearNodes, h.ActiveLinearNodes)
	case h.GlobalLinearNodes > h.GlobalAllNodes:
		return fail("global linear nodes at most global nodes", h.GlobalAllNodes, h.GlobalLinearNodes)
	}
	return nil
}
