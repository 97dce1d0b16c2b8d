// Package mesh holds the node-partitioned view of a mesh that one rank owns:
// its nodes (active first, then ghost), its regular and ghost elements, and
// the global node counts of the whole job.
package mesh

import (
	"errors"
	"fmt"
	"slices"

	"github.com/notargets/ddcmesh/element"
)

// Order selects the linear (vertex) or the full quadratic node set
type Order int

const (
	Linear Order = iota
	Quadratic
)

func (o Order) String() string {
	switch o {
	case Linear:
		return "linear"
	case Quadratic:
		return "quadratic"
	}
	return fmt.Sprintf("Order(%d)", int(o))
}

// Node is a local node. ID is its index in the node arena.
type Node struct {
	ID       int
	GlobalID int64
	Coords   [3]float64
}

// Element is a local element. Nodes holds node arena indices.
type Element struct {
	ID         int
	Type       element.Type
	MaterialID int32
	Nodes      []int
	Ghost      bool
}

// ErrNotGhostElement is returned by the ghost table lookups for an element
// that is not a ghost element of this partition
var ErrNotGhostElement = errors.New("mesh: not a ghost element")

type ghostEntry struct {
	activeCount [2]int // Active nodes of the element, by order
	activeIDs   []int  // Arena indices of the element's active nodes
}

// NodePartitionedMesh is one rank's partition. It is immutable once built.
type NodePartitionedMesh struct {
	rank int

	nodes    []Node
	elements []Element // Regular elements first, then ghosts
	regular  int

	globalNodeCount [2]int64
	activeNodeCount [2]int
	linearNodes     int

	ghostTable map[int]ghostEntry
	ghostIDs   []int
}

func (m *NodePartitionedMesh) Rank() int { return m.rank }

func (m *NodePartitionedMesh) NumNodes() int { return len(m.nodes) }

func (m *NodePartitionedMesh) Node(id int) Node { return m.nodes[id] }

// Nodes returns the node arena; callers must not modify it
func (m *NodePartitionedMesh) Nodes() []Node { return m.nodes }

func (m *NodePartitionedMesh) NumElements() int { return len(m.elements) }

func (m *NodePartitionedMesh) NumRegularElements() int { return m.regular }

func (m *NodePartitionedMesh) NumGhostElements() int { return len(m.elements) - m.regular }

func (m *NodePartitionedMesh) Element(id int) Element { return m.elements[id] }

// Elements returns the element arena; callers must not modify it
func (m *NodePartitionedMesh) Elements() []Element { return m.elements }

// RegularElements are the elements this rank owns
func (m *NodePartitionedMesh) RegularElements() []Element { return m.elements[:m.regular] }

// GhostElements are other ranks' elements touching nodes owned here
func (m *NodePartitionedMesh) GhostElements() []Element { return m.elements[m.regular:] }

// NumLinearNodes counts the local linear nodes, active and ghost
func (m *NodePartitionedMesh) NumLinearNodes() int { return m.linearNodes }

// GlobalNodeCount is the node count of the whole mesh for order
func (m *NodePartitionedMesh) GlobalNodeCount(order Order) int64 {
	return m.globalNodeCount[order]
}

// ActiveNodeCount is the number of nodes of order this rank owns. They are
// the nodes with ids [0, ActiveNodeCount(order)).
func (m *NodePartitionedMesh) ActiveNodeCount(order Order) int {
	return m.activeNodeCount[order]
}

// IsActiveNode reports whether this rank owns node id
func (m *NodePartitionedMesh) IsActiveNode(id int) bool {
	return id >= 0 && id < m.activeNodeCount[Quadratic]
}

// LargestActiveNodeID bounds the ids of active nodes once higher order nodes
// are numbered after all local nodes
func (m *NodePartitionedMesh) LargestActiveNodeID() int {
	return len(m.nodes) + m.activeNodeCount[Quadratic] - m.activeNodeCount[Linear]
}

// GhostElementIDs lists the ghost element ids in ascending order
func (m *NodePartitionedMesh) GhostElementIDs() []int { return slices.Clone(m.ghostIDs) }

// ElementActiveNodeCount is the number of active nodes of order in ghost
// element id
func (m *NodePartitionedMesh) ElementActiveNodeCount(id int, order Order) (int, error) {
	g, ok := m.ghostTable[id]
	if !ok {
		return 0, fmt.Errorf("element %d: %w", id, ErrNotGhostElement)
	}
	return g.activeCount[order], nil
}

// ElementActiveNodeIDs returns the active node ids of ghost element id, in
// element node order
func (m *NodePartitionedMesh) ElementActiveNodeIDs(id int) ([]int, error) {
	g, ok := m.ghostTable[id]
	if !ok {
		return nil, fmt.Errorf("element %d: %w", id, ErrNotGhostElement)
	}
	return slices.Clone(g.activeIDs), nil
}

func (m *NodePartitionedMesh) String() string {
	return fmt.Sprintf("rank %d: %d nodes (%d/%d active linear/all of %d/%d global), %d regular and %d ghost elements",
		m.rank, len(m.nodes),
		m.activeNodeCount[Linear], m.activeNodeCount[Quadratic],
		m.globalNodeCount[Linear], m.globalNodeCount[Quadratic],
		m.regular, m.NumGhostElements())
}
