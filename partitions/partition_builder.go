package partitions

import (
	"fmt"

	"github.com/notargets/ddcmesh/element"
)

// PartitionBuilder derives node-partitioned files from a mesh whose elements
// were already assigned to partitions upstream. It never computes an
// assignment itself.
type PartitionBuilder struct {
	// Serial mesh
	Vertices [][]float64    // Vertex coordinates, up to 3 per vertex
	EToV     [][]int        // Element to vertex connectivity
	Types    []element.Type // Per element; nil derives linear 3D types from the vertex count
	Material []int32        // Per element; nil means material 0

	// Upstream element assignment
	EToP          []int // Element k belongs to partition EToP[k]
	NumPartitions int
}

// FromElementPartition builds the partitions of a mesh with element
// assignment etop. Types may be nil, see PartitionBuilder.
func FromElementPartition(vertices [][]float64, etov [][]int, types []element.Type,
	etop []int, nparts int) ([]*RawPartition, error) {
	pb := &PartitionBuilder{
		Vertices:      vertices,
		EToV:          etov,
		Types:         types,
		EToP:          etop,
		NumPartitions: nparts,
	}
	return pb.Build()
}

// Build returns one RawPartition per rank. A node is owned by the lowest
// partition among the elements touching it, and vertices no element touches
// go to partition 0. Each rank lists its owned linear nodes, then its owned
// higher order nodes, then ghost nodes in the same order. Regular elements
// are the rank's own; ghost elements are other ranks' elements that touch a
// node owned here. Global node ids are contiguous per rank, in rank order.
func (pb *PartitionBuilder) Build() ([]*RawPartition, error) {
	types, err := pb.elementTypes()
	if err != nil {
		return nil, err
	}
	nv := len(pb.Vertices)

	// Node ownership and order
	owner := make([]int, nv)
	linear := make([]bool, nv)
	for v := range owner {
		owner[v] = -1
	}
	for k, verts := range pb.EToV {
		p := pb.EToP[k]
		nvp := types[k].NumNodes()
		if props, err := types[k].Properties(); err == nil {
			nvp = props.NVp
		}
		for i, v := range verts {
			if owner[v] < 0 || p < owner[v] {
				owner[v] = p
			}
			if i < nvp {
				linear[v] = true
			}
		}
	}
	globalLinear := 0
	for v := range owner {
		if owner[v] < 0 {
			owner[v] = 0
			linear[v] = true
		}
		if linear[v] {
			globalLinear++
		}
	}

	// Global ids, contiguous per rank
	active := make([][]int, pb.NumPartitions)
	for p := range active {
		active[p] = orderNodes(linear, func(v int) bool { return owner[v] == p })
	}
	globalID := make([]int64, nv)
	var next int64
	for p := range active {
		for _, v := range active[p] {
			globalID[v] = next
			next++
		}
	}

	// Element membership
	regular := make([][]int, pb.NumPartitions)
	ghost := make([][]int, pb.NumPartitions)
	for k, verts := range pb.EToV {
		p := pb.EToP[k]
		regular[p] = append(regular[p], k)
		seen := map[int]bool{}
		for _, v := range verts {
			if q := owner[v]; q != p && !seen[q] {
				seen[q] = true
				ghost[q] = append(ghost[q], k)
			}
		}
	}

	parts := make([]*RawPartition, pb.NumPartitions)
	local := make([]int32, nv)
	for v := range local {
		local[v] = -1
	}
	for p := range parts {
		touched := map[int]bool{}
		for _, list := range [][]int{regular[p], ghost[p]} {
			for _, k := range list {
				for _, v := range pb.EToV[k] {
					if owner[v] != p {
						touched[v] = true
					}
				}
			}
		}
		ghostNodes := orderNodes(linear, func(v int) bool { return touched[v] })
		nodes := append(append([]int(nil), active[p]...), ghostNodes...)

		part := &RawPartition{Rank: p, Nodes: make([]NodeRecord, len(nodes))}
		for i, v := range nodes {
			local[v] = int32(i)
			part.Nodes[i] = NodeRecord{GlobalID: globalID[v]}
			copy(part.Nodes[i].Coords[:], pb.Vertices[v])
			if linear[v] {
				part.Header.LinearNodes++
				if owner[v] == p {
					part.Header.ActiveLinearNodes++
				}
			}
		}
		part.Header.ActiveAllNodes = int64(len(active[p]))
		part.Header.GlobalLinearNodes = int64(globalLinear)
		part.Header.GlobalAllNodes = int64(nv)
		part.Regular = pb.records(regular[p], types, local, false)
		part.Ghost = pb.records(ghost[p], types, local, true)
		part.UpdateCounts()
		parts[p] = part

		for _, v := range nodes {
			local[v] = -1
		}
	}
	return parts, nil
}

// orderNodes lists the vertices selected by keep, linear ones first, each
// group in vertex order
func orderNodes(linear []bool, keep func(v int) bool) []int {
	var lin, high []int
	for v := range linear {
		switch {
		case !keep(v):
		case linear[v]:
			lin = append(lin, v)
		default:
			high = append(high, v)
		}
	}
	return append(lin, high...)
}

func (pb *PartitionBuilder) records(ks []int, types []element.Type, local []int32, ghost bool) []ElementRecord {
	recs := make([]ElementRecord, len(ks))
	for i, k := range ks {
		nodes := make([]int32, len(pb.EToV[k]))
		for j, v := range pb.EToV[k] {
			nodes[j] = local[v]
		}
		recs[i] = ElementRecord{Type: types[k], Nodes: nodes, Ghost: ghost}
		if pb.Material != nil {
			recs[i].Material = pb.Material[k]
		}
	}
	return recs
}

// elementTypes validates the input and returns the per element types
func (pb *PartitionBuilder) elementTypes() ([]element.Type, error) {
	K := len(pb.EToV)
	if pb.NumPartitions < 1 {
		return nil, fmt.Errorf("partitions: need at least one partition, got %d", pb.NumPartitions)
	}
	if len(pb.EToP) != K {
		return nil, fmt.Errorf("partitions: %d elements but %d partition assignments", K, len(pb.EToP))
	}
	if pb.Types != nil && len(pb.Types) != K {
		return nil, fmt.Errorf("partitions: %d elements but %d element types", K, len(pb.Types))
	}
	if pb.Material != nil && len(pb.Material) != K {
		return nil, fmt.Errorf("partitions: %d elements but %d material ids", K, len(pb.Material))
	}
	types := pb.Types
	if types == nil {
		types = make([]element.Type, K)
	}
	for k, verts := range pb.EToV {
		if p := pb.EToP[k]; p < 0 || p >= pb.NumPartitions {
			return nil, fmt.Errorf("partitions: element %d assigned to partition %d of %d", k, p, pb.NumPartitions)
		}
		for _, v := range verts {
			if v < 0 || v >= len(pb.Vertices) {
				return nil, fmt.Errorf("partitions: element %d references vertex %d of %d", k, v, len(pb.Vertices))
			}
		}
		if pb.Types == nil {
			t, err := element.Linear3D(len(verts))
			if err != nil {
				return nil, fmt.Errorf("partitions: element %d: %w", k, err)
			}
			types[k] = t
		}
		if n := types[k].NumNodes(); n != len(verts) {
			return nil, fmt.Errorf("partitions: element %d of type %v has %d nodes, want %d", k, types[k], len(verts), n)
		}
	}
	return types, nil
}
