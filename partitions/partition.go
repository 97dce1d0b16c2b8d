// Package partitions reads and writes the per-rank partition files of a
// node-partitioned mesh. Each rank reads only its own node block and its
// regular and ghost element blocks; nothing in this package communicates.
package partitions

import (
	"github.com/notargets/ddcmesh/element"
)

// Version is the schema version written into, and required of, every file
const Version = 1

// Header field counts of the two encodings. Binary carries three byte offsets
// that the sequential text encoding has no use for.
const (
	BinaryHeaderLen = 14
	TextHeaderLen   = 11
)

// Header describes one partition: its node and element counts and the size
// of its element blocks
type Header struct {
	TotalNodes        int64 // Local nodes, active and ghost, both orders
	LinearNodes       int64 // Local nodes that are linear (corner) nodes
	RegularElements   int64 // Elements owned by this partition
	GhostElements     int64 // Other partitions' elements touching owned nodes
	ActiveLinearNodes int64 // Owned linear nodes, local ids [0, ActiveLinearNodes)
	ActiveAllNodes    int64 // Owned nodes of both orders, local ids [0, ActiveAllNodes)
	GlobalLinearNodes int64 // Linear nodes in the whole mesh
	GlobalAllNodes    int64 // Nodes of both orders in the whole mesh

	// Element block lengths in int32 values
	RegularIntCount int64
	GhostIntCount   int64

	Flags int64 // Reserved, written as 0
}

// Offsets locates a partition's blocks in the binary node and element files
type Offsets struct {
	Node    int64 // Byte offset in the _nod file
	Regular int64 // Byte offset in the _ele file
	Ghost   int64 // Byte offset in the _ele_g file
}

// Binary returns the 14-field on-disk header
func (h Header) Binary(o Offsets) [BinaryHeaderLen]int64 {
	return [BinaryHeaderLen]int64{
		h.TotalNodes, h.LinearNodes, h.RegularElements, h.GhostElements,
		h.ActiveLinearNodes, h.ActiveAllNodes, h.GlobalLinearNodes, h.GlobalAllNodes,
		o.Node, o.Regular, o.Ghost,
		h.RegularIntCount, h.GhostIntCount, h.Flags,
	}
}

// Text returns the 11-field on-disk header
func (h Header) Text() [TextHeaderLen]int64 {
	return [TextHeaderLen]int64{
		h.TotalNodes, h.LinearNodes, h.RegularElements, h.GhostElements,
		h.ActiveLinearNodes, h.ActiveAllNodes, h.GlobalLinearNodes, h.GlobalAllNodes,
		h.RegularIntCount, h.GhostIntCount, h.Flags,
	}
}

func headerFromBinary(f [BinaryHeaderLen]int64) (Header, Offsets) {
	return Header{
			TotalNodes: f[0], LinearNodes: f[1], RegularElements: f[2], GhostElements: f[3],
			ActiveLinearNodes: f[4], ActiveAllNodes: f[5], GlobalLinearNodes: f[6], GlobalAllNodes: f[7],
			RegularIntCount: f[11], GhostIntCount: f[12], Flags: f[13],
		}, Offsets{
			Node: f[8], Regular: f[9], Ghost: f[10],
		}
}

func headerFromText(f [TextHeaderLen]int64) Header {
	return Header{
		TotalNodes: f[0], LinearNodes: f[1], RegularElements: f[2], GhostElements: f[3],
		ActiveLinearNodes: f[4], ActiveAllNodes: f[5], GlobalLinearNodes: f[6], GlobalAllNodes: f[7],
		RegularIntCount: f[8], GhostIntCount: f[9], Flags: f[10],
	}
}

// NodeRecord is one local node as stored on disk
type NodeRecord struct {
	GlobalID int64
	Coords   [3]float64
}

// nodeRecordSize is the binary size of a NodeRecord
const nodeRecordSize = 8 + 3*8

// ElementRecord is one element as stored on disk. Nodes are local node
// indices into the partition's node block.
type ElementRecord struct {
	Type     element.Type
	Material int32
	Nodes    []int32
	Ghost    bool // Set from the block the record was read from
}

// intCount is the record's length in int32 values: type, material, count, nodes
func (r ElementRecord) intCount() int64 { return 3 + int64(len(r.Nodes)) }

// RawPartition is everything one rank reads from disk
type RawPartition struct {
	Rank    int
	Header  Header
	Nodes   []NodeRecord
	Regular []ElementRecord
	Ghost   []ElementRecord
}

// UpdateCounts sets every header count derivable from the records. The
// active and global counts are left alone.
func (p *RawPartition) UpdateCounts() {
	p.Header.TotalNodes = int64(len(p.Nodes))
	p.Header.RegularElements = int64(len(p.Regular))
	p.Header.GhostElements = int64(len(p.Ghost))
	p.Header.RegularIntCount = blockIntCount(p.Regular)
	p.Header.GhostIntCount = blockIntCount(p.Ghost)
}

func blockIntCount(recs []ElementRecord) int64 {
	var n int64
	for _, r := range recs {
		n += r.intCount()
	}
	return n
}
