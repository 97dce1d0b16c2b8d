package element

import "fmt"

type Dimensionality uint8

const (
	D0 Dimensionality = iota
	D1
	D2
	D3
)

type ElementGeometry uint8

const (
	Point ElementGeometry = iota
	Line
	Tri
	Rectangle
	Tet
	Hex
	Prism
	Pyramid
)

func (g ElementGeometry) String() string {
	switch g {
	case Point:
		return "Point"
	case Line:
		return "Line"
	case Tri:
		return "Tri"
	case Rectangle:
		return "Rectangle"
	case Tet:
		return "Tet"
	case Hex:
		return "Hex"
	case Prism:
		return "Prism"
	case Pyramid:
		return "Pyramid"
	}
	return fmt.Sprintf("ElementGeometry(%d)", uint8(g))
}

// Type is the element type tag stored in partition files
type Type int32

const (
	Point1 Type = iota
	Line2
	Line3
	Tri3
	Tri6
	Quad4
	Quad8
	Quad9
	Tet4
	Tet10
	Hex8
	Hex20
	Prism6
	Prism15
	Pyramid5
	Pyramid13
	numTypes
)

// Properties describes the node layout of an element type
type Properties struct {
	Name       string          // e.g. "Quadratic Tetrahedron"
	ShortName  string          // e.g. "Tet10"
	Geometry   ElementGeometry // Element shape
	Order      int             // 1 for linear, 2 for quadratic
	Np         int             // Total number of nodes
	NVp        int             // Vertex (linear) nodes, always listed first
	Dimensions Dimensionality
}

var catalog = [numTypes]Properties{
	Point1:    {"Point", "Point1", Point, 1, 1, 1, D0},
	Line2:     {"Linear Line", "Line2", Line, 1, 2, 2, D1},
	Line3:     {"Quadratic Line", "Line3", Line, 2, 3, 2, D1},
	Tri3:      {"Linear Triangle", "Tri3", Tri, 1, 3, 3, D2},
	Tri6:      {"Quadratic Triangle", "Tri6", Tri, 2, 6, 3, D2},
	Quad4:     {"Linear Quadrilateral", "Quad4", Rectangle, 1, 4, 4, D2},
	Quad8:     {"Serendipity Quadrilateral", "Quad8", Rectangle, 2, 8, 4, D2},
	Quad9:     {"Quadratic Quadrilateral", "Quad9", Rectangle, 2, 9, 4, D2},
	Tet4:      {"Linear Tetrahedron", "Tet4", Tet, 1, 4, 4, D3},
	Tet10:     {"Quadratic Tetrahedron", "Tet10", Tet, 2, 10, 4, D3},
	Hex8:      {"Linear Hexahedron", "Hex8", Hex, 1, 8, 8, D3},
	Hex20:     {"Serendipity Hexahedron", "Hex20", Hex, 2, 20, 8, D3},
	Prism6:    {"Linear Prism", "Prism6", Prism, 1, 6, 6, D3},
	Prism15:   {"Quadratic Prism", "Prism15", Prism, 2, 15, 6, D3},
	Pyramid5:  {"Linear Pyramid", "Pyramid5", Pyramid, 1, 5, 5, D3},
	Pyramid13: {"Quadratic Pyramid", "Pyramid13", Pyramid, 2, 13, 5, D3},
}

// Valid reports whether t is a known tag
func (t Type) Valid() bool {
	return t >= 0 && t < numTypes
}

// Properties returns the layout of t, or an error for an unknown tag
func (t Type) Properties() (Properties, error) {
	if !t.Valid() {
		return Properties{}, fmt.Errorf("unknown element type tag %d", int32(t))
	}
	return catalog[t], nil
}

// NumNodes returns the node count of t, 0 for an unknown tag
func (t Type) NumNodes() int {
	if !t.Valid() {
		return 0
	}
	return catalog[t].Np
}

// Order returns the polynomial order of t, 0 for an unknown tag
func (t Type) Order() int {
	if !t.Valid() {
		return 0
	}
	return catalog[t].Order
}

func (t Type) String() string {
	if !t.Valid() {
		return fmt.Sprintf("Type(%d)", int32(t))
	}
	return catalog[t].ShortName
}

// Linear3D maps a 3D vertex count to the linear element type with that many
// vertices. Mesh readers only hand out vertex connectivity, so this is enough
// to tag imported cells.
func Linear3D(nverts int) (Type, error) {
	switch nverts {
	case 4:
		return Tet4, nil
	case 5:
		return Pyramid5, nil
	case 6:
		return Prism6, nil
	case 8:
		return Hex8, nil
	}
	return 0, fmt.Errorf("no 3D element has %d vertices", nverts)
}
