// Package topology computes which links a rank needs for
// a communication pattern and which role it plays on each
// of them.
//
// Everything in this package is a pure function of its
// arguments: every rank runs the same computation on its
// own and the results agree without any negotiation.
package topology

import "fmt"

// A Pattern is the shape of a communication plane.
type Pattern int

const (
	Ring Pattern = iota
	Mesh
	HalvingDoubling
	Star
	PointToPoint
	PartialMesh
)

// String returns the name of the pattern.
func (p Pattern) String() string {
	switch p {
	case Ring:
		return "Ring"
	case Mesh:
		return "Mesh"
	case HalvingDoubling:
		return "HalvingDoubling"
	case Star:
		return "Star"
	case PointToPoint:
		return "PointToPoint"
	case PartialMesh:
		return "PartialMesh"
	}
	return fmt.Sprintf("Pattern(%d)", int(p))
}
