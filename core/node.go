package core

import (
	"fmt"
	"math"
)

// NodeType distinguishes the three node classes of the water network.
// Junctions carry demand, reservoirs are infinite fixed-head sources,
// and tanks are finite storage with a level between MinLevel and MaxLevel.
type NodeType string

const (
	NodeJunction  NodeType = "junction"
	NodeReservoir NodeType = "reservoir"
	NodeTank      NodeType = "tank"
)

// Node is a network node. A single struct tagged by Type keeps the
// registry and the JSON scenario format simple; tank-only fields are
// zero for junctions and reservoirs.
type Node struct {
	ID   string   `json:"ID"`
	Type NodeType `json:"Type"`

	// ElevationM is the node elevation above datum in metres. For a
	// reservoir it doubles as the fixed head.
	ElevationM float64 `json:"ElevationM"`

	// HeadM and DemandM3s are hydraulic results written by the solver.
	// DemandM3s is the withdrawal at a junction in m³/s.
	HeadM     float64 `json:"HeadM"`
	DemandM3s float64 `json:"DemandM3s,omitempty"`

	// Tank geometry and state. LevelM is the water column above the
	// tank bottom; head = ElevationM + LevelM.
	LevelM    float64 `json:"LevelM,omitempty"`
	MinLevelM float64 `json:"MinLevelM,omitempty"`
	MaxLevelM float64 `json:"MaxLevelM,omitempty"`
	DiameterM float64 `json:"DiameterM,omitempty"`

	// NetInflowM3s is the signed net flow into the tank (m³/s) from
	// the last solve; positive means the tank is filling. The control
	// engine reads it for level backtracking.
	NetInflowM3s float64 `json:"NetInflowM3s,omitempty"`
}

// Area returns the cross-sectional area of a cylindrical tank in m².
func (n *Node) Area() float64 {
	return math.Pi / 4 * n.DiameterM * n.DiameterM
}

// MinHead and MaxHead convert the tank level bounds to absolute heads.
func (n *Node) MinHead() float64 { return n.ElevationM + n.MinLevelM }
func (n *Node) MaxHead() float64 { return n.ElevationM + n.MaxLevelM }

// Attribute names understood by the polymorphic accessors. Conditions
// and actions reference elements by (name, attribute) pairs rather than
// holding pointers, so element removal is a single invalidation point.
type Attribute string

const (
	AttrHead      Attribute = "head"
	AttrLevel     Attribute = "level"
	AttrPressure  Attribute = "pressure"
	AttrDemand    Attribute = "demand"
	AttrElevation Attribute = "elevation"
	AttrFlow      Attribute = "flow"
	AttrStatus    Attribute = "status"
	AttrSetting   Attribute = "setting"
)

// attribute reads a node attribute by name.
func (n *Node) attribute(attr Attribute) (float64, error) {
	switch attr {
	case AttrHead:
		return n.HeadM, nil
	case AttrLevel:
		return n.LevelM, nil
	case AttrPressure:
		return n.HeadM - n.ElevationM, nil
	case AttrDemand:
		return n.DemandM3s, nil
	case AttrElevation:
		return n.ElevationM, nil
	default:
		return 0, fmt.Errorf("%w: node %q has no attribute %q", ErrBadAttribute, n.ID, attr)
	}
}

// setAttribute writes a node attribute by name. Heads and levels are
// solver results and deliberately not settable through this path.
func (n *Node) setAttribute(attr Attribute, value float64) error {
	switch attr {
	case AttrDemand:
		n.DemandM3s = value
		return nil
	default:
		return fmt.Errorf("%w: node %q attribute %q is not settable", ErrBadAttribute, n.ID, attr)
	}
}
