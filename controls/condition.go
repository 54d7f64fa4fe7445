package controls

import (
	"fmt"
	"math"

	"github.com/flowworksio/hydronet-simulator/core"
)

// Condition is a pure predicate over simulation state. Implementations
// never mutate the network; the only mutable state they may carry is a
// single remembered "previous" value, committed exclusively through
// AcceptStep.
type Condition interface {
	// Evaluate reports whether the condition currently holds. It is
	// idempotent: calling it any number of times between two
	// AcceptStep calls yields the same answer for unchanged state.
	Evaluate() (bool, error)

	// Backtrack returns a non-positive number of seconds describing
	// how far in the past the condition's crossing instant lies
	// relative to now, and whether such a crossing-type hint exists.
	// It is meaningful only during the pre-solve check.
	Backtrack() (float64, bool)

	// AcceptStep commits the current state as the remembered
	// "previous" state. The scheduler calls it exactly once per
	// accepted outer step.
	AcceptStep() error

	// RequiredObjects lists the network elements the condition reads,
	// for removal validation.
	RequiredObjects() []ObjectRef

	String() string
}

// ValueCondition compares a live attribute of a single element against
// a constant threshold.
type ValueCondition struct {
	wn        *core.WaterNetwork
	target    ObjectRef
	attr      core.Attribute
	relation  Relation
	threshold float64
}

// NewValueCondition validates the target, attribute and relation at
// construction time. A NaN threshold is the documented sentinel for
// "valve is in the ACTIVE state" and is rewritten to relation > 0
// rather than failing the comparison.
func NewValueCondition(wn *core.WaterNetwork, target ObjectRef, attr core.Attribute, relation Relation, threshold float64) (*ValueCondition, error) {
	if wn == nil {
		return nil, fmt.Errorf("%w: nil network", ErrBadControl)
	}
	if err := checkExists(wn, target); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadControl, err)
	}
	if !relation.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrBadRelation, relation)
	}
	if math.IsNaN(threshold) {
		relation = RelationGT
		threshold = 0
	}
	c := &ValueCondition{wn: wn, target: target, attr: attr, relation: relation, threshold: threshold}
	// Reject unreadable attributes now, not on the first step.
	if _, err := readAttribute(wn, target, attr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadControl, err)
	}
	return c, nil
}

func (c *ValueCondition) Evaluate() (bool, error) {
	v, err := readAttribute(c.wn, c.target, c.attr)
	if err != nil {
		return false, err
	}
	return c.relation.Compare(v, c.threshold), nil
}

// Backtrack: a plain value comparison has no time model, so it never
// requests a step shrink.
func (c *ValueCondition) Backtrack() (float64, bool) { return 0, false }

func (c *ValueCondition) AcceptStep() error { return nil }

func (c *ValueCondition) RequiredObjects() []ObjectRef { return []ObjectRef{c.target} }

func (c *ValueCondition) String() string {
	return fmt.Sprintf("%s %s %s %g", c.target, c.attr, c.relation, c.threshold)
}

// TankLevelCondition is a ValueCondition specialisation for storage
// nodes: it remembers the previous evaluation's value and derives an
// event-time backtrack from the tank geometry and current net inflow.
type TankLevelCondition struct {
	wn        *core.WaterNetwork
	tank      string
	attr      core.Attribute
	relation  Relation
	threshold float64

	prev      float64
	prevValid bool
}

// NewTankLevelCondition restricts the attribute to level, head or
// pressure and requires the target to be a tank.
func NewTankLevelCondition(wn *core.WaterNetwork, tank string, attr core.Attribute, relation Relation, threshold float64) (*TankLevelCondition, error) {
	if wn == nil {
		return nil, fmt.Errorf("%w: nil network", ErrBadControl)
	}
	n, err := wn.GetNode(tank)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadControl, err)
	}
	if n.Type != core.NodeTank {
		return nil, fmt.Errorf("%w: node %q is not a tank", ErrBadControl, tank)
	}
	switch attr {
	case core.AttrLevel, core.AttrHead, core.AttrPressure:
	default:
		return nil, fmt.Errorf("%w: tank level condition cannot watch %q", ErrBadControl, attr)
	}
	if !relation.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrBadRelation, relation)
	}
	return &TankLevelCondition{wn: wn, tank: tank, attr: attr, relation: relation, threshold: threshold}, nil
}

func (c *TankLevelCondition) Evaluate() (bool, error) {
	v, err := readAttribute(c.wn, NodeRef(c.tank), c.attr)
	if err != nil {
		return false, err
	}
	return c.relation.Compare(v, c.threshold), nil
}

// Backtrack computes Δt = -(current − threshold) · area / netInflow.
// Level, head and pressure all move at the same rate for a vertical
// cylinder, so the formula holds for the whole attribute family. A
// tank with zero net inflow is not moving: there is no crossing to
// land on, so no hint is offered.
func (c *TankLevelCondition) Backtrack() (float64, bool) {
	n, err := c.wn.GetNode(c.tank)
	if err != nil {
		return 0, false
	}
	inflow := n.NetInflowM3s
	if inflow == 0 {
		return 0, false
	}
	area := n.Area()
	if area <= 0 {
		return 0, false
	}
	cur, err := readAttribute(c.wn, NodeRef(c.tank), c.attr)
	if err != nil {
		return 0, false
	}
	bt := -(cur - c.threshold) * area / inflow
	if bt > 0 {
		// The crossing lies ahead, not behind; nothing to shrink.
		return 0, false
	}
	return bt, true
}

// AcceptStep snapshots the current value as the remembered previous
// value. Evaluate never touches this memory, so double evaluation
// within one check cannot corrupt it.
func (c *TankLevelCondition) AcceptStep() error {
	v, err := readAttribute(c.wn, NodeRef(c.tank), c.attr)
	if err != nil {
		return err
	}
	c.prev = v
	c.prevValid = true
	return nil
}

// Previous returns the remembered value from the last accepted step.
func (c *TankLevelCondition) Previous() (float64, bool) { return c.prev, c.prevValid }

func (c *TankLevelCondition) RequiredObjects() []ObjectRef { return []ObjectRef{NodeRef(c.tank)} }

func (c *TankLevelCondition) String() string {
	return fmt.Sprintf("tank:%s %s %s %g", c.tank, c.attr, c.relation, c.threshold)
}

// RelativeCondition compares attributes of two different elements. It
// has no time model and never requests a backtrack.
type RelativeCondition struct {
	wn         *core.WaterNetwork
	source     ObjectRef
	sourceAttr core.Attribute
	relation   Relation
	other      ObjectRef
	otherAttr  core.Attribute
}

func NewRelativeCondition(wn *core.WaterNetwork, source ObjectRef, sourceAttr core.Attribute, relation Relation, other ObjectRef, otherAttr core.Attribute) (*RelativeCondition, error) {
	if wn == nil {
		return nil, fmt.Errorf("%w: nil network", ErrBadControl)
	}
	for _, ref := range []ObjectRef{source, other} {
		if err := checkExists(wn, ref); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadControl, err)
		}
	}
	if !relation.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrBadRelation, relation)
	}
	return &RelativeCondition{wn: wn, source: source, sourceAttr: sourceAttr, relation: relation, other: other, otherAttr: otherAttr}, nil
}

func (c *RelativeCondition) Evaluate() (bool, error) {
	a, err := readAttribute(c.wn, c.source, c.sourceAttr)
	if err != nil {
		return false, err
	}
	b, err := readAttribute(c.wn, c.other, c.otherAttr)
	if err != nil {
		return false, err
	}
	return c.relation.Compare(a, b), nil
}

func (c *RelativeCondition) Backtrack() (float64, bool) { return 0, false }

func (c *RelativeCondition) AcceptStep() error { return nil }

func (c *RelativeCondition) RequiredObjects() []ObjectRef {
	return []ObjectRef{c.source, c.other}
}

func (c *RelativeCondition) String() string {
	return fmt.Sprintf("%s %s %s %s %s", c.source, c.sourceAttr, c.relation, c.other, c.otherAttr)
}
