package controls

import "fmt"

// AndCondition holds when both children hold. Its backtrack is the
// minimum (furthest back) of the children's hints, since both
// crossings must already have happened.
type AndCondition struct {
	a, b Condition
}

// OrCondition holds when either child holds. Its backtrack is the
// maximum (closest to now) of the children's hints.
type OrCondition struct {
	a, b Condition
}

func NewAndCondition(a, b Condition) (*AndCondition, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("%w: nil operand in AND", ErrBadControl)
	}
	return &AndCondition{a: a, b: b}, nil
}

func NewOrCondition(a, b Condition) (*OrCondition, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("%w: nil operand in OR", ErrBadControl)
	}
	return &OrCondition{a: a, b: b}, nil
}

func (c *AndCondition) Evaluate() (bool, error) {
	ea, err := c.a.Evaluate()
	if err != nil {
		return false, err
	}
	eb, err := c.b.Evaluate()
	if err != nil {
		return false, err
	}
	return ea && eb, nil
}

func (c *OrCondition) Evaluate() (bool, error) {
	ea, err := c.a.Evaluate()
	if err != nil {
		return false, err
	}
	eb, err := c.b.Evaluate()
	if err != nil {
		return false, err
	}
	return ea || eb, nil
}

func (c *AndCondition) Backtrack() (float64, bool) {
	return combineBacktracks(c.a, c.b, func(x, y float64) float64 {
		if x < y {
			return x
		}
		return y
	})
}

func (c *OrCondition) Backtrack() (float64, bool) {
	return combineBacktracks(c.a, c.b, func(x, y float64) float64 {
		if x > y {
			return x
		}
		return y
	})
}

func combineBacktracks(a, b Condition, pick func(x, y float64) float64) (float64, bool) {
	ba, oka := a.Backtrack()
	bb, okb := b.Backtrack()
	switch {
	case oka && okb:
		return pick(ba, bb), true
	case oka:
		return ba, true
	case okb:
		return bb, true
	default:
		return 0, false
	}
}

func (c *AndCondition) AcceptStep() error {
	if err := c.a.AcceptStep(); err != nil {
		return err
	}
	return c.b.AcceptStep()
}

func (c *OrCondition) AcceptStep() error {
	if err := c.a.AcceptStep(); err != nil {
		return err
	}
	return c.b.AcceptStep()
}

func (c *AndCondition) RequiredObjects() []ObjectRef {
	return append(append([]ObjectRef{}, c.a.RequiredObjects()...), c.b.RequiredObjects()...)
}

func (c *OrCondition) RequiredObjects() []ObjectRef {
	return append(append([]ObjectRef{}, c.a.RequiredObjects()...), c.b.RequiredObjects()...)
}

func (c *AndCondition) String() string { return fmt.Sprintf("(%s AND %s)", c.a, c.b) }
func (c *OrCondition) String() string  { return fmt.Sprintf("(%s OR %s)", c.a, c.b) }
