package controls

import (
	"fmt"
	"strings"
)

// Priority orders control execution within a step. The scheduler runs
// the levels in ascending order; violating this ordering produces
// non-physical oscillation (e.g. a check valve closing before a
// tank-boundary control reopens the link).
//
// The generated physical-consistency controls use the four lowest
// levels with fixed meanings:
//
//	0: reopen class (time/conditional opens, CV/pump/valve reopens,
//	   tank-boundary reopens, power restoration)
//	1: tank-boundary closes on min/max level crossings
//	2: tank-boundary conditional reopens by would-be flow direction
//	3: final closes (time/conditional closes, CV/pump closes,
//	   power-outage closes)
//
// Levels 4 through 6 are available to user rules that must run after all
// consistency enforcement.
type Priority int

const (
	PriorityVeryLow Priority = iota
	PriorityLow
	PriorityMediumLow
	PriorityMedium
	PriorityMediumHigh
	PriorityHigh
	PriorityVeryHigh

	numPriorities
)

func (p Priority) Valid() bool { return p >= PriorityVeryLow && p < numPriorities }

func (p Priority) String() string {
	switch p {
	case PriorityVeryLow:
		return "very_low"
	case PriorityLow:
		return "low"
	case PriorityMediumLow:
		return "medium_low"
	case PriorityMedium:
		return "medium"
	case PriorityMediumHigh:
		return "medium_high"
	case PriorityHigh:
		return "high"
	case PriorityVeryHigh:
		return "very_high"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Control couples one condition to one or more "then" actions and zero
// or more "else" actions, tagged with a priority level. A control is
// stateless between evaluations except for the fired-branch flag and
// the truth remembered at the last accepted step (used to detect
// conditions that just became true).
type Control struct {
	name        string
	condition   Condition
	thenActions []Action
	elseActions []Action
	priority    Priority

	// lastTruth is the condition outcome at the last accepted step.
	lastTruth bool
	// firedThen records which branch ran last.
	firedThen bool
}

// NewControl validates the whole specification up front; a malformed
// control is never partially registered.
func NewControl(name string, condition Condition, thenActions, elseActions []Action, priority Priority) (*Control, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: empty name", ErrBadControl)
	}
	if condition == nil {
		return nil, fmt.Errorf("%w: %q has no condition", ErrBadControl, name)
	}
	if len(thenActions) == 0 {
		return nil, fmt.Errorf("%w: %q has no then-actions", ErrBadControl, name)
	}
	for i, a := range thenActions {
		if a == nil {
			return nil, fmt.Errorf("%w: %q then-action %d is nil", ErrBadControl, name, i)
		}
	}
	for i, a := range elseActions {
		if a == nil {
			return nil, fmt.Errorf("%w: %q else-action %d is nil", ErrBadControl, name, i)
		}
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("%w: %q priority %d outside [0, %d]", ErrBadControl, name, int(priority), int(numPriorities)-1)
	}
	return &Control{
		name:        name,
		condition:   condition,
		thenActions: thenActions,
		elseActions: elseActions,
		priority:    priority,
	}, nil
}

func (c *Control) Name() string         { return c.name }
func (c *Control) Priority() Priority   { return c.priority }
func (c *Control) Condition() Condition { return c.condition }

// FiredThen reports which action list ran last.
func (c *Control) FiredThen() bool { return c.firedThen }

// RequiredObjects is the union of everything the condition and the
// actions reference.
func (c *Control) RequiredObjects() []ObjectRef {
	refs := append([]ObjectRef{}, c.condition.RequiredObjects()...)
	for _, a := range c.thenActions {
		refs = append(refs, a.RequiredObjects()...)
	}
	for _, a := range c.elseActions {
		refs = append(refs, a.RequiredObjects()...)
	}
	return refs
}

// References reports whether the control touches the named element.
func (c *Control) References(elementName string) bool {
	for _, ref := range c.RequiredObjects() {
		if ref.Name == elementName {
			return true
		}
	}
	return false
}

func (c *Control) String() string {
	return fmt.Sprintf("control %q: if %s (priority %s)", c.name, c.condition, c.priority)
}
