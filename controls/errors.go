package controls

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBadControl covers malformed control/condition/action
	// specifications rejected at construction time.
	ErrBadControl = errors.New("invalid control")
	// ErrBadRelation marks an unparseable or unsupported relation.
	ErrBadRelation = errors.New("invalid relation")
	// ErrControlExists is returned when registering a duplicate name.
	ErrControlExists = errors.New("control already registered")
	// ErrControlNotFound is returned when deregistering an unknown name.
	ErrControlNotFound = errors.New("control not found")
	// ErrStaleReference marks a condition or action whose backing
	// element was removed from the network after construction.
	ErrStaleReference = errors.New("stale element reference")
	// ErrDependentControls is returned when an element removal is
	// validated while controls still reference the element.
	ErrDependentControls = errors.New("element has dependent controls")
)

// ConvergenceError is the fatal outcome of a priority level that never
// reached a fixed point within the pass cap. It indicates a genuine
// control conflict (two controls perpetually re-opening and re-closing
// the same target), so the step must be aborted, not truncated.
type ConvergenceError struct {
	Priority Priority
	Passes   int
	// Oscillating lists the (target, attribute) pairs that kept
	// changing during the final pass.
	Oscillating []string
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("control fixed point not reached at priority %d after %d passes; oscillating: %s",
		int(e.Priority), e.Passes, strings.Join(e.Oscillating, ", "))
}
