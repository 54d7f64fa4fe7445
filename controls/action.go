package controls

import (
	"fmt"

	"github.com/flowworksio/hydronet-simulator/core"
)

// Action is a mutation of exactly one attribute on exactly one target
// element. Every action names a single (target, attribute) pair for
// change tracking, even when the write goes through an internal field.
type Action interface {
	// Run applies the mutation and returns the tracked pair with the
	// value now effective for it.
	Run() (ObjectRef, core.Attribute, float64, error)

	// Target returns the tracked (target, attribute) pair without
	// mutating anything, so the tracker can be primed at registration.
	Target() (ObjectRef, core.Attribute)

	RequiredObjects() []ObjectRef

	String() string
}

// SetAttributeAction is the external-facing mutation: it writes a
// user-visible attribute (link status, valve setting, node demand)
// directly.
type SetAttributeAction struct {
	wn     *core.WaterNetwork
	target ObjectRef
	attr   core.Attribute
	value  float64
}

func NewSetAttributeAction(wn *core.WaterNetwork, target ObjectRef, attr core.Attribute, value float64) (*SetAttributeAction, error) {
	if wn == nil {
		return nil, fmt.Errorf("%w: nil network", ErrBadControl)
	}
	if err := checkExists(wn, target); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadControl, err)
	}
	if _, err := readAttribute(wn, target, attr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadControl, err)
	}
	return &SetAttributeAction{wn: wn, target: target, attr: attr, value: value}, nil
}

// NewLinkStatusAction is shorthand for the most common action.
func NewLinkStatusAction(wn *core.WaterNetwork, link string, status core.LinkStatus) (*SetAttributeAction, error) {
	return NewSetAttributeAction(wn, LinkRef(link), core.AttrStatus, float64(status))
}

func (a *SetAttributeAction) Run() (ObjectRef, core.Attribute, float64, error) {
	if err := writeAttribute(a.wn, a.target, a.attr, a.value); err != nil {
		return a.target, a.attr, 0, err
	}
	return a.target, a.attr, a.value, nil
}

func (a *SetAttributeAction) Target() (ObjectRef, core.Attribute) { return a.target, a.attr }

func (a *SetAttributeAction) RequiredObjects() []ObjectRef { return []ObjectRef{a.target} }

func (a *SetAttributeAction) String() string {
	return fmt.Sprintf("set %s %s = %g", a.target, a.attr, a.value)
}

// SetInternalStatusAction writes a link's internal (effective) status
// while reporting effective change against the public "status"
// attribute. This is how valve ACTIVE sub-states stay hidden behind
// the simpler user-visible status.
type SetInternalStatusAction struct {
	wn     *core.WaterNetwork
	link   string
	status core.LinkStatus
}

func NewSetInternalStatusAction(wn *core.WaterNetwork, link string, status core.LinkStatus) (*SetInternalStatusAction, error) {
	if wn == nil {
		return nil, fmt.Errorf("%w: nil network", ErrBadControl)
	}
	if _, err := wn.GetLink(link); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadControl, err)
	}
	return &SetInternalStatusAction{wn: wn, link: link, status: status}, nil
}

func (a *SetInternalStatusAction) Run() (ObjectRef, core.Attribute, float64, error) {
	if err := a.wn.SetLinkInternalStatus(a.link, a.status); err != nil {
		return LinkRef(a.link), core.AttrStatus, 0, staleErr(err)
	}
	return LinkRef(a.link), core.AttrStatus, float64(a.status), nil
}

func (a *SetInternalStatusAction) Target() (ObjectRef, core.Attribute) {
	return LinkRef(a.link), core.AttrStatus
}

func (a *SetInternalStatusAction) RequiredObjects() []ObjectRef {
	return []ObjectRef{LinkRef(a.link)}
}

func (a *SetInternalStatusAction) String() string {
	return fmt.Sprintf("set link:%s internal status = %s", a.link, a.status)
}
