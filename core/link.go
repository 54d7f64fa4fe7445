package core

import "fmt"

// LinkType distinguishes the controllable link classes. Valves other
// than PRV and FCV are carried for completeness; the automatic
// consistency controls only cover check-valve pipes, pumps, PRVs and
// FCVs.
type LinkType string

const (
	LinkPipe LinkType = "pipe"
	LinkPump LinkType = "pump"
	LinkPRV  LinkType = "prv"
	LinkPSV  LinkType = "psv"
	LinkFCV  LinkType = "fcv"
	LinkTCV  LinkType = "tcv"
)

// LinkStatus is the discrete operational state of a link. Active is
// the third valve state: the valve is regulating at its setting rather
// than passing flow freely or blocking it.
type LinkStatus int

const (
	StatusClosed LinkStatus = iota
	StatusOpen
	StatusActive
)

func (s LinkStatus) String() string {
	switch s {
	case StatusClosed:
		return "closed"
	case StatusOpen:
		return "open"
	case StatusActive:
		return "active"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// PumpKind selects the pump model used by the consistency conditions.
type PumpKind string

const (
	PumpPower     PumpKind = "power"
	PumpHeadCurve PumpKind = "head_curve"
)

// Link is a network link. A single struct tagged by Type mirrors the
// node model; class-specific fields are zero elsewhere.
type Link struct {
	ID        string   `json:"ID"`
	Type      LinkType `json:"Type"`
	StartNode string   `json:"StartNode"`
	EndNode   string   `json:"EndNode"`

	// UserStatus is the externally commanded status. The effective
	// status lives in internalStatus so that consistency controls can
	// drive valve sub-states (e.g. PRV active) without clobbering what
	// the user asked for.
	UserStatus LinkStatus `json:"UserStatus"`

	// internalStatus is the effective status seen by the solver and
	// reported by Status(). Control actions write it; nothing else may.
	internalStatus LinkStatus

	// SettingM is the valve setting (pressure head in metres for a
	// PRV/PSV, flow in m³/s for an FCV) or the pump speed multiplier.
	SettingM float64 `json:"SettingM,omitempty"`

	// FlowM3s is the signed flow from StartNode to EndNode written by
	// the solver.
	FlowM3s float64 `json:"FlowM3s,omitempty"`

	// Pipe hydraulics for the demonstration solver.
	DiameterM  float64 `json:"DiameterM,omitempty"`
	LengthM    float64 `json:"LengthM,omitempty"`
	CheckValve bool    `json:"CheckValve,omitempty"`

	// Pump fields. ShutoffHeadM is the maximum head gain a head-curve
	// pump can sustain; PowerOutage forces the pump off until cleared.
	PumpKind     PumpKind `json:"PumpKind,omitempty"`
	ShutoffHeadM float64  `json:"ShutoffHeadM,omitempty"`
	PowerOutage  bool     `json:"PowerOutage,omitempty"`
}

// Status returns the effective status of the link.
func (l *Link) Status() LinkStatus { return l.internalStatus }

// SetStatus applies an external status change: both the commanded and
// the effective status move together.
func (l *Link) SetStatus(s LinkStatus) {
	l.UserStatus = s
	l.internalStatus = s
}

// setInternalStatus moves only the effective status. Used by internal
// control actions so valve sub-states stay hidden behind Status().
func (l *Link) setInternalStatus(s LinkStatus) { l.internalStatus = s }

// IsOpen reports whether any flow may pass (open or actively
// regulating).
func (l *Link) IsOpen() bool { return l.internalStatus != StatusClosed }

// attribute reads a link attribute by name.
func (l *Link) attribute(attr Attribute) (float64, error) {
	switch attr {
	case AttrFlow:
		return l.FlowM3s, nil
	case AttrStatus:
		return float64(l.internalStatus), nil
	case AttrSetting:
		return l.SettingM, nil
	default:
		return 0, fmt.Errorf("%w: link %q has no attribute %q", ErrBadAttribute, l.ID, attr)
	}
}

// setAttribute writes a link attribute by name. Flow is a solver
// result and not settable.
func (l *Link) setAttribute(attr Attribute, value float64) error {
	switch attr {
	case AttrStatus:
		l.SetStatus(LinkStatus(int(value)))
		return nil
	case AttrSetting:
		l.SettingM = value
		return nil
	default:
		return fmt.Errorf("%w: link %q attribute %q is not settable", ErrBadAttribute, l.ID, attr)
	}
}
