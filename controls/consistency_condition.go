package controls

import (
	"fmt"

	"github.com/flowworksio/hydronet-simulator/core"
)

// Tolerances for the physical-consistency conditions. Flows within
// flowTolerance of zero count as "no flow"; head differences within
// headTolerance count as balanced.
const (
	flowTolerance = 2.83168466e-5 // m³/s
	headTolerance = 1.524e-4      // m
)

// endpointState is the slice of hydraulic state every consistency
// condition reads: the two end nodes' heads plus the link's own flow
// and status. None of these conditions support backtracking.
type endpointState struct {
	link      *core.Link
	startHead float64
	endHead   float64
}

func loadEndpointState(wn *core.WaterNetwork, linkID string) (endpointState, error) {
	l, err := wn.GetLink(linkID)
	if err != nil {
		return endpointState{}, staleErr(err)
	}
	start, err := wn.GetNode(l.StartNode)
	if err != nil {
		return endpointState{}, staleErr(err)
	}
	end, err := wn.GetNode(l.EndNode)
	if err != nil {
		return endpointState{}, staleErr(err)
	}
	return endpointState{link: l, startHead: start.HeadM, endHead: end.HeadM}, nil
}

// consistencyCondition carries the shared plumbing: the link under
// watch and the no-backtrack contract.
type consistencyCondition struct {
	wn   *core.WaterNetwork
	link string
}

func (c consistencyCondition) Backtrack() (float64, bool) { return 0, false }
func (c consistencyCondition) AcceptStep() error          { return nil }
func (c consistencyCondition) RequiredObjects() []ObjectRef {
	refs := []ObjectRef{LinkRef(c.link)}
	if l, err := c.wn.GetLink(c.link); err == nil {
		refs = append(refs, NodeRef(l.StartNode), NodeRef(l.EndNode))
	}
	return refs
}

//
// ---------- Check-valve pipes ----------
//

// closeCVCondition: the check valve must slam shut on reverse flow, or
// on a reverse head gradient when the pipe is carrying nothing.
type closeCVCondition struct{ consistencyCondition }

func (c *closeCVCondition) Evaluate() (bool, error) {
	st, err := loadEndpointState(c.wn, c.link)
	if err != nil {
		return false, err
	}
	if st.link.Status() == core.StatusClosed {
		return false, nil
	}
	if st.link.FlowM3s < -flowTolerance {
		return true, nil
	}
	dh := st.startHead - st.endHead
	return st.link.FlowM3s <= flowTolerance && dh < -headTolerance, nil
}

func (c *closeCVCondition) String() string { return fmt.Sprintf("cv close link:%s", c.link) }

// openCVCondition: reopen once the head gradient favours forward flow
// again and no reverse flow remains.
type openCVCondition struct{ consistencyCondition }

func (c *openCVCondition) Evaluate() (bool, error) {
	st, err := loadEndpointState(c.wn, c.link)
	if err != nil {
		return false, err
	}
	if st.link.UserStatus == core.StatusClosed {
		return false, nil
	}
	if st.link.Status() != core.StatusClosed {
		return false, nil
	}
	dh := st.startHead - st.endHead
	return dh > headTolerance && st.link.FlowM3s >= -flowTolerance, nil
}

func (c *openCVCondition) String() string { return fmt.Sprintf("cv open link:%s", c.link) }

//
// ---------- Pumps ----------
//

// pumpCutoffHead is the head gain beyond which a pump cannot deliver.
// Head-curve pumps carry an explicit shutoff head; constant-power
// pumps have no static curve, so only reverse flow (and power loss)
// can close them.
func pumpCutoffHead(l *core.Link) float64 {
	if l.PumpKind == core.PumpHeadCurve && l.ShutoffHeadM > 0 {
		return l.ShutoffHeadM
	}
	return 1e6
}

type closePumpCondition struct{ consistencyCondition }

func (c *closePumpCondition) Evaluate() (bool, error) {
	st, err := loadEndpointState(c.wn, c.link)
	if err != nil {
		return false, err
	}
	if st.link.Status() == core.StatusClosed {
		return false, nil
	}
	if st.link.FlowM3s < -flowTolerance {
		return true, nil
	}
	gain := st.endHead - st.startHead
	return gain > pumpCutoffHead(st.link)+headTolerance, nil
}

func (c *closePumpCondition) String() string { return fmt.Sprintf("pump close link:%s", c.link) }

type openPumpCondition struct{ consistencyCondition }

func (c *openPumpCondition) Evaluate() (bool, error) {
	st, err := loadEndpointState(c.wn, c.link)
	if err != nil {
		return false, err
	}
	if st.link.UserStatus == core.StatusClosed || st.link.PowerOutage {
		return false, nil
	}
	if st.link.Status() != core.StatusClosed {
		return false, nil
	}
	gain := st.endHead - st.startHead
	return gain < pumpCutoffHead(st.link)-headTolerance, nil
}

func (c *openPumpCondition) String() string { return fmt.Sprintf("pump open link:%s", c.link) }

// powerOutageCondition closes a pump that lost power; its inverse
// clears the outage status once power returns.
type powerOutageCondition struct {
	consistencyCondition
	// lost selects whether the condition watches for the outage (true)
	// or for its clearance (false).
	lost bool
}

func (c *powerOutageCondition) Evaluate() (bool, error) {
	l, err := c.wn.GetLink(c.link)
	if err != nil {
		return false, staleErr(err)
	}
	if c.lost {
		return l.PowerOutage && l.Status() != core.StatusClosed, nil
	}
	return !l.PowerOutage && l.UserStatus != core.StatusClosed && l.Status() == core.StatusClosed, nil
}

func (c *powerOutageCondition) String() string {
	if c.lost {
		return fmt.Sprintf("pump power lost link:%s", c.link)
	}
	return fmt.Sprintf("pump power restored link:%s", c.link)
}

//
// ---------- Pressure-reducing valves (open / active / closed) ----------
//

// prvSettingHead converts the valve setting into an absolute target
// head at the downstream node.
func prvSettingHead(wn *core.WaterNetwork, l *core.Link) (float64, error) {
	end, err := wn.GetNode(l.EndNode)
	if err != nil {
		return 0, staleErr(err)
	}
	return end.ElevationM + l.SettingM, nil
}

// closePRVCondition: reverse flow through a PRV is never admissible.
type closePRVCondition struct{ consistencyCondition }

func (c *closePRVCondition) Evaluate() (bool, error) {
	st, err := loadEndpointState(c.wn, c.link)
	if err != nil {
		return false, err
	}
	if st.link.Status() == core.StatusClosed {
		return false, nil
	}
	return st.link.FlowM3s < -flowTolerance, nil
}

func (c *closePRVCondition) String() string { return fmt.Sprintf("prv close link:%s", c.link) }

// activePRVCondition: the upstream side can deliver more head than the
// setting allows downstream, so the valve must throttle.
type activePRVCondition struct{ consistencyCondition }

func (c *activePRVCondition) Evaluate() (bool, error) {
	st, err := loadEndpointState(c.wn, c.link)
	if err != nil {
		return false, err
	}
	if st.link.UserStatus == core.StatusClosed || st.link.Status() == core.StatusActive {
		return false, nil
	}
	target, err := prvSettingHead(c.wn, st.link)
	if err != nil {
		return false, err
	}
	return st.startHead > target+headTolerance && st.link.FlowM3s >= -flowTolerance, nil
}

func (c *activePRVCondition) String() string { return fmt.Sprintf("prv active link:%s", c.link) }

// openPRVCondition: the upstream head has fallen below the setting, so
// there is nothing to reduce and the valve passes flow freely.
type openPRVCondition struct{ consistencyCondition }

func (c *openPRVCondition) Evaluate() (bool, error) {
	st, err := loadEndpointState(c.wn, c.link)
	if err != nil {
		return false, err
	}
	if st.link.UserStatus == core.StatusClosed || st.link.Status() == core.StatusOpen {
		return false, nil
	}
	target, err := prvSettingHead(c.wn, st.link)
	if err != nil {
		return false, err
	}
	return st.startHead < target-headTolerance && st.link.FlowM3s >= -flowTolerance, nil
}

func (c *openPRVCondition) String() string { return fmt.Sprintf("prv open link:%s", c.link) }

//
// ---------- Flow-control valves (open / active) ----------
//

// activeFCVCondition: more flow is arriving than the setting allows,
// so the valve must throttle down to the setting.
type activeFCVCondition struct{ consistencyCondition }

func (c *activeFCVCondition) Evaluate() (bool, error) {
	st, err := loadEndpointState(c.wn, c.link)
	if err != nil {
		return false, err
	}
	if st.link.UserStatus == core.StatusClosed || st.link.Status() == core.StatusActive {
		return false, nil
	}
	return st.link.FlowM3s > st.link.SettingM+flowTolerance, nil
}

func (c *activeFCVCondition) String() string { return fmt.Sprintf("fcv active link:%s", c.link) }

// openFCVCondition: the network cannot deliver the setting flow even
// unthrottled, so regulating is pointless and the valve opens fully.
type openFCVCondition struct{ consistencyCondition }

func (c *openFCVCondition) Evaluate() (bool, error) {
	st, err := loadEndpointState(c.wn, c.link)
	if err != nil {
		return false, err
	}
	if st.link.UserStatus == core.StatusClosed || st.link.Status() != core.StatusActive {
		return false, nil
	}
	return st.link.FlowM3s < st.link.SettingM-flowTolerance, nil
}

func (c *openFCVCondition) String() string { return fmt.Sprintf("fcv open link:%s", c.link) }

// linkUserOpenCondition gates generated tank-boundary controls: a link
// the user explicitly closed must stay closed no matter what the tank
// levels suggest.
type linkUserOpenCondition struct{ consistencyCondition }

func (c *linkUserOpenCondition) Evaluate() (bool, error) {
	l, err := c.wn.GetLink(c.link)
	if err != nil {
		return false, staleErr(err)
	}
	return l.UserStatus != core.StatusClosed, nil
}

func (c *linkUserOpenCondition) String() string {
	return fmt.Sprintf("link:%s not user-closed", c.link)
}
