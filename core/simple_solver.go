package core

import (
	"fmt"
	"math"
)

// SimpleSolver is a deliberately crude hydraulic solver used by the
// demo binary and the end-to-end tests. It propagates heads outward
// from fixed-head nodes over open links, estimates link flows from a
// square-root headloss relation, and integrates tank levels from net
// inflow. It makes no attempt at mass balance at junctions.
//
// The control engine never depends on this type directly; it sees
// whatever solver the step loop provides. Anything resembling real
// hydraulics belongs to an external solver.
type SimpleSolver struct {
	// PerLinkHeadDropM is the flat head drop charged per traversed
	// link during head propagation.
	PerLinkHeadDropM float64

	// DefaultPumpGainM is the head gain for pumps without a shutoff
	// head.
	DefaultPumpGainM float64
}

func NewSimpleSolver() *SimpleSolver {
	return &SimpleSolver{
		PerLinkHeadDropM: 0.5,
		DefaultPumpGainM: 20.0,
	}
}

// Solve updates heads, link flows, tank net inflows, and then
// integrates tank levels across dtSeconds.
func (s *SimpleSolver) Solve(wn *WaterNetwork, dtSeconds int64) error {
	if wn == nil {
		return fmt.Errorf("SimpleSolver: network is nil")
	}

	s.assignHeads(wn)
	s.assignFlows(wn)
	s.integrateTanks(wn, dtSeconds)
	return nil
}

// assignHeads seeds fixed-head nodes and relaxes junction heads from
// their neighbours over open links until stable. The relaxation is a
// best-head propagation, not a mass-balance solve.
func (s *SimpleSolver) assignHeads(wn *WaterNetwork) {
	nodes := wn.GetAllNodes()

	assigned := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		switch n.Type {
		case NodeReservoir:
			n.HeadM = n.ElevationM
			assigned[n.ID] = true
		case NodeTank:
			n.HeadM = n.ElevationM + n.LevelM
			assigned[n.ID] = true
		}
	}

	// Bounded relaxation; the network diameter bounds the passes we
	// actually need.
	for pass := 0; pass < len(nodes)+1; pass++ {
		changed := false
		for _, l := range wn.GetAllLinks() {
			if !l.IsOpen() {
				continue
			}
			start, errA := wn.GetNode(l.StartNode)
			end, errB := wn.GetNode(l.EndNode)
			if errA != nil || errB != nil {
				continue
			}
			changed = s.propagate(l, start, end, assigned) || changed
			changed = s.propagate(l, end, start, assigned) || changed
		}
		if !changed {
			break
		}
	}
}

// propagate pushes head from a known node across one link.
func (s *SimpleSolver) propagate(l *Link, from, to *Node, assigned map[string]bool) bool {
	if !assigned[from.ID] {
		return false
	}
	// Fixed-head nodes never accept propagated heads.
	if to.Type != NodeJunction {
		return false
	}

	candidate := from.HeadM - s.PerLinkHeadDropM
	if l.Type == LinkPump && l.StartNode == from.ID {
		candidate = from.HeadM + s.pumpGain(l)
	}
	if l.Type == LinkPRV && l.Status() == StatusActive && l.EndNode == to.ID {
		candidate = to.ElevationM + l.SettingM
	}

	if !assigned[to.ID] || candidate > to.HeadM {
		to.HeadM = candidate
		assigned[to.ID] = true
		return true
	}
	return false
}

func (s *SimpleSolver) pumpGain(l *Link) float64 {
	if l.ShutoffHeadM > 0 {
		return l.ShutoffHeadM * 0.75
	}
	return s.DefaultPumpGainM
}

// assignFlows estimates a signed flow for every link from the head
// difference across it. Closed links carry no flow. Check valves are
// NOT enforced here: reverse flow through a CV pipe is exactly the
// signal the control engine's consistency rules react to.
func (s *SimpleSolver) assignFlows(wn *WaterNetwork) {
	for _, l := range wn.GetAllLinks() {
		if !l.IsOpen() {
			l.FlowM3s = 0
			continue
		}
		start, errA := wn.GetNode(l.StartNode)
		end, errB := wn.GetNode(l.EndNode)
		if errA != nil || errB != nil {
			l.FlowM3s = 0
			continue
		}

		dh := start.HeadM - end.HeadM
		if l.Type == LinkPump {
			dh += s.pumpGain(l)
		}

		c := s.conductance(l)
		flow := math.Copysign(c*math.Sqrt(math.Abs(dh)), dh)

		if l.Type == LinkFCV && l.Status() == StatusActive && flow > l.SettingM {
			flow = l.SettingM
		}
		l.FlowM3s = flow
	}
}

// conductance derives an arbitrary but deterministic flow coefficient
// from the pipe diameter.
func (s *SimpleSolver) conductance(l *Link) float64 {
	d := l.DiameterM
	if d <= 0 {
		d = 0.3
	}
	return 0.05 * d * d
}

// integrateTanks accumulates signed net inflow per tank and advances
// levels by one step.
func (s *SimpleSolver) integrateTanks(wn *WaterNetwork, dtSeconds int64) {
	for _, tank := range wn.Tanks() {
		net := 0.0
		for _, l := range wn.LinksForNode(tank.ID) {
			if l.EndNode == tank.ID {
				net += l.FlowM3s
			} else {
				net -= l.FlowM3s
			}
		}
		tank.NetInflowM3s = net

		area := tank.Area()
		if area <= 0 || dtSeconds <= 0 {
			continue
		}
		tank.LevelM += net * float64(dtSeconds) / area
		if tank.LevelM < 0 {
			tank.LevelM = 0
		}
		tank.HeadM = tank.ElevationM + tank.LevelM
	}
}
