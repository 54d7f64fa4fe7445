package controls

import (
	"fmt"

	"github.com/flowworksio/hydronet-simulator/core"
)

// GenerateConsistencyControls builds the full set of physical
// consistency controls for the current network: check-valve
// enforcement, pump cutoff and power-outage handling, PRV and FCV
// state transitions, and tank level-boundary protection. The returned
// controls are deterministic in name and order, so regenerating after
// a topology change produces a stable set.
//
// All generated actions write the internal link status; the user's
// commanded status is never touched.
func GenerateConsistencyControls(wn *core.WaterNetwork) ([]*Control, error) {
	if wn == nil {
		return nil, fmt.Errorf("%w: nil network", ErrBadControl)
	}

	g := &generator{wn: wn}
	for _, l := range wn.GetAllLinks() {
		switch {
		case l.Type == core.LinkPipe && l.CheckValve:
			g.checkValve(l)
		case l.Type == core.LinkPump:
			g.pump(l)
		case l.Type == core.LinkPRV:
			g.prv(l)
		case l.Type == core.LinkFCV:
			g.fcv(l)
		}
	}
	for _, tank := range wn.Tanks() {
		for _, l := range wn.LinksForNode(tank.ID) {
			g.tankBoundary(tank, l)
		}
	}
	if g.err != nil {
		return nil, g.err
	}
	return g.out, nil
}

// generator accumulates controls and keeps the first construction
// error; construction can only fail on programming mistakes (bad
// refs, bad relations), so one error aborts the whole generation.
type generator struct {
	wn  *core.WaterNetwork
	out []*Control
	err error
}

func (g *generator) add(name string, cond Condition, then Action, priority Priority) {
	if g.err != nil {
		return
	}
	c, err := NewControl(name, cond, []Action{then}, nil, priority)
	if err != nil {
		g.err = err
		return
	}
	g.out = append(g.out, c)
}

func (g *generator) internalStatus(link string, s core.LinkStatus) Action {
	if g.err != nil {
		return nil
	}
	a, err := NewSetInternalStatusAction(g.wn, link, s)
	if err != nil {
		g.err = err
		return nil
	}
	return a
}

func (g *generator) base(link string) consistencyCondition {
	return consistencyCondition{wn: g.wn, link: link}
}

func (g *generator) checkValve(l *core.Link) {
	g.add("cv/open/"+l.ID,
		&openCVCondition{g.base(l.ID)},
		g.internalStatus(l.ID, core.StatusOpen),
		PriorityVeryLow)
	g.add("cv/close/"+l.ID,
		&closeCVCondition{g.base(l.ID)},
		g.internalStatus(l.ID, core.StatusClosed),
		PriorityMedium)
}

func (g *generator) pump(l *core.Link) {
	g.add("pump/open/"+l.ID,
		&openPumpCondition{g.base(l.ID)},
		g.internalStatus(l.ID, core.StatusOpen),
		PriorityVeryLow)
	g.add("pump/close/"+l.ID,
		&closePumpCondition{g.base(l.ID)},
		g.internalStatus(l.ID, core.StatusClosed),
		PriorityMedium)
	g.add("pump/power-lost/"+l.ID,
		&powerOutageCondition{consistencyCondition: g.base(l.ID), lost: true},
		g.internalStatus(l.ID, core.StatusClosed),
		PriorityMedium)
	g.add("pump/power-restored/"+l.ID,
		&powerOutageCondition{consistencyCondition: g.base(l.ID), lost: false},
		g.internalStatus(l.ID, core.StatusOpen),
		PriorityVeryLow)
}

func (g *generator) prv(l *core.Link) {
	g.add("prv/open/"+l.ID,
		&openPRVCondition{g.base(l.ID)},
		g.internalStatus(l.ID, core.StatusOpen),
		PriorityVeryLow)
	g.add("prv/active/"+l.ID,
		&activePRVCondition{g.base(l.ID)},
		g.internalStatus(l.ID, core.StatusActive),
		PriorityVeryLow)
	g.add("prv/close/"+l.ID,
		&closePRVCondition{g.base(l.ID)},
		g.internalStatus(l.ID, core.StatusClosed),
		PriorityMedium)
}

func (g *generator) fcv(l *core.Link) {
	g.add("fcv/active/"+l.ID,
		&activeFCVCondition{g.base(l.ID)},
		g.internalStatus(l.ID, core.StatusActive),
		PriorityVeryLow)
	g.add("fcv/open/"+l.ID,
		&openFCVCondition{g.base(l.ID)},
		g.internalStatus(l.ID, core.StatusOpen),
		PriorityVeryLow)
}

// drainsOnly reports whether the link can only take water out of the
// tank (a one-way link starting at the tank). Such a link cannot
// overfill the tank.
func drainsOnly(l *core.Link, tank string) bool {
	return oneWay(l) && l.StartNode == tank
}

// fillsOnly reports whether the link can only push water into the
// tank (a one-way link ending at the tank). Such a link cannot drain
// the tank below its minimum.
func fillsOnly(l *core.Link, tank string) bool {
	return oneWay(l) && l.EndNode == tank
}

func oneWay(l *core.Link) bool {
	return (l.Type == core.LinkPipe && l.CheckValve) || l.Type == core.LinkPump
}

// tankBoundary builds the level-boundary triple for one tank-adjacent
// link and one boundary side: the hard close when the boundary is
// crossed, the plain reopen once the level recovers, and the
// conditional reopen while still at the boundary for links whose
// would-be flow direction relieves the violation.
func (g *generator) tankBoundary(tank *core.Node, l *core.Link) {
	other := l.OtherEnd(tank.ID)

	if !fillsOnly(l, tank.ID) {
		g.tankSide(tank, l, other, tankMin)
	}
	if !drainsOnly(l, tank.ID) {
		g.tankSide(tank, l, other, tankMax)
	}
}

type tankSide int

const (
	tankMin tankSide = iota
	tankMax
)

func (g *generator) tankSide(tank *core.Node, l *core.Link, other string, side tankSide) {
	if g.err != nil {
		return
	}

	var (
		label     string
		bound     float64
		closeRel  Relation // level has crossed the boundary
		safeRel   Relation // level is comfortably inside again
		reliefRel Relation // neighbour head vs tank head that relieves the violation
	)
	switch side {
	case tankMin:
		label = "min"
		bound = tank.MinHead()
		closeRel = RelationLT
		safeRel = RelationGT
		// water flowing into the tank relieves an empty tank
		reliefRel = RelationGT
	case tankMax:
		label = "max"
		bound = tank.MaxHead()
		closeRel = RelationGT
		safeRel = RelationLT
		// water flowing out of the tank relieves a full tank
		reliefRel = RelationLT
	}
	// The safe threshold sits one head tolerance inside the boundary so
	// close and reopen never both hold at once.
	var safeBound, closeBound float64
	switch side {
	case tankMin:
		closeBound = bound + headTolerance
		safeBound = bound + headTolerance
	case tankMax:
		closeBound = bound - headTolerance
		safeBound = bound - headTolerance
	}

	crossed, err := NewTankLevelCondition(g.wn, tank.ID, core.AttrHead, closeRel, closeBound)
	if err != nil {
		g.err = err
		return
	}
	recovered, err := NewTankLevelCondition(g.wn, tank.ID, core.AttrHead, safeRel, safeBound)
	if err != nil {
		g.err = err
		return
	}
	stillCrossed, err := NewTankLevelCondition(g.wn, tank.ID, core.AttrHead, closeRel, closeBound)
	if err != nil {
		g.err = err
		return
	}
	relief, err := NewRelativeCondition(g.wn, NodeRef(other), core.AttrHead, reliefRel, NodeRef(tank.ID), core.AttrHead)
	if err != nil {
		g.err = err
		return
	}
	userOpen := &linkUserOpenCondition{g.base(l.ID)}

	reopenCond, err := NewAndCondition(recovered, userOpen)
	if err != nil {
		g.err = err
		return
	}
	crossedAndRelief, err := NewAndCondition(stillCrossed, relief)
	if err != nil {
		g.err = err
		return
	}
	condReopenCond, err := NewAndCondition(crossedAndRelief, userOpen)
	if err != nil {
		g.err = err
		return
	}

	prefix := fmt.Sprintf("tank/%s/%s/", tank.ID, label)
	g.add(prefix+"close/"+l.ID, crossed,
		g.internalStatus(l.ID, core.StatusClosed), PriorityLow)
	g.add(prefix+"reopen/"+l.ID, reopenCond,
		g.internalStatus(l.ID, core.StatusOpen), PriorityVeryLow)
	g.add(prefix+"flow-reopen/"+l.ID, condReopenCond,
		g.internalStatus(l.ID, core.StatusOpen), PriorityMediumLow)
}
