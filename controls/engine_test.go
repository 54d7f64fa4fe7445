package controls

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/flowworksio/hydronet-simulator/core"
)

func engineNetwork(t *testing.T) *core.WaterNetwork {
	t.Helper()
	wn := core.NewWaterNetwork()
	nodes := []*core.Node{
		{ID: "R1", Type: core.NodeReservoir, ElevationM: 50, HeadM: 50},
		{ID: "J1", Type: core.NodeJunction, ElevationM: 10, HeadM: 35},
		{ID: "T1", Type: core.NodeTank, ElevationM: 20, HeadM: 25, LevelM: 5,
			MinLevelM: 1, MaxLevelM: 8, DiameterM: 10},
	}
	for _, n := range nodes {
		if err := wn.AddNode(n); err != nil {
			t.Fatalf("AddNode(%s): %v", n.ID, err)
		}
	}
	links := []*core.Link{
		{ID: "P1", Type: core.LinkPipe, StartNode: "R1", EndNode: "J1", UserStatus: core.StatusOpen, DiameterM: 0.3},
		{ID: "P2", Type: core.LinkPipe, StartNode: "J1", EndNode: "T1", UserStatus: core.StatusOpen, DiameterM: 0.3},
	}
	for _, l := range links {
		if err := wn.AddLink(l); err != nil {
			t.Fatalf("AddLink(%s): %v", l.ID, err)
		}
	}
	return wn
}

// alwaysTrue builds a condition that holds for any sane network state.
func alwaysTrue(t *testing.T, wn *core.WaterNetwork) Condition {
	t.Helper()
	cond, err := NewValueCondition(wn, NodeRef("R1"), core.AttrHead, RelationGT, -1)
	if err != nil {
		t.Fatalf("NewValueCondition: %v", err)
	}
	return cond
}

func statusAction(t *testing.T, wn *core.WaterNetwork, link string, s core.LinkStatus) Action {
	t.Helper()
	a, err := NewLinkStatusAction(wn, link, s)
	if err != nil {
		t.Fatalf("NewLinkStatusAction: %v", err)
	}
	return a
}

func mustControl(t *testing.T, name string, cond Condition, then []Action, els []Action, p Priority) *Control {
	t.Helper()
	c, err := NewControl(name, cond, then, els, p)
	if err != nil {
		t.Fatalf("NewControl(%s): %v", name, err)
	}
	return c
}

func TestRegisterRejectsDuplicatesAndUnknownElements(t *testing.T) {
	wn := engineNetwork(t)
	eng := NewEngine(wn)

	c1 := mustControl(t, "c1", alwaysTrue(t, wn),
		[]Action{statusAction(t, wn, "P1", core.StatusClosed)}, nil, PriorityMedium)
	if err := eng.Register(c1); err != nil {
		t.Fatalf("Register: %v", err)
	}

	dup := mustControl(t, "c1", alwaysTrue(t, wn),
		[]Action{statusAction(t, wn, "P1", core.StatusOpen)}, nil, PriorityMedium)
	if err := eng.Register(dup); !errors.Is(err, ErrControlExists) {
		t.Fatalf("duplicate name should be ErrControlExists, got %v", err)
	}

	// A control whose element vanished between construction and
	// registration must be rejected.
	gone := mustControl(t, "c2", alwaysTrue(t, wn),
		[]Action{statusAction(t, wn, "P2", core.StatusClosed)}, nil, PriorityMedium)
	if err := wn.RemoveLink("P2"); err != nil {
		t.Fatalf("RemoveLink: %v", err)
	}
	if err := eng.Register(gone); !errors.Is(err, ErrBadControl) {
		t.Fatalf("vanished element should be ErrBadControl, got %v", err)
	}

	if err := eng.Deregister("nope"); !errors.Is(err, ErrControlNotFound) {
		t.Fatalf("unknown name should be ErrControlNotFound, got %v", err)
	}
}

func TestPostSolveApplyRespectsPriorityOrder(t *testing.T) {
	wn := engineNetwork(t)
	eng := NewEngine(wn)

	// Declared "close first", but the open control sits at a lower
	// priority level, so the close must win regardless of declaration
	// order.
	closeCtl := mustControl(t, "close", alwaysTrue(t, wn),
		[]Action{statusAction(t, wn, "P1", core.StatusClosed)}, nil, PriorityHigh)
	openCtl := mustControl(t, "open", alwaysTrue(t, wn),
		[]Action{statusAction(t, wn, "P1", core.StatusOpen)}, nil, PriorityVeryLow)
	if err := eng.RegisterAll([]*Control{closeCtl, openCtl}); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}

	changed, err := eng.PostSolveApply(context.Background())
	if err != nil {
		t.Fatalf("PostSolveApply: %v", err)
	}
	if !changed {
		t.Fatalf("apply should report a state change")
	}

	l, err := wn.GetLink("P1")
	if err != nil {
		t.Fatalf("GetLink: %v", err)
	}
	if l.Status() != core.StatusClosed {
		t.Fatalf("P1 status = %s, want closed; higher priority must run last", l.Status())
	}
	if !closeCtl.FiredThen() {
		t.Fatalf("close control should have fired its then-branch")
	}
}

func TestPostSolveApplyReachesFixedPointQuickly(t *testing.T) {
	wn := engineNetwork(t)
	eng := NewEngine(wn)

	ctl := mustControl(t, "close-p1", alwaysTrue(t, wn),
		[]Action{statusAction(t, wn, "P1", core.StatusClosed)}, nil, PriorityMedium)
	if err := eng.Register(ctl); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// First apply changes state; a second apply starts from the fixed
	// point and must report no change.
	if _, err := eng.PostSolveApply(context.Background()); err != nil {
		t.Fatalf("PostSolveApply #1: %v", err)
	}
	changed, err := eng.PostSolveApply(context.Background())
	if err != nil {
		t.Fatalf("PostSolveApply #2: %v", err)
	}
	if changed {
		t.Fatalf("second apply from a fixed point must not report changes")
	}
}

func TestPostSolveApplyDetectsOscillation(t *testing.T) {
	wn := engineNetwork(t)
	eng := NewEngine(wn, WithMaxPasses(5))

	open := mustControl(t, "fight-open", alwaysTrue(t, wn),
		[]Action{statusAction(t, wn, "P1", core.StatusOpen)}, nil, PriorityMedium)
	closed := mustControl(t, "fight-close", alwaysTrue(t, wn),
		[]Action{statusAction(t, wn, "P1", core.StatusClosed)}, nil, PriorityMedium)
	if err := eng.RegisterAll([]*Control{open, closed}); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}

	_, err := eng.PostSolveApply(context.Background())
	var cerr *ConvergenceError
	if !errors.As(err, &cerr) {
		t.Fatalf("want ConvergenceError, got %v", err)
	}
	if cerr.Priority != PriorityMedium {
		t.Fatalf("priority = %s, want medium", cerr.Priority)
	}
	if cerr.Passes != 5 {
		t.Fatalf("passes = %d, want the configured cap 5", cerr.Passes)
	}
	found := false
	for _, pair := range cerr.Oscillating {
		if strings.Contains(pair, "P1") {
			found = true
		}
	}
	if !found {
		t.Fatalf("oscillating pairs %v should name link P1", cerr.Oscillating)
	}
}

func TestElseBranchRunsWhenConditionFalse(t *testing.T) {
	wn := engineNetwork(t)
	eng := NewEngine(wn)

	never, err := NewValueCondition(wn, NodeRef("R1"), core.AttrHead, RelationLT, -1)
	if err != nil {
		t.Fatalf("NewValueCondition: %v", err)
	}
	ctl := mustControl(t, "else-close", never,
		[]Action{statusAction(t, wn, "P1", core.StatusOpen)},
		[]Action{statusAction(t, wn, "P1", core.StatusClosed)},
		PriorityMedium)
	if err := eng.Register(ctl); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := eng.PostSolveApply(context.Background()); err != nil {
		t.Fatalf("PostSolveApply: %v", err)
	}
	l, err := wn.GetLink("P1")
	if err != nil {
		t.Fatalf("GetLink: %v", err)
	}
	if l.Status() != core.StatusClosed {
		t.Fatalf("P1 status = %s, want closed via else branch", l.Status())
	}
	if ctl.FiredThen() {
		t.Fatalf("control should report the else branch")
	}
}

func TestPreSolveCheckPicksCrossingClosestToNow(t *testing.T) {
	wn := engineNetwork(t)
	clock := &fakeClock{}
	eng := NewEngine(wn)

	closeAt, err := NewSimTimeCondition(clock, RelationEQ, 3600, 0)
	if err != nil {
		t.Fatalf("NewSimTimeCondition: %v", err)
	}
	openAt, err := NewSimTimeCondition(clock, RelationEQ, 7200, 0)
	if err != nil {
		t.Fatalf("NewSimTimeCondition: %v", err)
	}
	ctls := []*Control{
		mustControl(t, "close-at-1h", closeAt,
			[]Action{statusAction(t, wn, "P1", core.StatusClosed)}, nil, PriorityMedium),
		mustControl(t, "open-at-2h", openAt,
			[]Action{statusAction(t, wn, "P1", core.StatusOpen)}, nil, PriorityVeryLow),
	}
	if err := eng.RegisterAll(ctls); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}

	// Accept the step at t=0, then propose a jump to t=10800. Both
	// events lie inside the step; the recommendation must land on the
	// later one (7200), i.e. the hint closest to zero.
	if err := eng.AcceptStep(context.Background()); err != nil {
		t.Fatalf("AcceptStep: %v", err)
	}
	clock.now = 10800

	shrink, ok, err := eng.PreSolveCheck(context.Background())
	if err != nil {
		t.Fatalf("PreSolveCheck: %v", err)
	}
	if !ok {
		t.Fatalf("two pending crossings must recommend a shrink")
	}
	if shrink != -3600*time.Second {
		t.Fatalf("shrink = %v, want -1h (land on the 7200 crossing)", shrink)
	}
}

func TestPreSolveCheckIgnoresAlreadyTrueConditions(t *testing.T) {
	wn := engineNetwork(t)
	clock := &fakeClock{now: 3700}
	eng := NewEngine(wn)

	cond, err := NewSimTimeCondition(clock, RelationEQ, 3600, 0)
	if err != nil {
		t.Fatalf("NewSimTimeCondition: %v", err)
	}
	ctl := mustControl(t, "at-1h", cond,
		[]Action{statusAction(t, wn, "P1", core.StatusClosed)}, nil, PriorityMedium)
	if err := eng.Register(ctl); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// First check sees the crossing.
	if _, ok, err := eng.PreSolveCheck(context.Background()); err != nil || !ok {
		t.Fatalf("PreSolveCheck = ok %v, err %v; want a hint", ok, err)
	}

	// After the step is accepted the condition is no longer newly true
	// and must stop recommending shrinks.
	if err := eng.AcceptStep(context.Background()); err != nil {
		t.Fatalf("AcceptStep: %v", err)
	}
	clock.now = 3800
	if _, ok, err := eng.PreSolveCheck(context.Background()); err != nil || ok {
		t.Fatalf("PreSolveCheck = ok %v, err %v; want no hint after acceptance", ok, err)
	}
}

// registeringAction wraps a real action and registers another control
// as a side effect, exercising the deferred-mutation path.
type registeringAction struct {
	inner Action
	eng   *Engine
	build func() *Control
}

func (a *registeringAction) Run() (ObjectRef, core.Attribute, float64, error) {
	if err := a.eng.Register(a.build()); err != nil && !errors.Is(err, ErrControlExists) {
		ref, attr := a.inner.Target()
		return ref, attr, 0, err
	}
	return a.inner.Run()
}

func (a *registeringAction) Target() (ObjectRef, core.Attribute) { return a.inner.Target() }
func (a *registeringAction) RequiredObjects() []ObjectRef        { return a.inner.RequiredObjects() }
func (a *registeringAction) String() string                      { return a.inner.String() }

func TestRegistrationDuringApplyIsDeferred(t *testing.T) {
	wn := engineNetwork(t)
	eng := NewEngine(wn)

	spawned := mustControl(t, "spawned", alwaysTrue(t, wn),
		[]Action{statusAction(t, wn, "P2", core.StatusClosed)}, nil, PriorityMedium)

	trigger := &registeringAction{
		inner: statusAction(t, wn, "P1", core.StatusOpen),
		eng:   eng,
		build: func() *Control { return spawned },
	}
	root := mustControl(t, "root", alwaysTrue(t, wn), []Action{trigger}, nil, PriorityVeryLow)
	if err := eng.Register(root); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := eng.PostSolveApply(context.Background()); err != nil {
		t.Fatalf("PostSolveApply: %v", err)
	}

	// The spawned control was installed between levels and ran at its
	// own level within the same apply.
	if got := len(eng.Controls()); got != 2 {
		t.Fatalf("registered controls = %d, want 2", got)
	}
	l, err := wn.GetLink("P2")
	if err != nil {
		t.Fatalf("GetLink: %v", err)
	}
	if l.Status() != core.StatusClosed {
		t.Fatalf("P2 status = %s, want closed by the spawned control", l.Status())
	}
}

func TestRemovalPolicies(t *testing.T) {
	wn := engineNetwork(t)
	eng := NewEngine(wn)

	ctl := mustControl(t, "watch-p2", alwaysTrue(t, wn),
		[]Action{statusAction(t, wn, "P2", core.StatusClosed)}, nil, PriorityMedium)
	if err := eng.Register(ctl); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := eng.ValidateRemoval("P2"); !errors.Is(err, ErrDependentControls) {
		t.Fatalf("ValidateRemoval should be ErrDependentControls, got %v", err)
	}
	if err := eng.ValidateRemoval("T1"); err != nil {
		t.Fatalf("ValidateRemoval of unreferenced element: %v", err)
	}

	removed := eng.RemoveDependentControls(context.Background(), "P2")
	if len(removed) != 1 || removed[0] != "watch-p2" {
		t.Fatalf("removed = %v, want [watch-p2]", removed)
	}
	if err := eng.ValidateRemoval("P2"); err != nil {
		t.Fatalf("ValidateRemoval after cleanup: %v", err)
	}
	if got := len(eng.Controls()); got != 0 {
		t.Fatalf("registered controls = %d, want 0", got)
	}
}

func TestControlsReferencingMatchesConditionAndActions(t *testing.T) {
	wn := engineNetwork(t)
	eng := NewEngine(wn)

	cond, err := NewValueCondition(wn, NodeRef("T1"), core.AttrLevel, RelationLT, 2)
	if err != nil {
		t.Fatalf("NewValueCondition: %v", err)
	}
	ctl := mustControl(t, "low-tank", cond,
		[]Action{statusAction(t, wn, "P1", core.StatusClosed)}, nil, PriorityMedium)
	if err := eng.Register(ctl); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if got := eng.ControlsReferencing("T1"); len(got) != 1 {
		t.Fatalf("controls referencing T1 = %d, want 1 (condition side)", len(got))
	}
	if got := eng.ControlsReferencing("P1"); len(got) != 1 {
		t.Fatalf("controls referencing P1 = %d, want 1 (action side)", len(got))
	}
	if got := eng.ControlsReferencing("J1"); len(got) != 0 {
		t.Fatalf("controls referencing J1 = %d, want 0", len(got))
	}
}
