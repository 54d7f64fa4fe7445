package controls

import (
	"context"
	"testing"

	"github.com/flowworksio/hydronet-simulator/core"
)

func autogenNetwork(t *testing.T) *core.WaterNetwork {
	t.Helper()
	wn := core.NewWaterNetwork()
	nodes := []*core.Node{
		{ID: "R1", Type: core.NodeReservoir, ElevationM: 50, HeadM: 50},
		{ID: "J1", Type: core.NodeJunction, ElevationM: 10, HeadM: 35},
		{ID: "J2", Type: core.NodeJunction, ElevationM: 10, HeadM: 30},
		{ID: "T1", Type: core.NodeTank, ElevationM: 20, HeadM: 25, LevelM: 5,
			MinLevelM: 1, MaxLevelM: 8, DiameterM: 10},
	}
	for _, n := range nodes {
		if err := wn.AddNode(n); err != nil {
			t.Fatalf("AddNode(%s): %v", n.ID, err)
		}
	}
	links := []*core.Link{
		{ID: "CV1", Type: core.LinkPipe, StartNode: "R1", EndNode: "J1", UserStatus: core.StatusOpen, CheckValve: true},
		{ID: "PU1", Type: core.LinkPump, StartNode: "J1", EndNode: "J2", UserStatus: core.StatusOpen},
		{ID: "V1", Type: core.LinkPRV, StartNode: "J1", EndNode: "J2", UserStatus: core.StatusOpen, SettingM: 15},
		{ID: "F1", Type: core.LinkFCV, StartNode: "J1", EndNode: "J2", UserStatus: core.StatusOpen, SettingM: 0.05},
		{ID: "TP1", Type: core.LinkPipe, StartNode: "J2", EndNode: "T1", UserStatus: core.StatusOpen},
		{ID: "PU2", Type: core.LinkPump, StartNode: "J2", EndNode: "T1", UserStatus: core.StatusOpen},
	}
	for _, l := range links {
		if err := wn.AddLink(l); err != nil {
			t.Fatalf("AddLink(%s): %v", l.ID, err)
		}
	}
	return wn
}

func controlNames(cs []*Control) map[string]bool {
	names := make(map[string]bool, len(cs))
	for _, c := range cs {
		names[c.Name()] = true
	}
	return names
}

func TestGenerateConsistencyControlsCoverage(t *testing.T) {
	wn := autogenNetwork(t)
	cs, err := GenerateConsistencyControls(wn)
	if err != nil {
		t.Fatalf("GenerateConsistencyControls: %v", err)
	}
	names := controlNames(cs)

	want := []string{
		"cv/open/CV1", "cv/close/CV1",
		"pump/open/PU1", "pump/close/PU1", "pump/power-lost/PU1", "pump/power-restored/PU1",
		"prv/open/V1", "prv/active/V1", "prv/close/V1",
		"fcv/active/F1", "fcv/open/F1",
		"tank/T1/min/close/TP1", "tank/T1/min/reopen/TP1", "tank/T1/min/flow-reopen/TP1",
		"tank/T1/max/close/TP1", "tank/T1/max/reopen/TP1", "tank/T1/max/flow-reopen/TP1",
		// A pump into the tank can only fill it: max-side controls only.
		"tank/T1/max/close/PU2",
	}
	for _, n := range want {
		if !names[n] {
			t.Fatalf("missing generated control %q (have %d controls)", n, len(cs))
		}
	}

	// One-way fill links must not get min-side controls.
	for _, n := range []string{
		"tank/T1/min/close/PU2", "tank/T1/min/reopen/PU2", "tank/T1/min/flow-reopen/PU2",
	} {
		if names[n] {
			t.Fatalf("unexpected generated control %q", n)
		}
	}

	// All of them must register cleanly.
	eng := NewEngine(wn)
	if err := eng.RegisterAll(cs); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
}

func TestCheckValveClosesOnReverseFlowAndReopens(t *testing.T) {
	wn := core.NewWaterNetwork()
	for _, n := range []*core.Node{
		{ID: "R1", Type: core.NodeReservoir, ElevationM: 35, HeadM: 35},
		{ID: "J1", Type: core.NodeJunction, ElevationM: 10, HeadM: 50},
	} {
		if err := wn.AddNode(n); err != nil {
			t.Fatalf("AddNode: %v", err)
		}
	}
	cv := &core.Link{ID: "CV1", Type: core.LinkPipe, StartNode: "R1", EndNode: "J1",
		UserStatus: core.StatusOpen, CheckValve: true, FlowM3s: -0.01}
	if err := wn.AddLink(cv); err != nil {
		t.Fatalf("AddLink: %v", err)
	}

	cs, err := GenerateConsistencyControls(wn)
	if err != nil {
		t.Fatalf("GenerateConsistencyControls: %v", err)
	}
	eng := NewEngine(wn)
	if err := eng.RegisterAll(cs); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}

	// Reverse flow against the valve direction: must slam shut, but
	// only internally; the user still wants it open.
	if _, err := eng.PostSolveApply(context.Background()); err != nil {
		t.Fatalf("PostSolveApply: %v", err)
	}
	if cv.Status() != core.StatusClosed {
		t.Fatalf("status = %s, want closed on reverse flow", cv.Status())
	}
	if cv.UserStatus != core.StatusOpen {
		t.Fatalf("user status = %s, must stay open", cv.UserStatus)
	}

	// Gradient turns favourable again: the valve reopens.
	r1, err := wn.GetNode("R1")
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	j1, err := wn.GetNode("J1")
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	r1.HeadM, j1.HeadM = 50, 35
	cv.FlowM3s = 0

	if _, err := eng.PostSolveApply(context.Background()); err != nil {
		t.Fatalf("PostSolveApply: %v", err)
	}
	if cv.Status() != core.StatusOpen {
		t.Fatalf("status = %s, want reopened on forward gradient", cv.Status())
	}
}

func TestPumpPowerOutageCycle(t *testing.T) {
	wn := core.NewWaterNetwork()
	for _, n := range []*core.Node{
		{ID: "J1", Type: core.NodeJunction, ElevationM: 10, HeadM: 30},
		{ID: "J2", Type: core.NodeJunction, ElevationM: 10, HeadM: 30},
	} {
		if err := wn.AddNode(n); err != nil {
			t.Fatalf("AddNode: %v", err)
		}
	}
	pump := &core.Link{ID: "PU1", Type: core.LinkPump, StartNode: "J1", EndNode: "J2",
		UserStatus: core.StatusOpen, PumpKind: core.PumpPower, PowerOutage: true}
	if err := wn.AddLink(pump); err != nil {
		t.Fatalf("AddLink: %v", err)
	}

	cs, err := GenerateConsistencyControls(wn)
	if err != nil {
		t.Fatalf("GenerateConsistencyControls: %v", err)
	}
	eng := NewEngine(wn)
	if err := eng.RegisterAll(cs); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}

	if _, err := eng.PostSolveApply(context.Background()); err != nil {
		t.Fatalf("PostSolveApply: %v", err)
	}
	if pump.Status() != core.StatusClosed {
		t.Fatalf("status = %s, want closed during outage", pump.Status())
	}

	pump.PowerOutage = false
	if _, err := eng.PostSolveApply(context.Background()); err != nil {
		t.Fatalf("PostSolveApply: %v", err)
	}
	if pump.Status() != core.StatusOpen {
		t.Fatalf("status = %s, want reopened after restoration", pump.Status())
	}
}

func TestTankMinBoundaryProtection(t *testing.T) {
	wn := core.NewWaterNetwork()
	tank := &core.Node{ID: "T1", Type: core.NodeTank, ElevationM: 20, HeadM: 20.5, LevelM: 0.5,
		MinLevelM: 1, MaxLevelM: 8, DiameterM: 10}
	neighbour := &core.Node{ID: "J1", Type: core.NodeJunction, ElevationM: 10, HeadM: 19}
	for _, n := range []*core.Node{tank, neighbour} {
		if err := wn.AddNode(n); err != nil {
			t.Fatalf("AddNode: %v", err)
		}
	}
	pipe := &core.Link{ID: "TP1", Type: core.LinkPipe, StartNode: "J1", EndNode: "T1",
		UserStatus: core.StatusOpen}
	if err := wn.AddLink(pipe); err != nil {
		t.Fatalf("AddLink: %v", err)
	}

	cs, err := GenerateConsistencyControls(wn)
	if err != nil {
		t.Fatalf("GenerateConsistencyControls: %v", err)
	}
	eng := NewEngine(wn)
	if err := eng.RegisterAll(cs); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}

	// Tank below its minimum and the neighbour lower still: draining
	// must stop.
	if _, err := eng.PostSolveApply(context.Background()); err != nil {
		t.Fatalf("PostSolveApply: %v", err)
	}
	if pipe.Status() != core.StatusClosed {
		t.Fatalf("status = %s, want closed below min level", pipe.Status())
	}
	if pipe.UserStatus != core.StatusOpen {
		t.Fatalf("user status = %s, must stay open", pipe.UserStatus)
	}

	// Neighbour head rises above the tank: inflow would refill it, so
	// the conditional reopen fires even though the level is still low.
	neighbour.HeadM = 24
	if _, err := eng.PostSolveApply(context.Background()); err != nil {
		t.Fatalf("PostSolveApply: %v", err)
	}
	if pipe.Status() != core.StatusOpen {
		t.Fatalf("status = %s, want reopened for refilling flow", pipe.Status())
	}

	// Tank recovers: the plain reopen keeps the link open.
	neighbour.HeadM = 19
	tank.HeadM, tank.LevelM = 22, 2
	if _, err := eng.PostSolveApply(context.Background()); err != nil {
		t.Fatalf("PostSolveApply: %v", err)
	}
	if pipe.Status() != core.StatusOpen {
		t.Fatalf("status = %s, want open after recovery", pipe.Status())
	}
}

func TestTankMaxBoundaryProtection(t *testing.T) {
	wn := core.NewWaterNetwork()
	tank := &core.Node{ID: "T1", Type: core.NodeTank, ElevationM: 20, HeadM: 28.1, LevelM: 8.1,
		MinLevelM: 1, MaxLevelM: 8, DiameterM: 10}
	neighbour := &core.Node{ID: "J1", Type: core.NodeJunction, ElevationM: 10, HeadM: 35}
	for _, n := range []*core.Node{tank, neighbour} {
		if err := wn.AddNode(n); err != nil {
			t.Fatalf("AddNode: %v", err)
		}
	}
	pipe := &core.Link{ID: "TP1", Type: core.LinkPipe, StartNode: "J1", EndNode: "T1",
		UserStatus: core.StatusOpen}
	if err := wn.AddLink(pipe); err != nil {
		t.Fatalf("AddLink: %v", err)
	}

	cs, err := GenerateConsistencyControls(wn)
	if err != nil {
		t.Fatalf("GenerateConsistencyControls: %v", err)
	}
	eng := NewEngine(wn)
	if err := eng.RegisterAll(cs); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}

	// Overfull tank fed from a higher head: the feed must close.
	if _, err := eng.PostSolveApply(context.Background()); err != nil {
		t.Fatalf("PostSolveApply: %v", err)
	}
	if pipe.Status() != core.StatusClosed {
		t.Fatalf("status = %s, want closed above max level", pipe.Status())
	}

	// Neighbour head drops below the tank: draining relieves the
	// overflow, so the conditional reopen fires.
	neighbour.HeadM = 24
	if _, err := eng.PostSolveApply(context.Background()); err != nil {
		t.Fatalf("PostSolveApply: %v", err)
	}
	if pipe.Status() != core.StatusOpen {
		t.Fatalf("status = %s, want reopened for draining flow", pipe.Status())
	}
}
