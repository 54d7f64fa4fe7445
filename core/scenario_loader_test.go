package core

import (
	"strings"
	"testing"
)

const sampleScenario = `{
  "nodes": [
    {"id": "res1", "type": "reservoir", "elevation_m": 100},
    {"id": "j1", "type": "junction", "elevation_m": 50, "demand_m3s": 0.02},
    {"id": "t1", "type": "tank", "elevation_m": 80, "level_m": 5, "min_level_m": 1, "max_level_m": 10, "diameter_m": 12}
  ],
  "links": [
    {"id": "p1", "type": "pipe", "start_node": "res1", "end_node": "j1", "diameter_m": 0.3, "length_m": 1000, "check_valve": true},
    {"id": "v1", "type": "prv", "start_node": "j1", "end_node": "t1", "status": "active", "setting_m": 30}
  ]
}`

func TestLoadWaterScenario(t *testing.T) {
	wn := NewWaterNetwork()
	scenario, err := LoadWaterScenario(wn, strings.NewReader(sampleScenario))
	if err != nil {
		t.Fatalf("LoadWaterScenario: %v", err)
	}

	if len(scenario.NodeIDs) != 3 || len(scenario.LinkIDs) != 2 {
		t.Fatalf("loaded %d nodes, %d links; want 3, 2", len(scenario.NodeIDs), len(scenario.LinkIDs))
	}

	tank, err := wn.GetNode("t1")
	if err != nil {
		t.Fatalf("GetNode t1: %v", err)
	}
	if tank.Type != NodeTank {
		t.Fatalf("t1 type = %v, want tank", tank.Type)
	}
	if tank.HeadM != 85 {
		t.Fatalf("tank initial head = %v, want elevation+level = 85", tank.HeadM)
	}

	res, err := wn.GetNode("res1")
	if err != nil {
		t.Fatalf("GetNode res1: %v", err)
	}
	if res.HeadM != 100 {
		t.Fatalf("reservoir initial head = %v, want 100", res.HeadM)
	}

	cv, err := wn.GetLink("p1")
	if err != nil {
		t.Fatalf("GetLink p1: %v", err)
	}
	if !cv.CheckValve {
		t.Fatalf("p1 should carry its check valve flag")
	}
	if cv.Status() != StatusOpen {
		t.Fatalf("p1 status = %v, want open by default", cv.Status())
	}

	prv, err := wn.GetLink("v1")
	if err != nil {
		t.Fatalf("GetLink v1: %v", err)
	}
	if prv.Status() != StatusActive {
		t.Fatalf("v1 status = %v, want active from scenario", prv.Status())
	}
	if prv.SettingM != 30 {
		t.Fatalf("v1 setting = %v, want 30", prv.SettingM)
	}
}

func TestLoadWaterScenario_Errors(t *testing.T) {
	cases := []struct {
		name string
		json string
	}{
		{"empty node id", `{"nodes": [{"id": ""}]}`},
		{"unknown endpoint", `{"nodes": [{"id": "a"}], "links": [{"id": "l", "start_node": "a", "end_node": "b"}]}`},
		{"malformed json", `{"nodes": [`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wn := NewWaterNetwork()
			if _, err := LoadWaterScenario(wn, strings.NewReader(tc.json)); err == nil {
				t.Fatalf("expected error for %s", tc.name)
			}
		})
	}
}
