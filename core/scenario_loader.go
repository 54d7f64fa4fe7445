// core/scenario_loader.go
package core

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// WaterScenario is a small summary of what was loaded from JSON.
// It's mainly useful for logging or debugging from main().
type WaterScenario struct {
	NodeIDs []string
	LinkIDs []string
}

// internal JSON shapes – keep them unexported so we're free to evolve them.
type waterScenarioJSON struct {
	Nodes []nodeJSON `json:"nodes"`
	Links []linkJSON `json:"links"`
}

type nodeJSON struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"` // "junction" | "reservoir" | "tank"
	ElevationM float64 `json:"elevation_m"`
	DemandM3s  float64 `json:"demand_m3s"`
	LevelM     float64 `json:"level_m"`
	MinLevelM  float64 `json:"min_level_m"`
	MaxLevelM  float64 `json:"max_level_m"`
	DiameterM  float64 `json:"diameter_m"`
}

type linkJSON struct {
	ID           string  `json:"id"`
	Type         string  `json:"type"` // "pipe" | "pump" | "prv" | "psv" | "fcv" | "tcv"
	StartNode    string  `json:"start_node"`
	EndNode      string  `json:"end_node"`
	Status       string  `json:"status"` // "open" | "closed" | "active"; defaults to open
	SettingM     float64 `json:"setting_m"`
	DiameterM    float64 `json:"diameter_m"`
	LengthM      float64 `json:"length_m"`
	CheckValve   bool    `json:"check_valve"`
	PumpKind     string  `json:"pump_kind"` // "power" | "head_curve"
	ShutoffHeadM float64 `json:"shutoff_head_m"`
}

// LoadWaterScenario reads a JSON scenario from r, populates the
// WaterNetwork with nodes and links, and returns a summary of what was
// loaded. Structural errors and registry errors (duplicate IDs, links
// referencing unknown nodes) abort the load.
func LoadWaterScenario(wn *WaterNetwork, r io.Reader) (*WaterScenario, error) {
	if wn == nil {
		return nil, fmt.Errorf("LoadWaterScenario: network is nil")
	}

	var payload waterScenarioJSON
	dec := json.NewDecoder(r)
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("LoadWaterScenario: decode failed: %w", err)
	}

	result := &WaterScenario{
		NodeIDs: make([]string, 0, len(payload.Nodes)),
		LinkIDs: make([]string, 0, len(payload.Links)),
	}

	for _, jn := range payload.Nodes {
		if jn.ID == "" {
			return nil, fmt.Errorf("LoadWaterScenario: node with empty id")
		}
		n := &Node{
			ID:         jn.ID,
			Type:       nodeTypeFromString(jn.Type),
			ElevationM: jn.ElevationM,
			DemandM3s:  jn.DemandM3s,
			LevelM:     jn.LevelM,
			MinLevelM:  jn.MinLevelM,
			MaxLevelM:  jn.MaxLevelM,
			DiameterM:  jn.DiameterM,
		}
		// Fixed-head nodes start with a meaningful head so the first
		// pre-solve check sees real state.
		switch n.Type {
		case NodeReservoir:
			n.HeadM = n.ElevationM
		case NodeTank:
			n.HeadM = n.ElevationM + n.LevelM
		}
		if err := wn.AddNode(n); err != nil {
			return nil, fmt.Errorf("LoadWaterScenario: %w", err)
		}
		result.NodeIDs = append(result.NodeIDs, jn.ID)
	}

	for _, jl := range payload.Links {
		if jl.ID == "" {
			return nil, fmt.Errorf("LoadWaterScenario: link with empty id")
		}
		l := &Link{
			ID:           jl.ID,
			Type:         linkTypeFromString(jl.Type),
			StartNode:    jl.StartNode,
			EndNode:      jl.EndNode,
			UserStatus:   statusFromString(jl.Status),
			SettingM:     jl.SettingM,
			DiameterM:    jl.DiameterM,
			LengthM:      jl.LengthM,
			CheckValve:   jl.CheckValve,
			PumpKind:     PumpKind(jl.PumpKind),
			ShutoffHeadM: jl.ShutoffHeadM,
		}
		if err := wn.AddLink(l); err != nil {
			return nil, fmt.Errorf("LoadWaterScenario: %w", err)
		}
		result.LinkIDs = append(result.LinkIDs, jl.ID)
	}

	return result, nil
}

// nodeTypeFromString maps the JSON "type" string to our Node* constants.
// We keep this tolerant: unknown / empty values default to junctions,
// because that's what most scenario nodes are.
func nodeTypeFromString(s string) NodeType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "reservoir", "source":
		return NodeReservoir
	case "tank", "storage":
		return NodeTank
	default:
		return NodeJunction
	}
}

func linkTypeFromString(s string) LinkType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pump":
		return LinkPump
	case "prv":
		return LinkPRV
	case "psv":
		return LinkPSV
	case "fcv":
		return LinkFCV
	case "tcv":
		return LinkTCV
	default:
		return LinkPipe
	}
}

func statusFromString(s string) LinkStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "closed":
		return StatusClosed
	case "active":
		return StatusActive
	default:
		return StatusOpen
	}
}
