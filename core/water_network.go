package core

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrNodeExists   = errors.New("node already exists")
	ErrNodeNotFound = errors.New("node not found")
	ErrNodeBadInput = errors.New("invalid node")
	ErrLinkExists   = errors.New("link already exists")
	ErrLinkNotFound = errors.New("link not found")
	ErrLinkBadInput = errors.New("invalid link")
	ErrBadAttribute = errors.New("unknown attribute")
)

// WaterNetwork is the hydraulic network model: nodes and links stored
// in registries keyed by name, with adjacency maintained per node.
//
// NOTE: the model is concurrency-safe via an internal RWMutex so a
// metrics or telemetry reader can observe it while the step loop owns
// the writes, as long as all access goes through these methods.
type WaterNetwork struct {
	mu sync.RWMutex

	nodes       map[string]*Node
	links       map[string]*Link
	linksByNode map[string]map[string]*Link
}

// NewWaterNetwork creates an empty network model.
func NewWaterNetwork() *WaterNetwork {
	return &WaterNetwork{
		nodes:       make(map[string]*Node),
		links:       make(map[string]*Link),
		linksByNode: make(map[string]map[string]*Link),
	}
}

//
// ---------- Nodes ----------
//

func (wn *WaterNetwork) AddNode(n *Node) error {
	if n == nil || n.ID == "" {
		return fmt.Errorf("%w: nil or empty node", ErrNodeBadInput)
	}
	if n.Type == NodeTank && n.MaxLevelM < n.MinLevelM {
		return fmt.Errorf("%w: tank %q max level below min level", ErrNodeBadInput, n.ID)
	}

	wn.mu.Lock()
	defer wn.mu.Unlock()

	if _, exists := wn.nodes[n.ID]; exists {
		return fmt.Errorf("%w: %q", ErrNodeExists, n.ID)
	}
	wn.nodes[n.ID] = n
	return nil
}

// GetNode returns a node by name or a not-found error.
func (wn *WaterNetwork) GetNode(id string) (*Node, error) {
	wn.mu.RLock()
	defer wn.mu.RUnlock()

	n, ok := wn.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, id)
	}
	return n, nil
}

// GetAllNodes returns all nodes sorted by ID for deterministic
// iteration.
func (wn *WaterNetwork) GetAllNodes() []*Node {
	wn.mu.RLock()
	defer wn.mu.RUnlock()

	out := make([]*Node, 0, len(wn.nodes))
	for _, n := range wn.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Tanks returns the storage nodes, sorted by ID.
func (wn *WaterNetwork) Tanks() []*Node {
	var out []*Node
	for _, n := range wn.GetAllNodes() {
		if n.Type == NodeTank {
			out = append(out, n)
		}
	}
	return out
}

// RemoveNode deletes a node. Attached links must be removed first;
// the caller is expected to have dealt with dependent controls via the
// engine's removal policy before calling this.
func (wn *WaterNetwork) RemoveNode(id string) error {
	wn.mu.Lock()
	defer wn.mu.Unlock()

	if _, ok := wn.nodes[id]; !ok {
		return fmt.Errorf("%w: %q", ErrNodeNotFound, id)
	}
	if m := wn.linksByNode[id]; len(m) > 0 {
		return fmt.Errorf("%w: node %q still has %d attached links", ErrNodeBadInput, id, len(m))
	}
	delete(wn.linksByNode, id)
	delete(wn.nodes, id)
	return nil
}

//
// ---------- Links ----------
//

func (wn *WaterNetwork) AddLink(l *Link) error {
	if l == nil || l.ID == "" {
		return fmt.Errorf("%w: nil or empty link", ErrLinkBadInput)
	}
	if l.StartNode == "" || l.EndNode == "" {
		return fmt.Errorf("%w: %q missing endpoint", ErrLinkBadInput, l.ID)
	}

	wn.mu.Lock()
	defer wn.mu.Unlock()

	if _, exists := wn.links[l.ID]; exists {
		return fmt.Errorf("%w: %q", ErrLinkExists, l.ID)
	}
	if _, ok := wn.nodes[l.StartNode]; !ok {
		return fmt.Errorf("%w: link %q references %q", ErrNodeNotFound, l.ID, l.StartNode)
	}
	if _, ok := wn.nodes[l.EndNode]; !ok {
		return fmt.Errorf("%w: link %q references %q", ErrNodeNotFound, l.ID, l.EndNode)
	}

	// Effective status starts wherever the scenario commanded it.
	l.internalStatus = l.UserStatus

	wn.links[l.ID] = l
	wn.attachLink(l.ID, l.StartNode)
	wn.attachLink(l.ID, l.EndNode)
	return nil
}

// GetLink returns a link by name or a not-found error.
func (wn *WaterNetwork) GetLink(id string) (*Link, error) {
	wn.mu.RLock()
	defer wn.mu.RUnlock()

	l, ok := wn.links[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrLinkNotFound, id)
	}
	return l, nil
}

// GetAllLinks returns all links sorted by ID.
func (wn *WaterNetwork) GetAllLinks() []*Link {
	wn.mu.RLock()
	defer wn.mu.RUnlock()

	out := make([]*Link, 0, len(wn.links))
	for _, l := range wn.links {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LinksForNode returns the links attached to a node, sorted by ID.
func (wn *WaterNetwork) LinksForNode(nodeID string) []*Link {
	wn.mu.RLock()
	defer wn.mu.RUnlock()

	m, ok := wn.linksByNode[nodeID]
	if !ok {
		return nil
	}
	out := make([]*Link, 0, len(m))
	for _, l := range m {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RemoveLink deletes a link and cleans up adjacency.
func (wn *WaterNetwork) RemoveLink(id string) error {
	wn.mu.Lock()
	defer wn.mu.Unlock()

	l, ok := wn.links[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrLinkNotFound, id)
	}
	wn.detachLink(id, l.StartNode)
	wn.detachLink(id, l.EndNode)
	delete(wn.links, id)
	return nil
}

// OtherEnd returns the node opposite nodeID on the link.
func (l *Link) OtherEnd(nodeID string) string {
	if l.StartNode == nodeID {
		return l.EndNode
	}
	return l.StartNode
}

//
// ---------- Polymorphic attribute access ----------
//

// NodeAttribute reads a node attribute by (name, attribute).
func (wn *WaterNetwork) NodeAttribute(id string, attr Attribute) (float64, error) {
	n, err := wn.GetNode(id)
	if err != nil {
		return 0, err
	}
	wn.mu.RLock()
	defer wn.mu.RUnlock()
	return n.attribute(attr)
}

// LinkAttribute reads a link attribute by (name, attribute).
func (wn *WaterNetwork) LinkAttribute(id string, attr Attribute) (float64, error) {
	l, err := wn.GetLink(id)
	if err != nil {
		return 0, err
	}
	wn.mu.RLock()
	defer wn.mu.RUnlock()
	return l.attribute(attr)
}

// SetNodeAttribute writes a settable node attribute.
func (wn *WaterNetwork) SetNodeAttribute(id string, attr Attribute, value float64) error {
	n, err := wn.GetNode(id)
	if err != nil {
		return err
	}
	wn.mu.Lock()
	defer wn.mu.Unlock()
	return n.setAttribute(attr, value)
}

// SetLinkAttribute writes a settable link attribute.
func (wn *WaterNetwork) SetLinkAttribute(id string, attr Attribute, value float64) error {
	l, err := wn.GetLink(id)
	if err != nil {
		return err
	}
	wn.mu.Lock()
	defer wn.mu.Unlock()
	return l.setAttribute(attr, value)
}

// SetLinkInternalStatus moves only the effective status of a link,
// leaving the user-commanded status alone.
func (wn *WaterNetwork) SetLinkInternalStatus(id string, s LinkStatus) error {
	l, err := wn.GetLink(id)
	if err != nil {
		return err
	}
	wn.mu.Lock()
	defer wn.mu.Unlock()
	l.setInternalStatus(s)
	return nil
}

//
// ---------- Helpers ----------
//

// attachLink updates linksByNode. Caller must hold wn.mu (write lock).
func (wn *WaterNetwork) attachLink(linkID, nodeID string) {
	m, ok := wn.linksByNode[nodeID]
	if !ok {
		m = make(map[string]*Link)
		wn.linksByNode[nodeID] = m
	}
	m[linkID] = wn.links[linkID]
}

// detachLink removes linkID from adjacency. Caller must hold wn.mu
// (write lock).
func (wn *WaterNetwork) detachLink(linkID, nodeID string) {
	if m, ok := wn.linksByNode[nodeID]; ok {
		delete(m, linkID)
		if len(m) == 0 {
			delete(wn.linksByNode, nodeID)
		}
	}
}
