package models

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ExecutionMode selects how a run samples its sources. Development runs
// against a narrow row sample to populate previews cheaply; Performance
// runs against full inputs.
type ExecutionMode string

const (
	ModeDevelopment ExecutionMode = "Development"
	ModePerformance ExecutionMode = "Performance"
)

// Position is the purely presentational (x, y) location of a node in the
// editor canvas. It is preserved but never interpreted by the core.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is identified by (flow id, node id), where NodeID is a positive
// integer stable for the flow's lifetime.
type Node struct {
	NodeID        int64           `json:"node_id"`
	Kind          string          `json:"kind"`
	Position      Position        `json:"position"`
	IsSetup       bool            `json:"is_setup"`
	CacheResults  bool            `json:"cache_results"`
	Description   string          `json:"description,omitempty"`
	Settings      json.RawMessage `json:"settings"`
}

// Edge is a directed, typed connection between two node ports. Input ports
// are labelled input-0..input-N, output ports output-0..output-N.
type Edge struct {
	FromNode int64  `json:"from_node"`
	FromPort string `json:"from_port"`
	ToNode   int64  `json:"to_node"`
	ToPort   string `json:"to_port"`
}

// Flow owns its nodes and edges and enforces the invariants of spec §3:
// edges reference real endpoints, the graph is acyclic, and every connected
// input port is connected exactly once.
type Flow struct {
	FlowID        int64         `json:"flow_id"`
	Name          string        `json:"name"`
	Path          string        `json:"path,omitempty"`
	ExecutionMode ExecutionMode `json:"execution_mode"`
	Nodes         []*Node       `json:"nodes"`
	Edges         []*Edge       `json:"edges"`
}

// NewFlow constructs an empty flow in Development mode.
func NewFlow(flowID int64, name string) *Flow {
	return &Flow{
		FlowID:        flowID,
		Name:          name,
		ExecutionMode: ModeDevelopment,
		Nodes:         []*Node{},
		Edges:         []*Edge{},
	}
}

// GetNode returns a node by id.
func (f *Flow) GetNode(nodeID int64) (*Node, error) {
	for _, n := range f.Nodes {
		if n.NodeID == nodeID {
			return n, nil
		}
	}
	return nil, ErrNodeNotFound
}

func (f *Flow) findEdge(from, to int64, fromPort, toPort string) int {
	for i, e := range f.Edges {
		if e.FromNode == from && e.ToNode == to && e.FromPort == fromPort && e.ToPort == toPort {
			return i
		}
	}
	return -1
}

// AddNode appends a node, rejecting a duplicate node id.
func (f *Flow) AddNode(n *Node) error {
	if n.NodeID <= 0 {
		return &ValidationError{Message: "node_id must be positive"}
	}
	if _, err := f.GetNode(n.NodeID); err == nil {
		return ErrNodeExists
	}
	f.Nodes = append(f.Nodes, n)
	return nil
}

// RemoveNode deletes a node and every edge touching it.
func (f *Flow) RemoveNode(nodeID int64) error {
	idx := -1
	for i, n := range f.Nodes {
		if n.NodeID == nodeID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return ErrNodeNotFound
	}
	f.Nodes = append(f.Nodes[:idx], f.Nodes[idx+1:]...)

	kept := f.Edges[:0]
	for _, e := range f.Edges {
		if e.FromNode != nodeID && e.ToNode != nodeID {
			kept = append(kept, e)
		}
	}
	f.Edges = kept
	return nil
}

// AddEdge validates endpoints, rejects a second connection to the same
// input port, rejects a cycle, and only then appends the edge.
func (f *Flow) AddEdge(e *Edge) error {
	if _, err := f.GetNode(e.FromNode); err != nil {
		return fmt.Errorf("edge source node %d: %w", e.FromNode, ErrNodeNotFound)
	}
	if _, err := f.GetNode(e.ToNode); err != nil {
		return fmt.Errorf("edge target node %d: %w", e.ToNode, ErrNodeNotFound)
	}
	for _, existing := range f.Edges {
		if existing.ToNode == e.ToNode && existing.ToPort == e.ToPort {
			return ErrPortOccupied
		}
	}
	f.Edges = append(f.Edges, e)
	if _, err := f.TopoSort(); err != nil {
		// roll back; insertion that would create a cycle is rejected and the
		// graph is left unchanged.
		f.Edges = f.Edges[:len(f.Edges)-1]
		return err
	}
	return nil
}

// RemoveEdge deletes the first edge matching the given endpoints.
func (f *Flow) RemoveEdge(from, to int64, fromPort, toPort string) error {
	idx := f.findEdge(from, to, fromPort, toPort)
	if idx == -1 {
		return ErrEdgeNotFound
	}
	f.Edges = append(f.Edges[:idx], f.Edges[idx+1:]...)
	return nil
}

// ParentNodes returns the ids of the nodes feeding any input port of the
// given node, in edge declaration order.
func (f *Flow) ParentNodes(nodeID int64) []int64 {
	var parents []int64
	for _, e := range f.Edges {
		if e.ToNode == nodeID {
			parents = append(parents, e.FromNode)
		}
	}
	return parents
}

// ChildNodes returns the node ids downstream of a given node.
func (f *Flow) ChildNodes(nodeID int64) []int64 {
	var children []int64
	for _, e := range f.Edges {
		if e.FromNode == nodeID {
			children = append(children, e.ToNode)
		}
	}
	return children
}

// ErrCycle is returned by TopoSort when the graph contains a cycle.
var ErrCycle = fmt.Errorf("cyclic dependency detected")

// TopoSort returns node ids in a deterministic topological order (Kahn's
// algorithm, ties broken by node id) or ErrCycle if the graph is not
// acyclic.
func (f *Flow) TopoSort() ([]int64, error) {
	indegree := make(map[int64]int, len(f.Nodes))
	adj := make(map[int64][]int64, len(f.Nodes))
	for _, n := range f.Nodes {
		indegree[n.NodeID] = 0
	}
	for _, e := range f.Edges {
		adj[e.FromNode] = append(adj[e.FromNode], e.ToNode)
		indegree[e.ToNode]++
	}

	var ready []int64
	for _, n := range f.Nodes {
		if indegree[n.NodeID] == 0 {
			ready = append(ready, n.NodeID)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })

	var order []int64
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		for _, child := range adj[id] {
			indegree[child]--
			if indegree[child] == 0 {
				ready = append(ready, child)
			}
		}
	}

	if len(order) != len(f.Nodes) {
		return nil, ErrCycle
	}
	return order, nil
}

// Serialize returns the deterministic flow-file document of spec §6: nodes
// ordered by id, edges ordered lexicographically.
func (f *Flow) Serialize() ([]byte, error) {
	clone := *f
	nodes := append([]*Node{}, f.Nodes...)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].NodeID < nodes[j].NodeID })
	clone.Nodes = nodes

	edges := append([]*Edge{}, f.Edges...)
	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.FromNode != b.FromNode {
			return a.FromNode < b.FromNode
		}
		if a.FromPort != b.FromPort {
			return a.FromPort < b.FromPort
		}
		if a.ToNode != b.ToNode {
			return a.ToNode < b.ToNode
		}
		return a.ToPort < b.ToPort
	})
	clone.Edges = edges

	return json.Marshal(&clone)
}

// DeserializeFlow parses a flow-file document and checks it with Validate
// before returning it.
func DeserializeFlow(data []byte) (*Flow, error) {
	var f Flow
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks the structural invariants of spec §3: unique node ids,
// edges referencing real endpoints, and acyclicity. It does not check that
// node ids are positive or that each input port has at most one edge.
func (f *Flow) Validate() error {
	seen := make(map[int64]bool, len(f.Nodes))
	for _, n := range f.Nodes {
		if seen[n.NodeID] {
			return &ValidationError{Message: fmt.Sprintf("duplicate node id %d", n.NodeID)}
		}
		seen[n.NodeID] = true
	}
	for _, e := range f.Edges {
		if !seen[e.FromNode] {
			return &ValidationError{Message: fmt.Sprintf("edge references unknown node %d", e.FromNode)}
		}
		if !seen[e.ToNode] {
			return &ValidationError{Message: fmt.Sprintf("edge references unknown node %d", e.ToNode)}
		}
	}
	if _, err := f.TopoSort(); err != nil {
		return err
	}
	return nil
}

// Clone returns a deep copy of the flow via round-trip serialization.
func (f *Flow) Clone() (*Flow, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	var clone Flow
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, err
	}
	return &clone, nil
}
