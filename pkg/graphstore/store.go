// Package graphstore is the Graph Store (C1): an in-memory repository of
// flows, nodes, edges and their derived schemas. Mutations are serialized
// per flow by a reader-writer lock; schema propagation runs eagerly after
// every successful edit.
package graphstore

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/smilemakc/mbflow/pkg/models"
	"github.com/smilemakc/mbflow/pkg/registry"
)

// flowEntry is one flow's graph plus its derived, per-node schema cache
// and validation state, guarded by its own RWMutex so that concurrent
// readers (validators, the scheduler's snapshot) never block each other.
type flowEntry struct {
	mu       sync.RWMutex
	flow     *models.Flow
	schemas  map[int64]models.Schema
	schemaErr map[int64]error
	locked   bool // true while a run is active; external mutations are rejected
}

// Store holds every flow known to the process, keyed by id.
type Store struct {
	reg registry.Registry

	mu    sync.RWMutex
	flows map[int64]*flowEntry
}

// New creates an empty graph store bound to a Node Library.
func New(reg registry.Registry) *Store {
	return &Store{reg: reg, flows: make(map[int64]*flowEntry)}
}

func (s *Store) entry(flowID int64) (*flowEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.flows[flowID]
	if !ok {
		return nil, models.ErrFlowNotFound
	}
	return e, nil
}

// CreateFlow registers a new, empty flow.
func (s *Store) CreateFlow(flowID int64, name string) (*models.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.flows[flowID]; exists {
		return nil, models.ErrNodeExists
	}
	flow := models.NewFlow(flowID, name)
	s.flows[flowID] = &flowEntry{flow: flow, schemas: map[int64]models.Schema{}, schemaErr: map[int64]error{}}
	return flow, nil
}

// Snapshot returns a deep copy of a flow's current graph, safe for the
// caller to read without holding the store's lock (used by the scheduler
// to freeze a run's view of the graph).
func (s *Store) Snapshot(flowID int64) (*models.Flow, error) {
	e, err := s.entry(flowID)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.flow.Clone()
}

// NodeSchema returns a node's cached derived output schema.
func (s *Store) NodeSchema(flowID, nodeID int64) (models.Schema, error) {
	e, err := s.entry(flowID)
	if err != nil {
		return models.Schema{}, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err, bad := e.schemaErr[nodeID]; bad {
		return models.Schema{}, err
	}
	schema, ok := e.schemas[nodeID]
	if !ok {
		return models.Schema{}, &models.SchemaError{NodeID: nodeID, Cause: models.ErrNodeNotFound}
	}
	return schema, nil
}

// Lock marks a flow read-only to external mutation while a run is active,
// per invariant 6 of spec.md §3.
func (s *Store) Lock(flowID int64) error {
	e, err := s.entry(flowID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.locked = true
	return nil
}

// Unlock releases the run-active lock.
func (s *Store) Unlock(flowID int64) error {
	e, err := s.entry(flowID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.locked = false
	return nil
}

func (e *flowEntry) checkUnlocked() error {
	if e.locked {
		return models.ErrFlowLocked
	}
	return nil
}

// AddNode adds a node and propagates its (input-less, for most source
// kinds) schema.
func (s *Store) AddNode(flowID int64, node *models.Node) error {
	e, err := s.entry(flowID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkUnlocked(); err != nil {
		return err
	}
	if err := e.flow.AddNode(node); err != nil {
		return err
	}
	s.propagateFrom(e, node.NodeID)
	return nil
}

// DeleteNode removes a node and its incident edges, then re-propagates the
// schemas of whatever used to be downstream.
func (s *Store) DeleteNode(flowID, nodeID int64) error {
	e, err := s.entry(flowID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkUnlocked(); err != nil {
		return err
	}
	children := e.flow.ChildNodes(nodeID)
	if err := e.flow.RemoveNode(nodeID); err != nil {
		return err
	}
	delete(e.schemas, nodeID)
	delete(e.schemaErr, nodeID)
	for _, c := range children {
		s.propagateFrom(e, c)
	}
	return nil
}

// AddEdge connects two ports, rejecting a cycle, then re-propagates the
// downstream transitive closure of the edge's target.
func (s *Store) AddEdge(flowID int64, edge *models.Edge) error {
	e, err := s.entry(flowID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkUnlocked(); err != nil {
		return err
	}
	if err := e.flow.AddEdge(edge); err != nil {
		return err
	}
	s.propagateFrom(e, edge.ToNode)
	return nil
}

// DeleteEdge disconnects two ports and re-propagates the target's
// transitive closure.
func (s *Store) DeleteEdge(flowID int64, from, to int64, fromPort, toPort string) error {
	e, err := s.entry(flowID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkUnlocked(); err != nil {
		return err
	}
	if err := e.flow.RemoveEdge(from, to, fromPort, toPort); err != nil {
		return err
	}
	s.propagateFrom(e, to)
	return nil
}

// UpdateSettings validates the new settings record against the node's
// current input schemas and, on success, recomputes its output schema and
// re-propagates downstream.
func (s *Store) UpdateSettings(flowID, nodeID int64, kind string, settings json.RawMessage) error {
	e, err := s.entry(flowID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkUnlocked(); err != nil {
		return err
	}
	node, err := e.flow.GetNode(nodeID)
	if err != nil {
		return err
	}
	node.Kind = kind
	node.Settings = settings
	node.IsSetup = true
	s.propagateFrom(e, nodeID)
	return nil
}

// inputSchemasFor gathers the current schemas of a node's connected input
// ports in port order, applying invariant 4: a node's schema depends only
// on its settings and its inputs' schemas.
func (e *flowEntry) inputSchemasFor(nodeID int64) []models.Schema {
	var edges []*models.Edge
	for _, ed := range e.flow.Edges {
		if ed.ToNode == nodeID {
			edges = append(edges, ed)
		}
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].ToPort < edges[j].ToPort })
	schemas := make([]models.Schema, len(edges))
	for i, ed := range edges {
		schemas[i] = e.schemas[ed.FromNode]
	}
	return schemas
}

// propagateFrom walks the transitive closure of nodeID in topological
// order, recomputing each node's schema. A node whose upstream schema is
// unknown because an ancestor failed inherits a SchemaError wrapping the
// ancestor's cause.
func (s *Store) propagateFrom(e *flowEntry, nodeID int64) {
	order := e.transitiveClosureOrder(nodeID)
	for _, id := range order {
		node, err := e.flow.GetNode(id)
		if err != nil {
			continue
		}
		desc, err := s.reg.Get(node.Kind)
		if err != nil {
			e.schemaErr[id] = err
			delete(e.schemas, id)
			continue
		}

		inputs := e.inputSchemasFor(id)
		if err := e.ancestorError(id); err != nil {
			e.schemaErr[id] = &models.SchemaError{NodeID: id, Cause: err}
			delete(e.schemas, id)
			continue
		}

		schema, err := desc.Propagate(node.Settings, inputs)
		if err != nil {
			e.schemaErr[id] = err
			delete(e.schemas, id)
			continue
		}
		delete(e.schemaErr, id)
		e.schemas[id] = schema
	}
}

// ancestorError reports the first schema error found among a node's direct
// parents, so failures propagate without re-deriving downstream schemas
// from a partial input set.
func (e *flowEntry) ancestorError(nodeID int64) error {
	for _, parentID := range e.flow.ParentNodes(nodeID) {
		if err, bad := e.schemaErr[parentID]; bad {
			return err
		}
	}
	return nil
}

// transitiveClosureOrder returns nodeID and every node reachable from it,
// in topological order, so propagation always recomputes parents before
// children.
func (e *flowEntry) transitiveClosureOrder(nodeID int64) []int64 {
	reachable := map[int64]bool{nodeID: true}
	queue := []int64{nodeID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, child := range e.flow.ChildNodes(id) {
			if !reachable[child] {
				reachable[child] = true
				queue = append(queue, child)
			}
		}
	}

	full, _ := e.flow.TopoSort()
	var order []int64
	for _, id := range full {
		if reachable[id] {
			order = append(order, id)
		}
	}
	return order
}

// Serialize returns the flow's canonical document (spec.md §6).
func (s *Store) Serialize(flowID int64) ([]byte, error) {
	e, err := s.entry(flowID)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.flow.Serialize()
}

// Import deserializes a flow document and registers it, deriving every
// node's schema before returning.
func (s *Store) Import(data []byte) (*models.Flow, error) {
	flow, err := models.DeserializeFlow(data)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	e := &flowEntry{flow: flow, schemas: map[int64]models.Schema{}, schemaErr: map[int64]error{}}
	s.flows[flow.FlowID] = e
	s.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	order, _ := flow.TopoSort()
	for _, id := range order {
		s.propagateFrom(e, id)
	}
	return flow, nil
}
