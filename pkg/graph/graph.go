// Package graph holds the fan-out/fan-in task graph of an experiment.
//
// Nodes are vertices with a countdown of unfinished dependencies. A node is
// ready when its countdown reaches zero, and each node becomes ready at most
// once. Completing a node twice is a no-op, so redelivered acknowledgements
// never double-decrement a reducer. A failed node blocks every transitive
// dependent; blocked nodes never become ready.
//
// A ready node is claimed by whoever finds it ready, in the same critical
// section, so concurrent callers never hand the same node to the queue
// twice. Claims live in memory only: after a restart every ready node that
// was not marked submitted is ready again.
package graph

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/sweep/pkg/types"
)

// Store persists graph nodes
type Store interface {
	SaveNodes(nodes ...*types.GraphNode) error
	ListNodes() ([]*types.GraphNode, error)
}

// Graph is a DAG of task nodes. It is safe for concurrent use.
type Graph struct {
	mu      sync.Mutex
	nodes   map[string]*types.GraphNode
	order   []string
	claimed map[string]bool
	store   Store
}

// New creates an empty graph. store may be nil for an in-memory graph.
func New(store Store) *Graph {
	return &Graph{
		nodes:   make(map[string]*types.GraphNode),
		claimed: make(map[string]bool),
		store:   store,
	}
}

// Load rebuilds a graph from store
func Load(store Store) (*Graph, error) {
	nodes, err := store.ListNodes()
	if err != nil {
		return nil, fmt.Errorf("failed to load graph: %w", err)
	}
	g := New(store)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	for _, n := range nodes {
		g.nodes[n.ID] = n
		g.order = append(g.order, n.ID)
	}
	return g, nil
}

// Add inserts node depending on deps, which must already exist
func (g *Graph) Add(node *types.GraphNode, deps ...string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addLocked(node, deps)
}

func (g *Graph) addLocked(node *types.GraphNode, deps []string) error {
	if node.ID == "" {
		return fmt.Errorf("graph node has no ID")
	}
	if _, ok := g.nodes[node.ID]; ok {
		return fmt.Errorf("duplicate graph node: %s", node.ID)
	}
	for _, dep := range deps {
		if _, ok := g.nodes[dep]; !ok {
			return fmt.Errorf("node %s depends on unknown node %s", node.ID, dep)
		}
	}

	node.Deps = append([]string(nil), deps...)
	node.FanOut = len(deps)
	node.Remaining = len(deps)
	node.State = types.NodePending
	for _, dep := range deps {
		parent := g.nodes[dep]
		parent.Dependents = append(parent.Dependents, node.ID)
		if parent.State == types.NodeComplete {
			node.Remaining--
		}
	}

	g.nodes[node.ID] = node
	g.order = append(g.order, node.ID)
	return nil
}

// Submit adds a single independent node
func (g *Graph) Submit(node *types.GraphNode) error {
	return g.Add(node)
}

// Group adds independent nodes and returns their IDs in order
func (g *Graph) Group(nodes ...*types.GraphNode) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if err := g.addLocked(n, nil); err != nil {
			return nil, err
		}
		ids = append(ids, n.ID)
	}
	return ids, nil
}

// Chain adds nodes so that each depends on the one before it
func (g *Graph) Chain(nodes ...*types.GraphNode) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var prev []string
	for _, n := range nodes {
		if err := g.addLocked(n, prev); err != nil {
			return err
		}
		prev = []string{n.ID}
	}
	return nil
}

// Chord adds a group of header nodes and a reducer that depends on all of
// them. The reducer's fan-out is the header size; an empty header yields a
// reducer that is ready immediately.
func (g *Graph) Chord(header []*types.GraphNode, reducer *types.GraphNode) error {
	ids, err := g.Group(header...)
	if err != nil {
		return err
	}
	return g.Add(reducer, ids...)
}

// Save persists every node
func (g *Graph) Save() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.store == nil {
		return nil
	}
	nodes := make([]*types.GraphNode, 0, len(g.order))
	for _, id := range g.order {
		nodes = append(nodes, g.nodes[id])
	}
	return g.store.SaveNodes(nodes...)
}

// Ready returns the unclaimed pending nodes whose countdown is zero, in
// insertion order
func (g *Graph) Ready() []*types.GraphNode {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.readyLocked(false)
}

// ClaimReady returns the same nodes as Ready and claims them. The caller
// must follow with MarkSubmitted, or Release if it could not submit them.
func (g *Graph) ClaimReady() []*types.GraphNode {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.readyLocked(true)
}

func (g *Graph) readyLocked(claim bool) []*types.GraphNode {
	var ready []*types.GraphNode
	for _, id := range g.order {
		n := g.nodes[id]
		if n.State == types.NodePending && n.Remaining == 0 && !g.claimed[id] {
			ready = append(ready, clone(n))
			if claim {
				g.claimed[id] = true
			}
		}
	}
	return ready
}

// Release drops claims on nodes that never reached the queue, making them
// ready again
func (g *Graph) Release(ids ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range ids {
		delete(g.claimed, id)
	}
}

// MarkSubmitted records that the given nodes were handed to the queue
func (g *Graph) MarkSubmitted(ids ...string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	changed := make([]*types.GraphNode, 0, len(ids))
	for _, id := range ids {
		n, ok := g.nodes[id]
		if !ok {
			return fmt.Errorf("unknown graph node: %s", id)
		}
		delete(g.claimed, id)
		if n.State == types.NodePending {
			n.State = types.NodeSubmitted
			changed = append(changed, n)
		}
	}
	return g.persistLocked(changed)
}

// Complete marks a node complete and returns the dependents that became
// ready as a result, already claimed. Completing an already complete, failed
// or blocked node returns nothing.
func (g *Graph) Complete(id string) ([]*types.GraphNode, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("unknown graph node: %s", id)
	}
	switch n.State {
	case types.NodeComplete, types.NodeFailed, types.NodeBlocked:
		return nil, nil
	}

	n.State = types.NodeComplete
	changed := []*types.GraphNode{n}
	var ready []*types.GraphNode
	for _, depID := range n.Dependents {
		dep := g.nodes[depID]
		if dep.State != types.NodePending {
			continue
		}
		dep.Remaining--
		changed = append(changed, dep)
		if dep.Remaining == 0 {
			ready = append(ready, clone(dep))
		}
	}

	if err := g.persistLocked(changed); err != nil {
		return nil, err
	}
	for _, dep := range ready {
		g.claimed[dep.ID] = true
	}
	return ready, nil
}

// Fail marks a node failed and blocks all of its transitive dependents.
// It returns the newly blocked nodes. Failing a finished node is a no-op.
func (g *Graph) Fail(id string, cause string) ([]*types.GraphNode, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("unknown graph node: %s", id)
	}
	switch n.State {
	case types.NodeComplete, types.NodeFailed, types.NodeBlocked:
		return nil, nil
	}

	n.State = types.NodeFailed
	n.Error = cause
	changed := []*types.GraphNode{n}
	var blocked []*types.GraphNode

	var block func(node *types.GraphNode)
	block = func(node *types.GraphNode) {
		for _, depID := range node.Dependents {
			dep := g.nodes[depID]
			if dep.State == types.NodeBlocked || dep.State == types.NodeComplete || dep.State == types.NodeFailed {
				continue
			}
			dep.State = types.NodeBlocked
			dep.Error = fmt.Sprintf("blocked by %s", n.ID)
			changed = append(changed, dep)
			blocked = append(blocked, clone(dep))
			block(dep)
		}
	}
	block(n)

	if err := g.persistLocked(changed); err != nil {
		return nil, err
	}
	return blocked, nil
}

// Node returns a copy of the node with the given ID
func (g *Graph) Node(id string) (*types.GraphNode, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[id]
	if !ok {
		return nil, false
	}
	return clone(n), true
}

// Nodes returns copies of all nodes in insertion order
func (g *Graph) Nodes() []*types.GraphNode {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*types.GraphNode, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, clone(g.nodes[id]))
	}
	return out
}

// Reset drops every node held in memory. Persisted nodes are untouched.
func (g *Graph) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes = make(map[string]*types.GraphNode)
	g.claimed = make(map[string]bool)
	g.order = nil
}

// Len returns the number of nodes
func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.nodes)
}

func (g *Graph) persistLocked(nodes []*types.GraphNode) error {
	if g.store == nil || len(nodes) == 0 {
		return nil
	}
	if err := g.store.SaveNodes(nodes...); err != nil {
		return fmt.Errorf("failed to persist graph: %w", err)
	}
	return nil
}

func clone(n *types.GraphNode) *types.GraphNode {
	c := *n
	c.Deps = append([]string(nil), n.Deps...)
	c.Dependents = append([]string(nil), n.Dependents...)
	return &c
}
