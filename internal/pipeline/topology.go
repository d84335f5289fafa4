package pipeline

import (
	"fmt"
	"sort"
	"sync"
)

// Topology records which task nodes a run wires and the data dependencies
// between them. The builder populates it while wiring channels, so a
// run's shape is inspectable before anything executes and conditional
// branches can be asserted on directly.
type Topology struct {
	mu    sync.RWMutex
	nodes map[string]*topoNode
}

type topoNode struct {
	id         string
	deps       map[string]*topoNode
	dependents map[string]*topoNode
}

// NewTopology returns an empty topology.
func NewTopology() *Topology {
	return &Topology{nodes: make(map[string]*topoNode)}
}

// AddNode registers a node. Adding an existing ID is a no-op.
func (t *Topology) AddNode(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.nodes[id]; ok {
		return
	}
	t.nodes[id] = &topoNode{
		id:         id,
		deps:       make(map[string]*topoNode),
		dependents: make(map[string]*topoNode),
	}
}

// AddEdge records that toID consumes data produced by fromID. Both nodes
// must already be registered; a self-edge is a wiring bug.
func (t *Topology) AddEdge(fromID, toID string) error {
	if fromID == toID {
		return fmt.Errorf("self-referential edge not allowed: %s -> %s", fromID, fromID)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	from, ok := t.nodes[fromID]
	if !ok {
		return fmt.Errorf("source node not found: %s", fromID)
	}
	to, ok := t.nodes[toID]
	if !ok {
		return fmt.Errorf("destination node not found: %s", toID)
	}

	to.deps[fromID] = from
	from.dependents[toID] = to
	return nil
}

// Has reports whether a node was wired into this run.
func (t *Topology) Has(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.nodes[id]
	return ok
}

// Nodes returns every wired node ID, sorted for stable assertions.
func (t *Topology) Nodes() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.nodes))
	for id := range t.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Dependencies returns the IDs a node consumes from.
func (t *Topology) Dependencies(id string) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	deps := make([]string, 0, len(n.deps))
	for depID := range n.deps {
		deps = append(deps, depID)
	}
	sort.Strings(deps)
	return deps, nil
}

// DetectCycles checks the wired graph for cycles using depth-first search
// with permanent and temporary marks. A cycle means the builder wired
// channels into a loop, which can never drain.
func (t *Topology) DetectCycles() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	permanent := make(map[string]bool)
	temporary := make(map[string]bool)

	var visit func(n *topoNode) error
	visit = func(n *topoNode) error {
		if permanent[n.id] {
			return nil
		}
		if temporary[n.id] {
			return fmt.Errorf("cycle detected involving node '%s'", n.id)
		}
		temporary[n.id] = true
		for _, dep := range n.dependents {
			if err := visit(dep); err != nil {
				return err
			}
		}
		delete(temporary, n.id)
		permanent[n.id] = true
		return nil
	}

	for _, n := range t.nodes {
		if !permanent[n.id] {
			if err := visit(n); err != nil {
				return err
			}
		}
	}
	return nil
}
