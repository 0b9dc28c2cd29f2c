package dag

import (
	"container/heap"
	"fmt"
	"slices"
)

// New creates and returns an initialized, empty Graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*node),
	}
}

// AddNode adds a new node with the given ID to the graph. If a node with
// the same ID already exists, the function does nothing.
func (g *Graph) AddNode(id string) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if _, ok := g.nodes[id]; ok {
		return
	}

	g.nodes[id] = &node{
		id:         id,
		index:      len(g.ids),
		deps:       make(map[string]*node),
		dependents: make(map[string]*node),
	}
	g.ids = append(g.ids, id)
}

// AddEdge creates a directed edge from the `fromID` node to the `toID` node.
// This signifies that `toID` has a dependency on `fromID`. An error is returned
// if either node does not exist or if the edge would create a self-reference.
func (g *Graph) AddEdge(fromID, toID string) error {
	if fromID == toID {
		return fmt.Errorf("self-referential edge not allowed: %s -> %s", fromID, fromID)
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()

	fromNode, ok := g.nodes[fromID]
	if !ok {
		return fmt.Errorf("source node not found: %s", fromID)
	}

	toNode, ok := g.nodes[toID]
	if !ok {
		return fmt.Errorf("destination node not found: %s", toID)
	}

	toNode.deps[fromID] = fromNode
	fromNode.dependents[toID] = toNode

	return nil
}

// Dependencies returns the IDs the given node depends on, in insertion order.
func (g *Graph) Dependencies(id string) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	return sortedIDs(n.deps), nil
}

// Dependents returns the IDs that depend on the given node, in insertion order.
func (g *Graph) Dependents(id string) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	return sortedIDs(n.dependents), nil
}

// Order returns a topological order of all nodes. Among nodes that are ready
// at the same time, the one inserted first comes first. If the graph has a
// cycle, a *CyclicDependencyError is returned and no partial order.
func (g *Graph) Order() ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	indegree := make(map[string]int, len(g.nodes))
	ready := &indexHeap{}
	for _, id := range g.ids {
		n := g.nodes[id]
		indegree[id] = len(n.deps)
		if len(n.deps) == 0 {
			heap.Push(ready, n.index)
		}
	}

	order := make([]string, 0, len(g.ids))
	for ready.Len() > 0 {
		n := g.nodes[g.ids[heap.Pop(ready).(int)]]
		order = append(order, n.id)
		for _, dep := range n.dependents {
			indegree[dep.id]--
			if indegree[dep.id] == 0 {
				heap.Push(ready, dep.index)
			}
		}
	}

	if len(order) != len(g.ids) {
		var members []string
		for _, id := range g.ids {
			if indegree[id] > 0 {
				members = append(members, id)
			}
		}
		return nil, &CyclicDependencyError{Members: members, Cycle: g.findCycle(members)}
	}
	return order, nil
}

// findCycle walks dependencies from the first unordered member until it
// revisits a node on the current path. Every unordered node has at least one
// unordered dependency, so the walk always closes a cycle.
func (g *Graph) findCycle(members []string) []string {
	if len(members) == 0 {
		return nil
	}
	unordered := make(map[string]bool, len(members))
	for _, id := range members {
		unordered[id] = true
	}

	pos := make(map[string]int)
	var path []string
	cur := members[0]
	for {
		if at, seen := pos[cur]; seen {
			return append(slices.Clone(path[at:]), cur)
		}
		pos[cur] = len(path)
		path = append(path, cur)

		next := ""
		for _, dep := range sortedIDs(g.nodes[cur].deps) {
			if unordered[dep] {
				next = dep
				break
			}
		}
		if next == "" {
			return path
		}
		cur = next
	}
}

func sortedIDs(set map[string]*node) []string {
	nodes := make([]*node, 0, len(set))
	for _, n := range set {
		nodes = append(nodes, n)
	}
	slices.SortFunc(nodes, func(a, b *node) int { return a.index - b.index })
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.id
	}
	return ids
}

// indexHeap is a min-heap of insertion indexes.
type indexHeap []int

func (h indexHeap) Len() int           { return len(h) }
func (h indexHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h indexHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *indexHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *indexHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
