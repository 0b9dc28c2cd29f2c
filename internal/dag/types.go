package dag

import "sync"

// Graph holds setup tasks and the edges between them. It is safe for
// concurrent use.
type Graph struct {
	mutex sync.RWMutex
	nodes map[string]*node
	// ids are in insertion order.
	ids []string
}

// node is a task. Callers address nodes by task name only.
type node struct {
	id    string
	index int
	// deps run before this task.
	deps map[string]*node
	// dependents run after it.
	dependents map[string]*node
}
