// Package dag builds the setup task graph and computes its execution order.
//
// Edges come from two sources: explicit task-name dependencies and implicit
// links between a task that requires a cache key and the task that provides
// it. The order is a topological sort where ties are broken by registration
// order, so the same task set always installs in the same sequence.
package dag
