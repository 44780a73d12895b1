// Package dag holds the dependency graph of tasks and the scheduler that
// drives it to completion.
//
// The graph grows incrementally: a task is added after all of its parents,
// so it is acyclic by construction and registration order is a topological
// order. The scheduler is a single cooperative loop; it owns every task
// state change and delegates process execution to a job.Backend.
package dag
