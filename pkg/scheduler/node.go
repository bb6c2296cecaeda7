// Package scheduler runs a task graph to completion with bounded
// concurrency, memoization, and failure propagation (spec §4.9/C10).
//
// Unlike pkg/engine/scheduler.go's ParallelScheduler, which executes a DAG
// level-by-level (every node at depth N waits for the slowest node at
// depth N-1), this scheduler is event-driven: a node becomes Ready and is
// dispatched the instant its own dependencies finish, regardless of what
// else is still running at a "shallower" depth. Retry/backoff and event
// publishing are kept from the teacher's mechanics; the level barrier is
// not.
package scheduler

import (
	"context"
	"time"
)

// NodeType is the kind of work a task graph node performs (spec §3).
type NodeType int

const (
	Build NodeType = iota
	Deploy
	Test
	RunTask
	RunModule
	ResolveProvider
	Publish
	Delete
)

// priority orders node types for the deterministic tie-break spec §9
// requires when multiple nodes become ready simultaneously: lower
// priority values are dispatched first.
func (t NodeType) priority() int {
	switch t {
	case Build:
		return 0
	case ResolveProvider:
		return 1
	case Deploy:
		return 2
	case RunTask:
		return 3
	case RunModule:
		return 3
	case Test:
		return 4
	case Publish:
		return 5
	case Delete:
		return 6
	default:
		return 99
	}
}

func (t NodeType) String() string {
	switch t {
	case Build:
		return "build"
	case Deploy:
		return "deploy"
	case Test:
		return "test"
	case RunTask:
		return "run-task"
	case RunModule:
		return "run-module"
	case ResolveProvider:
		return "resolve-provider"
	case Publish:
		return "publish"
	case Delete:
		return "delete"
	default:
		return "unknown"
	}
}

// Status is a node's place in the pending -> ready -> in-progress ->
// {complete, failed, cancelled, skipped} state machine.
type Status int

const (
	Pending Status = iota
	Ready
	InProgress
	Complete
	Failed
	Cancelled
	Skipped
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case InProgress:
		return "in-progress"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether s is one the scheduler will never transition
// out of.
func (s Status) IsTerminal() bool {
	switch s {
	case Complete, Failed, Cancelled, Skipped:
		return true
	default:
		return false
	}
}

// MemoKey identifies a node for memoization: two nodes with the same key
// are the same unit of work and only the first actually runs, unless
// Force bypasses the cache (spec §4.9's memoization-by-version rule).
type MemoKey struct {
	Type    NodeType
	Name    string
	Version string
}

// Node is one vertex in the task graph.
type Node struct {
	Key          MemoKey
	Dependencies []MemoKey
	Force        bool
	Timeout      time.Duration
	MaxRetries   int

	// Run is the work this node performs. ctx is cancelled on node timeout
	// or graph-wide cancellation.
	Run func(ctx context.Context) (map[string]interface{}, error)
}

// Result is the terminal outcome recorded for a node.
type Result struct {
	Key       MemoKey
	Status    Status
	Outputs   map[string]interface{}
	Err       error
	StartedAt time.Time
	EndedAt   time.Time
	Memoized  bool
}
