// Package invoker implements the Process Supervisor (spec 4.F):
// spawning and supervising computation child processes with optional
// cgroup-based resource limits and packaging wrappers. Grounded on the
// teacher's LocalInvoker (exec.CommandContext + start/wait goroutine +
// status-changed callback), generalized from a single-kernel-launcher
// to a per-computation supervisor with an exit-classification contract.
package invoker

import (
	"context"
	"time"

	"github.com/dreamworksanimation/arras4-node/common/ids"
)

// ExitKind classifies how a supervised process stopped.
type ExitKind int

const (
	ExitClean    ExitKind = iota // process exited zero, as expected
	ExitSignal                   // process was killed by a signal
	ExitNonZero                  // process exited with a nonzero status
	ExitInternal                  // supervisor-internal failure (spawn failed, etc.)
)

// ExitReport is delivered to the Observer when a supervised process
// stops.
type ExitReport struct {
	ComputationId ids.ComputationId
	SessionId     ids.SessionId
	Kind          ExitKind
	Status        int
	Signal        string
	Expected      bool // true if the owning session requested termination
}

// Observer is notified of supervised-process lifecycle events.
type Observer interface {
	OnExit(report ExitReport)
}

// State is the supervised process's lifecycle state machine.
type State int

const (
	NotSpawned State = iota
	Spawned
	Terminating
	Exited
)

func (s State) String() string {
	switch s {
	case NotSpawned:
		return "NotSpawned"
	case Spawned:
		return "Spawned"
	case Terminating:
		return "Terminating"
	case Exited:
		return "Exited"
	default:
		return "Unknown"
	}
}

// ResourceLimits caps a computation's resource usage. Zero values mean
// "unconstrained".
type ResourceLimits struct {
	MemoryMB int
	Cores    float64
	Loan     bool // skip the shared core pool: reserve nothing, unbounded by it
}

// LaunchSpec fully describes a child process to spawn.
type LaunchSpec struct {
	ComputationId    ids.ComputationId
	SessionId        ids.SessionId
	Program          string
	Args             []string
	Env              map[string]string
	WorkingDirectory string
	Limits           ResourceLimits
	Packaging        string // "", "none", "current-environment", "bash", "rez1", "rez2"
}

// Supervisor spawns and supervises exactly one computation's child
// process.
type Supervisor interface {
	// Spawn starts the child process described by spec.
	Spawn(ctx context.Context, spec LaunchSpec) error

	// State returns the current lifecycle state.
	State() State

	// Terminate requests termination. If soft is true, a polite signal
	// is sent and the supervisor waits up to the grace window before
	// escalating to a forceful kill.
	Terminate(soft bool, expected bool)

	// WaitUntilExit blocks until the process exits or deadline elapses,
	// returning true if it exited.
	WaitUntilExit(deadline time.Duration) bool

	// OnExit registers the observer notified when the process stops.
	OnExit(Observer)

	// PerformanceCounters returns the rolling usage snapshot.
	PerformanceCounters() *Counters
}
