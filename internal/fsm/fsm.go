// Package fsm defines the worker contract shared by every component of the
// orchestrator: a finite, totally ordered global state and the tri-valued
// result a worker reports for each transition into or out of it.
package fsm

import "context"

// State is one step of the global lifecycle. Values are declared in their
// natural forward order; STOP may be entered from any other state.
type State int

const (
	Init State = iota
	QemuUp
	NetworkUp
	Job
	Stop
)

var stateNames = [...]string{"INIT", "QEMU_UP", "NETWORK_UP", "JOB", "STOP"}

func (s State) String() string {
	if int(s) < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// Sequence is the strict forward walk the driver performs. STOP is reached
// separately, either at the end of the walk or by forced jump.
var Sequence = []State{Init, QemuUp, NetworkUp, Job}

// Result is the tri-valued outcome a worker hook reports.
type Result int

const (
	// NOOP means this state is not the worker's concern; no side effect
	// was performed.
	NOOP Result = iota
	// Done means the worker performed meaningful work for this state.
	Done
	// Fail means the hook raised or timed out. The driver records it and
	// forces a transition to Stop.
	Fail
)

func (r Result) String() string {
	switch r {
	case NOOP:
		return "NOOP"
	case Done:
		return "DONE"
	case Fail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// Worker is the contract every cooperating component implements. Hooks must
// be idempotent for states they don't care about: returning NOOP must never
// have a side effect. A worker may suspend on I/O but must respect ctx's
// deadline.
type Worker interface {
	// Name is a short, human-readable identifier used in logs.
	Name() string
	// Enter is invoked when the global state transitions into state.
	Enter(ctx context.Context, state State) (Result, error)
	// Exit is invoked when the global state transitions out of state.
	Exit(ctx context.Context, state State) (Result, error)
}
