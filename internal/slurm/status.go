package slurm

import (
	"strings"
	"time"
)

// State is the supervisor's three-valued view of a Slurm job. The scheduler
// reports many fine-grained states; the job worker only needs to know
// whether to keep polling, collect results, or fail the job.
type State int

const (
	StateRunning State = iota
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "running"
	}
}

// MapState folds a raw Slurm state name into a State. Cancellation and
// resource-limit states count as failures. An empty or unrecognized state
// means the job has left the scheduler's books and is treated as complete;
// the worker then inspects the job's own outputs.
func MapState(raw string) State {
	state := strings.ToUpper(strings.TrimSpace(raw))
	// sacct suffixes cancelled states with the requesting user.
	if i := strings.Index(state, " "); i >= 0 {
		state = state[:i]
	}

	switch state {
	case "", "COMPLETED", "COMPLETING", "CD", "CG", "C", "UNKNOWN":
		return StateComplete
	case "FAILED", "F", "CANCELLED", "CA", "TIMEOUT", "TO",
		"NODE_FAIL", "NF", "OUT_OF_MEMORY", "OOM", "BOOT_FAIL", "BF",
		"DEADLINE", "DL", "PREEMPTED", "PR", "REVOKED", "ERROR":
		return StateFailed
	default:
		return StateRunning
	}
}

// Usage is the accounting record collected after a job finishes.
type Usage struct {
	WallTime    time.Duration
	CPUTime     time.Duration
	Nodes       int
	CPUs        int
	Memory      int64
	MemoryUsage int64
}
