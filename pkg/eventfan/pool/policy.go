package pool

import (
	"fmt"
	"strings"
)

// Policy decides what Submit does when every worker is busy and the queue
// is full.
type Policy int

const (
	// CallerRuns executes the task on the submitting goroutine. This slows
	// the publisher down instead of losing work.
	CallerRuns Policy = iota

	// Abort rejects the task with a *SaturationError.
	Abort

	// Block waits for queue space, context cancellation or shutdown.
	// A task submitted from one of the pool's own workers (a chained
	// publish) is run on that worker as under CallerRuns, since waiting
	// there could deadlock the pool.
	Block
)

// String returns the policy name used in configuration.
func (p Policy) String() string {
	switch p {
	case CallerRuns:
		return "caller_runs"
	case Abort:
		return "abort"
	case Block:
		return "block"
	default:
		return "unknown"
	}
}

// ParsePolicy parses a policy name. Hyphens and case are ignored.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_") {
	case "", "caller_runs", "callerruns":
		return CallerRuns, nil
	case "abort":
		return Abort, nil
	case "block":
		return Block, nil
	default:
		return 0, fmt.Errorf("unknown saturation policy %q", s)
	}
}
