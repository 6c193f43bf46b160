// Package protocol implements the qperf control plane: the server's
// listen/accept/dispatch loop and the client's connect/negotiate sequence.
package protocol

import "fmt"

// WorkerState is the enumeration of states a single test worker passes
// through between accept and exit. It exists mainly so that log lines and
// metrics can report where a stuck or failed test died.
type WorkerState int32

const (
	// StateAccepted is set immediately after accept, before the request has
	// been read.
	StateAccepted WorkerState = iota
	// StateNegotiating covers request decode and version/index validation.
	StateNegotiating
	// StateRunning covers synchronize() through the end of the test body.
	StateRunning
	// StateExchanging covers exchange_results.
	StateExchanging
	// StateDone is the terminal state, success or failure.
	StateDone
)

var workerStateName = map[WorkerState]string{
	StateAccepted:    "accepted",
	StateNegotiating: "negotiating",
	StateRunning:     "running",
	StateExchanging:  "exchanging",
	StateDone:        "done",
}

func (s WorkerState) String() string {
	name, ok := workerStateName[s]
	if !ok {
		return fmt.Sprintf("unknown_state_%d", s)
	}
	return name
}
