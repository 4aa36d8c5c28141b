package commandqueue

import (
	"context"
	"time"
)

// State is a command's position in its lifecycle
type State string

const (
	StateNotStarted State = "NOT_STARTED"
	StateRunning    State = "RUNNING"
	StatePaused     State = "PAUSED"
	StateCompleted  State = "COMPLETED"
	StateAborted    State = "ABORTED"
	StateFailed     State = "FAILED"
)

// IsTerminal reports whether no further transition is possible
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateAborted || s == StateFailed
}

// CommandID identifies a queued command. It is minted on admission and
// survives reordering.
type CommandID string

// Summary is the short, always available view of a command
type Summary struct {
	Description string `json:"description"`
	State       State  `json:"state"`
}

// Details is the richer view of a command. Editable commands accept a
// modified Text through SetDetails before they start.
type Details struct {
	Text     string `json:"text"`
	Editable bool   `json:"editable"`
}

// QueuedCommandSummary pairs a queue entry's id with its summary
type QueuedCommandSummary struct {
	ID      CommandID `json:"id"`
	Summary Summary   `json:"summary"`
}

// CommandEvent is published on every command state transition
type CommandEvent struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	Err  string    `json:"error,omitempty"`
	Time time.Time `json:"time"`
}

// Command is a unit of work executed by a Processor.
//
// Run is called once, on the processor's worker goroutine. It must mark
// the command RUNNING on entry and COMPLETED on normal return, and it is
// expected to call Checkpoint (or Pause/Abort directly) at points where
// it can safely suspend or stop. Base provides everything except Run.
type Command interface {
	Run(ctx context.Context) error

	State() State
	Description() string
	Summary() Summary
	Details() (Details, error)
	SetDetails(Details) error

	// RequestPause asks the command to park at its next checkpoint
	RequestPause()
	// RequestAbort asks the command to stop at its next checkpoint, or
	// immediately if it is parked
	RequestAbort()
	// Resume clears a pending pause request and wakes a parked command
	Resume()
	// Fail records an execution error and moves a non-terminal command to FAILED
	Fail(err error)

	AddObserver(o Observer[CommandEvent]) Handle
	RemoveObserver(h Handle)
}
