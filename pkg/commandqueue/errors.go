package commandqueue

import "errors"

var (
	// ErrNotFound is returned when a CommandID does not name a queued entry
	ErrNotFound = errors.New("command not found")

	// ErrQueueEmpty is returned by RemoveHead on an empty queue
	ErrQueueEmpty = errors.New("queue is empty")

	// ErrCommandStarted is returned when reordering, replacing or editing an entry that has already started
	ErrCommandStarted = errors.New("command has already started")

	// ErrInvalidMove is returned when a move target is part of the moved set
	ErrInvalidMove = errors.New("move target cannot be one of the moved commands")

	// ErrNilCommand is returned when a nil command is admitted
	ErrNilCommand = errors.New("command cannot be nil")

	// ErrIllegalTransition is returned when a command state change is not allowed from the current state
	ErrIllegalTransition = errors.New("illegal command state transition")

	// ErrAborted is returned from cooperative checkpoints once a command has been aborted
	ErrAborted = errors.New("command aborted")

	// ErrDetailsNotEditable is returned when a command does not accept new details
	ErrDetailsNotEditable = errors.New("command details are not editable")

	// ErrTimeout is returned when a processor transition was not observed in time
	ErrTimeout = errors.New("timed out waiting for processor state")

	// ErrProcessorBusy is returned when the queue is swapped while a command is executing
	ErrProcessorBusy = errors.New("processor is executing a command")

	// ErrProcessorClosed is returned by controls invoked after Close
	ErrProcessorClosed = errors.New("processor is closed")
)
