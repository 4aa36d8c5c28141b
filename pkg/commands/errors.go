package commands

import "errors"

var (
	// ErrInvalidSpec is returned when a command spec fails validation
	ErrInvalidSpec = errors.New("invalid command spec")

	// ErrUnknownKind is returned for a spec kind with no builder
	ErrUnknownKind = errors.New("unknown command kind")

	// ErrUnknownFormat is returned for a spec document that is neither JSON nor YAML
	ErrUnknownFormat = errors.New("unknown spec format")

	// ErrNonZeroExit is returned when a shell command exits unsuccessfully
	ErrNonZeroExit = errors.New("process exited with non-zero status")

	// ErrCommandTimeout is returned when a shell command outlives its timeout
	ErrCommandTimeout = errors.New("process timed out")
)
