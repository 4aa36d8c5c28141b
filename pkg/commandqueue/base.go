package commandqueue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Base implements the state machine, pause gate and observer plumbing of
// a Command. Concrete commands embed *Base and supply Run.
type Base struct {
	mu             sync.Mutex
	description    string
	details        Details
	state          State
	err            error
	pauseRequested bool
	abortRequested bool
	resumed        bool
	wake           chan struct{}
	subject        Subject[CommandEvent]
}

// NewBase creates a NOT_STARTED base whose details are its description
func NewBase(description string) *Base {
	return NewBaseWithDetails(description, Details{Text: description})
}

// NewBaseWithDetails creates a NOT_STARTED base with explicit details
func NewBaseWithDetails(description string, details Details) *Base {
	return &Base{
		description: description,
		details:     details,
		state:       StateNotStarted,
		wake:        make(chan struct{}, 1),
	}
}

// State returns the current state
func (b *Base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Description returns the human-readable description
func (b *Base) Description() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.description
}

// Summary returns the description and current state
func (b *Base) Summary() Summary {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Summary{Description: b.description, State: b.state}
}

// Details returns the stored details
func (b *Base) Details() (Details, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.details, nil
}

// SetDetails replaces the details text of an editable command that has
// not started yet
func (b *Base) SetDetails(d Details) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.details.Editable {
		return ErrDetailsNotEditable
	}
	if b.state != StateNotStarted {
		return fmt.Errorf("set details in state %s: %w", b.state, ErrCommandStarted)
	}
	b.details.Text = d.Text
	return nil
}

// Err returns the error recorded by Fail, if any
func (b *Base) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// PauseRequested reports whether a pause is pending
func (b *Base) PauseRequested() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pauseRequested
}

// AbortRequested reports whether an abort is pending
func (b *Base) AbortRequested() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.abortRequested
}

// AddObserver subscribes to state transitions
func (b *Base) AddObserver(o Observer[CommandEvent]) Handle {
	return b.subject.AddObserver(o)
}

// RemoveObserver cancels a subscription
func (b *Base) RemoveObserver(h Handle) {
	b.subject.RemoveObserver(h)
}

// BeginRun marks the command RUNNING. Call it first thing in Run.
func (b *Base) BeginRun() error {
	return b.transition(StateRunning, StateNotStarted)
}

// EndRun marks the command COMPLETED. It is a no-op once ABORTED.
func (b *Base) EndRun() error {
	b.mu.Lock()
	switch b.state {
	case StateAborted:
		b.mu.Unlock()
		return nil
	case StateRunning:
		ev := b.setStateLocked(StateCompleted)
		b.mu.Unlock()
		b.publish(ev)
		return nil
	}
	state := b.state
	b.mu.Unlock()
	return fmt.Errorf("%s to %s: %w", state, StateCompleted, ErrIllegalTransition)
}

// Abort marks a running or parked command ABORTED. Run should return
// promptly afterwards.
func (b *Base) Abort() error {
	err := b.transition(StateAborted, StateRunning, StatePaused)
	if err == nil {
		b.signal()
	}
	return err
}

// Pause parks the calling work loop. The command moves to PAUSED and
// the call blocks until Resume, after which the command is RUNNING
// again and Pause returns nil. An abort request, or ctx ending, while
// parked moves the command to ABORTED and returns ErrAborted.
func (b *Base) Pause(ctx context.Context) error {
	b.mu.Lock()
	if b.state != StateRunning {
		state := b.state
		b.mu.Unlock()
		return fmt.Errorf("pause from %s: %w", state, ErrIllegalTransition)
	}
	if b.abortRequested {
		ev := b.setStateLocked(StateAborted)
		b.mu.Unlock()
		b.publish(ev)
		return ErrAborted
	}
	b.pauseRequested = false
	b.resumed = false
	select {
	case <-b.wake:
	default:
	}
	ev := b.setStateLocked(StatePaused)
	b.mu.Unlock()
	b.publish(ev)

	done := ctx.Done()
	for {
		select {
		case <-b.wake:
		case <-done:
			done = nil
			b.mu.Lock()
			b.abortRequested = true
			b.mu.Unlock()
		}

		b.mu.Lock()
		switch {
		case b.state.IsTerminal():
			b.mu.Unlock()
			return ErrAborted
		case b.abortRequested:
			ev := b.setStateLocked(StateAborted)
			b.mu.Unlock()
			b.publish(ev)
			return ErrAborted
		case b.resumed:
			b.resumed = false
			ev := b.setStateLocked(StateRunning)
			b.mu.Unlock()
			b.publish(ev)
			return nil
		}
		b.mu.Unlock()
	}
}

// Checkpoint applies any pending abort or pause request. Work loops call
// it between units of work; a non-nil return means the command has been
// aborted and Run should return.
func (b *Base) Checkpoint(ctx context.Context) error {
	b.mu.Lock()
	abort := b.abortRequested || ctx.Err() != nil
	pause := b.pauseRequested
	b.mu.Unlock()

	if abort {
		_ = b.Abort()
		return ErrAborted
	}
	if pause {
		return b.Pause(ctx)
	}
	return nil
}

// RequestPause asks the work loop to park at its next checkpoint
func (b *Base) RequestPause() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.state.IsTerminal() {
		b.pauseRequested = true
	}
}

// RequestAbort asks the work loop to stop at its next checkpoint and
// wakes it if parked
func (b *Base) RequestAbort() {
	b.mu.Lock()
	if b.state.IsTerminal() {
		b.mu.Unlock()
		return
	}
	b.abortRequested = true
	paused := b.state == StatePaused
	b.mu.Unlock()

	if paused {
		b.signal()
	}
}

// Resume withdraws a pending pause request and wakes a parked work loop
func (b *Base) Resume() {
	b.mu.Lock()
	b.pauseRequested = false
	paused := b.state == StatePaused
	if paused {
		b.resumed = true
	}
	b.mu.Unlock()

	if paused {
		b.signal()
	}
}

// Fail moves a non-terminal command to FAILED and records err
func (b *Base) Fail(err error) {
	b.mu.Lock()
	if b.state.IsTerminal() {
		b.mu.Unlock()
		return
	}
	b.err = err
	ev := b.setStateLocked(StateFailed)
	b.mu.Unlock()

	b.signal()
	b.publish(ev)
}

func (b *Base) transition(to State, from ...State) error {
	b.mu.Lock()
	allowed := false
	for _, s := range from {
		if b.state == s {
			allowed = true
			break
		}
	}
	if !allowed {
		state := b.state
		b.mu.Unlock()
		return fmt.Errorf("%s to %s: %w", state, to, ErrIllegalTransition)
	}
	ev := b.setStateLocked(to)
	b.mu.Unlock()

	b.publish(ev)
	return nil
}

func (b *Base) setStateLocked(to State) CommandEvent {
	ev := CommandEvent{From: b.state, To: to, Time: time.Now()}
	if to == StateFailed && b.err != nil {
		ev.Err = b.err.Error()
	}
	b.state = to
	return ev
}

func (b *Base) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Base) publish(ev CommandEvent) {
	b.subject.Notify(b, ev)
}
