package commandqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	eventually = 2 * time.Second
	tick       = 5 * time.Millisecond
)

// funcCommand runs fn between BeginRun and EndRun
type funcCommand struct {
	*Base
	fn func(ctx context.Context, b *Base) error
}

func newFuncCommand(description string, fn func(ctx context.Context, b *Base) error) *funcCommand {
	return &funcCommand{Base: NewBase(description), fn: fn}
}

func (c *funcCommand) Run(ctx context.Context) error {
	if err := c.BeginRun(); err != nil {
		return err
	}
	if c.fn != nil {
		if err := c.fn(ctx, c.Base); err != nil {
			return err
		}
	}
	return c.EndRun()
}

func newNoopCommand(description string) *funcCommand {
	return newFuncCommand(description, nil)
}

// newPauseCommand parks itself once, as if it had seen a pause request
func newPauseCommand(description string) *funcCommand {
	return newFuncCommand(description, func(ctx context.Context, b *Base) error {
		return b.Pause(ctx)
	})
}

// newSkipCommand aborts itself on its first checkpoint
func newSkipCommand(description string) *funcCommand {
	return newFuncCommand(description, func(ctx context.Context, b *Base) error {
		if err := b.Abort(); err != nil {
			return err
		}
		return ErrAborted
	})
}

// newLoopCommand checkpoints every few milliseconds until release is closed
func newLoopCommand(description string, release <-chan struct{}) *funcCommand {
	return newFuncCommand(description, func(ctx context.Context, b *Base) error {
		for {
			select {
			case <-release:
				return nil
			case <-time.After(2 * time.Millisecond):
			}
			if err := b.Checkpoint(ctx); err != nil {
				return err
			}
		}
	})
}

// newBlockingCommand ignores pause requests until release is closed
func newBlockingCommand(description string, release <-chan struct{}) *funcCommand {
	return newFuncCommand(description, func(ctx context.Context, b *Base) error {
		<-release
		return nil
	})
}

func newFailingCommand(description string) *funcCommand {
	return newFuncCommand(description, func(ctx context.Context, b *Base) error {
		return errors.New("boom")
	})
}

// eventRecorder collects events from any Subject
type eventRecorder[E any] struct {
	mu     sync.Mutex
	events []E
}

func (r *eventRecorder[E]) Update(_ any, event E) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder[E]) Events() []E {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]E, len(r.events))
	copy(out, r.events)
	return out
}

func (r *eventRecorder[E]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func newTestProcessor(t *testing.T, q *Queue) *Processor {
	t.Helper()
	p := NewProcessor(q)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), eventually)
		defer cancel()
		_ = p.Close(ctx)
	})
	return p
}

func requireState(t *testing.T, c Command, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == want }, eventually, tick,
		"command %q never reached %s (last %s)", c.Description(), want, c.State())
}

func requireProcessorState(t *testing.T, p *Processor, want ProcessorState) {
	t.Helper()
	require.Eventually(t, func() bool { return p.State() == want }, eventually, tick,
		"processor never reached %s (last %s)", want, p.State())
}

func idsOf(list []QueuedCommandSummary) []CommandID {
	out := make([]CommandID, len(list))
	for i, s := range list {
		out[i] = s.ID
	}
	return out
}

func descriptions(list []QueuedCommandSummary) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = s.Summary.Description
	}
	return out
}
