package commands

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harun/cmdq/pkg/commandqueue"
)

// WaitCommand idles for a fixed duration. Time spent paused does not
// count towards the duration.
type WaitCommand struct {
	*commandqueue.Base

	duration time.Duration
	interval time.Duration

	mu        sync.Mutex
	remaining time.Duration
}

// NewWaitCommand creates a command that waits for d
func NewWaitCommand(description string, d time.Duration) *WaitCommand {
	if description == "" {
		description = fmt.Sprintf("wait %s", d)
	}
	return &WaitCommand{
		Base:      commandqueue.NewBase(description),
		duration:  d,
		interval:  defaultPollInterval,
		remaining: d,
	}
}

// Remaining returns how much of the wait is left
func (w *WaitCommand) Remaining() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.remaining
}

func (w *WaitCommand) Run(ctx context.Context) error {
	if err := w.BeginRun(); err != nil {
		return err
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	last := time.Now()
	for w.Remaining() > 0 {
		select {
		case now := <-ticker.C:
			w.mu.Lock()
			w.remaining -= now.Sub(last)
			w.mu.Unlock()
		case <-ctx.Done():
		}

		if err := w.Checkpoint(ctx); err != nil {
			return err
		}
		last = time.Now()
	}

	w.mu.Lock()
	w.remaining = 0
	w.mu.Unlock()
	return w.EndRun()
}
