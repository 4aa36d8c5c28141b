package daemon

import (
	"context"
	"time"

	"github.com/harun/cmdq/internal/observability"
)

const defaultMaintenanceInterval = 30 * time.Second

// EventLoop runs periodic maintenance while the daemon is up
type EventLoop struct {
	daemon   *Daemon
	interval time.Duration
}

// NewEventLoop creates a new event loop
func NewEventLoop(d *Daemon) *EventLoop {
	return &EventLoop{
		daemon:   d,
		interval: defaultMaintenanceInterval,
	}
}

// Run runs the event loop until ctx ends
func (e *EventLoop) Run(ctx context.Context) {
	e.daemon.logger.Info().Msg("Event loop started")

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.daemon.logger.Info().Msg("Event loop stopping")
			return

		case <-ticker.C:
			e.processTasks(ctx)
		}
	}
}

// processTasks refreshes gauges and logs queue and schedule state
func (e *EventLoop) processTasks(ctx context.Context) {
	queued := e.daemon.queue.Len()
	observability.SetQueueSize(queued)

	ev := e.daemon.logger.Debug().
		Int("queued", queued).
		Str("processor", string(e.daemon.processor.State()))
	if cur, ok := e.daemon.processor.CurrentItem(); ok {
		ev = ev.Str("commandId", string(cur.ID)).Str("commandState", string(cur.State))
	}
	ev.Msg("Queue stats")

	if e.daemon.history != nil {
		if total, err := e.daemon.history.Count(ctx); err != nil {
			e.daemon.logger.Warn().Err(err).Msg("History count failed")
		} else {
			e.daemon.logger.Debug().Int("runs", total).Msg("History stats")
		}
	}

	if e.daemon.scheduler != nil {
		for _, state := range e.daemon.scheduler.States() {
			if state.ConsecutiveErrors > 0 {
				e.daemon.logger.Warn().
					Str("schedule", state.Name).
					Int("consecutive_errors", state.ConsecutiveErrors).
					Str("last_error", state.LastError).
					Msg("Schedule keeps failing")
			}
		}
	}
}
