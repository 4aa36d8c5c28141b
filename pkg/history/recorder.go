package history

import (
	"context"
	"sync"
	"time"

	"github.com/harun/cmdq/pkg/commandqueue"
)

// Recorder journals every command the processor finishes. Register it
// with Processor.AddObserver.
type Recorder struct {
	store *Store

	mu      sync.Mutex
	started map[commandqueue.CommandID]time.Time
}

// NewRecorder creates a recorder writing to store
func NewRecorder(store *Store) *Recorder {
	return &Recorder{
		store:   store,
		started: make(map[commandqueue.CommandID]time.Time),
	}
}

// Update implements commandqueue.Observer
func (r *Recorder) Update(_ any, ev commandqueue.ProcessorEvent) {
	if ev.Type != commandqueue.ProcessorCommandChanged || ev.Current == nil {
		return
	}
	id := ev.Current.ID

	r.mu.Lock()
	if !ev.Current.State.IsTerminal() {
		if _, ok := r.started[id]; !ok {
			r.started[id] = ev.Time
		}
		r.mu.Unlock()
		return
	}
	startedAt, ok := r.started[id]
	delete(r.started, id)
	r.mu.Unlock()

	if !ok {
		startedAt = ev.Time
	}
	run := Run{
		CommandID:   string(id),
		Description: ev.Current.Description,
		State:       string(ev.Current.State),
		Error:       ev.Err,
		StartedAt:   startedAt,
		FinishedAt:  ev.Time,
	}
	if _, err := r.store.Record(context.Background(), run); err != nil {
		r.store.logger.Error().Err(err).Str("commandId", run.CommandID).Msg("Failed to journal run")
	}
}
