package commandqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/cmdq/internal/observability"
	"github.com/harun/cmdq/internal/tracing"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ProcessorState is the scheduling state of a Processor
type ProcessorState string

const (
	// ProcessorWaitingQueue means armed and idle: the next queued command
	// is picked up as soon as it arrives
	ProcessorWaitingQueue ProcessorState = "WAITING_QUEUE"
	// ProcessorRunning means a command is executing
	ProcessorRunning ProcessorState = "RUNNING"
	// ProcessorWaitingStart means halted until Start is called
	ProcessorWaitingStart ProcessorState = "WAITING_START"
)

// ProcessorEventType classifies a ProcessorEvent
type ProcessorEventType string

const (
	ProcessorStateChanged   ProcessorEventType = "state"
	ProcessorCommandChanged ProcessorEventType = "command"
	ProcessorFailure        ProcessorEventType = "failure"
)

// CurrentItem describes the command the processor is executing
type CurrentItem struct {
	ID          CommandID `json:"id"`
	Description string    `json:"description"`
	State       State     `json:"state"`
	// From is the command's previous state, set on command events only
	From State `json:"from,omitempty"`
}

// ProcessorEvent is published on every processor transition, on every
// state change of the current command and on run failures
type ProcessorEvent struct {
	Seq     uint64             `json:"seq"`
	Type    ProcessorEventType `json:"type"`
	State   ProcessorState     `json:"state"`
	Current *CurrentItem       `json:"current,omitempty"`
	Err     string             `json:"error,omitempty"`
	Time    time.Time          `json:"time"`
}

// Processor executes the commands of a Queue one at a time on a single
// worker goroutine.
//
// A new processor is not armed and sits at WAITING_START. Start arms it;
// once armed it keeps consuming the queue head, parking at WAITING_QUEUE
// when the queue runs dry, until Stop is called or the current command
// pauses or aborts itself.
type Processor struct {
	mu          sync.Mutex
	cond        *sync.Cond
	queue       *Queue
	queueHandle Handle

	state   ProcessorState
	armed   bool
	closed  bool
	changed chan struct{}
	// startGen counts entries to RUNNING or WAITING_QUEUE, haltGen entries
	// to WAITING_START; waiters compare them so a round trip through a
	// state is not missed
	startGen uint64
	haltGen  uint64

	current     Command
	currentID   CommandID
	currentDesc string

	seq     uint64
	subject Subject[ProcessorEvent]

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	logger zerolog.Logger
}

// NewProcessor creates a processor bound to q and starts its worker
func NewProcessor(q *Queue) *Processor {
	if q == nil {
		q = New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Processor{
		queue:   q,
		state:   ProcessorWaitingStart,
		changed: make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		logger:  log.With().Str("component", "processor").Logger(),
	}
	p.cond = sync.NewCond(&p.mu)
	p.queueHandle = q.AddObserver(p.wakeObserver())
	observability.SetProcessorState(string(p.state))

	go p.loop()
	return p
}

// AddObserver subscribes to processor events
func (p *Processor) AddObserver(o Observer[ProcessorEvent]) Handle {
	return p.subject.AddObserver(o)
}

// RemoveObserver cancels a subscription
func (p *Processor) RemoveObserver(h Handle) {
	p.subject.RemoveObserver(h)
}

// State returns the current processor state
func (p *Processor) State() ProcessorState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Queue returns the queue the processor consumes
func (p *Processor) Queue() *Queue {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue
}

// CurrentItem returns the executing command, if any
func (p *Processor) CurrentItem() (CurrentItem, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	item := p.currentItemLocked()
	if item == nil {
		return CurrentItem{}, false
	}
	return *item, true
}

// SetQueue rebinds the processor to q. It fails while a command is current.
func (p *Processor) SetQueue(q *Queue) error {
	if q == nil {
		return errors.New("queue cannot be nil")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrProcessorClosed
	}
	if p.current != nil {
		return fmt.Errorf("set queue: %w", ErrProcessorBusy)
	}
	p.queue.RemoveObserver(p.queueHandle)
	p.queue = q
	p.queueHandle = q.AddObserver(p.wakeObserver())
	p.cond.Broadcast()
	return nil
}

// Start arms the processor and resumes a paused current command. It
// waits up to timeout for the processor to leave WAITING_START; a
// timeout of zero or less returns without waiting.
func (p *Processor) Start(timeout time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrProcessorClosed
	}
	p.armed = true
	cur := p.current
	gen := p.startGen
	p.mu.Unlock()

	p.logger.Info().Msg("Processor armed")
	if cur != nil {
		cur.Resume()
	}
	p.cond.Broadcast()

	return p.waitFor(timeout, func() bool {
		return p.state != ProcessorWaitingStart || p.startGen != gen
	})
}

// Stop disarms the processor and asks the current command to pause at
// its next checkpoint. It waits up to timeout for WAITING_START; a
// timeout of zero or less returns without waiting.
func (p *Processor) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrProcessorClosed
	}
	p.armed = false
	cur := p.current
	gen := p.haltGen
	var ev *ProcessorEvent
	if p.state == ProcessorWaitingQueue {
		e := p.setStateLocked(ProcessorWaitingStart)
		ev = &e
	}
	p.mu.Unlock()

	p.logger.Info().Msg("Processor disarmed")
	if ev != nil {
		p.publish(*ev)
	}
	if cur != nil {
		cur.RequestPause()
	}

	return p.waitFor(timeout, func() bool {
		return p.state == ProcessorWaitingStart || p.haltGen != gen
	})
}

// Skip asks the current command to abort and waits up to timeout for it
// to return. Aborting disarms the processor.
func (p *Processor) Skip(timeout time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrProcessorClosed
	}
	cur, id := p.current, p.currentID
	p.mu.Unlock()

	if cur == nil {
		return nil
	}
	p.logger.Info().Str("commandId", string(id)).Msg("Skipping current command")
	cur.RequestAbort()

	return p.waitFor(timeout, func() bool { return p.currentID != id })
}

// Close disarms the processor, aborts the current command, cancels its
// run context and waits for the worker to exit or ctx to end
func (p *Processor) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		p.armed = false
		p.notifyChangedLocked()
	}
	cur := p.current
	q, h := p.queue, p.queueHandle
	p.mu.Unlock()

	if cur != nil {
		cur.RequestAbort()
	}
	p.cancel()
	p.cond.Broadcast()

	select {
	case <-p.done:
	case <-ctx.Done():
		return fmt.Errorf("close processor: %w", ctx.Err())
	}
	q.RemoveObserver(h)
	p.logger.Info().Msg("Processor closed")
	return nil
}

func (p *Processor) loop() {
	defer close(p.done)

	p.mu.Lock()
	for {
		if p.closed {
			p.mu.Unlock()
			return
		}

		if p.armed {
			q := p.queue
			id, cmd, qev, err := q.takeHead()
			if err == nil {
				p.current, p.currentID, p.currentDesc = cmd, id, cmd.Description()
				// RUNNING straight into the next command is not a transition
				var stateEv *ProcessorEvent
				if p.state != ProcessorRunning {
					e := p.setStateLocked(ProcessorRunning)
					stateEv = &e
				} else {
					p.enterLocked(ProcessorRunning)
				}
				p.mu.Unlock()

				q.publish(qev)
				if stateEv != nil {
					p.publish(*stateEv)
				}
				p.execute(id, cmd)

				p.mu.Lock()
				p.current, p.currentID, p.currentDesc = nil, "", ""
				p.notifyChangedLocked()
				continue
			}
		}

		want := ProcessorWaitingStart
		if p.armed {
			want = ProcessorWaitingQueue
		}
		if p.state != want {
			ev := p.setStateLocked(want)
			p.mu.Unlock()
			p.publish(ev)
			p.mu.Lock()
			continue
		}
		p.cond.Wait()
	}
}

func (p *Processor) execute(id CommandID, cmd Command) {
	h := cmd.AddObserver(ObserverFunc[CommandEvent](func(_ any, ev CommandEvent) {
		p.onCommandEvent(id, ev)
	}))
	defer cmd.RemoveObserver(h)

	description := cmd.Description()
	ctx, span := tracing.StartSpan(
		tracing.NewCommandRunContext(p.ctx, string(id)),
		"cmdq.processor",
		"command.run",
		attribute.String("command.id", string(id)),
		attribute.String("command.description", description),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, p.logger).With().
		Str("description", description).
		Logger()
	logger.Info().Msg("Command started")
	observability.RecordCommandAudit(ctx, string(id), "run", "started", map[string]interface{}{
		"description": description,
	})

	started := time.Now()
	err := p.run(ctx, cmd)
	duration := time.Since(started)

	state := cmd.State()
	switch {
	case state == StateAborted:
		logger.Info().Dur("duration", duration).Msg("Command aborted")
	case err == nil && state == StateCompleted:
		logger.Info().Dur("duration", duration).Msg("Command completed")
	default:
		if err == nil {
			err = fmt.Errorf("run returned in state %s", state)
		}
		logger.Error().Err(err).Dur("duration", duration).Msg("Command failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		cmd.Fail(err)
		state = cmd.State()

		p.mu.Lock()
		ev := p.eventLocked(ProcessorFailure)
		ev.Err = err.Error()
		p.mu.Unlock()
		p.publish(ev)
	}

	span.SetAttributes(attribute.String("command.state", string(state)))
	observability.RecordCommandOutcome(string(state), duration)
	observability.RecordCommandAudit(ctx, string(id), "run", string(state), map[string]interface{}{
		"duration_ms": duration.Milliseconds(),
	})
}

// run calls cmd.Run, converting a panic into an error
func (p *Processor) run(ctx context.Context, cmd Command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("command panicked: %v", r)
		}
	}()
	return cmd.Run(ctx)
}

func (p *Processor) onCommandEvent(id CommandID, cev CommandEvent) {
	p.mu.Lock()
	if p.currentID != id {
		p.mu.Unlock()
		return
	}

	var stateEv *ProcessorEvent
	switch cev.To {
	case StatePaused, StateAborted:
		p.armed = false
		if p.state != ProcessorWaitingStart {
			e := p.setStateLocked(ProcessorWaitingStart)
			stateEv = &e
		}
	case StateRunning:
		if p.state != ProcessorRunning {
			e := p.setStateLocked(ProcessorRunning)
			stateEv = &e
		}
	}
	ev := p.eventLocked(ProcessorCommandChanged)
	ev.Current = &CurrentItem{ID: id, Description: p.currentDesc, State: cev.To, From: cev.From}
	ev.Err = cev.Err
	p.mu.Unlock()

	if stateEv != nil {
		p.publish(*stateEv)
	}
	p.publish(ev)
}

// waitFor blocks until done holds, the processor closes, or timeout
// elapses. done is evaluated with p.mu held.
func (p *Processor) waitFor(timeout time.Duration, done func() bool) error {
	if timeout <= 0 {
		return nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		p.mu.Lock()
		if done() {
			p.mu.Unlock()
			return nil
		}
		if p.closed {
			p.mu.Unlock()
			return ErrProcessorClosed
		}
		changed, state := p.changed, p.state
		p.mu.Unlock()

		select {
		case <-changed:
		case <-timer.C:
			return fmt.Errorf("processor still %s after %s: %w", state, timeout, ErrTimeout)
		}
	}
}

func (p *Processor) wakeObserver() Observer[QueueEvent] {
	return ObserverFunc[QueueEvent](func(_ any, _ QueueEvent) {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
}

func (p *Processor) setStateLocked(to ProcessorState) ProcessorEvent {
	p.enterLocked(to)
	return p.eventLocked(ProcessorStateChanged)
}

// enterLocked records an entry to state to and wakes waiters
func (p *Processor) enterLocked(to ProcessorState) {
	from := p.state
	p.state = to
	if to == ProcessorWaitingStart {
		p.haltGen++
	} else {
		p.startGen++
	}
	p.notifyChangedLocked()
	if from != to {
		p.logger.Debug().Str("from", string(from)).Str("to", string(to)).Msg("Processor state changed")
	}
}

func (p *Processor) notifyChangedLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}

func (p *Processor) eventLocked(t ProcessorEventType) ProcessorEvent {
	p.seq++
	return ProcessorEvent{
		Seq:     p.seq,
		Type:    t,
		State:   p.state,
		Current: p.currentItemLocked(),
		Time:    time.Now(),
	}
}

func (p *Processor) currentItemLocked() *CurrentItem {
	if p.current == nil {
		return nil
	}
	return &CurrentItem{ID: p.currentID, Description: p.currentDesc, State: p.current.State()}
}

func (p *Processor) publish(ev ProcessorEvent) {
	if ev.Type == ProcessorStateChanged {
		observability.SetProcessorState(string(ev.State))
	}
	p.subject.Notify(p, ev)
}
