package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harun/cmdq/internal/observability"
	"github.com/harun/cmdq/pkg/commandqueue"
	"github.com/harun/cmdq/pkg/commands"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ErrUnknownSchedule is returned for a schedule name that is not registered
var ErrUnknownSchedule = errors.New("unknown schedule")

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Appender is the part of the queue schedules feed
type Appender interface {
	AddToTail(cmd commandqueue.Command) (commandqueue.CommandID, error)
}

// Entry appends Command to the queue on every tick of Expr
type Entry struct {
	Name string `json:"name" mapstructure:"name"`
	// Expr is a 5-field cron expression or a descriptor such as @hourly
	// or "@every 10m"
	Expr    string        `json:"expr" mapstructure:"expr"`
	TZ      string        `json:"tz,omitempty" mapstructure:"tz"`
	Command commands.Spec `json:"command" mapstructure:"command"`
}

// State tracks runtime state of a schedule
type State struct {
	Name              string    `json:"name"`
	Expr              string    `json:"expr"`
	NextRunAt         time.Time `json:"nextRunAt"`
	LastRunAt         time.Time `json:"lastRunAt,omitempty"`
	LastStatus        string    `json:"lastStatus,omitempty"`
	LastError         string    `json:"lastError,omitempty"`
	LastCommandID     string    `json:"lastCommandId,omitempty"`
	ConsecutiveErrors int       `json:"consecutiveErrors,omitempty"`
}

type job struct {
	entry   Entry
	entryID cron.EntryID
	state   State
}

// Config holds scheduler configuration
type Config struct {
	Entries []Entry
	Queue   Appender
	Logger  zerolog.Logger
}

// Scheduler runs the configured schedules
type Scheduler struct {
	cron   *cron.Cron
	queue  Appender
	logger zerolog.Logger

	mu   sync.Mutex
	jobs map[string]*job
}

// Validate checks one entry without registering it
func (e Entry) Validate() error {
	if e.Name == "" {
		return errors.New("schedule name is required")
	}
	if _, err := parser.Parse(e.cronSpec()); err != nil {
		return fmt.Errorf("schedule %s: invalid cron expression: %w", e.Name, err)
	}
	if e.TZ != "" {
		if _, err := time.LoadLocation(e.TZ); err != nil {
			return fmt.Errorf("schedule %s: invalid timezone: %w", e.Name, err)
		}
	}
	if err := e.Command.Validate(); err != nil {
		return fmt.Errorf("schedule %s: %w", e.Name, err)
	}
	return nil
}

func (e Entry) cronSpec() string {
	if e.TZ == "" {
		return e.Expr
	}
	return "CRON_TZ=" + e.TZ + " " + e.Expr
}

// New validates and registers every entry. Nothing fires until Start.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Queue == nil {
		return nil, errors.New("queue is required")
	}

	s := &Scheduler{
		cron:   cron.New(cron.WithParser(parser)),
		queue:  cfg.Queue,
		logger: cfg.Logger.With().Str("component", "schedule").Logger(),
		jobs:   make(map[string]*job),
	}

	for _, entry := range cfg.Entries {
		if err := entry.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.jobs[entry.Name]; dup {
			return nil, fmt.Errorf("schedule %s: duplicate name", entry.Name)
		}

		name := entry.Name
		id, err := s.cron.AddFunc(entry.cronSpec(), func() { _ = s.Trigger(name) })
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", name, err)
		}
		s.jobs[name] = &job{
			entry:   entry,
			entryID: id,
			state:   State{Name: name, Expr: entry.Expr},
		}
	}
	return s, nil
}

// Start starts the cron runner
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Int("schedules", len(s.jobs)).Msg("Scheduler started")
}

// Stop stops the runner and waits for a firing trigger to finish or ctx
// to end
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info().Msg("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger builds the schedule's command and appends it to the queue
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrUnknownSchedule)
	}

	logger := s.logger.With().Str("schedule", name).Logger()

	var id commandqueue.CommandID
	cmd, err := j.entry.Command.Build()
	if err == nil {
		id, err = s.queue.AddToTail(cmd)
	}

	s.mu.Lock()
	j.state.LastRunAt = time.Now()
	if err != nil {
		j.state.LastStatus = "error"
		j.state.LastError = err.Error()
		j.state.ConsecutiveErrors++
	} else {
		j.state.LastStatus = "ok"
		j.state.LastError = ""
		j.state.LastCommandID = string(id)
		j.state.ConsecutiveErrors = 0
	}
	s.mu.Unlock()

	observability.RecordScheduleTrigger(name, err == nil)
	if err != nil {
		logger.Error().Err(err).Msg("Scheduled command not queued")
		return err
	}
	logger.Info().Str("commandId", string(id)).Msg("Scheduled command queued")
	return nil
}

// States returns a snapshot of every schedule, ordered by name
func (s *Scheduler) States() []State {
	s.mu.Lock()
	defer s.mu.Unlock()

	states := make([]State, 0, len(s.jobs))
	for _, j := range s.jobs {
		st := j.state
		st.NextRunAt = s.cron.Entry(j.entryID).Next
		states = append(states, st)
	}
	sort.Slice(states, func(i, k int) bool { return states[i].Name < states[k].Name })
	return states
}

// Next returns the next time name fires. The zero time means the runner
// has not been started.
func (s *Scheduler) Next(name string) (time.Time, error) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, fmt.Errorf("%s: %w", name, ErrUnknownSchedule)
	}
	return s.cron.Entry(j.entryID).Next, nil
}
