package hooks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/cmdq/pkg/commandqueue"
	"github.com/rs/zerolog"
)

// Lifecycle events hooks can subscribe to
const (
	EventDaemonStartup    = "daemon:startup"
	EventDaemonShutdown   = "daemon:shutdown"
	EventCommandStarted   = "command:started"
	EventCommandPaused    = "command:paused"
	EventCommandResumed   = "command:resumed"
	EventCommandCompleted = "command:completed"
	EventCommandFailed    = "command:failed"
	EventCommandAborted   = "command:aborted"
	EventProcessorIdle    = "processor:idle"
	EventProcessorHalted  = "processor:halted"
	EventProcessorFailure = "processor:failure"
)

const (
	defaultBacklog     = 64
	defaultHookTimeout = time.Minute
)

var knownEvents = map[string]bool{
	EventDaemonStartup:    true,
	EventDaemonShutdown:   true,
	EventCommandStarted:   true,
	EventCommandPaused:    true,
	EventCommandResumed:   true,
	EventCommandCompleted: true,
	EventCommandFailed:    true,
	EventCommandAborted:   true,
	EventProcessorIdle:    true,
	EventProcessorHalted:  true,
	EventProcessorFailure: true,
}

// Hook runs Script through /bin/sh whenever Event fires
type Hook struct {
	ID        string `json:"id" mapstructure:"id"`
	Event     string `json:"event" mapstructure:"event"`
	Script    string `json:"script" mapstructure:"script"`
	TimeoutMs int    `json:"timeout_ms,omitempty" mapstructure:"timeout_ms"`
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`
}

func (h Hook) timeout() time.Duration {
	if h.TimeoutMs <= 0 {
		return defaultHookTimeout
	}
	return time.Duration(h.TimeoutMs) * time.Millisecond
}

// Validate checks the event name and the script
func (h Hook) Validate() error {
	event := strings.TrimSpace(h.Event)
	if event == "" {
		return fmt.Errorf("hook event is required")
	}
	if !knownEvents[event] {
		return fmt.Errorf("unknown hook event %q", event)
	}
	if strings.TrimSpace(h.Script) == "" {
		return fmt.Errorf("hook script is required for event %q", event)
	}
	return nil
}

// Config configures a Hook manager.
type Config struct {
	Enabled bool
	Hooks   []Hook
	// Backlog bounds events waiting for the worker; later ones are dropped
	Backlog int
	Logger  zerolog.Logger
}

type pending struct {
	event string
	data  map[string]interface{}
}

// Manager executes configured hooks for lifecycle events. Events from
// the processor are queued and run one at a time on a worker goroutine.
type Manager struct {
	enabled bool
	logger  zerolog.Logger

	mu           sync.RWMutex
	hooksByEvent map[string][]Hook

	backlog   chan pending
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewManager creates a hook manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Backlog <= 0 {
		cfg.Backlog = defaultBacklog
	}
	manager := &Manager{
		enabled:      cfg.Enabled,
		logger:       cfg.Logger.With().Str("component", "hooks").Logger(),
		hooksByEvent: make(map[string][]Hook),
		backlog:      make(chan pending, cfg.Backlog),
		done:         make(chan struct{}),
	}

	if !cfg.Enabled {
		return manager, nil
	}

	for _, hook := range cfg.Hooks {
		if !hook.Enabled {
			continue
		}
		if err := hook.Validate(); err != nil {
			return nil, err
		}
		event := strings.TrimSpace(hook.Event)
		manager.hooksByEvent[event] = append(manager.hooksByEvent[event], hook)
	}

	return manager, nil
}

// Has reports whether any hook listens for event
func (m *Manager) Has(event string) bool {
	if m == nil || !m.enabled {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.hooksByEvent[event]) > 0
}

// Trigger executes hooks registered for an event and waits for them.
func (m *Manager) Trigger(ctx context.Context, event string, data map[string]interface{}) error {
	if m == nil || !m.enabled {
		return nil
	}
	event = strings.TrimSpace(event)
	if event == "" {
		return fmt.Errorf("event is required")
	}

	m.mu.RLock()
	hooks := append([]Hook(nil), m.hooksByEvent[event]...)
	m.mu.RUnlock()
	if len(hooks) == 0 {
		return nil
	}

	var errs []error
	for _, hook := range hooks {
		if err := m.executeHook(ctx, event, hook, data); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Start runs the worker that drains events queued by the observer
func (m *Manager) Start() {
	m.startOnce.Do(func() {
		m.wg.Add(1)
		go m.worker()
	})
}

// Close stops accepting events, lets the worker finish what is queued and
// waits for it or ctx
func (m *Manager) Close(ctx context.Context) error {
	m.closeOnce.Do(func() { close(m.done) })

	finished := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		select {
		case p := <-m.backlog:
			m.run(p)
		case <-m.done:
			for {
				select {
				case p := <-m.backlog:
					m.run(p)
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) run(p pending) {
	if err := m.Trigger(context.Background(), p.event, p.data); err != nil {
		m.logger.Warn().Err(err).Str("event", p.event).Msg("Hook failed")
	}
}

// Enqueue hands event to the worker without blocking. It reports false
// when the event was dropped.
func (m *Manager) Enqueue(event string, data map[string]interface{}) bool {
	if !m.Has(event) {
		return false
	}
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.backlog <- pending{event: event, data: data}:
		return true
	default:
		m.logger.Warn().Str("event", event).Msg("Hook backlog full, event dropped")
		return false
	}
}

// ProcessorObserver maps processor events to hook events
func (m *Manager) ProcessorObserver() commandqueue.Observer[commandqueue.ProcessorEvent] {
	return commandqueue.ObserverFunc[commandqueue.ProcessorEvent](func(_ any, ev commandqueue.ProcessorEvent) {
		event, data := translate(ev)
		if event != "" {
			m.Enqueue(event, data)
		}
	})
}

func translate(ev commandqueue.ProcessorEvent) (string, map[string]interface{}) {
	data := map[string]interface{}{"processor_state": string(ev.State)}
	if ev.Current != nil {
		data["command_id"] = string(ev.Current.ID)
		data["description"] = ev.Current.Description
		data["command_state"] = string(ev.Current.State)
	}
	if ev.Err != "" {
		data["error"] = ev.Err
	}

	switch ev.Type {
	case commandqueue.ProcessorFailure:
		return EventProcessorFailure, data
	case commandqueue.ProcessorStateChanged:
		switch ev.State {
		case commandqueue.ProcessorWaitingQueue:
			return EventProcessorIdle, data
		case commandqueue.ProcessorWaitingStart:
			return EventProcessorHalted, data
		}
	case commandqueue.ProcessorCommandChanged:
		if ev.Current == nil {
			return "", nil
		}
		switch ev.Current.State {
		case commandqueue.StateRunning:
			if ev.Current.From == commandqueue.StatePaused {
				return EventCommandResumed, data
			}
			return EventCommandStarted, data
		case commandqueue.StatePaused:
			return EventCommandPaused, data
		case commandqueue.StateCompleted:
			return EventCommandCompleted, data
		case commandqueue.StateFailed:
			return EventCommandFailed, data
		case commandqueue.StateAborted:
			return EventCommandAborted, data
		}
	}
	return "", nil
}

func (m *Manager) executeHook(ctx context.Context, event string, hook Hook, data map[string]interface{}) error {
	if ctx == nil {
		ctx = context.Background()
	}

	hookID := hook.ID
	if strings.TrimSpace(hookID) == "" {
		hookID = event
	}

	runCtx, cancel := context.WithTimeout(ctx, hook.timeout())
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", hook.Script)
	cmd.Env = buildHookEnvironment(event, data)

	output, err := cmd.CombinedOutput()
	outputText := strings.TrimSpace(string(output))
	if err != nil {
		if outputText != "" {
			return fmt.Errorf("hook %s failed: %w: %s", hookID, err, outputText)
		}
		return fmt.Errorf("hook %s failed: %w", hookID, err)
	}

	m.logger.Debug().
		Str("event", event).
		Str("hook_id", hookID).
		Str("output", outputText).
		Msg("Hook executed")

	return nil
}

func buildHookEnvironment(event string, data map[string]interface{}) []string {
	env := append([]string{}, os.Environ()...)
	env = append(env, "CMDQ_HOOK_EVENT="+event)

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		env = append(env, "CMDQ_HOOK_"+normalizeEnvKey(key)+"="+fmt.Sprintf("%v", data[key]))
	}
	return env
}

func normalizeEnvKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "UNKNOWN"
	}

	upper := strings.ToUpper(key)
	builder := strings.Builder{}
	builder.Grow(len(upper))
	for _, r := range upper {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			builder.WriteRune(r)
			continue
		}
		builder.WriteRune('_')
	}
	return builder.String()
}
