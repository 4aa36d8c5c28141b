package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/harun/cmdq/pkg/commandqueue"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultPollInterval = 20 * time.Millisecond
	maxCapturedOutput   = 64 * 1024
)

// ShellOptions configures a ShellCommand
type ShellOptions struct {
	Description string
	// Script is run through the platform shell when Args is empty;
	// otherwise it names the executable and Args are passed verbatim
	Script  string
	Args    []string
	Dir     string
	Env     map[string]string
	Timeout time.Duration
	// PollInterval is how often pause and abort requests are checked
	PollInterval time.Duration
}

// Result is the outcome of a finished process
type Result struct {
	ExitCode int           `json:"exitCode"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"duration"`
}

// ShellCommand runs an external process. A pause request stops the
// process group; Resume continues it. Abort kills it.
type ShellCommand struct {
	*commandqueue.Base

	args     []string
	dir      string
	env      map[string]string
	timeout  time.Duration
	interval time.Duration
	logger   zerolog.Logger

	mu     sync.Mutex
	result *Result
}

// NewShellCommand creates a shell command. The script is the command's
// editable details.
func NewShellCommand(opts ShellOptions) *ShellCommand {
	description := opts.Description
	if description == "" {
		description = opts.Script
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &ShellCommand{
		Base:     commandqueue.NewBaseWithDetails(description, commandqueue.Details{Text: opts.Script, Editable: true}),
		args:     opts.Args,
		dir:      opts.Dir,
		env:      opts.Env,
		timeout:  opts.Timeout,
		interval: interval,
		logger:   log.With().Str("component", "shell-command").Logger(),
	}
}

// Result returns the process outcome once Run has returned
func (s *ShellCommand) Result() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return Result{}, false
	}
	return *s.result, true
}

// Run starts the process and supervises it until it exits, times out or
// is aborted
func (s *ShellCommand) Run(ctx context.Context) error {
	if err := s.BeginRun(); err != nil {
		return err
	}

	details, err := s.Details()
	if err != nil {
		return err
	}
	cmd := s.buildCmd(details.Text)
	stdout := &limitedBuffer{limit: maxCapturedOutput}
	stderr := &limitedBuffer{limit: maxCapturedOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %q: %w", details.Text, err)
	}
	s.logger.Debug().Int("pid", cmd.Process.Pid).Str("script", details.Text).Msg("Process started")

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var deadline time.Time
	if s.timeout > 0 {
		deadline = started.Add(s.timeout)
	}

	for {
		select {
		case waitErr := <-exited:
			return s.finish(waitErr, stdout, stderr, time.Since(started))
		case <-ticker.C:
		case <-ctx.Done():
		}

		if s.AbortRequested() || ctx.Err() != nil {
			s.kill(cmd, exited)
			_ = s.Abort()
			return commandqueue.ErrAborted
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			s.kill(cmd, exited)
			return fmt.Errorf("%q after %s: %w", details.Text, s.timeout, ErrCommandTimeout)
		}

		if s.PauseRequested() {
			parkedAt := time.Now()
			if err := suspendProcess(cmd.Process); err != nil {
				s.logger.Warn().Err(err).Msg("Process keeps running while paused")
			}
			if err := s.Pause(ctx); err != nil {
				s.kill(cmd, exited)
				return err
			}
			if err := resumeProcess(cmd.Process); err != nil {
				s.logger.Debug().Err(err).Msg("Resume signal not delivered")
			}
			if !deadline.IsZero() {
				deadline = deadline.Add(time.Since(parkedAt))
			}
		}
	}
}

func (s *ShellCommand) buildCmd(script string) *exec.Cmd {
	var cmd *exec.Cmd
	if len(s.args) == 0 {
		name, args := shellInvocation(script)
		cmd = exec.Command(name, args...)
	} else {
		cmd = exec.Command(script, s.args...)
	}
	cmd.Dir = s.dir
	cmd.Env = buildEnvironment(s.env)
	prepareProcess(cmd)
	return cmd
}

func (s *ShellCommand) kill(cmd *exec.Cmd, exited <-chan error) {
	if err := terminateProcess(cmd.Process); err != nil {
		s.logger.Debug().Err(err).Msg("Terminate signal not delivered")
	}
	<-exited
}

func (s *ShellCommand) finish(waitErr error, stdout, stderr *limitedBuffer, duration time.Duration) error {
	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
	case errors.As(waitErr, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		result.ExitCode = -1
	}

	s.mu.Lock()
	s.result = result
	s.mu.Unlock()

	s.logger.Debug().
		Int("exit_code", result.ExitCode).
		Dur("duration", duration).
		Msg("Process exited")

	if waitErr != nil {
		if result.ExitCode > 0 {
			return fmt.Errorf("exit code %d: %w", result.ExitCode, ErrNonZeroExit)
		}
		return waitErr
	}
	return s.EndRun()
}

// buildEnvironment layers extra variables over the daemon's environment
// in a stable order
func buildEnvironment(extra map[string]string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

// limitedBuffer keeps the first limit bytes written and drops the rest
type limitedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
