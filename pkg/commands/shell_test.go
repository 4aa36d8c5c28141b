//go:build unix

package commands

import (
	"context"
	"testing"
	"time"

	"github.com/harun/cmdq/pkg/commandqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runAsync(cmd commandqueue.Command) <-chan error {
	result := make(chan error, 1)
	go func() { result <- cmd.Run(context.Background()) }()
	return result
}

func TestShellCommand_CapturesOutput(t *testing.T) {
	s := NewShellCommand(ShellOptions{Script: "echo hello; echo oops >&2", Env: map[string]string{"CMDQ_TEST": "1"}})

	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, commandqueue.StateCompleted, s.State())
	result, ok := s.Result()
	require.True(t, ok)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "hello\n", result.Stdout)
	assert.Equal(t, "oops\n", result.Stderr)
}

func TestShellCommand_ExecWithArgs(t *testing.T) {
	s := NewShellCommand(ShellOptions{Script: "printf", Args: []string{"%s-%s", "a", "b"}})

	require.NoError(t, s.Run(context.Background()))

	result, _ := s.Result()
	assert.Equal(t, "a-b", result.Stdout)
}

func TestShellCommand_UsesEnvAndDir(t *testing.T) {
	dir := t.TempDir()
	s := NewShellCommand(ShellOptions{Script: `echo "$CMDQ_VALUE"; pwd`, Dir: dir, Env: map[string]string{"CMDQ_VALUE": "42"}})

	require.NoError(t, s.Run(context.Background()))

	result, _ := s.Result()
	assert.Contains(t, result.Stdout, "42\n")
	assert.Contains(t, result.Stdout, dir)
}

func TestShellCommand_NonZeroExit(t *testing.T) {
	s := NewShellCommand(ShellOptions{Script: "exit 3"})

	err := s.Run(context.Background())

	assert.ErrorIs(t, err, ErrNonZeroExit)
	result, _ := s.Result()
	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, commandqueue.StateRunning, s.State())
}

func TestShellCommand_Timeout(t *testing.T) {
	s := NewShellCommand(ShellOptions{Script: "sleep 5", Timeout: 50 * time.Millisecond})

	start := time.Now()
	err := s.Run(context.Background())

	assert.ErrorIs(t, err, ErrCommandTimeout)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestShellCommand_Abort(t *testing.T) {
	s := NewShellCommand(ShellOptions{Script: "sleep 5"})
	result := runAsync(s)
	require.Eventually(t, func() bool { return s.State() == commandqueue.StateRunning }, time.Second, 5*time.Millisecond)

	s.RequestAbort()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, commandqueue.ErrAborted)
	case <-time.After(3 * time.Second):
		t.Fatal("abort did not stop the process")
	}
	assert.Equal(t, commandqueue.StateAborted, s.State())
}

func TestShellCommand_PauseAndResume(t *testing.T) {
	s := NewShellCommand(ShellOptions{Script: "sleep 0.2; echo done"})
	result := runAsync(s)
	require.Eventually(t, func() bool { return s.State() == commandqueue.StateRunning }, time.Second, 5*time.Millisecond)

	s.RequestPause()
	require.Eventually(t, func() bool { return s.State() == commandqueue.StatePaused }, time.Second, 5*time.Millisecond)

	time.Sleep(300 * time.Millisecond)
	select {
	case err := <-result:
		t.Fatalf("process finished while paused: %v", err)
	default:
	}

	s.Resume()

	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("process did not finish after resume")
	}
	assert.Equal(t, commandqueue.StateCompleted, s.State())
	out, _ := s.Result()
	assert.Equal(t, "done\n", out.Stdout)
}

func TestShellCommand_EditedScriptRuns(t *testing.T) {
	s := NewShellCommand(ShellOptions{Description: "greet", Script: "echo one"})
	require.NoError(t, s.SetDetails(commandqueue.Details{Text: "echo two"}))

	require.NoError(t, s.Run(context.Background()))

	out, _ := s.Result()
	assert.Equal(t, "two\n", out.Stdout)
	assert.Equal(t, "greet", s.Description())
}
