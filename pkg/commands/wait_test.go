package commands

import (
	"context"
	"testing"
	"time"

	"github.com/harun/cmdq/pkg/commandqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitCommand_Completes(t *testing.T) {
	w := NewWaitCommand("", 30*time.Millisecond)

	start := time.Now()
	require.NoError(t, w.Run(context.Background()))

	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, commandqueue.StateCompleted, w.State())
	assert.Equal(t, time.Duration(0), w.Remaining())
}

func TestWaitCommand_PauseStopsTheClock(t *testing.T) {
	w := NewWaitCommand("settle", time.Second)
	result := make(chan error, 1)
	go func() { result <- w.Run(context.Background()) }()

	require.Eventually(t, func() bool { return w.State() == commandqueue.StateRunning }, time.Second, 5*time.Millisecond)
	w.RequestPause()
	require.Eventually(t, func() bool { return w.State() == commandqueue.StatePaused }, time.Second, 5*time.Millisecond)

	before := w.Remaining()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, w.Remaining())

	w.RequestAbort()
	assert.ErrorIs(t, <-result, commandqueue.ErrAborted)
	assert.Equal(t, commandqueue.StateAborted, w.State())
}

func TestWaitCommand_ContextCancelAborts(t *testing.T) {
	w := NewWaitCommand("settle", time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return w.State() == commandqueue.StateRunning }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, commandqueue.ErrAborted)
	case <-time.After(time.Second):
		t.Fatal("wait command ignored context cancellation")
	}
	assert.Equal(t, commandqueue.StateAborted, w.State())
}
