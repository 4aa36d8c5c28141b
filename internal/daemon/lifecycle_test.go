package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDFile_AcquireRelease(t *testing.T) {
	pf := NewPIDFile(filepath.Join(t.TempDir(), "run", "cmdq.pid"), zerolog.Nop())
	require.NoError(t, pf.Acquire())

	pid, ok := pf.Owner()
	require.True(t, ok)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, pf.Release())
	_, err := os.Stat(pf.Path())
	assert.True(t, os.IsNotExist(err))
	_, ok = pf.Owner()
	assert.False(t, ok)

	assert.NoError(t, pf.Release())
}

func TestPIDFile_RefusesLiveOwner(t *testing.T) {
	pf := NewPIDFile(filepath.Join(t.TempDir(), "cmdq.pid"), zerolog.Nop())
	// the parent of the test binary is alive for the whole test
	require.NoError(t, os.WriteFile(pf.Path(), []byte(strconv.Itoa(os.Getppid())), 0644))

	assert.ErrorIs(t, pf.Acquire(), ErrAlreadyRunning)
}

func TestPIDFile_ReleaseKeepsForeignOwner(t *testing.T) {
	pf := NewPIDFile(filepath.Join(t.TempDir(), "cmdq.pid"), zerolog.Nop())
	require.NoError(t, os.WriteFile(pf.Path(), []byte(strconv.Itoa(os.Getppid())), 0644))

	require.NoError(t, pf.Release())
	_, err := os.Stat(pf.Path())
	assert.NoError(t, err)
}

func TestPIDFile_ReplacesStaleFile(t *testing.T) {
	pf := NewPIDFile(filepath.Join(t.TempDir(), "cmdq.pid"), zerolog.Nop())
	require.NoError(t, os.WriteFile(pf.Path(), []byte("garbage"), 0644))

	require.NoError(t, pf.Acquire())
	defer pf.Release()

	pid, err := ReadPIDFile(pf.Path())
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestReadPIDFile(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "ok.pid")
	require.NoError(t, os.WriteFile(path, []byte("1234\n"), 0644))
	pid, err := ReadPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1234, pid)

	bad := filepath.Join(dir, "bad.pid")
	require.NoError(t, os.WriteFile(bad, []byte("-5"), 0644))
	_, err = ReadPIDFile(bad)
	assert.Error(t, err)

	_, err = ReadPIDFile(filepath.Join(dir, "missing.pid"))
	assert.True(t, os.IsNotExist(err))
}

func TestProcessAlive(t *testing.T) {
	assert.True(t, ProcessAlive(os.Getpid()))
}
