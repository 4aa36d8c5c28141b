package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRotatingWriter(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "nested", "cmdq.log")
	require.NoError(t, os.MkdirAll(filepath.Dir(logFile), 0755))
	require.NoError(t, os.WriteFile(logFile, []byte("existing\n"), 0644))

	rw, err := NewRotatingWriter(logFile, 10, 7, false)
	require.NoError(t, err)
	defer rw.Close()

	assert.Equal(t, int64(9), rw.size)
	assert.Equal(t, int64(10*1024*1024), rw.limit)
}

func TestRotatingWriter_Rotates(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "cmdq.log")

	rw, err := NewRotatingWriter(logFile, 1, 0, false)
	require.NoError(t, err)
	rw.limit = 32

	line := []byte(strings.Repeat("x", 20) + "\n")
	for i := 0; i < 3; i++ {
		_, err := rw.Write(line)
		require.NoError(t, err)
	}
	require.NoError(t, rw.Close())

	rotated, err := filepath.Glob(logFile + ".*")
	require.NoError(t, err)
	assert.Len(t, rotated, 2)

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Equal(t, line, data)
}

func TestRotatingWriter_Compresses(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "cmdq.log")

	rw, err := NewRotatingWriter(logFile, 1, 0, true)
	require.NoError(t, err)
	rw.limit = 8

	_, err = rw.Write([]byte("first line\n"))
	require.NoError(t, err)
	_, err = rw.Write([]byte("second line\n"))
	require.NoError(t, err)
	require.NoError(t, rw.Close())

	gz, err := filepath.Glob(logFile + ".*.gz")
	require.NoError(t, err)
	assert.Len(t, gz, 1)
}

func TestRotatingWriter_WriteAfterClose(t *testing.T) {
	rw, err := NewRotatingWriter(filepath.Join(t.TempDir(), "cmdq.log"), 1, 0, false)
	require.NoError(t, err)
	require.NoError(t, rw.Close())

	_, err = rw.Write([]byte("late"))
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestGzipFile(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "test.txt")
	require.NoError(t, os.WriteFile(testFile, []byte("test content"), 0644))

	require.NoError(t, gzipFile(testFile))

	_, err := os.Stat(testFile + ".gz")
	assert.NoError(t, err)
	_, err = os.Stat(testFile)
	assert.True(t, os.IsNotExist(err))
}

func TestRotatingWriter_PrunesOldBackups(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "cmdq.log")

	oldFile := logFile + ".20200101-120000"
	freshFile := logFile + ".20990101-120000"
	require.NoError(t, os.WriteFile(oldFile, []byte("old log"), 0644))
	require.NoError(t, os.WriteFile(freshFile, []byte("fresh log"), 0644))

	oldTime := time.Now().AddDate(0, 0, -10)
	require.NoError(t, os.Chtimes(oldFile, oldTime, oldTime))

	rw, err := NewRotatingWriter(logFile, 10, 7, false)
	require.NoError(t, err)
	defer rw.Close()

	_, err = os.Stat(oldFile)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(freshFile)
	assert.NoError(t, err)
}
