package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
)

// ErrAlreadyRunning is returned by Acquire when a live process owns the
// PID file
var ErrAlreadyRunning = errors.New("daemon already running")

// PIDFile marks the data directory as owned by one daemon process
type PIDFile struct {
	path   string
	logger zerolog.Logger
}

func NewPIDFile(path string, logger zerolog.Logger) *PIDFile {
	return &PIDFile{path: path, logger: logger}
}

func (p *PIDFile) Path() string {
	return p.path
}

// Acquire writes our pid. A file naming a dead process or holding garbage
// is replaced.
func (p *PIDFile) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("create pid directory: %w", err)
	}

	if owner, err := ReadPIDFile(p.path); err == nil && owner != os.Getpid() && ProcessAlive(owner) {
		return fmt.Errorf("%w with pid %d", ErrAlreadyRunning, owner)
	}

	// write then rename so readers never see a partial pid
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write pid file: %w", err)
	}

	p.logger.Info().Str("pidFile", p.path).Int("pid", os.Getpid()).Msg("PID file acquired")
	return nil
}

// Release removes the file if it still names this process
func (p *PIDFile) Release() error {
	owner, err := ReadPIDFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err == nil && owner != os.Getpid() {
		p.logger.Warn().Int("owner", owner).Msg("PID file owned by another process, leaving it")
		return nil
	}
	if err := os.Remove(p.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove pid file: %w", err)
	}
	return nil
}

// Owner returns the live process named in the file
func (p *PIDFile) Owner() (int, bool) {
	pid, err := ReadPIDFile(p.path)
	if err != nil || !ProcessAlive(pid) {
		return 0, false
	}
	return pid, true
}

// ReadPIDFile parses a PID file written by a daemon
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID file %s", path)
	}
	return pid, nil
}

// ProcessAlive probes pid with signal 0. EPERM still means the process exists.
func ProcessAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
