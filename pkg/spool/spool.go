package spool

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/harun/cmdq/internal/observability"
	"github.com/harun/cmdq/pkg/commandqueue"
	"github.com/harun/cmdq/pkg/commands"
	"github.com/rs/zerolog"
)

const (
	doneDir   = "done"
	failedDir = "failed"
)

// Appender is the part of the queue the spool feeds. Remove withdraws
// the commands of a file that could only be partly queued.
type Appender interface {
	AddToTail(cmd commandqueue.Command) (commandqueue.CommandID, error)
	Remove(id commandqueue.CommandID) error
}

// Config holds spool configuration
type Config struct {
	Dir string
	// StabilityThreshold is how long a file must stay unmodified before
	// it is ingested
	StabilityThreshold time.Duration
	Queue              Appender
	Logger             zerolog.Logger
}

// Spool watches a directory for command spec files and queues their
// contents. Ingested files move to done/, rejected ones to failed/ with a
// sibling .error file.
type Spool struct {
	watcher            *fsnotify.Watcher
	dir                string
	stabilityThreshold time.Duration
	queue              Appender
	logger             zerolog.Logger

	done           chan struct{}
	debounceTimers map[string]*time.Timer
	debounceMu     sync.Mutex
	ingestMu       sync.Mutex
	stopOnce       sync.Once
}

// New creates a spool; call Start to begin watching
func New(cfg Config) (*Spool, error) {
	if cfg.Dir == "" {
		return nil, errors.New("spool directory is required")
	}
	if cfg.Queue == nil {
		return nil, errors.New("queue is required")
	}
	if cfg.StabilityThreshold <= 0 {
		cfg.StabilityThreshold = 200 * time.Millisecond
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Spool{
		watcher:            watcher,
		dir:                cfg.Dir,
		stabilityThreshold: cfg.StabilityThreshold,
		queue:              cfg.Queue,
		logger:             cfg.Logger.With().Str("component", "spool").Logger(),
		done:               make(chan struct{}),
		debounceTimers:     make(map[string]*time.Timer),
	}, nil
}

// Dir returns the watched directory
func (s *Spool) Dir() string {
	return s.dir
}

// Start creates the spool layout, ingests files already present and
// starts watching for new ones
func (s *Spool) Start() error {
	if err := s.prepare(); err != nil {
		return err
	}

	if err := s.watcher.Add(s.dir); err != nil {
		return fmt.Errorf("failed to watch spool: %w", err)
	}

	pending, err := s.pendingFiles()
	if err != nil {
		return err
	}
	for _, path := range pending {
		_ = s.Ingest(path)
	}

	go s.eventLoop()

	s.logger.Info().
		Str("path", s.dir).
		Int("pending", len(pending)).
		Msg("Spool watcher started")
	return nil
}

func (s *Spool) prepare() error {
	for _, dir := range []string{s.dir, filepath.Join(s.dir, doneDir), filepath.Join(s.dir, failedDir)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create spool directory: %w", err)
		}
	}
	return nil
}

// Stop stops watching. Files not yet ingested stay in place.
func (s *Spool) Stop() error {
	s.stopOnce.Do(func() {
		close(s.done)
	})

	s.debounceMu.Lock()
	for _, timer := range s.debounceTimers {
		timer.Stop()
	}
	clear(s.debounceTimers)
	s.debounceMu.Unlock()

	if err := s.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	s.logger.Info().Msg("Spool watcher stopped")
	return nil
}

func (s *Spool) eventLoop() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 && isSpecFile(event.Name) {
				s.debounce(event.Name)
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error().Err(err).Msg("Watcher error")

		case <-s.done:
			return
		}
	}
}

// debounce restarts the stability timer for path
func (s *Spool) debounce(path string) {
	s.debounceMu.Lock()
	defer s.debounceMu.Unlock()

	if timer, exists := s.debounceTimers[path]; exists {
		timer.Stop()
	}

	s.debounceTimers[path] = time.AfterFunc(s.stabilityThreshold, func() {
		s.debounceMu.Lock()
		delete(s.debounceTimers, path)
		s.debounceMu.Unlock()

		select {
		case <-s.done:
			return
		default:
			_ = s.Ingest(path)
		}
	})
}

// Ingest parses path and queues every command it describes, in document
// order. If one command cannot be queued, the ones queued before it are
// removed again and the file moves to failed/. A command the processor
// has already taken off the head cannot be withdrawn and is logged.
func (s *Spool) Ingest(path string) error {
	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	logger := s.logger.With().Str("file", filepath.Base(path)).Logger()

	cmds, err := s.load(path)
	if err != nil {
		logger.Warn().Err(err).Msg("Rejected spool file")
		s.reject(path, err)
		return err
	}

	ids := make([]commandqueue.CommandID, 0, len(cmds))
	for _, cmd := range cmds {
		id, err := s.queue.AddToTail(cmd)
		if err != nil {
			err = fmt.Errorf("queue %q: %w", cmd.Description(), err)
			logger.Error().Err(err).Int("queued", len(ids)).Msg("Spool file partially queued, withdrawing")
			s.withdraw(logger, ids)
			s.reject(path, err)
			return err
		}
		ids = append(ids, id)
	}

	if err := s.move(path, doneDir); err != nil {
		logger.Error().Err(err).Msg("Failed to archive spool file")
	}
	observability.RecordSpoolFile(true)
	queued := make([]string, len(ids))
	for i, id := range ids {
		queued[i] = string(id)
	}
	logger.Info().Strs("commandIds", queued).Msg("Spool file queued")
	return nil
}

func (s *Spool) withdraw(logger zerolog.Logger, ids []commandqueue.CommandID) {
	for i := len(ids) - 1; i >= 0; i-- {
		if err := s.queue.Remove(ids[i]); err != nil {
			logger.Warn().Err(err).Str("commandId", string(ids[i])).Msg("Could not withdraw spooled command")
		}
	}
}

func (s *Spool) load(path string) ([]commandqueue.Command, error) {
	format, err := commands.FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read spool file: %w", err)
	}
	specs, err := commands.Parse(data, format)
	if err != nil {
		return nil, err
	}

	cmds := make([]commandqueue.Command, 0, len(specs))
	for i, spec := range specs {
		cmd, err := spec.Build()
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

func (s *Spool) reject(path string, cause error) {
	observability.RecordSpoolFile(false)
	if err := s.move(path, failedDir); err != nil {
		s.logger.Error().Err(err).Str("file", path).Msg("Failed to move rejected spool file")
		return
	}
	errPath := filepath.Join(s.dir, failedDir, filepath.Base(path)+".error")
	if err := os.WriteFile(errPath, []byte(cause.Error()+"\n"), 0644); err != nil {
		s.logger.Warn().Err(err).Str("file", errPath).Msg("Failed to write error file")
	}
}

// move renames path into sub, suffixing the name when it is taken
func (s *Spool) move(path, sub string) error {
	base := filepath.Base(path)
	dest := filepath.Join(s.dir, sub, base)
	if _, err := os.Stat(dest); err == nil {
		ext := filepath.Ext(base)
		dest = filepath.Join(s.dir, sub, fmt.Sprintf("%s.%d%s", strings.TrimSuffix(base, ext), time.Now().UnixNano(), ext))
	}
	return os.Rename(path, dest)
}

// pendingFiles lists spec files already in the spool, oldest name first
func (s *Spool) pendingFiles() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read spool: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		path := filepath.Join(s.dir, e.Name())
		if !e.IsDir() && isSpecFile(path) {
			files = append(files, path)
		}
	}
	sort.Strings(files)
	return files, nil
}

func isSpecFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	_, err := commands.FormatFromPath(path)
	return err == nil
}
