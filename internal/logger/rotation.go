package logger

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const backupTimeFormat = "20060102-150405.000000"

// RotatingWriter appends to a log file. When a write would take the file
// past limit, the file is renamed to <path>.<timestamp> (gzipped in the
// background if enabled) and a fresh one is opened.
type RotatingWriter struct {
	path     string
	limit    int64 // bytes; 0 never rotates
	keepDays int   // 0 keeps backups forever
	gzip     bool

	mu      sync.Mutex
	file    *os.File
	size    int64
	pending sync.WaitGroup
}

func NewRotatingWriter(path string, maxSizeMB, maxAgeDays int, compress bool) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	file, size, err := openAppend(path)
	if err != nil {
		return nil, err
	}

	w := &RotatingWriter{
		path:     path,
		limit:    int64(maxSizeMB) << 20,
		keepDays: maxAgeDays,
		gzip:     compress,
		file:     file,
		size:     size,
	}
	w.prune(time.Now())
	return w, nil
}

func openAppend(path string) (*os.File, int64, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("stat log file: %w", err)
	}
	return file, info.Size(), nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}
	if w.limit > 0 && w.size > 0 && w.size+int64(len(p)) > w.limit {
		if err := w.rotateLocked(); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the file and waits for background compression
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	var err error
	if w.file != nil {
		err = w.file.Close()
		w.file = nil
	}
	w.mu.Unlock()

	w.pending.Wait()
	return err
}

func (w *RotatingWriter) rotateLocked() error {
	if err := w.file.Close(); err != nil {
		return err
	}
	w.file = nil

	now := time.Now()
	backup := w.backupName(now)
	if err := os.Rename(w.path, backup); err != nil {
		return err
	}
	if w.gzip {
		w.pending.Add(1)
		go func() {
			defer w.pending.Done()
			_ = gzipFile(backup)
		}()
	}

	file, _, err := openAppend(w.path)
	if err != nil {
		return err
	}
	w.file, w.size = file, 0
	w.prune(now)
	return nil
}

// backupName picks a timestamped name not already taken by a plain or
// gzipped backup
func (w *RotatingWriter) backupName(now time.Time) string {
	base := w.path + "." + now.Format(backupTimeFormat)
	name := base
	for i := 1; exists(name) || exists(name+".gz"); i++ {
		name = fmt.Sprintf("%s-%d", base, i)
	}
	return name
}

// prune deletes backups last modified more than keepDays ago
func (w *RotatingWriter) prune(now time.Time) {
	if w.keepDays <= 0 {
		return
	}
	backups, err := filepath.Glob(w.path + ".*")
	if err != nil {
		return
	}

	cutoff := now.AddDate(0, 0, -w.keepDays)
	for _, backup := range backups {
		info, err := os.Stat(backup)
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		_ = os.Remove(backup)
		if !strings.HasSuffix(backup, ".gz") {
			_ = os.Remove(backup + ".gz")
		}
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// gzipFile replaces name with name.gz
func gzipFile(name string) (err error) {
	src, err := os.Open(name)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(name + ".gz")
	if err != nil {
		return err
	}
	defer func() {
		if cerr := dst.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(name + ".gz")
		}
	}()

	zw := gzip.NewWriter(dst)
	if _, err = io.Copy(zw, src); err != nil {
		return err
	}
	if err = zw.Close(); err != nil {
		return err
	}
	src.Close()
	return os.Remove(name)
}
