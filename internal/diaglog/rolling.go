package diaglog

import (
	"fmt"
	"os"
	"sync"
)

// backupPath is where the previous generation of a rolled log is kept.
func backupPath(path string) string { return path + ".1" }

// rollingWriter is the zapcore.WriteSyncer behind Logger. When the next
// write would push the file past maxSize, the file is renamed to path.1
// (replacing any older generation) and a fresh file is started, so at most
// two generations exist on disk.
type rollingWriter struct {
	path    string
	maxSize int64

	mu   sync.Mutex
	f    *os.File
	size int64
}

func newRollingWriter(path string, maxSize int64) (*rollingWriter, error) {
	rw := &rollingWriter{path: path, maxSize: maxSize}
	if err := rw.open(); err != nil {
		return nil, err
	}
	return rw, nil
}

func (rw *rollingWriter) open() error {
	f, err := os.OpenFile(rw.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	rw.f, rw.size = f, info.Size()
	return nil
}

// rollLocked moves the current file aside and reopens path empty.
func (rw *rollingWriter) rollLocked() error {
	if err := rw.f.Close(); err != nil {
		return fmt.Errorf("close log for rotation: %w", err)
	}
	if err := os.Rename(rw.path, backupPath(rw.path)); err != nil {
		return fmt.Errorf("rotate log: %w", err)
	}
	return rw.open()
}

func (rw *rollingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.size > 0 && rw.size+int64(len(p)) > rw.maxSize {
		if err := rw.rollLocked(); err != nil {
			return 0, err
		}
	}
	n, err := rw.f.Write(p)
	rw.size += int64(n)
	return n, err
}

// Sync flushes the file to disk. zap calls it on Logger.Sync.
func (rw *rollingWriter) Sync() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.f.Sync()
}

func (rw *rollingWriter) close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	_ = rw.f.Sync()
	return rw.f.Close()
}
