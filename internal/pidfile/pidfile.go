// Package pidfile keeps a single cuesync daemon per user.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrAlreadyRunning is returned by New when a live process owns the file.
var ErrAlreadyRunning = errors.New("another instance is already running")

// PIDFile is a claimed PID file.
type PIDFile struct {
	path string
	pid  int
}

// New claims path for the current process. A file left by a dead process
// is replaced; a file owned by a live one yields ErrAlreadyRunning.
func New(path string) (*PIDFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create PID directory: %w", err)
	}

	self := os.Getpid()
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d\n", self)
			if cerr := f.Close(); werr == nil {
				werr = cerr
			}
			if werr != nil {
				_ = os.Remove(path)
				return nil, fmt.Errorf("write PID file: %w", werr)
			}
			return &PIDFile{path: path, pid: self}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create PID file: %w", err)
		}

		if owner, ok := readPID(path); ok && alive(owner) {
			return nil, fmt.Errorf("%w (PID %d)", ErrAlreadyRunning, owner)
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale PID file: %w", err)
		}
	}
	return nil, fmt.Errorf("%w: lost the race for %s", ErrAlreadyRunning, path)
}

// Remove deletes the file if it still names this process.
func (p *PIDFile) Remove() error {
	if p == nil {
		return nil
	}
	if pid, ok := readPID(p.path); !ok || pid != p.pid {
		return nil
	}
	return os.Remove(p.path)
}

// PID returns the process id written to the file.
func (p *PIDFile) PID() int { return p.pid }

// Path returns the file location.
func (p *PIDFile) Path() string { return p.path }

// ReadPID returns the pid recorded at path and whether that process is
// alive. A missing or malformed file yields 0, false.
func ReadPID(path string) (int, bool) {
	pid, ok := readPID(path)
	if !ok {
		return 0, false
	}
	return pid, alive(pid)
}

func readPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// alive probes pid with signal 0. EPERM means the process exists under
// another user.
func alive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

// GetPIDFilePath returns ~/.cache/cuesync/<appName>.pid
func GetPIDFilePath(appName string) string {
	return filepath.Join(os.Getenv("HOME"), ".cache", "cuesync", appName+".pid")
}
