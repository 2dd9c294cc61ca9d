// Package pidfile guards against running two ruckd instances against the
// same state directory.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// PIDFile is a single-instance guard file.
type PIDFile struct {
	path string
	pid  int
}

// New creates a guard for the current process.
func New(path string) *PIDFile {
	return &PIDFile{path: path, pid: os.Getpid()}
}

// Create writes the PID file, refusing when another live instance holds it.
// A stale file left by a dead process is replaced.
func (p *PIDFile) Create() error {
	if existing, err := p.readPID(); err == nil {
		if processAlive(existing) {
			return fmt.Errorf("ruckd already running with pid %d", existing)
		}
		if err := os.Remove(p.path); err != nil {
			return fmt.Errorf("remove stale pid file: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("create pid file directory: %w", err)
	}
	if err := os.WriteFile(p.path, []byte(fmt.Sprintf("%d\n", p.pid)), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// Remove deletes the PID file if it still belongs to this process.
func (p *PIDFile) Remove() error {
	existing, err := p.readPID()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return os.Remove(p.path)
	}
	if existing != p.pid {
		return fmt.Errorf("pid file holds %d, not our %d", existing, p.pid)
	}
	return os.Remove(p.path)
}

// Path returns the guard file location.
func (p *PIDFile) Path() string { return p.path }

func (p *PIDFile) readPID() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid file contents: %w", err)
	}
	return pid, nil
}

// processAlive probes a PID with signal 0.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
