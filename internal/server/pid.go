package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
)

// PIDFile guards against running two daemons over the same store.
type PIDFile struct {
	path string
}

// NewPIDFile creates a PID file manager in the given data directory.
func NewPIDFile(dir string) (*PIDFile, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create PID directory: %w", err)
	}
	return &PIDFile{path: filepath.Join(dir, "csyncd.pid")}, nil
}

// Acquire writes the current process PID, failing if another live
// daemon already holds the file.
func (p *PIDFile) Acquire() error {
	pid, err := p.read()
	if err != nil {
		return err
	}
	if pid != 0 && pid != os.Getpid() && isRunning(pid) {
		return fmt.Errorf("another csyncd is already running (pid %d)", pid)
	}
	return os.WriteFile(p.path, []byte(strconv.Itoa(os.Getpid())), 0644)
}

// Release removes the PID file.
func (p *PIDFile) Release() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

func (p *PIDFile) read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}
	return pid, nil
}

// isRunning checks whether a process with the given PID exists.
// On Unix FindProcess always succeeds, so probe with signal 0.
func isRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
