package daemon

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// ErrInvalidPID is returned when a PID file does not hold a positive integer
var ErrInvalidPID = errors.New("invalid PID file")

// WritePID records the swarm daemon's pid. The file is swapped in with a
// rename so `swarm daemon stop` never reads a partial write.
func WritePID(path string, pid int) error {
	if pid <= 0 {
		return fmt.Errorf("%w: pid %d", ErrInvalidPID, pid)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// ReadPID returns the pid stored at path. A missing file surfaces the
// os error unchanged so callers can test it with os.IsNotExist.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrInvalidPID, path)
	}
	return pid, nil
}

// RemovePID deletes the PID file; a file that is already gone is not an error
func RemovePID(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// IsProcessRunning sends signal 0 to pid. EPERM means the process exists
// under another user.
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

// CheckExistingDaemon reports whether the daemon recorded in pidFile is
// alive. Stale or unreadable PID files are cleared.
func CheckExistingDaemon(pidFile string) (running bool, pid int, err error) {
	pid, err = ReadPID(pidFile)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, 0, nil
	case errors.Is(err, ErrInvalidPID):
		return false, 0, RemovePID(pidFile)
	case err != nil:
		return false, 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	if IsProcessRunning(pid) {
		return true, pid, nil
	}
	if err := RemovePID(pidFile); err != nil {
		return false, 0, fmt.Errorf("failed to clear stale PID file: %w", err)
	}
	return false, 0, nil
}
