package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/eegstreamd/internal/errors"
)

const (
	pidFile = "eegstreamd.pid"
)

// Path returns the PID file location inside dir, or the system temp
// directory when dir is empty.
func Path(dir string) string {
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, pidFile)
}

// Write writes the current process ID to the PID file in dir. A file left
// by a process that is no longer running is replaced.
func Write(dir string) error {
	errFactory := errors.New()
	pid := os.Getpid()
	path := Path(dir)

	if _, err := os.Stat(path); err == nil {
		// PID file exists, check if the process is running
		bytes, err := os.ReadFile(path)
		if err != nil {
			return errFactory.Wrap(errors.ErrInternal, err)
		}

		pid, err := strconv.Atoi(strings.TrimSpace(string(bytes)))
		if err != nil {
			return errFactory.Wrap(errors.ErrInternal, err)
		}

		process, err := os.FindProcess(pid)
		if err != nil {
			return errFactory.Wrap(errors.ErrInternal, err)
		}

		err = process.Signal(syscall.Signal(0))
		if err == nil {
			return errFactory.WithData(errors.ErrAlreadyRunning, pid)
		}
	}

	err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o600)
	if err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Remove removes the PID file in dir.
func Remove(dir string) error {
	errFactory := errors.New()
	path := Path(dir)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	if err := os.Remove(path); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}
