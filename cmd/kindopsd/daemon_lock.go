package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/BegaDeveloper/kindops/internal/runtimeconfig"
)

type daemonLock struct {
	path string
}

// acquireDaemonLock makes sure one kindopsd owns the task registry on this
// host. A lock left behind by a process that no longer exists is replaced.
func acquireDaemonLock(lockPath string) (*daemonLock, error) {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o700); err != nil {
		return nil, fmt.Errorf("create lock directory failed: %w", err)
	}
	for attempt := 0; attempt < 2; attempt++ {
		file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_, _ = file.WriteString(strconv.Itoa(os.Getpid()))
			_ = file.Close()
			return &daemonLock{path: lockPath}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create daemon lock failed: %w", err)
		}
		if !staleLock(lockPath) {
			return nil, fmt.Errorf("daemon lock already exists at %s (another kindopsd may be running)", lockPath)
		}
		_ = os.Remove(lockPath)
	}
	return nil, fmt.Errorf("daemon lock at %s could not be acquired", lockPath)
}

func staleLock(lockPath string) bool {
	raw, err := os.ReadFile(lockPath)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return true
	}
	signalErr := process.Signal(syscall.Signal(0))
	return errors.Is(signalErr, os.ErrProcessDone) || errors.Is(signalErr, syscall.ESRCH)
}

func daemonLockPath() (string, error) {
	directory, err := runtimeconfig.DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(directory, "kindopsd.lock"), nil
}

func (lock *daemonLock) release() {
	if lock == nil {
		return
	}
	_ = os.Remove(lock.path)
}
