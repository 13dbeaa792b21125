// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package runlock provides an advisory, per-run file lock so that at most
// one supervisor process drives a given run at a time. It uses exclusive
// flock locking rather than O_EXCL creation, since a run's lock file must
// be re-acquirable across resumes of the same run.
package runlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrHeld is returned by Acquire when another live process holds the lock.
var ErrHeld = errors.New("run lock is held by another process")

// Lock is an acquired, held advisory lock on a single run directory. The
// zero value is not usable; construct one with Acquire.
type Lock struct {
	path string
	file *os.File
}

// Path returns the lock file path for the run directory runDir.
func Path(runDir string) string {
	return filepath.Join(runDir, "run.lock")
}

// Acquire takes the exclusive lock for the run directory, writing the
// current process's PID and the lock time into the file for diagnostics.
// It returns ErrHeld, wrapped, if another process currently holds the lock.
func Acquire(runDir string) (*Lock, error) {
	path := Path(runDir)

	if err := os.MkdirAll(runDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating run directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening run lock: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if err == syscall.EWOULDBLOCK {
			return nil, fmt.Errorf("%w: %s", ErrHeld, path)
		}
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}

	if err := f.Truncate(0); err != nil {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("truncating run lock: %w", err)
	}
	if _, err := f.WriteAt([]byte(fmt.Sprintf("%d\n%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))), 0); err != nil {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("writing run lock: %w", err)
	}
	if err := f.Sync(); err != nil {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("syncing run lock: %w", err)
	}

	return &Lock{path: path, file: f}, nil
}

// Release unlocks and closes the lock file. It does not remove the file,
// since a new Acquire will truncate and reuse it; removing it here would
// open a race window between unlink and a concurrent Acquire's open.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	err := l.file.Close()
	l.file = nil
	return err
}

// HolderPID reads the PID recorded by whichever process most recently held
// the lock, for diagnostic reporting (`runr status`). It makes no claim
// about whether that process is still alive; use Acquire/Held for that.
func HolderPID(runDir string) (int, bool) {
	data, err := os.ReadFile(Path(runDir))
	if err != nil {
		return 0, false
	}
	lines := strings.SplitN(string(data), "\n", 2)
	if len(lines) == 0 {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// Held reports whether the run lock is currently held by a live process.
// It probes with a non-blocking exclusive lock that it releases at once,
// creating the lock file if it is missing. `runr status` uses it to show
// whether a run's owning process is still alive.
func Held(runDir string) (bool, error) {
	path := Path(runDir)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return false, fmt.Errorf("opening run lock: %w", err)
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		if err == syscall.EWOULDBLOCK {
			return true, nil
		}
		return false, fmt.Errorf("probing lock %s: %w", path, err)
	}
	syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	return false, nil
}
