// Package lockfile serializes sync runs against one state database.
//
// Two concurrent runs sharing an identity store could both miss a mapping
// and create the same work package twice, so every writing command holds
// an exclusive flock on "<state_db>.lock" for its whole run.
package lockfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/steveyegge/mpsync/internal/debug"
)

// ErrLockBusy is returned when another run holds the lock.
var ErrLockBusy = errors.New("another mpsync run holds the state lock")

const pollInterval = 50 * time.Millisecond

// LockInfo is written into the lock file by the holder.
type LockInfo struct {
	PID       int       `json:"pid"`
	Command   string    `json:"command"`
	StartedAt time.Time `json:"started_at"`
}

// RunLock is an exclusive lock tied to a state database path.
type RunLock struct {
	fl *flock.Flock
}

// PathFor returns the lock file path of a state database.
func PathFor(stateDB string) string {
	return stateDB + ".lock"
}

// New creates an unlocked RunLock for stateDB.
func New(stateDB string) *RunLock {
	return &RunLock{fl: flock.New(PathFor(stateDB))}
}

// Path returns the lock file path.
func (l *RunLock) Path() string {
	return l.fl.Path()
}

// TryAcquire takes the lock without waiting. When the lock is held
// elsewhere the error wraps ErrLockBusy and names the holder if known.
func (l *RunLock) TryAcquire(command string) error {
	if err := os.MkdirAll(filepath.Dir(l.Path()), 0o750); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}
	locked, err := l.fl.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !locked {
		return l.busyError()
	}
	l.recordHolder(command)
	return nil
}

// Acquire waits up to timeout for the lock. A zero timeout behaves like
// TryAcquire.
func (l *RunLock) Acquire(ctx context.Context, command string, timeout time.Duration) error {
	if timeout <= 0 {
		return l.TryAcquire(command)
	}
	if err := os.MkdirAll(filepath.Dir(l.Path()), 0o750); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}

	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	locked, err := l.fl.TryLockContext(waitCtx, pollInterval)
	if locked {
		debug.Logf("acquired run lock after %v: %s", time.Since(start), l.Path())
		l.recordHolder(command)
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("failed to acquire run lock: %w", err)
	}
	return l.busyError()
}

// Release unlocks. Calling it on an unlocked RunLock is a no-op.
func (l *RunLock) Release() error {
	if !l.fl.Locked() {
		return nil
	}
	debug.Logf("releasing run lock: %s", l.Path())
	_ = os.Truncate(l.Path(), 0)
	return l.fl.Unlock()
}

func (l *RunLock) recordHolder(command string) {
	data, err := json.Marshal(LockInfo{PID: os.Getpid(), Command: command, StartedAt: time.Now().UTC()})
	if err != nil {
		return
	}
	// Advisory only: a failed write leaves a lock without holder details.
	if err := os.WriteFile(l.Path(), data, 0o600); err != nil {
		debug.Logf("writing lock holder: %v", err)
	}
}

func (l *RunLock) busyError() error {
	info, err := ReadLockInfo(l.Path())
	if err != nil || info.PID == 0 {
		return fmt.Errorf("%w (%s)", ErrLockBusy, l.Path())
	}
	return fmt.Errorf("%w: pid %d running %q since %s",
		ErrLockBusy, info.PID, info.Command, info.StartedAt.Local().Format(time.RFC3339))
}

// ReadLockInfo reads the holder details from a lock file.
func ReadLockInfo(path string) (*LockInfo, error) {
	data, err := os.ReadFile(path) // #nosec G304 - lock path derives from the configured state_db
	if err != nil {
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parsing lock file %s: %w", path, err)
	}
	return &info, nil
}
