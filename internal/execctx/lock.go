package execctx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"syscall"
	"time"

	"go.abhg.dev/teapot/internal/random"
)

// LockAcquisitionError is returned when the cross-process file lock
// could not be acquired after every attempt was exhausted.
type LockAcquisitionError struct {
	RepoPath string
	Attempts int
}

func (e *LockAcquisitionError) Error() string {
	return fmt.Sprintf("could not acquire execution lock for %q after %d attempts", e.RepoPath, e.Attempts)
}

type lockInfo struct {
	LockID      string `json:"lockId"`
	PID         int    `json:"pid"`
	CreatedAtMs int64  `json:"createdAtMs"`
}

// acquireLock implements the cross-process file-lock half of the
// two-layer mutex (§4.4): generate a UUID-ish lockId, attempt an
// exclusive create, re-read to defend against a TOCTOU race with a
// concurrent stale-lock break, and treat a lock file as stale (safe to
// break) if it is corrupt, older than StaleLockAge, or its owning PID
// is no longer alive.
func (s *Service) acquireLock(ctx context.Context, repoPath, path string) (string, error) {
	attempts := s.opts.LockAttempts

	for attempt := 0; attempt < attempts; attempt++ {
		lockID := random.Hex(32)
		info := lockInfo{LockID: lockID, PID: os.Getpid(), CreatedAtMs: s.clock.Now()}

		err := writeExclusive(path, info)
		switch {
		case err == nil:
			// TOCTOU defense: re-read before declaring victory, in
			// case another process won a race between our
			// stale-lock break and our create.
			got, readErr := readLockInfo(path)
			if readErr == nil && got.LockID == lockID {
				return lockID, nil
			}
			// Someone else's lock is now in place; fall through to
			// retry like any other contention case.

		case errors.Is(err, os.ErrExist):
			if existing, readErr := readLockInfo(path); readErr != nil || s.lockIsStale(existing) {
				_ = os.Remove(path)
				continue // retry immediately, no backoff needed
			}

		default:
			return "", err
		}

		if err := sleepJittered(ctx, attempt); err != nil {
			return "", err
		}
	}

	return "", &LockAcquisitionError{RepoPath: repoPath, Attempts: attempts}
}

func (s *Service) lockIsStale(info lockInfo) bool {
	age := time.Duration(s.clock.Now()-info.CreatedAtMs) * time.Millisecond
	if age > s.opts.StaleLockAge {
		return true
	}
	return !processAlive(info.PID)
}

func writeExclusive(path string, info lockInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(data)
	return err
}

func readLockInfo(path string) (lockInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return lockInfo{}, err
	}
	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return lockInfo{}, fmt.Errorf("corrupt lock file: %w", err)
	}
	return info, nil
}

func releaseLock(path, lockID string) error {
	info, err := readLockInfo(path)
	if err != nil {
		// Already gone or corrupt; nothing more we can safely do.
		return nil
	}
	if info.LockID != lockID {
		// Someone else's lock is in place now; do not remove it.
		return nil
	}
	err = os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func removeLockFileUnconditionally(path string) error {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	// A zero signal performs no-op error checking: ESRCH means the
	// process does not exist.
	err := syscall.Kill(pid, syscall.Signal(0))
	return err == nil
}

func sleepJittered(ctx context.Context, attempt int) error {
	base := time.Duration(10*(attempt+1)) * time.Millisecond
	jitter := time.Duration(rand.IntN(10)) * time.Millisecond
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(base + jitter):
		return nil
	}
}

func exitSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}
