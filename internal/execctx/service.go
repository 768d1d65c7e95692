package execctx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.abhg.dev/teapot/internal/git"
)

func normalizePath(repoPath string) string {
	return strings.TrimRight(repoPath, "/")
}

// activeState is what Release needs to undo what Acquire set up. It
// is kept out of ExecutionContext itself since that type is also the
// JSON shape of the on-disk recovery token, which carries only the
// fields in the design's data model.
type activeState struct {
	gitDir       string
	lockID       string
	localRelease func()
}

var errNotAcquired = errors.New("execctx: repository has no active execution context")

// ContextNotFoundError is returned when an operation that requires an
// already-acquired execution context (Release, or a caller resuming
// one by repoPath) finds none.
type ContextNotFoundError struct {
	RepoPath string
	cause    error
}

func (e *ContextNotFoundError) Error() string {
	return fmt.Sprintf("no execution context held for %q", e.RepoPath)
}

func (e *ContextNotFoundError) Unwrap() error { return e.cause }

// Acquire obtains an execution context for repoPath: a filesystem
// location safe to run Git operations in, with at most one operation
// per repository running at a time across the host.
func (s *Service) Acquire(ctx context.Context, repoPath, operation string) (*ExecutionContext, error) {
	repoPath = normalizePath(repoPath)

	localRelease, err := s.acquireLocal(ctx, repoPath)
	if err != nil {
		return nil, err
	}

	gitDir, err := s.git.GitDir(ctx, repoPath)
	if err != nil {
		localRelease()
		return nil, err
	}
	s.registerActive(repoPath, gitDir)

	lockID, err := s.acquireLock(ctx, repoPath, s.lockPath(gitDir))
	if err != nil {
		s.unregisterActive(repoPath)
		localRelease()
		return nil, err
	}

	s.storeActive(repoPath, activeState{gitDir: gitDir, lockID: lockID, localRelease: localRelease})

	ec, err := s.acquireLocked(ctx, repoPath, gitDir, operation)
	if err != nil {
		s.abandon(repoPath)
		return nil, err
	}
	return ec, nil
}

// acquireLocked runs the token/worktree decision once both layers of
// the mutex are held.
func (s *Service) acquireLocked(ctx context.Context, repoPath, gitDir, operation string) (*ExecutionContext, error) {
	tokenPath := s.tokenPath(gitDir)

	if ec, ok := loadToken(tokenPath); ok {
		age := time.Duration(s.clock.Now()-ec.CreatedAt) * time.Millisecond
		if age > s.opts.TokenTTL {
			s.log.Infof("staleCleared: recovery token for %s is %s old, ttl %s", repoPath, age, s.opts.TokenTTL)
			_ = clearToken(tokenPath)
		} else if s.validateToken(ctx, repoPath, ec) {
			// An existing session is being continued: the caller did
			// not acquire this location, so it must not clean it up.
			ec.RequiresCleanup = false
			return &ec, nil
		} else {
			_ = clearToken(tokenPath)
		}
	}

	status, err := s.git.GetWorkingTreeStatus(ctx, repoPath)
	if err != nil {
		return nil, err
	}

	var ec ExecutionContext
	switch {
	case status.IsRebasing:
		// A rebase is already in progress in the active worktree
		// (legacy/continue): operate there directly.
		ec = ExecutionContext{ExecutionPath: repoPath, IsTemporary: false}

	case s.opts.DisableTempWorktree:
		ec = ExecutionContext{ExecutionPath: repoPath, IsTemporary: false}

	default:
		trunk, ok, err := s.findTrunk(ctx, repoPath)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.New("execctx: repository has no non-remote trunk branch")
		}

		path, err := s.createTempWorktree(ctx, repoPath, gitDir, trunk.Ref, status.CurrentBranch)
		if err != nil {
			return nil, &WorktreeCreationError{RepoPath: repoPath, Attempts: 1, Cause: err}
		}
		ec = ExecutionContext{ExecutionPath: path, IsTemporary: true, RequiresCleanup: true}
	}

	ec.CreatedAt = s.clock.Now()
	ec.Operation = operation
	ec.RepoPath = repoPath

	if err := writeToken(tokenPath, ec); err != nil {
		return nil, err
	}
	return &ec, nil
}

func (s *Service) findTrunk(ctx context.Context, repoPath string) (git.Branch, bool, error) {
	branches, err := s.git.ListBranches(ctx, repoPath, git.ListBranchesOptions{})
	if err != nil {
		return git.Branch{}, false, err
	}
	for _, b := range branches {
		if b.IsTrunk && !b.IsRemote {
			return b, true, nil
		}
	}
	return git.Branch{}, false, nil
}

// Release returns an execution context acquired via Acquire. It is a
// no-op on the filesystem unless ec.IsTemporary && ec.RequiresCleanup,
// but it always releases both layers of the mutex and clears the
// recovery token.
func (s *Service) Release(ctx context.Context, ec ExecutionContext) error {
	repoPath := normalizePath(ec.RepoPath)

	state, ok := s.loadActive(repoPath)
	if !ok {
		return &ContextNotFoundError{RepoPath: repoPath, cause: fmt.Errorf("%w: %s", errNotAcquired, repoPath)}
	}

	var releaseErr error
	if ec.IsTemporary && ec.RequiresCleanup {
		if err := s.removeTempWorktree(ctx, repoPath, state.gitDir, ec.ExecutionPath, false); err != nil {
			releaseErr = err
		}
	}

	_ = clearToken(s.tokenPath(state.gitDir))
	if err := releaseLock(s.lockPath(state.gitDir), state.lockID); err != nil {
		releaseErr = errors.Join(releaseErr, err)
	}

	s.unregisterActive(repoPath)
	s.dropActive(repoPath)
	state.localRelease()

	return releaseErr
}

// abandon releases the locks Acquire took without touching the
// filesystem, used when acquireLocked itself fails.
func (s *Service) abandon(repoPath string) {
	state, ok := s.loadActive(repoPath)
	if !ok {
		return
	}
	_ = releaseLock(s.lockPath(state.gitDir), state.lockID)
	s.unregisterActive(repoPath)
	s.dropActive(repoPath)
	state.localRelease()
}

// Health reports the observable state of the execution context
// service for one repository, for diagnostics.
type Health struct {
	TokenExists bool
	TokenAgeMs  int64
	TokenTTLMs  int64

	LockExists bool
	LockAgeMs  int64

	WorktreeDirExists bool
	WorktreeCount     int
}

// HealthCheck reports whether a recovery token and lock file exist
// for repoPath, their ages, and the temp-worktree directory's state.
func (s *Service) HealthCheck(ctx context.Context, repoPath string) (Health, error) {
	repoPath = normalizePath(repoPath)

	gitDir, err := s.git.GitDir(ctx, repoPath)
	if err != nil {
		return Health{}, err
	}

	var h Health
	h.TokenTTLMs = s.opts.TokenTTL.Milliseconds()

	if ec, ok := loadToken(s.tokenPath(gitDir)); ok {
		h.TokenExists = true
		h.TokenAgeMs = s.clock.Now() - ec.CreatedAt
	}

	if info, err := readLockInfo(s.lockPath(gitDir)); err == nil {
		h.LockExists = true
		h.LockAgeMs = s.clock.Now() - info.CreatedAtMs
	}

	entries, err := os.ReadDir(s.worktreesDir(gitDir))
	switch {
	case err == nil:
		h.WorktreeDirExists = true
		for _, e := range entries {
			if e.IsDir() && strings.HasPrefix(e.Name(), WorktreePrefix) {
				h.WorktreeCount++
			}
		}
	case os.IsNotExist(err):
		// leave zero values
	default:
		return Health{}, err
	}

	return h, nil
}
