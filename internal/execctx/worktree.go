package execctx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.abhg.dev/teapot/internal/git"
	"go.abhg.dev/teapot/internal/random"
)

// WorktreeCreationError is returned when a temporary worktree could
// not be created after attempts to do so, including the rollback of
// any detach performed on the active worktree.
type WorktreeCreationError struct {
	RepoPath string
	Attempts int
	Cause    error
}

func (e *WorktreeCreationError) Error() string {
	return fmt.Sprintf("could not create temp worktree for %q after %d attempt(s): %v", e.RepoPath, e.Attempts, e.Cause)
}

func (e *WorktreeCreationError) Unwrap() error { return e.Cause }

// samePath reports whether a and b refer to the same filesystem
// location after resolving symlinks on both. A path that cannot be
// resolved (e.g. it doesn't exist) is compared verbatim, cleaned.
func samePath(a, b string) bool {
	return resolvePath(a) == resolvePath(b)
}

func resolvePath(p string) string {
	if real, err := filepath.EvalSymlinks(p); err == nil {
		return real
	}
	return filepath.Clean(p)
}

// newTempWorktreePath picks a fresh, uncollided path under
// <gitDir>/teapot-worktrees.
func (s *Service) newTempWorktreePath(gitDir string) string {
	return filepath.Join(s.worktreesDir(gitDir), WorktreePrefix+random.Hex(16))
}

// createTempWorktree creates a new worktree at the trunk head with a
// detached HEAD. If the active worktree is dirty or currently on
// branch, the active worktree's HEAD is detached first so the temp
// worktree may check that branch out. Acquire passes the active
// worktree's current branch as branch, so an active worktree with a
// branch checked out is always detached, whether or not the rebase
// rewrites that branch. On failure to create the temp worktree, the active worktree is
// rolled back to its original branch.
func (s *Service) createTempWorktree(ctx context.Context, repoPath, gitDir, trunkRef, branch string) (string, error) {
	status, err := s.git.GetWorkingTreeStatus(ctx, repoPath)
	if err != nil {
		return "", err
	}

	detachedHere := false
	if (status.Dirty() || status.CurrentBranch == branch) && !status.Detached {
		if err := s.git.Checkout(ctx, repoPath, "HEAD", git.CheckoutOptions{Detach: true}); err != nil {
			return "", err
		}
		detachedHere = true
	}

	path := s.newTempWorktreePath(gitDir)
	if err := os.MkdirAll(s.worktreesDir(gitDir), 0o755); err != nil {
		return "", s.rollback(ctx, repoPath, status, detachedHere, err)
	}

	if err := s.git.AddWorktree(ctx, repoPath, path, trunkRef); err != nil {
		return "", s.rollback(ctx, repoPath, status, detachedHere, err)
	}

	return path, nil
}

func (s *Service) rollback(ctx context.Context, repoPath string, status git.WorkingTreeStatus, detachedHere bool, cause error) error {
	if detachedHere && status.CurrentBranch != "" {
		if cerr := s.git.Checkout(ctx, repoPath, status.CurrentBranch, git.CheckoutOptions{}); cerr != nil {
			return errors.Join(cause, cerr)
		}
	}
	return cause
}

// removeTempWorktree removes a worktree this service created, after
// verifying it is actually one of ours: the basename must begin with
// WorktreePrefix, and the parent directory (resolved) must match the
// service's own worktrees directory (resolved).
func (s *Service) removeTempWorktree(ctx context.Context, repoPath, gitDir, path string, force bool) error {
	if !strings.HasPrefix(filepath.Base(path), WorktreePrefix) {
		return errors.New("execctx: refusing to remove a path outside the reserved prefix")
	}
	if resolvePath(filepath.Dir(path)) != resolvePath(s.worktreesDir(gitDir)) {
		return errors.New("execctx: refusing to remove a path outside the owned worktrees directory")
	}

	err := s.git.RemoveWorktree(ctx, repoPath, path, force)
	if err == nil {
		return nil
	}
	// Fall back to direct removal if Git itself can't reconcile its
	// metadata (e.g. the directory was already gone).
	if rmErr := os.RemoveAll(path); rmErr != nil {
		return errors.Join(err, rmErr)
	}
	return nil
}

// CleanupOrphans walks the temp-worktree directory and removes any
// entry with the reserved prefix that Git's worktree list no longer
// knows about, and clears a stale recovery token. It returns the
// number of worktrees removed.
func (s *Service) CleanupOrphans(ctx context.Context, repoPath string) (int, error) {
	gitDir, err := s.git.GitDir(ctx, repoPath)
	if err != nil {
		return 0, err
	}

	known, err := s.git.ListWorktrees(ctx, repoPath)
	if err != nil {
		return 0, err
	}
	knownPaths := make(map[string]struct{}, len(known))
	for _, wt := range known {
		knownPaths[resolvePath(wt.Path)] = struct{}{}
	}

	entries, err := os.ReadDir(s.worktreesDir(gitDir))
	if errors.Is(err, os.ErrNotExist) {
		entries = nil
	} else if err != nil {
		return 0, err
	}

	var removed int
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), WorktreePrefix) {
			continue
		}
		path := filepath.Join(s.worktreesDir(gitDir), e.Name())
		if _, ok := knownPaths[resolvePath(path)]; ok {
			continue
		}
		if err := s.removeTempWorktree(ctx, repoPath, gitDir, path, true); err != nil {
			s.log.Warnf("orphan sweep: could not remove %s: %v", path, err)
			continue
		}
		removed++
	}

	if ec, ok := loadToken(s.tokenPath(gitDir)); ok && !s.validateToken(ctx, repoPath, ec) {
		_ = clearToken(s.tokenPath(gitDir))
	}

	return removed, nil
}
