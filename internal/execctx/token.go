package execctx

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"go.abhg.dev/teapot/internal/osutil"
)

// loadToken reads the recovery token at path. The second return is
// false if no token exists or it is corrupt (corrupt is treated the
// same as absent, since there is nothing useful to recover from it).
func loadToken(path string) (ExecutionContext, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ExecutionContext{}, false
	}
	var ec ExecutionContext
	if err := json.Unmarshal(data, &ec); err != nil {
		return ExecutionContext{}, false
	}
	return ec, true
}

// writeToken atomically writes ec to path via temp-file-plus-rename.
func writeToken(path string, ec ExecutionContext) error {
	data, err := json.Marshal(ec)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := osutil.TempFilePath(dir, "exec-context-*.tmp")
	if err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func clearToken(path string) error {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// validateToken reports whether an existing token is still usable:
// not expired by ttl, and its executionPath both exists on disk and
// is present in Git's own worktree list.
func (s *Service) validateToken(ctx context.Context, repoPath string, ec ExecutionContext) bool {
	age := time.Duration(s.clock.Now()-ec.CreatedAt) * time.Millisecond
	if age > s.opts.TokenTTL {
		return false
	}

	if _, err := os.Stat(ec.ExecutionPath); err != nil {
		return false
	}

	worktrees, err := s.git.ListWorktrees(ctx, repoPath)
	if err != nil {
		return false
	}
	for _, wt := range worktrees {
		if samePath(wt.Path, ec.ExecutionPath) {
			return true
		}
	}
	return false
}
