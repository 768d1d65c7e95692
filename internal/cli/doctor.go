package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// doctorCmd reports the execution context service's health for the
// repository: whether a recovery token or lock file is left over from
// a prior run, and the state of the temp-worktree directory.
type doctorCmd struct {
	CleanOrphans bool `name:"clean-orphans" help:"Remove orphaned temp worktrees before reporting health."`
}

func (cmd *doctorCmd) Run(ctx context.Context, eng *engine) error {
	if cmd.CleanOrphans {
		n, err := eng.exec.CleanupOrphans(ctx, eng.repoPath)
		if err != nil {
			return fmt.Errorf("clean orphans: %w", err)
		}
		eng.log.Infof("removed %d orphaned worktree(s)", n)
	}

	health, err := eng.exec.HealthCheck(ctx, eng.repoPath)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}

	eng.log.Infof("recovery token: exists=%v age=%s ttl=%s", health.TokenExists, humanizeMs(health.TokenAgeMs), humanizeMs(health.TokenTTLMs))
	eng.log.Infof("lock file: exists=%v age=%s", health.LockExists, humanizeMs(health.LockAgeMs))
	eng.log.Infof("temp worktrees: dir-exists=%v count=%d", health.WorktreeDirExists, health.WorktreeCount)

	if health.TokenExists && health.TokenAgeMs > health.TokenTTLMs {
		eng.log.Infof("warning: recovery token is past its TTL; a stale process may be holding the execution context")
	}
	return nil
}

// humanizeMs renders a millisecond duration the way humanize.Time
// renders a timestamp: relative, rounded to a coarse human unit,
// rather than a raw millisecond count.
func humanizeMs(ms int64) string {
	return humanize.RelTime(time.Now().Add(-time.Duration(ms)*time.Millisecond), time.Now(), "ago", "")
}
