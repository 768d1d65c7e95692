package cli

import (
	"context"
	"fmt"
	"sort"

	"go.abhg.dev/teapot/internal/maputil"
	"go.abhg.dev/teapot/internal/rebasemachine"
)

// sessionCmd groups session-inspection subcommands, the same
// subcommand-group-by-embedding shape as the teacher's branch.go.
type sessionCmd struct {
	Status sessionStatusCmd `cmd:"" default:"1" help:"Print the current rebase session's state."`
	List   sessionListCmd   `cmd:"" help:"List every repository with a session in this repository's session store."`
}

// sessionListCmd reports every repository path the store currently
// holds a session for. The store lives under the git directory of the
// repository -C points at; sessions stored under other repositories
// are not listed.
type sessionListCmd struct{}

func (cmd *sessionListCmd) Run(ctx context.Context, eng *engine) error {
	all, err := eng.sessions.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(all) == 0 {
		eng.log.Infof("no stored sessions")
		return nil
	}

	paths := maputil.Keys(all)
	sort.Strings(paths)
	for _, p := range paths {
		stored := all[p]
		eng.log.Infof("%s: phase=%s status=%s", p, stored.Phase, stored.State.Session.Status)
	}
	return nil
}

// sessionStatusCmd prints the stored session for the repository, or
// reports that none exists.
type sessionStatusCmd struct{}

func (cmd *sessionStatusCmd) Run(ctx context.Context, eng *engine) error {
	stored, ok, err := eng.sessions.Get(ctx, eng.repoPath)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if !ok {
		eng.log.Infof("no rebase session for %s", eng.repoPath)
		return nil
	}

	sess := stored.State.Session
	eng.log.Infof("session %s: phase=%s status=%s", sess.ID, stored.Phase, sess.Status)
	eng.log.Infof("  trunk: %s -> %s", sess.InitialTrunkSha, orDash(sess.FinalTrunkSha.String()))
	eng.log.Infof("  active job: %s", orDash(stored.State.Queue.ActiveJobID))
	eng.log.Infof("  pending: %d  blocked: %d", len(stored.State.Queue.PendingJobIDs), len(stored.State.Queue.BlockedJobIDs))

	for _, id := range sess.Jobs {
		job, ok := stored.State.Jobs[id]
		if !ok {
			continue
		}
		printJob(eng, job)
	}
	return nil
}

func printJob(eng *engine, job rebasemachine.RebaseJob) {
	eng.log.Infof("  job %s branch=%s status=%s", job.ID, job.Branch, job.Status)
	for _, c := range job.Conflicts {
		eng.log.Infof("    conflict: %s", c.Path)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
