package executor

import (
	"context"
	"fmt"

	"go.abhg.dev/teapot/internal/git"
	"go.abhg.dev/teapot/internal/graph"
	"go.abhg.dev/teapot/internal/rebasemachine"
	"go.abhg.dev/teapot/internal/stackgraph"
)

// loadSnapshot walks every branch's history back from its head,
// collecting enough commits for [stackgraph.Builder.BuildRebaseIntent]
// to compute fork points and lineage. It stops walking a branch once
// it reaches a commit already collected (shared history with another
// branch already walked) or a root commit.
func loadSnapshot(ctx context.Context, ga git.GitAdapter, repoPath string, branches []git.Branch) (stackgraph.RepoSnapshot, error) {
	commits := make(map[git.Hash]git.Commit)

	for _, b := range branches {
		cur := b.HeadHash
		for !cur.IsZero() {
			if _, ok := commits[cur]; ok {
				break
			}
			c, err := ga.ReadCommit(ctx, repoPath, cur)
			if err != nil {
				return stackgraph.RepoSnapshot{}, fmt.Errorf("read commit %s: %w", cur, err)
			}
			commits[cur] = c
			cur = c.ParentHash
		}
	}

	snap := stackgraph.RepoSnapshot{
		Branches: branches,
		Commits:  make([]git.Commit, 0, len(commits)),
	}
	for _, c := range commits {
		snap.Commits = append(snap.Commits, c)
	}
	return snap, nil
}

// commitRange returns the commits in (fromExclusive, toInclusive] in
// topological (ancestor-first) order, by walking toInclusive's parent
// chain back to fromExclusive and topologically sorting the result.
//
// A toInclusive equal to fromExclusive, or zero, yields no commits:
// the job replayed nothing.
func commitRange(ctx context.Context, ga git.GitAdapter, repoPath string, fromExclusive, toInclusive git.Hash) ([]git.Hash, error) {
	if toInclusive.IsZero() || toInclusive == fromExclusive {
		return nil, nil
	}

	parentOf := make(map[git.Hash]git.Hash)
	nodes := make([]git.Hash, 0)

	cur := toInclusive
	for !cur.IsZero() && cur != fromExclusive {
		c, err := ga.ReadCommit(ctx, repoPath, cur)
		if err != nil {
			return nil, fmt.Errorf("read commit %s: %w", cur, err)
		}
		nodes = append(nodes, cur)
		parentOf[cur] = c.ParentHash
		cur = c.ParentHash
	}

	return graph.Toposort(nodes, func(h git.Hash) (git.Hash, bool) {
		p, ok := parentOf[h]
		if !ok || p.IsZero() {
			return "", false
		}
		if _, inSet := parentOf[p]; !inSet {
			return "", false
		}
		return p, true
	}), nil
}

// pairRewrites zips the replayed commit ranges of a completed job into
// its [rebasemachine.CommitRewrite] entries. The two ranges are
// expected to be the same length for a clean (non-conflicting) rebase;
// a shorter length is used defensively if they ever disagree (e.g. an
// empty commit Git drops during the replay).
func pairRewrites(branch string, oldShas, newShas []git.Hash) []rebasemachine.CommitRewrite {
	n := min(len(oldShas), len(newShas))
	out := make([]rebasemachine.CommitRewrite, n)
	for i := range n {
		out[i] = rebasemachine.CommitRewrite{Branch: branch, OldSha: oldShas[i], NewSha: newShas[i]}
	}
	return out
}
