package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.abhg.dev/teapot/internal/git"
)

// fakeGit is a small in-memory GitAdapter double. It models commits
// and branch heads as plain maps and replays a rebase by synthesizing
// a new hash per replayed commit, so tests can assert on the exact
// shas produced without needing a real repository.
type fakeGit struct {
	gitDir string

	commits  map[git.Hash]git.Commit
	branches map[string]git.Branch // by ref

	status git.WorkingTreeStatus

	// conflictOnce, if true for a branch, makes that branch's next
	// Rebase call report a conflict instead of replaying; it is
	// cleared once triggered.
	conflictOnce map[string]bool

	// active* track the in-progress rebase for RebaseContinue/Skip.
	activeBranch string
	activeOnto   git.Hash
	activeFrom   git.Hash
}

var _ git.GitAdapter = (*fakeGit)(nil)

func newFakeGit(gitDir string) *fakeGit {
	return &fakeGit{
		gitDir:       gitDir,
		commits:      make(map[git.Hash]git.Commit),
		branches:     make(map[string]git.Branch),
		conflictOnce: make(map[string]bool),
	}
}

func (fg *fakeGit) addCommit(hash, parent git.Hash) {
	fg.commits[hash] = git.Commit{Hash: hash, ParentHash: parent, Author: "tester", Message: string(hash)}
}

func (fg *fakeGit) setBranch(ref string, head git.Hash, trunk bool) {
	fg.branches[ref] = git.Branch{Ref: ref, HeadHash: head, IsTrunk: trunk}
}

func (fg *fakeGit) ListBranches(_ context.Context, _ string, _ git.ListBranchesOptions) ([]git.Branch, error) {
	out := make([]git.Branch, 0, len(fg.branches))
	for _, b := range fg.branches {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref < out[j].Ref })
	return out, nil
}

func (fg *fakeGit) ListRemotes(context.Context, string) ([]git.Remote, error) { return nil, nil }

func (fg *fakeGit) ListWorktrees(context.Context, string) ([]git.Worktree, error) { return nil, nil }

func (fg *fakeGit) ResolveRef(_ context.Context, _ string, ref string) (git.Hash, error) {
	if b, ok := fg.branches[ref]; ok {
		return b.HeadHash, nil
	}
	if _, ok := fg.commits[git.Hash(ref)]; ok {
		return git.Hash(ref), nil
	}
	return "", fmt.Errorf("fakeGit: unknown ref %q", ref)
}

func (fg *fakeGit) ReadCommit(_ context.Context, _ string, sha git.Hash) (git.Commit, error) {
	c, ok := fg.commits[sha]
	if !ok {
		return git.Commit{}, fmt.Errorf("fakeGit: unknown commit %q", sha)
	}
	return c, nil
}

func (fg *fakeGit) Log(context.Context, string, string, git.LogOptions) ([]git.Commit, error) {
	return nil, nil
}

func (fg *fakeGit) GetWorkingTreeStatus(context.Context, string) (git.WorkingTreeStatus, error) {
	return fg.status, nil
}

func (fg *fakeGit) Checkout(_ context.Context, _ string, ref string, opts git.CheckoutOptions) error {
	if opts.Detach {
		fg.status.Detached = true
		fg.status.CurrentBranch = ""
	} else {
		fg.status.Detached = false
		fg.status.CurrentBranch = ref
	}
	return nil
}

func (fg *fakeGit) Branch(context.Context, string, string, git.BranchOptions) error { return nil }

func (fg *fakeGit) Commit(context.Context, string, git.CommitRequest) (git.Hash, error) {
	return "", nil
}

// commitsBetween returns the commits in (from, head] ancestor-first.
func (fg *fakeGit) commitsBetween(from, head git.Hash) []git.Commit {
	var chain []git.Commit
	for cur := head; cur != "" && cur != from; {
		c, ok := fg.commits[cur]
		if !ok {
			break
		}
		chain = append(chain, c)
		cur = c.ParentHash
	}
	// chain is head-first; reverse to ancestor-first.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

func (fg *fakeGit) replay(branch string, from, onto git.Hash) git.RebaseResult {
	head := fg.branches[branch].HeadHash
	newParent := onto
	for _, c := range fg.commitsBetween(from, head) {
		newHash := git.Hash(fmt.Sprintf("%s~%s", c.Hash, onto))
		fg.addCommit(newHash, newParent)
		newParent = newHash
	}
	b := fg.branches[branch]
	b.HeadHash = newParent
	fg.branches[branch] = b

	fg.status = git.WorkingTreeStatus{CurrentBranch: branch}
	fg.activeBranch = ""
	return git.RebaseResult{Success: true}
}

func (fg *fakeGit) Rebase(_ context.Context, _ string, req git.RebaseRequest) (git.RebaseResult, error) {
	onto, from := git.Hash(req.Onto), git.Hash(req.From)
	fg.activeBranch, fg.activeOnto, fg.activeFrom = req.To, onto, from

	if fg.conflictOnce[req.To] {
		delete(fg.conflictOnce, req.To)
		fg.status.IsRebasing = true
		fg.status.Conflicted = []string{"CONFLICT.txt"}
		return git.RebaseResult{Success: false, Conflicts: []string{"CONFLICT.txt"}}, nil
	}
	return fg.replay(req.To, from, onto), nil
}

func (fg *fakeGit) RebaseContinue(context.Context, string) (git.RebaseResult, error) {
	if fg.activeBranch == "" {
		return git.RebaseResult{}, errors.New("fakeGit: no rebase in progress")
	}
	return fg.replay(fg.activeBranch, fg.activeFrom, fg.activeOnto), nil
}

func (fg *fakeGit) RebaseSkip(context.Context, string) (git.RebaseResult, error) {
	if fg.activeBranch == "" {
		return git.RebaseResult{}, errors.New("fakeGit: no rebase in progress")
	}
	return fg.replay(fg.activeBranch, fg.activeFrom, fg.activeOnto), nil
}

func (fg *fakeGit) RebaseAbort(context.Context, string) error {
	fg.activeBranch = ""
	fg.status.IsRebasing = false
	fg.status.Conflicted = nil
	return nil
}

func (fg *fakeGit) Push(context.Context, string, git.PushRequest) error { return nil }

func (fg *fakeGit) Reset(context.Context, string, git.ResetRequest) error { return nil }

func (fg *fakeGit) AddWorktree(context.Context, string, string, string) error { return nil }

func (fg *fakeGit) RemoveWorktree(context.Context, string, string, bool) error { return nil }

func (fg *fakeGit) GitDir(context.Context, string) (string, error) { return fg.gitDir, nil }
