package execctx

import (
	"context"
	"os"

	"go.abhg.dev/teapot/internal/git"
)

// fakeGit is a minimal, in-memory git.GitAdapter for exercising the
// execution context service without a real repository. Only the
// methods execctx actually calls are meaningfully implemented; the
// rest return zero values.
type fakeGit struct {
	gitDir    string
	branches  []git.Branch
	worktrees []git.Worktree
	status    git.WorkingTreeStatus

	checkoutErr    error
	addWorktreeErr error
	removeErr      error

	checkouts     []string // refs passed to Checkout
	addedWorktree struct {
		path, ref string
	}
	removedWorktree struct {
		path  string
		force bool
	}
}

func (f *fakeGit) ListBranches(context.Context, string, git.ListBranchesOptions) ([]git.Branch, error) {
	return f.branches, nil
}

func (f *fakeGit) ListRemotes(context.Context, string) ([]git.Remote, error) { return nil, nil }

func (f *fakeGit) ListWorktrees(context.Context, string) ([]git.Worktree, error) {
	return f.worktrees, nil
}

func (f *fakeGit) ResolveRef(context.Context, string, string) (git.Hash, error) { return "", nil }

func (f *fakeGit) ReadCommit(context.Context, string, git.Hash) (git.Commit, error) {
	return git.Commit{}, nil
}

func (f *fakeGit) Log(context.Context, string, string, git.LogOptions) ([]git.Commit, error) {
	return nil, nil
}

func (f *fakeGit) GetWorkingTreeStatus(context.Context, string) (git.WorkingTreeStatus, error) {
	return f.status, nil
}

func (f *fakeGit) Checkout(_ context.Context, _ string, ref string, _ git.CheckoutOptions) error {
	f.checkouts = append(f.checkouts, ref)
	return f.checkoutErr
}

func (f *fakeGit) Branch(context.Context, string, string, git.BranchOptions) error { return nil }

func (f *fakeGit) Commit(context.Context, string, git.CommitRequest) (git.Hash, error) {
	return "", nil
}

func (f *fakeGit) Rebase(context.Context, string, git.RebaseRequest) (git.RebaseResult, error) {
	return git.RebaseResult{}, nil
}

func (f *fakeGit) RebaseContinue(context.Context, string) (git.RebaseResult, error) {
	return git.RebaseResult{}, nil
}

func (f *fakeGit) RebaseSkip(context.Context, string) (git.RebaseResult, error) {
	return git.RebaseResult{}, nil
}

func (f *fakeGit) RebaseAbort(context.Context, string) error { return nil }

func (f *fakeGit) Push(context.Context, string, git.PushRequest) error { return nil }

func (f *fakeGit) Reset(context.Context, string, git.ResetRequest) error { return nil }

func (f *fakeGit) AddWorktree(_ context.Context, _ string, path, ref string) error {
	if f.addWorktreeErr != nil {
		return f.addWorktreeErr
	}
	// Like `git worktree add`, create the worktree directory.
	if err := os.MkdirAll(path, 0o755); err != nil {
		return err
	}
	f.addedWorktree.path = path
	f.addedWorktree.ref = ref
	f.worktrees = append(f.worktrees, git.Worktree{Path: path})
	return nil
}

func (f *fakeGit) RemoveWorktree(_ context.Context, _ string, path string, force bool) error {
	f.removedWorktree.path = path
	f.removedWorktree.force = force
	if f.removeErr != nil {
		return f.removeErr
	}
	kept := f.worktrees[:0]
	for _, wt := range f.worktrees {
		if !samePath(wt.Path, path) {
			kept = append(kept, wt)
		}
	}
	f.worktrees = kept
	// Mirror real Git's worktree remove, which deletes the directory.
	return os.RemoveAll(path)
}

func (f *fakeGit) GitDir(context.Context, string) (string, error) {
	return f.gitDir, nil
}

// trunkBranch is a convenience for building a fakeGit's Branches.
func trunkBranch(name string) git.Branch {
	return git.Branch{Ref: name, IsTrunk: true}
}

var _ git.GitAdapter = (*fakeGit)(nil)
