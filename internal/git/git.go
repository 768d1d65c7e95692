// Package git defines the capability surface that the rebase engine
// consumes from a Git backend, along with the data types exchanged
// across that boundary.
//
// The engine never shells out to Git directly and never touches a
// user's working directory outside of a worktree it explicitly
// acquired through [go.abhg.dev/teapot/internal/execctx]. Every Git
// operation goes through [GitAdapter], so the engine can be driven
// against a fake in tests and against a real repository in
// production.
package git

import "context"

// Hash is a Git object id.
//
// An empty Hash represents the absence of a commit
// (e.g. the parent of a root commit).
type Hash string

// IsZero reports whether h is the empty hash.
func (h Hash) IsZero() bool { return h == "" }

func (h Hash) String() string { return string(h) }

// Commit is a single commit as reported by the backend.
type Commit struct {
	Hash Hash

	// ParentHash is the hash of the commit's first parent.
	// It is empty for a root commit.
	ParentHash Hash

	Author  string
	Message string

	// TimeMs is the commit time in milliseconds since the Unix epoch.
	TimeMs int64
}

// Branch is a single branch as reported by the backend.
type Branch struct {
	Ref string

	// HeadHash is the commit the branch currently points at.
	// An empty HeadHash means the branch is considered absent
	// for analysis purposes.
	HeadHash Hash

	IsTrunk  bool
	IsRemote bool
}

// Remote is a configured Git remote.
type Remote struct {
	Name string
	URL  string
}

// Worktree describes one worktree known to Git.
type Worktree struct {
	Path    string
	IsMain  bool
	IsStale bool
}

// WorkingTreeStatus reports the state of a worktree's index and
// working copy.
type WorkingTreeStatus struct {
	CurrentBranch string
	Detached      bool
	IsRebasing    bool

	Staged   []string
	Modified []string
	Created  []string
	Deleted  []string
	Renamed  []string
	NotAdded []string

	// Conflicted lists paths with unresolved merge conflicts.
	Conflicted []string

	AllChangedFiles []string
}

// Dirty reports whether the working tree has any changes at all,
// staged or not, excluding conflicts (tracked separately).
func (s WorkingTreeStatus) Dirty() bool {
	return len(s.Staged) > 0 || len(s.Modified) > 0 || len(s.Created) > 0 ||
		len(s.Deleted) > 0 || len(s.Renamed) > 0 || len(s.NotAdded) > 0
}

// LogOptions restricts a [GitAdapter.Log] call.
type LogOptions struct {
	// Depth limits the number of commits walked.
	// Zero means unlimited.
	Depth int

	// MaxCommits caps the number of commits returned.
	// Zero means unlimited.
	MaxCommits int
}

// ListBranchesOptions controls [GitAdapter.ListBranches].
type ListBranchesOptions struct {
	// Remote, when "all", includes remote-tracking branches
	// prefixed with their remote name (e.g. "origin/main").
	Remote string
}

// CheckoutOptions controls [GitAdapter.Checkout].
type CheckoutOptions struct {
	// Detach checks out ref without attaching to a branch.
	Detach bool
}

// BranchOptions controls [GitAdapter.Branch].
type BranchOptions struct {
	// Checkout switches to the new branch after creating it.
	Checkout bool
}

// CommitRequest describes a commit to record.
type CommitRequest struct {
	Message   string
	Author    string
	Committer string
	Amend     bool
}

// RebaseRequest describes a rebase of one branch onto a new base.
type RebaseRequest struct {
	// Onto is the new base commit.
	Onto string

	// From is the exclusive start of the commit range to replay
	// (the branch's current base).
	From string

	// To is the branch being rebased.
	To string
}

// RebaseResult is the outcome of a rebase attempt.
type RebaseResult struct {
	Success bool

	// Conflicts lists paths with conflicts, set when !Success
	// and the failure is a conflict rather than a hard error.
	Conflicts []string

	// CurrentCommit is the commit being applied when the rebase
	// stopped, if known.
	CurrentCommit Hash

	// Error holds a non-conflict failure.
	Error error
}

// PushRequest describes a push operation.
type PushRequest struct {
	Remote        string
	Ref           string
	SetUpstream   bool
	CredentialRef string
}

// ResetMode is the mode of a [GitAdapter.Reset] call.
type ResetMode int

// Reset modes, mirroring `git reset --<mode>`.
const (
	ResetSoft ResetMode = iota
	ResetMixed
	ResetHard
)

// ResetRequest describes a reset operation.
type ResetRequest struct {
	Mode ResetMode
	Ref  string
}

// GitAdapter is the capability surface the engine consumes from a Git
// backend. Implementations are free to shell out to the git CLI, use a
// Git library, or (in tests) be entirely in-memory.
//
// All methods operate against a single repository identified by
// repoPath; implementations decide how that path maps to an actual
// checkout or worktree.
type GitAdapter interface {
	ListBranches(ctx context.Context, repoPath string, opts ListBranchesOptions) ([]Branch, error)
	ListRemotes(ctx context.Context, repoPath string) ([]Remote, error)
	ListWorktrees(ctx context.Context, repoPath string) ([]Worktree, error)
	ResolveRef(ctx context.Context, repoPath, ref string) (Hash, error)
	ReadCommit(ctx context.Context, repoPath string, sha Hash) (Commit, error)
	Log(ctx context.Context, repoPath, ref string, opts LogOptions) ([]Commit, error)
	GetWorkingTreeStatus(ctx context.Context, repoPath string) (WorkingTreeStatus, error)

	Checkout(ctx context.Context, repoPath, ref string, opts CheckoutOptions) error
	Branch(ctx context.Context, repoPath, name string, opts BranchOptions) error
	Commit(ctx context.Context, repoPath string, req CommitRequest) (Hash, error)

	Rebase(ctx context.Context, repoPath string, req RebaseRequest) (RebaseResult, error)
	RebaseContinue(ctx context.Context, repoPath string) (RebaseResult, error)
	RebaseSkip(ctx context.Context, repoPath string) (RebaseResult, error)
	RebaseAbort(ctx context.Context, repoPath string) error

	Push(ctx context.Context, repoPath string, req PushRequest) error
	Reset(ctx context.Context, repoPath string, req ResetRequest) error

	// AddWorktree creates a new worktree at path, checked out to ref
	// with a detached HEAD.
	AddWorktree(ctx context.Context, repoPath, path, ref string) error

	// RemoveWorktree removes a worktree previously created with
	// AddWorktree. force removes it even if it has local changes.
	RemoveWorktree(ctx context.Context, repoPath, path string, force bool) error

	// GitDir reports the absolute path to repoPath's Git directory
	// (e.g. ".../.git"), used to anchor the lock file, recovery
	// token, and temp-worktree directory.
	GitDir(ctx context.Context, repoPath string) (string, error)
}
