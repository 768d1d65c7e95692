package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.abhg.dev/teapot/internal/silog"
	"go.abhg.dev/teapot/internal/xec"
)

// ErrNotExist indicates that a requested ref or object does not exist.
var ErrNotExist = errors.New("does not exist")

// ExecAdapter implements [GitAdapter] by shelling out to the git CLI,
// in the style of the teacher's internal/git command wrapper: every
// invocation goes through [xec.Command] so logging, stderr capture,
// and test-time command interception are centralized in one place.
type ExecAdapter struct {
	log *silog.Logger
}

var _ GitAdapter = (*ExecAdapter)(nil)

// NewExecAdapter returns an adapter that runs real git commands.
// If log is nil, command output is discarded.
func NewExecAdapter(log *silog.Logger) *ExecAdapter {
	if log == nil {
		log = silog.Nop()
	}
	return &ExecAdapter{log: log}
}

func (a *ExecAdapter) cmd(ctx context.Context, repoPath string, args ...string) *xec.Cmd {
	return xec.Command(ctx, a.log, "git", args...).WithDir(repoPath).WithLogPrefix("git")
}

func (a *ExecAdapter) GitDir(ctx context.Context, repoPath string) (string, error) {
	out, err := a.cmd(ctx, repoPath, "rev-parse", "--absolute-git-dir").OutputChomp()
	if err != nil {
		return "", fmt.Errorf("git rev-parse: %w", err)
	}
	return out, nil
}

func (a *ExecAdapter) ResolveRef(ctx context.Context, repoPath, ref string) (Hash, error) {
	out, err := a.cmd(ctx, repoPath, "rev-parse", "--verify", "--quiet", ref).OutputChomp()
	if err != nil {
		return "", nil //nolint:nilerr // unresolved ref reports an empty hash, not an error
	}
	return Hash(out), nil
}

func (a *ExecAdapter) ReadCommit(ctx context.Context, repoPath string, sha Hash) (Commit, error) {
	const sep = "\x1f"
	format := strings.Join([]string{"%H", "%P", "%an", "%ct", "%B"}, sep)
	out, err := a.cmd(ctx, repoPath, "show", "--no-patch", "--format="+format, sha.String()).OutputChomp()
	if err != nil {
		return Commit{}, fmt.Errorf("%w: %v", ErrNotExist, err)
	}
	return parseCommitLine(out, sep)
}

func parseCommitLine(line, sep string) (Commit, error) {
	parts := strings.SplitN(line, sep, 5)
	if len(parts) < 5 {
		return Commit{}, fmt.Errorf("unexpected git show output: %q", line)
	}

	var parent Hash
	if parents := strings.Fields(parts[1]); len(parents) > 0 {
		parent = Hash(parents[0])
	}

	timeMs, err := strconv.ParseInt(strings.TrimSpace(parts[3]), 10, 64)
	if err != nil {
		return Commit{}, fmt.Errorf("parse commit time: %w", err)
	}

	return Commit{
		Hash:       Hash(parts[0]),
		ParentHash: parent,
		Author:     parts[2],
		TimeMs:     timeMs * 1000,
		Message:    parts[4],
	}, nil
}

func (a *ExecAdapter) Log(ctx context.Context, repoPath, ref string, opts LogOptions) ([]Commit, error) {
	const sep = "\x1f"
	format := strings.Join([]string{"%H", "%P", "%an", "%ct", "%s"}, sep)
	args := []string{"log", "--format=" + format}
	if opts.MaxCommits > 0 {
		args = append(args, "-n", strconv.Itoa(opts.MaxCommits))
	}
	if opts.Depth > 0 {
		args = append(args, fmt.Sprintf("--max-count=%d", opts.Depth))
	}
	args = append(args, ref)

	var commits []Commit
	for line, err := range a.cmd(ctx, repoPath, args...).Lines() {
		if err != nil {
			return nil, fmt.Errorf("git log: %w", err)
		}
		if len(line) == 0 {
			continue
		}
		c, err := parseCommitLine(string(line), sep)
		if err != nil {
			return nil, err
		}
		commits = append(commits, c)
	}
	return commits, nil
}

func (a *ExecAdapter) ListBranches(ctx context.Context, repoPath string, opts ListBranchesOptions) ([]Branch, error) {
	trunkRef, err := a.cmd(ctx, repoPath, "branch", "--show-current").OutputChomp()
	if err != nil {
		trunkRef = ""
	}

	branches, err := a.listRefs(ctx, repoPath, "refs/heads/", trunkRef, false)
	if err != nil {
		return nil, err
	}

	if opts.Remote == "all" {
		remoteBranches, err := a.listRefs(ctx, repoPath, "refs/remotes/", trunkRef, true)
		if err != nil {
			return nil, err
		}
		branches = append(branches, remoteBranches...)
	}
	return branches, nil
}

func (a *ExecAdapter) listRefs(ctx context.Context, repoPath, pattern, trunkRef string, remote bool) ([]Branch, error) {
	var branches []Branch
	for line, err := range a.cmd(ctx, repoPath,
		"for-each-ref", "--format=%(refname:short)\x1f%(objectname)", pattern).Lines() {
		if err != nil {
			return nil, fmt.Errorf("git for-each-ref %s: %w", pattern, err)
		}
		name, hash, ok := bytes.Cut(line, []byte("\x1f"))
		if !ok {
			continue
		}
		ref := string(name)
		if remote && strings.HasSuffix(ref, "/HEAD") {
			continue // symbolic ref, not a real branch
		}
		branches = append(branches, Branch{
			Ref:      ref,
			HeadHash: Hash(hash),
			IsTrunk:  !remote && ref == trunkRef,
			IsRemote: remote,
		})
	}
	return branches, nil
}

func (a *ExecAdapter) ListRemotes(ctx context.Context, repoPath string) ([]Remote, error) {
	var remotes []Remote
	seen := make(map[string]struct{})
	for line, err := range a.cmd(ctx, repoPath, "remote", "-v").Lines() {
		if err != nil {
			return nil, fmt.Errorf("git remote: %w", err)
		}
		fields := strings.Fields(string(line))
		if len(fields) < 2 {
			continue
		}
		name, url := fields[0], fields[1]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		remotes = append(remotes, Remote{Name: name, URL: url})
	}
	return remotes, nil
}

func (a *ExecAdapter) ListWorktrees(ctx context.Context, repoPath string) ([]Worktree, error) {
	var (
		worktrees []Worktree
		cur       *Worktree
	)
	flush := func() {
		if cur != nil {
			worktrees = append(worktrees, *cur)
			cur = nil
		}
	}
	for line, err := range a.cmd(ctx, repoPath, "worktree", "list", "--porcelain").Lines() {
		if err != nil {
			return nil, fmt.Errorf("git worktree list: %w", err)
		}
		if len(line) == 0 {
			flush()
			continue
		}
		key, value, _ := bytes.Cut(line, []byte(" "))
		switch string(key) {
		case "worktree":
			flush()
			cur = &Worktree{Path: string(value)}
		case "bare":
			if cur != nil {
				cur.IsMain = true
			}
		case "locked", "prunable":
			if cur != nil {
				cur.IsStale = true
			}
		}
	}
	flush()
	if len(worktrees) > 0 {
		worktrees[0].IsMain = true
	}
	return worktrees, nil
}

func (a *ExecAdapter) GetWorkingTreeStatus(ctx context.Context, repoPath string) (WorkingTreeStatus, error) {
	var status WorkingTreeStatus

	branch, err := a.cmd(ctx, repoPath, "branch", "--show-current").OutputChomp()
	if err != nil {
		return status, fmt.Errorf("git branch --show-current: %w", err)
	}
	status.CurrentBranch = branch
	status.Detached = branch == ""

	gitDir, err := a.GitDir(ctx, repoPath)
	if err != nil {
		return status, err
	}
	status.IsRebasing = rebaseInProgress(gitDir)

	for line, err := range a.cmd(ctx, repoPath, "status", "--porcelain=v1", "-z").Scan(scanNullRecords) {
		if err != nil {
			return status, fmt.Errorf("git status: %w", err)
		}
		if len(line) < 3 {
			continue
		}
		x, y := line[0], line[1]
		path := string(line[3:])

		switch {
		case x == 'U' || y == 'U' || (x == 'A' && y == 'A') || (x == 'D' && y == 'D'):
			status.Conflicted = append(status.Conflicted, path)
		case x == 'A':
			status.Created = append(status.Created, path)
		case x == 'D' || y == 'D':
			status.Deleted = append(status.Deleted, path)
		case x == 'R':
			status.Renamed = append(status.Renamed, path)
		case x == '?':
			status.NotAdded = append(status.NotAdded, path)
		default:
			status.Modified = append(status.Modified, path)
		}

		if x != ' ' && x != '?' {
			status.Staged = append(status.Staged, path)
		}
		status.AllChangedFiles = append(status.AllChangedFiles, path)
	}

	return status, nil
}

func scanNullRecords(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, 0); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func (a *ExecAdapter) Checkout(ctx context.Context, repoPath, ref string, opts CheckoutOptions) error {
	args := []string{"checkout"}
	if opts.Detach {
		args = append(args, "--detach")
	}
	args = append(args, ref)
	if err := a.cmd(ctx, repoPath, args...).Run(); err != nil {
		return fmt.Errorf("git checkout %s: %w", ref, err)
	}
	return nil
}

func (a *ExecAdapter) Branch(ctx context.Context, repoPath, name string, opts BranchOptions) error {
	args := []string{"branch"}
	if opts.Checkout {
		args = []string{"checkout", "-b"}
	}
	args = append(args, name)
	if err := a.cmd(ctx, repoPath, args...).Run(); err != nil {
		return fmt.Errorf("git branch %s: %w", name, err)
	}
	return nil
}

func (a *ExecAdapter) Commit(ctx context.Context, repoPath string, req CommitRequest) (Hash, error) {
	args := []string{"commit", "--message", req.Message}
	if req.Amend {
		args = append(args, "--amend")
	}
	env := a.cmd(ctx, repoPath, args...)
	if req.Author != "" {
		env = env.AppendEnv("GIT_AUTHOR_NAME=" + req.Author)
	}
	if req.Committer != "" {
		env = env.AppendEnv("GIT_COMMITTER_NAME=" + req.Committer)
	}
	if err := env.Run(); err != nil {
		return "", fmt.Errorf("git commit: %w", err)
	}
	return a.ResolveRef(ctx, repoPath, "HEAD")
}

func (a *ExecAdapter) Rebase(ctx context.Context, repoPath string, req RebaseRequest) (RebaseResult, error) {
	args := []string{"-c", "advice.mergeConflict=false", "rebase", "--onto", req.Onto, req.From, req.To}
	return a.runRebase(ctx, repoPath, args)
}

func (a *ExecAdapter) RebaseContinue(ctx context.Context, repoPath string) (RebaseResult, error) {
	return a.runRebase(ctx, repoPath, []string{"-c", "advice.mergeConflict=false", "rebase", "--continue"})
}

func (a *ExecAdapter) RebaseSkip(ctx context.Context, repoPath string) (RebaseResult, error) {
	return a.runRebase(ctx, repoPath, []string{"-c", "advice.mergeConflict=false", "rebase", "--skip"})
}

func (a *ExecAdapter) RebaseAbort(ctx context.Context, repoPath string) error {
	if err := a.cmd(ctx, repoPath, "rebase", "--abort").Run(); err != nil {
		return fmt.Errorf("git rebase --abort: %w", err)
	}
	return nil
}

func (a *ExecAdapter) runRebase(ctx context.Context, repoPath string, args []string) (RebaseResult, error) {
	err := a.cmd(ctx, repoPath, args...).Run()
	if err == nil {
		head, herr := a.ResolveRef(ctx, repoPath, "HEAD")
		if herr != nil {
			return RebaseResult{}, herr
		}
		return RebaseResult{Success: true, CurrentCommit: head}, nil
	}

	status, serr := a.GetWorkingTreeStatus(ctx, repoPath)
	if serr == nil && len(status.Conflicted) > 0 {
		return RebaseResult{
			Success:       false,
			Conflicts:     status.Conflicted,
			CurrentCommit: Hash(""),
		}, nil
	}

	return RebaseResult{Success: false, Error: err}, nil
}

func (a *ExecAdapter) Push(ctx context.Context, repoPath string, req PushRequest) error {
	args := []string{"push"}
	if req.SetUpstream {
		args = append(args, "--set-upstream")
	}
	args = append(args, req.Remote, req.Ref)
	if err := a.cmd(ctx, repoPath, args...).Run(); err != nil {
		return fmt.Errorf("git push: %w", err)
	}
	return nil
}

func (a *ExecAdapter) Reset(ctx context.Context, repoPath string, req ResetRequest) error {
	var mode string
	switch req.Mode {
	case ResetSoft:
		mode = "--soft"
	case ResetHard:
		mode = "--hard"
	default:
		mode = "--mixed"
	}
	if err := a.cmd(ctx, repoPath, "reset", mode, req.Ref).Run(); err != nil {
		return fmt.Errorf("git reset: %w", err)
	}
	return nil
}

func (a *ExecAdapter) AddWorktree(ctx context.Context, repoPath, path, ref string) error {
	if err := a.cmd(ctx, repoPath, "worktree", "add", "--detach", path, ref).Run(); err != nil {
		return fmt.Errorf("git worktree add: %w", err)
	}
	return nil
}

func (a *ExecAdapter) RemoveWorktree(ctx context.Context, repoPath, path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	if err := a.cmd(ctx, repoPath, args...).Run(); err != nil {
		return fmt.Errorf("git worktree remove: %w", err)
	}
	return nil
}

// rebaseInProgress reports whether gitDir holds an in-progress rebase,
// per the presence of the rebase-merge or rebase-apply directories
// that `git rebase` itself uses to track its state.
func rebaseInProgress(gitDir string) bool {
	for _, name := range []string{"rebase-merge", "rebase-apply"} {
		if dirExists(gitDir + "/" + name) {
			return true
		}
	}
	return false
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
