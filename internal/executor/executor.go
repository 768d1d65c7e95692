// Package executor drives a rebase session to completion by calling
// Git through the [go.abhg.dev/teapot/internal/git.GitAdapter], updating the
// session store, and surfacing conflicts to the caller. It is the
// only package that combines [go.abhg.dev/teapot/internal/rebasemachine]'s pure
// state transitions with actual I/O.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.abhg.dev/teapot/internal/clock"
	"go.abhg.dev/teapot/internal/execctx"
	"go.abhg.dev/teapot/internal/git"
	"go.abhg.dev/teapot/internal/random"
	"go.abhg.dev/teapot/internal/rebasemachine"
	"go.abhg.dev/teapot/internal/ripple"
	"go.abhg.dev/teapot/internal/session"
	"go.abhg.dev/teapot/internal/silog"
	"go.abhg.dev/teapot/internal/stackgraph"
)

// ResultStatus classifies the outcome of a call into the executor.
type ResultStatus string

// Result statuses.
const (
	// ResultCompleted means every job in the session finished and the
	// original branch was restored.
	ResultCompleted ResultStatus = "completed"

	// ResultConflict means a job stopped on unresolved conflicts; the
	// session is parked awaiting-user. The execution context is
	// released; Continue or Skip re-acquire it and find the rebase
	// still in progress where this call left it.
	ResultConflict ResultStatus = "conflict"

	// ResultAborted means the session was torn down by Abort.
	ResultAborted ResultStatus = "aborted"
)

// Result is returned by every entry point below.
type Result struct {
	Status    ResultStatus
	RepoPath  string
	SessionID string

	// JobID and Branch identify the job awaiting the user's attention
	// when Status == ResultConflict.
	JobID     string
	Branch    string
	Conflicts []rebasemachine.Conflict

	// FinalTrunkSha is set when Status == ResultCompleted.
	FinalTrunkSha git.Hash
}

// Executor drives rebase sessions for a single process. The zero
// value is not usable; use [NewExecutor].
type Executor struct {
	git      git.GitAdapter
	exec     *execctx.Service
	sessions *session.Store
	clock    clock.Clock
	log      *silog.Logger
	genJobID func() string
	builder  *stackgraph.Builder
	ripple   *ripple.Hook
}

// NewExecutor returns an Executor driving ga through exec for
// worktree acquisition and sessions for persistence. If clk or log is
// nil, [clock.Real] and [silog.Nop] are used respectively.
func NewExecutor(ga git.GitAdapter, exec *execctx.Service, sessions *session.Store, clk clock.Clock, log *silog.Logger) *Executor {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = silog.Nop()
	}
	return &Executor{
		git:      ga,
		exec:     exec,
		sessions: sessions,
		clock:    clk,
		log:      log,
		genJobID: func() string { return "job-" + random.Hex(16) },
		builder:  stackgraph.NewBuilder(clk, func() string { return "intent-" + random.Hex(16) }),
		ripple:   ripple.NewHook(nil, log.Warnf),
	}
}

// WithRipple wires a forge's PR-closing capability into the executor,
// so abandoning a job (see [Executor.GiveUp]) also closes that
// branch's pull request as a ripple effect. Returns e for chaining.
func (e *Executor) WithRipple(closer ripple.PRCloser) *Executor {
	e.ripple = ripple.NewHook(closer, e.log.Warnf)
	return e
}

// Plan computes the rebase intent for rewriting the branch at headSha
// onto targetBaseSha, including every branch transitively affected.
// Callers pass the result to Execute.
func (e *Executor) Plan(ctx context.Context, repoPath string, headSha, targetBaseSha git.Hash) (*stackgraph.RebaseIntent, error) {
	repoPath = session.NormalizePath(repoPath)

	branches, err := e.git.ListBranches(ctx, repoPath, git.ListBranchesOptions{})
	if err != nil {
		return nil, err
	}
	snap, err := loadSnapshot(ctx, e.git, repoPath, branches)
	if err != nil {
		return nil, err
	}

	intent, ok := e.builder.BuildRebaseIntent(snap, headSha, targetBaseSha)
	if !ok {
		return nil, validationErrorf(CodeInvalidIntent, "could not build a rebase intent for head %s onto %s", headSha, targetBaseSha)
	}
	return intent, nil
}

// Execute starts (or resumes) a rebase session for repoPath.
//
// If a non-terminal session already exists, it validates the working
// tree is clean and not mid-rebase, then resumes it; intent is
// ignored in that case. Otherwise it runs the full validation set
// against intent, creates a new session, and drives the job loop.
func (e *Executor) Execute(ctx context.Context, repoPath string, intent *stackgraph.RebaseIntent) (*Result, error) {
	repoPath = session.NormalizePath(repoPath)

	stored, ok, err := e.sessions.Get(ctx, repoPath)
	if err != nil {
		return nil, err
	}
	if ok && stored.Phase != session.PhaseCompleted {
		return e.resumeExisting(ctx, repoPath, stored)
	}
	if ok {
		// A terminal session is left behind for inspection until the
		// next Execute call claims the slot.
		if err := e.sessions.Clear(ctx, repoPath); err != nil {
			return nil, err
		}
	}

	verr, err := e.validate(ctx, repoPath, intent)
	if err != nil {
		return nil, err
	}
	if verr != nil {
		return nil, verr
	}

	status, err := e.git.GetWorkingTreeStatus(ctx, repoPath)
	if err != nil {
		return nil, err
	}

	nodes := make([]*stackgraph.StackNode, len(intent.Targets))
	for i, t := range intent.Targets {
		nodes[i] = t.Node
	}

	trunk, hasTrunk, err := e.findTrunk(ctx, repoPath)
	if err != nil {
		return nil, err
	}
	var trunkHead git.Hash
	if hasTrunk {
		trunkHead = trunk.HeadHash
	}

	now := e.clock.Now()
	state, err := rebasemachine.CreateSession(intent.ID, trunkHead, nodes, now, e.genJobID)
	if err != nil {
		switch {
		case errors.Is(err, rebasemachine.ErrEmptyTargets):
			return nil, validationErrorf(CodeInvalidIntent, "%v", err)
		case errors.Is(err, rebasemachine.ErrNoTrunk):
			return nil, validationErrorf(CodeTargetNotFound, "%v", err)
		default:
			return nil, err
		}
	}

	created, err := e.sessions.Create(ctx, repoPath, session.StoredRebaseSession{
		Intent:         intent,
		State:          state,
		OriginalBranch: status.CurrentBranch,
	})
	if err != nil {
		if errors.Is(err, session.ErrAlreadyExists) {
			return nil, validationErrorf(CodeSessionExists, "a rebase session already exists for %s", repoPath)
		}
		return nil, err
	}

	return e.drive(ctx, repoPath, created)
}

// validate runs the full precondition set an Execute call against a
// fresh session must satisfy.
func (e *Executor) validate(ctx context.Context, repoPath string, intent *stackgraph.RebaseIntent) (*ValidationError, error) {
	status, err := e.git.GetWorkingTreeStatus(ctx, repoPath)
	if err != nil {
		return nil, err
	}
	if status.Dirty() {
		return validationErrorf(CodeDirtyWorkingTree, "working tree has uncommitted changes in %s", repoPath), nil
	}
	if status.IsRebasing {
		return validationErrorf(CodeRebaseInProgress, "a rebase is already in progress in %s", repoPath), nil
	}
	if status.Detached {
		return validationErrorf(CodeDetachedHead, "%s is in detached HEAD state", repoPath), nil
	}
	if intent == nil || len(intent.Targets) == 0 {
		return validationErrorf(CodeInvalidIntent, "rebase intent has no targets"), nil
	}

	branches, err := e.git.ListBranches(ctx, repoPath, git.ListBranchesOptions{})
	if err != nil {
		return nil, err
	}
	byRef := make(map[string]git.Branch, len(branches))
	for _, b := range branches {
		if !b.IsRemote {
			byRef[b.Ref] = b
		}
	}

	for _, t := range intent.Targets {
		if t.Node == nil {
			return validationErrorf(CodeInvalidIntent, "rebase target has no node"), nil
		}
		live, ok := byRef[t.Node.Branch]
		if !ok {
			return validationErrorf(CodeBranchNotFound, "branch %q not found", t.Node.Branch), nil
		}
		if live.HeadHash != t.Node.HeadSha {
			return validationErrorf(CodeBranchMoved, "branch %q moved: plan expected %s, found %s", t.Node.Branch, t.Node.HeadSha, live.HeadHash), nil
		}
		if _, err := e.git.ReadCommit(ctx, repoPath, t.Node.BaseSha); err != nil {
			return validationErrorf(CodeTargetNotFound, "target base %s not found: %v", t.Node.BaseSha, err), nil
		}
		if t.Node.BaseSha == t.Node.OriginalBaseSha {
			return validationErrorf(CodeSameBase, "branch %q is already based on %s", t.Node.Branch, t.Node.BaseSha), nil
		}
	}

	return nil, nil
}

// resumeExisting reconciles a stored session with the live working
// tree before rejoining the job loop, per the entry contract's
// "validate clean and not-rebasing, then resume" rule.
func (e *Executor) resumeExisting(ctx context.Context, repoPath string, stored session.StoredRebaseSession) (*Result, error) {
	status, err := e.git.GetWorkingTreeStatus(ctx, repoPath)
	if err != nil {
		return nil, err
	}
	if status.Dirty() {
		return nil, validationErrorf(CodeDirtyWorkingTree, "working tree has uncommitted changes in %s", repoPath)
	}
	if status.IsRebasing {
		return nil, validationErrorf(CodeRebaseInProgress, "a rebase is already in progress in %s", repoPath)
	}

	now := e.clock.Now()
	reconciled := rebasemachine.ResumeRebaseSession(stored.State, status, now)
	updated, err := e.sessions.Update(ctx, repoPath, stored.Version, session.Patch{State: &reconciled})
	if err != nil {
		return nil, err
	}

	if reconciled.Session.Status == rebasemachine.SessionAwaitingUser {
		jobID := reconciled.Queue.ActiveJobID
		job := reconciled.Jobs[jobID]
		return &Result{
			Status:    ResultConflict,
			RepoPath:  repoPath,
			SessionID: reconciled.Session.ID,
			JobID:     jobID,
			Branch:    job.Branch,
			Conflicts: job.Conflicts,
		}, nil
	}

	return e.drive(ctx, repoPath, updated)
}

// drive acquires the session-scoped execution context and runs the
// job loop to completion or the next conflict.
func (e *Executor) drive(ctx context.Context, repoPath string, stored session.StoredRebaseSession) (*Result, error) {
	intent, err := reconstituteIntent(stored.Intent)
	if err != nil {
		return nil, fmt.Errorf("executor: reconstitute intent for %s: %w", repoPath, err)
	}

	ec, err := e.exec.Acquire(ctx, repoPath, "rebase")
	if err != nil {
		return nil, err
	}

	return e.runLoop(ctx, repoPath, ec, flattenNodes(intent))
}

// runLoop pops jobs one at a time until none remain (finalize) or one
// reports a conflict.
func (e *Executor) runLoop(ctx context.Context, repoPath string, ec *execctx.ExecutionContext, nodesByBranch map[string]*stackgraph.StackNode) (*Result, error) {
	for {
		stored, ok, err := e.sessions.Get(ctx, repoPath)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoSession, repoPath)
		}

		now := e.clock.Now()
		next, job := rebasemachine.NextJob(stored.State, now)
		if job == nil {
			if next.Queue.ActiveJobID == "" && len(next.Queue.PendingJobIDs) == 0 {
				return e.finalize(ctx, repoPath, stored, ec)
			}
			return nil, fmt.Errorf("executor: job loop stalled for %s with active job %q", repoPath, next.Queue.ActiveJobID)
		}

		if _, err := e.sessions.Update(ctx, repoPath, stored.Version, session.Patch{State: &next}); err != nil {
			return nil, err
		}

		if err := e.git.Checkout(ctx, ec.ExecutionPath, job.Branch, git.CheckoutOptions{}); err != nil {
			return nil, err
		}

		result, err := e.git.Rebase(ctx, ec.ExecutionPath, git.RebaseRequest{
			Onto: job.TargetBaseSha.String(),
			From: job.OriginalBaseSha.String(),
			To:   job.Branch,
		})
		if err != nil {
			return nil, err
		}

		res, done, err := e.handleRebaseOutcome(ctx, repoPath, ec, job, result, nodesByBranch)
		if err != nil || done {
			return res, err
		}
	}
}

// handleRebaseOutcome applies the result of one rebase/continue/skip
// call to the session: recording a conflict, a hard failure, or a
// completion (with commit-rewrite pairing and descendant enqueueing).
// done is true when the caller should stop looping and return res
// (possibly with a non-nil error).
func (e *Executor) handleRebaseOutcome(ctx context.Context, repoPath string, ec *execctx.ExecutionContext, job *rebasemachine.RebaseJob, result git.RebaseResult, nodesByBranch map[string]*stackgraph.StackNode) (*Result, bool, error) {
	stored, ok, err := e.sessions.Get(ctx, repoPath)
	if err != nil {
		return nil, true, err
	}
	if !ok {
		return nil, true, fmt.Errorf("%w: %s", ErrNoSession, repoPath)
	}
	now := e.clock.Now()

	if !result.Success {
		if len(result.Conflicts) > 0 {
			conflicted, err := rebasemachine.RecordConflict(stored.State, job.ID, git.WorkingTreeStatus{Conflicted: result.Conflicts}, now, nil)
			if err != nil {
				return nil, true, err
			}
			if _, err := e.sessions.Update(ctx, repoPath, stored.Version, session.Patch{State: &conflicted}); err != nil {
				return nil, true, err
			}
			// This call's acquisition ends here: the next Continue or
			// Skip re-acquires, finding the rebase still in progress
			// at ec.ExecutionPath.
			if err := e.exec.Release(ctx, *ec); err != nil {
				e.log.Warnf("conflict: release execution context for %s: %v", repoPath, err)
			}
			return &Result{
				Status:    ResultConflict,
				RepoPath:  repoPath,
				SessionID: conflicted.Session.ID,
				JobID:     job.ID,
				Branch:    job.Branch,
				Conflicts: conflicted.Jobs[job.ID].Conflicts,
			}, true, nil
		}
		if err := e.exec.Release(ctx, *ec); err != nil {
			e.log.Warnf("rebase failure: release execution context for %s: %v", repoPath, err)
		}
		return nil, true, fmt.Errorf("executor: rebase failed for branch %q: %w", job.Branch, result.Error)
	}

	newHead, err := e.git.ResolveRef(ctx, ec.ExecutionPath, job.Branch)
	if err != nil {
		return nil, true, err
	}

	oldShas, err := commitRange(ctx, e.git, ec.ExecutionPath, job.OriginalBaseSha, job.OriginalHeadSha)
	if err != nil {
		return nil, true, err
	}
	newShas, err := commitRange(ctx, e.git, ec.ExecutionPath, job.TargetBaseSha, newHead)
	if err != nil {
		return nil, true, err
	}
	rewrites := pairRewrites(job.Branch, oldShas, newShas)

	completed, _, err := rebasemachine.CompleteJob(stored.State, job.ID, newHead, now, rewrites)
	if err != nil {
		return nil, true, err
	}
	if node, ok := nodesByBranch[job.Branch]; ok {
		completed = rebasemachine.EnqueueDescendants(completed, node, newHead, now, e.genJobID)
	}

	if _, err := e.sessions.Update(ctx, repoPath, stored.Version, session.Patch{State: &completed}); err != nil {
		return nil, true, err
	}

	return nil, false, nil
}

// finalize checks the original branch back out, marks the session
// completed, and releases the execution context.
func (e *Executor) finalize(ctx context.Context, repoPath string, stored session.StoredRebaseSession, ec *execctx.ExecutionContext) (*Result, error) {
	now := e.clock.Now()

	finalTrunk := stored.State.Session.InitialTrunkSha
	if trunk, ok, err := e.findTrunk(ctx, repoPath); err == nil && ok {
		finalTrunk = trunk.HeadHash
	}

	completed := rebasemachine.CompleteSession(stored.State, finalTrunk, now)
	phase := session.PhaseCompleted
	if _, err := e.sessions.Update(ctx, repoPath, stored.Version, session.Patch{State: &completed, Phase: &phase}); err != nil {
		return nil, err
	}

	if stored.OriginalBranch != "" {
		if err := e.git.Checkout(ctx, repoPath, stored.OriginalBranch, git.CheckoutOptions{}); err != nil {
			e.log.Warnf("finalize: could not restore original branch %q for %s: %v", stored.OriginalBranch, repoPath, err)
		}
	}

	if ec != nil {
		ec.RequiresCleanup = ec.IsTemporary
		if err := e.exec.Release(ctx, *ec); err != nil {
			e.log.Warnf("finalize: release execution context for %s: %v", repoPath, err)
		}
	}

	return &Result{
		Status:        ResultCompleted,
		RepoPath:      repoPath,
		SessionID:     completed.Session.ID,
		FinalTrunkSha: finalTrunk,
	}, nil
}

func (e *Executor) findTrunk(ctx context.Context, repoPath string) (git.Branch, bool, error) {
	branches, err := e.git.ListBranches(ctx, repoPath, git.ListBranchesOptions{})
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

// Continue resumes an awaiting-user session: the caller is expected
// to have already resolved conflicts and staged the result.
func (e *Executor) Continue(ctx context.Context, repoPath string) (*Result, error) {
	repoPath = session.NormalizePath(repoPath)

	stored, ok, err := e.sessions.Get(ctx, repoPath)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, repoPath)
	}

	jobID := stored.State.Queue.ActiveJobID
	if jobID == "" {
		return nil, fmt.Errorf("executor: %s has no active job to continue", repoPath)
	}
	job := stored.State.Jobs[jobID]

	status, err := e.git.GetWorkingTreeStatus(ctx, repoPath)
	if err != nil {
		return nil, err
	}
	if !status.IsRebasing {
		return nil, fmt.Errorf("executor: continue called for %s but no rebase is in progress", repoPath)
	}

	intent, err := reconstituteIntent(stored.Intent)
	if err != nil {
		return nil, fmt.Errorf("executor: reconstitute intent for %s: %w", repoPath, err)
	}
	nodesByBranch := flattenNodes(intent)

	ec, err := e.exec.Acquire(ctx, repoPath, "rebase-continue")
	if err != nil {
		return nil, err
	}

	result, err := e.git.RebaseContinue(ctx, ec.ExecutionPath)
	if err != nil {
		return nil, err
	}

	res, done, err := e.handleRebaseOutcome(ctx, repoPath, ec, &job, result, nodesByBranch)
	if err != nil || done {
		return res, err
	}
	return e.runLoop(ctx, repoPath, ec, nodesByBranch)
}

// Skip forwards a skip of the active job's current commit to the
// adapter, then resumes the job loop.
func (e *Executor) Skip(ctx context.Context, repoPath string) (*Result, error) {
	repoPath = session.NormalizePath(repoPath)

	stored, ok, err := e.sessions.Get(ctx, repoPath)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, repoPath)
	}

	jobID := stored.State.Queue.ActiveJobID
	if jobID == "" {
		return nil, fmt.Errorf("executor: %s has no active job to skip", repoPath)
	}
	job := stored.State.Jobs[jobID]

	intent, err := reconstituteIntent(stored.Intent)
	if err != nil {
		return nil, fmt.Errorf("executor: reconstitute intent for %s: %w", repoPath, err)
	}
	nodesByBranch := flattenNodes(intent)

	ec, err := e.exec.Acquire(ctx, repoPath, "rebase-skip")
	if err != nil {
		return nil, err
	}

	result, err := e.git.RebaseSkip(ctx, ec.ExecutionPath)
	if err != nil {
		return nil, err
	}

	res, done, err := e.handleRebaseOutcome(ctx, repoPath, ec, &job, result, nodesByBranch)
	if err != nil || done {
		return res, err
	}
	return e.runLoop(ctx, repoPath, ec, nodesByBranch)
}

// GiveUp marks repoPath's active job permanently failed rather than
// retrying another skip, per the job-status diagram's
// "awaiting-user -> failed on skip-after-exhaustion" transition. It
// asks the adapter to abort the in-progress rebase for that branch
// (leaving it at its pre-rebase head), fires the ripple hook to close
// the abandoned branch's pull request, and resumes the job loop for
// any sibling targets still pending. Unlike Skip, the job is never
// retried and no descendants are enqueued for it, since it never
// reached a new head.
func (e *Executor) GiveUp(ctx context.Context, repoPath string) (*Result, error) {
	repoPath = session.NormalizePath(repoPath)

	stored, ok, err := e.sessions.Get(ctx, repoPath)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, repoPath)
	}

	jobID := stored.State.Queue.ActiveJobID
	if jobID == "" {
		return nil, fmt.Errorf("executor: %s has no active job to give up on", repoPath)
	}
	branch := stored.State.Jobs[jobID].Branch

	intent, err := reconstituteIntent(stored.Intent)
	if err != nil {
		return nil, fmt.Errorf("executor: reconstitute intent for %s: %w", repoPath, err)
	}
	nodesByBranch := flattenNodes(intent)

	ec, err := e.exec.Acquire(ctx, repoPath, "rebase-giveup")
	if err != nil {
		return nil, err
	}
	if st, err := e.git.GetWorkingTreeStatus(ctx, ec.ExecutionPath); err == nil && st.IsRebasing {
		if err := e.git.RebaseAbort(ctx, ec.ExecutionPath); err != nil {
			e.log.Warnf("giveup: rebase-abort failed for %s: %v", repoPath, err)
		}
	}

	now := e.clock.Now()
	failed, err := rebasemachine.FailJob(stored.State, jobID, now)
	if err != nil {
		return nil, err
	}
	if _, err := e.sessions.Update(ctx, repoPath, stored.Version, session.Patch{State: &failed}); err != nil {
		return nil, err
	}

	e.ripple.BranchAbandoned(ctx, branch)

	return e.runLoop(ctx, repoPath, ec, nodesByBranch)
}

// Abort tears down repoPath's session: it asks the adapter to abort
// any in-progress rebase, releases the execution context (forcing
// cleanup of a temp worktree if one was in use), restores the
// original branch, and marks the session aborted. It is idempotent:
// calling it with no stored session is a no-op success.
func (e *Executor) Abort(ctx context.Context, repoPath string) (*Result, error) {
	repoPath = session.NormalizePath(repoPath)

	stored, ok, err := e.sessions.Get(ctx, repoPath)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Result{Status: ResultAborted, RepoPath: repoPath}, nil
	}

	now := e.clock.Now()

	if ec, acqErr := e.exec.Acquire(ctx, repoPath, "rebase-abort"); acqErr == nil {
		if st, err := e.git.GetWorkingTreeStatus(ctx, ec.ExecutionPath); err == nil && st.IsRebasing {
			if err := e.git.RebaseAbort(ctx, ec.ExecutionPath); err != nil {
				e.log.Warnf("abort: rebase-abort failed for %s: %v", repoPath, err)
			}
		}
		ec.RequiresCleanup = ec.IsTemporary
		if err := e.exec.Release(ctx, *ec); err != nil {
			e.log.Warnf("abort: release execution context for %s: %v", repoPath, err)
		}
	} else {
		e.log.Warnf("abort: could not acquire execution context for %s: %v", repoPath, acqErr)
	}

	aborted := rebasemachine.AbortSession(stored.State, now)
	phase := session.PhaseCompleted
	if _, err := e.sessions.Update(ctx, repoPath, stored.Version, session.Patch{State: &aborted, Phase: &phase}); err != nil {
		return nil, err
	}

	if stored.OriginalBranch != "" {
		if err := e.git.Checkout(ctx, repoPath, stored.OriginalBranch, git.CheckoutOptions{}); err != nil {
			e.log.Warnf("abort: could not restore original branch %q for %s: %v", stored.OriginalBranch, repoPath, err)
		}
	}

	return &Result{Status: ResultAborted, RepoPath: repoPath, SessionID: aborted.Session.ID}, nil
}

// reconstituteIntent recovers a *stackgraph.RebaseIntent from a
// session's opaque Intent field. Intent retains its concrete type
// when served from the in-memory tier; after a restart it has been
// degraded to generic maps by the JSON round-trip through the disk
// backend, so it is marshaled back out and unmarshaled into the
// concrete type.
func reconstituteIntent(raw any) (*stackgraph.RebaseIntent, error) {
	if intent, ok := raw.(*stackgraph.RebaseIntent); ok {
		return intent, nil
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var intent stackgraph.RebaseIntent
	if err := json.Unmarshal(data, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// flattenNodes indexes every node in intent's trees by branch name,
// so a completed job can look up its stackgraph node by job.Branch
// without the session needing to persist a separate job-to-node map.
func flattenNodes(intent *stackgraph.RebaseIntent) map[string]*stackgraph.StackNode {
	out := make(map[string]*stackgraph.StackNode)
	var walk func(n *stackgraph.StackNode)
	walk = func(n *stackgraph.StackNode) {
		if n == nil {
			return
		}
		out[n.Branch] = n
		for _, c := range n.Children {
			walk(c)
		}
	}
	for _, t := range intent.Targets {
		walk(t.Node)
	}
	return out
}
