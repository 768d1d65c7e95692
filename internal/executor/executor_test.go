package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.abhg.dev/teapot/internal/clock"
	"go.abhg.dev/teapot/internal/execctx"
	"go.abhg.dev/teapot/internal/git"
	"go.abhg.dev/teapot/internal/session"
)

// newTestExecutor wires a fakeGit, a file-backed session store, and a
// temp-worktree-disabled execution context service together, mirroring
// how internal/execctx's own tests avoid touching a real repository.
func newTestExecutor(t *testing.T) (*Executor, *fakeGit) {
	t.Helper()

	fg := newFakeGit(t.TempDir())
	clk := clock.Fixed(1000)
	store := session.NewStore(session.NewFileBackend(t.TempDir()), clk, nil)
	execSvc := execctx.NewService(fg, clk, nil, execctx.Options{DisableTempWorktree: true})

	return NewExecutor(fg, execSvc, store, clk, nil), fg
}

// fanOutRepo builds:
//
//	main:     A - B - E      (trunk)
//	stack-1:       \- C      (base B)
//	stack-2:           \- D  (base C)
//
// and returns the commit shas for use in assertions.
func fanOutRepo(fg *fakeGit) (a, b, c, d, e git.Hash) {
	a, b, c, d, e = "A", "B", "C", "D", "E"
	fg.addCommit(a, "")
	fg.addCommit(b, a)
	fg.addCommit(c, b)
	fg.addCommit(d, c)
	fg.addCommit(e, b) // trunk advances independently to E

	fg.setBranch("main", e, true)
	fg.setBranch("stack-1", c, false)
	fg.setBranch("stack-2", d, false)
	fg.status.CurrentBranch = "stack-2"
	return
}

func TestExecutor_FanOutCompletes(t *testing.T) {
	t.Parallel()

	ex, fg := newTestExecutor(t)
	_, _, c, _, e := fanOutRepo(fg)
	ctx := t.Context()

	intent, err := ex.Plan(ctx, "/repo", c, e)
	require.NoError(t, err)
	require.Len(t, intent.Targets, 1)
	require.Equal(t, "stack-1", intent.Targets[0].Node.Branch)
	require.Len(t, intent.Targets[0].Node.Children, 1)
	require.Equal(t, "stack-2", intent.Targets[0].Node.Children[0].Branch)

	res, err := ex.Execute(ctx, "/repo", intent)
	require.NoError(t, err)
	require.Equal(t, ResultCompleted, res.Status)
	assert.Equal(t, git.Hash("E"), res.FinalTrunkSha)

	newStack1 := fg.branches["stack-1"].HeadHash
	newStack2 := fg.branches["stack-2"].HeadHash
	assert.Equal(t, git.Hash("C~E"), newStack1)
	assert.Equal(t, git.Hash("D~"+newStack1.String()), newStack2)

	// The original branch is restored once the whole session completes.
	assert.Equal(t, "stack-2", fg.status.CurrentBranch)

	stored, ok, err := ex.sessions.Get(ctx, "/repo")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, session.PhaseCompleted, stored.Phase)
	require.Len(t, stored.State.Session.CommitMap, 2)
}

func TestExecutor_ConflictThenContinue(t *testing.T) {
	t.Parallel()

	ex, fg := newTestExecutor(t)
	_, _, c, _, e := fanOutRepo(fg)
	fg.conflictOnce["stack-1"] = true
	ctx := t.Context()

	intent, err := ex.Plan(ctx, "/repo", c, e)
	require.NoError(t, err)

	res, err := ex.Execute(ctx, "/repo", intent)
	require.NoError(t, err)
	require.Equal(t, ResultConflict, res.Status)
	assert.Equal(t, "stack-1", res.Branch)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, "CONFLICT.txt", res.Conflicts[0].Path)

	// Simulate the user resolving the conflict and staging it; the
	// working tree is no longer "dirty" in our fake, so Continue goes
	// straight to a successful replay.
	res, err = ex.Continue(ctx, "/repo")
	require.NoError(t, err)
	require.Equal(t, ResultCompleted, res.Status)

	newStack1 := fg.branches["stack-1"].HeadHash
	newStack2 := fg.branches["stack-2"].HeadHash
	assert.Equal(t, git.Hash("C~E"), newStack1)
	assert.Equal(t, git.Hash("D~"+newStack1.String()), newStack2)
}

func TestExecutor_Skip(t *testing.T) {
	t.Parallel()

	ex, fg := newTestExecutor(t)
	_, _, c, _, e := fanOutRepo(fg)
	fg.conflictOnce["stack-1"] = true
	ctx := t.Context()

	intent, err := ex.Plan(ctx, "/repo", c, e)
	require.NoError(t, err)

	res, err := ex.Execute(ctx, "/repo", intent)
	require.NoError(t, err)
	require.Equal(t, ResultConflict, res.Status)

	res, err = ex.Skip(ctx, "/repo")
	require.NoError(t, err)
	require.Equal(t, ResultCompleted, res.Status)
}

func TestExecutor_Abort(t *testing.T) {
	t.Parallel()

	ex, fg := newTestExecutor(t)
	_, _, c, _, e := fanOutRepo(fg)
	fg.conflictOnce["stack-1"] = true
	ctx := t.Context()

	// Aborting with no session at all is an idempotent no-op.
	res, err := ex.Abort(ctx, "/repo")
	require.NoError(t, err)
	assert.Equal(t, ResultAborted, res.Status)
	assert.Empty(t, res.SessionID)

	intent, err := ex.Plan(ctx, "/repo", c, e)
	require.NoError(t, err)

	res, err = ex.Execute(ctx, "/repo", intent)
	require.NoError(t, err)
	require.Equal(t, ResultConflict, res.Status)

	res, err = ex.Abort(ctx, "/repo")
	require.NoError(t, err)
	assert.Equal(t, ResultAborted, res.Status)
	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, "stack-2", fg.status.CurrentBranch)

	// The aborted session is terminal: calling Execute again starts a
	// fresh one rather than resuming the old.
	fg.conflictOnce = map[string]bool{}
	res, err = ex.Execute(ctx, "/repo", intent)
	require.NoError(t, err)
	assert.Equal(t, ResultCompleted, res.Status)
}

func TestExecutor_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		setup   func(fg *fakeGit)
		wantErr ValidationCode
	}{
		{
			name: "dirty working tree",
			setup: func(fg *fakeGit) {
				fg.status.Modified = []string{"dirty.txt"}
			},
			wantErr: CodeDirtyWorkingTree,
		},
		{
			name: "rebase in progress",
			setup: func(fg *fakeGit) {
				fg.status.IsRebasing = true
			},
			wantErr: CodeRebaseInProgress,
		},
		{
			name: "detached head",
			setup: func(fg *fakeGit) {
				fg.status.Detached = true
			},
			wantErr: CodeDetachedHead,
		},
		{
			name: "branch moved",
			setup: func(fg *fakeGit) {
				fg.addCommit("C2", "B")
				fg.setBranch("stack-1", "C2", false)
			},
			wantErr: CodeBranchMoved,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ex, fg := newTestExecutor(t)
			_, _, c, _, e := fanOutRepo(fg)
			ctx := t.Context()

			intent, err := ex.Plan(ctx, "/repo", c, e)
			require.NoError(t, err)

			if tt.setup != nil {
				tt.setup(fg)
			}

			_, err = ex.Execute(ctx, "/repo", intent)
			require.Error(t, err)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantErr, verr.Code)
		})
	}
}

func TestExecutor_Validate_SameBase(t *testing.T) {
	t.Parallel()

	ex, fg := newTestExecutor(t)
	_, _, c, d, _ := fanOutRepo(fg)
	ctx := t.Context()

	intent, err := ex.Plan(ctx, "/repo", d, c)
	require.NoError(t, err)

	// Rebasing stack-2 onto its own current fork point is a no-op the
	// validator should reject outright.
	_, err = ex.Execute(ctx, "/repo", intent)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, CodeSameBase, verr.Code)
}

func TestExecutor_Continue_NoSession(t *testing.T) {
	t.Parallel()

	ex, _ := newTestExecutor(t)
	_, err := ex.Continue(t.Context(), "/repo")
	require.ErrorIs(t, err, ErrNoSession)
}

func TestExecutor_GiveUp(t *testing.T) {
	t.Parallel()

	ex, fg := newTestExecutor(t)
	_, _, c, _, e := fanOutRepo(fg)
	fg.conflictOnce["stack-1"] = true
	ctx := t.Context()

	var closed []string
	ex.WithRipple(ripplePRCloserFunc(func(_ context.Context, branch string) error {
		closed = append(closed, branch)
		return nil
	}))

	intent, err := ex.Plan(ctx, "/repo", c, e)
	require.NoError(t, err)

	res, err := ex.Execute(ctx, "/repo", intent)
	require.NoError(t, err)
	require.Equal(t, ResultConflict, res.Status)

	res, err = ex.GiveUp(ctx, "/repo")
	require.NoError(t, err)
	require.Equal(t, ResultCompleted, res.Status)
	assert.Equal(t, []string{"stack-1"}, closed)

	stored, ok, err := ex.sessions.Get(ctx, "/repo")
	require.NoError(t, err)
	require.True(t, ok)

	var failedJob string
	for id, job := range stored.State.Jobs {
		if job.Branch == "stack-1" {
			failedJob = id
			assert.Equal(t, "failed", string(job.Status))
		}
	}
	require.NotEmpty(t, failedJob)

	// stack-2 was never enqueued as a descendant since stack-1 never
	// produced a new head.
	for _, job := range stored.State.Jobs {
		assert.NotEqual(t, "stack-2", job.Branch)
	}
}

type ripplePRCloserFunc func(ctx context.Context, branch string) error

func (f ripplePRCloserFunc) ClosePRForBranch(ctx context.Context, branch string) error {
	return f(ctx, branch)
}

