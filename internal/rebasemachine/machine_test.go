package rebasemachine

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.abhg.dev/teapot/internal/git"
	"go.abhg.dev/teapot/internal/stackgraph"
)

func genID() func() string {
	n := 0
	return func() string {
		n++
		return "job-" + strconv.Itoa(n)
	}
}

func TestCreateSession(t *testing.T) {
	root := &stackgraph.StackNode{
		Branch:          "feature1",
		HeadSha:         "f2",
		OriginalBaseSha: "m1",
		BaseSha:         "m1",
		Children: []*stackgraph.StackNode{
			{Branch: "feature2", HeadSha: "f3", OriginalBaseSha: "f2", BaseSha: "f2"},
		},
	}

	state, err := CreateSession("sess-1", "m1", []*stackgraph.StackNode{root}, 100, genID())
	require.NoError(t, err)

	assert.Equal(t, SessionPending, state.Session.Status)
	assert.Equal(t, []string{"job-1"}, state.Session.Jobs)
	require.Len(t, state.Queue.PendingJobIDs, 1)

	job := state.Jobs["job-1"]
	assert.Equal(t, "feature1", job.Branch)
	assert.Equal(t, JobQueued, job.Status)
	assert.Equal(t, git.Hash("m1"), job.TargetBaseSha)
}

func TestCreateSession_Rejections(t *testing.T) {
	_, err := CreateSession("sess-1", "m1", nil, 100, genID())
	assert.ErrorIs(t, err, ErrEmptyTargets)

	root := &stackgraph.StackNode{Branch: "feature1", HeadSha: "f1"}
	_, err = CreateSession("sess-1", "", []*stackgraph.StackNode{root}, 100, genID())
	assert.ErrorIs(t, err, ErrNoTrunk)
}

func TestNextJob(t *testing.T) {
	root := &stackgraph.StackNode{Branch: "feature1", HeadSha: "f1", BaseSha: "m1"}
	state, err := CreateSession("sess-1", "m1", []*stackgraph.StackNode{root}, 100, genID())
	require.NoError(t, err)

	next, job := NextJob(state, 200)
	require.NotNil(t, job)
	assert.Equal(t, JobApplying, job.Status)
	assert.Equal(t, SessionRunning, next.Session.Status)
	assert.Equal(t, "job-1", next.Queue.ActiveJobID)
	assert.Empty(t, next.Queue.PendingJobIDs)

	// Original state is untouched.
	assert.Equal(t, SessionPending, state.Session.Status)
	assert.Equal(t, JobQueued, state.Jobs["job-1"].Status)

	// No job available while one is active.
	again, none := NextJob(next, 300)
	assert.Nil(t, none)
	assert.Equal(t, next, again)
}

func TestRecordConflictAndComplete(t *testing.T) {
	root := &stackgraph.StackNode{Branch: "feature1", HeadSha: "f1", BaseSha: "m1"}
	state, err := CreateSession("sess-1", "m1", []*stackgraph.StackNode{root}, 100, genID())
	require.NoError(t, err)
	state, _ = NextJob(state, 200)

	conflicted, err := RecordConflict(state, "job-1", git.WorkingTreeStatus{
		Conflicted: []string{"a.txt", "b.txt"},
	}, 300, map[string]StageShas{
		"a.txt": {Base: "base1", Ours: "ours1", Theirs: "theirs1"},
	})
	require.NoError(t, err)
	assert.Equal(t, SessionAwaitingUser, conflicted.Session.Status)
	job := conflicted.Jobs["job-1"]
	assert.Equal(t, JobAwaitingUser, job.Status)
	require.Len(t, job.Conflicts, 2)
	assert.Equal(t, "a.txt", job.Conflicts[0].Path)
	require.NotNil(t, job.Conflicts[0].Stage)
	assert.Equal(t, git.Hash("ours1"), job.Conflicts[0].Stage.Ours)
	assert.Nil(t, job.Conflicts[1].Stage)

	done, mutations, err := CompleteJob(state, "job-1", "f1-new", 400, []CommitRewrite{
		{Branch: "feature1", OldSha: "f1a", NewSha: "f1a-new"},
	})
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, done.Jobs["job-1"].Status)
	assert.Equal(t, git.Hash("f1-new"), done.Jobs["job-1"].RebasedHeadSha)
	assert.Empty(t, done.Queue.ActiveJobID)
	require.Len(t, done.Session.CommitMap, 1)
	require.Len(t, mutations, 1)
	assert.Equal(t, "feature1", mutations[0].Branch)
	assert.Equal(t, git.Hash("f1-new"), mutations[0].NewHeadSha)
}

func TestEnqueueDescendants(t *testing.T) {
	child := &stackgraph.StackNode{Branch: "feature2", HeadSha: "f3", OriginalBaseSha: "f2", BaseSha: "f2"}
	root := &stackgraph.StackNode{
		Branch:   "feature1",
		HeadSha:  "f2",
		BaseSha:  "m1",
		Children: []*stackgraph.StackNode{child},
	}
	state, err := CreateSession("sess-1", "m1", []*stackgraph.StackNode{root}, 100, genID())
	require.NoError(t, err)
	state, _ = NextJob(state, 200)
	state, _, err = CompleteJob(state, "job-1", "f2-new", 300, nil)
	require.NoError(t, err)

	next := EnqueueDescendants(state, root, "f2-new", 400, genID())
	require.Len(t, next.Queue.PendingJobIDs, 1)
	require.Contains(t, next.Jobs, "job-1")
	childJobID := next.Queue.PendingJobIDs[0]
	childJob := next.Jobs[childJobID]
	assert.Equal(t, "feature2", childJob.Branch)
	assert.Equal(t, git.Hash("f2-new"), childJob.TargetBaseSha)
	assert.Equal(t, git.Hash("f2"), childJob.OriginalBaseSha)
	assert.Contains(t, next.Session.Jobs, childJobID)
}

func TestResumeRebaseSession(t *testing.T) {
	root := &stackgraph.StackNode{Branch: "feature1", HeadSha: "f1", BaseSha: "m1"}
	state, err := CreateSession("sess-1", "m1", []*stackgraph.StackNode{root}, 100, genID())
	require.NoError(t, err)
	state, _ = NextJob(state, 200)

	t.Run("rebasing with conflicts", func(t *testing.T) {
		resumed := ResumeRebaseSession(state, git.WorkingTreeStatus{
			IsRebasing: true,
			Conflicted: []string{"a.txt"},
		}, 300)
		assert.Equal(t, SessionAwaitingUser, resumed.Session.Status)
		assert.Equal(t, JobAwaitingUser, resumed.Jobs["job-1"].Status)
	})

	t.Run("rebasing clean", func(t *testing.T) {
		resumed := ResumeRebaseSession(state, git.WorkingTreeStatus{IsRebasing: true}, 300)
		assert.Equal(t, SessionRunning, resumed.Session.Status)
		assert.Equal(t, JobApplying, resumed.Jobs["job-1"].Status)
	})

	t.Run("not rebasing with active job", func(t *testing.T) {
		resumed := ResumeRebaseSession(state, git.WorkingTreeStatus{IsRebasing: false}, 300)
		assert.Equal(t, JobCompleted, resumed.Jobs["job-1"].Status)
		assert.Empty(t, resumed.Queue.ActiveJobID)
	})

	t.Run("rebasing with no active job is recovery mode", func(t *testing.T) {
		bare, err := CreateSession("sess-2", "m1", []*stackgraph.StackNode{root}, 100, genID())
		require.NoError(t, err)
		resumed := ResumeRebaseSession(bare, git.WorkingTreeStatus{IsRebasing: true}, 300)
		assert.Equal(t, SessionRunning, resumed.Session.Status)
		assert.Empty(t, resumed.Queue.ActiveJobID)
	})
}

func TestCompleteSession(t *testing.T) {
	root := &stackgraph.StackNode{Branch: "feature1", HeadSha: "f1", BaseSha: "m1"}
	state, err := CreateSession("sess-1", "m1", []*stackgraph.StackNode{root}, 100, genID())
	require.NoError(t, err)
	state, _ = NextJob(state, 200)
	state, _, err = CompleteJob(state, "job-1", "f1-new", 300, nil)
	require.NoError(t, err)

	done := CompleteSession(state, "m1-new", 400)
	assert.Equal(t, SessionCompleted, done.Session.Status)
	assert.Equal(t, int64(400), done.Session.CompletedAtMs)
	assert.Equal(t, git.Hash("m1-new"), done.Session.FinalTrunkSha)

	// Original state is untouched.
	assert.Equal(t, SessionRunning, state.Session.Status)
}

func TestAbortSession(t *testing.T) {
	root := &stackgraph.StackNode{Branch: "feature1", HeadSha: "f1", BaseSha: "m1"}
	state, err := CreateSession("sess-1", "m1", []*stackgraph.StackNode{root}, 100, genID())
	require.NoError(t, err)
	state, _ = NextJob(state, 200)

	aborted := AbortSession(state, 300)
	assert.Equal(t, SessionAborted, aborted.Session.Status)
	assert.Equal(t, int64(300), aborted.Session.CompletedAtMs)
	assert.Empty(t, aborted.Queue.ActiveJobID)

	// Original state is untouched.
	assert.Equal(t, SessionRunning, state.Session.Status)
	assert.Equal(t, "job-1", state.Queue.ActiveJobID)
}
