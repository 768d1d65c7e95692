package rebasemachine

import (
	"go.abhg.dev/teapot/internal/git"
)

// CreateSession builds the initial State for a new rebase: one queued
// job per target's root node, session status pending.
//
// It rejects empty targets or a trunk with no head (the caller is
// expected to have already confirmed trunk is local and non-remote
// before reaching this point; trunkHeadSha.IsZero() is treated as "no
// trunk").
func CreateSession(sessionID string, trunkHeadSha git.Hash, targets []*target, startedAtMs int64, genJobID func() string) (State, error) {
	if len(targets) == 0 {
		return State{}, ErrEmptyTargets
	}
	if trunkHeadSha.IsZero() {
		return State{}, ErrNoTrunk
	}

	jobs := make(map[string]RebaseJob, len(targets))
	var pending, allJobs []string

	for _, node := range targets {
		id := genJobID()
		jobs[id] = RebaseJob{
			ID:              id,
			Branch:          node.Branch,
			OriginalBaseSha: node.OriginalBaseSha,
			OriginalHeadSha: node.HeadSha,
			TargetBaseSha:   node.BaseSha,
			Status:          JobQueued,
			CreatedAtMs:     startedAtMs,
		}
		pending = append(pending, id)
		allJobs = append(allJobs, id)
	}

	return State{
		Session: RebaseSession{
			ID:              sessionID,
			StartedAtMs:     startedAtMs,
			Status:          SessionPending,
			InitialTrunkSha: trunkHeadSha,
			Jobs:            allJobs,
		},
		Queue: RebaseQueue{PendingJobIDs: pending},
		Jobs:  jobs,
	}, nil
}

// NextJob pops the first pending job in FIFO order and transitions it
// to applying, the session to running. It returns (state, nil) with
// no change if a job is already active or none are pending.
func NextJob(state State, tsMs int64) (State, *RebaseJob) {
	if state.Queue.ActiveJobID != "" {
		return state, nil
	}
	if len(state.Queue.PendingJobIDs) == 0 {
		return state, nil
	}

	next := state.clone()
	id := next.Queue.PendingJobIDs[0]
	next.Queue.PendingJobIDs = next.Queue.PendingJobIDs[1:]
	next.Queue.ActiveJobID = id

	job := next.Jobs[id]
	job.Status = JobApplying
	job.UpdatedAtMs = tsMs
	next.Jobs[id] = job

	if next.Session.Status != SessionCompleted && next.Session.Status != SessionAborted {
		next.Session.Status = SessionRunning
	}

	return next, &job
}

// RecordConflict marks jobID as awaiting-user, attaching a conflict
// list built from workingTree.Conflicted and optional per-path stage
// info.
func RecordConflict(state State, jobID string, workingTree git.WorkingTreeStatus, tsMs int64, stages map[string]StageShas) (State, error) {
	job, ok := state.Jobs[jobID]
	if !ok {
		return state, &jobNotFoundError{JobID: jobID}
	}

	next := state.clone()

	conflicts := make([]Conflict, len(workingTree.Conflicted))
	for i, path := range workingTree.Conflicted {
		c := Conflict{Path: path}
		if s, ok := stages[path]; ok {
			sc := s
			c.Stage = &sc
		}
		conflicts[i] = c
	}

	job.Status = JobAwaitingUser
	job.Conflicts = conflicts
	job.UpdatedAtMs = tsMs
	next.Jobs[jobID] = job
	next.Session.Status = SessionAwaitingUser

	return next, nil
}

// CompleteJob marks jobID completed, records its new head, appends
// rewrites to the session's commit map, and returns the resulting
// stack mutations.
func CompleteJob(state State, jobID string, rebasedHeadSha git.Hash, tsMs int64, rewrites []CommitRewrite) (State, []StackMutation, error) {
	job, ok := state.Jobs[jobID]
	if !ok {
		return state, nil, &jobNotFoundError{JobID: jobID}
	}

	next := state.clone()

	oldHead := job.OriginalHeadSha
	job.Status = JobCompleted
	job.RebasedHeadSha = rebasedHeadSha
	job.UpdatedAtMs = tsMs
	next.Jobs[jobID] = job

	if next.Queue.ActiveJobID == jobID {
		next.Queue.ActiveJobID = ""
	}
	next.Session.CommitMap = append(next.Session.CommitMap, rewrites...)

	mutations := []StackMutation{{
		Branch:     job.Branch,
		OldHeadSha: oldHead,
		NewHeadSha: rebasedHeadSha,
	}}

	return next, mutations, nil
}

// FailJob marks jobID failed. Used for skip-after-exhaustion and
// other terminal non-conflict failures.
func FailJob(state State, jobID string, tsMs int64) (State, error) {
	job, ok := state.Jobs[jobID]
	if !ok {
		return state, &jobNotFoundError{JobID: jobID}
	}

	next := state.clone()
	job.Status = JobFailed
	job.UpdatedAtMs = tsMs
	next.Jobs[jobID] = job
	if next.Queue.ActiveJobID == jobID {
		next.Queue.ActiveJobID = ""
	}

	return next, nil
}

// EnqueueDescendants creates one queued job per immediate child of
// parentNode, with targetBaseSha set to parentNewHeadSha — the
// parent's actual post-rebase head, which is only known once the
// parent job has completed.
//
// Calling this more than once for the same parent completion
// duplicates jobs; the caller (internal/executor) is responsible for
// calling it exactly once per parent completion.
func EnqueueDescendants(state State, parentNode *target, parentNewHeadSha git.Hash, tsMs int64, genJobID func() string) State {
	if len(parentNode.Children) == 0 {
		return state
	}

	next := state.clone()
	for _, child := range parentNode.Children {
		id := genJobID()
		next.Jobs[id] = RebaseJob{
			ID:              id,
			Branch:          child.Branch,
			OriginalBaseSha: child.OriginalBaseSha,
			OriginalHeadSha: child.HeadSha,
			TargetBaseSha:   parentNewHeadSha,
			Status:          JobQueued,
			CreatedAtMs:     tsMs,
		}
		next.Queue.PendingJobIDs = append(next.Queue.PendingJobIDs, id)
		next.Session.Jobs = append(next.Session.Jobs, id)
	}

	return next
}

// CompleteSession marks the session itself completed, once the job
// loop has drained (no active or pending job remains). finalTrunkSha
// records the trunk head observed at that point.
func CompleteSession(state State, finalTrunkSha git.Hash, tsMs int64) State {
	next := state.clone()
	next.Session.Status = SessionCompleted
	next.Session.CompletedAtMs = tsMs
	next.Session.FinalTrunkSha = finalTrunkSha
	return next
}

// AbortSession marks the session aborted. Valid from any non-terminal
// status; the caller is responsible for having already asked the Git
// adapter to abort any in-progress rebase.
func AbortSession(state State, tsMs int64) State {
	next := state.clone()
	next.Session.Status = SessionAborted
	next.Session.CompletedAtMs = tsMs
	next.Queue.ActiveJobID = ""
	return next
}

// ResumeRebaseSession reconciles an observed working-tree state with
// the stored state after a restart.
func ResumeRebaseSession(state State, workingTree git.WorkingTreeStatus, tsMs int64) State {
	next := state.clone()

	activeID := next.Queue.ActiveJobID
	switch {
	case workingTree.IsRebasing && activeID != "":
		job := next.Jobs[activeID]
		if len(workingTree.Conflicted) > 0 {
			job.Status = JobAwaitingUser
			next.Session.Status = SessionAwaitingUser
		} else {
			job.Status = JobApplying
			next.Session.Status = SessionRunning
		}
		job.UpdatedAtMs = tsMs
		next.Jobs[activeID] = job

	case workingTree.IsRebasing && activeID == "":
		// Git reports a rebase in progress but no active job was
		// stored: recovery mode, not owning a specific job.
		if len(workingTree.Conflicted) > 0 {
			next.Session.Status = SessionAwaitingUser
		} else {
			next.Session.Status = SessionRunning
		}

	case !workingTree.IsRebasing && activeID != "":
		job := next.Jobs[activeID]
		job.Status = JobCompleted
		job.UpdatedAtMs = tsMs
		next.Jobs[activeID] = job
		next.Queue.ActiveJobID = ""
	}

	return next
}
