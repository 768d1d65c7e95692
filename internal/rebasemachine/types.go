// Package rebasemachine implements the pure state machine that drives
// a rebase session from plan acceptance to completion. It performs no
// I/O: every function takes an immutable [State] and returns a new
// one, leaving the caller (internal/executor) to drive Git and
// persistence.
package rebasemachine

import (
	"go.abhg.dev/teapot/internal/git"
	"go.abhg.dev/teapot/internal/stackgraph"
)

// JobStatus is the lifecycle state of a single [RebaseJob].
type JobStatus string

// Job statuses, per the transition diagram:
// queued -> applying -> (awaiting-user | completed | failed);
// awaiting-user -> applying (continue) | completed | failed (skip-after-exhaustion).
const (
	JobQueued       JobStatus = "queued"
	JobApplying     JobStatus = "applying"
	JobAwaitingUser JobStatus = "awaiting-user"
	JobCompleted    JobStatus = "completed"
	JobFailed       JobStatus = "failed"
)

// SessionStatus is the lifecycle state of a [RebaseSession].
type SessionStatus string

// Session statuses, per the transition DAG in the design notes:
// pending -> running -> awaiting-user -> completed, with running able
// to go straight to completed, and abort reachable from any
// non-completed state.
const (
	SessionPending      SessionStatus = "pending"
	SessionRunning      SessionStatus = "running"
	SessionAwaitingUser SessionStatus = "awaiting-user"
	SessionCompleted    SessionStatus = "completed"
	SessionAborted      SessionStatus = "aborted"
)

// StageShas is the three-way merge stage information for one
// conflicted path, when available.
type StageShas struct {
	Base   git.Hash
	Ours   git.Hash
	Theirs git.Hash
}

// Conflict describes one unresolved path in an awaiting-user job.
type Conflict struct {
	Path  string
	Stage *StageShas
}

// RebaseJob is one branch's rewrite within a session.
type RebaseJob struct {
	ID              string
	Branch          string
	OriginalBaseSha git.Hash
	OriginalHeadSha git.Hash
	TargetBaseSha   git.Hash
	Status          JobStatus
	CreatedAtMs     int64
	UpdatedAtMs     int64 // 0 means never updated

	RebasedHeadSha git.Hash   // set once the job completes
	Conflicts      []Conflict // set while awaiting-user
}

// RebaseQueue tracks which jobs are active, pending, or blocked.
type RebaseQueue struct {
	ActiveJobID   string // "" means no job is applying
	PendingJobIDs []string
	BlockedJobIDs []string
}

// CommitRewrite records one commit's old and new sha after a
// completed job, in the order produced.
type CommitRewrite struct {
	Branch string
	OldSha git.Hash
	NewSha git.Hash
}

// RebaseSession is the top-level record of one in-progress (or
// terminal) rebase operation.
type RebaseSession struct {
	ID              string
	StartedAtMs     int64
	CompletedAtMs   int64 // 0 means not completed
	Status          SessionStatus
	InitialTrunkSha git.Hash
	FinalTrunkSha   git.Hash // zero means not yet known

	// Jobs lists every job id ever created in this session, in
	// creation order. It only grows.
	Jobs []string

	// CommitMap is the append-only rewrite log for the whole session.
	CommitMap []CommitRewrite
}

// StackMutation describes one branch's head moving as the result of a
// completed job, for callers that need to update their own view of
// branch refs without re-deriving it from CommitMap.
type StackMutation struct {
	Branch     string
	OldHeadSha git.Hash
	NewHeadSha git.Hash
}

// State is the complete, immutable state of a rebase session. Every
// operation in this package takes a State and returns a new one; none
// of them mutate their input.
type State struct {
	Session RebaseSession
	Queue   RebaseQueue
	Jobs    map[string]RebaseJob
}

// clone returns a deep copy of s, so callers may treat every
// top-level field and the Jobs map as freshly owned.
func (s State) clone() State {
	out := State{
		Session: s.Session,
		Queue: RebaseQueue{
			ActiveJobID:   s.Queue.ActiveJobID,
			PendingJobIDs: append([]string(nil), s.Queue.PendingJobIDs...),
			BlockedJobIDs: append([]string(nil), s.Queue.BlockedJobIDs...),
		},
		Jobs: make(map[string]RebaseJob, len(s.Jobs)),
	}
	out.Session.Jobs = append([]string(nil), s.Session.Jobs...)
	out.Session.CommitMap = append([]CommitRewrite(nil), s.Session.CommitMap...)
	for id, j := range s.Jobs {
		j.Conflicts = append([]Conflict(nil), j.Conflicts...)
		out.Jobs[id] = j
	}
	return out
}

// target is an alias for [stackgraph.StackNode]: CreateSession and
// EnqueueDescendants take the analyzer's nodes, children included.
type target = stackgraph.StackNode
