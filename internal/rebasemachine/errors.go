package rebasemachine

import (
	"errors"
	"fmt"
)

// ErrEmptyTargets is returned by [CreateSession] when given no targets
// to rebase.
var ErrEmptyTargets = errors.New("rebase intent has no targets")

// ErrNoTrunk is returned by [CreateSession] when the repository has no
// non-remote trunk branch.
var ErrNoTrunk = errors.New("repository has no non-remote trunk branch")

// jobNotFoundError is returned when an operation references a job id
// that does not exist in the given state.
type jobNotFoundError struct{ JobID string }

func (e *jobNotFoundError) Error() string {
	return fmt.Sprintf("job %q not found", e.JobID)
}

// invalidJobStatusError is returned when an operation requires a job
// to be in one status but finds it in another.
type invalidJobStatusError struct {
	JobID  string
	Status JobStatus
	Want   JobStatus
}

func (e *invalidJobStatusError) Error() string {
	return fmt.Sprintf("job %q has status %q, want %q", e.JobID, e.Status, e.Want)
}
