package executor

import (
	"errors"
	"fmt"
)

// ErrNoSession is returned by Continue, Skip, and GiveUp when called
// for a repository with no stored session. Unlike the validation
// taxonomy below, this indicates caller misuse rather than a
// recoverable precondition: there is no session to resume.
var ErrNoSession = errors.New("executor: no rebase session exists for this repository")

// ValidationCode enumerates the user-recoverable precondition failures
// Plan and Execute can report. None of these indicate a program
// fault; every one is something the caller can resolve and retry.
type ValidationCode string

const (
	CodeDirtyWorkingTree ValidationCode = "DIRTY_WORKING_TREE"
	CodeRebaseInProgress ValidationCode = "REBASE_IN_PROGRESS"
	CodeSessionExists    ValidationCode = "SESSION_EXISTS"
	CodeDetachedHead     ValidationCode = "DETACHED_HEAD"
	CodeInvalidIntent    ValidationCode = "INVALID_INTENT"
	CodeBranchNotFound   ValidationCode = "BRANCH_NOT_FOUND"
	CodeBranchMoved      ValidationCode = "BRANCH_MOVED"
	CodeTargetNotFound   ValidationCode = "TARGET_NOT_FOUND"
	CodeSameBase         ValidationCode = "SAME_BASE"
)

// ValidationError is returned for every code in the taxonomy above. It
// is a user-recoverable precondition failure, not a program fault:
// callers are expected to inspect Code and decide what to do, not just
// log and give up.
type ValidationError struct {
	Code    ValidationCode
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func validationErrorf(code ValidationCode, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}
