// Package ripple provides the rebase engine's one hook into a forge
// integration: a capability to close the pull request associated with
// a branch, invoked when a branch's rebase job is permanently
// abandoned. Listing and creating pull requests is out of scope for
// this engine (spec.md §1, "Out of scope") — the engine only assumes
// the capability below exists somewhere upstack of it.
package ripple

import "context"

// PRCloser is the forge capability the engine consumes as a ripple
// effect of giving up on a branch. Implementations live outside this
// module; this package only defines the shape the engine calls.
type PRCloser interface {
	// ClosePRForBranch closes the pull request for branch, if one
	// exists. Implementations should treat "no such PR" as success.
	ClosePRForBranch(ctx context.Context, branch string) error
}

// NopCloser is a [PRCloser] that does nothing, for callers that do not
// wire a forge integration.
type NopCloser struct{}

// ClosePRForBranch implements [PRCloser].
func (NopCloser) ClosePRForBranch(context.Context, string) error { return nil }

// BaseOf looks up the branch that branch is currently based on, for
// use with [ResolveRippleTarget]. Implementations may return
// (_, false) if branch has no recorded base (e.g. it is trunk).
type BaseOf func(branch string) (base string, ok bool)

// ResolveRippleTarget walks branch's recorded base chain via baseOf to
// find the branch a ripple effect (such as a PR-base update) should
// ultimately target. It tolerates cycles in the chain — a corrupt or
// concurrently-edited stack can in principle record a cycle — and on
// detecting one simply returns the branch the walk started from
// rather than erroring.
//
// This mirrors the source system's tolerant findValidPrTarget, which
// the spec (§9 "Open questions") directs implementers to preserve
// rather than "fix": a cycle is not validated against here, it is
// defused.
func ResolveRippleTarget(baseOf BaseOf, branch string) string {
	visited := map[string]bool{branch: true}

	current := branch
	for {
		base, ok := baseOf(current)
		if !ok {
			return current
		}
		if visited[base] {
			// Cycle: give up and report the branch we started from,
			// not the point of the cycle.
			return branch
		}
		visited[base] = true
		current = base
	}
}

// Hook invokes a [PRCloser] as the ripple effect of abandoning a
// branch's rebase, logging rather than failing the caller if the
// forge call errors — closing a PR is a best-effort side effect of
// giving up on a job, not a precondition for it.
type Hook struct {
	closer PRCloser
	warnf  func(format string, args ...any)
}

// NewHook returns a Hook that calls closer. If closer is nil,
// [NopCloser] is used. If warnf is nil, errors are discarded.
func NewHook(closer PRCloser, warnf func(format string, args ...any)) *Hook {
	if closer == nil {
		closer = NopCloser{}
	}
	if warnf == nil {
		warnf = func(string, ...any) {}
	}
	return &Hook{closer: closer, warnf: warnf}
}

// BranchAbandoned runs the ripple effect for a branch whose rebase job
// was marked failed: its pull request, if any, is closed.
func (h *Hook) BranchAbandoned(ctx context.Context, branch string) {
	if err := h.closer.ClosePRForBranch(ctx, branch); err != nil {
		h.warnf("ripple: close PR for abandoned branch %q: %v", branch, err)
	}
}
