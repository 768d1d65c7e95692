// Package stackgraph computes the transitive tree of branches affected
// by rebasing one branch's head onto a new base: the stack analyzer
// and intent builder described in the design's §4.1.
//
// It operates entirely over an in-memory [RepoSnapshot]; it never
// touches Git itself. The snapshot is expected to come from an
// external repo-snapshot builder (out of scope here).
package stackgraph

import (
	"fmt"

	"go.abhg.dev/container/ring"
	"go.abhg.dev/teapot/internal/clock"
	"go.abhg.dev/teapot/internal/git"
	"go.abhg.dev/teapot/internal/must"
)

// RepoSnapshot is an immutable view of a repository's commit and
// branch graph, as produced by the (out of scope) snapshot builder.
type RepoSnapshot struct {
	Commits  []git.Commit
	Branches []git.Branch
}

// StackNode describes one branch that must be rewritten to keep a
// stack consistent, and the children that depend on it.
type StackNode struct {
	Branch  string
	HeadSha git.Hash

	// OriginalBaseSha is the branch's true fork point before any
	// rebase: the commit a RebaseJob's range computation treats as
	// the exclusive lower bound of the branch's current commits.
	OriginalBaseSha git.Hash

	// BaseSha is the base this node should be rebased onto. For the
	// target root it is the caller-supplied new base. For a child
	// node it is its parent's head as observed at analysis time — a
	// placeholder the executor must replace with the parent's actual
	// new head once the parent's job completes (see
	// internal/rebasemachine's enqueueDescendants).
	BaseSha git.Hash

	Children []*StackNode
}

// RebaseTarget is one top-level branch to rewrite, along with the
// node tree of everything that depends on it.
type RebaseTarget struct {
	Node *StackNode
}

// RebaseIntent is the user's desire to rebase, captured before
// validation.
type RebaseIntent struct {
	ID          string
	CreatedAtMs int64
	Targets     []RebaseTarget
}

// idGenerator supplies unique intent ids. Defaults to a monotonically
// increasing counter wrapped in Builder if unset.
type idGenerator func() string

// Builder computes [RebaseIntent]s from a [RepoSnapshot].
//
// The zero value is not usable; use [NewBuilder].
type Builder struct {
	clock clock.Clock
	genID idGenerator
}

// NewBuilder returns a Builder using clk for timestamps and genID to
// generate intent ids. If genID is nil, ids are derived from the
// clock and a per-call counter, which is unique enough for
// single-process use but NOT across restarts — callers that need
// cross-restart uniqueness (per spec §9 Open Questions) should supply
// their own generator, e.g. one backed by [go.abhg.dev/teapot/internal/random].
func NewBuilder(clk clock.Clock, genID func() string) *Builder {
	if clk == nil {
		clk = clock.Real{}
	}
	b := &Builder{clock: clk}
	if genID != nil {
		b.genID = genID
	} else {
		var n int
		b.genID = func() string {
			n++
			return fmt.Sprintf("intent-%d-%d", clk.Now(), n)
		}
	}
	return b
}

// index is the set of lookup structures built once per snapshot and
// reused across fork-point walks and child discovery.
type index struct {
	commits     map[git.Hash]git.Commit
	childrenOf  map[git.Hash][]git.Hash // parent sha -> child shas
	branchesAt  map[git.Hash][]git.Branch
	trunkShas   map[git.Hash]struct{}
	trunkBranch string
}

func buildIndex(snap RepoSnapshot) *index {
	idx := &index{
		commits:    make(map[git.Hash]git.Commit, len(snap.Commits)),
		childrenOf: make(map[git.Hash][]git.Hash),
		branchesAt: make(map[git.Hash][]git.Branch),
		trunkShas:  make(map[git.Hash]struct{}),
	}

	for _, c := range snap.Commits {
		idx.commits[c.Hash] = c
		if !c.ParentHash.IsZero() {
			idx.childrenOf[c.ParentHash] = append(idx.childrenOf[c.ParentHash], c.Hash)
		}
	}

	for _, b := range snap.Branches {
		if b.HeadHash.IsZero() {
			continue // absent for analysis
		}
		idx.branchesAt[b.HeadHash] = append(idx.branchesAt[b.HeadHash], b)
		if b.IsTrunk {
			idx.trunkBranch = b.Ref
		}
	}

	if idx.trunkBranch != "" {
		for _, b := range snap.Branches {
			if b.Ref == idx.trunkBranch {
				idx.walkTrunk(b.HeadHash)
				break
			}
		}
	}

	return idx
}

func (idx *index) walkTrunk(head git.Hash) {
	for cur := head; !cur.IsZero(); {
		if _, ok := idx.trunkShas[cur]; ok {
			break
		}
		idx.trunkShas[cur] = struct{}{}
		c, ok := idx.commits[cur]
		if !ok {
			break
		}
		cur = c.ParentHash
	}
}

// selectBranch picks the branch to report for a set of branches that
// all point at the same sha: local non-trunk first, else any local,
// else whatever remains. Ties are broken by the stable input order
// preserved in branches.
func selectBranch(branches []git.Branch) (git.Branch, bool) {
	if len(branches) == 0 {
		return git.Branch{}, false
	}
	for _, b := range branches {
		if !b.IsRemote && !b.IsTrunk {
			return b, true
		}
	}
	for _, b := range branches {
		if !b.IsRemote {
			return b, true
		}
	}
	return branches[0], true
}

// forkPoint implements the base-sha algorithm of §4.1: walk parents
// from head until one lands in trunk, at the head of another branch,
// or at a root commit.
func (idx *index) forkPoint(head git.Hash, ownBranch string) git.Hash {
	cur := head
	for {
		c, ok := idx.commits[cur]
		if !ok {
			return cur
		}
		parent := c.ParentHash
		if parent.IsZero() {
			return cur // root commit: the commit itself is the base
		}
		if _, ok := idx.trunkShas[parent]; ok {
			return parent
		}
		if others := idx.otherBranchesAt(parent, ownBranch); len(others) > 0 {
			return parent
		}
		cur = parent
	}
}

func (idx *index) otherBranchesAt(sha git.Hash, ownBranch string) []git.Branch {
	var out []git.Branch
	for _, b := range idx.branchesAt[sha] {
		if b.IsRemote || b.IsTrunk || b.Ref == ownBranch {
			continue
		}
		out = append(out, b)
	}
	return out
}

// lineage returns the set of commit shas in (base, head], head
// inclusive and base exclusive, per §3's numeric semantics.
func (idx *index) lineage(base, head git.Hash) map[git.Hash]struct{} {
	set := make(map[git.Hash]struct{})
	for cur := head; !cur.IsZero() && cur != base; {
		if _, seen := set[cur]; seen {
			break // defend against a malformed (cyclic) snapshot
		}
		set[cur] = struct{}{}
		c, ok := idx.commits[cur]
		if !ok {
			break
		}
		cur = c.ParentHash
	}
	return set
}

// candidateChildren returns every non-remote, non-trunk branch other
// than parentBranch that qualifies as a child of (parentBranch,
// parentHead, parentBase) under the three rules of §4.1. parentBase
// must be the parent's true, current fork point (its
// OriginalBaseSha) — the lower bound of the commits its rewrite will
// actually touch — not its target base; passing the target base
// would walk the wrong range for rule 3's lineage intersection
// whenever the new base differs from the current fork point, which
// is the common case.
func (idx *index) candidateChildren(snap RepoSnapshot, parentBranch string, parentHead, parentBase git.Hash) []git.Branch {
	parentLineage := idx.lineage(parentBase, parentHead)

	seen := make(map[string]struct{})
	var out []git.Branch
	for _, b := range snap.Branches {
		if b.IsRemote || b.IsTrunk || b.Ref == parentBranch || b.HeadHash.IsZero() {
			continue
		}
		if _, ok := seen[b.Ref]; ok {
			continue
		}

		if b.HeadHash == parentHead {
			seen[b.Ref] = struct{}{}
			out = append(out, b)
			continue
		}

		fp := idx.forkPoint(b.HeadHash, b.Ref)
		if fp == parentHead {
			seen[b.Ref] = struct{}{}
			out = append(out, b)
			continue
		}

		bBase := fp
		bLineage := idx.lineage(bBase, b.HeadHash)
		if intersects(bLineage, parentLineage) {
			seen[b.Ref] = struct{}{}
			out = append(out, b)
		}
	}
	return out
}

func intersects(a, b map[git.Hash]struct{}) bool {
	small, big := a, b
	if len(big) < len(small) {
		small, big = big, small
	}
	for k := range small {
		if _, ok := big[k]; ok {
			return true
		}
	}
	return false
}

// buildNode queue entry: a branch to expand, its assigned base, and
// the ancestor-branch set used to reject cycles in the build walk
// (§8 invariant 3 and §9's "visited set keyed on (sha, branch)").
type buildTask struct {
	branch   git.Branch
	base     git.Hash
	ancestry map[string]struct{} // branch names from the target down to here, inclusive
}

// BuildRebaseIntent computes the RebaseIntent for rewriting the
// branch at headSha onto targetBaseSha, including every branch
// transitively affected by that rewrite.
//
// It returns (nil, false) if headSha or targetBaseSha is unknown, or
// if no branch resolves to headSha. A remote branch at headSha becomes
// the target only when no local branch points there (see selectBranch).
func (b *Builder) BuildRebaseIntent(snap RepoSnapshot, headSha, targetBaseSha git.Hash) (*RebaseIntent, bool) {
	idx := buildIndex(snap)

	if _, ok := idx.commits[headSha]; !ok {
		return nil, false
	}
	if targetBaseSha != headSha {
		if _, ok := idx.commits[targetBaseSha]; !ok {
			return nil, false
		}
	}

	rootBranch, ok := selectBranch(idx.otherBranchesAtIncludingSelf(headSha))
	if !ok {
		return nil, false
	}

	visited := map[string]struct{}{(string(headSha) + "\x00" + rootBranch.Ref): {}}
	root := b.buildNode(snap, idx, buildTask{
		branch:   rootBranch,
		base:     targetBaseSha,
		ancestry: map[string]struct{}{rootBranch.Ref: {}},
	}, visited)

	return &RebaseIntent{
		ID:          b.genID(),
		CreatedAtMs: b.clock.Now(),
		Targets:     []RebaseTarget{{Node: root}},
	}, true
}

func (idx *index) otherBranchesAtIncludingSelf(sha git.Hash) []git.Branch {
	return idx.branchesAt[sha]
}

func (b *Builder) buildNode(snap RepoSnapshot, idx *index, task buildTask, visited map[string]struct{}) *StackNode {
	node := &StackNode{
		Branch:          task.branch.Ref,
		HeadSha:         task.branch.HeadHash,
		OriginalBaseSha: idx.forkPoint(task.branch.HeadHash, task.branch.Ref),
		BaseSha:         task.base,
	}

	children := idx.candidateChildren(snap, task.branch.Ref, task.branch.HeadHash, node.OriginalBaseSha)

	// Process with a FIFO queue so sibling order in the result is
	// stable and deterministic for a fixed input order.
	var q ring.Q[git.Branch]
	for _, c := range children {
		q.Push(c)
	}
	for !q.Empty() {
		child := q.Pop()

		must.Bef(child.Ref != task.branch.Ref, "candidateChildren returned the parent branch %q", child.Ref)
		if _, ok := task.ancestry[child.Ref]; ok {
			// Would form a cycle in the build walk; skip.
			continue
		}

		key := string(child.HeadHash) + "\x00" + child.Ref
		if _, ok := visited[key]; ok {
			continue
		}
		visited[key] = struct{}{}

		childAncestry := make(map[string]struct{}, len(task.ancestry)+1)
		for k := range task.ancestry {
			childAncestry[k] = struct{}{}
		}
		childAncestry[child.Ref] = struct{}{}

		childNode := b.buildNode(snap, idx, buildTask{
			branch:   child,
			base:     task.branch.HeadHash,
			ancestry: childAncestry,
		}, visited)
		node.Children = append(node.Children, childNode)
	}

	return node
}
