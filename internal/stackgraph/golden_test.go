package stackgraph

import (
	"testing"

	"github.com/hexops/autogold/v2"
	"github.com/stretchr/testify/require"

	"go.abhg.dev/teapot/internal/git"
)

// TestBuildRebaseIntent_FanOutGolden pins the full StackNode tree shape
// for a fan-out (one branch, two children sharing its head) the same
// way the teacher golden-tests full object trees rather than asserting
// field-by-field, catching any unintended shift in node shape or field
// values across the whole tree at once.
func TestBuildRebaseIntent_FanOutGolden(t *testing.T) {
	snap := RepoSnapshot{
		Commits: []git.Commit{
			commit("m1", ""),
			commit("f1", "m1"),
			commit("f2", "f1"),
			commit("f3", "f1"),
		},
		Branches: []git.Branch{
			{Ref: "main", HeadHash: "m1", IsTrunk: true},
			branch("feature1", "f1"),
			branch("feature2", "f2"),
			branch("feature3", "f3"),
		},
	}

	b := newBuilder()
	intent, ok := b.BuildRebaseIntent(snap, "f1", "m1")
	require.True(t, ok)
	require.Len(t, intent.Targets, 1)

	autogold.Expect(&StackNode{
		Branch:          "feature1",
		HeadSha:         git.Hash("f1"),
		OriginalBaseSha: git.Hash("m1"),
		BaseSha:         git.Hash("m1"),
		Children: []*StackNode{
			{
				Branch:          "feature2",
				HeadSha:         git.Hash("f2"),
				OriginalBaseSha: git.Hash("f1"),
				BaseSha:         git.Hash("f1"),
			},
			{
				Branch:          "feature3",
				HeadSha:         git.Hash("f3"),
				OriginalBaseSha: git.Hash("f1"),
				BaseSha:         git.Hash("f1"),
			},
		},
	}).Equal(t, intent.Targets[0].Node)
}
