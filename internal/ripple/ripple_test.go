package ripple

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveRippleTarget(t *testing.T) {
	tests := []struct {
		name   string
		bases  map[string]string // branch -> base, absent means no base
		branch string
		want   string
	}{
		{
			name:   "linear chain",
			bases:  map[string]string{"stack-3": "stack-2", "stack-2": "stack-1", "stack-1": "main"},
			branch: "stack-3",
			want:   "main",
		},
		{
			name:   "no base",
			bases:  map[string]string{},
			branch: "main",
			want:   "main",
		},
		{
			name:   "self cycle",
			bases:  map[string]string{"stack-1": "stack-1"},
			branch: "stack-1",
			want:   "stack-1",
		},
		{
			name:   "longer cycle returns start, not the cycle point",
			bases:  map[string]string{"a": "b", "b": "c", "c": "a"},
			branch: "a",
			want:   "a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			baseOf := func(branch string) (string, bool) {
				b, ok := tt.bases[branch]
				return b, ok
			}
			got := ResolveRippleTarget(baseOf, tt.branch)
			assert.Equal(t, tt.want, got)
		})
	}
}

type recordingCloser struct {
	closed []string
	err    error
}

func (c *recordingCloser) ClosePRForBranch(_ context.Context, branch string) error {
	c.closed = append(c.closed, branch)
	return c.err
}

func TestHookBranchAbandoned(t *testing.T) {
	closer := &recordingCloser{}
	hook := NewHook(closer, nil)

	hook.BranchAbandoned(context.Background(), "stack-1")
	assert.Equal(t, []string{"stack-1"}, closer.closed)
}

func TestHookBranchAbandonedLogsOnError(t *testing.T) {
	closer := &recordingCloser{err: errors.New("forge unavailable")}
	var logged string
	hook := NewHook(closer, func(format string, args ...any) {
		logged = format
		_ = args
	})

	hook.BranchAbandoned(context.Background(), "stack-1")
	assert.Contains(t, logged, "ripple")
}

func TestNewHookDefaults(t *testing.T) {
	hook := NewHook(nil, nil)
	// Must not panic with nil closer/warnf.
	hook.BranchAbandoned(context.Background(), "stack-1")
}
