package cli

import (
	"context"
	"fmt"

	"go.abhg.dev/teapot/internal/executor"
)

// rebaseCmd plans and executes rebasing branch (and everything stacked
// on it) onto onto, the same two-phase "resolve refs, then drive the
// engine" shape as the teacher's rebase.go upstream command.
type rebaseCmd struct {
	Branch string `arg:"" optional:"" help:"Branch to rebase. Defaults to the current branch."`
	Onto   string `name:"onto" help:"Ref to rebase the branch and its stack onto."`

	Continue rebaseContinueCmd `cmd:"" help:"Continue a rebase session after resolving a conflict."`
	Abort    rebaseAbortCmd    `cmd:"" help:"Abort the in-progress rebase session."`
	Skip     rebaseSkipCmd     `cmd:"" help:"Skip the conflicted commit and continue the session."`
	GiveUp   rebaseGiveUpCmd   `cmd:"" help:"Give up on the conflicted branch, closing its PR, and continue siblings."`
}

// Onto is deliberately not a required flag even though plan+execute
// cannot proceed without one: Continue/Abort/Skip/GiveUp are nested
// under this same command purely for "rebase <verb>" naming, and Kong
// validates a parent's required flags on every child path, which would
// force callers of 'rebase continue' to pass --onto too. Run checks it
// instead.
func (cmd *rebaseCmd) Run(ctx context.Context, eng *engine) error {
	if cmd.Onto == "" {
		return fmt.Errorf("--onto is required")
	}

	branch := cmd.Branch
	if branch == "" {
		status, err := eng.git.GetWorkingTreeStatus(ctx, eng.repoPath)
		if err != nil {
			return fmt.Errorf("resolve current branch: %w", err)
		}
		if status.Detached {
			return fmt.Errorf("HEAD is detached; specify a branch explicitly")
		}
		branch = status.CurrentBranch
	}

	headSha, err := eng.git.ResolveRef(ctx, eng.repoPath, branch)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", branch, err)
	}
	ontoSha, err := eng.git.ResolveRef(ctx, eng.repoPath, cmd.Onto)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", cmd.Onto, err)
	}

	intent, err := eng.executor.Plan(ctx, eng.repoPath, headSha, ontoSha)
	if err != nil {
		return fmt.Errorf("plan rebase: %w", err)
	}

	res, err := eng.executor.Execute(ctx, eng.repoPath, intent)
	if err != nil {
		return fmt.Errorf("execute rebase: %w", err)
	}
	printResult(eng, res)
	return nil
}

// rebaseContinueCmd resumes a parked session after the user resolves a
// conflict, mirroring the teacher's rebase_continue.go.
type rebaseContinueCmd struct{}

func (cmd *rebaseContinueCmd) Run(ctx context.Context, eng *engine) error {
	res, err := eng.executor.Continue(ctx, eng.repoPath)
	if err != nil {
		return err
	}
	printResult(eng, res)
	return nil
}

// rebaseAbortCmd tears down the active session and restores the
// original branch, mirroring the teacher's rebase_abort.go.
type rebaseAbortCmd struct{}

func (cmd *rebaseAbortCmd) Run(ctx context.Context, eng *engine) error {
	res, err := eng.executor.Abort(ctx, eng.repoPath)
	if err != nil {
		return err
	}
	printResult(eng, res)
	return nil
}

// rebaseSkipCmd skips the conflicted commit and resumes the session.
type rebaseSkipCmd struct{}

func (cmd *rebaseSkipCmd) Run(ctx context.Context, eng *engine) error {
	res, err := eng.executor.Skip(ctx, eng.repoPath)
	if err != nil {
		return err
	}
	printResult(eng, res)
	return nil
}

// rebaseGiveUpCmd abandons the conflicted branch outright: the branch
// and everything stacked on it are dropped from the session, its PR is
// closed via the ripple hook, and any unrelated sibling targets still
// run to completion.
type rebaseGiveUpCmd struct{}

func (cmd *rebaseGiveUpCmd) Run(ctx context.Context, eng *engine) error {
	res, err := eng.executor.GiveUp(ctx, eng.repoPath)
	if err != nil {
		return err
	}
	printResult(eng, res)
	return nil
}

func printResult(eng *engine, res *executor.Result) {
	switch res.Status {
	case executor.ResultCompleted:
		eng.log.Infof("rebase complete, new trunk %s", res.FinalTrunkSha)
	case executor.ResultConflict:
		eng.log.Infof("conflict on branch %s (job %s); resolve and run 'rebase continue'", res.Branch, res.JobID)
		for _, c := range res.Conflicts {
			eng.log.Infof("  conflict: %s", c.Path)
		}
	case executor.ResultAborted:
		eng.log.Infof("session %s aborted", res.SessionID)
	}
}
