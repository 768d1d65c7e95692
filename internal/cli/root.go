// Package cli implements the teapot command-line entrypoint: a Kong
// grammar binding the rebase engine (internal/executor) to a real
// repository through internal/git.ExecAdapter, the same "grammar
// struct plus injected collaborators" shape the teacher's own root.go
// uses for git-spice's rootCmd.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"

	"go.abhg.dev/teapot/internal/config"
	"go.abhg.dev/teapot/internal/execctx"
	"go.abhg.dev/teapot/internal/executor"
	"go.abhg.dev/teapot/internal/git"
	"go.abhg.dev/teapot/internal/session"
	"go.abhg.dev/teapot/internal/silog"
)

// globalOptions are flags shared by every subcommand, mirroring the
// teacher's rootCmd.globalOptions (a small, embeddable flag set).
type globalOptions struct {
	Repo   string `name:"repo" short:"C" default:"." help:"Path to the Git repository to operate on."`
	Config string `name:"config" help:"Path to the engine config YAML. Defaults to <gitdir>/teapot-config.yaml."`
	Debug  bool   `name:"debug" help:"Enable debug logging."`
}

// RootCmd is the top-level Kong grammar for the teapot binary.
type RootCmd struct {
	globalOptions

	Rebase  rebaseCmd  `cmd:"" help:"Plan and execute rebasing a branch and its dependents onto a new base."`
	Session sessionCmd `cmd:"" help:"Inspect a repository's rebase session."`
	Doctor  doctorCmd  `cmd:"" help:"Report the execution context service's health for this repository."`

	Version versionCmd `cmd:"" help:"Print version information."`
}

// engine bundles every collaborator a command needs, constructed once
// in AfterApply and bound into the Kong context for every Run method
// to accept by parameter, exactly as the teacher binds *git.Repository
// and *state.Store.
type engine struct {
	repoPath string
	log      *silog.Logger
	git      git.GitAdapter
	exec     *execctx.Service
	sessions *session.Store
	executor *executor.Executor
	cfg      *config.Config
}

// AfterApply wires the engine's collaborators once flags are parsed,
// following the teacher's rootCmd.AfterApply pattern of binding
// request-scoped collaborators into the Kong context rather than
// threading them through every command's fields.
func (cmd *RootCmd) AfterApply(kctx *kong.Context) error {
	level := silog.LevelInfo
	if cmd.Debug {
		level = silog.LevelDebug
	}
	log := silog.New(os.Stderr, &silog.Options{Level: level})

	repoPath := session.NormalizePath(cmd.Repo)
	ga := git.NewExecAdapter(log)

	configPath := cmd.Config
	if configPath == "" {
		if gitDir, err := ga.GitDir(context.Background(), repoPath); err == nil {
			configPath = filepath.Join(gitDir, "teapot-config.yaml")
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	execSvc := execctx.NewService(ga, nil, log, cfg.ExecOptions())

	gitDir, err := ga.GitDir(context.Background(), repoPath)
	if err != nil {
		return fmt.Errorf("resolve git dir: %w", err)
	}
	backend := session.NewFileBackend(filepath.Join(gitDir, "teapot-sessions"))
	store := session.NewStore(backend, nil, log)

	ex := executor.NewExecutor(ga, execSvc, store, nil, log)

	kctx.Bind(&engine{
		repoPath: repoPath,
		log:      log,
		git:      ga,
		exec:     execSvc,
		sessions: store,
		executor: ex,
		cfg:      cfg,
	})
	return nil
}
