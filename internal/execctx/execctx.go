// Package execctx provides the execution context service: a clean
// filesystem location in which to run Git operations, guaranteeing at
// most one operation per repository at a time across the whole host,
// survival of the chosen location across crashes and restarts, and
// that nothing outside the service's own directory is ever deleted.
package execctx

import (
	"path/filepath"
	"sync"
	"time"

	"go.abhg.dev/teapot/internal/clock"
	"go.abhg.dev/teapot/internal/git"
	"go.abhg.dev/teapot/internal/sigstack"
	"go.abhg.dev/teapot/internal/silog"
)

// WorktreeDirName is the directory, relative to a repository's Git
// directory, under which temporary worktrees are created.
const WorktreeDirName = "teapot-worktrees"

// WorktreePrefix begins the basename of every temporary worktree this
// service creates. The orphan sweeper trusts this prefix to decide
// what it is allowed to remove.
const WorktreePrefix = "teapot-exec-"

// LockFileName is the cross-process lock file's basename, within a
// repository's Git directory.
const LockFileName = "teapot-exec.lock"

// TokenFileName is the recovery token's basename, within a
// repository's Git directory.
const TokenFileName = "teapot-exec-context.json"

// ExecutionContext is a filesystem location in which to run Git
// operations for one in-flight execution.
type ExecutionContext struct {
	ExecutionPath   string `json:"executionPath"`
	IsTemporary     bool   `json:"isTemporary"`
	RequiresCleanup bool   `json:"requiresCleanup"`
	CreatedAt       int64  `json:"createdAt"`
	Operation       string `json:"operation"`
	RepoPath        string `json:"repoPath"`
}

// Options configure a [Service].
type Options struct {
	// StaleLockAge is how old an unowned lock file may be before it
	// is considered abandoned. Default 5 minutes.
	StaleLockAge time.Duration

	// LockAttempts is how many times to try acquiring the
	// cross-process lock before giving up. Default 10.
	LockAttempts int

	// TokenTTL is how long a recovery token remains valid before
	// being treated as stale. Default 24 hours.
	TokenTTL time.Duration

	// DisableTempWorktree turns off temp-worktree creation: every
	// acquire uses the repository's active worktree directly. This
	// mirrors the design's "feature flag disables the temp-worktree
	// mode".
	DisableTempWorktree bool
}

func (o Options) withDefaults() Options {
	if o.StaleLockAge <= 0 {
		o.StaleLockAge = 5 * time.Minute
	}
	if o.LockAttempts <= 0 {
		o.LockAttempts = 10
	}
	if o.TokenTTL <= 0 {
		o.TokenTTL = 24 * time.Hour
	}
	return o
}

// Service is the execution context service.
//
// The zero value is not usable; use [NewService].
type Service struct {
	git   git.GitAdapter
	clock clock.Clock
	log   *silog.Logger
	opts  Options

	queueMu sync.Mutex
	queues  map[string]*repoQueue

	sig       sigstack.Stack
	sigCh     chan sigstack.Signal
	sigOnce   sync.Once
	activeMu  sync.Mutex
	activeDir map[string]string // repoPath -> git dir, for the exit handler

	activeStateMu sync.Mutex
	activeByRepo  map[string]activeState // repoPath -> what Release needs to undo
}

// NewService returns a Service driving ga, using clk for timestamps
// and log for diagnostics. If clk or log is nil, [clock.Real] and
// [silog.Nop] are used respectively.
func NewService(ga git.GitAdapter, clk clock.Clock, log *silog.Logger, opts Options) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = silog.Nop()
	}
	return &Service{
		git:          ga,
		clock:        clk,
		log:          log,
		opts:         opts.withDefaults(),
		queues:       make(map[string]*repoQueue),
		activeDir:    make(map[string]string),
		activeByRepo: make(map[string]activeState),
	}
}

func (s *Service) storeActive(repoPath string, st activeState) {
	s.activeStateMu.Lock()
	s.activeByRepo[repoPath] = st
	s.activeStateMu.Unlock()
}

func (s *Service) loadActive(repoPath string) (activeState, bool) {
	s.activeStateMu.Lock()
	defer s.activeStateMu.Unlock()
	st, ok := s.activeByRepo[repoPath]
	return st, ok
}

func (s *Service) dropActive(repoPath string) {
	s.activeStateMu.Lock()
	delete(s.activeByRepo, repoPath)
	s.activeStateMu.Unlock()
}

func (s *Service) lockPath(gitDir string) string  { return filepath.Join(gitDir, LockFileName) }
func (s *Service) tokenPath(gitDir string) string { return filepath.Join(gitDir, TokenFileName) }
func (s *Service) worktreesDir(gitDir string) string {
	return filepath.Join(gitDir, WorktreeDirName)
}

func (s *Service) registerActive(repoPath, gitDir string) {
	s.activeMu.Lock()
	s.activeDir[repoPath] = gitDir
	s.activeMu.Unlock()
	s.registerExitHandlerOnce()
}

func (s *Service) unregisterActive(repoPath string) {
	s.activeMu.Lock()
	delete(s.activeDir, repoPath)
	s.activeMu.Unlock()
}

// registerExitHandlerOnce registers a signal handler, on first use,
// that synchronously unlinks the lock file for each active repoPath.
// Worktrees are not removed synchronously since Git operations cannot
// be awaited during an exit handler; they stay on disk until
// [Service.CleanupOrphans] (teapot doctor --clean-orphans) reclaims
// them. Nothing runs that sweep automatically at startup.
func (s *Service) registerExitHandlerOnce() {
	s.sigOnce.Do(func() {
		s.sigCh = make(chan sigstack.Signal, 1)
		s.sig.Notify(s.sigCh, exitSignals()...)
		go func() {
			sig, ok := <-s.sigCh
			if !ok {
				return
			}
			s.onExit(sig)
		}()
	})
}

func (s *Service) onExit(_ sigstack.Signal) {
	s.activeMu.Lock()
	dirs := make(map[string]string, len(s.activeDir))
	for k, v := range s.activeDir {
		dirs[k] = v
	}
	s.activeMu.Unlock()

	for _, gitDir := range dirs {
		_ = removeLockFileUnconditionally(s.lockPath(gitDir))
	}
}
