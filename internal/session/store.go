package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.abhg.dev/teapot/internal/clock"
	"go.abhg.dev/teapot/internal/git"
	"go.abhg.dev/teapot/internal/rebasemachine"
	"go.abhg.dev/teapot/internal/silog"
)

// NormalizePath applies the one normalization rule two callers must
// agree on to use the same logical key: strip a trailing slash, but
// never collapse internal slashes.
func NormalizePath(repoPath string) string {
	return strings.TrimRight(repoPath, "/")
}

// DefaultRetryAttempts is the number of attempts [Store.UpdateWithRetry]
// makes before surfacing [ErrVersionMismatch].
const DefaultRetryAttempts = 3

// Store is the two-tier write-through session store: an in-process
// map in front of a durable [Backend]. Every write goes to disk
// first, then to memory; every read checks memory first, then disk,
// hydrating the memory entry on miss.
type Store struct {
	backend Backend
	clock   clock.Clock
	log     *silog.Logger

	mu     sync.Mutex
	memory map[string]StoredRebaseSession
}

// NewStore returns a Store backed by backend. If clk or log is nil,
// [clock.Real] and [silog.Nop] are used respectively.
func NewStore(backend Backend, clk clock.Clock, log *silog.Logger) *Store {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = silog.Nop()
	}
	return &Store{
		backend: backend,
		clock:   clk,
		log:     log,
		memory:  make(map[string]StoredRebaseSession),
	}
}

// Get returns the stored session for repoPath, hydrating the memory
// tier from disk on a memory miss. The second return is false if no
// session is stored.
func (s *Store) Get(ctx context.Context, repoPath string) (StoredRebaseSession, bool, error) {
	key := NormalizePath(repoPath)

	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.memory[key]; ok {
		return v, true, nil
	}

	var v StoredRebaseSession
	err := s.backend.Get(ctx, key, &v)
	switch {
	case errors.Is(err, ErrNotExist):
		return StoredRebaseSession{}, false, nil
	case err != nil:
		// A corrupt or schema-invalid disk record is logged and
		// treated as absent, and then cleared.
		s.log.Warnf("discarding unreadable session for %s: %v", key, err)
		_ = s.backend.Delete(ctx, key)
		return StoredRebaseSession{}, false, nil
	}

	if v.Phase == "" {
		v = migratePhase(v)
		if err := s.backend.Put(ctx, key, v); err != nil {
			s.log.Warnf("writing back migrated phase for %s: %v", key, err)
		}
	}
	s.memory[key] = v
	return v, true, nil
}

// Has reports whether repoPath has a stored session.
func (s *Store) Has(ctx context.Context, repoPath string) (bool, error) {
	_, ok, err := s.Get(ctx, repoPath)
	return ok, err
}

// GetAll returns every stored session, keyed by normalized repoPath.
func (s *Store) GetAll(ctx context.Context) (map[string]StoredRebaseSession, error) {
	keys, err := s.backend.Keys(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]StoredRebaseSession, len(keys))
	for _, key := range keys {
		if v, ok, err := s.Get(ctx, key); err != nil {
			return nil, err
		} else if ok {
			out[key] = v
		}
	}
	return out, nil
}

// Clear removes repoPath's session from both tiers.
func (s *Store) Clear(ctx context.Context, repoPath string) error {
	key := NormalizePath(repoPath)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Delete(ctx, key); err != nil {
		return err
	}
	delete(s.memory, key)
	return nil
}

// Create stores a brand-new session for repoPath. It fails with
// ErrAlreadyExists if one is already stored (create is CAS against
// "not present").
func (s *Store) Create(ctx context.Context, repoPath string, v StoredRebaseSession) (StoredRebaseSession, error) {
	key := NormalizePath(repoPath)

	if _, ok, err := s.Get(ctx, key); err != nil {
		return StoredRebaseSession{}, err
	} else if ok {
		return StoredRebaseSession{}, ErrAlreadyExists
	}

	now := s.clock.Now()
	v.Version = 1
	v.CreatedAtMs = now
	v.UpdatedAtMs = now
	if v.Phase == "" {
		v.Phase = phaseForStatus(v.State.Session.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Put(ctx, key, v); err != nil {
		return StoredRebaseSession{}, err
	}
	s.memory[key] = v
	return v, nil
}

// Update applies patch to repoPath's stored session, requiring the
// stored version to equal expectedVersion. On success the returned
// session has version = expectedVersion + 1. On a stale
// expectedVersion, it returns ErrVersionMismatch without writing
// anything.
func (s *Store) Update(ctx context.Context, repoPath string, expectedVersion int64, patch Patch) (StoredRebaseSession, error) {
	key := NormalizePath(repoPath)

	current, ok, err := s.Get(ctx, key)
	if err != nil {
		return StoredRebaseSession{}, err
	}
	if !ok {
		return StoredRebaseSession{}, ErrNotExist
	}
	if current.Version != expectedVersion {
		return StoredRebaseSession{}, ErrVersionMismatch
	}

	next := current
	if patch.State != nil {
		next.State = *patch.State
	}
	if patch.Intent != nil {
		next.Intent = patch.Intent
	}
	if patch.Phase != nil {
		next.Phase = *patch.Phase
	}
	if patch.OriginalBranch != nil {
		next.OriginalBranch = *patch.OriginalBranch
	}
	if patch.AutoDetachedWorktrees != nil {
		next.AutoDetachedWorktrees = *patch.AutoDetachedWorktrees
	}
	next.Version = current.Version + 1
	next.UpdatedAtMs = s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Put(ctx, key, next); err != nil {
		return StoredRebaseSession{}, err
	}
	s.memory[key] = next
	return next, nil
}

// UpdateWithRetry retries Update against refreshed state up to
// DefaultRetryAttempts times with linear backoff (10*(attempt+1) ms)
// when it hits ErrVersionMismatch. build is called with the
// currently-stored session on each attempt to compute the patch to
// apply.
func (s *Store) UpdateWithRetry(ctx context.Context, repoPath string, build func(current StoredRebaseSession) Patch) (StoredRebaseSession, error) {
	key := NormalizePath(repoPath)

	var lastErr error
	for attempt := 0; attempt < DefaultRetryAttempts; attempt++ {
		current, ok, err := s.Get(ctx, key)
		if err != nil {
			return StoredRebaseSession{}, err
		}
		if !ok {
			return StoredRebaseSession{}, ErrNotExist
		}

		patch := build(current)
		v, err := s.Update(ctx, key, current.Version, patch)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrVersionMismatch) {
			return StoredRebaseSession{}, err
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return StoredRebaseSession{}, ctx.Err()
		case <-time.After(time.Duration(10*(attempt+1)) * time.Millisecond):
		}
	}
	return StoredRebaseSession{}, lastErr
}

// SetPhase is a convenience mutation implemented in terms of Update.
func (s *Store) SetPhase(ctx context.Context, repoPath string, expectedVersion int64, phase Phase) (StoredRebaseSession, error) {
	return s.Update(ctx, repoPath, expectedVersion, Patch{Phase: &phase})
}

// MarkJobCompleted is a convenience mutation, implemented in terms of
// UpdateWithRetry, that runs [rebasemachine.CompleteJob] against the
// currently-stored state and persists the result.
func (s *Store) MarkJobCompleted(ctx context.Context, repoPath, jobID string, rebasedHeadSha git.Hash, tsMs int64, rewrites []rebasemachine.CommitRewrite) (StoredRebaseSession, error) {
	return s.UpdateWithRetry(ctx, repoPath, func(current StoredRebaseSession) Patch {
		next, _, err := rebasemachine.CompleteJob(current.State, jobID, rebasedHeadSha, tsMs, rewrites)
		if err != nil {
			// current.State is returned unchanged by CompleteJob on
			// error; patching with it is a harmless no-op write.
			next = current.State
		}
		return Patch{State: &next}
	})
}

func migratePhase(v StoredRebaseSession) StoredRebaseSession {
	if v.Phase == "" {
		v.Phase = phaseForStatus(v.State.Session.Status)
	}
	return v
}
