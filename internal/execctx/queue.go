package execctx

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// repoQueue serializes acquires for one repoPath within this process.
// It is the in-process half of the two-layer mutex; the cross-process
// half is the lock file (see lock.go).
type repoQueue struct {
	sem     *semaphore.Weighted
	waiters int
}

// acquireLocal waits for exclusive in-process access to repoPath,
// creating its queue entry if necessary. The returned release func
// must be called exactly once; it removes the queue entry once it was
// the last waiter, matching the design's "cleanup removes the map
// entry when it was the last link".
func (s *Service) acquireLocal(ctx context.Context, repoPath string) (release func(), err error) {
	s.queueMu.Lock()
	q, ok := s.queues[repoPath]
	if !ok {
		q = &repoQueue{sem: semaphore.NewWeighted(1)}
		s.queues[repoPath] = q
	}
	q.waiters++
	s.queueMu.Unlock()

	release = func() {
		q.sem.Release(1)
		s.queueMu.Lock()
		q.waiters--
		if q.waiters == 0 {
			delete(s.queues, repoPath)
		}
		s.queueMu.Unlock()
	}

	if err := q.sem.Acquire(ctx, 1); err != nil {
		s.queueMu.Lock()
		q.waiters--
		if q.waiters == 0 {
			delete(s.queues, repoPath)
		}
		s.queueMu.Unlock()
		return nil, err
	}

	return release, nil
}
