package scheduler

import "sync/atomic"

// Guard is a single-slot execution flag.
//
// Every successful TryAcquire must be paired with a deferred Release.
type Guard struct {
	running atomic.Bool
}

// TryAcquire reports true only for the caller that flips the flag from false to true.
func (g *Guard) TryAcquire() bool { return g.running.CompareAndSwap(false, true) }

// Release clears the flag. Calling it when not held is a no-op.
func (g *Guard) Release() { g.running.Store(false) }

func (g *Guard) Running() bool { return g.running.Load() }
