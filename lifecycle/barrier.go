package lifecycle

import "sync"

// Barrier tracks one cohort of singletons through the two startup phases.
// Members arrive once during construction and once when they request start;
// the moment the last constructed member requests start, the barrier fires:
// it broadcasts the release to every waiter, zeroes both counters and bumps
// the generation so the next cohort starts clean.
type Barrier struct {
	mu          sync.Mutex
	constructed int
	ready       int
	generation  uint64
	release     chan struct{}
}

// Snapshot is a point-in-time view of the barrier counters.
type Snapshot struct {
	Constructed int    `json:"constructed"`
	Ready       int    `json:"ready"`
	Generation  uint64 `json:"generation"`
}

// NewBarrier creates a barrier armed for its first cohort.
func NewBarrier() *Barrier {
	return &Barrier{release: make(chan struct{})}
}

// Arrive records a construction-phase arrival and returns the generation the
// member joined, so later withdrawals can tell whether their cohort is still
// the current one.
func (b *Barrier) Arrive() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.constructed++
	return b.generation
}

// ArriveStart records a start-phase arrival and returns the channel the
// caller must wait on. The release decision is captured before any reset:
// when this arrival completes the cohort, the returned channel is already
// closed, so the triggering member never observes the zeroed counters as
// "not ready".
func (b *Barrier) ArriveStart() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ready++
	ch := b.release
	if b.constructed > 0 && b.ready >= b.constructed {
		b.fireLocked()
	}
	return ch
}

// Withdraw removes a member that was destroyed before finishing its start
// phase. gen must be the generation returned by Arrive; a withdrawal from a
// cohort that already fired is a no-op. arrived reports whether the member
// had already passed ArriveStart. When the withdrawal leaves every remaining
// member accounted for, the barrier fires so the survivors are not stalled
// forever by the departed one. Returns true when this call fired the barrier.
func (b *Barrier) Withdraw(gen uint64, arrived bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.generation || b.constructed == 0 {
		return false
	}
	b.constructed--
	if arrived && b.ready > 0 {
		b.ready--
	}
	if b.constructed > 0 && b.ready >= b.constructed {
		b.fireLocked()
		return true
	}
	return false
}

// fireLocked releases the current cohort. Callers hold b.mu.
func (b *Barrier) fireLocked() {
	released := b.release
	b.constructed = 0
	b.ready = 0
	b.generation++
	b.release = make(chan struct{})
	close(released)
}

// AllReady reports whether every constructed member has requested start.
// It is level-triggered: transiently true right after a reset and right
// before the next construction arrival.
func (b *Barrier) AllReady() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready == b.constructed
}

// Constructed returns the construction-phase arrival count for the current cohort.
func (b *Barrier) Constructed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.constructed
}

// Ready returns the start-phase arrival count for the current cohort.
func (b *Barrier) Ready() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}

// Generation returns the cohort ordinal, incremented on every release.
func (b *Barrier) Generation() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generation
}

// Snapshot returns all counters in one consistent read.
func (b *Barrier) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{Constructed: b.constructed, Ready: b.ready, Generation: b.generation}
}
