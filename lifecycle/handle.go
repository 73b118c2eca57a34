package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Phase is the lifecycle state of one winning instance.
type Phase string

const (
	PhaseConstructed Phase = "constructed"
	PhaseWaiting     Phase = "waiting"
	PhaseStarted     Phase = "started"
	PhaseAborted     Phase = "aborted"
	PhaseReleased    Phase = "released"
)

// Handle is the per-instance participation record handed out on a won claim.
// It carries the instance's identity and drives its start phase through the
// cohort barrier.
type Handle struct {
	coord      *Coordinator
	instance   Singleton
	id         uuid.UUID
	kind       Kind
	generation uint64

	mu      sync.Mutex
	phase   Phase
	arrived bool
	started bool

	cancel     chan struct{}
	cancelOnce sync.Once
}

// ID returns the instance's identity for this participation.
func (h *Handle) ID() uuid.UUID { return h.id }

// Kind returns the slot kind this handle participates in.
func (h *Handle) Kind() Kind { return h.kind }

// Generation returns the cohort the instance was constructed into.
func (h *Handle) Generation() uint64 { return h.generation }

// Phase returns the instance's current lifecycle phase.
func (h *Handle) Phase() Phase {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.phase
}

// Started reports whether the instance fully completed its start phase,
// AfterStart hook included. Exposed for external collaborators; the barrier
// itself never reads it.
func (h *Handle) Started() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.started
}

// Start is the deferred-start entry point, called once per instance after
// Construct returned a won claim. It arrives at the cohort barrier, blocks
// until every constructed singleton has also requested start, then runs the
// AfterStart hook and marks the instance started. A release while waiting
// abandons the start without running the hook; ctx cancellation returns
// ctx.Err() and moves the instance to the aborted phase. The aborted
// instance's arrival stays counted toward its cohort until it is released,
// so Start cannot be retried on it.
func (h *Handle) Start(ctx context.Context) error {
	h.mu.Lock()
	switch h.phase {
	case PhaseReleased:
		h.mu.Unlock()
		return ErrReleased
	case PhaseWaiting, PhaseStarted, PhaseAborted:
		h.mu.Unlock()
		return ErrAlreadyStarted
	}
	h.phase = PhaseWaiting
	// The arrival happens under h.mu so a concurrent Release observes
	// either no arrival or a completed one, never a half-counted member.
	release := h.coord.barrier.ArriveStart()
	h.arrived = true
	cancel := h.cancel
	h.mu.Unlock()

	select {
	case <-release:
		// This arrival completed the cohort; the barrier already reset for
		// the next one.
		h.coord.observe(Event{Type: EventCohortReleased, Kind: h.kind, InstanceID: h.id.String()})
	default:
		h.coord.observe(Event{Type: EventStartWaiting, Kind: h.kind, InstanceID: h.id.String()})
		select {
		case <-release:
		case <-cancel:
			return ErrReleased
		case <-ctx.Done():
			h.mu.Lock()
			if h.phase == PhaseWaiting {
				h.phase = PhaseAborted
			}
			h.mu.Unlock()
			return ctx.Err()
		}
	}

	// A release that raced the barrier firing still wins: the instance is
	// gone, its hook must not run.
	select {
	case <-cancel:
		return ErrReleased
	default:
	}

	if hook, ok := h.instance.(StartHook); ok {
		if err := hook.AfterStart(ctx); err != nil {
			h.coord.log.Error("after-start hook failed", "kind", h.kind, "instance", h.id.String(), "error", err)
			return fmt.Errorf("after start %s: %w", h.kind, err)
		}
	}

	h.mu.Lock()
	if h.phase == PhaseWaiting {
		h.phase = PhaseStarted
		h.started = true
	}
	done := h.phase == PhaseStarted
	h.mu.Unlock()

	if done {
		h.coord.observe(Event{Type: EventStarted, Kind: h.kind, InstanceID: h.id.String()})
	}
	return nil
}

// Release clears the instance's slot if it is still the holder. Equivalent
// to Coordinator.Release on the held instance.
func (h *Handle) Release() {
	h.coord.Release(h.instance)
}

// abandon cancels a pending start and withdraws the instance's counter
// contributions when its cohort has not fired yet.
func (h *Handle) abandon() {
	h.cancelOnce.Do(func() { close(h.cancel) })

	h.mu.Lock()
	withdraw := h.phase == PhaseConstructed || h.phase == PhaseWaiting || h.phase == PhaseAborted
	arrived := h.arrived
	h.phase = PhaseReleased
	h.mu.Unlock()

	if !withdraw {
		return
	}
	fired := h.coord.barrier.Withdraw(h.generation, arrived)
	h.coord.observe(Event{Type: EventWithdrawn, Kind: h.kind, InstanceID: h.id.String()})
	if fired {
		h.coord.observe(Event{Type: EventCohortReleased, Kind: h.kind, InstanceID: h.id.String()})
	}
}
