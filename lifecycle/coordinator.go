package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind is the stable identifier of a singleton type. Slots are keyed by Kind
// in an explicit table rather than by per-type static storage.
type Kind string

// Singleton is the minimal contract for instances hosted by a Coordinator.
// The hosting runtime owns the instance's memory and lifetime; the
// coordinator only tracks which instance currently holds each kind's slot.
type Singleton interface {
	Kind() Kind
}

// ConstructHook runs synchronously right after an instance wins its claim.
type ConstructHook interface {
	AfterConstruct(ctx context.Context) error
}

// StartHook runs after the cohort barrier releases; it may block internally.
type StartHook interface {
	AfterStart(ctx context.Context) error
}

// ReleaseHook runs synchronously when the holder is released from its slot.
type ReleaseHook interface {
	OnReleased()
}

// Liveness lets the coordinator detect a cached holder whose backing object
// was torn down without a Release call.
type Liveness interface {
	Alive() bool
}

// Finder locates a live instance of a kind when the cached holder is stale
// or absent. The hosting runtime supplies it; implementations must not call
// back into the Coordinator.
type Finder interface {
	FindLive(kind Kind) Singleton
}

// FinderFunc adapts a function to the Finder interface.
type FinderFunc func(Kind) Singleton

// FindLive calls f.
func (f FinderFunc) FindLive(kind Kind) Singleton { return f(kind) }

// Logger is the minimal logging surface the coordinator needs. Messages
// carry alternating key/value context arguments.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// EventType tags lifecycle events delivered to observers.
type EventType string

const (
	EventConstructed         EventType = "constructed"
	EventDuplicateSuppressed EventType = "duplicate_suppressed"
	EventStartWaiting        EventType = "start_waiting"
	EventCohortReleased      EventType = "cohort_released"
	EventStarted             EventType = "started"
	EventReleased            EventType = "released"
	EventWithdrawn           EventType = "withdrawn"
)

// Event describes one lifecycle transition. Counter fields are a snapshot
// taken when the event was emitted.
type Event struct {
	Type        EventType `json:"type"`
	Kind        Kind      `json:"kind"`
	InstanceID  string    `json:"instance_id,omitempty"`
	Generation  uint64    `json:"generation"`
	Constructed int       `json:"constructed"`
	Ready       int       `json:"ready"`
	Time        time.Time `json:"time"`
}

// Observer receives lifecycle events. Observers run synchronously on the
// emitting goroutine and must be fast.
type Observer func(Event)

// ErrReleased is returned by Handle.Start when the instance was released
// while still awaiting its cohort; its AfterStart hook did not run.
var ErrReleased = errors.New("lifecycle: instance released while awaiting cohort")

// ErrAlreadyStarted is returned by Handle.Start on a second invocation.
var ErrAlreadyStarted = errors.New("lifecycle: start already requested for this instance")

// Outcome tags the result of a claim.
type Outcome string

const (
	OutcomeWon  Outcome = "won"
	OutcomeLost Outcome = "lost"
)

// Claim is the tagged result of Construct. The coordinator never destroys
// losing instances itself; the hosting runtime inspects the outcome and
// disposes of losers.
type Claim struct {
	Outcome Outcome
	// Reason explains a lost claim.
	Reason string
	// Holder is the instance currently occupying the slot.
	Holder Singleton
	// Handle is the winner's participation record; nil on a lost claim.
	Handle *Handle
}

// Won reports whether the claimant holds the slot.
func (c *Claim) Won() bool { return c.Outcome == OutcomeWon }

type slot struct {
	holder Singleton
	handle *Handle
}

// Coordinator guarantees at most one live instance per Kind and drives every
// winner through the shared two-phase startup. It owns the cohort Barrier
// and the slot table.
type Coordinator struct {
	mu        sync.Mutex
	slots     map[Kind]*slot
	barrier   *Barrier
	finder    Finder
	log       Logger
	observers []Observer
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator's logger.
func WithLogger(log Logger) Option {
	return func(c *Coordinator) {
		if log != nil {
			c.log = log
		}
	}
}

// WithObserver registers an observer for lifecycle events.
func WithObserver(obs Observer) Option {
	return func(c *Coordinator) {
		if obs != nil {
			c.observers = append(c.observers, obs)
		}
	}
}

// WithFinder sets the live-instance lookup used when a cached holder is
// stale or absent.
func WithFinder(f Finder) Option {
	return func(c *Coordinator) { c.finder = f }
}

// NewCoordinator creates a coordinator with an empty slot table and a fresh
// barrier.
func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{
		slots:   make(map[Kind]*slot),
		barrier: NewBarrier(),
		log:     nopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetFinder installs the live-instance lookup after construction. The
// hosting runtime typically registers itself here once it exists.
func (c *Coordinator) SetFinder(f Finder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finder = f
}

// Barrier exposes the cohort barrier for read-only introspection.
func (c *Coordinator) Barrier() *Barrier { return c.barrier }

// AllReady reports whether every constructed singleton has finished
// requesting start. Transiently true between cohorts.
func (c *Coordinator) AllReady() bool { return c.barrier.AllReady() }

// Snapshot returns the current barrier counters.
func (c *Coordinator) Snapshot() Snapshot { return c.barrier.Snapshot() }

func alive(s Singleton) bool {
	if l, ok := s.(Liveness); ok {
		return l.Alive()
	}
	return true
}

// Construct performs the claim for s's kind. Exactly one live instance wins;
// any other claimant loses and is reported back to the runtime for disposal
// without touching counters or hooks. On a won claim the construction
// counter is incremented and the AfterConstruct hook runs synchronously;
// a hook error is logged and contained, it does not revoke the claim.
func (c *Coordinator) Construct(ctx context.Context, s Singleton) *Claim {
	kind := s.Kind()

	c.mu.Lock()
	sl := c.slots[kind]
	if sl == nil {
		sl = &slot{}
		c.slots[kind] = sl
	}

	if sl.holder != nil && !alive(sl.holder) {
		c.log.Warn("stale holder dropped", "kind", kind)
		sl.holder = nil
		sl.handle = nil
	}

	if sl.holder == nil {
		// Defensive re-lookup across live objects before adopting the
		// claimant: an instance that registered out of band keeps the slot.
		if c.finder != nil {
			if found := c.finder.FindLive(kind); found != nil && found != s {
				sl.holder = found
				c.mu.Unlock()
				c.log.Error("duplicate singleton suppressed", "kind", kind, "reason", "live instance adopted from lookup")
				c.observe(Event{Type: EventDuplicateSuppressed, Kind: kind})
				return &Claim{Outcome: OutcomeLost, Reason: "a live instance already exists", Holder: found}
			}
		}
		sl.holder = s
	}

	if sl.holder != s {
		holder := sl.holder
		c.mu.Unlock()
		c.log.Error("duplicate singleton suppressed", "kind", kind, "reason", "slot already held")
		c.observe(Event{Type: EventDuplicateSuppressed, Kind: kind})
		return &Claim{Outcome: OutcomeLost, Reason: "slot already held by another instance", Holder: holder}
	}

	if sl.handle != nil {
		// Idempotent re-claim by the current holder.
		h := sl.handle
		c.mu.Unlock()
		return &Claim{Outcome: OutcomeWon, Holder: s, Handle: h}
	}

	gen := c.barrier.Arrive()
	h := &Handle{
		coord:      c,
		instance:   s,
		id:         uuid.New(),
		kind:       kind,
		generation: gen,
		phase:      PhaseConstructed,
		cancel:     make(chan struct{}),
	}
	sl.handle = h
	c.mu.Unlock()

	c.log.Info("singleton constructed", "kind", kind, "instance", h.id.String(), "generation", gen)
	c.observe(Event{Type: EventConstructed, Kind: kind, InstanceID: h.id.String()})

	if hook, ok := s.(ConstructHook); ok {
		if err := hook.AfterConstruct(ctx); err != nil {
			c.log.Error("after-construct hook failed", "kind", kind, "error", err)
		}
	}
	return &Claim{Outcome: OutcomeWon, Holder: s, Handle: h}
}

// Self returns the current holder for kind. A stale cached holder triggers
// the defensive re-lookup through the Finder; when no live instance exists
// anywhere, a warning is logged and (nil, false) is returned. Callers must
// tolerate a temporarily absent singleton.
func (c *Coordinator) Self(kind Kind) (Singleton, bool) {
	c.mu.Lock()
	sl := c.slots[kind]
	if sl != nil && sl.holder != nil {
		if alive(sl.holder) {
			holder := sl.holder
			c.mu.Unlock()
			return holder, true
		}
		sl.holder = nil
		sl.handle = nil
	}
	if c.finder != nil {
		if found := c.finder.FindLive(kind); found != nil {
			if sl == nil {
				sl = &slot{}
				c.slots[kind] = sl
			}
			sl.holder = found
			c.mu.Unlock()
			return found, true
		}
	}
	c.mu.Unlock()
	c.log.Warn("no live singleton", "kind", kind)
	return nil, false
}

// Exists reports whether a holder is currently cached for kind. Read-only:
// no lookup, no staleness repair.
func (c *Coordinator) Exists(kind Kind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	sl := c.slots[kind]
	return sl != nil && sl.holder != nil
}

// Release is the destruction hook. When s is the current holder its slot is
// cleared and the OnReleased hook runs; a losing duplicate or an already
// cleared slot makes this a no-op. An instance released before finishing its
// start phase has its counter contributions withdrawn so the rest of its
// cohort is not stalled forever.
func (c *Coordinator) Release(s Singleton) {
	kind := s.Kind()

	c.mu.Lock()
	sl := c.slots[kind]
	if sl == nil || sl.holder != s {
		c.mu.Unlock()
		return
	}
	h := sl.handle
	sl.holder = nil
	sl.handle = nil
	c.mu.Unlock()

	if h != nil {
		h.abandon()
	}
	if hook, ok := s.(ReleaseHook); ok {
		hook.OnReleased()
	}
	id := ""
	if h != nil {
		id = h.id.String()
	}
	c.log.Info("singleton released", "kind", kind, "instance", id)
	c.observe(Event{Type: EventReleased, Kind: kind, InstanceID: id})
}

// ReleaseKind force-releases the slot for kind, returning the former holder
// so the hosting runtime can dispose of it.
func (c *Coordinator) ReleaseKind(kind Kind) (Singleton, bool) {
	c.mu.Lock()
	sl := c.slots[kind]
	var holder Singleton
	if sl != nil {
		holder = sl.holder
	}
	c.mu.Unlock()
	if holder == nil {
		return nil, false
	}
	c.Release(holder)
	return holder, true
}

// Handle returns the participation record of the current holder for kind.
func (c *Coordinator) Handle(kind Kind) (*Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sl := c.slots[kind]
	if sl == nil || sl.handle == nil {
		return nil, false
	}
	return sl.handle, true
}

func (c *Coordinator) observe(ev Event) {
	snap := c.barrier.Snapshot()
	ev.Generation = snap.Generation
	ev.Constructed = snap.Constructed
	ev.Ready = snap.Ready
	ev.Time = time.Now()

	c.mu.Lock()
	observers := c.observers
	c.mu.Unlock()
	for _, obs := range observers {
		obs(ev)
	}
}
