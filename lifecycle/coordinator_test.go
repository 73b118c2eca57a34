package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeComponent is a minimal hosted instance recording its hook invocations.
type fakeComponent struct {
	kind Kind

	mu               sync.Mutex
	constructedCalls int
	startedCalls     int
	releasedCalls    int
	startErr         error
	alive            bool
}

func newFake(kind Kind) *fakeComponent {
	return &fakeComponent{kind: kind, alive: true}
}

func (f *fakeComponent) Kind() Kind { return f.kind }

func (f *fakeComponent) AfterConstruct(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructedCalls++
	return nil
}

func (f *fakeComponent) AfterStart(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startedCalls++
	return f.startErr
}

func (f *fakeComponent) OnReleased() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releasedCalls++
}

func (f *fakeComponent) starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startedCalls
}

func TestUniquenessPerKind(t *testing.T) {
	c := NewCoordinator()
	a := newFake("alpha")
	a2 := newFake("alpha")

	if claim := c.Construct(context.Background(), a); !claim.Won() {
		t.Fatalf("first claim lost: %s", claim.Reason)
	}
	claim := c.Construct(context.Background(), a2)
	if claim.Won() {
		t.Fatal("second instance of the same kind won the claim")
	}
	if claim.Holder != a {
		t.Fatal("lost claim did not report the current holder")
	}
	if got := c.Snapshot().Constructed; got != 1 {
		t.Fatalf("constructed = %d after duplicate, want 1", got)
	}
	if self, ok := c.Self("alpha"); !ok || self != a {
		t.Fatal("Self changed after a suppressed duplicate")
	}
	if a2.constructedCalls != 0 {
		t.Fatal("loser's AfterConstruct ran")
	}
}

func TestBarrierScenarioThreeKinds(t *testing.T) {
	c := NewCoordinator()
	ctx := context.Background()

	comps := []*fakeComponent{newFake("a"), newFake("b"), newFake("c")}
	handles := make([]*Handle, len(comps))
	for i, f := range comps {
		claim := c.Construct(ctx, f)
		if !claim.Won() {
			t.Fatalf("claim %s lost", f.kind)
		}
		handles[i] = claim.Handle
	}
	if got := c.Snapshot().Constructed; got != 3 {
		t.Fatalf("constructed = %d, want 3", got)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(handles))
	for i, h := range handles {
		wg.Add(1)
		go func(i int, h *Handle) {
			defer wg.Done()
			errs[i] = h.Start(ctx)
		}(i, h)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("start %s: %v", comps[i].kind, err)
		}
	}
	for i, f := range comps {
		if f.starts() != 1 {
			t.Fatalf("%s AfterStart ran %d times", f.kind, f.starts())
		}
		if !handles[i].Started() {
			t.Fatalf("%s not marked started", f.kind)
		}
	}
	snap := c.Snapshot()
	if snap.Constructed != 0 || snap.Ready != 0 {
		t.Fatalf("counters not reset after cohort: %+v", snap)
	}
	if !c.AllReady() {
		t.Fatal("AllReady false after a completed cohort")
	}
}

func TestNoStartBeforeWholeCohortRequests(t *testing.T) {
	c := NewCoordinator()
	ctx := context.Background()

	a := newFake("a")
	b := newFake("b")
	ha := c.Construct(ctx, a).Handle
	hb := c.Construct(ctx, b).Handle

	done := make(chan error, 1)
	go func() { done <- ha.Start(ctx) }()

	select {
	case err := <-done:
		t.Fatalf("a started before b requested start (err=%v)", err)
	case <-time.After(50 * time.Millisecond):
	}
	if a.starts() != 0 {
		t.Fatal("AfterStart ran before the barrier released")
	}

	if err := hb.Start(ctx); err != nil {
		t.Fatalf("start b: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("start a: %v", err)
	}
	if !ha.Started() || !hb.Started() {
		t.Fatal("both instances should be started")
	}
}

func TestIdempotentResetAcrossCohorts(t *testing.T) {
	c := NewCoordinator()
	ctx := context.Background()

	for cohort := 0; cohort < 2; cohort++ {
		kinds := []Kind{"x", "y"}
		var handles []*Handle
		var insts []*fakeComponent
		for _, k := range kinds {
			f := newFake(k)
			claim := c.Construct(ctx, f)
			if !claim.Won() {
				t.Fatalf("cohort %d: claim %s lost", cohort, k)
			}
			insts = append(insts, f)
			handles = append(handles, claim.Handle)
		}

		var wg sync.WaitGroup
		for _, h := range handles {
			wg.Add(1)
			go func(h *Handle) {
				defer wg.Done()
				if err := h.Start(ctx); err != nil {
					t.Errorf("cohort %d start: %v", cohort, err)
				}
			}(h)
		}
		wg.Wait()

		snap := c.Snapshot()
		if snap.Constructed != 0 || snap.Ready != 0 {
			t.Fatalf("cohort %d left counters dirty: %+v", cohort, snap)
		}
		for _, inst := range insts {
			c.Release(inst)
		}
	}
	if got := c.Snapshot().Generation; got != 2 {
		t.Fatalf("generation = %d after two cohorts, want 2", got)
	}
}

func TestReleaseCorrectness(t *testing.T) {
	c := NewCoordinator()
	ctx := context.Background()

	a := newFake("alpha")
	a2 := newFake("alpha")
	c.Construct(ctx, a)
	c.Construct(ctx, a2) // loses

	// Destroying the loser leaves the holder untouched.
	c.Release(a2)
	if self, ok := c.Self("alpha"); !ok || self != a {
		t.Fatal("releasing the loser disturbed the holder")
	}
	if a.releasedCalls != 0 {
		t.Fatal("holder's OnReleased ran on loser release")
	}

	// Destroying the holder clears the slot.
	c.Release(a)
	if c.Exists("alpha") {
		t.Fatal("Exists true after holder release")
	}
	if _, ok := c.Self("alpha"); ok {
		t.Fatal("Self returned a holder after release")
	}
	if a.releasedCalls != 1 {
		t.Fatalf("OnReleased ran %d times, want 1", a.releasedCalls)
	}
}

func TestReleaseMidWaitWithdrawsAndUnstallsCohort(t *testing.T) {
	c := NewCoordinator()
	ctx := context.Background()

	a := newFake("a")
	b := newFake("b")
	ha := c.Construct(ctx, a).Handle
	hb := c.Construct(ctx, b).Handle

	done := make(chan error, 1)
	go func() { done <- ha.Start(ctx) }()

	// Wait until a has arrived at the barrier.
	deadline := time.Now().Add(time.Second)
	for c.Snapshot().Ready != 1 {
		if time.Now().After(deadline) {
			t.Fatal("a never arrived at the barrier")
		}
		time.Sleep(time.Millisecond)
	}

	c.Release(a)
	if err := <-done; !errors.Is(err, ErrReleased) {
		t.Fatalf("abandoned start returned %v, want ErrReleased", err)
	}
	if a.starts() != 0 {
		t.Fatal("AfterStart ran for a released instance")
	}
	if ha.Started() {
		t.Fatal("released instance marked started")
	}

	// The withdrawal must not stall b forever.
	if err := hb.Start(ctx); err != nil {
		t.Fatalf("survivor start: %v", err)
	}
	if !hb.Started() {
		t.Fatal("survivor did not start after the withdrawal")
	}
}

func TestStartContextCancellation(t *testing.T) {
	c := NewCoordinator()
	a := newFake("a")
	c.Construct(context.Background(), a)
	c.Construct(context.Background(), newFake("b"))

	ctx, cancel := context.WithCancel(context.Background())
	ha, _ := c.Handle("a")
	done := make(chan error, 1)
	go func() { done <- ha.Start(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled start returned %v", err)
	}
	if ha.Started() {
		t.Fatal("cancelled instance marked started")
	}
	if got := ha.Phase(); got != PhaseAborted {
		t.Fatalf("phase after cancellation = %s, want %s", got, PhaseAborted)
	}
	// The arrival already counted, so a retry is rejected.
	if err := ha.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("retry on aborted handle returned %v", err)
	}

	// Releasing the aborted instance withdraws its counted arrival, letting
	// the survivor complete the cohort alone.
	c.Release(a)
	hb, _ := c.Handle("b")
	if err := hb.Start(context.Background()); err != nil {
		t.Fatalf("survivor start: %v", err)
	}
	if !hb.Started() {
		t.Fatal("survivor did not start after the aborted member was released")
	}
}

func TestAfterStartErrorLeavesNotStarted(t *testing.T) {
	c := NewCoordinator()
	ctx := context.Background()

	a := newFake("a")
	a.startErr = errors.New("boom")
	claim := c.Construct(ctx, a)

	err := claim.Handle.Start(ctx)
	if err == nil {
		t.Fatal("hook error not surfaced")
	}
	if claim.Handle.Started() {
		t.Fatal("Started true after a failed AfterStart")
	}
}

func TestStaleHolderRelookup(t *testing.T) {
	var findMu sync.Mutex
	var found Singleton
	finder := FinderFunc(func(kind Kind) Singleton {
		findMu.Lock()
		defer findMu.Unlock()
		return found
	})
	c := NewCoordinator(WithFinder(finder))

	stale := newFake("gamma")
	holder := &livenessWrapper{fakeComponent: stale}
	if claim := c.Construct(context.Background(), holder); !claim.Won() {
		t.Fatalf("initial claim lost: %s", claim.Reason)
	}

	// The holder's backing object dies without a Release call; Self repairs
	// the slot through the defensive re-lookup.
	stale.mu.Lock()
	stale.alive = false
	stale.mu.Unlock()

	live := newFake("gamma")
	findMu.Lock()
	found = live
	findMu.Unlock()

	self, ok := c.Self("gamma")
	if !ok || self != Singleton(live) {
		t.Fatalf("Self did not adopt the live instance, got %v ok=%v", self, ok)
	}

	// Absent everywhere: degraded read, not a failure.
	findMu.Lock()
	found = nil
	findMu.Unlock()
	c.Release(live)
	if _, ok := c.Self("gamma"); ok {
		t.Fatal("Self found a holder after release with no live instance")
	}
}

// livenessWrapper adds Alive to a fakeComponent.
type livenessWrapper struct {
	*fakeComponent
}

func (w *livenessWrapper) Alive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.alive
}

func TestObserverSeesLifecycleEvents(t *testing.T) {
	var mu sync.Mutex
	seen := map[EventType]int{}
	c := NewCoordinator(WithObserver(func(ev Event) {
		mu.Lock()
		seen[ev.Type]++
		mu.Unlock()
	}))
	ctx := context.Background()

	a := newFake("a")
	claim := c.Construct(ctx, a)
	c.Construct(ctx, newFake("a")) // duplicate
	if err := claim.Handle.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	c.Release(a)

	mu.Lock()
	defer mu.Unlock()
	for _, typ := range []EventType{EventConstructed, EventDuplicateSuppressed, EventCohortReleased, EventStarted, EventReleased} {
		if seen[typ] == 0 {
			t.Errorf("no %s event observed (got %v)", typ, seen)
		}
	}
}
