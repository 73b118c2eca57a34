package lifecycle

import "testing"

func closed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestBarrierSingleMember(t *testing.T) {
	b := NewBarrier()
	b.Arrive()
	if b.Constructed() != 1 || b.Ready() != 0 {
		t.Fatalf("counters after arrive: constructed=%d ready=%d", b.Constructed(), b.Ready())
	}
	if b.AllReady() {
		t.Fatal("AllReady true with a pending member")
	}

	ch := b.ArriveStart()
	if !closed(ch) {
		t.Fatal("sole member should release its own cohort")
	}
	snap := b.Snapshot()
	if snap.Constructed != 0 || snap.Ready != 0 || snap.Generation != 1 {
		t.Fatalf("post-release snapshot: %+v", snap)
	}
	if !b.AllReady() {
		t.Fatal("AllReady false between cohorts")
	}
}

func TestBarrierThreeMemberScenario(t *testing.T) {
	b := NewBarrier()
	for i := 0; i < 3; i++ {
		b.Arrive()
	}
	if b.Constructed() != 3 {
		t.Fatalf("constructed = %d, want 3", b.Constructed())
	}

	chA := b.ArriveStart()
	if closed(chA) {
		t.Fatal("barrier released after first arrival")
	}
	if b.Ready() != 1 {
		t.Fatalf("ready = %d, want 1", b.Ready())
	}

	chB := b.ArriveStart()
	if closed(chB) {
		t.Fatal("barrier released after second arrival")
	}

	chC := b.ArriveStart()
	// The triggering member captures the release decision before the reset.
	if !closed(chC) {
		t.Fatal("triggering arrival did not observe the release")
	}
	if !closed(chA) || !closed(chB) {
		t.Fatal("earlier waiters did not observe the broadcast")
	}
	snap := b.Snapshot()
	if snap.Constructed != 0 || snap.Ready != 0 {
		t.Fatalf("counters not reset: %+v", snap)
	}
}

func TestBarrierFreshCohortAfterReset(t *testing.T) {
	b := NewBarrier()
	b.Arrive()
	b.ArriveStart()

	// The next cohort starts clean, as after a scene reload.
	gen := b.Arrive()
	if gen != 1 {
		t.Fatalf("second cohort generation = %d, want 1", gen)
	}
	b.Arrive()
	ch1 := b.ArriveStart()
	if closed(ch1) {
		t.Fatal("second cohort released early")
	}
	ch2 := b.ArriveStart()
	if !closed(ch2) || !closed(ch1) {
		t.Fatal("second cohort did not release")
	}
}

func TestBarrierWithdrawReleasesSurvivors(t *testing.T) {
	b := NewBarrier()
	gen := b.Arrive()
	b.Arrive()
	b.Arrive()

	chA := b.ArriveStart()
	chB := b.ArriveStart()

	// The third member is destroyed before requesting start. Its withdrawal
	// completes the cohort for the two waiters.
	if fired := b.Withdraw(gen, false); !fired {
		t.Fatal("withdraw of the last pending member should fire the barrier")
	}
	if !closed(chA) || !closed(chB) {
		t.Fatal("survivors not released after withdrawal")
	}
}

func TestBarrierWithdrawArrivedMember(t *testing.T) {
	b := NewBarrier()
	gen := b.Arrive()
	b.Arrive()

	chA := b.ArriveStart()
	// A arrived and is then destroyed mid-wait; both its contributions roll
	// back, leaving B a cohort of one.
	if fired := b.Withdraw(gen, true); fired {
		t.Fatal("withdraw should not fire while B has not arrived")
	}
	if closed(chA) {
		t.Fatal("release channel closed by a non-firing withdraw")
	}
	snap := b.Snapshot()
	if snap.Constructed != 1 || snap.Ready != 0 {
		t.Fatalf("counters after withdraw: %+v", snap)
	}

	chB := b.ArriveStart()
	if !closed(chB) {
		t.Fatal("remaining member should release alone")
	}
}

func TestBarrierWithdrawStaleGeneration(t *testing.T) {
	b := NewBarrier()
	gen := b.Arrive()
	b.ArriveStart() // fires, generation advances

	b.Arrive()
	if fired := b.Withdraw(gen, true); fired {
		t.Fatal("stale-generation withdraw must be a no-op")
	}
	if b.Constructed() != 1 {
		t.Fatalf("stale withdraw touched the new cohort: constructed=%d", b.Constructed())
	}
}
