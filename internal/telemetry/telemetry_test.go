package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/soloplane/soloplane/lifecycle"
)

func TestObserveUpdatesCounters(t *testing.T) {
	m := New()
	now := time.Now()

	m.Observe(lifecycle.Event{Type: lifecycle.EventConstructed, Kind: "a", InstanceID: "i1", Constructed: 1, Time: now})
	m.Observe(lifecycle.Event{Type: lifecycle.EventDuplicateSuppressed, Kind: "a", Constructed: 1, Time: now})
	m.Observe(lifecycle.Event{Type: lifecycle.EventStartWaiting, Kind: "a", InstanceID: "i1", Constructed: 1, Ready: 1, Time: now})
	m.Observe(lifecycle.Event{Type: lifecycle.EventCohortReleased, Kind: "a", InstanceID: "i1", Generation: 1, Time: now})
	m.Observe(lifecycle.Event{Type: lifecycle.EventStarted, Kind: "a", InstanceID: "i1", Generation: 1, Time: now.Add(50 * time.Millisecond)})

	assert.Equal(t, float64(1), testutil.ToFloat64(m.duplicates), "duplicates")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.cohorts), "cohorts")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.started.WithLabelValues("a")), "started")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.generation), "generation gauge")

	m.mu.Lock()
	pending := len(m.waitingSince)
	m.mu.Unlock()
	assert.Zero(t, pending, "wait table should be drained")
}

func TestObserveWithdrawnDropsWaitEntry(t *testing.T) {
	m := New()
	m.Observe(lifecycle.Event{Type: lifecycle.EventStartWaiting, Kind: "a", InstanceID: "i1", Time: time.Now()})
	m.Observe(lifecycle.Event{Type: lifecycle.EventWithdrawn, Kind: "a", InstanceID: "i1", Time: time.Now()})

	assert.Equal(t, float64(1), testutil.ToFloat64(m.withdrawn), "withdrawn")

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Empty(t, m.waitingSince, "withdrawn instance left in wait table")
}

func TestGaugesTrackSnapshot(t *testing.T) {
	m := New()
	m.Observe(lifecycle.Event{Type: lifecycle.EventConstructed, Kind: "a", Constructed: 3, Ready: 1, Generation: 2, Time: time.Now()})

	assert.Equal(t, float64(3), testutil.ToFloat64(m.constructed))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ready))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.generation))
}
