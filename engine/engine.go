// Package engine hosts singleton components. It owns component construction
// and lifetime, drives each instance through the coordinator's two startup
// phases, and disposes of losing duplicates.
package engine

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/soloplane/soloplane/lifecycle"
)

// State represents the engine state.
type State string

const (
	StateCreated  State = "created"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

// Settings carries per-component configuration from the manifest.
type Settings map[string]string

// Factory creates a component instance from its manifest settings.
type Factory func(settings Settings) (lifecycle.Singleton, error)

// Definition declares a component to be hosted. Registered before Start.
type Definition struct {
	Kind     lifecycle.Kind
	Factory  Factory
	Settings Settings
}

type component struct {
	def      Definition
	instance lifecycle.Singleton
	handle   *lifecycle.Handle
}

// Engine is the hosting runtime for singleton components.
type Engine struct {
	mu sync.RWMutex

	coord *lifecycle.Coordinator
	log   lifecycle.Logger
	state State

	definitions []Definition
	components  []*component

	cancel context.CancelFunc

	onStateChange func(State)
}

// Stats summarizes the engine and lifecycle counters.
type Stats struct {
	State      State              `json:"state"`
	Components int                `json:"components"`
	Started    int                `json:"started"`
	Lifecycle  lifecycle.Snapshot `json:"lifecycle"`
}

// New creates an engine bound to coord. The engine registers itself as the
// coordinator's live-instance finder so defensive re-lookups search the
// component table.
func New(coord *lifecycle.Coordinator, log lifecycle.Logger) *Engine {
	e := &Engine{
		coord: coord,
		log:   log,
		state: StateCreated,
	}
	coord.SetFinder(e)
	return e
}

// State returns the current engine state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// OnStateChange sets a callback invoked on every state transition.
func (e *Engine) OnStateChange(fn func(State)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onStateChange = fn
}

func (e *Engine) setState(state State) {
	e.mu.Lock()
	e.state = state
	callback := e.onStateChange
	e.mu.Unlock()

	if callback != nil {
		callback(state)
	}
}

// Register declares a component. Must be called before Start; a duplicate
// kind is rejected.
func (e *Engine) Register(def Definition) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateCreated && e.state != StateStopped {
		return fmt.Errorf("cannot register components while engine is %s", e.state)
	}
	if def.Kind == "" {
		return fmt.Errorf("component kind is required")
	}
	if def.Factory == nil {
		return fmt.Errorf("component %s: factory is required", def.Kind)
	}
	for _, existing := range e.definitions {
		if existing.Kind == def.Kind {
			return fmt.Errorf("component already registered: %s", def.Kind)
		}
	}
	e.definitions = append(e.definitions, def)
	return nil
}

// Start constructs every registered component in registration order, then
// runs their start phases concurrently and returns once the whole cohort has
// been driven through the barrier. If ctx dies before the cohort settles, the
// constructed components are released again and the engine returns to the
// stopped state. A later Start after Stop constructs a fresh cohort with
// clean counters.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateCreated && e.state != StateStopped {
		e.mu.Unlock()
		return fmt.Errorf("engine already started")
	}
	e.state = StateStarting
	definitions := e.definitions
	callback := e.onStateChange
	e.mu.Unlock()
	if callback != nil {
		callback(StateStarting)
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	// Construction phase, sequential in registration order.
	for _, def := range definitions {
		instance, err := def.Factory(def.Settings)
		if err != nil {
			e.log.Error("component factory failed", "kind", def.Kind, "error", err)
			continue
		}

		claim := e.coord.Construct(runCtx, instance)
		if !claim.Won() {
			e.log.Error("component lost its claim, disposing", "kind", def.Kind, "reason", claim.Reason)
			e.dispose(instance)
			continue
		}

		e.mu.Lock()
		e.components = append(e.components, &component{def: def, instance: instance, handle: claim.Handle})
		e.mu.Unlock()
	}

	// Start phase: every component independently, released together by the
	// cohort barrier.
	e.mu.RLock()
	components := make([]*component, len(e.components))
	copy(components, e.components)
	e.mu.RUnlock()

	var wg sync.WaitGroup
	for _, comp := range components {
		wg.Add(1)
		go func(comp *component) {
			defer wg.Done()
			if err := comp.handle.Start(runCtx); err != nil {
				e.log.Error("component start failed", "kind", comp.def.Kind, "error", err)
			}
		}(comp)
	}
	wg.Wait()

	if err := runCtx.Err(); err != nil {
		cancel()
		e.mu.Lock()
		constructed := e.components
		e.components = nil
		e.mu.Unlock()
		e.releaseAll(constructed)
		e.setState(StateStopped)
		return fmt.Errorf("engine start aborted: %w", err)
	}

	e.setState(StateRunning)
	e.log.Info("engine running", "components", len(components))
	return nil
}

// Stop releases every component in reverse construction order and returns
// the engine to the stopped state. The engine can be started again.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateRunning && e.state != StateStarting {
		e.mu.Unlock()
		return nil
	}
	components := e.components
	e.components = nil
	cancel := e.cancel
	e.mu.Unlock()

	e.setState(StateStopping)
	if cancel != nil {
		cancel()
	}

	e.releaseAll(components)

	e.setState(StateStopped)
	e.log.Info("engine stopped")
	return nil
}

// releaseAll frees the components' coordinator slots in reverse construction
// order and disposes of the instances.
func (e *Engine) releaseAll(components []*component) {
	for i := len(components) - 1; i >= 0; i-- {
		comp := components[i]
		e.coord.Release(comp.instance)
		e.dispose(comp.instance)
	}
}

// ReleaseComponent force-releases one component by kind, disposing of the
// instance. Used by the admin control surface.
func (e *Engine) ReleaseComponent(kind lifecycle.Kind) error {
	e.mu.Lock()
	idx := -1
	for i, comp := range e.components {
		if comp.def.Kind == kind {
			idx = i
			break
		}
	}
	var target *component
	if idx >= 0 {
		target = e.components[idx]
		e.components = append(e.components[:idx], e.components[idx+1:]...)
	}
	e.mu.Unlock()

	if target == nil {
		return fmt.Errorf("no such component: %s", kind)
	}
	e.coord.Release(target.instance)
	e.dispose(target.instance)
	return nil
}

// FindLive implements lifecycle.Finder over the engine's component table.
func (e *Engine) FindLive(kind lifecycle.Kind) lifecycle.Singleton {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, comp := range e.components {
		if comp.instance.Kind() == kind {
			return comp.instance
		}
	}
	return nil
}

// Lookup returns a hosted component instance by kind.
func (e *Engine) Lookup(kind lifecycle.Kind) (lifecycle.Singleton, bool) {
	inst := e.FindLive(kind)
	return inst, inst != nil
}

// Components returns the kinds of all hosted components in construction order.
func (e *Engine) Components() []lifecycle.Kind {
	e.mu.RLock()
	defer e.mu.RUnlock()
	kinds := make([]lifecycle.Kind, 0, len(e.components))
	for _, comp := range e.components {
		kinds = append(kinds, comp.def.Kind)
	}
	return kinds
}

// Handle returns the lifecycle handle for a hosted component.
func (e *Engine) Handle(kind lifecycle.Kind) (*lifecycle.Handle, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, comp := range e.components {
		if comp.def.Kind == kind {
			return comp.handle, comp.handle != nil
		}
	}
	return nil, false
}

// Ready reports whether the engine is running and the whole cohort has
// settled behind the barrier.
func (e *Engine) Ready() bool {
	return e.State() == StateRunning && e.coord.AllReady()
}

// Stats returns engine statistics.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	state := e.state
	components := make([]*component, len(e.components))
	copy(components, e.components)
	e.mu.RUnlock()

	stats := Stats{
		State:      state,
		Components: len(components),
		Lifecycle:  e.coord.Snapshot(),
	}
	for _, comp := range components {
		if comp.handle != nil && comp.handle.Started() {
			stats.Started++
		}
	}
	return stats
}

func (e *Engine) dispose(instance lifecycle.Singleton) {
	if closer, ok := instance.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			e.log.Warn("component close failed", "kind", instance.Kind(), "error", err)
		}
	}
}
