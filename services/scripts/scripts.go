// Package scripts hosts the startup script runner component, a small
// JavaScript environment for deployment-time init checks.
package scripts

import (
	"context"
	"fmt"
	"sync"

	"github.com/dop251/goja"

	"github.com/soloplane/soloplane/internal/logging"
	"github.com/soloplane/soloplane/lifecycle"
)

// Kind identifies the scripts component slot.
const Kind lifecycle.Kind = "scripts"

// Service evaluates configured startup snippets once the whole cohort is up,
// and exposes Eval for ad-hoc expressions. The goja runtime is not
// goroutine-safe, so every evaluation serializes on a mutex.
type Service struct {
	log     *logging.Logger
	startup []string

	mu sync.Mutex
	vm *goja.Runtime
}

var (
	_ lifecycle.Singleton     = (*Service)(nil)
	_ lifecycle.ConstructHook = (*Service)(nil)
	_ lifecycle.StartHook     = (*Service)(nil)
)

// New creates the scripts component with the given startup snippets.
func New(startup []string, log *logging.Logger) *Service {
	return &Service{startup: startup, log: log.WithField("component", string(Kind))}
}

// Kind implements lifecycle.Singleton.
func (s *Service) Kind() lifecycle.Kind { return Kind }

// AfterConstruct builds the runtime and binds console.log.
func (s *Service) AfterConstruct(ctx context.Context) error {
	vm := goja.New()

	console := vm.NewObject()
	log := s.log
	if err := console.Set("log", func(call goja.FunctionCall) goja.Value {
		args := make([]any, 0, len(call.Arguments))
		for _, a := range call.Arguments {
			args = append(args, a.Export())
		}
		log.Info("script output", "args", args)
		return goja.Undefined()
	}); err != nil {
		return err
	}
	if err := vm.Set("console", console); err != nil {
		return err
	}

	s.vm = vm
	return nil
}

// AfterStart runs the startup snippets in order. A failing snippet fails the
// component's start; the snippets exist to assert the deployment is sane.
func (s *Service) AfterStart(ctx context.Context) error {
	for i, src := range s.startup {
		if _, err := s.Eval(src); err != nil {
			return fmt.Errorf("startup script %d: %w", i, err)
		}
	}
	if len(s.startup) > 0 {
		s.log.Info("startup scripts completed", "count", len(s.startup))
	}
	return nil
}

// Eval evaluates a JavaScript expression and returns its result as a string.
func (s *Service) Eval(src string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vm == nil {
		return "", fmt.Errorf("runtime not constructed")
	}
	value, err := s.vm.RunString(src)
	if err != nil {
		return "", fmt.Errorf("evaluate script: %w", err)
	}
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return "", nil
	}
	return value.String(), nil
}
