// Package dispatch routes validated tool intents to their handlers.
// One handler per tool; the dispatcher owns no business logic and never
// mutates the execution context it forwards.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/bindevz/tilsoftai/internal/tools"
	"github.com/bindevz/tilsoftai/pkg/models"
)

// Outcome is the handler's verdict on a single tool call. Success and
// Message always carry; Data holds the kind-shaped payload the contract
// layer validates, and Evidence is the compact substitute kept when the
// full payload is dropped from history.
type Outcome struct {
	Success  bool
	Message  string
	Kind     string
	Data     map[string]any
	Evidence map[string]any
	Source   string
	Warnings []string
}

// Handler executes one tool against a validated intent.
type Handler interface {
	Name() string
	Handle(ctx context.Context, intent *tools.Intent, execCtx models.ExecutionContext) (*Outcome, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc struct {
	ToolName string
	Fn       func(ctx context.Context, intent *tools.Intent, execCtx models.ExecutionContext) (*Outcome, error)
}

func (h HandlerFunc) Name() string { return h.ToolName }

func (h HandlerFunc) Handle(ctx context.Context, intent *tools.Intent, execCtx models.ExecutionContext) (*Outcome, error) {
	return h.Fn(ctx, intent, execCtx)
}

// Dispatcher maps tool names to handlers.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register binds a handler to its tool name. Double registration is a
// wiring bug and fails loudly.
func (d *Dispatcher) Register(h Handler) error {
	if h == nil || h.Name() == "" {
		return fmt.Errorf("handler with a tool name is required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.handlers[h.Name()]; exists {
		return fmt.Errorf("handler for %q already registered", h.Name())
	}
	d.handlers[h.Name()] = h
	return nil
}

// MustRegister is Register for startup wiring, panicking on error.
func (d *Dispatcher) MustRegister(h Handler) {
	if err := d.Register(h); err != nil {
		panic(err)
	}
}

// Dispatch routes the intent to its handler. A missing handler is an
// internal wiring failure, distinct from handler execution errors.
func (d *Dispatcher) Dispatch(ctx context.Context, intent *tools.Intent, execCtx models.ExecutionContext) (*Outcome, error) {
	d.mu.RLock()
	h, ok := d.handlers[intent.Tool]
	d.mu.RUnlock()
	if !ok {
		return nil, &NoHandlerError{Tool: intent.Tool}
	}
	return h.Handle(ctx, intent, execCtx)
}

// Names returns registered tool names sorted for stable iteration.
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NoHandlerError reports a tool that passed exposure and validation but
// has no registered handler.
type NoHandlerError struct {
	Tool string
}

func (e *NoHandlerError) Error() string {
	return fmt.Sprintf("no handler registered for tool %q", e.Tool)
}
