package lcu

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// EventName identifies a connection lifecycle event.
type EventName string

const (
	EventOpen       EventName = "open"       // connection created, api may not be up yet
	EventReady      EventName = "ready"      // readiness probe answered
	EventClose      EventName = "close"      // connection torn down, any reason
	EventDisconnect EventName = "disconnect" // teardown caused by the client going away
)

func (n EventName) valid() bool {
	switch n {
	case EventOpen, EventReady, EventClose, EventDisconnect:
		return true
	}
	return false
}

// LifecycleHandler observes a connection lifecycle event. Errors are
// logged; they never affect the connection.
type LifecycleHandler func(ctx context.Context, conn *Connection) error

// EventRegistry maps lifecycle events to their handlers.
type EventRegistry struct {
	mu       sync.RWMutex
	handlers map[EventName][]LifecycleHandler
	logger   *zap.Logger
}

func NewEventRegistry(logger *zap.Logger) *EventRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventRegistry{
		handlers: make(map[EventName][]LifecycleHandler),
		logger:   logger,
	}
}

// Register appends h to the handlers for name.
func (r *EventRegistry) Register(name EventName, h LifecycleHandler) error {
	if !name.valid() {
		return fmt.Errorf("%w: unknown event %q", ErrInvalidRegistration, name)
	}
	if h == nil {
		return fmt.Errorf("%w: nil handler for %q", ErrInvalidRegistration, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = append(r.handlers[name], h)
	return nil
}

// Handlers returns how many handlers are registered for name.
func (r *EventRegistry) Handlers(name EventName) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[name])
}

// Fire runs every handler for name concurrently and returns once all of
// them have returned.
func (r *EventRegistry) Fire(ctx context.Context, name EventName, conn *Connection) {
	r.mu.RLock()
	handlers := r.handlers[name]
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, h := range handlers {
		h := h
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					r.logger.Error("lifecycle handler panicked", zap.String("event", string(name)), zap.Any("panic", p))
				}
			}()
			if err := h(ctx, conn); err != nil {
				r.logger.Warn("lifecycle handler failed", zap.String("event", string(name)), zap.Error(err))
			}
		}()
	}
	wg.Wait()
}
