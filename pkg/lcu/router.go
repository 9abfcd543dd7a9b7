package lcu

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// EventType is the kind of change a websocket event reports.
type EventType string

const (
	Create EventType = "CREATE"
	Update EventType = "UPDATE"
	Delete EventType = "DELETE"
)

// AllEventTypes is the default filter for routes.
var AllEventTypes = []EventType{Create, Update, Delete}

// Event is one decoded websocket notification.
type Event struct {
	URI  string
	Type EventType
	Data json.RawMessage
}

// WebsocketHandler receives matching events. Each invocation runs in its own
// goroutine; errors are logged.
type WebsocketHandler func(ctx context.Context, conn *Connection, ev Event) error

// Subscription is the handle returned by Router.Register. It is shared by
// every uri of one registration, including the call budget.
type Subscription struct {
	uris    []string
	types   []EventType
	handler WebsocketHandler
	budget  atomic.Int64
}

// URIs returns the registered patterns.
func (s *Subscription) URIs() []string { return slices.Clone(s.uris) }

// EventTypes returns the accepted event types.
func (s *Subscription) EventTypes() []EventType { return slices.Clone(s.types) }

// Remaining returns the invocations left. Negative means unlimited.
func (s *Subscription) Remaining() int64 { return s.budget.Load() }

// take reserves one invocation.
func (s *Subscription) take() bool {
	for {
		n := s.budget.Load()
		switch {
		case n < 0:
			return true
		case n == 0:
			return false
		}
		if s.budget.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

// RouteOption customises a registration.
type RouteOption func(*routeConfig)

type routeConfig struct {
	types    []EventType
	maxCalls int64
}

// WithEventTypes restricts the route to the given types (case-insensitive).
func WithEventTypes(types ...EventType) RouteOption {
	return func(c *routeConfig) { c.types = types }
}

// WithMaxCalls caps the number of invocations across all uris of the
// registration. Negative means unlimited.
func WithMaxCalls(n int) RouteOption {
	return func(c *routeConfig) { c.maxCalls = int64(n) }
}

type route struct {
	uri string
	sub *Subscription
}

func (r route) matches(ev Event) bool {
	if r.uri != ev.URI && !(strings.HasSuffix(r.uri, "/") && strings.HasPrefix(ev.URI, r.uri)) {
		return false
	}
	return slices.Contains(r.sub.types, ev.Type)
}

// Router matches websocket events against registered routes.
type Router struct {
	mu      sync.RWMutex
	routes  []route
	logger  *zap.Logger
	metrics *Metrics
}

func NewRouter(logger *zap.Logger, metrics *Metrics) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{logger: logger, metrics: metrics}
}

// Register adds one route per uri. A uri ending in "/" matches every event
// uri it prefixes; other uris match exactly. Nothing is registered on error.
func (r *Router) Register(uris []string, handler WebsocketHandler, opts ...RouteOption) (*Subscription, error) {
	cfg := routeConfig{types: AllEventTypes, maxCalls: -1}
	for _, o := range opts {
		o(&cfg)
	}

	if handler == nil {
		return nil, fmt.Errorf("%w: nil handler", ErrInvalidRegistration)
	}
	if len(uris) == 0 {
		return nil, fmt.Errorf("%w: no uri", ErrInvalidRegistration)
	}
	for _, uri := range uris {
		if !strings.HasPrefix(uri, "/") {
			return nil, fmt.Errorf("%w: uri %q must start with /", ErrInvalidRegistration, uri)
		}
	}
	if len(cfg.types) == 0 {
		cfg.types = AllEventTypes
	}
	types := make([]EventType, 0, len(cfg.types))
	for _, t := range cfg.types {
		t = EventType(strings.ToUpper(string(t)))
		if !slices.Contains(AllEventTypes, t) {
			return nil, fmt.Errorf("%w: event type %q", ErrInvalidRegistration, t)
		}
		if !slices.Contains(types, t) {
			types = append(types, t)
		}
	}

	sub := &Subscription{uris: slices.Clone(uris), types: types, handler: handler}
	sub.budget.Store(cfg.maxCalls)

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, uri := range uris {
		r.routes = append(r.routes, route{uri: uri, sub: sub})
	}
	return sub, nil
}

// Len returns the number of routes.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes)
}

// Dispatch starts every matching handler with remaining budget and returns
// how many were started. It never waits for them.
func (r *Router) Dispatch(ctx context.Context, conn *Connection, ev Event) int {
	ev.Type = EventType(strings.ToUpper(string(ev.Type)))

	r.mu.RLock()
	routes := r.routes
	r.mu.RUnlock()

	started := 0
	for _, rt := range routes {
		if !rt.matches(ev) || !rt.sub.take() {
			continue
		}
		started++
		r.metrics.handlerDispatched(rt.uri)
		go r.invoke(ctx, conn, rt, ev)
	}
	return started
}

func (r *Router) invoke(ctx context.Context, conn *Connection, rt route, ev Event) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("websocket handler panicked", zap.String("route", rt.uri), zap.String("uri", ev.URI), zap.Any("panic", p))
		}
	}()
	if err := rt.sub.handler(ctx, conn, ev); err != nil {
		r.logger.Warn("websocket handler failed", zap.String("route", rt.uri), zap.String("uri", ev.URI), zap.Error(err))
	}
}
