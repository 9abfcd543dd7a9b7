// Package lcu drives connections to the local League client API: it
// discovers client processes, authenticates, waits for the api to come up,
// and routes websocket change notifications to registered handlers.
package lcu

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lcudriver/lcu-driver/pkg/process"
	"go.uber.org/zap"
)

// Connector discovers client processes and manages their connections.
type Connector struct {
	opts     Options
	events   *EventRegistry
	router   *Router
	locator  process.Locator
	selector Selector
	logger   *zap.Logger
	metrics  *Metrics

	keepSearching atomic.Bool

	mu     sync.Mutex
	conns  map[int]*Connection // keyed by pid
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConnector validates opts and builds a connector. Without WithLocator
// the host's processes are enumerated, which fails with
// ErrPlatformUnsupported on hosts the client does not run on unless a
// lockfile is configured.
func NewConnector(opts Options, options ...Option) (*Connector, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	c := &Connector{
		opts:  opts,
		conns: make(map[int]*Connection),
	}
	for _, o := range options {
		o(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.selector == nil {
		c.selector = LowestPID
	}
	if c.locator == nil {
		l, err := defaultLocator(opts.Discovery, c.logger)
		if err != nil {
			return nil, err
		}
		c.locator = l
	}
	c.events = NewEventRegistry(c.logger)
	c.router = NewRouter(c.logger, c.metrics)
	return c, nil
}

func defaultLocator(d DiscoveryOptions, logger *zap.Logger) (process.Locator, error) {
	system, err := process.NewSystemLocator(logger, d.ExecutableNames...)
	switch {
	case d.Lockfile == "" && err != nil:
		return nil, err
	case d.Lockfile == "":
		return system, nil
	case err != nil:
		logger.Info("process enumeration unavailable, using lockfile only", zap.Error(err))
		return process.NewLockfileLocator(d.Lockfile, logger), nil
	default:
		return process.Chain(system, process.NewLockfileLocator(d.Lockfile, logger)), nil
	}
}

// On registers a lifecycle handler.
func (c *Connector) On(name EventName, h LifecycleHandler) error {
	return c.events.Register(name, h)
}

// Events returns the lifecycle registry.
func (c *Connector) Events() *EventRegistry { return c.events }

// WS returns the websocket router.
func (c *Connector) WS() *Router { return c.router }

// Connections returns the tracked connections ordered by pid.
func (c *Connector) Connections() []*Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Connection, 0, len(c.conns))
	for _, conn := range c.conns {
		out = append(out, conn)
	}
	slices.SortFunc(out, func(a, b *Connection) int { return a.PID() - b.PID() })
	return out
}

// Connection returns the tracked connection for pid.
func (c *Connector) Connection(pid int) (*Connection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, ok := c.conns[pid]
	return conn, ok
}

// Start runs discovery in the configured mode. It returns nil after Stop,
// ctx.Err() if ctx is cancelled, and ErrNoClientDetected when single-mode
// discovery gives up.
func (c *Connector) Start(ctx context.Context) error {
	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.cancel = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.cancel = nil
		c.mu.Unlock()
	}()

	c.keepSearching.Store(true)
	c.logger.Info("connector started", zap.String("mode", string(c.opts.Mode)))

	var err error
	if c.opts.Mode == ModeMulti {
		err = c.runMulti(ctx)
	} else {
		err = c.runSingle(ctx)
	}
	c.logger.Info("connector stopped")

	if err != nil && ctx.Err() != nil {
		return parent.Err()
	}
	return err
}

// Stop ends discovery and stops every tracked connection.
func (c *Connector) Stop() {
	c.keepSearching.Store(false)
	c.mu.Lock()
	cancel := c.cancel
	conns := make([]*Connection, 0, len(c.conns))
	for _, conn := range c.conns {
		conns = append(conns, conn)
	}
	c.mu.Unlock()

	for _, conn := range conns {
		conn.Stop()
	}
	if cancel != nil {
		cancel()
	}
}

func (c *Connector) runSingle(ctx context.Context) error {
	for {
		creds, err := c.locate(ctx)
		if err != nil {
			return err
		}
		conn, err := c.track(creds)
		if err != nil {
			return err
		}
		conn.Run(ctx)

		if !c.keepSearching.Load() || c.router.Len() == 0 || ctx.Err() != nil {
			return nil
		}
		c.logger.Info("searching for a new client")
	}
}

// locate polls until at least one process is found, then lets the
// selector pick one.
func (c *Connector) locate(ctx context.Context) (process.Credentials, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	changes := c.changes(ctx)

	maxAttempts := c.opts.Discovery.MaxAttempts
	for attempt := 1; maxAttempts < 0 || attempt <= maxAttempts; attempt++ {
		found, err := c.locator.Locate(ctx)
		if err != nil {
			c.logger.Warn("discovery error", zap.Error(err))
		}
		switch len(found) {
		case 0:
		case 1:
			return found[0], nil
		default:
			picked, err := c.selector.Select(ctx, found)
			if err != nil {
				return process.Credentials{}, fmt.Errorf("selecting client: %w", err)
			}
			c.logger.Info("picked client", zap.Int("pid", picked.PID), zap.Int("candidates", len(found)))
			return picked, nil
		}

		timer := time.NewTimer(c.opts.Discovery.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return process.Credentials{}, ctx.Err()
		case <-timer.C:
		case _, ok := <-changes:
			timer.Stop()
			if !ok {
				changes = nil
			}
		}
	}
	return process.Credentials{}, fmt.Errorf("%w after %d attempts", ErrNoClientDetected, maxAttempts)
}

// changes returns the locator's notification channel, or nil when it has
// none, which blocks forever in a select.
func (c *Connector) changes(ctx context.Context) <-chan struct{} {
	n, ok := c.locator.(process.Notifier)
	if !ok {
		return nil
	}
	ch, err := n.Changes(ctx)
	if err != nil {
		c.logger.Warn("change notifications unavailable", zap.Error(err))
		return nil
	}
	return ch
}

func (c *Connector) runMulti(ctx context.Context) error {
	changes := c.changes(ctx)
	ticker := time.NewTicker(c.opts.Discovery.ScanInterval)
	defer ticker.Stop()

	c.scan(ctx)
	for {
		select {
		case <-ctx.Done():
			c.stopAll()
			c.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			c.scan(ctx)
		case _, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			c.scan(ctx)
		}
	}
}

func (c *Connector) scan(ctx context.Context) {
	found, err := c.locator.Locate(ctx)
	if err != nil {
		c.logger.Warn("discovery error", zap.Error(err))
		return
	}
	for _, creds := range found {
		conn, err := c.track(creds)
		if errors.Is(err, errTracked) {
			continue
		}
		if err != nil {
			c.logger.Warn("cannot connect", zap.Int("pid", creds.PID), zap.Error(err))
			continue
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			conn.Run(ctx)
		}()
	}
}

func (c *Connector) stopAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, conn := range c.conns {
		conn.Stop()
	}
}

// track creates a connection for creds unless its pid is already tracked.
func (c *Connector) track(creds process.Credentials) (*Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.conns[creds.PID]; ok {
		return nil, errTracked
	}
	conn, err := newConnection(creds, connectionConfig{
		opts:    c.opts,
		events:  c.events,
		router:  c.router,
		locator: c.locator,
		logger:  c.logger,
		metrics: c.metrics,
		onClose: c.untrack,
	})
	if err != nil {
		return nil, err
	}
	c.conns[creds.PID] = conn
	c.metrics.connectionOpened()
	c.logger.Info("tracking client", zap.Int("pid", creds.PID), zap.Int("port", creds.Port))
	return conn, nil
}

func (c *Connector) untrack(conn *Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conns[conn.PID()] == conn {
		delete(c.conns, conn.PID())
		c.metrics.connectionClosed()
	}
}
