package process

import (
	"context"
	"sync"
)

// Locator finds candidate client processes.
//
// Implementations must be safe for concurrent use: a multi-session
// connector calls Locate from its scan loop while idle connections call
// Running from their own goroutines.
type Locator interface {
	// Locate returns the credentials of every eligible process currently
	// running. An empty result with nil error means nothing was found.
	Locate(ctx context.Context) ([]Credentials, error)

	// Running reports whether the process identified by pid is still alive.
	Running(ctx context.Context, pid int) (bool, error)
}

// Notifier is implemented by locators that can signal when a rescan is
// likely to produce a different result, e.g. a lockfile appearing.
type Notifier interface {
	// Changes returns a channel that receives a value whenever the
	// underlying source changes. The channel is closed when ctx is done.
	Changes(ctx context.Context) (<-chan struct{}, error)
}

// Chain merges several locators. On duplicate PIDs the earlier locator wins.
func Chain(locators ...Locator) Locator {
	return &chain{locators: locators}
}

type chain struct {
	locators []Locator
}

func (c *chain) Locate(ctx context.Context) ([]Credentials, error) {
	var (
		out      []Credentials
		seen     = make(map[int]bool)
		firstErr error
	)
	for _, l := range c.locators {
		found, err := l.Locate(ctx)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, cr := range found {
			if seen[cr.PID] {
				continue
			}
			seen[cr.PID] = true
			out = append(out, cr)
		}
	}
	// Only fail when no locator produced anything usable.
	if len(out) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func (c *chain) Running(ctx context.Context, pid int) (bool, error) {
	var firstErr error
	for _, l := range c.locators {
		ok, err := l.Running(ctx, pid)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, firstErr
}

func (c *chain) Changes(ctx context.Context) (<-chan struct{}, error) {
	out := make(chan struct{}, 1)
	var wg sync.WaitGroup
	for _, l := range c.locators {
		n, ok := l.(Notifier)
		if !ok {
			continue
		}
		ch, err := n.Changes(ctx)
		if err != nil {
			return nil, err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range ch {
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		<-ctx.Done()
		close(out)
	}()
	return out, nil
}
