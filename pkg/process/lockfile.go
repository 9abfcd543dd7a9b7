package process

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// LockfileLocator reads credentials from a lockfile written by the client
// while it is running.
type LockfileLocator struct {
	path   string
	logger *zap.Logger
}

// NewLockfileLocator returns a locator for the lockfile at path.
func NewLockfileLocator(path string, logger *zap.Logger) *LockfileLocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LockfileLocator{path: filepath.Clean(path), logger: logger}
}

// Path returns the watched lockfile path.
func (l *LockfileLocator) Path() string { return l.path }

// Locate implements Locator. A missing lockfile yields no candidates.
func (l *LockfileLocator) Locate(ctx context.Context) ([]Credentials, error) {
	creds, ok, err := l.read()
	if err != nil || !ok {
		return nil, err
	}
	return []Credentials{creds}, nil
}

// Running implements Locator: the process is considered alive while the
// lockfile exists and still names the same pid.
func (l *LockfileLocator) Running(ctx context.Context, pid int) (bool, error) {
	creds, ok, err := l.read()
	if err != nil || !ok {
		return false, err
	}
	return creds.PID == pid, nil
}

func (l *LockfileLocator) read() (Credentials, bool, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Credentials{}, false, nil
	}
	if err != nil {
		return Credentials{}, false, fmt.Errorf("reading lockfile: %w", err)
	}
	creds, err := ParseLockfile(string(data))
	if err != nil {
		// The client truncates then rewrites the file; a partial read is
		// reported as absent and picked up on the next change.
		l.logger.Debug("partial lockfile", zap.String("path", l.path), zap.Error(err))
		return Credentials{}, false, nil
	}
	return creds, true, nil
}

// Changes implements Notifier. The parent directory is watched so the
// lockfile may be created after the watch starts.
func (l *LockfileLocator) Changes(ctx context.Context) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(l.path), err)
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != l.path {
					continue
				}
				if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) &&
					!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Warn("lockfile watcher error", zap.String("path", l.path), zap.Error(err))
			}
		}
	}()
	return out, nil
}
