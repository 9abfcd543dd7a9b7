package process

import (
	"context"
	"fmt"
	"runtime"
	"slices"

	"github.com/google/shlex"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// executableNames lists the UX process names per supported GOOS.
var executableNames = map[string][]string{
	"windows": {"LeagueClientUx.exe"},
	"darwin":  {"LeagueClientUx"},
}

// DefaultExecutableNames returns the UX process names for the host OS, or
// nil when the host is not supported.
func DefaultExecutableNames() []string {
	return slices.Clone(executableNames[runtime.GOOS])
}

// SystemLocator enumerates OS processes through gopsutil.
type SystemLocator struct {
	names  []string
	logger *zap.Logger
}

// NewSystemLocator returns a locator matching the given executable names.
// With no names it uses DefaultExecutableNames and fails with
// ErrPlatformUnsupported on hosts that have none.
func NewSystemLocator(logger *zap.Logger, names ...string) (*SystemLocator, error) {
	if len(names) == 0 {
		names = DefaultExecutableNames()
		if len(names) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrPlatformUnsupported, runtime.GOOS)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SystemLocator{names: names, logger: logger}, nil
}

// Locate implements Locator.
func (l *SystemLocator) Locate(ctx context.Context) ([]Credentials, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}

	var results []Credentials
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil || !slices.Contains(l.names, name) {
			continue
		}
		if defunct(ctx, p) {
			l.logger.Debug("skipping defunct process", zap.Int32("pid", p.Pid))
			continue
		}

		args, err := commandLine(ctx, p)
		if err != nil {
			l.logger.Debug("reading command line", zap.Int32("pid", p.Pid), zap.Error(err))
			continue
		}
		creds, err := FromArgs(int(p.Pid), args)
		if err != nil {
			// The UX process starts before it is handed its arguments.
			l.logger.Debug("process not ready", zap.Int32("pid", p.Pid), zap.Error(err))
			continue
		}
		results = append(results, creds)
	}
	return results, nil
}

// Running implements Locator.
func (l *SystemLocator) Running(ctx context.Context, pid int) (bool, error) {
	exists, err := process.PidExistsWithContext(ctx, int32(pid))
	if err != nil || !exists {
		return false, err
	}
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return false, nil
	}
	return !defunct(ctx, p), nil
}

// defunct reports zombie and stopped processes. Hosts where gopsutil
// cannot read the status (Windows) count as alive.
func defunct(ctx context.Context, p *process.Process) bool {
	status, err := p.StatusWithContext(ctx)
	if err != nil {
		return false
	}
	return slices.Contains(status, process.Zombie) || slices.Contains(status, process.Stop)
}

// commandLine prefers the argv slice and falls back to splitting the raw
// command line, which some hosts only expose as a single string.
func commandLine(ctx context.Context, p *process.Process) ([]string, error) {
	args, err := p.CmdlineSliceWithContext(ctx)
	if err == nil && len(args) > 1 {
		return args, nil
	}
	raw, err := p.CmdlineWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return shlex.Split(raw)
}
