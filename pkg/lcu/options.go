package lcu

import (
	"fmt"
	"time"

	"github.com/lcudriver/lcu-driver/pkg/process"
	"go.uber.org/zap"
)

// Mode selects how a Connector drives discovery.
type Mode string

const (
	// ModeSingle runs one connection at a time and repeats discovery after
	// it closes while websocket routes are registered.
	ModeSingle Mode = "single"
	// ModeMulti keeps scanning and runs one connection per discovered pid.
	ModeMulti Mode = "multi"
)

// Options configures a Connector and the connections it creates.
type Options struct {
	Mode      Mode             `yaml:"mode"`
	Discovery DiscoveryOptions `yaml:"discovery"`
	Readiness ReadinessOptions `yaml:"readiness"`

	// IdleCheckInterval is how often an idle connection (no websocket
	// routes) asks the locator whether its process is still alive.
	IdleCheckInterval time.Duration `yaml:"idle_check_interval"`
	// ExitWhenIdle closes idle connections as soon as every ready handler
	// has returned instead of waiting for the process to exit.
	ExitWhenIdle bool `yaml:"exit_when_idle"`
}

type DiscoveryOptions struct {
	// PollInterval spaces single-mode discovery attempts.
	PollInterval time.Duration `yaml:"poll_interval"`
	// MaxAttempts bounds single-mode discovery. Negative means unbounded.
	MaxAttempts int `yaml:"max_attempts"`
	// ScanInterval spaces multi-mode scans.
	ScanInterval time.Duration `yaml:"scan_interval"`
	// ExecutableNames overrides the per-OS process names.
	ExecutableNames []string `yaml:"executable_names"`
	// Lockfile, when set, adds a lockfile source next to process enumeration.
	Lockfile string `yaml:"lockfile"`
}

type ReadinessOptions struct {
	// ProbeInterval is the minimum spacing between readiness probes.
	// Zero probes back to back.
	ProbeInterval time.Duration `yaml:"probe_interval"`
	// ProbeTimeout bounds a single probe request.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// DefaultOptions returns the options used for zero-valued fields.
func DefaultOptions() Options {
	return Options{
		Mode: ModeSingle,
		Discovery: DiscoveryOptions{
			PollInterval: 500 * time.Millisecond,
			MaxAttempts:  120,
			ScanInterval: time.Second,
		},
		Readiness: ReadinessOptions{
			ProbeTimeout: 5 * time.Second,
		},
		IdleCheckInterval: time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Mode == "" {
		o.Mode = def.Mode
	}
	if o.Discovery.PollInterval <= 0 {
		o.Discovery.PollInterval = def.Discovery.PollInterval
	}
	if o.Discovery.MaxAttempts == 0 {
		o.Discovery.MaxAttempts = def.Discovery.MaxAttempts
	}
	if o.Discovery.ScanInterval <= 0 {
		o.Discovery.ScanInterval = def.Discovery.ScanInterval
	}
	if o.Readiness.ProbeTimeout <= 0 {
		o.Readiness.ProbeTimeout = def.Readiness.ProbeTimeout
	}
	if o.IdleCheckInterval <= 0 {
		o.IdleCheckInterval = def.IdleCheckInterval
	}
	return o
}

func (o Options) validate() error {
	switch o.Mode {
	case ModeSingle, ModeMulti:
		return nil
	default:
		return fmt.Errorf("unknown connector mode %q", o.Mode)
	}
}

// Option customises a Connector.
type Option func(*Connector)

// WithLocator replaces process enumeration. It also lifts the platform
// check, since the default executable names are the only OS-specific part.
func WithLocator(l process.Locator) Option {
	return func(c *Connector) { c.locator = l }
}

// WithSelector sets how single mode picks among several candidates.
func WithSelector(s Selector) Option {
	return func(c *Connector) { c.selector = s }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(c *Connector) { c.logger = l }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(c *Connector) { c.metrics = m }
}
