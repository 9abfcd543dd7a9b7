package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lcudriver/lcu-driver/internal/picker"
	"github.com/lcudriver/lcu-driver/pkg/config"
	"github.com/lcudriver/lcu-driver/pkg/lcu"
	"github.com/lcudriver/lcu-driver/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

type flags struct {
	configPath   string
	multi        bool
	uris         []string
	eventTypes   []string
	maxCalls     int
	pick         bool
	lockfile     string
	metricsAddr  string
	logLevel     string
	maxAttempts  int
	exitWhenIdle bool
	get          []string
	path         string
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "lcu-watch",
		Short: "Watch the League client API",
		Long: `lcu-watch finds running League clients, waits for their API to come up
and prints lifecycle events. With --uri it also subscribes to the json api
websocket and prints every matching change notification.`,
		Example: `  lcu-watch --uri /lol-gameflow/v1/gameflow-phase --path @this
  lcu-watch --multi --uri /lol-lobby/ --event-types create,delete
  lcu-watch --get /lol-summoner/v1/current-summoner --exit-when-idle`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(f.configPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			applyFlags(cfg, f, cmd.Flags())
			return run(cmd.Context(), cmd, cfg, f)
		},
	}

	f.bind(cmd.Flags())
	return cmd
}

func (f *flags) bind(fs *pflag.FlagSet) {
	fs.StringVarP(&f.configPath, "config", "c", "lcu-watch.yaml", "path to the YAML config file")
	fs.BoolVar(&f.multi, "multi", false, "connect to every running client instead of one")
	fs.StringSliceVarP(&f.uris, "uri", "u", nil, "websocket uri to print; a trailing / matches the whole subtree")
	fs.StringSliceVar(&f.eventTypes, "event-types", nil, "event types to print (create, update, delete)")
	fs.IntVar(&f.maxCalls, "max-calls", -1, "stop printing websocket events after this many; negative is unlimited")
	fs.BoolVar(&f.pick, "pick", false, "ask which client to use when several are running")
	fs.StringVar(&f.lockfile, "lockfile", "", "also discover clients through this lockfile")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	fs.StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.IntVar(&f.maxAttempts, "max-attempts", 0, "discovery attempts before giving up in single mode; negative waits forever")
	fs.BoolVar(&f.exitWhenIdle, "exit-when-idle", false, "close after the ready handlers when no --uri is given")
	fs.StringSliceVar(&f.get, "get", nil, "endpoint to GET and print once the api is ready")
	fs.StringVar(&f.path, "path", "", "gjson path applied to event data before printing")
}

func loadConfig(path string, explicit bool) (*config.Config, error) {
	if explicit {
		return config.Load(path)
	}
	return config.LoadOrDefault(path)
}

// applyFlags overrides the file configuration with the flags that were set.
func applyFlags(cfg *config.Config, f flags, fs *pflag.FlagSet) {
	if fs.Changed("multi") {
		cfg.Connector.Mode = lcu.ModeSingle
		if f.multi {
			cfg.Connector.Mode = lcu.ModeMulti
		}
	}
	if fs.Changed("lockfile") {
		cfg.Connector.Discovery.Lockfile = f.lockfile
	}
	if fs.Changed("max-attempts") {
		cfg.Connector.Discovery.MaxAttempts = f.maxAttempts
	}
	if fs.Changed("exit-when-idle") {
		cfg.Connector.ExitWhenIdle = f.exitWhenIdle
	}
	if fs.Changed("metrics-addr") {
		cfg.Metrics.Addr = f.metricsAddr
	}
	if fs.Changed("log-level") {
		cfg.Logger.Level = f.logLevel
	}
}

func eventTypes(names []string) []lcu.EventType {
	types := make([]lcu.EventType, 0, len(names))
	for _, n := range names {
		types = append(types, lcu.EventType(n))
	}
	return types
}

func run(ctx context.Context, cmd *cobra.Command, cfg *config.Config, f flags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	lg, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = lg.Sync() }()

	opts := []lcu.Option{lcu.WithLogger(lg)}
	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts = append(opts, lcu.WithMetrics(lcu.NewMetrics(reg)))
		stop := serveMetrics(cfg.Metrics, reg, lg)
		defer stop()
	}
	if f.pick {
		opts = append(opts, lcu.WithSelector(picker.New(picker.WithIO(cmd.InOrStdin(), cmd.ErrOrStderr()))))
	}

	connector, err := lcu.NewConnector(cfg.Connector, opts...)
	if err != nil {
		return err
	}

	p := newPrinter(cmd.OutOrStdout(), f.path)
	for _, name := range []lcu.EventName{lcu.EventOpen, lcu.EventReady, lcu.EventClose, lcu.EventDisconnect} {
		if err := connector.On(name, p.lifecycle(name)); err != nil {
			return err
		}
	}
	for _, endpoint := range f.get {
		if err := connector.On(lcu.EventReady, p.get(endpoint)); err != nil {
			return err
		}
	}
	if len(f.uris) > 0 {
		_, err := connector.WS().Register(f.uris, p.event,
			lcu.WithEventTypes(eventTypes(f.eventTypes)...),
			lcu.WithMaxCalls(f.maxCalls))
		if err != nil {
			return err
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		if _, ok := <-sigCh; ok {
			lg.Info("shutting down")
			connector.Stop()
		}
	}()

	return connector.Start(ctx)
}

// serveMetrics exposes reg over HTTP and returns a shutdown function.
func serveMetrics(cfg config.MetricsConfig, reg *prometheus.Registry, lg *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		lg.Info("serving metrics", zap.String("addr", cfg.Addr), zap.String("path", cfg.Path))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("metrics server failed", zap.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
