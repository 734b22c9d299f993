// Package daemon runs pipelines continuously: runs are triggered by
// checkout file changes (debounced) or by a descriptor schedule, and
// execute one at a time. Triggers arriving during a run coalesce into
// a single follow-up run.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/cirunner/internal/config"
	"git.home.luguber.info/inful/cirunner/internal/logfields"
)

// RunFunc executes one pipeline run against the (re)loaded descriptor.
type RunFunc func(ctx context.Context, cfg *config.Pipeline, trigger string) error

// Options configures the daemon.
type Options struct {
	ConfigPath  string         // pipeline descriptor, reloaded before every run
	Dir         string         // checkout directory to watch
	MetricsAddr string         // empty disables the HTTP endpoint
	Registry    *prom.Registry // metrics registry served on MetricsAddr
	Debounce    time.Duration  // file-change quiet period before a run
}

// Daemon owns the trigger sources and the single run worker.
type Daemon struct {
	opts Options
	run  RunFunc

	// triggers is a capacity-1 queue: a trigger arriving while a run is
	// in flight replaces any pending trigger instead of queueing up.
	triggers chan string

	mu      sync.RWMutex
	cfg     *config.Pipeline
	running bool
}

// New creates a daemon. The initial descriptor must load successfully;
// later reload failures keep the previous descriptor.
func New(opts Options, run RunFunc) (*Daemon, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = 2 * time.Second
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load descriptor: %w", err)
	}

	return &Daemon{
		opts:     opts,
		run:      run,
		triggers: make(chan string, 1),
		cfg:      cfg,
	}, nil
}

// Config returns the currently loaded descriptor.
func (d *Daemon) Config() *config.Pipeline {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// Running reports whether a pipeline run is currently executing.
func (d *Daemon) Running() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

// Trigger requests a run. When a run is already pending the new trigger
// is dropped; runs coalesce rather than queue.
func (d *Daemon) Trigger(reason string) {
	select {
	case d.triggers <- reason:
		slog.Debug("Run triggered", slog.String("trigger", reason))
	default:
		slog.Debug("Run already pending, trigger coalesced", slog.String("trigger", reason))
	}
}

// Run starts the watcher, scheduler and HTTP endpoint, then processes
// triggers until the context is canceled.
func (d *Daemon) Run(ctx context.Context) error {
	watcher, err := newWatcher(d.opts.Dir, d.opts.Debounce, d.outputDirs(), d)
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Stop()

	scheduler, err := newScheduler(d)
	if err != nil {
		return err
	}
	if err := scheduler.Apply(d.Config().Schedule); err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	var server *httpServer
	if d.opts.MetricsAddr != "" {
		server, err = newHTTPServer(d.opts.MetricsAddr, d.opts.Registry, d)
		if err != nil {
			return err
		}
		server.Start()
		defer server.Stop()
	}

	slog.Info("Daemon started",
		logfields.Path(d.opts.Dir),
		slog.String("descriptor", d.opts.ConfigPath))

	for {
		select {
		case <-ctx.Done():
			slog.Info("Daemon shutting down")
			return nil
		case trigger := <-d.triggers:
			d.executeRun(ctx, trigger)
			// A schedule change in the reloaded descriptor takes
			// effect for subsequent runs.
			if err := scheduler.Apply(d.Config().Schedule); err != nil {
				slog.Error("Failed to apply schedule", logfields.Error(err))
			}
		}
	}
}

// executeRun reloads the descriptor and runs the pipeline once.
func (d *Daemon) executeRun(ctx context.Context, trigger string) {
	cfg, err := config.Load(d.opts.ConfigPath)
	if err != nil {
		slog.Error("Descriptor reload failed, keeping previous",
			logfields.Path(d.opts.ConfigPath),
			logfields.Error(err))
		cfg = d.Config()
	} else {
		d.mu.Lock()
		d.cfg = cfg
		d.mu.Unlock()
	}

	d.setRunning(true)
	defer d.setRunning(false)

	slog.Info("Starting triggered run", slog.String("trigger", trigger))
	if err := d.run(ctx, cfg, trigger); err != nil {
		// The run function reports its own details; the daemon keeps going.
		slog.Warn("Run did not pass", slog.String("trigger", trigger), logfields.Error(err))
	}
}

// outputDirs names directories the pipeline writes to; watching them
// would retrigger runs from the run's own output.
func (d *Daemon) outputDirs() []string {
	cfg := d.Config()
	var dirs []string
	if cfg.Docs != nil && cfg.Docs.Output != "" {
		dirs = append(dirs, filepath.Base(filepath.Clean(cfg.Docs.Output)))
	}
	if cfg.Deploy != nil && cfg.Deploy.Directory != "" {
		dirs = append(dirs, filepath.Base(filepath.Clean(cfg.Deploy.Directory)))
	}
	return dirs
}

func (d *Daemon) setRunning(v bool) {
	d.mu.Lock()
	d.running = v
	d.mu.Unlock()
}
