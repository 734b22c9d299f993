package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/cirunner/internal/config"
	"git.home.luguber.info/inful/cirunner/internal/daemon"
	"git.home.luguber.info/inful/cirunner/internal/history"
	"git.home.luguber.info/inful/cirunner/internal/metrics"
	"git.home.luguber.info/inful/cirunner/internal/notify"
)

var CLI struct {
	Config  string `short:"c" help:"Pipeline descriptor path" default:"ci.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Run struct {
		Dir       string `short:"d" help:"Checkout directory to run in" default:"."`
		History   string `help:"Run history database path" default:".cirunner/history.db"`
		NoHistory bool   `help:"Disable run history recording"`
	} `cmd:"" help:"Execute the pipeline once"`

	Validate struct{} `cmd:"" help:"Validate the pipeline descriptor"`

	Init struct {
		Force bool `help:"Overwrite an existing descriptor"`
	} `cmd:"" help:"Initialize a new pipeline descriptor"`

	History struct {
		Limit int    `short:"n" help:"Number of runs to show" default:"10"`
		Run   string `help:"Show the steps of one run instead"`
		DB    string `help:"Run history database path" default:".cirunner/history.db"`
	} `cmd:"" help:"Show recent pipeline runs"`

	Daemon struct {
		Dir         string        `short:"d" help:"Checkout directory to watch" default:"."`
		MetricsAddr string        `help:"Address for the metrics/health endpoint" default:"127.0.0.1:9911"`
		Debounce    time.Duration `help:"Quiet period after a file change before a run" default:"2s"`
		History     string        `help:"Run history database path" default:".cirunner/history.db"`
		Staging     string        `help:"Persistent deploy staging directory" default:".cirunner/work"`
	} `cmd:"" help:"Run pipelines continuously on file changes and schedules"`
}

func main() {
	ctx := kong.Parse(&CLI)

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	switch ctx.Command() {
	case "run":
		if err := runOnce(); err != nil {
			slog.Error("Run failed", "error", err)
			os.Exit(1)
		}
	case "validate":
		if err := runValidate(); err != nil {
			slog.Error("Validation failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Descriptor is valid", "path", CLI.Config)
	case "init":
		if err := config.Init(CLI.Config, CLI.Init.Force); err != nil {
			slog.Error("Init failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Descriptor created", "path", CLI.Config)
	case "history":
		if err := runHistory(); err != nil {
			slog.Error("History failed", "error", err)
			os.Exit(1)
		}
	case "daemon":
		if err := runDaemon(); err != nil {
			slog.Error("Daemon failed", "error", err)
			os.Exit(1)
		}
	}
}

func runOnce() error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}

	var store *history.Store
	if !CLI.Run.NoHistory {
		store, err = openHistory(CLI.Run.History)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	notifier := connectNotifier(cfg)
	defer notifier.Close()

	result, err := executePipeline(context.Background(), cfg, CLI.Run.Dir, "", metrics.NewNoopRecorder(), store, notifier)
	if result != nil {
		slog.Info("Run complete",
			"run_id", result.RunID,
			"outcome", string(result.Outcome),
			"duration", result.Duration().Round(time.Millisecond).String())
	}
	return err
}

func runValidate() error {
	_, err := config.Load(CLI.Config)
	return err
}

func runDaemon() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := openHistory(CLI.Daemon.History)
	if err != nil {
		return err
	}
	defer store.Close()

	registry := prom.NewRegistry()
	recorder := metrics.NewPrometheusRecorder(registry)

	d, err := daemon.New(daemon.Options{
		ConfigPath:  CLI.Config,
		Dir:         CLI.Daemon.Dir,
		MetricsAddr: CLI.Daemon.MetricsAddr,
		Registry:    registry,
		Debounce:    CLI.Daemon.Debounce,
	}, func(ctx context.Context, cfg *config.Pipeline, trigger string) error {
		notifier := connectNotifier(cfg)
		defer notifier.Close()
		_, err := executePipeline(ctx, cfg, CLI.Daemon.Dir, CLI.Daemon.Staging, recorder, store, notifier)
		return err
	})
	if err != nil {
		return err
	}

	return d.Run(ctx)
}

// connectNotifier connects to NATS when notifications are configured.
// Connection failures degrade to a warning; a nil publisher is safe to
// use.
func connectNotifier(cfg *config.Pipeline) *notify.Publisher {
	if cfg.Notifications == nil {
		return nil
	}
	notifier, err := notify.NewPublisher(cfg.Notifications)
	if err != nil {
		slog.Warn("Notifications disabled", "error", err)
		return nil
	}
	return notifier
}
