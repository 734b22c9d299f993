package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/cirunner/internal/config"
	"git.home.luguber.info/inful/cirunner/internal/coverage"
	"git.home.luguber.info/inful/cirunner/internal/deploy"
	"git.home.luguber.info/inful/cirunner/internal/docs"
	"git.home.luguber.info/inful/cirunner/internal/git"
	"git.home.luguber.info/inful/cirunner/internal/history"
	"git.home.luguber.info/inful/cirunner/internal/metrics"
	"git.home.luguber.info/inful/cirunner/internal/notify"
	"git.home.luguber.info/inful/cirunner/internal/retry"
	"git.home.luguber.info/inful/cirunner/internal/runner"
)

// executePipeline wires the descriptor's optional phases to the runner
// and executes one run. A non-empty stagingDir makes deploys stage in a
// persistent directory under it; empty means a fresh temporary one per
// deploy. The returned result is non-nil whenever the run started, even
// if it did not pass.
func executePipeline(ctx context.Context, cfg *config.Pipeline, dir, stagingDir string, recorder metrics.Recorder, store *history.Store, notifier *notify.Publisher) (*runner.RunResult, error) {
	runID := uuid.NewString()

	branch, commit, remoteURL := checkoutInfo(dir, cfg)

	options := []runner.Option{
		runner.WithRunID(runID),
		runner.WithCheckoutInfo(branch, commit),
		runner.WithRecorder(recorder),
	}

	if cfg.Coverage != nil {
		var uploader *coverage.Uploader
		if cfg.Coverage.UploadURL != "" {
			uploader = coverage.NewUploader(cfg.Coverage.UploadURL, cfg.Coverage.TokenEnv,
				retry.FromConfig(cfg.Retry), recorder)
		}
		checker := coverage.NewChecker(cfg.Coverage, dir, uploader)
		checker.SetRunInfo(runID, branch, commit)
		options = append(options, runner.WithCoverageChecker(checker))
	}

	if cfg.Docs != nil {
		options = append(options, runner.WithDocsBuilder(docs.NewBuilder(cfg.Docs, dir)))
	}

	if cfg.Deploy != nil {
		var pagesOpts []deploy.PagesOption
		if stagingDir != "" {
			pagesOpts = append(pagesOpts, deploy.WithPersistentStaging(stagingDir))
		}
		pages := deploy.NewPages(cfg.Deploy, dir, remoteURL, retry.FromConfig(cfg.Retry), recorder, pagesOpts...)
		options = append(options, runner.WithDeployer(pages))
	}

	notifier.RunStarted(runID, branch, commit, cfg.Runtime.Version)

	result, runErr := runner.New(cfg, dir, options...).Run(ctx)

	notifier.RunFinished(result)

	if store != nil {
		if err := store.RecordRun(ctx, result); err != nil {
			slog.Warn("Failed to record run history", "error", err)
		}
	}

	return result, runErr
}

// checkoutInfo reads branch, commit and remote URL from the checkout.
// A directory that is not a git repository yields empty metadata; the
// pipeline still runs, and branch-gated deploys skip.
func checkoutInfo(dir string, cfg *config.Pipeline) (branch, commit, remoteURL string) {
	checkout, err := git.OpenCheckout(dir)
	if err != nil {
		slog.Warn("Not a git checkout, run metadata will be empty", "dir", dir)
		return "", "", ""
	}

	if branch, err = checkout.CurrentBranch(); err != nil {
		slog.Warn("Could not resolve branch", "error", err)
	}
	if commit, err = checkout.Head(); err != nil {
		slog.Warn("Could not resolve commit", "error", err)
	}

	remote := "origin"
	if cfg.Deploy != nil && cfg.Deploy.Remote != "" {
		remote = cfg.Deploy.Remote
	}
	if remoteURL, err = checkout.RemoteURL(remote); err != nil {
		slog.Debug("Could not resolve remote URL", "remote", remote, "error", err)
	}

	return branch, commit, remoteURL
}

// openHistory opens the run history database, creating its directory
// when needed.
func openHistory(path string) (*history.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}
	return history.NewStore(path)
}

func runHistory() error {
	store, err := history.NewStore(CLI.History.DB)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	if CLI.History.Run != "" {
		steps, err := store.RunSteps(ctx, CLI.History.Run)
		if err != nil {
			return err
		}
		if len(steps) == 0 {
			return fmt.Errorf("no steps recorded for run %s", CLI.History.Run)
		}
		fmt.Fprintln(w, "PHASE\tSTATUS\tEXIT\tDURATION\tCOMMAND")
		for _, st := range steps {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				st.Phase, st.Status, st.ExitCode,
				st.Duration.Round(time.Millisecond), st.Command)
		}
		return nil
	}

	runs, err := store.RecentRuns(ctx, CLI.History.Limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stdout, "no runs recorded")
		return nil
	}

	fmt.Fprintln(w, "RUN\tBRANCH\tOUTCOME\tCOVERAGE\tDEPLOYED\tSTARTED\tDURATION")
	for _, r := range runs {
		cov := "-"
		if r.Coverage >= 0 {
			cov = fmt.Sprintf("%.1f%%", r.Coverage)
		}
		deployed := "no"
		if r.Deployed {
			deployed = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(r.RunID), r.Branch, r.Outcome, cov, deployed,
			r.Started.Format(time.RFC3339), r.Duration().Round(time.Second))
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
