// Package deploy publishes built documentation to a branch served as a
// static website. Deploys are gated on descriptor conditions; an unmet
// condition is a skip, never a failure.
package deploy

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"

	"git.home.luguber.info/inful/cirunner/internal/config"
	"git.home.luguber.info/inful/cirunner/internal/git"
	"git.home.luguber.info/inful/cirunner/internal/logfields"
	"git.home.luguber.info/inful/cirunner/internal/metrics"
	"git.home.luguber.info/inful/cirunner/internal/observability"
	"git.home.luguber.info/inful/cirunner/internal/retry"
	"git.home.luguber.info/inful/cirunner/internal/runner"
	"git.home.luguber.info/inful/cirunner/internal/workspace"
)

// Pages implements the deploy phase for the pages provider: the built
// site directory becomes a single fresh commit force-pushed to the
// target branch of the checkout's remote.
type Pages struct {
	cfg       *config.DeployConfig
	dir       string // checkout root; cfg.Directory is relative to it
	remoteURL string
	publisher *git.Publisher
	staging   *workspace.Manager
}

// PagesOption configures optional deployer behaviour.
type PagesOption func(*Pages)

// WithPersistentStaging stages deploy commits in a fixed directory under
// baseDir instead of a fresh temporary one. The staging repository then
// survives across runs, which keeps repeated daemon deploys from
// re-initializing it every time.
func WithPersistentStaging(baseDir string) PagesOption {
	return func(p *Pages) {
		p.staging = workspace.NewPersistentManager(baseDir, "deploy-staging")
	}
}

// NewPages creates a pages deployer. remoteURL is the push target,
// normally the checkout's origin URL.
func NewPages(cfg *config.DeployConfig, dir, remoteURL string, policy retry.Policy, recorder metrics.Recorder, opts ...PagesOption) *Pages {
	if recorder == nil {
		recorder = metrics.NewNoopRecorder()
	}
	publisher := git.NewPublisher(policy)
	publisher.OnRetry = recorder.IncDeployRetry
	p := &Pages{
		cfg:       cfg,
		dir:       dir,
		remoteURL: remoteURL,
		publisher: publisher,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Deploy evaluates the descriptor conditions and, when they hold,
// publishes the site directory. It returns false (and no error) when a
// condition is unmet.
func (p *Pages) Deploy(ctx context.Context, run *runner.RunResult) (bool, error) {
	if reason := p.skipReason(run); reason != "" {
		observability.InfoContext(ctx, "Deploy conditions not met",
			logfields.Provider(p.cfg.Provider),
			logfields.Outcome(reason))
		return false, nil
	}

	siteDir := p.cfg.Directory
	if !filepath.IsAbs(siteDir) {
		siteDir = filepath.Join(p.dir, siteDir)
	}
	if info, err := os.Stat(siteDir); err != nil || !info.IsDir() {
		return false, fmt.Errorf("deploy directory %s does not exist", p.cfg.Directory)
	}

	if p.remoteURL == "" {
		return false, fmt.Errorf("checkout has no remote to deploy to")
	}

	// Token auth only applies to HTTP(S) remotes; SSH and local remotes
	// carry their own credentials.
	var auth transport.AuthMethod
	if strings.HasPrefix(p.remoteURL, "http://") || strings.HasPrefix(p.remoteURL, "https://") {
		var err error
		auth, err = git.TokenAuth(p.cfg.TokenEnv)
		if err != nil {
			return false, fmt.Errorf("deploy auth: %w", err)
		}
	}

	// Stage outside the checkout so its output directory never
	// accumulates deploy repository state. One-shot runs use a fresh
	// temporary workspace; daemon mode reuses a persistent one.
	ws := p.staging
	if ws == nil {
		ws = workspace.NewManager("")
	}
	if err := ws.Create(); err != nil {
		return false, err
	}
	defer func() {
		if err := ws.Cleanup(); err != nil {
			observability.WarnContext(ctx, "Failed to clean deploy staging", logfields.Error(err))
		}
	}()

	staging, err := ws.CreateSubdir("site")
	if err != nil {
		return false, err
	}
	// A reused staging directory may still hold files deleted from the
	// site since the last deploy; only the repository state survives.
	if err := clearDir(staging); err != nil {
		return false, fmt.Errorf("failed to reset staging directory: %w", err)
	}
	if err := copyTree(siteDir, staging); err != nil {
		return false, fmt.Errorf("failed to stage site contents: %w", err)
	}

	opts := git.PublishOptions{
		Dir:       staging,
		RemoteURL: p.remoteURL,
		Branch:    p.cfg.Branch,
		Message:   fmt.Sprintf("Deploy site for run %s", run.RunID),
		Author:    p.cfg.Author,
		Email:     p.cfg.Email,
		Auth:      auth,
	}

	if _, err := p.publisher.Stage(opts); err != nil {
		return false, err
	}
	if err := p.publisher.Push(ctx, opts); err != nil {
		return false, err
	}

	observability.InfoContext(ctx, "Site deployed",
		logfields.Provider(p.cfg.Provider),
		logfields.Branch(p.cfg.Branch),
		logfields.URL(p.remoteURL))

	return true, nil
}

// clearDir removes everything under dir except its .git directory.
func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name() == ".git" {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// copyTree copies the site tree into the staging directory, skipping
// any repository state already present in the source.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" && rel != "." {
				return filepath.SkipDir
			}
			if rel == "." {
				return nil
			}
			return os.MkdirAll(filepath.Join(dst, rel), 0o750)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(dst, rel), data, 0o644)
	})
}

// skipReason returns a human-readable reason the deploy should be
// skipped, or "" when all conditions hold.
func (p *Pages) skipReason(run *runner.RunResult) string {
	if p.cfg.On.Branch != "" && run.Branch != p.cfg.On.Branch {
		return fmt.Sprintf("branch %q is not %q", run.Branch, p.cfg.On.Branch)
	}
	if p.cfg.On.Runtime != "" && run.Runtime != p.cfg.On.Runtime {
		return fmt.Sprintf("runtime %q is not %q", run.Runtime, p.cfg.On.Runtime)
	}
	if os.Getenv(p.cfg.TokenEnv) == "" {
		return fmt.Sprintf("%s is not set", p.cfg.TokenEnv)
	}
	return ""
}
