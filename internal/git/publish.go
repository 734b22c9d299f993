package git

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gogit "github.com/go-git/go-git/v5"
	gitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"git.home.luguber.info/inful/cirunner/internal/logfields"
	"git.home.luguber.info/inful/cirunner/internal/retry"
)

// PublishOptions describes one branch publication.
type PublishOptions struct {
	Dir       string // directory whose contents become the branch tip
	RemoteURL string
	Branch    string // target branch on the remote
	Message   string
	Author    string
	Email     string
	Auth      transport.AuthMethod
}

// Publisher pushes a directory to a branch served as a website. Each
// publication is a single fresh commit; history on the target branch is
// overwritten (force push), matching static-hosting branch semantics.
type Publisher struct {
	policy retry.Policy

	// OnRetry, when set, is invoked before each retried push attempt.
	OnRetry func()
}

// NewPublisher creates a publisher with the given retry policy for
// transient push failures.
func NewPublisher(policy retry.Policy) *Publisher {
	return &Publisher{policy: policy}
}

const publishRemote = "pages-deploy"

// Stage initialises (or reuses) a git repository in opts.Dir and commits
// its current contents. It returns the created commit hash.
func (p *Publisher) Stage(opts PublishOptions) (string, error) {
	repo, err := gogit.PlainInit(opts.Dir, false)
	if err == gogit.ErrRepositoryAlreadyExists {
		repo, err = gogit.PlainOpen(opts.Dir)
	}
	if err != nil {
		return "", fmt.Errorf("failed to init deploy repository: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree: %w", err)
	}

	if err := worktree.AddWithOptions(&gogit.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("failed to stage site contents: %w", err)
	}

	commit, err := worktree.Commit(opts.Message, &gogit.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  opts.Author,
			Email: opts.Email,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to commit site contents: %w", err)
	}

	slog.Debug("Staged deploy commit",
		logfields.Path(opts.Dir),
		slog.String("commit", commit.String()[:8]))

	return commit.String(), nil
}

// Push force-pushes the staged branch to the remote, retrying transient
// failures under the publisher's policy.
func (p *Publisher) Push(ctx context.Context, opts PublishOptions) error {
	repo, err := gogit.PlainOpen(opts.Dir)
	if err != nil {
		return fmt.Errorf("failed to open deploy repository: %w", err)
	}

	// Recreate the remote each time; the URL may carry rotated credentials.
	_ = repo.DeleteRemote(publishRemote)
	if _, err := repo.CreateRemote(&gitcfg.RemoteConfig{
		Name: publishRemote,
		URLs: []string{opts.RemoteURL},
	}); err != nil {
		return fmt.Errorf("failed to configure deploy remote: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return fmt.Errorf("failed to resolve staged HEAD: %w", err)
	}

	refSpec := gitcfg.RefSpec(fmt.Sprintf("+%s:refs/heads/%s", head.Name(), opts.Branch))

	attempt := 0
	pushOnce := func() error {
		if attempt > 0 {
			if p.OnRetry != nil {
				p.OnRetry()
			}
			slog.Warn("Retrying deploy push",
				logfields.Branch(opts.Branch),
				slog.Int("attempt", attempt))
		}
		attempt++

		err := repo.PushContext(ctx, &gogit.PushOptions{
			RemoteName: publishRemote,
			RefSpecs:   []gitcfg.RefSpec{refSpec},
			Auth:       opts.Auth,
			Force:      true,
		})
		if err == gogit.NoErrAlreadyUpToDate {
			return nil
		}
		return err
	}

	if err := p.policy.Do(ctx, pushOnce, func(err error) bool { return !isPermanentGitError(err) }); err != nil {
		return fmt.Errorf("failed to push %s to %s: %w", opts.Branch, opts.RemoteURL, err)
	}

	slog.Info("Published branch",
		logfields.Branch(opts.Branch),
		logfields.URL(opts.RemoteURL),
		slog.String("commit", head.Hash().String()[:8]))

	return nil
}
