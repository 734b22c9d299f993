// Package git wraps the go-git operations cirunner needs: reading
// checkout metadata for deploy gating and publishing built output to a
// static-hosting branch.
package git

import (
	"fmt"

	gogit "github.com/go-git/go-git/v5"
)

// Checkout provides read access to the repository the pipeline runs in.
type Checkout struct {
	repo *gogit.Repository
	path string
}

// OpenCheckout opens the git repository at path.
func OpenCheckout(path string) (*Checkout, error) {
	repo, err := gogit.PlainOpenWithOptions(path, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open repository at %s: %w", path, err)
	}
	return &Checkout{repo: repo, path: path}, nil
}

// Path returns the checkout root handed to OpenCheckout.
func (c *Checkout) Path() string { return c.path }

// CurrentBranch returns the short name of the branch HEAD points at.
// Detached HEAD yields an empty branch name and no error.
func (c *Checkout) CurrentBranch() (string, error) {
	ref, err := c.repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	if !ref.Name().IsBranch() {
		return "", nil
	}
	return ref.Name().Short(), nil
}

// Head returns the commit hash HEAD points at.
func (c *Checkout) Head() (string, error) {
	ref, err := c.repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	return ref.Hash().String(), nil
}

// RemoteURL returns the first URL of the named remote.
func (c *Checkout) RemoteURL(name string) (string, error) {
	remote, err := c.repo.Remote(name)
	if err != nil {
		return "", fmt.Errorf("failed to look up remote %s: %w", name, err)
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return "", fmt.Errorf("remote %s has no URL", name)
	}
	return urls[0], nil
}
