package git

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	gitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/cirunner/internal/config"
	"git.home.luguber.info/inful/cirunner/internal/retry"
)

// initRepoWithCommit creates a repository with a single commit on the
// default branch and returns its path.
func initRepoWithCommit(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	repo, err := gogit.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# test\n"), 0o644))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("README.md")
	require.NoError(t, err)
	_, err = wt.Commit("initial", &gogit.CommitOptions{
		Author: &object.Signature{Name: "t", Email: "t@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	return dir
}

func TestOpenCheckout_CurrentBranchAndHead(t *testing.T) {
	dir := initRepoWithCommit(t)

	co, err := OpenCheckout(dir)
	require.NoError(t, err)

	branch, err := co.CurrentBranch()
	require.NoError(t, err)
	require.Equal(t, "master", branch)

	head, err := co.Head()
	require.NoError(t, err)
	require.Len(t, head, 40)
}

func TestOpenCheckout_DetectsDotGitFromSubdir(t *testing.T) {
	dir := initRepoWithCommit(t)
	sub := filepath.Join(dir, "docs")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	co, err := OpenCheckout(sub)
	require.NoError(t, err)

	branch, err := co.CurrentBranch()
	require.NoError(t, err)
	require.Equal(t, "master", branch)
}

func TestOpenCheckout_NotARepository(t *testing.T) {
	_, err := OpenCheckout(t.TempDir())
	require.Error(t, err)
}

func TestRemoteURL(t *testing.T) {
	dir := initRepoWithCommit(t)
	repo, err := gogit.PlainOpen(dir)
	require.NoError(t, err)
	_, err = repo.CreateRemote(&gitcfg.RemoteConfig{
		Name: "origin",
		URLs: []string{"https://example.com/owner/repo.git"},
	})
	require.NoError(t, err)

	co, err := OpenCheckout(dir)
	require.NoError(t, err)

	url, err := co.RemoteURL("origin")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/owner/repo.git", url)

	_, err = co.RemoteURL("upstream")
	require.Error(t, err)
}

func TestTokenAuth(t *testing.T) {
	t.Setenv("TEST_DEPLOY_TOKEN", "tok123")
	auth, err := TokenAuth("TEST_DEPLOY_TOKEN")
	require.NoError(t, err)
	require.NotNil(t, auth)

	t.Setenv("TEST_DEPLOY_TOKEN", "")
	_, err = TokenAuth("TEST_DEPLOY_TOKEN")
	require.Error(t, err)
}

func TestPublisherStage_CommitsDirectoryContents(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html></html>"), 0o644))

	p := NewPublisher(retry.DefaultPolicy())
	hash, err := p.Stage(PublishOptions{
		Dir:     dir,
		Message: "deploy site",
		Author:  "cirunner",
		Email:   "cirunner@localhost",
	})
	require.NoError(t, err)
	require.Len(t, hash, 40)

	repo, err := gogit.PlainOpen(dir)
	require.NoError(t, err)
	head, err := repo.Head()
	require.NoError(t, err)
	require.Equal(t, hash, head.Hash().String())

	commit, err := repo.CommitObject(head.Hash())
	require.NoError(t, err)
	require.Equal(t, "deploy site", commit.Message)

	tree, err := commit.Tree()
	require.NoError(t, err)
	_, err = tree.File("index.html")
	require.NoError(t, err)
}

func TestPublisherStage_SecondDeployReusesRepo(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("v1"), 0o644))

	p := NewPublisher(retry.DefaultPolicy())
	first, err := p.Stage(PublishOptions{Dir: dir, Message: "v1", Author: "c", Email: "c@l"})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("v2"), 0o644))
	second, err := p.Stage(PublishOptions{Dir: dir, Message: "v2", Author: "c", Email: "c@l"})
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestIsPermanentGitError(t *testing.T) {
	refused := &net.OpError{
		Op:  "dial",
		Net: "tcp",
		Err: &os.SyscallError{Syscall: "connect", Err: syscall.ECONNREFUSED},
	}
	cases := []struct {
		err       error
		permanent bool
	}{
		{nil, false},
		{errors.New("authentication required"), true},
		{errors.New("permission denied"), true},
		{errors.New("repository not found"), true},
		{errors.New("unsupported protocol scheme"), true},
		{errors.New("connection reset by peer"), false},
		{errors.New("remote hung up unexpectedly"), false},
		// Non-timeout net.Errors are transient; they are what the
		// deploy retry policy exists for.
		{refused, false},
		{fmt.Errorf("failed to push: %w", refused), false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.permanent, isPermanentGitError(tc.err), "err=%v", tc.err)
	}
}

func TestPublisherPush_RetriesRefusedConnection(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html></html>"), 0o644))

	p := NewPublisher(retry.Policy{
		Mode:       config.RetryBackoffFixed,
		Initial:    time.Millisecond,
		Max:        time.Millisecond,
		MaxRetries: 2,
	})
	var retries int
	p.OnRetry = func() { retries++ }

	_, err := p.Stage(PublishOptions{Dir: dir, Message: "deploy", Author: "c", Email: "c@l"})
	require.NoError(t, err)

	// Port 1 is never listening; every attempt fails with ECONNREFUSED.
	err = p.Push(context.Background(), PublishOptions{
		Dir:       dir,
		RemoteURL: "http://127.0.0.1:1/repo.git",
		Branch:    "gh-pages",
	})
	require.Error(t, err)
	require.Equal(t, 2, retries)
}
