package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/cirunner/internal/config"
)

const minimalDescriptor = `
script:
  - "true"
`

func writeDescriptor(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "ci.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNew_LoadsDescriptor(t *testing.T) {
	dir := t.TempDir()
	path := writeDescriptor(t, dir, minimalDescriptor)

	d, err := New(Options{ConfigPath: path, Dir: dir}, func(context.Context, *config.Pipeline, string) error {
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"true"}, d.Config().Script)
}

func TestNew_FailsOnMissingDescriptor(t *testing.T) {
	dir := t.TempDir()
	_, err := New(Options{ConfigPath: filepath.Join(dir, "nope.yaml"), Dir: dir}, nil)
	require.Error(t, err)
}

func TestTrigger_Coalesces(t *testing.T) {
	dir := t.TempDir()
	path := writeDescriptor(t, dir, minimalDescriptor)

	d, err := New(Options{ConfigPath: path, Dir: dir}, nil)
	require.NoError(t, err)

	d.Trigger("one")
	d.Trigger("two")
	d.Trigger("three")

	require.Equal(t, "one", <-d.triggers)
	select {
	case extra := <-d.triggers:
		t.Fatalf("expected coalesced triggers, got %q", extra)
	default:
	}
}

func TestRun_FileChangeTriggersDebouncedRun(t *testing.T) {
	dir := t.TempDir()
	path := writeDescriptor(t, dir, minimalDescriptor)

	var mu sync.Mutex
	var triggers []string
	ran := make(chan struct{}, 4)

	d, err := New(Options{
		ConfigPath: path,
		Dir:        dir,
		Debounce:   50 * time.Millisecond,
	}, func(_ context.Context, _ *config.Pipeline, trigger string) error {
		mu.Lock()
		triggers = append(triggers, trigger)
		mu.Unlock()
		ran <- struct{}{}
		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	// Give the watcher a moment to register the tree.
	time.Sleep(100 * time.Millisecond)

	// A burst of writes should produce a single run.
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "main.py"), []byte("print()"), 0o644))
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for triggered run")
	}

	// No second run should fire from the same burst.
	select {
	case <-ran:
		t.Fatal("burst of writes triggered more than one run")
	case <-time.After(200 * time.Millisecond):
	}

	mu.Lock()
	require.Len(t, triggers, 1)
	require.Contains(t, triggers[0], "file change")
	mu.Unlock()

	cancel()
	require.NoError(t, <-done)
}

func TestExecuteRun_ReloadsDescriptor(t *testing.T) {
	dir := t.TempDir()
	path := writeDescriptor(t, dir, minimalDescriptor)

	var got *config.Pipeline
	d, err := New(Options{ConfigPath: path, Dir: dir}, func(_ context.Context, cfg *config.Pipeline, _ string) error {
		got = cfg
		return nil
	})
	require.NoError(t, err)

	writeDescriptor(t, dir, "script:\n  - \"echo updated\"\n")
	d.executeRun(context.Background(), "test")

	require.NotNil(t, got)
	require.Equal(t, []string{"echo updated"}, got.Script)
	require.Equal(t, []string{"echo updated"}, d.Config().Script)
}

func TestExecuteRun_KeepsPreviousDescriptorOnReloadFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeDescriptor(t, dir, minimalDescriptor)

	var got *config.Pipeline
	d, err := New(Options{ConfigPath: path, Dir: dir}, func(_ context.Context, cfg *config.Pipeline, _ string) error {
		got = cfg
		return nil
	})
	require.NoError(t, err)

	// An empty script list fails validation.
	writeDescriptor(t, dir, "script: []\n")
	d.executeRun(context.Background(), "test")

	require.NotNil(t, got)
	require.Equal(t, []string{"true"}, got.Script)
}

func TestHTTPServer_HealthAndMetrics(t *testing.T) {
	dir := t.TempDir()
	path := writeDescriptor(t, dir, minimalDescriptor)

	d, err := New(Options{ConfigPath: path, Dir: dir}, nil)
	require.NoError(t, err)

	srv, err := newHTTPServer("127.0.0.1:0", prom.NewRegistry(), d)
	require.NoError(t, err)
	srv.Start()
	defer srv.Stop()

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health struct {
		Status  string `json:"status"`
		Running bool   `json:"running"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	require.Equal(t, "ok", health.Status)
	require.False(t, health.Running)

	mresp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	defer mresp.Body.Close()
	require.Equal(t, http.StatusOK, mresp.StatusCode)
}

func TestWatcher_DebounceReportsLatestChange(t *testing.T) {
	dir := t.TempDir()
	d := &Daemon{triggers: make(chan string, 1)}
	w := &watcher{
		dir:      dir,
		debounce: 30 * time.Millisecond,
		daemon:   d,
		changes:  make(chan string),
		stop:     make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.debounceLoop(ctx)

	// Rapid successive changes reset the timer; only the last one may
	// surface, and reading it in the callback must not race the loop.
	for _, name := range []string{"a.py", "b.py", "c.py"} {
		w.changes <- filepath.Join(dir, name)
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case trigger := <-d.triggers:
		require.Equal(t, "file change: c.py", trigger)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for debounced trigger")
	}
}

func TestWatcher_IgnoresOutputAndHiddenPaths(t *testing.T) {
	dir := t.TempDir()
	w := &watcher{dir: dir, ignore: []string{"site"}}

	require.True(t, w.ignored(filepath.Join(dir, ".git", "HEAD")))
	require.True(t, w.ignored(filepath.Join(dir, "site", "index.html")))
	require.False(t, w.ignored(filepath.Join(dir, "src", "main.py")))
}
