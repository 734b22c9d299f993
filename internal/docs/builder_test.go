package docs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/cirunner/internal/config"
)

func writeDoc(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestBuild_RendersMarkdownTree(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "docs/intro.md", "# Introduction\n\nHello **world**.\n")
	writeDoc(t, dir, "docs/guide/Getting Started.md", "# Guide\n")

	cfg := &config.DocsConfig{Source: "docs", Output: "site", Title: "Test Docs"}
	b := NewBuilder(cfg, dir)
	require.NoError(t, b.Build(context.Background()))

	intro, err := os.ReadFile(filepath.Join(dir, "site", "intro.html"))
	require.NoError(t, err)
	require.Contains(t, string(intro), "<strong>world</strong>")
	require.Contains(t, string(intro), "Test Docs")

	// Nested page gets slugified path.
	_, err = os.Stat(filepath.Join(dir, "site", "guide", "getting-started.html"))
	require.NoError(t, err)

	index, err := os.ReadFile(filepath.Join(dir, "site", "index.html"))
	require.NoError(t, err)
	require.Contains(t, string(index), `href="intro.html"`)
	require.Contains(t, string(index), `href="guide/getting-started.html"`)
}

func TestBuild_FailsWithoutMarkdown(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "docs"), 0o755))

	cfg := &config.DocsConfig{Source: "docs", Output: "site", Title: "T"}
	b := NewBuilder(cfg, dir)
	require.Error(t, b.Build(context.Background()))
}

func TestBuild_CleansStaleOutput(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "docs/a.md", "# A\n")
	writeDoc(t, dir, "site/stale.html", "<html></html>")

	cfg := &config.DocsConfig{Source: "docs", Output: "site", Title: "T"}
	b := NewBuilder(cfg, dir)
	require.NoError(t, b.Build(context.Background()))

	_, err := os.Stat(filepath.Join(dir, "site", "stale.html"))
	require.True(t, os.IsNotExist(err))
}

func TestBuild_VerifyLinksCatchesBrokenLink(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "docs/a.md", "[missing](missing.html)\n")

	cfg := &config.DocsConfig{Source: "docs", Output: "site", Title: "T", VerifyLinks: true}
	b := NewBuilder(cfg, dir)
	err := b.Build(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "broken internal links")
}

func TestBuild_VerifyLinksAcceptsValidSite(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "docs/a.md", "[other page](b.html)\n\n[external](https://example.com/)\n")
	writeDoc(t, dir, "docs/b.md", "# B\n")

	cfg := &config.DocsConfig{Source: "docs", Output: "site", Title: "T", VerifyLinks: true}
	b := NewBuilder(cfg, dir)
	require.NoError(t, b.Build(context.Background()))
}

func TestOutputName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"intro.md", "intro.html"},
		{"Getting Started.md", "getting-started.html"},
		{filepath.Join("User Guide", "Setup.md"), filepath.Join("user-guide", "setup.html")},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, outputName(tc.in))
	}
}

func TestHomeLink(t *testing.T) {
	require.Equal(t, "index.html", homeLink("intro.html"))
	require.Equal(t, "../index.html", homeLink(filepath.Join("guide", "setup.html")))
}
