// Package docs implements the built-in documentation build: Markdown
// sources rendered to a static HTML site, with optional verification of
// internal links in the generated pages.
package docs

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"git.home.luguber.info/inful/cirunner/internal/config"
	"git.home.luguber.info/inful/cirunner/internal/logfields"
)

// Builder renders a Markdown source tree into a static site.
type Builder struct {
	cfg *config.DocsConfig
	dir string // checkout root; cfg paths are relative to it
	md  goldmark.Markdown
}

// NewBuilder creates a docs builder rooted at the checkout directory.
func NewBuilder(cfg *config.DocsConfig, dir string) *Builder {
	return &Builder{
		cfg: cfg,
		dir: dir,
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(gmhtml.WithUnsafe()),
		),
	}
}

// Page is one rendered documentation page.
type Page struct {
	SourcePath string // relative to the docs source directory
	OutputPath string // relative to the output directory
	Title      string
}

// Build implements the runner docs phase: render every Markdown file,
// write an index, then verify links when configured.
func (b *Builder) Build(ctx context.Context) error {
	source := b.resolve(b.cfg.Source)
	output := b.resolve(b.cfg.Output)

	pages, err := b.collectPages(source)
	if err != nil {
		return err
	}
	if len(pages) == 0 {
		return fmt.Errorf("no markdown files found under %s", source)
	}

	// Clean output so removed pages do not linger between builds.
	if err := os.RemoveAll(output); err != nil {
		return fmt.Errorf("failed to clean output directory: %w", err)
	}
	if err := os.MkdirAll(output, 0o750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	for _, page := range pages {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := b.renderPage(source, output, page); err != nil {
			return err
		}
	}

	if err := b.writeIndex(output, pages); err != nil {
		return err
	}

	slog.Info("Documentation site generated",
		logfields.Path(output),
		slog.Int("pages", len(pages)))

	if b.cfg.VerifyLinks {
		if err := VerifyLinks(output); err != nil {
			return fmt.Errorf("link verification: %w", err)
		}
	}

	return nil
}

func (b *Builder) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(b.dir, path)
}

// collectPages walks the source tree for Markdown files in stable order.
func (b *Builder) collectPages(source string) ([]Page, error) {
	var pages []Page
	err := filepath.WalkDir(source, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != source {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".md") {
			return nil
		}
		rel, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}
		pages = append(pages, Page{
			SourcePath: rel,
			OutputPath: outputName(rel),
			Title:      titleFor(rel),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan docs source: %w", err)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].SourcePath < pages[j].SourcePath })
	return pages, nil
}

// outputName maps a relative Markdown path to its HTML output path,
// slugifying each path element.
func outputName(rel string) string {
	dir, file := filepath.Split(rel)
	base := strings.TrimSuffix(file, filepath.Ext(file))

	parts := []string{}
	for _, p := range strings.Split(filepath.ToSlash(dir), "/") {
		if p == "" {
			continue
		}
		parts = append(parts, Slugify(p))
	}
	parts = append(parts, Slugify(base)+".html")
	return filepath.Join(parts...)
}

// titleFor derives a human title from the source file name, preferring
// the first heading once the page is rendered (see renderPage).
func titleFor(rel string) string {
	base := strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel))
	base = strings.ReplaceAll(base, "_", " ")
	base = strings.ReplaceAll(base, "-", " ")
	return strings.TrimSpace(base)
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}} - {{.SiteTitle}}</title>
</head>
<body>
<nav><a href="{{.Home}}">{{.SiteTitle}}</a></nav>
<main>
{{.Body}}
</main>
</body>
</html>
`))

type pageData struct {
	Title     string
	SiteTitle string
	Home      string
	Body      template.HTML
}

func (b *Builder) renderPage(source, output string, page Page) error {
	data, err := os.ReadFile(filepath.Join(source, page.SourcePath))
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", page.SourcePath, err)
	}

	var body bytes.Buffer
	if err := b.md.Convert(data, &body); err != nil {
		return fmt.Errorf("failed to render %s: %w", page.SourcePath, err)
	}

	outPath := filepath.Join(output, page.OutputPath)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o750); err != nil {
		return fmt.Errorf("failed to create output subdirectory: %w", err)
	}

	var buf bytes.Buffer
	err = pageTemplate.Execute(&buf, pageData{
		Title:     page.Title,
		SiteTitle: b.cfg.Title,
		Home:      homeLink(page.OutputPath),
		Body:      template.HTML(body.String()),
	})
	if err != nil {
		return fmt.Errorf("failed to execute page template: %w", err)
	}

	if err := os.WriteFile(outPath, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outPath, err)
	}

	slog.Debug("Rendered page", logfields.Path(page.OutputPath))
	return nil
}

// homeLink returns the relative path back to index.html from a page.
func homeLink(outputPath string) string {
	depth := strings.Count(filepath.ToSlash(outputPath), "/")
	if depth == 0 {
		return "index.html"
	}
	return strings.Repeat("../", depth) + "index.html"
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.SiteTitle}}</title>
</head>
<body>
<h1>{{.SiteTitle}}</h1>
<ul>
{{range .Pages}}<li><a href="{{.OutputPath}}">{{.Title}}</a></li>
{{end}}</ul>
</body>
</html>
`))

func (b *Builder) writeIndex(output string, pages []Page) error {
	type indexData struct {
		SiteTitle string
		Pages     []Page
	}

	// Links in the index use forward slashes regardless of platform.
	linked := make([]Page, len(pages))
	copy(linked, pages)
	for i := range linked {
		linked[i].OutputPath = filepath.ToSlash(linked[i].OutputPath)
	}

	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, indexData{SiteTitle: b.cfg.Title, Pages: linked}); err != nil {
		return fmt.Errorf("failed to execute index template: %w", err)
	}
	if err := os.WriteFile(filepath.Join(output, "index.html"), buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	return nil
}
