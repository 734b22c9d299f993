package docs

import (
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"
)

// BrokenLink describes an internal link whose target does not exist in
// the generated site.
type BrokenLink struct {
	Source string // page containing the link, relative to the site root
	Target string // href as written
}

func (b BrokenLink) String() string {
	return fmt.Sprintf("%s -> %s", b.Source, b.Target)
}

// VerifyLinks walks the generated site and checks every relative anchor
// href against the output tree. External links (scheme or host) are not
// checked; the docs build must not depend on the network.
func VerifyLinks(siteDir string) error {
	var broken []BrokenLink

	err := filepath.WalkDir(siteDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".html") {
			return nil
		}

		rel, err := filepath.Rel(siteDir, path)
		if err != nil {
			return err
		}

		hrefs, err := extractHrefs(path)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", rel, err)
		}

		for _, href := range hrefs {
			if !isRelative(href) {
				continue
			}
			target := strings.SplitN(href, "#", 2)[0]
			if target == "" {
				continue // pure fragment
			}
			resolved := filepath.Join(filepath.Dir(path), filepath.FromSlash(target))
			if _, statErr := os.Stat(resolved); statErr != nil {
				broken = append(broken, BrokenLink{Source: rel, Target: href})
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if len(broken) > 0 {
		return fmt.Errorf("%d broken internal links, first: %s", len(broken), broken[0])
	}
	return nil
}

// extractHrefs parses an HTML file and returns all anchor hrefs.
func extractHrefs(path string) ([]string, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	doc, err := html.Parse(f)
	if err != nil {
		return nil, err
	}

	var hrefs []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key == "href" && attr.Val != "" {
					hrefs = append(hrefs, attr.Val)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return hrefs, nil
}

// isRelative reports whether href points inside the generated site.
func isRelative(href string) bool {
	u, err := url.Parse(href)
	if err != nil {
		return false
	}
	return u.Scheme == "" && u.Host == "" && !strings.HasPrefix(href, "/")
}
