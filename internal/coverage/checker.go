package coverage

import (
	"context"
	"fmt"
	"path/filepath"

	"git.home.luguber.info/inful/cirunner/internal/config"
)

// Checker parses the configured coverage artifact after the script
// phase, applies the threshold gate, and optionally uploads the report.
type Checker struct {
	cfg      *config.CoverageConfig
	dir      string
	uploader *Uploader
	runID    string
	branch   string
	commit   string
}

// NewChecker builds a checker rooted at the checkout directory. The
// uploader may be nil when no upload endpoint is configured.
func NewChecker(cfg *config.CoverageConfig, dir string, uploader *Uploader) *Checker {
	return &Checker{cfg: cfg, dir: dir, uploader: uploader}
}

// SetRunInfo supplies run metadata attached to uploaded reports.
func (c *Checker) SetRunInfo(runID, branch, commit string) {
	c.runID = runID
	c.branch = branch
	c.commit = commit
}

// Check implements the runner's coverage gate.
func (c *Checker) Check(ctx context.Context) (float64, error) {
	path := c.cfg.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.dir, path)
	}

	report, err := Parse(path, c.cfg.Format)
	if err != nil {
		return 0, err
	}

	if err := Gate(report, c.cfg.MinPercent); err != nil {
		return report.Percent(), err
	}

	if c.uploader != nil {
		if err := c.uploader.Upload(ctx, report, c.runID, c.branch, c.commit); err != nil {
			return report.Percent(), fmt.Errorf("coverage parsed but upload failed: %w", err)
		}
	}

	return report.Percent(), nil
}
