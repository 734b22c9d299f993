package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Pipeline is the root of the pipeline descriptor.
type Pipeline struct {
	Runtime       RuntimeConfig        `yaml:"runtime"`
	Env           map[string]string    `yaml:"env,omitempty"`
	BeforeInstall []string             `yaml:"before_install,omitempty"`
	Install       []string             `yaml:"install,omitempty"`
	Script        []string             `yaml:"script"`
	AfterSuccess  []string             `yaml:"after_success,omitempty"`
	Coverage      *CoverageConfig      `yaml:"coverage,omitempty"`
	Docs          *DocsConfig          `yaml:"docs,omitempty"`
	Deploy        *DeployConfig        `yaml:"deploy,omitempty"`
	Notifications *NotificationsConfig `yaml:"notifications,omitempty"`
	Schedule      *ScheduleConfig      `yaml:"schedule,omitempty"`
	Retry         *RetryConfig         `yaml:"retry,omitempty"`
	StepTimeout   Duration             `yaml:"step_timeout,omitempty"`
}

// RuntimeConfig declares the language runtime the pipeline expects.
type RuntimeConfig struct {
	Name     string   `yaml:"name,omitempty"`
	Versions []string `yaml:"versions,omitempty"`
	Version  string   `yaml:"version,omitempty"` // active version for this run
}

// CoverageConfig controls coverage artifact handling after the script phase.
type CoverageConfig struct {
	File       string  `yaml:"file"`
	Format     string  `yaml:"format,omitempty"` // "goprofile" or "lcov"
	MinPercent float64 `yaml:"min_percent,omitempty"`
	UploadURL  string  `yaml:"upload_url,omitempty"`
	TokenEnv   string  `yaml:"token_env,omitempty"`
}

// DocsConfig controls the built-in documentation build.
type DocsConfig struct {
	Source      string `yaml:"source"`
	Output      string `yaml:"output,omitempty"`
	Title       string `yaml:"title,omitempty"`
	BaseURL     string `yaml:"base_url,omitempty"`
	VerifyLinks bool   `yaml:"verify_links,omitempty"`
}

// DeployConfig controls publication of built documentation.
type DeployConfig struct {
	Provider  string           `yaml:"provider,omitempty"` // only "pages"
	Branch    string           `yaml:"branch,omitempty"`   // target branch
	Directory string           `yaml:"directory,omitempty"`
	TokenEnv  string           `yaml:"token_env,omitempty"`
	Remote    string           `yaml:"remote,omitempty"`
	Author    string           `yaml:"author,omitempty"`
	Email     string           `yaml:"email,omitempty"`
	On        DeployConditions `yaml:"on,omitempty"`
}

// DeployConditions gate a deploy on properties of the run.
type DeployConditions struct {
	Branch  string `yaml:"branch,omitempty"`
	Runtime string `yaml:"runtime,omitempty"`
}

// NotificationsConfig configures run lifecycle event publishing.
type NotificationsConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject,omitempty"`
}

// ScheduleConfig configures daemon-mode periodic runs.
type ScheduleConfig struct {
	Interval Duration `yaml:"interval,omitempty"`
	Cron     string   `yaml:"cron,omitempty"`
}

// Load loads a pipeline descriptor from the specified file.
func Load(path string) (*Pipeline, error) {
	// Load .env file if it exists so token env vars are available for expansion.
	LoadEnvFiles()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("pipeline descriptor not found: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read descriptor: %w", err)
	}

	// Expand environment variables in the YAML content so secrets stay
	// out of the descriptor itself.
	expanded := os.ExpandEnv(string(data))

	// Unknown keys are an error: a misspelled phase name would otherwise
	// silently drop its steps.
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)

	var p Pipeline
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to unmarshal descriptor: %w", err)
	}

	p.applyDefaults()

	if err := p.Validate(); err != nil {
		return nil, err
	}

	return &p, nil
}

func (p *Pipeline) applyDefaults() {
	if p.StepTimeout <= 0 {
		p.StepTimeout = Duration(30 * time.Minute)
	}
	if p.Runtime.Version == "" && len(p.Runtime.Versions) > 0 {
		p.Runtime.Version = p.Runtime.Versions[0]
	}
	if p.Coverage != nil {
		if p.Coverage.Format == "" {
			p.Coverage.Format = CoverageFormatGoProfile
		}
		if p.Coverage.TokenEnv == "" && p.Coverage.UploadURL != "" {
			p.Coverage.TokenEnv = "COVERAGE_TOKEN"
		}
	}
	if p.Docs != nil {
		if p.Docs.Output == "" {
			p.Docs.Output = "./site"
		}
		if p.Docs.Title == "" {
			p.Docs.Title = "Documentation"
		}
	}
	if p.Deploy != nil {
		if p.Deploy.Provider == "" {
			p.Deploy.Provider = DeployProviderPages
		}
		if p.Deploy.Branch == "" {
			p.Deploy.Branch = "gh-pages"
		}
		if p.Deploy.TokenEnv == "" {
			p.Deploy.TokenEnv = "GITHUB_TOKEN"
		}
		if p.Deploy.Remote == "" {
			p.Deploy.Remote = "origin"
		}
		if p.Deploy.Directory == "" && p.Docs != nil {
			p.Deploy.Directory = p.Docs.Output
		}
		if p.Deploy.Author == "" {
			p.Deploy.Author = "cirunner"
		}
		if p.Deploy.Email == "" {
			p.Deploy.Email = "cirunner@localhost"
		}
	}
	if p.Notifications != nil && p.Notifications.Subject == "" {
		p.Notifications.Subject = "ci.runs"
	}
}

// Coverage formats understood by the coverage parser.
const (
	CoverageFormatGoProfile = "goprofile"
	CoverageFormatLCOV      = "lcov"
)

// DeployProviderPages publishes a directory to a branch served as a website.
const DeployProviderPages = "pages"

// Validate performs structural checks on the descriptor.
func (p *Pipeline) Validate() error {
	if len(p.Script) == 0 {
		return fmt.Errorf("descriptor must declare at least one script step")
	}
	if p.Coverage != nil {
		if p.Coverage.File == "" {
			return fmt.Errorf("coverage.file is required when coverage is configured")
		}
		switch p.Coverage.Format {
		case CoverageFormatGoProfile, CoverageFormatLCOV:
		default:
			return fmt.Errorf("unsupported coverage format: %s", p.Coverage.Format)
		}
		if p.Coverage.MinPercent < 0 || p.Coverage.MinPercent > 100 {
			return fmt.Errorf("coverage.min_percent must be within [0,100]")
		}
	}
	if p.Docs != nil && p.Docs.Source == "" {
		return fmt.Errorf("docs.source is required when docs is configured")
	}
	if p.Deploy != nil {
		if p.Deploy.Provider != DeployProviderPages {
			return fmt.Errorf("unsupported deploy provider: %s", p.Deploy.Provider)
		}
		if p.Deploy.Directory == "" {
			return fmt.Errorf("deploy.directory is required (or configure docs.output)")
		}
	}
	if p.Schedule != nil && p.Schedule.Interval <= 0 && p.Schedule.Cron == "" {
		return fmt.Errorf("schedule requires an interval or a cron expression")
	}
	if p.Runtime.Version != "" && len(p.Runtime.Versions) > 0 {
		if !p.Runtime.Accepts(p.Runtime.Version) {
			return fmt.Errorf("runtime version %s is not in the accepted list", p.Runtime.Version)
		}
	}
	if p.Retry != nil {
		if err := p.Retry.validate(); err != nil {
			return err
		}
	}
	return nil
}

// Accepts reports whether the given version is in the accepted list.
// An empty list accepts any version.
func (r RuntimeConfig) Accepts(version string) bool {
	if len(r.Versions) == 0 {
		return true
	}
	for _, v := range r.Versions {
		if v == version {
			return true
		}
	}
	return false
}

// Init creates a new descriptor file with example content.
func Init(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("descriptor already exists: %s (use --force to overwrite)", path)
	}

	example := Pipeline{
		Runtime: RuntimeConfig{
			Name:     "python",
			Versions: []string{"3.6"},
		},
		Env: map[string]string{
			"PIP_DISABLE_PIP_VERSION_CHECK": "1",
		},
		Install: []string{
			"pip install -r requirements.txt",
			"pip install .",
		},
		Script: []string{
			"pytest --cov --cov-report=lcov:coverage.lcov",
			"jupyter nbconvert --execute examples/examples.ipynb",
		},
		Coverage: &CoverageConfig{
			File:       "coverage.lcov",
			Format:     CoverageFormatLCOV,
			MinPercent: 80,
		},
		Docs: &DocsConfig{
			Source: "docs",
			Output: "./site",
			Title:  "Project Documentation",
		},
		Deploy: &DeployConfig{
			Provider: DeployProviderPages,
			Branch:   "gh-pages",
			TokenEnv: "GITHUB_TOKEN",
			On: DeployConditions{
				Branch:  "master",
				Runtime: "3.6",
			},
		},
	}

	data, err := yaml.Marshal(&example)
	if err != nil {
		return fmt.Errorf("failed to marshal descriptor: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write descriptor: %w", err)
	}

	return nil
}
