package models

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"go.trai.ch/zerr"
)

// Config holds configuration for a reqcheck run
type Config struct {
	// Paths to scan for dependency files
	Paths []string `mapstructure:"-"`

	// Output settings
	OutputFormat string `mapstructure:"format"` // "terminal", "json", "yaml", "sarif"
	OutputFile   string `mapstructure:"output"` // Optional output file path

	// Exit 0 even when the report contains errors
	NoFail bool `mapstructure:"no_fail"`

	Index       IndexConfig       `mapstructure:"index"`
	OSV         OSVConfig         `mapstructure:"osv"`
	Enrich      EnrichConfig      `mapstructure:"enrich"`
	Cache       CacheConfig       `mapstructure:"cache"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Resolve     ResolveConfig     `mapstructure:"resolve"`
	Environment EnvironmentConfig `mapstructure:"environment"`
	Lint        LintConfig        `mapstructure:"lint"`
	Log         LogConfig         `mapstructure:"log"`
}

// IndexConfig selects the package index used for resolution
type IndexConfig struct {
	URL  string `mapstructure:"url"`  // PyPI JSON API base
	File string `mapstructure:"file"` // Static YAML index, overrides URL when set
}

// OSVConfig configures the vulnerability database
type OSVConfig struct {
	URL string `mapstructure:"url"`
}

// EnrichConfig configures the exploitation data attached to audit findings
type EnrichConfig struct {
	Disabled bool   `mapstructure:"disabled"`
	KEVURL   string `mapstructure:"kev_url"`
	EPSSURL  string `mapstructure:"epss_url"`
}

// CacheConfig configures the response cache
type CacheConfig struct {
	Disabled bool          `mapstructure:"disabled"`
	Dir      string        `mapstructure:"dir"` // Defaults to ~/.cache/reqcheck
	TTL      time.Duration `mapstructure:"ttl"`
	MaxSize  string        `mapstructure:"max_size"` // e.g. "100MB", pruned after each run
}

// HTTPConfig configures remote clients
type HTTPConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	Retries uint          `mapstructure:"retries"`
}

// ResolveConfig bounds the resolver
type ResolveConfig struct {
	MaxDepth    int `mapstructure:"max_depth"`   // 0 checks only the manifest's own requirements
	Concurrency int `mapstructure:"concurrency"` // Parallel index lookups
}

// EnvironmentConfig is the target interpreter used to evaluate markers
type EnvironmentConfig struct {
	PythonVersion string `mapstructure:"python_version"`
	SysPlatform   string `mapstructure:"sys_platform"`
}

// LintConfig tunes lint rules. A requirement without a version constraint
// is an error in requirements files unless AllowUnpinned is set, and in other
// manifests only when RequirePins is set.
type LintConfig struct {
	RequirePins   bool     `mapstructure:"require_pins"`
	AllowUnpinned bool     `mapstructure:"allow_unpinned"`
	Disable       []string `mapstructure:"disable"`
}

// LogConfig configures the slog handler
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "text" or "json"
}

const (
	DefaultIndexURL      = "https://pypi.org/pypi"
	DefaultOSVURL        = "https://api.osv.dev/v1/querybatch"
	DefaultKEVURL        = "https://raw.githubusercontent.com/cisagov/kev-data/main/known_exploited_vulnerabilities.json"
	DefaultEPSSURL       = "https://api.first.org/data/v1/epss"
	DefaultCacheTTL      = 24 * time.Hour
	DefaultCacheMaxSize  = "100MB"
	DefaultTimeout       = 60 * time.Second
	DefaultRetries       = 3
	DefaultMaxDepth      = 1
	DefaultConcurrency   = 10
	DefaultPythonVersion = "3.11"
	DefaultSysPlatform   = "linux"
)

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Paths:        []string{"."},
		OutputFormat: "terminal",
		Index:        IndexConfig{URL: DefaultIndexURL},
		OSV:          OSVConfig{URL: DefaultOSVURL},
		Enrich:       EnrichConfig{KEVURL: DefaultKEVURL, EPSSURL: DefaultEPSSURL},
		Cache:        CacheConfig{TTL: DefaultCacheTTL, MaxSize: DefaultCacheMaxSize},
		HTTP:         HTTPConfig{Timeout: DefaultTimeout, Retries: DefaultRetries},
		Resolve:      ResolveConfig{MaxDepth: DefaultMaxDepth, Concurrency: DefaultConcurrency},
		Environment:  EnvironmentConfig{PythonVersion: DefaultPythonVersion, SysPlatform: DefaultSysPlatform},
		Log:          LogConfig{Level: "warn", Format: "text"},
	}
}

// Validate checks values that would otherwise fail deep inside a run
func (c *Config) Validate() error {
	switch c.OutputFormat {
	case "terminal", "json", "yaml", "sarif":
	default:
		return zerr.With(ErrInvalidConfig, "format", c.OutputFormat)
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return zerr.With(ErrInvalidConfig, "log.format", c.Log.Format)
	}

	if c.Resolve.MaxDepth < 0 {
		return zerr.With(ErrInvalidConfig, "resolve.max_depth", fmt.Sprint(c.Resolve.MaxDepth))
	}
	if c.Resolve.Concurrency < 1 {
		return zerr.With(ErrInvalidConfig, "resolve.concurrency", fmt.Sprint(c.Resolve.Concurrency))
	}
	if _, err := c.CacheMaxBytes(); err != nil {
		return zerr.With(ErrInvalidConfig, "cache.max_size", c.Cache.MaxSize)
	}
	if c.HTTP.Timeout <= 0 {
		return zerr.With(ErrInvalidConfig, "http.timeout", c.HTTP.Timeout.String())
	}

	return nil
}

// CacheMaxBytes parses cache.max_size; an empty value means unbounded
func (c *Config) CacheMaxBytes() (uint64, error) {
	if c.Cache.MaxSize == "" {
		return 0, nil
	}
	return humanize.ParseBytes(c.Cache.MaxSize)
}

// RuleEnabled reports whether a lint rule has not been disabled
func (c *Config) RuleEnabled(rule string) bool {
	for _, r := range c.Lint.Disable {
		if r == rule {
			return false
		}
	}
	return true
}
