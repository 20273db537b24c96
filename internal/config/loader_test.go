package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethanolivertroy/reqcheck/internal/models"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reqcheck.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	cfg, err := Load("", nil)
	require.NoError(t, err)

	d := models.DefaultConfig()
	assert.Equal(t, d.OutputFormat, cfg.OutputFormat)
	assert.Equal(t, d.Index, cfg.Index)
	assert.Equal(t, d.Cache, cfg.Cache)
	assert.Equal(t, d.HTTP, cfg.HTTP)
	assert.Equal(t, d.Resolve, cfg.Resolve)
	assert.Equal(t, d.Environment, cfg.Environment)
	assert.Equal(t, d.Log, cfg.Log)
	assert.Equal(t, d.Enrich, cfg.Enrich)
	assert.Empty(t, cfg.Lint.Disable)
	assert.False(t, cfg.Lint.AllowUnpinned)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
format: json
index:
  url: https://mirror.example/pypi
cache:
  ttl: 2h
  max_size: 20MB
resolve:
  max_depth: 2
environment:
  python_version: "3.9"
lint:
  require_pins: true
  disable: [RQ006, RQ008]
`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "json", cfg.OutputFormat)
	assert.Equal(t, "https://mirror.example/pypi", cfg.Index.URL)
	assert.Equal(t, 2*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 2, cfg.Resolve.MaxDepth)
	assert.Equal(t, "3.9", cfg.Environment.PythonVersion)
	assert.True(t, cfg.Lint.RequirePins)
	assert.Equal(t, []string{"RQ006", "RQ008"}, cfg.Lint.Disable)
	assert.Equal(t, models.DefaultOSVURL, cfg.OSV.URL)

	size, err := cfg.CacheMaxBytes()
	require.NoError(t, err)
	assert.Equal(t, uint64(20_000_000), size)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "resolve:\n  max_depth: 2\n")
	t.Setenv("REQCHECK_RESOLVE_MAX_DEPTH", "4")
	t.Setenv("REQCHECK_ENVIRONMENT_SYS_PLATFORM", "win32")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Resolve.MaxDepth)
	assert.Equal(t, "win32", cfg.Environment.SysPlatform)
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	path := writeConfig(t, "format: yaml\n")
	t.Setenv("REQCHECK_FORMAT", "json")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("format", "terminal", "")
	flags.Int("max-depth", models.DefaultMaxDepth, "")
	flags.StringSlice("disable", nil, "")
	flags.Duration("timeout", models.DefaultTimeout, "")
	require.NoError(t, flags.Parse([]string{"--format", "sarif", "--disable", "RQ005,RQ007", "--timeout", "5s"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, "sarif", cfg.OutputFormat)
	assert.Equal(t, []string{"RQ005", "RQ007"}, cfg.Lint.Disable)
	assert.Equal(t, 5*time.Second, cfg.HTTP.Timeout)
	// Unset flags leave the default in place.
	assert.Equal(t, models.DefaultMaxDepth, cfg.Resolve.MaxDepth)
}

func TestLoad_AllowUnpinned(t *testing.T) {
	cfg, err := Load(writeConfig(t, "lint:\n  allow_unpinned: true\n"), nil)
	require.NoError(t, err)
	assert.True(t, cfg.Lint.AllowUnpinned)

	t.Setenv("REQCHECK_LINT_ALLOW_UNPINNED", "false")
	cfg, err = Load(writeConfig(t, "lint:\n  allow_unpinned: true\n"), nil)
	require.NoError(t, err)
	assert.False(t, cfg.Lint.AllowUnpinned)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"format", "format: xml\n"},
		{"log format", "log:\n  format: logfmt\n"},
		{"depth", "resolve:\n  max_depth: -1\n"},
		{"concurrency", "resolve:\n  concurrency: 0\n"},
		{"cache size", "cache:\n  max_size: lots\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content), nil)
			assert.ErrorIs(t, err, models.ErrInvalidConfig)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	assert.Error(t, err)
}
