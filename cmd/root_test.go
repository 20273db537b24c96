package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethanolivertroy/reqcheck/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func manifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "requirements.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLint_JSON(t *testing.T) {
	path := manifest(t, "# Web\nflask>=2.3\nrequests>=2.31.0\n")

	code, stdout, _ := execute(t, "lint", "--no-cache", "--format", "json", path)
	require.Equal(t, ExitOK, code)

	var doc struct {
		Command string `json:"command"`
		Summary struct {
			Requirements int `json:"requirements"`
			Errors       int `json:"errors"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &doc))
	assert.Equal(t, "lint", doc.Command)
	assert.Equal(t, 2, doc.Summary.Requirements)
	assert.Zero(t, doc.Summary.Errors)
}

func TestLint_ExitCodes(t *testing.T) {
	path := manifest(t, "flask\n")

	code, stdout, _ := execute(t, "lint", "--no-cache", path)
	assert.Equal(t, ExitProblem, code, "unpinned requirements are errors in requirements files")
	assert.Contains(t, stdout, "RQ005")

	code, _, _ = execute(t, "lint", "--no-cache", "--allow-unpinned", path)
	assert.Equal(t, ExitOK, code)

	code, _, _ = execute(t, "lint", "--no-cache", "--allow-unpinned", "--require-pins", path)
	assert.Equal(t, ExitProblem, code)

	code, _, _ = execute(t, "lint", "--no-cache", "--no-fail", path)
	assert.Equal(t, ExitOK, code)

	code, stdout, _ = execute(t, "lint", "--no-cache", "--disable", "RQ005", path)
	assert.Equal(t, ExitOK, code)
	assert.NotContains(t, stdout, "RQ005")
}

func TestLint_BareNameFailsByDefault(t *testing.T) {
	path := manifest(t, "# Core\npandas\nnumpy>=1.24.0\n")

	code, stdout, _ := execute(t, "lint", "--no-cache", "--format", "json", path)
	require.Equal(t, ExitProblem, code)

	var doc struct {
		Summary struct {
			Errors int `json:"errors"`
		} `json:"summary"`
		Diagnostics []struct {
			Rule     string `json:"rule"`
			Severity string `json:"severity"`
			Line     int    `json:"line"`
		} `json:"diagnostics"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &doc))
	assert.Equal(t, 1, doc.Summary.Errors)
	require.Len(t, doc.Diagnostics, 1)
	assert.Equal(t, "RQ005", doc.Diagnostics[0].Rule)
	assert.Equal(t, "error", doc.Diagnostics[0].Severity)
	assert.Equal(t, 2, doc.Diagnostics[0].Line)
}

func TestCheck_StaticIndex(t *testing.T) {
	path := manifest(t, "pandas>=2.0.0\nnumpy==1.22.0\n")
	index := filepath.Join(t.TempDir(), "index.yaml")
	require.NoError(t, os.WriteFile(index, []byte(`packages:
  pandas:
    "2.0.0": [numpy>=1.23.2]
  numpy:
    "1.22.0": []
    "1.24.0": []
`), 0o644))

	out := filepath.Join(t.TempDir(), "report.sarif")
	code, _, stderr := execute(t, "check", "--no-cache", "--index-file", index, "--format", "sarif", "--output", out, path)
	assert.Equal(t, ExitProblem, code)
	assert.Contains(t, stderr, "Report written to "+out)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"ruleId": "RC002"`)
}

func TestRun_Failures(t *testing.T) {
	path := manifest(t, "flask>=2.3\n")

	code, _, stderr := execute(t, "lint", "--no-cache", "--format", "xml", path)
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stderr, "invalid configuration")

	code, _, stderr = execute(t, "lint", "--no-cache", filepath.Join(t.TempDir(), "missing"))
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stderr, "Error:")

	code, _, _ = execute(t, "lint", "--no-such-flag")
	assert.Equal(t, ExitFailure, code)
}

func TestVersion(t *testing.T) {
	code, stdout, _ := execute(t, "version")
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, "reqcheck dev")
}

func TestCache_InfoAndClear(t *testing.T) {
	dir := t.TempDir()
	c, err := cache.New(dir, 0)
	require.NoError(t, err)
	require.NoError(t, c.Set("GET https://pypi.org/pypi/flask/json", []byte(`{"releases": {}}`)))

	code, stdout, _ := execute(t, "cache", "info", "--cache-dir", dir)
	require.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, "Directory: "+dir)
	assert.Contains(t, stdout, "Entries:   1 (0 expired)")

	code, stdout, _ = execute(t, "cache", "clear", "--cache-dir", dir)
	require.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, "Removed 1 cached responses")
}
