package lint_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/ethanolivertroy/reqcheck/internal/lint"
	"github.com/ethanolivertroy/reqcheck/internal/models"
	"github.com/ethanolivertroy/reqcheck/internal/parsers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, path, content string) *models.Manifest {
	t.Helper()
	m, err := (&parsers.PythonRequirementsParser{}).Parse(path, []byte(content))
	require.NoError(t, err)
	return m
}

func rules(diags []models.Diagnostic) []string {
	out := make([]string, 0, len(diags))
	for _, d := range diags {
		out = append(out, d.Rule)
	}
	return out
}

func newLinter(cfg *models.Config) *lint.Linter {
	return lint.New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestLint_CleanManifest(t *testing.T) {
	m := parse(t, "requirements.txt", "# Core\npandas>=2.0.0\nnumpy>=1.24.0\n")

	diags := newLinter(models.DefaultConfig()).Lint([]*models.Manifest{m})
	assert.Empty(t, diags)
}

func TestLint_Rules(t *testing.T) {
	m := parse(t, "requirements.txt", `requests
numpy>=1.24
numpy>=1.25
Django_Utils>=1.0
urllib3<2
pandas>=2.0,<1.5
flask>=2.0; python_version < "3.8"
flask>=2.1; python_version >= "3.8"
pip>>1
`)

	diags := newLinter(models.DefaultConfig()).Lint([]*models.Manifest{m})

	assert.Equal(t, []string{
		lint.RuleUnpinned,     // 1 requests
		lint.RuleDuplicate,    // 3 numpy
		lint.RuleNonCanonical, // 4 Django_Utils
		lint.RuleNoLowerBound, // 5 urllib3
		lint.RuleSyntax,       // 9 pip>>1
	}, rules(diags))

	assert.Equal(t, 3, diags[1].Line)
	assert.Equal(t, "numpy is already required on line 2", diags[1].Message)
	assert.Equal(t, models.SeverityError, diags[0].Severity)
}

func TestLint_ConflictWithinRequirement(t *testing.T) {
	// A single requirement with an empty range is reported as RQ004 only
	// when it meets another requirement; on its own it surfaces at check time.
	m := parse(t, "requirements.txt", "pandas>=2.0,<1.5\n")

	diags := newLinter(models.DefaultConfig()).Lint([]*models.Manifest{m})
	assert.Empty(t, diags)
}

func TestLint_ConflictAcrossManifests(t *testing.T) {
	base := parse(t, "requirements.txt", "numpy>=1.24.0\n")
	pinned := parse(t, "requirements-ci.txt", "numpy==1.21.6\n")

	diags := newLinter(models.DefaultConfig()).Lint([]*models.Manifest{base, pinned})

	require.Len(t, diags, 1)
	d := diags[0]
	assert.Equal(t, lint.RuleConflict, d.Rule)
	assert.Equal(t, models.SeverityError, d.Severity)
	assert.Equal(t, "requirements-ci.txt", d.File)
	assert.Equal(t, "numpy", d.Package)
	assert.Contains(t, d.Message, ">=1.24.0 (requirements.txt:1)")
	assert.Contains(t, d.Message, "==1.21.6 (requirements-ci.txt:1)")
}

func TestLint_MarkersScopeConflicts(t *testing.T) {
	m := parse(t, "requirements.txt", `numpy>=1.21,<1.25; python_version < "3.9"
numpy>=1.26
`)

	diags := newLinter(models.DefaultConfig()).Lint([]*models.Manifest{m})
	assert.Empty(t, diags)

	cfg := models.DefaultConfig()
	cfg.Environment.PythonVersion = "3.8"
	diags = newLinter(cfg).Lint([]*models.Manifest{m})
	assert.Equal(t, []string{lint.RuleConflict}, rules(diags))
}

func TestLint_RequirePinsAndDisable(t *testing.T) {
	m := parse(t, "requirements.txt", "requests\nDjango>=4.2\n")

	cfg := models.DefaultConfig()
	cfg.Lint.RequirePins = true
	cfg.Lint.Disable = []string{lint.RuleNonCanonical}

	diags := newLinter(cfg).Lint([]*models.Manifest{m})
	require.Len(t, diags, 1)
	assert.Equal(t, lint.RuleUnpinned, diags[0].Rule)
	assert.Equal(t, models.SeverityError, diags[0].Severity)
}

func TestLint_UnpinnedSeverity(t *testing.T) {
	requirements := parse(t, "requirements.txt", "# Core\npandas\nnumpy>=1.24.0\n")
	pyproject, err := (&parsers.PythonPyProjectParser{}).Parse("pyproject.toml", []byte(`[project]
name = "demo"
dependencies = ["pandas"]
`))
	require.NoError(t, err)

	tests := []struct {
		name     string
		manifest *models.Manifest
		tweak    func(*models.LintConfig)
		want     models.Severity
	}{
		{"requirements file by default", requirements, nil, models.SeverityError},
		{"requirements file allowed", requirements, func(c *models.LintConfig) { c.AllowUnpinned = true }, models.SeverityWarning},
		{"require pins wins over allow", requirements, func(c *models.LintConfig) {
			c.AllowUnpinned = true
			c.RequirePins = true
		}, models.SeverityError},
		{"pyproject by default", pyproject, nil, models.SeverityWarning},
		{"pyproject with require pins", pyproject, func(c *models.LintConfig) { c.RequirePins = true }, models.SeverityError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := models.DefaultConfig()
			if tt.tweak != nil {
				tt.tweak(&cfg.Lint)
			}

			diags := newLinter(cfg).Lint([]*models.Manifest{tt.manifest})
			require.Len(t, diags, 1)
			assert.Equal(t, lint.RuleUnpinned, diags[0].Rule)
			assert.Equal(t, "pandas has no version constraint", diags[0].Message)
			assert.Equal(t, tt.want, diags[0].Severity)
		})
	}
}

func TestLint_EmptyManifest(t *testing.T) {
	m := parse(t, "requirements.txt", "# nothing yet\n")

	diags := newLinter(models.DefaultConfig()).Lint([]*models.Manifest{m})
	assert.Equal(t, []string{lint.RuleEmpty}, rules(diags))
}
