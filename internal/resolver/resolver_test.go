package resolver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/ethanolivertroy/reqcheck/internal/models"
	"github.com/ethanolivertroy/reqcheck/internal/parsers"
	"github.com/ethanolivertroy/reqcheck/internal/resolver/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/zerr"
	"go.uber.org/mock/gomock"
)

// mapIndex is an in-memory Index: name -> version -> requires_dist
type mapIndex map[string]map[string][]string

func (m mapIndex) Versions(_ context.Context, name string) ([]string, error) {
	releases, ok := m[name]
	if !ok {
		return nil, zerr.With(models.ErrPackageNotFound, "package", name)
	}
	out := make([]string, 0, len(releases))
	for v := range releases {
		out = append(out, v)
	}
	return out, nil
}

func (m mapIndex) Requires(_ context.Context, name, version string) ([]string, error) {
	deps, ok := m[name][version]
	if !ok {
		return nil, zerr.With(models.ErrPackageNotFound, "package", name+"=="+version)
	}
	return deps, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func manifest(t *testing.T, content string) []models.Requirement {
	t.Helper()
	m, err := (&parsers.PythonRequirementsParser{}).Parse("requirements.txt", []byte(content))
	require.NoError(t, err)
	require.Empty(t, m.Diagnostics)
	return m.Requirements
}

func pinMap(pins []models.Pin) map[string]string {
	out := make(map[string]string, len(pins))
	for _, p := range pins {
		out[p.Name] = p.Version
	}
	return out
}

const referenceManifest = `# Core Data Science Libraries
pandas>=2.0.0
numpy>=1.24.0

# Machine Learning
scikit-learn>=1.3.0
xgboost>=2.0.0

# Model Persistence
joblib>=1.3.0

# Web Application Framework
streamlit>=1.28.0

# Visualization
plotly>=5.15.0

# Geospatial Data Processing
geopy>=2.3.0
`

var referenceIndex = mapIndex{
	"pandas": {
		"1.5.3": nil,
		"2.0.0": {
			`numpy>=1.21.0; python_version < "3.11"`,
			`numpy>=1.23.2; python_version >= "3.11"`,
			"python-dateutil>=2.8.2",
			"pytz>=2020.1",
			"tzdata>=2022.1",
			`pytest>=7.0.0; extra == "test"`,
		},
		"2.1.0": nil,
	},
	"numpy":           {"1.23.5": nil, "1.24.0": nil, "1.26.0rc1": nil, "1.26.0": nil},
	"scikit-learn":    {"1.2.2": nil, "1.3.0": {"numpy>=1.17.3", "scipy>=1.5.0", "joblib>=1.1.1", "threadpoolctl>=2.0.0"}},
	"xgboost":         {"2.0.0": {"numpy", "scipy"}},
	"joblib":          {"1.2.0": nil, "1.3.0": nil},
	"streamlit":       {"1.28.0": {"numpy<2,>=1.19.3", "pandas<3,>=1.3.0", "packaging<24,>=16.8"}},
	"plotly":          {"5.14.1": nil, "5.15.0": {"tenacity>=6.2.0", "packaging"}},
	"geopy":           {"2.3.0": {"geographiclib<3,>=1.52"}},
	"python-dateutil": {"2.8.2": nil},
	"pytz":            {"2020.1": nil, "2023.3": nil},
	"tzdata":          {"2022.1": nil},
	"scipy":           {"1.5.0rc1": nil, "1.5.0": nil, "1.11.0": nil},
	"threadpoolctl":   {"2.0.0": nil},
	"tenacity":        {"6.2.0": nil},
	"packaging":       {"16.8": nil, "23.1": nil},
	"geographiclib":   {"1.50": nil, "1.52": nil, "2.0": nil},
}

func TestResolve_ReferenceManifest(t *testing.T) {
	cfg := models.DefaultConfig()
	res, err := New(referenceIndex, cfg, discard()).Resolve(context.Background(), manifest(t, referenceManifest))
	require.NoError(t, err)

	assert.Empty(t, res.Conflicts)

	pins := pinMap(res.Pins)
	for name, want := range map[string]string{
		"pandas":       "2.0.0",
		"numpy":        "1.24.0",
		"scikit-learn": "1.3.0",
		"xgboost":      "2.0.0",
		"joblib":       "1.3.0",
		"streamlit":    "1.28.0",
		"plotly":       "5.15.0",
		"geopy":        "2.3.0",
	} {
		assert.Equal(t, want, pins[name], name)
	}

	assert.Equal(t, "1.5.0", pins["scipy"])
	assert.Equal(t, "1.52", pins["geographiclib"])
	assert.Equal(t, "16.8", pins["packaging"])
	assert.NotContains(t, pins, "pytest")

	names := make([]string, 0, len(res.Pins))
	for _, p := range res.Pins {
		names = append(names, p.Name)
	}
	assert.IsIncreasing(t, names)

	for _, p := range res.Pins {
		if p.Name == "geographiclib" {
			assert.Equal(t, 1, p.Depth)
			assert.Equal(t, "geopy==2.3.0", p.RequiredBy)
		}
	}
}

func TestResolve_Unsatisfiable(t *testing.T) {
	res, err := New(referenceIndex, models.DefaultConfig(), discard()).
		Resolve(context.Background(), manifest(t, "pandas>=3.0\n"))
	require.NoError(t, err)

	require.Len(t, res.Conflicts, 1)
	c := res.Conflicts[0]
	assert.Equal(t, RuleUnsatisfiable, c.Rule)
	assert.Equal(t, "pandas", c.Package)
	assert.Contains(t, c.Reason, "no release of pandas satisfies")
	require.Len(t, c.Constraints, 1)
	assert.Equal(t, "requirements.txt:1", c.Constraints[0].Source)
	assert.Empty(t, res.Pins)
}

func TestResolve_PinViolatedByDependency(t *testing.T) {
	index := mapIndex{
		"numpy":      {"1.23.5": nil, "1.24.0": nil},
		"legacy-lib": {"1.0": {"numpy<1.24"}},
	}

	res, err := New(index, models.DefaultConfig(), discard()).
		Resolve(context.Background(), manifest(t, "numpy==1.24.0\nlegacy-lib>=1.0\n"))
	require.NoError(t, err)

	require.Len(t, res.Conflicts, 1)
	c := res.Conflicts[0]
	assert.Equal(t, RulePinViolated, c.Rule)
	assert.Equal(t, "numpy", c.Package)
	assert.Equal(t, "1.24.0", c.Pinned)
	assert.Equal(t, "legacy-lib==1.0 requires numpy<1.24 but numpy==1.24.0 was selected", c.Reason)
	assert.Len(t, c.Constraints, 2)

	assert.Equal(t, map[string]string{"legacy-lib": "1.0"}, pinMap(res.Pins))
}

func TestResolve_ExtrasAndMarkers(t *testing.T) {
	index := mapIndex{
		"requests": {"2.31.0": {
			"urllib3<3,>=1.21.1",
			`PySocks!=1.5.7,>=1.5.6; extra == "socks"`,
			`chardet<6,>=3.0.2; extra == "use-chardet-on-py3"`,
		}},
		"urllib3": {"1.21.1": nil},
		"pysocks": {"1.5.6": nil, "1.5.7": nil},
	}

	res, err := New(index, models.DefaultConfig(), discard()).Resolve(context.Background(), manifest(t,
		"requests[socks]>=2.31.0\ntomli>=1.1.0; python_version < \"3.11\"\n"))
	require.NoError(t, err)

	assert.Empty(t, res.Conflicts)
	assert.Equal(t, map[string]string{
		"requests": "2.31.0",
		"urllib3":  "1.21.1",
		"pysocks":  "1.5.6",
	}, pinMap(res.Pins))
}

func TestResolve_ExtrasFromSiblingIgnoreNameOrder(t *testing.T) {
	for _, sibling := range []string{"a", "z"} {
		t.Run(sibling, func(t *testing.T) {
			index := mapIndex{
				sibling:    {"1.0": {"lib[fast]>=1.0"}},
				"lib":      {"1.0": {`speedups>=0.1; extra == "fast"`}},
				"speedups": {"0.1": nil},
			}

			res, err := New(index, models.DefaultConfig(), discard()).Resolve(context.Background(),
				manifest(t, sibling+">=1.0\nlib>=1.0\n"))
			require.NoError(t, err)

			assert.Empty(t, res.Conflicts)
			assert.Equal(t, map[string]string{sibling: "1.0", "lib": "1.0", "speedups": "0.1"}, pinMap(res.Pins))
		})
	}
}

func TestResolve_ExtrasFromDeeperLevel(t *testing.T) {
	index := mapIndex{
		"outer":    {"1.0": {"mid>=1.0"}},
		"mid":      {"1.0": {"lib[fast]>=1.0"}},
		"lib":      {"1.0": {`speedups>=0.1; extra == "fast"`}},
		"speedups": {"0.1": nil},
	}
	cfg := models.DefaultConfig()
	cfg.Resolve.MaxDepth = 2

	res, err := New(index, cfg, discard()).Resolve(context.Background(), manifest(t, "lib>=1.0\nouter>=1.0\n"))
	require.NoError(t, err)

	assert.Empty(t, res.Conflicts)
	pins := pinMap(res.Pins)
	assert.Equal(t, "0.1", pins["speedups"])
	assert.Equal(t, "1.0", pins["mid"])
}

func TestResolve_PostAndEpochReleases(t *testing.T) {
	index := mapIndex{
		"foo": {"1.0": nil, "1.0.post1": nil, "1.1": nil},
		"bar": {"1!2.0": nil, "1!2.5": nil},
	}

	res, err := New(index, models.DefaultConfig(), discard()).Resolve(context.Background(),
		manifest(t, "foo>1.0\nbar~=1!2.0\n"))
	require.NoError(t, err)

	assert.Empty(t, res.Conflicts)
	assert.Equal(t, map[string]string{"foo": "1.1", "bar": "1!2.0"}, pinMap(res.Pins))
}

func TestLowest(t *testing.T) {
	tests := []struct {
		name     string
		versions []string
		specs    string
		want     string
		ok       bool
	}{
		{"lowest final", []string{"2.1.0", "2.0.0", "1.9"}, ">=2.0", "2.0.0", true},
		{"prerelease requested", []string{"2.0.0rc1", "2.0.0", "2.1.0"}, ">=2.0.0rc1", "2.0.0rc1", true},
		{"prerelease not requested", []string{"2.0.0rc1", "2.0.0"}, ">=1.0", "2.0.0", true},
		{"only prerelease matches", []string{"1.0", "3.0.0b1"}, ">=2.0", "3.0.0b1", true},
		{"none", []string{"1.0"}, ">=2.0", "", false},
		{"ignores invalid", []string{"not-a-version", "1.0"}, "", "1.0", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var specs models.Specifiers
			if tt.specs != "" {
				var err error
				specs, err = parsers.ParseSpecifiers(tt.specs)
				require.NoError(t, err)
			}
			got, ok := lowest(tt.versions, specs)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_MissingPackage(t *testing.T) {
	ctrl := gomock.NewController(t)
	index := mocks.NewMockIndex(ctrl)

	index.EXPECT().Versions(gomock.Any(), "ghost").
		Return(nil, zerr.With(models.ErrPackageNotFound, "package", "ghost"))
	index.EXPECT().Versions(gomock.Any(), "numpy").Return([]string{"1.24.0"}, nil)

	cfg := models.DefaultConfig()
	cfg.Resolve.MaxDepth = 0

	res, err := New(index, cfg, discard()).Resolve(context.Background(), manifest(t, "ghost>=1.0\nnumpy>=1.24\n"))
	require.NoError(t, err)

	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, RuleNotFound, res.Conflicts[0].Rule)
	assert.Equal(t, "ghost", res.Conflicts[0].Package)
	assert.Equal(t, map[string]string{"numpy": "1.24.0"}, pinMap(res.Pins))
}

func TestResolve_IndexFailure(t *testing.T) {
	errDown := errors.New("connection refused")

	ctrl := gomock.NewController(t)
	index := mocks.NewMockIndex(ctrl)
	index.EXPECT().Versions(gomock.Any(), "numpy").Return([]string{"1.24.0"}, nil)
	index.EXPECT().Requires(gomock.Any(), "numpy", "1.24.0").Return(nil, errDown)

	_, err := New(index, models.DefaultConfig(), discard()).Resolve(context.Background(), manifest(t, "numpy>=1.24\n"))
	require.ErrorIs(t, err, errDown)
}
