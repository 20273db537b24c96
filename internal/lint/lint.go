// Package lint checks parsed manifests for problems that do not need a
// package index: duplicates, contradictory ranges and missing bounds.
package lint

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/ethanolivertroy/reqcheck/internal/markers"
	"github.com/ethanolivertroy/reqcheck/internal/models"
	"github.com/ethanolivertroy/reqcheck/internal/parsers"
	"github.com/ethanolivertroy/reqcheck/internal/version"
)

// Rule identifiers. RQ001 and RQ002 are raised by the parsers.
const (
	RuleSyntax         = parsers.RuleSyntax
	RuleInvalidVersion = parsers.RuleInvalidVersion
	RuleDuplicate      = "RQ003"
	RuleConflict       = "RQ004"
	RuleUnpinned       = "RQ005"
	RuleNonCanonical   = "RQ006"
	RuleNoLowerBound   = "RQ007"
	RuleEmpty          = "RQ008"
)

// Descriptions is the short text for each rule, used by reporters
var Descriptions = map[string]string{
	RuleSyntax:         "Line is not a valid requirement or pip option",
	RuleInvalidVersion: "Version literal is not valid for the ecosystem",
	RuleDuplicate:      "Package is listed more than once in a manifest",
	RuleConflict:       "Constraints on a package cannot all be satisfied",
	RuleUnpinned:       "Requirement has no version constraint",
	RuleNonCanonical:   "Package name is not in normalized form",
	RuleNoLowerBound:   "Requirement declares no minimum version",
	RuleEmpty:          "Manifest declares no requirements",
}

// Linter applies the rule set to manifests
type Linter struct {
	cfg    *models.Config
	env    markers.Environment
	logger *slog.Logger
}

// New creates a Linter for the configured target environment
func New(cfg *models.Config, logger *slog.Logger) *Linter {
	return &Linter{
		cfg:    cfg,
		env:    markers.NewEnvironment(cfg.Environment.PythonVersion, cfg.Environment.SysPlatform),
		logger: logger,
	}
}

// Lint returns parser diagnostics plus rule violations, ordered by file and line
func (l *Linter) Lint(manifests []*models.Manifest) []models.Diagnostic {
	var out []models.Diagnostic

	for _, m := range manifests {
		out = append(out, m.Diagnostics...)
		out = append(out, l.checkManifest(m)...)
	}
	out = append(out, l.checkConflicts(manifests)...)

	filtered := out[:0]
	for _, d := range out {
		if l.cfg.RuleEnabled(d.Rule) {
			filtered = append(filtered, d)
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		a, b := filtered[i], filtered[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Rule < b.Rule
	})

	l.logger.Debug("lint finished", "manifests", len(manifests), "diagnostics", len(filtered))
	return filtered
}

func (l *Linter) checkManifest(m *models.Manifest) []models.Diagnostic {
	var out []models.Diagnostic

	if len(m.Requirements) == 0 && len(m.Diagnostics) == 0 {
		out = append(out, models.Diagnostic{
			Rule:     RuleEmpty,
			Severity: models.SeverityInfo,
			Message:  "manifest declares no requirements",
			File:     m.Path,
		})
	}

	seen := make(map[string]models.Requirement)
	for _, r := range m.Requirements {
		key := r.Key() + ";" + r.Marker
		if first, dup := seen[key]; dup {
			out = append(out, models.Diagnostic{
				Rule:     RuleDuplicate,
				Severity: models.SeverityWarning,
				Message:  fmt.Sprintf("%s is already required on line %d", r.Name, first.Line),
				File:     r.SourceFile,
				Line:     r.Line,
				Package:  r.Key(),
			})
		} else {
			seen[key] = r
		}

		out = append(out, l.checkRequirement(m, r)...)
	}

	return out
}

func (l *Linter) checkRequirement(m *models.Manifest, r models.Requirement) []models.Diagnostic {
	var out []models.Diagnostic
	diag := func(rule string, sev models.Severity, format string, args ...any) {
		out = append(out, models.Diagnostic{
			Rule:     rule,
			Severity: sev,
			Message:  fmt.Sprintf(format, args...),
			File:     r.SourceFile,
			Line:     r.Line,
			Package:  r.Key(),
		})
	}

	if r.Ecosystem == models.EcosystemPyPI && r.Name != models.NormalizeName(r.Name) {
		diag(RuleNonCanonical, models.SeverityInfo, "%s is normally written %s", r.Name, models.NormalizeName(r.Name))
	}

	if r.URL != "" {
		return out
	}

	if len(r.Specifiers) == 0 {
		diag(RuleUnpinned, l.unpinnedSeverity(m.Format), "%s has no version constraint", r.Name)
		return out
	}

	rng, err := version.NewRange(r.Ecosystem, r.Specifiers)
	if err != nil {
		// Already reported by the parser.
		return out
	}
	if rng.Lower == nil && len(rng.Exact) == 0 && len(rng.Arbitrary) == 0 {
		diag(RuleNoLowerBound, models.SeverityWarning, "%s (%s) declares no minimum version", r.Name, r.Specifiers.String())
	}

	return out
}

// unpinnedSeverity is an error for requirements files, where every entry is
// expected to carry a comparator, and a warning elsewhere
func (l *Linter) unpinnedSeverity(format models.Format) models.Severity {
	if l.cfg.Lint.RequirePins {
		return models.SeverityError
	}
	if format == models.FormatRequirements && !l.cfg.Lint.AllowUnpinned {
		return models.SeverityError
	}
	return models.SeverityWarning
}

type group struct {
	eco  models.Ecosystem
	key  string
	reqs []models.Requirement
}

// checkConflicts folds every applicable requirement on a package, across all
// manifests, into one range and reports the ones that are empty
func (l *Linter) checkConflicts(manifests []*models.Manifest) []models.Diagnostic {
	groups := make(map[string]*group)
	var order []string

	for _, m := range manifests {
		for _, r := range m.Requirements {
			if len(r.Specifiers) == 0 {
				continue
			}
			if r.Marker != "" {
				ok, err := markers.Evaluate(r.Marker, l.env)
				if err != nil || !ok {
					continue
				}
			}

			id := string(r.Ecosystem) + "/" + r.Key()
			g, exists := groups[id]
			if !exists {
				g = &group{eco: r.Ecosystem, key: r.Key()}
				groups[id] = g
				order = append(order, id)
			}
			g.reqs = append(g.reqs, r)
		}
	}

	var out []models.Diagnostic
	for _, id := range order {
		g := groups[id]
		if len(g.reqs) < 2 {
			continue
		}

		var all models.Specifiers
		sources := make([]string, 0, len(g.reqs))
		for _, r := range g.reqs {
			all = append(all, r.Specifiers...)
			sources = append(sources, fmt.Sprintf("%s (%s:%d)", r.Specifiers.String(), r.SourceFile, r.Line))
		}

		rng, err := version.NewRange(g.eco, all)
		if err != nil || rng.Satisfiable() {
			continue
		}

		last := g.reqs[len(g.reqs)-1]
		out = append(out, models.Diagnostic{
			Rule:     RuleConflict,
			Severity: models.SeverityError,
			Message:  fmt.Sprintf("no version of %s satisfies %s", g.key, strings.Join(sources, " and ")),
			File:     last.SourceFile,
			Line:     last.Line,
			Package:  g.key,
		})
	}
	return out
}
