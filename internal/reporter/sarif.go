package reporter

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/ethanolivertroy/reqcheck/internal/lint"
	"github.com/ethanolivertroy/reqcheck/internal/models"
	"github.com/ethanolivertroy/reqcheck/internal/resolver"
)

// SARIFReporter outputs diagnostics, conflicts and advisories in SARIF format
// for GitHub Code Scanning
type SARIFReporter struct {
	Version string
}

// SARIF structures
type sarifReport struct {
	Schema  string     `json:"$schema"`
	Version string     `json:"version"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool    sarifTool     `json:"tool"`
	Results []sarifResult `json:"results"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name           string      `json:"name"`
	Version        string      `json:"version"`
	InformationURI string      `json:"informationUri"`
	Rules          []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	ShortDescription sarifText       `json:"shortDescription"`
	HelpURI          string          `json:"helpUri,omitempty"`
	DefaultConfig    sarifRuleConfig `json:"defaultConfiguration"`
	Properties       sarifProperties `json:"properties"`
}

type sarifText struct {
	Text string `json:"text"`
}

type sarifRuleConfig struct {
	Level string `json:"level"`
}

type sarifProperties struct {
	Tags             []string `json:"tags"`
	SecuritySeverity string   `json:"security-severity,omitempty"`
}

type sarifResult struct {
	RuleID              string            `json:"ruleId"`
	RuleIndex           int               `json:"ruleIndex"`
	Level               string            `json:"level"`
	Message             sarifText         `json:"message"`
	Locations           []sarifLocation   `json:"locations"`
	PartialFingerprints map[string]string `json:"partialFingerprints"`
}

type sarifLocation struct {
	PhysicalLocation sarifPhysicalLocation `json:"physicalLocation"`
}

type sarifPhysicalLocation struct {
	ArtifactLocation sarifArtifact `json:"artifactLocation"`
	Region           *sarifRegion  `json:"region,omitempty"`
}

type sarifArtifact struct {
	URI string `json:"uri"`
}

type sarifRegion struct {
	StartLine int `json:"startLine,omitempty"`
}

var conflictDescriptions = map[string]string{
	resolver.RuleUnsatisfiable: "No release satisfies the combined constraints",
	resolver.RulePinViolated:   "A dependency excludes the selected minimum version",
	resolver.RuleNotFound:      "Package is missing from the index",
}

func sarifLevel(sev models.Severity) string {
	switch sev {
	case models.SeverityError:
		return "error"
	case models.SeverityWarning:
		return "warning"
	default:
		return "note"
	}
}

func newLocation(file string, line int) sarifLocation {
	loc := sarifLocation{PhysicalLocation: sarifPhysicalLocation{ArtifactLocation: sarifArtifact{URI: file}}}
	if line > 0 {
		loc.PhysicalLocation.Region = &sarifRegion{StartLine: line}
	}
	return loc
}

// Report generates SARIF output for the report
func (r *SARIFReporter) Report(report *models.Report) ([]byte, error) {
	b := &sarifBuilder{index: make(map[string]int)}

	for _, d := range report.Diagnostics {
		b.result(d.Rule, lint.Descriptions[d.Rule], []string{"dependencies", "lint"},
			sarifLevel(d.Severity), d.Message, newLocation(d.File, d.Line),
			fmt.Sprintf("%s:%s:%s", d.Rule, d.File, d.Package))
	}

	for _, c := range report.Conflicts {
		file, line := manifestOrigin(report, c)
		b.result(c.Rule, conflictDescriptions[c.Rule], []string{"dependencies", "resolution"},
			"error", c.Reason, newLocation(file, line),
			fmt.Sprintf("%s:%s", c.Rule, c.Package))
	}

	for _, f := range report.Findings {
		for _, v := range f.Vulnerabilities {
			desc := v.Summary
			if desc == "" {
				desc = "Known vulnerability " + v.ID
			}
			msg := fmt.Sprintf("Minimum version %s==%s is affected by %s", f.Requirement.Name, f.Version, v.ID)
			if len(v.Aliases) > 0 {
				msg += fmt.Sprintf(" (%s)", v.Aliases[0])
			}
			if v.EPSS != nil {
				msg += fmt.Sprintf(" (EPSS: %.1f%%)", v.EPSS.Score*100)
			}
			tags := []string{"security", "vulnerability"}
			severity := ""
			if v.KEV != nil {
				if v.KEV.DueDate.IsZero() {
					msg += " [CISA KEV]"
				} else {
					msg += " [CISA KEV, due " + v.KEV.DueDate.Format(time.DateOnly) + "]"
				}
				tags = append(tags, "kev", "cisa")
				severity = "8.0"
				if v.KEV.RansomwareUse {
					msg += " [Known ransomware usage]"
					tags = append(tags, "ransomware")
					severity = "9.5"
				}
			}
			idx := b.rule(v.ID, desc, tags, "error")
			if severity != "" {
				b.rules[idx].Properties.SecuritySeverity = severity
			}
			b.results = append(b.results, sarifResult{
				RuleID:    v.ID,
				RuleIndex: idx,
				Level:     "error",
				Message:   sarifText{Text: msg},
				Locations: []sarifLocation{newLocation(f.Requirement.SourceFile, f.Requirement.Line)},
				PartialFingerprints: map[string]string{
					"primaryLocationLineHash": fmt.Sprintf("%s:%s:%s", f.Requirement.Name, f.Version, v.ID),
				},
			})
			b.rules[idx].HelpURI = "https://osv.dev/vulnerability/" + v.ID
		}
	}

	version := r.Version
	if version == "" {
		version = "dev"
	}

	out := sarifReport{
		Schema:  "https://json.schemastore.org/sarif-2.1.0.json",
		Version: "2.1.0",
		Runs: []sarifRun{{
			Tool: sarifTool{
				Driver: sarifDriver{
					Name:           "reqcheck",
					Version:        version,
					InformationURI: "https://github.com/ethanolivertroy/reqcheck",
					Rules:          b.rules,
				},
			},
			Results: b.results,
		}},
	}
	if out.Runs[0].Results == nil {
		out.Runs[0].Results = []sarifResult{}
	}
	if out.Runs[0].Tool.Driver.Rules == nil {
		out.Runs[0].Tool.Driver.Rules = []sarifRule{}
	}

	return json.MarshalIndent(out, "", "  ")
}

type sarifBuilder struct {
	rules   []sarifRule
	index   map[string]int
	results []sarifResult
}

func (b *sarifBuilder) rule(id, desc string, tags []string, level string) int {
	if idx, ok := b.index[id]; ok {
		return idx
	}
	b.index[id] = len(b.rules)
	b.rules = append(b.rules, sarifRule{
		ID:               id,
		Name:             id,
		ShortDescription: sarifText{Text: desc},
		DefaultConfig:    sarifRuleConfig{Level: level},
		Properties:       sarifProperties{Tags: tags},
	})
	return b.index[id]
}

func (b *sarifBuilder) result(id, desc string, tags []string, level, msg string, loc sarifLocation, fingerprint string) {
	idx := b.rule(id, desc, tags, level)
	b.results = append(b.results, sarifResult{
		RuleID:              id,
		RuleIndex:           idx,
		Level:               level,
		Message:             sarifText{Text: msg},
		Locations:           []sarifLocation{loc},
		PartialFingerprints: map[string]string{"primaryLocationLineHash": fingerprint},
	})
}

// manifestOrigin finds the first manifest requirement behind a conflict so the
// result can be anchored to a file
func manifestOrigin(report *models.Report, c models.Conflict) (string, int) {
	for _, m := range report.Manifests {
		if reqs := m.Lookup(c.Package); len(reqs) > 0 {
			return reqs[0].SourceFile, reqs[0].Line
		}
	}

	// Transitive-only packages are anchored to the first manifest.
	paths := make([]string, 0, len(report.Manifests))
	for _, m := range report.Manifests {
		paths = append(paths, m.Path)
	}
	sort.Strings(paths)
	if len(paths) > 0 {
		return paths[0], 0
	}
	return "", 0
}
