package models

import (
	"strings"
	"time"
)

// Pin is the version the resolver selected for a package
type Pin struct {
	Name       string `json:"name" yaml:"name"`
	Version    string `json:"version" yaml:"version"`
	Depth      int    `json:"depth" yaml:"depth"`
	RequiredBy string `json:"required_by,omitempty" yaml:"required_by,omitempty"` // empty for manifest requirements
}

// String returns name==version
func (p Pin) String() string {
	return p.Name + "==" + p.Version
}

// ConstraintOrigin records who asked for a set of specifiers
type ConstraintOrigin struct {
	Specifiers Specifiers `json:"specifiers" yaml:"specifiers"`
	Source     string     `json:"source" yaml:"source"` // manifest path:line or "pkg==version"
}

// Conflict describes a package that cannot be installed at the chosen versions
type Conflict struct {
	Rule        string             `json:"rule" yaml:"rule"`
	Package     string             `json:"package" yaml:"package"`
	Pinned      string             `json:"pinned,omitempty" yaml:"pinned,omitempty"`
	Reason      string             `json:"reason" yaml:"reason"`
	Constraints []ConstraintOrigin `json:"constraints" yaml:"constraints"`
}

// Vulnerability is an advisory affecting a pinned version
type Vulnerability struct {
	ID      string   `json:"id" yaml:"id"`
	Aliases []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	Summary string   `json:"summary,omitempty" yaml:"summary,omitempty"`

	// Enrichment keyed by the CVE aliases
	KEV  *KEVInfo   `json:"kev,omitempty" yaml:"kev,omitempty"`
	EPSS *EPSSScore `json:"epss,omitempty" yaml:"epss,omitempty"`
}

// KEVInfo is the CISA Known Exploited Vulnerabilities entry for a CVE
type KEVInfo struct {
	CVEID             string    `json:"cve_id" yaml:"cve_id"`
	VulnerabilityName string    `json:"name,omitempty" yaml:"name,omitempty"`
	DateAdded         time.Time `json:"date_added" yaml:"date_added"`
	DueDate           time.Time `json:"due_date,omitempty" yaml:"due_date,omitempty"`
	RequiredAction    string    `json:"required_action,omitempty" yaml:"required_action,omitempty"`
	RansomwareUse     bool      `json:"ransomware_use" yaml:"ransomware_use"`
}

// EPSSScore is the FIRST exploit prediction score for a CVE
type EPSSScore struct {
	CVEID      string  `json:"cve_id" yaml:"cve_id"`
	Score      float64 `json:"score" yaml:"score"`
	Percentile float64 `json:"percentile" yaml:"percentile"`
}

// CVEs returns the CVE identifiers of the advisory, its ID first when it is one
func (v Vulnerability) CVEs() []string {
	var out []string
	if strings.HasPrefix(v.ID, "CVE-") {
		out = append(out, v.ID)
	}
	for _, a := range v.Aliases {
		if a != v.ID && strings.HasPrefix(a, "CVE-") {
			out = append(out, a)
		}
	}
	return out
}

// Finding groups the vulnerabilities affecting one requirement's minimum version
type Finding struct {
	Requirement     Requirement     `json:"requirement" yaml:"requirement"`
	Version         string          `json:"version" yaml:"version"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities" yaml:"vulnerabilities"`
}

// Report is the outcome of a command run
type Report struct {
	Command     string       `json:"command" yaml:"command"`
	Manifests   []*Manifest  `json:"manifests,omitempty" yaml:"manifests,omitempty"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
	Pins        []Pin        `json:"pins,omitempty" yaml:"pins,omitempty"`
	Conflicts   []Conflict   `json:"conflicts,omitempty" yaml:"conflicts,omitempty"`
	Findings    []Finding    `json:"findings,omitempty" yaml:"findings,omitempty"`
}

// HasErrors returns true if the report should fail the run
func (r *Report) HasErrors() bool {
	if len(r.Conflicts) > 0 || len(r.Findings) > 0 {
		return true
	}
	for _, d := range r.Diagnostics {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Count returns the number of diagnostics with the given severity
func (r *Report) Count(sev Severity) int {
	n := 0
	for _, d := range r.Diagnostics {
		if d.Severity == sev {
			n++
		}
	}
	return n
}
