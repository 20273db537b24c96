package reporter

import (
	"encoding/json"

	"github.com/ethanolivertroy/reqcheck/internal/models"
	"github.com/ethanolivertroy/reqcheck/internal/version"
)

// JSONReporter outputs the report in JSON format
type JSONReporter struct{}

// document is the structure shared by the JSON and YAML outputs
type document struct {
	Command     string              `json:"command" yaml:"command"`
	Summary     summary             `json:"summary" yaml:"summary"`
	Manifests   []manifestDoc       `json:"manifests" yaml:"manifests"`
	Diagnostics []models.Diagnostic `json:"diagnostics" yaml:"diagnostics"`
	Pins        []models.Pin        `json:"pins,omitempty" yaml:"pins,omitempty"`
	Conflicts   []models.Conflict   `json:"conflicts,omitempty" yaml:"conflicts,omitempty"`
	Findings    []findingDoc        `json:"findings,omitempty" yaml:"findings,omitempty"`
}

type manifestDoc struct {
	Path         string           `json:"path" yaml:"path"`
	Format       models.Format    `json:"format" yaml:"format"`
	Ecosystem    models.Ecosystem `json:"ecosystem" yaml:"ecosystem"`
	Sections     []string         `json:"sections,omitempty" yaml:"sections,omitempty"`
	Requirements []requirementDoc `json:"requirements" yaml:"requirements"`
}

type requirementDoc struct {
	Name        string         `json:"name" yaml:"name"`
	Extras      []string       `json:"extras,omitempty" yaml:"extras,omitempty"`
	Constraints []specifierDoc `json:"constraints,omitempty" yaml:"constraints,omitempty"`
	Minimum     string         `json:"minimum,omitempty" yaml:"minimum,omitempty"`
	URL         string         `json:"url,omitempty" yaml:"url,omitempty"`
	Marker      string         `json:"marker,omitempty" yaml:"marker,omitempty"`
	Section     string         `json:"section,omitempty" yaml:"section,omitempty"`
	Line        int            `json:"line,omitempty" yaml:"line,omitempty"`
}

type specifierDoc struct {
	Operator    models.Operator `json:"operator" yaml:"operator"`
	Version     string          `json:"version" yaml:"version"`
	Description string          `json:"description" yaml:"description"`
}

type findingDoc struct {
	Package         string                 `json:"package" yaml:"package"`
	Version         string                 `json:"version" yaml:"version"`
	Ecosystem       models.Ecosystem       `json:"ecosystem" yaml:"ecosystem"`
	SourceFile      string                 `json:"source_file" yaml:"source_file"`
	Line            int                    `json:"line,omitempty" yaml:"line,omitempty"`
	Vulnerabilities []models.Vulnerability `json:"vulnerabilities" yaml:"vulnerabilities"`
}

func newDocument(r *models.Report) document {
	doc := document{
		Command:     r.Command,
		Summary:     summarize(r),
		Manifests:   make([]manifestDoc, 0, len(r.Manifests)),
		Diagnostics: r.Diagnostics,
		Pins:        r.Pins,
		Conflicts:   r.Conflicts,
	}
	if doc.Diagnostics == nil {
		doc.Diagnostics = []models.Diagnostic{}
	}

	for _, m := range r.Manifests {
		md := manifestDoc{
			Path:         m.Path,
			Format:       m.Format,
			Ecosystem:    m.Ecosystem,
			Requirements: make([]requirementDoc, 0, len(m.Requirements)),
		}
		for _, s := range m.Sections {
			md.Sections = append(md.Sections, s.Title)
		}
		for _, req := range m.Requirements {
			rd := requirementDoc{
				Name:    req.Name,
				Extras:  req.Extras,
				URL:     req.URL,
				Marker:  req.Marker,
				Section: req.Section,
				Line:    req.Line,
			}
			if minimum, ok := version.Minimum(req.Ecosystem, req.Specifiers); ok {
				rd.Minimum = minimum
			}
			for _, s := range req.Specifiers {
				rd.Constraints = append(rd.Constraints, specifierDoc{
					Operator:    s.Operator,
					Version:     s.Version,
					Description: s.Describe(),
				})
			}
			md.Requirements = append(md.Requirements, rd)
		}
		doc.Manifests = append(doc.Manifests, md)
	}

	for _, f := range r.Findings {
		doc.Findings = append(doc.Findings, findingDoc{
			Package:         f.Requirement.Name,
			Version:         f.Version,
			Ecosystem:       f.Requirement.Ecosystem,
			SourceFile:      f.Requirement.SourceFile,
			Line:            f.Requirement.Line,
			Vulnerabilities: f.Vulnerabilities,
		})
	}

	return doc
}

// Report generates JSON output for the report
func (r *JSONReporter) Report(report *models.Report) ([]byte, error) {
	out, err := json.MarshalIndent(newDocument(report), "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}
