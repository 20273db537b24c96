package reporter

import (
	"fmt"
	"strings"

	"github.com/ethanolivertroy/reqcheck/internal/models"
	"github.com/ethanolivertroy/reqcheck/internal/version"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// TerminalReporter outputs the report as human-readable tables
type TerminalReporter struct {
	Color bool
}

func (r *TerminalReporter) paint(s string, attrs ...color.Attribute) string {
	c := color.New(attrs...)
	if r.Color {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return c.Sprint(s)
}

func (r *TerminalReporter) severity(sev models.Severity) string {
	switch sev {
	case models.SeverityError:
		return r.paint(string(sev), color.FgRed, color.Bold)
	case models.SeverityWarning:
		return r.paint(string(sev), color.FgYellow)
	default:
		return r.paint(string(sev), color.FgCyan)
	}
}

func newTable(title string) table.Writer {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.SetTitle("%s", title)
	tbl.Style().Title.Format = text.FormatDefault
	return tbl
}

// Report generates terminal output for the report
func (r *TerminalReporter) Report(report *models.Report) ([]byte, error) {
	var sb strings.Builder

	if report.Command == "parse" {
		for _, m := range report.Manifests {
			sb.WriteString(r.manifestTable(m))
			sb.WriteString("\n")
		}
	}

	if len(report.Diagnostics) > 0 {
		tbl := newTable("Diagnostics")
		tbl.AppendHeader(table.Row{"Location", "Rule", "Severity", "Message"})
		for _, d := range report.Diagnostics {
			tbl.AppendRow(table.Row{location(d.File, d.Line), d.Rule, r.severity(d.Severity), d.Message})
		}
		sb.WriteString(tbl.Render())
		sb.WriteString("\n")
	}

	if len(report.Pins) > 0 {
		tbl := newTable("Minimum versions")
		tbl.AppendHeader(table.Row{"Package", "Version", "Depth", "Required by"})
		for _, p := range report.Pins {
			requiredBy := p.RequiredBy
			if requiredBy == "" {
				requiredBy = "manifest"
			}
			tbl.AppendRow(table.Row{p.Name, p.Version, p.Depth, requiredBy})
		}
		tbl.AppendFooter(table.Row{fmt.Sprintf("Total: %d packages", len(report.Pins))})
		sb.WriteString(tbl.Render())
		sb.WriteString("\n")
	}

	if len(report.Conflicts) > 0 {
		tbl := newTable("Conflicts")
		tbl.AppendHeader(table.Row{"Rule", "Package", "Reason", "Constraints"})
		for _, c := range report.Conflicts {
			origins := make([]string, 0, len(c.Constraints))
			for _, o := range c.Constraints {
				spec := o.Specifiers.String()
				if spec == "" {
					spec = "*"
				}
				origins = append(origins, spec+" from "+o.Source)
			}
			tbl.AppendRow(table.Row{c.Rule, r.paint(c.Package, color.FgRed), c.Reason, strings.Join(origins, "\n")})
		}
		sb.WriteString(tbl.Render())
		sb.WriteString("\n")
	}

	if len(report.Findings) > 0 {
		tbl := newTable("Vulnerable minimum versions")
		tbl.AppendHeader(table.Row{"Package", "Version", "Advisory", "CVEs", "KEV", "EPSS", "Source"})
		for _, f := range report.Findings {
			for _, v := range f.Vulnerabilities {
				kev := "-"
				if v.KEV != nil {
					kev = r.paint("yes", color.FgRed)
					if v.KEV.RansomwareUse {
						kev = r.paint("ransomware", color.FgRed, color.Bold)
					}
				}
				epss := "-"
				if v.EPSS != nil {
					epss = fmt.Sprintf("%.1f%%", v.EPSS.Score*100)
				}
				tbl.AppendRow(table.Row{
					f.Requirement.Name,
					f.Version,
					r.paint(v.ID, color.FgRed),
					strings.Join(v.Aliases, ", "),
					kev,
					epss,
					location(f.Requirement.SourceFile, f.Requirement.Line),
				})
			}
		}
		sb.WriteString(tbl.Render())
		sb.WriteString("\n")
	}

	sb.WriteString(r.summaryLine(report))
	return []byte(sb.String()), nil
}

func (r *TerminalReporter) manifestTable(m *models.Manifest) string {
	tbl := newTable(fmt.Sprintf("%s (%s)", m.Path, m.Format))
	tbl.AppendHeader(table.Row{"Line", "Section", "Package", "Constraint", "Minimum"})
	for _, req := range m.Requirements {
		constraint := req.Specifiers.String()
		switch {
		case req.URL != "":
			constraint = "@ " + req.URL
		case constraint == "":
			constraint = "any version"
		}
		if req.Marker != "" {
			constraint += "; " + req.Marker
		}

		minimum, ok := version.Minimum(req.Ecosystem, req.Specifiers)
		if !ok {
			minimum = "-"
		}

		name := req.Name
		if len(req.Extras) > 0 {
			name += "[" + strings.Join(req.Extras, ",") + "]"
		}
		tbl.AppendRow(table.Row{req.Line, req.Section, name, constraint, minimum})
	}
	tbl.AppendFooter(table.Row{"", "", fmt.Sprintf("Total: %d", len(m.Requirements))})
	return tbl.Render()
}

func (r *TerminalReporter) summaryLine(report *models.Report) string {
	s := summarize(report)
	if !report.HasErrors() && s.Warnings == 0 {
		return r.paint(fmt.Sprintf("✓ %d manifests, %d requirements: no problems found\n", s.Manifests, s.Requirements), color.FgGreen)
	}

	parts := []string{
		fmt.Sprintf("%d errors", s.Errors),
		fmt.Sprintf("%d warnings", s.Warnings),
	}
	if s.Conflicts > 0 {
		parts = append(parts, fmt.Sprintf("%d conflicts", s.Conflicts))
	}
	if s.Vulnerabilities > 0 {
		parts = append(parts, fmt.Sprintf("%d vulnerabilities", s.Vulnerabilities))
	}
	if s.KnownExploited > 0 {
		parts = append(parts, fmt.Sprintf("%d known exploited", s.KnownExploited))
	}

	attr := color.FgYellow
	mark := "!"
	if report.HasErrors() {
		attr = color.FgRed
		mark = "✗"
	}
	return r.paint(fmt.Sprintf("%s %d manifests, %d requirements: %s\n", mark, s.Manifests, s.Requirements, strings.Join(parts, ", ")), attr)
}
