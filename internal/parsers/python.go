package parsers

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethanolivertroy/reqcheck/internal/models"
	"github.com/ethanolivertroy/reqcheck/internal/version"
)

// Diagnostic rules raised while parsing
const (
	RuleSyntax         = "RQ001"
	RuleInvalidVersion = "RQ002"
)

// PythonRequirementsParser parses requirements.txt files
type PythonRequirementsParser struct{}

// CanParse returns true for requirements.txt files
func (p *PythonRequirementsParser) CanParse(filename string) bool {
	for _, pattern := range []string{"requirements*.txt", "*-requirements.txt", "*_requirements.txt", "requirements*.in"} {
		if ok, _ := path.Match(pattern, filename); ok {
			return true
		}
	}
	return false
}

// pipOptions lists the options pip accepts on their own line, mapped to
// whether they take a value
var pipOptions = map[string]bool{
	"-r": true, "--requirement": true,
	"-c": true, "--constraint": true,
	"-e": true, "--editable": true,
	"-i": true, "--index-url": true,
	"--extra-index-url": true,
	"-f": true, "--find-links": true,
	"--trusted-host": true,
	"--no-binary":    true,
	"--only-binary":  true,
	"--use-feature":  true,
	"--no-index":       false,
	"--pre":            false,
	"--prefer-binary":  false,
	"--require-hashes": false,
}

// logicalLine is a requirements line after joining continuations
type logicalLine struct {
	text string
	line int // first physical line
}

func logicalLines(content []byte) []logicalLine {
	var out []logicalLine
	var buf strings.Builder
	start := 0

	for i, physical := range strings.Split(string(content), "\n") {
		physical = strings.TrimRight(physical, "\r")
		if buf.Len() == 0 {
			start = i + 1
		}
		if strings.HasSuffix(physical, "\\") && !strings.HasPrefix(strings.TrimSpace(physical), "#") {
			buf.WriteString(strings.TrimSuffix(physical, "\\"))
			buf.WriteString(" ")
			continue
		}
		buf.WriteString(physical)
		out = append(out, logicalLine{text: buf.String(), line: start})
		buf.Reset()
	}
	if buf.Len() > 0 {
		out = append(out, logicalLine{text: buf.String(), line: start})
	}
	return out
}

// Parse extracts requirements, sections and options from requirements.txt content
func (p *PythonRequirementsParser) Parse(filepath string, content []byte) (*models.Manifest, error) {
	m := &models.Manifest{
		Path:      filepath,
		Format:    models.FormatRequirements,
		Ecosystem: models.EcosystemPyPI,
	}

	section := ""
	inHeader := false

	for _, ll := range logicalLines(content) {
		line := strings.TrimSpace(ll.text)

		// Skip empty lines; they end a run of header comments
		if line == "" {
			inHeader = false
			continue
		}

		// Full-line comments name the section of the requirements below them
		if strings.HasPrefix(line, "#") {
			title := strings.TrimSpace(strings.TrimLeft(line, "#"))
			if title != "" && !inHeader {
				section = title
				m.Sections = append(m.Sections, models.Section{Title: title, Line: ll.line})
			}
			inHeader = title != "" || inHeader
			continue
		}
		inHeader = false

		// Remove inline comments
		line = stripInlineComment(line)

		if strings.HasPrefix(line, "-") {
			p.parseOption(m, line, ll.line, section)
			continue
		}

		line, hashes := extractHashes(line)

		req, err := ParseRequirement(line)
		if err != nil {
			m.Diagnostics = append(m.Diagnostics, models.Diagnostic{
				Rule:     RuleSyntax,
				Severity: models.SeverityError,
				Message:  fmt.Sprintf("cannot parse %q: %s", line, Reason(err)),
				File:     filepath,
				Line:     ll.line,
			})
			continue
		}

		req.Hashes = hashes
		req.Section = section
		req.SourceFile = filepath
		req.Line = ll.line
		req.Raw = line
		if d, ok := checkVersions(req); !ok {
			m.Diagnostics = append(m.Diagnostics, d)
			continue
		}
		m.Requirements = append(m.Requirements, req)
	}

	return m, nil
}

func (p *PythonRequirementsParser) parseOption(m *models.Manifest, line string, lineNum int, section string) {
	name, value := line, ""
	if idx := strings.IndexAny(line, " \t="); idx > 0 {
		name, value = line[:idx], strings.TrimSpace(line[idx+1:])
	}

	takesValue, known := pipOptions[name]
	if !known || (takesValue && value == "") {
		msg := fmt.Sprintf("unknown pip option %q", name)
		if known {
			msg = fmt.Sprintf("option %q requires a value", name)
		}
		m.Diagnostics = append(m.Diagnostics, models.Diagnostic{
			Rule:     RuleSyntax,
			Severity: models.SeverityError,
			Message:  msg,
			File:     m.Path,
			Line:     lineNum,
		})
		return
	}

	m.Options = append(m.Options, models.Option{Name: name, Value: value, Line: lineNum})

	if name == "-e" || name == "--editable" {
		if egg := eggName(value); egg != "" {
			m.Requirements = append(m.Requirements, models.Requirement{
				Name:       egg,
				URL:        value,
				Editable:   true,
				Section:    section,
				Ecosystem:  models.EcosystemPyPI,
				SourceFile: m.Path,
				Line:       lineNum,
				Raw:        line,
			})
		}
	}
}

// stripInlineComment removes a '#' comment that starts at whitespace
func stripInlineComment(line string) string {
	for i := 1; i < len(line); i++ {
		if line[i] == '#' && (line[i-1] == ' ' || line[i-1] == '\t') {
			return strings.TrimSpace(line[:i])
		}
	}
	return line
}

// extractHashes pulls --hash=algo:digest options off a requirement line
func extractHashes(line string) (string, []string) {
	if !strings.Contains(line, "--hash") {
		return line, nil
	}

	var hashes, kept []string
	fields := strings.Fields(line)
	for i := 0; i < len(fields); i++ {
		f := fields[i]
		switch {
		case strings.HasPrefix(f, "--hash="):
			hashes = append(hashes, strings.TrimPrefix(f, "--hash="))
		case f == "--hash" && i+1 < len(fields):
			hashes = append(hashes, fields[i+1])
			i++
		default:
			kept = append(kept, f)
		}
	}
	return strings.Join(kept, " "), hashes
}

// eggName returns the project name from a "#egg=name" URL fragment
func eggName(value string) string {
	idx := strings.Index(value, "#egg=")
	if idx < 0 {
		return ""
	}
	name := value[idx+len("#egg="):]
	if amp := strings.IndexAny(name, "&["); amp >= 0 {
		name = name[:amp]
	}
	return name
}

// checkVersions validates every version operand in req
func checkVersions(req models.Requirement) (models.Diagnostic, bool) {
	for _, s := range req.Specifiers {
		if s.Operator == models.OpArbitrary {
			continue
		}
		if _, err := version.NewRange(req.Ecosystem, models.Specifiers{s}); err != nil {
			return models.Diagnostic{
				Rule:     RuleInvalidVersion,
				Severity: models.SeverityError,
				Message:  fmt.Sprintf("%s: %q is not a valid version", req.Name, s.String()),
				File:     req.SourceFile,
				Line:     req.Line,
				Package:  req.Key(),
			}, false
		}
	}
	return models.Diagnostic{}, true
}

// PythonPyProjectParser parses pyproject.toml files
type PythonPyProjectParser struct{}

// CanParse returns true for pyproject.toml files
func (p *PythonPyProjectParser) CanParse(filename string) bool {
	return filename == "pyproject.toml"
}

// poetryGroup is a Poetry dependency group
type poetryGroup struct {
	Dependencies map[string]interface{} `toml:"dependencies"`
}

// pyproject represents the structure of pyproject.toml
type pyproject struct {
	Project struct {
		Dependencies         []string            `toml:"dependencies"`
		OptionalDependencies map[string][]string `toml:"optional-dependencies"`
	} `toml:"project"`
	BuildSystem struct {
		Requires []string `toml:"requires"`
	} `toml:"build-system"`
	Tool struct {
		Poetry struct {
			Dependencies    map[string]interface{} `toml:"dependencies"`
			DevDependencies map[string]interface{} `toml:"dev-dependencies"`
			Group           map[string]poetryGroup `toml:"group"`
		} `toml:"poetry"`
	} `toml:"tool"`
}

// Parse extracts dependencies from pyproject.toml content
func (p *PythonPyProjectParser) Parse(filepath string, content []byte) (*models.Manifest, error) {
	var proj pyproject
	if err := toml.Unmarshal(content, &proj); err != nil {
		return nil, err
	}

	m := &models.Manifest{
		Path:      filepath,
		Format:    models.FormatPyProject,
		Ecosystem: models.EcosystemPyPI,
	}

	// PEP 621 dependencies (project.dependencies)
	p.addPEP508(m, content, "project.dependencies", proj.Project.Dependencies)
	for _, group := range sortedKeys(proj.Project.OptionalDependencies) {
		p.addPEP508(m, content, "project.optional-dependencies."+group, proj.Project.OptionalDependencies[group])
	}
	p.addPEP508(m, content, "build-system.requires", proj.BuildSystem.Requires)

	// Poetry dependencies
	p.addPoetry(m, content, "tool.poetry.dependencies", proj.Tool.Poetry.Dependencies)
	p.addPoetry(m, content, "tool.poetry.dev-dependencies", proj.Tool.Poetry.DevDependencies)
	groups := make([]string, 0, len(proj.Tool.Poetry.Group))
	for name := range proj.Tool.Poetry.Group {
		groups = append(groups, name)
	}
	sort.Strings(groups)
	for _, group := range groups {
		p.addPoetry(m, content, "tool.poetry.group."+group+".dependencies", proj.Tool.Poetry.Group[group].Dependencies)
	}

	return m, nil
}

func (p *PythonPyProjectParser) addPEP508(m *models.Manifest, content []byte, section string, specs []string) {
	if len(specs) == 0 {
		return
	}
	m.Sections = append(m.Sections, models.Section{Title: section, Line: lineOf(content, sectionNeedle(section))})

	for _, spec := range specs {
		line := lineOf(content, spec)
		req, err := ParseRequirement(spec)
		if err != nil {
			m.Diagnostics = append(m.Diagnostics, models.Diagnostic{
				Rule:     RuleSyntax,
				Severity: models.SeverityError,
				Message:  fmt.Sprintf("cannot parse %q: %s", spec, Reason(err)),
				File:     m.Path,
				Line:     line,
			})
			continue
		}
		if line == 0 {
			line = lineOf(content, `"`+req.Name)
		}
		req.Section = section
		req.SourceFile = m.Path
		req.Line = line
		if d, ok := checkVersions(req); !ok {
			m.Diagnostics = append(m.Diagnostics, d)
			continue
		}
		m.Requirements = append(m.Requirements, req)
	}
}

func (p *PythonPyProjectParser) addPoetry(m *models.Manifest, content []byte, section string, deps map[string]interface{}) {
	if len(deps) == 0 {
		return
	}
	m.Sections = append(m.Sections, models.Section{Title: section, Line: lineOf(content, sectionNeedle(section))})

	for _, name := range sortedKeys(deps) {
		if name == "python" {
			continue
		}

		req := models.Requirement{
			Name:       name,
			Ecosystem:  models.EcosystemPyPI,
			Section:    section,
			SourceFile: m.Path,
			Line:       keyLine(content, name),
		}

		constraint, err := p.fillPoetry(&req, deps[name])
		if err == nil && constraint != "" {
			req.Specifiers, err = poetrySpecifiers(constraint)
		}
		if err != nil {
			m.Diagnostics = append(m.Diagnostics, models.Diagnostic{
				Rule:     RuleSyntax,
				Severity: models.SeverityError,
				Message:  fmt.Sprintf("cannot parse constraint for %s: %s", name, Reason(err)),
				File:     m.Path,
				Line:     req.Line,
				Package:  req.Key(),
			})
			continue
		}
		if d, ok := checkVersions(req); !ok {
			m.Diagnostics = append(m.Diagnostics, d)
			continue
		}
		m.Requirements = append(m.Requirements, req)
	}
}

// fillPoetry copies the table form of a Poetry dependency into req and
// returns its version constraint
func (p *PythonPyProjectParser) fillPoetry(req *models.Requirement, val interface{}) (string, error) {
	switch v := val.(type) {
	case string:
		return v, nil
	case map[string]interface{}:
		for _, key := range []string{"git", "url", "path"} {
			if loc, ok := v[key].(string); ok {
				req.URL = loc
			}
		}
		if extras, ok := v["extras"].([]interface{}); ok {
			for _, e := range extras {
				if s, ok := e.(string); ok {
					req.Extras = append(req.Extras, s)
				}
			}
		}
		if marker, ok := v["markers"].(string); ok {
			req.Marker = marker
		}
		ver, _ := v["version"].(string)
		return ver, nil
	case []interface{}:
		// Multiple-constraint dependencies; the first entry is representative.
		if len(v) > 0 {
			return p.fillPoetry(req, v[0])
		}
		return "", nil
	}
	return "", invalid(fmt.Sprint(val), "unsupported dependency value")
}

// poetrySpecifiers translates Poetry constraint syntax (^, ~, *, bare
// versions) into PEP 440 specifiers
func poetrySpecifiers(constraint string) (models.Specifiers, error) {
	constraint = strings.TrimSpace(constraint)
	if constraint == "" || constraint == "*" {
		return nil, nil
	}
	if strings.Contains(constraint, "||") {
		return nil, invalid(constraint, "alternative constraints are not supported")
	}

	var out models.Specifiers
	for _, part := range strings.Split(constraint, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, invalid(constraint, "empty constraint")
		}
		switch {
		case strings.HasPrefix(part, "^"):
			out = append(out, caretRange(strings.TrimPrefix(part, "^"))...)
		case strings.HasPrefix(part, "~") && !strings.HasPrefix(part, "~="):
			out = append(out, tildeRange(strings.TrimPrefix(part, "~"))...)
		case strings.ContainsAny(part[:1], "<>=!~"):
			specs, err := ParseSpecifiers(part)
			if err != nil {
				return nil, err
			}
			out = append(out, specs...)
		default:
			out = append(out, models.Specifier{Operator: models.OpEqual, Version: part})
		}
	}
	return out, nil
}

// caretRange: ^1.2.3 is >=1.2.3,<2.0.0; ^0.2.3 is >=0.2.3,<0.3.0; ^0.0.3 is >=0.0.3,<0.0.4
func caretRange(v string) models.Specifiers {
	parts := strings.Split(v, ".")
	idx := 0
	for idx < len(parts)-1 && parts[idx] == "0" {
		idx++
	}
	return models.Specifiers{
		{Operator: models.OpGreaterEqual, Version: v},
		{Operator: models.OpLess, Version: bumpAt(parts, idx)},
	}
}

// tildeRange: ~1.2.3 is >=1.2.3,<1.3.0; ~1 is >=1,<2
func tildeRange(v string) models.Specifiers {
	parts := strings.Split(v, ".")
	idx := 1
	if len(parts) == 1 {
		idx = 0
	}
	return models.Specifiers{
		{Operator: models.OpGreaterEqual, Version: v},
		{Operator: models.OpLess, Version: bumpAt(parts, idx)},
	}
}

func bumpAt(parts []string, idx int) string {
	out := make([]string, len(parts))
	for i := range parts {
		switch {
		case i < idx:
			out[i] = parts[i]
		case i == idx:
			var n int
			fmt.Sscanf(parts[i], "%d", &n)
			out[i] = fmt.Sprint(n + 1)
		default:
			out[i] = "0"
		}
	}
	return strings.Join(out, ".")
}

// keyLine returns the line of a TOML key at the start of a line
func keyLine(content []byte, key string) int {
	if l := lineOf(content, "\n"+key); l > 0 {
		return l + 1
	}
	return 0
}

func sectionNeedle(section string) string {
	switch {
	case section == "project.dependencies":
		return "dependencies"
	case section == "build-system.requires":
		return "[build-system]"
	case strings.HasPrefix(section, "project.optional-dependencies."):
		return strings.TrimPrefix(section, "project.optional-dependencies.") + " ="
	}
	return "[" + section + "]"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
