package parsers

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/ethanolivertroy/reqcheck/internal/models"
)

// NodePackageLockParser parses package-lock.json files. Every locked
// package becomes an exact pin.
type NodePackageLockParser struct{}

// CanParse returns true for package-lock.json files
func (p *NodePackageLockParser) CanParse(filename string) bool {
	return filename == "package-lock.json"
}

// packageLock represents the structure of package-lock.json (v2/v3)
type packageLock struct {
	LockfileVersion int `json:"lockfileVersion"`
	// V2/V3 format
	Packages map[string]struct {
		Version string `json:"version"`
		Dev     bool   `json:"dev"`
	} `json:"packages"`
	// V1 format
	Dependencies map[string]struct {
		Version string `json:"version"`
		Dev     bool   `json:"dev"`
	} `json:"dependencies"`
}

// Parse extracts pinned packages from package-lock.json content
func (p *NodePackageLockParser) Parse(filepath string, content []byte) (*models.Manifest, error) {
	var lock packageLock
	if err := json.Unmarshal(content, &lock); err != nil {
		return nil, err
	}

	m := &models.Manifest{
		Path:      filepath,
		Format:    models.FormatPackageLock,
		Ecosystem: models.EcosystemNpm,
	}
	seen := make(map[string]bool)

	add := func(name, version string, dev bool) {
		if name == "" || version == "" || seen[name+"@"+version] {
			return
		}
		seen[name+"@"+version] = true

		section := "packages"
		if dev {
			section = "devPackages"
		}
		m.Requirements = append(m.Requirements, models.Requirement{
			Name:       name,
			Specifiers: models.Specifiers{{Operator: models.OpEqual, Version: version}},
			Section:    section,
			Ecosystem:  models.EcosystemNpm,
			SourceFile: filepath,
			Raw:        name + "@" + version,
		})
	}

	// V2/V3 format (packages map)
	for _, path := range sortedKeys(lock.Packages) {
		if path == "" {
			continue // Skip root package
		}
		pkg := lock.Packages[path]

		// Extract package name from path like "node_modules/lodash" or "node_modules/@types/node"
		name := path
		if idx := strings.LastIndex(name, "node_modules/"); idx >= 0 {
			name = name[idx+len("node_modules/"):]
		}
		add(name, pkg.Version, pkg.Dev)
	}

	// V1 format fallback (if no packages found)
	if len(m.Requirements) == 0 {
		for _, name := range sortedKeys(lock.Dependencies) {
			dep := lock.Dependencies[name]
			add(name, dep.Version, dep.Dev)
		}
	}

	return m, nil
}

// NodePackageJSONParser parses package.json files (direct dependencies only)
type NodePackageJSONParser struct{}

// CanParse returns true for package.json files
func (p *NodePackageJSONParser) CanParse(filename string) bool {
	return filename == "package.json"
}

// packageJSON represents the structure of package.json
type packageJSON struct {
	Dependencies         map[string]string `json:"dependencies"`
	DevDependencies      map[string]string `json:"devDependencies"`
	PeerDependencies     map[string]string `json:"peerDependencies"`
	OptionalDependencies map[string]string `json:"optionalDependencies"`
}

// Parse extracts dependencies from package.json content
func (p *NodePackageJSONParser) Parse(filepath string, content []byte) (*models.Manifest, error) {
	var pkg packageJSON
	if err := json.Unmarshal(content, &pkg); err != nil {
		return nil, err
	}

	m := &models.Manifest{
		Path:      filepath,
		Format:    models.FormatPackageJSON,
		Ecosystem: models.EcosystemNpm,
	}

	groups := []struct {
		section string
		deps    map[string]string
	}{
		{"dependencies", pkg.Dependencies},
		{"devDependencies", pkg.DevDependencies},
		{"peerDependencies", pkg.PeerDependencies},
		{"optionalDependencies", pkg.OptionalDependencies},
	}

	for _, g := range groups {
		if len(g.deps) == 0 {
			continue
		}
		m.Sections = append(m.Sections, models.Section{Title: g.section, Line: lineOf(content, `"`+g.section+`"`)})

		for _, name := range sortedKeys(g.deps) {
			raw := g.deps[name]
			req := models.Requirement{
				Name:       name,
				Section:    g.section,
				Ecosystem:  models.EcosystemNpm,
				SourceFile: filepath,
				Line:       lineOf(content, `"`+name+`"`),
				Raw:        raw,
			}

			if isNpmLocator(raw) {
				req.URL = raw
				m.Requirements = append(m.Requirements, req)
				continue
			}

			if _, err := semver.NewConstraint(raw); err != nil {
				m.Diagnostics = append(m.Diagnostics, models.Diagnostic{
					Rule:     RuleInvalidVersion,
					Severity: models.SeverityError,
					Message:  fmt.Sprintf("%s: %q is not a valid version range", name, raw),
					File:     filepath,
					Line:     req.Line,
					Package:  name,
				})
				continue
			}

			if minimum := npmMinimum(raw); minimum != "" {
				req.Specifiers = models.Specifiers{{Operator: models.OpGreaterEqual, Version: minimum}}
			}
			m.Requirements = append(m.Requirements, req)
		}
	}

	return m, nil
}

// isNpmLocator reports whether a dependency value points somewhere instead of naming a range
func isNpmLocator(raw string) bool {
	for _, prefix := range []string{"file:", "link:", "git", "http:", "https:", "workspace:", "npm:", "github:"} {
		if strings.HasPrefix(raw, prefix) {
			return true
		}
	}
	return strings.Contains(raw, "/")
}

var npmVersionPattern = regexp.MustCompile(`\d+(?:\.\d+){0,2}(?:-[0-9A-Za-z.-]+)?`)

// npmMinimum returns the lowest version a range admits, e.g. "^4.17.1" gives
// "4.17.1". For alternatives joined with "||" the lowest branch wins.
func npmMinimum(raw string) string {
	var lowest *semver.Version
	for _, branch := range strings.Split(raw, "||") {
		branch = strings.TrimSpace(branch)
		if strings.HasPrefix(branch, "<") {
			continue
		}
		lit := npmVersionPattern.FindString(branch)
		if lit == "" {
			continue
		}
		v, err := semver.NewVersion(lit)
		if err != nil {
			continue
		}
		if lowest == nil || v.LessThan(lowest) {
			lowest = v
		}
	}
	if lowest == nil {
		return ""
	}
	return lowest.String()
}
