package parsers

import (
	"strings"

	"github.com/ethanolivertroy/reqcheck/internal/models"
	"golang.org/x/mod/modfile"
)

// GoModParser parses go.mod files. Go requirements are minimum versions
// under minimal version selection, so each one becomes a ">=" specifier.
type GoModParser struct {
	IncludeIndirect bool // Whether to include indirect dependencies
}

// CanParse returns true for go.mod files
func (p *GoModParser) CanParse(filename string) bool {
	return filename == "go.mod"
}

// Parse extracts requirements from go.mod content
func (p *GoModParser) Parse(filepath string, content []byte) (*models.Manifest, error) {
	mod, err := modfile.Parse(filepath, content, nil)
	if err != nil {
		return nil, err
	}

	m := &models.Manifest{
		Path:      filepath,
		Format:    models.FormatGoMod,
		Ecosystem: models.EcosystemGo,
	}

	if mod.Go != nil {
		m.Options = append(m.Options, models.Option{Name: "go", Value: mod.Go.Version, Line: mod.Go.Syntax.Start.Line})
	}
	if mod.Toolchain != nil {
		m.Options = append(m.Options, models.Option{Name: "toolchain", Value: mod.Toolchain.Name, Line: mod.Toolchain.Syntax.Start.Line})
	}

	for _, req := range mod.Require {
		// Skip indirect deps unless explicitly requested
		if req.Indirect && !p.IncludeIndirect {
			continue
		}

		section := "require"
		if req.Indirect {
			section = "indirect"
		}

		m.Requirements = append(m.Requirements, models.Requirement{
			Name:       req.Mod.Path,
			Specifiers: models.Specifiers{{Operator: models.OpGreaterEqual, Version: strings.TrimPrefix(req.Mod.Version, "v")}},
			Section:    section,
			Ecosystem:  models.EcosystemGo,
			SourceFile: filepath,
			Line:       req.Syntax.Start.Line,
			Raw:        req.Mod.String(),
		})
	}

	// Excluded versions apply to every requirement on that module
	for _, ex := range mod.Exclude {
		m.Options = append(m.Options, models.Option{Name: "exclude", Value: ex.Mod.String(), Line: ex.Syntax.Start.Line})
		for i := range m.Requirements {
			if m.Requirements[i].Name == ex.Mod.Path {
				m.Requirements[i].Specifiers = append(m.Requirements[i].Specifiers,
					models.Specifier{Operator: models.OpNotEqual, Version: strings.TrimPrefix(ex.Mod.Version, "v")})
			}
		}
	}

	for _, rep := range mod.Replace {
		m.Options = append(m.Options, models.Option{Name: "replace", Value: rep.Old.String() + " => " + rep.New.String(), Line: rep.Syntax.Start.Line})
	}

	return m, nil
}
