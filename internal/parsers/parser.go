package parsers

import (
	"bytes"

	"github.com/ethanolivertroy/reqcheck/internal/models"
)

// Parser is the interface for dependency file parsers
type Parser interface {
	// CanParse returns true if this parser can handle the given filename
	CanParse(filename string) bool

	// Parse builds a manifest from the file content. Line-level problems are
	// reported as diagnostics on the manifest; an error means the file as a
	// whole could not be read.
	Parse(filepath string, content []byte) (*models.Manifest, error)
}

// GetAllParsers returns all available parsers
func GetAllParsers() []Parser {
	return []Parser{
		&PythonRequirementsParser{},
		&PythonPyProjectParser{},
		&NodePackageLockParser{},
		&NodePackageJSONParser{},
		&GoModParser{},
	}
}

// Find returns the first parser that accepts filename
func Find(parsers []Parser, filename string) (Parser, bool) {
	for _, p := range parsers {
		if p.CanParse(filename) {
			return p, true
		}
	}
	return nil, false
}

// lineOf returns the 1-based line of the first occurrence of needle, or 0
func lineOf(content []byte, needle string) int {
	idx := bytes.Index(content, []byte(needle))
	if idx < 0 {
		return 0
	}
	return bytes.Count(content[:idx], []byte("\n")) + 1
}
