package models

import (
	"regexp"
	"strings"
)

// Ecosystem represents a package ecosystem
type Ecosystem string

const (
	EcosystemPyPI Ecosystem = "PyPI"
	EcosystemNpm  Ecosystem = "npm"
	EcosystemGo   Ecosystem = "Go"
)

// Operator is a version comparison operator
type Operator string

const (
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpCompatible   Operator = "~="
	OpArbitrary    Operator = "==="
)

// Operators lists all operators, longest first so prefix matching is unambiguous
var Operators = []Operator{
	OpArbitrary, OpCompatible, OpEqual, OpNotEqual, OpLessEqual, OpGreaterEqual, OpLess, OpGreater,
}

var operatorDescriptions = map[Operator]string{
	OpEqual:        "equal to",
	OpNotEqual:     "not equal to",
	OpLess:         "less than",
	OpLessEqual:    "less than or equal to",
	OpGreater:      "greater than",
	OpGreaterEqual: "greater than or equal to",
	OpCompatible:   "compatible with",
	OpArbitrary:    "arbitrarily equal to",
}

// Valid reports whether op is a known operator
func (op Operator) Valid() bool {
	_, ok := operatorDescriptions[op]
	return ok
}

// Description returns a human-readable form of the operator
func (op Operator) Description() string {
	return operatorDescriptions[op]
}

// Specifier is a single version constraint such as ">=2.0.0"
type Specifier struct {
	Operator Operator `json:"operator" yaml:"operator"`
	Version  string   `json:"version" yaml:"version"`
}

// String returns the specifier in manifest syntax
func (s Specifier) String() string {
	return string(s.Operator) + s.Version
}

// Describe returns e.g. "greater than or equal to 2.0.0"
func (s Specifier) Describe() string {
	return s.Operator.Description() + " " + s.Version
}

// Specifiers is a conjunction of version constraints
type Specifiers []Specifier

// String joins the specifiers with commas
func (ss Specifiers) String() string {
	parts := make([]string, len(ss))
	for i, s := range ss {
		parts[i] = s.String()
	}
	return strings.Join(parts, ",")
}

// Requirement represents a single dependency declaration in a manifest
type Requirement struct {
	Name       string     `json:"name" yaml:"name"`
	Extras     []string   `json:"extras,omitempty" yaml:"extras,omitempty"`
	Specifiers Specifiers `json:"specifiers,omitempty" yaml:"specifiers,omitempty"`
	URL        string     `json:"url,omitempty" yaml:"url,omitempty"`
	Marker     string     `json:"marker,omitempty" yaml:"marker,omitempty"`
	Hashes     []string   `json:"hashes,omitempty" yaml:"hashes,omitempty"`
	Editable   bool       `json:"editable,omitempty" yaml:"editable,omitempty"`
	Section    string     `json:"section,omitempty" yaml:"section,omitempty"`
	Ecosystem  Ecosystem  `json:"ecosystem" yaml:"ecosystem"`
	SourceFile string     `json:"source_file,omitempty" yaml:"source_file,omitempty"` // File where this requirement was found
	Line       int        `json:"line,omitempty" yaml:"line,omitempty"`               // Line number in source file (if available)
	Raw        string     `json:"-" yaml:"-"`
}

var nameSeparators = regexp.MustCompile(`[-_.]+`)

// NormalizeName returns the PEP 503 normalized form of a package name
func NormalizeName(name string) string {
	return strings.ToLower(nameSeparators.ReplaceAllString(name, "-"))
}

// Key returns the name used to compare requirements across manifests
func (r Requirement) Key() string {
	if r.Ecosystem == EcosystemPyPI || r.Ecosystem == "" {
		return NormalizeName(r.Name)
	}
	return r.Name
}

// String returns a human-readable representation
func (r Requirement) String() string {
	var sb strings.Builder
	sb.WriteString(r.Name)
	if len(r.Extras) > 0 {
		sb.WriteString("[" + strings.Join(r.Extras, ",") + "]")
	}
	if r.URL != "" {
		sb.WriteString(" @ " + r.URL)
	} else {
		sb.WriteString(r.Specifiers.String())
	}
	if r.Marker != "" {
		sb.WriteString("; " + r.Marker)
	}
	return sb.String()
}
