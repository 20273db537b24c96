package models

// Format identifies the file format a manifest was read from
type Format string

const (
	FormatRequirements Format = "requirements.txt"
	FormatPyProject    Format = "pyproject.toml"
	FormatGoMod        Format = "go.mod"
	FormatPackageJSON  Format = "package.json"
	FormatPackageLock  Format = "package-lock.json"
)

// Section is a comment header that groups the requirements following it
type Section struct {
	Title string `json:"title" yaml:"title"`
	Line  int    `json:"line" yaml:"line"`
}

// Option is a pip option line such as "-r base.txt" or "--index-url ..."
type Option struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value,omitempty" yaml:"value,omitempty"`
	Line  int    `json:"line" yaml:"line"`
}

// Manifest is a parsed dependency file
type Manifest struct {
	Path         string        `json:"path" yaml:"path"`
	Format       Format        `json:"format" yaml:"format"`
	Ecosystem    Ecosystem     `json:"ecosystem" yaml:"ecosystem"`
	Requirements []Requirement `json:"requirements" yaml:"requirements"`
	Sections     []Section     `json:"sections,omitempty" yaml:"sections,omitempty"`
	Options      []Option      `json:"options,omitempty" yaml:"options,omitempty"`
	Diagnostics  []Diagnostic  `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
}

// Lookup returns the requirements whose normalized name matches name
func (m *Manifest) Lookup(name string) []Requirement {
	key := NormalizeName(name)
	if m.Ecosystem != EcosystemPyPI {
		key = name
	}

	var out []Requirement
	for _, r := range m.Requirements {
		if r.Key() == key {
			out = append(out, r)
		}
	}
	return out
}

// Severity of a diagnostic
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Diagnostic is a problem found in a manifest
type Diagnostic struct {
	Rule     string   `json:"rule" yaml:"rule"`
	Severity Severity `json:"severity" yaml:"severity"`
	Message  string   `json:"message" yaml:"message"`
	File     string   `json:"file,omitempty" yaml:"file,omitempty"`
	Line     int      `json:"line,omitempty" yaml:"line,omitempty"`
	Package  string   `json:"package,omitempty" yaml:"package,omitempty"`
}
