package reporter

import (
	"strconv"

	"github.com/ethanolivertroy/reqcheck/internal/models"
)

// Reporter is the interface for output formatters
type Reporter interface {
	// Report renders the outcome of a run
	Report(report *models.Report) ([]byte, error)
}

// Options tunes reporter output
type Options struct {
	Color   bool   // terminal only
	Version string // tool version recorded in SARIF output
}

// Get returns a reporter for the specified format
func Get(format string, opts Options) Reporter {
	switch format {
	case "json":
		return &JSONReporter{}
	case "yaml":
		return &YAMLReporter{}
	case "sarif":
		return &SARIFReporter{Version: opts.Version}
	default:
		return &TerminalReporter{Color: opts.Color}
	}
}

type summary struct {
	Manifests       int `json:"manifests" yaml:"manifests"`
	Requirements    int `json:"requirements" yaml:"requirements"`
	Errors          int `json:"errors" yaml:"errors"`
	Warnings        int `json:"warnings" yaml:"warnings"`
	Info            int `json:"info" yaml:"info"`
	Pins            int `json:"pins" yaml:"pins"`
	Conflicts       int `json:"conflicts" yaml:"conflicts"`
	Vulnerabilities int `json:"vulnerabilities" yaml:"vulnerabilities"`
	KnownExploited  int `json:"known_exploited" yaml:"known_exploited"`
	Ransomware      int `json:"ransomware_related" yaml:"ransomware_related"`
}

func summarize(r *models.Report) summary {
	s := summary{
		Manifests: len(r.Manifests),
		Errors:    r.Count(models.SeverityError),
		Warnings:  r.Count(models.SeverityWarning),
		Info:      r.Count(models.SeverityInfo),
		Pins:      len(r.Pins),
		Conflicts: len(r.Conflicts),
	}
	for _, m := range r.Manifests {
		s.Requirements += len(m.Requirements)
	}
	for _, f := range r.Findings {
		s.Vulnerabilities += len(f.Vulnerabilities)
		for _, v := range f.Vulnerabilities {
			if v.KEV == nil {
				continue
			}
			s.KnownExploited++
			if v.KEV.RansomwareUse {
				s.Ransomware++
			}
		}
	}
	return s
}

func location(file string, line int) string {
	if line > 0 {
		return file + ":" + strconv.Itoa(line)
	}
	return file
}
