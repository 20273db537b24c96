package reporter

import (
	"bytes"

	"github.com/ethanolivertroy/reqcheck/internal/models"
	"gopkg.in/yaml.v3"
)

// YAMLReporter outputs the same document as JSONReporter, as YAML
type YAMLReporter struct{}

// Report generates YAML output for the report
func (r *YAMLReporter) Report(report *models.Report) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(newDocument(report)); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
