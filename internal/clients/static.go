package clients

import (
	"context"
	"os"

	"github.com/ethanolivertroy/reqcheck/internal/models"
	"go.trai.ch/zerr"
	"gopkg.in/yaml.v3"
)

// StaticIndex serves package metadata from a YAML file, for offline checks:
//
//	packages:
//	  pandas:
//	    "2.0.0":
//	      - numpy>=1.23.2
//	      - python-dateutil>=2.8.2
type StaticIndex struct {
	packages map[string]map[string][]string
}

type staticFile struct {
	Packages map[string]map[string][]string `yaml:"packages"`
}

// LoadStaticIndex reads an index file from disk
func LoadStaticIndex(path string) (*StaticIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to read index file"), "path", path)
	}
	return ParseStaticIndex(data)
}

// ParseStaticIndex decodes index YAML. Package names are normalized.
func ParseStaticIndex(data []byte) (*StaticIndex, error) {
	var f staticFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, zerr.Wrap(err, "failed to parse index file")
	}

	idx := &StaticIndex{packages: make(map[string]map[string][]string, len(f.Packages))}
	for name, releases := range f.Packages {
		key := models.NormalizeName(name)
		if releases == nil {
			releases = map[string][]string{}
		}
		idx.packages[key] = releases
	}
	return idx, nil
}

// Versions lists the releases recorded for name
func (s *StaticIndex) Versions(_ context.Context, name string) ([]string, error) {
	releases, ok := s.packages[models.NormalizeName(name)]
	if !ok {
		return nil, zerr.With(models.ErrPackageNotFound, "package", name)
	}
	out := make([]string, 0, len(releases))
	for v := range releases {
		out = append(out, v)
	}
	return out, nil
}

// Requires returns the dependencies recorded for one release
func (s *StaticIndex) Requires(_ context.Context, name, version string) ([]string, error) {
	deps, ok := s.packages[models.NormalizeName(name)][version]
	if !ok {
		return nil, zerr.With(models.ErrPackageNotFound, "package", name+"=="+version)
	}
	return deps, nil
}
