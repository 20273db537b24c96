package clients

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/ethanolivertroy/reqcheck/internal/models"
	"go.trai.ch/zerr"
)

// PyPIClient reads release metadata from the PyPI JSON API
type PyPIClient struct {
	baseURL string
	fetch   *fetcher
}

// NewPyPIClient creates a client for the index rooted at baseURL,
// e.g. https://pypi.org/pypi
func NewPyPIClient(baseURL string, opts Options) *PyPIClient {
	return &PyPIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		fetch:   newFetcher(opts),
	}
}

type pypiFile struct {
	Yanked bool `json:"yanked"`
}

type pypiProject struct {
	Info struct {
		Name         string   `json:"name"`
		Version      string   `json:"version"`
		RequiresDist []string `json:"requires_dist"`
	} `json:"info"`
	Releases map[string][]pypiFile `json:"releases"`
}

func (c *PyPIClient) get(ctx context.Context, parts ...string) (*pypiProject, error) {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	u := c.baseURL + "/" + strings.Join(escaped, "/") + "/json"

	data, err := c.fetch.do(ctx, "GET", u, nil)
	if err != nil {
		return nil, err
	}

	var project pypiProject
	if err := json.Unmarshal(data, &project); err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to decode PyPI response"), "url", u)
	}
	return &project, nil
}

// Versions lists releases that have at least one file that is not yanked
func (c *PyPIClient) Versions(ctx context.Context, name string) ([]string, error) {
	project, err := c.get(ctx, models.NormalizeName(name))
	if err != nil {
		return nil, err
	}

	versions := make([]string, 0, len(project.Releases))
	for v, files := range project.Releases {
		if len(files) == 0 {
			continue
		}
		for _, f := range files {
			if !f.Yanked {
				versions = append(versions, v)
				break
			}
		}
	}
	return versions, nil
}

// Requires returns info.requires_dist for one release
func (c *PyPIClient) Requires(ctx context.Context, name, version string) ([]string, error) {
	project, err := c.get(ctx, models.NormalizeName(name), version)
	if err != nil {
		return nil, err
	}
	return project.Info.RequiresDist, nil
}
