package clients

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/ethanolivertroy/reqcheck/internal/models"
	"go.trai.ch/zerr"
)

// OSVClient handles requests to the OSV vulnerability database
type OSVClient struct {
	batchURL string
	fetch    *fetcher
}

// NewOSVClient creates a client for the querybatch endpoint at batchURL
func NewOSVClient(batchURL string, opts Options) *OSVClient {
	if batchURL == "" {
		batchURL = models.DefaultOSVURL
	}
	return &OSVClient{
		batchURL: batchURL,
		fetch:    newFetcher(opts),
	}
}

// Query identifies one package version to look up
type Query struct {
	Name      string
	Ecosystem models.Ecosystem
	Version   string
}

type osvQuery struct {
	Package struct {
		Name      string `json:"name"`
		Ecosystem string `json:"ecosystem"`
	} `json:"package"`
	Version string `json:"version"`
}

type osvBatchRequest struct {
	Queries []osvQuery `json:"queries"`
}

type osvVulnerability struct {
	ID      string   `json:"id"`
	Aliases []string `json:"aliases"`
	Summary string   `json:"summary"`
}

type osvBatchResponse struct {
	Results []struct {
		Vulns []osvVulnerability `json:"vulns"`
	} `json:"results"`
}

// batchSize keeps requests well under the API's 1000 query limit
const batchSize = 100

// QueryBatch returns the advisories affecting each query, indexed like queries
func (c *OSVClient) QueryBatch(ctx context.Context, queries []Query) ([][]models.Vulnerability, error) {
	results := make([][]models.Vulnerability, len(queries))

	for i := 0; i < len(queries); i += batchSize {
		end := min(i+batchSize, len(queries))

		chunk, err := c.queryChunk(ctx, queries[i:end])
		if err != nil {
			return nil, zerr.Wrap(err, "failed to query OSV batch")
		}
		copy(results[i:end], chunk)
	}

	return results, nil
}

func (c *OSVClient) queryChunk(ctx context.Context, queries []Query) ([][]models.Vulnerability, error) {
	req := osvBatchRequest{Queries: make([]osvQuery, len(queries))}
	for j, q := range queries {
		req.Queries[j].Package.Name = q.Name
		req.Queries[j].Package.Ecosystem = string(q.Ecosystem)
		req.Queries[j].Version = q.Version
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	data, err := c.fetch.do(ctx, "POST", c.batchURL, body)
	if err != nil {
		return nil, err
	}

	var batchResp osvBatchResponse
	if err := json.Unmarshal(data, &batchResp); err != nil {
		return nil, zerr.Wrap(err, "failed to decode OSV response")
	}

	results := make([][]models.Vulnerability, len(queries))
	for j, result := range batchResp.Results {
		if j >= len(results) {
			break
		}
		seen := make(map[string]bool)
		for _, vuln := range result.Vulns {
			if seen[vuln.ID] {
				continue
			}
			seen[vuln.ID] = true
			results[j] = append(results[j], models.Vulnerability{
				ID:      vuln.ID,
				Aliases: cveAliases(vuln.Aliases),
				Summary: vuln.Summary,
			})
		}
		sort.Slice(results[j], func(a, b int) bool { return results[j][a].ID < results[j][b].ID })
	}

	return results, nil
}

// cveAliases returns the CVE identifiers among aliases, deduplicated and sorted
func cveAliases(aliases []string) []string {
	seen := make(map[string]bool)
	var cves []string
	for _, alias := range aliases {
		if strings.HasPrefix(alias, "CVE-") && !seen[alias] {
			cves = append(cves, alias)
			seen[alias] = true
		}
	}
	sort.Strings(cves)
	return cves
}
