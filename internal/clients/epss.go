package clients

import (
	"context"
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/ethanolivertroy/reqcheck/internal/models"
)

// EPSSClient handles requests to the FIRST EPSS API
type EPSSClient struct {
	url   string
	fetch *fetcher
}

// NewEPSSClient creates a client for the API at baseURL
func NewEPSSClient(baseURL string, opts Options) *EPSSClient {
	if baseURL == "" {
		baseURL = models.DefaultEPSSURL
	}
	return &EPSSClient{
		url:   baseURL,
		fetch: newFetcher(opts),
	}
}

type epssResponse struct {
	Status string     `json:"status"`
	Total  int        `json:"total"`
	Data   []epssData `json:"data"`
}

type epssData struct {
	CVE        string `json:"cve"`
	EPSS       string `json:"epss"`
	Percentile string `json:"percentile"`
	Date       string `json:"date"`
}

// epssChunk keeps the cve query parameter well under common URL limits
const epssChunk = 100

// Scores returns the EPSS score of each CVE the API knows. A failed chunk is
// logged and skipped so that one bad batch does not drop the rest.
func (c *EPSSClient) Scores(ctx context.Context, cves []string) (map[string]models.EPSSScore, error) {
	scores := make(map[string]models.EPSSScore)
	if len(cves) == 0 {
		return scores, nil
	}

	ids := append([]string(nil), cves...)
	sort.Strings(ids)

	for i := 0; i < len(ids); i += epssChunk {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunk := ids[i:min(i+epssChunk, len(ids))]

		data, err := c.fetch.do(ctx, "GET", c.url+"?cve="+url.QueryEscape(strings.Join(chunk, ",")), nil)
		if err != nil {
			c.fetch.opts.Logger.Warn("skipping EPSS batch", "cves", len(chunk), "error", err)
			continue
		}

		var resp epssResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			c.fetch.opts.Logger.Warn("skipping EPSS batch", "cves", len(chunk), "error", err)
			continue
		}

		for _, d := range resp.Data {
			score, _ := strconv.ParseFloat(d.EPSS, 64)
			percentile, _ := strconv.ParseFloat(d.Percentile, 64)
			scores[d.CVE] = models.EPSSScore{
				CVEID:      d.CVE,
				Score:      score,
				Percentile: percentile,
			}
		}
	}

	return scores, nil
}
