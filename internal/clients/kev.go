package clients

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ethanolivertroy/reqcheck/internal/models"
	"go.trai.ch/zerr"
)

// KEVClient reads the CISA Known Exploited Vulnerabilities catalog
type KEVClient struct {
	url   string
	fetch *fetcher
}

// NewKEVClient creates a client for the catalog feed at url
func NewKEVClient(url string, opts Options) *KEVClient {
	if url == "" {
		url = models.DefaultKEVURL
	}
	return &KEVClient{
		url:   url,
		fetch: newFetcher(opts),
	}
}

// kevResponse is the top-level JSON document of the catalog
type kevResponse struct {
	CatalogVersion  string     `json:"catalogVersion"`
	Count           int        `json:"count"`
	Vulnerabilities []kevEntry `json:"vulnerabilities"`
}

type kevEntry struct {
	CVEID                      string `json:"cveID"`
	VulnerabilityName          string `json:"vulnerabilityName"`
	DateAdded                  string `json:"dateAdded"`
	RequiredAction             string `json:"requiredAction"`
	DueDate                    string `json:"dueDate"`
	KnownRansomwareCampaignUse string `json:"knownRansomwareCampaignUse"`
}

// Catalog fetches the catalog and returns it keyed by CVE ID. The response
// goes through the shared cache, so the feed is downloaded once per TTL.
func (c *KEVClient) Catalog(ctx context.Context) (map[string]models.KEVInfo, error) {
	data, err := c.fetch.do(ctx, "GET", c.url, nil)
	if err != nil {
		return nil, zerr.Wrap(err, "failed to fetch KEV catalog")
	}
	return parseKEV(data)
}

func parseKEV(data []byte) (map[string]models.KEVInfo, error) {
	var resp kevResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, zerr.Wrap(err, "failed to parse KEV catalog")
	}

	catalog := make(map[string]models.KEVInfo, len(resp.Vulnerabilities))
	for _, v := range resp.Vulnerabilities {
		kev := models.KEVInfo{
			CVEID:             v.CVEID,
			VulnerabilityName: v.VulnerabilityName,
			RequiredAction:    v.RequiredAction,
			RansomwareUse:     v.KnownRansomwareCampaignUse == "Known",
		}
		kev.DateAdded, _ = time.Parse(time.DateOnly, v.DateAdded)
		kev.DueDate, _ = time.Parse(time.DateOnly, v.DueDate)
		catalog[v.CVEID] = kev
	}

	return catalog, nil
}
