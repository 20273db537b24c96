package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethanolivertroy/reqcheck/internal/cache"
	"github.com/ethanolivertroy/reqcheck/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions(c *cache.Cache) Options {
	return Options{
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
		Cache:      c,
		Retries:    2,
		RetryDelay: time.Millisecond,
	}
}

const pandasProject = `{
  "info": {"name": "pandas", "version": "2.0.0", "requires_dist": ["numpy>=1.23.2; python_version >= \"3.11\"", "pytz>=2020.1"]},
  "releases": {
    "1.5.3": [{"yanked": false}],
    "2.0.0": [{"yanked": false}, {"yanked": true}],
    "2.0.1": [{"yanked": true}],
    "2.1.0": []
  }
}`

func TestPyPIClient(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/pypi/pandas/json", "/pypi/pandas/2.0.0/json":
			_, _ = io.WriteString(w, pandasProject)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := cache.New(t.TempDir(), time.Hour)
	require.NoError(t, err)
	client := NewPyPIClient(srv.URL+"/pypi/", testOptions(c))
	ctx := context.Background()

	versions, err := client.Versions(ctx, "Pandas")
	require.NoError(t, err)
	sort.Strings(versions)
	assert.Equal(t, []string{"1.5.3", "2.0.0"}, versions)

	deps, err := client.Requires(ctx, "pandas", "2.0.0")
	require.NoError(t, err)
	assert.Equal(t, []string{`numpy>=1.23.2; python_version >= "3.11"`, "pytz>=2020.1"}, deps)

	_, err = client.Versions(ctx, "pandas")
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load(), "second listing should come from cache")

	_, err = client.Versions(ctx, "does-not-exist")
	assert.ErrorIs(t, err, models.ErrPackageNotFound)
}

func TestPyPIClient_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, pandasProject)
	}))
	defer srv.Close()

	client := NewPyPIClient(srv.URL, testOptions(nil))
	versions, err := client.Versions(context.Background(), "pandas")
	require.NoError(t, err)
	assert.Len(t, versions, 2)
	assert.Equal(t, int32(3), hits.Load())
}

func TestPyPIClient_Unavailable(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewPyPIClient(srv.URL, testOptions(nil))
	_, err := client.Versions(context.Background(), "pandas")
	require.ErrorIs(t, err, models.ErrIndexUnavailable)
	assert.Equal(t, int32(3), hits.Load())
}

func TestPyPIClient_NoRetryOnClientError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewPyPIClient(srv.URL, testOptions(nil))
	_, err := client.Versions(context.Background(), "pandas")
	require.ErrorIs(t, err, models.ErrIndexUnavailable)
	assert.Equal(t, int32(1), hits.Load())
}

func TestStaticIndex(t *testing.T) {
	idx, err := ParseStaticIndex([]byte(`
packages:
  Scikit_Learn:
    "1.3.0":
      - numpy>=1.17.3
      - scipy>=1.5.0
  joblib:
    "1.3.0": []
`))
	require.NoError(t, err)
	ctx := context.Background()

	versions, err := idx.Versions(ctx, "scikit-learn")
	require.NoError(t, err)
	assert.Equal(t, []string{"1.3.0"}, versions)

	deps, err := idx.Requires(ctx, "scikit-learn", "1.3.0")
	require.NoError(t, err)
	assert.Equal(t, []string{"numpy>=1.17.3", "scipy>=1.5.0"}, deps)

	deps, err = idx.Requires(ctx, "joblib", "1.3.0")
	require.NoError(t, err)
	assert.Empty(t, deps)

	_, err = idx.Requires(ctx, "joblib", "9.9")
	assert.ErrorIs(t, err, models.ErrPackageNotFound)
	_, err = idx.Versions(ctx, "xgboost")
	assert.ErrorIs(t, err, models.ErrPackageNotFound)

	_, err = ParseStaticIndex([]byte("packages: [1, 2"))
	assert.Error(t, err)
}

func TestOSVClient_QueryBatch(t *testing.T) {
	var (
		mu      sync.Mutex
		batches []int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)

		var req osvBatchRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		batches = append(batches, len(req.Queries))
		mu.Unlock()

		type result struct {
			Vulns []osvVulnerability `json:"vulns"`
		}
		resp := struct {
			Results []result `json:"results"`
		}{Results: make([]result, len(req.Queries))}

		for i, q := range req.Queries {
			if q.Package.Name == "urllib3" && q.Version == "1.26.0" {
				resp.Results[i].Vulns = []osvVulnerability{
					{ID: "PYSEC-2023-192", Aliases: []string{"GHSA-v845-jxx5-vc9f", "CVE-2023-43804"}},
					{ID: "GHSA-g4mx-q9vg-27p4", Aliases: []string{"CVE-2023-45803"}},
					{ID: "GHSA-g4mx-q9vg-27p4"},
				}
			}
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	queries := make([]Query, 0, 150)
	for i := 0; i < 149; i++ {
		queries = append(queries, Query{Name: "pkg", Ecosystem: models.EcosystemPyPI, Version: "1.0"})
	}
	queries = append(queries, Query{Name: "urllib3", Ecosystem: models.EcosystemPyPI, Version: "1.26.0"})

	client := NewOSVClient(srv.URL, testOptions(nil))
	results, err := client.QueryBatch(context.Background(), queries)
	require.NoError(t, err)

	mu.Lock()
	assert.Equal(t, []int{100, 50}, batches)
	mu.Unlock()
	require.Len(t, results, 150)
	assert.Empty(t, results[0])

	vulns := results[149]
	require.Len(t, vulns, 2)
	assert.Equal(t, "GHSA-g4mx-q9vg-27p4", vulns[0].ID)
	assert.Equal(t, []string{"CVE-2023-45803"}, vulns[0].Aliases)
	assert.Equal(t, "PYSEC-2023-192", vulns[1].ID)
	assert.Equal(t, []string{"CVE-2023-43804"}, vulns[1].Aliases)
}

const kevCatalog = `{
  "catalogVersion": "2024.01.29",
  "count": 2,
  "vulnerabilities": [
    {"cveID": "CVE-2023-43804", "vulnerabilityName": "urllib3 Cookie Leak", "dateAdded": "2024-01-08",
     "requiredAction": "Apply updates", "dueDate": "2024-01-29", "knownRansomwareCampaignUse": "Known"},
    {"cveID": "CVE-2021-44228", "vulnerabilityName": "Log4j RCE", "dateAdded": "2021-12-10",
     "dueDate": "not a date", "knownRansomwareCampaignUse": "Unknown"}
  ]
}`

func TestKEVClient_Catalog(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, http.MethodGet, r.Method)
		_, _ = io.WriteString(w, kevCatalog)
	}))
	defer srv.Close()

	c, err := cache.New(t.TempDir(), time.Hour)
	require.NoError(t, err)
	client := NewKEVClient(srv.URL, testOptions(c))

	catalog, err := client.Catalog(context.Background())
	require.NoError(t, err)
	require.Len(t, catalog, 2)

	kev := catalog["CVE-2023-43804"]
	assert.Equal(t, "urllib3 Cookie Leak", kev.VulnerabilityName)
	assert.True(t, kev.RansomwareUse)
	assert.Equal(t, time.Date(2024, 1, 29, 0, 0, 0, 0, time.UTC), kev.DueDate)
	assert.False(t, catalog["CVE-2021-44228"].RansomwareUse)
	assert.True(t, catalog["CVE-2021-44228"].DueDate.IsZero())

	_, err = client.Catalog(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load(), "second read is served from the cache")
}

func TestKEVClient_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html>")
	}))
	defer srv.Close()

	_, err := NewKEVClient(srv.URL, testOptions(nil)).Catalog(context.Background())
	assert.ErrorContains(t, err, "failed to parse KEV catalog")

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()

	_, err = NewKEVClient(down.URL, testOptions(nil)).Catalog(context.Background())
	assert.ErrorIs(t, err, models.ErrIndexUnavailable)
}

func TestEPSSClient_Scores(t *testing.T) {
	var (
		mu     sync.Mutex
		chunks []int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cves := strings.Split(r.URL.Query().Get("cve"), ",")
		mu.Lock()
		chunks = append(chunks, len(cves))
		mu.Unlock()

		if cves[0] == "CVE-2000-0000" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		var data []map[string]string
		for _, cve := range cves {
			if cve == "CVE-2023-43804" {
				data = append(data, map[string]string{"cve": cve, "epss": "0.01230", "percentile": "0.85000", "date": "2024-01-29"})
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "OK", "total": len(data), "data": data})
	}))
	defer srv.Close()

	// 101 identifiers sort into a first chunk led by the rejected one and a
	// second chunk holding the scored CVE.
	cves := []string{"CVE-2023-43804", "CVE-2000-0000"}
	for i := 0; i < 99; i++ {
		cves = append(cves, fmt.Sprintf("CVE-2001-%04d", i))
	}

	client := NewEPSSClient(srv.URL, testOptions(nil))
	scores, err := client.Scores(context.Background(), cves)
	require.NoError(t, err)

	mu.Lock()
	sort.Ints(chunks)
	assert.Equal(t, []int{1, 100}, chunks)
	mu.Unlock()

	require.Len(t, scores, 1)
	score := scores["CVE-2023-43804"]
	assert.InDelta(t, 0.0123, score.Score, 1e-9)
	assert.InDelta(t, 0.85, score.Percentile, 1e-9)
}

func TestEPSSClient_NoCVEs(t *testing.T) {
	scores, err := NewEPSSClient("http://127.0.0.1:0", testOptions(nil)).Scores(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, scores)
}
