package scanner

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/ethanolivertroy/reqcheck/internal/cache"
	"github.com/ethanolivertroy/reqcheck/internal/clients"
	"github.com/ethanolivertroy/reqcheck/internal/lint"
	"github.com/ethanolivertroy/reqcheck/internal/models"
	"github.com/ethanolivertroy/reqcheck/internal/parsers"
	"github.com/ethanolivertroy/reqcheck/internal/resolver"
	"github.com/ethanolivertroy/reqcheck/internal/version"
	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"
)

// AppName names the cache directory
const AppName = "reqcheck"

// Scanner discovers manifests and runs the lint, check and audit passes
type Scanner struct {
	config  *models.Config
	parsers []parsers.Parser
	linter  *lint.Linter
	cache   *cache.Cache
	index   resolver.Index
	osv     *clients.OSVClient
	kev     *clients.KEVClient
	epss    *clients.EPSSClient
	logger  *slog.Logger
}

// New creates a new Scanner with the given configuration
func New(config *models.Config, logger *slog.Logger) (*Scanner, error) {
	c, err := OpenCache(config)
	if err != nil {
		// Non-fatal: continue without cache
		logger.Warn("cache disabled", "error", err)
		c = nil
	}

	opts := clients.OptionsFromConfig(config, c, logger)

	var index resolver.Index
	if config.Index.File != "" {
		index, err = clients.LoadStaticIndex(config.Index.File)
		if err != nil {
			return nil, err
		}
	} else {
		index = clients.NewPyPIClient(config.Index.URL, opts)
	}

	return &Scanner{
		config:  config,
		parsers: parsers.GetAllParsers(),
		linter:  lint.New(config, logger),
		cache:   c,
		index:   index,
		osv:     clients.NewOSVClient(config.OSV.URL, opts),
		kev:     clients.NewKEVClient(config.Enrich.KEVURL, opts),
		epss:    clients.NewEPSSClient(config.Enrich.EPSSURL, opts),
		logger:  logger,
	}, nil
}

// OpenCache opens the configured cache directory, or returns nil when caching is disabled
func OpenCache(config *models.Config) (*cache.Cache, error) {
	if config.Cache.Disabled {
		return nil, nil
	}
	dir := config.Cache.Dir
	if dir == "" {
		var err error
		if dir, err = cache.DefaultDir(AppName); err != nil {
			return nil, err
		}
	}
	return cache.New(dir, config.Cache.TTL)
}

// Parse reads the manifests and reports their requirements and syntax problems
func (s *Scanner) Parse(ctx context.Context) (*models.Report, error) {
	manifests, err := s.Discover(ctx)
	if err != nil {
		return nil, err
	}

	report := &models.Report{Command: "parse", Manifests: manifests}
	for _, m := range manifests {
		for _, d := range m.Diagnostics {
			if s.config.RuleEnabled(d.Rule) {
				report.Diagnostics = append(report.Diagnostics, d)
			}
		}
	}
	return report, nil
}

// Lint applies the manifest rules without contacting an index
func (s *Scanner) Lint(ctx context.Context) (*models.Report, error) {
	manifests, err := s.Discover(ctx)
	if err != nil {
		return nil, err
	}
	return &models.Report{
		Command:     "lint",
		Manifests:   manifests,
		Diagnostics: s.linter.Lint(manifests),
	}, nil
}

// Check lints the manifests, then resolves every requirement at its minimum
// version and reports conflicts
func (s *Scanner) Check(ctx context.Context) (*models.Report, error) {
	report, err := s.Lint(ctx)
	if err != nil {
		return nil, err
	}
	report.Command = "check"

	res, err := resolver.New(s.index, s.config, s.logger).Resolve(ctx, requirements(report.Manifests))
	if err != nil {
		return nil, zerr.Wrap(err, "resolution failed")
	}
	report.Pins = res.Pins
	report.Conflicts = res.Conflicts

	s.prune()
	return report, nil
}

// Audit lints the manifests and looks up advisories affecting each
// requirement's declared minimum version. Advisories with CVE aliases are
// annotated with KEV and EPSS data unless enrichment is disabled.
func (s *Scanner) Audit(ctx context.Context) (*models.Report, error) {
	report, err := s.Lint(ctx)
	if err != nil {
		return nil, err
	}
	report.Command = "audit"

	var (
		queries []clients.Query
		reqs    []models.Requirement
	)
	seen := make(map[string]bool)
	for _, req := range requirements(report.Manifests) {
		minimum, ok := version.Minimum(req.Ecosystem, req.Specifiers)
		if !ok || req.URL != "" {
			continue
		}
		key := string(req.Ecosystem) + "/" + req.Key() + "@" + minimum
		if seen[key] {
			continue
		}
		seen[key] = true

		queries = append(queries, clients.Query{Name: req.Name, Ecosystem: req.Ecosystem, Version: minimum})
		reqs = append(reqs, req)
	}

	if len(queries) > 0 {
		s.logger.Info("querying advisories", "packages", len(queries))
		results, err := s.osv.QueryBatch(ctx, queries)
		if err != nil {
			return nil, err
		}
		for i, vulns := range results {
			if len(vulns) == 0 {
				continue
			}
			report.Findings = append(report.Findings, models.Finding{
				Requirement:     reqs[i],
				Version:         queries[i].Version,
				Vulnerabilities: vulns,
			})
		}
	}

	if !s.config.Enrich.Disabled {
		s.enrich(ctx, report.Findings)
	}

	s.prune()
	return report, nil
}

// enrich attaches KEV entries and EPSS scores to the findings' advisories.
// Both feeds are best effort: a failure is logged and the audit continues.
func (s *Scanner) enrich(ctx context.Context, findings []models.Finding) {
	seen := make(map[string]bool)
	var cves []string
	for _, f := range findings {
		for _, v := range f.Vulnerabilities {
			for _, cve := range v.CVEs() {
				if !seen[cve] {
					seen[cve] = true
					cves = append(cves, cve)
				}
			}
		}
	}
	if len(cves) == 0 {
		return
	}

	var (
		catalog map[string]models.KEVInfo
		scores  map[string]models.EPSSScore
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if catalog, err = s.kev.Catalog(gctx); err != nil {
			s.logger.Warn("KEV enrichment skipped", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if scores, err = s.epss.Scores(gctx, cves); err != nil {
			s.logger.Warn("EPSS enrichment skipped", "error", err)
		}
		return nil
	})
	_ = g.Wait()

	exploited := 0
	for i := range findings {
		for j := range findings[i].Vulnerabilities {
			v := &findings[i].Vulnerabilities[j]
			for _, cve := range v.CVEs() {
				if kev, ok := catalog[cve]; ok && v.KEV == nil {
					v.KEV = &kev
					exploited++
				}
				if score, ok := scores[cve]; ok && (v.EPSS == nil || score.Score > v.EPSS.Score) {
					v.EPSS = &score
				}
			}
		}
	}
	s.logger.Debug("enriched advisories", "cves", len(cves), "known_exploited", exploited)
}

func (s *Scanner) prune() {
	if s.cache == nil {
		return
	}
	maxBytes, err := s.config.CacheMaxBytes()
	if err != nil {
		return
	}
	if n, err := s.cache.Prune(maxBytes); err != nil {
		s.logger.Warn("failed to prune cache", "error", err)
	} else if n > 0 {
		s.logger.Debug("pruned cache", "entries", n)
	}
}

func requirements(manifests []*models.Manifest) []models.Requirement {
	var out []models.Requirement
	for _, m := range manifests {
		out = append(out, m.Requirements...)
	}
	return out
}

// skipDirs are never descended into
var skipDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"vendor":       true,
	"__pycache__":  true,
	".venv":        true,
	"venv":         true,
	".tox":         true,
}

// Discover walks the configured paths and parses every recognised manifest.
// Files named explicitly are parsed even when their name is not recognised,
// as requirements files.
func (s *Scanner) Discover(ctx context.Context) ([]*models.Manifest, error) {
	type candidate struct {
		path     string
		explicit bool
	}
	var candidates []candidate

	for _, path := range s.config.Paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, zerr.With(zerr.Wrap(err, "failed to stat path"), "path", path)
		}

		if !info.IsDir() {
			candidates = append(candidates, candidate{path: path, explicit: true})
			continue
		}

		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}

			if d.IsDir() {
				if p != path && skipDirs[d.Name()] {
					return filepath.SkipDir
				}
				return nil
			}

			if _, ok := parsers.Find(s.parsers, d.Name()); ok {
				candidates = append(candidates, candidate{path: p})
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	if len(candidates) == 0 {
		return nil, zerr.With(models.ErrNoManifests, "paths", strings.Join(s.config.Paths, ", "))
	}

	manifests := make([]*models.Manifest, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, c := range candidates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			m, err := s.parseFile(c.path, c.explicit)
			if err != nil {
				return err
			}
			manifests[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(manifests, func(i, j int) bool { return manifests[i].Path < manifests[j].Path })
	s.logger.Debug("discovered manifests", "count", len(manifests))
	return manifests, nil
}

// parseFile parses path with the first parser that accepts its name. A file
// that cannot be decoded at all becomes a manifest carrying one RQ001 error.
func (s *Scanner) parseFile(path string, explicit bool) (*models.Manifest, error) {
	filename := filepath.Base(path)

	parser, ok := parsers.Find(s.parsers, filename)
	if !ok {
		if !explicit {
			return nil, zerr.With(models.ErrUnsupportedFile, "path", path)
		}
		parser = &parsers.PythonRequirementsParser{}
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to read manifest"), "path", path)
	}

	m, err := parser.Parse(path, content)
	if err != nil {
		s.logger.Debug("manifest could not be decoded", "path", path, "error", err)
		return &models.Manifest{
			Path: path,
			Diagnostics: []models.Diagnostic{{
				Rule:     lint.RuleSyntax,
				Severity: models.SeverityError,
				Message:  err.Error(),
				File:     path,
			}},
		}, nil
	}
	return m, nil
}
