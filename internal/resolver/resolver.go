// Package resolver checks that a set of requirements can be installed together
// when every package is held at the lowest version its constraints allow.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/ethanolivertroy/reqcheck/internal/markers"
	"github.com/ethanolivertroy/reqcheck/internal/models"
	"github.com/ethanolivertroy/reqcheck/internal/parsers"
	"github.com/ethanolivertroy/reqcheck/internal/version"
	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"
)

// Conflict rules
const (
	RuleUnsatisfiable = "RC001"
	RulePinViolated   = "RC002"
	RuleNotFound      = "RC003"
)

// Result holds the selected pins and any conflicts, both sorted by package
type Result struct {
	Pins      []models.Pin
	Conflicts []models.Conflict
}

// Resolver selects minimum versions against an Index
type Resolver struct {
	index       Index
	env         markers.Environment
	maxDepth    int
	concurrency int
	logger      *slog.Logger
}

// New creates a Resolver using the resolve and environment settings of cfg
func New(index Index, cfg *models.Config, logger *slog.Logger) *Resolver {
	concurrency := cfg.Resolve.Concurrency
	if concurrency < 1 {
		concurrency = models.DefaultConcurrency
	}
	return &Resolver{
		index:       index,
		env:         markers.NewEnvironment(cfg.Environment.PythonVersion, cfg.Environment.SysPlatform),
		maxDepth:    cfg.Resolve.MaxDepth,
		concurrency: concurrency,
		logger:      logger,
	}
}

type node struct {
	name        string
	depth       int
	requiredBy  string
	constraints []models.ConstraintOrigin
	extras      map[string]bool
	pinned      string
	failed      bool

	// deps are the parsed requirements of the pinned release. applied marks
	// the ones already recorded; the rest wait for an extra that enables them.
	loaded  bool
	deps    []models.Requirement
	applied []bool
}

func (n *node) specifiers() models.Specifiers {
	var all models.Specifiers
	for _, c := range n.constraints {
		all = append(all, c.Specifiers...)
	}
	return all
}

func (n *node) extraList() []string {
	out := make([]string, 0, len(n.extras))
	for e := range n.extras {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

type state struct {
	nodes     map[string]*node
	conflicts []models.Conflict
}

func (s *state) add(req models.Requirement, depth int, source, parent string) *node {
	key := req.Key()
	n, ok := s.nodes[key]
	if !ok {
		n = &node{
			name:       key,
			depth:      depth,
			requiredBy: parent,
			extras:     make(map[string]bool),
		}
		s.nodes[key] = n
	}
	n.constraints = append(n.constraints, models.ConstraintOrigin{
		Specifiers: req.Specifiers,
		Source:     source,
	})
	for _, e := range req.Extras {
		n.extras[models.NormalizeName(e)] = true
	}
	return n
}

// loaded returns the packages whose dependencies have been read, sorted by name
func (s *state) loaded() []*node {
	var out []*node
	for _, n := range s.nodes {
		if n.loaded {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func (s *state) conflict(rule string, n *node, reason string) {
	n.failed = true
	s.conflicts = append(s.conflicts, models.Conflict{
		Rule:        rule,
		Package:     n.name,
		Pinned:      n.pinned,
		Reason:      reason,
		Constraints: append([]models.ConstraintOrigin(nil), n.constraints...),
	})
}

// Resolve pins each PyPI requirement, and its dependencies up to the
// configured depth, to the lowest satisfying release. Requirements with a
// direct URL, a false marker or another ecosystem are skipped. The returned
// error is reserved for index failures; unsatisfiable constraints are
// reported as conflicts.
func (r *Resolver) Resolve(ctx context.Context, reqs []models.Requirement) (*Result, error) {
	st := &state{nodes: make(map[string]*node)}

	for _, req := range reqs {
		if req.Ecosystem != models.EcosystemPyPI || req.URL != "" {
			continue
		}
		ok, err := markers.Evaluate(req.Marker, r.env)
		if err != nil || !ok {
			r.logger.Debug("skipping requirement", "package", req.Name, "marker", req.Marker)
			continue
		}
		st.add(req, 0, fmt.Sprintf("%s:%d", req.SourceFile, req.Line), "")
	}

	for depth := 0; depth <= r.maxDepth; depth++ {
		frontier := r.frontier(st, depth)
		if len(frontier) == 0 {
			break
		}
		r.logger.Debug("resolving level", "depth", depth, "packages", len(frontier))

		if err := r.pin(ctx, st, frontier); err != nil {
			return nil, err
		}
		if depth == r.maxDepth {
			break
		}
		if err := r.expand(ctx, st, frontier, depth); err != nil {
			return nil, err
		}
	}

	return r.result(st), nil
}

// frontier returns the unpinned packages at depth, sorted by name
func (r *Resolver) frontier(st *state, depth int) []*node {
	var out []*node
	for _, n := range st.nodes {
		if n.depth == depth && n.pinned == "" && !n.failed {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// pin fetches release lists concurrently, then picks versions in name order
func (r *Resolver) pin(ctx context.Context, st *state, nodes []*node) error {
	versions := make([][]string, len(nodes))
	missing := make([]bool, len(nodes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, n := range nodes {
		g.Go(func() error {
			vs, err := r.index.Versions(gctx, n.name)
			if errors.Is(err, models.ErrPackageNotFound) {
				missing[i] = true
				return nil
			}
			if err != nil {
				return zerr.With(zerr.Wrap(err, "failed to list versions"), "package", n.name)
			}
			versions[i] = vs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, n := range nodes {
		if missing[i] {
			st.conflict(RuleNotFound, n, n.name+" was not found in the package index")
			continue
		}

		specs := n.specifiers()
		chosen, ok := lowest(versions[i], specs)
		if !ok {
			st.conflict(RuleUnsatisfiable, n, unsatisfiableReason(n.name, specs, len(versions[i])))
			continue
		}
		n.pinned = chosen
		r.logger.Debug("pinned", "package", n.name, "version", chosen, "depth", n.depth)
	}
	return nil
}

// expand fetches dependency metadata for the pins at depth, then records the
// constraints they place on the next level. Extras can reach a package after
// its own dependencies were read, from a sibling or from a deeper level, so
// every loaded package is re-evaluated until no further dependency applies.
func (r *Resolver) expand(ctx context.Context, st *state, nodes []*node, depth int) error {
	var pending []*node
	for _, n := range nodes {
		if n.pinned != "" && !n.loaded {
			pending = append(pending, n)
		}
	}

	requires := make([][]string, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, n := range pending {
		g.Go(func() error {
			deps, err := r.index.Requires(gctx, n.name, n.pinned)
			if errors.Is(err, models.ErrPackageNotFound) {
				return nil
			}
			if err != nil {
				return zerr.With(zerr.Wrap(err, "failed to fetch dependencies"), "package", n.name+"=="+n.pinned)
			}
			requires[i] = deps
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, n := range pending {
		n.loaded = true
		for _, raw := range requires[i] {
			dep, err := parsers.ParseRequirement(raw)
			if err != nil {
				r.logger.Debug("ignoring unparsable dependency", "package", n.name+"=="+n.pinned, "requirement", raw, "reason", parsers.Reason(err))
				continue
			}
			if dep.URL != "" {
				continue
			}
			n.deps = append(n.deps, dep)
		}
		n.applied = make([]bool, len(n.deps))
	}

	for changed := true; changed; {
		changed = false
		for _, parent := range st.loaded() {
			for i, dep := range parent.deps {
				if parent.applied[i] || !r.applies(dep.Marker, parent) {
					continue
				}
				parent.applied[i] = true
				changed = true
				r.require(st, parent, dep, depth+1)
			}
		}
	}
	return nil
}

// require records dep as a constraint from parent, checking it against the
// version already selected when the package was pinned at an earlier level
func (r *Resolver) require(st *state, parent *node, dep models.Requirement, depth int) {
	source := parent.name + "==" + parent.pinned

	existing, seen := st.nodes[dep.Key()]
	if seen && existing.failed {
		return
	}
	n := st.add(dep, depth, source, source)
	if n.pinned == "" {
		return
	}

	ok, err := version.Satisfies(models.EcosystemPyPI, n.pinned, dep.Specifiers)
	if err != nil || !ok {
		st.conflict(RulePinViolated, n, fmt.Sprintf("%s requires %s%s but %s==%s was selected",
			source, dep.Key(), dep.Specifiers.String(), n.name, n.pinned))
	}
}

// applies evaluates a dependency marker with each extra the parent was requested with
func (r *Resolver) applies(marker string, parent *node) bool {
	if marker == "" {
		return true
	}
	extras := []string{""}
	if len(markers.Extras(marker)) > 0 {
		extras = append(extras, parent.extraList()...)
	}
	for _, extra := range extras {
		ok, err := markers.Evaluate(marker, r.env.With(extra))
		if err == nil && ok {
			return true
		}
	}
	return false
}

func (r *Resolver) result(st *state) *Result {
	res := &Result{Conflicts: st.conflicts}
	for _, n := range st.nodes {
		if n.pinned == "" || n.failed {
			continue
		}
		res.Pins = append(res.Pins, models.Pin{
			Name:       n.name,
			Version:    n.pinned,
			Depth:      n.depth,
			RequiredBy: n.requiredBy,
		})
	}

	sort.Slice(res.Pins, func(i, j int) bool { return res.Pins[i].Name < res.Pins[j].Name })
	sort.SliceStable(res.Conflicts, func(i, j int) bool {
		a, b := res.Conflicts[i], res.Conflicts[j]
		if a.Package != b.Package {
			return a.Package < b.Package
		}
		return a.Rule < b.Rule
	})
	return res
}

// lowest returns the smallest final release satisfying specs. Pre-releases
// are considered when a specifier names one or no final release matches.
func lowest(versions []string, specs models.Specifiers) (string, bool) {
	allowPre := false
	for _, s := range specs {
		if version.IsPreRelease(models.EcosystemPyPI, s.Version) {
			allowPre = true
		}
	}

	var firstPre string
	for _, v := range version.Sort(models.EcosystemPyPI, versions) {
		ok, err := version.Satisfies(models.EcosystemPyPI, v, specs)
		if err != nil || !ok {
			continue
		}
		if !version.IsPreRelease(models.EcosystemPyPI, v) {
			return v, true
		}
		if allowPre {
			return v, true
		}
		if firstPre == "" {
			firstPre = v
		}
	}
	return firstPre, firstPre != ""
}

func unsatisfiableReason(name string, specs models.Specifiers, available int) string {
	if available == 0 {
		return name + " has no installable releases"
	}
	rng, err := version.NewRange(models.EcosystemPyPI, specs)
	want := specs.String()
	if err == nil {
		want = rng.String()
	}
	if strings.TrimSpace(want) == "" || want == "*" {
		return fmt.Sprintf("none of the %d releases of %s can be installed", available, name)
	}
	return fmt.Sprintf("no release of %s satisfies %s", name, want)
}
