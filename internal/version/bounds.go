package version

import (
	"strings"

	"github.com/ethanolivertroy/reqcheck/internal/models"
	"go.trai.ch/zerr"
)

// Bound is one end of a version range
type Bound struct {
	Version   string
	Inclusive bool
}

// Range is the analytic intersection of a set of specifiers. It answers
// whether any version could satisfy them without asking an index.
type Range struct {
	eco       models.Ecosystem
	Lower     *Bound
	Upper     *Bound
	Exact     []string
	Excluded  []string
	Arbitrary []string
}

// NewRange folds specs into a Range
func NewRange(eco models.Ecosystem, specs models.Specifiers) (*Range, error) {
	r := &Range{eco: eco}
	for _, s := range specs {
		if err := r.add(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Range) add(s models.Specifier) error {
	switch s.Operator {
	case models.OpArbitrary:
		r.Arbitrary = append(r.Arbitrary, s.Version)
		return nil

	case models.OpNotEqual:
		// Wildcard exclusions punch holes we do not track.
		if !strings.HasSuffix(s.Version, ".*") {
			r.Excluded = append(r.Excluded, s.Version)
		}
		return nil

	case models.OpEqual:
		prefix, wildcard := strings.CutSuffix(s.Version, ".*")
		if !wildcard {
			if err := Valid(r.eco, s.Version); err != nil {
				return err
			}
			r.Exact = append(r.Exact, s.Version)
			return nil
		}
		rel, ok := release(prefix)
		if !ok {
			return zerr.With(models.ErrInvalidVersion, "specifier", s.String())
		}
		upper, _ := bump(prefix, len(rel))
		if err := r.raiseLower(Bound{Version: prefix, Inclusive: true}); err != nil {
			return err
		}
		return r.lowerUpper(Bound{Version: upper})

	case models.OpCompatible:
		rel, ok := release(s.Version)
		if !ok || len(rel) < 2 {
			return zerr.With(models.ErrInvalidVersion, "specifier", s.String())
		}
		upper, _ := bump(s.Version, len(rel)-1)
		if err := r.raiseLower(Bound{Version: s.Version, Inclusive: true}); err != nil {
			return err
		}
		return r.lowerUpper(Bound{Version: upper})

	case models.OpGreaterEqual, models.OpGreater:
		return r.raiseLower(Bound{Version: s.Version, Inclusive: s.Operator == models.OpGreaterEqual})

	case models.OpLessEqual, models.OpLess:
		return r.lowerUpper(Bound{Version: s.Version, Inclusive: s.Operator == models.OpLessEqual})
	}

	return zerr.With(models.ErrInvalidVersion, "operator", string(s.Operator))
}

func (r *Range) raiseLower(b Bound) error {
	if r.Lower == nil {
		r.Lower = &b
		return Valid(r.eco, b.Version)
	}
	c, err := Compare(r.eco, b.Version, r.Lower.Version)
	if err != nil {
		return err
	}
	if c > 0 || (c == 0 && !b.Inclusive) {
		r.Lower = &b
	}
	return nil
}

func (r *Range) lowerUpper(b Bound) error {
	if r.Upper == nil {
		r.Upper = &b
		return Valid(r.eco, b.Version)
	}
	c, err := Compare(r.eco, b.Version, r.Upper.Version)
	if err != nil {
		return err
	}
	if c < 0 || (c == 0 && !b.Inclusive) {
		r.Upper = &b
	}
	return nil
}

// Satisfiable reports whether some version could match every specifier
func (r *Range) Satisfiable() bool {
	for i := 1; i < len(r.Arbitrary); i++ {
		if !strings.EqualFold(r.Arbitrary[i], r.Arbitrary[0]) {
			return false
		}
	}

	if len(r.Exact) > 0 {
		pin := r.Exact[0]
		for _, other := range r.Exact[1:] {
			if c, err := Compare(r.eco, pin, other); err != nil || c != 0 {
				return false
			}
		}
		return r.contains(pin)
	}

	if r.Lower == nil || r.Upper == nil {
		return true
	}

	c, err := Compare(r.eco, r.Lower.Version, r.Upper.Version)
	if err != nil {
		return false
	}
	if c < 0 {
		return true
	}
	if c > 0 || !r.Lower.Inclusive || !r.Upper.Inclusive {
		return false
	}
	return !r.excluded(r.Lower.Version)
}

func (r *Range) contains(v string) bool {
	if r.Lower != nil {
		c, err := Compare(r.eco, v, r.Lower.Version)
		if err != nil || c < 0 || (c == 0 && !r.Lower.Inclusive) {
			return false
		}
	}
	if r.Upper != nil {
		c, err := Compare(r.eco, v, r.Upper.Version)
		if err != nil || c > 0 || (c == 0 && !r.Upper.Inclusive) {
			return false
		}
	}
	return !r.excluded(v)
}

func (r *Range) excluded(v string) bool {
	for _, x := range r.Excluded {
		if c, err := Compare(r.eco, v, x); err == nil && c == 0 {
			return true
		}
	}
	return false
}

// String renders the range for diagnostics, e.g. ">=1.2, <2"
func (r *Range) String() string {
	var parts []string
	if len(r.Exact) > 0 {
		for _, e := range r.Exact {
			parts = append(parts, "=="+e)
		}
	}
	if r.Lower != nil {
		op := ">"
		if r.Lower.Inclusive {
			op = ">="
		}
		parts = append(parts, op+r.Lower.Version)
	}
	if r.Upper != nil {
		op := "<"
		if r.Upper.Inclusive {
			op = "<="
		}
		parts = append(parts, op+r.Upper.Version)
	}
	for _, x := range r.Excluded {
		parts = append(parts, "!="+x)
	}
	if len(parts) == 0 {
		return "*"
	}
	return strings.Join(parts, ", ")
}

// Minimum returns the lowest version the range is known to admit: the exact
// pin, or an inclusive lower bound that is not excluded. A range whose lowest
// member cannot be named without an index, such as ">1.0" or ">=1.0, !=1.0",
// has no minimum.
func (r *Range) Minimum() (string, bool) {
	if !r.Satisfiable() {
		return "", false
	}
	if len(r.Exact) > 0 {
		return r.Exact[0], true
	}
	if len(r.Arbitrary) > 0 {
		return r.Arbitrary[0], true
	}
	if r.Lower == nil || !r.Lower.Inclusive || r.excluded(r.Lower.Version) {
		return "", false
	}
	return r.Lower.Version, true
}

// Minimum folds specs into a Range and returns its minimum
func Minimum(eco models.Ecosystem, specs models.Specifiers) (string, bool) {
	r, err := NewRange(eco, specs)
	if err != nil {
		return "", false
	}
	return r.Minimum()
}
