package version

import (
	"strings"

	"github.com/Masterminds/semver/v3"
	pep440 "github.com/aquasecurity/go-pep440-version"
	"github.com/ethanolivertroy/reqcheck/internal/models"
	"go.trai.ch/zerr"
)

// Satisfies reports whether v matches every specifier
func Satisfies(eco models.Ecosystem, v string, specs models.Specifiers) (bool, error) {
	if len(specs) == 0 {
		return true, nil
	}

	switch eco {
	case models.EcosystemNpm:
		return npmSatisfies(v, specs)
	case models.EcosystemGo:
		return goSatisfies(v, specs)
	default:
		return pep440Satisfies(v, specs)
	}
}

// pep440Satisfies checks v with the PEP 440 specifier rules. Arbitrary
// equality (===) is a plain string comparison and may name versions that do
// not parse, so it is checked before v is parsed.
func pep440Satisfies(v string, specs models.Specifiers) (bool, error) {
	var rest models.Specifiers
	for _, s := range specs {
		if s.Operator == models.OpArbitrary {
			if !strings.EqualFold(strings.TrimSpace(v), s.Version) {
				return false, nil
			}
			continue
		}
		rest = append(rest, s)
	}
	if len(rest) == 0 {
		return true, nil
	}

	ss, err := pep440.NewSpecifiers(rest.String())
	if err != nil {
		return false, zerr.With(zerr.With(models.ErrInvalidVersion, "specifier", rest.String()), "cause", err.Error())
	}
	pv, err := pep440.Parse(v)
	if err != nil {
		return false, zerr.With(zerr.With(models.ErrInvalidVersion, "version", v), "cause", err.Error())
	}
	return ss.Check(pv), nil
}

// npmOperators maps PEP 440 style operators onto Masterminds constraint syntax
var npmOperators = map[models.Operator]string{
	models.OpEqual:      "=",
	models.OpArbitrary:  "=",
	models.OpCompatible: "~",
}

func npmSatisfies(v string, specs models.Specifiers) (bool, error) {
	parts := make([]string, len(specs))
	for i, s := range specs {
		op, ok := npmOperators[s.Operator]
		if !ok {
			op = string(s.Operator)
		}
		parts[i] = op + s.Version
	}
	constraint := strings.Join(parts, ", ")

	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, zerr.With(zerr.With(models.ErrInvalidVersion, "specifier", constraint), "cause", err.Error())
	}
	sv, err := semver.NewVersion(v)
	if err != nil {
		return false, zerr.With(zerr.With(models.ErrInvalidVersion, "version", v), "cause", err.Error())
	}
	return c.Check(sv), nil
}

func goSatisfies(v string, specs models.Specifiers) (bool, error) {
	for _, s := range specs {
		c, err := Compare(models.EcosystemGo, v, s.Version)
		if err != nil {
			return false, err
		}

		var ok bool
		switch s.Operator {
		case models.OpEqual, models.OpArbitrary:
			ok = c == 0
		case models.OpNotEqual:
			ok = c != 0
		case models.OpLess:
			ok = c < 0
		case models.OpLessEqual:
			ok = c <= 0
		case models.OpGreater:
			ok = c > 0
		case models.OpGreaterEqual, models.OpCompatible:
			ok = c >= 0
		default:
			return false, zerr.With(models.ErrInvalidVersion, "operator", string(s.Operator))
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
