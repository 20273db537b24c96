// Package version compares and matches versions for each supported ecosystem.
//
// PyPI versions follow PEP 440, Go module versions follow semantic import
// versioning and npm versions follow SemVer 2.0.
package version

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	pep440 "github.com/aquasecurity/go-pep440-version"
	"github.com/ethanolivertroy/reqcheck/internal/models"
	gosemver "golang.org/x/mod/semver"
	"go.trai.ch/zerr"
)

// Valid returns an error if v is not a valid version in the ecosystem
func Valid(eco models.Ecosystem, v string) error {
	switch eco {
	case models.EcosystemGo:
		if !gosemver.IsValid(goVersion(v)) {
			return zerr.With(models.ErrInvalidVersion, "version", v)
		}
	case models.EcosystemNpm:
		if _, err := semver.NewVersion(v); err != nil {
			return zerr.With(zerr.With(models.ErrInvalidVersion, "version", v), "cause", err.Error())
		}
	default:
		if _, err := pep440.Parse(v); err != nil {
			return zerr.With(zerr.With(models.ErrInvalidVersion, "version", v), "cause", err.Error())
		}
	}
	return nil
}

// Compare returns -1, 0 or +1 depending on whether a < b, a == b or a > b
func Compare(eco models.Ecosystem, a, b string) (int, error) {
	switch eco {
	case models.EcosystemGo:
		if err := Valid(eco, a); err != nil {
			return 0, err
		}
		if err := Valid(eco, b); err != nil {
			return 0, err
		}
		return gosemver.Compare(goVersion(a), goVersion(b)), nil
	case models.EcosystemNpm:
		va, err := semver.NewVersion(a)
		if err != nil {
			return 0, zerr.With(models.ErrInvalidVersion, "version", a)
		}
		vb, err := semver.NewVersion(b)
		if err != nil {
			return 0, zerr.With(models.ErrInvalidVersion, "version", b)
		}
		return va.Compare(vb), nil
	default:
		va, err := pep440.Parse(a)
		if err != nil {
			return 0, zerr.With(models.ErrInvalidVersion, "version", a)
		}
		vb, err := pep440.Parse(b)
		if err != nil {
			return 0, zerr.With(models.ErrInvalidVersion, "version", b)
		}
		return va.Compare(vb), nil
	}
}

// IsPreRelease reports whether v is a pre-release or development version
func IsPreRelease(eco models.Ecosystem, v string) bool {
	switch eco {
	case models.EcosystemGo:
		return gosemver.Prerelease(goVersion(v)) != ""
	case models.EcosystemNpm:
		sv, err := semver.NewVersion(v)
		return err == nil && sv.Prerelease() != ""
	default:
		pv, err := pep440.Parse(v)
		return err == nil && pv.IsPreRelease()
	}
}

// Sort sorts versions ascending, dropping the ones that do not parse
func Sort(eco models.Ecosystem, versions []string) []string {
	valid := make([]string, 0, len(versions))
	for _, v := range versions {
		if Valid(eco, v) == nil {
			valid = append(valid, v)
		}
	}

	sort.SliceStable(valid, func(i, j int) bool {
		c, _ := Compare(eco, valid[i], valid[j])
		return c < 0
	})
	return valid
}

// releasePattern captures the optional epoch and release segments of a PEP 440 version
var releasePattern = regexp.MustCompile(`^\s*v?(?:(\d+)!)?(\d+(?:\.\d+)*)`)

// release returns the numeric release segments of a PEP 440 version
func release(v string) ([]int, bool) {
	m := releasePattern.FindStringSubmatch(strings.ToLower(v))
	if m == nil {
		return nil, false
	}

	parts := strings.Split(m[2], ".")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, false
		}
		out[i] = n
	}
	return out, true
}

// bump returns the version that follows the first n release segments,
// keeping the epoch, e.g. bump("1.4.5", 2) == "1.5" and bump("1!2.0", 1) == "1!3".
func bump(v string, n int) (string, bool) {
	rel, ok := release(v)
	if !ok || n < 1 || n > len(rel) {
		return "", false
	}
	epoch := ""
	if m := releasePattern.FindStringSubmatch(strings.ToLower(v)); m != nil && m[1] != "" {
		epoch = m[1] + "!"
	}

	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = strconv.Itoa(rel[i])
	}
	last, _ := strconv.Atoi(parts[n-1])
	parts[n-1] = strconv.Itoa(last + 1)
	return epoch + strings.Join(parts, "."), true
}

func goVersion(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}
