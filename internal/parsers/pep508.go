package parsers

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethanolivertroy/reqcheck/internal/markers"
	"github.com/ethanolivertroy/reqcheck/internal/models"
)

// namePattern matches a PEP 508 distribution name at the start of a string
var namePattern = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9._-]*[A-Za-z0-9])?`)

// versionLiteral matches the characters allowed in a version operand
var versionLiteral = regexp.MustCompile(`^[A-Za-z0-9_.*+!-]+$`)

// ParseRequirement parses a PEP 508 requirement string such as
// `pandas>=2.0.0`, `flask[async] (>=2.0, <3)` or `pkg @ https://... ; python_version < "3.9"`.
func ParseRequirement(spec string) (models.Requirement, error) {
	raw := spec
	spec = strings.TrimSpace(spec)

	req := models.Requirement{Ecosystem: models.EcosystemPyPI, Raw: raw}

	name := namePattern.FindString(spec)
	if name == "" {
		return req, invalid(raw, "missing package name")
	}
	req.Name = name
	rest := strings.TrimLeft(spec[len(name):], " \t")

	if strings.HasPrefix(rest, "[") {
		end := strings.Index(rest, "]")
		if end < 0 {
			return req, invalid(raw, "unterminated extras")
		}
		for _, extra := range strings.Split(rest[1:end], ",") {
			extra = strings.TrimSpace(extra)
			if extra == "" {
				continue
			}
			if namePattern.FindString(extra) != extra {
				return req, invalid(raw, "invalid extra "+extra)
			}
			req.Extras = append(req.Extras, extra)
		}
		rest = strings.TrimLeft(rest[end+1:], " \t")
	}

	if strings.HasPrefix(rest, "@") {
		url := strings.TrimSpace(rest[1:])
		if idx := strings.Index(url, " ;"); idx >= 0 {
			req.Marker = strings.TrimSpace(url[idx+2:])
			url = strings.TrimSpace(url[:idx])
			if req.Marker == "" {
				return req, invalid(raw, "empty environment marker")
			}
		}
		if !strings.Contains(url, ":") {
			return req, invalid(raw, "direct reference is not a URL")
		}
		req.URL = url
		return req, validateMarker(req, raw)
	}

	if idx := strings.Index(rest, ";"); idx >= 0 {
		req.Marker = strings.TrimSpace(rest[idx+1:])
		rest = strings.TrimSpace(rest[:idx])
		if req.Marker == "" {
			return req, invalid(raw, "empty environment marker")
		}
	}

	if strings.HasPrefix(rest, "(") {
		if !strings.HasSuffix(rest, ")") {
			return req, invalid(raw, "unbalanced parentheses")
		}
		rest = strings.TrimSpace(rest[1 : len(rest)-1])
	}

	if rest != "" {
		specs, err := ParseSpecifiers(rest)
		if err != nil {
			return req, err
		}
		req.Specifiers = specs
	}

	return req, validateMarker(req, raw)
}

// ParseSpecifiers parses a comma-separated specifier list like ">=1.2, <2"
func ParseSpecifiers(s string) (models.Specifiers, error) {
	var out models.Specifiers
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, invalid(s, "empty specifier")
		}

		spec, err := parseSpecifier(part)
		if err != nil {
			return nil, err
		}
		out = append(out, spec)
	}
	return out, nil
}

func parseSpecifier(part string) (models.Specifier, error) {
	for _, op := range models.Operators {
		if !strings.HasPrefix(part, string(op)) {
			continue
		}
		v := strings.TrimSpace(part[len(op):])
		if v == "" {
			return models.Specifier{}, invalid(part, "missing version after "+string(op))
		}
		if op != models.OpArbitrary && !versionLiteral.MatchString(v) {
			return models.Specifier{}, invalid(part, "malformed version "+v)
		}
		if strings.Contains(v, "*") && op != models.OpEqual && op != models.OpNotEqual {
			return models.Specifier{}, invalid(part, "wildcard only allowed with == and !=")
		}
		if strings.Contains(v, "*") && !strings.HasSuffix(v, ".*") {
			return models.Specifier{}, invalid(part, "wildcard must be a trailing .*")
		}
		return models.Specifier{Operator: op, Version: v}, nil
	}
	return models.Specifier{}, invalid(part, "missing comparator")
}

func validateMarker(req models.Requirement, raw string) error {
	if req.Marker == "" {
		return nil
	}
	if _, err := markers.Parse(req.Marker); err != nil {
		return invalid(raw, "invalid environment marker "+strconv.Quote(req.Marker))
	}
	return nil
}

// SyntaxError describes why a requirement string was rejected
type SyntaxError struct {
	Input  string
	Reason string
}

func (e *SyntaxError) Error() string {
	return models.ErrInvalidRequirement.Error() + " " + strconv.Quote(e.Input) + ": " + e.Reason
}

func (e *SyntaxError) Unwrap() error {
	return models.ErrInvalidRequirement
}

func invalid(raw, reason string) error {
	return &SyntaxError{Input: raw, Reason: reason}
}

// Reason extracts the human-readable reason from a parse error
func Reason(err error) string {
	var syntaxErr *SyntaxError
	if errors.As(err, &syntaxErr) {
		return syntaxErr.Reason
	}
	return err.Error()
}
