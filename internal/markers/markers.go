// Package markers parses and evaluates PEP 508 environment markers such as
// `python_version >= "3.8" and extra == "test"`.
package markers

import (
	"strings"

	"github.com/ethanolivertroy/reqcheck/internal/models"
	"github.com/ethanolivertroy/reqcheck/internal/version"
	"go.trai.ch/zerr"
)

// Environment holds marker variable values for the target interpreter
type Environment map[string]string

// NewEnvironment builds a CPython environment for the given version and platform
func NewEnvironment(pythonVersion, sysPlatform string) Environment {
	short := pythonVersion
	if parts := strings.Split(pythonVersion, "."); len(parts) > 2 {
		short = strings.Join(parts[:2], ".")
	}
	full := pythonVersion
	if strings.Count(full, ".") == 1 {
		full += ".0"
	}

	osName, system := "posix", "Linux"
	switch sysPlatform {
	case "win32":
		osName, system = "nt", "Windows"
	case "darwin":
		system = "Darwin"
	}

	return Environment{
		"os_name":                        osName,
		"sys_platform":                   sysPlatform,
		"platform_system":                system,
		"platform_machine":               "x86_64",
		"platform_release":               "",
		"platform_version":               "",
		"platform_python_implementation": "CPython",
		"implementation_name":            "cpython",
		"implementation_version":         full,
		"python_version":                 short,
		"python_full_version":            full,
		"extra":                          "",
	}
}

// With returns a copy of env with extra set
func (env Environment) With(extra string) Environment {
	out := make(Environment, len(env))
	for k, v := range env {
		out[k] = v
	}
	out["extra"] = extra
	return out
}

// versionVariables compare with PEP 440 semantics rather than as strings
var versionVariables = map[string]bool{
	"python_version":         true,
	"python_full_version":    true,
	"implementation_version": true,
}

// Expr is a parsed marker expression
type Expr interface {
	Eval(env Environment) (bool, error)
}

type orExpr struct{ left, right Expr }

func (e orExpr) Eval(env Environment) (bool, error) {
	l, err := e.left.Eval(env)
	if err != nil || l {
		return l, err
	}
	return e.right.Eval(env)
}

type andExpr struct{ left, right Expr }

func (e andExpr) Eval(env Environment) (bool, error) {
	l, err := e.left.Eval(env)
	if err != nil || !l {
		return false, err
	}
	return e.right.Eval(env)
}

type operand struct {
	value    string
	variable bool
}

func (o operand) resolve(env Environment) (string, error) {
	if !o.variable {
		return o.value, nil
	}
	v, ok := env[o.value]
	if !ok {
		return "", zerr.With(models.ErrInvalidMarker, "variable", o.value)
	}
	return v, nil
}

type compareExpr struct {
	left, right operand
	op          string
}

func (e compareExpr) Eval(env Environment) (bool, error) {
	l, err := e.left.resolve(env)
	if err != nil {
		return false, err
	}
	r, err := e.right.resolve(env)
	if err != nil {
		return false, err
	}

	// Extras are compared by their normalized names.
	if e.left.value == "extra" || e.right.value == "extra" {
		l, r = models.NormalizeName(l), models.NormalizeName(r)
	}

	switch e.op {
	case "in":
		return strings.Contains(r, l), nil
	case "not in":
		return !strings.Contains(r, l), nil
	}

	if (versionVariables[e.left.value] && e.left.variable) || (versionVariables[e.right.value] && e.right.variable) {
		if version.Valid(models.EcosystemPyPI, l) == nil && version.Valid(models.EcosystemPyPI, r) == nil {
			spec := models.Specifier{Operator: models.Operator(e.op), Version: r}
			return version.Satisfies(models.EcosystemPyPI, l, models.Specifiers{spec})
		}
	}

	switch e.op {
	case "==", "===":
		return l == r, nil
	case "!=":
		return l != r, nil
	case "<":
		return l < r, nil
	case "<=":
		return l <= r, nil
	case ">":
		return l > r, nil
	case ">=":
		return l >= r, nil
	}
	return false, zerr.With(models.ErrInvalidMarker, "operator", e.op)
}

// Evaluate parses marker and evaluates it against env
func Evaluate(marker string, env Environment) (bool, error) {
	if strings.TrimSpace(marker) == "" {
		return true, nil
	}
	expr, err := Parse(marker)
	if err != nil {
		return false, err
	}
	return expr.Eval(env)
}

// Extras returns the extra names a marker tests for with `extra == "..."`
func Extras(marker string) []string {
	expr, err := Parse(marker)
	if err != nil {
		return nil
	}

	var out []string
	var walk func(Expr)
	walk = func(e Expr) {
		switch x := e.(type) {
		case orExpr:
			walk(x.left)
			walk(x.right)
		case andExpr:
			walk(x.left)
			walk(x.right)
		case compareExpr:
			if x.op != "==" {
				return
			}
			if x.left.variable && x.left.value == "extra" && !x.right.variable {
				out = append(out, models.NormalizeName(x.right.value))
			} else if x.right.variable && x.right.value == "extra" && !x.left.variable {
				out = append(out, models.NormalizeName(x.left.value))
			}
		}
	}
	walk(expr)
	return out
}
