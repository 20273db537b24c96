package markers

import (
	"strings"
	"unicode"

	"github.com/ethanolivertroy/reqcheck/internal/models"
	"go.trai.ch/zerr"
)

type tokenKind int

const (
	tokVariable tokenKind = iota
	tokString
	tokOp
	tokAnd
	tokOr
	tokLParen
	tokRParen
)

type token struct {
	kind  tokenKind
	value string
}

var variables = map[string]bool{
	"os_name": true, "sys_platform": true, "platform_machine": true,
	"platform_python_implementation": true, "platform_release": true,
	"platform_system": true, "platform_version": true, "python_version": true,
	"python_full_version": true, "implementation_name": true,
	"implementation_version": true, "extra": true,
	// legacy dotted names from PEP 345
	"os.name": true, "sys.platform": true, "platform.version": true,
	"platform.machine": true, "platform.python_implementation": true,
	"python_implementation": true,
}

var legacyNames = map[string]string{
	"os.name":                        "os_name",
	"sys.platform":                   "sys_platform",
	"platform.version":               "platform_version",
	"platform.machine":               "platform_machine",
	"platform.python_implementation": "platform_python_implementation",
	"python_implementation":          "platform_python_implementation",
}

func tokenize(s string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen})
			i++
		case c == '"' || c == '\'':
			end := strings.IndexByte(s[i+1:], c)
			if end < 0 {
				return nil, zerr.With(models.ErrInvalidMarker, "marker", s)
			}
			toks = append(toks, token{kind: tokString, value: s[i+1 : i+1+end]})
			i += end + 2
		case strings.ContainsRune("<>=!~", rune(c)):
			j := i
			for j < len(s) && strings.ContainsRune("<>=!~", rune(s[j])) {
				j++
			}
			op := s[i:j]
			if !models.Operator(op).Valid() {
				return nil, zerr.With(models.ErrInvalidMarker, "operator", op)
			}
			toks = append(toks, token{kind: tokOp, value: op})
			i = j
		case unicode.IsLetter(rune(c)) || c == '_':
			j := i
			for j < len(s) && (unicode.IsLetter(rune(s[j])) || unicode.IsDigit(rune(s[j])) || s[j] == '_' || s[j] == '.') {
				j++
			}
			word := s[i:j]
			i = j
			switch word {
			case "and":
				toks = append(toks, token{kind: tokAnd})
			case "or":
				toks = append(toks, token{kind: tokOr})
			case "in":
				toks = append(toks, token{kind: tokOp, value: "in"})
			case "not":
				rest := strings.TrimLeft(s[i:], " \t")
				if !strings.HasPrefix(rest, "in") {
					return nil, zerr.With(models.ErrInvalidMarker, "marker", s)
				}
				i = len(s) - len(rest) + 2
				toks = append(toks, token{kind: tokOp, value: "not in"})
			default:
				if !variables[word] {
					return nil, zerr.With(models.ErrInvalidMarker, "variable", word)
				}
				if canonical, ok := legacyNames[word]; ok {
					word = canonical
				}
				toks = append(toks, token{kind: tokVariable, value: word})
			}
		default:
			return nil, zerr.With(models.ErrInvalidMarker, "marker", s)
		}
	}
	return toks, nil
}

type parser struct {
	toks []token
	pos  int
}

// Parse parses a marker expression
func Parse(marker string) (Expr, error) {
	toks, err := tokenize(marker)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	expr, err := p.parseOr()
	if err != nil {
		return nil, zerr.With(err, "marker", marker)
	}
	if p.pos != len(p.toks) {
		return nil, zerr.With(models.ErrInvalidMarker, "marker", marker)
	}
	return expr, nil
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokOr {
			return left, nil
		}
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orExpr{left: left, right: right}
	}
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokAnd {
			return left, nil
		}
		p.pos++
		right, err := p.parseAtom()
		if err != nil {
			return nil, err
		}
		left = andExpr{left: left, right: right}
	}
}

func (p *parser) parseAtom() (Expr, error) {
	t, ok := p.peek()
	if !ok {
		return nil, models.ErrInvalidMarker
	}

	if t.kind == tokLParen {
		p.pos++
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if t, ok := p.peek(); !ok || t.kind != tokRParen {
			return nil, models.ErrInvalidMarker
		}
		p.pos++
		return expr, nil
	}

	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	op, ok := p.peek()
	if !ok || op.kind != tokOp {
		return nil, models.ErrInvalidMarker
	}
	p.pos++
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return compareExpr{left: left, right: right, op: op.value}, nil
}

func (p *parser) parseOperand() (operand, error) {
	t, ok := p.peek()
	if !ok {
		return operand{}, models.ErrInvalidMarker
	}
	switch t.kind {
	case tokVariable:
		p.pos++
		return operand{value: t.value, variable: true}, nil
	case tokString:
		p.pos++
		return operand{value: t.value}, nil
	}
	return operand{}, models.ErrInvalidMarker
}
