package formula

import (
	"fmt"
	"strings"

	"gocomp/domain/core"
)

// Formula is the parsed abstract syntax tree of a model-side specification
// such as "~ type + batch" or "~ 0 + type + (1 | donor)". Resolved once into
// a design schema; never re-parsed at sampling time.
type Formula struct {
	Source    string
	Intercept bool
	Terms     []Term
	Random    *RandomTerm
}

// Term is one fixed-effect covariate reference in declaration order
type Term struct {
	Covariate string
}

// RandomTerm is a "(1 | factor)" random-intercept declaration
type RandomTerm struct {
	Factor string
}

// Covariates returns the fixed-effect covariate names in declaration order
func (f *Formula) Covariates() []string {
	names := make([]string, len(f.Terms))
	for i, t := range f.Terms {
		names[i] = t.Covariate
	}
	return names
}

// HasRandom reports whether the formula declares a random intercept
func (f *Formula) HasRandom() bool { return f.Random != nil }

// String renders the canonical form of the formula
func (f *Formula) String() string {
	var parts []string
	if !f.Intercept {
		parts = append(parts, "0")
	} else if len(f.Terms) == 0 {
		parts = append(parts, "1")
	}
	for _, t := range f.Terms {
		parts = append(parts, t.Covariate)
	}
	if f.Random != nil {
		parts = append(parts, fmt.Sprintf("(1 | %s)", f.Random.Factor))
	}
	return "~ " + strings.Join(parts, " + ")
}

type tokenKind int

const (
	tokTilde tokenKind = iota
	tokPlus
	tokLParen
	tokRParen
	tokBar
	tokZero
	tokOne
	tokIdent
)

type token struct {
	kind tokenKind
	text string
}

func lex(src string) ([]token, error) {
	var toks []token
	runes := []rune(src)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case r == ' ' || r == '\t':
			i++
		case r == '~':
			toks = append(toks, token{tokTilde, "~"})
			i++
		case r == '+':
			toks = append(toks, token{tokPlus, "+"})
			i++
		case r == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case r == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case r == '|':
			toks = append(toks, token{tokBar, "|"})
			i++
		case r == '0':
			toks = append(toks, token{tokZero, "0"})
			i++
		case r == '1':
			toks = append(toks, token{tokOne, "1"})
			i++
		case isIdentStart(r):
			j := i
			for j < len(runes) && isIdentPart(runes[j]) {
				j++
			}
			toks = append(toks, token{tokIdent, string(runes[i:j])})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q", r)
		}
	}
	return toks, nil
}

func isIdentStart(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || r == '.' || (r >= '0' && r <= '9')
}

// Parse builds a Formula from its textual form.
//
// Grammar: "~" followed by "+"-separated terms. A leading "1" keeps the
// intercept explicit, a leading "0" removes it, an identifier adds a
// covariate, and "(1 | factor)" adds a random intercept. Anything else is
// core.ErrFormula.
func Parse(src string) (*Formula, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, core.NewFormulaError(src, err.Error())
	}
	if len(toks) == 0 {
		return nil, core.NewFormulaError(src, "empty formula")
	}
	if toks[0].kind != tokTilde {
		return nil, core.NewFormulaError(src, "formula must start with '~'")
	}
	toks = toks[1:]
	if len(toks) == 0 {
		return nil, core.NewFormulaError(src, "missing right-hand side")
	}

	f := &Formula{Source: src, Intercept: true}
	seen := make(map[string]bool)

	for pos := 0; len(toks) > 0; pos++ {
		tk := toks[0]
		switch tk.kind {
		case tokZero:
			if pos != 0 {
				return nil, core.NewFormulaError(src, "'0' must be the leading term")
			}
			f.Intercept = false
			toks = toks[1:]
		case tokOne:
			if pos != 0 {
				return nil, core.NewFormulaError(src, "'1' must be the leading term")
			}
			toks = toks[1:]
		case tokIdent:
			if seen[tk.text] {
				return nil, core.NewFormulaError(src, fmt.Sprintf("duplicate covariate %q", tk.text))
			}
			seen[tk.text] = true
			f.Terms = append(f.Terms, Term{Covariate: tk.text})
			toks = toks[1:]
		case tokLParen:
			rest, rt, err := parseRandom(src, toks)
			if err != nil {
				return nil, err
			}
			if f.Random != nil {
				return nil, core.NewFormulaError(src, "multiple random-intercept terms")
			}
			f.Random = rt
			toks = rest
		default:
			return nil, core.NewFormulaError(src, fmt.Sprintf("unexpected token %q", tk.text))
		}

		if len(toks) == 0 {
			break
		}
		if toks[0].kind != tokPlus {
			return nil, core.NewFormulaError(src, fmt.Sprintf("expected '+', found %q", toks[0].text))
		}
		toks = toks[1:]
		if len(toks) == 0 {
			return nil, core.NewFormulaError(src, "trailing '+'")
		}
	}

	if !f.Intercept && len(f.Terms) == 0 {
		return nil, core.NewFormulaError(src, "no-intercept formula needs at least one covariate")
	}
	return f, nil
}

// parseRandom consumes "(1 | factor)" from the head of toks
func parseRandom(src string, toks []token) ([]token, *RandomTerm, error) {
	if len(toks) < 5 {
		return nil, nil, core.NewFormulaError(src, "incomplete random-intercept term")
	}
	if toks[1].kind != tokOne {
		return nil, nil, core.NewFormulaError(src, "only random intercepts '(1 | factor)' are supported")
	}
	if toks[2].kind != tokBar {
		return nil, nil, core.NewFormulaError(src, "expected '|' in random-intercept term")
	}
	if toks[3].kind != tokIdent {
		return nil, nil, core.NewFormulaError(src, "random-intercept factor must be a covariate name")
	}
	if toks[4].kind != tokRParen {
		return nil, nil, core.NewFormulaError(src, "unclosed random-intercept term")
	}
	return toks[5:], &RandomTerm{Factor: toks[3].text}, nil
}
