// Package condeval evaluates the small subset of DynamoDB condition
// expression syntax paramz emits: attribute_not_exists(name), comparisons
// (=, <, >, <=, >=) against a placeholder or bare value, IN lists, and
// AND/OR/parentheses composition with name (#alias) and value (:ph)
// substitution. It is shared by the in-memory and SQL kvstore
// implementations so neither has to embed its own expression parser.
package condeval

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ndlib/rstore/kvstore"
)

// Eval reports whether expr holds against attrs, resolving #name aliases
// and :value placeholders. An empty expr always evaluates true (an
// unconditional write).
func Eval(expr string, attrs kvstore.Attributes, names map[string]string, values map[string]interface{}) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true, nil
	}
	p := &parser{toks: tokenize(expr), attrs: attrs, names: names, values: values}
	ok, err := p.parseOr()
	if err != nil {
		return false, err
	}
	if p.pos != len(p.toks) {
		return false, fmt.Errorf("condeval: unexpected trailing token %q", p.toks[p.pos])
	}
	return ok, nil
}

type parser struct {
	toks   []string
	pos    int
	attrs  kvstore.Attributes
	names  map[string]string
	values map[string]interface{}
}

func (p *parser) peek() string {
	if p.pos >= len(p.toks) {
		return ""
	}
	return p.toks[p.pos]
}

func (p *parser) next() string {
	t := p.peek()
	p.pos++
	return t
}

func (p *parser) parseOr() (bool, error) {
	left, err := p.parseAnd()
	if err != nil {
		return false, err
	}
	for strings.EqualFold(p.peek(), "OR") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return false, err
		}
		left = left || right
	}
	return left, nil
}

func (p *parser) parseAnd() (bool, error) {
	left, err := p.parseAtom()
	if err != nil {
		return false, err
	}
	for strings.EqualFold(p.peek(), "AND") {
		p.next()
		right, err := p.parseAtom()
		if err != nil {
			return false, err
		}
		left = left && right
	}
	return left, nil
}

func (p *parser) parseAtom() (bool, error) {
	if p.peek() == "(" {
		p.next()
		v, err := p.parseOr()
		if err != nil {
			return false, err
		}
		if p.next() != ")" {
			return false, fmt.Errorf("condeval: expected )")
		}
		return v, nil
	}
	if strings.EqualFold(p.peek(), "attribute_not_exists") {
		p.next()
		if p.next() != "(" {
			return false, fmt.Errorf("condeval: expected ( after attribute_not_exists")
		}
		name := p.resolveName(p.next())
		if p.next() != ")" {
			return false, fmt.Errorf("condeval: expected )")
		}
		_, ok := p.attrs[name]
		return !ok, nil
	}
	if strings.EqualFold(p.peek(), "attribute_exists") {
		p.next()
		if p.next() != "(" {
			return false, fmt.Errorf("condeval: expected ( after attribute_exists")
		}
		name := p.resolveName(p.next())
		if p.next() != ")" {
			return false, fmt.Errorf("condeval: expected )")
		}
		_, ok := p.attrs[name]
		return ok, nil
	}

	// name OP value | name IN (v1, v2, ...)
	name := p.resolveName(p.next())
	actual, present := p.attrs[name]
	op := p.next()

	if strings.EqualFold(op, "IN") {
		if p.next() != "(" {
			return false, fmt.Errorf("condeval: expected ( after IN")
		}
		var match bool
		for {
			tok := p.next()
			if tok == ")" {
				break
			}
			if tok == "," {
				continue
			}
			want := p.resolveValue(tok)
			if present && compareEqual(actual, want) {
				match = true
			}
		}
		return match, nil
	}

	switch op {
	case "=":
		want := p.resolveValue(p.next())
		return present && compareEqual(actual, want), nil
	case "<":
		want := p.resolveValue(p.next())
		return present && compareLess(actual, want), nil
	case ">":
		want := p.resolveValue(p.next())
		return present && compareLess(want, actual), nil
	case "<=":
		want := p.resolveValue(p.next())
		return present && (compareLess(actual, want) || compareEqual(actual, want)), nil
	case ">=":
		want := p.resolveValue(p.next())
		return present && (compareLess(want, actual) || compareEqual(actual, want)), nil
	default:
		return false, fmt.Errorf("condeval: expected comparison operator, got %q", op)
	}
}

func (p *parser) resolveName(tok string) string {
	if strings.HasPrefix(tok, "#") {
		if real, ok := p.names[tok]; ok {
			return real
		}
	}
	return tok
}

func (p *parser) resolveValue(tok string) interface{} {
	if strings.HasPrefix(tok, ":") {
		if v, ok := p.values[tok]; ok {
			return v
		}
		return nil
	}
	if n, err := strconv.ParseInt(tok, 10, 64); err == nil {
		return n
	}
	return strings.Trim(tok, "\"")
}

func compareEqual(a, b interface{}) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func compareLess(a, b interface{}) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af < bf
	}
	return fmt.Sprintf("%v", a) < fmt.Sprintf("%v", b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func tokenize(expr string) []string {
	var toks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			toks = append(toks, cur.String())
			cur.Reset()
		}
	}
	runes := []rune(expr)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '(' || r == ')' || r == ',':
			flush()
			toks = append(toks, string(r))
		case r == ' ' || r == '\t' || r == '\n':
			flush()
		case r == '<' || r == '>':
			flush()
			if i+1 < len(runes) && runes[i+1] == '=' {
				toks = append(toks, string(r)+"=")
				i++
			} else {
				toks = append(toks, string(r))
			}
		case r == '=':
			flush()
			toks = append(toks, "=")
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return toks
}
