// Package expr evaluates the small arithmetic expressions users type into
// manual rate and weight fields, e.g. "12+15+30". It is a total function
// over strings: malformed input evaluates to 0, never an error or a panic.
package expr

import (
	"strconv"
	"strings"
)

// Evaluate parses and evaluates an arithmetic expression over + - * / and
// parentheses with standard precedence. Any character outside
// [0-9.+-*/()] is discarded before tokenizing. Division by zero yields 0
// for that sub-term. Unary minus is not supported: a leading '-' is only
// ever a binary operator, so "-5" evaluates to 0. Malformed or empty input
// evaluates to 0.
func Evaluate(input string) float64 {
	tokens := tokenize(sanitize(input))
	if len(tokens) == 0 {
		return 0
	}
	p := &parser{tokens: tokens}
	value, ok := p.expression()
	if !ok || p.pos != len(p.tokens) {
		return 0
	}
	return value
}

func sanitize(input string) string {
	var b strings.Builder
	for _, r := range input {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '+' || r == '-' || r == '*' || r == '/' || r == '(' || r == ')':
			b.WriteRune(r)
		}
	}
	return b.String()
}

func tokenize(input string) []string {
	var tokens []string
	i := 0
	for i < len(input) {
		c := input[i]
		if c >= '0' && c <= '9' || c == '.' {
			j := i
			for j < len(input) && (input[j] >= '0' && input[j] <= '9' || input[j] == '.') {
				j++
			}
			tokens = append(tokens, input[i:j])
			i = j
			continue
		}
		tokens = append(tokens, string(c))
		i++
	}
	return tokens
}

type parser struct {
	tokens []string
	pos    int
}

func (p *parser) peek() string {
	if p.pos >= len(p.tokens) {
		return ""
	}
	return p.tokens[p.pos]
}

// expression = term (('+'|'-') term)*
func (p *parser) expression() (float64, bool) {
	value, ok := p.term()
	if !ok {
		return 0, false
	}
	for {
		op := p.peek()
		if op != "+" && op != "-" {
			return value, true
		}
		p.pos++
		rhs, ok := p.term()
		if !ok {
			return 0, false
		}
		if op == "+" {
			value += rhs
		} else {
			value -= rhs
		}
	}
}

// term = factor (('*'|'/') factor)*
func (p *parser) term() (float64, bool) {
	value, ok := p.factor()
	if !ok {
		return 0, false
	}
	for {
		op := p.peek()
		if op != "*" && op != "/" {
			return value, true
		}
		p.pos++
		rhs, ok := p.factor()
		if !ok {
			return 0, false
		}
		if op == "*" {
			value *= rhs
		} else if rhs == 0 {
			// Division by zero collapses the sub-term to 0.
			value = 0
		} else {
			value /= rhs
		}
	}
}

// factor = number | '(' expression ')'
func (p *parser) factor() (float64, bool) {
	tok := p.peek()
	if tok == "(" {
		p.pos++
		value, ok := p.expression()
		if !ok || p.peek() != ")" {
			return 0, false
		}
		p.pos++
		return value, true
	}
	value, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, false
	}
	p.pos++
	return value, true
}
