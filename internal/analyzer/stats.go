package analyzer

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// reduceStat collapses matches (in file-scan order) according to suffix,
// the sample standard deviation using the n-1 denominator for "_std"
// (spec §4.5).
func reduceStat(suffix string, matches []string) (string, error) {
	switch suffix {
	case "_first":
		return matches[0], nil
	case "_last":
		return matches[len(matches)-1], nil
	case "_cnt":
		return strconv.Itoa(len(matches)), nil
	}

	nums := make([]float64, 0, len(matches))
	for _, m := range matches {
		v, err := strconv.ParseFloat(m, 64)
		if err != nil {
			return "", fmt.Errorf("analyzer: value %q is not numeric, required for suffix %q", m, suffix)
		}
		nums = append(nums, v)
	}

	switch suffix {
	case "_min":
		return formatFloat(minOf(nums)), nil
	case "_max":
		return formatFloat(maxOf(nums)), nil
	case "_sum":
		return formatFloat(sumOf(nums)), nil
	case "_avg":
		return formatFloat(sumOf(nums) / float64(len(nums))), nil
	case "_std":
		return formatFloat(stddev(nums)), nil
	default:
		return "", fmt.Errorf("analyzer: unknown statistical suffix %q", suffix)
	}
}

func minOf(nums []float64) float64 {
	m := nums[0]
	for _, v := range nums[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(nums []float64) float64 {
	m := nums[0]
	for _, v := range nums[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func sumOf(nums []float64) float64 {
	var s float64
	for _, v := range nums {
		s += v
	}
	return s
}

// stddev returns the sample standard deviation (n-1 denominator), or 0 when
// fewer than two samples are present.
func stddev(nums []float64) float64 {
	if len(nums) < 2 {
		return 0
	}
	mean := sumOf(nums) / float64(len(nums))
	var ss float64
	for _, v := range nums {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(nums)-1))
}

// evalArith evaluates a small arithmetic expression (+ - * / and parens)
// over float literals, enough to resolve a derived pattern once its
// $name references have been substituted with their numeric values.
func evalArith(expr string) (string, error) {
	p := &arithParser{toks: tokenizeArith(expr)}
	v, err := p.parseExpr()
	if err != nil {
		return "", fmt.Errorf("analyzer: derived expression %q: %w", expr, err)
	}
	if p.pos != len(p.toks) {
		return "", fmt.Errorf("analyzer: derived expression %q: trailing input", expr)
	}
	return formatFloat(v), nil
}

func tokenizeArith(s string) []string {
	var toks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			toks = append(toks, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		switch r {
		case '+', '-', '*', '/', '(', ')':
			flush()
			toks = append(toks, string(r))
		case ' ', '\t':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return toks
}

type arithParser struct {
	toks []string
	pos  int
}

func (p *arithParser) peek() string {
	if p.pos >= len(p.toks) {
		return ""
	}
	return p.toks[p.pos]
}

func (p *arithParser) next() string {
	t := p.peek()
	p.pos++
	return t
}

func (p *arithParser) parseExpr() (float64, error) {
	v, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for p.peek() == "+" || p.peek() == "-" {
		op := p.next()
		rhs, err := p.parseTerm()
		if err != nil {
			return 0, err
		}
		if op == "+" {
			v += rhs
		} else {
			v -= rhs
		}
	}
	return v, nil
}

func (p *arithParser) parseTerm() (float64, error) {
	v, err := p.parseFactor()
	if err != nil {
		return 0, err
	}
	for p.peek() == "*" || p.peek() == "/" {
		op := p.next()
		rhs, err := p.parseFactor()
		if err != nil {
			return 0, err
		}
		if op == "*" {
			v *= rhs
		} else {
			if rhs == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			v /= rhs
		}
	}
	return v, nil
}

func (p *arithParser) parseFactor() (float64, error) {
	tok := p.next()
	if tok == "(" {
		v, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		if p.next() != ")" {
			return 0, fmt.Errorf("missing closing ')'")
		}
		return v, nil
	}
	if tok == "-" {
		v, err := p.parseFactor()
		return -v, err
	}
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected token %q", tok)
	}
	return v, nil
}
