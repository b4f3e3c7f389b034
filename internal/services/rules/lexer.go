package rules

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type tokenType int

const (
	tokEOF tokenType = iota
	tokNumber
	tokString
	tokIdent
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokLT
	tokLE
	tokGT
	tokGE
	tokEQ
	tokNE
	tokAnd
	tokOr
	tokNot
	tokTrue
	tokFalse
	tokLParen
	tokRParen
	tokComma
	tokDot
)

type token struct {
	typ  tokenType
	num  float64
	text string // identifier name or string literal
	pos  int
}

func (t token) String() string {
	switch t.typ {
	case tokEOF:
		return "end of expression"
	case tokNumber:
		return strconv.FormatFloat(t.num, 'g', -1, 64)
	case tokString:
		return strconv.Quote(t.text)
	default:
		if t.text != "" {
			return t.text
		}
		return fmt.Sprintf("token(%d)", int(t.typ))
	}
}

// lex tokenizes a normalized expression. Errors carry the offending
// position for calculation-error messages.
func lex(input string) ([]token, error) {
	var toks []token
	i := 0
	n := len(input)
	for i < n {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c >= '0' && c <= '9' || c == '.' && i+1 < n && input[i+1] >= '0' && input[i+1] <= '9':
			start := i
			for i < n && (input[i] >= '0' && input[i] <= '9' || input[i] == '.') {
				i++
			}
			if i < n && (input[i] == 'e' || input[i] == 'E') {
				j := i + 1
				if j < n && (input[j] == '+' || input[j] == '-') {
					j++
				}
				if j < n && input[j] >= '0' && input[j] <= '9' {
					i = j
					for i < n && input[i] >= '0' && input[i] <= '9' {
						i++
					}
				}
			}
			f, err := strconv.ParseFloat(input[start:i], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q at position %d", input[start:i], start)
			}
			toks = append(toks, token{typ: tokNumber, num: f, pos: start})
		case c == '\'' || c == '"':
			quote := c
			start := i
			i++
			var sb strings.Builder
			for i < n && input[i] != quote {
				sb.WriteByte(input[i])
				i++
			}
			if i >= n {
				return nil, fmt.Errorf("unterminated string literal at position %d", start)
			}
			i++
			toks = append(toks, token{typ: tokString, text: sb.String(), pos: start})
		case isIdentStart(rune(c)):
			start := i
			for i < n && isIdentPart(rune(input[i])) {
				i++
			}
			word := input[start:i]
			typ := tokIdent
			switch word {
			case "and":
				typ = tokAnd
			case "or":
				typ = tokOr
			case "not":
				typ = tokNot
			case "true", "True":
				typ = tokTrue
			case "false", "False":
				typ = tokFalse
			}
			toks = append(toks, token{typ: typ, text: word, pos: start})
		default:
			start := i
			two := ""
			if i+1 < n {
				two = input[i : i+2]
			}
			switch {
			case two == "<=":
				toks = append(toks, token{typ: tokLE, text: "<=", pos: start})
				i += 2
			case two == ">=":
				toks = append(toks, token{typ: tokGE, text: ">=", pos: start})
				i += 2
			case two == "==":
				toks = append(toks, token{typ: tokEQ, text: "==", pos: start})
				i += 2
			case two == "!=":
				toks = append(toks, token{typ: tokNE, text: "!=", pos: start})
				i += 2
			case c == '<':
				toks = append(toks, token{typ: tokLT, text: "<", pos: start})
				i++
			case c == '>':
				toks = append(toks, token{typ: tokGT, text: ">", pos: start})
				i++
			case c == '+':
				toks = append(toks, token{typ: tokPlus, text: "+", pos: start})
				i++
			case c == '-':
				toks = append(toks, token{typ: tokMinus, text: "-", pos: start})
				i++
			case c == '*':
				toks = append(toks, token{typ: tokStar, text: "*", pos: start})
				i++
			case c == '/':
				toks = append(toks, token{typ: tokSlash, text: "/", pos: start})
				i++
			case c == '(':
				toks = append(toks, token{typ: tokLParen, text: "(", pos: start})
				i++
			case c == ')':
				toks = append(toks, token{typ: tokRParen, text: ")", pos: start})
				i++
			case c == ',':
				toks = append(toks, token{typ: tokComma, text: ",", pos: start})
				i++
			case c == '.':
				toks = append(toks, token{typ: tokDot, text: ".", pos: start})
				i++
			default:
				return nil, fmt.Errorf("unexpected character %q at position %d", string(c), start)
			}
		}
	}
	toks = append(toks, token{typ: tokEOF, pos: n})
	return toks, nil
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
