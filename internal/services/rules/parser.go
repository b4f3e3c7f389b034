package rules

import "fmt"

// AST node types. The interpreter walks these directly; there is no
// compilation step because rule strings are short and evaluated in a
// tight per-period loop where map lookups dominate anyway.
type exprNode interface{}

type numberNode float64

type stringNode string

type boolNode bool

// pathNode is a bare identifier or a dotted namespace path such as
// bonds.A.balance.
type pathNode []string

type callNode struct {
	name string
	args []exprNode
}

type unaryNode struct {
	op      tokenType // tokMinus, tokPlus, tokNot
	operand exprNode
}

type binaryNode struct {
	op    tokenType
	left  exprNode
	right exprNode
}

type parser struct {
	toks []token
	pos  int
}

func parse(input string) (exprNode, error) {
	toks, err := lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().typ != tokEOF {
		return nil, fmt.Errorf("unexpected %s after expression", p.peek())
	}
	return node, nil
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.typ != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) expect(typ tokenType, what string) (token, error) {
	t := p.next()
	if t.typ != typ {
		return token{}, fmt.Errorf("expected %s, found %s", what, t)
	}
	return t, nil
}

func (p *parser) parseOr() (exprNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().typ == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: tokOr, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (exprNode, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().typ == tokAnd {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: tokAnd, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (exprNode, error) {
	if p.peek().typ == tokNot {
		p.next()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return unaryNode{op: tokNot, operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (exprNode, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		op := p.peek().typ
		switch op {
		case tokLT, tokLE, tokGT, tokGE, tokEQ, tokNE:
			p.next()
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = binaryNode{op: op, left: left, right: right}
		default:
			return left, nil
		}
	}
}

func (p *parser) parseAdditive() (exprNode, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		op := p.peek().typ
		if op != tokPlus && op != tokMinus {
			return left, nil
		}
		p.next()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, left: left, right: right}
	}
}

func (p *parser) parseMultiplicative() (exprNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op := p.peek().typ
		if op != tokStar && op != tokSlash {
			return left, nil
		}
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, left: left, right: right}
	}
}

func (p *parser) parseUnary() (exprNode, error) {
	switch p.peek().typ {
	case tokMinus, tokPlus:
		op := p.next().typ
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unaryNode{op: op, operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (exprNode, error) {
	t := p.next()
	switch t.typ {
	case tokNumber:
		return numberNode(t.num), nil
	case tokString:
		return stringNode(t.text), nil
	case tokTrue:
		return boolNode(true), nil
	case tokFalse:
		return boolNode(false), nil
	case tokLParen:
		node, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, `")"`); err != nil {
			return nil, err
		}
		return node, nil
	case tokIdent:
		// Function call on a bare identifier
		if p.peek().typ == tokLParen {
			p.next()
			var args []exprNode
			if p.peek().typ != tokRParen {
				for {
					arg, err := p.parseOr()
					if err != nil {
						return nil, err
					}
					args = append(args, arg)
					if p.peek().typ != tokComma {
						break
					}
					p.next()
				}
			}
			if _, err := p.expect(tokRParen, `")"`); err != nil {
				return nil, err
			}
			return callNode{name: t.text, args: args}, nil
		}

		// Dotted namespace path
		path := pathNode{t.text}
		for p.peek().typ == tokDot {
			p.next()
			seg, err := p.expect(tokIdent, "attribute name")
			if err != nil {
				return nil, err
			}
			path = append(path, seg.text)
		}
		return path, nil
	default:
		return nil, fmt.Errorf("unexpected %s", t)
	}
}
