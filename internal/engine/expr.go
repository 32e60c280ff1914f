package engine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Derived-node expressions form a small grammar: identifiers (refIds and
// aggregation names), numbers, durations, the four arithmetic operators, and
// function calls. Parsing produces an AST once; evaluation never re-scans the
// expression text.
//
//	expr   := term (("+" | "-") term)*
//	term   := factor (("*" | "/") factor)*
//	factor := NUMBER | DURATION | IDENT | IDENT "(" expr ("," expr)* ")" | "(" expr ")"

type exprNode interface {
	exprNode()
}

type identExpr struct {
	Name string
}

type numberExpr struct {
	Value float64
}

type durationExpr struct {
	Raw   string
	Value time.Duration
}

type binaryExpr struct {
	Op    byte
	Left  exprNode
	Right exprNode
}

type callExpr struct {
	Func string
	Args []exprNode
}

func (identExpr) exprNode()    {}
func (numberExpr) exprNode()   {}
func (durationExpr) exprNode() {}
func (binaryExpr) exprNode()   {}
func (callExpr) exprNode()     {}

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenNumber
	tokenDuration
	tokenOp
	tokenLParen
	tokenRParen
	tokenComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// ParseExpression parses a derived-node expression into its AST.
func ParseExpression(expression string) (exprNode, error) {
	tokens, err := lexExpression(expression)
	if err != nil {
		return nil, &ExpressionError{Expression: expression, Reason: err.Error()}
	}
	p := &exprParser{expression: expression, tokens: tokens}
	node, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokenEOF {
		return nil, p.errorf(tok, "unexpected %q", tok.text)
	}
	return node, nil
}

// ExtractRefs returns the sorted set of refIds an expression depends on.
func ExtractRefs(node exprNode) []string {
	set := map[string]struct{}{}
	collectRefs(node, set)
	refs := make([]string, 0, len(set))
	for ref := range set {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}

func collectRefs(node exprNode, set map[string]struct{}) {
	switch n := node.(type) {
	case identExpr:
		if validRefID(n.Name) {
			set[n.Name] = struct{}{}
		}
	case binaryExpr:
		collectRefs(n.Left, set)
		collectRefs(n.Right, set)
	case callExpr:
		for _, arg := range n.Args {
			collectRefs(arg, set)
		}
	}
}

func lexExpression(expression string) ([]token, error) {
	var tokens []token
	runes := []rune(expression)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			tokens = append(tokens, token{kind: tokenLParen, text: "(", pos: i})
			i++
		case r == ')':
			tokens = append(tokens, token{kind: tokenRParen, text: ")", pos: i})
			i++
		case r == ',':
			tokens = append(tokens, token{kind: tokenComma, text: ",", pos: i})
			i++
		case r == '+' || r == '-' || r == '*' || r == '/':
			tokens = append(tokens, token{kind: tokenOp, text: string(r), pos: i})
			i++
		case unicode.IsDigit(r):
			start := i
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			// A trailing unit letter makes this a duration literal (1h, 30m, 1d).
			if i < len(runes) && unicode.IsLetter(runes[i]) {
				for i < len(runes) && unicode.IsLetter(runes[i]) {
					i++
				}
				tokens = append(tokens, token{kind: tokenDuration, text: string(runes[start:i]), pos: start})
			} else {
				tokens = append(tokens, token{kind: tokenNumber, text: string(runes[start:i]), pos: start})
			}
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			tokens = append(tokens, token{kind: tokenIdent, text: string(runes[start:i]), pos: start})
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", string(r), i)
		}
	}
	tokens = append(tokens, token{kind: tokenEOF, pos: len(runes)})
	return tokens, nil
}

type exprParser struct {
	expression string
	tokens     []token
	index      int
}

func (p *exprParser) peek() token {
	return p.tokens[p.index]
}

func (p *exprParser) next() token {
	tok := p.tokens[p.index]
	if tok.kind != tokenEOF {
		p.index++
	}
	return tok
}

func (p *exprParser) errorf(tok token, format string, args ...any) error {
	reason := fmt.Sprintf(format, args...)
	return &ExpressionError{
		Expression: p.expression,
		Reason:     fmt.Sprintf("%s at position %d", reason, tok.pos),
	}
}

func (p *exprParser) parseExpr() (exprNode, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokenOp || (tok.text != "+" && tok.text != "-") {
			return left, nil
		}
		p.next()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = binaryExpr{Op: tok.text[0], Left: left, Right: right}
	}
}

func (p *exprParser) parseTerm() (exprNode, error) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokenOp || (tok.text != "*" && tok.text != "/") {
			return left, nil
		}
		p.next()
		right, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		left = binaryExpr{Op: tok.text[0], Left: left, Right: right}
	}
}

func (p *exprParser) parseFactor() (exprNode, error) {
	tok := p.next()
	switch tok.kind {
	case tokenNumber:
		value, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, p.errorf(tok, "invalid number %q", tok.text)
		}
		return numberExpr{Value: value}, nil

	case tokenDuration:
		duration, err := parseBucketDuration(tok.text)
		if err != nil {
			return nil, p.errorf(tok, "%s", err.Error())
		}
		return durationExpr{Raw: tok.text, Value: duration}, nil

	case tokenIdent:
		if p.peek().kind != tokenLParen {
			return identExpr{Name: tok.text}, nil
		}
		p.next()
		var args []exprNode
		if p.peek().kind != tokenRParen {
			for {
				arg, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				args = append(args, arg)
				if p.peek().kind != tokenComma {
					break
				}
				p.next()
			}
		}
		closing := p.next()
		if closing.kind != tokenRParen {
			return nil, p.errorf(closing, "expected closing parenthesis")
		}
		return callExpr{Func: strings.ToLower(tok.text), Args: args}, nil

	case tokenLParen:
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		closing := p.next()
		if closing.kind != tokenRParen {
			return nil, p.errorf(closing, "expected closing parenthesis")
		}
		return inner, nil

	case tokenOp:
		if tok.text == "-" {
			inner, err := p.parseFactor()
			if err != nil {
				return nil, err
			}
			return binaryExpr{Op: '-', Left: numberExpr{Value: 0}, Right: inner}, nil
		}
	}
	return nil, p.errorf(tok, "unexpected token")
}

func parseBucketDuration(raw string) (time.Duration, error) {
	if len(raw) < 2 {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	unit := raw[len(raw)-1:]
	amount, err := strconv.Atoi(raw[:len(raw)-1])
	if err != nil || amount <= 0 {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	switch unit {
	case "s":
		return time.Duration(amount) * time.Second, nil
	case "m":
		return time.Duration(amount) * time.Minute, nil
	case "h":
		return time.Duration(amount) * time.Hour, nil
	case "d":
		return time.Duration(amount) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown duration unit %q", unit)
	}
}
