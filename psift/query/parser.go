package query

import (
	"strings"
)

// Expr is a parsed query expression. The variant set is closed; evaluation
// lives with the cache, which owns the data the predicates run against.
type Expr interface{ isExpr() }

// MatchAll matches every node. Empty queries and OR groups with an empty
// operand collapse to it.
type MatchAll struct{}

// AndExpr is the implicit whitespace conjunction (lowest precedence).
type AndExpr struct{ Parts []Expr }

// OrExpr is the '|' / OR disjunction.
type OrExpr struct{ Parts []Expr }

// NotExpr negates its operand within the enclosing candidate set.
type NotExpr struct{ Inner Expr }

// TokenExpr is a bareword or quoted token. Quoted tokens suppress wildcard
// expansion and path segmentation.
type TokenExpr struct {
	Text    string
	Quoted  bool
	Pattern PathPattern
	Offset  int
}

// FilterExpr is an ident:argument filter. Spec carries the parsed payload;
// unknown idents and unknown type categories keep Kind = FilterUnknown and
// are rejected at evaluation time.
type FilterExpr struct {
	Ident  string
	Arg    string
	Spec   FilterSpec
	Offset int
}

func (MatchAll) isExpr()   {}
func (*AndExpr) isExpr()   {}
func (*OrExpr) isExpr()    {}
func (*NotExpr) isExpr()   {}
func (*TokenExpr) isExpr() {}
func (*FilterExpr) isExpr() {}

// Parse parses a query string. An empty input parses to MatchAll.
//
// Precedence, binding tightest first: NOT, then OR, then the implicit
// whitespace AND. Parentheses and angle brackets group equivalently.
func Parse(input string) (Expr, error) {
	tokens, perr := tokenize(input)
	if perr != nil {
		return nil, perr
	}
	p := &parser{tokens: tokens}
	expr, err := p.parseAnd(false)
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.tokens) {
		t := p.tokens[p.pos]
		return nil, &ParseError{Offset: t.offset, Msg: "unexpected closing delimiter"}
	}
	if p.sawEmptyOr {
		// An empty OR operand anywhere widens the whole query to match-all.
		return MatchAll{}, nil
	}
	if expr == nil {
		return MatchAll{}, nil
	}
	return expr, nil
}

type parser struct {
	tokens     []token
	pos        int
	sawEmptyOr bool
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.tokens) {
		return token{}, false
	}
	return p.tokens[p.pos], true
}

// parseAnd collects whitespace-separated operands until end of input or a
// closing delimiter. nested reports whether a closer is expected.
func (p *parser) parseAnd(nested bool) (Expr, error) {
	var parts []Expr
	for {
		t, ok := p.peek()
		if !ok {
			break
		}
		if t.kind == tkClose {
			break
		}
		if t.kind == tkAnd {
			p.pos++
			continue
		}
		part, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if part != nil {
			parts = append(parts, part)
		}
	}
	switch len(parts) {
	case 0:
		return nil, nil
	case 1:
		return parts[0], nil
	}
	return &AndExpr{Parts: parts}, nil
}

// parseOr collects '|'-separated operands. A missing operand on either side
// of a pipe poisons the query to match-all, mirroring the engine's
// fold-empty behavior.
func (p *parser) parseOr() (Expr, error) {
	var parts []Expr
	expectOperand := true
	for {
		t, ok := p.peek()
		if ok && t.kind == tkOr {
			if expectOperand {
				p.sawEmptyOr = true
			}
			p.pos++
			expectOperand = true
			continue
		}
		if !expectOperand {
			break
		}
		if !ok || t.kind == tkClose || t.kind == tkAnd {
			if len(parts) > 0 {
				// Trailing pipe with no right operand.
				p.sawEmptyOr = true
			}
			break
		}
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		parts = append(parts, operand)
		expectOperand = false
	}
	switch len(parts) {
	case 0:
		return nil, nil
	case 1:
		return parts[0], nil
	}
	return &OrExpr{Parts: parts}, nil
}

func (p *parser) parseNot() (Expr, error) {
	t, ok := p.peek()
	if ok && t.kind == tkNot {
		p.pos++
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &NotExpr{Inner: inner}, nil
	}
	return p.parseAtom()
}

func (p *parser) parseAtom() (Expr, error) {
	t, ok := p.peek()
	if !ok {
		return nil, &ParseError{Offset: 0, Msg: "unexpected end of query"}
	}
	switch t.kind {
	case tkOpen:
		p.pos++
		inner, err := p.parseAnd(true)
		if err != nil {
			return nil, err
		}
		closer, ok := p.peek()
		if !ok || closer.kind != tkClose {
			want := ")"
			if t.text == "<" {
				want = ">"
			}
			return nil, &ParseError{Offset: t.offset, Msg: "expected '" + want + "'"}
		}
		p.pos++
		if inner == nil {
			return MatchAll{}, nil
		}
		return inner, nil
	case tkWord:
		p.pos++
		return newTokenExpr(t), nil
	case tkFilter:
		p.pos++
		return p.newFilterExpr(t)
	default:
		return nil, &ParseError{Offset: t.offset, Msg: "unexpected closing delimiter"}
	}
}

func newTokenExpr(t token) *TokenExpr {
	te := &TokenExpr{Text: t.text, Quoted: t.quoted, Offset: t.offset}
	if t.quoted {
		// Quoted tokens are literal substring matches on the path.
		te.Pattern = PathPattern{Segments: []Segment{{Kind: SegSubstr, Value: t.text}}}
		return te
	}
	te.Pattern = Segmentation(t.text)
	return te
}

// newFilterExpr builds a filter atom; the audio:/video:/doc:/exe: macros
// expand to their type: category with any residual argument ANDed on as a
// token.
func (p *parser) newFilterExpr(t token) (Expr, error) {
	if residualMacro[t.text] && !t.argQuoted {
		exts, _ := TypeCategoryExts(macroCategory[t.text])
		filter := &FilterExpr{
			Ident:  t.text,
			Arg:    t.arg,
			Spec:   FilterSpec{Kind: FilterExtension, Exts: exts},
			Offset: t.offset,
		}
		if strings.TrimSpace(t.arg) == "" {
			return filter, nil
		}
		residual := newTokenExpr(token{kind: tkWord, text: t.arg, offset: t.offset})
		return &AndExpr{Parts: []Expr{filter, residual}}, nil
	}
	spec, err := parseFilterSpec(t)
	if err != nil {
		return nil, err
	}
	return &FilterExpr{Ident: t.text, Arg: t.arg, Spec: spec, Offset: t.offset}, nil
}

var residualMacro = map[string]bool{
	"audio": true,
	"video": true,
	"doc":   true,
	"exe":   true,
}

var macroCategory = map[string]string{
	"audio": "audio",
	"video": "video",
	"doc":   "docs",
	"exe":   "exe",
}
