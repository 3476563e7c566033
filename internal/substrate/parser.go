package substrate

import (
	"fmt"
	"strconv"
)

// The step-kernel grammar accepted by the CPU device:
//
//	fn step() {
//		let c = src(0, 0);
//		if (c == <int>) {
//			if (<cond>) { emit(<int>); }
//			...
//		} else if (c == <int>) { ... }
//		emit(c);
//	}
//
// where <cond> is the literal 1 or a conjunction of
// "src(<dx>, <dy>) == <int>" terms. Line comments are ignored.

type term struct {
	dx, dy int
	value  uint8
}

type clause struct {
	terms   []term // empty means unconditional
	outcome uint8
}

type branch struct {
	category uint8
	clauses  []clause
}

type program struct {
	branches []branch
}

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokInt
	tokPunct // single char: ( ) { } ; ,
	tokEq    // ==
	tokAnd   // &&
	tokEOF
)

type token struct {
	kind tokenKind
	text string
	line int
	col  int
}

type lexer struct {
	src  string
	pos  int
	line int
	col  int
}

func newLexer(src string) *lexer {
	return &lexer{src: src, line: 1, col: 1}
}

func (l *lexer) errf(line, col int, format string, args ...any) error {
	return &CompileError{Line: line, Col: col, Diagnostic: fmt.Sprintf(format, args...)}
}

func (l *lexer) advance() byte {
	ch := l.src[l.pos]
	l.pos++
	if ch == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return ch
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) {
		ch := l.src[l.pos]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\r' || ch == '\n':
			l.advance()
		case ch == '/':
			if l.pos+1 >= len(l.src) || l.src[l.pos+1] != '/' {
				return token{}, l.errf(l.line, l.col, "unexpected character %q", ch)
			}
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.advance()
			}
		default:
			return l.scanToken()
		}
	}
	return token{kind: tokEOF, line: l.line, col: l.col}, nil
}

func (l *lexer) scanToken() (token, error) {
	line, col := l.line, l.col
	ch := l.src[l.pos]

	switch ch {
	case '(', ')', '{', '}', ';', ',':
		l.advance()
		return token{kind: tokPunct, text: string(ch), line: line, col: col}, nil
	case '=':
		l.advance()
		if l.pos < len(l.src) && l.src[l.pos] == '=' {
			l.advance()
			return token{kind: tokEq, text: "==", line: line, col: col}, nil
		}
		return token{kind: tokPunct, text: "=", line: line, col: col}, nil
	case '&':
		l.advance()
		if l.pos < len(l.src) && l.src[l.pos] == '&' {
			l.advance()
			return token{kind: tokAnd, text: "&&", line: line, col: col}, nil
		}
		return token{}, l.errf(line, col, "expected && after &")
	}

	if ch == '-' || (ch >= '0' && ch <= '9') {
		start := l.pos
		l.advance()
		for l.pos < len(l.src) && l.src[l.pos] >= '0' && l.src[l.pos] <= '9' {
			l.advance()
		}
		text := l.src[start:l.pos]
		if text == "-" {
			return token{}, l.errf(line, col, "dangling minus sign")
		}
		return token{kind: tokInt, text: text, line: line, col: col}, nil
	}

	if isIdentStart(ch) {
		start := l.pos
		l.advance()
		for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
			l.advance()
		}
		return token{kind: tokIdent, text: l.src[start:l.pos], line: line, col: col}, nil
	}

	return token{}, l.errf(line, col, "unexpected character %q", ch)
}

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || (ch >= '0' && ch <= '9')
}

type parser struct {
	lex *lexer
	tok token
}

func parseKernel(source string) (program, error) {
	p := &parser{lex: newLexer(source)}
	if err := p.bump(); err != nil {
		return program{}, err
	}
	return p.parse()
}

func (p *parser) bump() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) fail(format string, args ...any) error {
	return &CompileError{Line: p.tok.line, Col: p.tok.col, Diagnostic: fmt.Sprintf(format, args...)}
}

func (p *parser) expectIdent(name string) error {
	if p.tok.kind != tokIdent || p.tok.text != name {
		return p.fail("expected %q, found %q", name, p.tok.text)
	}
	return p.bump()
}

func (p *parser) expectPunct(ch string) error {
	if p.tok.kind != tokPunct || p.tok.text != ch {
		return p.fail("expected %q, found %q", ch, p.tok.text)
	}
	return p.bump()
}

func (p *parser) expectInt() (int, error) {
	if p.tok.kind != tokInt {
		return 0, p.fail("expected integer, found %q", p.tok.text)
	}
	v, err := strconv.Atoi(p.tok.text)
	if err != nil {
		return 0, p.fail("bad integer %q", p.tok.text)
	}
	return v, p.bump()
}

func (p *parser) expectCell() (uint8, error) {
	line, col := p.tok.line, p.tok.col
	v, err := p.expectInt()
	if err != nil {
		return 0, err
	}
	if v < 0 || v > 255 {
		return 0, &CompileError{Line: line, Col: col, Diagnostic: fmt.Sprintf("cell value out of range: %d", v)}
	}
	return uint8(v), nil
}

func (p *parser) expectOffset() (int, error) {
	line, col := p.tok.line, p.tok.col
	v, err := p.expectInt()
	if err != nil {
		return 0, err
	}
	if v < -1 || v > 1 {
		return 0, &CompileError{Line: line, Col: col, Diagnostic: fmt.Sprintf("neighborhood offset out of range: %d", v)}
	}
	return v, nil
}

func (p *parser) parse() (program, error) {
	if err := p.expectIdent("fn"); err != nil {
		return program{}, err
	}
	if err := p.expectIdent("step"); err != nil {
		return program{}, err
	}
	for _, ch := range []string{"(", ")", "{"} {
		if err := p.expectPunct(ch); err != nil {
			return program{}, err
		}
	}

	// let c = src(0, 0);
	if err := p.expectIdent("let"); err != nil {
		return program{}, err
	}
	if err := p.expectIdent("c"); err != nil {
		return program{}, err
	}
	if err := p.expectPunct("="); err != nil {
		return program{}, err
	}
	dx, dy, err := p.parseSrcCall()
	if err != nil {
		return program{}, err
	}
	if dx != 0 || dy != 0 {
		return program{}, p.fail("center read must be src(0, 0)")
	}
	if err := p.expectPunct(";"); err != nil {
		return program{}, err
	}

	var prog program
	if p.tok.kind == tokIdent && p.tok.text == "if" {
		branches, err := p.parseBranchChain()
		if err != nil {
			return program{}, err
		}
		prog.branches = branches
	}

	// emit(c);
	if err := p.expectIdent("emit"); err != nil {
		return program{}, err
	}
	if err := p.expectPunct("("); err != nil {
		return program{}, err
	}
	if err := p.expectIdent("c"); err != nil {
		return program{}, err
	}
	if err := p.expectPunct(")"); err != nil {
		return program{}, err
	}
	if err := p.expectPunct(";"); err != nil {
		return program{}, err
	}
	if err := p.expectPunct("}"); err != nil {
		return program{}, err
	}
	if p.tok.kind != tokEOF {
		return program{}, p.fail("trailing input after kernel body: %q", p.tok.text)
	}
	return prog, nil
}

func (p *parser) parseSrcCall() (dx, dy int, err error) {
	if err := p.expectIdent("src"); err != nil {
		return 0, 0, err
	}
	if err := p.expectPunct("("); err != nil {
		return 0, 0, err
	}
	dx, err = p.expectOffset()
	if err != nil {
		return 0, 0, err
	}
	if err := p.expectPunct(","); err != nil {
		return 0, 0, err
	}
	dy, err = p.expectOffset()
	if err != nil {
		return 0, 0, err
	}
	if err := p.expectPunct(")"); err != nil {
		return 0, 0, err
	}
	return dx, dy, nil
}

func (p *parser) parseBranchChain() ([]branch, error) {
	var branches []branch
	seen := map[uint8]bool{}
	for {
		if err := p.expectIdent("if"); err != nil {
			return nil, err
		}
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		if err := p.expectIdent("c"); err != nil {
			return nil, err
		}
		if p.tok.kind != tokEq {
			return nil, p.fail("expected ==, found %q", p.tok.text)
		}
		if err := p.bump(); err != nil {
			return nil, err
		}
		category, err := p.expectCell()
		if err != nil {
			return nil, err
		}
		if seen[category] {
			return nil, p.fail("duplicate category branch: %d", category)
		}
		seen[category] = true
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		if err := p.expectPunct("{"); err != nil {
			return nil, err
		}

		var clauses []clause
		for p.tok.kind == tokIdent && p.tok.text == "if" {
			cl, err := p.parseClause()
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, cl)
		}
		if err := p.expectPunct("}"); err != nil {
			return nil, err
		}
		branches = append(branches, branch{category: category, clauses: clauses})

		if p.tok.kind == tokIdent && p.tok.text == "else" {
			if err := p.bump(); err != nil {
				return nil, err
			}
			continue
		}
		return branches, nil
	}
}

func (p *parser) parseClause() (clause, error) {
	if err := p.expectIdent("if"); err != nil {
		return clause{}, err
	}
	if err := p.expectPunct("("); err != nil {
		return clause{}, err
	}

	var cl clause
	if p.tok.kind == tokInt {
		v, err := p.expectInt()
		if err != nil {
			return clause{}, err
		}
		if v != 1 {
			return clause{}, p.fail("constant clause condition must be 1, found %d", v)
		}
	} else {
		for {
			dx, dy, err := p.parseSrcCall()
			if err != nil {
				return clause{}, err
			}
			if p.tok.kind != tokEq {
				return clause{}, p.fail("expected ==, found %q", p.tok.text)
			}
			if err := p.bump(); err != nil {
				return clause{}, err
			}
			value, err := p.expectCell()
			if err != nil {
				return clause{}, err
			}
			cl.terms = append(cl.terms, term{dx: dx, dy: dy, value: value})
			if p.tok.kind == tokAnd {
				if err := p.bump(); err != nil {
					return clause{}, err
				}
				continue
			}
			break
		}
	}

	if err := p.expectPunct(")"); err != nil {
		return clause{}, err
	}
	if err := p.expectPunct("{"); err != nil {
		return clause{}, err
	}
	if err := p.expectIdent("emit"); err != nil {
		return clause{}, err
	}
	if err := p.expectPunct("("); err != nil {
		return clause{}, err
	}
	outcome, err := p.expectCell()
	if err != nil {
		return clause{}, err
	}
	cl.outcome = outcome
	if err := p.expectPunct(")"); err != nil {
		return clause{}, err
	}
	if err := p.expectPunct(";"); err != nil {
		return clause{}, err
	}
	if err := p.expectPunct("}"); err != nil {
		return clause{}, err
	}
	return cl, nil
}
