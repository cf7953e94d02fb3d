// Package parser implements the minipy recursive descent parser.
//
// The parser consumes the token stream produced by package lexer and builds the tree
// through the ast node factory. It fails fast: the first mismatch aborts parsing and
// no partial tree is returned.
package parser

import (
	"fmt"
	"strconv"

	"github.com/minipy-lang/minipy/internal/ast"
	"github.com/minipy-lang/minipy/internal/lexer"
)

// maxSafeInteger is the largest integer a JavaScript number represents exactly.
const maxSafeInteger = 1<<53 - 1

var (
	comparisonOps = []lexer.TokenType{lexer.GT, lexer.LT, lexer.EQ, lexer.NEQ, lexer.GTE, lexer.LTE}
	additiveOps   = []lexer.TokenType{lexer.PLUS, lexer.MINUS}
	termOps       = []lexer.TokenType{lexer.MULT, lexer.DIV}
	factorStarts  = []lexer.TokenType{lexer.NUMBER, lexer.STRING, lexer.TRUE, lexer.FALSE, lexer.ID, lexer.LPAREN}
)

// Parser represents the recursive descent parser.
type Parser struct {
	tokens *lexer.Stream
}

// New creates a parser positioned at the first token.
func New(tokens []lexer.Token) *Parser {
	return &Parser{tokens: lexer.NewStream(tokens)}
}

// Parse is shorthand for New(tokens).Parse().
func Parse(tokens []lexer.Token) (*ast.Block, error) {
	return New(tokens).Parse()
}

// Parse consumes the whole stream and returns the program root.
func (p *Parser) Parse() (*ast.Block, error) {
	var statements []ast.Statement
	for !p.currentTokenIs(lexer.EOF) {
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		if stmt != nil {
			statements = append(statements, stmt)
		}
	}
	return build[*ast.Block](ast.KindBlock, statements)
}

// ===== token helpers =====

func (p *Parser) current() lexer.Token { return p.tokens.Current() }

func (p *Parser) currentTokenIs(tt lexer.TokenType) bool {
	return p.tokens.Current().Type == tt
}

func (p *Parser) currentTokenIn(types []lexer.TokenType) bool {
	cur := p.tokens.Current().Type
	for _, tt := range types {
		if cur == tt {
			return true
		}
	}
	return false
}

func (p *Parser) peekTokenIs(tt lexer.TokenType) bool {
	return p.tokens.Peek(1).Type == tt
}

// match consumes the current token if it has one of the expected kinds.
func (p *Parser) match(expected ...lexer.TokenType) (lexer.Token, error) {
	tok := p.current()
	for _, tt := range expected {
		if tok.Type == tt {
			p.tokens.Advance()
			return tok, nil
		}
	}
	return tok, p.syntaxError(expected...)
}

func (p *Parser) syntaxError(expected ...lexer.TokenType) error {
	tok := p.current()
	return &SyntaxError{Expected: expected, Found: tok.Type, Line: tok.Line}
}

// build creates a node through the factory and narrows it to the type the call site needs.
func build[T ast.Node](kind ast.Kind, args ...any) (T, error) {
	var zero T
	n, err := ast.Create(kind, args...)
	if err != nil {
		return zero, err
	}
	t, ok := n.(T)
	if !ok {
		return zero, &ast.FactoryError{Kind: kind, Message: fmt.Sprintf("constructor returned %T", n)}
	}
	return t, nil
}

// ===== statements =====

// parseStatement dispatches on the leading token. Structural markers and end of input
// yield a nil statement.
func (p *Parser) parseStatement() (ast.Statement, error) {
	tok := p.current()

	switch tok.Type {
	case lexer.DEF:
		return p.parseFunctionDef()
	case lexer.RETURN:
		return p.parseReturn()
	case lexer.ID:
		if p.peekTokenIs(lexer.LPAREN) {
			return p.parseCall(true)
		}
		return p.parseAssignment()
	case lexer.PRINT:
		return p.parsePrint()
	case lexer.IF:
		return p.parseIf()
	case lexer.WHILE:
		return p.parseWhile()
	case lexer.FOR:
		return p.parseFor()
	case lexer.INDENT, lexer.DEDENT:
		p.tokens.Advance()
		return nil, nil
	case lexer.EOF:
		return nil, nil
	default:
		return nil, p.syntaxError()
	}
}

// parseBody parses `: INDENT statement* (DEDENT | EOF)`. The returned slice is never nil.
func (p *Parser) parseBody() ([]ast.Statement, error) {
	if _, err := p.match(lexer.COLON); err != nil {
		return nil, err
	}
	if _, err := p.match(lexer.INDENT); err != nil {
		return nil, err
	}

	body := make([]ast.Statement, 0)
	for !p.currentTokenIs(lexer.DEDENT) && !p.currentTokenIs(lexer.EOF) {
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		if stmt != nil {
			body = append(body, stmt)
		}
	}
	if p.currentTokenIs(lexer.DEDENT) {
		p.tokens.Advance()
	}
	return body, nil
}

func (p *Parser) parseIdentifier() (*ast.Identifier, error) {
	tok, err := p.match(lexer.ID)
	if err != nil {
		return nil, err
	}
	return build[*ast.Identifier](ast.KindIdentifier, tok.Literal)
}

// parseFunctionDef parses `def name(p1, p2, ...): body`.
func (p *Parser) parseFunctionDef() (ast.Statement, error) {
	if _, err := p.match(lexer.DEF); err != nil {
		return nil, err
	}
	name, err := p.match(lexer.ID)
	if err != nil {
		return nil, err
	}
	if _, err := p.match(lexer.LPAREN); err != nil {
		return nil, err
	}

	var params []*ast.Identifier
	if !p.currentTokenIs(lexer.RPAREN) {
		for {
			param, err := p.parseIdentifier()
			if err != nil {
				return nil, err
			}
			params = append(params, param)
			if !p.currentTokenIs(lexer.COMMA) {
				break
			}
			p.tokens.Advance()
		}
	}
	if _, err := p.match(lexer.RPAREN); err != nil {
		return nil, err
	}

	body, err := p.parseBody()
	if err != nil {
		return nil, err
	}
	return build[*ast.FunctionDef](ast.KindFunctionDef, name.Literal, params, body)
}

// parseReturn parses `return [expression]`. The value is absent when the block or input ends.
func (p *Parser) parseReturn() (ast.Statement, error) {
	if _, err := p.match(lexer.RETURN); err != nil {
		return nil, err
	}
	switch p.current().Type {
	case lexer.DEDENT, lexer.EOF, lexer.INDENT:
		return build[*ast.ReturnStatement](ast.KindReturn)
	}
	value, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	return build[*ast.ReturnStatement](ast.KindReturn, value)
}

// parseCall parses `name(arg, ...)`. standalone marks a call used as a statement.
func (p *Parser) parseCall(standalone bool) (*ast.FunctionCall, error) {
	name, err := p.match(lexer.ID)
	if err != nil {
		return nil, err
	}
	if _, err := p.match(lexer.LPAREN); err != nil {
		return nil, err
	}
	args, err := p.parseArguments()
	if err != nil {
		return nil, err
	}
	if _, err := p.match(lexer.RPAREN); err != nil {
		return nil, err
	}
	return build[*ast.FunctionCall](ast.KindFunctionCall, name.Literal, args, standalone)
}

func (p *Parser) parseArguments() ([]ast.Expression, error) {
	var args []ast.Expression
	if p.currentTokenIs(lexer.RPAREN) {
		return args, nil
	}
	for {
		arg, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if !p.currentTokenIs(lexer.COMMA) {
			return args, nil
		}
		p.tokens.Advance()
	}
}

// parseAssignment parses `name = expression`.
func (p *Parser) parseAssignment() (ast.Statement, error) {
	target, err := p.parseIdentifier()
	if err != nil {
		return nil, err
	}
	if _, err := p.match(lexer.ASSIGN); err != nil {
		return nil, err
	}
	value, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	return build[*ast.Assignment](ast.KindAssign, target, value)
}

// parsePrint parses `print(expression)`.
func (p *Parser) parsePrint() (ast.Statement, error) {
	if _, err := p.match(lexer.PRINT); err != nil {
		return nil, err
	}
	if _, err := p.match(lexer.LPAREN); err != nil {
		return nil, err
	}
	value, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.match(lexer.RPAREN); err != nil {
		return nil, err
	}
	return build[*ast.PrintStatement](ast.KindPrint, value)
}

// parseIf parses `if cond: body [else: body]`.
func (p *Parser) parseIf() (ast.Statement, error) {
	if _, err := p.match(lexer.IF); err != nil {
		return nil, err
	}
	cond, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	body, err := p.parseBody()
	if err != nil {
		return nil, err
	}

	if !p.currentTokenIs(lexer.ELSE) {
		return build[*ast.Conditional](ast.KindIf, cond, body)
	}
	p.tokens.Advance()
	elseBody, err := p.parseBody()
	if err != nil {
		return nil, err
	}
	return build[*ast.Conditional](ast.KindIf, cond, body, elseBody)
}

// parseWhile parses `while cond: body`.
func (p *Parser) parseWhile() (ast.Statement, error) {
	if _, err := p.match(lexer.WHILE); err != nil {
		return nil, err
	}
	cond, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	body, err := p.parseBody()
	if err != nil {
		return nil, err
	}
	return build[*ast.WhileLoop](ast.KindWhile, cond, body)
}

// parseFor parses `for name in range(...): body`. Any other iterable is unsupported.
func (p *Parser) parseFor() (ast.Statement, error) {
	if _, err := p.match(lexer.FOR); err != nil {
		return nil, err
	}
	variable, err := p.parseIdentifier()
	if err != nil {
		return nil, err
	}
	if _, err := p.match(lexer.IN); err != nil {
		return nil, err
	}
	if !p.currentTokenIs(lexer.RANGE) {
		return nil, &UnsupportedError{Feature: "for-loop over non-range iterable", Line: p.current().Line}
	}
	iterable, err := p.parseRange()
	if err != nil {
		return nil, err
	}
	body, err := p.parseBody()
	if err != nil {
		return nil, err
	}
	return build[*ast.ForLoop](ast.KindFor, variable, iterable, body)
}

// parseRange parses `range(stop)`, `range(start, stop)` or `range(start, stop, step)`.
func (p *Parser) parseRange() (*ast.RangeSpec, error) {
	if _, err := p.match(lexer.RANGE); err != nil {
		return nil, err
	}
	if _, err := p.match(lexer.LPAREN); err != nil {
		return nil, err
	}

	var args []any
	for {
		arg, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if len(args) == 3 || !p.currentTokenIs(lexer.COMMA) {
			break
		}
		p.tokens.Advance()
	}
	if _, err := p.match(lexer.RPAREN); err != nil {
		return nil, err
	}

	if len(args) == 1 {
		zero, err := build[*ast.NumberLiteral](ast.KindNumber, 0)
		if err != nil {
			return nil, err
		}
		args = []any{zero, args[0]}
	}
	return build[*ast.RangeSpec](ast.KindRange, args...)
}

// ===== expressions =====

// parseExpression parses a comparison, the lowest-precedence level.
func (p *Parser) parseExpression() (ast.Expression, error) {
	return p.parseBinary(comparisonOps, p.parseArith)
}

func (p *Parser) parseArith() (ast.Expression, error) {
	return p.parseBinary(additiveOps, p.parseTerm)
}

func (p *Parser) parseTerm() (ast.Expression, error) {
	return p.parseBinary(termOps, p.parseFactor)
}

// parseBinary parses a left-associative chain of ops over operands produced by next.
func (p *Parser) parseBinary(ops []lexer.TokenType, next func() (ast.Expression, error)) (ast.Expression, error) {
	left, err := next()
	if err != nil {
		return nil, err
	}
	for p.currentTokenIn(ops) {
		op := p.current()
		p.tokens.Advance()
		right, err := next()
		if err != nil {
			return nil, err
		}
		if left, err = build[*ast.BinaryOp](ast.KindBinaryOp, left, op.Type.String(), right); err != nil {
			return nil, err
		}
	}
	return left, nil
}

func (p *Parser) parseFactor() (ast.Expression, error) {
	tok := p.current()

	switch tok.Type {
	case lexer.NUMBER:
		p.tokens.Advance()
		return p.parseNumber(tok)
	case lexer.STRING:
		p.tokens.Advance()
		return build[*ast.StringLiteral](ast.KindString, tok.Literal)
	case lexer.TRUE, lexer.FALSE:
		p.tokens.Advance()
		return build[*ast.BooleanLiteral](ast.KindBoolean, tok.Literal)
	case lexer.ID:
		if p.peekTokenIs(lexer.LPAREN) {
			return p.parseCall(false)
		}
		p.tokens.Advance()
		return build[*ast.Identifier](ast.KindIdentifier, tok.Literal)
	case lexer.LPAREN:
		p.tokens.Advance()
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.match(lexer.RPAREN); err != nil {
			return nil, err
		}
		return expr, nil
	default:
		return nil, p.syntaxError(factorStarts...)
	}
}

// parseNumber rejects literals the target cannot represent exactly.
func (p *Parser) parseNumber(tok lexer.Token) (ast.Expression, error) {
	v, err := strconv.ParseInt(tok.Literal, 10, 64)
	if err != nil || v > maxSafeInteger {
		return nil, &UnsupportedError{
			Feature: fmt.Sprintf("integer literal %s beyond the exact integer range", tok.Literal),
			Line:    tok.Line,
		}
	}
	return build[*ast.NumberLiteral](ast.KindNumber, v)
}
