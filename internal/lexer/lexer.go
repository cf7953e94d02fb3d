// Package lexer turns minipy source text into the token stream consumed by the parser.
// Indentation is made explicit with INDENT/DEDENT markers; line breaks are not tokens.
package lexer

import (
	"fmt"
)

// tabWidth is the number of columns a tab contributes to an indentation level.
const tabWidth = 4

// Error describes a lexical failure at a source position.
type Error struct {
	Line    int
	Column  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("lexical error: %s at line %d, column %d", e.Message, e.Line, e.Column)
}

// Lexer is a hand-written scanner for the minipy language.
type Lexer struct {
	input        string
	position     int  // current position in input (points to current char)
	readPosition int  // current reading position in input (after current char)
	ch           byte // current char under examination
	line         int
	column       int

	atLineStart bool
	indents     []int
	pending     []Token
	err         *Error
}

// New creates a lexer for input.
func New(input string) *Lexer {
	l := &Lexer{
		input:       input,
		line:        1,
		atLineStart: true,
		indents:     []int{0},
	}
	l.readChar()
	return l
}

// Tokenize scans the whole input and stops at the first lexical error.
func Tokenize(input string) ([]Token, error) {
	l := New(input)
	tokens := make([]Token, 0, len(input)/3)
	for {
		tok := l.NextToken()
		if tok.Type == ILLEGAL {
			return nil, l.err
		}
		tokens = append(tokens, tok)
		if tok.Type == EOF {
			return tokens, nil
		}
	}
}

// Err returns the first lexical error encountered, if any.
func (l *Lexer) Err() error {
	if l.err == nil {
		return nil
	}
	return l.err
}

// readChar advances one byte; the line counter moves when a newline is left behind.
func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.column = 0
	}
	if l.readPosition >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPosition]
	}
	l.position = l.readPosition
	l.readPosition++
	l.column++
}

func (l *Lexer) peekChar() byte {
	if l.readPosition >= len(l.input) {
		return 0
	}
	return l.input[l.readPosition]
}

// skipWhitespace skips blanks and comments inside a line; newlines are left for NextToken.
func (l *Lexer) skipWhitespace() {
	for {
		switch l.ch {
		case ' ', '\t', '\r':
			l.readChar()
		case '#':
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
		default:
			return
		}
	}
}

// NextToken returns the next token. Once an ILLEGAL token is produced, Err reports why.
func (l *Lexer) NextToken() Token {
	if len(l.pending) > 0 {
		tok := l.pending[0]
		l.pending = l.pending[1:]
		return tok
	}

	if l.atLineStart {
		l.atLineStart = false
		if tok, ok := l.handleIndent(); ok {
			return tok
		}
	}

	l.skipWhitespace()

	var tok Token
	switch l.ch {
	case '\n':
		l.readChar()
		l.atLineStart = true
		return l.NextToken()
	case 0:
		if len(l.indents) > 1 {
			l.indents = l.indents[:len(l.indents)-1]
			return l.newToken(DEDENT, "")
		}
		return l.newToken(EOF, "")
	case '=':
		tok = l.twoCharToken('=', EQ, ASSIGN)
	case '!':
		if l.peekChar() != '=' {
			return l.illegal(fmt.Sprintf("unexpected character %q", l.ch))
		}
		tok = l.twoCharToken('=', NEQ, ILLEGAL)
	case '<':
		tok = l.twoCharToken('=', LTE, LT)
	case '>':
		tok = l.twoCharToken('=', GTE, GT)
	case '+':
		tok = l.newToken(PLUS, "+")
	case '-':
		tok = l.newToken(MINUS, "-")
	case '*':
		tok = l.newToken(MULT, "*")
	case '/':
		tok = l.newToken(DIV, "/")
	case '(':
		tok = l.newToken(LPAREN, "(")
	case ')':
		tok = l.newToken(RPAREN, ")")
	case ':':
		tok = l.newToken(COLON, ":")
	case ',':
		tok = l.newToken(COMMA, ",")
	case '"', '\'':
		return l.readString()
	default:
		if isLetter(l.ch) || l.ch == '_' {
			line := l.line
			ident := l.readIdentifier()
			return Token{Type: LookupIdent(ident), Literal: ident, Line: line}
		}
		if isDigit(l.ch) {
			line := l.line
			return Token{Type: NUMBER, Literal: l.readNumber(), Line: line}
		}
		return l.illegal(fmt.Sprintf("unexpected character %q", l.ch))
	}

	l.readChar()
	return tok
}

// twoCharToken builds `<ch><next>` as long when next follows, otherwise the single-char short token.
func (l *Lexer) twoCharToken(next byte, long, short TokenType) Token {
	if l.peekChar() == next {
		first := l.ch
		l.readChar()
		return l.newToken(long, string(first)+string(l.ch))
	}
	return l.newToken(short, string(l.ch))
}

// handleIndent measures the leading whitespace of a logical line and emits INDENT/DEDENT.
// Blank and comment-only lines are skipped entirely.
func (l *Lexer) handleIndent() (Token, bool) {
	for {
		width := 0
		for l.ch == ' ' || l.ch == '\t' {
			if l.ch == '\t' {
				width += tabWidth
			} else {
				width++
			}
			l.readChar()
		}

		switch l.ch {
		case '\r':
			l.readChar()
			continue
		case '#':
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
			if l.ch == 0 {
				return Token{}, false
			}
			l.readChar()
			continue
		case '\n':
			l.readChar()
			continue
		case 0:
			return Token{}, false
		}

		current := l.indents[len(l.indents)-1]
		switch {
		case width > current:
			l.indents = append(l.indents, width)
			return l.newToken(INDENT, ""), true
		case width < current:
			for len(l.indents) > 1 && l.indents[len(l.indents)-1] > width {
				l.indents = l.indents[:len(l.indents)-1]
				l.pending = append(l.pending, l.newToken(DEDENT, ""))
			}
			if l.indents[len(l.indents)-1] != width {
				l.pending = nil
				return l.illegal("inconsistent dedent"), true
			}
			tok := l.pending[0]
			l.pending = l.pending[1:]
			return tok, true
		}
		return Token{}, false
	}
}

func (l *Lexer) readIdentifier() string {
	position := l.position
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
	return l.input[position:l.position]
}

func (l *Lexer) readNumber() string {
	position := l.position
	for isDigit(l.ch) {
		l.readChar()
	}
	return l.input[position:l.position]
}

// readString reads a quoted literal; the closing quote must match the opening one on the same line.
func (l *Lexer) readString() Token {
	quote := l.ch
	line, column := l.line, l.column
	l.readChar()
	position := l.position
	for l.ch != quote {
		if l.ch == '\n' || l.ch == 0 {
			l.err = &Error{Line: line, Column: column, Message: "unterminated string literal"}
			return Token{Type: ILLEGAL, Literal: l.err.Message, Line: line}
		}
		l.readChar()
	}
	literal := l.input[position:l.position]
	l.readChar()
	return Token{Type: STRING, Literal: literal, Line: line}
}

func (l *Lexer) newToken(tokenType TokenType, literal string) Token {
	return Token{Type: tokenType, Literal: literal, Line: l.line}
}

func (l *Lexer) illegal(message string) Token {
	if l.err == nil {
		l.err = &Error{Line: l.line, Column: l.column, Message: message}
	}
	return Token{Type: ILLEGAL, Literal: message, Line: l.line}
}

func isLetter(ch byte) bool {
	return 'a' <= ch && ch <= 'z' || 'A' <= ch && ch <= 'Z'
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}
