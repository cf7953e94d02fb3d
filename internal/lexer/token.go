package lexer

import "fmt"

// TokenType represents the kind of a token.
type TokenType int

// String returns the upper-case kind name used throughout the token stream.
func (tt TokenType) String() string {
	if name, ok := tokenNames[tt]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(tt))
}

const (
	// Special tokens
	EOF TokenType = iota
	ILLEGAL

	// Literals
	NUMBER
	STRING
	TRUE
	FALSE
	ID

	// Keywords
	DEF
	RETURN
	PRINT
	IF
	ELSE
	WHILE
	FOR
	IN
	RANGE

	// Operators
	PLUS
	MINUS
	MULT
	DIV
	GT
	LT
	EQ
	NEQ
	GTE
	LTE
	ASSIGN

	// Punctuation
	LPAREN
	RPAREN
	COLON
	COMMA

	// Structural markers for indented blocks
	INDENT
	DEDENT
)

var tokenNames = map[TokenType]string{
	EOF:     "EOF",
	ILLEGAL: "ILLEGAL",

	NUMBER: "NUMBER",
	STRING: "STRING",
	TRUE:   "TRUE",
	FALSE:  "FALSE",
	ID:     "ID",

	DEF:    "DEF",
	RETURN: "RETURN",
	PRINT:  "PRINT",
	IF:     "IF",
	ELSE:   "ELSE",
	WHILE:  "WHILE",
	FOR:    "FOR",
	IN:     "IN",
	RANGE:  "RANGE",

	PLUS:   "PLUS",
	MINUS:  "MINUS",
	MULT:   "MULT",
	DIV:    "DIV",
	GT:     "GT",
	LT:     "LT",
	EQ:     "EQ",
	NEQ:    "NEQ",
	GTE:    "GTE",
	LTE:    "LTE",
	ASSIGN: "ASSIGN",

	LPAREN: "LPAREN",
	RPAREN: "RPAREN",
	COLON:  "COLON",
	COMMA:  "COMMA",

	INDENT: "INDENT",
	DEDENT: "DEDENT",
}

// keywords maps reserved words to their token types.
var keywords = map[string]TokenType{
	"def":    DEF,
	"return": RETURN,
	"print":  PRINT,
	"if":     IF,
	"else":   ELSE,
	"while":  WHILE,
	"for":    FOR,
	"in":     IN,
	"range":  RANGE,
	"True":   TRUE,
	"False":  FALSE,
}

// LookupIdent returns the keyword type for ident, or ID.
func LookupIdent(ident string) TokenType {
	if tok, ok := keywords[ident]; ok {
		return tok
	}
	return ID
}

// Token is one element of the stream: kind, literal text and 1-based source line.
type Token struct {
	Type    TokenType
	Literal string
	Line    int
}

// String renders the token the way it is reported back to API clients.
func (t Token) String() string {
	return fmt.Sprintf("Token(%s, '%s', line %d)", t.Type, t.Literal, t.Line)
}

// Sentinel is returned by a Stream once its position runs past the last token.
var Sentinel = Token{Type: EOF, Literal: "", Line: -1}

// Stream is a read cursor over a tokenized program.
type Stream struct {
	tokens []Token
	pos    int
}

// NewStream wraps tokens in a cursor positioned at the first token.
func NewStream(tokens []Token) *Stream {
	return &Stream{tokens: tokens}
}

// Current returns the token under the cursor.
func (s *Stream) Current() Token { return s.Peek(0) }

// Peek returns the token n positions ahead of the cursor.
func (s *Stream) Peek(n int) Token {
	i := s.pos + n
	if i < 0 || i >= len(s.tokens) {
		return Sentinel
	}
	return s.tokens[i]
}

// Advance moves the cursor one token forward.
func (s *Stream) Advance() { s.pos++ }

