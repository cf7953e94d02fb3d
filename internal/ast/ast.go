// Package ast defines the minipy syntax tree and its JavaScript code generation.
//
// Every node is built once by the parser through the node factory (see factory.go)
// and is read-only afterwards. Code generation threads a *Context that tracks which
// variable names are already declared in the current lexical scope.
package ast

import (
	"fmt"
	"strconv"
	"strings"
)

// indentUnit is the target-language indentation for one nesting level.
const indentUnit = "    "

// Node is the base interface for all AST nodes.
type Node interface {
	// Generate renders the node as JavaScript at the given nesting level.
	Generate(indent int, ctx *Context) string
	// String returns the source-like human-readable form of the node.
	String() string
	// Tree returns an indented dump of the node and its children.
	Tree(level int) string
}

// Statement represents nodes that may appear in a block body.
type Statement interface {
	Node
	statementNode()
}

// Expression represents nodes that produce a value.
type Expression interface {
	Node
	expressionNode()
}

func pad(indent int) string { return strings.Repeat(indentUnit, indent) }

func treePad(level int) string { return strings.Repeat("  ", level) }

// ===== Literals =====

// NumberLiteral is an integer constant.
type NumberLiteral struct {
	Value int64
}

func (n *NumberLiteral) expressionNode() {}
func (n *NumberLiteral) String() string  { return strconv.FormatInt(n.Value, 10) }
func (n *NumberLiteral) Tree(level int) string {
	return treePad(level) + fmt.Sprintf("NumberLiteral(%d)", n.Value)
}
func (n *NumberLiteral) Generate(indent int, ctx *Context) string {
	return strconv.FormatInt(n.Value, 10)
}

// StringLiteral holds the raw text between the quotes. Embedded quotes are not escaped.
type StringLiteral struct {
	Value string
}

func (s *StringLiteral) expressionNode() {}
func (s *StringLiteral) String() string  { return `"` + s.Value + `"` }
func (s *StringLiteral) Tree(level int) string {
	return treePad(level) + fmt.Sprintf("StringLiteral(%s)", s.Value)
}
func (s *StringLiteral) Generate(indent int, ctx *Context) string {
	return `"` + s.Value + `"`
}

// BooleanLiteral keeps the textual source form ("True"/"False").
type BooleanLiteral struct {
	Value string
}

func (b *BooleanLiteral) expressionNode() {}
func (b *BooleanLiteral) String() string  { return b.Value }
func (b *BooleanLiteral) Tree(level int) string {
	return treePad(level) + fmt.Sprintf("BooleanLiteral(%s)", b.Value)
}

// Generate is the single place where boolean spellings are normalized.
func (b *BooleanLiteral) Generate(indent int, ctx *Context) string {
	if strings.EqualFold(strings.TrimSpace(b.Value), "true") {
		return "true"
	}
	return "false"
}

// Identifier is a variable, parameter or function name.
type Identifier struct {
	Name string
}

func (i *Identifier) expressionNode() {}
func (i *Identifier) String() string  { return i.Name }
func (i *Identifier) Tree(level int) string {
	return treePad(level) + fmt.Sprintf("Identifier(%s)", i.Name)
}
func (i *Identifier) Generate(indent int, ctx *Context) string { return i.Name }

// ===== Expressions =====

// operatorSymbols maps operator tags to target-language symbols.
var operatorSymbols = map[string]string{
	"PLUS":  "+",
	"MINUS": "-",
	"MULT":  "*",
	"DIV":   "/",
	"GT":    ">",
	"LT":    "<",
	"EQ":    "==",
	"NEQ":   "!=",
	"GTE":   ">=",
	"LTE":   "<=",
}

// OperatorSymbol returns the symbol for tag; unknown tags come back verbatim.
func OperatorSymbol(tag string) string {
	if sym, ok := operatorSymbols[tag]; ok {
		return sym
	}
	return tag
}

// BinaryOp is an infix arithmetic or comparison expression. It always renders parenthesized.
type BinaryOp struct {
	Left  Expression
	Op    string
	Right Expression
}

func (b *BinaryOp) expressionNode() {}
func (b *BinaryOp) String() string {
	return fmt.Sprintf("(%s %s %s)", b.Left, OperatorSymbol(b.Op), b.Right)
}
func (b *BinaryOp) Tree(level int) string {
	return treePad(level) + fmt.Sprintf("BinaryOp(%s)\n", b.Op) +
		b.Left.Tree(level+1) + "\n" +
		b.Right.Tree(level+1)
}
func (b *BinaryOp) Generate(indent int, ctx *Context) string {
	return fmt.Sprintf("(%s %s %s)", b.Left.Generate(0, ctx), OperatorSymbol(b.Op), b.Right.Generate(0, ctx))
}

// FunctionCall invokes a callee with positional arguments. It is both an expression and,
// when Standalone is set, a statement terminated by a semicolon.
type FunctionCall struct {
	Name       string
	Callee     Expression // used when the callee is not a plain name
	Args       []Expression
	Standalone bool
}

func (f *FunctionCall) expressionNode() {}
func (f *FunctionCall) statementNode()  {}

func (f *FunctionCall) callee(ctx *Context) string {
	if f.Callee != nil {
		if ctx == nil {
			return f.Callee.String()
		}
		return f.Callee.Generate(0, ctx)
	}
	return f.Name
}

func (f *FunctionCall) String() string {
	args := make([]string, len(f.Args))
	for i, a := range f.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", f.callee(nil), strings.Join(args, ", "))
}

func (f *FunctionCall) Tree(level int) string {
	var b strings.Builder
	b.WriteString(treePad(level) + fmt.Sprintf("FunctionCall(%s)", f.callee(nil)))
	for _, a := range f.Args {
		b.WriteString("\n" + a.Tree(level+1))
	}
	return b.String()
}

func (f *FunctionCall) Generate(indent int, ctx *Context) string {
	args := make([]string, len(f.Args))
	for i, a := range f.Args {
		args[i] = a.Generate(0, ctx)
	}
	call := fmt.Sprintf("%s(%s)", f.callee(ctx), strings.Join(args, ", "))
	if f.Standalone {
		return pad(indent) + call + ";"
	}
	return call
}
