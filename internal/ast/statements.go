package ast

import (
	"fmt"
	"strings"
)

// Block is the parse root: an ordered list of top-level statements sharing one scope.
type Block struct {
	Statements []Statement
}

func (b *Block) String() string {
	parts := make([]string, len(b.Statements))
	for i, s := range b.Statements {
		parts[i] = s.String()
	}
	return strings.Join(parts, "\n")
}

func (b *Block) Tree(level int) string {
	var sb strings.Builder
	sb.WriteString(treePad(level) + "Block\n")
	for _, s := range b.Statements {
		sb.WriteString(s.Tree(level+1) + "\n")
	}
	return sb.String()
}

func (b *Block) Generate(indent int, ctx *Context) string {
	return generateBody(b.Statements, indent, ctx)
}

// generateBody renders statements one per line, all against the same scope.
func generateBody(stmts []Statement, indent int, ctx *Context) string {
	lines := make([]string, len(stmts))
	for i, s := range stmts {
		if s == nil {
			panic(&GenerateDefectError{Node: "<nil>", Reason: "nil statement in body"})
		}
		lines[i] = s.Generate(indent, ctx)
	}
	return strings.Join(lines, "\n")
}

func bodyString(stmts []Statement) string {
	var sb strings.Builder
	for _, s := range stmts {
		for _, line := range strings.Split(s.String(), "\n") {
			if line == "" {
				continue
			}
			sb.WriteString(indentUnit + line + "\n")
		}
	}
	return sb.String()
}

func bodyTree(label string, stmts []Statement, level int) string {
	var sb strings.Builder
	sb.WriteString(treePad(level) + label + ":\n")
	for _, s := range stmts {
		sb.WriteString(s.Tree(level+1) + "\n")
	}
	return sb.String()
}

// braced renders `<header> {\n<body>\n<pad>}`.
func braced(header string, body []Statement, indent int, ctx *Context) string {
	return fmt.Sprintf("%s {\n%s\n%s}", header, generateBody(body, indent+1, ctx), pad(indent))
}

// Assignment binds the value to an identifier. The first assignment of a name in a scope
// declares it with `let`; later ones are plain reassignments.
type Assignment struct {
	Target *Identifier
	Value  Expression
}

func (a *Assignment) statementNode() {}
func (a *Assignment) String() string { return fmt.Sprintf("%s = %s", a.Target, a.Value) }
func (a *Assignment) Tree(level int) string {
	return treePad(level) + "Assignment\n" + a.Target.Tree(level+1) + "\n" + a.Value.Tree(level+1)
}
func (a *Assignment) Generate(indent int, ctx *Context) string {
	value := a.Value.Generate(0, ctx)
	if ctx.Declare(a.Target.Name) {
		return fmt.Sprintf("%slet %s = %s;", pad(indent), a.Target.Name, value)
	}
	return fmt.Sprintf("%s%s = %s;", pad(indent), a.Target.Name, value)
}

// PrintStatement lowers to console.log.
type PrintStatement struct {
	Value Expression
}

func (p *PrintStatement) statementNode() {}
func (p *PrintStatement) String() string { return fmt.Sprintf("print(%s)", p.Value) }
func (p *PrintStatement) Tree(level int) string {
	return treePad(level) + "PrintStatement\n" + p.Value.Tree(level+1)
}
func (p *PrintStatement) Generate(indent int, ctx *Context) string {
	return fmt.Sprintf("%sconsole.log(%s);", pad(indent), p.Value.Generate(0, ctx))
}

// Conditional is an if statement. Else is nil when the source had no else clause;
// a present but empty else renders an empty block.
type Conditional struct {
	Condition Expression
	Body      []Statement
	Else      []Statement
}

func (c *Conditional) statementNode() {}

func (c *Conditional) String() string {
	s := fmt.Sprintf("if %s:\n%s", c.Condition, bodyString(c.Body))
	if len(c.Else) > 0 {
		s += "else:\n" + bodyString(c.Else)
	}
	return s
}

func (c *Conditional) Tree(level int) string {
	s := treePad(level) + "Conditional\n" +
		treePad(level+1) + "condition:\n" + c.Condition.Tree(level+2) + "\n" +
		bodyTree("body", c.Body, level+1)
	if len(c.Else) > 0 {
		s += bodyTree("else", c.Else, level+1)
	}
	return strings.TrimSuffix(s, "\n")
}

func (c *Conditional) Generate(indent int, ctx *Context) string {
	header := fmt.Sprintf("%sif (%s)", pad(indent), c.Condition.Generate(0, ctx))
	code := braced(header, c.Body, indent, ctx)
	if c.Else != nil {
		code += fmt.Sprintf(" else {\n%s\n%s}", generateBody(c.Else, indent+1, ctx), pad(indent))
	}
	return code
}

// WhileLoop repeats its body while the condition holds.
type WhileLoop struct {
	Condition Expression
	Body      []Statement
}

func (w *WhileLoop) statementNode() {}
func (w *WhileLoop) String() string {
	return fmt.Sprintf("while %s:\n%s", w.Condition, bodyString(w.Body))
}
func (w *WhileLoop) Tree(level int) string {
	s := treePad(level) + "WhileLoop\n" +
		treePad(level+1) + "condition:\n" + w.Condition.Tree(level+2) + "\n" +
		bodyTree("body", w.Body, level+1)
	return strings.TrimSuffix(s, "\n")
}
func (w *WhileLoop) Generate(indent int, ctx *Context) string {
	header := fmt.Sprintf("%swhile (%s)", pad(indent), w.Condition.Generate(0, ctx))
	return braced(header, w.Body, indent, ctx)
}

// RangeSpec is the `range(start, stop, step)` iterable of a ForLoop.
type RangeSpec struct {
	Start Expression
	Stop  Expression
	Step  Expression
}

func (r *RangeSpec) String() string {
	return fmt.Sprintf("range(%s, %s, %s)", r.Start, r.Stop, r.Step)
}
func (r *RangeSpec) Tree(level int) string {
	return treePad(level) + "RangeSpec\n" +
		r.Start.Tree(level+1) + "\n" +
		r.Stop.Tree(level+1) + "\n" +
		r.Step.Tree(level+1)
}

// Generate is never reached: ranges are lowered by ForLoop.
func (r *RangeSpec) Generate(indent int, ctx *Context) string {
	panic(&GenerateDefectError{Node: "RangeSpec", Reason: "range is only valid as a for-loop iterable"})
}

// unitStep reports whether the step is the literal 1.
func (r *RangeSpec) unitStep() bool {
	n, ok := r.Step.(*NumberLiteral)
	return ok && n.Value == 1
}

// ForLoop iterates a variable over a RangeSpec.
type ForLoop struct {
	Variable *Identifier
	Iterable *RangeSpec
	Body     []Statement
}

func (f *ForLoop) statementNode() {}
func (f *ForLoop) String() string {
	return fmt.Sprintf("for %s in %s:\n%s", f.Variable, f.Iterable, bodyString(f.Body))
}
func (f *ForLoop) Tree(level int) string {
	s := treePad(level) + "ForLoop\n" +
		treePad(level+1) + "variable:\n" + f.Variable.Tree(level+2) + "\n" +
		treePad(level+1) + "iterable:\n" + f.Iterable.Tree(level+2) + "\n" +
		bodyTree("body", f.Body, level+1)
	return strings.TrimSuffix(s, "\n")
}

// Generate lowers the loop to a counting loop. The condition is always `<`, whatever the
// sign of the step.
func (f *ForLoop) Generate(indent int, ctx *Context) string {
	name := f.Variable.Name
	start := f.Iterable.Start.Generate(0, ctx)
	stop := f.Iterable.Stop.Generate(0, ctx)

	init := fmt.Sprintf("%s = %s", name, start)
	if ctx.Declare(name) {
		init = "let " + init
	}

	advance := name + "++"
	if !f.Iterable.unitStep() {
		advance = fmt.Sprintf("%s += %s", name, f.Iterable.Step.Generate(0, ctx))
	}

	header := fmt.Sprintf("%sfor (%s; %s < %s; %s)", pad(indent), init, name, stop, advance)
	return braced(header, f.Body, indent, ctx)
}

// FunctionDef declares a function. Its body is generated in a fresh scope seeded with the
// parameter names; only the function name is recorded in the enclosing scope.
type FunctionDef struct {
	Name   string
	Params []*Identifier
	Body   []Statement
}

func (f *FunctionDef) statementNode() {}

func (f *FunctionDef) paramNames() []string {
	names := make([]string, len(f.Params))
	for i, p := range f.Params {
		names[i] = p.Name
	}
	return names
}

func (f *FunctionDef) String() string {
	return fmt.Sprintf("def %s(%s):\n%s", f.Name, strings.Join(f.paramNames(), ", "), bodyString(f.Body))
}

func (f *FunctionDef) Tree(level int) string {
	s := treePad(level) + fmt.Sprintf("FunctionDef(%s)\n", f.Name) +
		treePad(level+1) + "params:\n"
	for _, p := range f.Params {
		s += p.Tree(level+2) + "\n"
	}
	s += bodyTree("body", f.Body, level+1)
	return strings.TrimSuffix(s, "\n")
}

func (f *FunctionDef) Generate(indent int, ctx *Context) string {
	names := f.paramNames()
	ctx.Declare(f.Name)
	scope := ctx.Child(names...)
	header := fmt.Sprintf("%sfunction %s(%s)", pad(indent), f.Name, strings.Join(names, ", "))
	return braced(header, f.Body, indent, scope)
}

// ReturnStatement returns from a function; Value is nil for a bare return.
type ReturnStatement struct {
	Value Expression
}

func (r *ReturnStatement) statementNode() {}
func (r *ReturnStatement) String() string {
	if r.Value == nil {
		return "return"
	}
	return fmt.Sprintf("return %s", r.Value)
}
func (r *ReturnStatement) Tree(level int) string {
	if r.Value == nil {
		return treePad(level) + "ReturnStatement"
	}
	return treePad(level) + "ReturnStatement\n" + r.Value.Tree(level+1)
}
func (r *ReturnStatement) Generate(indent int, ctx *Context) string {
	if r.Value == nil {
		return pad(indent) + "return;"
	}
	return fmt.Sprintf("%sreturn %s;", pad(indent), r.Value.Generate(0, ctx))
}

// GenerateDefectError reports a node that reached code generation without a rendering.
// It signals an internal inconsistency, never bad user input.
type GenerateDefectError struct {
	Node   string
	Reason string
}

func (e *GenerateDefectError) Error() string {
	return fmt.Sprintf("internal error: cannot generate %s: %s", e.Node, e.Reason)
}
