package ast

import (
	"fmt"
	"strconv"
)

// Kind tags a node variant for the factory.
type Kind int

const (
	KindBlock Kind = iota
	KindNumber
	KindString
	KindBoolean
	KindIdentifier
	KindBinaryOp
	KindAssign
	KindPrint
	KindIf
	KindWhile
	KindRange
	KindFor
	KindFunctionDef
	KindFunctionCall
	KindReturn
)

var kindNames = map[Kind]string{
	KindBlock:        "block",
	KindNumber:       "number",
	KindString:       "string",
	KindBoolean:      "boolean",
	KindIdentifier:   "identifier",
	KindBinaryOp:     "binop",
	KindAssign:       "assign",
	KindPrint:        "print",
	KindIf:           "if",
	KindWhile:        "while",
	KindRange:        "range",
	KindFor:          "for",
	KindFunctionDef:  "function_def",
	KindFunctionCall: "function_call",
	KindReturn:       "return",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// FactoryError is raised for unknown kinds or malformed constructor arguments.
// Only the parser calls the factory, so this is always an internal defect.
type FactoryError struct {
	Kind    Kind
	Message string
}

func (e *FactoryError) Error() string {
	return fmt.Sprintf("node factory: %s: %s", e.Kind, e.Message)
}

// Constructor builds a node from positional arguments.
type Constructor func(args ...any) (Node, error)

var constructors = map[Kind]Constructor{
	KindBlock:        newBlock,
	KindNumber:       newNumber,
	KindString:       newString,
	KindBoolean:      newBoolean,
	KindIdentifier:   newIdentifier,
	KindBinaryOp:     newBinaryOp,
	KindAssign:       newAssignment,
	KindPrint:        newPrint,
	KindIf:           newConditional,
	KindWhile:        newWhile,
	KindRange:        newRange,
	KindFor:          newFor,
	KindFunctionDef:  newFunctionDef,
	KindFunctionCall: newFunctionCall,
	KindReturn:       newReturn,
}

// Create builds the node registered for kind.
func Create(kind Kind, args ...any) (Node, error) {
	c, ok := constructors[kind]
	if !ok {
		return nil, &FactoryError{Kind: kind, Message: "unknown node kind"}
	}
	n, err := c(args...)
	if err != nil {
		if _, ok := err.(*FactoryError); ok {
			return nil, err
		}
		return nil, &FactoryError{Kind: kind, Message: err.Error()}
	}
	return n, nil
}

// ===== argument helpers =====

type argList struct {
	kind Kind
	args []any
}

func (a argList) arity(min, max int) error {
	if len(a.args) < min || len(a.args) > max {
		if min == max {
			return &FactoryError{Kind: a.kind, Message: fmt.Sprintf("expected %d arguments, got %d", min, len(a.args))}
		}
		return &FactoryError{Kind: a.kind, Message: fmt.Sprintf("expected %d to %d arguments, got %d", min, max, len(a.args))}
	}
	return nil
}

func (a argList) bad(i int, want string) error {
	return &FactoryError{Kind: a.kind, Message: fmt.Sprintf("argument %d: expected %s, got %T", i, want, a.args[i])}
}

func (a argList) expr(i int) (Expression, error) {
	e, ok := a.args[i].(Expression)
	if !ok || e == nil {
		return nil, a.bad(i, "expression")
	}
	return e, nil
}

func (a argList) optExpr(i int) (Expression, error) {
	if i >= len(a.args) || a.args[i] == nil {
		return nil, nil
	}
	return a.expr(i)
}

func (a argList) str(i int) (string, error) {
	switch v := a.args[i].(type) {
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	}
	return "", a.bad(i, "string")
}

func (a argList) ident(i int) (*Identifier, error) {
	id, ok := a.args[i].(*Identifier)
	if !ok || id == nil {
		return nil, a.bad(i, "identifier")
	}
	return id, nil
}

func (a argList) idents(i int) ([]*Identifier, error) {
	switch v := a.args[i].(type) {
	case nil:
		return nil, nil
	case []*Identifier:
		return v, nil
	}
	return nil, a.bad(i, "identifier list")
}

func (a argList) exprs(i int) ([]Expression, error) {
	switch v := a.args[i].(type) {
	case nil:
		return nil, nil
	case []Expression:
		return v, nil
	}
	return nil, a.bad(i, "expression list")
}

func (a argList) stmts(i int) ([]Statement, error) {
	switch v := a.args[i].(type) {
	case nil:
		return nil, nil
	case []Statement:
		return v, nil
	}
	return nil, a.bad(i, "statement list")
}

// ===== constructors =====

func newBlock(args ...any) (Node, error) {
	a := argList{KindBlock, args}
	if err := a.arity(1, 1); err != nil {
		return nil, err
	}
	stmts, err := a.stmts(0)
	if err != nil {
		return nil, err
	}
	return &Block{Statements: stmts}, nil
}

func newNumber(args ...any) (Node, error) {
	a := argList{KindNumber, args}
	if err := a.arity(1, 1); err != nil {
		return nil, err
	}
	switch v := args[0].(type) {
	case int:
		return &NumberLiteral{Value: int64(v)}, nil
	case int64:
		return &NumberLiteral{Value: v}, nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, &FactoryError{Kind: KindNumber, Message: fmt.Sprintf("invalid integer %q", v)}
		}
		return &NumberLiteral{Value: n}, nil
	}
	return nil, a.bad(0, "integer")
}

func newString(args ...any) (Node, error) {
	a := argList{KindString, args}
	if err := a.arity(1, 1); err != nil {
		return nil, err
	}
	s, err := a.str(0)
	if err != nil {
		return nil, err
	}
	return &StringLiteral{Value: s}, nil
}

// newBoolean accepts a native bool or the textual form produced by the tokenizer.
func newBoolean(args ...any) (Node, error) {
	a := argList{KindBoolean, args}
	if err := a.arity(1, 1); err != nil {
		return nil, err
	}
	switch v := args[0].(type) {
	case bool:
		if v {
			return &BooleanLiteral{Value: "True"}, nil
		}
		return &BooleanLiteral{Value: "False"}, nil
	case string:
		return &BooleanLiteral{Value: v}, nil
	}
	return nil, a.bad(0, "bool or string")
}

func newIdentifier(args ...any) (Node, error) {
	a := argList{KindIdentifier, args}
	if err := a.arity(1, 1); err != nil {
		return nil, err
	}
	name, err := a.str(0)
	if err != nil {
		return nil, err
	}
	return &Identifier{Name: name}, nil
}

func newBinaryOp(args ...any) (Node, error) {
	a := argList{KindBinaryOp, args}
	if err := a.arity(3, 3); err != nil {
		return nil, err
	}
	left, err := a.expr(0)
	if err != nil {
		return nil, err
	}
	op, err := a.str(1)
	if err != nil {
		return nil, err
	}
	right, err := a.expr(2)
	if err != nil {
		return nil, err
	}
	return &BinaryOp{Left: left, Op: op, Right: right}, nil
}

func newAssignment(args ...any) (Node, error) {
	a := argList{KindAssign, args}
	if err := a.arity(2, 2); err != nil {
		return nil, err
	}
	target, err := a.ident(0)
	if err != nil {
		return nil, err
	}
	value, err := a.expr(1)
	if err != nil {
		return nil, err
	}
	return &Assignment{Target: target, Value: value}, nil
}

func newPrint(args ...any) (Node, error) {
	a := argList{KindPrint, args}
	if err := a.arity(1, 1); err != nil {
		return nil, err
	}
	value, err := a.expr(0)
	if err != nil {
		return nil, err
	}
	return &PrintStatement{Value: value}, nil
}

// newConditional takes condition, body and an optional else body. A nil else means absent.
func newConditional(args ...any) (Node, error) {
	a := argList{KindIf, args}
	if err := a.arity(2, 3); err != nil {
		return nil, err
	}
	cond, err := a.expr(0)
	if err != nil {
		return nil, err
	}
	body, err := a.stmts(1)
	if err != nil {
		return nil, err
	}
	var elseBody []Statement
	if len(args) == 3 {
		if elseBody, err = a.stmts(2); err != nil {
			return nil, err
		}
	}
	return &Conditional{Condition: cond, Body: body, Else: elseBody}, nil
}

func newWhile(args ...any) (Node, error) {
	a := argList{KindWhile, args}
	if err := a.arity(2, 2); err != nil {
		return nil, err
	}
	cond, err := a.expr(0)
	if err != nil {
		return nil, err
	}
	body, err := a.stmts(1)
	if err != nil {
		return nil, err
	}
	return &WhileLoop{Condition: cond, Body: body}, nil
}

// newRange takes start, stop and an optional step (default literal 1).
func newRange(args ...any) (Node, error) {
	a := argList{KindRange, args}
	if err := a.arity(2, 3); err != nil {
		return nil, err
	}
	start, err := a.expr(0)
	if err != nil {
		return nil, err
	}
	stop, err := a.expr(1)
	if err != nil {
		return nil, err
	}
	step, err := a.optExpr(2)
	if err != nil {
		return nil, err
	}
	if step == nil {
		step = &NumberLiteral{Value: 1}
	}
	return &RangeSpec{Start: start, Stop: stop, Step: step}, nil
}

func newFor(args ...any) (Node, error) {
	a := argList{KindFor, args}
	if err := a.arity(3, 3); err != nil {
		return nil, err
	}
	variable, err := a.ident(0)
	if err != nil {
		return nil, err
	}
	iterable, ok := args[1].(*RangeSpec)
	if !ok || iterable == nil {
		return nil, a.bad(1, "range")
	}
	body, err := a.stmts(2)
	if err != nil {
		return nil, err
	}
	return &ForLoop{Variable: variable, Iterable: iterable, Body: body}, nil
}

func newFunctionDef(args ...any) (Node, error) {
	a := argList{KindFunctionDef, args}
	if err := a.arity(3, 3); err != nil {
		return nil, err
	}
	name, err := a.str(0)
	if err != nil {
		return nil, err
	}
	params, err := a.idents(1)
	if err != nil {
		return nil, err
	}
	body, err := a.stmts(2)
	if err != nil {
		return nil, err
	}
	return &FunctionDef{Name: name, Params: params, Body: body}, nil
}

// newFunctionCall takes a callee (name or expression), the arguments and an optional
// standalone flag marking a call used as a statement.
func newFunctionCall(args ...any) (Node, error) {
	a := argList{KindFunctionCall, args}
	if err := a.arity(2, 3); err != nil {
		return nil, err
	}
	call := &FunctionCall{}
	switch v := args[0].(type) {
	case string:
		call.Name = v
	case *Identifier:
		call.Name = v.Name
	case Expression:
		call.Callee = v
	default:
		return nil, a.bad(0, "callee name or expression")
	}
	callArgs, err := a.exprs(1)
	if err != nil {
		return nil, err
	}
	call.Args = callArgs
	if len(args) == 3 {
		standalone, ok := args[2].(bool)
		if !ok {
			return nil, a.bad(2, "bool")
		}
		call.Standalone = standalone
	}
	return call, nil
}

func newReturn(args ...any) (Node, error) {
	a := argList{KindReturn, args}
	if err := a.arity(0, 1); err != nil {
		return nil, err
	}
	value, err := a.optExpr(0)
	if err != nil {
		return nil, err
	}
	return &ReturnStatement{Value: value}, nil
}
