package ast

// Visitor is invoked for each node reached by Walk. If Visit returns nil the children of
// node are not visited.
type Visitor interface {
	Visit(node Node) (w Visitor)
}

type inspector func(Node) bool

func (f inspector) Visit(node Node) Visitor {
	if f(node) {
		return f
	}
	return nil
}

// Inspect traverses the tree depth-first, calling f for every node. Returning false from f
// prunes the subtree.
func Inspect(node Node, f func(Node) bool) {
	Walk(inspector(f), node)
}

// Walk traverses node and its children in source order.
func Walk(v Visitor, node Node) {
	if node == nil {
		return
	}
	if v = v.Visit(node); v == nil {
		return
	}

	switch n := node.(type) {
	case *Block:
		walkStatements(v, n.Statements)
	case *BinaryOp:
		Walk(v, n.Left)
		Walk(v, n.Right)
	case *FunctionCall:
		if n.Callee != nil {
			Walk(v, n.Callee)
		}
		for _, a := range n.Args {
			Walk(v, a)
		}
	case *Assignment:
		Walk(v, n.Target)
		Walk(v, n.Value)
	case *PrintStatement:
		Walk(v, n.Value)
	case *Conditional:
		Walk(v, n.Condition)
		walkStatements(v, n.Body)
		walkStatements(v, n.Else)
	case *WhileLoop:
		Walk(v, n.Condition)
		walkStatements(v, n.Body)
	case *RangeSpec:
		Walk(v, n.Start)
		Walk(v, n.Stop)
		Walk(v, n.Step)
	case *ForLoop:
		Walk(v, n.Variable)
		Walk(v, n.Iterable)
		walkStatements(v, n.Body)
	case *FunctionDef:
		for _, p := range n.Params {
			Walk(v, p)
		}
		walkStatements(v, n.Body)
	case *ReturnStatement:
		if n.Value != nil {
			Walk(v, n.Value)
		}
	}
}

func walkStatements(v Visitor, stmts []Statement) {
	for _, s := range stmts {
		Walk(v, s)
	}
}

// Count returns the number of nodes in the tree rooted at node.
func Count(node Node) int {
	n := 0
	Inspect(node, func(Node) bool {
		n++
		return true
	})
	return n
}
