package ast

import "sort"

// Context records the names already declared in one lexical scope: the program's global
// scope or a single function body. Blocks of if/while/for share their enclosing Context.
type Context struct {
	declared map[string]struct{}
}

// NewContext returns a scope with names pre-declared.
func NewContext(names ...string) *Context {
	c := &Context{declared: make(map[string]struct{}, len(names))}
	for _, n := range names {
		c.declared[n] = struct{}{}
	}
	return c
}

// Declare records name and reports whether it was newly declared.
func (c *Context) Declare(name string) bool {
	if _, ok := c.declared[name]; ok {
		return false
	}
	c.declared[name] = struct{}{}
	return true
}

// IsDeclared reports whether name is already declared in this scope.
func (c *Context) IsDeclared(name string) bool {
	_, ok := c.declared[name]
	return ok
}

// Names returns the declared names in sorted order.
func (c *Context) Names() []string {
	out := make([]string, 0, len(c.declared))
	for n := range c.declared {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Child returns an independent scope for a function body. Nothing declared in the child
// is visible to the receiver.
func (c *Context) Child(params ...string) *Context {
	return NewContext(params...)
}
