package query

import "fmt"

// Compiler accumulates positional parameters and resolves column references
// while an expression tree is rendered to SQL. Annotation aliases registered
// with the compiler are inlined as parenthesized expressions wherever they are
// referenced, so a filter on a computed value compiles to the same SQL whether
// or not the value is part of the select list.
type Compiler struct {
	counter   int
	args      []interface{}
	inline    map[string]Expr
	selected  map[string]bool
	expanding map[string]bool
}

// NewCompiler creates a compiler with no registered annotations
func NewCompiler() *Compiler {
	return &Compiler{
		inline:    make(map[string]Expr),
		selected:  make(map[string]bool),
		expanding: make(map[string]bool),
	}
}

// RegisterAnnotation makes the alias resolvable during compilation. Selected
// aliases may be referenced by name in GROUP BY and ORDER BY clauses; all
// aliases are inlined when referenced from WHERE or HAVING.
func (c *Compiler) RegisterAnnotation(alias string, expr Expr, selected bool) {
	c.inline[alias] = expr
	if selected {
		c.selected[alias] = true
	}
}

// Param appends a positional parameter and returns its placeholder
func (c *Compiler) Param(value interface{}) string {
	c.counter++
	c.args = append(c.args, value)
	return fmt.Sprintf("$%d", c.counter)
}

// Args returns the accumulated parameter values in placeholder order
func (c *Compiler) Args() []interface{} {
	return c.args
}

// ColumnSQL resolves a column reference. Annotation aliases expand to their
// parenthesized expression; anything else is emitted verbatim as a column name.
func (c *Compiler) ColumnSQL(name string) (string, error) {
	expr, ok := c.inline[name]
	if !ok {
		return name, nil
	}
	if c.expanding[name] {
		return "", fmt.Errorf("circular reference while expanding annotation %q", name)
	}
	c.expanding[name] = true
	defer delete(c.expanding, name)

	sql, err := expr.SQL(c)
	if err != nil {
		return "", fmt.Errorf("expanding annotation %q: %w", name, err)
	}
	return fmt.Sprintf("(%s)", sql), nil
}

// IsAnnotation reports whether the name is a registered annotation alias
func (c *Compiler) IsAnnotation(name string) bool {
	_, ok := c.inline[name]
	return ok
}
