package query

import (
	"fmt"
	"strings"
)

// Expr is a computed SQL expression. Implementations render themselves through
// a Compiler so parameter placeholders stay consistent across the statement.
type Expr interface {
	SQL(c *Compiler) (string, error)
	ContainsAggregate() bool
}

// Column references a column or annotation alias by name
type Column struct {
	Name string
}

// Col is a convenience constructor for a column reference
func Col(name string) *Column {
	return &Column{Name: name}
}

func (e *Column) SQL(c *Compiler) (string, error) {
	return c.ColumnSQL(e.Name)
}

func (e *Column) ContainsAggregate() bool { return false }

// Value is a literal bound as a query parameter
type Value struct {
	V interface{}
}

// Val is a convenience constructor for a literal value
func Val(v interface{}) *Value {
	return &Value{V: v}
}

func (e *Value) SQL(c *Compiler) (string, error) {
	return c.Param(e.V), nil
}

func (e *Value) ContainsAggregate() bool { return false }

// Concat concatenates string expressions
type Concat struct {
	Parts []Expr
}

// NewConcat builds a concatenation of the given expressions
func NewConcat(parts ...Expr) *Concat {
	return &Concat{Parts: parts}
}

func (e *Concat) SQL(c *Compiler) (string, error) {
	parts := make([]string, len(e.Parts))
	for i, part := range e.Parts {
		sql, err := part.SQL(c)
		if err != nil {
			return "", err
		}
		parts[i] = sql
	}
	return fmt.Sprintf("CONCAT(%s)", strings.Join(parts, ", ")), nil
}

func (e *Concat) ContainsAggregate() bool {
	for _, part := range e.Parts {
		if part.ContainsAggregate() {
			return true
		}
	}
	return false
}

// Coalesce returns the first non-null expression
type Coalesce struct {
	Parts []Expr
}

// NewCoalesce builds a COALESCE over the given expressions
func NewCoalesce(parts ...Expr) *Coalesce {
	return &Coalesce{Parts: parts}
}

func (e *Coalesce) SQL(c *Compiler) (string, error) {
	parts := make([]string, len(e.Parts))
	for i, part := range e.Parts {
		sql, err := part.SQL(c)
		if err != nil {
			return "", err
		}
		parts[i] = sql
	}
	return fmt.Sprintf("COALESCE(%s)", strings.Join(parts, ", ")), nil
}

func (e *Coalesce) ContainsAggregate() bool {
	for _, part := range e.Parts {
		if part.ContainsAggregate() {
			return true
		}
	}
	return false
}

// When pairs a predicate with a result expression inside a Case
type When struct {
	Condition *Predicate
	Then      Expr
}

// Case evaluates branches in order and falls back to Else (NULL when nil)
type Case struct {
	Whens []*When
	Else  Expr
}

// NewCase builds a CASE expression
func NewCase(whens ...*When) *Case {
	return &Case{Whens: whens}
}

// WithElse sets the fallback branch
func (e *Case) WithElse(expr Expr) *Case {
	e.Else = expr
	return e
}

func (e *Case) SQL(c *Compiler) (string, error) {
	var sb strings.Builder
	sb.WriteString("CASE")
	for _, when := range e.Whens {
		condSQL, err := when.Condition.SQL(c)
		if err != nil {
			return "", err
		}
		thenSQL, err := when.Then.SQL(c)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, " WHEN %s THEN %s", condSQL, thenSQL)
	}
	if e.Else != nil {
		elseSQL, err := e.Else.SQL(c)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, " ELSE %s", elseSQL)
	}
	sb.WriteString(" END")
	return sb.String(), nil
}

func (e *Case) ContainsAggregate() bool {
	for _, when := range e.Whens {
		if when.Then.ContainsAggregate() {
			return true
		}
	}
	if e.Else != nil && e.Else.ContainsAggregate() {
		return true
	}
	return false
}

// Aggregate applies an aggregate function to an argument expression. A nil
// argument means COUNT(*).
type Aggregate struct {
	Fn       string
	Arg      Expr
	Distinct bool
}

// Count builds COUNT(arg)
func Count(arg Expr) *Aggregate { return &Aggregate{Fn: "COUNT", Arg: arg} }

// CountAll builds COUNT(*)
func CountAll() *Aggregate { return &Aggregate{Fn: "COUNT"} }

// Sum builds SUM(arg)
func Sum(arg Expr) *Aggregate { return &Aggregate{Fn: "SUM", Arg: arg} }

// Avg builds AVG(arg)
func Avg(arg Expr) *Aggregate { return &Aggregate{Fn: "AVG", Arg: arg} }

// Min builds MIN(arg)
func Min(arg Expr) *Aggregate { return &Aggregate{Fn: "MIN", Arg: arg} }

// Max builds MAX(arg)
func Max(arg Expr) *Aggregate { return &Aggregate{Fn: "MAX", Arg: arg} }

func (e *Aggregate) SQL(c *Compiler) (string, error) {
	if e.Arg == nil {
		return fmt.Sprintf("%s(*)", e.Fn), nil
	}
	argSQL, err := e.Arg.SQL(c)
	if err != nil {
		return "", err
	}
	if e.Distinct {
		return fmt.Sprintf("%s(DISTINCT %s)", e.Fn, argSQL), nil
	}
	return fmt.Sprintf("%s(%s)", e.Fn, argSQL), nil
}

func (e *Aggregate) ContainsAggregate() bool { return true }

// Exists renders an EXISTS (or NOT EXISTS) test over a correlated builder
type Exists struct {
	Query   *Builder
	Negated bool
}

// NewExists builds an EXISTS expression over the given builder
func NewExists(query *Builder) *Exists {
	return &Exists{Query: query}
}

func (e *Exists) SQL(c *Compiler) (string, error) {
	sub, err := e.Query.subquerySQL(c, "")
	if err != nil {
		return "", err
	}
	if e.Negated {
		return fmt.Sprintf("NOT EXISTS (%s)", sub), nil
	}
	return fmt.Sprintf("EXISTS (%s)", sub), nil
}

func (e *Exists) ContainsAggregate() bool { return false }

// Subquery renders a scalar or column subquery over a builder. Field names the
// column or annotation alias to select; an empty Field selects the primary key.
type Subquery struct {
	Query *Builder
	Field string
}

// NewSubquery builds a subquery selecting the given field
func NewSubquery(query *Builder, field string) *Subquery {
	return &Subquery{Query: query, Field: field}
}

func (e *Subquery) SQL(c *Compiler) (string, error) {
	sub, err := e.Query.subquerySQL(c, e.Field)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(%s)", sub), nil
}

func (e *Subquery) ContainsAggregate() bool { return false }

// CollectColumns returns the names of all column references in the expression.
// Subqueries are opaque; their internal references belong to their own builder.
func CollectColumns(expr Expr) []string {
	var names []string
	collectColumns(expr, &names)
	return names
}

func collectColumns(expr Expr, names *[]string) {
	switch e := expr.(type) {
	case *Column:
		*names = append(*names, e.Name)
	case *Concat:
		for _, part := range e.Parts {
			collectColumns(part, names)
		}
	case *Coalesce:
		for _, part := range e.Parts {
			collectColumns(part, names)
		}
	case *Case:
		for _, when := range e.Whens {
			when.Condition.Walk(func(cond *Condition) error { //nolint:errcheck
				*names = append(*names, cond.Column)
				return nil
			})
			collectColumns(when.Then, names)
		}
		if e.Else != nil {
			collectColumns(e.Else, names)
		}
	case *Aggregate:
		if e.Arg != nil {
			collectColumns(e.Arg, names)
		}
	}
}

// RewriteColumns returns a copy of the expression with every column reference
// passed through fn; when fn returns false the reference is kept as-is. Inside
// subqueries only correlated references (column expressions used as condition
// values) are rewritten; the subquery's own columns belong to its builder.
func RewriteColumns(expr Expr, fn func(name string) (Expr, bool)) Expr {
	switch e := expr.(type) {
	case *Column:
		if replacement, ok := fn(e.Name); ok {
			return replacement
		}
		return e
	case *Concat:
		parts := make([]Expr, len(e.Parts))
		for i, part := range e.Parts {
			parts[i] = RewriteColumns(part, fn)
		}
		return &Concat{Parts: parts}
	case *Coalesce:
		parts := make([]Expr, len(e.Parts))
		for i, part := range e.Parts {
			parts[i] = RewriteColumns(part, fn)
		}
		return &Coalesce{Parts: parts}
	case *Case:
		whens := make([]*When, len(e.Whens))
		for i, when := range e.Whens {
			pred := when.Condition.Clone()
			pred.Walk(func(cond *Condition) error { //nolint:errcheck
				if replacement, ok := fn(cond.Column); ok {
					if col, isCol := replacement.(*Column); isCol {
						cond.Column = col.Name
					}
				}
				return nil
			})
			whens[i] = &When{Condition: pred, Then: RewriteColumns(when.Then, fn)}
		}
		rewritten := &Case{Whens: whens}
		if e.Else != nil {
			rewritten.Else = RewriteColumns(e.Else, fn)
		}
		return rewritten
	case *Aggregate:
		if e.Arg == nil {
			return e
		}
		return &Aggregate{Fn: e.Fn, Arg: RewriteColumns(e.Arg, fn), Distinct: e.Distinct}
	case *Exists:
		return &Exists{Query: e.Query.RewriteCorrelatedRefs(fn), Negated: e.Negated}
	case *Subquery:
		return &Subquery{Query: e.Query.RewriteCorrelatedRefs(fn), Field: e.Field}
	default:
		return expr
	}
}
