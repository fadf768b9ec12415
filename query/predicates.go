// Package query provides the relational query builder that queryable
// properties are rewritten onto: condition trees, computed expressions, named
// annotations, relationship joins and SQL generation with parameterized values.
package query

import (
	"fmt"
	"strings"
)

// Operator represents a comparison operator
type Operator int

const (
	OpEqual Operator = iota
	OpNotEqual
	OpGreaterThan
	OpGreaterThanOrEqual
	OpLessThan
	OpLessThanOrEqual
	OpIn
	OpNotIn
	OpLike
	OpILike
	OpIsNull
	OpIsNotNull
	OpBetween
)

// String returns the string representation of the operator
func (o Operator) String() string {
	switch o {
	case OpEqual:
		return "="
	case OpNotEqual:
		return "!="
	case OpGreaterThan:
		return ">"
	case OpGreaterThanOrEqual:
		return ">="
	case OpLessThan:
		return "<"
	case OpLessThanOrEqual:
		return "<="
	case OpIn:
		return "IN"
	case OpNotIn:
		return "NOT IN"
	case OpLike:
		return "LIKE"
	case OpILike:
		return "ILIKE"
	case OpIsNull:
		return "IS NULL"
	case OpIsNotNull:
		return "IS NOT NULL"
	case OpBetween:
		return "BETWEEN"
	default:
		return "UNKNOWN"
	}
}

// Condition represents a single comparison against a column. Column may be a
// qualified column name, an annotation alias registered on the builder, or a
// query-path token that a higher layer resolves before the builder compiles it.
type Condition struct {
	Column   string
	Operator Operator
	Value    interface{}
}

// Predicate represents a tree of conditions combined with AND/OR and optional
// negation. It is the builder's equivalent of a boolean filter expression.
type Predicate struct {
	Conditions []*Condition
	Groups     []*Predicate
	Or         bool // children joined with OR instead of AND
	Not        bool // negate the whole group
}

// NewPredicate creates a new predicate group
func NewPredicate(or bool) *Predicate {
	return &Predicate{Or: or}
}

// And creates a predicate whose conditions are combined with AND
func And(conds ...*Condition) *Predicate {
	return &Predicate{Conditions: conds}
}

// Or creates a predicate whose conditions are combined with OR
func Or(conds ...*Condition) *Predicate {
	return &Predicate{Conditions: conds, Or: true}
}

// Cond is a convenience constructor for a single condition
func Cond(column string, op Operator, value interface{}) *Condition {
	return &Condition{Column: column, Operator: op, Value: value}
}

// Add adds a condition to the group
func (p *Predicate) Add(cond *Condition) *Predicate {
	p.Conditions = append(p.Conditions, cond)
	return p
}

// AddGroup adds a nested group
func (p *Predicate) AddGroup(group *Predicate) *Predicate {
	p.Groups = append(p.Groups, group)
	return p
}

// Negate flips the negation flag of the whole group
func (p *Predicate) Negate() *Predicate {
	p.Not = !p.Not
	return p
}

// IsEmpty returns true if the predicate holds no conditions at all
func (p *Predicate) IsEmpty() bool {
	return len(p.Conditions) == 0 && len(p.Groups) == 0
}

// Clone creates a deep copy of the predicate tree
func (p *Predicate) Clone() *Predicate {
	clone := &Predicate{
		Conditions: make([]*Condition, len(p.Conditions)),
		Groups:     make([]*Predicate, len(p.Groups)),
		Or:         p.Or,
		Not:        p.Not,
	}
	for i, cond := range p.Conditions {
		c := *cond
		clone.Conditions[i] = &c
	}
	for i, group := range p.Groups {
		clone.Groups[i] = group.Clone()
	}
	return clone
}

// Walk visits every condition in the tree
func (p *Predicate) Walk(fn func(*Condition) error) error {
	for _, cond := range p.Conditions {
		if err := fn(cond); err != nil {
			return err
		}
	}
	for _, group := range p.Groups {
		if err := group.Walk(fn); err != nil {
			return err
		}
	}
	return nil
}

// SQL converts the predicate tree to SQL using the given compiler
func (p *Predicate) SQL(c *Compiler) (string, error) {
	if p.IsEmpty() {
		return "", nil
	}

	parts := make([]string, 0, len(p.Conditions)+len(p.Groups))
	for _, cond := range p.Conditions {
		sql, err := conditionSQL(cond, c)
		if err != nil {
			return "", err
		}
		parts = append(parts, sql)
	}
	for _, group := range p.Groups {
		sql, err := group.SQL(c)
		if err != nil {
			return "", err
		}
		if sql != "" {
			parts = append(parts, fmt.Sprintf("(%s)", sql))
		}
	}

	connector := " AND "
	if p.Or {
		connector = " OR "
	}
	sql := strings.Join(parts, connector)
	if p.Not {
		sql = fmt.Sprintf("NOT (%s)", sql)
	}
	return sql, nil
}

// conditionSQL converts a condition to SQL with parameterized values
func conditionSQL(cond *Condition, c *Compiler) (string, error) {
	column, err := c.ColumnSQL(cond.Column)
	if err != nil {
		return "", err
	}

	switch cond.Operator {
	case OpEqual, OpNotEqual, OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual:
		if expr, ok := cond.Value.(Expr); ok {
			sql, err := expr.SQL(c)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s %s %s", column, cond.Operator, sql), nil
		}
		return fmt.Sprintf("%s %s %s", column, cond.Operator, c.Param(cond.Value)), nil

	case OpIn, OpNotIn:
		// Subquery memberships are expressed with an Expr value
		if expr, ok := cond.Value.(Expr); ok {
			sql, err := expr.SQL(c)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s %s %s", column, cond.Operator, sql), nil
		}
		values, ok := cond.Value.([]interface{})
		if !ok {
			return "", fmt.Errorf("%s operator requires []interface{} value", cond.Operator)
		}
		if len(values) == 0 {
			// IN with an empty list can never match
			if cond.Operator == OpIn {
				return "FALSE", nil
			}
			return "TRUE", nil
		}
		placeholders := make([]string, len(values))
		for i, v := range values {
			placeholders[i] = c.Param(v)
		}
		return fmt.Sprintf("%s %s (%s)", column, cond.Operator, strings.Join(placeholders, ", ")), nil

	case OpLike, OpILike:
		return fmt.Sprintf("%s %s %s", column, cond.Operator, c.Param(cond.Value)), nil

	case OpIsNull:
		return fmt.Sprintf("%s IS NULL", column), nil

	case OpIsNotNull:
		return fmt.Sprintf("%s IS NOT NULL", column), nil

	case OpBetween:
		values, ok := cond.Value.([]interface{})
		if !ok || len(values) != 2 {
			return "", fmt.Errorf("BETWEEN operator requires [min, max] values")
		}
		return fmt.Sprintf("%s BETWEEN %s AND %s", column, c.Param(values[0]), c.Param(values[1])), nil

	default:
		return "", fmt.Errorf("unsupported operator: %v", cond.Operator)
	}
}

// LookupCondition translates a lookup keyword (the suffix of a query-path
// token, e.g. "gt" in "major__gt") into a concrete condition on the given
// column. An empty lookup means exact comparison.
func LookupCondition(column, lookup string, value interface{}) (*Condition, error) {
	switch lookup {
	case "", "exact":
		if value == nil {
			return Cond(column, OpIsNull, nil), nil
		}
		return Cond(column, OpEqual, value), nil
	case "iexact":
		return Cond(column, OpILike, fmt.Sprintf("%v", value)), nil
	case "gt":
		return Cond(column, OpGreaterThan, value), nil
	case "gte":
		return Cond(column, OpGreaterThanOrEqual, value), nil
	case "lt":
		return Cond(column, OpLessThan, value), nil
	case "lte":
		return Cond(column, OpLessThanOrEqual, value), nil
	case "in":
		return Cond(column, OpIn, value), nil
	case "isnull":
		if isNull, ok := value.(bool); ok && !isNull {
			return Cond(column, OpIsNotNull, nil), nil
		}
		return Cond(column, OpIsNull, nil), nil
	case "contains":
		return Cond(column, OpLike, fmt.Sprintf("%%%v%%", value)), nil
	case "icontains":
		return Cond(column, OpILike, fmt.Sprintf("%%%v%%", value)), nil
	case "startswith":
		return Cond(column, OpLike, fmt.Sprintf("%v%%", value)), nil
	case "endswith":
		return Cond(column, OpLike, fmt.Sprintf("%%%v", value)), nil
	case "like":
		return Cond(column, OpLike, value), nil
	case "ilike":
		return Cond(column, OpILike, value), nil
	case "range":
		return Cond(column, OpBetween, value), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLookup, lookup)
	}
}

// LookupForOperator maps an operator back to its lookup keyword. Used when a
// condition built by one property targets another property and must be
// re-dispatched through that property's filter implementation.
func LookupForOperator(op Operator, value interface{}) (string, error) {
	switch op {
	case OpEqual:
		return "exact", nil
	case OpGreaterThan:
		return "gt", nil
	case OpGreaterThanOrEqual:
		return "gte", nil
	case OpLessThan:
		return "lt", nil
	case OpLessThanOrEqual:
		return "lte", nil
	case OpIn:
		return "in", nil
	case OpIsNull:
		return "isnull", nil
	case OpLike:
		return "like", nil
	case OpILike:
		return "ilike", nil
	case OpBetween:
		return "range", nil
	default:
		return "", fmt.Errorf("%w: no lookup for operator %s", ErrUnsupportedLookup, op)
	}
}
