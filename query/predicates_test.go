package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupCondition(t *testing.T) {
	tests := []struct {
		name     string
		lookup   string
		value    interface{}
		operator Operator
		expected interface{}
	}{
		{"empty lookup is exact", "", 5, OpEqual, 5},
		{"exact", "exact", 5, OpEqual, 5},
		{"exact nil is null test", "", nil, OpIsNull, nil},
		{"gt", "gt", 2, OpGreaterThan, 2},
		{"gte", "gte", 2, OpGreaterThanOrEqual, 2},
		{"lt", "lt", 2, OpLessThan, 2},
		{"lte", "lte", 2, OpLessThanOrEqual, 2},
		{"in", "in", []interface{}{1, 2}, OpIn, []interface{}{1, 2}},
		{"contains", "contains", "beta", OpLike, "%beta%"},
		{"icontains", "icontains", "beta", OpILike, "%beta%"},
		{"startswith", "startswith", "v2", OpLike, "v2%"},
		{"endswith", "endswith", "rc", OpLike, "%rc"},
		{"range", "range", []interface{}{1, 3}, OpBetween, []interface{}{1, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond, err := LookupCondition("major", tt.lookup, tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.operator, cond.Operator)
			assert.Equal(t, tt.expected, cond.Value)
		})
	}
}

func TestLookupConditionIsNull(t *testing.T) {
	cond, err := LookupCondition("changes", "isnull", true)
	require.NoError(t, err)
	assert.Equal(t, OpIsNull, cond.Operator)

	cond, err = LookupCondition("changes", "isnull", false)
	require.NoError(t, err)
	assert.Equal(t, OpIsNotNull, cond.Operator)
}

func TestLookupConditionUnsupported(t *testing.T) {
	_, err := LookupCondition("major", "regex", "v.*")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedLookup)
}

func TestPredicateSQL(t *testing.T) {
	c := NewCompiler()
	p := And(
		Cond("versions.major", OpEqual, 2),
		Cond("versions.minor", OpGreaterThan, 1),
	)

	sql, err := p.SQL(c)
	require.NoError(t, err)
	assert.Equal(t, "versions.major = $1 AND versions.minor > $2", sql)
	assert.Equal(t, []interface{}{2, 1}, c.Args())
}

func TestPredicateSQLOr(t *testing.T) {
	c := NewCompiler()
	p := Or(
		Cond("versions.major", OpEqual, 1),
		Cond("versions.major", OpEqual, 2),
	)

	sql, err := p.SQL(c)
	require.NoError(t, err)
	assert.Equal(t, "versions.major = $1 OR versions.major = $2", sql)
}

func TestPredicateSQLNegated(t *testing.T) {
	c := NewCompiler()
	p := And(Cond("versions.major", OpEqual, 2)).Negate()

	sql, err := p.SQL(c)
	require.NoError(t, err)
	assert.Equal(t, "NOT (versions.major = $1)", sql)
}

func TestPredicateSQLNestedGroups(t *testing.T) {
	c := NewCompiler()
	p := And(Cond("versions.major", OpEqual, 2))
	p.AddGroup(Or(
		Cond("versions.minor", OpEqual, 0),
		Cond("versions.minor", OpEqual, 1),
	))

	sql, err := p.SQL(c)
	require.NoError(t, err)
	assert.Equal(t, "versions.major = $1 AND (versions.minor = $2 OR versions.minor = $3)", sql)
}

func TestEmptyInList(t *testing.T) {
	c := NewCompiler()
	p := And(Cond("versions.major", OpIn, []interface{}{}))

	sql, err := p.SQL(c)
	require.NoError(t, err)
	assert.Equal(t, "FALSE", sql)

	c = NewCompiler()
	p = And(Cond("versions.major", OpNotIn, []interface{}{}))
	sql, err = p.SQL(c)
	require.NoError(t, err)
	assert.Equal(t, "TRUE", sql)
}

func TestBetweenSQL(t *testing.T) {
	c := NewCompiler()
	p := And(Cond("versions.major", OpBetween, []interface{}{1, 3}))

	sql, err := p.SQL(c)
	require.NoError(t, err)
	assert.Equal(t, "versions.major BETWEEN $1 AND $2", sql)
	assert.Equal(t, []interface{}{1, 3}, c.Args())
}

func TestConditionWithExprValue(t *testing.T) {
	c := NewCompiler()
	p := And(Cond("versions.application_id", OpEqual, Col("applications.id")))

	sql, err := p.SQL(c)
	require.NoError(t, err)
	assert.Equal(t, "versions.application_id = applications.id", sql)
	assert.Empty(t, c.Args())
}

func TestPredicateClone(t *testing.T) {
	p := And(Cond("versions.major", OpEqual, 2))
	p.AddGroup(And(Cond("versions.minor", OpEqual, 0)))

	clone := p.Clone()
	clone.Conditions[0].Value = 99
	clone.Groups[0].Conditions[0].Column = "changed"

	assert.Equal(t, 2, p.Conditions[0].Value)
	assert.Equal(t, "versions.minor", p.Groups[0].Conditions[0].Column)
}

func TestLookupForOperator(t *testing.T) {
	lookup, err := LookupForOperator(OpGreaterThan, 1)
	require.NoError(t, err)
	assert.Equal(t, "gt", lookup)

	lookup, err = LookupForOperator(OpEqual, "x")
	require.NoError(t, err)
	assert.Equal(t, "exact", lookup)

	_, err = LookupForOperator(OpNotEqual, 1)
	assert.ErrorIs(t, err, ErrUnsupportedLookup)
}
