package properties

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryprops/queryprops/query"
	"github.com/queryprops/queryprops/schema"
)

func TestValueCheck(t *testing.T) {
	schemas, _, version := testSchemas(t)
	ref := ModelRef{Model: version, Schemas: schemas}
	desc := ValueCheck("is_version2", "major", 2)

	inst := NewInstance(version, NewRegistry(), map[string]interface{}{"id": 1, "major": 2})
	v, err := desc.GetValue(context.Background(), inst)
	require.NoError(t, err)
	assert.Equal(t, true, v)

	// Drivers widen integers; the comparison tolerates that
	inst.SetField("major", int64(2))
	v, err = desc.GetValue(context.Background(), inst)
	require.NoError(t, err)
	assert.Equal(t, true, v)

	pred, requiresAnnotation, err := desc.BuildFilter(ref, "", true)
	require.NoError(t, err)
	assert.False(t, requiresAnnotation)
	assert.Equal(t, query.OpEqual, pred.Conditions[0].Operator)

	pred, _, err = desc.BuildFilter(ref, "", false)
	require.NoError(t, err)
	assert.Equal(t, query.OpNotEqual, pred.Conditions[0].Operator)

	_, _, err = desc.BuildFilter(ref, "gt", true)
	assert.ErrorIs(t, err, query.ErrUnsupportedLookup)

	_, _, err = desc.BuildFilter(ref, "", "not a bool")
	assert.Error(t, err)
}

func TestValueCheckMultipleValues(t *testing.T) {
	schemas, _, version := testSchemas(t)
	ref := ModelRef{Model: version, Schemas: schemas}
	desc := ValueCheck("is_early", "major", 0, 1)

	inst := NewInstance(version, NewRegistry(), map[string]interface{}{"id": 1, "major": 1})
	v, err := desc.GetValue(context.Background(), inst)
	require.NoError(t, err)
	assert.Equal(t, true, v)

	inst.SetField("major", 3)
	v, err = desc.GetValue(context.Background(), inst)
	require.NoError(t, err)
	assert.Equal(t, false, v)

	pred, _, err := desc.BuildFilter(ref, "", true)
	require.NoError(t, err)
	assert.Equal(t, query.OpIn, pred.Conditions[0].Operator)

	pred, _, err = desc.BuildFilter(ref, "", false)
	require.NoError(t, err)
	assert.Equal(t, query.OpNotIn, pred.Conditions[0].Operator)
}

func TestRangeCheck(t *testing.T) {
	schemas, _, version := testSchemas(t)
	ref := ModelRef{Model: version, Schemas: schemas}
	desc := RangeCheck("is_early", "major", 0, 1)

	inst := NewInstance(version, NewRegistry(), map[string]interface{}{"id": 1, "major": 1})
	v, err := desc.GetValue(context.Background(), inst)
	require.NoError(t, err)
	assert.Equal(t, true, v)

	pred, _, err := desc.BuildFilter(ref, "", false)
	require.NoError(t, err)
	assert.True(t, pred.Not)
	assert.Equal(t, query.OpBetween, pred.Conditions[0].Operator)
}

func TestRangeCheckMultiDigitValues(t *testing.T) {
	_, _, version := testSchemas(t)
	desc := RangeCheck("supported", "major", 5, 20)

	inst := NewInstance(version, NewRegistry(), map[string]interface{}{"id": 1, "major": 9})
	v, err := desc.GetValue(context.Background(), inst)
	require.NoError(t, err)
	assert.Equal(t, true, v)

	// Driver widths still compare numerically
	inst.SetField("major", int64(19))
	v, err = desc.GetValue(context.Background(), inst)
	require.NoError(t, err)
	assert.Equal(t, true, v)

	inst.SetField("major", 21)
	v, err = desc.GetValue(context.Background(), inst)
	require.NoError(t, err)
	assert.Equal(t, false, v)
}

func TestRangeCheckExclusiveBoundaries(t *testing.T) {
	schemas, _, version := testSchemas(t)
	ref := ModelRef{Model: version, Schemas: schemas}
	desc := RangeCheck("is_mid", "major", 0, 2, ExcludeBoundaries())

	inst := NewInstance(version, NewRegistry(), map[string]interface{}{"id": 1, "major": 2})
	v, err := desc.GetValue(context.Background(), inst)
	require.NoError(t, err)
	assert.Equal(t, false, v)

	inst.SetField("major", 1)
	v, err = desc.GetValue(context.Background(), inst)
	require.NoError(t, err)
	assert.Equal(t, true, v)

	pred, _, err := desc.BuildFilter(ref, "", true)
	require.NoError(t, err)
	require.Len(t, pred.Conditions, 2)
	assert.Equal(t, query.OpGreaterThan, pred.Conditions[0].Operator)
	assert.Equal(t, query.OpLessThan, pred.Conditions[1].Operator)
}

func TestMapping(t *testing.T) {
	_, _, version := testSchemas(t)
	desc := Mapping("channel", "major", []MapEntry{
		{From: 0, To: "alpha"},
		{From: 1, To: "beta"},
	}, "stable")

	inst := NewInstance(version, NewRegistry(), map[string]interface{}{"id": 1, "major": 1})
	v, err := desc.GetValue(context.Background(), inst)
	require.NoError(t, err)
	assert.Equal(t, "beta", v)

	inst.SetField("major", 5)
	v, err = desc.GetValue(context.Background(), inst)
	require.NoError(t, err)
	assert.Equal(t, "stable", v)

	// No dedicated filter implementation: filtering goes through the
	// annotation alias
	pred, requiresAnnotation, err := desc.BuildFilter(ModelRef{Model: version}, "exact", "beta")
	require.NoError(t, err)
	assert.True(t, requiresAnnotation)
	assert.Equal(t, "channel", pred.Conditions[0].Column)
}

func TestMappingAnnotationSQL(t *testing.T) {
	schemas, _, version := testSchemas(t)
	desc := Mapping("channel", "major", []MapEntry{
		{From: 0, To: "alpha"},
		{From: 1, To: "beta"},
	}, "stable")

	expr, err := desc.BuildAnnotation(ModelRef{Model: version, Schemas: schemas})
	require.NoError(t, err)

	c := query.NewCompiler()
	sql, err := expr.SQL(c)
	require.NoError(t, err)
	assert.Equal(t, "CASE WHEN major = $1 THEN $2 WHEN major = $3 THEN $4 ELSE $5 END", sql)
	assert.Equal(t, []interface{}{0, "alpha", 1, "beta", "stable"}, c.Args())
}

func TestRelatedExistenceAnnotation(t *testing.T) {
	schemas, app, _ := testSchemas(t)
	desc := RelatedExistence("has_versions", "versions")

	expr, err := desc.BuildAnnotation(ModelRef{Model: app, Schemas: schemas})
	require.NoError(t, err)

	c := query.NewCompiler()
	sql, err := expr.SQL(c)
	require.NoError(t, err)
	// The correlation reference stays unqualified until injection
	assert.Equal(t, "EXISTS (SELECT versions.id FROM versions WHERE (versions.application_id = id))", sql)
}

func TestAnnotationGetterUsesPropertyLoader(t *testing.T) {
	_, app, _ := testSchemas(t)
	desc := RelatedExistence("has_versions", "versions")

	var askedFor string
	inst := NewInstance(app, NewRegistry(), map[string]interface{}{"id": 7, "name": "skylark"}).
		WithPropertyLoader(func(ctx context.Context, model *schema.ModelSchema, pk interface{}, property string) (interface{}, error) {
			askedFor = property
			assert.Equal(t, 7, pk)
			return true, nil
		})

	v, err := desc.GetValue(context.Background(), inst)
	require.NoError(t, err)
	assert.Equal(t, true, v)
	assert.Equal(t, "has_versions", askedFor)

	bare := NewInstance(app, NewRegistry(), map[string]interface{}{"id": 7})
	_, err = desc.GetValue(context.Background(), bare)
	assert.Error(t, err)
}

func TestRelatedExistenceUnknownRelation(t *testing.T) {
	schemas, app, _ := testSchemas(t)
	desc := RelatedExistence("has_widgets", "widgets")

	_, err := desc.BuildAnnotation(ModelRef{Model: app, Schemas: schemas})
	assert.ErrorIs(t, err, query.ErrUnknownRelation)
}

func TestRelatedAbsenceAnnotation(t *testing.T) {
	schemas, app, _ := testSchemas(t)
	desc := RelatedAbsence("is_unreleased", "versions")

	expr, err := desc.BuildAnnotation(ModelRef{Model: app, Schemas: schemas})
	require.NoError(t, err)

	c := query.NewCompiler()
	sql, err := expr.SQL(c)
	require.NoError(t, err)
	assert.Equal(t, "NOT EXISTS (SELECT versions.id FROM versions WHERE (versions.application_id = id))", sql)
}

func TestSubqueryExistenceAnnotation(t *testing.T) {
	schemas, app, version := testSchemas(t)
	desc := SubqueryExistence("has_major_release", false, func(ref ModelRef) (*query.Builder, error) {
		sub := query.NewBuilder(version, ref.Schemas, nil)
		sub.Where(query.And(
			query.Cond("versions.application_id", query.OpEqual, query.Col("id")),
			query.Cond("versions.minor", query.OpEqual, 0),
		))
		return sub, nil
	})

	expr, err := desc.BuildAnnotation(ModelRef{Model: app, Schemas: schemas})
	require.NoError(t, err)

	c := query.NewCompiler()
	sql, err := expr.SQL(c)
	require.NoError(t, err)
	assert.Equal(t,
		"EXISTS (SELECT versions.id FROM versions WHERE (versions.application_id = id AND versions.minor = $1))",
		sql)
	assert.Equal(t, []interface{}{0}, c.Args())
}

func TestSubqueryFieldAnnotation(t *testing.T) {
	schemas, app, _ := testSchemas(t)
	desc := SubqueryField("highest_major", "versions", "major", "major", true)

	expr, err := desc.BuildAnnotation(ModelRef{Model: app, Schemas: schemas})
	require.NoError(t, err)

	c := query.NewCompiler()
	sql, err := expr.SQL(c)
	require.NoError(t, err)
	assert.Equal(t,
		"(SELECT versions.major FROM versions WHERE (versions.application_id = id) ORDER BY versions.major DESC LIMIT 1)",
		sql)
}

func TestSubqueryFieldUnknownField(t *testing.T) {
	schemas, app, _ := testSchemas(t)
	desc := SubqueryField("highest_bogus", "versions", "bogus", "major", true)

	_, err := desc.BuildAnnotation(ModelRef{Model: app, Schemas: schemas})
	assert.ErrorIs(t, err, query.ErrUnknownField)
}

func TestSubqueryObjectSpec(t *testing.T) {
	schemas, app, _ := testSchemas(t)
	desc := SubqueryObject("latest_version", "versions", "major", true, "id", "major")

	require.NotNil(t, desc.Composite)
	assert.Equal(t, "versions", desc.Composite.Relation)
	assert.Equal(t, []string{"id", "major"}, desc.Composite.Fields)

	expr, err := desc.Composite.FieldExpr(ModelRef{Model: app, Schemas: schemas}, "major")
	require.NoError(t, err)
	c := query.NewCompiler()
	sql, err := expr.SQL(c)
	require.NoError(t, err)
	assert.Contains(t, sql, "ORDER BY versions.major DESC LIMIT 1")
}
