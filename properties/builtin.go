package properties

import (
	"context"
	"fmt"

	"github.com/queryprops/queryprops/query"
	"github.com/queryprops/queryprops/schema"
)

// equalValues compares loosely across the numeric widths drivers return
func equalValues(a, b interface{}) bool {
	if a == b {
		return true
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// compareValues orders two scalar values: numerically when both sides are
// numeric (across the widths drivers return), lexicographically otherwise
func compareValues(a, b interface{}) int {
	if fa, aok := toFloat(a); aok {
		if fb, bok := toFloat(b); bok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	sa, sb := fmt.Sprintf("%v", a), fmt.Sprintf("%v", b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	}
	return 0
}

// ValueCheck builds a boolean property that is true when the field holds one
// of the expected values. A single value compares with equality, several with
// IN. Filtering supports the exact lookup and flips the comparison for false.
func ValueCheck(name, field string, values ...interface{}) *Descriptor {
	matchCond := func(want bool) *query.Condition {
		if len(values) == 1 {
			if want {
				return query.Cond(field, query.OpEqual, values[0])
			}
			return query.Cond(field, query.OpNotEqual, values[0])
		}
		if want {
			return query.Cond(field, query.OpIn, values)
		}
		return query.Cond(field, query.OpNotIn, values)
	}
	return &Descriptor{
		Name: name,
		Getter: func(ctx context.Context, inst *Instance) (interface{}, error) {
			v, err := inst.Get(ctx, field)
			if err != nil {
				return nil, err
			}
			for _, expected := range values {
				if equalValues(v, expected) {
					return true, nil
				}
			}
			return false, nil
		},
		AnnotationBuilder: func(ref ModelRef) (query.Expr, error) {
			return query.NewCase(&query.When{
				Condition: query.And(matchCond(true)),
				Then:      query.Val(true),
			}).WithElse(query.Val(false)), nil
		},
		FilterBuilder: func(ref ModelRef, lookup string, value interface{}) (*query.Predicate, error) {
			if lookup != "" && lookup != "exact" {
				return nil, fmt.Errorf("property %q: %w: %s", name, query.ErrUnsupportedLookup, lookup)
			}
			want, ok := value.(bool)
			if !ok {
				return nil, fmt.Errorf("property %q expects a bool, got %T", name, value)
			}
			return query.And(matchCond(want)), nil
		},
	}
}

// RangeOption adjusts how RangeCheck treats its boundaries
type RangeOption func(*rangeConfig)

type rangeConfig struct {
	exclusive bool
}

// ExcludeBoundaries makes the range comparison strict on both ends
func ExcludeBoundaries() RangeOption {
	return func(cfg *rangeConfig) {
		cfg.exclusive = true
	}
}

// RangeCheck builds a boolean property that is true when the field falls in
// the range. Boundaries are inclusive unless ExcludeBoundaries is given.
func RangeCheck(name, field string, min, max interface{}, opts ...RangeOption) *Descriptor {
	cfg := &rangeConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	inRange := func() *query.Predicate {
		if cfg.exclusive {
			return query.And(
				query.Cond(field, query.OpGreaterThan, min),
				query.Cond(field, query.OpLessThan, max),
			)
		}
		return query.And(query.Cond(field, query.OpBetween, []interface{}{min, max}))
	}
	return &Descriptor{
		Name: name,
		Getter: func(ctx context.Context, inst *Instance) (interface{}, error) {
			v, err := inst.Get(ctx, field)
			if err != nil {
				return nil, err
			}
			lo := compareValues(v, min)
			hi := compareValues(v, max)
			if cfg.exclusive {
				return lo > 0 && hi < 0, nil
			}
			return lo >= 0 && hi <= 0, nil
		},
		AnnotationBuilder: func(ref ModelRef) (query.Expr, error) {
			return query.NewCase(&query.When{
				Condition: inRange(),
				Then:      query.Val(true),
			}).WithElse(query.Val(false)), nil
		},
		FilterBuilder: func(ref ModelRef, lookup string, value interface{}) (*query.Predicate, error) {
			if lookup != "" && lookup != "exact" {
				return nil, fmt.Errorf("property %q: %w: %s", name, query.ErrUnsupportedLookup, lookup)
			}
			want, ok := value.(bool)
			if !ok {
				return nil, fmt.Errorf("property %q expects a bool, got %T", name, value)
			}
			p := inRange()
			if !want {
				p.Negate()
			}
			return p, nil
		},
	}
}

// MapEntry pairs a stored field value with the value the property maps it to
type MapEntry struct {
	From interface{}
	To   interface{}
}

// Mapping builds a property that translates a field's value through a lookup
// table, with a fallback for unmapped values. Filtering goes through the
// annotation.
func Mapping(name, field string, entries []MapEntry, fallback interface{}) *Descriptor {
	return &Descriptor{
		Name: name,
		Getter: func(ctx context.Context, inst *Instance) (interface{}, error) {
			v, err := inst.Get(ctx, field)
			if err != nil {
				return nil, err
			}
			for _, entry := range entries {
				if equalValues(v, entry.From) {
					return entry.To, nil
				}
			}
			return fallback, nil
		},
		AnnotationBuilder: func(ref ModelRef) (query.Expr, error) {
			whens := make([]*query.When, len(entries))
			for i, entry := range entries {
				whens[i] = &query.When{
					Condition: query.And(query.Cond(field, query.OpEqual, entry.From)),
					Then:      query.Val(entry.To),
				}
			}
			return query.NewCase(whens...).WithElse(query.Val(fallback)), nil
		},
	}
}

// Annotation builds a property computed entirely by an SQL expression.
// Selecting the property seeds its value from the query; reading it without a
// selection falls back to a single-object query through the instance's
// property loader.
func Annotation(name string, build AnnotationBuilder) *Descriptor {
	return &Descriptor{
		Name:              name,
		AnnotationBuilder: build,
		Getter: func(ctx context.Context, inst *Instance) (interface{}, error) {
			return inst.LoadProperty(ctx, name)
		},
	}
}

// AggregateAnnotation builds a property over a fixed aggregate expression,
// typically spanning a to-many relation
func AggregateAnnotation(name string, expr query.Expr) *Descriptor {
	return Annotation(name, func(ref ModelRef) (query.Expr, error) {
		return expr, nil
	})
}

// correlatedBuilder roots a builder at the relation's target, constrained to
// rows belonging to the outer model's current row
func correlatedBuilder(ref ModelRef, relation string) (*query.Builder, *schema.ModelSchema, error) {
	rel, ok := ref.Model.RelationshipNamed(relation)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s on model %s", query.ErrUnknownRelation, relation, ref.Model.Name)
	}
	target, ok := ref.Schemas.Get(rel.TargetModel)
	if !ok {
		return nil, nil, fmt.Errorf("%w: target model %s is not registered", query.ErrUnknownRelation, rel.TargetModel)
	}

	// Correlation values reference the outer model with unqualified field
	// names; the engine qualifies them when the annotation is injected.
	sub := query.NewBuilder(target, ref.Schemas, nil)
	switch rel.Kind {
	case schema.BelongsTo:
		targetPK, err := target.PrimaryKey()
		if err != nil {
			return nil, nil, err
		}
		sub.Where(query.And(query.Cond(
			fmt.Sprintf("%s.%s", target.TableName, targetPK),
			query.OpEqual,
			query.Col(rel.ForeignKey),
		)))
	case schema.HasOne, schema.HasMany:
		pk, err := ref.Model.PrimaryKey()
		if err != nil {
			return nil, nil, err
		}
		sub.Where(query.And(query.Cond(
			fmt.Sprintf("%s.%s", target.TableName, rel.ForeignKey),
			query.OpEqual,
			query.Col(pk),
		)))
	default:
		return nil, nil, fmt.Errorf("correlated subqueries across %s relations are not supported", rel.Kind)
	}
	return sub, target, nil
}

// RelatedExistence builds a boolean property that is true when at least one
// related row exists. The SQL form is an EXISTS subquery; filtering compares
// the annotation.
func RelatedExistence(name, relation string) *Descriptor {
	return Annotation(name, func(ref ModelRef) (query.Expr, error) {
		sub, _, err := correlatedBuilder(ref, relation)
		if err != nil {
			return nil, err
		}
		return query.NewExists(sub), nil
	})
}

// RelatedAbsence is the negated form of RelatedExistence, true when no related
// row exists
func RelatedAbsence(name, relation string) *Descriptor {
	return Annotation(name, func(ref ModelRef) (query.Expr, error) {
		sub, _, err := correlatedBuilder(ref, relation)
		if err != nil {
			return nil, err
		}
		return &query.Exists{Query: sub, Negated: true}, nil
	})
}

// SubqueryExistence builds a boolean property over a caller-supplied
// correlated builder, for existence tests the simple relation form cannot
// express
func SubqueryExistence(name string, negated bool, build func(ref ModelRef) (*query.Builder, error)) *Descriptor {
	return Annotation(name, func(ref ModelRef) (query.Expr, error) {
		sub, err := build(ref)
		if err != nil {
			return nil, err
		}
		return &query.Exists{Query: sub, Negated: negated}, nil
	})
}

// SubqueryField builds a scalar property selecting one field from the first
// related row under the given ordering
func SubqueryField(name, relation, field, orderBy string, desc bool) *Descriptor {
	return Annotation(name, func(ref ModelRef) (query.Expr, error) {
		sub, target, err := correlatedBuilder(ref, relation)
		if err != nil {
			return nil, err
		}
		if !target.HasField(field) {
			return nil, fmt.Errorf("%w: %s on model %s", query.ErrUnknownField, field, target.Name)
		}
		sub.OrderBy(fmt.Sprintf("%s.%s", target.TableName, orderBy), desc).Limit(1)
		return query.NewSubquery(sub, field), nil
	})
}

// SubqueryObject builds a composite property that materializes the first
// related row under the given ordering as a nested instance. Every target
// field is selected through its own scalar subquery; unlisted fields of the
// nested instance are deferred.
func SubqueryObject(name, relation, orderBy string, desc bool, fields ...string) *Descriptor {
	return &Descriptor{
		Name: name,
		Getter: func(ctx context.Context, inst *Instance) (interface{}, error) {
			return inst.LoadProperty(ctx, name)
		},
		Composite: &CompositeSpec{
			Relation: relation,
			Fields:   fields,
			FieldExpr: func(ref ModelRef, field string) (query.Expr, error) {
				sub, target, err := correlatedBuilder(ref, relation)
				if err != nil {
					return nil, err
				}
				if !target.HasField(field) {
					return nil, fmt.Errorf("%w: %s on model %s", query.ErrUnknownField, field, target.Name)
				}
				sub.OrderBy(fmt.Sprintf("%s.%s", target.TableName, orderBy), desc).Limit(1)
				return query.NewSubquery(sub, field), nil
			},
		},
	}
}
