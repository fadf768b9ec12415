// Package properties implements queryable properties: named computed
// attributes on model schemas that can participate in query building. A
// property declares any subset of capabilities (getter, setter, filtering,
// annotation, update translation) and the engine dispatches to whichever
// capability an operation needs, rejecting operations the property does not
// support.
package properties

import (
	"context"
	"fmt"
	"strings"

	"github.com/queryprops/queryprops/query"
	"github.com/queryprops/queryprops/schema"
)

// ModelRef carries the model a capability is being invoked for together with
// the schema registry, so implementations can traverse relationships and build
// correlated subqueries.
type ModelRef struct {
	Model   *schema.ModelSchema
	Schemas *schema.Registry
}

// Getter computes the property value from a loaded instance
type Getter func(ctx context.Context, inst *Instance) (interface{}, error)

// Setter applies a value to a loaded instance and may return a derived value
// for CacheReturnValue behavior
type Setter func(ctx context.Context, inst *Instance, value interface{}) (interface{}, error)

// AnnotationBuilder produces the expression that computes the property in SQL.
// Column references in the returned expression use query-path tokens relative
// to the property's model; the engine qualifies them during injection.
type AnnotationBuilder func(ref ModelRef) (query.Expr, error)

// FilterBuilder translates a lookup and value into a predicate. The lookup is
// the token suffix left after the property name, passed verbatim.
type FilterBuilder func(ref ModelRef, lookup string, value interface{}) (*query.Predicate, error)

// UpdateBuilder translates a property assignment into concrete column values
type UpdateBuilder func(ref ModelRef, value interface{}) (map[string]interface{}, error)

// CompositeSpec marks a property whose annotation materializes a related
// object rather than a scalar. Each listed field of the relation's target
// model is injected as its own flattened annotation and reassembled into a
// nested instance after execution. An empty field list selects every target
// field.
type CompositeSpec struct {
	Relation  string
	Fields    []string
	FieldExpr func(ref ModelRef, field string) (query.Expr, error)
}

// Descriptor declares a queryable property and its capabilities. Every
// capability is optional; operations that need a missing one fail with an
// UnsupportedOperationError.
type Descriptor struct {
	Name string

	Getter            Getter
	Setter            Setter
	FilterBuilder     FilterBuilder
	AnnotationBuilder AnnotationBuilder
	UpdateBuilder     UpdateBuilder

	// Cached makes successful getter results stick on the instance until reset
	Cached bool

	// SetterCacheBehavior runs after each successful setter call
	SetterCacheBehavior CacheBehavior

	// FilterRequiresAnnotation forces the annotation to be injected before the
	// filter predicate is applied, so the predicate can reference the alias
	FilterRequiresAnnotation bool

	// Composite is set for properties that materialize a related object
	Composite *CompositeSpec
}

// Validate checks structural requirements on the descriptor
func (d *Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: name must not be empty", ErrInvalidProperty)
	}
	if strings.Contains(d.Name, "__") {
		return fmt.Errorf("%w: name %q must not contain %q", ErrInvalidProperty, d.Name, "__")
	}
	if d.Composite != nil {
		if d.Composite.Relation == "" || d.Composite.FieldExpr == nil {
			return fmt.Errorf("%w: composite property %q needs a relation and field expressions", ErrInvalidProperty, d.Name)
		}
	}
	return nil
}

// SupportsGetter reports whether the property can be read on an instance
func (d *Descriptor) SupportsGetter() bool { return d.Getter != nil }

// SupportsSetter reports whether the property can be assigned on an instance
func (d *Descriptor) SupportsSetter() bool { return d.Setter != nil }

// SupportsAnnotation reports whether the property can be computed in SQL
func (d *Descriptor) SupportsAnnotation() bool {
	return d.AnnotationBuilder != nil || d.Composite != nil
}

// SupportsFiltering reports whether the property can appear in filter
// conditions, either through a dedicated filter implementation or through its
// annotation
func (d *Descriptor) SupportsFiltering() bool {
	return d.FilterBuilder != nil || d.AnnotationBuilder != nil
}

// SupportsUpdate reports whether the property can appear in update assignments
func (d *Descriptor) SupportsUpdate() bool { return d.UpdateBuilder != nil }

// BuildAnnotation produces the property's SQL expression
func (d *Descriptor) BuildAnnotation(ref ModelRef) (query.Expr, error) {
	if d.AnnotationBuilder == nil {
		return nil, &UnsupportedOperationError{Property: d.Name, Capability: "annotation"}
	}
	return d.AnnotationBuilder(ref)
}

// BuildFilter produces a predicate for the given lookup and value. The second
// return value reports whether the predicate needs the property's annotation
// injected before it can compile. A property without a dedicated filter
// implementation falls back to comparing its annotation alias directly.
func (d *Descriptor) BuildFilter(ref ModelRef, lookup string, value interface{}) (*query.Predicate, bool, error) {
	if d.FilterBuilder != nil {
		pred, err := d.FilterBuilder(ref, lookup, value)
		if err != nil {
			return nil, false, err
		}
		return pred, d.FilterRequiresAnnotation, nil
	}
	if d.AnnotationBuilder != nil {
		cond, err := query.LookupCondition(d.Name, lookup, value)
		if err != nil {
			return nil, false, fmt.Errorf("property %q: %w", d.Name, err)
		}
		return query.And(cond), true, nil
	}
	return nil, false, &UnsupportedOperationError{Property: d.Name, Capability: "filtering"}
}

// BuildUpdate translates an assignment into column values
func (d *Descriptor) BuildUpdate(ref ModelRef, value interface{}) (map[string]interface{}, error) {
	if d.UpdateBuilder == nil {
		return nil, &UnsupportedOperationError{Property: d.Name, Capability: "update"}
	}
	return d.UpdateBuilder(ref, value)
}

// GetValue computes the property on a loaded instance
func (d *Descriptor) GetValue(ctx context.Context, inst *Instance) (interface{}, error) {
	if d.Getter == nil {
		return nil, &UnsupportedOperationError{Property: d.Name, Capability: "reading"}
	}
	return d.Getter(ctx, inst)
}

// SetValue assigns the property on a loaded instance and reconciles the cache
// according to the descriptor's cache behavior
func (d *Descriptor) SetValue(ctx context.Context, inst *Instance, value interface{}) error {
	if d.Setter == nil {
		return &UnsupportedOperationError{Property: d.Name, Capability: "writing"}
	}
	returned, err := d.Setter(ctx, inst, value)
	if err != nil {
		return err
	}
	d.SetterCacheBehavior.Apply(inst, d.Name, value, returned)
	return nil
}
