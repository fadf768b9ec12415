package properties

import (
	"context"
	"fmt"

	"github.com/queryprops/queryprops/schema"
)

// FieldLoader fetches a single deferred field for an instance identified by
// its primary key
type FieldLoader func(ctx context.Context, model *schema.ModelSchema, pk interface{}, field string) (interface{}, error)

// PropertyLoader computes a property for an instance identified by its primary
// key through a single-object query. Annotation-backed properties use it when
// their value was not selected into the originating query.
type PropertyLoader func(ctx context.Context, model *schema.ModelSchema, pk interface{}, property string) (interface{}, error)

// Instance is one loaded record together with its per-instance property cache.
// Materialized query results are wrapped in instances so selected property
// annotations can seed the cache and getters observe them.
type Instance struct {
	model      *schema.ModelSchema
	props      *Registry
	data       map[string]interface{}
	cache      map[string]interface{}
	deferred   map[string]bool
	loader     FieldLoader
	propLoader PropertyLoader
}

// NewInstance wraps a record in an instance
func NewInstance(model *schema.ModelSchema, props *Registry, data map[string]interface{}) *Instance {
	if data == nil {
		data = make(map[string]interface{})
	}
	return &Instance{
		model:    model,
		props:    props,
		data:     data,
		cache:    make(map[string]interface{}),
		deferred: make(map[string]bool),
	}
}

// WithLoader sets the loader used to fetch deferred fields
func (inst *Instance) WithLoader(loader FieldLoader) *Instance {
	inst.loader = loader
	return inst
}

// WithPropertyLoader sets the loader used to compute unselected
// annotation-backed properties
func (inst *Instance) WithPropertyLoader(loader PropertyLoader) *Instance {
	inst.propLoader = loader
	return inst
}

// Model returns the instance's model schema
func (inst *Instance) Model() *schema.ModelSchema {
	return inst.model
}

// Data returns the underlying record
func (inst *Instance) Data() map[string]interface{} {
	return inst.data
}

// Field returns a loaded field value. Deferred fields report false until
// fetched.
func (inst *Instance) Field(name string) (interface{}, bool) {
	if inst.deferred[name] {
		return nil, false
	}
	v, ok := inst.data[name]
	return v, ok
}

// SetField stores a field value directly on the record
func (inst *Instance) SetField(name string, value interface{}) {
	inst.data[name] = value
	delete(inst.deferred, name)
}

// PrimaryKey returns the instance's primary key value
func (inst *Instance) PrimaryKey() (interface{}, error) {
	pk, err := inst.model.PrimaryKey()
	if err != nil {
		return nil, err
	}
	v, ok := inst.Field(pk)
	if !ok {
		return nil, fmt.Errorf("instance of %s has no primary key value", inst.model.Name)
	}
	return v, nil
}

// Get reads an attribute: a queryable property (cached values win, getter
// results are cached when the descriptor asks for it) or a plain field.
func (inst *Instance) Get(ctx context.Context, name string) (interface{}, error) {
	if desc, ok := inst.props.Get(inst.model, name); ok {
		if v, cached := inst.cache[name]; cached {
			return v, nil
		}
		v, err := desc.GetValue(ctx, inst)
		if err != nil {
			return nil, err
		}
		if desc.Cached {
			inst.cache[name] = v
		}
		return v, nil
	}
	if v, ok := inst.Field(name); ok {
		return v, nil
	}
	return nil, fmt.Errorf("%w: %s on model %s", ErrUnknownAttribute, name, inst.model.Name)
}

// Set assigns an attribute: a queryable property via its setter (applying the
// descriptor's cache behavior) or a plain field
func (inst *Instance) Set(ctx context.Context, name string, value interface{}) error {
	if desc, ok := inst.props.Get(inst.model, name); ok {
		return desc.SetValue(ctx, inst, value)
	}
	if inst.model.HasField(name) {
		inst.SetField(name, value)
		return nil
	}
	return fmt.Errorf("%w: %s on model %s", ErrUnknownAttribute, name, inst.model.Name)
}

// Reset discards the cached value of one property
func (inst *Instance) Reset(name string) {
	delete(inst.cache, name)
}

// ResetAll discards every cached property value
func (inst *Instance) ResetAll() {
	inst.cache = make(map[string]interface{})
}

// IsCached reports whether the property has a cached value
func (inst *Instance) IsCached(name string) bool {
	_, ok := inst.cache[name]
	return ok
}

// CachedValue returns the cached value of a property, or ErrNotCached
func (inst *Instance) CachedValue(name string) (interface{}, error) {
	v, ok := inst.cache[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotCached, name)
	}
	return v, nil
}

// SetCached stores a value in the property cache
func (inst *Instance) SetCached(name string, value interface{}) {
	inst.cache[name] = value
}

// ClearCached removes a value from the property cache
func (inst *Instance) ClearCached(name string) {
	delete(inst.cache, name)
}

// MarkDeferred flags fields as not loaded; reads go through FetchField
func (inst *Instance) MarkDeferred(names ...string) {
	for _, name := range names {
		inst.deferred[name] = true
	}
}

// IsDeferred reports whether the field is flagged as deferred
func (inst *Instance) IsDeferred(name string) bool {
	return inst.deferred[name]
}

// LoadProperty computes a property value through the database, for
// annotation-backed properties accessed without having been selected
func (inst *Instance) LoadProperty(ctx context.Context, name string) (interface{}, error) {
	if inst.propLoader == nil {
		return nil, fmt.Errorf("property %s of %s requires a query and no property loader is configured", name, inst.model.Name)
	}
	pk, err := inst.PrimaryKey()
	if err != nil {
		return nil, err
	}
	return inst.propLoader(ctx, inst.model, pk, name)
}

// FetchField returns a field value, loading it on demand when deferred
func (inst *Instance) FetchField(ctx context.Context, name string) (interface{}, error) {
	if !inst.deferred[name] {
		v, ok := inst.data[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s on model %s", ErrUnknownAttribute, name, inst.model.Name)
		}
		return v, nil
	}
	if inst.loader == nil {
		return nil, fmt.Errorf("field %s of %s is deferred and no loader is configured", name, inst.model.Name)
	}
	pk, err := inst.PrimaryKey()
	if err != nil {
		return nil, err
	}
	v, err := inst.loader(ctx, inst.model, pk, name)
	if err != nil {
		return nil, err
	}
	inst.SetField(name, v)
	return v, nil
}
