package properties

import (
	"fmt"
	"sync"

	"github.com/queryprops/queryprops/schema"
)

// Registry binds property descriptors to model schemas. Lookups consult the
// model's parent chain so properties declared on abstract base models are
// inherited, with same-named redeclarations on a child shadowing the ancestor.
type Registry struct {
	mu       sync.RWMutex
	byModel  map[string][]*Descriptor
	byName   map[string]map[string]*Descriptor
	resolved map[string][]*Descriptor
}

// NewRegistry creates an empty property registry
func NewRegistry() *Registry {
	return &Registry{
		byModel:  make(map[string][]*Descriptor),
		byName:   make(map[string]map[string]*Descriptor),
		resolved: make(map[string][]*Descriptor),
	}
}

// Bind attaches descriptors to a model. Each descriptor is validated; binding
// two properties with the same name to the same model is an error, and a
// property may not share a name with a declared field or relationship.
func (r *Registry) Bind(model *schema.ModelSchema, descs ...*Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, desc := range descs {
		if err := desc.Validate(); err != nil {
			return err
		}
		if model.HasField(desc.Name) {
			return fmt.Errorf("%w: %q collides with a field on model %s", ErrInvalidProperty, desc.Name, model.Name)
		}
		if _, ok := model.RelationshipNamed(desc.Name); ok {
			return fmt.Errorf("%w: %q collides with a relationship on model %s", ErrInvalidProperty, desc.Name, model.Name)
		}
		names := r.byName[model.Name]
		if names == nil {
			names = make(map[string]*Descriptor)
			r.byName[model.Name] = names
		}
		if _, exists := names[desc.Name]; exists {
			return fmt.Errorf("%w: %q is already bound to model %s", ErrInvalidProperty, desc.Name, model.Name)
		}
		names[desc.Name] = desc
		r.byModel[model.Name] = append(r.byModel[model.Name], desc)
	}

	// Memoized resolution is stale for every descendant; recompute lazily
	r.resolved = make(map[string][]*Descriptor)
	return nil
}

// MustBind binds descriptors and panics on failure. Intended for declarative
// model setup at package initialization.
func (r *Registry) MustBind(model *schema.ModelSchema, descs ...*Descriptor) {
	if err := r.Bind(model, descs...); err != nil {
		panic(err)
	}
}

// Get returns the descriptor bound under the name on the model or its
// ancestors, nearest declaration first
func (r *Registry) Get(model *schema.ModelSchema, name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for m := model; m != nil; m = m.Parent {
		if names, ok := r.byName[m.Name]; ok {
			if desc, ok := names[name]; ok {
				return desc, true
			}
		}
	}
	return nil, false
}

// All returns every property visible on the model in declaration order,
// ancestors first, with child redeclarations replacing ancestor entries in
// place
func (r *Registry) All(model *schema.ModelSchema) []*Descriptor {
	r.mu.RLock()
	if descs, ok := r.resolved[model.Name]; ok {
		r.mu.RUnlock()
		return descs
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if descs, ok := r.resolved[model.Name]; ok {
		return descs
	}

	var chain []*schema.ModelSchema
	for m := model; m != nil; m = m.Parent {
		chain = append(chain, m)
	}

	seen := make(map[string]int)
	var descs []*Descriptor
	for i := len(chain) - 1; i >= 0; i-- {
		for _, desc := range r.byModel[chain[i].Name] {
			if at, ok := seen[desc.Name]; ok {
				descs[at] = desc
				continue
			}
			seen[desc.Name] = len(descs)
			descs = append(descs, desc)
		}
	}

	r.resolved[model.Name] = descs
	return descs
}
