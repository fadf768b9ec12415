package schema

import (
	"fmt"
	"sync"
)

// Registry manages all model schemas known to the application. It is safe for
// concurrent use; registration typically happens once at startup and the
// registry is effectively read-only afterwards.
type Registry struct {
	schemas map[string]*ModelSchema
	mu      sync.RWMutex
}

// NewRegistry creates a new schema registry
func NewRegistry() *Registry {
	return &Registry{
		schemas: make(map[string]*ModelSchema),
	}
}

// Register registers a new model schema
func (r *Registry) Register(schema *ModelSchema) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.schemas[schema.Name]; exists {
		return fmt.Errorf("model %s is already registered", schema.Name)
	}
	if !schema.Abstract {
		if _, err := schema.PrimaryKey(); err != nil {
			return err
		}
	}

	r.schemas[schema.Name] = schema
	return nil
}

// MustRegister registers a schema and panics on failure. Intended for
// declarative model setup at package initialization.
func (r *Registry) MustRegister(schema *ModelSchema) *ModelSchema {
	if err := r.Register(schema); err != nil {
		panic(err)
	}
	return schema
}

// Get retrieves a model schema by name
func (r *Registry) Get(name string) (*ModelSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schema, exists := r.schemas[name]
	return schema, exists
}

// List returns the names of all registered models
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	return names
}

// Count returns the number of registered models
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.schemas)
}

// Exists checks if a model schema exists
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.schemas[name]
	return exists
}

// Clear removes all registered schemas (useful for testing)
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.schemas = make(map[string]*ModelSchema)
}

// RelatedModel traverses a single relationship hop from the given model and
// returns the target model schema. Returns false if the name does not denote a
// relationship on the model or the target is not registered.
func (r *Registry) RelatedModel(model *ModelSchema, relationName string) (*ModelSchema, bool) {
	rel, ok := model.RelationshipNamed(relationName)
	if !ok {
		return nil, false
	}
	return r.Get(rel.TargetModel)
}
