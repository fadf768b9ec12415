// Package schema provides type definitions and a registry for the model schemas
// that queryable properties are attached to. It describes fields, primary keys
// and relationships with enough detail for the query builder to traverse
// relationship hops and validate column references.
package schema

import "fmt"

// FieldType represents the built-in primitive field types
type FieldType int

const (
	// Text types
	TypeString FieldType = iota
	TypeText

	// Numeric types
	TypeInt
	TypeBigInt
	TypeFloat
	TypeDecimal

	// Boolean
	TypeBool

	// Time types
	TypeTimestamp
	TypeDate

	// Unique identifiers
	TypeUUID

	// JSON
	TypeJSON
)

// String returns the string representation of the field type
func (t FieldType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeText:
		return "text"
	case TypeInt:
		return "int"
	case TypeBigInt:
		return "bigint"
	case TypeFloat:
		return "float"
	case TypeDecimal:
		return "decimal"
	case TypeBool:
		return "bool"
	case TypeTimestamp:
		return "timestamp"
	case TypeDate:
		return "date"
	case TypeUUID:
		return "uuid"
	case TypeJSON:
		return "json"
	default:
		return "unknown"
	}
}

// Field represents a persisted column on a model
type Field struct {
	Name       string
	Type       FieldType
	Nullable   bool
	PrimaryKey bool
}

// RelationKind represents the type of relationship between two models
type RelationKind int

const (
	BelongsTo RelationKind = iota
	HasOne
	HasMany
	HasManyThrough
)

// String returns the string representation of the relationship kind
func (k RelationKind) String() string {
	switch k {
	case BelongsTo:
		return "belongs_to"
	case HasOne:
		return "has_one"
	case HasMany:
		return "has_many"
	case HasManyThrough:
		return "has_many_through"
	default:
		return "unknown"
	}
}

// Relationship represents a named relationship hop from one model to another.
// For BelongsTo, ForeignKey is the column on the owning model; for HasOne and
// HasMany it is the column on the target model pointing back. HasManyThrough
// additionally uses JoinTable and AssociationKey.
type Relationship struct {
	Kind           RelationKind
	Name           string
	TargetModel    string
	ForeignKey     string
	AssociationKey string
	JoinTable      string
	Nullable       bool
}

// ModelSchema represents the complete schema of a model, including an optional
// parent schema for abstract base models whose fields, relationships and
// queryable properties are inherited.
type ModelSchema struct {
	Name      string
	TableName string
	Abstract  bool

	Fields        map[string]*Field
	FieldOrder    []string
	Relationships map[string]*Relationship

	Parent *ModelSchema
}

// NewModelSchema creates a new model schema with a derived table name
func NewModelSchema(name string) *ModelSchema {
	return &ModelSchema{
		Name:          name,
		TableName:     pluralize(toSnakeCase(name)),
		Fields:        make(map[string]*Field),
		Relationships: make(map[string]*Relationship),
	}
}

// AddField adds a field to the schema, preserving declaration order
func (m *ModelSchema) AddField(field *Field) *ModelSchema {
	if _, exists := m.Fields[field.Name]; !exists {
		m.FieldOrder = append(m.FieldOrder, field.Name)
	}
	m.Fields[field.Name] = field
	return m
}

// AddRelationship adds a relationship to the schema
func (m *ModelSchema) AddRelationship(rel *Relationship) *ModelSchema {
	m.Relationships[rel.Name] = rel
	return m
}

// FieldNamed returns the field with the given name, consulting parent schemas
func (m *ModelSchema) FieldNamed(name string) (*Field, bool) {
	for schema := m; schema != nil; schema = schema.Parent {
		if field, ok := schema.Fields[name]; ok {
			return field, true
		}
	}
	return nil, false
}

// HasField returns true if the model or one of its ancestors declares the field
func (m *ModelSchema) HasField(name string) bool {
	_, ok := m.FieldNamed(name)
	return ok
}

// RelationshipNamed returns the relationship with the given name, consulting
// parent schemas
func (m *ModelSchema) RelationshipNamed(name string) (*Relationship, bool) {
	for schema := m; schema != nil; schema = schema.Parent {
		if rel, ok := schema.Relationships[name]; ok {
			return rel, true
		}
	}
	return nil, false
}

// AllFields returns all fields in declaration order, ancestors first, with
// same-named overrides replacing ancestor entries
func (m *ModelSchema) AllFields() []*Field {
	var chain []*ModelSchema
	for schema := m; schema != nil; schema = schema.Parent {
		chain = append(chain, schema)
	}

	seen := make(map[string]bool)
	var fields []*Field
	for i := len(chain) - 1; i >= 0; i-- {
		for _, name := range chain[i].FieldOrder {
			if seen[name] {
				// Override replaces the ancestor entry in place
				for j, field := range fields {
					if field.Name == name {
						fields[j] = chain[i].Fields[name]
					}
				}
				continue
			}
			seen[name] = true
			fields = append(fields, chain[i].Fields[name])
		}
	}
	return fields
}

// PrimaryKey returns the name of the primary key field
func (m *ModelSchema) PrimaryKey() (string, error) {
	for _, field := range m.AllFields() {
		if field.PrimaryKey {
			return field.Name, nil
		}
	}
	return "", fmt.Errorf("model %s has no primary key", m.Name)
}

// toSnakeCase converts a string to snake_case
func toSnakeCase(s string) string {
	var result []rune
	runes := []rune(s)

	for i, r := range runes {
		if i > 0 && r >= 'A' && r <= 'Z' {
			prev := runes[i-1]
			if prev >= 'a' && prev <= 'z' {
				result = append(result, '_')
			} else if i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z' {
				result = append(result, '_')
			}
		}
		if r >= 'A' && r <= 'Z' {
			result = append(result, r+('a'-'A'))
		} else {
			result = append(result, r)
		}
	}
	return string(result)
}

// pluralize adds simple pluralization
func pluralize(s string) string {
	if len(s) == 0 {
		return s
	}
	switch s[len(s)-1] {
	case 's', 'x', 'z':
		return s + "es"
	case 'y':
		return s[:len(s)-1] + "ies"
	}
	return s + "s"
}
