// Package queryset ties schemas, queryable properties and the query builder
// together. A Manager hands out immutable QuerySet chains that resolve
// property references in filters, orderings, annotations, updates and value
// queries, injecting the property annotations the references need and
// materializing results as instances with seeded property caches.
package queryset

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/queryprops/queryprops/properties"
	"github.com/queryprops/queryprops/query"
	"github.com/queryprops/queryprops/schema"
)

// Manager is the entry point for querying one model
type Manager struct {
	model   *schema.ModelSchema
	schemas *schema.Registry
	props   *properties.Registry
	db      query.Querier
	logger  *zap.Logger
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger used for query debug output
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a manager for the model
func NewManager(model *schema.ModelSchema, schemas *schema.Registry, props *properties.Registry, db query.Querier, opts ...Option) *Manager {
	m := &Manager{
		model:   model,
		schemas: schemas,
		props:   props,
		db:      db,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Model returns the manager's model schema
func (m *Manager) Model() *schema.ModelSchema {
	return m.model
}

// Properties returns the property registry
func (m *Manager) Properties() *properties.Registry {
	return m.props
}

// Query starts a new queryset chain
func (m *Manager) Query() *QuerySet {
	return &QuerySet{
		mgr:         m,
		builder:     query.NewBuilder(m.model, m.schemas, m.db),
		propAliases: make(map[string]*propertyRef),
		composites:  make(map[string]*compositeRef),
	}
}

// Wrap turns a raw record into an instance bound to this manager's model,
// with deferred fields and unselected annotation properties loadable on demand
func (m *Manager) Wrap(record map[string]interface{}) *properties.Instance {
	return properties.NewInstance(m.model, m.props, record).
		WithLoader(m.fieldLoader).
		WithPropertyLoader(m.propertyLoader)
}

// Create inserts a record and returns the stored row as an instance
func (m *Manager) Create(ctx context.Context, values map[string]interface{}) (*properties.Instance, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("at least one column is required")
	}

	columns := make([]string, 0, len(values))
	for column := range values {
		if !m.model.HasField(column) {
			return nil, fmt.Errorf("%w: %s on model %s", query.ErrUnknownField, column, m.model.Name)
		}
		columns = append(columns, column)
	}
	sort.Strings(columns)

	placeholders := make([]string, len(columns))
	args := make([]interface{}, len(columns))
	for i, column := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = values[column]
	}

	sqlStr := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		m.model.TableName,
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
	)
	m.logger.Debug("executing query", zap.String("sql", sqlStr), zap.Any("args", args))

	rows, err := m.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, query.ConvertDBError(err)
	}
	defer rows.Close()

	records, err := query.ScanRows(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, query.ErrNotFound
	}
	return m.Wrap(records[0]), nil
}

// Save writes an instance's loaded fields back to its row
func (m *Manager) Save(ctx context.Context, inst *properties.Instance) error {
	pkName, err := m.model.PrimaryKey()
	if err != nil {
		return err
	}
	pk, err := inst.PrimaryKey()
	if err != nil {
		return err
	}

	values := make(map[string]interface{})
	for _, field := range m.model.AllFields() {
		if field.Name == pkName || inst.IsDeferred(field.Name) {
			continue
		}
		if v, ok := inst.Field(field.Name); ok {
			values[field.Name] = v
		}
	}
	if len(values) == 0 {
		return nil
	}

	b := query.NewBuilder(m.model, m.schemas, m.db)
	b.Where(query.And(query.Cond(
		fmt.Sprintf("%s.%s", m.model.TableName, pkName),
		query.OpEqual,
		pk,
	)))
	affected, err := b.Update(ctx, values)
	if err != nil {
		return err
	}
	if affected == 0 {
		return query.ErrNotFound
	}
	return nil
}

// fieldLoader fetches one column of one row, for deferred field access
func (m *Manager) fieldLoader(ctx context.Context, model *schema.ModelSchema, pk interface{}, field string) (interface{}, error) {
	pkName, err := model.PrimaryKey()
	if err != nil {
		return nil, err
	}

	b := query.NewBuilder(model, m.schemas, m.db)
	b.Where(query.And(query.Cond(
		fmt.Sprintf("%s.%s", model.TableName, pkName),
		query.OpEqual,
		pk,
	)))
	rows, err := b.SelectValues(ctx, []query.ValueColumn{{Name: field, Column: field}})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, query.ErrNotFound
	}
	return rows[0][field], nil
}

// propertyLoader computes one property for one row through a single-object
// query that selects the property's annotation
func (m *Manager) propertyLoader(ctx context.Context, model *schema.ModelSchema, pk interface{}, name string) (interface{}, error) {
	pkName, err := model.PrimaryKey()
	if err != nil {
		return nil, err
	}

	mgr := m
	if model != m.model {
		mgr = NewManager(model, m.schemas, m.props, m.db, WithLogger(m.logger))
	}
	inst, err := mgr.Query().
		SelectProperties(name).
		Get(ctx, map[string]interface{}{pkName: pk})
	if err != nil {
		return nil, err
	}
	// A composite property with no related row stays unseeded; that reads
	// as nil rather than a cache miss
	v, err := inst.CachedValue(name)
	if err != nil {
		return nil, nil
	}
	return v, nil
}
