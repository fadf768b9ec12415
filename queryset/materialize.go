package queryset

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/queryprops/queryprops/properties"
	"github.com/queryprops/queryprops/query"
)

// uniqueColumn derives a collision-proof result column name for an alias
func uniqueColumn(alias string) string {
	suffix := uuid.New()
	return fmt.Sprintf("%s__%x", alias, suffix[:4])
}

// seedCache stores a selected value unless an entry is already populated
func seedCache(inst *properties.Instance, name string, value interface{}) {
	if !inst.IsCached(name) {
		inst.SetCached(name, value)
	}
}

// All executes the queryset and materializes the rows as instances. Selected
// property annotations seed the property cache of each instance; composite
// properties are reassembled into nested instances with unselected fields
// deferred.
func (qs *QuerySet) All(ctx context.Context) ([]*properties.Instance, error) {
	if qs.err != nil {
		return nil, qs.err
	}
	work := qs.clone()

	// Result column names must not shadow real columns of the root table; an
	// annotation alias that does is renamed for the trip through the driver.
	colFor := make(map[string]string)
	aliases := make([]string, 0, len(work.propAliases))
	for alias := range work.propAliases {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)

	for _, alias := range aliases {
		if _, selected := work.builder.HasAnnotation(alias); !selected {
			continue
		}
		column := alias
		if work.mgr.model.HasField(alias) {
			column = uniqueColumn(alias)
			if err := work.builder.RenameAnnotation(alias, column); err != nil {
				return nil, err
			}
		}
		colFor[alias] = column
	}
	for alias, comp := range work.composites {
		for _, field := range comp.fields {
			logical := alias + "__" + field
			column := logical
			if work.mgr.model.HasField(logical) {
				column = uniqueColumn(logical)
				if err := work.builder.RenameAnnotation(logical, column); err != nil {
					return nil, err
				}
			}
			colFor[logical] = column
		}
	}

	sqlStr, args, err := work.builder.SQL()
	if err != nil {
		return nil, err
	}
	work.logQuery(sqlStr, args)

	records, err := work.builder.All(ctx)
	if err != nil {
		return nil, err
	}

	instances := make([]*properties.Instance, len(records))
	for i, record := range records {
		instances[i] = work.materialize(record, colFor)
	}
	return instances, nil
}

func (qs *QuerySet) materialize(record map[string]interface{}, colFor map[string]string) *properties.Instance {
	// Composite columns first, so their flattened fields never leak into the
	// root record
	nestedByName := make(map[string]*properties.Instance)
	for alias, comp := range qs.composites {
		nested := make(map[string]interface{}, len(comp.fields))
		for _, field := range comp.fields {
			column := colFor[alias+"__"+field]
			nested[field] = record[column]
			delete(record, column)
		}
		if nested[comp.pk] == nil {
			// No related row; the property stays uncached
			continue
		}

		nestedInst := properties.NewInstance(comp.target, qs.mgr.props, nested).
			WithLoader(qs.mgr.fieldLoader).
			WithPropertyLoader(qs.mgr.propertyLoader)
		selected := make(map[string]bool, len(comp.fields))
		for _, field := range comp.fields {
			selected[field] = true
		}
		var deferred []string
		for _, field := range comp.target.AllFields() {
			if !selected[field.Name] {
				deferred = append(deferred, field.Name)
			}
		}
		nestedInst.MarkDeferred(deferred...)
		nestedByName[comp.ref.desc.Name] = nestedInst
	}

	inst := qs.mgr.Wrap(record)
	for name, nested := range nestedByName {
		seedCache(inst, name, nested)
	}

	for alias, ref := range qs.propAliases {
		column, ok := colFor[alias]
		if !ok {
			continue
		}
		if value, present := record[column]; present {
			seedCache(inst, ref.desc.Name, value)
			delete(record, column)
		}
	}

	return inst
}

// First returns the first matching instance under the current ordering, or
// query.ErrNotFound
func (qs *QuerySet) First(ctx context.Context) (*properties.Instance, error) {
	results, err := qs.Limit(1).All(ctx)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, query.ErrNotFound
	}
	return results[0], nil
}

// Get returns the single instance matching the filters. Zero matches is
// query.ErrNotFound; more than one is ErrMultipleResults.
func (qs *QuerySet) Get(ctx context.Context, filters map[string]interface{}) (*properties.Instance, error) {
	results, err := qs.Filter(filters).Limit(2).All(ctx)
	if err != nil {
		return nil, err
	}
	switch len(results) {
	case 0:
		return nil, query.ErrNotFound
	case 1:
		return results[0], nil
	default:
		return nil, ErrMultipleResults
	}
}
