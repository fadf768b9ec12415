package queryset

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/queryprops/queryprops/properties"
	"github.com/queryprops/queryprops/query"
)

// Update applies the assignments to every matching row and returns the number
// of rows affected. Keys may be field names or properties with an update
// implementation; property assignments resolve, possibly through further
// properties, into concrete column values. Two assignments resolving to
// different values for the same column fail with ErrConflictingUpdate.
func (qs *QuerySet) Update(ctx context.Context, values map[string]interface{}) (int64, error) {
	if qs.err != nil {
		return 0, qs.err
	}

	resolved := make(map[string]interface{})

	var resolve func(name string, value interface{}, seen map[string]bool) error
	resolve = func(name string, value interface{}, seen map[string]bool) error {
		if strings.Contains(name, "__") {
			return fmt.Errorf("%w: %s", query.ErrUpdateAcrossRelations, name)
		}
		desc, isProp := qs.mgr.props.Get(qs.mgr.model, name)
		if !isProp {
			if existing, ok := resolved[name]; ok && !reflect.DeepEqual(existing, value) {
				return fmt.Errorf("%w: %s", ErrConflictingUpdate, name)
			}
			resolved[name] = value
			return nil
		}

		if seen[name] {
			return fmt.Errorf("%w: %s", ErrCircularDependency, name)
		}
		seen[name] = true

		columnValues, err := desc.BuildUpdate(properties.ModelRef{Model: qs.mgr.model, Schemas: qs.mgr.schemas}, value)
		if err != nil {
			return err
		}
		columns := make([]string, 0, len(columnValues))
		for column := range columnValues {
			columns = append(columns, column)
		}
		sort.Strings(columns)
		for _, column := range columns {
			if err := resolve(column, columnValues[column], seen); err != nil {
				return err
			}
		}
		return nil
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := resolve(name, values[name], make(map[string]bool)); err != nil {
			return 0, fmt.Errorf("update %q: %w", name, err)
		}
	}

	return qs.builder.Update(ctx, resolved)
}
