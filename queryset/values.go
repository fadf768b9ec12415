package queryset

import (
	"context"
	"fmt"

	"github.com/queryprops/queryprops/query"
)

// valueColumns maps field tokens to builder output columns. Property tokens
// must already be selected; a values query never injects annotations on its
// own.
func (qs *QuerySet) valueColumns(fields []string) ([]query.ValueColumn, error) {
	if len(fields) == 0 {
		for _, field := range qs.mgr.model.AllFields() {
			fields = append(fields, field.Name)
		}
		for _, ann := range qs.builder.Annotations() {
			if ann.Selected {
				fields = append(fields, ann.Alias)
			}
		}
	}

	cols := make([]query.ValueColumn, 0, len(fields))
	for _, token := range fields {
		if ref, ok := qs.resolveProperty(token); ok {
			if ref.lookup != "" {
				return nil, fmt.Errorf("values %q: %w: %s", token, query.ErrUnsupportedLookup, ref.lookup)
			}
			_, selected := qs.builder.HasAnnotation(ref.alias)
			if !selected {
				return nil, fmt.Errorf("values %q: %w", token, ErrNotSelected)
			}
			cols = append(cols, query.ValueColumn{Name: ref.alias, Column: ref.alias, IsAnnotation: true})
			continue
		}
		if registered, _ := qs.builder.HasAnnotation(token); registered {
			cols = append(cols, query.ValueColumn{Name: token, Column: token, IsAnnotation: true})
			continue
		}
		cols = append(cols, query.ValueColumn{Name: token, Column: token})
	}
	return cols, nil
}

// Values executes the queryset selecting only the named fields and returns
// one map per row. Tokens may be field paths, annotation aliases or selected
// properties; with no arguments every root field and selected annotation is
// returned.
func (qs *QuerySet) Values(ctx context.Context, fields ...string) ([]map[string]interface{}, error) {
	if qs.err != nil {
		return nil, qs.err
	}
	cols, err := qs.valueColumns(fields)
	if err != nil {
		return nil, err
	}
	return qs.builder.Clone().SelectValues(ctx, cols)
}

// ValuesList executes the queryset selecting a single field and returns the
// flat list of its values
func (qs *QuerySet) ValuesList(ctx context.Context, field string) ([]interface{}, error) {
	rows, err := qs.Values(ctx, field)
	if err != nil {
		return nil, err
	}

	name := field
	if ref, ok := qs.resolveProperty(field); ok {
		name = ref.alias
	}
	values := make([]interface{}, len(rows))
	for i, row := range rows {
		values[i] = row[name]
	}
	return values, nil
}
