package queryset

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/queryprops/queryprops/query"
	"github.com/queryprops/queryprops/schema"
)

// QuerySet is an immutable chain of query operations. Every chainable method
// returns a new queryset; the receiver is never modified. Errors raised while
// resolving a step stick to the chain and surface when it executes.
type QuerySet struct {
	mgr     *Manager
	builder *query.Builder

	// propAliases tracks annotations injected for property references,
	// keyed by alias
	propAliases map[string]*propertyRef

	// composites tracks injected composite properties, keyed by alias
	composites map[string]*compositeRef

	err error
}

type compositeRef struct {
	ref    *propertyRef
	target *schema.ModelSchema
	pk     string
	fields []string
}

func (qs *QuerySet) clone() *QuerySet {
	clone := &QuerySet{
		mgr:         qs.mgr,
		builder:     qs.builder.Clone(),
		propAliases: make(map[string]*propertyRef, len(qs.propAliases)),
		composites:  make(map[string]*compositeRef, len(qs.composites)),
		err:         qs.err,
	}
	for alias, ref := range qs.propAliases {
		clone.propAliases[alias] = ref
	}
	for alias, comp := range qs.composites {
		clone.composites[alias] = comp
	}
	return clone
}

func (qs *QuerySet) fail(err error) *QuerySet {
	if qs.err == nil {
		qs.err = err
	}
	return qs
}

// Err returns the first error raised while building the chain
func (qs *QuerySet) Err() error {
	return qs.err
}

// Filter narrows the queryset to rows matching all given conditions. Keys are
// query-path tokens: field names, relationship paths, property references,
// each with an optional lookup suffix.
func (qs *QuerySet) Filter(filters map[string]interface{}) *QuerySet {
	return qs.addFilters(filters, false)
}

// Exclude narrows the queryset to rows matching none of the given conditions
func (qs *QuerySet) Exclude(filters map[string]interface{}) *QuerySet {
	return qs.addFilters(filters, true)
}

func (qs *QuerySet) addFilters(filters map[string]interface{}, negate bool) *QuerySet {
	clone := qs.clone()
	if clone.err != nil {
		return clone
	}

	tokens := make([]string, 0, len(filters))
	for token := range filters {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)

	rc := &rewriteContext{}
	pred := &query.Predicate{}
	for _, token := range tokens {
		p, err := clone.filterToken(rc, token, filters[token])
		if err != nil {
			return clone.fail(fmt.Errorf("filter %q: %w", token, err))
		}
		pred.AddGroup(p)
	}
	if negate {
		pred.Negate()
	}
	clone.builder.Where(pred)
	return clone
}

// Where adds a raw predicate. Column names in the predicate must already be
// qualified or be annotation aliases.
func (qs *QuerySet) Where(p *query.Predicate) *QuerySet {
	clone := qs.clone()
	if clone.err != nil {
		return clone
	}
	clone.builder.Where(p)
	return clone
}

// OrderBy sets the ordering. Tokens may be field paths, annotation aliases or
// property references; a leading minus orders descending. Referenced
// properties are annotated without being selected.
func (qs *QuerySet) OrderBy(tokens ...string) *QuerySet {
	clone := qs.clone()
	if clone.err != nil {
		return clone
	}
	clone.builder.ClearOrderBy()

	rc := &rewriteContext{}
	for _, token := range tokens {
		desc := strings.HasPrefix(token, "-")
		t := strings.TrimPrefix(token, "-")

		if ref, ok := clone.resolveProperty(t); ok {
			if ref.lookup != "" {
				return clone.fail(fmt.Errorf("order_by %q: %w: %s", token, query.ErrUnsupportedLookup, ref.lookup))
			}
			if err := clone.ensureAnnotated(rc, ref, false); err != nil {
				return clone.fail(fmt.Errorf("order_by %q: %w", token, err))
			}
			clone.builder.OrderBy(ref.alias, desc)
			continue
		}
		if registered, _ := clone.builder.HasAnnotation(t); registered {
			clone.builder.OrderBy(t, desc)
			continue
		}
		col, err := clone.builder.ResolveColumn(t)
		if err != nil {
			return clone.fail(fmt.Errorf("order_by %q: %w", token, err))
		}
		clone.builder.OrderBy(col, desc)
	}
	return clone
}

// Limit caps the number of rows returned
func (qs *QuerySet) Limit(n int) *QuerySet {
	clone := qs.clone()
	clone.builder.Limit(n)
	return clone
}

// Offset skips the first n rows
func (qs *QuerySet) Offset(n int) *QuerySet {
	clone := qs.clone()
	clone.builder.Offset(n)
	return clone
}

// Annotate attaches a computed value under the alias and selects it. Column
// references in the expression may be field paths or property references;
// referenced properties are annotated without being selected.
func (qs *QuerySet) Annotate(alias string, expr query.Expr) *QuerySet {
	clone := qs.clone()
	if clone.err != nil {
		return clone
	}

	rc := &rewriteContext{}
	rewritten, err := clone.rewriteExpr(rc, expr, nil)
	if err != nil {
		return clone.fail(fmt.Errorf("annotate %q: %w", alias, err))
	}
	clone.builder.AddAnnotation(alias, rewritten, true)
	return clone
}

// SelectProperties injects the named properties of the queryset's own model
// as selected annotations, so results carry their values without calling the
// getters
func (qs *QuerySet) SelectProperties(names ...string) *QuerySet {
	clone := qs.clone()
	if clone.err != nil {
		return clone
	}

	rc := &rewriteContext{}
	for _, name := range names {
		if strings.Contains(name, "__") {
			return clone.fail(fmt.Errorf("select %q: only properties of %s can be selected", name, clone.mgr.model.Name))
		}
		desc, ok := clone.mgr.props.Get(clone.mgr.model, name)
		if !ok {
			return clone.fail(fmt.Errorf("%w: %s on model %s", ErrUnknownProperty, name, clone.mgr.model.Name))
		}
		ref := &propertyRef{desc: desc, model: clone.mgr.model, alias: name}
		if err := clone.ensureAnnotated(rc, ref, true); err != nil {
			return clone.fail(fmt.Errorf("select %q: %w", name, err))
		}
	}
	return clone
}

// SQL renders the SELECT statement the queryset would execute
func (qs *QuerySet) SQL() (string, []interface{}, error) {
	if qs.err != nil {
		return "", nil, qs.err
	}
	return qs.builder.SQL()
}

func (qs *QuerySet) logQuery(sqlStr string, args []interface{}) {
	qs.mgr.logger.Debug("executing query", zap.String("sql", sqlStr), zap.Any("args", args))
}

// Count returns the number of matching rows
func (qs *QuerySet) Count(ctx context.Context) (int64, error) {
	if qs.err != nil {
		return 0, qs.err
	}
	if sqlStr, args, err := qs.builder.SQL(); err == nil {
		qs.logQuery(sqlStr, args)
	}
	return qs.builder.Count(ctx)
}

// Exists reports whether any row matches
func (qs *QuerySet) Exists(ctx context.Context) (bool, error) {
	if qs.err != nil {
		return false, qs.err
	}
	return qs.builder.Exists(ctx)
}

// Delete removes every matching row
func (qs *QuerySet) Delete(ctx context.Context) (int64, error) {
	if qs.err != nil {
		return 0, qs.err
	}
	return qs.builder.Delete(ctx)
}

// Aggregate collapses the queryset into a single row of named aggregate
// values. Column references in the expressions may be property references.
func (qs *QuerySet) Aggregate(ctx context.Context, aggregates map[string]query.Expr) (map[string]interface{}, error) {
	if qs.err != nil {
		return nil, qs.err
	}
	clone := qs.clone()

	rc := &rewriteContext{}
	rewritten := make(map[string]query.Expr, len(aggregates))
	for name, expr := range aggregates {
		r, err := clone.rewriteExpr(rc, expr, nil)
		if err != nil {
			return nil, fmt.Errorf("aggregate %q: %w", name, err)
		}
		rewritten[name] = r
	}
	return clone.builder.Aggregate(ctx, rewritten)
}
