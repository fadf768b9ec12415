package queryset

import (
	"fmt"
	"strings"

	"github.com/queryprops/queryprops/properties"
	"github.com/queryprops/queryprops/query"
)

// rewriteContext tracks which properties are being resolved within one
// top-level operation, so dependency chains between properties terminate
// instead of looping
type rewriteContext struct {
	// stack holds annotation expansions in progress
	stack []string
	// filterStack holds filter dispatches in progress
	filterStack []string
}

func contains(stack []string, alias string) bool {
	for _, s := range stack {
		if s == alias {
			return true
		}
	}
	return false
}

// ensureAnnotated injects the property's annotation under its alias, exactly
// once per queryset. A selected request upgrades a previously non-selected
// injection; the reverse never downgrades.
func (qs *QuerySet) ensureAnnotated(rc *rewriteContext, ref *propertyRef, selected bool) error {
	alias := ref.alias
	if contains(rc.stack, alias) {
		return fmt.Errorf("%w: %s", ErrCircularDependency, alias)
	}

	if registered, sel := qs.builder.HasAnnotation(alias); registered {
		if selected && !sel {
			return qs.builder.MarkSelected(alias)
		}
		return nil
	}

	if ref.desc.Composite != nil {
		return qs.injectComposite(rc, ref, selected)
	}

	rc.stack = append(rc.stack, alias)
	defer func() {
		rc.stack = rc.stack[:len(rc.stack)-1]
	}()

	expr, err := ref.desc.BuildAnnotation(ref.modelRef(qs.mgr.schemas))
	if err != nil {
		return err
	}
	rewritten, err := qs.rewriteExpr(rc, expr, ref.relationPath)
	if err != nil {
		return err
	}
	qs.builder.AddAnnotation(alias, rewritten, selected)
	qs.propAliases[alias] = ref
	return nil
}

// injectComposite flattens a composite property into one selected annotation
// per target field, named alias__field. Only selection makes sense for a
// composite; it has no scalar form to reference.
func (qs *QuerySet) injectComposite(rc *rewriteContext, ref *propertyRef, selected bool) error {
	if !selected {
		return &properties.UnsupportedOperationError{Property: ref.desc.Name, Capability: "referencing"}
	}
	spec := ref.desc.Composite

	rel, ok := ref.model.RelationshipNamed(spec.Relation)
	if !ok {
		return fmt.Errorf("%w: %s on model %s", query.ErrUnknownRelation, spec.Relation, ref.model.Name)
	}
	target, ok := qs.mgr.schemas.Get(rel.TargetModel)
	if !ok {
		return fmt.Errorf("%w: target model %s is not registered", query.ErrUnknownRelation, rel.TargetModel)
	}
	pk, err := target.PrimaryKey()
	if err != nil {
		return err
	}

	fields := spec.Fields
	if len(fields) == 0 {
		for _, field := range target.AllFields() {
			fields = append(fields, field.Name)
		}
	}
	if !contains(fields, pk) {
		fields = append([]string{pk}, fields...)
	}

	rc.stack = append(rc.stack, ref.alias)
	defer func() {
		rc.stack = rc.stack[:len(rc.stack)-1]
	}()

	modelRef := ref.modelRef(qs.mgr.schemas)
	for _, field := range fields {
		expr, err := spec.FieldExpr(modelRef, field)
		if err != nil {
			return err
		}
		rewritten, err := qs.rewriteExpr(rc, expr, ref.relationPath)
		if err != nil {
			return err
		}
		qs.builder.AddAnnotation(ref.alias+"__"+field, rewritten, true)
	}

	qs.composites[ref.alias] = &compositeRef{ref: ref, target: target, pk: pk, fields: fields}
	return nil
}

// rewriteExpr qualifies every unqualified column reference in a property
// expression. References are tokens relative to the property's model: field
// paths resolve to joined columns, property references resolve to annotation
// aliases (injecting the dependency first). Already-qualified names pass
// through.
func (qs *QuerySet) rewriteExpr(rc *rewriteContext, expr query.Expr, relationPath []string) (query.Expr, error) {
	var rerr error
	rewritten := query.RewriteColumns(expr, func(name string) (query.Expr, bool) {
		if rerr != nil || strings.Contains(name, ".") {
			return nil, false
		}
		token := joinPath(relationPath, name)

		if dep, ok := qs.resolveProperty(token); ok {
			if dep.lookup != "" {
				rerr = fmt.Errorf("%w: %s", query.ErrUnsupportedLookup, dep.lookup)
				return nil, false
			}
			if err := qs.ensureAnnotated(rc, dep, false); err != nil {
				rerr = err
				return nil, false
			}
			return query.Col(dep.alias), true
		}

		col, err := qs.builder.ResolveColumn(token)
		if err != nil {
			rerr = err
			return nil, false
		}
		return query.Col(col), true
	})
	if rerr != nil {
		return nil, rerr
	}
	return rewritten, nil
}

// filterToken translates one filter entry into a predicate. Property tokens
// dispatch through the property's filter implementation; anything else is a
// plain column lookup.
func (qs *QuerySet) filterToken(rc *rewriteContext, token string, value interface{}) (*query.Predicate, error) {
	if ref, ok := qs.resolveProperty(token); ok {
		return qs.propertyFilter(rc, ref, ref.lookup, value)
	}

	path, lookup := splitLookup(token)
	col, err := qs.builder.ResolveColumn(path)
	if err != nil {
		return nil, err
	}
	if expr, ok := value.(query.Expr); ok {
		rewritten, err := qs.rewriteExpr(rc, expr, nil)
		if err != nil {
			return nil, err
		}
		value = rewritten
	}
	cond, err := query.LookupCondition(col, lookup, value)
	if err != nil {
		return nil, err
	}
	return query.And(cond), nil
}

// propertyFilter dispatches a lookup to the property's filter implementation
// and rewrites the resulting predicate into builder terms
func (qs *QuerySet) propertyFilter(rc *rewriteContext, ref *propertyRef, lookup string, value interface{}) (*query.Predicate, error) {
	pred, requiresAnnotation, err := ref.desc.BuildFilter(ref.modelRef(qs.mgr.schemas), lookup, value)
	if err != nil {
		return nil, err
	}
	if requiresAnnotation {
		if err := qs.ensureAnnotated(rc, ref, false); err != nil {
			return nil, err
		}
	}

	rc.filterStack = append(rc.filterStack, ref.alias)
	defer func() {
		rc.filterStack = rc.filterStack[:len(rc.filterStack)-1]
	}()
	return qs.rewritePredicate(rc, pred, ref)
}

// rewritePredicate maps a property-produced predicate into builder terms.
// Condition columns are tokens relative to the producing property's model: a
// reference back to a property already being dispatched compares against its
// annotation alias; a reference to another property re-dispatches through that
// property's filter; plain tokens resolve to joined columns.
func (qs *QuerySet) rewritePredicate(rc *rewriteContext, p *query.Predicate, base *propertyRef) (*query.Predicate, error) {
	out := &query.Predicate{Or: p.Or, Not: p.Not}

	for _, cond := range p.Conditions {
		token := joinPath(base.relationPath, cond.Column)
		value := cond.Value
		if expr, ok := value.(query.Expr); ok {
			rewritten, err := qs.rewriteExpr(rc, expr, base.relationPath)
			if err != nil {
				return nil, err
			}
			value = rewritten
		}

		ref2, isProp := qs.resolveProperty(token)
		if !isProp {
			col, err := qs.builder.ResolveColumn(token)
			if err != nil {
				return nil, err
			}
			out.Add(query.Cond(col, cond.Operator, value))
			continue
		}

		if ref2.alias == base.alias || contains(rc.filterStack, ref2.alias) {
			if ref2.lookup != "" {
				return nil, fmt.Errorf("%w: %s", query.ErrUnsupportedLookup, ref2.lookup)
			}
			if err := qs.ensureAnnotated(rc, ref2, false); err != nil {
				return nil, err
			}
			out.Add(query.Cond(ref2.alias, cond.Operator, value))
			continue
		}

		lookup := ref2.lookup
		if lookup == "" {
			var err error
			lookup, err = query.LookupForOperator(cond.Operator, value)
			if err != nil {
				return nil, err
			}
		} else if cond.Operator != query.OpEqual {
			return nil, fmt.Errorf("%w: cannot combine %s with lookup %s", query.ErrUnsupportedLookup, cond.Operator, lookup)
		}
		sub, err := qs.propertyFilter(rc, ref2, lookup, value)
		if err != nil {
			return nil, err
		}
		out.AddGroup(sub)
	}

	for _, group := range p.Groups {
		sub, err := qs.rewritePredicate(rc, group, base)
		if err != nil {
			return nil, err
		}
		out.AddGroup(sub)
	}

	return out, nil
}
