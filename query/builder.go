package query

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/queryprops/queryprops/schema"
)

// Querier is the minimal database surface the builder executes against. Both
// *sql.DB and *sql.Tx satisfy it.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Annotation is a named computed value attached to a builder. Selected
// annotations appear in the select list and come back as result columns;
// non-selected annotations exist only so filters and orderings can reference
// the alias.
type Annotation struct {
	Alias    string
	Expr     Expr
	Selected bool
}

type join struct {
	table string
	alias string
	on    string
}

type orderTerm struct {
	column string
	desc   bool
}

// Builder assembles a SELECT (or UPDATE) against one root model, with
// relationship joins, annotations, predicates, ordering and pagination. All
// chainable methods mutate the receiver; use Clone to branch.
type Builder struct {
	model   *schema.ModelSchema
	schemas *schema.Registry
	db      Querier

	predicates      []*Predicate
	annotations     map[string]*Annotation
	annotationOrder []string

	joins      []*join
	joinPaths  map[string]string
	aliasCount int

	orderBy   []orderTerm
	groupPK   bool
	limitVal  *int
	offsetVal *int
}

// NewBuilder creates a builder rooted at the given model
func NewBuilder(model *schema.ModelSchema, schemas *schema.Registry, db Querier) *Builder {
	return &Builder{
		model:       model,
		schemas:     schemas,
		db:          db,
		annotations: make(map[string]*Annotation),
		joinPaths:   make(map[string]string),
	}
}

// Model returns the root model schema
func (b *Builder) Model() *schema.ModelSchema {
	return b.model
}

// Schemas returns the schema registry the builder resolves relations against
func (b *Builder) Schemas() *schema.Registry {
	return b.schemas
}

// Clone creates a deep copy of the builder so chains can diverge
func (b *Builder) Clone() *Builder {
	clone := &Builder{
		model:           b.model,
		schemas:         b.schemas,
		db:              b.db,
		predicates:      make([]*Predicate, len(b.predicates)),
		annotations:     make(map[string]*Annotation, len(b.annotations)),
		annotationOrder: append([]string(nil), b.annotationOrder...),
		joins:           append([]*join(nil), b.joins...),
		joinPaths:       make(map[string]string, len(b.joinPaths)),
		aliasCount:      b.aliasCount,
		orderBy:         append([]orderTerm(nil), b.orderBy...),
		groupPK:         b.groupPK,
	}
	for i, p := range b.predicates {
		clone.predicates[i] = p.Clone()
	}
	for alias, ann := range b.annotations {
		a := *ann
		clone.annotations[alias] = &a
	}
	for path, alias := range b.joinPaths {
		clone.joinPaths[path] = alias
	}
	if b.limitVal != nil {
		v := *b.limitVal
		clone.limitVal = &v
	}
	if b.offsetVal != nil {
		v := *b.offsetVal
		clone.offsetVal = &v
	}
	return clone
}

// Where adds a predicate group; groups are combined with AND
func (b *Builder) Where(p *Predicate) *Builder {
	if p != nil && !p.IsEmpty() {
		b.predicates = append(b.predicates, p)
	}
	return b
}

// OrderBy appends an ordering term. The column may be a resolvable path or an
// annotation alias.
func (b *Builder) OrderBy(column string, desc bool) *Builder {
	b.orderBy = append(b.orderBy, orderTerm{column: column, desc: desc})
	return b
}

// ClearOrderBy drops all ordering terms
func (b *Builder) ClearOrderBy() *Builder {
	b.orderBy = nil
	return b
}

// Limit caps the number of rows returned
func (b *Builder) Limit(n int) *Builder {
	b.limitVal = &n
	return b
}

// Offset skips the first n rows
func (b *Builder) Offset(n int) *Builder {
	b.offsetVal = &n
	return b
}

// HasAnnotation reports whether an alias is registered and whether it is
// part of the select list
func (b *Builder) HasAnnotation(alias string) (registered, selected bool) {
	ann, ok := b.annotations[alias]
	if !ok {
		return false, false
	}
	return true, ann.Selected
}

// Annotations returns the registered annotations in registration order
func (b *Builder) Annotations() []*Annotation {
	anns := make([]*Annotation, 0, len(b.annotationOrder))
	for _, alias := range b.annotationOrder {
		anns = append(anns, b.annotations[alias])
	}
	return anns
}

// AddAnnotation registers a computed value under the alias. Re-registering an
// existing alias keeps the original expression; a selected registration
// upgrades a previously non-selected one, never the reverse.
func (b *Builder) AddAnnotation(alias string, expr Expr, selected bool) *Builder {
	if existing, ok := b.annotations[alias]; ok {
		if selected {
			existing.Selected = true
		}
		return b
	}
	b.annotations[alias] = &Annotation{Alias: alias, Expr: expr, Selected: selected}
	b.annotationOrder = append(b.annotationOrder, alias)
	if expr.ContainsAggregate() {
		b.groupPK = true
	}
	return b
}

// RenameAnnotation moves an annotation to a new alias, preserving order
func (b *Builder) RenameAnnotation(oldAlias, newAlias string) error {
	ann, ok := b.annotations[oldAlias]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAnnotation, oldAlias)
	}
	if _, taken := b.annotations[newAlias]; taken {
		return fmt.Errorf("annotation alias %s is already in use", newAlias)
	}
	delete(b.annotations, oldAlias)
	ann.Alias = newAlias
	b.annotations[newAlias] = ann
	for i, alias := range b.annotationOrder {
		if alias == oldAlias {
			b.annotationOrder[i] = newAlias
		}
	}
	return nil
}

// MarkSelected promotes an existing annotation into the select list
func (b *Builder) MarkSelected(alias string) error {
	ann, ok := b.annotations[alias]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAnnotation, alias)
	}
	ann.Selected = true
	return nil
}

// RewriteCorrelatedRefs returns a copy of the builder with every column
// expression used as a condition value passed through fn. This is how an
// enclosing statement re-qualifies a correlated subquery's references to its
// own tables.
func (b *Builder) RewriteCorrelatedRefs(fn func(name string) (Expr, bool)) *Builder {
	clone := b.Clone()
	for _, p := range clone.predicates {
		p.Walk(func(cond *Condition) error { //nolint:errcheck
			if expr, ok := cond.Value.(Expr); ok {
				cond.Value = RewriteColumns(expr, fn)
			}
			return nil
		})
	}
	for _, ann := range clone.annotations {
		ann.Expr = RewriteColumns(ann.Expr, fn)
	}
	return clone
}

// HasJoins reports whether any relationship joins were added
func (b *Builder) HasJoins() bool {
	return len(b.joins) > 0
}

func (b *Builder) nextAlias() string {
	b.aliasCount++
	return fmt.Sprintf("t%d", b.aliasCount)
}

// JoinRelation walks the relationship segments from the root model, adding a
// LEFT JOIN per hop, and returns the table alias and model at the end of the
// path. Joins are deduplicated per path so repeated traversals share aliases.
func (b *Builder) JoinRelation(segments []string) (string, *schema.ModelSchema, error) {
	curAlias := b.model.TableName
	curModel := b.model
	pathKey := ""

	for _, seg := range segments {
		rel, ok := curModel.RelationshipNamed(seg)
		if !ok {
			return "", nil, fmt.Errorf("%w: %s on model %s", ErrUnknownRelation, seg, curModel.Name)
		}
		target, ok := b.schemas.Get(rel.TargetModel)
		if !ok {
			return "", nil, fmt.Errorf("%w: target model %s is not registered", ErrUnknownRelation, rel.TargetModel)
		}

		if pathKey == "" {
			pathKey = seg
		} else {
			pathKey = pathKey + "__" + seg
		}

		if alias, joined := b.joinPaths[pathKey]; joined {
			curAlias = alias
			curModel = target
			continue
		}

		alias, err := b.addJoin(rel, curModel, target, curAlias)
		if err != nil {
			return "", nil, err
		}
		b.joinPaths[pathKey] = alias
		curAlias = alias
		curModel = target
	}

	return curAlias, curModel, nil
}

func (b *Builder) addJoin(rel *schema.Relationship, curModel, target *schema.ModelSchema, curAlias string) (string, error) {
	targetPK, err := target.PrimaryKey()
	if err != nil {
		return "", err
	}

	switch rel.Kind {
	case schema.BelongsTo:
		alias := b.nextAlias()
		b.joins = append(b.joins, &join{
			table: target.TableName,
			alias: alias,
			on:    fmt.Sprintf("%s.%s = %s.%s", alias, targetPK, curAlias, rel.ForeignKey),
		})
		return alias, nil

	case schema.HasOne, schema.HasMany:
		curPK, err := curModel.PrimaryKey()
		if err != nil {
			return "", err
		}
		alias := b.nextAlias()
		b.joins = append(b.joins, &join{
			table: target.TableName,
			alias: alias,
			on:    fmt.Sprintf("%s.%s = %s.%s", alias, rel.ForeignKey, curAlias, curPK),
		})
		return alias, nil

	case schema.HasManyThrough:
		curPK, err := curModel.PrimaryKey()
		if err != nil {
			return "", err
		}
		throughAlias := b.nextAlias()
		b.joins = append(b.joins, &join{
			table: rel.JoinTable,
			alias: throughAlias,
			on:    fmt.Sprintf("%s.%s = %s.%s", throughAlias, rel.ForeignKey, curAlias, curPK),
		})
		alias := b.nextAlias()
		b.joins = append(b.joins, &join{
			table: target.TableName,
			alias: alias,
			on:    fmt.Sprintf("%s.%s = %s.%s", alias, targetPK, throughAlias, rel.AssociationKey),
		})
		return alias, nil

	default:
		return "", fmt.Errorf("%w: unsupported relationship kind %s", ErrUnknownRelation, rel.Kind)
	}
}

// ResolveColumn resolves a relationship path ending in a field to a qualified
// column reference, adding joins along the way. A bare field name resolves
// against the root model.
func (b *Builder) ResolveColumn(path string) (string, error) {
	segments := strings.Split(path, "__")
	field := segments[len(segments)-1]
	relations := segments[:len(segments)-1]

	alias, model, err := b.JoinRelation(relations)
	if err != nil {
		return "", err
	}
	if !model.HasField(field) {
		return "", fmt.Errorf("%w: %s on model %s", ErrUnknownField, field, model.Name)
	}
	return fmt.Sprintf("%s.%s", alias, field), nil
}

func (b *Builder) predicateHasAggregate(p *Predicate) bool {
	has := false
	p.Walk(func(cond *Condition) error { //nolint:errcheck
		if ann, ok := b.annotations[cond.Column]; ok && ann.Expr.ContainsAggregate() {
			has = true
		}
		if expr, ok := cond.Value.(Expr); ok && expr.ContainsAggregate() {
			has = true
		}
		return nil
	})
	return has
}

func (b *Builder) registerAnnotations(c *Compiler) {
	for _, alias := range b.annotationOrder {
		ann := b.annotations[alias]
		c.RegisterAnnotation(alias, ann.Expr, ann.Selected)
	}
}

// compileSelect renders the full statement. selectClause overrides the select
// list when non-empty; the default is every root column plus the selected
// annotations.
func (b *Builder) compileSelect(c *Compiler, selectClause string) (string, error) {
	b.registerAnnotations(c)

	var sb strings.Builder
	sb.WriteString("SELECT ")

	if selectClause != "" {
		sb.WriteString(selectClause)
	} else {
		parts := []string{fmt.Sprintf("%s.*", b.model.TableName)}
		for _, alias := range b.annotationOrder {
			ann := b.annotations[alias]
			if !ann.Selected {
				continue
			}
			exprSQL, err := ann.Expr.SQL(c)
			if err != nil {
				return "", err
			}
			parts = append(parts, fmt.Sprintf("%s AS %s", exprSQL, alias))
		}
		sb.WriteString(strings.Join(parts, ", "))
	}

	fmt.Fprintf(&sb, " FROM %s", b.model.TableName)
	for _, j := range b.joins {
		fmt.Fprintf(&sb, " LEFT JOIN %s %s ON %s", j.table, j.alias, j.on)
	}

	var whereParts, havingParts []string
	for _, p := range b.predicates {
		sql, err := p.SQL(c)
		if err != nil {
			return "", err
		}
		if sql == "" {
			continue
		}
		if b.predicateHasAggregate(p) {
			havingParts = append(havingParts, fmt.Sprintf("(%s)", sql))
		} else {
			whereParts = append(whereParts, fmt.Sprintf("(%s)", sql))
		}
	}
	if len(whereParts) > 0 {
		fmt.Fprintf(&sb, " WHERE %s", strings.Join(whereParts, " AND "))
	}

	if b.groupPK {
		pk, err := b.model.PrimaryKey()
		if err != nil {
			return "", err
		}
		groupCols := []string{fmt.Sprintf("%s.%s", b.model.TableName, pk)}
		for _, alias := range b.annotationOrder {
			ann := b.annotations[alias]
			if ann.Selected && !ann.Expr.ContainsAggregate() {
				groupCols = append(groupCols, alias)
			}
		}
		fmt.Fprintf(&sb, " GROUP BY %s", strings.Join(groupCols, ", "))
	}
	if len(havingParts) > 0 {
		fmt.Fprintf(&sb, " HAVING %s", strings.Join(havingParts, " AND "))
	}

	if len(b.orderBy) > 0 {
		terms := make([]string, len(b.orderBy))
		for i, term := range b.orderBy {
			col := term.column
			if ann, ok := b.annotations[term.column]; !ok || !ann.Selected {
				resolved, err := c.ColumnSQL(term.column)
				if err != nil {
					return "", err
				}
				col = resolved
			}
			if term.desc {
				terms[i] = col + " DESC"
			} else {
				terms[i] = col + " ASC"
			}
		}
		fmt.Fprintf(&sb, " ORDER BY %s", strings.Join(terms, ", "))
	}

	if b.limitVal != nil {
		fmt.Fprintf(&sb, " LIMIT %d", *b.limitVal)
	}
	if b.offsetVal != nil {
		fmt.Fprintf(&sb, " OFFSET %d", *b.offsetVal)
	}

	return sb.String(), nil
}

// SQL renders the SELECT statement and its parameter values
func (b *Builder) SQL() (string, []interface{}, error) {
	c := NewCompiler()
	sql, err := b.compileSelect(c, "")
	if err != nil {
		return "", nil, err
	}
	return sql, c.Args(), nil
}

// subquerySQL renders the builder as a subquery selecting a single column,
// using the enclosing statement's compiler for parameter numbering. Field may
// be a column path or one of this builder's annotation aliases; empty selects
// the primary key.
func (b *Builder) subquerySQL(c *Compiler, field string) (string, error) {
	savedInline, savedSelected := c.inline, c.selected
	c.inline = make(map[string]Expr)
	c.selected = make(map[string]bool)
	defer func() {
		c.inline, c.selected = savedInline, savedSelected
	}()

	b.registerAnnotations(c)

	var selectClause string
	switch {
	case field == "":
		pk, err := b.model.PrimaryKey()
		if err != nil {
			return "", err
		}
		selectClause = fmt.Sprintf("%s.%s", b.model.TableName, pk)
	default:
		if ann, ok := b.annotations[field]; ok {
			exprSQL, err := ann.Expr.SQL(c)
			if err != nil {
				return "", err
			}
			selectClause = exprSQL
		} else {
			resolved, err := b.ResolveColumn(field)
			if err != nil {
				return "", err
			}
			selectClause = resolved
		}
	}

	return b.compileSelect(c, selectClause)
}

// All executes the query and returns all matching records
func (b *Builder) All(ctx context.Context) ([]map[string]interface{}, error) {
	query, args, err := b.SQL()
	if err != nil {
		return nil, err
	}
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ConvertDBError(err)
	}
	defer rows.Close()
	return ScanRows(rows)
}

// First executes the query limited to one row and returns it, or ErrNotFound
func (b *Builder) First(ctx context.Context) (map[string]interface{}, error) {
	results, err := b.Clone().Limit(1).All(ctx)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNotFound
	}
	return results[0], nil
}

// Count returns the number of matching rows
func (b *Builder) Count(ctx context.Context) (int64, error) {
	inner := b.Clone().ClearOrderBy()
	c := NewCompiler()
	sel, err := inner.compileSelect(c, "")
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS subquery", sel)

	var count int64
	if err := b.db.QueryRowContext(ctx, query, c.Args()...).Scan(&count); err != nil {
		return 0, ConvertDBError(err)
	}
	return count, nil
}

// Exists reports whether any row matches
func (b *Builder) Exists(ctx context.Context) (bool, error) {
	inner := b.Clone().ClearOrderBy().Limit(1)
	c := NewCompiler()
	sel, err := inner.compileSelect(c, "")
	if err != nil {
		return false, err
	}
	query := fmt.Sprintf("SELECT EXISTS (%s)", sel)

	var exists bool
	if err := b.db.QueryRowContext(ctx, query, c.Args()...).Scan(&exists); err != nil {
		return false, ConvertDBError(err)
	}
	return exists, nil
}

// Update applies the column assignments to every matching row and returns the
// number of rows affected. Updates may not traverse relationship joins.
func (b *Builder) Update(ctx context.Context, values map[string]interface{}) (int64, error) {
	if b.HasJoins() {
		return 0, ErrUpdateAcrossRelations
	}
	if len(values) == 0 {
		return 0, nil
	}

	c := NewCompiler()
	b.registerAnnotations(c)

	columns := make([]string, 0, len(values))
	for column := range values {
		if !b.model.HasField(column) {
			return 0, fmt.Errorf("%w: %s on model %s", ErrUnknownField, column, b.model.Name)
		}
		columns = append(columns, column)
	}
	sort.Strings(columns)

	assignments := make([]string, len(columns))
	for i, column := range columns {
		if expr, ok := values[column].(Expr); ok {
			exprSQL, err := expr.SQL(c)
			if err != nil {
				return 0, err
			}
			assignments[i] = fmt.Sprintf("%s = %s", column, exprSQL)
		} else {
			assignments[i] = fmt.Sprintf("%s = %s", column, c.Param(values[column]))
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "UPDATE %s SET %s", b.model.TableName, strings.Join(assignments, ", "))

	var whereParts []string
	for _, p := range b.predicates {
		sql, err := p.SQL(c)
		if err != nil {
			return 0, err
		}
		if sql != "" {
			whereParts = append(whereParts, fmt.Sprintf("(%s)", sql))
		}
	}
	if len(whereParts) > 0 {
		fmt.Fprintf(&sb, " WHERE %s", strings.Join(whereParts, " AND "))
	}

	result, err := b.db.ExecContext(ctx, sb.String(), c.Args()...)
	if err != nil {
		return 0, ConvertDBError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// Delete removes every matching row and returns the number of rows affected
func (b *Builder) Delete(ctx context.Context) (int64, error) {
	if b.HasJoins() {
		return 0, ErrUpdateAcrossRelations
	}

	c := NewCompiler()
	b.registerAnnotations(c)

	var sb strings.Builder
	fmt.Fprintf(&sb, "DELETE FROM %s", b.model.TableName)

	var whereParts []string
	for _, p := range b.predicates {
		sql, err := p.SQL(c)
		if err != nil {
			return 0, err
		}
		if sql != "" {
			whereParts = append(whereParts, fmt.Sprintf("(%s)", sql))
		}
	}
	if len(whereParts) > 0 {
		fmt.Fprintf(&sb, " WHERE %s", strings.Join(whereParts, " AND "))
	}

	result, err := b.db.ExecContext(ctx, sb.String(), c.Args()...)
	if err != nil {
		return 0, ConvertDBError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// ValueColumn describes one output column of a values-style query
type ValueColumn struct {
	Name         string
	Column       string
	Expr         Expr
	IsAnnotation bool
}

// SelectValues executes the query selecting only the given columns and returns
// one map per row keyed by the column names
func (b *Builder) SelectValues(ctx context.Context, cols []ValueColumn) ([]map[string]interface{}, error) {
	if len(cols) == 0 {
		return nil, fmt.Errorf("at least one column is required")
	}

	c := NewCompiler()
	b.registerAnnotations(c)

	parts := make([]string, len(cols))
	for i, col := range cols {
		switch {
		case col.Expr != nil:
			exprSQL, err := col.Expr.SQL(c)
			if err != nil {
				return nil, err
			}
			parts[i] = fmt.Sprintf("%s AS %s", exprSQL, col.Name)
		case col.IsAnnotation:
			ann, ok := b.annotations[col.Column]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownAnnotation, col.Column)
			}
			exprSQL, err := ann.Expr.SQL(c)
			if err != nil {
				return nil, err
			}
			parts[i] = fmt.Sprintf("%s AS %s", exprSQL, col.Name)
		default:
			resolved, err := b.ResolveColumn(col.Column)
			if err != nil {
				return nil, err
			}
			parts[i] = fmt.Sprintf("%s AS %s", resolved, col.Name)
		}
	}

	query, err := b.compileSelect(c, strings.Join(parts, ", "))
	if err != nil {
		return nil, err
	}
	rows, err := b.db.QueryContext(ctx, query, c.Args()...)
	if err != nil {
		return nil, ConvertDBError(err)
	}
	defer rows.Close()
	return ScanRows(rows)
}

// Aggregate collapses the whole result set into a single row of named
// aggregate values
func (b *Builder) Aggregate(ctx context.Context, aggregates map[string]Expr) (map[string]interface{}, error) {
	if len(aggregates) == 0 {
		return nil, fmt.Errorf("at least one aggregate is required")
	}

	c := NewCompiler()
	b.registerAnnotations(c)

	names := make([]string, 0, len(aggregates))
	for name := range aggregates {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		exprSQL, err := aggregates[name].SQL(c)
		if err != nil {
			return nil, err
		}
		parts[i] = fmt.Sprintf("%s AS %s", exprSQL, name)
	}

	inner := b.Clone().ClearOrderBy()
	inner.groupPK = false
	query, err := inner.compileSelect(c, strings.Join(parts, ", "))
	if err != nil {
		return nil, err
	}
	rows, err := b.db.QueryContext(ctx, query, c.Args()...)
	if err != nil {
		return nil, ConvertDBError(err)
	}
	defer rows.Close()

	results, err := ScanRows(rows)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNotFound
	}
	return results[0], nil
}
