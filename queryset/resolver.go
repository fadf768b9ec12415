package queryset

import (
	"strings"

	"github.com/queryprops/queryprops/properties"
	"github.com/queryprops/queryprops/schema"
)

// propertyRef is a resolved reference to a queryable property reached through
// a query-path token. The alias doubles as the annotation alias the property
// is injected under.
type propertyRef struct {
	desc         *properties.Descriptor
	model        *schema.ModelSchema
	relationPath []string
	lookup       string
	alias        string
}

func (ref *propertyRef) modelRef(schemas *schema.Registry) properties.ModelRef {
	return properties.ModelRef{Model: ref.model, Schemas: schemas}
}

// resolveProperty walks a token's segments from the root model. Relationship
// segments advance the model; the first segment naming a bound property wins,
// and everything after it is kept verbatim as the lookup suffix.
func (qs *QuerySet) resolveProperty(token string) (*propertyRef, bool) {
	segments := strings.Split(token, "__")
	model := qs.mgr.model

	for i, seg := range segments {
		if desc, ok := qs.mgr.props.Get(model, seg); ok {
			return &propertyRef{
				desc:         desc,
				model:        model,
				relationPath: segments[:i],
				lookup:       strings.Join(segments[i+1:], "__"),
				alias:        strings.Join(segments[:i+1], "__"),
			}, true
		}
		rel, ok := model.RelationshipNamed(seg)
		if !ok {
			return nil, false
		}
		next, ok := qs.mgr.schemas.Get(rel.TargetModel)
		if !ok {
			return nil, false
		}
		model = next
	}
	return nil, false
}

var knownLookups = map[string]bool{
	"exact":      true,
	"iexact":     true,
	"gt":         true,
	"gte":        true,
	"lt":         true,
	"lte":        true,
	"in":         true,
	"isnull":     true,
	"contains":   true,
	"icontains":  true,
	"startswith": true,
	"endswith":   true,
	"like":       true,
	"ilike":      true,
	"range":      true,
}

// splitLookup strips a trailing lookup keyword from a column token
func splitLookup(token string) (path, lookup string) {
	segments := strings.Split(token, "__")
	if len(segments) > 1 && knownLookups[segments[len(segments)-1]] {
		return strings.Join(segments[:len(segments)-1], "__"), segments[len(segments)-1]
	}
	return token, ""
}

// joinPath prefixes a token with a relation path
func joinPath(relationPath []string, token string) string {
	if len(relationPath) == 0 {
		return token
	}
	return strings.Join(relationPath, "__") + "__" + token
}
