package properties

import (
	"context"
	"fmt"
	"strings"
)

// Attr walks a dot-separated attribute path starting at the instance. Each hop
// may cross into a nested instance (a materialized related object) or a plain
// map. A nil value part-way through the path short-circuits to nil, so getters
// built on attribute paths tolerate absent relations.
func (inst *Instance) Attr(ctx context.Context, path string) (interface{}, error) {
	var current interface{} = inst
	for _, segment := range strings.Split(path, ".") {
		if current == nil {
			return nil, nil
		}
		switch v := current.(type) {
		case *Instance:
			value, err := v.Get(ctx, segment)
			if err != nil {
				return nil, err
			}
			current = value
		case map[string]interface{}:
			value, ok := v[segment]
			if !ok {
				return nil, fmt.Errorf("%w: %s in path %s", ErrUnknownAttribute, segment, path)
			}
			current = value
		default:
			return nil, fmt.Errorf("%w: cannot descend into %T at %s in path %s", ErrUnknownAttribute, current, segment, path)
		}
	}
	return current, nil
}
