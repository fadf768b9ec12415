package properties

// CacheBehavior controls what happens to a property's cached value after its
// setter runs successfully.
type CacheBehavior int

const (
	// ClearCache discards the cached value so the next read recomputes it
	ClearCache CacheBehavior = iota

	// CacheValue stores the value passed to the setter
	CacheValue

	// CacheReturnValue stores the value returned by the setter
	CacheReturnValue

	// DoNothing leaves the cache untouched
	DoNothing
)

// String returns the string representation of the cache behavior
func (b CacheBehavior) String() string {
	switch b {
	case ClearCache:
		return "clear_cache"
	case CacheValue:
		return "cache_value"
	case CacheReturnValue:
		return "cache_return_value"
	case DoNothing:
		return "do_nothing"
	default:
		return "unknown"
	}
}

// Apply reconciles the instance cache after a setter call. The set value and
// the setter's return value are both available so each behavior can pick the
// one it stores.
func (b CacheBehavior) Apply(inst *Instance, property string, value, returned interface{}) {
	switch b {
	case ClearCache:
		inst.ClearCached(property)
	case CacheValue:
		inst.SetCached(property, value)
	case CacheReturnValue:
		inst.SetCached(property, returned)
	case DoNothing:
	}
}
