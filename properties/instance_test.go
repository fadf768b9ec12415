package properties

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryprops/queryprops/schema"
)

func versionInstance(t *testing.T, props *Registry) *Instance {
	_, _, version := testSchemas(t)
	return NewInstance(version, props, map[string]interface{}{
		"id":             1,
		"major":          2,
		"minor":          0,
		"changes":        "initial",
		"application_id": 7,
	})
}

func TestGetFallsBackToField(t *testing.T) {
	inst := versionInstance(t, NewRegistry())

	v, err := inst.Get(context.Background(), "major")
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	_, err = inst.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownAttribute)
}

func TestCachedGetterRunsOnce(t *testing.T) {
	calls := 0
	props := NewRegistry()
	_, _, version := testSchemas(t)
	require.NoError(t, props.Bind(version, &Descriptor{
		Name:   "version_str",
		Cached: true,
		Getter: func(ctx context.Context, inst *Instance) (interface{}, error) {
			calls++
			major, _ := inst.Field("major")
			minor, _ := inst.Field("minor")
			return fmt.Sprintf("%v.%v", major, minor), nil
		},
	}))
	inst := NewInstance(version, props, map[string]interface{}{"id": 1, "major": 2, "minor": 0})

	for i := 0; i < 3; i++ {
		v, err := inst.Get(context.Background(), "version_str")
		require.NoError(t, err)
		assert.Equal(t, "2.0", v)
	}
	assert.Equal(t, 1, calls)
	assert.True(t, inst.IsCached("version_str"))

	// Reset invalidates; the next read recomputes
	inst.Reset("version_str")
	assert.False(t, inst.IsCached("version_str"))
	_, err := inst.Get(context.Background(), "version_str")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestUncachedGetterRunsEveryTime(t *testing.T) {
	calls := 0
	props := NewRegistry()
	_, _, version := testSchemas(t)
	require.NoError(t, props.Bind(version, &Descriptor{
		Name: "probe",
		Getter: func(ctx context.Context, inst *Instance) (interface{}, error) {
			calls++
			return calls, nil
		},
	}))
	inst := NewInstance(version, props, map[string]interface{}{"id": 1})

	inst.Get(context.Background(), "probe") //nolint:errcheck
	inst.Get(context.Background(), "probe") //nolint:errcheck
	assert.Equal(t, 2, calls)
	assert.False(t, inst.IsCached("probe"))
}

func TestSeededCacheWinsOverGetter(t *testing.T) {
	props := NewRegistry()
	_, _, version := testSchemas(t)
	require.NoError(t, props.Bind(version, &Descriptor{
		Name: "version_str",
		Getter: func(ctx context.Context, inst *Instance) (interface{}, error) {
			t.Fatal("getter should not run when a value is cached")
			return nil, nil
		},
	}))
	inst := NewInstance(version, props, map[string]interface{}{"id": 1})
	inst.SetCached("version_str", "9.9")

	v, err := inst.Get(context.Background(), "version_str")
	require.NoError(t, err)
	assert.Equal(t, "9.9", v)
}

func TestSetterCacheBehaviors(t *testing.T) {
	_, _, version := testSchemas(t)

	newInst := func(behavior CacheBehavior) *Instance {
		props := NewRegistry()
		props.MustBind(version, &Descriptor{
			Name:                "tracked",
			SetterCacheBehavior: behavior,
			Setter: func(ctx context.Context, inst *Instance, value interface{}) (interface{}, error) {
				return fmt.Sprintf("stored:%v", value), nil
			},
		})
		inst := NewInstance(version, props, map[string]interface{}{"id": 1})
		inst.SetCached("tracked", "old")
		return inst
	}
	ctx := context.Background()

	inst := newInst(ClearCache)
	require.NoError(t, inst.Set(ctx, "tracked", "new"))
	assert.False(t, inst.IsCached("tracked"))

	inst = newInst(CacheValue)
	require.NoError(t, inst.Set(ctx, "tracked", "new"))
	v, err := inst.CachedValue("tracked")
	require.NoError(t, err)
	assert.Equal(t, "new", v)

	inst = newInst(CacheReturnValue)
	require.NoError(t, inst.Set(ctx, "tracked", "new"))
	v, err = inst.CachedValue("tracked")
	require.NoError(t, err)
	assert.Equal(t, "stored:new", v)

	inst = newInst(DoNothing)
	require.NoError(t, inst.Set(ctx, "tracked", "new"))
	v, err = inst.CachedValue("tracked")
	require.NoError(t, err)
	assert.Equal(t, "old", v)
}

func TestSetFallsBackToField(t *testing.T) {
	inst := versionInstance(t, NewRegistry())

	require.NoError(t, inst.Set(context.Background(), "major", 3))
	v, _ := inst.Field("major")
	assert.Equal(t, 3, v)

	err := inst.Set(context.Background(), "missing", 1)
	assert.ErrorIs(t, err, ErrUnknownAttribute)
}

func TestDeferredFields(t *testing.T) {
	_, _, version := testSchemas(t)
	loads := 0
	inst := NewInstance(version, NewRegistry(), map[string]interface{}{"id": 1, "major": 2}).
		WithLoader(func(ctx context.Context, model *schema.ModelSchema, pk interface{}, field string) (interface{}, error) {
			loads++
			assert.Equal(t, 1, pk)
			assert.Equal(t, "changes", field)
			return "loaded changes", nil
		})
	inst.MarkDeferred("changes")

	_, ok := inst.Field("changes")
	assert.False(t, ok)
	assert.True(t, inst.IsDeferred("changes"))

	v, err := inst.FetchField(context.Background(), "changes")
	require.NoError(t, err)
	assert.Equal(t, "loaded changes", v)
	assert.Equal(t, 1, loads)

	// Fetched once, served from the record afterwards
	v, err = inst.FetchField(context.Background(), "changes")
	require.NoError(t, err)
	assert.Equal(t, "loaded changes", v)
	assert.Equal(t, 1, loads)
}

func TestResetAll(t *testing.T) {
	inst := versionInstance(t, NewRegistry())
	inst.SetCached("a", 1)
	inst.SetCached("b", 2)

	inst.ResetAll()
	assert.False(t, inst.IsCached("a"))
	assert.False(t, inst.IsCached("b"))

	_, err := inst.CachedValue("a")
	assert.ErrorIs(t, err, ErrNotCached)
}

func TestAttrPath(t *testing.T) {
	_, _, version := testSchemas(t)
	_, app, _ := testSchemas(t)
	props := NewRegistry()

	appInst := NewInstance(app, props, map[string]interface{}{"id": 7, "name": "skylark"})
	inst := NewInstance(version, props, map[string]interface{}{"id": 1, "major": 2})
	inst.SetCached("application_obj", appInst)

	// Attr is not a property lookup, so route through the cache seeding that
	// composite materialization uses
	props.MustBind(version, &Descriptor{
		Name: "application_obj",
		Getter: func(ctx context.Context, inst *Instance) (interface{}, error) {
			return nil, nil
		},
	})

	v, err := inst.Attr(context.Background(), "application_obj.name")
	require.NoError(t, err)
	assert.Equal(t, "skylark", v)

	v, err = inst.Attr(context.Background(), "major")
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}
