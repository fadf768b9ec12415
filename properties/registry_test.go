package properties

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryprops/queryprops/schema"
)

func TestBindRejectsCollisions(t *testing.T) {
	_, _, version := testSchemas(t)
	props := NewRegistry()

	assert.ErrorIs(t, props.Bind(version, &Descriptor{Name: "major"}), ErrInvalidProperty)
	assert.ErrorIs(t, props.Bind(version, &Descriptor{Name: "application"}), ErrInvalidProperty)

	require.NoError(t, props.Bind(version, &Descriptor{Name: "version_str"}))
	assert.ErrorIs(t, props.Bind(version, &Descriptor{Name: "version_str"}), ErrInvalidProperty)
}

func TestGetWalksParents(t *testing.T) {
	base := schema.NewModelSchema("Base")
	base.Abstract = true
	child := schema.NewModelSchema("Child")
	child.Parent = base
	child.AddField(&schema.Field{Name: "id", Type: schema.TypeInt, PrimaryKey: true})

	props := NewRegistry()
	require.NoError(t, props.Bind(base, &Descriptor{Name: "inherited"}))

	desc, ok := props.Get(child, "inherited")
	require.True(t, ok)
	assert.Equal(t, "inherited", desc.Name)

	_, ok = props.Get(child, "missing")
	assert.False(t, ok)
}

func TestGetNearestDeclarationWins(t *testing.T) {
	base := schema.NewModelSchema("Base")
	base.Abstract = true
	child := schema.NewModelSchema("Child")
	child.Parent = base

	props := NewRegistry()
	baseDesc := &Descriptor{Name: "label", Cached: true}
	childDesc := &Descriptor{Name: "label"}
	require.NoError(t, props.Bind(base, baseDesc))
	require.NoError(t, props.Bind(child, childDesc))

	desc, ok := props.Get(child, "label")
	require.True(t, ok)
	assert.Same(t, childDesc, desc)

	desc, ok = props.Get(base, "label")
	require.True(t, ok)
	assert.Same(t, baseDesc, desc)
}

func TestAllOrderAndShadowing(t *testing.T) {
	base := schema.NewModelSchema("Base")
	base.Abstract = true
	child := schema.NewModelSchema("Child")
	child.Parent = base

	props := NewRegistry()
	require.NoError(t, props.Bind(base, &Descriptor{Name: "first"}, &Descriptor{Name: "second"}))
	override := &Descriptor{Name: "second", Cached: true}
	require.NoError(t, props.Bind(child, override, &Descriptor{Name: "third"}))

	all := props.All(child)
	require.Len(t, all, 3)
	assert.Equal(t, "first", all[0].Name)
	// The redeclaration keeps the ancestor's position
	assert.Same(t, override, all[1])
	assert.Equal(t, "third", all[2].Name)

	// Memoized result is stable across calls
	assert.Equal(t, all, props.All(child))
}
