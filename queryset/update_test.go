package queryset

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryprops/queryprops/properties"
	"github.com/queryprops/queryprops/query"
)

func TestUpdatePlainField(t *testing.T) {
	f := setup(t)
	f.mock.ExpectExec(`UPDATE versions SET changes = \$1 WHERE \(\(versions\.id = \$2\)\)`).
		WithArgs("rewrote the parser", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	affected, err := f.versions.Query().
		Filter(map[string]interface{}{"id": 1}).
		Update(context.Background(), map[string]interface{}{"changes": "rewrote the parser"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)
}

func TestUpdateProperty(t *testing.T) {
	f := setup(t)
	f.mock.ExpectExec(`UPDATE versions SET major = \$1, minor = \$2, patch = \$3 WHERE \(\(versions\.id = \$4\)\)`).
		WithArgs(3, 1, 4, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	affected, err := f.versions.Query().
		Filter(map[string]interface{}{"id": 1}).
		Update(context.Background(), map[string]interface{}{"version_str": "3.1.4"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)
}

func TestUpdateConflictingAssignments(t *testing.T) {
	f := setup(t)
	_, err := f.versions.Query().Update(context.Background(), map[string]interface{}{
		"version_str": "3.1.4",
		"major":       5,
	})
	assert.ErrorIs(t, err, ErrConflictingUpdate)
}

func TestUpdateAgreeingAssignments(t *testing.T) {
	f := setup(t)
	f.mock.ExpectExec(`UPDATE versions SET major = \$1, minor = \$2, patch = \$3`).
		WithArgs(3, 1, 4).
		WillReturnResult(sqlmock.NewResult(0, 2))

	affected, err := f.versions.Query().Update(context.Background(), map[string]interface{}{
		"version_str": "3.1.4",
		"major":       3,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), affected)
}

func TestUpdatePropertyWithoutImplementation(t *testing.T) {
	f := setup(t)
	_, err := f.versions.Query().Update(context.Background(), map[string]interface{}{
		"is_version2": true,
	})
	assert.ErrorIs(t, err, properties.ErrUnsupportedOperation)
}

func TestUpdateAcrossRelations(t *testing.T) {
	f := setup(t)
	_, err := f.versions.Query().Update(context.Background(), map[string]interface{}{
		"application__name": "renamed",
	})
	assert.ErrorIs(t, err, query.ErrUpdateAcrossRelations)
}

func TestUpdateCircularProperties(t *testing.T) {
	f := setup(t)
	f.props.MustBind(f.versions.Model(),
		&properties.Descriptor{
			Name: "prop_x",
			UpdateBuilder: func(ref properties.ModelRef, value interface{}) (map[string]interface{}, error) {
				return map[string]interface{}{"prop_y": value}, nil
			},
		},
		&properties.Descriptor{
			Name: "prop_y",
			UpdateBuilder: func(ref properties.ModelRef, value interface{}) (map[string]interface{}, error) {
				return map[string]interface{}{"prop_x": value}, nil
			},
		},
	)

	_, err := f.versions.Query().Update(context.Background(), map[string]interface{}{"prop_x": 1})
	assert.ErrorIs(t, err, ErrCircularDependency)
}
