package queryset

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryprops/queryprops/query"
)

func TestCreate(t *testing.T) {
	f := setup(t)
	f.mock.ExpectQuery(`INSERT INTO versions \(application_id, major, minor, patch\) VALUES \(\$1, \$2, \$3, \$4\) RETURNING \*`).
		WithArgs(7, 2, 0, 1).
		WillReturnRows(versionRows().AddRow(1, 2, 0, 1, nil, 7))

	inst, err := f.versions.Create(context.Background(), map[string]interface{}{
		"major":          2,
		"minor":          0,
		"patch":          1,
		"application_id": 7,
	})
	require.NoError(t, err)

	pk, err := inst.PrimaryKey()
	require.NoError(t, err)
	assert.EqualValues(t, 1, pk)

	v, err := inst.Get(context.Background(), "version_str")
	require.NoError(t, err)
	assert.Equal(t, "2.0.1", v)
}

func TestCreateUnknownColumn(t *testing.T) {
	f := setup(t)
	_, err := f.versions.Create(context.Background(), map[string]interface{}{"bogus": 1})
	assert.ErrorIs(t, err, query.ErrUnknownField)
}

func TestSave(t *testing.T) {
	f := setup(t)
	inst := f.versions.Wrap(map[string]interface{}{
		"id": 1, "major": 2, "minor": 0, "patch": 2, "changes": "patched", "application_id": 7,
	})

	f.mock.ExpectExec(`UPDATE versions SET application_id = \$1, changes = \$2, major = \$3, minor = \$4, patch = \$5 WHERE \(versions\.id = \$6\)`).
		WithArgs(7, "patched", 2, 0, 2, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, f.versions.Save(context.Background(), inst))
}

func TestSaveMissingRow(t *testing.T) {
	f := setup(t)
	inst := f.versions.Wrap(map[string]interface{}{
		"id": 99, "major": 1, "minor": 0, "patch": 0, "changes": nil, "application_id": 7,
	})

	f.mock.ExpectExec("UPDATE versions SET").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, f.versions.Save(context.Background(), inst), query.ErrNotFound)
}

func TestWrappedInstanceLoadsUnselectedProperty(t *testing.T) {
	f := setup(t)
	inst := f.apps.Wrap(map[string]interface{}{"id": 1, "name": "skylark"})

	f.mock.ExpectQuery(`SELECT applications\.\*, EXISTS \(SELECT versions\.id FROM versions WHERE \(versions\.application_id = applications\.id\)\) AS has_versions FROM applications WHERE \(\(applications\.id = \$1\)\) LIMIT 2`).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "has_versions"}).
			AddRow(1, "skylark", true))

	v, err := inst.Get(context.Background(), "has_versions")
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestWrappedInstanceLoadsDeferredFields(t *testing.T) {
	f := setup(t)
	inst := f.versions.Wrap(map[string]interface{}{"id": 1, "major": 2})
	inst.MarkDeferred("changes")

	f.mock.ExpectQuery(`SELECT versions\.changes AS changes FROM versions WHERE \(versions\.id = \$1\)`).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"changes"}).AddRow("backfilled"))

	v, err := inst.FetchField(context.Background(), "changes")
	require.NoError(t, err)
	assert.Equal(t, "backfilled", v)
}
