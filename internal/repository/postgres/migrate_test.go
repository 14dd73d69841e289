package postgres

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateSkipsApplied(t *testing.T) {
	s, mock := newMock(t)
	fsys := fstest.MapFS{
		"001_engine.sql": {Data: []byte("CREATE TABLE a (id TEXT);")},
		"002_index.sql":  {Data: []byte("CREATE INDEX a_idx ON a (id);")},
		"003_empty.sql":  {Data: []byte("  \n")},
		"README.md":      {Data: []byte("not sql")},
	}

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT name FROM schema_migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("001_engine.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE INDEX a_idx`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO schema_migrations`).WithArgs("002_index.sql").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := Migrate(context.Background(), s.DB(), fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{"002_index.sql"}, applied)
}

func TestMigrateStopsOnFailure(t *testing.T) {
	s, mock := newMock(t)
	fsys := fstest.MapFS{
		"001_engine.sql": {Data: []byte("CREATE TABLE broken (")},
		"002_index.sql":  {Data: []byte("CREATE INDEX x ON y (z);")},
	}

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT name FROM schema_migrations`).WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE broken`).WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	applied, err := Migrate(context.Background(), s.DB(), fsys)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "001_engine.sql")
	assert.Empty(t, applied)
}
