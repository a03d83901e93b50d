package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockSQLStore(t *testing.T, dialect Dialect) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLStore(db, dialect), mock
}

func TestSQLStore_Postgres_Load(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock sqlmock.Sqlmock)
		want      []string
		wantErr   bool
	}{
		{
			name: "stored list",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT value FROM kv WHERE key = $1`).
					WithArgs(Key).
					WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(`["Hà Nội","Huế"]`))
			},
			want: []string{"Hà Nội", "Huế"},
		},
		{
			name: "missing key",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT value FROM kv WHERE key = $1`).
					WithArgs(Key).
					WillReturnError(sql.ErrNoRows)
			},
			want: []string{},
		},
		{
			name: "query error",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT value FROM kv WHERE key = $1`).
					WithArgs(Key).
					WillReturnError(errors.New("connection reset"))
			},
			wantErr: true,
		},
		{
			name: "corrupt value",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT value FROM kv WHERE key = $1`).
					WithArgs(Key).
					WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(`not-json`))
			},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store, mock := newMockSQLStore(t, DialectPostgres)
			tc.setupMock(mock)

			got, err := store.Load(context.Background())
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tc.want, got)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSQLStore_Postgres_SaveAndClear(t *testing.T) {
	store, mock := newMockSQLStore(t, DialectPostgres)
	mock.ExpectExec(`INSERT INTO kv (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`).
		WithArgs(Key, `["Cần Thơ"]`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM kv WHERE key = $1`).
		WithArgs(Key).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Save(context.Background(), []string{"Cần Thơ"}))
	require.NoError(t, store.Clear(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_SQLite_PlaceholderSyntax(t *testing.T) {
	store, mock := newMockSQLStore(t, DialectSQLite)
	mock.ExpectExec(`INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT (key) DO UPDATE SET value = excluded.value`).
		WithArgs(Key, `[]`).
		WillReturnError(errors.New("database is locked"))

	err := store.Save(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save city list")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestSQLite_RoundTrip exercises the real sqlite driver against a temp file.
func TestSQLite_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cities.db")

	store, err := NewSQLite(ctx, path)
	require.NoError(t, err)

	names, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, store.Save(ctx, []string{"Hà Nội", "Hồ Chí Minh"}))
	require.NoError(t, store.Save(ctx, []string{"Hà Nội", "Hồ Chí Minh", "Đà Nẵng"}))
	require.NoError(t, store.Close())

	reopened, err := NewSQLite(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	names, err = reopened.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hà Nội", "Hồ Chí Minh", "Đà Nẵng"}, names)

	require.NoError(t, reopened.Clear(ctx))
	names, err = reopened.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}
