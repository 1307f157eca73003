package lockchain

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS epoch_roots").
		WillReturnResult(sqlmock.NewResult(0, 0))
	store, err := NewPostgresStoreFromDB(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mock
}

func TestPostgresPersistPendingInsert(t *testing.T) {
	store, mock := mockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT root, confirmed FROM epoch_roots WHERE epoch = $1 FOR UPDATE")).
		WithArgs(int64(7)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO epoch_roots").
		WithArgs(int64(7), "root-7", nil, false).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, store.PersistPending(context.Background(), 7, "root-7"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresConfirmedConflict(t *testing.T) {
	store, mock := mockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT root, confirmed FROM epoch_roots WHERE epoch = $1 FOR UPDATE")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"root", "confirmed"}).AddRow("root-7", true))
	mock.ExpectRollback()

	err := store.PersistRoot(context.Background(), 7, "root-evil", nil)
	assert.ErrorIs(t, err, ErrRootConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetRoot(t *testing.T) {
	store, mock := mockStore(t)

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectQuery("SELECT epoch, root, proof, confirmed, created_at FROM epoch_roots WHERE epoch").
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"epoch", "root", "proof", "confirmed", "created_at"}).
			AddRow(int64(9), "root-9", nil, false, created))

	rec, err := store.GetRoot(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), rec.Epoch)
	assert.Equal(t, "root-9", rec.Root)
	assert.False(t, rec.Confirmed)
	assert.Equal(t, created, rec.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPersistRollsBackOnInsertFailure(t *testing.T) {
	store, mock := mockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT root, confirmed FROM epoch_roots WHERE epoch = $1 FOR UPDATE")).
		WithArgs(int64(3)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO epoch_roots").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.PersistPending(context.Background(), 3, "root-3")
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
