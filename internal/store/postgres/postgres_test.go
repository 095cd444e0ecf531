package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medrex/caseledger/internal/ledger"
	"github.com/medrex/caseledger/pkg/config"
	"github.com/medrex/caseledger/pkg/database"
	"github.com/medrex/caseledger/pkg/logger"
	"github.com/medrex/caseledger/pkg/types"
)

var (
	selectSQL = regexp.QuoteMeta(`SELECT value FROM "ledger_state" WHERE key = $1`)
	upsertSQL = regexp.QuoteMeta(`INSERT INTO "ledger_state" (key, value, updated_at)`)
	lockSQL   = regexp.QuoteMeta(`SELECT pg_advisory_xact_lock($1)`)
)

func setupTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db := database.Wrap(sqlDB, &config.DatabaseConfig{Table: "ledger_state"}, logger.NewNop())
	return New(db, logger.NewNop()), mock
}

func TestStore_GetState(t *testing.T) {
	ctx := context.Background()
	s, mock := setupTestStore(t)

	mock.ExpectQuery(selectSQL).
		WithArgs("case~1").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`{"caseId":1}`)))
	mock.ExpectQuery(selectSQL).
		WithArgs("case~2").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))
	mock.ExpectQuery(selectSQL).
		WithArgs("case~3").
		WillReturnError(errors.New("connection reset"))

	v, err := s.GetState(ctx, "case~1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"caseId":1}`, string(v))

	v, err = s.GetState(ctx, "case~2")
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = s.GetState(ctx, "case~3")
	assert.ErrorContains(t, err, "connection reset")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Commit(t *testing.T) {
	s, mock := setupTestStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(upsertSQL).WithArgs("meta~counter~case", []byte("1")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(upsertSQL).WithArgs("case~1", []byte(`{"caseId":1}`)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.Commit(context.Background(), []ledger.Write{
		{Key: "meta~counter~case", Value: []byte("1")},
		{Key: "case~1", Value: []byte(`{"caseId":1}`)},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CommitRollsBack(t *testing.T) {
	s, mock := setupTestStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(upsertSQL).WithArgs("a", []byte("1")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(upsertSQL).WithArgs("b", []byte("2")).WillReturnError(errors.New("constraint violated"))
	mock.ExpectRollback()

	err := s.Commit(context.Background(), []ledger.Write{
		{Key: "a", Value: []byte("1")},
		{Key: "b", Value: []byte("2")},
	})
	assert.ErrorContains(t, err, "failed to write state b")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_BeginFails(t *testing.T) {
	s, mock := setupTestStore(t)

	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	err := s.Commit(context.Background(), []ledger.Write{{Key: "a", Value: []byte("1")}})
	assert.ErrorContains(t, err, "failed to begin transaction")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CommitIf(t *testing.T) {
	s, mock := setupTestStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(lockSQL).WithArgs(s.lockKey).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(selectSQL).WithArgs("meta~counter~case").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte("1")))
	mock.ExpectQuery(selectSQL).WithArgs("patientcases~0xaaa").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))
	mock.ExpectExec(upsertSQL).WithArgs("meta~counter~case", []byte("2")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(upsertSQL).WithArgs("patientcases~0xaaa", []byte("[2]")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.CommitIf(context.Background(),
		[]ledger.Read{
			{Key: "meta~counter~case", Value: []byte("1")},
			{Key: "patientcases~0xaaa"},
		},
		[]ledger.Write{
			{Key: "meta~counter~case", Value: []byte("2")},
			{Key: "patientcases~0xaaa", Value: []byte("[2]")},
		})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CommitIfStaleRead(t *testing.T) {
	tests := []struct {
		name string
		read ledger.Read
		rows *sqlmock.Rows
	}{
		{"value changed", ledger.Read{Key: "meta~counter~case", Value: []byte("1")}, sqlmock.NewRows([]string{"value"}).AddRow([]byte("2"))},
		{"key created", ledger.Read{Key: "meta~counter~case"}, sqlmock.NewRows([]string{"value"}).AddRow([]byte("1"))},
		{"key removed", ledger.Read{Key: "meta~counter~case", Value: []byte("1")}, sqlmock.NewRows([]string{"value"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := setupTestStore(t)

			mock.ExpectBegin()
			mock.ExpectExec(lockSQL).WithArgs(s.lockKey).WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectQuery(selectSQL).WithArgs(tt.read.Key).WillReturnRows(tt.rows)
			mock.ExpectRollback()

			err := s.CommitIf(context.Background(), []ledger.Read{tt.read},
				[]ledger.Write{{Key: "meta~counter~case", Value: []byte("3")}})
			assert.ErrorIs(t, err, types.ErrConflict)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStore_CommitIfLockFails(t *testing.T) {
	s, mock := setupTestStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(lockSQL).WithArgs(s.lockKey).WillReturnError(errors.New("canceling statement due to lock timeout"))
	mock.ExpectRollback()

	err := s.CommitIf(context.Background(), nil, []ledger.Write{{Key: "a", Value: []byte("1")}})
	assert.ErrorContains(t, err, "failed to lock state table")
	assert.NotErrorIs(t, err, types.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LedgerOverPostgres(t *testing.T) {
	ctx := context.Background()
	s, mock := setupTestStore(t)
	l := ledger.New(s, ledger.Options{})

	// getCaseDetails on an empty table
	mock.ExpectQuery(selectSQL).WithArgs("case~00000000000000000007").WillReturnRows(sqlmock.NewRows([]string{"value"}))

	_, err := l.GetCaseDetails(ctx, 7)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
