package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/smilemakc/mbflow/internal/infrastructure/storage/models"
)

func newMockRepo(t *testing.T) (*RunRepository, sqlmock.Sqlmock) {
	t.Helper()
	sqldb, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqldb.Close() })

	db := bun.NewDB(sqldb, pgdialect.New())
	return NewRunRepository(db), mock
}

func TestRunRepositorySaveTerminalWithoutNodes(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO \"flowfile_runs\"").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	run := &models.RunRecordModel{
		RunID:     "r1",
		FlowID:    1,
		Status:    "succeeded",
		StartedAt: time.Now(),
	}
	err := repo.SaveTerminal(context.Background(), run)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRepositorySaveTerminalWithNodes(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO \"flowfile_runs\"").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM \"flowfile_run_nodes\"").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO \"flowfile_run_nodes\"").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	run := &models.RunRecordModel{
		RunID:     "r1",
		FlowID:    1,
		Status:    "succeeded",
		StartedAt: time.Now(),
		Nodes: []*models.NodeRunRecordModel{
			{RunID: "r1", NodeID: 10, State: "succeeded"},
		},
	}
	err := repo.SaveTerminal(context.Background(), run)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRepositoryDeleteOlderThanNoopWhenEmpty(t *testing.T) {
	repo, mock := newMockRepo(t)
	err := repo.DeleteOlderThan(context.Background(), nil)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
