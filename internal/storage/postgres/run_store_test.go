package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/evidentlabs/rivalscan/internal/store"
)

func TestUpsertRunStart(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runStore, err := NewRunStoreWithPool(mock)
	require.NoError(t, err)

	scanID := uuid.New()
	startedAt := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("INSERT INTO scan_runs").
		WithArgs(scanID, scanID, startedAt, store.RunRunning).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, runStore.UpsertRunStart(context.Background(), scanID, startedAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteRun(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runStore, err := NewRunStoreWithPool(mock)
	require.NoError(t, err)

	scanID := uuid.New()
	finishedAt := time.Unix(1700000100, 0).UTC()
	msg := "budget exhausted"

	mock.ExpectExec("UPDATE scan_runs").
		WithArgs(finishedAt, store.RunError, &msg, scanID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, runStore.CompleteRun(context.Background(), scanID, finishedAt, store.RunError, &msg))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertDomainStatsUpdatesExistingRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runStore, err := NewRunStoreWithPool(mock)
	require.NoError(t, err)

	scanID := uuid.New()
	at := time.Unix(1700000200, 0).UTC()

	mock.ExpectExec("UPDATE domain_stats").
		WithArgs(int64(3), int64(4096), at, scanID, "acme.io").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = runStore.UpsertDomainStats(context.Background(), scanID, "acme.io", 3, 4096, "2xx", at)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertDomainStatsInsertsWhenMissing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runStore, err := NewRunStoreWithPool(mock)
	require.NoError(t, err)

	scanID := uuid.New()
	at := time.Unix(1700000300, 0).UTC()

	mock.ExpectExec("UPDATE domain_stats").
		WithArgs(int64(1), int64(512), at, scanID, "acme.io").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec("INSERT INTO domain_stats").
		WithArgs(scanID, "acme.io", at, int64(1), int64(512), int64(0), int64(0), int64(1), int64(0)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = runStore.UpsertDomainStats(context.Background(), scanID, "acme.io", 1, 512, "4xx", at)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertDomainStatsRejectsUnknownStatusClass(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runStore, err := NewRunStoreWithPool(mock)
	require.NoError(t, err)

	err = runStore.UpsertDomainStats(context.Background(), uuid.New(), "acme.io", 1, 1, "bogus", time.Now())
	require.Error(t, err)
}

func TestGetRunNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runStore, err := NewRunStoreWithPool(mock)
	require.NoError(t, err)

	scanID := uuid.New()
	mock.ExpectQuery("SELECT id, scan_id, started_at").
		WithArgs(scanID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "scan_id", "started_at", "finished_at", "status", "error_message"}))

	_, err = runStore.GetRun(context.Background(), scanID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestListRuns(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runStore, err := NewRunStoreWithPool(mock)
	require.NoError(t, err)

	scanID := uuid.New()
	startedAt := time.Unix(1700000400, 0).UTC()
	status := store.RunSuccess

	rows := pgxmock.NewRows([]string{"id", "scan_id", "started_at", "finished_at", "status", "error_message"}).
		AddRow(scanID, scanID, startedAt, (*time.Time)(nil), status, (*string)(nil))
	mock.ExpectQuery("SELECT id, scan_id, started_at").
		WithArgs(&status, 10, 0).
		WillReturnRows(rows)

	runs, err := runStore.ListRuns(context.Background(), &status, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, scanID, runs[0].ScanID)
	require.Equal(t, store.RunSuccess, runs[0].Status)
}
