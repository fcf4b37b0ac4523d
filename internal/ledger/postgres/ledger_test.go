package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/trizel-monitor/internal/monitor"
)

var sampleEntry = monitor.LedgerEntry{
	RunID:          "0190b6a0-0000-7000-8000-000000000001",
	Day:            "2025-07-04",
	Outcome:        string(monitor.OutcomeWritten),
	SnapshotFile:   "snapshots/snapshot_2025-07-04.json",
	SnapshotSHA256: "abc123",
	SourcesOK:      1,
	SourcesTotal:   2,
	RecordedUTC:    "2025-07-04T06:30:00.000000Z",
}

func TestRecordInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ledger, err := NewWithPool(mock, "write_ledger")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO write_ledger").
		WithArgs(
			sampleEntry.RunID,
			sampleEntry.Day,
			sampleEntry.Outcome,
			sampleEntry.SnapshotFile,
			sampleEntry.SnapshotSHA256,
			sampleEntry.SourcesOK,
			sampleEntry.SourcesTotal,
			sampleEntry.RecordedUTC,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, ledger.Record(context.Background(), sampleEntry))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordPropagatesErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ledger, err := NewWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO write_ledger").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	err = ledger.Record(context.Background(), sampleEntry)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert ledger entry")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRequiresDayAndOutcome(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ledger, err := NewWithPool(mock, "")
	require.NoError(t, err)
	require.Error(t, ledger.Record(context.Background(), monitor.LedgerEntry{Day: "2025-07-04"}))
}

func TestListScansRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ledger, err := NewWithPool(mock, "write_ledger")
	require.NoError(t, err)

	rows := mock.NewRows([]string{
		"run_id", "day", "outcome", "snapshot_file", "snapshot_sha256", "sources_ok", "sources_total", "recorded_utc",
	}).AddRow(
		sampleEntry.RunID,
		sampleEntry.Day,
		sampleEntry.Outcome,
		sampleEntry.SnapshotFile,
		sampleEntry.SnapshotSHA256,
		sampleEntry.SourcesOK,
		sampleEntry.SourcesTotal,
		sampleEntry.RecordedUTC,
	)
	mock.ExpectQuery("SELECT run_id, day, outcome").WithArgs(5).WillReturnRows(rows)

	entries, err := ledger.List(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, sampleEntry, entries[0])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ledger, err := NewWithPool(mock, "decisions")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS decisions").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, ledger.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPoolValidation(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, "t")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewWithPool(mock, "bad;name")
	require.Error(t, err)
}
