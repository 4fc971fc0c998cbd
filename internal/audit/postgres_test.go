package audit

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drug-interaction-engine/internal/domain"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &PostgresStore{db: db}, mock
}

func TestPostgresAppendRunLog(t *testing.T) {
	store, mock := newMockStore(t)
	entry := runLog("a", "p1", time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))

	mock.ExpectExec(`INSERT INTO run_logs`).
		WithArgs(
			entry.ID, entry.RequestID, entry.PatientID, entry.DrugSetKey,
			entry.KnowledgeVersion, entry.ModelVersion, entry.InteractionCount,
			string(entry.MaxSeverity), entry.CacheHit, entry.Degraded,
			`["W1: reduced coverage"]`, entry.Error,
			entry.ProcessingTime.Microseconds(), entry.CreatedAt,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.AppendRunLog(context.Background(), entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListRunLogs(t *testing.T) {
	store, mock := newMockStore(t)
	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	created := from.Add(time.Hour)

	rows := sqlmock.NewRows([]string{
		"id", "request_id", "patient_id", "drug_set_key", "kb_version",
		"model_version", "interaction_count", "max_severity", "cache_hit",
		"degraded", "warnings", "error", "processing_time_us", "created_at",
	}).AddRow(
		"a", "req-a", "p1", "aspirin+warfarin", "kb-2025.08.1",
		"v1", 1, "major", false, true, `["W1"]`, "", int64(12000), created,
	)

	mock.ExpectQuery(`SELECT .+ FROM run_logs`).
		WithArgs(from, to).
		WillReturnRows(rows)

	entries, err := store.ListRunLogs(context.Background(), from, to)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	entry := entries[0]
	assert.Equal(t, "a", entry.ID)
	assert.Equal(t, domain.SeverityMajor, entry.MaxSeverity)
	assert.True(t, entry.Degraded)
	assert.Equal(t, []string{"W1"}, entry.Warnings)
	assert.Equal(t, 12*time.Millisecond, entry.ProcessingTime)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCountRunLogs(t *testing.T) {
	store, mock := newMockStore(t)
	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(time.Hour)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM run_logs`).
		WithArgs(from, to).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	count, err := store.CountRunLogs(context.Background(), from, to)
	require.NoError(t, err)
	assert.Equal(t, 7, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListScanError(t *testing.T) {
	store, mock := newMockStore(t)
	from := time.Now().Add(-time.Hour)
	to := time.Now()

	mock.ExpectQuery(`SELECT .+ FROM run_logs`).
		WithArgs(from, to).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("only-one-column"))

	_, err := store.ListRunLogs(context.Background(), from, to)
	assert.Error(t, err)
}
