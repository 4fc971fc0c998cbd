package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/drug-interaction-engine/internal/domain"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite run-log store.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

// createSchema creates the run-log table and indexes. Append-only by
// construction: the store never issues UPDATE or DELETE.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS run_logs (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL,
		patient_id TEXT NOT NULL,
		drug_set_key TEXT NOT NULL,
		kb_version TEXT NOT NULL,
		model_version TEXT DEFAULT '',
		interaction_count INTEGER NOT NULL DEFAULT 0,
		max_severity TEXT NOT NULL DEFAULT 'none',
		cache_hit INTEGER NOT NULL DEFAULT 0,
		degraded INTEGER NOT NULL DEFAULT 0,
		warnings TEXT DEFAULT '[]',
		error TEXT DEFAULT '',
		processing_time_us INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_run_logs_created_at ON run_logs(created_at);
	CREATE INDEX IF NOT EXISTS idx_run_logs_patient ON run_logs(patient_id);
	`

	_, err := db.Exec(schema)
	return err
}

// AppendRunLog records one check invocation.
func (s *SQLiteStore) AppendRunLog(ctx context.Context, entry *domain.RunLog) error {
	warnings, err := json.Marshal(entry.Warnings)
	if err != nil {
		return fmt.Errorf("failed to marshal warnings: %w", err)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO run_logs (
			id, request_id, patient_id, drug_set_key, kb_version, model_version,
			interaction_count, max_severity, cache_hit, degraded, warnings,
			error, processing_time_us, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.RequestID, entry.PatientID, entry.DrugSetKey,
		entry.KnowledgeVersion, entry.ModelVersion, entry.InteractionCount,
		string(entry.MaxSeverity), boolToInt(entry.CacheHit), boolToInt(entry.Degraded),
		string(warnings), entry.Error, entry.ProcessingTime.Microseconds(), entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append run log: %w", err)
	}
	return nil
}

// ListRunLogs returns entries in a time range, oldest first.
func (s *SQLiteStore) ListRunLogs(ctx context.Context, from, to time.Time) ([]domain.RunLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, patient_id, drug_set_key, kb_version, model_version,
		       interaction_count, max_severity, cache_hit, degraded, warnings,
		       error, processing_time_us, created_at
		FROM run_logs
		WHERE created_at >= ? AND created_at < ?
		ORDER BY created_at ASC`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query run logs: %w", err)
	}
	defer rows.Close()

	var entries []domain.RunLog
	for rows.Next() {
		entry, err := scanRunLog(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// CountRunLogs returns the number of entries in a time range.
func (s *SQLiteStore) CountRunLogs(ctx context.Context, from, to time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM run_logs WHERE created_at >= ? AND created_at < ?",
		from, to,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count run logs: %w", err)
	}
	return count, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanRunLog scans a row into a RunLog struct.
func scanRunLog(s scanner) (*domain.RunLog, error) {
	entry := &domain.RunLog{}
	var severity, warnings string
	var cacheHit, degraded int
	var processingUS int64

	err := s.Scan(
		&entry.ID, &entry.RequestID, &entry.PatientID, &entry.DrugSetKey,
		&entry.KnowledgeVersion, &entry.ModelVersion, &entry.InteractionCount,
		&severity, &cacheHit, &degraded, &warnings,
		&entry.Error, &processingUS, &entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.MaxSeverity = domain.Severity(severity)
	entry.CacheHit = cacheHit != 0
	entry.Degraded = degraded != 0
	entry.ProcessingTime = time.Duration(processingUS) * time.Microsecond
	if warnings != "" {
		if err := json.Unmarshal([]byte(warnings), &entry.Warnings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal warnings: %w", err)
		}
	}
	return entry, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
