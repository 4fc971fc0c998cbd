package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/drug-interaction-engine/internal/domain"
)

// PostgresStore implements the Store interface using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL run-log store.
// It expects the database and schema to already exist (created via migrations).
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	// Verify connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromURL creates a new PostgreSQL run-log store from a connection URL.
func NewPostgresStoreFromURL(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// AppendRunLog records one check invocation.
func (s *PostgresStore) AppendRunLog(ctx context.Context, entry *domain.RunLog) error {
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
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		entry.ID, entry.RequestID, entry.PatientID, entry.DrugSetKey,
		entry.KnowledgeVersion, entry.ModelVersion, entry.InteractionCount,
		string(entry.MaxSeverity), entry.CacheHit, entry.Degraded,
		string(warnings), entry.Error, entry.ProcessingTime.Microseconds(), entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append run log: %w", err)
	}
	return nil
}

// ListRunLogs returns entries in a time range, oldest first.
func (s *PostgresStore) ListRunLogs(ctx context.Context, from, to time.Time) ([]domain.RunLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, patient_id, drug_set_key, kb_version, model_version,
		       interaction_count, max_severity, cache_hit, degraded, warnings,
		       error, processing_time_us, created_at
		FROM run_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at ASC`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query run logs: %w", err)
	}
	defer rows.Close()

	var entries []domain.RunLog
	for rows.Next() {
		entry, err := scanPostgresRunLog(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// CountRunLogs returns the number of entries in a time range.
func (s *PostgresStore) CountRunLogs(ctx context.Context, from, to time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM run_logs WHERE created_at >= $1 AND created_at < $2",
		from, to,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count run logs: %w", err)
	}
	return count, nil
}

// Close closes the underlying database.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// scanPostgresRunLog scans a row into a RunLog struct.
func scanPostgresRunLog(s scanner) (*domain.RunLog, error) {
	entry := &domain.RunLog{}
	var severity, warnings string
	var processingUS int64

	err := s.Scan(
		&entry.ID, &entry.RequestID, &entry.PatientID, &entry.DrugSetKey,
		&entry.KnowledgeVersion, &entry.ModelVersion, &entry.InteractionCount,
		&severity, &entry.CacheHit, &entry.Degraded, &warnings,
		&entry.Error, &processingUS, &entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.MaxSeverity = domain.Severity(severity)
	entry.ProcessingTime = time.Duration(processingUS) * time.Microsecond
	if warnings != "" {
		if err := json.Unmarshal([]byte(warnings), &entry.Warnings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal warnings: %w", err)
		}
	}
	return entry, nil
}

var _ Store = (*PostgresStore)(nil)
var _ Store = (*SQLiteStore)(nil)
