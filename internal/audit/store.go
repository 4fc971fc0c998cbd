// Package audit persists the engine's append-only compliance records. Run
// logs are write-once: the stores expose insert and read operations only, and
// corrections happen by appending new records, never by editing history.
package audit

import (
	"context"
	"io"
	"time"

	"github.com/drug-interaction-engine/internal/domain"
)

// Store is the append-only run-log store. Two backends exist: SQLite for
// single-node and local deployments, PostgreSQL for production.
type Store interface {
	// AppendRunLog records one check invocation. Called for every check,
	// including cache hits; auditability is never skipped by caching.
	AppendRunLog(ctx context.Context, entry *domain.RunLog) error

	// ListRunLogs returns entries in a time range, oldest first.
	ListRunLogs(ctx context.Context, from, to time.Time) ([]domain.RunLog, error)

	// CountRunLogs returns the number of entries in a time range.
	CountRunLogs(ctx context.Context, from, to time.Time) (int, error)

	io.Closer
}
