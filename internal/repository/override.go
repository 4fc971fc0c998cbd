// Package repository holds the PostgreSQL persistence for the engine's
// transactional entities.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/drug-interaction-engine/internal/domain"
)

// OverrideRepository persists override records and incidents. Recording an
// approved override together with its mandated incident happens in a single
// transaction; a partial state is never visible.
type OverrideRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewOverrideRepository creates a new override repository.
func NewOverrideRepository(db *pgxpool.Pool, logger *logrus.Logger) *OverrideRepository {
	return &OverrideRepository{
		db:  db,
		log: logger,
	}
}

// Record inserts the override and, when incident is non-nil, the linked
// incident atomically. Records are append-only: no UPDATE path exists.
func (r *OverrideRepository) Record(ctx context.Context, rec *domain.OverrideRecord, incident *domain.Incident) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("beginning override transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO override_records (
			id, interaction_id, user_id, reason_code, reason_text,
			clinical_justification, second_signoff_user_id, prescriber_consulted,
			state, incident_id, supersedes_id, severity, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rec.ID, rec.InteractionID, rec.UserID, string(rec.ReasonCode), rec.ReasonText,
		rec.ClinicalJustification, rec.SecondSignoffUserID, rec.PrescriberConsulted,
		string(rec.State), nullable(rec.IncidentID), nullable(rec.SupersedesID),
		string(rec.Severity), rec.CreatedAt,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"override_id":    rec.ID,
			"interaction_id": rec.InteractionID,
			"error":          err,
		}).Error("Failed to record override")
		return fmt.Errorf("inserting override record: %w", err)
	}

	if incident != nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO incidents (
				id, override_id, interaction_id, severity, summary, created_at
			) VALUES ($1, $2, $3, $4, $5, $6)`,
			incident.ID, incident.OverrideID, incident.InteractionID,
			string(incident.Severity), incident.Summary, incident.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting incident: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing override transaction: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"override_id":    rec.ID,
		"interaction_id": rec.InteractionID,
		"state":          rec.State.String(),
		"incident":       incident != nil,
	}).Info("Override recorded")

	return nil
}

// Get returns an override record by ID.
func (r *OverrideRepository) Get(ctx context.Context, id string) (*domain.OverrideRecord, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, interaction_id, user_id, reason_code, reason_text,
		       clinical_justification, second_signoff_user_id, prescriber_consulted,
		       state, incident_id, supersedes_id, severity, created_at
		FROM override_records
		WHERE id = $1`, id)

	rec, err := scanOverride(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("loading override %s: %w", id, err)
	}
	return rec, nil
}

// ListByInteraction returns all override records for one interaction.
func (r *OverrideRepository) ListByInteraction(ctx context.Context, interactionID string) ([]domain.OverrideRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, interaction_id, user_id, reason_code, reason_text,
		       clinical_justification, second_signoff_user_id, prescriber_consulted,
		       state, incident_id, supersedes_id, severity, created_at
		FROM override_records
		WHERE interaction_id = $1
		ORDER BY created_at ASC`, interactionID)
	if err != nil {
		return nil, fmt.Errorf("querying overrides: %w", err)
	}
	defer rows.Close()
	return collectOverrides(rows)
}

// List returns override records in a time range, oldest first.
func (r *OverrideRepository) List(ctx context.Context, from, to time.Time) ([]domain.OverrideRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, interaction_id, user_id, reason_code, reason_text,
		       clinical_justification, second_signoff_user_id, prescriber_consulted,
		       state, incident_id, supersedes_id, severity, created_at
		FROM override_records
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at ASC`, from, to)
	if err != nil {
		return nil, fmt.Errorf("querying overrides: %w", err)
	}
	defer rows.Close()
	return collectOverrides(rows)
}

type pgxScanner interface {
	Scan(dest ...any) error
}

func scanOverride(row pgxScanner) (*domain.OverrideRecord, error) {
	rec := &domain.OverrideRecord{}
	var reason, state, severity string
	var incidentID, supersedesID *string

	err := row.Scan(
		&rec.ID, &rec.InteractionID, &rec.UserID, &reason, &rec.ReasonText,
		&rec.ClinicalJustification, &rec.SecondSignoffUserID, &rec.PrescriberConsulted,
		&state, &incidentID, &supersedesID, &severity, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.ReasonCode = domain.OverrideReason(reason)
	rec.State = domain.OverrideState(state)
	rec.Severity = domain.Severity(severity)
	if incidentID != nil {
		rec.IncidentID = *incidentID
	}
	if supersedesID != nil {
		rec.SupersedesID = *supersedesID
	}
	return rec, nil
}

func collectOverrides(rows pgx.Rows) ([]domain.OverrideRecord, error) {
	var out []domain.OverrideRecord
	for rows.Next() {
		rec, err := scanOverride(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
