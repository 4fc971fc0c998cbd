// Package override implements the clinician override workflow: validation,
// the second-signoff state machine for severe interactions, and atomic
// recording with incident creation.
package override

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/drug-interaction-engine/internal/domain"
)

// Policy configures the override workflow.
type Policy struct {
	// MinJustificationLength is the minimum clinical justification length
	// for overrides on major and severe interactions.
	MinJustificationLength int
	// IncidentOnMajorOverride creates a linked incident for approved
	// overrides at major severity and above. On by default; disabling it is
	// an explicit compliance decision.
	IncidentOnMajorOverride bool
}

// DefaultPolicy returns the standard compliance policy.
func DefaultPolicy() Policy {
	return Policy{
		MinJustificationLength:  20,
		IncidentOnMajorOverride: true,
	}
}

// Store persists override records and incidents. Record must be atomic:
// a crash between recording the override and creating the mandated incident
// is a correctness bug, not an acceptable partial state.
type Store interface {
	// Record persists the override and, when incident is non-nil, the linked
	// incident in one transaction.
	Record(ctx context.Context, rec *domain.OverrideRecord, incident *domain.Incident) error

	// Get returns an override record by ID.
	Get(ctx context.Context, id string) (*domain.OverrideRecord, error)

	// ListByInteraction returns all override records for an interaction,
	// oldest first.
	ListByInteraction(ctx context.Context, interactionID string) ([]domain.OverrideRecord, error)

	// List returns override records in a time range, oldest first.
	List(ctx context.Context, from, to time.Time) ([]domain.OverrideRecord, error)
}

// Manager validates and records clinician overrides.
type Manager struct {
	log    *logrus.Logger
	store  Store
	policy Policy
}

// NewManager creates an override workflow manager.
func NewManager(logger *logrus.Logger, store Store, policy Policy) *Manager {
	if policy.MinJustificationLength <= 0 {
		policy.MinJustificationLength = DefaultPolicy().MinJustificationLength
	}
	return &Manager{log: logger, store: store, policy: policy}
}

// Submit runs the override workflow for one flagged interaction:
// proposed -> validated -> (second_signoff_pending -> approved) | approved -> recorded.
// An override that fails validation is rejected without touching history.
func (m *Manager) Submit(ctx context.Context, sub *domain.OverrideSubmission, interaction *domain.DrugInteraction) (*domain.OverrideResult, error) {
	rec := &domain.OverrideRecord{
		ID:                    uuid.NewString(),
		InteractionID:         sub.InteractionID,
		UserID:                sub.UserID,
		ReasonCode:            sub.ReasonCode,
		ReasonText:            sub.ReasonText,
		ClinicalJustification: sub.ClinicalJustification,
		SecondSignoffUserID:   sub.SecondSignoffUserID,
		PrescriberConsulted:   sub.PrescriberConsulted,
		SupersedesID:          sub.SupersedesID,
		Severity:              interaction.Severity,
		State:                 domain.OverrideProposed,
		CreatedAt:             time.Now().UTC(),
	}

	if err := m.validate(ctx, sub, interaction); err != nil {
		m.log.WithError(err).WithFields(logrus.Fields{
			"interaction_id": sub.InteractionID,
			"user_id":        sub.UserID,
		}).Warn("Override submission rejected")
		return nil, err
	}
	m.transition(rec, domain.OverrideValidated)

	// Severe interactions never reach approved without an independent
	// second signoff. Absent one, the override parks in
	// second_signoff_pending and the interaction is not cleared.
	if interaction.Severity == domain.SeveritySevere && rec.SecondSignoffUserID == "" {
		m.transition(rec, domain.OverrideSecondSignoffPending)
		if err := m.store.Record(ctx, rec, nil); err != nil {
			return nil, fmt.Errorf("recording pending override: %w", err)
		}
		return &domain.OverrideResult{
			OverrideID: rec.ID,
			Approved:   false,
			State:      rec.State,
		}, nil
	}

	m.transition(rec, domain.OverrideApproved)

	var incident *domain.Incident
	if m.policy.IncidentOnMajorOverride && interaction.Severity.AtLeast(domain.SeverityMajor) {
		incident = &domain.Incident{
			ID:            uuid.NewString(),
			OverrideID:    rec.ID,
			InteractionID: rec.InteractionID,
			Severity:      interaction.Severity,
			Summary: fmt.Sprintf("Override of %s interaction %v by %s (%s)",
				interaction.Severity, interaction.DrugNames, rec.UserID, rec.ReasonCode),
			CreatedAt: time.Now().UTC(),
		}
		rec.IncidentID = incident.ID
	}

	m.transition(rec, domain.OverrideRecorded)
	if err := m.store.Record(ctx, rec, incident); err != nil {
		return nil, fmt.Errorf("recording override: %w", err)
	}

	m.log.WithFields(logrus.Fields{
		"override_id":    rec.ID,
		"interaction_id": rec.InteractionID,
		"severity":       interaction.Severity.String(),
		"incident":       rec.IncidentID != "",
	}).Info("Override approved and recorded")

	result := &domain.OverrideResult{
		OverrideID: rec.ID,
		Approved:   true,
		State:      rec.State,
		IncidentID: rec.IncidentID,
	}
	return result, nil
}

// CompleteSignoff approves a parked severe override once the second clinician
// signs off. History stays append-only: a new record referencing the pending
// one is written rather than mutating it.
func (m *Manager) CompleteSignoff(ctx context.Context, overrideID, signoffUserID string) (*domain.OverrideResult, error) {
	pending, err := m.store.Get(ctx, overrideID)
	if err != nil {
		return nil, fmt.Errorf("loading override: %w", err)
	}
	if pending.State != domain.OverrideSecondSignoffPending {
		return nil, domain.NewInvalidOverrideError(fmt.Sprintf("override %s is not awaiting second signoff", overrideID))
	}
	if signoffUserID == "" || signoffUserID == pending.UserID {
		return nil, domain.NewInvalidOverrideError("second signoff requires a distinct clinician")
	}

	approved := *pending
	approved.ID = uuid.NewString()
	approved.SecondSignoffUserID = signoffUserID
	approved.SupersedesID = pending.ID
	approved.State = domain.OverrideApproved
	approved.CreatedAt = time.Now().UTC()

	var incident *domain.Incident
	if m.policy.IncidentOnMajorOverride && approved.Severity.AtLeast(domain.SeverityMajor) {
		incident = &domain.Incident{
			ID:            uuid.NewString(),
			OverrideID:    approved.ID,
			InteractionID: approved.InteractionID,
			Severity:      approved.Severity,
			Summary: fmt.Sprintf("Second signoff by %s completed override %s",
				signoffUserID, pending.ID),
			CreatedAt: time.Now().UTC(),
		}
		approved.IncidentID = incident.ID
	}
	m.transition(&approved, domain.OverrideRecorded)

	if err := m.store.Record(ctx, &approved, incident); err != nil {
		return nil, fmt.Errorf("recording signed-off override: %w", err)
	}

	return &domain.OverrideResult{
		OverrideID: approved.ID,
		Approved:   true,
		State:      approved.State,
		IncidentID: approved.IncidentID,
	}, nil
}

// Revoke supersedes a recorded override by appending a new record that
// references it. The original record is never edited.
func (m *Manager) Revoke(ctx context.Context, overrideID, userID, reason string) (*domain.OverrideRecord, error) {
	original, err := m.store.Get(ctx, overrideID)
	if err != nil {
		return nil, fmt.Errorf("loading override: %w", err)
	}
	if original.State != domain.OverrideRecorded {
		return nil, domain.NewInvalidOverrideError(fmt.Sprintf("override %s is not in a revocable state", overrideID))
	}

	revocation := &domain.OverrideRecord{
		ID:            uuid.NewString(),
		InteractionID: original.InteractionID,
		UserID:        userID,
		ReasonCode:    original.ReasonCode,
		ReasonText:    reason,
		SupersedesID:  original.ID,
		Severity:      original.Severity,
		State:         domain.OverrideSuperseded,
		CreatedAt:     time.Now().UTC(),
	}
	if err := m.store.Record(ctx, revocation, nil); err != nil {
		return nil, fmt.Errorf("recording revocation: %w", err)
	}
	return revocation, nil
}

func (m *Manager) validate(ctx context.Context, sub *domain.OverrideSubmission, interaction *domain.DrugInteraction) error {
	if sub.InteractionID == "" || sub.InteractionID != interaction.ID {
		return domain.NewInvalidOverrideError("submission does not reference the flagged interaction")
	}
	if sub.UserID == "" {
		return domain.NewInvalidOverrideError("user ID is required")
	}
	if !sub.ReasonCode.IsValid() {
		return domain.NewInvalidOverrideError(fmt.Sprintf("unknown reason code %q", sub.ReasonCode))
	}
	if !interaction.OverrideAllowed {
		return domain.NewInvalidOverrideError("interaction is not overridable by policy")
	}
	if interaction.Severity.AtLeast(domain.SeverityMajor) {
		just := strings.TrimSpace(sub.ClinicalJustification)
		if len(just) < m.policy.MinJustificationLength {
			return domain.NewInvalidOverrideError(fmt.Sprintf(
				"clinical justification of at least %d characters is required for %s interactions",
				m.policy.MinJustificationLength, interaction.Severity))
		}
	}
	if sub.SecondSignoffUserID != "" && sub.SecondSignoffUserID == sub.UserID {
		return domain.NewInvalidOverrideError("second signoff must come from a distinct clinician")
	}
	if sub.SupersedesID != "" {
		if _, err := m.store.Get(ctx, sub.SupersedesID); err != nil {
			return domain.NewInvalidOverrideError(fmt.Sprintf("superseded override %s not found", sub.SupersedesID))
		}
	}
	return nil
}

// transition moves the record through the state machine, panicking on an
// illegal edge. Illegal transitions are programming errors, not input errors.
func (m *Manager) transition(rec *domain.OverrideRecord, next domain.OverrideState) {
	if !rec.State.CanTransitionTo(next) {
		panic(fmt.Sprintf("illegal override transition %s -> %s", rec.State, next))
	}
	rec.State = next
}
