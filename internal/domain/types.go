// Package domain contains core business entities and types for drug-interaction
// decision support: severity grading, interaction mechanisms, clinician override
// workflow states, and the versioned model/knowledge-base descriptors the engine
// evaluates against.
package domain

import (
	"errors"
	"fmt"
)

// Severity represents the ordered clinical risk level of a drug interaction.
// The ordering none < minor < moderate < major < severe is load-bearing:
// ranking, override policy and second-signoff requirements all key off it.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeverityMajor    Severity = "major"
	SeveritySevere   Severity = "severe"
)

// Mechanism classifies how two or more drugs interact.
type Mechanism string

const (
	MechanismPharmacokinetic Mechanism = "pharmacokinetic"
	MechanismPharmacodynamic Mechanism = "pharmacodynamic"
	MechanismPharmaceutical  Mechanism = "pharmaceutical"
	MechanismUnknown         Mechanism = "unknown"
)

// InteractionSource identifies which part of the pipeline produced an interaction.
type InteractionSource string

const (
	SourceRuleEngine InteractionSource = "rule_engine"
	SourceMLModel    InteractionSource = "ml_model"
	SourceHybrid     InteractionSource = "hybrid"
)

// RecommendationAction represents the clinical action a recommendation proposes.
type RecommendationAction string

const (
	ActionSubstitute     RecommendationAction = "substitute"
	ActionMonitor        RecommendationAction = "monitor"
	ActionDoseAdjust     RecommendationAction = "dose_adjust"
	ActionContraindicate RecommendationAction = "contraindicate"
	ActionConsult        RecommendationAction = "consult"
	ActionDiscontinue    RecommendationAction = "discontinue"
)

// OverrideReason is the closed set of reason codes a clinician may cite when
// proceeding despite a flagged interaction. New codes require a code change,
// deliberately: free-text reason codes are not auditable.
type OverrideReason string

const (
	ReasonBenefitOutweighsRisk   OverrideReason = "benefit_outweighs_risk"
	ReasonPatientTolerated       OverrideReason = "patient_tolerated_previously"
	ReasonMonitoringInPlace      OverrideReason = "monitoring_in_place"
	ReasonDoseSeparation         OverrideReason = "dose_separation"
	ReasonAlternativeUnavailable OverrideReason = "alternative_unavailable"
	ReasonSpecialistApproval     OverrideReason = "specialist_approval"
)

// OverrideState tracks an override through its workflow.
type OverrideState string

const (
	OverrideProposed             OverrideState = "proposed"
	OverrideValidated            OverrideState = "validated"
	OverrideSecondSignoffPending OverrideState = "second_signoff_pending"
	OverrideApproved             OverrideState = "approved"
	OverrideRecorded             OverrideState = "recorded"
	OverrideRejected             OverrideState = "rejected"
	OverrideSuperseded           OverrideState = "superseded"
)

// ModelStatus is the deployment status of an ML model version.
type ModelStatus string

const (
	ModelShadow     ModelStatus = "shadow"
	ModelCanary     ModelStatus = "canary"
	ModelActive     ModelStatus = "active"
	ModelDeprecated ModelStatus = "deprecated"
)

// BatchStatus is the overall status of a batch check. A batch with individual
// patient failures still completes; "failed" is reserved for the batch itself
// being unable to run.
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
)

// PatientCheckStatus is the per-patient outcome inside a batch.
type PatientCheckStatus string

const (
	PatientCheckSucceeded PatientCheckStatus = "succeeded"
	PatientCheckFailed    PatientCheckStatus = "failed"
)

// Validation errors for clinical data integrity
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidSeverity   = errors.New("invalid interaction severity")
	ErrInvalidMechanism  = errors.New("invalid interaction mechanism")
	ErrInvalidSource     = errors.New("invalid interaction source")
	ErrInvalidAction     = errors.New("invalid recommendation action")
	ErrInvalidReason     = errors.New("invalid override reason code")
	ErrInvalidState      = errors.New("invalid override state")
	ErrInvalidConfidence = errors.New("confidence must be within [0,1]")
)

// severityRanks gives the total order used for comparison and ranking.
var severityRanks = map[Severity]int{
	SeverityNone:     0,
	SeverityMinor:    1,
	SeverityModerate: 2,
	SeverityMajor:    3,
	SeveritySevere:   4,
}

// IsValid validates the severity value. Critical for decision support: an
// unknown severity must never flow into ranking or override policy.
func (s Severity) IsValid() bool {
	_, ok := severityRanks[s]
	return ok
}

// String returns the string representation for logging and audit trails.
func (s Severity) String() string {
	return string(s)
}

// Rank returns the position of the severity in the clinical ordering.
// Unknown severities rank above severe so that a corrupted value is treated
// conservatively rather than silently dropped.
func (s Severity) Rank() int {
	if r, ok := severityRanks[s]; ok {
		return r
	}
	return severityRanks[SeveritySevere] + 1
}

// AtLeast reports whether s is at or above the given threshold.
func (s Severity) AtLeast(threshold Severity) bool {
	return s.Rank() >= threshold.Rank()
}

// Upgraded returns the severity one level above s, capped at severe.
func (s Severity) Upgraded() Severity {
	switch s {
	case SeverityNone:
		return SeverityMinor
	case SeverityMinor:
		return SeverityModerate
	case SeverityModerate:
		return SeverityMajor
	case SeverityMajor, SeveritySevere:
		return SeveritySevere
	default:
		return SeveritySevere
	}
}

// MaxSeverity returns the higher of two severities.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// LogFields returns structured logging fields for audit trails.
func (s Severity) LogFields() map[string]any {
	return map[string]any{
		"severity":           string(s),
		"severity_rank":      s.Rank(),
		"requires_attention": s.AtLeast(SeverityModerate),
	}
}

// IsValid validates the mechanism classification.
func (m Mechanism) IsValid() bool {
	switch m {
	case MechanismPharmacokinetic, MechanismPharmacodynamic, MechanismPharmaceutical, MechanismUnknown:
		return true
	default:
		return false
	}
}

// String returns the string representation of the mechanism.
func (m Mechanism) String() string {
	return string(m)
}

// Description returns a human-readable explanation of the mechanism class
// for clinical reporting.
func (m Mechanism) Description() string {
	switch m {
	case MechanismPharmacokinetic:
		return "Pharmacokinetic - altered absorption, metabolism or elimination"
	case MechanismPharmacodynamic:
		return "Pharmacodynamic - additive or antagonistic clinical effect"
	case MechanismPharmaceutical:
		return "Pharmaceutical - physical or chemical incompatibility"
	case MechanismUnknown:
		return "Unknown mechanism"
	default:
		return "Unclassified mechanism"
	}
}

// IsValid validates the interaction source tag.
func (s InteractionSource) IsValid() bool {
	switch s {
	case SourceRuleEngine, SourceMLModel, SourceHybrid:
		return true
	default:
		return false
	}
}

// String returns the string representation of the source.
func (s InteractionSource) String() string {
	return string(s)
}

// IncludesML reports whether ML output influenced the interaction. Used by
// the explainability module to decide whether attribution is required.
func (s InteractionSource) IncludesML() bool {
	return s == SourceMLModel || s == SourceHybrid
}

// IsValid validates the recommendation action.
func (a RecommendationAction) IsValid() bool {
	switch a {
	case ActionSubstitute, ActionMonitor, ActionDoseAdjust,
		ActionContraindicate, ActionConsult, ActionDiscontinue:
		return true
	default:
		return false
	}
}

// String returns the string representation of the action.
func (a RecommendationAction) String() string {
	return string(a)
}

// IsValid validates the override reason code.
func (r OverrideReason) IsValid() bool {
	switch r {
	case ReasonBenefitOutweighsRisk, ReasonPatientTolerated, ReasonMonitoringInPlace,
		ReasonDoseSeparation, ReasonAlternativeUnavailable, ReasonSpecialistApproval:
		return true
	default:
		return false
	}
}

// String returns the string representation of the reason code.
func (r OverrideReason) String() string {
	return string(r)
}

// IsValid validates the override state.
func (s OverrideState) IsValid() bool {
	switch s {
	case OverrideProposed, OverrideValidated, OverrideSecondSignoffPending,
		OverrideApproved, OverrideRecorded, OverrideRejected, OverrideSuperseded:
		return true
	default:
		return false
	}
}

// String returns the string representation of the state.
func (s OverrideState) String() string {
	return string(s)
}

// IsTerminal reports whether the state ends the workflow.
func (s OverrideState) IsTerminal() bool {
	switch s {
	case OverrideRecorded, OverrideRejected, OverrideSuperseded:
		return true
	default:
		return false
	}
}

// CanTransitionTo enforces the override workflow state machine. An override
// parked in second_signoff_pending stays there until a distinct second
// clinician signs off; the underlying interaction is not cleared meanwhile.
func (s OverrideState) CanTransitionTo(next OverrideState) bool {
	switch s {
	case OverrideProposed:
		return next == OverrideValidated || next == OverrideRejected
	case OverrideValidated:
		return next == OverrideSecondSignoffPending || next == OverrideApproved || next == OverrideRejected
	case OverrideSecondSignoffPending:
		return next == OverrideApproved || next == OverrideRejected
	case OverrideApproved:
		return next == OverrideRecorded
	case OverrideRecorded:
		return next == OverrideSuperseded
	default:
		return false
	}
}

// IsValid validates the model deployment status.
func (m ModelStatus) IsValid() bool {
	switch m {
	case ModelShadow, ModelCanary, ModelActive, ModelDeprecated:
		return true
	default:
		return false
	}
}

// String returns the string representation of the model status.
func (m ModelStatus) String() string {
	return string(m)
}

// ServesTraffic reports whether this version's predictions may be returned to
// callers. Shadow and canary versions are evaluated but never returned.
func (m ModelStatus) ServesTraffic() bool {
	return m == ModelActive
}

// IsValid validates the batch status.
func (b BatchStatus) IsValid() bool {
	switch b {
	case BatchPending, BatchRunning, BatchCompleted, BatchFailed:
		return true
	default:
		return false
	}
}

// String returns the string representation of the batch status.
func (b BatchStatus) String() string {
	return string(b)
}

// ValidateConfidence checks the [0,1] bound shared by interaction confidence,
// normalization confidence and evidence reliability.
func ValidateConfidence(c float64) error {
	if c < 0 || c > 1 {
		return fmt.Errorf("%w: %f", ErrInvalidConfidence, c)
	}
	return nil
}

// ClampConfidence bounds a confidence value to [0,1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
