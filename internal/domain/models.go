package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// PatientFacts is an immutable snapshot of one patient at check time. It is
// built once per request and never mutated afterwards; aggregation and
// personalization read from it but write derived records of their own.
type PatientFacts struct {
	PatientID       string          `json:"patient_id" validate:"required"`
	AgeYears        int             `json:"age_years" validate:"min=0"`
	Sex             string          `json:"sex,omitempty"`
	WeightKg        float64         `json:"weight_kg,omitempty"`
	Pregnant        bool            `json:"pregnant"`
	Allergies       []string        `json:"allergies,omitempty"`
	Comorbidities   []string        `json:"comorbidities,omitempty"`
	LabValues       []LabValue      `json:"lab_values,omitempty"`
	RenalFunction   OrganFunction   `json:"renal_function"`
	HepaticFunction OrganFunction   `json:"hepatic_function"`
	GeneticMarkers  []GeneticMarker `json:"genetic_markers,omitempty"`
	RecordedAt      time.Time       `json:"recorded_at"`
}

// LabValue is a single laboratory measurement.
type LabValue struct {
	Code  string    `json:"code"`
	Value float64   `json:"value"`
	Unit  string    `json:"unit,omitempty"`
	Taken time.Time `json:"taken,omitempty"`
}

// OrganFunction summarizes renal or hepatic status.
type OrganFunction struct {
	Status string  `json:"status"` // normal, mild, moderate, severe
	Score  float64 `json:"score,omitempty"`
}

// Impaired reports whether the organ function is below normal.
func (o OrganFunction) Impaired() bool {
	return o.Status != "" && o.Status != "normal"
}

// GeneticMarker is a pharmacogenomic marker relevant to drug metabolism.
type GeneticMarker struct {
	Gene      string `json:"gene"`
	Phenotype string `json:"phenotype"` // e.g. poor_metabolizer, ultrarapid_metabolizer
}

// Validate ensures the patient snapshot is usable by the pipeline.
func (p *PatientFacts) Validate() error {
	if p.PatientID == "" {
		return fmt.Errorf("patient facts validation: %w", errors.New("patient ID is required"))
	}
	if p.AgeYears < 0 || p.AgeYears > 150 {
		return fmt.Errorf("patient facts validation: implausible age %d", p.AgeYears)
	}
	if p.WeightKg < 0 {
		return fmt.Errorf("patient facts validation: negative weight")
	}
	return nil
}

// Fingerprint returns a stable hash of the clinically relevant facts. It is
// one component of the result-cache key, so it must not include timestamps.
func (p *PatientFacts) Fingerprint() string {
	shadow := *p
	shadow.RecordedAt = time.Time{}
	sort.Strings(shadow.Allergies)
	sort.Strings(shadow.Comorbidities)
	raw, _ := json.Marshal(shadow)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Drug is a medication as entered or as resolved by the normalizer.
type Drug struct {
	Name     string `json:"name" validate:"required"`
	Strength string `json:"strength,omitempty"`
	Route    string `json:"route,omitempty"`
	Code     string `json:"code,omitempty"` // RxNorm-style identifier when known
}

// NormalizedDrug is the normalizer's output: a canonical drug record with a
// confidence score. Raw input strings never travel downstream of the
// normalizer; everything after it works on NormalizedDrug.
type NormalizedDrug struct {
	Input        Drug     `json:"input"`
	CanonicalID  string   `json:"canonical_id,omitempty"`
	GenericName  string   `json:"generic_name,omitempty"`
	BrandNames   []string `json:"brand_names,omitempty"`
	ClassCode    string   `json:"class_code,omitempty"` // ATC-like therapeutic class
	Components   []string `json:"components,omitempty"` // canonical IDs for combination products
	Confidence   float64  `json:"confidence"`
	Unrecognized bool     `json:"unrecognized"`
	// FuzzyCandidates holds near-miss canonical IDs when no confident match
	// exists, best first. Populated only when Unrecognized is true.
	FuzzyCandidates []string `json:"fuzzy_candidates,omitempty"`
}

// Key returns the identity used for interaction deduplication: the canonical
// ID when resolved, otherwise the lowercased input name so an unrecognized
// drug still participates in output rather than vanishing.
func (d *NormalizedDrug) Key() string {
	if d.CanonicalID != "" {
		return d.CanonicalID
	}
	return strings.ToLower(strings.TrimSpace(d.Input.Name))
}

// DisplayName returns the name used in ordering and clinician-facing text.
func (d *NormalizedDrug) DisplayName() string {
	if d.GenericName != "" {
		return d.GenericName
	}
	return d.Input.Name
}

// DrugSetKey builds the order-independent identity of a drug combination.
// Two interactions over the same drugs are the same interaction regardless
// of the order drugs were entered.
func DrugSetKey(drugs []NormalizedDrug) string {
	keys := make([]string, 0, len(drugs))
	for i := range drugs {
		keys = append(keys, drugs[i].Key())
	}
	sort.Strings(keys)
	return strings.Join(keys, "+")
}

// Evidence is one citation or model-output reference backing an interaction.
// Evidence is never invented: every entry is traceable to a registered
// DataSource or to an ML model version.
type Evidence struct {
	SourceID         string  `json:"source_id" validate:"required"`
	Citation         string  `json:"citation,omitempty"`
	ReliabilityScore float64 `json:"reliability_score"`
	ModelVersion     string  `json:"model_version,omitempty"`
}

// Validate checks evidence integrity.
func (e *Evidence) Validate() error {
	if e.SourceID == "" && e.ModelVersion == "" {
		return fmt.Errorf("evidence validation: %w", errors.New("evidence must reference a data source or model version"))
	}
	if err := ValidateConfidence(e.ReliabilityScore); err != nil {
		return fmt.Errorf("evidence validation: reliability %w", err)
	}
	return nil
}

// MonitoringThreshold is one measurable bound in a monitoring plan.
type MonitoringThreshold struct {
	LabCode  string  `json:"lab_code" validate:"required"`
	Operator string  `json:"operator"` // gt, lt, gte, lte
	Value    float64 `json:"value"`
	Action   string  `json:"action" validate:"required"`
}

// MonitoringPlan carries the measurable follow-up attached to a monitor
// recommendation. A monitoring recommendation without thresholds is invalid
// output and is rejected at validation.
type MonitoringPlan struct {
	LabTests      []string              `json:"lab_tests" validate:"required,min=1"`
	FrequencyDays int                   `json:"frequency_days"`
	Thresholds    []MonitoringThreshold `json:"thresholds" validate:"required,min=1"`
}

// Validate enforces that monitoring plans are measurable.
func (m *MonitoringPlan) Validate() error {
	if len(m.LabTests) == 0 {
		return fmt.Errorf("monitoring plan validation: %w", errors.New("at least one lab test is required"))
	}
	if len(m.Thresholds) == 0 {
		return fmt.Errorf("monitoring plan validation: %w", errors.New("at least one action threshold is required"))
	}
	for i := range m.Thresholds {
		if m.Thresholds[i].LabCode == "" || m.Thresholds[i].Action == "" {
			return fmt.Errorf("monitoring plan validation: threshold %d missing lab code or action", i)
		}
	}
	return nil
}

// AlternativeDrug is a candidate substitute with its therapeutic equivalence.
type AlternativeDrug struct {
	CanonicalID            string  `json:"canonical_id"`
	Name                   string  `json:"name"`
	ClassCode              string  `json:"class_code,omitempty"`
	TherapeuticEquivalence float64 `json:"therapeutic_equivalence"`
	Available              bool    `json:"available"`
}

// Recommendation is a clinical action tied to one interaction.
type Recommendation struct {
	Action      RecommendationAction `json:"action"`
	Text        string               `json:"text"`
	Available   bool                 `json:"available"`
	Alternative *AlternativeDrug     `json:"alternative,omitempty"`
	Monitoring  *MonitoringPlan      `json:"monitoring,omitempty"`
}

// Validate enforces recommendation shape rules.
func (r *Recommendation) Validate() error {
	if !r.Action.IsValid() {
		return fmt.Errorf("recommendation validation: %w", ErrInvalidAction)
	}
	if r.Action == ActionMonitor {
		if r.Monitoring == nil {
			return fmt.Errorf("recommendation validation: %w", errors.New("monitor recommendation requires a monitoring plan"))
		}
		if err := r.Monitoring.Validate(); err != nil {
			return fmt.Errorf("recommendation validation: %w", err)
		}
	}
	if r.Action == ActionSubstitute && r.Alternative == nil {
		return fmt.Errorf("recommendation validation: %w", errors.New("substitute recommendation requires an alternative drug"))
	}
	return nil
}

// AdjustmentFactors are the bounded per-patient multipliers the
// personalization adjuster derived for one interaction.
type AdjustmentFactors struct {
	Age               float64            `json:"age"`
	Weight            float64            `json:"weight"`
	Renal             float64            `json:"renal"`
	Hepatic           float64            `json:"hepatic"`
	Pregnancy         float64            `json:"pregnancy"`
	Comorbidity       map[string]float64 `json:"comorbidity,omitempty"`
	Genetic           map[string]float64 `json:"genetic,omitempty"`
	Lab               map[string]float64 `json:"lab,omitempty"`
	OverallAdjustment float64            `json:"overall_adjustment"`
	SeverityUpgraded  bool               `json:"severity_upgraded"`
}

// DrugInteraction is the central result entity. Instances are immutable once
// built; the aggregator constructs new merged records rather than mutating
// rule or ML outputs in place.
type DrugInteraction struct {
	ID               string             `json:"id"`
	DrugKeys         []string           `json:"drug_keys"`
	DrugNames        []string           `json:"drug_names"`
	Severity         Severity           `json:"severity"`
	Confidence       float64            `json:"confidence"`
	Mechanism        Mechanism          `json:"mechanism"`
	Consequence      string             `json:"consequence,omitempty"`
	Evidence         []Evidence         `json:"evidence,omitempty"`
	Recommendations  []Recommendation   `json:"recommendations,omitempty"`
	OverrideAllowed  bool               `json:"override_allowed"`
	Adjustments      *AdjustmentFactors `json:"adjustments,omitempty"`
	Source           InteractionSource  `json:"source"`
	ModelVersion     string             `json:"model_version,omitempty"`
	RuleID           string             `json:"rule_id,omitempty"`
	BaselineSeverity Severity           `json:"baseline_severity,omitempty"`
}

// SetKey returns the order-independent identity of the interaction's drug set.
func (di *DrugInteraction) SetKey() string {
	keys := append([]string(nil), di.DrugKeys...)
	sort.Strings(keys)
	return strings.Join(keys, "+")
}

// Validate enforces the joint-presence invariant: severity and confidence are
// always set together, severity none is never emitted, confidence is bounded.
func (di *DrugInteraction) Validate() error {
	if !di.Severity.IsValid() {
		return fmt.Errorf("interaction validation: %w", ErrInvalidSeverity)
	}
	if di.Severity == SeverityNone {
		return fmt.Errorf("interaction validation: %w", errors.New("severity none must be filtered, not emitted"))
	}
	if err := ValidateConfidence(di.Confidence); err != nil {
		return fmt.Errorf("interaction validation: %w", err)
	}
	if !di.Mechanism.IsValid() {
		return fmt.Errorf("interaction validation: %w", ErrInvalidMechanism)
	}
	if !di.Source.IsValid() {
		return fmt.Errorf("interaction validation: %w", ErrInvalidSource)
	}
	if len(di.DrugKeys) == 0 {
		return fmt.Errorf("interaction validation: %w", errors.New("interaction requires at least one drug"))
	}
	return nil
}

// OverrideRecord is the immutable, append-only record of a clinician's
// decision to proceed despite a flagged interaction. Corrections never edit
// an existing record; they create a new one referencing the old.
type OverrideRecord struct {
	ID                    string         `json:"id"`
	InteractionID         string         `json:"interaction_id" validate:"required"`
	UserID                string         `json:"user_id" validate:"required"`
	ReasonCode            OverrideReason `json:"reason_code" validate:"required"`
	ReasonText            string         `json:"reason_text,omitempty"`
	ClinicalJustification string         `json:"clinical_justification,omitempty"`
	SecondSignoffUserID   string         `json:"second_signoff_user_id,omitempty"`
	PrescriberConsulted   bool           `json:"prescriber_consulted"`
	State                 OverrideState  `json:"state"`
	IncidentID            string         `json:"incident_id,omitempty"`
	SupersedesID          string         `json:"supersedes_id,omitempty"`
	Severity              Severity       `json:"severity"`
	CreatedAt             time.Time      `json:"created_at"`
}

// Incident is the audit record automatically linked to approved overrides on
// major or severe interactions.
type Incident struct {
	ID            string    `json:"id"`
	OverrideID    string    `json:"override_id"`
	InteractionID string    `json:"interaction_id"`
	Severity      Severity  `json:"severity"`
	Summary       string    `json:"summary"`
	CreatedAt     time.Time `json:"created_at"`
}

// RunLog is the append-only record of one check invocation, written whether
// or not the result came from cache. Auditability is never skipped by caching.
type RunLog struct {
	ID               string        `json:"id"`
	RequestID        string        `json:"request_id"`
	PatientID        string        `json:"patient_id"`
	DrugSetKey       string        `json:"drug_set_key"`
	KnowledgeVersion string        `json:"knowledge_version"`
	ModelVersion     string        `json:"model_version"`
	InteractionCount int           `json:"interaction_count"`
	MaxSeverity      Severity      `json:"max_severity"`
	CacheHit         bool          `json:"cache_hit"`
	Degraded         bool          `json:"degraded"`
	Warnings         []string      `json:"warnings,omitempty"`
	Error            string        `json:"error,omitempty"`
	ProcessingTime   time.Duration `json:"processing_time"`
	CreatedAt        time.Time     `json:"created_at"`
}

// ModelMetrics holds the tracked performance numbers for a model version.
// CalibrationScore maps raw classifier probability to calibrated confidence;
// a raw probability is never treated as calibrated without it.
type ModelMetrics struct {
	AUC              float64 `json:"auc,omitempty"`
	Precision        float64 `json:"precision,omitempty"`
	Recall           float64 `json:"recall,omitempty"`
	CalibrationScore float64 `json:"calibration_score"`
}

// MLModel is a versioned model artifact descriptor. Multiple versions of one
// model type may coexist; exactly one is active at a time.
type MLModel struct {
	ModelType           string       `json:"model_type" validate:"required"`
	Version             string       `json:"version" validate:"required"`
	Status              ModelStatus  `json:"status"`
	PerformanceMetrics  ModelMetrics `json:"performance_metrics"`
	ConfidenceThreshold float64      `json:"confidence_threshold"`
	DeployedAt          time.Time    `json:"deployed_at"`
}

// Validate checks the model descriptor.
func (m *MLModel) Validate() error {
	if m.ModelType == "" || m.Version == "" {
		return fmt.Errorf("model validation: %w", errors.New("model type and version are required"))
	}
	if !m.Status.IsValid() {
		return fmt.Errorf("model validation: invalid status %s", m.Status)
	}
	if err := ValidateConfidence(m.ConfidenceThreshold); err != nil {
		return fmt.Errorf("model validation: threshold %w", err)
	}
	if err := ValidateConfidence(m.PerformanceMetrics.CalibrationScore); err != nil {
		return fmt.Errorf("model validation: calibration %w", err)
	}
	return nil
}

// CoverageStats describes how much of the drug space a data source covers.
type CoverageStats struct {
	DrugCount        int `json:"drug_count"`
	InteractionCount int `json:"interaction_count"`
}

// DataSource is the descriptor for one registered interaction-evidence source.
type DataSource struct {
	ID               string        `json:"id" validate:"required"`
	Name             string        `json:"name"`
	Priority         int           `json:"priority"`
	Version          string        `json:"version"`
	ReliabilityScore float64       `json:"reliability_score"`
	Coverage         CoverageStats `json:"coverage"`
}

// InteractionSummary is the roll-up returned with every check response.
type InteractionSummary struct {
	MaxSeverity        Severity         `json:"max_severity"`
	Flag               bool             `json:"flag"`
	TotalInteractions  int              `json:"total_interactions"`
	SeverityCounts     map[Severity]int `json:"severity_counts"`
	RequiresAttention  bool             `json:"requires_attention"`
	EstimatedRiskScore float64          `json:"estimated_risk_score"`
	ConfidenceLow      float64          `json:"confidence_low"`
	ConfidenceHigh     float64          `json:"confidence_high"`
}

// CheckOptions tune one interaction check.
type CheckOptions struct {
	SeverityThreshold      Severity `json:"severity_threshold,omitempty"`
	IncludeMLPredictions   bool     `json:"include_ml_predictions"`
	IncludeAlternatives    bool     `json:"include_alternatives"`
	MaxAlternatives        int      `json:"max_alternatives,omitempty"`
	IncludeMonitoringPlans bool     `json:"include_monitoring_plans"`
}

// CheckContext captures who asked for the check and from where.
type CheckContext struct {
	PrescriberID string `json:"prescriber_id,omitempty"`
	Source       string `json:"source"`
}

// CheckRequest is the engine's primary input contract.
type CheckRequest struct {
	PatientID    string       `json:"patient_id" validate:"required"`
	PatientFacts PatientFacts `json:"patient_facts"`
	Drugs        []Drug       `json:"drugs" validate:"required,min=1"`
	Context      CheckContext `json:"context"`
	Options      CheckOptions `json:"options"`
}

// Validate checks the request contract before any work is scheduled.
func (r *CheckRequest) Validate() error {
	if r.PatientID == "" {
		return fmt.Errorf("check request validation: %w", errors.New("patient ID is required"))
	}
	if len(r.Drugs) == 0 {
		return fmt.Errorf("check request validation: %w", errors.New("at least one drug is required"))
	}
	for i := range r.Drugs {
		if strings.TrimSpace(r.Drugs[i].Name) == "" {
			return fmt.Errorf("check request validation: drug %d has no name", i)
		}
	}
	if r.Options.SeverityThreshold != "" && !r.Options.SeverityThreshold.IsValid() {
		return fmt.Errorf("check request validation: %w", ErrInvalidSeverity)
	}
	return r.PatientFacts.Validate()
}

// CheckMetadata reports how the response was produced. Degraded and Warnings
// let a clinician distinguish "no interactions found" from "check degraded".
type CheckMetadata struct {
	ProcessingTimeMS int64    `json:"processing_time_ms"`
	CacheHit         bool     `json:"cache_hit"`
	ModelVersion     string   `json:"model_version,omitempty"`
	KnowledgeVersion string   `json:"knowledge_version"`
	DataSourcesUsed  []string `json:"data_sources_used,omitempty"`
	Degraded         bool     `json:"degraded"`
	Warnings         []string `json:"warnings,omitempty"`
}

// CheckResponse is the engine's primary output contract.
type CheckResponse struct {
	RequestID         string             `json:"request_id"`
	Interactions      []DrugInteraction  `json:"interactions"`
	Summary           InteractionSummary `json:"summary"`
	Alternatives      []AlternativeDrug  `json:"alternatives,omitempty"`
	MonitoringRecs    []Recommendation   `json:"monitoring_recommendations,omitempty"`
	UnrecognizedDrugs []string           `json:"unrecognized_drugs,omitempty"`
	Metadata          CheckMetadata      `json:"metadata"`
}

// OverrideSubmission is the override call's input contract.
type OverrideSubmission struct {
	InteractionID         string         `json:"interaction_id" validate:"required"`
	UserID                string         `json:"user_id" validate:"required"`
	ReasonCode            OverrideReason `json:"reason_code" validate:"required"`
	ReasonText            string         `json:"reason_text,omitempty"`
	ClinicalJustification string         `json:"clinical_justification,omitempty"`
	SecondSignoffUserID   string         `json:"second_signoff_user_id,omitempty"`
	PrescriberConsulted   bool           `json:"prescriber_consulted"`
	SupersedesID          string         `json:"supersedes_id,omitempty"`
}

// OverrideResult is the override call's output contract.
type OverrideResult struct {
	OverrideID string        `json:"override_id"`
	Approved   bool          `json:"approved"`
	State      OverrideState `json:"state"`
	IncidentID string        `json:"incident_id,omitempty"`
}

// BatchPatientResult is one patient's outcome inside a batch.
type BatchPatientResult struct {
	PatientID string             `json:"patient_id"`
	Status    PatientCheckStatus `json:"status"`
	Response  *CheckResponse     `json:"response,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// BatchCheckResult is the asynchronous batch output. A batch completes even
// when some patients fail; per-patient failures are isolated to their entry.
type BatchCheckResult struct {
	BatchID          string               `json:"batch_id"`
	Status           BatchStatus          `json:"status"`
	Patients         []BatchPatientResult `json:"patients"`
	KnowledgeVersion string               `json:"knowledge_version"`
	ModelVersion     string               `json:"model_version"`
	SubmittedAt      time.Time            `json:"submitted_at"`
	CompletedAt      time.Time            `json:"completed_at,omitempty"`
}

// SucceededCount returns how many patients checked successfully.
func (b *BatchCheckResult) SucceededCount() int {
	n := 0
	for i := range b.Patients {
		if b.Patients[i].Status == PatientCheckSucceeded {
			n++
		}
	}
	return n
}

// ReportRequest asks for a compliance report generated from audit history,
// never from live request state.
type ReportRequest struct {
	ReportType string            `json:"report_type" validate:"required"`
	From       time.Time         `json:"from"`
	To         time.Time         `json:"to"`
	Filters    map[string]string `json:"filters,omitempty"`
	Format     string            `json:"format,omitempty"`
}

// ReportResult is the report generation outcome.
type ReportResult struct {
	Status      string `json:"status"`
	DownloadURL string `json:"download_url,omitempty"`
	RecordCount int    `json:"record_count"`
}
