package domain

import (
	"testing"
	"time"
)

func TestPatientFactsFingerprintIgnoresTiming(t *testing.T) {
	a := PatientFacts{
		PatientID:  "p1",
		AgeYears:   70,
		Allergies:  []string{"penicillin", "aspirin"},
		RecordedAt: time.Now(),
	}
	b := PatientFacts{
		PatientID:  "p1",
		AgeYears:   70,
		Allergies:  []string{"aspirin", "penicillin"},
		RecordedAt: time.Now().Add(time.Hour),
	}

	if a.Fingerprint() != b.Fingerprint() {
		t.Error("fingerprint must ignore timestamps and list order")
	}

	b.AgeYears = 71
	if a.Fingerprint() == b.Fingerprint() {
		t.Error("fingerprint must change with clinical facts")
	}
}

func TestNormalizedDrugKey(t *testing.T) {
	resolved := NormalizedDrug{Input: Drug{Name: "Coumadin"}, CanonicalID: "drug:warfarin"}
	if resolved.Key() != "drug:warfarin" {
		t.Errorf("Key() = %s", resolved.Key())
	}

	// Unrecognized drugs still get a stable identity from their input name.
	unknown := NormalizedDrug{Input: Drug{Name: " Mysterin "}, Unrecognized: true}
	if unknown.Key() != "mysterin" {
		t.Errorf("Key() = %s", unknown.Key())
	}
}

func TestDrugSetKeyOrderIndependent(t *testing.T) {
	warfarin := NormalizedDrug{CanonicalID: "drug:warfarin"}
	aspirin := NormalizedDrug{CanonicalID: "drug:aspirin"}

	ab := DrugSetKey([]NormalizedDrug{warfarin, aspirin})
	ba := DrugSetKey([]NormalizedDrug{aspirin, warfarin})

	if ab != ba {
		t.Errorf("set key depends on order: %s vs %s", ab, ba)
	}
	if ab != "drug:aspirin+drug:warfarin" {
		t.Errorf("unexpected set key %s", ab)
	}
}

func TestDrugInteractionValidate(t *testing.T) {
	valid := DrugInteraction{
		DrugKeys:   []string{"drug:warfarin", "drug:aspirin"},
		Severity:   SeverityMajor,
		Confidence: 0.9,
		Mechanism:  MechanismPharmacodynamic,
		Source:     SourceRuleEngine,
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*DrugInteraction)
	}{
		{"severity none", func(di *DrugInteraction) { di.Severity = SeverityNone }},
		{"invalid severity", func(di *DrugInteraction) { di.Severity = "critical" }},
		{"confidence above one", func(di *DrugInteraction) { di.Confidence = 1.2 }},
		{"invalid mechanism", func(di *DrugInteraction) { di.Mechanism = "osmosis" }},
		{"invalid source", func(di *DrugInteraction) { di.Source = "oracle" }},
		{"no drugs", func(di *DrugInteraction) { di.DrugKeys = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			di := valid
			tt.mutate(&di)
			if err := di.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestMonitoringPlanValidate(t *testing.T) {
	plan := MonitoringPlan{
		LabTests:      []string{"INR"},
		FrequencyDays: 3,
		Thresholds: []MonitoringThreshold{
			{LabCode: "INR", Operator: "gt", Value: 3.5, Action: "hold warfarin and reassess dose"},
		},
	}
	if err := plan.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	noThresholds := MonitoringPlan{LabTests: []string{"INR"}}
	if err := noThresholds.Validate(); err == nil {
		t.Error("monitoring plan without thresholds must be invalid")
	}

	noTests := MonitoringPlan{Thresholds: plan.Thresholds}
	if err := noTests.Validate(); err == nil {
		t.Error("monitoring plan without lab tests must be invalid")
	}
}

func TestRecommendationValidate(t *testing.T) {
	monitor := Recommendation{Action: ActionMonitor}
	if err := monitor.Validate(); err == nil {
		t.Error("monitor recommendation without a plan must be invalid")
	}

	substitute := Recommendation{Action: ActionSubstitute}
	if err := substitute.Validate(); err == nil {
		t.Error("substitute recommendation without an alternative must be invalid")
	}

	consult := Recommendation{Action: ActionConsult, Text: "consult prescriber"}
	if err := consult.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCheckRequestValidate(t *testing.T) {
	valid := CheckRequest{
		PatientID: "p1",
		Drugs:     []Drug{{Name: "warfarin"}, {Name: "aspirin"}},
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	noPatient := valid
	noPatient.PatientID = ""
	if err := noPatient.Validate(); err == nil {
		t.Error("expected error for missing patient ID")
	}

	noDrugs := valid
	noDrugs.Drugs = nil
	if err := noDrugs.Validate(); err == nil {
		t.Error("expected error for empty drug list")
	}

	blankDrug := valid
	blankDrug.Drugs = []Drug{{Name: "  "}}
	if err := blankDrug.Validate(); err == nil {
		t.Error("expected error for blank drug name")
	}

	badThreshold := valid
	badThreshold.Options.SeverityThreshold = "catastrophic"
	if err := badThreshold.Validate(); err == nil {
		t.Error("expected error for invalid severity threshold")
	}
}

func TestBatchCheckResultSucceededCount(t *testing.T) {
	result := BatchCheckResult{
		Patients: []BatchPatientResult{
			{PatientID: "p1", Status: PatientCheckSucceeded},
			{PatientID: "p2", Status: PatientCheckFailed},
			{PatientID: "p3", Status: PatientCheckSucceeded},
		},
	}
	if got := result.SucceededCount(); got != 2 {
		t.Errorf("SucceededCount() = %d, want 2", got)
	}
}
