package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drug-interaction-engine/internal/domain"
)

func baseInteraction() domain.DrugInteraction {
	return domain.DrugInteraction{
		DrugKeys:         []string{"rx:aspirin", "rx:warfarin"},
		Severity:         domain.SeverityMajor,
		BaselineSeverity: domain.SeverityMajor,
		Confidence:       0.6,
		Mechanism:        domain.MechanismPharmacodynamic,
		Source:           domain.SourceRuleEngine,
		RuleID:           "rule:warfarin-aspirin",
	}
}

func TestAdjustNilFactsPassThrough(t *testing.T) {
	p := NewPersonalizer(testLogger())
	snap := seededSnapshot(t)

	in := []domain.DrugInteraction{baseInteraction()}
	out := p.Adjust(snap, in, nil)
	assert.Equal(t, in, out)
}

func TestAdjustRaisesConfidenceForElderlyRenalPatient(t *testing.T) {
	p := NewPersonalizer(testLogger())
	snap := seededSnapshot(t)

	facts := &domain.PatientFacts{
		PatientID:     "p1",
		AgeYears:      82,
		RenalFunction: domain.OrganFunction{Status: "moderate"},
	}

	out := p.Adjust(snap, []domain.DrugInteraction{baseInteraction()}, facts)
	require.Len(t, out, 1)

	adjusted := out[0]
	require.NotNil(t, adjusted.Adjustments)
	assert.InDelta(t, 1.3, adjusted.Adjustments.Age, 1e-9)
	assert.InDelta(t, 1.25, adjusted.Adjustments.Renal, 1e-9)
	assert.Greater(t, adjusted.Confidence, 0.6)
	// Severity is untouched without an explicit upgrade flag.
	assert.Equal(t, domain.SeverityMajor, adjusted.Severity)
}

func TestAdjustDoesNotMutateInput(t *testing.T) {
	p := NewPersonalizer(testLogger())
	snap := seededSnapshot(t)

	in := []domain.DrugInteraction{baseInteraction()}
	facts := &domain.PatientFacts{PatientID: "p1", AgeYears: 90}
	p.Adjust(snap, in, facts)

	assert.Nil(t, in[0].Adjustments)
	assert.InDelta(t, 0.6, in[0].Confidence, 1e-9)
}

func TestAdjustOverallCeiling(t *testing.T) {
	p := NewPersonalizer(testLogger())
	snap := seededSnapshot(t)

	// Stack every aggravating factor; the combined multiplier must cap at 2.
	facts := &domain.PatientFacts{
		PatientID:       "p1",
		AgeYears:        85,
		WeightKg:        40,
		Pregnant:        true,
		RenalFunction:   domain.OrganFunction{Status: "severe"},
		HepaticFunction: domain.OrganFunction{Status: "severe"},
		Comorbidities:   []string{"chronic_kidney_disease", "heart_failure"},
		GeneticMarkers:  []domain.GeneticMarker{{Gene: "CYP2C9", Phenotype: "poor_metabolizer"}},
		LabValues:       []domain.LabValue{{Code: "egfr", Value: 20}, {Code: "inr", Value: 4.0}},
	}

	out := p.Adjust(snap, []domain.DrugInteraction{baseInteraction()}, facts)
	require.Len(t, out, 1)
	require.NotNil(t, out[0].Adjustments)
	assert.InDelta(t, 2.0, out[0].Adjustments.OverallAdjustment, 1e-9)
	assert.LessOrEqual(t, out[0].Confidence, 1.0)
}

func TestAdjustPregnancyUpgradesTeratogenicOnly(t *testing.T) {
	p := NewPersonalizer(testLogger())
	snap := seededSnapshot(t)
	facts := &domain.PatientFacts{PatientID: "p1", AgeYears: 30, Pregnant: true}

	// The methotrexate-NSAID rule is flagged teratogenic: one-level upgrade.
	teratogenic := baseInteraction()
	teratogenic.RuleID = "rule:methotrexate-nsaid"
	out := p.Adjust(snap, []domain.DrugInteraction{teratogenic}, facts)
	require.Len(t, out, 1)
	assert.Equal(t, domain.SeveritySevere, out[0].Severity)
	assert.True(t, out[0].Adjustments.SeverityUpgraded)

	// An unflagged rule keeps its severity even for a pregnant patient.
	plain := baseInteraction()
	out = p.Adjust(snap, []domain.DrugInteraction{plain}, facts)
	require.Len(t, out, 1)
	assert.Equal(t, domain.SeverityMajor, out[0].Severity)

	// ML interactions carry no rule and are never upgraded.
	ml := baseInteraction()
	ml.RuleID = ""
	ml.Source = domain.SourceMLModel
	out = p.Adjust(snap, []domain.DrugInteraction{ml}, facts)
	require.Len(t, out, 1)
	assert.Equal(t, domain.SeverityMajor, out[0].Severity)
}

func TestAdjustNeverBelowBaseline(t *testing.T) {
	p := NewPersonalizer(testLogger())
	snap := seededSnapshot(t)

	// A young healthy patient produces neutral factors; severity must still
	// equal the baseline, never below it.
	facts := &domain.PatientFacts{PatientID: "p1", AgeYears: 30}
	out := p.Adjust(snap, []domain.DrugInteraction{baseInteraction()}, facts)
	require.Len(t, out, 1)
	assert.Equal(t, domain.SeverityMajor, out[0].Severity)
	assert.True(t, out[0].Severity.AtLeast(out[0].BaselineSeverity))
}

func TestFactorTables(t *testing.T) {
	assert.InDelta(t, 1.3, ageFactor(85), 1e-9)
	assert.InDelta(t, 1.15, ageFactor(70), 1e-9)
	assert.InDelta(t, 1.2, ageFactor(8), 1e-9)
	assert.InDelta(t, 1.0, ageFactor(40), 1e-9)

	assert.InDelta(t, 1.1, weightFactor(40), 1e-9)
	assert.InDelta(t, 1.0, weightFactor(0), 1e-9)

	assert.InDelta(t, 1.4, organFactor(domain.OrganFunction{Status: "severe"}), 1e-9)
	assert.InDelta(t, 1.0, organFactor(domain.OrganFunction{Status: "normal"}), 1e-9)

	assert.InDelta(t, 1.2, comorbidityFactor("heart_failure"), 1e-9)
	assert.InDelta(t, 1.0, comorbidityFactor("asthma"), 1e-9)

	assert.InDelta(t, 1.3, geneticFactor("poor_metabolizer"), 1e-9)

	assert.InDelta(t, 1.35, labFactor(domain.LabValue{Code: "egfr", Value: 20}), 1e-9)
	assert.InDelta(t, 1.3, labFactor(domain.LabValue{Code: "INR", Value: 3.5}), 1e-9)
	assert.InDelta(t, 1.0, labFactor(domain.LabValue{Code: "sodium", Value: 140}), 1e-9)
}
