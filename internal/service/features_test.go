package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drug-interaction-engine/internal/domain"
)

func TestFeatureRegistryValidateSchema(t *testing.T) {
	r := NewFeatureRegistry()

	assert.NoError(t, r.ValidateSchema([]string{"age_years", "drug_count"}))

	err := r.ValidateSchema([]string{"age_years", "astral_alignment"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "astral_alignment")
}

func TestFeatureRegistryVector(t *testing.T) {
	r := NewFeatureRegistry()

	facts := &domain.PatientFacts{
		PatientID:       "p1",
		AgeYears:        72,
		Pregnant:        true,
		RenalFunction:   domain.OrganFunction{Status: "moderate"},
		HepaticFunction: domain.OrganFunction{Status: "normal"},
		Comorbidities:   []string{"hypertension", "diabetes"},
		GeneticMarkers:  []domain.GeneticMarker{{Gene: "CYP2C9", Phenotype: "poor_metabolizer"}},
	}
	drugs := []domain.NormalizedDrug{
		{CanonicalID: "rx:warfarin", ClassCode: "B01AA"},
		{CanonicalID: "rx:aspirin", ClassCode: "B01AC"},
		{CanonicalID: "rx:metformin", ClassCode: "A10BA"},
	}

	vec, err := r.Vector([]string{
		"age_years", "is_pregnant", "renal_impaired", "hepatic_impaired",
		"comorbidity_count", "drug_count", "shared_class_pairs", "poor_metabolizer",
	}, facts, drugs)
	require.NoError(t, err)

	assert.Equal(t, 72.0, vec["age_years"])
	assert.Equal(t, 1.0, vec["is_pregnant"])
	assert.Equal(t, 1.0, vec["renal_impaired"])
	assert.Equal(t, 0.0, vec["hepatic_impaired"])
	assert.Equal(t, 2.0, vec["comorbidity_count"])
	assert.Equal(t, 3.0, vec["drug_count"])
	// Only the two B-class anticoagulants share an ATC group.
	assert.Equal(t, 1.0, vec["shared_class_pairs"])
	assert.Equal(t, 1.0, vec["poor_metabolizer"])
}

func TestFeatureRegistryNamesSorted(t *testing.T) {
	names := NewFeatureRegistry().Names()
	require.NotEmpty(t, names)
	for i := 1; i < len(names); i++ {
		assert.Less(t, names[i-1], names[i])
	}
}
