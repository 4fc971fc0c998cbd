package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/drug-interaction-engine/internal/domain"
)

// FeatureExtractor is a named pure function deriving one numeric model input
// from patient facts and the normalized drug set. Extractors never mutate
// their inputs and hold no state, so feature vectors can be regenerated for
// audit long after the original request is gone.
type FeatureExtractor struct {
	Name    string
	Extract func(facts *domain.PatientFacts, drugs []domain.NormalizedDrug) float64
}

// FeatureRegistry holds the extractors a model schema may reference. It is
// validated at startup against the schema; an unknown feature name is a
// deployment error, not a runtime fallback.
type FeatureRegistry struct {
	extractors map[string]FeatureExtractor
}

// NewFeatureRegistry builds the registry with the standard extractor set.
func NewFeatureRegistry() *FeatureRegistry {
	r := &FeatureRegistry{extractors: make(map[string]FeatureExtractor)}
	for _, ex := range standardExtractors() {
		r.extractors[ex.Name] = ex
	}
	return r
}

// ValidateSchema checks every feature a model schema names has an extractor.
func (r *FeatureRegistry) ValidateSchema(featureNames []string) error {
	var missing []string
	for _, name := range featureNames {
		if _, ok := r.extractors[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("feature registry: no extractor for %s", strings.Join(missing, ", "))
	}
	return nil
}

// Vector computes the named features in order.
func (r *FeatureRegistry) Vector(featureNames []string, facts *domain.PatientFacts, drugs []domain.NormalizedDrug) (map[string]float64, error) {
	if err := r.ValidateSchema(featureNames); err != nil {
		return nil, err
	}
	vec := make(map[string]float64, len(featureNames))
	for _, name := range featureNames {
		vec[name] = r.extractors[name].Extract(facts, drugs)
	}
	return vec, nil
}

// Names lists all registered extractor names.
func (r *FeatureRegistry) Names() []string {
	names := make([]string, 0, len(r.extractors))
	for name := range r.extractors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func standardExtractors() []FeatureExtractor {
	return []FeatureExtractor{
		{
			Name: "age_years",
			Extract: func(facts *domain.PatientFacts, _ []domain.NormalizedDrug) float64 {
				return float64(facts.AgeYears)
			},
		},
		{
			Name: "weight_kg",
			Extract: func(facts *domain.PatientFacts, _ []domain.NormalizedDrug) float64 {
				return facts.WeightKg
			},
		},
		{
			Name: "is_pregnant",
			Extract: func(facts *domain.PatientFacts, _ []domain.NormalizedDrug) float64 {
				if facts.Pregnant {
					return 1
				}
				return 0
			},
		},
		{
			Name: "renal_impaired",
			Extract: func(facts *domain.PatientFacts, _ []domain.NormalizedDrug) float64 {
				if facts.RenalFunction.Impaired() {
					return 1
				}
				return 0
			},
		},
		{
			Name: "hepatic_impaired",
			Extract: func(facts *domain.PatientFacts, _ []domain.NormalizedDrug) float64 {
				if facts.HepaticFunction.Impaired() {
					return 1
				}
				return 0
			},
		},
		{
			Name: "comorbidity_count",
			Extract: func(facts *domain.PatientFacts, _ []domain.NormalizedDrug) float64 {
				return float64(len(facts.Comorbidities))
			},
		},
		{
			Name: "drug_count",
			Extract: func(_ *domain.PatientFacts, drugs []domain.NormalizedDrug) float64 {
				return float64(len(drugs))
			},
		},
		{
			Name: "shared_class_pairs",
			Extract: func(_ *domain.PatientFacts, drugs []domain.NormalizedDrug) float64 {
				// Pairs sharing an ATC level-1 group are more likely to
				// interact pharmacodynamically.
				n := 0.0
				for i := 0; i < len(drugs); i++ {
					for j := i + 1; j < len(drugs); j++ {
						if drugs[i].ClassCode != "" && drugs[j].ClassCode != "" &&
							drugs[i].ClassCode[0] == drugs[j].ClassCode[0] {
							n++
						}
					}
				}
				return n
			},
		},
		{
			Name: "poor_metabolizer",
			Extract: func(facts *domain.PatientFacts, _ []domain.NormalizedDrug) float64 {
				for _, m := range facts.GeneticMarkers {
					if m.Phenotype == "poor_metabolizer" {
						return 1
					}
				}
				return 0
			},
		},
	}
}
