package service

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/drug-interaction-engine/internal/domain"
	"github.com/drug-interaction-engine/internal/knowledge"
)

// Bounds for each multiplicative adjustment factor. Personalization may only
// increase caution: the combined adjustment never suppresses a base finding,
// and the floor below keeps a stack of mild factors from zeroing confidence.
const (
	factorFloor   = 0.85
	factorCeiling = 1.5
	overallFloor  = 0.7
	overallCeil   = 2.0
)

// Personalizer mutates interaction severity/confidence using patient facts.
// Severity can only be upgraded, by exactly one level, and only when the
// matched rule explicitly flags the upgrade; downgrading below the rule/ML
// baseline is disallowed.
type Personalizer struct {
	log *logrus.Logger
}

// NewPersonalizer creates a personalization adjuster.
func NewPersonalizer(logger *logrus.Logger) *Personalizer {
	return &Personalizer{log: logger}
}

// Adjust returns new interaction records with personalization applied. Input
// interactions are not mutated; the pipeline treats them as immutable.
func (p *Personalizer) Adjust(snap *knowledge.Snapshot, interactions []domain.DrugInteraction, facts *domain.PatientFacts) []domain.DrugInteraction {
	if facts == nil {
		return interactions
	}
	out := make([]domain.DrugInteraction, len(interactions))
	for i := range interactions {
		out[i] = p.adjustOne(snap, interactions[i], facts)
	}
	return out
}

func (p *Personalizer) adjustOne(snap *knowledge.Snapshot, in domain.DrugInteraction, facts *domain.PatientFacts) domain.DrugInteraction {
	factors := domain.AdjustmentFactors{
		Age:       ageFactor(facts.AgeYears),
		Weight:    weightFactor(facts.WeightKg),
		Renal:     organFactor(facts.RenalFunction),
		Hepatic:   organFactor(facts.HepaticFunction),
		Pregnancy: 1.0,
	}

	if facts.Pregnant {
		factors.Pregnancy = clampFactor(1.25)
	}

	if len(facts.Comorbidities) > 0 {
		factors.Comorbidity = make(map[string]float64)
		for _, c := range facts.Comorbidities {
			key := strings.ToLower(strings.TrimSpace(c))
			factors.Comorbidity[key] = comorbidityFactor(key)
		}
	}
	if len(facts.GeneticMarkers) > 0 {
		factors.Genetic = make(map[string]float64)
		for _, m := range facts.GeneticMarkers {
			factors.Genetic[m.Gene] = geneticFactor(m.Phenotype)
		}
	}
	if len(facts.LabValues) > 0 {
		factors.Lab = make(map[string]float64)
		for _, lab := range facts.LabValues {
			f := labFactor(lab)
			if f != 1.0 {
				factors.Lab[lab.Code] = f
			}
		}
	}

	overall := factors.Age * factors.Weight * factors.Renal * factors.Hepatic * factors.Pregnancy
	for _, f := range factors.Comorbidity {
		overall *= f
	}
	for _, f := range factors.Genetic {
		overall *= f
	}
	for _, f := range factors.Lab {
		overall *= f
	}
	if overall < overallFloor {
		overall = overallFloor
	}
	if overall > overallCeil {
		overall = overallCeil
	}
	factors.OverallAdjustment = overall

	adjusted := in
	adjusted.Adjustments = &factors
	adjusted.Confidence = domain.ClampConfidence(in.Confidence * overall)

	// Severity upgrade only on an explicit personalization flag.
	if facts.Pregnant && in.RuleID != "" {
		if rule, ok := snap.RuleByID(in.RuleID); ok && rule.Teratogenic {
			adjusted.Severity = in.Severity.Upgraded()
			factors.SeverityUpgraded = true
			p.log.WithFields(logrus.Fields{
				"rule_id": in.RuleID,
				"from":    in.Severity.String(),
				"to":      adjusted.Severity.String(),
				"patient": facts.PatientID,
			}).Info("Severity upgraded for pregnancy on teratogenic interaction")
		}
	}

	// Invariant: never below the rule/ML baseline.
	if adjusted.Severity.Rank() < in.BaselineSeverity.Rank() {
		adjusted.Severity = in.BaselineSeverity
	}

	return adjusted
}

func clampFactor(f float64) float64 {
	if f < factorFloor {
		return factorFloor
	}
	if f > factorCeiling {
		return factorCeiling
	}
	return f
}

func ageFactor(years int) float64 {
	switch {
	case years >= 80:
		return clampFactor(1.3)
	case years >= 65:
		return clampFactor(1.15)
	case years < 12 && years > 0:
		return clampFactor(1.2)
	default:
		return 1.0
	}
}

func weightFactor(kg float64) float64 {
	if kg > 0 && kg < 45 {
		return clampFactor(1.1)
	}
	return 1.0
}

func organFactor(fn domain.OrganFunction) float64 {
	switch fn.Status {
	case "mild":
		return clampFactor(1.1)
	case "moderate":
		return clampFactor(1.25)
	case "severe":
		return clampFactor(1.4)
	default:
		return 1.0
	}
}

func comorbidityFactor(condition string) float64 {
	switch condition {
	case "chronic_kidney_disease", "heart_failure", "cirrhosis":
		return clampFactor(1.2)
	case "hypertension", "diabetes":
		return clampFactor(1.05)
	default:
		return 1.0
	}
}

func geneticFactor(phenotype string) float64 {
	switch phenotype {
	case "poor_metabolizer":
		return clampFactor(1.3)
	case "ultrarapid_metabolizer":
		return clampFactor(1.15)
	default:
		return 1.0
	}
}

func labFactor(lab domain.LabValue) float64 {
	switch strings.ToLower(lab.Code) {
	case "egfr":
		if lab.Value < 30 {
			return clampFactor(1.35)
		}
		if lab.Value < 60 {
			return clampFactor(1.15)
		}
	case "inr":
		if lab.Value > 3.0 {
			return clampFactor(1.3)
		}
	case "potassium":
		if lab.Value > 5.0 {
			return clampFactor(1.2)
		}
	}
	return 1.0
}
