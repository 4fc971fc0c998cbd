package service

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/drug-interaction-engine/internal/domain"
	"github.com/drug-interaction-engine/internal/knowledge"
)

// Recommender derives alternative drugs, dose adjustments and monitoring
// plans for each ranked interaction.
type Recommender struct {
	log *logrus.Logger
	// equivalenceFloor is the minimum therapeutic equivalence a substitute
	// must reach. Below it the engine recommends a consult instead of
	// fabricating a weak substitute.
	equivalenceFloor float64
}

// NewRecommender creates a recommendation generator.
func NewRecommender(logger *logrus.Logger, equivalenceFloor float64) *Recommender {
	if equivalenceFloor <= 0 || equivalenceFloor > 1 {
		equivalenceFloor = 0.75
	}
	return &Recommender{log: logger, equivalenceFloor: equivalenceFloor}
}

// Recommend returns new interaction records with recommendations attached,
// plus the deduplicated alternative and monitoring lists for the response.
func (r *Recommender) Recommend(snap *knowledge.Snapshot, interactions []domain.DrugInteraction, opts domain.CheckOptions) ([]domain.DrugInteraction, []domain.AlternativeDrug, []domain.Recommendation) {
	out := make([]domain.DrugInteraction, len(interactions))
	var allAlternatives []domain.AlternativeDrug
	var monitoringRecs []domain.Recommendation
	seenAlt := make(map[string]bool)

	for i := range interactions {
		in := interactions[i]
		recs := r.buildRecommendations(snap, &in, opts)
		in.Recommendations = recs
		out[i] = in

		for _, rec := range recs {
			if rec.Action == domain.ActionMonitor && opts.IncludeMonitoringPlans {
				monitoringRecs = append(monitoringRecs, rec)
			}
			if rec.Alternative != nil && opts.IncludeAlternatives && !seenAlt[rec.Alternative.CanonicalID] {
				seenAlt[rec.Alternative.CanonicalID] = true
				allAlternatives = append(allAlternatives, *rec.Alternative)
			}
		}
	}

	sort.Slice(allAlternatives, func(i, j int) bool {
		return allAlternatives[i].TherapeuticEquivalence > allAlternatives[j].TherapeuticEquivalence
	})
	if opts.MaxAlternatives > 0 && len(allAlternatives) > opts.MaxAlternatives {
		allAlternatives = allAlternatives[:opts.MaxAlternatives]
	}

	return out, allAlternatives, monitoringRecs
}

func (r *Recommender) buildRecommendations(snap *knowledge.Snapshot, in *domain.DrugInteraction, opts domain.CheckOptions) []domain.Recommendation {
	recs := make([]domain.Recommendation, 0, 3)

	// Contraindicate/discontinue only at major and above.
	if in.Severity.AtLeast(domain.SeverityMajor) {
		if !in.OverrideAllowed {
			recs = append(recs, domain.Recommendation{
				Action:    domain.ActionContraindicate,
				Text:      fmt.Sprintf("Combination %v is contraindicated: %s", in.DrugNames, in.Consequence),
				Available: true,
			})
		} else if in.Severity == domain.SeveritySevere {
			recs = append(recs, domain.Recommendation{
				Action:    domain.ActionDiscontinue,
				Text:      fmt.Sprintf("Discontinue at least one agent in %v unless the override workflow is completed", in.DrugNames),
				Available: true,
			})
		}
	}

	// Substitute when a qualified alternative exists; otherwise consult.
	if opts.IncludeAlternatives && in.Severity.AtLeast(domain.SeverityModerate) {
		if alt := r.bestAlternative(snap, in); alt != nil {
			recs = append(recs, domain.Recommendation{
				Action:      domain.ActionSubstitute,
				Text:        fmt.Sprintf("Consider substituting with %s (therapeutic equivalence %.2f)", alt.Name, alt.TherapeuticEquivalence),
				Available:   alt.Available,
				Alternative: alt,
			})
		} else if in.Severity.AtLeast(domain.SeverityMajor) {
			recs = append(recs, domain.Recommendation{
				Action:    domain.ActionConsult,
				Text:      "No sufficiently equivalent substitute is registered; consult pharmacy or a specialist before proceeding",
				Available: true,
			})
		}
	}

	// Monitoring: only with a measurable plan, never a bare instruction.
	if opts.IncludeMonitoringPlans {
		if plan, ok := snap.MonitoringFor(in.RuleID); ok {
			rec := domain.Recommendation{
				Action:     domain.ActionMonitor,
				Text:       fmt.Sprintf("Monitor %v while the combination continues", plan.LabTests),
				Available:  true,
				Monitoring: &plan,
			}
			if err := rec.Validate(); err != nil {
				r.log.WithError(err).WithField("rule_id", in.RuleID).Error("Dropping invalid monitoring recommendation")
			} else {
				recs = append(recs, rec)
			}
		}
	}

	// Renal/hepatic impairment on a flagged pharmacokinetic interaction
	// warrants a dose review even when nothing else applies.
	if in.Mechanism == domain.MechanismPharmacokinetic && in.Adjustments != nil &&
		(in.Adjustments.Renal > 1.0 || in.Adjustments.Hepatic > 1.0) {
		recs = append(recs, domain.Recommendation{
			Action:    domain.ActionDoseAdjust,
			Text:      "Organ function is reduced; review dosing of the renally or hepatically cleared agent",
			Available: true,
		})
	}

	return recs
}

// bestAlternative picks the highest-equivalence available substitute across
// the interaction's drugs, or nil when none clears the configured floor.
func (r *Recommender) bestAlternative(snap *knowledge.Snapshot, in *domain.DrugInteraction) *domain.AlternativeDrug {
	var best *domain.AlternativeDrug
	for _, key := range in.DrugKeys {
		for _, alt := range snap.AlternativesFor(key) {
			if alt.TherapeuticEquivalence < r.equivalenceFloor || !alt.Available {
				continue
			}
			if best == nil || alt.TherapeuticEquivalence > best.TherapeuticEquivalence {
				a := alt
				best = &a
			}
		}
	}
	return best
}
