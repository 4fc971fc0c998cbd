package service

import (
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/drug-interaction-engine/internal/domain"
	"github.com/drug-interaction-engine/internal/knowledge"
)

// unrecognizedConfidenceFactor scales down rule confidence when a fuzzy class
// guess, rather than a resolved drug, matched the rule.
const unrecognizedConfidenceFactor = 0.5

// RuleEngine applies the knowledge base's deterministic interaction rules to
// a normalized drug set. It evaluates all unordered pairs plus higher-order
// polypharmacy tuples; pairwise-only evaluation would miss risks that only
// manifest across three or more agents.
type RuleEngine struct {
	log *logrus.Logger
}

// NewRuleEngine creates a rule engine.
func NewRuleEngine(logger *logrus.Logger) *RuleEngine {
	return &RuleEngine{log: logger}
}

// Evaluate runs every applicable rule class and returns raw rule-sourced
// interactions. Unrecognized drugs participate only in drug-allergy and
// drug-disease checks, via their fuzzy class guess at reduced confidence.
func (e *RuleEngine) Evaluate(snap *knowledge.Snapshot, drugs []domain.NormalizedDrug, facts *domain.PatientFacts) []domain.DrugInteraction {
	raw := make([]domain.DrugInteraction, 0)

	recognized := make([]domain.NormalizedDrug, 0, len(drugs))
	for i := range drugs {
		if !drugs[i].Unrecognized {
			recognized = append(recognized, drugs[i])
		}
	}

	for ri := range snap.Rules {
		rule := &snap.Rules[ri]
		switch rule.Kind {
		case knowledge.RuleDrugDrug:
			raw = append(raw, e.evaluatePairs(snap, rule, recognized)...)
		case knowledge.RulePolypharmacy:
			if hit := e.evaluateTuple(snap, rule, recognized); hit != nil {
				raw = append(raw, *hit)
			}
		case knowledge.RuleDrugAllergy:
			raw = append(raw, e.evaluatePatientRule(snap, rule, drugs, facts, matchAllergy)...)
		case knowledge.RuleDrugDisease:
			raw = append(raw, e.evaluatePatientRule(snap, rule, drugs, facts, matchDisease)...)
		case knowledge.RuleDrugLab:
			raw = append(raw, e.evaluatePatientRule(snap, rule, drugs, facts, matchLab)...)
		}
	}

	merged := e.mergeSamePair(raw)

	e.log.WithFields(logrus.Fields{
		"drugs":        len(drugs),
		"raw_matches":  len(raw),
		"interactions": len(merged),
		"kb_version":   snap.Version,
	}).Debug("Rule evaluation completed")

	return merged
}

// evaluatePairs checks a two-target rule against every unordered drug pair.
func (e *RuleEngine) evaluatePairs(snap *knowledge.Snapshot, rule *knowledge.InteractionRule, drugs []domain.NormalizedDrug) []domain.DrugInteraction {
	if len(rule.Targets) != 2 {
		e.log.WithField("rule_id", rule.ID).Warn("Skipping drug-drug rule without exactly two targets")
		return nil
	}
	var hits []domain.DrugInteraction
	for i := 0; i < len(drugs); i++ {
		for j := i + 1; j < len(drugs); j++ {
			a, b := &drugs[i], &drugs[j]
			forward := rule.Targets[0].Matches(a) && rule.Targets[1].Matches(b)
			reverse := rule.Targets[0].Matches(b) && rule.Targets[1].Matches(a)
			if !forward && !reverse {
				continue
			}
			hits = append(hits, e.buildInteraction(snap, rule, []domain.NormalizedDrug{*a, *b}, 1.0))
		}
	}
	return hits
}

// evaluateTuple checks a polypharmacy rule: it fires when MinMatches or more
// drugs in the set carry the rule's property, and the emitted interaction
// spans the whole matching tuple.
func (e *RuleEngine) evaluateTuple(snap *knowledge.Snapshot, rule *knowledge.InteractionRule, drugs []domain.NormalizedDrug) *domain.DrugInteraction {
	if len(rule.Targets) == 0 || rule.MinMatches < 3 {
		e.log.WithField("rule_id", rule.ID).Warn("Skipping malformed polypharmacy rule")
		return nil
	}
	matching := make([]domain.NormalizedDrug, 0, len(drugs))
	for i := range drugs {
		if rule.Targets[0].Matches(&drugs[i]) {
			matching = append(matching, drugs[i])
		}
	}
	if len(matching) < rule.MinMatches {
		return nil
	}
	hit := e.buildInteraction(snap, rule, matching, 1.0)
	return &hit
}

type patientMatcher func(rule *knowledge.InteractionRule, facts *domain.PatientFacts) bool

func matchAllergy(rule *knowledge.InteractionRule, facts *domain.PatientFacts) bool {
	for _, allergy := range facts.Allergies {
		if strings.EqualFold(strings.TrimSpace(allergy), rule.AllergyTerm) {
			return true
		}
	}
	return false
}

func matchDisease(rule *knowledge.InteractionRule, facts *domain.PatientFacts) bool {
	for _, condition := range facts.Comorbidities {
		if strings.EqualFold(strings.TrimSpace(condition), rule.Condition) {
			return true
		}
	}
	return false
}

func matchLab(rule *knowledge.InteractionRule, facts *domain.PatientFacts) bool {
	for _, lab := range facts.LabValues {
		if !strings.EqualFold(lab.Code, rule.LabCode) {
			continue
		}
		switch rule.LabOperator {
		case "lt":
			if lab.Value < rule.LabValue {
				return true
			}
		case "gt":
			if lab.Value > rule.LabValue {
				return true
			}
		}
	}
	return false
}

// evaluatePatientRule checks a single-target rule against each drug combined
// with patient facts. This is the only rule class unrecognized drugs join.
func (e *RuleEngine) evaluatePatientRule(snap *knowledge.Snapshot, rule *knowledge.InteractionRule, drugs []domain.NormalizedDrug, facts *domain.PatientFacts, match patientMatcher) []domain.DrugInteraction {
	if facts == nil || len(rule.Targets) == 0 || !match(rule, facts) {
		return nil
	}
	var hits []domain.DrugInteraction
	for i := range drugs {
		if !rule.Targets[0].Matches(&drugs[i]) {
			continue
		}
		factor := 1.0
		if drugs[i].Unrecognized {
			factor = unrecognizedConfidenceFactor
		}
		hits = append(hits, e.buildInteraction(snap, rule, []domain.NormalizedDrug{drugs[i]}, factor))
	}
	return hits
}

func (e *RuleEngine) buildInteraction(snap *knowledge.Snapshot, rule *knowledge.InteractionRule, involved []domain.NormalizedDrug, confidenceFactor float64) domain.DrugInteraction {
	keys := make([]string, 0, len(involved))
	names := make([]string, 0, len(involved))
	for i := range involved {
		keys = append(keys, involved[i].Key())
		names = append(names, involved[i].DisplayName())
	}
	sort.Strings(keys)
	sort.Strings(names)

	return domain.DrugInteraction{
		ID:               uuid.NewString(),
		DrugKeys:         keys,
		DrugNames:        names,
		Severity:         rule.Severity,
		BaselineSeverity: rule.Severity,
		Confidence:       domain.ClampConfidence(rule.Confidence * confidenceFactor),
		Mechanism:        rule.Mechanism,
		Consequence:      rule.Consequence,
		Evidence:         snap.EvidenceFor(rule),
		OverrideAllowed:  rule.OverrideAllowed,
		Source:           domain.SourceRuleEngine,
		RuleID:           rule.ID,
	}
}

// mergeSamePair collapses multiple rule matches over the same drug set. The
// higher severity wins and both rules' evidence lists are concatenated;
// evidence is never discarded.
func (e *RuleEngine) mergeSamePair(raw []domain.DrugInteraction) []domain.DrugInteraction {
	byKey := make(map[string]int)
	merged := make([]domain.DrugInteraction, 0, len(raw))

	for i := range raw {
		key := raw[i].SetKey()
		idx, seen := byKey[key]
		if !seen {
			byKey[key] = len(merged)
			merged = append(merged, raw[i])
			continue
		}
		winner := merged[idx]
		loser := raw[i]
		if loser.Severity.Rank() > winner.Severity.Rank() ||
			(loser.Severity == winner.Severity && loser.Confidence > winner.Confidence) {
			winner, loser = loser, winner
		}
		winner.Evidence = append(append([]domain.Evidence(nil), winner.Evidence...), loser.Evidence...)
		winner.BaselineSeverity = winner.Severity
		merged[idx] = winner
	}
	return merged
}
