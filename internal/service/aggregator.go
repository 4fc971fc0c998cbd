package service

import (
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/drug-interaction-engine/internal/domain"
)

// ruleEvidenceWeight is how strongly rule-sourced confidence dominates the
// hybrid combination when both a rule and the model flagged the same pair.
const ruleEvidenceWeight = 0.7

// severityWeights drive the aggregate risk score. The spread is deliberately
// superlinear so one severe high-confidence interaction dominates several
// minor low-confidence ones.
var severityWeights = map[domain.Severity]float64{
	domain.SeverityMinor:    1,
	domain.SeverityModerate: 3,
	domain.SeverityMajor:    8,
	domain.SeveritySevere:   20,
}

// Aggregator merges rule-sourced and ML-sourced interactions, deduplicates by
// drug-set identity, ranks for presentation and computes the summary.
type Aggregator struct {
	log               *logrus.Logger
	severityThreshold domain.Severity
}

// NewAggregator creates an aggregator with the configured attention threshold.
func NewAggregator(logger *logrus.Logger, severityThreshold domain.Severity) *Aggregator {
	if !severityThreshold.IsValid() || severityThreshold == domain.SeverityNone {
		severityThreshold = domain.SeverityModerate
	}
	return &Aggregator{log: logger, severityThreshold: severityThreshold}
}

// Aggregate merges, filters, ranks and summarizes. Interactions with severity
// none are filtered here, never represented as zero records. The threshold
// argument overrides the configured default when set.
func (a *Aggregator) Aggregate(ruleHits, mlHits []domain.DrugInteraction, threshold domain.Severity) ([]domain.DrugInteraction, domain.InteractionSummary) {
	if threshold == "" || !threshold.IsValid() {
		threshold = a.severityThreshold
	}

	merged := a.merge(ruleHits, mlHits)

	kept := merged[:0]
	for _, in := range merged {
		if in.Severity == domain.SeverityNone {
			continue
		}
		kept = append(kept, in)
	}
	merged = kept

	sortInteractions(merged)
	summary := a.summarize(merged, threshold)

	a.log.WithFields(logrus.Fields{
		"interactions": len(merged),
		"max_severity": summary.MaxSeverity.String(),
		"risk_score":   summary.EstimatedRiskScore,
	}).Debug("Aggregation completed")

	return merged, summary
}

// merge deduplicates by unordered drug-set identity. When a rule hit and an
// ML hit cover the same set, the result is a new hybrid record: severity is
// the max of both, confidence is a weighted combination favoring rule
// evidence, and both evidence lists are kept.
func (a *Aggregator) merge(ruleHits, mlHits []domain.DrugInteraction) []domain.DrugInteraction {
	merged := make([]domain.DrugInteraction, 0, len(ruleHits)+len(mlHits))
	byKey := make(map[string]int, len(ruleHits))

	for _, in := range ruleHits {
		byKey[in.SetKey()] = len(merged)
		merged = append(merged, in)
	}

	for _, ml := range mlHits {
		idx, seen := byKey[ml.SetKey()]
		if !seen {
			byKey[ml.SetKey()] = len(merged)
			merged = append(merged, ml)
			continue
		}
		rule := merged[idx]
		hybrid := rule
		hybrid.Source = domain.SourceHybrid
		hybrid.Severity = domain.MaxSeverity(rule.Severity, ml.Severity)
		hybrid.BaselineSeverity = domain.MaxSeverity(rule.BaselineSeverity, ml.BaselineSeverity)
		hybrid.Confidence = domain.ClampConfidence(
			ruleEvidenceWeight*rule.Confidence + (1-ruleEvidenceWeight)*ml.Confidence)
		hybrid.ModelVersion = ml.ModelVersion
		hybrid.Evidence = append(append([]domain.Evidence(nil), rule.Evidence...), ml.Evidence...)
		merged[idx] = hybrid
	}

	return merged
}

// sortInteractions orders for presentation: severity descending, confidence
// descending, then drug-name lexical order. The deterministic tie-break keeps
// repeated checks byte-identical for fixtures and caching.
func sortInteractions(interactions []domain.DrugInteraction) {
	sort.SliceStable(interactions, func(i, j int) bool {
		a, b := &interactions[i], &interactions[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return strings.Join(a.DrugNames, "+") < strings.Join(b.DrugNames, "+")
	})
}

func (a *Aggregator) summarize(interactions []domain.DrugInteraction, threshold domain.Severity) domain.InteractionSummary {
	summary := domain.InteractionSummary{
		MaxSeverity:       domain.SeverityNone,
		TotalInteractions: len(interactions),
		SeverityCounts: map[domain.Severity]int{
			domain.SeverityMinor:    0,
			domain.SeverityModerate: 0,
			domain.SeverityMajor:    0,
			domain.SeveritySevere:   0,
		},
	}
	if len(interactions) == 0 {
		return summary
	}

	summary.ConfidenceLow, summary.ConfidenceHigh = 1.0, 0.0
	var weighted, weightTotal, worstConfidence float64

	for i := range interactions {
		in := &interactions[i]
		summary.MaxSeverity = domain.MaxSeverity(summary.MaxSeverity, in.Severity)
		summary.SeverityCounts[in.Severity]++
		if in.Severity.AtLeast(threshold) {
			summary.RequiresAttention = true
		}
		if in.Confidence < summary.ConfidenceLow {
			summary.ConfidenceLow = in.Confidence
		}
		if in.Confidence > summary.ConfidenceHigh {
			summary.ConfidenceHigh = in.Confidence
		}
		w := severityWeights[in.Severity]
		weighted += w * in.Confidence
		weightTotal += w
	}
	for i := range interactions {
		if interactions[i].Severity == summary.MaxSeverity && interactions[i].Confidence > worstConfidence {
			worstConfidence = interactions[i].Confidence
		}
	}

	// Risk score in [0,100]: the confidence-weighted severity mass of the
	// worst finding anchors the score; extra findings add diminishing load.
	worst := severityWeights[summary.MaxSeverity]
	if weightTotal > 0 {
		load := weighted / severityWeights[domain.SeveritySevere]
		if load > 1 {
			load = 1
		}
		anchor := (worst / severityWeights[domain.SeveritySevere]) * worstConfidence
		score := 100 * (0.7*anchor + 0.3*load)
		if score > 100 {
			score = 100
		}
		summary.EstimatedRiskScore = score
	}

	summary.Flag = summary.RequiresAttention
	return summary
}
