package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drug-interaction-engine/internal/domain"
)

func ruleHit(keys []string, severity domain.Severity, confidence float64) domain.DrugInteraction {
	return domain.DrugInteraction{
		DrugKeys:         keys,
		DrugNames:        keys,
		Severity:         severity,
		BaselineSeverity: severity,
		Confidence:       confidence,
		Mechanism:        domain.MechanismPharmacodynamic,
		Source:           domain.SourceRuleEngine,
		Evidence:         []domain.Evidence{{SourceID: "rules"}},
	}
}

func mlHit(keys []string, severity domain.Severity, confidence float64) domain.DrugInteraction {
	in := ruleHit(keys, severity, confidence)
	in.Source = domain.SourceMLModel
	in.ModelVersion = "v1"
	in.Evidence = []domain.Evidence{{SourceID: "ml:v1", ModelVersion: "v1"}}
	return in
}

func TestAggregateHybridMerge(t *testing.T) {
	agg := NewAggregator(testLogger(), domain.SeverityModerate)

	rules := []domain.DrugInteraction{ruleHit([]string{"rx:a", "rx:b"}, domain.SeverityModerate, 0.8)}
	ml := []domain.DrugInteraction{mlHit([]string{"rx:a", "rx:b"}, domain.SeverityMajor, 0.6)}

	merged, _ := agg.Aggregate(rules, ml, "")
	require.Len(t, merged, 1)

	hybrid := merged[0]
	assert.Equal(t, domain.SourceHybrid, hybrid.Source)
	assert.Equal(t, domain.SeverityMajor, hybrid.Severity)
	// 0.7 * rule confidence + 0.3 * ML confidence.
	assert.InDelta(t, 0.7*0.8+0.3*0.6, hybrid.Confidence, 1e-9)
	assert.Equal(t, "v1", hybrid.ModelVersion)
	assert.Len(t, hybrid.Evidence, 2)
}

func TestAggregateKeepsDistinctSets(t *testing.T) {
	agg := NewAggregator(testLogger(), domain.SeverityModerate)

	rules := []domain.DrugInteraction{ruleHit([]string{"rx:a", "rx:b"}, domain.SeverityMajor, 0.9)}
	ml := []domain.DrugInteraction{mlHit([]string{"rx:b", "rx:c"}, domain.SeverityModerate, 0.5)}

	merged, summary := agg.Aggregate(rules, ml, "")
	assert.Len(t, merged, 2)
	assert.Equal(t, 2, summary.TotalInteractions)
}

func TestAggregateFiltersSeverityNone(t *testing.T) {
	agg := NewAggregator(testLogger(), domain.SeverityModerate)

	rules := []domain.DrugInteraction{
		ruleHit([]string{"rx:a", "rx:b"}, domain.SeverityNone, 0.9),
		ruleHit([]string{"rx:c", "rx:d"}, domain.SeverityMinor, 0.5),
	}

	merged, summary := agg.Aggregate(rules, nil, "")
	require.Len(t, merged, 1)
	assert.Equal(t, domain.SeverityMinor, merged[0].Severity)
	assert.Equal(t, domain.SeverityMinor, summary.MaxSeverity)
}

func TestAggregateDeterministicOrdering(t *testing.T) {
	agg := NewAggregator(testLogger(), domain.SeverityModerate)

	rules := []domain.DrugInteraction{
		ruleHit([]string{"rx:c", "rx:d"}, domain.SeverityModerate, 0.9),
		ruleHit([]string{"rx:a", "rx:b"}, domain.SeveritySevere, 0.5),
		ruleHit([]string{"rx:e", "rx:f"}, domain.SeverityModerate, 0.9),
		ruleHit([]string{"rx:g", "rx:h"}, domain.SeverityModerate, 0.95),
	}

	merged, _ := agg.Aggregate(rules, nil, "")
	require.Len(t, merged, 4)

	// Severity first, then confidence, then lexical drug names.
	assert.Equal(t, domain.SeveritySevere, merged[0].Severity)
	assert.Equal(t, []string{"rx:g", "rx:h"}, merged[1].DrugKeys)
	assert.Equal(t, []string{"rx:c", "rx:d"}, merged[2].DrugKeys)
	assert.Equal(t, []string{"rx:e", "rx:f"}, merged[3].DrugKeys)
}

func TestAggregateSummaryThreshold(t *testing.T) {
	agg := NewAggregator(testLogger(), domain.SeverityModerate)

	minorOnly := []domain.DrugInteraction{ruleHit([]string{"rx:a", "rx:b"}, domain.SeverityMinor, 0.9)}
	_, summary := agg.Aggregate(minorOnly, nil, "")
	assert.False(t, summary.RequiresAttention)
	assert.False(t, summary.Flag)

	// The per-request threshold overrides the configured default.
	_, summary = agg.Aggregate(minorOnly, nil, domain.SeverityMinor)
	assert.True(t, summary.RequiresAttention)
	assert.True(t, summary.Flag)
}

func TestAggregateEmptySummary(t *testing.T) {
	agg := NewAggregator(testLogger(), domain.SeverityModerate)

	merged, summary := agg.Aggregate(nil, nil, "")
	assert.Empty(t, merged)
	assert.Equal(t, domain.SeverityNone, summary.MaxSeverity)
	assert.Zero(t, summary.EstimatedRiskScore)
	assert.False(t, summary.RequiresAttention)
}

func TestAggregateRiskScore(t *testing.T) {
	agg := NewAggregator(testLogger(), domain.SeverityModerate)

	severe := []domain.DrugInteraction{ruleHit([]string{"rx:a", "rx:b"}, domain.SeveritySevere, 1.0)}
	_, severeSummary := agg.Aggregate(severe, nil, "")

	minor := []domain.DrugInteraction{ruleHit([]string{"rx:a", "rx:b"}, domain.SeverityMinor, 1.0)}
	_, minorSummary := agg.Aggregate(minor, nil, "")

	assert.Greater(t, severeSummary.EstimatedRiskScore, minorSummary.EstimatedRiskScore)
	assert.LessOrEqual(t, severeSummary.EstimatedRiskScore, 100.0)

	// One severe finding must outweigh a stack of minor ones.
	manyMinor := []domain.DrugInteraction{
		ruleHit([]string{"rx:a", "rx:b"}, domain.SeverityMinor, 1.0),
		ruleHit([]string{"rx:c", "rx:d"}, domain.SeverityMinor, 1.0),
		ruleHit([]string{"rx:e", "rx:f"}, domain.SeverityMinor, 1.0),
		ruleHit([]string{"rx:g", "rx:h"}, domain.SeverityMinor, 1.0),
	}
	_, manyMinorSummary := agg.Aggregate(manyMinor, nil, "")
	assert.Greater(t, severeSummary.EstimatedRiskScore, manyMinorSummary.EstimatedRiskScore)
}

func TestAggregateConfidenceBand(t *testing.T) {
	agg := NewAggregator(testLogger(), domain.SeverityModerate)

	rules := []domain.DrugInteraction{
		ruleHit([]string{"rx:a", "rx:b"}, domain.SeverityMajor, 0.9),
		ruleHit([]string{"rx:c", "rx:d"}, domain.SeverityModerate, 0.4),
	}
	_, summary := agg.Aggregate(rules, nil, "")
	assert.InDelta(t, 0.4, summary.ConfidenceLow, 1e-9)
	assert.InDelta(t, 0.9, summary.ConfidenceHigh, 1e-9)
	assert.Equal(t, 1, summary.SeverityCounts[domain.SeverityMajor])
	assert.Equal(t, 1, summary.SeverityCounts[domain.SeverityModerate])
}
