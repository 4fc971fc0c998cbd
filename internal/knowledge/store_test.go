package knowledge

import (
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drug-interaction-engine/internal/domain"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestStoreCurrentBeforeSwap(t *testing.T) {
	store := NewStore(testLogger())

	_, err := store.Current()
	assert.True(t, errors.Is(err, domain.ErrKnowledgeBaseUnavailable))
}

func TestStoreSwapAndCurrent(t *testing.T) {
	store := NewStore(testLogger())
	require.NoError(t, store.Swap(SeedSnapshot()))

	snap, err := store.Current()
	require.NoError(t, err)
	assert.Equal(t, "kb-2025.08.1", snap.Version)

	// A pinned snapshot survives a later swap untouched.
	newer := SeedSnapshot()
	newer.Version = "kb-2025.09.0"
	require.NoError(t, store.Swap(newer))
	assert.Equal(t, "kb-2025.08.1", snap.Version)

	current, err := store.Current()
	require.NoError(t, err)
	assert.Equal(t, "kb-2025.09.0", current.Version)
}

func TestStoreSwapRejectsInvalid(t *testing.T) {
	store := NewStore(testLogger())

	assert.Error(t, store.Swap(nil))
	assert.Error(t, store.Swap(&Snapshot{}))
}

func TestSnapshotLookupDrug(t *testing.T) {
	store := NewStore(testLogger())
	require.NoError(t, store.Swap(SeedSnapshot()))
	snap, err := store.Current()
	require.NoError(t, err)

	tests := []struct {
		name string
		want string
	}{
		{"warfarin", "rx:warfarin"},
		{"Coumadin", "rx:warfarin"},
		{"COUMADIN", "rx:warfarin"},
		{"acetylsalicylic acid", "rx:aspirin"},
		{"  Augmentin  ", "rx:co-amoxiclav"},
	}

	for _, tt := range tests {
		rec, ok := snap.LookupDrug(tt.name)
		require.True(t, ok, "expected %s to resolve", tt.name)
		assert.Equal(t, tt.want, rec.CanonicalID)
	}

	_, ok := snap.LookupDrug("notadrug")
	assert.False(t, ok)
}

func TestTargetMatches(t *testing.T) {
	warfarin := domain.NormalizedDrug{CanonicalID: "rx:warfarin", ClassCode: "B01AA"}
	amiodarone := domain.NormalizedDrug{CanonicalID: "rx:amiodarone", ClassCode: "C01BD.QT"}
	combo := domain.NormalizedDrug{CanonicalID: "rx:co-amoxiclav", ClassCode: "J01CR.PCN", Components: []string{"rx:amoxicillin"}}

	assert.True(t, Target{CanonicalID: "rx:warfarin"}.Matches(&warfarin))
	assert.False(t, Target{CanonicalID: "rx:aspirin"}.Matches(&warfarin))

	assert.True(t, Target{ClassPrefix: "B01"}.Matches(&warfarin))
	assert.False(t, Target{ClassPrefix: "C01"}.Matches(&warfarin))

	assert.True(t, Target{ClassTag: "QT"}.Matches(&amiodarone))
	assert.False(t, Target{ClassTag: "QT"}.Matches(&warfarin))

	// Combination products match rules targeting their components.
	assert.True(t, Target{CanonicalID: "rx:amoxicillin"}.Matches(&combo))

	// An empty target never matches anything.
	assert.False(t, Target{}.Matches(&warfarin))
}

func TestSnapshotEvidenceFor(t *testing.T) {
	snap := SeedSnapshot()
	snap.index()

	rule, ok := snap.RuleByID("rule:warfarin-nsaid")
	require.True(t, ok)

	evidence := snap.EvidenceFor(rule)
	require.Len(t, evidence, 2)
	assert.Equal(t, "drugbank-core", evidence[0].SourceID)
	assert.InDelta(t, 0.95, evidence[0].ReliabilityScore, 1e-9)
	assert.Contains(t, evidence[0].Citation, "DrugBank")

	// Unregistered source IDs are skipped, never fabricated.
	bogus := &InteractionRule{SourceIDs: []string{"unregistered"}}
	assert.Empty(t, snap.EvidenceFor(bogus))
}

func TestSnapshotMonitoringAndAlternatives(t *testing.T) {
	snap := SeedSnapshot()
	snap.index()

	plan, ok := snap.MonitoringFor("rule:warfarin-aspirin")
	require.True(t, ok)
	assert.NoError(t, plan.Validate())
	assert.Contains(t, plan.LabTests, "inr")

	alts := snap.AlternativesFor("rx:aspirin")
	require.NotEmpty(t, alts)
	assert.Equal(t, "clopidogrel", alts[0].Name)

	assert.Empty(t, snap.AlternativesFor("rx:warfarin"))
}

func TestSeedSnapshotIntegrity(t *testing.T) {
	snap := SeedSnapshot()
	snap.index()

	for _, rule := range snap.Rules {
		assert.True(t, rule.Severity.IsValid(), "rule %s severity", rule.ID)
		assert.NotEqual(t, domain.SeverityNone, rule.Severity, "rule %s must not carry severity none", rule.ID)
		assert.True(t, rule.Mechanism.IsValid(), "rule %s mechanism", rule.ID)
		assert.NoError(t, domain.ValidateConfidence(rule.Confidence), "rule %s confidence", rule.ID)
		for _, id := range rule.SourceIDs {
			_, ok := snap.Source(id)
			assert.True(t, ok, "rule %s cites unregistered source %s", rule.ID, id)
		}
	}

	for ruleID, plan := range snap.Monitoring {
		assert.NoError(t, plan.Validate(), "monitoring for %s", ruleID)
		_, ok := snap.RuleByID(ruleID)
		assert.True(t, ok, "monitoring references unknown rule %s", ruleID)
	}
}
