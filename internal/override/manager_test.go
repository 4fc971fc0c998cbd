package override

import (
	"context"
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

func newTestManager() (*Manager, *MemoryStore) {
	store := NewMemoryStore()
	return NewManager(testLogger(), store, DefaultPolicy()), store
}

func majorInteraction() *domain.DrugInteraction {
	return &domain.DrugInteraction{
		ID:              "i1",
		DrugKeys:        []string{"rx:aspirin", "rx:warfarin"},
		DrugNames:       []string{"aspirin", "warfarin"},
		Severity:        domain.SeverityMajor,
		Confidence:      0.92,
		Mechanism:       domain.MechanismPharmacodynamic,
		Source:          domain.SourceRuleEngine,
		OverrideAllowed: true,
	}
}

func severeInteraction() *domain.DrugInteraction {
	in := majorInteraction()
	in.ID = "i2"
	in.Severity = domain.SeveritySevere
	return in
}

func validSubmission(interactionID string) *domain.OverrideSubmission {
	return &domain.OverrideSubmission{
		InteractionID:         interactionID,
		UserID:                "dr-alpha",
		ReasonCode:            domain.ReasonMonitoringInPlace,
		ClinicalJustification: "INR monitored twice weekly with dose titration protocol in place",
		PrescriberConsulted:   true,
	}
}

func TestSubmitMajorOverrideApprovedWithIncident(t *testing.T) {
	m, store := newTestManager()

	result, err := m.Submit(context.Background(), validSubmission("i1"), majorInteraction())
	require.NoError(t, err)

	assert.True(t, result.Approved)
	assert.Equal(t, domain.OverrideRecorded, result.State)
	require.NotEmpty(t, result.IncidentID)

	rec, err := store.Get(context.Background(), result.OverrideID)
	require.NoError(t, err)
	assert.Equal(t, result.IncidentID, rec.IncidentID)

	incidents := store.Incidents()
	require.Len(t, incidents, 1)
	assert.Equal(t, result.OverrideID, incidents[0].OverrideID)
	assert.Equal(t, result.IncidentID, incidents[0].ID)
}

func TestSubmitSevereParksWithoutSecondSignoff(t *testing.T) {
	m, store := newTestManager()

	result, err := m.Submit(context.Background(), validSubmission("i2"), severeInteraction())
	require.NoError(t, err)

	// The override is persisted but the interaction is not cleared.
	assert.False(t, result.Approved)
	assert.Equal(t, domain.OverrideSecondSignoffPending, result.State)
	assert.Empty(t, result.IncidentID)

	rec, err := store.Get(context.Background(), result.OverrideID)
	require.NoError(t, err)
	assert.Equal(t, domain.OverrideSecondSignoffPending, rec.State)
}

func TestSubmitSevereWithSecondSignoffApproves(t *testing.T) {
	m, _ := newTestManager()

	sub := validSubmission("i2")
	sub.SecondSignoffUserID = "dr-beta"

	result, err := m.Submit(context.Background(), sub, severeInteraction())
	require.NoError(t, err)
	assert.True(t, result.Approved)
	assert.Equal(t, domain.OverrideRecorded, result.State)
	assert.NotEmpty(t, result.IncidentID)
}

func TestSubmitRejectsSelfSignoff(t *testing.T) {
	m, _ := newTestManager()

	sub := validSubmission("i2")
	sub.SecondSignoffUserID = sub.UserID

	_, err := m.Submit(context.Background(), sub, severeInteraction())
	var oerr *domain.InvalidOverrideError
	require.ErrorAs(t, err, &oerr)
}

func TestSubmitRejectsShortJustification(t *testing.T) {
	m, _ := newTestManager()

	sub := validSubmission("i1")
	sub.ClinicalJustification = "seems fine"

	_, err := m.Submit(context.Background(), sub, majorInteraction())
	var oerr *domain.InvalidOverrideError
	require.ErrorAs(t, err, &oerr)
}

func TestSubmitRejectsNonOverridableInteraction(t *testing.T) {
	m, _ := newTestManager()

	in := severeInteraction()
	in.OverrideAllowed = false
	sub := validSubmission(in.ID)
	sub.SecondSignoffUserID = "dr-beta"

	_, err := m.Submit(context.Background(), sub, in)
	var oerr *domain.InvalidOverrideError
	require.ErrorAs(t, err, &oerr)
}

func TestSubmitRejectsUnknownReasonCode(t *testing.T) {
	m, _ := newTestManager()

	sub := validSubmission("i1")
	sub.ReasonCode = "because"

	_, err := m.Submit(context.Background(), sub, majorInteraction())
	var oerr *domain.InvalidOverrideError
	require.ErrorAs(t, err, &oerr)
}

func TestSubmitRejectsMismatchedInteraction(t *testing.T) {
	m, _ := newTestManager()

	_, err := m.Submit(context.Background(), validSubmission("other"), majorInteraction())
	var oerr *domain.InvalidOverrideError
	require.ErrorAs(t, err, &oerr)
}

func TestMinorOverrideNeedsNoJustificationOrIncident(t *testing.T) {
	m, _ := newTestManager()

	in := majorInteraction()
	in.Severity = domain.SeverityModerate
	sub := validSubmission(in.ID)
	sub.ClinicalJustification = ""

	result, err := m.Submit(context.Background(), sub, in)
	require.NoError(t, err)
	assert.True(t, result.Approved)
	assert.Empty(t, result.IncidentID)
}

func TestCompleteSignoff(t *testing.T) {
	m, store := newTestManager()

	pending, err := m.Submit(context.Background(), validSubmission("i2"), severeInteraction())
	require.NoError(t, err)
	require.Equal(t, domain.OverrideSecondSignoffPending, pending.State)

	approved, err := m.CompleteSignoff(context.Background(), pending.OverrideID, "dr-beta")
	require.NoError(t, err)
	assert.True(t, approved.Approved)
	assert.Equal(t, domain.OverrideRecorded, approved.State)
	assert.NotEmpty(t, approved.IncidentID)
	assert.NotEqual(t, pending.OverrideID, approved.OverrideID)

	// History is append-only: the pending record survives unmodified and the
	// approval references it.
	original, err := store.Get(context.Background(), pending.OverrideID)
	require.NoError(t, err)
	assert.Equal(t, domain.OverrideSecondSignoffPending, original.State)

	rec, err := store.Get(context.Background(), approved.OverrideID)
	require.NoError(t, err)
	assert.Equal(t, pending.OverrideID, rec.SupersedesID)
}

func TestCompleteSignoffRejectsSameClinician(t *testing.T) {
	m, _ := newTestManager()

	pending, err := m.Submit(context.Background(), validSubmission("i2"), severeInteraction())
	require.NoError(t, err)

	_, err = m.CompleteSignoff(context.Background(), pending.OverrideID, "dr-alpha")
	var oerr *domain.InvalidOverrideError
	require.ErrorAs(t, err, &oerr)
}

func TestCompleteSignoffRequiresPendingState(t *testing.T) {
	m, _ := newTestManager()

	recorded, err := m.Submit(context.Background(), validSubmission("i1"), majorInteraction())
	require.NoError(t, err)

	_, err = m.CompleteSignoff(context.Background(), recorded.OverrideID, "dr-beta")
	var oerr *domain.InvalidOverrideError
	require.ErrorAs(t, err, &oerr)
}

func TestRevoke(t *testing.T) {
	m, store := newTestManager()

	recorded, err := m.Submit(context.Background(), validSubmission("i1"), majorInteraction())
	require.NoError(t, err)

	revocation, err := m.Revoke(context.Background(), recorded.OverrideID, "dr-gamma", "patient condition changed")
	require.NoError(t, err)
	assert.Equal(t, domain.OverrideSuperseded, revocation.State)
	assert.Equal(t, recorded.OverrideID, revocation.SupersedesID)

	// The original stays recorded; the revocation is a separate record.
	original, err := store.Get(context.Background(), recorded.OverrideID)
	require.NoError(t, err)
	assert.Equal(t, domain.OverrideRecorded, original.State)

	history, err := store.ListByInteraction(context.Background(), "i1")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestRevokeRequiresRecordedState(t *testing.T) {
	m, _ := newTestManager()

	pending, err := m.Submit(context.Background(), validSubmission("i2"), severeInteraction())
	require.NoError(t, err)

	_, err = m.Revoke(context.Background(), pending.OverrideID, "dr-gamma", "wrong record")
	var oerr *domain.InvalidOverrideError
	require.ErrorAs(t, err, &oerr)
}
