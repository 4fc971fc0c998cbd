package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drug-interaction-engine/internal/domain"
	"github.com/drug-interaction-engine/internal/knowledge"
	"github.com/drug-interaction-engine/internal/registry"
)

func newBatchFixture(t *testing.T) (*BatchRunner, *StaticPatientSource, *checkerFixture) {
	t.Helper()
	f := newCheckerFixture(t, nil)
	source := NewStaticPatientSource(nil)
	runner := NewBatchRunner(testLogger(), f.checker, source, f.kb, f.models, "interaction-classifier", 4)
	return runner, source, f
}

func waitForBatch(t *testing.T, runner *BatchRunner, batchID string) *domain.BatchCheckResult {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		result, err := runner.Get(batchID)
		require.NoError(t, err)
		if result.Status == domain.BatchCompleted {
			return result
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("batch did not complete in time")
	return nil
}

func TestBatchSubmitValidation(t *testing.T) {
	runner, _, _ := newBatchFixture(t)

	_, err := runner.Submit(context.Background(), nil, domain.CheckOptions{}, domain.CheckContext{})
	assert.Error(t, err)

	_, err = runner.Submit(context.Background(), []string{"p1", ""}, domain.CheckOptions{}, domain.CheckContext{})
	assert.Error(t, err)

	_, err = runner.Submit(context.Background(), []string{"p1", "p1"}, domain.CheckOptions{}, domain.CheckContext{})
	assert.Error(t, err)
}

func TestBatchCompletesWithIsolatedFailures(t *testing.T) {
	runner, source, _ := newBatchFixture(t)

	ids := make([]string, 0, 10)
	for i := 0; i < 9; i++ {
		id := fmt.Sprintf("p%d", i)
		ids = append(ids, id)
		source.Add(id, PatientRecord{
			Facts: domain.PatientFacts{PatientID: id, AgeYears: 60 + i},
			Drugs: []domain.Drug{{Name: "warfarin"}, {Name: "aspirin"}},
		})
	}
	// One patient has no record on file; only that slot may fail.
	ids = append(ids, "missing")

	batchID, err := runner.Submit(context.Background(), ids, domain.CheckOptions{IncludeMonitoringPlans: true}, domain.CheckContext{})
	require.NoError(t, err)

	result := waitForBatch(t, runner, batchID)
	assert.Equal(t, domain.BatchCompleted, result.Status)
	assert.Equal(t, 9, result.SucceededCount())
	assert.False(t, result.CompletedAt.IsZero())

	for _, patient := range result.Patients {
		if patient.PatientID == "missing" {
			assert.Equal(t, domain.PatientCheckFailed, patient.Status)
			assert.NotEmpty(t, patient.Error)
			continue
		}
		require.Equal(t, domain.PatientCheckSucceeded, patient.Status, "patient %s", patient.PatientID)
		require.NotNil(t, patient.Response)
		assert.Len(t, patient.Response.Interactions, 1)
	}
}

func TestBatchPinsVersionsAcrossSwap(t *testing.T) {
	runner, source, f := newBatchFixture(t)

	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("p%d", i)
		source.Add(id, PatientRecord{
			Facts: domain.PatientFacts{PatientID: id, AgeYears: 50},
			Drugs: []domain.Drug{{Name: "warfarin"}, {Name: "aspirin"}},
		})
	}

	batchID, err := runner.Submit(context.Background(), []string{"p0", "p1", "p2", "p3"}, domain.CheckOptions{}, domain.CheckContext{})
	require.NoError(t, err)

	// A knowledge sync mid-batch must not change what the batch reports.
	newer := knowledge.SeedSnapshot()
	newer.Version = "kb-2025.09.0"
	require.NoError(t, f.kb.Swap(newer))

	result := waitForBatch(t, runner, batchID)
	assert.Equal(t, "kb-2025.08.1", result.KnowledgeVersion)
	for _, patient := range result.Patients {
		require.NotNil(t, patient.Response)
		assert.Equal(t, "kb-2025.08.1", patient.Response.Metadata.KnowledgeVersion)
	}
}

func TestBatchGetUnknownID(t *testing.T) {
	runner, _, _ := newBatchFixture(t)

	_, err := runner.Get("no-such-batch")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestBatchNoCoverage(t *testing.T) {
	logger := testLogger()
	f := newCheckerFixture(t, nil)
	// Fresh empty stores: no snapshot, no model.
	runner := NewBatchRunner(logger, f.checker, NewStaticPatientSource(nil), knowledge.NewStore(logger), registry.New(logger), "interaction-classifier", 2)

	_, err := runner.Submit(context.Background(), []string{"p1"}, domain.CheckOptions{}, domain.CheckContext{})
	assert.True(t, errors.Is(err, domain.ErrNoCoverage))
}

func TestStaticPatientSourceLookup(t *testing.T) {
	source := NewStaticPatientSource(map[string]PatientRecord{
		"p1": {Facts: domain.PatientFacts{PatientID: "p1", AgeYears: 40}, Drugs: []domain.Drug{{Name: "metformin"}}},
	})

	facts, drugs, err := source.Lookup(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 40, facts.AgeYears)
	require.Len(t, drugs, 1)

	_, _, err = source.Lookup(context.Background(), "p2")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
