package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/drug-interaction-engine/internal/domain"
	"github.com/drug-interaction-engine/internal/knowledge"
	"github.com/drug-interaction-engine/internal/registry"
)

// PatientSource resolves a patient ID to the facts and medication list the
// batch needs. The engine never stores medical records itself; callers plug
// in their EHR adapter here.
type PatientSource interface {
	Lookup(ctx context.Context, patientID string) (*domain.PatientFacts, []domain.Drug, error)
}

// PatientRecord pairs the facts and medication list for one patient.
type PatientRecord struct {
	Facts domain.PatientFacts
	Drugs []domain.Drug
}

// StaticPatientSource serves patient records from a fixed map. Used by the
// lite profile and tests; production deployments plug in an EHR adapter.
type StaticPatientSource struct {
	mu      sync.RWMutex
	records map[string]PatientRecord
}

// NewStaticPatientSource creates a source over the given records.
func NewStaticPatientSource(records map[string]PatientRecord) *StaticPatientSource {
	if records == nil {
		records = make(map[string]PatientRecord)
	}
	return &StaticPatientSource{records: records}
}

// Add registers or replaces one patient record.
func (s *StaticPatientSource) Add(patientID string, rec PatientRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[patientID] = rec
}

// Lookup implements PatientSource.
func (s *StaticPatientSource) Lookup(_ context.Context, patientID string) (*domain.PatientFacts, []domain.Drug, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[patientID]
	if !ok {
		return nil, nil, fmt.Errorf("patient %s: %w", patientID, domain.ErrNotFound)
	}
	facts := rec.Facts
	return &facts, rec.Drugs, nil
}

// BatchRunner processes cohort-wide checks asynchronously. The knowledge
// snapshot and model set are pinned once at submission, so every patient in
// a batch is evaluated against the same versions even if a sync lands while
// the batch is running.
type BatchRunner struct {
	log         *logrus.Logger
	checker     *Checker
	source      PatientSource
	kb          *knowledge.Store
	models      *registry.Registry
	modelType   string
	concurrency int

	mu      sync.RWMutex
	batches map[string]*domain.BatchCheckResult
}

// NewBatchRunner creates a batch runner with the given per-batch concurrency.
func NewBatchRunner(logger *logrus.Logger, checker *Checker, source PatientSource, kb *knowledge.Store, models *registry.Registry, modelType string, concurrency int) *BatchRunner {
	if concurrency <= 0 {
		concurrency = 8
	}
	if modelType == "" {
		modelType = "interaction-classifier"
	}
	return &BatchRunner{
		log:         logger,
		checker:     checker,
		source:      source,
		kb:          kb,
		models:      models,
		modelType:   modelType,
		concurrency: concurrency,
		batches:     make(map[string]*domain.BatchCheckResult),
	}
}

// Submit pins the current knowledge and model versions, registers the batch
// and starts processing in the background. It returns the batch ID
// immediately; progress is polled through Get.
func (b *BatchRunner) Submit(ctx context.Context, patientIDs []string, opts domain.CheckOptions, reqCtx domain.CheckContext) (string, error) {
	if len(patientIDs) == 0 {
		return "", domain.NewValidationError("patient_ids", "at least one patient is required", nil)
	}
	seen := make(map[string]bool, len(patientIDs))
	for _, id := range patientIDs {
		if id == "" {
			return "", domain.NewValidationError("patient_ids", "patient IDs must be non-empty", nil)
		}
		if seen[id] {
			return "", domain.NewValidationError("patient_ids", "duplicate patient ID", id)
		}
		seen[id] = true
	}

	snap, kbErr := b.kb.Current()
	var set *registry.ModelSet
	var modelErr error
	if opts.IncludeMLPredictions {
		set, modelErr = b.models.Pin(b.modelType)
	}
	if kbErr != nil && (!opts.IncludeMLPredictions || modelErr != nil) {
		return "", fmt.Errorf("batch cannot provide coverage: %w", domain.ErrNoCoverage)
	}

	result := &domain.BatchCheckResult{
		BatchID:     uuid.NewString(),
		Status:      domain.BatchPending,
		Patients:    make([]domain.BatchPatientResult, len(patientIDs)),
		SubmittedAt: time.Now().UTC(),
	}
	if snap != nil {
		result.KnowledgeVersion = snap.Version
	}
	if set != nil && set.Active != nil {
		result.ModelVersion = set.Active.Version
	}
	for i, id := range patientIDs {
		result.Patients[i] = domain.BatchPatientResult{PatientID: id}
	}

	b.mu.Lock()
	b.batches[result.BatchID] = result
	b.mu.Unlock()

	// The batch outlives the submitting request, so processing detaches from
	// the caller's context.
	go b.run(context.Background(), result.BatchID, patientIDs, opts, reqCtx, snap, kbErr, set, modelErr)

	b.log.WithFields(logrus.Fields{
		"batch_id":          result.BatchID,
		"patients":          len(patientIDs),
		"knowledge_version": result.KnowledgeVersion,
		"model_version":     result.ModelVersion,
	}).Info("Batch check submitted")

	return result.BatchID, nil
}

// Get returns a copy of the batch state for polling.
func (b *BatchRunner) Get(batchID string) (*domain.BatchCheckResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	result, ok := b.batches[batchID]
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", batchID, domain.ErrNotFound)
	}
	snapshot := *result
	snapshot.Patients = append([]domain.BatchPatientResult(nil), result.Patients...)
	return &snapshot, nil
}

func (b *BatchRunner) run(ctx context.Context, batchID string, patientIDs []string, opts domain.CheckOptions, reqCtx domain.CheckContext, snap *knowledge.Snapshot, kbErr error, set *registry.ModelSet, modelErr error) {
	b.setStatus(batchID, domain.BatchRunning)

	results := make([]domain.BatchPatientResult, len(patientIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, patientID := range patientIDs {
		g.Go(func() error {
			results[i] = b.checkPatient(gctx, patientID, opts, reqCtx, snap, kbErr, set, modelErr)
			// Per-patient failures never cancel the rest of the batch.
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		b.log.WithError(err).WithField("batch_id", batchID).Error("Batch worker group failed")
	}

	b.mu.Lock()
	result := b.batches[batchID]
	result.Patients = results
	result.Status = domain.BatchCompleted
	result.CompletedAt = time.Now().UTC()
	b.mu.Unlock()

	b.log.WithFields(logrus.Fields{
		"batch_id":  batchID,
		"patients":  len(results),
		"succeeded": result.SucceededCount(),
	}).Info("Batch check completed")
}

func (b *BatchRunner) checkPatient(ctx context.Context, patientID string, opts domain.CheckOptions, reqCtx domain.CheckContext, snap *knowledge.Snapshot, kbErr error, set *registry.ModelSet, modelErr error) domain.BatchPatientResult {
	facts, drugs, err := b.source.Lookup(ctx, patientID)
	if err != nil {
		return b.failPatient(patientID, fmt.Errorf("resolving patient: %w", err))
	}

	req := &domain.CheckRequest{
		PatientID:    patientID,
		PatientFacts: *facts,
		Drugs:        drugs,
		Context:      reqCtx,
		Options:      opts,
	}
	resp, err := b.checker.CheckPinned(ctx, req, snap, kbErr, set, modelErr)
	if err != nil {
		return b.failPatient(patientID, err)
	}
	return domain.BatchPatientResult{
		PatientID: patientID,
		Status:    domain.PatientCheckSucceeded,
		Response:  resp,
	}
}

func (b *BatchRunner) failPatient(patientID string, err error) domain.BatchPatientResult {
	perr := &domain.BatchPatientError{PatientID: patientID, Err: err}
	b.log.WithError(perr).WithField("patient_id", patientID).Warn("Batch patient check failed")
	return domain.BatchPatientResult{
		PatientID: patientID,
		Status:    domain.PatientCheckFailed,
		Error:     perr.Error(),
	}
}

func (b *BatchRunner) setStatus(batchID string, status domain.BatchStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if result, ok := b.batches[batchID]; ok {
		result.Status = status
	}
}
