package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/drug-interaction-engine/internal/audit"
	"github.com/drug-interaction-engine/internal/cache"
	"github.com/drug-interaction-engine/internal/domain"
	"github.com/drug-interaction-engine/internal/knowledge"
	"github.com/drug-interaction-engine/internal/registry"
)

// Checker orchestrates one interaction check: normalize, evaluate rules and
// the ML scorer concurrently, personalize, aggregate, recommend. Each check
// is a stateless unit of work; the aggregator is its single synchronization
// point. The knowledge snapshot and model set are pinned at the start so a
// mid-flight sync cannot change what a request is evaluated against.
type Checker struct {
	log          *logrus.Logger
	normalizer   *Normalizer
	rules        *RuleEngine
	scorer       *MLScorer
	personalizer *Personalizer
	aggregator   *Aggregator
	recommender  *Recommender

	kb        *knowledge.Store
	models    *registry.Registry
	modelType string

	cache      *cache.ResultCache
	auditStore audit.Store
}

// CheckerDeps bundles the checker's collaborators.
type CheckerDeps struct {
	Normalizer   *Normalizer
	Rules        *RuleEngine
	Scorer       *MLScorer
	Personalizer *Personalizer
	Aggregator   *Aggregator
	Recommender  *Recommender
	Knowledge    *knowledge.Store
	Models       *registry.Registry
	ModelType    string
	Cache        *cache.ResultCache
	Audit        audit.Store
}

// NewChecker wires the pipeline.
func NewChecker(logger *logrus.Logger, deps CheckerDeps) *Checker {
	if deps.ModelType == "" {
		deps.ModelType = "interaction-classifier"
	}
	return &Checker{
		log:          logger,
		normalizer:   deps.Normalizer,
		rules:        deps.Rules,
		scorer:       deps.Scorer,
		personalizer: deps.Personalizer,
		aggregator:   deps.Aggregator,
		recommender:  deps.Recommender,
		kb:           deps.Knowledge,
		models:       deps.Models,
		modelType:    deps.ModelType,
		cache:        deps.Cache,
		auditStore:   deps.Audit,
	}
}

// Check runs one interaction check against the currently published knowledge
// snapshot and active model set.
func (c *Checker) Check(ctx context.Context, req *domain.CheckRequest) (*domain.CheckResponse, error) {
	snap, kbErr := c.kb.Current()

	var set *registry.ModelSet
	var modelErr error
	if req.Options.IncludeMLPredictions {
		set, modelErr = c.models.Pin(c.modelType)
	}

	return c.CheckPinned(ctx, req, snap, kbErr, set, modelErr)
}

// CheckPinned runs a check against an explicitly pinned snapshot and model
// set. Batch processing pins once and reuses the same pins for every patient
// so two patients in one batch are never evaluated against different rule
// versions.
func (c *Checker) CheckPinned(ctx context.Context, req *domain.CheckRequest, snap *knowledge.Snapshot, kbErr error, set *registry.ModelSet, modelErr error) (*domain.CheckResponse, error) {
	start := time.Now()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	var warnings []domain.Warning

	// Losing both the knowledge base and the model would turn this check
	// into a clinically wrong "no interactions found"; that escalates to a
	// fatal error instead of degrading. Silence never substitutes for a
	// flagged risk.
	rulesAvailable := kbErr == nil && snap != nil
	mlRequested := req.Options.IncludeMLPredictions
	if !rulesAvailable {
		if !mlRequested || modelErr != nil {
			return nil, fmt.Errorf("check cannot provide coverage: %w", domain.ErrNoCoverage)
		}
		warnings = append(warnings, domain.DegradedRulesWarning(kbErr))
	}

	kbVersion := "unavailable"
	var drugs []domain.NormalizedDrug
	if rulesAvailable {
		kbVersion = snap.Version
		drugs = c.normalizer.NormalizeAll(snap, req.Drugs)
	} else {
		drugs = passthroughNormalize(req.Drugs)
	}

	var unrecognized []string
	for i := range drugs {
		if drugs[i].Unrecognized {
			unrecognized = append(unrecognized, drugs[i].Input.Name)
			warnings = append(warnings, domain.UnrecognizedDrugWarning(drugs[i].Input.Name))
		}
	}

	modelVersion := ""
	if set != nil && set.Active != nil {
		modelVersion = set.Active.Version
	}

	// Cache lookup by fingerprint. A hit still writes a RunLog entry below.
	drugKeys := make([]string, len(drugs))
	for i := range drugs {
		drugKeys[i] = drugs[i].Key()
	}
	fingerprint := cache.Fingerprint(drugKeys, req.PatientFacts.Fingerprint(), kbVersion, modelVersion)
	if c.cache != nil {
		if cached, ok := c.cache.Get(ctx, fingerprint); ok {
			resp := *cached
			resp.RequestID = uuid.NewString()
			resp.Metadata.CacheHit = true
			resp.Metadata.ProcessingTimeMS = time.Since(start).Milliseconds()
			c.writeRunLog(ctx, req, &resp, kbVersion, modelVersion, warnings, "")
			return &resp, nil
		}
	}

	// Rule evaluation and ML scoring share no mutable state and run
	// concurrently; their outputs meet at the aggregator.
	var (
		wg       sync.WaitGroup
		ruleHits []domain.DrugInteraction
		mlHits   []domain.DrugInteraction
		mlErr    error
	)

	coveredKeys := make(map[string]bool)
	if rulesAvailable {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ruleHits = c.rules.Evaluate(snap, drugs, &req.PatientFacts)
		}()
	}

	if mlRequested {
		if modelErr != nil {
			warnings = append(warnings, domain.DegradedMLWarning(modelErr))
		} else {
			// ML waits for rule coverage to avoid double-counting pairs,
			// then runs against the same immutable inputs.
			wg.Wait()
			for i := range ruleHits {
				coveredKeys[ruleHits[i].SetKey()] = true
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				mlHits, mlErr = c.scorer.Score(ctx, set, &req.PatientFacts, drugs, coveredKeys)
			}()
		}
	}
	wg.Wait()

	if mlErr != nil {
		// Timeout or open breaker degrades to rule-only, never fails the check.
		if errors.Is(mlErr, domain.ErrModelTimeout) || errors.Is(mlErr, domain.ErrModelUnavailable) {
			warnings = append(warnings, domain.DegradedMLWarning(mlErr))
			mlHits = nil
		} else {
			return nil, fmt.Errorf("ml scoring failed: %w", mlErr)
		}
	}

	// Personalization applies on the degraded ML-only path too; Adjust only
	// consults the snapshot for rule-matched interactions, so a nil snapshot
	// is fine for ML hits.
	if rulesAvailable {
		ruleHits = c.personalizer.Adjust(snap, ruleHits, &req.PatientFacts)
	}
	mlHits = c.personalizer.Adjust(snap, mlHits, &req.PatientFacts)

	interactions, summary := c.aggregator.Aggregate(ruleHits, mlHits, req.Options.SeverityThreshold)

	// Interaction IDs derive from the request fingerprint and the drug set,
	// so re-evaluating identical inputs yields byte-identical records. The
	// aggregator guarantees one record per set key.
	for i := range interactions {
		interactions[i].ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(fingerprint+"|"+interactions[i].SetKey())).String()
	}

	var alternatives []domain.AlternativeDrug
	var monitoringRecs []domain.Recommendation
	if rulesAvailable {
		interactions, alternatives, monitoringRecs = c.recommender.Recommend(snap, interactions, req.Options)
	}

	degraded := len(warnings) > 0
	resp := &domain.CheckResponse{
		RequestID:         uuid.NewString(),
		Interactions:      interactions,
		Summary:           summary,
		Alternatives:      alternatives,
		MonitoringRecs:    monitoringRecs,
		UnrecognizedDrugs: unrecognized,
		Metadata: domain.CheckMetadata{
			ProcessingTimeMS: time.Since(start).Milliseconds(),
			CacheHit:         false,
			ModelVersion:     modelVersion,
			KnowledgeVersion: kbVersion,
			DataSourcesUsed:  dataSourcesUsed(interactions),
			Degraded:         degraded,
			Warnings:         warningStrings(warnings),
		},
	}

	// Only clean results are cacheable; caching a degraded result would pin
	// the degradation past the outage that caused it.
	if c.cache != nil && !degraded {
		c.cache.Put(ctx, fingerprint, resp)
	}

	c.writeRunLog(ctx, req, resp, kbVersion, modelVersion, warnings, "")

	c.log.WithFields(logrus.Fields{
		"request_id":   resp.RequestID,
		"patient_id":   req.PatientID,
		"drugs":        len(req.Drugs),
		"interactions": len(interactions),
		"max_severity": summary.MaxSeverity.String(),
		"degraded":     degraded,
		"duration_ms":  resp.Metadata.ProcessingTimeMS,
	}).Info("Interaction check completed")

	return resp, nil
}

func (c *Checker) writeRunLog(ctx context.Context, req *domain.CheckRequest, resp *domain.CheckResponse, kbVersion, modelVersion string, warnings []domain.Warning, checkErr string) {
	if c.auditStore == nil {
		return
	}
	entry := &domain.RunLog{
		ID:               uuid.NewString(),
		RequestID:        resp.RequestID,
		PatientID:        req.PatientID,
		DrugSetKey:       requestDrugSetKey(req),
		KnowledgeVersion: kbVersion,
		ModelVersion:     modelVersion,
		InteractionCount: len(resp.Interactions),
		MaxSeverity:      resp.Summary.MaxSeverity,
		CacheHit:         resp.Metadata.CacheHit,
		Degraded:         resp.Metadata.Degraded,
		Warnings:         warningStrings(warnings),
		Error:            checkErr,
		ProcessingTime:   time.Duration(resp.Metadata.ProcessingTimeMS) * time.Millisecond,
		CreatedAt:        time.Now().UTC(),
	}
	if err := c.auditStore.AppendRunLog(ctx, entry); err != nil {
		c.log.WithError(err).WithField("request_id", resp.RequestID).Error("Failed to append run log")
	}
}

func requestDrugSetKey(req *domain.CheckRequest) string {
	drugs := make([]domain.NormalizedDrug, len(req.Drugs))
	for i := range req.Drugs {
		drugs[i] = domain.NormalizedDrug{Input: req.Drugs[i]}
	}
	return domain.DrugSetKey(drugs)
}

// passthroughNormalize builds minimally normalized drugs when the knowledge
// base dictionary is unreachable. The drugs stay scoreable by the model but
// carry midline confidence.
func passthroughNormalize(inputs []domain.Drug) []domain.NormalizedDrug {
	out := make([]domain.NormalizedDrug, len(inputs))
	for i := range inputs {
		out[i] = domain.NormalizedDrug{
			Input:       inputs[i],
			GenericName: inputs[i].Name,
			Confidence:  0.5,
		}
	}
	return out
}

func warningStrings(warnings []domain.Warning) []string {
	if len(warnings) == 0 {
		return nil
	}
	out := make([]string, len(warnings))
	for i, w := range warnings {
		out[i] = w.String()
	}
	return out
}

func dataSourcesUsed(interactions []domain.DrugInteraction) []string {
	seen := make(map[string]bool)
	var out []string
	for i := range interactions {
		for _, ev := range interactions[i].Evidence {
			if ev.SourceID == "" || seen[ev.SourceID] {
				continue
			}
			seen[ev.SourceID] = true
			out = append(out, ev.SourceID)
		}
	}
	return out
}
