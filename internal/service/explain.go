package service

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/drug-interaction-engine/internal/domain"
)

// FeatureContribution is one entry of the attribution breakdown: which
// patient or drug feature pushed the prediction up or down, and by how much.
// This contract is all downstream consumers rely on; the attribution math
// behind it is a pluggable strategy per model type.
type FeatureContribution struct {
	Feature      string  `json:"feature"`
	Value        float64 `json:"value"`
	Contribution float64 `json:"contribution"`
	Direction    string  `json:"direction"` // up | down | neutral
}

// ConfidenceBreakdown splits an interaction's overall confidence into the
// pipeline stages that produced it. The four parts sum to the overall value.
type ConfidenceBreakdown struct {
	RuleEvidence    float64 `json:"rule_evidence"`
	MLPrediction    float64 `json:"ml_prediction"`
	Personalization float64 `json:"personalization"`
	DataQuality     float64 `json:"data_quality"`
	Overall         float64 `json:"overall"`
}

// Explanation is the full explainability output for one interaction.
type Explanation struct {
	InteractionID string                `json:"interaction_id"`
	ModelVersion  string                `json:"model_version,omitempty"`
	Features      []FeatureContribution `json:"features,omitempty"`
	Confidence    ConfidenceBreakdown   `json:"confidence"`
}

// AttributionStrategy computes feature contributions for one model type.
type AttributionStrategy interface {
	Attribute(features map[string]float64) []FeatureContribution
}

// LinearAttribution attributes by weight*value, which is exact for the
// bundled logistic predictor and a first-order approximation otherwise.
type LinearAttribution struct {
	Weights map[string]float64
}

// Attribute implements AttributionStrategy.
func (l *LinearAttribution) Attribute(features map[string]float64) []FeatureContribution {
	out := make([]FeatureContribution, 0, len(features))
	for name, value := range features {
		w := l.Weights[name]
		contribution := w * value
		direction := "neutral"
		if contribution > 0 {
			direction = "up"
		} else if contribution < 0 {
			direction = "down"
		}
		out = append(out, FeatureContribution{
			Feature:      name,
			Value:        value,
			Contribution: contribution,
			Direction:    direction,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := out[i].Contribution, out[j].Contribution
		if ai < 0 {
			ai = -ai
		}
		if aj < 0 {
			aj = -aj
		}
		if ai != aj {
			return ai > aj
		}
		return out[i].Feature < out[j].Feature
	})
	return out
}

// Explainer computes per-interaction explanations. It is a pure function of
// (interaction, patient facts, model artifact): no request or response state
// is consulted, so an audit can regenerate any explanation after the fact.
type Explainer struct {
	log        *logrus.Logger
	features   *FeatureRegistry
	strategies map[string]AttributionStrategy // keyed by model type
}

// NewExplainer creates the explainability module.
func NewExplainer(logger *logrus.Logger, features *FeatureRegistry) *Explainer {
	return &Explainer{
		log:        logger,
		features:   features,
		strategies: make(map[string]AttributionStrategy),
	}
}

// RegisterStrategy binds an attribution strategy to a model type.
func (e *Explainer) RegisterStrategy(modelType string, s AttributionStrategy) {
	e.strategies[modelType] = s
}

// Explain computes the explanation for one interaction. Feature attribution
// requires ML involvement; rule-only interactions still get a confidence
// breakdown.
func (e *Explainer) Explain(in *domain.DrugInteraction, facts *domain.PatientFacts, drugs []domain.NormalizedDrug, model *domain.MLModel, featureNames []string) (*Explanation, error) {
	explanation := &Explanation{
		InteractionID: in.ID,
		ModelVersion:  in.ModelVersion,
		Confidence:    breakdownConfidence(in),
	}

	if !in.Source.IncludesML() {
		return explanation, nil
	}
	if model == nil {
		return nil, fmt.Errorf("explaining interaction %s: model artifact is required for ml-influenced decisions", in.ID)
	}
	strategy, ok := e.strategies[model.ModelType]
	if !ok {
		return nil, fmt.Errorf("explaining interaction %s: no attribution strategy for model type %s", in.ID, model.ModelType)
	}

	vector, err := e.features.Vector(featureNames, facts, drugs)
	if err != nil {
		return nil, fmt.Errorf("explaining interaction %s: %w", in.ID, err)
	}
	explanation.Features = strategy.Attribute(vector)
	return explanation, nil
}

// breakdownConfidence splits overall confidence into rule-evidence, ML,
// personalization and data-quality parts that sum to the overall value.
func breakdownConfidence(in *domain.DrugInteraction) ConfidenceBreakdown {
	overall := in.Confidence

	// Undo the personalization multiplier to recover the base confidence;
	// the difference is the personalization contribution (may be negative).
	base := overall
	if in.Adjustments != nil && in.Adjustments.OverallAdjustment > 0 {
		base = domain.ClampConfidence(overall / in.Adjustments.OverallAdjustment)
	}
	personalization := overall - base

	// Data quality: the part of the base confidence discounted by evidence
	// reliability below 1.0.
	reliability := 1.0
	if len(in.Evidence) > 0 {
		total := 0.0
		for i := range in.Evidence {
			total += in.Evidence[i].ReliabilityScore
		}
		reliability = total / float64(len(in.Evidence))
	}
	dataQuality := base * (1 - reliability)
	attributable := base - dataQuality

	var ruleShare, mlShare float64
	switch in.Source {
	case domain.SourceRuleEngine:
		ruleShare = attributable
	case domain.SourceMLModel:
		mlShare = attributable
	case domain.SourceHybrid:
		ruleShare = attributable * ruleEvidenceWeight
		mlShare = attributable * (1 - ruleEvidenceWeight)
	}

	return ConfidenceBreakdown{
		RuleEvidence:    ruleShare,
		MLPrediction:    mlShare,
		Personalization: personalization,
		DataQuality:     dataQuality,
		Overall:         overall,
	}
}
