package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/drug-interaction-engine/internal/domain"
	"github.com/drug-interaction-engine/internal/registry"
)

// Prediction is one model output for a drug pair.
type Prediction struct {
	Probability float64
	Severity    domain.Severity
}

// Predictor invokes one ML model version. Implementations may call out to a
// model-serving process; the scorer wraps every call with a timeout and a
// circuit breaker so a slow model degrades the check instead of blocking it.
type Predictor interface {
	// Predict scores one drug pair given the engineered feature vector.
	Predict(ctx context.Context, pair []domain.NormalizedDrug, features map[string]float64) (*Prediction, error)
	// Schema lists the feature names the model consumes.
	Schema() []string
}

// MLScorer produces probability and severity estimates for drug combinations
// not covered by deterministic rules. It never emits a low-confidence guess:
// a calibrated confidence below the model's threshold yields no output for
// that pair, because absence is the correct signal.
type MLScorer struct {
	log        *logrus.Logger
	features   *FeatureRegistry
	predictors map[string]Predictor // keyed by model version
	breaker    *gobreaker.CircuitBreaker
	timeout    time.Duration
}

// NewMLScorer creates a scorer over the given predictors.
func NewMLScorer(logger *logrus.Logger, features *FeatureRegistry, predictors map[string]Predictor, timeout time.Duration) *MLScorer {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "ml-scorer",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("ML scorer circuit breaker state changed")
		},
	})
	return &MLScorer{
		log:        logger,
		features:   features,
		predictors: predictors,
		breaker:    breaker,
		timeout:    timeout,
	}
}

// RegisterPredictor binds a predictor to a model version.
func (s *MLScorer) RegisterPredictor(version string, p Predictor) {
	s.predictors[version] = p
}

// ValidateSchemas checks every registered predictor's feature schema against
// the extractor registry. Run at startup; a mismatch is a deployment error.
func (s *MLScorer) ValidateSchemas() error {
	for version, p := range s.predictors {
		if err := s.features.ValidateSchema(p.Schema()); err != nil {
			return fmt.Errorf("model %s: %w", version, err)
		}
	}
	return nil
}

// Score evaluates all drug pairs not already covered by a rule match.
// Shadow and canary versions in the model set are evaluated for comparison
// and logged, but only the active model's output is returned.
//
// On timeout the scorer returns domain.ErrModelTimeout and no interactions;
// the caller degrades to rule-only results with a warning.
func (s *MLScorer) Score(ctx context.Context, set *registry.ModelSet, facts *domain.PatientFacts, drugs []domain.NormalizedDrug, coveredSetKeys map[string]bool) ([]domain.DrugInteraction, error) {
	if set == nil || set.Active == nil {
		return nil, domain.ErrModelUnavailable
	}
	active, ok := s.predictors[set.Active.Version]
	if !ok {
		return nil, fmt.Errorf("no predictor for model version %s: %w", set.Active.Version, domain.ErrModelUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	vector, err := s.features.Vector(active.Schema(), facts, drugs)
	if err != nil {
		return nil, fmt.Errorf("engineering features: %w", err)
	}

	var out []domain.DrugInteraction
	for i := 0; i < len(drugs); i++ {
		for j := i + 1; j < len(drugs); j++ {
			if drugs[i].Unrecognized || drugs[j].Unrecognized {
				continue
			}
			pair := []domain.NormalizedDrug{drugs[i], drugs[j]}
			if coveredSetKeys[domain.DrugSetKey(pair)] {
				// Rule coverage wins; scoring the pair again would double-count.
				continue
			}

			pred, err := s.predict(ctx, active, pair, vector)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					return nil, domain.ErrModelTimeout
				}
				if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
					return nil, domain.ErrModelUnavailable
				}
				return nil, fmt.Errorf("scoring pair: %w", err)
			}

			s.scoreShadows(ctx, set, pair, vector, pred)

			confidence := Calibrate(pred.Probability, set.Active.PerformanceMetrics.CalibrationScore)
			if confidence < set.Active.ConfidenceThreshold {
				continue
			}
			if pred.Severity == domain.SeverityNone {
				continue
			}

			out = append(out, buildMLInteraction(pair, pred.Severity, confidence, set.Active.Version))
		}
	}

	s.log.WithFields(logrus.Fields{
		"model_version": set.Active.Version,
		"interactions":  len(out),
	}).Debug("ML scoring completed")

	return out, nil
}

// predict runs one model call inside the circuit breaker.
func (s *MLScorer) predict(ctx context.Context, p Predictor, pair []domain.NormalizedDrug, vector map[string]float64) (*Prediction, error) {
	result, err := s.breaker.Execute(func() (interface{}, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return p.Predict(ctx, pair, vector)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Prediction), nil
}

// scoreShadows evaluates shadow/canary versions and logs divergence from the
// active model. Their output never reaches the response.
func (s *MLScorer) scoreShadows(ctx context.Context, set *registry.ModelSet, pair []domain.NormalizedDrug, vector map[string]float64, active *Prediction) {
	for _, shadow := range set.Shadows {
		p, ok := s.predictors[shadow.Version]
		if !ok {
			continue
		}
		pred, err := p.Predict(ctx, pair, vector)
		if err != nil {
			s.log.WithError(err).WithField("model_version", shadow.Version).Debug("Shadow model prediction failed")
			continue
		}
		s.log.WithFields(logrus.Fields{
			"model_version":      shadow.Version,
			"model_status":       shadow.Status.String(),
			"pair":               domain.DrugSetKey(pair),
			"shadow_probability": pred.Probability,
			"active_probability": active.Probability,
		}).Debug("Shadow model comparison")
	}
}

// Calibrate maps a raw classifier probability to calibrated confidence.
// A model with perfect calibration (score 1.0) keeps its raw probability;
// lower calibration shrinks the probability toward 0.5, so an overconfident
// model cannot smuggle uncalibrated certainty into the response.
func Calibrate(probability, calibrationScore float64) float64 {
	calibrationScore = domain.ClampConfidence(calibrationScore)
	return domain.ClampConfidence(0.5 + (probability-0.5)*calibrationScore)
}

func buildMLInteraction(pair []domain.NormalizedDrug, severity domain.Severity, confidence float64, modelVersion string) domain.DrugInteraction {
	keys := []string{pair[0].Key(), pair[1].Key()}
	names := []string{pair[0].DisplayName(), pair[1].DisplayName()}
	sort.Strings(keys)
	sort.Strings(names)
	return domain.DrugInteraction{
		ID:               uuid.NewString(),
		DrugKeys:         keys,
		DrugNames:        names,
		Severity:         severity,
		BaselineSeverity: severity,
		Confidence:       confidence,
		Mechanism:        domain.MechanismUnknown,
		Consequence:      "Model-predicted clinically significant interaction for an undocumented combination",
		Evidence: []domain.Evidence{
			{
				SourceID:         "ml:" + modelVersion,
				ModelVersion:     modelVersion,
				ReliabilityScore: confidence,
			},
		},
		OverrideAllowed: true,
		Source:          domain.SourceMLModel,
		ModelVersion:    modelVersion,
	}
}

// GradientPredictor is the bundled heuristic predictor used when no external
// model-serving endpoint is configured. It is deterministic, which keeps
// regression fixtures reproducible.
type GradientPredictor struct {
	schema  []string
	weights map[string]float64
	bias    float64
}

// NewGradientPredictor creates the bundled predictor.
func NewGradientPredictor() *GradientPredictor {
	return &GradientPredictor{
		schema: []string{
			"age_years", "renal_impaired", "hepatic_impaired",
			"comorbidity_count", "drug_count", "shared_class_pairs",
			"poor_metabolizer",
		},
		weights: map[string]float64{
			"age_years":          0.004,
			"renal_impaired":     0.35,
			"hepatic_impaired":   0.3,
			"comorbidity_count":  0.05,
			"drug_count":         0.03,
			"shared_class_pairs": 0.25,
			"poor_metabolizer":   0.3,
		},
		bias: -1.4,
	}
}

// Schema implements Predictor.
func (g *GradientPredictor) Schema() []string {
	return g.schema
}

// Predict implements Predictor with a logistic score over the feature vector
// plus a pair-level term for same-class combinations.
func (g *GradientPredictor) Predict(_ context.Context, pair []domain.NormalizedDrug, features map[string]float64) (*Prediction, error) {
	z := g.bias
	for name, w := range g.weights {
		z += w * features[name]
	}
	if len(pair) == 2 && pair[0].ClassCode != "" && pair[1].ClassCode != "" && pair[0].ClassCode[0] == pair[1].ClassCode[0] {
		z += 0.6
	}
	p := 1.0 / (1.0 + math.Exp(-z))

	severity := domain.SeverityMinor
	switch {
	case p >= 0.9:
		severity = domain.SeverityMajor
	case p >= 0.7:
		severity = domain.SeverityModerate
	}
	return &Prediction{Probability: p, Severity: severity}, nil
}
