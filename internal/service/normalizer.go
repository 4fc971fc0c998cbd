// Package service implements the drug-interaction decision pipeline: drug
// normalization, deterministic rule evaluation, ML scoring, patient-specific
// personalization, aggregation, recommendations and explainability.
package service

import (
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/drug-interaction-engine/internal/domain"
	"github.com/drug-interaction-engine/internal/knowledge"
)

const (
	// exactMatchConfidence is assigned when a name resolves directly against
	// the dictionary (generic, brand or synonym).
	exactMatchConfidence = 0.98
	// fuzzyAcceptDistance is the maximum edit distance at which a near-miss
	// still resolves, at reduced confidence.
	fuzzyAcceptDistance = 2
	// fuzzyCandidateLimit caps how many near-misses an unrecognized result carries.
	fuzzyCandidateLimit = 3
)

// Normalizer resolves free-form drug identifiers to canonical drug records.
// It never errors on unknown input: an unrecognized drug comes back flagged,
// with fuzzy candidates, so downstream stages can surface the reduced
// coverage instead of silently dropping the drug.
type Normalizer struct {
	log   *logrus.Logger
	cache *lru.Cache[string, domain.NormalizedDrug]
}

// NewNormalizer creates a normalizer with an in-process lookup cache.
func NewNormalizer(logger *logrus.Logger, cacheSize int) (*Normalizer, error) {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, err := lru.New[string, domain.NormalizedDrug](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Normalizer{log: logger, cache: cache}, nil
}

// Normalize resolves one drug against the pinned knowledge snapshot.
func (n *Normalizer) Normalize(snap *knowledge.Snapshot, input domain.Drug) domain.NormalizedDrug {
	name := strings.ToLower(strings.TrimSpace(input.Name))
	cacheKey := snap.Version + "::" + name

	if cached, ok := n.cache.Get(cacheKey); ok {
		cached.Input = input
		return cached
	}

	result := n.resolve(snap, input, name)
	n.cache.Add(cacheKey, result)
	return result
}

// NormalizeAll resolves a full medication list, preserving input order.
func (n *Normalizer) NormalizeAll(snap *knowledge.Snapshot, inputs []domain.Drug) []domain.NormalizedDrug {
	out := make([]domain.NormalizedDrug, len(inputs))
	for i := range inputs {
		out[i] = n.Normalize(snap, inputs[i])
	}
	return out
}

func (n *Normalizer) resolve(snap *knowledge.Snapshot, input domain.Drug, name string) domain.NormalizedDrug {
	// Direct dictionary hit on generic name, brand name or synonym.
	if rec, ok := snap.LookupDrug(name); ok {
		return fromRecord(input, rec, exactMatchConfidence)
	}

	// Combination entries like "amoxicillin/clavulanate" may arrive with
	// either component name leading; retry on the first component.
	if head, _, found := strings.Cut(name, "/"); found {
		if rec, ok := snap.LookupDrug(strings.TrimSpace(head)); ok {
			return fromRecord(input, rec, 0.85)
		}
	}

	// Fuzzy pass: closest dictionary names by edit distance.
	type scored struct {
		name string
		dist int
	}
	candidates := make([]scored, 0, 8)
	for _, dictName := range snap.DrugNames() {
		d := editDistance(name, dictName)
		if d <= fuzzyAcceptDistance+1 {
			candidates = append(candidates, scored{name: dictName, dist: d})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].dist != candidates[j].dist {
			return candidates[i].dist < candidates[j].dist
		}
		return candidates[i].name < candidates[j].name
	})

	// A single unambiguous near-miss within the accept distance resolves.
	if len(candidates) > 0 && candidates[0].dist <= fuzzyAcceptDistance {
		if len(candidates) == 1 || candidates[1].dist > candidates[0].dist {
			if rec, ok := snap.LookupDrug(candidates[0].name); ok {
				confidence := 0.8 - 0.15*float64(candidates[0].dist-1)
				n.log.WithFields(logrus.Fields{
					"input":    input.Name,
					"resolved": rec.GenericName,
					"distance": candidates[0].dist,
				}).Debug("Fuzzy-resolved drug name")
				return fromRecord(input, rec, confidence)
			}
		}
	}

	// Unrecognized: keep the drug visible with its near-misses. The rule
	// evaluator treats it as a drug with no known interactions, never as an
	// absent drug.
	fuzzy := make([]string, 0, fuzzyCandidateLimit)
	seen := make(map[string]bool)
	for _, c := range candidates {
		rec, ok := snap.LookupDrug(c.name)
		if !ok || seen[rec.CanonicalID] {
			continue
		}
		seen[rec.CanonicalID] = true
		fuzzy = append(fuzzy, rec.CanonicalID)
		if len(fuzzy) == fuzzyCandidateLimit {
			break
		}
	}

	classGuess := ""
	if len(fuzzy) > 0 {
		if rec, ok := snap.LookupDrug(candidates[0].name); ok {
			classGuess = rec.ClassCode
		}
	}

	n.log.WithFields(logrus.Fields{
		"input":      input.Name,
		"candidates": len(fuzzy),
	}).Warn("Drug not recognized")

	return domain.NormalizedDrug{
		Input:           input,
		ClassCode:       classGuess,
		Confidence:      0.2,
		Unrecognized:    true,
		FuzzyCandidates: fuzzy,
	}
}

func fromRecord(input domain.Drug, rec *knowledge.DrugRecord, confidence float64) domain.NormalizedDrug {
	return domain.NormalizedDrug{
		Input:       input,
		CanonicalID: rec.CanonicalID,
		GenericName: rec.GenericName,
		BrandNames:  append([]string(nil), rec.BrandNames...),
		ClassCode:   rec.ClassCode,
		Components:  append([]string(nil), rec.Components...),
		Confidence:  confidence,
	}
}

// editDistance computes the Levenshtein distance between two strings.
func editDistance(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
