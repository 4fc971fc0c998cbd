// Package knowledge provides read-only access to versioned interaction rules,
// drug dictionary entries and evidence sources. Consumers pin one immutable
// Snapshot per request or batch; a sync swaps the whole snapshot atomically so
// a partially-updated rule set is never visible mid-read.
package knowledge

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/drug-interaction-engine/internal/domain"
)

// RuleKind distinguishes the rule classes the evaluator knows how to apply.
type RuleKind string

const (
	RuleDrugDrug     RuleKind = "drug_drug"
	RulePolypharmacy RuleKind = "polypharmacy"
	RuleDrugAllergy  RuleKind = "drug_allergy"
	RuleDrugDisease  RuleKind = "drug_disease"
	RuleDrugLab      RuleKind = "drug_lab"
)

// Target matches one drug slot of a rule: by canonical ID, by therapeutic
// class prefix, or by a class tag (the suffix after "." in the class code,
// used for cross-class properties like QT prolongation). Canonical ID wins
// when several are set.
type Target struct {
	CanonicalID string `json:"canonical_id,omitempty"`
	ClassPrefix string `json:"class_prefix,omitempty"`
	ClassTag    string `json:"class_tag,omitempty"`
}

// Matches reports whether a normalized drug satisfies this target.
func (t Target) Matches(d *domain.NormalizedDrug) bool {
	if t.CanonicalID != "" {
		if d.CanonicalID == t.CanonicalID {
			return true
		}
		for _, comp := range d.Components {
			if comp == t.CanonicalID {
				return true
			}
		}
		return false
	}
	if t.ClassPrefix != "" && d.ClassCode != "" {
		return strings.HasPrefix(d.ClassCode, t.ClassPrefix)
	}
	if t.ClassTag != "" && d.ClassCode != "" {
		_, tag, found := strings.Cut(d.ClassCode, ".")
		return found && tag == t.ClassTag
	}
	return false
}

// InteractionRule is one deterministic rule in the knowledge base.
//
// drug_drug rules carry exactly two targets. polypharmacy rules carry one
// class target with MinMatches >= 3; they exist because some risks (combined
// QT-prolonging burden, additive anticholinergic load) only manifest across
// three or more agents and no pairwise rule would fire.
type InteractionRule struct {
	ID          string           `json:"id"`
	Kind        RuleKind         `json:"kind"`
	Targets     []Target         `json:"targets"`
	MinMatches  int              `json:"min_matches,omitempty"`
	AllergyTerm string           `json:"allergy_term,omitempty"`
	Condition   string           `json:"condition,omitempty"`
	LabCode     string           `json:"lab_code,omitempty"`
	LabOperator string           `json:"lab_operator,omitempty"` // gt, lt
	LabValue    float64          `json:"lab_value,omitempty"`
	Severity    domain.Severity  `json:"severity"`
	Mechanism   domain.Mechanism `json:"mechanism"`
	Consequence string           `json:"consequence"`
	Confidence  float64          `json:"confidence"`
	SourceIDs   []string         `json:"source_ids"`
	// OverrideAllowed is rule-authored policy metadata, not derived from
	// severity. Default policy: every severity may be overridden, severe only
	// with a second signoff.
	OverrideAllowed bool `json:"override_allowed"`
	// Teratogenic marks interactions whose severity a pregnancy explicitly
	// upgrades during personalization.
	Teratogenic bool `json:"teratogenic,omitempty"`
}

// DrugRecord is one canonical entry of the drug dictionary.
type DrugRecord struct {
	CanonicalID string   `json:"canonical_id"`
	GenericName string   `json:"generic_name"`
	BrandNames  []string `json:"brand_names,omitempty"`
	ClassCode   string   `json:"class_code"`
	Components  []string `json:"components,omitempty"` // combination products decompose here
	Synonyms    []string `json:"synonyms,omitempty"`
}

// Snapshot is an immutable, versioned view of the whole knowledge base.
// Nothing in a Snapshot is mutated after construction.
type Snapshot struct {
	Version      string
	Sources      []domain.DataSource
	Drugs        []DrugRecord
	Rules        []InteractionRule
	Alternatives map[string][]domain.AlternativeDrug
	Monitoring   map[string]domain.MonitoringPlan

	sourcesByID map[string]*domain.DataSource
	drugsByName map[string]*DrugRecord
	rulesByID   map[string]*InteractionRule
}

// index builds the lookup maps. Called once before the snapshot is published.
func (s *Snapshot) index() {
	s.sourcesByID = make(map[string]*domain.DataSource, len(s.Sources))
	for i := range s.Sources {
		s.sourcesByID[s.Sources[i].ID] = &s.Sources[i]
	}
	s.drugsByName = make(map[string]*DrugRecord)
	for i := range s.Drugs {
		rec := &s.Drugs[i]
		s.drugsByName[normalizeName(rec.GenericName)] = rec
		s.drugsByName[normalizeName(rec.CanonicalID)] = rec
		for _, b := range rec.BrandNames {
			s.drugsByName[normalizeName(b)] = rec
		}
		for _, syn := range rec.Synonyms {
			s.drugsByName[normalizeName(syn)] = rec
		}
	}
	s.rulesByID = make(map[string]*InteractionRule, len(s.Rules))
	for i := range s.Rules {
		s.rulesByID[s.Rules[i].ID] = &s.Rules[i]
	}
}

// RuleByID returns a rule by its identifier.
func (s *Snapshot) RuleByID(id string) (*InteractionRule, bool) {
	rule, ok := s.rulesByID[id]
	return rule, ok
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// LookupDrug resolves a name, brand or synonym to its canonical record.
func (s *Snapshot) LookupDrug(name string) (*DrugRecord, bool) {
	rec, ok := s.drugsByName[normalizeName(name)]
	return rec, ok
}

// DrugNames returns every name the dictionary answers to, for fuzzy matching.
func (s *Snapshot) DrugNames() []string {
	names := make([]string, 0, len(s.drugsByName))
	for name := range s.drugsByName {
		names = append(names, name)
	}
	return names
}

// Source returns a registered data source descriptor by ID.
func (s *Snapshot) Source(id string) (*domain.DataSource, bool) {
	src, ok := s.sourcesByID[id]
	return src, ok
}

// EvidenceFor materializes the evidence entries for a rule from its cited
// sources. Evidence is never invented: an unregistered source ID is skipped
// with a zero entry rather than fabricated reliability.
func (s *Snapshot) EvidenceFor(rule *InteractionRule) []domain.Evidence {
	evidence := make([]domain.Evidence, 0, len(rule.SourceIDs))
	for _, id := range rule.SourceIDs {
		src, ok := s.sourcesByID[id]
		if !ok {
			continue
		}
		evidence = append(evidence, domain.Evidence{
			SourceID:         src.ID,
			Citation:         fmt.Sprintf("%s (%s)", src.Name, src.Version),
			ReliabilityScore: src.ReliabilityScore,
		})
	}
	return evidence
}

// AlternativesFor returns the alternative drugs registered for a canonical ID.
func (s *Snapshot) AlternativesFor(canonicalID string) []domain.AlternativeDrug {
	return s.Alternatives[canonicalID]
}

// MonitoringFor returns the monitoring template registered for a rule.
func (s *Snapshot) MonitoringFor(ruleID string) (domain.MonitoringPlan, bool) {
	plan, ok := s.Monitoring[ruleID]
	return plan, ok
}

// Store publishes knowledge-base snapshots. Readers call Current once per
// request and keep using that snapshot; Swap installs a new version without
// disturbing checks already in flight.
type Store struct {
	current atomic.Pointer[Snapshot]
	log     *logrus.Logger
}

// NewStore creates a store with no snapshot loaded.
func NewStore(logger *logrus.Logger) *Store {
	return &Store{log: logger}
}

// Swap atomically installs a new snapshot after indexing it.
func (st *Store) Swap(snapshot *Snapshot) error {
	if snapshot == nil {
		return fmt.Errorf("knowledge store: %w", domain.ErrKnowledgeBaseUnavailable)
	}
	if snapshot.Version == "" {
		return fmt.Errorf("knowledge store: snapshot version is required")
	}
	snapshot.index()
	st.current.Store(snapshot)
	st.log.WithFields(logrus.Fields{
		"version": snapshot.Version,
		"drugs":   len(snapshot.Drugs),
		"rules":   len(snapshot.Rules),
		"sources": len(snapshot.Sources),
	}).Info("Knowledge base snapshot installed")
	return nil
}

// Current returns the pinned snapshot for a request, or
// ErrKnowledgeBaseUnavailable when none has been loaded.
func (st *Store) Current() (*Snapshot, error) {
	snap := st.current.Load()
	if snap == nil {
		return nil, domain.ErrKnowledgeBaseUnavailable
	}
	return snap, nil
}
