package knowledge

import (
	"github.com/drug-interaction-engine/internal/domain"
)

// SeedSnapshot builds the bundled reference knowledge base. Deployments sync
// real rule sets from registered sources; this snapshot keeps the engine
// functional out of the box and anchors the regression fixtures.
func SeedSnapshot() *Snapshot {
	return &Snapshot{
		Version: "kb-2025.08.1",
		Sources: []domain.DataSource{
			{
				ID:               "drugbank-core",
				Name:             "DrugBank Core Interaction Set",
				Priority:         1,
				Version:          "5.1",
				ReliabilityScore: 0.95,
				Coverage:         domain.CoverageStats{DrugCount: 12, InteractionCount: 9},
			},
			{
				ID:               "beers-criteria",
				Name:             "Beers Criteria Panel",
				Priority:         2,
				Version:          "2023",
				ReliabilityScore: 0.88,
				Coverage:         domain.CoverageStats{DrugCount: 6, InteractionCount: 4},
			},
			{
				ID:               "crediblemeds-qt",
				Name:             "CredibleMeds QT Drug List",
				Priority:         2,
				Version:          "2024.2",
				ReliabilityScore: 0.9,
				Coverage:         domain.CoverageStats{DrugCount: 4, InteractionCount: 2},
			},
		},
		Drugs: []DrugRecord{
			{
				CanonicalID: "rx:warfarin",
				GenericName: "warfarin",
				BrandNames:  []string{"Coumadin", "Jantoven"},
				ClassCode:   "B01AA", // vitamin K antagonists
			},
			{
				CanonicalID: "rx:aspirin",
				GenericName: "aspirin",
				BrandNames:  []string{"Bayer Aspirin"},
				ClassCode:   "B01AC",
				Synonyms:    []string{"acetylsalicylic acid", "asa"},
			},
			{
				CanonicalID: "rx:ibuprofen",
				GenericName: "ibuprofen",
				BrandNames:  []string{"Advil", "Motrin"},
				ClassCode:   "M01AE", // propionic acid NSAIDs
			},
			{
				CanonicalID: "rx:lisinopril",
				GenericName: "lisinopril",
				BrandNames:  []string{"Zestril", "Prinivil"},
				ClassCode:   "C09AA",
			},
			{
				CanonicalID: "rx:spironolactone",
				GenericName: "spironolactone",
				BrandNames:  []string{"Aldactone"},
				ClassCode:   "C03DA",
			},
			{
				CanonicalID: "rx:amiodarone",
				GenericName: "amiodarone",
				BrandNames:  []string{"Pacerone"},
				ClassCode:   "C01BD.QT",
			},
			{
				CanonicalID: "rx:sotalol",
				GenericName: "sotalol",
				BrandNames:  []string{"Betapace"},
				ClassCode:   "C07AA.QT",
			},
			{
				CanonicalID: "rx:citalopram",
				GenericName: "citalopram",
				BrandNames:  []string{"Celexa"},
				ClassCode:   "N06AB.QT",
			},
			{
				CanonicalID: "rx:methotrexate",
				GenericName: "methotrexate",
				BrandNames:  []string{"Trexall"},
				ClassCode:   "L04AX.TERA",
			},
			{
				CanonicalID: "rx:metformin",
				GenericName: "metformin",
				BrandNames:  []string{"Glucophage"},
				ClassCode:   "A10BA",
			},
			{
				CanonicalID: "rx:amoxicillin",
				GenericName: "amoxicillin",
				BrandNames:  []string{"Amoxil"},
				ClassCode:   "J01CA.PCN",
			},
			{
				CanonicalID: "rx:co-amoxiclav",
				GenericName: "amoxicillin/clavulanate",
				BrandNames:  []string{"Augmentin"},
				ClassCode:   "J01CR.PCN",
				Components:  []string{"rx:amoxicillin"},
			},
		},
		Rules: []InteractionRule{
			{
				ID:   "rule:warfarin-aspirin",
				Kind: RuleDrugDrug,
				Targets: []Target{
					{CanonicalID: "rx:warfarin"},
					{CanonicalID: "rx:aspirin"},
				},
				Severity:        domain.SeverityMajor,
				Mechanism:       domain.MechanismPharmacodynamic,
				Consequence:     "Additive anticoagulant and antiplatelet effect markedly increases bleeding risk",
				Confidence:      0.92,
				SourceIDs:       []string{"drugbank-core"},
				OverrideAllowed: true,
			},
			{
				ID:   "rule:warfarin-nsaid",
				Kind: RuleDrugDrug,
				Targets: []Target{
					{CanonicalID: "rx:warfarin"},
					{ClassPrefix: "M01AE"},
				},
				Severity:        domain.SeverityMajor,
				Mechanism:       domain.MechanismPharmacodynamic,
				Consequence:     "NSAID platelet inhibition plus anticoagulation raises GI bleeding risk",
				Confidence:      0.88,
				SourceIDs:       []string{"drugbank-core", "beers-criteria"},
				OverrideAllowed: true,
			},
			{
				// Duplicate-pair rule from a second source at lower severity;
				// the evaluator keeps the higher severity and concatenates
				// both evidence lists.
				ID:   "rule:warfarin-aspirin-secondary",
				Kind: RuleDrugDrug,
				Targets: []Target{
					{CanonicalID: "rx:warfarin"},
					{CanonicalID: "rx:aspirin"},
				},
				Severity:        domain.SeverityModerate,
				Mechanism:       domain.MechanismPharmacodynamic,
				Consequence:     "Increased bruising and minor bleeding reported with co-administration",
				Confidence:      0.75,
				SourceIDs:       []string{"beers-criteria"},
				OverrideAllowed: true,
			},
			{
				ID:   "rule:ace-spironolactone",
				Kind: RuleDrugDrug,
				Targets: []Target{
					{ClassPrefix: "C09AA"},
					{ClassPrefix: "C03DA"},
				},
				Severity:        domain.SeverityModerate,
				Mechanism:       domain.MechanismPharmacokinetic,
				Consequence:     "Reduced potassium excretion; risk of hyperkalemia",
				Confidence:      0.85,
				SourceIDs:       []string{"drugbank-core"},
				OverrideAllowed: true,
			},
			{
				ID:          "rule:qt-burden",
				Kind:        RulePolypharmacy,
				Targets:     []Target{{ClassTag: "QT"}},
				MinMatches:  3,
				Severity:    domain.SeveritySevere,
				Mechanism:   domain.MechanismPharmacodynamic,
				Consequence: "Combined QT-prolonging burden across three or more agents; torsades risk",
				Confidence:  0.8,
				SourceIDs:   []string{"crediblemeds-qt"},
				// Severe interactions stay overridable under the default
				// policy but demand a second signoff before approval.
				OverrideAllowed: true,
			},
			{
				ID:              "rule:penicillin-allergy",
				Kind:            RuleDrugAllergy,
				Targets:         []Target{{ClassPrefix: "J01C"}},
				AllergyTerm:     "penicillin",
				Severity:        domain.SeveritySevere,
				Mechanism:       domain.MechanismPharmacodynamic,
				Consequence:     "Documented penicillin allergy; risk of anaphylaxis",
				Confidence:      0.95,
				SourceIDs:       []string{"drugbank-core"},
				OverrideAllowed: false,
			},
			{
				ID:              "rule:nsaid-ckd",
				Kind:            RuleDrugDisease,
				Targets:         []Target{{ClassPrefix: "M01AE"}},
				Condition:       "chronic_kidney_disease",
				Severity:        domain.SeverityMajor,
				Mechanism:       domain.MechanismPharmacokinetic,
				Consequence:     "NSAID use in chronic kidney disease accelerates renal decline",
				Confidence:      0.87,
				SourceIDs:       []string{"beers-criteria"},
				OverrideAllowed: true,
			},
			{
				ID:              "rule:metformin-egfr",
				Kind:            RuleDrugLab,
				Targets:         []Target{{CanonicalID: "rx:metformin"}},
				LabCode:         "egfr",
				LabOperator:     "lt",
				LabValue:        30,
				Severity:        domain.SeverityMajor,
				Mechanism:       domain.MechanismPharmacokinetic,
				Consequence:     "Metformin accumulation at eGFR < 30; lactic acidosis risk",
				Confidence:      0.9,
				SourceIDs:       []string{"drugbank-core"},
				OverrideAllowed: true,
			},
			{
				ID:   "rule:methotrexate-nsaid",
				Kind: RuleDrugDrug,
				Targets: []Target{
					{CanonicalID: "rx:methotrexate"},
					{ClassPrefix: "M01AE"},
				},
				Severity:        domain.SeverityMajor,
				Mechanism:       domain.MechanismPharmacokinetic,
				Consequence:     "NSAIDs reduce methotrexate clearance; toxicity risk",
				Confidence:      0.86,
				SourceIDs:       []string{"drugbank-core"},
				OverrideAllowed: true,
				Teratogenic:     true,
			},
		},
		Alternatives: map[string][]domain.AlternativeDrug{
			"rx:aspirin": {
				{CanonicalID: "rx:clopidogrel", Name: "clopidogrel", ClassCode: "B01AC", TherapeuticEquivalence: 0.85, Available: true},
				{CanonicalID: "rx:acetaminophen", Name: "acetaminophen", ClassCode: "N02BE", TherapeuticEquivalence: 0.4, Available: true},
			},
			"rx:ibuprofen": {
				{CanonicalID: "rx:acetaminophen", Name: "acetaminophen", ClassCode: "N02BE", TherapeuticEquivalence: 0.8, Available: true},
				{CanonicalID: "rx:naproxen", Name: "naproxen", ClassCode: "M01AE", TherapeuticEquivalence: 0.9, Available: false},
			},
			"rx:citalopram": {
				{CanonicalID: "rx:sertraline", Name: "sertraline", ClassCode: "N06AB", TherapeuticEquivalence: 0.9, Available: true},
			},
		},
		Monitoring: map[string]domain.MonitoringPlan{
			"rule:warfarin-aspirin": {
				LabTests:      []string{"inr", "hemoglobin"},
				FrequencyDays: 7,
				Thresholds: []domain.MonitoringThreshold{
					{LabCode: "inr", Operator: "gt", Value: 3.5, Action: "hold warfarin and reassess dose"},
					{LabCode: "hemoglobin", Operator: "lt", Value: 10, Action: "evaluate for occult bleeding"},
				},
			},
			"rule:warfarin-nsaid": {
				LabTests:      []string{"inr"},
				FrequencyDays: 7,
				Thresholds: []domain.MonitoringThreshold{
					{LabCode: "inr", Operator: "gt", Value: 3.0, Action: "reduce anticoagulant dose"},
				},
			},
			"rule:ace-spironolactone": {
				LabTests:      []string{"potassium", "creatinine"},
				FrequencyDays: 14,
				Thresholds: []domain.MonitoringThreshold{
					{LabCode: "potassium", Operator: "gt", Value: 5.5, Action: "hold spironolactone"},
				},
			},
			"rule:qt-burden": {
				LabTests:      []string{"qtc_interval", "potassium", "magnesium"},
				FrequencyDays: 3,
				Thresholds: []domain.MonitoringThreshold{
					{LabCode: "qtc_interval", Operator: "gt", Value: 500, Action: "discontinue at least one QT-prolonging agent"},
				},
			},
			"rule:metformin-egfr": {
				LabTests:      []string{"egfr", "lactate"},
				FrequencyDays: 30,
				Thresholds: []domain.MonitoringThreshold{
					{LabCode: "egfr", Operator: "lt", Value: 30, Action: "discontinue metformin"},
				},
			},
			"rule:methotrexate-nsaid": {
				LabTests:      []string{"methotrexate_level", "creatinine"},
				FrequencyDays: 7,
				Thresholds: []domain.MonitoringThreshold{
					{LabCode: "methotrexate_level", Operator: "gt", Value: 0.1, Action: "hold methotrexate and hydrate"},
				},
			},
		},
	}
}
