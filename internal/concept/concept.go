// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package concept builds de-identified concept queries from patient
// facts. This is the privacy boundary of the pipeline: everything that
// leaves the local process goes through here first, and the output
// carries only generic clinical vocabulary. No names, no identifiers,
// no raw values, no dates, no note text.
package concept

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/pdiddy/care-engine/pkg/types"
)

// diagnosisConcepts maps normalized diagnosis substrings to generic
// clinical vocabulary. Lookup is first-match over the ordered keys so
// more specific entries must precede their prefixes.
var diagnosisConcepts = []struct {
	key      string
	concepts []string
}{
	{"diabetic nephropathy", []string{"kidney", "renal", "nephropathy", "diabetic complications"}},
	{"diabetes", []string{"diabetes", "glycemic", "a1c", "blood sugar", "metabolic"}},
	{"t2dm", []string{"diabetes", "glycemic", "a1c", "blood sugar", "metabolic"}},
	{"hypertension", []string{"hypertension", "blood pressure", "cardiovascular", "antihypertensive"}},
	{"htn", []string{"hypertension", "blood pressure", "cardiovascular", "antihypertensive"}},
	{"chronic kidney disease", []string{"kidney", "renal", "ckd", "nephropathy", "egfr"}},
	{"ckd", []string{"kidney", "renal", "ckd", "nephropathy", "egfr"}},
	{"coronary artery disease", []string{"cardiovascular", "heart", "cad", "coronary"}},
	{"heart failure", []string{"cardiovascular", "heart failure", "cardiac"}},
	{"atrial fibrillation", []string{"cardiovascular", "arrhythmia", "afib", "anticoagulation"}},
	{"hyperlipidemia", []string{"lipids", "cholesterol", "statin", "cardiovascular risk"}},
	{"dyslipidemia", []string{"lipids", "cholesterol", "statin", "cardiovascular risk"}},
	{"obesity", []string{"obesity", "weight management", "bmi", "metabolic"}},
	{"neuropathy", []string{"neuropathy", "diabetic complications", "nerve"}},
	{"retinopathy", []string{"retinopathy", "diabetic complications", "eye", "vision"}},
}

// medClassConcepts maps a missing medication class to the vocabulary
// used to retrieve guidance about it.
var medClassConcepts = map[string][]string{
	"ace_arb":   {"ace inhibitor", "arb", "angiotensin", "renoprotective", "antihypertensive"},
	"metformin": {"metformin", "biguanide", "first-line diabetes", "glycemic control"},
	"statin":    {"statin", "lipid lowering", "cardiovascular prevention", "cholesterol"},
}

// metricConcepts describe the presence of a measurement, never its
// value.
var metricConcepts = map[types.Field][]string{
	types.FieldA1C:           {"a1c", "glycemic control", "hemoglobin a1c", "diabetes management"},
	types.FieldBloodPressure: {"blood pressure", "hypertension management", "bp target", "cardiovascular"},
}

// gapTypeConcepts target per-gap citation retrieval.
var gapTypeConcepts = map[string][]string{
	"A1C_THRESHOLD":        {"a1c", "glycemic control", "diabetes target", "hba1c goal"},
	"HTN_ACE_ARB":          {"ace inhibitor", "arb", "diabetes hypertension", "renoprotection"},
	"STATIN_THERAPY":       {"statin", "diabetes cardiovascular", "lipid therapy"},
	"BP_CONTROL":           {"blood pressure", "hypertension control", "bp target", "antihypertensive"},
	"METFORMIN_FIRST_LINE": {"metformin", "first-line diabetes", "glycemic control"},
	"A1C_TESTING_INTERVAL": {"a1c testing", "monitoring interval", "diabetes management"},
	"KIDNEY_SCREENING":     {"kidney function", "urine albumin", "renal monitoring", "nephropathy screening"},
	"EYE_EXAM":             {"retinopathy screening", "dilated eye exam", "diabetic complications"},
	"FOOT_EXAM":            {"foot exam", "neuropathy screening", "diabetic complications"},
}

const querySuffix = "guidelines clinical recommendations"

// Build derives a concept query from a fact bundle. Pure and total:
// the same bundle always yields the same query, and unknown raw values
// are dropped rather than passed through.
func Build(bundle types.FactBundle) types.ConceptQuery {
	set := map[string]struct{}{}

	for _, dx := range bundle.Diagnoses {
		normalized := strings.ToLower(strings.TrimSpace(dx))
		if concepts, ok := lookupDiagnosis(normalized); ok {
			add(set, concepts)
			continue
		}
		add(set, safeTerms(normalized))
	}

	if bundle.A1C != nil {
		add(set, metricConcepts[types.FieldA1C])
	}
	if bundle.BloodPressure != nil {
		add(set, metricConcepts[types.FieldBloodPressure])
	}

	for _, class := range missingMedClasses(bundle) {
		add(set, medClassConcepts[class])
	}

	return assemble(set)
}

// BuildForGap derives the concept query used to retrieve citations for
// one detected gap type. Unknown gap types yield an empty query.
func BuildForGap(gapType string) types.ConceptQuery {
	set := map[string]struct{}{}
	add(set, gapTypeConcepts[gapType])
	if len(set) == 0 {
		return types.ConceptQuery{Concepts: []string{}}
	}
	return assemble(set)
}

// missingMedClasses names the medication classes the bundle's
// diagnoses call for but its medication list lacks. Class names only,
// never drug names.
func missingMedClasses(bundle types.FactBundle) []string {
	hasDiabetes := bundle.HasDiagnosis("diabetes")
	hasHTN := bundle.HasDiagnosis("hypertension")

	var missing []string
	if hasDiabetes && hasHTN && !hasAnyMedTerm(bundle, "lisinopril", "enalapril", "ramipril", "losartan", "valsartan", "irbesartan") {
		missing = append(missing, "ace_arb")
	}
	if hasDiabetes && !hasAnyMedTerm(bundle, "atorvastatin", "simvastatin", "rosuvastatin", "pravastatin") {
		missing = append(missing, "statin")
	}
	return missing
}

func hasAnyMedTerm(bundle types.FactBundle, terms ...string) bool {
	for _, term := range terms {
		if bundle.HasMedicationTerm(term) {
			return true
		}
	}
	return false
}

func lookupDiagnosis(normalized string) ([]string, bool) {
	for _, entry := range diagnosisConcepts {
		if strings.Contains(normalized, entry.key) {
			return entry.concepts, true
		}
	}
	return nil, false
}

func add(set map[string]struct{}, concepts []string) {
	for _, c := range concepts {
		set[c] = struct{}{}
	}
}

// assemble sorts the concept set and renders the query text.
func assemble(set map[string]struct{}) types.ConceptQuery {
	concepts := make([]string, 0, len(set))
	for c := range set {
		concepts = append(concepts, c)
	}
	sort.Strings(concepts)

	if len(concepts) == 0 {
		return types.ConceptQuery{Concepts: concepts}
	}
	return types.ConceptQuery{
		Concepts: concepts,
		Text:     strings.Join(concepts, " ") + " " + querySuffix,
	}
}

// safeTerms reduces an unrecognized diagnosis to lowercase clinical
// words, dropping anything that could carry a patient value: digits,
// short tokens, and all-caps identifiers.
func safeTerms(text string) []string {
	var terms []string
	for _, word := range strings.FieldsFunc(text, func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == '\t'
	}) {
		if len(word) < 3 || hasDigit(word) || word == strings.ToUpper(word) {
			continue
		}
		terms = append(terms, strings.ToLower(word))
	}
	return terms
}

func hasDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// Validation patterns for the defense-in-depth check.
var (
	decimalPattern    = regexp.MustCompile(`\d+\.\d+`)
	fractionPattern   = regexp.MustCompile(`\d{2,3}/\d{2,3}`)
	datePattern       = regexp.MustCompile(`\d{1,2}[/-]\d{1,2}[/-]\d{2,4}|\d{4}-\d{2}-\d{2}`)
	identifierPattern = regexp.MustCompile(`(?i)PT\d+|MRN\d*|patient.?id`)
)

// medicalCaps are capitalized abbreviations that are clinical
// vocabulary, not names.
var medicalCaps = map[string]struct{}{
	"A1C": {}, "HBA1C": {}, "BP": {}, "LDL": {}, "HDL": {},
	"ACE": {}, "ARB": {}, "BMI": {}, "GFR": {}, "EGFR": {},
	"CKD": {}, "HTN": {}, "DM": {}, "CAD": {}, "CHF": {},
	"SGLT2": {}, "GLP1": {},
}

// ValidatePHISafety checks a query string for patterns that suggest
// patient data leaked through: decimal lab values, BP-style fractions,
// dates, identifier patterns, and suspicious capitalized words. Run
// before any query leaves the process; a clean builder output always
// passes.
func ValidatePHISafety(text string) (bool, []string) {
	var violations []string

	if decimalPattern.MatchString(text) {
		violations = append(violations, "contains decimal number (possible lab value)")
	}
	if fractionPattern.MatchString(text) {
		violations = append(violations, "contains fraction pattern (possible blood pressure)")
	}
	if datePattern.MatchString(text) {
		violations = append(violations, "contains date pattern")
	}
	if identifierPattern.MatchString(text) {
		violations = append(violations, "contains patient identifier pattern")
	}

	for _, word := range strings.Fields(text) {
		if len(word) <= 2 || word != strings.ToUpper(word) || hasDigit(word) || !isAlpha(word) {
			continue
		}
		if _, ok := medicalCaps[word]; !ok {
			violations = append(violations, "suspicious capitalized word: "+word)
		}
	}

	return len(violations) == 0, violations
}

func isAlpha(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
