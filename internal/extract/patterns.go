// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"regexp"
	"strings"
	"time"
)

// Pattern matchers for the scalar fields. Each matcher is tried before
// the language-model fallback for its field.
var (
	// a1cPattern matches "A1C: 8.2%", "HbA1c 8.2", "A1C of 8.2%".
	a1cPattern = regexp.MustCompile(`(?i)(?:A1C|HbA1c|Hemoglobin A1c)[\s:]*(?:of\s+)?(\d+\.?\d*)\s*%?`)

	// bpPattern matches "BP: 140/90", "Blood Pressure 140/90 mmHg".
	bpPattern = regexp.MustCompile(`(?i)(?:BP|Blood\s*Pressure)[\s:]*(\d{2,3})\s*/\s*(\d{2,3})(?:\s*mmHg)?`)

	// bulletPattern matches one "- item" or "• item" line.
	bulletPattern = regexp.MustCompile(`(?m)^[\s]*[-•]\s*(.+?)\s*$`)

	// dxSuffixPattern strips control-status suffixes like
	// "- suboptimally controlled" from a diagnosis line.
	dxSuffixPattern = regexp.MustCompile(`(?i)\s*[-–]\s*(controlled|at goal|not at goal|suboptimally controlled|poorly controlled|well controlled|stable|new diagnosis.*?)$`)

	// parentheticalPattern removes parenthetical notes from medications.
	parentheticalPattern = regexp.MustCompile(`\s*\([^)]+\)\s*`)

	// datePattern matches ISO (2024-03-01) and US (3/1/2024) dates.
	datePattern = `(\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{4})`
)

// Screening-date matchers, keyed by what precedes the date.
var (
	lastA1CPattern      = regexp.MustCompile(`(?i)(?:last|prior|previous)\s+(?:A1C|HbA1c)(?:\s+test(?:ed)?)?[\s:]*(?:on\s+)?` + datePattern)
	kidneyScreenPattern = regexp.MustCompile(`(?i)(?:last\s+)?(?:urine\s+(?:micro)?albumin|uacr|kidney\s+screen(?:ing)?|renal\s+panel)[\s:]*(?:on\s+|checked\s+)?` + datePattern)
	eyeExamPattern      = regexp.MustCompile(`(?i)(?:last\s+)?(?:dilated\s+)?(?:eye|retinal)\s+exam[\s:]*(?:on\s+)?` + datePattern)
	footExamPattern     = regexp.MustCompile(`(?i)(?:last\s+)?(?:monofilament\s+)?foot\s+exam[\s:]*(?:on\s+)?` + datePattern)
)

// Note headings recognized by splitSections, grouped by how their
// section is parsed. Matching is case-insensitive on the heading word
// before the colon.
var assessmentHeadings = []string{"assessment", "dx", "diagnosis", "diagnoses", "a/p"}
var medicationHeadings = []string{"current medications", "medications", "meds"}
var otherHeadings = []string{"subjective", "objective", "plan", "vitals", "labs", "history"}

// diagnosisKeywords normalizes common shorthand to a canonical
// diagnosis string.
var diagnosisKeywords = []struct {
	keyword    string
	normalized string
}{
	{"type 2 diabetes", "Type 2 Diabetes Mellitus"},
	{"diabetes", "Type 2 Diabetes Mellitus"},
	{"t2dm", "Type 2 Diabetes Mellitus"},
	{"dm", "Type 2 Diabetes Mellitus"},
	{"essential hypertension", "Essential Hypertension"},
	{"hypertension", "Essential Hypertension"},
	{"htn", "Essential Hypertension"},
	{"chronic kidney disease", "Chronic Kidney Disease"},
	{"ckd", "Chronic Kidney Disease"},
	{"hyperlipidemia", "Hyperlipidemia"},
	{"dyslipidemia", "Hyperlipidemia"},
}

// negationPrefixes mark diagnoses that are documented as ruled out.
var negationPrefixes = []string{
	"no ",
	"no evidence of ",
	"denies ",
	"negative for ",
	"without ",
	"ruled out ",
}

// section is one heading-delimited region of a clinical note.
type section struct {
	heading string
	body    string
}

// splitSections divides a note into heading-delimited sections. A line
// of the form "Heading:" or "Heading: inline text" starts a new section
// when the heading is one of the recognized note headings. Text before
// the first heading lands in an unnamed section.
func splitSections(text string) []section {
	lines := strings.Split(text, "\n")
	var sections []section
	current := section{}
	var bodyLines []string

	flush := func() {
		current.body = strings.Join(bodyLines, "\n")
		if current.heading != "" || strings.TrimSpace(current.body) != "" {
			sections = append(sections, current)
		}
		bodyLines = nil
	}

	for _, line := range lines {
		if heading, rest, ok := matchHeading(line); ok {
			flush()
			current = section{heading: heading}
			if rest != "" {
				bodyLines = append(bodyLines, rest)
			}
			continue
		}
		bodyLines = append(bodyLines, line)
	}
	flush()
	return sections
}

// matchHeading reports whether a line starts a recognized note section,
// returning the normalized heading and any inline remainder.
func matchHeading(line string) (heading, rest string, ok bool) {
	trimmed := strings.TrimSpace(line)
	idx := strings.Index(trimmed, ":")
	if idx < 0 {
		return "", "", false
	}
	candidate := strings.ToLower(strings.TrimSpace(trimmed[:idx]))
	for _, h := range assessmentHeadings {
		if candidate == h {
			return "assessment", strings.TrimSpace(trimmed[idx+1:]), true
		}
	}
	for _, h := range medicationHeadings {
		if candidate == h {
			return "medications", strings.TrimSpace(trimmed[idx+1:]), true
		}
	}
	for _, h := range otherHeadings {
		if candidate == h {
			return candidate, strings.TrimSpace(trimmed[idx+1:]), true
		}
	}
	return "", "", false
}

// normalizeDiagnosis cleans one diagnosis line. It returns "" for
// negated diagnoses, which the caller drops.
func normalizeDiagnosis(dx string) string {
	lower := strings.ToLower(strings.TrimSpace(dx))
	for _, prefix := range negationPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return ""
		}
	}

	clean := strings.TrimSpace(dxSuffixPattern.ReplaceAllString(dx, ""))
	lower = strings.ToLower(clean)
	for _, kw := range diagnosisKeywords {
		if strings.Contains(lower, kw.keyword) {
			return kw.normalized
		}
	}
	return clean
}

// cleanMedication strips parenthetical notes and normalizes whitespace.
func cleanMedication(med string) string {
	clean := parentheticalPattern.ReplaceAllString(med, " ")
	return strings.Join(strings.Fields(clean), " ")
}

// parseClinicalDate accepts ISO (2006-01-02) and US (1/2/2006) layouts.
func parseClinicalDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse("1/2/2006", s)
}
