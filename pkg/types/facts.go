// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines the shared data model for the care-engine
// pipeline: fact bundles, care gaps, concept queries, evidence
// snippets, and stage configuration.
package types

import (
	"fmt"
	"strings"
	"time"
)

// ExtractionMethod records how a fact-bundle field was populated.
type ExtractionMethod string

const (
	// MethodStructured marks a value parsed from a structured record.
	MethodStructured ExtractionMethod = "structured"

	// MethodRegex marks a value matched by a pattern against note text.
	MethodRegex ExtractionMethod = "regex"

	// MethodLLM marks a value recovered by the language-model fallback.
	MethodLLM ExtractionMethod = "llm"

	// MethodAbsent marks a field that could not be resolved. Absent
	// means unknown, never false.
	MethodAbsent ExtractionMethod = "absent"
)

// Field names the extractable fields of a FactBundle.
type Field string

const (
	FieldA1C           Field = "a1c"
	FieldBloodPressure Field = "blood_pressure"
	FieldDiagnoses     Field = "diagnoses"
	FieldMedications   Field = "medications"
	FieldLastA1CTest   Field = "last_a1c_test"
	FieldLastKidney    Field = "last_kidney_screen"
	FieldLastEyeExam   Field = "last_eye_exam"
	FieldLastFootExam  Field = "last_foot_exam"
)

// Fields lists all extractable fields in declaration order.
var Fields = []Field{
	FieldA1C,
	FieldBloodPressure,
	FieldDiagnoses,
	FieldMedications,
	FieldLastA1CTest,
	FieldLastKidney,
	FieldLastEyeExam,
	FieldLastFootExam,
}

// FieldProvenance records how one field was resolved.
type FieldProvenance struct {
	// Method is how the value was obtained.
	Method ExtractionMethod `json:"method" yaml:"method"`

	// Confidence is a float in [0,1]. Structured ingestion is 1.0,
	// regex 1.0, the LLM fallback 0.8, absent 0.0.
	Confidence float64 `json:"confidence" yaml:"confidence"`

	// SourceSpan is the matched text range in the source note, when
	// the value came from pattern matching. Empty otherwise.
	SourceSpan string `json:"source_span,omitempty" yaml:"source_span,omitempty"`
}

// BloodPressure is one reading in mmHg.
type BloodPressure struct {
	Systolic  int `json:"systolic" yaml:"systolic"`
	Diastolic int `json:"diastolic" yaml:"diastolic"`
}

// String formats the reading as "systolic/diastolic".
func (bp BloodPressure) String() string {
	return fmt.Sprintf("%d/%d", bp.Systolic, bp.Diastolic)
}

// FactBundle is an immutable snapshot of clinically relevant values for
// one patient-at-a-time evaluation. Nil pointer fields are unknown, not
// zero. Diagnoses and Medications are always known sets: an empty slice
// means nothing was documented, so the absent/insufficient-data guard
// applies only to the scalar fields.
type FactBundle struct {
	// A1C is the hemoglobin A1c percentage, e.g. 8.2.
	A1C *float64 `json:"a1c,omitempty" yaml:"a1c,omitempty"`

	// BloodPressure is the most recent reading.
	BloodPressure *BloodPressure `json:"blood_pressure,omitempty" yaml:"blood_pressure,omitempty"`

	// Diagnoses are normalized diagnosis strings in order of first
	// appearance, deduplicated.
	Diagnoses []string `json:"diagnoses" yaml:"diagnoses"`

	// Medications are cleaned medication strings with dosage text.
	Medications []string `json:"medications" yaml:"medications"`

	// Screening dates, used by the overdue rules.
	LastA1CTest      *time.Time `json:"last_a1c_test,omitempty" yaml:"last_a1c_test,omitempty"`
	LastKidneyScreen *time.Time `json:"last_kidney_screen,omitempty" yaml:"last_kidney_screen,omitempty"`
	LastEyeExam      *time.Time `json:"last_eye_exam,omitempty" yaml:"last_eye_exam,omitempty"`
	LastFootExam     *time.Time `json:"last_foot_exam,omitempty" yaml:"last_foot_exam,omitempty"`

	// Provenance maps each field to how it was resolved. Every
	// populated field carries its extraction method.
	Provenance map[Field]FieldProvenance `json:"provenance" yaml:"provenance"`
}

// Method returns the extraction method recorded for field, or
// MethodAbsent when no provenance was recorded.
func (b *FactBundle) Method(f Field) ExtractionMethod {
	if p, ok := b.Provenance[f]; ok {
		return p.Method
	}
	return MethodAbsent
}

// HasDiagnosis reports whether any diagnosis contains the given
// substring, case-insensitively.
func (b *FactBundle) HasDiagnosis(substr string) bool {
	substr = strings.ToLower(substr)
	for _, dx := range b.Diagnoses {
		if strings.Contains(strings.ToLower(dx), substr) {
			return true
		}
	}
	return false
}

// HasMedicationTerm reports whether any medication contains the given
// term, case-insensitively.
func (b *FactBundle) HasMedicationTerm(term string) bool {
	term = strings.ToLower(term)
	for _, med := range b.Medications {
		if strings.Contains(strings.ToLower(med), term) {
			return true
		}
	}
	return false
}
