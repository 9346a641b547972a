// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package fhir ingests FHIR R4 Bundles into typed fact bundles. Unlike
// note extraction, structured ingestion is strict: a record that cannot
// be parsed is a fatal error, never a partial result.
package fhir

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pdiddy/care-engine/pkg/types"
)

// LOINC codes recognized by the ingestor.
const (
	loincA1C       = "4548-4"
	loincBPPanel   = "85354-9"
	loincSystolic  = "8480-6"
	loincDiastolic = "8462-4"
	loincUACR      = "14959-1"
	loincEyeExam   = "32451-7"
	loincFootExam  = "91544-9"
)

// MalformedRecordError reports a structured record that could not be
// ingested. Callers treat it as fatal for the record.
type MalformedRecordError struct {
	Reason string
	Err    error
}

func (e *MalformedRecordError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed FHIR record: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed FHIR record: %s", e.Reason)
}

func (e *MalformedRecordError) Unwrap() error { return e.Err }

// Wire types for the subset of FHIR R4 the ingestor reads.

type bundle struct {
	ResourceType string  `json:"resourceType"`
	Entry        []entry `json:"entry"`
}

type entry struct {
	Resource json.RawMessage `json:"resource"`
}

type resourceHeader struct {
	ResourceType string `json:"resourceType"`
	ID           string `json:"id"`
}

type codeableConcept struct {
	Coding []coding `json:"coding"`
	Text   string   `json:"text"`
}

type coding struct {
	System  string `json:"system"`
	Code    string `json:"code"`
	Display string `json:"display"`
}

type quantity struct {
	Value *float64 `json:"value"`
	Unit  string   `json:"unit"`
}

type observation struct {
	ID                string          `json:"id"`
	Code              codeableConcept `json:"code"`
	ValueQuantity     *quantity       `json:"valueQuantity"`
	EffectiveDateTime string          `json:"effectiveDateTime"`
	Component         []component     `json:"component"`
}

type component struct {
	Code          codeableConcept `json:"code"`
	ValueQuantity *quantity       `json:"valueQuantity"`
}

type condition struct {
	ID             string          `json:"id"`
	Code           codeableConcept `json:"code"`
	ClinicalStatus codeableConcept `json:"clinicalStatus"`
}

type medicationStatement struct {
	ID                        string           `json:"id"`
	Status                    string           `json:"status"`
	MedicationCodeableConcept *codeableConcept `json:"medicationCodeableConcept"`
}

// Ingest parses a FHIR R4 Bundle and maps its resources onto a fact
// bundle. Every populated field carries method "structured" with full
// confidence. Resources the mapper does not recognize are skipped.
// A record that is not a parseable Bundle, or one without a Patient
// resource, is a MalformedRecordError.
func Ingest(raw []byte) (types.FactBundle, error) {
	var b bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return types.FactBundle{}, &MalformedRecordError{Reason: "invalid JSON", Err: err}
	}
	if b.ResourceType != "Bundle" {
		return types.FactBundle{}, &MalformedRecordError{Reason: fmt.Sprintf("resourceType %q is not a Bundle", b.ResourceType)}
	}

	out := types.FactBundle{
		Diagnoses:   []string{},
		Medications: []string{},
		Provenance:  make(map[types.Field]types.FieldProvenance, len(types.Fields)),
	}
	// Effective times of the winning observation per field, so a later
	// observation of the same code replaces an earlier one.
	effective := make(map[types.Field]time.Time)
	hasPatient := false

	for i, ent := range b.Entry {
		var hdr resourceHeader
		if err := json.Unmarshal(ent.Resource, &hdr); err != nil {
			return types.FactBundle{}, &MalformedRecordError{Reason: fmt.Sprintf("entry %d resource", i), Err: err}
		}

		switch hdr.ResourceType {
		case "Patient":
			hasPatient = true

		case "Observation":
			var obs observation
			if err := json.Unmarshal(ent.Resource, &obs); err != nil {
				return types.FactBundle{}, &MalformedRecordError{Reason: fmt.Sprintf("entry %d Observation", i), Err: err}
			}
			ingestObservation(&out, effective, obs)

		case "Condition":
			var cond condition
			if err := json.Unmarshal(ent.Resource, &cond); err != nil {
				return types.FactBundle{}, &MalformedRecordError{Reason: fmt.Sprintf("entry %d Condition", i), Err: err}
			}
			ingestCondition(&out, cond)

		case "MedicationStatement":
			var med medicationStatement
			if err := json.Unmarshal(ent.Resource, &med); err != nil {
				return types.FactBundle{}, &MalformedRecordError{Reason: fmt.Sprintf("entry %d MedicationStatement", i), Err: err}
			}
			ingestMedication(&out, med)
		}
	}

	if !hasPatient {
		return types.FactBundle{}, &MalformedRecordError{Reason: "no Patient resource in Bundle"}
	}

	// Sets from a structured record are always known, even when empty.
	setProv(&out, types.FieldDiagnoses, "Condition")
	setProv(&out, types.FieldMedications, "MedicationStatement")
	for _, field := range types.Fields {
		if _, ok := out.Provenance[field]; !ok {
			out.Provenance[field] = types.FieldProvenance{Method: types.MethodAbsent}
		}
	}
	return out, nil
}

// ingestObservation maps one Observation onto the bundle. When the same
// code appears more than once, the observation with the latest
// effectiveDateTime wins; undated observations lose to dated ones.
func ingestObservation(out *types.FactBundle, effective map[types.Field]time.Time, obs observation) {
	when, hasWhen := parseEffective(obs.EffectiveDateTime)

	newer := func(f types.Field) bool {
		prev, seen := effective[f]
		if !seen {
			return true
		}
		return hasWhen && when.After(prev)
	}
	record := func(f types.Field) {
		if hasWhen {
			effective[f] = when
		} else {
			effective[f] = time.Time{}
		}
		setProv(out, f, "Observation/"+obs.ID)
	}

	switch loincCode(obs.Code) {
	case loincA1C:
		if obs.ValueQuantity == nil || obs.ValueQuantity.Value == nil || !newer(types.FieldA1C) {
			return
		}
		v := *obs.ValueQuantity.Value
		out.A1C = &v
		record(types.FieldA1C)
		if hasWhen {
			t := when
			out.LastA1CTest = &t
			setProv(out, types.FieldLastA1CTest, "Observation/"+obs.ID)
		}

	case loincBPPanel:
		sys, dia := bpComponents(obs.Component)
		if sys == nil || dia == nil || !newer(types.FieldBloodPressure) {
			return
		}
		out.BloodPressure = &types.BloodPressure{Systolic: int(*sys), Diastolic: int(*dia)}
		record(types.FieldBloodPressure)

	case loincUACR:
		if !hasWhen || !newer(types.FieldLastKidney) {
			return
		}
		t := when
		out.LastKidneyScreen = &t
		record(types.FieldLastKidney)

	case loincEyeExam:
		if !hasWhen || !newer(types.FieldLastEyeExam) {
			return
		}
		t := when
		out.LastEyeExam = &t
		record(types.FieldLastEyeExam)

	case loincFootExam:
		if !hasWhen || !newer(types.FieldLastFootExam) {
			return
		}
		t := when
		out.LastFootExam = &t
		record(types.FieldLastFootExam)
	}
}

// ingestCondition adds an active Condition to the diagnoses set.
func ingestCondition(out *types.FactBundle, cond condition) {
	status := conceptCode(cond.ClinicalStatus)
	if status != "" && status != "active" {
		return
	}
	name := conceptText(cond.Code)
	if name == "" {
		return
	}
	for _, dx := range out.Diagnoses {
		if dx == name {
			return
		}
	}
	out.Diagnoses = append(out.Diagnoses, name)
}

// ingestMedication adds an active MedicationStatement to the
// medications set.
func ingestMedication(out *types.FactBundle, med medicationStatement) {
	if med.Status != "" && med.Status != "active" {
		return
	}
	if med.MedicationCodeableConcept == nil {
		return
	}
	name := conceptText(*med.MedicationCodeableConcept)
	if name == "" {
		return
	}
	for _, m := range out.Medications {
		if m == name {
			return
		}
	}
	out.Medications = append(out.Medications, name)
}

func setProv(out *types.FactBundle, f types.Field, span string) {
	out.Provenance[f] = types.FieldProvenance{
		Method:     types.MethodStructured,
		Confidence: 1.0,
		SourceSpan: span,
	}
}

// loincCode returns the LOINC code of a concept, or "".
func loincCode(c codeableConcept) string {
	for _, cd := range c.Coding {
		if cd.System == "" || cd.System == "http://loinc.org" {
			return cd.Code
		}
	}
	return ""
}

// conceptCode returns the first coding code of a concept.
func conceptCode(c codeableConcept) string {
	for _, cd := range c.Coding {
		if cd.Code != "" {
			return cd.Code
		}
	}
	return ""
}

// conceptText prefers the concept's text over its first display.
func conceptText(c codeableConcept) string {
	if c.Text != "" {
		return c.Text
	}
	for _, cd := range c.Coding {
		if cd.Display != "" {
			return cd.Display
		}
	}
	return ""
}

// bpComponents pulls the systolic and diastolic values from a blood
// pressure panel's components.
func bpComponents(comps []component) (sys, dia *float64) {
	for _, comp := range comps {
		if comp.ValueQuantity == nil || comp.ValueQuantity.Value == nil {
			continue
		}
		switch loincCode(comp.Code) {
		case loincSystolic:
			sys = comp.ValueQuantity.Value
		case loincDiastolic:
			dia = comp.ValueQuantity.Value
		}
	}
	return sys, dia
}

// parseEffective accepts the date and dateTime forms FHIR allows.
func parseEffective(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
